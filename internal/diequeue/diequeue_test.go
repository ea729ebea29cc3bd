package diequeue

import "testing"

func TestRingPushAndAdvance(t *testing.T) {
	r := NewRing(4)
	if !r.Empty() {
		t.Fatal("new ring should be empty")
	}

	if !r.PushNonBlocking(Entry{Request: ReadTrigger, RowAddr: 1}, 0) {
		t.Fatal("push into an empty ring should succeed")
	}
	if r.Empty() {
		t.Fatal("ring should not be empty after a push")
	}

	front := r.Front()
	if front.Request != ReadTrigger || front.RowAddr != 1 {
		t.Fatalf("Front() = %+v, want ReadTrigger/row=1", front)
	}

	r.Advance()
	if !r.Empty() {
		t.Fatal("ring should be empty after advancing past its only entry")
	}
}

func TestRingAvailableRespectsOpenSlots(t *testing.T) {
	r := NewRing(4)
	r.PushNonBlocking(Entry{Request: Program}, 0)
	r.PushNonBlocking(Entry{Request: Program}, 0)

	if !r.Available(0) {
		t.Fatal("depth 4 ring with 2 entries should have room with no reservation")
	}
	if r.Available(2) {
		t.Fatal("reserving 2 open slots should exhaust the remaining room")
	}
}

func TestRingPushNonBlockingFailsWhenFull(t *testing.T) {
	r := NewRing(2) // usable depth is 1 (depth - 1)
	if !r.PushNonBlocking(Entry{Request: Program}, 0) {
		t.Fatal("first push should succeed")
	}
	if r.PushNonBlocking(Entry{Request: Program}, 0) {
		t.Fatal("second push should fail once the ring's usable depth is exhausted")
	}
}

func TestRingMinimumDepth(t *testing.T) {
	r := NewRing(0)
	if r.Depth() < 2 {
		t.Fatalf("Depth() = %d, want at least 2", r.Depth())
	}
}

func TestRingFIFOOrder(t *testing.T) {
	r := NewRing(4)
	r.PushNonBlocking(Entry{Request: ReadTrigger, RowAddr: 1}, 0)
	r.PushNonBlocking(Entry{Request: ReadTrigger, RowAddr: 2}, 0)
	r.PushNonBlocking(Entry{Request: ReadTrigger, RowAddr: 3}, 0)

	for _, want := range []uint32{1, 2, 3} {
		if got := r.Front().RowAddr; got != want {
			t.Fatalf("Front().RowAddr = %d, want %d", got, want)
		}
		r.Advance()
	}
	if !r.Empty() {
		t.Fatal("ring should be empty after draining every pushed entry")
	}
}

package diestate

import (
	"testing"

	"github.com/oss-ssd/embedsched/internal/diequeue"
	"github.com/oss-ssd/embedsched/internal/nandq"
)

type fakeReducer struct {
	calls []translatedPage
}

type translatedPage struct {
	entry uint32
	page  []byte
	idx   uint32
}

func (f *fakeReducer) TranslatePage(entry uint32, page []byte, idx uint32) {
	f.calls = append(f.calls, translatedPage{entry, page, idx})
}

func blockOf(row uint32) uint32 { return row / 256 }

func TestIdleSubmitsPrimaryFront(t *testing.T) {
	d := New(4, 4, 3)
	d.Primary.PushNonBlocking(diequeue.Entry{Request: diequeue.ReadTrigger, RowAddr: 5}, 0)
	d.QueueSelect = PrimaryQueue

	res := d.Step(nandq.Running, blockOf, &fakeReducer{})
	if res.Action != ActionSubmitFront {
		t.Fatalf("Action = %v, want ActionSubmitFront", res.Action)
	}
	if d.Status != Exe {
		t.Fatalf("Status = %v, want Exe", d.Status)
	}
	if d.Retry != 3 {
		t.Fatalf("Retry = %d, want RetryLimit (3)", d.Retry)
	}
}

func TestReadTriggerThenTransferCompletes(t *testing.T) {
	d := New(4, 4, 3)
	d.Primary.PushNonBlocking(diequeue.Entry{Request: diequeue.ReadTrigger, RowAddr: 5}, 0)
	d.QueueSelect = PrimaryQueue
	reducer := &fakeReducer{}

	d.Step(nandq.Running, blockOf, reducer) // Idle -> Exe

	res := d.Step(nandq.Done, blockOf, reducer) // trigger completes
	if d.Status != Idle {
		t.Fatalf("Status after trigger DONE = %v, want Idle", d.Status)
	}
	if d.Primary.Front().Request != diequeue.ReadTransfer {
		t.Fatalf("front request = %v, want ReadTransfer", d.Primary.Front().Request)
	}
	if res.Action != ActionNone {
		t.Fatalf("Action after trigger DONE = %v, want ActionNone", res.Action)
	}

	// A second Idle tick re-submits the mutated ReadTransfer.
	res = d.Step(nandq.Running, blockOf, reducer)
	if res.Action != ActionSubmitFront || d.Status != Exe {
		t.Fatalf("second submit: Action=%v Status=%v", res.Action, d.Status)
	}

	d.Step(nandq.Done, blockOf, reducer) // transfer completes
	if d.Status != Idle {
		t.Fatalf("Status after transfer DONE = %v, want Idle", d.Status)
	}
	if !d.Primary.Empty() {
		t.Fatal("ring should be drained after a non-translate transfer completes")
	}
}

func TestTranslateMailboxPublishedThenDrainedOnIdle(t *testing.T) {
	d := New(4, 4, 3)
	pageBuf := []byte{1, 2, 3, 4}
	d.Primary.PushNonBlocking(diequeue.Entry{
		Request: diequeue.ReadTransfer,
		RowAddr: 9,
		PageBuf: pageBuf,
		Translate: diequeue.Translate{Active: true, BufferEntry: 7, PageIdx: 2},
	}, 0)
	d.QueueSelect = PrimaryQueue
	reducer := &fakeReducer{}

	d.Step(nandq.Running, blockOf, reducer) // Idle -> Exe
	d.Step(nandq.Done, blockOf, reducer)    // transfer completes, publishes mailbox

	if !d.Mailbox.Valid {
		t.Fatal("mailbox should hold the completed translate transfer")
	}
	if len(reducer.calls) != 0 {
		t.Fatal("reducer should not be invoked until the mailbox is drained")
	}

	// Nothing queued: the next Idle tick drains the mailbox.
	d.Step(nandq.Running, blockOf, reducer)
	if d.Mailbox.Valid {
		t.Fatal("mailbox should be drained once Idle finds no queued work")
	}
	if len(reducer.calls) != 1 || reducer.calls[0].entry != 7 || reducer.calls[0].idx != 2 {
		t.Fatalf("reducer.calls = %+v, want one call for entry=7 idx=2", reducer.calls)
	}
}

func TestMailboxDrainsStaleOccupantBeforeOverwrite(t *testing.T) {
	d := New(4, 4, 3)
	reducer := &fakeReducer{}
	d.publishMailbox(reducer, Mailbox{Valid: true, BufferEntry: 1, PageIdx: 0})
	d.publishMailbox(reducer, Mailbox{Valid: true, BufferEntry: 2, PageIdx: 1})

	if len(reducer.calls) != 1 || reducer.calls[0].entry != 1 {
		t.Fatalf("expected the stale entry=1 occupant to be drained first, got %+v", reducer.calls)
	}
	if d.Mailbox.BufferEntry != 2 {
		t.Fatalf("Mailbox.BufferEntry = %d, want 2", d.Mailbox.BufferEntry)
	}
}

func TestRetryThenSucceed(t *testing.T) {
	d := New(4, 4, 2)
	d.Primary.PushNonBlocking(diequeue.Entry{Request: diequeue.ReadTrigger, RowAddr: 300}, 0)
	d.QueueSelect = PrimaryQueue
	reducer := &fakeReducer{}

	d.Step(nandq.Running, blockOf, reducer) // Idle -> Exe, Retry=2
	res := d.Step(nandq.Fail, blockOf, reducer)
	if d.Status != Fail {
		t.Fatalf("Status after first FAIL = %v, want Fail", d.Status)
	}
	if d.Retry != 1 {
		t.Fatalf("Retry = %d, want 1 after one consumed attempt", d.Retry)
	}
	if res.RetryExhausted {
		t.Fatal("RetryExhausted should be false while retries remain")
	}

	res = d.Step(nandq.Running, blockOf, reducer) // Fail unconditionally resubmits
	if res.Action != ActionSubmitFront || d.Status != Reexe {
		t.Fatalf("Fail resubmit: Action=%v Status=%v", res.Action, d.Status)
	}

	d.Step(nandq.Done, blockOf, reducer) // retried trigger succeeds
	if d.Primary.Front().Request != diequeue.ReadTransfer {
		t.Fatalf("front request after retried trigger = %v, want ReadTransfer", d.Primary.Front().Request)
	}
}

func TestRetryExhaustedAdvancesRing(t *testing.T) {
	d := New(4, 4, 0)
	d.Primary.PushNonBlocking(diequeue.Entry{Request: diequeue.ReadTrigger, RowAddr: 1}, 0)
	d.QueueSelect = PrimaryQueue
	reducer := &fakeReducer{}

	d.Step(nandq.Running, blockOf, reducer)
	res := d.Step(nandq.Fail, blockOf, reducer)

	if !res.RetryExhausted {
		t.Fatal("expected RetryExhausted with RetryLimit=0")
	}
	if d.Status != Idle || !d.Primary.Empty() {
		t.Fatalf("Status=%v Empty=%v, want Idle/true after retry exhaustion", d.Status, d.Primary.Empty())
	}
}

func TestWarningRecordsBadBlockAndAdvances(t *testing.T) {
	d := New(4, 4, 3)
	d.Primary.PushNonBlocking(diequeue.Entry{Request: diequeue.ReadTransfer, RowAddr: 600}, 0)
	d.QueueSelect = PrimaryQueue
	reducer := &fakeReducer{}

	d.Step(nandq.Running, blockOf, reducer)
	res := d.Step(nandq.Warning, blockOf, reducer)

	if !res.BadBlockMarked {
		t.Fatal("expected BadBlockMarked on a WARNING outcome")
	}
	if len(d.NewBadBlocks) != 1 || d.NewBadBlocks[0] != blockOf(600) {
		t.Fatalf("NewBadBlocks = %v, want [%d]", d.NewBadBlocks, blockOf(600))
	}
	if d.Status != Idle || !d.Primary.Empty() {
		t.Fatal("a WARNING completion should pop the ring and return to Idle")
	}

	// A duplicate block is still flagged even though it isn't re-recorded.
	d.Primary.PushNonBlocking(diequeue.Entry{Request: diequeue.ReadTransfer, RowAddr: 601}, 0)
	d.Step(nandq.Running, blockOf, reducer)
	res = d.Step(nandq.Warning, blockOf, reducer)
	if !res.BadBlockMarked {
		t.Fatal("a duplicate bad block should still raise BadBlockMarked")
	}
	if len(d.NewBadBlocks) != 1 {
		t.Fatalf("NewBadBlocks = %v, want a single deduped entry", d.NewBadBlocks)
	}
}

func TestClearBadBlocks(t *testing.T) {
	d := New(4, 4, 3)
	d.recordBadBlock(3)
	d.recordBadBlock(4)
	d.ClearBadBlocks()
	if len(d.NewBadBlocks) != 0 {
		t.Fatalf("NewBadBlocks = %v, want empty after ClearBadBlocks", d.NewBadBlocks)
	}
}

func TestSubQueueRawReadZerosPageBufOnExhaustedRetry(t *testing.T) {
	d := New(4, 4, 0)
	spare := []byte{0xAB}
	d.Sub.PushNonBlocking(diequeue.Entry{Request: diequeue.ReadTriggerRaw, RowAddr: 1, PageBuf: spare}, 0)
	d.QueueSelect = SubQueue
	reducer := &fakeReducer{}

	d.Step(nandq.Running, blockOf, reducer) // Idle -> SubExe
	d.Step(nandq.Fail, blockOf, reducer)     // exhausted immediately (RetryLimit 0)

	if spare[0] != 0 {
		t.Fatalf("expected the raw trigger's page buffer to be zeroed on exhausted retry, got %v", spare)
	}
	if d.Status != Idle || !d.Sub.Empty() {
		t.Fatal("sub ring should be drained after exhausting retries")
	}
}

func TestSubQueueRawTransferFailRetriesViaTrigger(t *testing.T) {
	d := New(4, 4, 2)
	spare := []byte{0xAB}
	d.Sub.PushNonBlocking(diequeue.Entry{Request: diequeue.ReadTriggerRaw, RowAddr: 1, PageBuf: spare}, 0)
	d.QueueSelect = SubQueue
	reducer := &fakeReducer{}

	d.Step(nandq.Running, blockOf, reducer) // Idle -> SubExe, Retry=2
	d.Step(nandq.Done, blockOf, reducer)    // trigger completes, converts to ReadTransferRaw

	if d.Sub.Front().Request != diequeue.ReadTransferRaw {
		t.Fatalf("front request after raw trigger DONE = %v, want ReadTransferRaw", d.Sub.Front().Request)
	}

	res := d.Step(nandq.Running, blockOf, reducer) // resubmit the transfer
	if res.Action != ActionSubmitFront || d.Status != SubExe {
		t.Fatalf("transfer resubmit: Action=%v Status=%v", res.Action, d.Status)
	}

	res = d.Step(nandq.Fail, blockOf, reducer) // the transfer itself fails, retries remain
	if d.Status != SubTrFail {
		t.Fatalf("Status after raw transfer FAIL = %v, want SubTrFail", d.Status)
	}
	if d.Sub.Front().Request != diequeue.ReadTriggerRaw {
		t.Fatalf("front request after raw transfer FAIL = %v, want ReadTriggerRaw (re-sense)", d.Sub.Front().Request)
	}
	if res.RetryExhausted {
		t.Fatal("RetryExhausted should be false while retries remain")
	}
	if spare[0] == 0 {
		t.Fatal("page buffer must not be zeroed while retries remain")
	}

	d.Step(nandq.Running, blockOf, reducer) // SubTrFail -> SubTrReexe, resubmit trigger
	d.Step(nandq.Done, blockOf, reducer)    // re-sense completes
	if d.Sub.Front().Request != diequeue.ReadTransferRaw {
		t.Fatalf("front request after re-sense DONE = %v, want ReadTransferRaw", d.Sub.Front().Request)
	}
	if d.Status != SubFail {
		t.Fatalf("Status after re-sense DONE = %v, want SubFail", d.Status)
	}
}

func TestSubQueueRawTransferFailZerosPageBufOnExhaustedRetry(t *testing.T) {
	d := New(4, 4, 0)
	spare := []byte{0xAB}
	d.Sub.PushNonBlocking(diequeue.Entry{Request: diequeue.ReadTriggerRaw, RowAddr: 1, PageBuf: spare}, 0)
	d.QueueSelect = SubQueue
	reducer := &fakeReducer{}

	d.Step(nandq.Running, blockOf, reducer) // Idle -> SubExe
	d.Step(nandq.Done, blockOf, reducer)    // trigger completes, converts to ReadTransferRaw

	if d.Sub.Front().Request != diequeue.ReadTransferRaw {
		t.Fatalf("front request after raw trigger DONE = %v, want ReadTransferRaw", d.Sub.Front().Request)
	}

	d.Step(nandq.Running, blockOf, reducer)       // resubmit the transfer
	res := d.Step(nandq.Fail, blockOf, reducer) // transfer fails, RetryLimit=0 so exhausted here

	if !res.RetryExhausted {
		t.Fatal("expected RetryExhausted with RetryLimit=0")
	}
	if spare[0] != 0 {
		t.Fatalf("expected the raw transfer's page buffer to be zeroed on exhausted retry, got %v", spare)
	}
	if d.Status != Idle || !d.Sub.Empty() {
		t.Fatal("sub ring should be drained after exhausting retries")
	}
}

// Package arbiter implements the per-channel way arbiter (spec.md §4.3):
// one NAND primitive in flight per channel at a time, chosen each tick by
// a fixed category priority (triggers ahead of triggered-and-transferring program legs ahead of transfers ahead of
// plain status/reset ahead of status-report retries ahead of erase),
// then driven to completion through the die's state machine
// (internal/diestate) before the channel considers its next candidate.
//
// The original firmware keeps each category as an intrusive doubly
// linked list of way indices threaded through the die table itself, so
// that moving a die between categories costs no allocation. This port
// recomputes the highest-priority ready die by a direct scan every tick
// instead: a channel has only a handful of ways (WaysPerChannel), which
// makes the scan cheap, and Go's slices make the intrusive bookkeeping
// pure overhead with no behavioral payoff.
package arbiter

import (
	"github.com/oss-ssd/embedsched/internal/diequeue"
	"github.com/oss-ssd/embedsched/internal/diestate"
	"github.com/oss-ssd/embedsched/internal/nandq"
)

type category int

const (
	catNandTrigger category = iota
	catNandTrigNTrans
	catNandTransfer
	catNandStatus
	catStatusReport
	catNandErase
	catNone
)

// classify assigns a ring-front entry to its priority category, mirroring
// FindPriorityTable's request-type dispatch. Host DMA legs never reach
// here: they are drained synchronously by internal/hostdma outside the
// die state machine, exactly as the original PopFromReqQueue's RxDMA/
// TxDMA branches complete inline without touching dieStatus.
func classify(e *diequeue.Entry) category {
	if e.StatusOption == diequeue.StatusCheckRequired {
		return catStatusReport
	}
	switch e.Request {
	case diequeue.ReadTrigger, diequeue.ReadTriggerRaw:
		return catNandTrigger
	case diequeue.ReadTransfer, diequeue.ReadTransferRaw:
		return catNandTransfer
	case diequeue.Program:
		return catNandTrigNTrans
	case diequeue.Erase:
		return catNandErase
	default:
		return catNandStatus
	}
}

// Controller is the NAND controller surface the channel arbiter drives:
// an alias of nandq.Controller, so any nandq.Controller (or test stub of
// it) plugs in directly.
type Controller = nandq.Controller

// Observer receives per-tick results for metrics and logging, independent
// of the root package's Metrics so this package has no upward dependency.
type Observer interface {
	ObserveSubmit(ch, way int, req diequeue.Request)
	ObserveRetryExhausted(ch, way int)
	ObserveBadBlockWarning(ch, way int)
}

type noOpObserver struct{}

func (noOpObserver) ObserveSubmit(int, int, diequeue.Request) {}
func (noOpObserver) ObserveRetryExhausted(int, int)           {}
func (noOpObserver) ObserveBadBlockWarning(int, int)          {}

// Channel arbitrates one NAND channel's ways. One Channel owns every die
// on that channel and enforces the single-op-in-flight rule a shared
// 8-bit bus demands.
type Channel struct {
	ch                int
	dice              []*diestate.Die
	controller        Controller
	blockOf           diestate.BlockOf
	reducer           diestate.Reducer
	bitErrorThreshold int
	observer          Observer

	busyWay int // -1 when the channel has no operation in flight
	busyReq diequeue.Request

	preferPrimary bool // alternates each tick, mirroring ExeLowLevelReqPerCh's firstQueue toggle
}

// NewChannel creates an arbiter for a channel with the given number of
// ways, each starting with its own Die.
func NewChannel(ch, ways, primaryDepth, subDepth, retryLimit, bitErrorThreshold int, controller Controller, blockOf diestate.BlockOf, reducer diestate.Reducer) *Channel {
	dice := make([]*diestate.Die, ways)
	for w := range dice {
		dice[w] = diestate.New(primaryDepth, subDepth, retryLimit)
	}
	return &Channel{
		ch:                ch,
		dice:              dice,
		controller:        controller,
		blockOf:           blockOf,
		reducer:           reducer,
		bitErrorThreshold: bitErrorThreshold,
		observer:          noOpObserver{},
		busyWay:           -1,
		preferPrimary:     true,
	}
}

// SetObserver installs the metrics/logging sink for this channel.
func (c *Channel) SetObserver(o Observer) {
	if o == nil {
		o = noOpObserver{}
	}
	c.observer = o
}

// Die returns the per-way state for way, for host command handlers that
// push requests onto its rings.
func (c *Channel) Die(way int) *diestate.Die { return c.dice[way] }

// Tick drives the channel forward by one scheduling step: either polling
// the in-flight operation to completion and advancing its die's state
// machine, or, if the channel is free, resubmitting a die parked in a
// retry state (TrFail, Fail, SubTrFail, SubFail) or else selecting and
// submitting the next highest-priority ready die. However the step ends,
// every valid translation mailbox on the channel is then handed to the
// reducer.
func (c *Channel) Tick() {
	defer func() {
		for _, d := range c.dice {
			if d.Mailbox.Valid {
				c.reducer.TranslatePage(d.Mailbox.BufferEntry, d.Mailbox.PageBuf, d.Mailbox.PageIdx)
				d.Mailbox.Valid = false
			}
		}
	}()
	if c.busyWay >= 0 {
		c.pollInFlight()
		return
	}
	if c.controller.IsControllerBusy(c.ch) {
		return
	}
	for way, d := range c.dice {
		switch d.Status {
		case diestate.TrFail, diestate.Fail, diestate.SubTrFail, diestate.SubFail:
			c.apply(way, d, d.Step(nandq.Running, c.blockOf, c.reducer))
			return
		}
	}
	way, d := c.selectReady()
	if d == nil {
		return
	}
	c.preferPrimary = !c.preferPrimary
	res := d.Step(nandq.Running, c.blockOf, c.reducer)
	c.apply(way, d, res)
}

func (c *Channel) pollInFlight() {
	way := c.busyWay
	done, outcome := c.poll()
	if !done {
		return
	}
	c.busyWay = -1
	d := c.dice[way]
	res := d.Step(outcome, c.blockOf, c.reducer)
	c.apply(way, d, res)
}

func (c *Channel) apply(way int, d *diestate.Die, res diestate.Result) {
	if res.RetryExhausted {
		c.observer.ObserveRetryExhausted(c.ch, way)
	}
	if res.BadBlockMarked {
		c.observer.ObserveBadBlockWarning(c.ch, way)
	}
	if res.Action != diestate.ActionSubmitFront {
		return
	}
	if c.controller.IsControllerBusy(c.ch) {
		// Hardware not ready to accept a new doorbell; the die is left
		// parked mid-transition and retried from the same Step input
		// next tick since nothing about its ring or status changed.
		return
	}
	e := res.Ring.Front()
	if err := c.dispatch(way, e); err != nil {
		return
	}
	c.busyWay = way
	c.busyReq = e.Request
	c.observer.ObserveSubmit(c.ch, way, e.Request)
}

// selectReady scans every die on the channel and returns the one whose
// ready ring-front entry has the highest priority category, preferring
// the primary or sub ring per the alternating firstQueue policy.
func (c *Channel) selectReady() (int, *diestate.Die) {
	bestWay := -1
	var bestDie *diestate.Die
	bestCat := catNone + 1

	for way, d := range c.dice {
		if d.Status != diestate.Idle {
			continue
		}
		ring, sel, ok := pickRing(d, c.preferPrimary)
		if !ok {
			continue
		}
		cat := classify(ring.Front())
		if cat < bestCat {
			bestCat = cat
			bestWay = way
			bestDie = d
			d.QueueSelect = sel
		}
	}
	return bestWay, bestDie
}

// DrainChannel runs Tick on this channel alone until every die is idle
// with both rings empty or maxTicks is spent, mirroring EmptyReqQ/
// EmptySubReqQ/EmptyLowLevelQ's busy-wait before the bad-block routine
// or a host flush command is allowed to proceed.
func (c *Channel) DrainChannel(maxTicks int) bool {
	for i := 0; i < maxTicks; i++ {
		if c.Drained() {
			return true
		}
		c.Tick()
	}
	return c.Drained()
}

// Drained reports whether every die on the channel is idle with both
// rings empty.
func (c *Channel) Drained() bool {
	for _, d := range c.dice {
		if d.Status != diestate.Idle || !d.Primary.Empty() || !d.Sub.Empty() {
			return false
		}
	}
	return true
}

func pickRing(d *diestate.Die, preferPrimary bool) (*diequeue.Ring, diestate.QueueSelect, bool) {
	if preferPrimary {
		if !d.Primary.Empty() {
			return d.Primary, diestate.PrimaryQueue, true
		}
		if !d.Sub.Empty() {
			return d.Sub, diestate.SubQueue, true
		}
	} else {
		if !d.Sub.Empty() {
			return d.Sub, diestate.SubQueue, true
		}
		if !d.Primary.Empty() {
			return d.Primary, diestate.PrimaryQueue, true
		}
	}
	return nil, 0, false
}

func (c *Channel) dispatch(way int, e *diequeue.Entry) error {
	switch e.Request {
	case diequeue.ReadTrigger:
		return c.controller.ReadPageTriggerAsync(c.ch, way, e.RowAddr)
	case diequeue.ReadTransfer:
		return c.controller.ReadPageTransferAsync(c.ch, way, e.RowAddr, e.PageBuf, e.SpareBuf)
	case diequeue.ReadTriggerRaw:
		return c.controller.ReadPageTriggerRawAsync(c.ch, way, e.RowAddr)
	case diequeue.ReadTransferRaw:
		return c.controller.ReadPageTransferRawAsync(c.ch, way, e.RowAddr, e.PageBuf, e.SpareBuf)
	case diequeue.Program:
		return c.controller.ProgramPageAsync(c.ch, way, e.RowAddr, e.PageBuf, e.SpareBuf)
	case diequeue.Erase:
		return c.controller.EraseBlockAsync(c.ch, way, e.RowAddr)
	case diequeue.Reset:
		return c.controller.ResetAsync(c.ch, way)
	case diequeue.SetFeatures:
		return c.controller.SetFeaturesAsync(c.ch, way)
	case diequeue.StatusCheck:
		return c.controller.StatusCheckAsync(c.ch, way)
	default:
		return nil
	}
}

func (c *Channel) poll() (bool, nandq.Outcome) {
	switch c.busyReq {
	case diequeue.ReadTransfer, diequeue.ReadTransferRaw:
		done, info := c.controller.PollReadTransfer(c.ch, c.busyWay)
		if !done {
			return false, nandq.Running
		}
		return true, nandq.Classify(info, c.bitErrorThreshold)
	case diequeue.StatusCheck:
		done, status := c.controller.PollStatus(c.ch, c.busyWay)
		if !done {
			return false, nandq.Running
		}
		return true, nandq.ClassifyStatus(status)
	default:
		done, failed := c.controller.PollSimple(c.ch, c.busyWay)
		if !done {
			return false, nandq.Running
		}
		if failed {
			return true, nandq.Fail
		}
		return true, nandq.Done
	}
}

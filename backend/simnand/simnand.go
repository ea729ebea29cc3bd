// Package simnand is an in-memory NAND die array and host DMA fifo,
// implementing internal/nandq.Controller and internal/hostdma.Engine for
// tests and the simulator CLI. It plays the role the teacher's
// backend.Memory plays for a block device: a reference storage
// implementation with no real hardware underneath, sharded per die
// instead of per byte range since the scheduler addresses storage by
// (channel, way, row) rather than by a flat offset.
package simnand

import (
	"sync"

	"github.com/oss-ssd/embedsched/internal/hostdma"
	"github.com/oss-ssd/embedsched/internal/nandq"
)

type pendingOp struct {
	ticksLeft int
	kind      opKind
	failed    bool
	info      nandq.ErrorInfo
	status    nandq.StatusByte
	row       uint32
	pageBuf   []byte
	spareBuf  []byte
}

type opKind int

const (
	opSimple opKind = iota
	opTransfer
	opStatus
)

type die struct {
	pages map[uint32][]byte
	spare map[uint32][]byte
}

// Controller is an in-memory stand-in for the flash array, completing
// every async primitive after a fixed number of ticks so the scheduler's
// RUNNING/poll loop has something real to drive.
type Controller struct {
	mu sync.Mutex

	pageSize  int
	spareSize int
	latency   int

	dies     [][]die
	inflight [][]*pendingOp

	// overrides lets tests force a specific ECC verdict or status-fail
	// for the next completion at (ch, way, row), keyed by row so a retry
	// cycle can inject a different outcome than the original attempt.
	overrides map[dieRow]nandq.ErrorInfo
	statusFailOverrides map[dieRow]bool
}

type dieRow struct {
	ch, way int
	row     uint32
}

// New builds a Controller over a channels x ways die array, each page
// pageSize bytes with spareSize bytes of spare area, completing every
// primitive latencyTicks polls after it is submitted.
func New(channels, ways, pageSize, spareSize, latencyTicks int) *Controller {
	c := &Controller{
		pageSize:            pageSize,
		spareSize:           spareSize,
		latency:             latencyTicks,
		overrides:           make(map[dieRow]nandq.ErrorInfo),
		statusFailOverrides: make(map[dieRow]bool),
	}
	c.dies = make([][]die, channels)
	c.inflight = make([][]*pendingOp, channels)
	for ch := range c.dies {
		c.dies[ch] = make([]die, ways)
		c.inflight[ch] = make([]*pendingOp, ways)
		for way := range c.dies[ch] {
			c.dies[ch][way] = die{pages: make(map[uint32][]byte), spare: make(map[uint32][]byte)}
		}
	}
	return c
}

// SetECCOverride forces the next completed ReadPageTransfer(Raw) at (ch,
// way, row) to report info instead of a clean PASS verdict, letting tests
// drive WARNING/FAIL transitions deterministically.
func (c *Controller) SetECCOverride(ch, way int, row uint32, info nandq.ErrorInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides[dieRow{ch, way, row}] = info
}

// SetStatusFailOverride forces the next completed StatusCheck at (ch,
// way, row) to report failed. StatusCheckAsync records its operation at
// row 0, so only an override set for row 0 takes effect.
func (c *Controller) SetStatusFailOverride(ch, way int, row uint32, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusFailOverrides[dieRow{ch, way, row}] = failed
}

func (c *Controller) start(ch, way int, kind opKind, row uint32, pageBuf, spareBuf []byte) {
	c.inflight[ch][way] = &pendingOp{
		ticksLeft: c.latency,
		kind:      kind,
		row:       row,
		pageBuf:   pageBuf,
		spareBuf:  spareBuf,
	}
}

func (c *Controller) ReadPageTriggerAsync(ch, way int, row uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start(ch, way, opSimple, row, nil, nil)
	return nil
}

func (c *Controller) ReadPageTransferAsync(ch, way int, row uint32, pageBuf, spareBuf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start(ch, way, opTransfer, row, pageBuf, spareBuf)
	return nil
}

func (c *Controller) ReadPageTriggerRawAsync(ch, way int, row uint32) error {
	return c.ReadPageTriggerAsync(ch, way, row)
}

func (c *Controller) ReadPageTransferRawAsync(ch, way int, row uint32, pageBuf, spareBuf []byte) error {
	return c.ReadPageTransferAsync(ch, way, row, pageBuf, spareBuf)
}

func (c *Controller) ProgramPageAsync(ch, way int, row uint32, pageBuf, spareBuf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := &c.dies[ch][way]
	stored := make([]byte, len(pageBuf))
	copy(stored, pageBuf)
	d.pages[row] = stored
	if spareBuf != nil {
		storedSpare := make([]byte, len(spareBuf))
		copy(storedSpare, spareBuf)
		d.spare[row] = storedSpare
	}
	c.start(ch, way, opSimple, row, nil, nil)
	return nil
}

func (c *Controller) EraseBlockAsync(ch, way int, row uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := &c.dies[ch][way]
	delete(d.pages, row)
	delete(d.spare, row)
	c.start(ch, way, opSimple, row, nil, nil)
	return nil
}

func (c *Controller) StatusCheckAsync(ch, way int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start(ch, way, opStatus, 0, nil, nil)
	return nil
}

func (c *Controller) ResetAsync(ch, way int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start(ch, way, opSimple, 0, nil, nil)
	return nil
}

func (c *Controller) SetFeaturesAsync(ch, way int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start(ch, way, opSimple, 0, nil, nil)
	return nil
}

func (c *Controller) ReadyBusyAsync(ch int) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var mask uint32
	for way, op := range c.inflight[ch] {
		if op == nil {
			mask |= 1 << uint(way)
		}
	}
	return mask
}

// IsControllerBusy always reports the bus as immediately available: the
// scheduler's own one-op-per-channel bookkeeping (internal/arbiter's
// busyWay) already enforces the mutual-exclusion rule this hook exists
// for, so the simulator has nothing further to gate on.
func (c *Controller) IsControllerBusy(ch int) bool {
	return false
}

func (c *Controller) PollReadTransfer(ch, way int) (bool, nandq.ErrorInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	op := c.inflight[ch][way]
	if op == nil {
		return true, nandq.ErrorInfo{CrcValid: true, SpareChunkValid: true, PageChunkValid: true}
	}
	if op.ticksLeft > 0 {
		op.ticksLeft--
		return false, nandq.ErrorInfo{}
	}
	c.inflight[ch][way] = nil

	if info, ok := c.overrides[dieRow{ch, way, op.row}]; ok {
		delete(c.overrides, dieRow{ch, way, op.row})
		return true, info
	}

	d := &c.dies[ch][way]
	page, ok := d.pages[op.row]
	if !ok {
		return true, nandq.ErrorInfo{}
	}
	copy(op.pageBuf, page)
	if spare, ok := d.spare[op.row]; ok {
		copy(op.spareBuf, spare)
	}
	return true, nandq.ErrorInfo{CrcValid: true, SpareChunkValid: true, PageChunkValid: true}
}

func (c *Controller) PollStatus(ch, way int) (bool, nandq.StatusByte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	op := c.inflight[ch][way]
	if op == nil {
		return true, nandq.StatusByte{ReadyWithResult: true}
	}
	if op.ticksLeft > 0 {
		op.ticksLeft--
		return false, nandq.StatusByte{}
	}
	c.inflight[ch][way] = nil
	failed := c.statusFailOverrides[dieRow{ch, way, op.row}]
	delete(c.statusFailOverrides, dieRow{ch, way, op.row})
	return true, nandq.StatusByte{ReadyWithResult: true, Failed: failed}
}

func (c *Controller) PollSimple(ch, way int) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	op := c.inflight[ch][way]
	if op == nil {
		return true, false
	}
	if op.ticksLeft > 0 {
		op.ticksLeft--
		return false, false
	}
	c.inflight[ch][way] = nil
	return true, op.failed
}

// HPPort splits channels evenly across two host-port banks, mirroring the
// original firmware's CHANNEL_NUM_PER_HP_PORT split.
func (c *Controller) HPPort(ch int) int {
	return ch % 2
}

var _ nandq.Controller = (*Controller)(nil)

// DMA is an in-memory host DMA fifo: every Set* call is treated as
// instantly retired, so PartialDone reports true as soon as the tail
// advances past the caller's snapshot.
type DMA struct {
	mu  sync.Mutex
	rx  hostdma.Snapshot
	tx  hostdma.Snapshot
	log []Transfer
}

// Transfer records one completed RX/TX for tests to assert against.
type Transfer struct {
	Dir         hostdma.Direction
	Tag         uint32
	StartIndex  uint16
	SectorCount uint16
	BufferEntry uint32
	DevAddr     uint64
}

func NewDMA() *DMA { return &DMA{} }

func (d *DMA) SetAutoRxDMA(tag uint32, startIndex, sectorCount uint16, bufferEntry uint32, devAddr uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rx.Tail++
	d.log = append(d.log, Transfer{Dir: hostdma.RX, Tag: tag, StartIndex: startIndex, SectorCount: sectorCount, BufferEntry: bufferEntry, DevAddr: devAddr})
	return nil
}

func (d *DMA) SetAutoTxDMA(tag uint32, startIndex, sectorCount uint16, bufferEntry uint32, devAddr uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tx.Tail++
	d.log = append(d.log, Transfer{Dir: hostdma.TX, Tag: tag, StartIndex: startIndex, SectorCount: sectorCount, BufferEntry: bufferEntry, DevAddr: devAddr})
	return nil
}

func (d *DMA) Snapshot(dir hostdma.Direction) hostdma.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	if dir == hostdma.RX {
		return d.rx
	}
	return d.tx
}

func (d *DMA) PartialDone(dir hostdma.Direction, since hostdma.Snapshot) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if dir == hostdma.RX {
		return d.rx.Tail > since.Tail
	}
	return d.tx.Tail > since.Tail
}

// Transfers returns every transfer recorded so far, for test assertions.
func (d *DMA) Transfers() []Transfer {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Transfer, len(d.log))
	copy(out, d.log)
	return out
}

var _ hostdma.Engine = (*DMA)(nil)

package embedsched

import (
	"fmt"

	"github.com/oss-ssd/embedsched/internal/arbiter"
	"github.com/oss-ssd/embedsched/internal/badblock"
	"github.com/oss-ssd/embedsched/internal/diequeue"
	"github.com/oss-ssd/embedsched/internal/diestate"
	"github.com/oss-ssd/embedsched/internal/hostdma"
	"github.com/oss-ssd/embedsched/internal/logging"
	"github.com/oss-ssd/embedsched/internal/lrubuf"
	"github.com/oss-ssd/embedsched/internal/nandq"
	"github.com/oss-ssd/embedsched/internal/pagemap"
	"github.com/oss-ssd/embedsched/internal/transbuf"
	"github.com/oss-ssd/embedsched/internal/translate"
)

// defaultResultBufBytes bounds one translation buffer entry's accumulating
// result vector, mirroring the original firmware's fixed TRANS_BUF_SIZE
// scratch array rather than sizing per-request.
const defaultResultBufBytes = 64 * 1024

// Engine is the top-level scheduler: one Engine owns every channel's
// arbiter, the embedding translation pipeline, and bad-block maintenance
// for a whole die array. It is adapted from the teacher's Device/
// CreateAndServe wiring pattern, with CreateAndServe's kernel device
// lifecycle replaced by a plain constructor, since this scheduler has no
// char device to bring up: a caller drives it by calling Tick in a loop
// (spec.md §5).
type Engine struct {
	geometry Geometry
	channels []*arbiter.Channel
	translate *translate.Engine
	badblock  *badblock.Updater
	dma       hostdma.Engine

	metrics  *Metrics
	observer Observer
	logger   *logging.Logger

	pendingBadBlock []DieRef
}

// DieRef names one (channel, way) die.
type DieRef struct {
	Channel int
	Way     int
}

// Options mirrors the teacher's Options: optional collaborators supplied
// at construction instead of being threaded through every call.
type Options struct {
	Logger   *logging.Logger
	Observer Observer
}

// NewEngine builds an Engine over geom's die array, driving NAND
// operations through controller and host transfers through dma, with pm
// and lru standing in for the page map and LRU buffer collaborators
// (spec.md §1 Non-goals: both are consumed, not implemented, here).
func NewEngine(geom Geometry, controller nandq.Controller, dma hostdma.Engine, pm pagemap.Map, lru lrubuf.Buffer, opts *Options) *Engine {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	metrics := NewMetrics()
	var observer Observer = NewMetricsObserver(metrics)
	if opts.Observer != nil {
		observer = opts.Observer
	}

	e := &Engine{
		geometry: geom,
		dma:      dma,
		metrics:  metrics,
		observer: observer,
		logger:   logger,
	}

	pool := transbuf.NewPool(geom.TransBufEntries, defaultResultBufBytes)
	e.translate = translate.NewEngine(pool, pm, lru, geom.SectorSize, geom.SectorsPerPage, geom.Dies(), geom.Channels, e.pushTranslateTrigger)
	e.translate.SetObserver(translateObserver{e})

	e.channels = make([]*arbiter.Channel, geom.Channels)
	for ch := range e.channels {
		c := arbiter.NewChannel(ch, geom.WaysPerChannel, geom.ReqQueueDepth, geom.SubReqQueueDepth, geom.RetryLimit, geom.BitErrorThreshold, controller, geom.BlockFromRow, e.translate)
		c.SetObserver(e)
		e.channels[ch] = c
	}

	metadataRow := func(ch, way int) uint32 {
		return geom.RowAddress(0, geom.MetadataBlockNo, 0) + 1
	}
	e.badblock = badblock.NewUpdater(controller, geom.Channels, geom.WaysPerChannel, geom.BlocksPerLun, metadataRow)

	return e
}

// pushTranslateTrigger forwards a translate-tagged ReadTrigger to (ch,
// way)'s primary ring; it is handed to translate.NewEngine as its
// PushTrigger hook.
func (e *Engine) pushTranslateTrigger(ch, way int, entry diequeue.Entry) bool {
	if ch < 0 || ch >= len(e.channels) {
		return false
	}
	return e.channels[ch].Die(way).Primary.PushNonBlocking(entry, 0)
}

// Metrics returns the engine's atomic counters.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Geometry returns the flash geometry this engine was built against.
func (e *Engine) Geometry() Geometry { return e.geometry }

// Die returns the per-(channel, way) scheduling state, for tests and
// introspection.
func (e *Engine) Die(ch, way int) *diestate.Die { return e.channels[ch].Die(way) }

// BadBlockTable returns the persisted bad-block table for (ch, way).
func (e *Engine) BadBlockTable(ch, way int) *badblock.Table { return e.badblock.Table(ch, way) }

// Tick drives every channel forward by one scheduling step and resumes
// streaming any translation buffer entry still waiting on flash pages,
// mirroring one pass of the original firmware's main scheduling loop
// (ExeLowLevelReqPerCh called once per channel, per tick).
func (e *Engine) Tick() {
	for _, c := range e.channels {
		c.Tick()
	}
	for idx := 0; idx < e.translate.Capacity(); idx++ {
		if e.translate.Pending(uint32(idx)) {
			e.translate.TranslatePagesNonBlocking(uint32(idx))
		}
	}
}

// DieDrained reports whether (ch, way) is idle with both rings empty,
// the precondition the original firmware's EmptyReqQ/EmptySubReqQ enforce
// before the bad-block routine is allowed to touch a die's metadata block.
func (e *Engine) DieDrained(ch, way int) bool {
	d := e.Die(ch, way)
	return d.Status == diestate.Idle && d.Primary.Empty() && d.Sub.Empty()
}

// Idle reports whether every die in the array is drained.
func (e *Engine) Idle() bool {
	for ch := 0; ch < e.geometry.Channels; ch++ {
		for way := 0; way < e.geometry.WaysPerChannel; way++ {
			if !e.DieDrained(ch, way) {
				return false
			}
		}
	}
	return true
}

// Flush calls Tick until every die is drained or maxTicks is reached,
// mirroring the handful of places the original firmware is allowed to
// spin-wait for the whole scheduler to go quiet.
func (e *Engine) Flush(maxTicks int) error {
	for i := 0; i < maxTicks; i++ {
		if e.Idle() {
			return nil
		}
		e.Tick()
	}
	if e.Idle() {
		return nil
	}
	return fmt.Errorf("embedsched: flush did not drain within %d ticks", maxTicks)
}

// DrainAll ticks every channel until the whole array is idle or maxTicks
// is spent, the array-wide counterpart to arbiter.Channel.DrainChannel
// (EmptyLowLevelQ in the original scheduler).
func (e *Engine) DrainAll(maxTicks int) bool {
	for i := 0; i < maxTicks; i++ {
		if e.Idle() {
			return true
		}
		e.Tick()
	}
	return e.Idle()
}

// PendingBadBlockMaintenance returns and clears the set of dice that
// raised a WARNING outcome since the last call, for a caller to drain and
// then pass to ApplyBadBlockMaintenance once each is idle.
func (e *Engine) PendingBadBlockMaintenance() []DieRef {
	pending := e.pendingBadBlock
	e.pendingBadBlock = nil
	return pending
}

// ApplyBadBlockMaintenance folds (ch, way)'s newly discovered bad blocks
// into its persisted table and rewrites the table's metadata page. It
// refuses to run until DieDrained(ch, way), the same guard the original
// firmware enforces by spinning EmptyReqQ/EmptySubReqQ first.
func (e *Engine) ApplyBadBlockMaintenance(ch, way int) error {
	if !e.DieDrained(ch, way) {
		return fmt.Errorf("embedsched: die ch=%d way=%d not drained", ch, way)
	}
	if err := e.badblock.Apply(ch, way, e.Die(ch, way)); err != nil {
		return wrapError("ApplyBadBlockMaintenance", ch, way, err)
	}
	e.observer.ObserveBadBlockUpdate()
	e.logger.WithDie(ch, way).Info("bad block table updated")
	return nil
}

func (e *Engine) validDie(ch, way int) bool {
	return ch >= 0 && ch < e.geometry.Channels && way >= 0 && way < e.geometry.WaysPerChannel
}

// HandleHostWrite pushes a host program request onto (ch, way)'s primary
// ring at physical row, spec.md §6's write path.
func (e *Engine) HandleHostWrite(ch, way int, row uint32, pageBuf, spareBuf []byte) error {
	if !e.validDie(ch, way) {
		return newError("HandleHostWrite", CodeHostProtocolViolation, ch, way, "die out of range")
	}
	ok := e.Die(ch, way).Primary.PushNonBlocking(diequeue.Entry{
		Request:  diequeue.Program,
		RowAddr:  row,
		PageBuf:  pageBuf,
		SpareBuf: spareBuf,
	}, 0)
	if !ok {
		return newError("HandleHostWrite", CodeHostProtocolViolation, ch, way, "primary queue full")
	}
	return nil
}

// HandleHostRead pushes a plain (non-translate) host read trigger onto
// (ch, way)'s primary ring, spec.md §6's read path.
func (e *Engine) HandleHostRead(ch, way int, row uint32, pageBuf, spareBuf []byte) error {
	if !e.validDie(ch, way) {
		return newError("HandleHostRead", CodeHostProtocolViolation, ch, way, "die out of range")
	}
	ok := e.Die(ch, way).Primary.PushNonBlocking(diequeue.Entry{
		Request:  diequeue.ReadTrigger,
		RowAddr:  row,
		PageBuf:  pageBuf,
		SpareBuf: spareBuf,
	}, 0)
	if !ok {
		return newError("HandleHostRead", CodeHostProtocolViolation, ch, way, "primary queue full")
	}
	return nil
}

// HandleTranslationConfigWrite allocates a translation buffer entry for a
// host-written embedding lookup config and builds its per-page bookkeeping,
// spec.md §4.6/§6's config-write command.
func (e *Engine) HandleTranslationConfigWrite(slba uint64, requestID uint32, cfg translate.Config) (uint32, error) {
	idx, ok := e.translate.Allocate(slba, requestID)
	if !ok {
		e.observer.ObserveConfigProcessed(false)
		return 0, newError("HandleTranslationConfigWrite", CodeTransPoolExhausted, -1, -1, "translation buffer pool exhausted")
	}
	e.translate.Configure(idx, cfg)
	e.observer.ObserveConfigProcessed(true)
	return idx, nil
}

// HandleTranslationRead resumes streaming entryIdx's remaining pages
// through flash, spec.md §6's translation-read command.
func (e *Engine) HandleTranslationRead(entryIdx uint32) {
	e.translate.TranslatePagesNonBlocking(entryIdx)
}

// HandleTranslationResultRead streams entryIdx's completed result sectors
// back to the host starting at nextSector, spec.md §6's result-read
// command, returning how many sectors it was able to send.
func (e *Engine) HandleTranslationResultRead(entryIdx uint32, firstSector, nextSector, requestedSectors uint32, cmdSlotTag uint16, devAddr uint64) uint32 {
	sent := e.translate.ReadTranslatedPagesNonBlocking(entryIdx, firstSector, nextSector, requestedSectors, cmdSlotTag, devAddr, e.dma)
	for i := uint32(0); i < sent; i++ {
		e.observer.ObserveResultSectorSent()
	}
	return sent
}

// ObserveSubmit implements arbiter.Observer, forwarding to the engine's
// metrics/log observer.
func (e *Engine) ObserveSubmit(ch, way int, req diequeue.Request) {
	e.observer.ObserveNandOp(nandOpName(req))
	e.logger.WithDie(ch, way).Debug("submit", "request", req)
}

// ObserveRetryExhausted implements arbiter.Observer.
func (e *Engine) ObserveRetryExhausted(ch, way int) {
	e.observer.ObserveRetryExhausted()
	e.logger.WithDie(ch, way).Warn("retry limit exhausted")
}

// ObserveBadBlockWarning implements arbiter.Observer, recording (ch, way)
// as needing maintenance once it drains.
func (e *Engine) ObserveBadBlockWarning(ch, way int) {
	e.observer.ObserveECCWarning()
	e.observer.ObserveBadBlockMarked()
	ref := DieRef{Channel: ch, Way: way}
	found := false
	for _, p := range e.pendingBadBlock {
		if p == ref {
			found = true
			break
		}
	}
	if !found {
		e.pendingBadBlock = append(e.pendingBadBlock, ref)
	}
	e.logger.WithDie(ch, way).Warn("bad block warning recorded")
}

func nandOpName(req diequeue.Request) string {
	switch req {
	case diequeue.ReadTrigger, diequeue.ReadTriggerRaw:
		return "trigger"
	case diequeue.ReadTransfer, diequeue.ReadTransferRaw:
		return "transfer"
	case diequeue.Program:
		return "program"
	case diequeue.Erase:
		return "erase"
	default:
		return "status"
	}
}

// translateObserver adapts Engine's root Observer to translate.Observer.
type translateObserver struct{ e *Engine }

func (o translateObserver) ObserveCacheProbe(hit bool) { o.e.observer.ObserveCacheProbe(hit) }
func (o translateObserver) ObservePageTranslated()     { o.e.observer.ObservePageTranslated() }

var _ arbiter.Observer = (*Engine)(nil)
var _ translate.Observer = translateObserver{}

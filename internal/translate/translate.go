// Package translate implements the embedding-table translation engine
// (spec.md §4.7): turning a host-written lookup config into a stream of
// flash-page reads, reducing each page's looked-up embeddings into a
// translation buffer's result vectors by elementwise sum, and serving
// the direct-mapped embedding cache that lets a hot embedding skip flash
// entirely. Grounded directly on original_source/trans_buffer.c's
// ConfigureTransBufEntry/translatePagesNonBlocking/translatePage/
// readPageToTranslateNonBlocking, adapted from fixed-size C arrays and
// raw pointer arithmetic to Go slices and a float32 byte-buffer view.
package translate

import (
	"encoding/binary"
	"math"

	"github.com/oss-ssd/embedsched/internal/diequeue"
	"github.com/oss-ssd/embedsched/internal/hostdma"
	"github.com/oss-ssd/embedsched/internal/lrubuf"
	"github.com/oss-ssd/embedsched/internal/pagemap"
	"github.com/oss-ssd/embedsched/internal/transbuf"
)

// CacheEntries is the embedding cache's entry count, 2^20 per spec.md §4.7.
const CacheEntries = 1 << 20

const cacheTagMask = (1 << 12) - 1
const cacheVectorBytes = 128

// cacheEntry is one direct-mapped slot: valid + tag + the cached vector.
type cacheEntry struct {
	valid bool
	tag   uint32
	bytes []byte
}

// Cache is the direct-mapped embedding cache. Write-allocate, no
// eviction policy beyond "last write wins the slot" (spec.md §4.7): a
// conflicting tag simply overwrites, there is no LRU or replacement
// hardware here at all.
type Cache struct {
	entries []cacheEntry
}

// NewCache allocates a CacheEntries-deep direct-mapped cache.
func NewCache() *Cache {
	entries := make([]cacheEntry, CacheEntries)
	for i := range entries {
		entries[i].bytes = make([]byte, cacheVectorBytes)
	}
	return &Cache{entries: entries}
}

func cacheKey(embeddingID, tableID uint32) (index, tag uint32) {
	full := (embeddingID << 5) | tableID
	index = full & (CacheEntries - 1)
	tag = (full >> 20) & cacheTagMask
	return
}

// Lookup returns the cached vector bytes for (embeddingID, tableID), or
// nil on a miss.
func (c *Cache) Lookup(embeddingID, tableID uint32) []byte {
	idx, tag := cacheKey(embeddingID, tableID)
	e := &c.entries[idx]
	if e.valid && e.tag == tag {
		return e.bytes
	}
	return nil
}

// Store installs vector as the cached entry for (embeddingID, tableID),
// direct-map overwriting whatever was there.
func (c *Cache) Store(embeddingID, tableID uint32, vector []byte) {
	idx, tag := cacheKey(embeddingID, tableID)
	e := &c.entries[idx]
	n := copy(e.bytes, vector)
	for i := n; i < len(e.bytes); i++ {
		e.bytes[i] = 0
	}
	e.valid = true
	e.tag = tag
}

// IDPair is one (result slot, embedding row) selection from a lookup
// config's embeddingIDList.
type IDPair struct {
	Result      uint32
	EmbeddingID uint32
}

// Config is a host-written embedding-lookup request (spec.md §4.6/4.7):
// select InputEmbeddings rows from table TableID and reduce them by sum
// into ResultEmbeddings output vectors.
type Config struct {
	AttributeSize    int // bytes per scalar attribute; 4 for float32
	EmbeddingLength  int // attributes per embedding vector
	ResultEmbeddings int
	InputEmbeddings  int
	TableID          uint32
	IDPairs          []IDPair
}

func (c Config) vectorBytes() int { return c.AttributeSize * c.EmbeddingLength }

// accumulateAt adds src (EmbeddingLength float32s) into dst starting at
// element offset elemOffset, in place.
func accumulateAt(dst []byte, elemOffset int, src []byte, length int) {
	off := elemOffset * 4
	for i := 0; i < length; i++ {
		d := math.Float32frombits(binary.LittleEndian.Uint32(dst[off+i*4:]))
		s := math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
		binary.LittleEndian.PutUint32(dst[off+i*4:], math.Float32bits(d+s))
	}
}

// Observer receives cache-probe and page-translation events, kept
// independent of the root package's Observer/Metrics so this package has
// no upward dependency.
type Observer interface {
	ObserveCacheProbe(hit bool)
	ObservePageTranslated()
}

type noOpObserver struct{}

func (noOpObserver) ObserveCacheProbe(bool) {}
func (noOpObserver) ObservePageTranslated() {}

// PushTrigger submits a translate-tagged ReadTrigger onto (ch, way)'s
// primary ring; it returns false if the ring had no room, mirroring
// PushToReqQueueNonBlocking's caller contract.
type PushTrigger func(ch, way int, e diequeue.Entry) bool

// Engine is the translation pipeline: it owns the translation buffer
// pool and the embedding cache, and drives page reads through the
// scheduler via PushTrigger.
type Engine struct {
	pool    *transbuf.Pool
	cache   *Cache
	pagemap pagemap.Map
	lru     lrubuf.Buffer
	configs map[uint32]Config

	sectorSize     int
	sectorsPerPage int
	dies           int
	channels       int

	push     PushTrigger
	observer Observer
}

// NewEngine wires a translation engine against a buffer pool, a page
// map, an LRU page buffer, and the scheduler's push hook.
func NewEngine(pool *transbuf.Pool, pm pagemap.Map, lru lrubuf.Buffer, sectorSize, sectorsPerPage, dies, channels int, push PushTrigger) *Engine {
	return &Engine{
		pool:           pool,
		cache:          NewCache(),
		pagemap:        pm,
		lru:            lru,
		configs:        make(map[uint32]Config),
		sectorSize:     sectorSize,
		sectorsPerPage: sectorsPerPage,
		dies:           dies,
		channels:       channels,
		push:           push,
		observer:       noOpObserver{},
	}
}

// SetObserver installs the metrics/logging sink for cache probes and page
// translations.
func (e *Engine) SetObserver(o Observer) {
	if o == nil {
		o = noOpObserver{}
	}
	e.observer = o
}

// Capacity returns the translation buffer pool's total entry count.
func (e *Engine) Capacity() int { return e.pool.Capacity() }

// Pending reports whether entryIdx is configured but still has pages left
// for TranslatePagesNonBlocking to stream, used by the scheduler's tick
// loop to decide which entries are worth resuming.
func (e *Engine) Pending(entryIdx uint32) bool {
	buf := e.pool.Entry(int(entryIdx))
	return buf.Configured() && buf.NextPage < buf.NPages
}

// Allocate reserves a translation buffer entry for a new request.
func (e *Engine) Allocate(slba uint64, requestID uint32) (uint32, bool) {
	idx, ok := e.pool.Allocate(slba, requestID)
	return uint32(idx), ok
}

// Find locates the buffer entry allocated for requestID.
func (e *Engine) Find(requestID uint32) (uint32, bool) {
	idx, ok := e.pool.FindByRequestID(requestID)
	return uint32(idx), ok
}

// Configure processes a host-written lookup config into entryIdx's
// per-page bookkeeping and result-sector accounting, resolving any
// embedding already present in the cache immediately without touching
// flash (spec.md §4.7's cache fast path).
func (e *Engine) Configure(entryIdx uint32, cfg Config) {
	buf := e.pool.Entry(int(entryIdx))
	vecBytes := cfg.vectorBytes()

	nlb := uint32(cfg.ResultEmbeddings*vecBytes) / uint32(e.sectorSize)
	if (cfg.ResultEmbeddings*vecBytes)%e.sectorSize != 0 {
		nlb++
	}
	buf.NLB = nlb
	buf.PerResultSectorInput = make([]uint32, nlb)
	buf.PerResultSectorComplete = make([]uint32, nlb)

	pageBytes := uint64(e.sectorSize * e.sectorsPerPage)
	pageOf := func(embeddingID uint32) uint64 {
		return uint64(embeddingID) * uint64(vecBytes) / pageBytes
	}

	var perPageSLBA []uint64
	var perPageStart []uint32
	var perPageLen []uint32

	curPage := pageOf(cfg.IDPairs[0].EmbeddingID)
	perPageSLBA = append(perPageSLBA, buf.SLBA+curPage*uint64(e.sectorsPerPage))
	perPageStart = append(perPageStart, 0)
	curLen := uint32(0)

	for i, pair := range cfg.IDPairs {
		if hit := e.cache.Lookup(pair.EmbeddingID, cfg.TableID); hit != nil {
			e.observer.ObserveCacheProbe(true)
			accumulateAt(buf.ResultBuf, int(pair.Result)*cfg.EmbeddingLength, hit, cfg.EmbeddingLength)
			resultSector := (pair.Result * uint32(vecBytes)) / uint32(e.sectorSize)
			buf.PerResultSectorComplete[resultSector]++
			buf.PerResultSectorInput[resultSector]++
			continue
		}
		e.observer.ObserveCacheProbe(false)

		resultSector := (pair.Result * uint32(vecBytes)) / uint32(e.sectorSize)
		buf.PerResultSectorInput[resultSector]++

		pid := pageOf(pair.EmbeddingID)
		if pid != curPage {
			perPageLen = append(perPageLen, curLen)
			perPageSLBA = append(perPageSLBA, buf.SLBA+pid*uint64(e.sectorsPerPage))
			perPageStart = append(perPageStart, uint32(i))
			curLen = 0
			curPage = pid
		}
		curLen++
	}
	perPageLen = append(perPageLen, curLen)

	buf.PerPageSLBA = perPageSLBA
	buf.PerPageStartingIndex = perPageStart
	buf.PerPageInputLength = perPageLen
	buf.NPages = uint32(len(perPageSLBA))
	buf.NextPage = 0

	e.configs[entryIdx] = cfg
	buf.MarkConfigured()
}

// TranslatePagesNonBlocking resumes streaming entryIdx's remaining pages
// through readPageToTranslate, stopping (without error) the first time a
// die's primary ring has no room; the entry's NextPage cursor remembers
// where to resume on a later tick.
func (e *Engine) TranslatePagesNonBlocking(entryIdx uint32) {
	buf := e.pool.Entry(int(entryIdx))
	for buf.NextPage < buf.NPages {
		if !e.readPageToTranslate(entryIdx, buf.NextPage) {
			return
		}
		buf.NextPage++
	}
}

// readPageToTranslate resolves page pageIdx of entryIdx: a buffer cache
// hit or an unmapped logical page reduces immediately; otherwise it
// pushes a translate-tagged ReadTrigger and lets the die state machine's
// mailbox hand-off call back into TranslatePage on completion.
func (e *Engine) readPageToTranslate(entryIdx uint32, pageIdx uint32) bool {
	buf := e.pool.Entry(int(entryIdx))
	lpa := uint32(buf.PerPageSLBA[pageIdx] / uint64(e.sectorsPerPage))

	if _, data := e.lru.CheckHit(lpa); data != nil {
		e.TranslatePage(entryIdx, data, pageIdx)
		return true
	}

	die := int(lpa) % e.dies
	dieLpn := lpa / uint32(e.dies)
	ch := die % e.channels
	way := die / e.channels

	_, data := e.lru.Allocate(lpa)

	ppn := e.pagemap.Lookup(die, dieLpn)
	if ppn == pagemap.Unmapped {
		for i := range data {
			data[i] = 0
		}
		e.TranslatePage(entryIdx, data, pageIdx)
		return true
	}

	return e.push(ch, way, diequeue.Entry{
		Request:  diequeue.ReadTrigger,
		RowAddr:  ppn,
		PageBuf:  data,
		SpareBuf: make([]byte, e.sectorSize),
		Translate: diequeue.Translate{
			Active:      true,
			BufferEntry: entryIdx,
			PageIdx:     pageIdx,
		},
	})
}

// TranslatePage folds pageBuf's looked-up embeddings into entryIdx's
// result buffer by elementwise sum, caching every embedding it touches.
// It implements internal/diestate.Reducer, the hook the per-die mailbox
// drains into.
func (e *Engine) TranslatePage(entryIdx uint32, pageBuf []byte, pageIdx uint32) {
	buf := e.pool.Entry(int(entryIdx))
	cfg, ok := e.configs[entryIdx]
	if !ok {
		return
	}
	vecBytes := cfg.vectorBytes()
	start := buf.PerPageStartingIndex[pageIdx]
	n := buf.PerPageInputLength[pageIdx]
	baseEmbeddingID := uint32((buf.PerPageSLBA[pageIdx] - buf.SLBA) * uint64(e.sectorSize) / uint64(vecBytes))

	for i := uint32(0); i < n; i++ {
		pair := cfg.IDPairs[start+i]
		offset := int(pair.EmbeddingID - baseEmbeddingID)
		src := pageBuf[offset*vecBytes : offset*vecBytes+vecBytes]

		e.cache.Store(pair.EmbeddingID, cfg.TableID, src)

		resultSector := (pair.Result * uint32(vecBytes)) / uint32(e.sectorSize)
		accumulateAt(buf.ResultBuf, int(pair.Result)*cfg.EmbeddingLength, src, cfg.EmbeddingLength)
		buf.PerResultSectorComplete[resultSector]++
	}
	buf.PagesTranslated++
	e.observer.ObservePageTranslated()
}

// ReadTranslatedPagesNonBlocking streams completed result sectors back
// to the host over dma, deallocating the buffer entry once every result
// sector has shipped.
func (e *Engine) ReadTranslatedPagesNonBlocking(entryIdx uint32, firstSector, nextSector, requestedSectors uint32, cmdSlotTag uint16, devAddr uint64, dma hostdma.Engine) uint32 {
	buf := e.pool.Entry(int(entryIdx))
	if !buf.Configured() {
		return 0
	}
	var sent uint32
	for s := uint32(0); s < requestedSectors; s++ {
		cur := nextSector + s
		if buf.PerResultSectorComplete[cur] < buf.PerResultSectorInput[cur] {
			return sent
		}
		buf.PerResultSectorComplete[cur] = 0
		sent++

		dma.SetAutoTxDMA(uint32(cmdSlotTag), uint16(cur-firstSector), 1, entryIdx, devAddr+uint64(cur)*uint64(e.sectorSize))

		buf.NLBCompleted++
		if buf.NLBCompleted == buf.NLB {
			e.pool.Deallocate(int(entryIdx))
		}
	}
	return sent
}

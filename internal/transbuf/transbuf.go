// Package transbuf implements the translation buffer pool (spec.md §4.6):
// a fixed number of scratch entries, each holding one in-flight
// embedding-lookup request's accumulating result vectors and the
// per-page bookkeeping translatePagesNonBlocking needs to stream flash
// reads into it. Entries are handed out and returned through an
// intrusive free list threaded through the entries themselves (prev/next
// indices), exactly as the original firmware's transAvailQ/transMap,
// since the entry count is small and fixed and the list membership is
// the whole of the bookkeeping cost.
package transbuf

// None is the free-list sentinel (0xffff in the original firmware).
const None = -1

// Entry is one translation request's scratch state. ResultBuf holds the
// accumulating reduction output, packed as little-endian float32s; it is a
// fixed buffer of the pool's entry size, allocated by NewPool and zeroed
// by Allocate, and Configure does not resize it.
type Entry struct {
	allocated bool
	configured bool

	SLBA      uint64
	RequestID uint32

	NLB          uint32
	NLBRequested uint32
	NLBCompleted uint32
	NPages       uint32
	NextPage     uint32
	PagesTranslated uint32

	PerPageSLBA             []uint64
	PerPageStartingIndex    []uint32
	PerPageInputLength      []uint32
	PerResultSectorInput    []uint32
	PerResultSectorComplete []uint32

	ResultBuf []byte

	prev, next int
}

// Allocated reports whether the entry currently belongs to a live
// request.
func (e *Entry) Allocated() bool { return e.allocated }

// Configured reports whether ConfigureTransBufEntry has processed this
// entry's host-written config yet.
func (e *Entry) Configured() bool { return e.configured }

// MarkConfigured flags the entry as processed, called by the translation
// engine once it has built the per-page bookkeeping from the host's
// config write.
func (e *Entry) MarkConfigured() { e.configured = true }

// Pool is the fixed-capacity translation buffer array plus its free list.
type Pool struct {
	entries  []Entry
	entrySize int
	head, tail int
}

// NewPool allocates capacity entries, each with an entrySize-byte result
// scratchpad.
func NewPool(capacity, entrySize int) *Pool {
	entries := make([]Entry, capacity)
	for i := range entries {
		entries[i].ResultBuf = make([]byte, entrySize)
		entries[i].prev = i - 1
		entries[i].next = i + 1
	}
	if capacity > 0 {
		entries[0].prev = None
		entries[capacity-1].next = None
	}
	return &Pool{entries: entries, entrySize: entrySize, head: 0, tail: capacity - 1}
}

// Capacity returns the pool's total entry count.
func (p *Pool) Capacity() int { return len(p.entries) }

// Entry returns a pointer to entry idx's state.
func (p *Pool) Entry(idx int) *Entry { return &p.entries[idx] }

// Allocate pulls the head of the free list, tags it with slba/requestID,
// and returns its index. ok is false if the pool is exhausted.
func (p *Pool) Allocate(slba uint64, requestID uint32) (idx int, ok bool) {
	if p.head == None {
		return 0, false
	}
	idx = p.head
	if p.head == p.tail {
		p.head, p.tail = None, None
	} else {
		p.head = p.entries[p.head].next
		p.entries[p.head].prev = None
	}

	e := &p.entries[idx]
	*e = Entry{ResultBuf: e.ResultBuf}
	e.SLBA = slba
	e.RequestID = requestID
	e.allocated = true
	for i := range e.ResultBuf {
		e.ResultBuf[i] = 0
	}
	return idx, true
}

// Deallocate returns entry idx to the tail of the free list.
func (p *Pool) Deallocate(idx int) {
	e := &p.entries[idx]
	e.allocated = false
	e.configured = false
	e.prev = p.tail
	e.next = None
	if p.tail == None {
		p.head = idx
	} else {
		p.entries[p.tail].next = idx
	}
	p.tail = idx
}

// FindByRequestID scans allocated entries for one tagged with requestID,
// mirroring findTransBufEntry's linear scan over the small, fixed-size
// pool.
func (p *Pool) FindByRequestID(requestID uint32) (idx int, ok bool) {
	for i := range p.entries {
		if p.entries[i].allocated && p.entries[i].RequestID == requestID {
			return i, true
		}
	}
	return 0, false
}

package embedsched

import "github.com/oss-ssd/embedsched/internal/config"

// Package-level geometry constants, adapted from the teacher's
// internal/constants + root constants.go re-export pattern: the flash
// geometry here plays the role the teacher's DefaultQueueDepth /
// DefaultLogicalBlockSize played for a block device.

// CellMode selects how logical pages map to physical rows within a LUN.
type CellMode int

const (
	// SLCMode addresses only LSB pages; a logical page occupies every
	// other physical page within the block (page 0 maps to physical 0,
	// page N>0 maps to physical 2N-1).
	SLCMode CellMode = iota
	// MLCMode addresses LSB and MSB pages linearly within the LUN.
	MLCMode
)

// Default geometry constants, taken from the Cosmos+ OpenSSD low level
// scheduler header (REQ_QUEUE_DEPTH, LUN base addresses, retry limit).
const (
	DefaultChannels            = 8
	DefaultWaysPerChannel      = 4
	DefaultSectorsPerPage      = 8
	DefaultSectorSize          = 512
	DefaultPagesPerBlock       = 256
	DefaultBlocksPerLun        = 2048
	DefaultRetryLimit          = 3
	DefaultBitErrorThreshold   = 40
	DefaultTransBufEntries     = 16
	DefaultReqQueueDepth       = 256
	DefaultSubReqQueueDepthMul = 2 // SUB_REQ_QUEUE_DEPTH = PagesPerBlock * this

	LUN0BaseAddr = 0x00000000
	LUN1BaseAddr = 0x00200000
)

// Geometry holds the build-time flash configuration for the scheduler.
// It is analogous to the teacher's DeviceParams: a plain struct with a
// DefaultGeometry constructor, consumed once at Engine construction.
type Geometry struct {
	Channels       int
	WaysPerChannel int
	SectorsPerPage int
	PageSize       int // bytes; derived as SectorsPerPage*SectorSize unless overridden
	SectorSize     int
	PagesPerBlock  int
	BlocksPerLun   int // physical blocks per LUN, used for bad-block table sizing
	CellMode       CellMode

	RetryLimit        int
	BitErrorThreshold int

	ReqQueueDepth    int
	SubReqQueueDepth int
	TransBufEntries  int

	MetadataBlockNo uint32 // physical block holding the bad-block table LSB pages
}

// DefaultGeometry returns a Geometry matching the original firmware's
// build-time defaults for an 8-channel x 4-way SLC array.
func DefaultGeometry() Geometry {
	g := Geometry{
		Channels:          DefaultChannels,
		WaysPerChannel:    DefaultWaysPerChannel,
		SectorsPerPage:    DefaultSectorsPerPage,
		SectorSize:        DefaultSectorSize,
		PagesPerBlock:     DefaultPagesPerBlock,
		BlocksPerLun:      DefaultBlocksPerLun,
		CellMode:          SLCMode,
		RetryLimit:        DefaultRetryLimit,
		BitErrorThreshold: DefaultBitErrorThreshold,
		ReqQueueDepth:     DefaultReqQueueDepth,
		TransBufEntries:   DefaultTransBufEntries,
	}
	g.PageSize = g.SectorsPerPage * g.SectorSize
	g.SubReqQueueDepth = g.PagesPerBlock * DefaultSubReqQueueDepthMul
	return g
}

// Dies returns the total number of independently addressable dies.
func (g Geometry) Dies() int {
	return g.Channels * g.WaysPerChannel
}

// PagesPerLun returns the logical page count addressable within one LUN,
// which differs by cell mode: SLC only exposes LSB pages (half density).
func (g Geometry) PagesPerLun() int {
	blocksPerLun := g.BlocksPerLun
	if g.CellMode == SLCMode {
		return blocksPerLun * g.PagesPerBlock
	}
	return blocksPerLun * g.PagesPerBlock * 2
}

// RowAddress computes the physical row address for a logical (LUN, block,
// page) triple, mirroring PushToReqQueueNonBlocking's cell-mode branch in
// the original scheduler.
func (g Geometry) RowAddress(lun int, block, page uint32) uint32 {
	base := uint32(LUN0BaseAddr)
	if lun != 0 {
		base = LUN1BaseAddr
	}

	switch g.CellMode {
	case SLCMode:
		var phyPage uint32
		if page != 0 {
			phyPage = page*2 - 1
		}
		return base + block*uint32(g.PagesPerBlock)*2 + phyPage
	default: // MLCMode
		return base + block*uint32(g.PagesPerBlock) + page
	}
}

// RowAddressFromLPA mirrors the original's full lpa -> phyRowAddr pipeline
// (lun/block/page decomposition folded into one call), given a flat
// logical page number within a die (0-indexed across both LUNs).
func (g Geometry) RowAddressFromLPA(lpa uint32) uint32 {
	pagesPerLun := uint32(g.PagesPerLun())
	lun := int(lpa / pagesPerLun)
	rem := lpa % pagesPerLun
	block := rem / uint32(g.PagesPerBlock)
	page := rem % uint32(g.PagesPerBlock)
	return g.RowAddress(lun, block, page)
}

// BlockFromRow recovers the physical block number for a row address, used
// when a WARNING outcome requires recording the affected block in the
// new-bad-block table. The original divides by LUN_1_BASE_ADDR and
// PAGE_NUM_PER_MLC_BLOCK unconditionally; see the cell-mode Open Question
// in DESIGN.md for why this implementation parameterizes on CellMode
// instead of reproducing that fixed division.
func (g Geometry) BlockFromRow(row uint32) uint32 {
	lun := 0
	offset := row
	if row >= LUN1BaseAddr {
		lun = 1
		offset = row - LUN1BaseAddr
	}
	_ = lun

	switch g.CellMode {
	case SLCMode:
		return offset / (uint32(g.PagesPerBlock) * 2)
	default:
		return offset / uint32(g.PagesPerBlock)
	}
}

// LoadGeometry reads a YAML override file via internal/config and applies
// any non-zero fields on top of a base Geometry (typically
// DefaultGeometry()). Passing an empty path returns base unchanged.
func LoadGeometry(base Geometry, path string) (Geometry, error) {
	if path == "" {
		return base, nil
	}
	override, err := config.LoadGeometryOverride(path)
	if err != nil {
		return base, err
	}

	g := base
	if override.Channels != 0 {
		g.Channels = override.Channels
	}
	if override.WaysPerChannel != 0 {
		g.WaysPerChannel = override.WaysPerChannel
	}
	if override.SectorsPerPage != 0 {
		g.SectorsPerPage = override.SectorsPerPage
	}
	if override.SectorSize != 0 {
		g.SectorSize = override.SectorSize
	}
	if override.PagesPerBlock != 0 {
		g.PagesPerBlock = override.PagesPerBlock
	}
	if override.BlocksPerLun != 0 {
		g.BlocksPerLun = override.BlocksPerLun
	}
	switch override.CellMode {
	case "mlc", "MLC":
		g.CellMode = MLCMode
	case "slc", "SLC":
		g.CellMode = SLCMode
	}
	if override.RetryLimit != 0 {
		g.RetryLimit = override.RetryLimit
	}
	if override.BitErrorThreshold != 0 {
		g.BitErrorThreshold = override.BitErrorThreshold
	}
	if override.TransBufEntries != 0 {
		g.TransBufEntries = override.TransBufEntries
	}

	g.PageSize = g.SectorsPerPage * g.SectorSize
	g.SubReqQueueDepth = g.PagesPerBlock * DefaultSubReqQueueDepthMul
	if g.ReqQueueDepth == 0 {
		g.ReqQueueDepth = DefaultReqQueueDepth
	}
	return g, nil
}

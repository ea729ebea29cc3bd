// Package badblock implements the bad-block update routine (spec.md
// §4.8): a die whose state machine raises WARNING during a scheduler
// sweep has its failing block folded into a persisted per-die table and
// the table's metadata block erased and rewritten, exactly as the
// original firmware's EmptyLowLevelQ tail (grounded on
// original_source/low_level_scheduler.c lines ~2014-2100). The table is
// stored as one byte per physical block in a single LSB page of the
// metadata block (page index 1, see MetadataRow) rather than the original's packed bitmap across a multi-page GC
// staging buffer, since our block counts are small enough to keep the
// whole table in one page; see DESIGN.md.
package badblock

import (
	"fmt"

	"github.com/oss-ssd/embedsched/internal/diestate"
	"github.com/oss-ssd/embedsched/internal/nandq"
)

// Table is one die's persisted bad-block bitmap: Blocks[n] != 0 means
// physical block n has been marked bad.
type Table struct {
	Blocks []byte
}

// NewTable allocates an all-good table for a die with blocksPerDie
// physical blocks.
func NewTable(blocksPerDie int) *Table {
	return &Table{Blocks: make([]byte, blocksPerDie)}
}

// IsBad reports whether block has been marked bad.
func (t *Table) IsBad(block uint32) bool {
	return int(block) < len(t.Blocks) && t.Blocks[block] != 0
}

// MetadataRow computes the row address of a die's bad-block metadata
// page, given its designated metadata block number. The table lives in
// the second LSB page of that block (page index 1), mirroring
// metadataBlockNo*PAGE_NUM_PER_SLC_BLOCK + 1 in the original.
type MetadataRow func(ch, way int) uint32

// Updater drives the per-die bad-block table: folding newly discovered
// bad blocks into the persisted table and rewriting its backing page.
type Updater struct {
	controller  nandq.Controller
	tables      [][]*Table
	metadataRow MetadataRow
}

// NewUpdater builds an updater covering a channels x ways die array.
func NewUpdater(controller nandq.Controller, channels, ways, blocksPerDie int, metadataRow MetadataRow) *Updater {
	tables := make([][]*Table, channels)
	for ch := range tables {
		tables[ch] = make([]*Table, ways)
		for way := range tables[ch] {
			tables[ch][way] = NewTable(blocksPerDie)
		}
	}
	return &Updater{controller: controller, tables: tables, metadataRow: metadataRow}
}

// Table returns the persisted table for (ch, way).
func (u *Updater) Table(ch, way int) *Table { return u.tables[ch][way] }

// Apply folds die's pending NewBadBlocks into its persisted table and
// rewrites the table's metadata page. Callers must only invoke this
// after every in-flight request for (ch, way) has drained (the same
// invariant the original enforces by spinning EmptyReqQ/EmptySubReqQ
// before touching the bad-block table), since the erase below discards
// whatever else might be sitting in that physical block.
func (u *Updater) Apply(ch, way int, die *diestate.Die) error {
	if len(die.NewBadBlocks) == 0 {
		return nil
	}
	table := u.tables[ch][way]
	for _, block := range die.NewBadBlocks {
		if int(block) < len(table.Blocks) {
			table.Blocks[block] = 1
		}
	}

	row := u.metadataRow(ch, way)
	if err := u.runBlocking(ch, way, func() error {
		return u.controller.EraseBlockAsync(ch, way, row)
	}); err != nil {
		return fmt.Errorf("badblock: erase metadata block ch=%d way=%d: %w", ch, way, err)
	}
	if err := u.runBlocking(ch, way, func() error {
		return u.controller.ProgramPageAsync(ch, way, row, table.Blocks, nil)
	}); err != nil {
		return fmt.Errorf("badblock: rewrite metadata page ch=%d way=%d: %w", ch, way, err)
	}

	die.ClearBadBlocks()
	return nil
}

// runBlocking submits an async primitive and spins PollSimple to
// completion, matching EmptyLowLevelQ's own blocking drain loop: the
// bad-block routine is one of the few places this scheduler is allowed
// to block, since it runs outside the normal per-tick cooperative sweep.
func (u *Updater) runBlocking(ch, way int, submit func() error) error {
	if err := submit(); err != nil {
		return err
	}
	for {
		done, failed := u.controller.PollSimple(ch, way)
		if !done {
			continue
		}
		if failed {
			return fmt.Errorf("nand primitive failed")
		}
		return nil
	}
}

package badblock

import (
	"testing"

	"github.com/oss-ssd/embedsched/backend/simnand"
	"github.com/oss-ssd/embedsched/internal/diestate"
)

func fixedMetadataRow(row uint32) MetadataRow {
	return func(ch, way int) uint32 { return row }
}

func TestIsBadOutOfRangeIsFalse(t *testing.T) {
	table := NewTable(4)
	if table.IsBad(10) {
		t.Fatal("a block index beyond the table should never report bad")
	}
}

func TestApplyFoldsNewBadBlocksAndClearsThem(t *testing.T) {
	controller := simnand.New(1, 1, 64, 16, 0)
	updater := NewUpdater(controller, 1, 1, 8, fixedMetadataRow(5))
	die := diestate.New(4, 4, 3)
	die.NewBadBlocks = []uint32{2, 5}

	if err := updater.Apply(0, 0, die); err != nil {
		t.Fatalf("Apply returned %v, want nil", err)
	}

	table := updater.Table(0, 0)
	if !table.IsBad(2) || !table.IsBad(5) {
		t.Fatalf("blocks 2 and 5 should be marked bad, table=%v", table.Blocks)
	}
	if table.IsBad(3) {
		t.Fatal("block 3 was never recorded and should not be bad")
	}
	if len(die.NewBadBlocks) != 0 {
		t.Fatalf("die.NewBadBlocks = %v, want cleared after Apply", die.NewBadBlocks)
	}
}

func TestApplyWithNoPendingBlocksIsNoOp(t *testing.T) {
	controller := simnand.New(1, 1, 64, 16, 0)
	updater := NewUpdater(controller, 1, 1, 8, fixedMetadataRow(5))
	die := diestate.New(4, 4, 3)

	if err := updater.Apply(0, 0, die); err != nil {
		t.Fatalf("Apply with no pending blocks returned %v, want nil", err)
	}
	table := updater.Table(0, 0)
	for i, b := range table.Blocks {
		if b != 0 {
			t.Fatalf("block %d unexpectedly marked bad with nothing pending", i)
		}
	}
}

func TestApplyPersistsTableToMetadataRow(t *testing.T) {
	controller := simnand.New(1, 1, 64, 16, 0)
	metadataRow := fixedMetadataRow(5)
	updater := NewUpdater(controller, 1, 1, 8, metadataRow)
	die := diestate.New(4, 4, 3)
	die.NewBadBlocks = []uint32{3}
	if err := updater.Apply(0, 0, die); err != nil {
		t.Fatalf("Apply returned %v", err)
	}

	// Reading the controller's metadata row back directly should show the
	// rewritten table, which is what a power-cycle reload of the persisted
	// bad-block page would see.
	buf := make([]byte, 8)
	spare := make([]byte, 16)
	if err := controller.ReadPageTriggerAsync(0, 0, 5); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	for {
		done, _ := controller.PollSimple(0, 0)
		if done {
			break
		}
	}
	if err := controller.ReadPageTransferAsync(0, 0, 5, buf, spare); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	for {
		done, _ := controller.PollReadTransfer(0, 0)
		if done {
			break
		}
	}
	if buf[3] == 0 {
		t.Fatalf("persisted metadata page = %v, want block 3 marked bad", buf)
	}
}

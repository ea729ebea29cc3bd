package embedsched

import "testing"

func TestMetricsSnapshotInitiallyZero(t *testing.T) {
	m := NewMetrics()
	snap := m.Snapshot()
	if snap.ReadTriggers != 0 || snap.Programs != 0 || snap.BadBlockUpdates != 0 {
		t.Errorf("expected a fresh Metrics to snapshot as all zero, got %+v", snap)
	}
}

func TestMetricsObserverForwarding(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	o.ObserveNandOp("trigger")
	o.ObserveNandOp("transfer")
	o.ObserveNandOp("transfer")
	o.ObserveNandOp("program")
	o.ObserveNandOp("erase")
	o.ObserveRetryExhausted()
	o.ObserveECCWarning()
	o.ObserveBadBlockMarked()
	o.ObserveCacheProbe(true)
	o.ObserveCacheProbe(false)
	o.ObserveCacheProbe(false)
	o.ObservePageTranslated()
	o.ObserveResultSectorSent()
	o.ObserveConfigProcessed(true)
	o.ObserveConfigProcessed(false)
	o.ObserveBadBlockUpdate()

	snap := m.Snapshot()
	switch {
	case snap.ReadTriggers != 1:
		t.Errorf("ReadTriggers = %d, want 1", snap.ReadTriggers)
	case snap.ReadTransfers != 2:
		t.Errorf("ReadTransfers = %d, want 2", snap.ReadTransfers)
	case snap.Programs != 1:
		t.Errorf("Programs = %d, want 1", snap.Programs)
	case snap.Erases != 1:
		t.Errorf("Erases = %d, want 1", snap.Erases)
	case snap.RetriesExhausted != 1:
		t.Errorf("RetriesExhausted = %d, want 1", snap.RetriesExhausted)
	case snap.ECCWarnings != 1:
		t.Errorf("ECCWarnings = %d, want 1", snap.ECCWarnings)
	case snap.BadBlocksMarked != 1:
		t.Errorf("BadBlocksMarked = %d, want 1", snap.BadBlocksMarked)
	case snap.CacheHits != 1:
		t.Errorf("CacheHits = %d, want 1", snap.CacheHits)
	case snap.CacheMisses != 2:
		t.Errorf("CacheMisses = %d, want 2", snap.CacheMisses)
	case snap.ConfigsAccepted != 1:
		t.Errorf("ConfigsAccepted = %d, want 1", snap.ConfigsAccepted)
	case snap.ConfigsRejected != 1:
		t.Errorf("ConfigsRejected = %d, want 1", snap.ConfigsRejected)
	case snap.BadBlockUpdates != 1:
		t.Errorf("BadBlockUpdates = %d, want 1", snap.BadBlockUpdates)
	}
}

func TestNoOpObserverNeverPanics(t *testing.T) {
	var o Observer = NoOpObserver{}
	o.ObserveNandOp("trigger")
	o.ObserveRetryExhausted()
	o.ObserveECCWarning()
	o.ObserveBadBlockMarked()
	o.ObserveCacheProbe(true)
	o.ObservePageTranslated()
	o.ObserveResultSectorSent()
	o.ObserveConfigProcessed(true)
	o.ObserveBadBlockUpdate()
}

package embedsched

import "sync/atomic"

// Metrics tracks scheduler-level counters, adapted from the teacher's
// atomic-counter Metrics/Observer pattern. Full telemetry reporting is an
// external collaborator (spec.md §1); this only keeps the raw counters
// the scheduler itself is positioned to produce as it runs.
type Metrics struct {
	ReadTriggers  atomic.Uint64
	ReadTransfers atomic.Uint64
	Programs      atomic.Uint64
	Erases        atomic.Uint64

	RetriesExhausted atomic.Uint64
	ECCWarnings      atomic.Uint64
	BadBlocksMarked  atomic.Uint64

	CacheHits        atomic.Uint64
	CacheMisses      atomic.Uint64
	PagesTranslated  atomic.Uint64
	ResultSectorsTx  atomic.Uint64
	ConfigsAccepted  atomic.Uint64
	ConfigsRejected  atomic.Uint64
	BadBlockUpdates  atomic.Uint64
}

func NewMetrics() *Metrics { return &Metrics{} }

// Observer allows pluggable metrics collection, mirroring the teacher's
// Observer interface so a caller of Engine can wire a Prometheus/stats
// sink without the scheduler knowing about it.
type Observer interface {
	ObserveNandOp(op string)
	ObserveRetryExhausted()
	ObserveECCWarning()
	ObserveBadBlockMarked()
	ObserveCacheProbe(hit bool)
	ObservePageTranslated()
	ObserveResultSectorSent()
	ObserveConfigProcessed(accepted bool)
	ObserveBadBlockUpdate()
}

// NoOpObserver discards everything. Engine built without an explicit
// Observer does not use it: it records into its own Metrics through a
// MetricsObserver instead.
type NoOpObserver struct{}

func (NoOpObserver) ObserveNandOp(string)          {}
func (NoOpObserver) ObserveRetryExhausted()         {}
func (NoOpObserver) ObserveECCWarning()             {}
func (NoOpObserver) ObserveBadBlockMarked()         {}
func (NoOpObserver) ObserveCacheProbe(bool)         {}
func (NoOpObserver) ObservePageTranslated()         {}
func (NoOpObserver) ObserveResultSectorSent()       {}
func (NoOpObserver) ObserveConfigProcessed(bool)    {}
func (NoOpObserver) ObserveBadBlockUpdate()         {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	m *Metrics
}

func NewMetricsObserver(m *Metrics) *MetricsObserver { return &MetricsObserver{m: m} }

func (o *MetricsObserver) ObserveNandOp(op string) {
	switch op {
	case "trigger":
		o.m.ReadTriggers.Add(1)
	case "transfer":
		o.m.ReadTransfers.Add(1)
	case "program":
		o.m.Programs.Add(1)
	case "erase":
		o.m.Erases.Add(1)
	}
}

func (o *MetricsObserver) ObserveRetryExhausted()      { o.m.RetriesExhausted.Add(1) }
func (o *MetricsObserver) ObserveECCWarning()           { o.m.ECCWarnings.Add(1) }
func (o *MetricsObserver) ObserveBadBlockMarked()       { o.m.BadBlocksMarked.Add(1) }
func (o *MetricsObserver) ObservePageTranslated()       { o.m.PagesTranslated.Add(1) }
func (o *MetricsObserver) ObserveResultSectorSent()     { o.m.ResultSectorsTx.Add(1) }
func (o *MetricsObserver) ObserveBadBlockUpdate()       { o.m.BadBlockUpdates.Add(1) }

func (o *MetricsObserver) ObserveCacheProbe(hit bool) {
	if hit {
		o.m.CacheHits.Add(1)
	} else {
		o.m.CacheMisses.Add(1)
	}
}

func (o *MetricsObserver) ObserveConfigProcessed(accepted bool) {
	if accepted {
		o.m.ConfigsAccepted.Add(1)
	} else {
		o.m.ConfigsRejected.Add(1)
	}
}

// Snapshot is a point-in-time copy of Metrics, safe to print or export.
type Snapshot struct {
	ReadTriggers, ReadTransfers, Programs, Erases                   uint64
	RetriesExhausted, ECCWarnings, BadBlocksMarked                  uint64
	CacheHits, CacheMisses, PagesTranslated, ResultSectorsTx        uint64
	ConfigsAccepted, ConfigsRejected, BadBlockUpdates                uint64
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		ReadTriggers:     m.ReadTriggers.Load(),
		ReadTransfers:    m.ReadTransfers.Load(),
		Programs:         m.Programs.Load(),
		Erases:           m.Erases.Load(),
		RetriesExhausted: m.RetriesExhausted.Load(),
		ECCWarnings:      m.ECCWarnings.Load(),
		BadBlocksMarked:  m.BadBlocksMarked.Load(),
		CacheHits:        m.CacheHits.Load(),
		CacheMisses:      m.CacheMisses.Load(),
		PagesTranslated:  m.PagesTranslated.Load(),
		ResultSectorsTx:  m.ResultSectorsTx.Load(),
		ConfigsAccepted:  m.ConfigsAccepted.Load(),
		ConfigsRejected:  m.ConfigsRejected.Load(),
		BadBlockUpdates:  m.BadBlockUpdates.Load(),
	}
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)

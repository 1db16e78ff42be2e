package perftrampoline

import (
	"sync/atomic"
	"time"
)

// Metrics tracks operational statistics for the perf trampoline subsystem.
type Metrics struct {
	// Arena and slot lifecycle.
	ArenasCreated      atomic.Uint64 // Arenas mmap'd
	SlotsAcquired      atomic.Uint64 // Trampoline slots handed out
	AllocationFailures atomic.Uint64 // mmap/mprotect failures

	// Compilation and dispatch.
	TrampolinesCompiled atomic.Uint64 // Code objects given a fresh trampoline
	TrampolinesReused   atomic.Uint64 // Dispatches served from the memoized slot
	EvaluationFallbacks atomic.Uint64 // Dispatches that ran the default evaluator directly

	// Sink I/O.
	SinkWrites      atomic.Uint64 // Successful sink notifications
	SinkWriteErrors atomic.Uint64 // Failed sink notifications

	// Fork continuity.
	ForksHandled atomic.Uint64 // AfterForkChild invocations

	// Lifecycle.
	StartTime atomic.Int64 // Subsystem init timestamp (UnixNano)
	StopTime  atomic.Int64 // Subsystem fini timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) RecordArenaCreated() {
	m.ArenasCreated.Add(1)
}

func (m *Metrics) RecordSlotAcquired() {
	m.SlotsAcquired.Add(1)
}

func (m *Metrics) RecordAllocationFailure() {
	m.AllocationFailures.Add(1)
}

func (m *Metrics) RecordTrampolineCompiled() {
	m.TrampolinesCompiled.Add(1)
}

func (m *Metrics) RecordTrampolineReused() {
	m.TrampolinesReused.Add(1)
}

func (m *Metrics) RecordEvaluationFallback() {
	m.EvaluationFallbacks.Add(1)
}

func (m *Metrics) RecordSinkWrite(success bool) {
	if success {
		m.SinkWrites.Add(1)
	} else {
		m.SinkWriteErrors.Add(1)
	}
}

func (m *Metrics) RecordForkHandled() {
	m.ForksHandled.Add(1)
}

// Stop marks the subsystem as finalized.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics, safe to read without
// further synchronization.
type MetricsSnapshot struct {
	ArenasCreated       uint64
	SlotsAcquired       uint64
	AllocationFailures  uint64
	TrampolinesCompiled uint64
	TrampolinesReused   uint64
	EvaluationFallbacks uint64
	SinkWrites          uint64
	SinkWriteErrors     uint64
	ForksHandled        uint64
	UptimeNs            uint64

	// Computed.
	TotalDispatches uint64
	SinkErrorRate   float64 // Percentage of sink writes that failed
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ArenasCreated:       m.ArenasCreated.Load(),
		SlotsAcquired:       m.SlotsAcquired.Load(),
		AllocationFailures:  m.AllocationFailures.Load(),
		TrampolinesCompiled: m.TrampolinesCompiled.Load(),
		TrampolinesReused:   m.TrampolinesReused.Load(),
		EvaluationFallbacks: m.EvaluationFallbacks.Load(),
		SinkWrites:          m.SinkWrites.Load(),
		SinkWriteErrors:     m.SinkWriteErrors.Load(),
		ForksHandled:        m.ForksHandled.Load(),
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	snap.TotalDispatches = snap.TrampolinesCompiled + snap.TrampolinesReused + snap.EvaluationFallbacks

	totalSinkOps := snap.SinkWrites + snap.SinkWriteErrors
	if totalSinkOps > 0 {
		snap.SinkErrorRate = float64(snap.SinkWriteErrors) / float64(totalSinkOps) * 100.0
	}

	return snap
}

// Reset resets all metrics counters. Useful for testing.
func (m *Metrics) Reset() {
	m.ArenasCreated.Store(0)
	m.SlotsAcquired.Store(0)
	m.AllocationFailures.Store(0)
	m.TrampolinesCompiled.Store(0)
	m.TrampolinesReused.Store(0)
	m.EvaluationFallbacks.Store(0)
	m.SinkWrites.Store(0)
	m.SinkWriteErrors.Store(0)
	m.ForksHandled.Store(0)
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection, decoupling the dispatch core
// from the concrete Metrics type.
type Observer interface {
	ObserveArenaCreated()
	ObserveSlotAcquired()
	ObserveAllocationFailure()
	ObserveTrampolineCompiled()
	ObserveTrampolineReused()
	ObserveEvaluationFallback()
	ObserveSinkWrite(success bool)
	ObserveForkHandled()
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveArenaCreated()       {}
func (NoOpObserver) ObserveSlotAcquired()       {}
func (NoOpObserver) ObserveAllocationFailure()  {}
func (NoOpObserver) ObserveTrampolineCompiled() {}
func (NoOpObserver) ObserveTrampolineReused()   {}
func (NoOpObserver) ObserveEvaluationFallback() {}
func (NoOpObserver) ObserveSinkWrite(bool)      {}
func (NoOpObserver) ObserveForkHandled()        {}

// MetricsObserver implements Observer by recording to an underlying Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveArenaCreated()       { o.metrics.RecordArenaCreated() }
func (o *MetricsObserver) ObserveSlotAcquired()       { o.metrics.RecordSlotAcquired() }
func (o *MetricsObserver) ObserveAllocationFailure()  { o.metrics.RecordAllocationFailure() }
func (o *MetricsObserver) ObserveTrampolineCompiled() { o.metrics.RecordTrampolineCompiled() }
func (o *MetricsObserver) ObserveTrampolineReused()   { o.metrics.RecordTrampolineReused() }
func (o *MetricsObserver) ObserveEvaluationFallback() { o.metrics.RecordEvaluationFallback() }
func (o *MetricsObserver) ObserveSinkWrite(success bool) {
	o.metrics.RecordSinkWrite(success)
}
func (o *MetricsObserver) ObserveForkHandled() { o.metrics.RecordForkHandled() }

// Compile-time interface checks.
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)

package perftrampoline

import (
	"testing"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	// Test initial state
	snap := m.Snapshot()
	if snap.TotalDispatches != 0 {
		t.Errorf("Expected 0 initial dispatches, got %d", snap.TotalDispatches)
	}

	// Record some activity
	m.RecordArenaCreated()
	m.RecordSlotAcquired()
	m.RecordTrampolineCompiled()
	m.RecordTrampolineReused()
	m.RecordTrampolineReused()
	m.RecordEvaluationFallback()
	m.RecordSinkWrite(true)
	m.RecordSinkWrite(false)

	snap = m.Snapshot()

	if snap.ArenasCreated != 1 {
		t.Errorf("Expected 1 arena created, got %d", snap.ArenasCreated)
	}
	if snap.SlotsAcquired != 1 {
		t.Errorf("Expected 1 slot acquired, got %d", snap.SlotsAcquired)
	}
	if snap.TrampolinesCompiled != 1 {
		t.Errorf("Expected 1 trampoline compiled, got %d", snap.TrampolinesCompiled)
	}
	if snap.TrampolinesReused != 2 {
		t.Errorf("Expected 2 trampolines reused, got %d", snap.TrampolinesReused)
	}
	if snap.TotalDispatches != 4 {
		t.Errorf("Expected 4 total dispatches, got %d", snap.TotalDispatches)
	}

	// Check sink error rate: 1 error out of 2 writes
	if snap.SinkWrites != 1 || snap.SinkWriteErrors != 1 {
		t.Errorf("Expected 1 write and 1 error, got %d and %d", snap.SinkWrites, snap.SinkWriteErrors)
	}
	if snap.SinkErrorRate < 49.9 || snap.SinkErrorRate > 50.1 {
		t.Errorf("Expected sink error rate ~50%%, got %.1f%%", snap.SinkErrorRate)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordTrampolineCompiled()
	m.RecordAllocationFailure()
	m.RecordForkHandled()

	m.Reset()
	snap := m.Snapshot()

	if snap.TrampolinesCompiled != 0 {
		t.Errorf("Expected 0 trampolines compiled after reset, got %d", snap.TrampolinesCompiled)
	}
	if snap.AllocationFailures != 0 {
		t.Errorf("Expected 0 allocation failures after reset, got %d", snap.AllocationFailures)
	}
	if snap.ForksHandled != 0 {
		t.Errorf("Expected 0 forks handled after reset, got %d", snap.ForksHandled)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()
	m.Stop()
	stopped := m.Snapshot().UptimeNs
	later := m.Snapshot().UptimeNs
	if stopped != later {
		t.Errorf("Expected uptime frozen after Stop, got %d then %d", stopped, later)
	}
}

func TestObserverWiring(t *testing.T) {
	m := NewMetrics()
	var o Observer = NewMetricsObserver(m)

	o.ObserveSlotAcquired()
	o.ObserveTrampolineCompiled()
	o.ObserveSinkWrite(true)

	snap := m.Snapshot()
	if snap.SlotsAcquired != 1 || snap.TrampolinesCompiled != 1 || snap.SinkWrites != 1 {
		t.Errorf("Observer did not record to the underlying metrics: %+v", snap)
	}

	// NoOpObserver must satisfy the interface and do nothing.
	var noop Observer = NoOpObserver{}
	noop.ObserveSlotAcquired()
	if m.Snapshot().SlotsAcquired != 1 {
		t.Error("NoOpObserver must not mutate any metrics instance")
	}
}

package lifecycle

import (
	"runtime"
	"time"

	"github.com/aaronleebrooks/foodtruck/diag"
)

// EventPerformanceAlert is the bus event emitted when a tracked operation
// trips a latency or memory heuristic. Alerts are warnings, not failures;
// the tracked operation's result is returned to the caller unchanged.
const EventPerformanceAlert = "performance.alert"

// Alert reasons carried in the performance.alert payload
const (
	AlertSlowOperation = "slow_operation"
	AlertMemoryDelta   = "memory_delta"
	AlertSuspectedLeak = "suspected_leak"
)

// DefaultSlowOpThreshold is one scheduler-tick budget: an operation that
// takes longer than this stalls the frame it runs in.
const DefaultSlowOpThreshold = 16 * time.Millisecond

// DefaultMemDeltaThreshold flags operations that grow the heap by more
// than this many bytes in one call.
const DefaultMemDeltaThreshold uint64 = 10 << 20

// DefaultOperationWindow bounds the per-operation rolling sample window
const DefaultOperationWindow = 64

// WithSlowOpThreshold sets the single-operation latency budget
func WithSlowOpThreshold(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.slowOp = d
		}
	}
}

// WithMemDeltaThreshold sets the per-operation heap growth threshold
func WithMemDeltaThreshold(bytes uint64) Option {
	return func(m *Manager) {
		if bytes > 0 {
			m.memDelta = bytes
		}
	}
}

// WithOperationWindow sets the per-operation rolling window size
func WithOperationWindow(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.windowSize = n
		}
	}
}

// perfCounters tracks a component's instrumented operations. Guarded by
// the manager's mutex.
type perfCounters struct {
	operations int64
	total      time.Duration
	peakHeap   uint64
	windowSize int
	perOp      map[string]*opStats
}

type opStats struct {
	count  int64
	total  time.Duration
	max    time.Duration
	recent []time.Duration
}

func newPerfCounters(windowSize int) perfCounters {
	return perfCounters{
		windowSize: windowSize,
		perOp:      make(map[string]*opStats),
	}
}

func (p *perfCounters) observe(operation string, d time.Duration) {
	p.operations++
	p.total += d

	stats := p.perOp[operation]
	if stats == nil {
		stats = &opStats{}
		p.perOp[operation] = stats
	}
	stats.count++
	stats.total += d
	if d > stats.max {
		stats.max = d
	}
	stats.recent = append(stats.recent, d)
	if len(stats.recent) > p.windowSize {
		stats.recent = stats.recent[len(stats.recent)-p.windowSize:]
	}
}

func (p *perfCounters) snapshot() PerfSnapshot {
	perOp := make(map[string]OperationStats, len(p.perOp))
	for name, stats := range p.perOp {
		recent := make([]time.Duration, len(stats.recent))
		copy(recent, stats.recent)
		perOp[name] = OperationStats{
			Count:           stats.count,
			Total:           stats.total,
			Max:             stats.max,
			RecentDurations: recent,
		}
	}
	return PerfSnapshot{
		Operations:    p.operations,
		TotalDuration: p.total,
		PeakHeapBytes: p.peakHeap,
		PerOperation:  perOp,
	}
}

// TrackOperation executes fn under instrumentation: wall-clock duration and
// a coarse heap sample before and after are recorded into the component's
// counters and the operation's rolling window. A performance.alert event is
// emitted when the operation exceeds the latency budget, grows the heap
// past the delta threshold, or pushes the heap past 1.5x the observed peak.
// fn's error is returned unchanged.
func (m *Manager) TrackOperation(name, operation string, fn func() error) error {
	m.mu.Lock()
	rec, ok := m.components[name]
	m.mu.Unlock()
	if !ok {
		// Never fail a caller over instrumentation: run uninstrumented
		m.sink.LogWarning("LC_UNKNOWN_COMPONENT", "track_operation on unknown component "+name)
		return fn()
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	heapBefore := ms.HeapAlloc

	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	runtime.ReadMemStats(&ms)
	heapAfter := ms.HeapAlloc

	var alerts []string
	if elapsed > m.slowOp {
		alerts = append(alerts, AlertSlowOperation)
	}
	if heapAfter > heapBefore && heapAfter-heapBefore > m.memDelta {
		alerts = append(alerts, AlertMemoryDelta)
	}

	m.mu.Lock()
	if rec.perf.peakHeap > 0 && heapAfter > rec.perf.peakHeap+rec.perf.peakHeap/2 {
		alerts = append(alerts, AlertSuspectedLeak)
	}
	if heapAfter > rec.perf.peakHeap {
		rec.perf.peakHeap = heapAfter
	}
	rec.perf.observe(operation, elapsed)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ObserveOperation(name, operation, elapsed)
	}

	for _, reason := range alerts {
		m.raiseAlert(name, operation, reason, elapsed, heapBefore, heapAfter)
	}
	return err
}

// TrackResult is TrackOperation for operations that return a value
func TrackResult[T any](m *Manager, name, operation string, fn func() (T, error)) (T, error) {
	var result T
	err := m.TrackOperation(name, operation, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}

func (m *Manager) raiseAlert(name, operation, reason string, elapsed time.Duration, heapBefore, heapAfter uint64) {
	m.sink.For(name, diag.CategoryPerformance).LogWarning("PERF_ALERT",
		reason+" in "+name+"."+operation)
	if m.metrics != nil {
		m.metrics.RecordAlert(name, reason)
	}
	if m.bus == nil {
		return
	}
	// Queued so alert listeners run on the next tick, not inside the
	// tracked operation's call stack
	_ = m.bus.EmitQueued(EventPerformanceAlert, map[string]any{
		"component":   name,
		"operation":   operation,
		"reason":      reason,
		"duration_ms": float64(elapsed) / float64(time.Millisecond),
		"heap_before": heapBefore,
		"heap_after":  heapAfter,
	})
}

package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all runtime-level metrics (not game-balance specific)
type Metrics struct {
	// Lifecycle metrics
	ComponentState   *prometheus.GaugeVec
	StateTransitions *prometheus.CounterVec

	// Event bus metrics
	EventsEmitted   *prometheus.CounterVec
	EventsProcessed prometheus.Counter
	EventQueueDepth prometheus.Gauge
	ActiveListeners prometheus.Gauge

	// Instrumentation metrics
	OperationDuration *prometheus.HistogramVec
	PerformanceAlerts *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all runtime metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ComponentState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "foodtruck",
				Subsystem: "lifecycle",
				Name:      "component_state",
				Help: "Component lifecycle state " +
					"(0=uninitialized, 1=initializing, 2=ready, 3=paused, 4=error, 5=shutdown)",
			},
			[]string{"component"},
		),

		StateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "foodtruck",
				Subsystem: "lifecycle",
				Name:      "transitions_total",
				Help:      "Total number of component state transitions",
			},
			[]string{"component", "to"},
		),

		EventsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "foodtruck",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Total number of events emitted",
			},
			[]string{"mode"},
		),

		EventsProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "foodtruck",
				Subsystem: "events",
				Name:      "processed_total",
				Help:      "Total number of events dispatched to listeners",
			},
		),

		EventQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "foodtruck",
				Subsystem: "events",
				Name:      "queue_depth",
				Help:      "Number of events waiting for the next tick drain",
			},
		),

		ActiveListeners: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "foodtruck",
				Subsystem: "events",
				Name:      "active_listeners",
				Help:      "Number of registered event listeners",
			},
		),

		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "foodtruck",
				Subsystem: "operations",
				Name:      "duration_seconds",
				Help:      "Tracked operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"component", "operation"},
		),

		PerformanceAlerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "foodtruck",
				Subsystem: "operations",
				Name:      "performance_alerts_total",
				Help:      "Total number of performance alerts raised",
			},
			[]string{"component", "reason"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "foodtruck",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of runtime errors recorded",
			},
			[]string{"category", "code"},
		),
	}
}

// RecordComponentState records a component's current lifecycle state
func (m *Metrics) RecordComponentState(component string, state int) {
	m.ComponentState.WithLabelValues(component).Set(float64(state))
}

// RecordTransition records a state transition for a component
func (m *Metrics) RecordTransition(component, to string) {
	m.StateTransitions.WithLabelValues(component, to).Inc()
}

// RecordEventEmitted records an event emission ("immediate" or "queued")
func (m *Metrics) RecordEventEmitted(mode string) {
	m.EventsEmitted.WithLabelValues(mode).Inc()
}

// RecordEventsProcessed records events dispatched to listeners
func (m *Metrics) RecordEventsProcessed(count int) {
	m.EventsProcessed.Add(float64(count))
}

// SetQueueDepth records the current deferred-event queue depth
func (m *Metrics) SetQueueDepth(depth int) {
	m.EventQueueDepth.Set(float64(depth))
}

// SetActiveListeners records the current listener count
func (m *Metrics) SetActiveListeners(count int) {
	m.ActiveListeners.Set(float64(count))
}

// ObserveOperation records a tracked operation's duration
func (m *Metrics) ObserveOperation(component, operation string, d time.Duration) {
	m.OperationDuration.WithLabelValues(component, operation).Observe(d.Seconds())
}

// RecordAlert records a performance alert
func (m *Metrics) RecordAlert(component, reason string) {
	m.PerformanceAlerts.WithLabelValues(component, reason).Inc()
}

// RecordError records a runtime error by category and code
func (m *Metrics) RecordError(category, code string) {
	m.ErrorsTotal.WithLabelValues(category, code).Inc()
}

// Package event provides the publish-subscribe bus that decouples the
// game's producers (economy, production, staff, locations, research) from
// its consumers (UI, persistence, analytics).
//
// Listeners are registered per event name and invoked in registration
// order. Emission is either immediate (listeners run before Emit returns)
// or queued (the event is appended to a FIFO drained once per scheduler
// tick by ProcessQueue). Events queued by a listener during a drain are
// delivered on the next tick, which caps per-tick work and rules out
// unbounded recursion.
//
// Listeners receive a snapshot of the payload taken at emission time; the
// producer's map is never shared.
package event

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aaronleebrooks/foodtruck/diag"
	"github.com/aaronleebrooks/foodtruck/errors"
	"github.com/aaronleebrooks/foodtruck/metric"
)

// Event is an immutable named message delivered to listeners
type Event struct {
	Name      string
	Payload   map[string]any
	Timestamp time.Time
	Queued    bool
}

// Callback is invoked for every matching emission. Each invocation gets
// its own copy of the payload, so a callback that mutates it cannot affect
// other listeners or the recorded history.
type Callback func(Event)

// ConnectionID identifies one listener registration. IDs are unique for
// the lifetime of the process and never reused after disconnection.
type ConnectionID uint64

// Stats is a snapshot of bus activity
type Stats struct {
	EventsEmitted   uint64 `json:"events_emitted"`
	EventsProcessed uint64 `json:"events_processed"`
	ActiveListeners int    `json:"active_listeners"`
	QueueDepth      int    `json:"queue_depth"`
}

type registration struct {
	id        ConnectionID
	eventName string
	callback  Callback
	connected bool
}

// Bus is the process-wide event registry. A single instance is constructed
// at startup and injected into subsystems; there is no package-level state.
type Bus struct {
	mu        sync.Mutex
	listeners map[string][]*registration
	byID      map[ConnectionID]*registration
	queue     []Event
	history   []Event

	nextID     atomic.Uint64
	emitted    atomic.Uint64
	processed  atomic.Uint64
	debug      atomic.Bool
	historyCap int

	sink    *diag.Sink
	metrics *metric.Metrics
}

// Option configures a Bus
type Option func(*Bus)

// WithSink sets the diagnostics sink the bus reports into
func WithSink(sink *diag.Sink) Option {
	return func(b *Bus) {
		if sink != nil {
			b.sink = sink.For("event-bus", diag.CategoryEvent)
		}
	}
}

// WithMetrics attaches runtime metrics to the bus
func WithMetrics(m *metric.Metrics) Option {
	return func(b *Bus) {
		b.metrics = m
	}
}

// WithHistory enables event history with the given ring capacity
func WithHistory(capacity int) Option {
	return func(b *Bus) {
		if capacity > 0 {
			b.historyCap = capacity
		}
	}
}

// WithDebug enables per-emission diagnostic tracing
func WithDebug(enabled bool) Option {
	return func(b *Bus) {
		b.debug.Store(enabled)
	}
}

// NewBus creates an event bus
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		listeners: make(map[string][]*registration),
		byID:      make(map[ConnectionID]*registration),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.sink == nil {
		b.sink = diag.New().For("event-bus", diag.CategoryEvent)
	}
	return b
}

// SetDebug toggles diagnostic tracing of emissions. Tracing adds
// observability only; delivery order and semantics are unchanged.
func (b *Bus) SetDebug(enabled bool) {
	b.debug.Store(enabled)
}

// Register adds a listener for the named event and returns its connection
// id. Multiple listeners on the same name are all invoked, in registration
// order. An empty event name or nil callback is rejected.
func (b *Bus) Register(eventName string, callback Callback) (ConnectionID, error) {
	if eventName == "" {
		b.sink.LogWarning("EVT_INVALID_NAME", "register rejected: empty event name")
		return 0, errors.WrapInvalid(errors.ErrInvalidEventName, "Bus", "Register", "event name validation")
	}
	if callback == nil {
		b.sink.LogWarning("EVT_NIL_CALLBACK", "register rejected: nil callback for "+eventName)
		return 0, errors.WrapInvalid(errors.ErrNilCallback, "Bus", "Register", "callback validation")
	}

	reg := &registration{
		id:        ConnectionID(b.nextID.Add(1)),
		eventName: eventName,
		callback:  callback,
		connected: true,
	}

	b.mu.Lock()
	b.listeners[eventName] = append(b.listeners[eventName], reg)
	b.byID[reg.id] = reg
	total := len(b.byID)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.SetActiveListeners(total)
	}
	return reg.id, nil
}

// Unregister removes one listener registration. It returns false when the
// id is unknown or already disconnected.
func (b *Bus) Unregister(id ConnectionID) bool {
	b.mu.Lock()
	reg, ok := b.byID[id]
	if ok {
		reg.connected = false
		delete(b.byID, id)
		b.removeLocked(reg)
	}
	total := len(b.byID)
	b.mu.Unlock()

	if !ok {
		b.sink.LogWarning("EVT_UNKNOWN_CONNECTION", "unregister: unknown connection id")
		return false
	}
	if b.metrics != nil {
		b.metrics.SetActiveListeners(total)
	}
	return true
}

// UnregisterAll removes every listener for the named event and returns the
// number removed.
func (b *Bus) UnregisterAll(eventName string) int {
	b.mu.Lock()
	regs := b.listeners[eventName]
	for _, reg := range regs {
		reg.connected = false
		delete(b.byID, reg.id)
	}
	delete(b.listeners, eventName)
	removed := len(regs)
	total := len(b.byID)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.SetActiveListeners(total)
	}
	return removed
}

// Clear removes every registration. Used during subsystem teardown to
// avoid dangling callbacks into destroyed objects.
func (b *Bus) Clear() int {
	b.mu.Lock()
	removed := len(b.byID)
	for _, reg := range b.byID {
		reg.connected = false
	}
	b.listeners = make(map[string][]*registration)
	b.byID = make(map[ConnectionID]*registration)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.SetActiveListeners(0)
	}
	return removed
}

// Emit synchronously invokes every listener registered for the named event,
// in registration order, with a snapshot of the payload.
func (b *Bus) Emit(eventName string, payload map[string]any) error {
	ev, err := b.newEvent(eventName, payload, false)
	if err != nil {
		return err
	}

	b.emitted.Add(1)
	if b.metrics != nil {
		b.metrics.RecordEventEmitted("immediate")
	}
	b.recordHistory(ev)
	b.trace(ev)
	b.dispatch(ev)
	return nil
}

// EmitQueued appends the event to the FIFO queue drained by the next
// ProcessQueue call.
func (b *Bus) EmitQueued(eventName string, payload map[string]any) error {
	ev, err := b.newEvent(eventName, payload, true)
	if err != nil {
		return err
	}

	b.emitted.Add(1)
	b.recordHistory(ev)
	b.trace(ev)

	b.mu.Lock()
	b.queue = append(b.queue, ev)
	depth := len(b.queue)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.RecordEventEmitted("queued")
		b.metrics.SetQueueDepth(depth)
	}
	return nil
}

// ProcessQueue drains the deferred queue in arrival order, dispatching each
// event exactly as Emit would, and returns the number dispatched. Events
// queued by listeners during the drain land in the next tick's batch.
func (b *Bus) ProcessQueue() int {
	b.mu.Lock()
	batch := b.queue
	b.queue = nil
	b.mu.Unlock()

	for _, ev := range batch {
		b.dispatch(ev)
	}

	if b.metrics != nil {
		b.mu.Lock()
		depth := len(b.queue)
		b.mu.Unlock()
		b.metrics.SetQueueDepth(depth)
	}
	return len(batch)
}

// History returns up to limit of the most recent event records, newest
// last. It returns nil when history is disabled.
func (b *Bus) History(limit int) []Event {
	if b.historyCap == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	out := make([]Event, limit)
	for i, ev := range b.history[len(b.history)-limit:] {
		ev.Payload = maps.Clone(ev.Payload)
		out[i] = ev
	}
	return out
}

// Stats returns a snapshot of bus activity
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	listeners := len(b.byID)
	depth := len(b.queue)
	b.mu.Unlock()

	return Stats{
		EventsEmitted:   b.emitted.Load(),
		EventsProcessed: b.processed.Load(),
		ActiveListeners: listeners,
		QueueDepth:      depth,
	}
}

func (b *Bus) newEvent(eventName string, payload map[string]any, queued bool) (Event, error) {
	if eventName == "" {
		b.sink.LogWarning("EVT_INVALID_NAME", "emit rejected: empty event name")
		return Event{}, errors.WrapInvalid(errors.ErrInvalidEventName, "Bus", "Emit", "event name validation")
	}
	return Event{
		Name:      eventName,
		Payload:   maps.Clone(payload),
		Timestamp: time.Now(),
		Queued:    queued,
	}, nil
}

// dispatch invokes every connected listener for the event in registration
// order. The listener slice is copied so callbacks may register or
// unregister without deadlocking; connectivity is re-checked per listener
// so an unregister performed mid-dispatch suppresses later delivery.
func (b *Bus) dispatch(ev Event) {
	b.mu.Lock()
	regs := make([]*registration, len(b.listeners[ev.Name]))
	copy(regs, b.listeners[ev.Name])
	b.mu.Unlock()

	for _, reg := range regs {
		b.mu.Lock()
		connected := reg.connected
		b.mu.Unlock()
		if !connected {
			continue
		}
		// Per-listener payload copy keeps the emitted record immutable
		// even when a callback writes to its view.
		view := ev
		view.Payload = maps.Clone(ev.Payload)
		b.invoke(reg, view)
	}

	b.processed.Add(1)
	if b.metrics != nil {
		b.metrics.RecordEventsProcessed(1)
	}
}

// invoke runs one callback, containing panics so a faulty listener cannot
// take down the scheduler tick.
func (b *Bus) invoke(reg *registration, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.sink.LogError("EVT_LISTENER_PANIC", "listener panicked during dispatch", map[string]any{
				"event":      ev.Name,
				"connection": uint64(reg.id),
				"panic":      r,
			})
		}
	}()
	reg.callback(ev)
}

// removeLocked removes a registration from its event's ordered slice.
// Caller holds b.mu.
func (b *Bus) removeLocked(reg *registration) {
	regs := b.listeners[reg.eventName]
	for i, r := range regs {
		if r.id == reg.id {
			b.listeners[reg.eventName] = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	if len(b.listeners[reg.eventName]) == 0 {
		delete(b.listeners, reg.eventName)
	}
}

func (b *Bus) recordHistory(ev Event) {
	if b.historyCap == 0 {
		return
	}
	b.mu.Lock()
	b.history = append(b.history, ev)
	if len(b.history) > b.historyCap {
		b.history = b.history[len(b.history)-b.historyCap:]
	}
	b.mu.Unlock()
}

func (b *Bus) trace(ev Event) {
	if !b.debug.Load() {
		return
	}
	mode := "immediate"
	if ev.Queued {
		mode = "queued"
	}
	b.sink.LogInfo("EVT_TRACE", "emit "+ev.Name+" ("+mode+")")
}

package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aaronleebrooks/foodtruck/diag"
	"github.com/aaronleebrooks/foodtruck/errors"
	"github.com/aaronleebrooks/foodtruck/event"
	"github.com/aaronleebrooks/foodtruck/metric"
	"github.com/aaronleebrooks/foodtruck/pkg/retry"
)

// DefaultWaitBudget bounds how long a component may sit in INITIALIZING
// waiting for dependencies before it is failed.
const DefaultWaitBudget = 10 * time.Second

// DefaultErrorRingCapacity bounds each component's error history
const DefaultErrorRingCapacity = 32

// record tracks one registered component. All fields are guarded by the
// manager's mutex; hooks are the only thing invoked outside it.
type record struct {
	name       string
	hooks      Hooks
	state      State
	prevState  State
	since      time.Time
	regOrder   int
	deps       map[string]bool     // declared dependency -> observed ready
	dependents map[string]struct{} // reverse edges

	deadline time.Time // dependency-wait deadline while INITIALIZING

	retryCfg     *retry.Config
	retryAttempt int
	nextRetry    time.Time

	perf perfCounters

	errCount int
	errRing  []ErrorRecord
}

func (r *record) depsReady() bool {
	for _, ready := range r.deps {
		if !ready {
			return false
		}
	}
	return true
}

// Registration declares a component to the manager
type Registration struct {
	Name         string
	Hooks        Hooks
	Dependencies []string
	// Retry, when set, re-attempts a failed initialization with bounded
	// exponential backoff on subsequent ticks. Nil means ERROR is sticky
	// until the owner calls Initialize again.
	Retry *retry.Config
}

// Manager owns the component records and drives their state machines
type Manager struct {
	mu         sync.Mutex
	components map[string]*record
	nextOrder  int

	bus     *event.Bus
	sink    *diag.Sink
	metrics *metric.Metrics

	waitBudget time.Duration
	ringCap    int
	windowSize int
	slowOp     time.Duration
	memDelta   uint64
}

// Option configures a Manager
type Option func(*Manager)

// WithBus attaches the event bus performance alerts are emitted on
func WithBus(bus *event.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithSink sets the diagnostics sink
func WithSink(sink *diag.Sink) Option {
	return func(m *Manager) {
		if sink != nil {
			m.sink = sink.For("lifecycle", diag.CategoryLifecycle)
		}
	}
}

// WithMetrics attaches runtime metrics
func WithMetrics(metrics *metric.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithWaitBudget sets the wall-clock dependency-wait budget
func WithWaitBudget(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.waitBudget = d
		}
	}
}

// WithErrorRingCapacity sets each component's error-history capacity
func WithErrorRingCapacity(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.ringCap = n
		}
	}
}

// NewManager creates a component lifecycle manager
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		components: make(map[string]*record),
		waitBudget: DefaultWaitBudget,
		ringCap:    DefaultErrorRingCapacity,
		windowSize: DefaultOperationWindow,
		slowOp:     DefaultSlowOpThreshold,
		memDelta:   DefaultMemDeltaThreshold,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sink == nil {
		m.sink = diag.New().For("lifecycle", diag.CategoryLifecycle)
	}
	return m
}

// Register declares a component. It is not initialized until Initialize is
// called.
func (m *Manager) Register(reg Registration) error {
	if reg.Name == "" {
		return errors.WrapInvalid(errors.ErrUnknownComponent, "Manager", "Register", "component name validation")
	}
	if reg.Hooks == nil {
		reg.Hooks = BaseHooks{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.components[reg.Name]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("component %q: %w", reg.Name, errors.ErrAlreadyRegistered),
			"Manager", "Register", "duplicate component check")
	}

	rec := &record{
		name:       reg.Name,
		hooks:      reg.Hooks,
		state:      StateUninitialized,
		prevState:  StateUninitialized,
		since:      time.Now(),
		regOrder:   m.nextOrder,
		deps:       make(map[string]bool, len(reg.Dependencies)),
		dependents: make(map[string]struct{}),
		retryCfg:   reg.Retry,
		perf:       newPerfCounters(m.windowSize),
	}
	m.nextOrder++

	for _, dep := range reg.Dependencies {
		rec.deps[dep] = false
		if depRec, ok := m.components[dep]; ok {
			depRec.dependents[reg.Name] = struct{}{}
			rec.deps[dep] = depRec.state == StateReady
		}
	}
	// Wire reverse edges from components that declared us before we existed
	for _, other := range m.components {
		if _, declared := other.deps[reg.Name]; declared {
			rec.dependents[other.name] = struct{}{}
		}
	}

	m.components[reg.Name] = rec
	if m.metrics != nil {
		m.metrics.RecordComponentState(reg.Name, int(StateUninitialized))
	}
	return nil
}

// Initialize starts a component's state machine. Calling it on a READY or
// INITIALIZING component is a no-op; on a SHUTDOWN component it fails. From
// ERROR it is the explicit re-initialization the error policy requires.
//
// When dependencies are outstanding the component stays INITIALIZING and
// the call returns nil; Tick re-checks it every scheduler tick until every
// dependency is READY or the wall-clock wait budget expires.
func (m *Manager) Initialize(ctx context.Context, name string) error {
	m.mu.Lock()
	rec, ok := m.components[name]
	if !ok {
		m.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("component %q: %w", name, errors.ErrUnknownComponent),
			"Manager", "Initialize", "component lookup")
	}

	switch rec.state {
	case StateReady, StateInitializing:
		m.mu.Unlock()
		return nil
	case StateShutdown:
		m.recordErrorLocked(rec, "LC_SHUTDOWN", "Initialize", "initialize after shutdown")
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrShutdown, "Manager", "Initialize", "state validation")
	case StatePaused:
		m.recordErrorLocked(rec, "LC_INVALID_TRANSITION", "Initialize",
			"initialize from "+rec.state.String())
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrInvalidTransition, "Manager", "Initialize", "state validation")
	}

	m.transitionLocked(rec, StateInitializing)
	m.refreshReadinessLocked(rec)
	rec.deadline = time.Now().Add(m.waitBudget)
	ready := rec.depsReady()
	m.mu.Unlock()

	if !ready {
		m.sink.LogInfo("LC_WAITING", name+" waiting on dependencies")
		return nil
	}
	return m.complete(ctx, name)
}

// InitializeWithRetry initializes a component, retrying synchronous
// failures with exponential backoff. It does not cover asynchronous
// dependency timeouts; register with Registration.Retry for those.
func (m *Manager) InitializeWithRetry(ctx context.Context, name string, cfg retry.Config) error {
	return retry.Do(ctx, cfg, func() error {
		err := m.Initialize(ctx, name)
		if err != nil && errors.IsInvalid(err) {
			return retry.NonRetryable(err)
		}
		return err
	})
}

// complete runs the setup hook for an INITIALIZING component whose
// dependencies are all ready, then promotes it and notifies dependents.
func (m *Manager) complete(ctx context.Context, name string) error {
	m.mu.Lock()
	rec, ok := m.components[name]
	if !ok || rec.state != StateInitializing {
		m.mu.Unlock()
		return nil
	}
	hooks := rec.hooks
	m.mu.Unlock()

	// Hook runs outside the lock so it may call back into the manager
	if err := hooks.Setup(ctx); err != nil {
		m.fail(name, "LC_HOOK_FAILED", "Initialize", err)
		return errors.Wrap(fmt.Errorf("%w: %v", errors.ErrHookFailed, err),
			"Manager", "Initialize", "setup hook")
	}

	m.mu.Lock()
	if rec.state != StateInitializing {
		// The hook called back into the manager; whatever it moved the
		// component to stands.
		m.mu.Unlock()
		return nil
	}
	m.transitionLocked(rec, StateReady)
	rec.retryAttempt = 0
	rec.nextRetry = time.Time{}
	dependents := make([]string, 0, len(rec.dependents))
	for dep := range rec.dependents {
		dependents = append(dependents, dep)
	}
	m.mu.Unlock()
	sort.Strings(dependents)

	m.sink.LogInfo("LC_READY", name+" is ready")
	for _, dependent := range dependents {
		_ = m.NotifyDependencyReady(ctx, dependent, name)
	}
	return nil
}

// NotifyDependencyReady marks one readiness entry true. Marking an
// already-ready dependency is a no-op. If the component is INITIALIZING
// and every entry is now true, initialization resumes without another
// Initialize call.
func (m *Manager) NotifyDependencyReady(ctx context.Context, name, dependency string) error {
	m.mu.Lock()
	rec, ok := m.components[name]
	if !ok {
		m.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("component %q: %w", name, errors.ErrUnknownComponent),
			"Manager", "NotifyDependencyReady", "component lookup")
	}
	if _, declared := rec.deps[dependency]; !declared {
		m.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("dependency %q: %w", dependency, errors.ErrUnknownDependency),
			"Manager", "NotifyDependencyReady", "dependency lookup")
	}

	rec.deps[dependency] = true
	resume := rec.state == StateInitializing && rec.depsReady()
	m.mu.Unlock()

	if resume {
		return m.complete(ctx, name)
	}
	return nil
}

// Tick re-checks pending components: INITIALIZING components against their
// dependency sets and wait budgets, and ERROR components with a retry
// policy against their backoff schedule. Called once per scheduler tick.
func (m *Manager) Tick(ctx context.Context) {
	now := time.Now()

	m.mu.Lock()
	var toComplete, toTimeout, toRetry []string
	for name, rec := range m.components {
		switch rec.state {
		case StateInitializing:
			m.refreshReadinessLocked(rec)
			if rec.depsReady() {
				toComplete = append(toComplete, name)
			} else if now.After(rec.deadline) {
				toTimeout = append(toTimeout, name)
			}
		case StateError:
			if !rec.nextRetry.IsZero() && now.After(rec.nextRetry) {
				rec.nextRetry = time.Time{}
				toRetry = append(toRetry, name)
			}
		}
	}
	m.mu.Unlock()

	sort.Strings(toComplete)
	sort.Strings(toTimeout)
	sort.Strings(toRetry)

	for _, name := range toComplete {
		_ = m.complete(ctx, name)
	}
	for _, name := range toTimeout {
		m.fail(name, "LC_DEPENDENCY_TIMEOUT", "Initialize", errors.ErrDependencyTimeout)
	}
	for _, name := range toRetry {
		m.sink.LogInfo("LC_RETRY", "retrying initialization of "+name)
		_ = m.Initialize(ctx, name)
	}
}

// Pause suspends a READY component. On hook failure the state is unchanged.
func (m *Manager) Pause(name string) error {
	return m.suspendOp(name, StateReady, StatePaused, "Pause", func(h Hooks) error { return h.Pause() })
}

// Resume returns a PAUSED component to READY. Instrumentation counters are
// preserved across pause and resume.
func (m *Manager) Resume(name string) error {
	return m.suspendOp(name, StatePaused, StateReady, "Resume", func(h Hooks) error { return h.Resume() })
}

func (m *Manager) suspendOp(name string, from, to State, op string, hook func(Hooks) error) error {
	m.mu.Lock()
	rec, ok := m.components[name]
	if !ok {
		m.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("component %q: %w", name, errors.ErrUnknownComponent),
			"Manager", op, "component lookup")
	}
	if rec.state != from {
		m.recordErrorLocked(rec, "LC_INVALID_TRANSITION", op, op+" from "+rec.state.String())
		m.mu.Unlock()
		m.sink.LogWarning("LC_INVALID_TRANSITION", op+" on "+name+" rejected")
		return errors.WrapInvalid(errors.ErrInvalidTransition, "Manager", op, "state validation")
	}
	hooks := rec.hooks
	m.mu.Unlock()

	if err := hook(hooks); err != nil {
		m.mu.Lock()
		m.recordErrorLocked(rec, "LC_HOOK_FAILED", op, err.Error())
		m.mu.Unlock()
		m.sink.LogError("LC_HOOK_FAILED", op+" hook failed for "+name, map[string]any{"error": err.Error()})
		return errors.Wrap(fmt.Errorf("%w: %v", errors.ErrHookFailed, err), "Manager", op, "hook")
	}

	m.mu.Lock()
	// The hook may have shut the component down reentrantly; only apply
	// the transition when the state it was decided from still holds.
	if rec.state == from {
		m.transitionLocked(rec, to)
	}
	m.mu.Unlock()
	return nil
}

// Shutdown tears a component down. It is idempotent: a second call on a
// SHUTDOWN component is a no-op success. The component transitions to
// SHUTDOWN even when the hook fails; the failure is recorded and returned.
func (m *Manager) Shutdown(name string) error {
	m.mu.Lock()
	rec, ok := m.components[name]
	if !ok {
		m.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("component %q: %w", name, errors.ErrUnknownComponent),
			"Manager", "Shutdown", "component lookup")
	}
	if rec.state == StateShutdown {
		m.mu.Unlock()
		return nil
	}
	hooks := rec.hooks
	m.mu.Unlock()

	hookErr := hooks.Shutdown()

	m.mu.Lock()
	if hookErr != nil {
		m.recordErrorLocked(rec, "LC_HOOK_FAILED", "Shutdown", hookErr.Error())
	}
	m.transitionLocked(rec, StateShutdown)
	m.mu.Unlock()

	m.sink.LogInfo("LC_SHUTDOWN", name+" shut down")
	if hookErr != nil {
		return errors.Wrap(fmt.Errorf("%w: %v", errors.ErrHookFailed, hookErr),
			"Manager", "Shutdown", "shutdown hook")
	}
	return nil
}

// ShutdownAll shuts every component down in reverse registration order
func (m *Manager) ShutdownAll() {
	m.mu.Lock()
	names := make([]string, 0, len(m.components))
	for name := range m.components {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return m.components[names[i]].regOrder > m.components[names[j]].regOrder
	})
	m.mu.Unlock()

	for _, name := range names {
		_ = m.Shutdown(name)
	}
}

// AddDependency adds one declared dependency. Safe to call before
// initialization; a dependency added later only affects future
// initialization attempts.
func (m *Manager) AddDependency(name, dependency string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.components[name]
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("component %q: %w", name, errors.ErrUnknownComponent),
			"Manager", "AddDependency", "component lookup")
	}
	if _, exists := rec.deps[dependency]; exists {
		return nil
	}

	rec.deps[dependency] = false
	if depRec, ok := m.components[dependency]; ok {
		depRec.dependents[name] = struct{}{}
		rec.deps[dependency] = depRec.state == StateReady
	}
	return nil
}

// RemoveDependency removes one declared dependency and its readiness entry
func (m *Manager) RemoveDependency(name, dependency string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.components[name]
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("component %q: %w", name, errors.ErrUnknownComponent),
			"Manager", "RemoveDependency", "component lookup")
	}

	delete(rec.deps, dependency)
	if depRec, ok := m.components[dependency]; ok {
		delete(depRec.dependents, name)
	}
	return nil
}

// Info returns a snapshot of one component's record
func (m *Manager) Info(name string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.components[name]
	if !ok {
		return Info{}, errors.WrapInvalid(
			fmt.Errorf("component %q: %w", name, errors.ErrUnknownComponent),
			"Manager", "Info", "component lookup")
	}

	deps := make(map[string]bool, len(rec.deps))
	for dep, ready := range rec.deps {
		deps[dep] = ready
	}
	dependents := make([]string, 0, len(rec.dependents))
	for dep := range rec.dependents {
		dependents = append(dependents, dep)
	}
	sort.Strings(dependents)

	recent := make([]ErrorRecord, len(rec.errRing))
	copy(recent, rec.errRing)

	return Info{
		Name:          rec.name,
		State:         rec.state,
		PreviousState: rec.prevState,
		Since:         rec.since,
		Dependencies:  deps,
		Dependents:    dependents,
		Performance:   rec.perf.snapshot(),
		Errors:        ErrorSnapshot{Count: rec.errCount, Recent: recent},
	}, nil
}

// State returns a component's current state
func (m *Manager) State(name string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.components[name]
	if !ok {
		return StateUninitialized, errors.WrapInvalid(
			fmt.Errorf("component %q: %w", name, errors.ErrUnknownComponent),
			"Manager", "State", "component lookup")
	}
	return rec.state, nil
}

// Components returns the registered component names in registration order
func (m *Manager) Components() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.components))
	for name := range m.components {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return m.components[names[i]].regOrder < m.components[names[j]].regOrder
	})
	return names
}

// fail moves a component to ERROR, records the failure, and schedules a
// retry when the component registered a retry policy with attempts left.
func (m *Manager) fail(name, code, op string, err error) {
	m.mu.Lock()
	rec, ok := m.components[name]
	if !ok || rec.state == StateShutdown {
		m.mu.Unlock()
		return
	}
	m.transitionLocked(rec, StateError)
	m.recordErrorLocked(rec, code, op, err.Error())

	retryScheduled := false
	if rec.retryCfg != nil && rec.retryAttempt < rec.retryCfg.MaxAttempts {
		rec.retryAttempt++
		rec.nextRetry = time.Now().Add(rec.retryCfg.Delay(rec.retryAttempt))
		retryScheduled = true
	}
	attempt := rec.retryAttempt
	m.mu.Unlock()

	details := map[string]any{"operation": op, "error": err.Error()}
	if retryScheduled {
		details["retry_attempt"] = attempt
	}
	m.sink.LogError(code, name+" failed", details)
	if m.metrics != nil {
		m.metrics.RecordError(diag.CategoryLifecycle, code)
	}
}

// refreshReadinessLocked re-derives the readiness map from current
// component states. Caller holds m.mu.
func (m *Manager) refreshReadinessLocked(rec *record) {
	for dep := range rec.deps {
		if depRec, ok := m.components[dep]; ok && depRec.state == StateReady {
			rec.deps[dep] = true
		}
	}
}

// transitionLocked moves a record to a new state. SHUTDOWN is terminal and
// is never left. Caller holds m.mu.
func (m *Manager) transitionLocked(rec *record, to State) {
	if rec.state == StateShutdown && to != StateShutdown {
		return
	}
	rec.prevState = rec.state
	rec.state = to
	rec.since = time.Now()
	if m.metrics != nil {
		m.metrics.RecordComponentState(rec.name, int(to))
		m.metrics.RecordTransition(rec.name, to.String())
	}
}

// recordErrorLocked appends to the bounded error ring. Caller holds m.mu.
func (m *Manager) recordErrorLocked(rec *record, code, op, message string) {
	rec.errCount++
	rec.errRing = append(rec.errRing, ErrorRecord{
		Time:      time.Now(),
		Code:      code,
		Operation: op,
		Message:   message,
	})
	if len(rec.errRing) > m.ringCap {
		rec.errRing = rec.errRing[len(rec.errRing)-m.ringCap:]
	}
}

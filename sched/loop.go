// Package sched drives the cooperative tick loop. Each tick drains the
// event bus queue, advances pending component initializations, and then
// runs any registered per-tick functions in registration order.
package sched

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aaronleebrooks/foodtruck/event"
	"github.com/aaronleebrooks/foodtruck/lifecycle"
)

// DefaultTickInterval is used when no interval is configured.
const DefaultTickInterval = 50 * time.Millisecond

// TickFunc runs once per tick after the bus and manager have advanced.
type TickFunc func(ctx context.Context, tick uint64)

// Loop owns the tick cadence for a single simulation instance.
type Loop struct {
	bus      *event.Bus
	manager  *lifecycle.Manager
	interval time.Duration
	logger   *slog.Logger

	funcs    []TickFunc
	tick     atomic.Uint64
	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a Loop.
type Option func(*Loop)

// WithInterval overrides the tick interval.
func WithInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithLogger sets the loop's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a tick loop over the given bus and manager.
func New(bus *event.Bus, manager *lifecycle.Manager, opts ...Option) *Loop {
	l := &Loop{
		bus:      bus,
		manager:  manager,
		interval: DefaultTickInterval,
		logger:   slog.Default(),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OnTick registers fn to run every tick. Not safe to call after Run starts.
func (l *Loop) OnTick(fn TickFunc) {
	if fn != nil {
		l.funcs = append(l.funcs, fn)
	}
}

// Tick returns the number of completed ticks.
func (l *Loop) Tick() uint64 {
	return l.tick.Load()
}

// Run executes the loop until the context is canceled or Stop is called.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("tick loop started", "interval", l.interval)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("tick loop stopped", "reason", "context canceled", "ticks", l.tick.Load())
			return
		case <-l.stop:
			l.logger.Info("tick loop stopped", "reason", "stop requested", "ticks", l.tick.Load())
			return
		case <-ticker.C:
			l.Step(ctx)
		}
	}
}

// Stop requests loop termination. Repeated calls are no-ops.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Step runs a single tick: queued events first, so components react to the
// previous tick's emissions before new initialization work is scheduled.
func (l *Loop) Step(ctx context.Context) {
	tick := l.tick.Add(1)

	if l.bus != nil {
		l.bus.ProcessQueue()
	}
	if l.manager != nil {
		l.manager.Tick(ctx)
	}
	for _, fn := range l.funcs {
		fn(ctx, tick)
	}
}

package sched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronleebrooks/foodtruck/event"
	"github.com/aaronleebrooks/foodtruck/lifecycle"
)

type countingHooks struct {
	lifecycle.BaseHooks
	setups int
}

func (h *countingHooks) Setup(_ context.Context) error {
	h.setups++
	return nil
}

func TestStep_DrainsQueueBeforeTickFuncs(t *testing.T) {
	bus := event.NewBus()
	var seen []string

	_, err := bus.Register("order.placed", func(event.Event) {
		seen = append(seen, "listener")
	})
	require.NoError(t, err)

	loop := New(bus, nil)
	loop.OnTick(func(context.Context, uint64) {
		seen = append(seen, "tickfunc")
	})

	bus.EmitQueued("order.placed", nil)
	loop.Step(context.Background())

	assert.Equal(t, []string{"listener", "tickfunc"}, seen)
}

func TestStep_EnforcesManagerWaitBudget(t *testing.T) {
	manager := lifecycle.NewManager(lifecycle.WithWaitBudget(time.Millisecond))
	economy := &countingHooks{}

	require.NoError(t, manager.Register(lifecycle.Registration{Name: "clock", Hooks: &countingHooks{}}))
	require.NoError(t, manager.Register(lifecycle.Registration{
		Name:         "economy",
		Hooks:        economy,
		Dependencies: []string{"clock"},
	}))

	ctx := context.Background()
	require.NoError(t, manager.Initialize(ctx, "economy"))
	time.Sleep(5 * time.Millisecond)

	loop := New(nil, manager)
	loop.Step(ctx)

	state, err := manager.State("economy")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateError, state)
	assert.Equal(t, 0, economy.setups)
}

func TestStep_TickFuncOrderAndCounter(t *testing.T) {
	loop := New(nil, nil)

	var order []int
	var lastTick uint64
	loop.OnTick(func(_ context.Context, tick uint64) {
		order = append(order, 1)
		lastTick = tick
	})
	loop.OnTick(func(context.Context, uint64) {
		order = append(order, 2)
	})

	ctx := context.Background()
	loop.Step(ctx)
	loop.Step(ctx)

	assert.Equal(t, []int{1, 2, 1, 2}, order)
	assert.Equal(t, uint64(2), lastTick)
	assert.Equal(t, uint64(2), loop.Tick())
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	loop := New(event.NewBus(), lifecycle.NewManager(), WithInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after context cancellation")
	}
	assert.Greater(t, loop.Tick(), uint64(0))
}

func TestStop_IsIdempotent(t *testing.T) {
	loop := New(nil, nil)

	assert.NotPanics(t, func() {
		loop.Stop()
		loop.Stop()
	})
}

func TestRun_StopsOnStop(t *testing.T) {
	loop := New(nil, nil, WithInterval(time.Millisecond))

	done := make(chan struct{})
	go func() {
		loop.Run(context.Background())
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	loop.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after Stop")
	}
}

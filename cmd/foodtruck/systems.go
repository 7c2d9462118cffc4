package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/aaronleebrooks/foodtruck/event"
	"github.com/aaronleebrooks/foodtruck/lifecycle"
)

// Event names shared by the demo subsystems.
const (
	eventClockTick   = "clock.tick"
	eventOrderPlaced = "economy.order_placed"
)

// clockSystem advances the in-game day and emits clock.tick events.
type clockSystem struct {
	lifecycle.BaseHooks
	bus     *event.Bus
	day     int
	hour    int
	running bool
}

func newClockSystem(bus *event.Bus) *clockSystem {
	return &clockSystem{bus: bus, day: 1, hour: 6}
}

func (c *clockSystem) Setup(_ context.Context) error {
	c.running = true
	slog.Info("clock subsystem ready", "day", c.day, "hour", c.hour)
	return nil
}

func (c *clockSystem) Pause() error {
	c.running = false
	return nil
}

func (c *clockSystem) Resume() error {
	c.running = true
	return nil
}

func (c *clockSystem) Shutdown() error {
	c.running = false
	return nil
}

// Advance moves game time forward one step and queues a clock.tick for
// the next scheduler pass.
func (c *clockSystem) Advance() {
	if !c.running {
		return
	}
	c.hour++
	if c.hour >= 24 {
		c.hour = 0
		c.day++
	}
	_ = c.bus.EmitQueued(eventClockTick, map[string]any{
		"day":  c.day,
		"hour": c.hour,
	})
}

// economySystem reacts to clock ticks by simulating customer orders. It
// subscribes during Setup and drops its subscription on shutdown.
type economySystem struct {
	lifecycle.BaseHooks
	manager *lifecycle.Manager
	bus     *event.Bus
	tickSub event.ConnectionID
	revenue float64
	orders  int
}

func newEconomySystem(manager *lifecycle.Manager, bus *event.Bus) *economySystem {
	return &economySystem{manager: manager, bus: bus}
}

func (e *economySystem) Setup(_ context.Context) error {
	id, err := e.bus.Register(eventClockTick, e.onClockTick)
	if err != nil {
		return err
	}
	e.tickSub = id
	slog.Info("economy subsystem ready")
	return nil
}

func (e *economySystem) Shutdown() error {
	e.bus.Unregister(e.tickSub)
	slog.Info("economy subsystem closed", "orders", e.orders, "revenue", e.revenue)
	return nil
}

// onClockTick simulates order intake for the elapsed hour. The work runs
// under performance tracking so slow hours surface as alerts.
func (e *economySystem) onClockTick(ev event.Event) {
	_ = e.manager.TrackOperation("economy", "process_orders", func() error {
		hour, _ := ev.Payload["hour"].(int)
		e.processHour(hour)
		return nil
	})
}

// processHour books orders during open hours (8:00 to 20:00).
func (e *economySystem) processHour(hour int) {
	if hour < 8 || hour >= 20 {
		return
	}
	e.orders++
	e.revenue += 4.50
	_ = e.bus.EmitQueued(eventOrderPlaced, map[string]any{
		"order":   e.orders,
		"revenue": e.revenue,
		"at":      time.Now().UTC().Format(time.RFC3339),
	})
}

package event

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fterrors "github.com/aaronleebrooks/foodtruck/errors"
)

func TestBus_EmitInvokesListenersInRegistrationOrder(t *testing.T) {
	bus := NewBus()

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		_, err := bus.Register("sale.completed", func(Event) {
			order = append(order, name)
		})
		require.NoError(t, err)
	}

	require.NoError(t, bus.Emit("sale.completed", map[string]any{"amount": 5.0}))
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestBus_ListenerReceivesExactPayload(t *testing.T) {
	bus := NewBus()

	var got Event
	calls := 0
	id, err := bus.Register("sale.completed", func(ev Event) {
		got = ev
		calls++
	})
	require.NoError(t, err)

	require.NoError(t, bus.Emit("sale.completed", map[string]any{"amount": 5.0}))
	assert.Equal(t, 1, calls)
	assert.Equal(t, "sale.completed", got.Name)
	assert.Equal(t, 5.0, got.Payload["amount"])
	assert.False(t, got.Timestamp.IsZero())

	// After unregistering, the listener receives nothing
	assert.True(t, bus.Unregister(id))
	require.NoError(t, bus.Emit("sale.completed", map[string]any{"amount": 7.0}))
	assert.Equal(t, 1, calls)
}

func TestBus_PayloadIsSnapshotAtEmission(t *testing.T) {
	bus := NewBus()

	var got map[string]any
	_, err := bus.Register("price.changed", func(ev Event) {
		got = ev.Payload
	})
	require.NoError(t, err)

	payload := map[string]any{"price": 2.5}
	require.NoError(t, bus.EmitQueued("price.changed", payload))

	// Producer mutates its map after emission; the listener must still see
	// the value captured at emit time.
	payload["price"] = 99.0
	bus.ProcessQueue()

	require.NotNil(t, got)
	assert.Equal(t, 2.5, got["price"])
}

func TestBus_ListenerMutationDoesNotLeakToOthers(t *testing.T) {
	bus := NewBus(WithHistory(4))

	_, err := bus.Register("sale.completed", func(ev Event) {
		ev.Payload["amount"] = 0.0
	})
	require.NoError(t, err)

	var got float64
	_, err = bus.Register("sale.completed", func(ev Event) {
		got = ev.Payload["amount"].(float64)
	})
	require.NoError(t, err)

	require.NoError(t, bus.Emit("sale.completed", map[string]any{"amount": 5.0}))

	// The second listener and the history record both see the value
	// captured at emission, not the first listener's write.
	assert.Equal(t, 5.0, got)
	hist := bus.History(1)
	require.Len(t, hist, 1)
	assert.Equal(t, 5.0, hist[0].Payload["amount"])
}

func TestBus_QueuedEventsDrainInFIFOOrder(t *testing.T) {
	bus := NewBus()

	var seen []string
	_, err := bus.Register("tick.log", func(ev Event) {
		seen = append(seen, ev.Payload["id"].(string))
	})
	require.NoError(t, err)

	require.NoError(t, bus.EmitQueued("tick.log", map[string]any{"id": "A"}))
	require.NoError(t, bus.EmitQueued("tick.log", map[string]any{"id": "B"}))
	assert.Empty(t, seen, "queued events must not dispatch before ProcessQueue")

	n := bus.ProcessQueue()
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"A", "B"}, seen)
}

func TestBus_ReentrantEmissionDefersToNextTick(t *testing.T) {
	bus := NewBus()

	var ticks [][]string
	var current []string
	_, err := bus.Register("chain", func(ev Event) {
		step := ev.Payload["step"].(int)
		current = append(current, fmt.Sprintf("step-%d", step))
		if step < 3 {
			// Emitted during drain: must land in the next tick's batch
			require.NoError(t, bus.EmitQueued("chain", map[string]any{"step": step + 1}))
		}
	})
	require.NoError(t, err)

	require.NoError(t, bus.EmitQueued("chain", map[string]any{"step": 1}))
	for i := 0; i < 3; i++ {
		current = nil
		bus.ProcessQueue()
		ticks = append(ticks, current)
	}

	assert.Equal(t, [][]string{{"step-1"}, {"step-2"}, {"step-3"}}, ticks)
	assert.Equal(t, 0, bus.Stats().QueueDepth)
}

func TestBus_UnregisterUnknownID(t *testing.T) {
	bus := NewBus()
	assert.False(t, bus.Unregister(ConnectionID(12345)))
}

func TestBus_ConnectionIDsAreNeverReused(t *testing.T) {
	bus := NewBus()

	id1, err := bus.Register("a", func(Event) {})
	require.NoError(t, err)
	require.True(t, bus.Unregister(id1))

	id2, err := bus.Register("a", func(Event) {})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestBus_UnregisterAllForEvent(t *testing.T) {
	bus := NewBus()

	for i := 0; i < 3; i++ {
		_, err := bus.Register("staff.hired", func(Event) {})
		require.NoError(t, err)
	}
	_, err := bus.Register("staff.fired", func(Event) {})
	require.NoError(t, err)

	assert.Equal(t, 3, bus.UnregisterAll("staff.hired"))
	stats := bus.Stats()
	assert.Equal(t, 1, stats.ActiveListeners)
}

func TestBus_ClearRemovesEverything(t *testing.T) {
	bus := NewBus()

	for i := 0; i < 5; i++ {
		_, err := bus.Register(fmt.Sprintf("event-%d", i), func(Event) {})
		require.NoError(t, err)
	}

	assert.Equal(t, 5, bus.Clear())
	assert.Equal(t, 0, bus.Stats().ActiveListeners)

	// Cleared listeners receive nothing even if an emission was in flight
	require.NoError(t, bus.Emit("event-0", nil))
}

func TestBus_EmptyEventNameRejected(t *testing.T) {
	bus := NewBus()

	_, err := bus.Register("", func(Event) {})
	assert.ErrorIs(t, err, fterrors.ErrInvalidEventName)

	err = bus.Emit("", nil)
	assert.ErrorIs(t, err, fterrors.ErrInvalidEventName)

	err = bus.EmitQueued("", nil)
	assert.ErrorIs(t, err, fterrors.ErrInvalidEventName)
}

func TestBus_NilCallbackRejected(t *testing.T) {
	bus := NewBus()
	_, err := bus.Register("sale.completed", nil)
	assert.ErrorIs(t, err, fterrors.ErrNilCallback)
}

func TestBus_HistoryIsBounded(t *testing.T) {
	bus := NewBus(WithHistory(3))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Emit("tick", map[string]any{"n": i}))
	}

	hist := bus.History(0)
	require.Len(t, hist, 3)
	// Oldest evicted first: emissions 2, 3, 4 remain
	assert.Equal(t, 2, hist[0].Payload["n"])
	assert.Equal(t, 4, hist[2].Payload["n"])

	limited := bus.History(2)
	require.Len(t, limited, 2)
	assert.Equal(t, 3, limited[0].Payload["n"])
}

func TestBus_HistoryDisabledByDefault(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Emit("tick", nil))
	assert.Nil(t, bus.History(10))
}

func TestBus_Stats(t *testing.T) {
	bus := NewBus()

	_, err := bus.Register("sale.completed", func(Event) {})
	require.NoError(t, err)

	require.NoError(t, bus.Emit("sale.completed", nil))
	require.NoError(t, bus.EmitQueued("sale.completed", nil))

	stats := bus.Stats()
	assert.Equal(t, uint64(2), stats.EventsEmitted)
	assert.Equal(t, uint64(1), stats.EventsProcessed)
	assert.Equal(t, 1, stats.ActiveListeners)
	assert.Equal(t, 1, stats.QueueDepth)

	bus.ProcessQueue()
	stats = bus.Stats()
	assert.Equal(t, uint64(2), stats.EventsProcessed)
	assert.Equal(t, 0, stats.QueueDepth)
}

func TestBus_ListenerPanicIsContained(t *testing.T) {
	bus := NewBus()

	var after []string
	_, err := bus.Register("boom", func(Event) { panic("listener bug") })
	require.NoError(t, err)
	_, err = bus.Register("boom", func(Event) { after = append(after, "ran") })
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		require.NoError(t, bus.Emit("boom", nil))
	})
	// Later listeners still run after an earlier one panics
	assert.Equal(t, []string{"ran"}, after)
}

func TestBus_UnregisterDuringDispatchSuppressesLaterDelivery(t *testing.T) {
	bus := NewBus()

	var secondCalls int
	var secondID ConnectionID
	_, err := bus.Register("teardown", func(Event) {
		bus.Unregister(secondID)
	})
	require.NoError(t, err)
	secondID, err = bus.Register("teardown", func(Event) { secondCalls++ })
	require.NoError(t, err)

	require.NoError(t, bus.Emit("teardown", nil))
	assert.Equal(t, 0, secondCalls)
}

func TestBus_DebugModeDoesNotChangeDelivery(t *testing.T) {
	bus := NewBus(WithDebug(true))

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		_, err := bus.Register("traced", func(Event) { order = append(order, i) })
		require.NoError(t, err)
	}

	require.NoError(t, bus.Emit("traced", nil))
	assert.Equal(t, []int{0, 1, 2}, order)

	bus.SetDebug(false)
	require.NoError(t, bus.Emit("traced", nil))
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, order)
}

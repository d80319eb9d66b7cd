package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBusDeliversInOrder(t *testing.T) {
	bus := NewEventBus()
	var got []string
	bus.Subscribe(func(e Event) { got = append(got, "a:"+e.Type.String()) })
	bus.Subscribe(func(e Event) { got = append(got, "b:"+e.Type.String()) })

	bus.Publish(Event{Type: EventWallBounce})

	assert.Equal(t, []string{"a:wall_bounce", "b:wall_bounce"}, got)
	assert.Equal(t, 2, bus.Len())
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	unsub := bus.Subscribe(func(Event) { calls++ })

	bus.Publish(Event{})
	unsub()
	unsub() // second call is harmless
	bus.Publish(Event{})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, bus.Len())
}

func TestEventBusUnsubscribeDuringDispatch(t *testing.T) {
	bus := NewEventBus()
	var got []string
	var unsubB func()
	bus.Subscribe(func(Event) {
		got = append(got, "a")
		unsubB()
	})
	unsubB = bus.Subscribe(func(Event) { got = append(got, "b") })

	bus.Publish(Event{})
	assert.Equal(t, []string{"a", "b"}, got, "the current dispatch uses the snapshot taken before it started")

	got = nil
	bus.Publish(Event{})
	assert.Equal(t, []string{"a"}, got, "removal takes effect from the next publish")
}

func TestEventBusSubscribeDuringDispatch(t *testing.T) {
	bus := NewEventBus()
	late := 0
	added := false
	bus.Subscribe(func(Event) {
		if !added {
			added = true
			bus.Subscribe(func(Event) { late++ })
		}
	})

	bus.Publish(Event{})
	assert.Equal(t, 0, late, "a handler added mid-dispatch misses the current event")

	bus.Publish(Event{})
	assert.Equal(t, 1, late)
}

func TestEventBusRecoversHandlerPanic(t *testing.T) {
	bus := NewEventBus()
	reached := false
	bus.Subscribe(func(Event) { panic("boom") })
	bus.Subscribe(func(Event) { reached = true })

	assert.NotPanics(t, func() { bus.Publish(Event{Type: EventGoalScored}) })
	assert.True(t, reached, "later handlers still run after a panic")
}

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "phase", EventPhaseChanged.String())
	assert.Equal(t, "score", EventScoreChanged.String())
	assert.Equal(t, "wall_bounce", EventWallBounce.String())
	assert.Equal(t, "paddle_hit", EventPaddleHit.String())
	assert.Equal(t, "goal", EventGoalScored.String())
}

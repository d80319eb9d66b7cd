package main

import (
	"log"
	"sync"
)

// EventType names a notification kind
type EventType int

const (
	EventPhaseChanged EventType = iota
	EventScoreChanged
	EventWallBounce
	EventPaddleHit
	EventGoalScored
)

var eventTypeName = map[EventType]string{
	EventPhaseChanged: "phase",
	EventScoreChanged: "score",
	EventWallBounce:   "wall_bounce",
	EventPaddleHit:    "paddle_hit",
	EventGoalScored:   "goal",
}

func (t EventType) String() string {
	return eventTypeName[t]
}

// Event is a notification delivered to presentation subscribers.
// Paddle is the hit paddle for EventPaddleHit and the scorer for EventGoalScored.
type Event struct {
	Type         EventType
	Phase        MatchPhase
	Player1Score int
	Player2Score int
	Paddle       PaddleID
}

// Handler receives events synchronously
type Handler func(Event)

type subscriber struct {
	id int
	fn Handler
}

// EventBus is an ordered observer list.
//
// Publish copies the subscriber list before dispatching, so handlers may
// subscribe or unsubscribe while an event is being delivered. Changes take
// effect from the next Publish.
type EventBus struct {
	mu     sync.Mutex
	nextID int
	subs   []subscriber
}

// NewEventBus creates an empty bus
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers h and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (b *EventBus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, fn: h})
	return func() { b.unsubscribe(id) }
}

func (b *EventBus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of subscribers
func (b *EventBus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers e to every current subscriber before returning
func (b *EventBus) Publish(e Event) {
	b.mu.Lock()
	snapshot := make([]Handler, len(b.subs))
	for i, s := range b.subs {
		snapshot[i] = s.fn
	}
	b.mu.Unlock()

	for _, h := range snapshot {
		dispatch(h, e)
	}
}

func dispatch(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("events: %s handler panicked: %v", e.Type, r)
		}
	}()
	h(e)
}

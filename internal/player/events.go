package player

import (
	"sync"
	"time"
)

// BufferingEvent is emitted on every transition into or out of BUFFERING.
// IsRebuffering is false until playback has started once.
type BufferingEvent struct {
	Timestamp     time.Time
	IsRebuffering bool
}

// EventListener observes buffering transitions. Callbacks run on the
// scheduler's goroutines and must not block.
type EventListener interface {
	OnBufferingStart(ev BufferingEvent)
	OnBufferingEnd(ev BufferingEvent)
}

// EventKind names a buffering transition on the event bus.
type EventKind string

const (
	EventBufferingStart EventKind = "bufferingStart"
	EventBufferingEnd   EventKind = "bufferingEnd"
)

// Event is a buffering transition delivered through an EventBus.
type Event struct {
	Kind EventKind
	BufferingEvent
}

// EventBus is an EventListener that forwards events to a channel. When the
// channel is full the event is dropped and counted.
type EventBus struct {
	ch chan Event

	mu      sync.Mutex
	dropped int
}

// NewEventBus creates a bus with the given channel capacity.
func NewEventBus(capacity int) *EventBus {
	return &EventBus{ch: make(chan Event, capacity)}
}

// Events returns the receive side of the bus.
func (b *EventBus) Events() <-chan Event {
	return b.ch
}

// Dropped returns how many events did not fit in the channel.
func (b *EventBus) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *EventBus) OnBufferingStart(ev BufferingEvent) {
	b.publish(Event{Kind: EventBufferingStart, BufferingEvent: ev})
}

func (b *EventBus) OnBufferingEnd(ev BufferingEvent) {
	b.publish(Event{Kind: EventBufferingEnd, BufferingEvent: ev})
}

func (b *EventBus) publish(ev Event) {
	select {
	case b.ch <- ev:
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
	}
}

// listeners fans events out to several listeners.
type listeners []EventListener

func (ls listeners) OnBufferingStart(ev BufferingEvent) {
	for _, l := range ls {
		l.OnBufferingStart(ev)
	}
}

func (ls listeners) OnBufferingEnd(ev BufferingEvent) {
	for _, l := range ls {
		l.OnBufferingEnd(ev)
	}
}

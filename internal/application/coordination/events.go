package coordination

import (
	"sync/atomic"
	"time"
)

// EventType identifies a change notification.
type EventType string

const (
	EventTradesAdded           EventType = "trades_added"
	EventAnalysisComplete      EventType = "analysis_complete"
	EventBatchAnalysisComplete EventType = "batch_analysis_complete"
)

// Event is a notification emitted by the engine. Payload holds the result of
// the operation: tradestore.IngestReport, domain.AnalysisResult or
// domain.BatchResult depending on Type.
type Event struct {
	Type    EventType
	At      time.Time
	Wallets []string
	Payload any
}

// Observer receives engine notifications. OnEvent runs synchronously on the
// caller's goroutine and must not call back into the engine.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent calls f(e).
func (f ObserverFunc) OnEvent(e Event) { f(e) }

// ChannelObserver forwards events to a buffered channel without ever
// blocking the engine: when the buffer is full the event is dropped and counted.
type ChannelObserver struct {
	ch      chan Event
	dropped atomic.Int64
}

// NewChannelObserver creates an observer with the given buffer size.
func NewChannelObserver(buffer int) *ChannelObserver {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelObserver{ch: make(chan Event, buffer)}
}

// OnEvent implements Observer.
func (c *ChannelObserver) OnEvent(e Event) {
	select {
	case c.ch <- e:
	default:
		c.dropped.Add(1)
	}
}

// Events returns the receive side of the channel.
func (c *ChannelObserver) Events() <-chan Event { return c.ch }

// Dropped returns how many events were discarded because the buffer was full.
func (c *ChannelObserver) Dropped() int64 { return c.dropped.Load() }

package vnc

import "github.com/dustinmcafee/rustvncserver/internal/metrics"

// EventKind classifies an Event published on the bus.
type EventKind int

const (
	EventKeyEvent EventKind = iota
	EventPointerEvent
	EventClipboard
)

// Event is one input event originating from a session, destined for the
// external host. See SPEC_FULL.md §4.G.
type Event struct {
	SessionID uint64
	Kind      EventKind

	// EventKeyEvent
	KeyDown bool
	Keysym  uint32

	// EventPointerEvent
	ButtonMask uint8
	X, Y       uint16

	// EventClipboard
	Text string
}

// EventBus is a one-way, best-effort queue from sessions to the external
// host: if the consumer is slow, events are dropped and counted rather
// than backpressuring the session that produced them. Grounded on the
// non-blocking buffered-channel fan-out used by SSE hubs in the pack.
type EventBus struct {
	ch      chan Event
	metrics *metrics.Metrics
}

// NewEventBus creates a bus with the given backlog capacity.
func NewEventBus(capacity int, m *metrics.Metrics) *EventBus {
	if capacity <= 0 {
		capacity = 256
	}
	return &EventBus{ch: make(chan Event, capacity), metrics: m}
}

// Publish enqueues e, dropping it (and incrementing the dropped-event
// counter) if the backlog is full.
func (b *EventBus) Publish(e Event) {
	select {
	case b.ch <- e:
	default:
		if b.metrics != nil {
			b.metrics.IncEventsDropped()
		}
	}
}

// PollEvents drains every event currently queued without blocking,
// implementing the embedding API's poll_events() operation.
func (b *EventBus) PollEvents() []Event {
	var out []Event
	for {
		select {
		case e := <-b.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

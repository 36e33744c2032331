// Package metrics holds the server's runtime counters: bytes transferred,
// active sessions, updates sent, and dropped input events.
package metrics

import "sync/atomic"

// Metrics is safe for concurrent use; every session and the server front
// end share one instance.
type Metrics struct {
	bytesSent      uint64
	bytesRecv      uint64
	sessionsActive int64
	updatesSent    uint64
	eventsDropped  uint64
}

// New returns a zeroed Metrics, ready to use.
func New() *Metrics { return &Metrics{} }

func (m *Metrics) AddBytesSent(n int) { atomic.AddUint64(&m.bytesSent, uint64(n)) }
func (m *Metrics) AddBytesRecv(n int) { atomic.AddUint64(&m.bytesRecv, uint64(n)) }
func (m *Metrics) IncSessions()       { atomic.AddInt64(&m.sessionsActive, 1) }
func (m *Metrics) DecSessions()       { atomic.AddInt64(&m.sessionsActive, -1) }
func (m *Metrics) IncUpdatesSent()    { atomic.AddUint64(&m.updatesSent, 1) }
func (m *Metrics) IncEventsDropped()  { atomic.AddUint64(&m.eventsDropped, 1) }

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	BytesSent      uint64
	BytesRecv      uint64
	SessionsActive int64
	UpdatesSent    uint64
	EventsDropped  uint64
}

// Snapshot reads every counter atomically (with respect to each other,
// individually — not as a single atomic transaction).
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		BytesSent:      atomic.LoadUint64(&m.bytesSent),
		BytesRecv:      atomic.LoadUint64(&m.bytesRecv),
		SessionsActive: atomic.LoadInt64(&m.sessionsActive),
		UpdatesSent:    atomic.LoadUint64(&m.updatesSent),
		EventsDropped:  atomic.LoadUint64(&m.eventsDropped),
	}
}

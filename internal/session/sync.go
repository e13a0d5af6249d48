package session

import "time"

// syncMonitor tracks the liveness handshake with the tunnel client. Only
// one ping is ever outstanding: while awaiting a response the send schedule
// is held, and an overdue response suspends backend message delivery
// instead of disconnecting. It is touched only from the relay loop, so it
// needs no locking.
type syncMonitor struct {
	threshold time.Duration
	frequency time.Duration

	awaiting bool
	lastPing int64
}

func newSyncMonitor(threshold, frequency time.Duration) *syncMonitor {
	return &syncMonitor{threshold: threshold, frequency: frequency}
}

// reset arms the send schedule relative to now without marking a ping
// outstanding.
func (m *syncMonitor) reset(now int64) {
	m.awaiting = false
	m.lastPing = now
}

// pingDue reports whether a liveness ping should be emitted. Never true
// while a ping is outstanding.
func (m *syncMonitor) pingDue(now int64) bool {
	return !m.awaiting && now-m.lastPing >= m.frequency.Milliseconds()
}

func (m *syncMonitor) pingSent(now int64) {
	m.awaiting = true
	m.lastPing = now
}

// responseReceived resolves the outstanding ping if ts acknowledges it.
// Stale acknowledgments (older than the outstanding ping) are ignored.
func (m *syncMonitor) responseReceived(ts int64) bool {
	if !m.awaiting || ts < m.lastPing {
		return false
	}
	m.awaiting = false
	return true
}

// deliveryAllowed reports whether backend message handling may run. False
// once a ping response is overdue by more than the threshold; flips back as
// soon as a response arrives.
func (m *syncMonitor) deliveryAllowed(now int64) bool {
	return !m.awaiting || now-m.lastPing <= m.threshold.Milliseconds()
}

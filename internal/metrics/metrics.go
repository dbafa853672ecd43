package metrics

import "sync"

// Event counter names used across the relay.
const (
	WSConnections = "ws_connections"
	WSDisconnects = "ws_disconnects"

	MessagesIn  = "messages_in"
	MessagesOut = "messages_out"

	DropReasonBadMessage        = "dropped_bad_message"
	DropReasonUnknownType       = "dropped_unknown_type"
	DropReasonUnknownTarget     = "dropped_unknown_target"
	DropReasonSendFailure       = "dropped_send_failure"
	DropReasonRateLimited       = "dropped_rate_limited"
	DropReasonBroadcastConflict = "rejected_broadcast_conflict"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The relay's observable surface is small enough that a name->counter map is
// sufficient; the Prometheus handler exposes everything under one metric with
// an `event` label.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}

// Package session owns the in-memory connection registry: the mapping from
// connection identity to per-user mutable state, and the derived broadcaster
// directory computed from it.
package session

import (
	"sync"
)

// AnonymousName is the display name reported for sessions that never set one.
const AnonymousName = "Anonymous"

// Conn is the transport half a session writes to. The session is the sole
// writer; implementations must be safe for concurrent Send calls.
type Conn interface {
	Send(data []byte) error
	Close() error
}

// Session is the per-connection state. One Session exists per live
// connection; its id is stable for the connection's lifetime and never
// reused. Fields are mutated only by messages originating from the same
// connection, so the per-session lock only arbitrates against directory
// reads.
type Session struct {
	id   string
	conn Conn

	mu           sync.RWMutex
	name         string
	avatar       string
	broadcasting bool
}

func (s *Session) ID() string { return s.id }

// Send writes one message to the session's transport.
func (s *Session) Send(data []byte) error {
	return s.conn.Send(data)
}

// DisplayName returns the session's name, or the anonymous sentinel when the
// user never set one (or logged out).
func (s *Session) DisplayName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.name == "" {
		return AnonymousName
	}
	return s.name
}

func (s *Session) Avatar() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.avatar
}

func (s *Session) IsBroadcasting() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.broadcasting
}

// SetProfile updates the display name and avatar. Empty values keep the
// previous one, so a partial profile update never erases existing fields.
func (s *Session) SetProfile(name, avatar string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name != "" {
		s.name = name
	}
	if avatar != "" {
		s.avatar = avatar
	}
}

func (s *Session) setBroadcasting(on bool) {
	s.mu.Lock()
	s.broadcasting = on
	s.mu.Unlock()
}

// clear resets the session to its just-connected state (logout).
func (s *Session) clear() {
	s.mu.Lock()
	s.name = ""
	s.avatar = ""
	s.broadcasting = false
	s.mu.Unlock()
}

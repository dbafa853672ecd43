package session

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrUnknownSession is returned for role-changing operations on an id
	// that is not (or no longer) registered. Callers treat it as a normal
	// outcome: the peer may simply have disconnected.
	ErrUnknownSession = errors.New("session: unknown session")

	// ErrBroadcasterExists is returned by StartBroadcast in exclusive mode
	// when another live session already holds the broadcast slot.
	ErrBroadcasterExists = errors.New("session: a broadcaster already exists")
)

// Registry maps session ids to live sessions. It is the only cross-connection
// shared state in the relay; a single coarse lock guards the map, and
// broadcast-flag transitions take the write lock so exclusive-mode starts are
// an atomic check-and-set (first writer wins).
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session around conn and returns it. Ids are random
// UUIDs; collision with a live id is treated as impossible.
func (r *Registry) Create(conn Conn) *Session {
	s := &Session{
		id:   uuid.NewString(),
		conn: conn,
	}
	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()
	return s
}

// Get looks up a live session. Absence is a normal outcome for every caller;
// relay targets are resolved at delivery time and may already be gone.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes the session. Idempotent: removing an unknown id is a no-op,
// which tolerates duplicate close notifications from the transport.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// ForEach visits a snapshot of the current sessions. The visitor may mutate
// the registry (including removing sessions) without corrupting iteration.
func (r *Registry) ForEach(visit func(*Session)) {
	for _, s := range r.snapshot() {
		visit(s)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// StartBroadcast marks the session as broadcasting. In exclusive mode the
// whole check-and-set happens under the registry write lock, so of two
// near-simultaneous starts exactly one wins and the other observes
// ErrBroadcasterExists.
func (r *Registry) StartBroadcast(id string, exclusive bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	if exclusive {
		for _, other := range r.sessions {
			if other.id != id && other.IsBroadcasting() {
				return ErrBroadcasterExists
			}
		}
	}
	s.setBroadcasting(true)
	return nil
}

// StopBroadcast clears the broadcasting flag and reports whether it had been
// set. Unknown sessions report false.
func (r *Registry) StopBroadcast(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	was := s.IsBroadcasting()
	s.setBroadcasting(false)
	return was
}

// Logout resets the session's profile and broadcasting state without
// removing it; the connection stays open.
func (r *Registry) Logout(id string) bool {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	s.clear()
	return true
}

// BroadcasterInfo is one directory entry.
type BroadcasterInfo struct {
	ID     string
	Name   string
	Avatar string
}

// Directory returns the current broadcasters, freshly computed on every call
// (no caching, so a snapshot can never go stale under concurrent start/stop)
// and sorted by id so repeated broadcasts within one tick are identical for
// every recipient.
func (r *Registry) Directory() []BroadcasterInfo {
	out := make([]BroadcasterInfo, 0)
	for _, s := range r.snapshot() {
		if !s.IsBroadcasting() {
			continue
		}
		out = append(out, BroadcasterInfo{
			ID:     s.ID(),
			Name:   s.DisplayName(),
			Avatar: s.Avatar(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Package registry tracks ephemeral in-memory state shared across connection
// goroutines: which identity owns which live session, and who has accepted
// into which group call. Everything here is mutex-guarded; callers get
// snapshots, never live map references.
package registry

import (
	"errors"
	"sort"
	"sync"
)

// ErrAlreadyRegistered reports a second registration for an identity that
// already has a live session. The existing session is untouched.
var ErrAlreadyRegistered = errors.New("identity already has an active session")

// Conn is the transport handle the registry holds for each identity. Send
// must not block; it reports whether the frame was accepted.
type Conn interface {
	Send(frame []byte) bool
}

// Sessions maps identity to its single active transport handle.
type Sessions struct {
	mu      sync.RWMutex
	byIdent map[string]Conn
}

// NewSessions creates an empty session registry.
func NewSessions() *Sessions {
	return &Sessions{byIdent: make(map[string]Conn)}
}

// Register binds identity to conn, enforcing at most one session per
// identity.
func (s *Sessions) Register(identity string, conn Conn) error {
	if identity == "" {
		return errors.New("identity is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byIdent[identity]; exists {
		return ErrAlreadyRegistered
	}
	s.byIdent[identity] = conn
	return nil
}

// Get fetches the live handle for identity.
func (s *Sessions) Get(identity string) (Conn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.byIdent[identity]
	return conn, ok
}

// Remove unbinds identity only if it is still bound to conn, so a rejected
// duplicate login cannot evict the original session.
func (s *Sessions) Remove(identity string, conn Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.byIdent[identity]
	if !ok || current != conn {
		return false
	}
	delete(s.byIdent, identity)
	return true
}

// Online reports whether identity currently has a session.
func (s *Sessions) Online(identity string) bool {
	_, ok := s.Get(identity)
	return ok
}

// Snapshot returns every bound identity and handle.
func (s *Sessions) Snapshot() map[string]Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Conn, len(s.byIdent))
	for id, conn := range s.byIdent {
		out[id] = conn
	}
	return out
}

// Count returns the number of active sessions.
func (s *Sessions) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byIdent)
}

// Rosters tracks the set of identities accepted into each active group call.
type Rosters struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
}

// NewRosters creates an empty roster table.
func NewRosters() *Rosters {
	return &Rosters{rooms: make(map[string]map[string]struct{})}
}

// Join inserts identity into the room roster, creating the roster on first
// accept. Repeated joins are idempotent; the return value reports whether the
// identity was newly added.
func (r *Rosters) Join(room, identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	participants, ok := r.rooms[room]
	if !ok {
		participants = make(map[string]struct{})
		r.rooms[room] = participants
	}
	if _, present := participants[identity]; present {
		return false
	}
	participants[identity] = struct{}{}
	return true
}

// Participants returns a sorted snapshot of the room roster.
func (r *Rosters) Participants(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	participants, ok := r.rooms[room]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(participants))
	for id := range participants {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Active reports whether the room has a live roster.
func (r *Rosters) Active(room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room]
	return ok
}

// Leave removes identity from every roster, dropping rosters that become
// empty. Bound to connection lifecycle: called on disconnect.
func (r *Rosters) Leave(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for room, participants := range r.rooms {
		delete(participants, identity)
		if len(participants) == 0 {
			delete(r.rooms, room)
		}
	}
}

package session

import (
	"sync"
	"time"
)

// State is the single enumerated conversation state of one user.
type State int

const (
	StateIdle State = iota
	StateAwaitingBroadcastContent
	StateAwaitingButtonSpec
	StateConfirmSend
	StateAwaitingSearchKeyword
	StateAwaitingStartText
	StateAwaitingSponsorLinks
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingBroadcastContent:
		return "awaiting_broadcast_content"
	case StateAwaitingButtonSpec:
		return "awaiting_button_spec"
	case StateConfirmSend:
		return "confirm_send"
	case StateAwaitingSearchKeyword:
		return "awaiting_search_keyword"
	case StateAwaitingStartText:
		return "awaiting_start_text"
	case StateAwaitingSponsorLinks:
		return "awaiting_sponsor_links"
	default:
		return "unknown"
	}
}

// Session is the per-user conversation state plus whatever the current flow staged.
type Session struct {
	State         State
	Draft         *Draft
	SearchKeyword string
	UpdatedAt     time.Time
}

// IsIdle reports whether s carries no state and no staged data.
func (s Session) IsIdle() bool {
	return s.State == StateIdle && s.Draft == nil && s.SearchKeyword == ""
}

func (s Session) clone() Session {
	if s.Draft != nil {
		d := s.Draft.Clone()
		s.Draft = &d
	}
	return s
}

type Option func(*Registry)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry holds one Session per user id. Keys are independent: operations on
// one user never block on another user's handler work, only on the map lock.
//
// Callers are expected to serialize handlers per user; the registry does not
// arbitrate concurrent writers for the same key.
type Registry struct {
	mu  sync.RWMutex
	m   map[int64]Session
	now func() time.Time
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{m: map[int64]Session{}, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Get returns the user's session, or a fresh idle session when none exists.
// The returned value is a copy; mutate it and hand it back via Set.
func (r *Registry) Get(userID int64) Session {
	r.mu.RLock()
	s, ok := r.m[userID]
	r.mu.RUnlock()
	if !ok {
		return Session{State: StateIdle}
	}
	return s.clone()
}

// Set stores s for userID. Storing an idle session with nothing staged is the
// same as Clear, so the map only holds users that are mid-flow.
func (r *Registry) Set(userID int64, s Session) {
	if s.IsIdle() {
		r.Clear(userID)
		return
	}
	s = s.clone()
	s.UpdatedAt = r.now()
	r.mu.Lock()
	r.m[userID] = s
	r.mu.Unlock()
}

// Clear drops the user's session and everything it staged.
func (r *Registry) Clear(userID int64) {
	r.mu.Lock()
	delete(r.m, userID)
	r.mu.Unlock()
}

// ClearDraft clears the user's session only if it still stages the draft with
// the given id. It returns true when a session was cleared.
func (r *Registry) ClearDraft(userID int64, draftID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[userID]
	if !ok || s.Draft == nil || s.Draft.ID != draftID {
		return false
	}
	delete(r.m, userID)
	return true
}

// Sweep removes sessions untouched for longer than ttl and returns how many
// were removed.
func (r *Registry) Sweep(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.m {
		if s.UpdatedAt.Before(cutoff) {
			delete(r.m, id)
			n++
		}
	}
	return n
}

// Len returns the number of users currently mid-flow.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}

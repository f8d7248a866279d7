package cooldown

import (
	"sync"
	"time"
)

const DefaultWindow = 3 * time.Second

// Gate rate-limits actions per user: at most one allowed action per window.
// Rejected attempts do not move the window.
type Gate struct {
	mu     sync.Mutex
	window time.Duration
	last   map[int64]time.Time
	now    func() time.Time
}

type Option func(*Gate)

func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// New returns a gate with the given window; non-positive windows use DefaultWindow.
func New(window time.Duration, opts ...Option) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	g := &Gate{window: window, last: map[int64]time.Time{}, now: time.Now}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Allow records and permits the action when the user's previous allowed
// action is at least one window old. The check and the update are atomic.
func (g *Gate) Allow(userID int64) bool {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.last[userID]; ok && now.Sub(t) < g.window {
		return false
	}
	g.last[userID] = now
	return true
}

// Remaining returns how long the user still has to wait, or 0.
func (g *Gate) Remaining(userID int64) time.Duration {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.last[userID]
	if !ok {
		return 0
	}
	if d := g.window - now.Sub(t); d > 0 {
		return d
	}
	return 0
}

// SetWindow swaps the window in place; existing timestamps are kept.
func (g *Gate) SetWindow(window time.Duration) {
	if window <= 0 {
		window = DefaultWindow
	}
	g.mu.Lock()
	g.window = window
	g.mu.Unlock()
}

func (g *Gate) Window() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.window
}

// Prune forgets users whose last action is outside the window. Forgotten users
// behave exactly like users never seen, so pruning never changes decisions.
func (g *Gate) Prune() int {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for id, t := range g.last {
		if now.Sub(t) >= g.window {
			delete(g.last, id)
			n++
		}
	}
	return n
}

func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.last)
}

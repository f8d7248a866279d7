package router

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"clipbot/internal/runtime/supervisor"
	kit "clipbot/internal/transport"
	logx "clipbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdminOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string // empty keeps it out of the Telegram command menu
	Access      Access
	Timeout     time.Duration // overrides Config.HandlerTimeout
	Handle      HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

type CallbackRoute struct {
	Namespace string
	Action    string
	Access    Access
	Timeout   time.Duration
	Handle    CallbackHandlerFunc
}

// SessionResetter drops a user's conversation state. Every command calls it
// before anything else runs.
type SessionResetter interface {
	Clear(userID int64)
}

// TouchFunc observes every routed update before its handler runs.
type TouchFunc func(ctx context.Context, req *Request)

type Config struct {
	Workers        int // per-user shards
	QueueSize      int // per shard
	HandlerTimeout time.Duration
}

type adminSet struct {
	ids   map[int64]struct{}
	names map[string]struct{}
}

func (a *adminSet) has(id int64, username string) bool {
	if a == nil {
		return false
	}
	if _, ok := a.ids[id]; ok {
		return true
	}
	if u := normalizeUsername(username); u != "" {
		_, ok := a.names[u]
		return ok
	}
	return false
}

// Router maps updates to handlers. Updates from one user are handled one at a
// time and in arrival order; different users run concurrently.
type Router struct {
	mu        sync.RWMutex
	commands  map[string]Command
	menu      []kit.BotCommand
	callbacks map[string]map[string]CallbackRoute
	fallback  HandlerFunc
	touch     TouchFunc

	admins   atomic.Pointer[adminSet]
	cfg      atomic.Pointer[Config]
	sessions SessionResetter
	adapter  kit.Adapter
	log      logx.Logger

	runMu sync.Mutex
	sup   *supervisor.Supervisor
}

func New(cfg Config, adapter kit.Adapter, sessions SessionResetter, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		commands:  map[string]Command{},
		callbacks: map[string]map[string]CallbackRoute{},
		sessions:  sessions,
		adapter:   adapter,
		log:       log,
	}
	r.Apply(cfg)
	r.SetAdmins(nil, nil)
	return r
}

// Apply swaps the handler timeout. Worker and queue sizes apply on the next
// DispatchLoop.
func (r *Router) Apply(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	r.cfg.Store(&cfg)
}

// SetAdmins replaces the admin identity set. Usernames match
// case-insensitively and without "@". Safe during hot reload.
func (r *Router) SetAdmins(ids []int64, usernames []string) {
	a := &adminSet{ids: map[int64]struct{}{}, names: map[string]struct{}{}}
	for _, id := range ids {
		if id != 0 {
			a.ids[id] = struct{}{}
		}
	}
	for _, u := range usernames {
		if n := normalizeUsername(u); n != "" {
			a.names[n] = struct{}{}
		}
	}
	r.admins.Store(a)
}

// IsAdmin reports whether the user holds admin capability.
func (r *Router) IsAdmin(id int64, username string) bool {
	return r.admins.Load().has(id, username)
}

// SetFallback sets the handler for non-command messages.
func (r *Router) SetFallback(h HandlerFunc) {
	r.mu.Lock()
	r.fallback = h
	r.mu.Unlock()
}

func (r *Router) SetTouch(fn TouchFunc) {
	r.mu.Lock()
	r.touch = fn
	r.mu.Unlock()
}

// SetRegistry installs commands and callback routes, replacing any previous
// set, and pushes the command menu to the adapter when it supports one.
func (r *Router) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	commands := map[string]Command{}
	var menu []kit.BotCommand
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		commands[name] = c
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				if _, exists := commands[a]; !exists {
					commands[a] = c
				}
			}
		}
		if c.Description != "" && c.Access == AccessEveryone {
			if mc := sanitizeTelegramCommand(name); mc != "" {
				menu = append(menu, kit.BotCommand{Command: mc, Description: c.Description})
			}
		}
	}
	sort.SliceStable(menu, func(i, j int) bool { return menu[i].Command < menu[j].Command })

	callbacks := map[string]map[string]CallbackRoute{}
	for _, cb := range cbs {
		ns := strings.TrimSpace(cb.Namespace)
		act := strings.TrimSpace(cb.Action)
		if ns == "" || act == "" || cb.Handle == nil {
			continue
		}
		if callbacks[ns] == nil {
			callbacks[ns] = map[string]CallbackRoute{}
		}
		callbacks[ns][act] = cb
	}

	r.mu.Lock()
	r.commands = commands
	r.menu = menu
	r.callbacks = callbacks
	r.mu.Unlock()
}

// PushMenu sends the public command list to the adapter's command menu.
func (r *Router) PushMenu(ctx context.Context) error {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	r.mu.RLock()
	menu := append([]kit.BotCommand(nil), r.menu...)
	r.mu.RUnlock()
	if len(menu) == 0 {
		return nil
	}
	return up.UpdateMenuCommands(ctx, menu)
}

// Supervisor returns the worker supervisor while DispatchLoop runs.
func (r *Router) Supervisor() *supervisor.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.sup
}

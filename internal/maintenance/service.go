// Package maintenance runs the bot's periodic housekeeping on a cron
// schedule: pruning old user actions and sweeping idle sessions and expired
// cooldown records.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "clipbot/pkg/logx"
)

const (
	JobPruneActions  = "prune_actions"
	JobSweepSessions = "sweep_sessions"
)

type Config struct {
	Enabled         bool
	Timezone        string // IANA TZ, e.g. "Asia/Taipei"
	PruneActions    string // cron spec or descriptor
	ActionRetention time.Duration
	SweepSessions   string
	SessionTTL      time.Duration
	JobTimeout      time.Duration
	HistorySize     int
}

const (
	defaultPruneSpec  = "@daily"
	defaultSweepSpec  = "@every 10m"
	defaultRetention  = 720 * time.Hour
	defaultSessionTTL = time.Hour
	defaultTimeout    = 2 * time.Minute
	defaultHistory    = 50
)

func normalize(cfg Config) Config {
	cfg.PruneActions = strings.TrimSpace(cfg.PruneActions)
	if cfg.PruneActions == "" {
		cfg.PruneActions = defaultPruneSpec
	}
	cfg.SweepSessions = strings.TrimSpace(cfg.SweepSessions)
	if cfg.SweepSessions == "" {
		cfg.SweepSessions = defaultSweepSpec
	}
	if cfg.ActionRetention <= 0 {
		cfg.ActionRetention = defaultRetention
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultTimeout
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistory
	}
	return cfg
}

// ActionPruner deletes user actions older than a cutoff.
type ActionPruner interface {
	PruneActions(ctx context.Context, before time.Time) (int64, error)
}

// SessionSweeper drops sessions idle for longer than ttl.
type SessionSweeper interface {
	Sweep(ttl time.Duration) int
}

// GatePruner drops expired cooldown records.
type GatePruner interface {
	Prune() int
}

type Deps struct {
	Actions  ActionPruner
	Sessions SessionSweeper
	Gate     GatePruner
	Now      func() time.Time
}

type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Result   string
	Error    string
}

var ErrUnknownJob = errors.New("unknown maintenance job")

type job struct {
	name string
	spec func(Config) string
	run  func(ctx context.Context, cfg Config) (string, error)
}

type Service struct {
	mu sync.Mutex

	cfg    Config
	deps   Deps
	log    logx.Logger
	parser cron.Parser
	c      *cron.Cron
	jobs   []job

	history []HistoryItem
}

func New(cfg Config, d Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	s := &Service{
		cfg:  normalize(cfg),
		deps: d,
		log:  log,
		// SecondOptional accepts both 5-field and 6-field specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	s.jobs = []job{
		{name: JobPruneActions, spec: func(c Config) string { return c.PruneActions }, run: s.pruneActions},
		{name: JobSweepSessions, spec: func(c Config) string { return c.SweepSessions }, run: s.sweepSessions},
	}
	return s
}

// Validate checks the schedule specs and timezone without touching the
// running cron.
func (s *Service) Validate(cfg Config) error {
	cfg = normalize(cfg)
	if _, err := loadLocation(cfg.Timezone); err != nil {
		return err
	}
	for _, j := range s.jobs {
		if _, err := s.parser.Parse(j.spec(cfg)); err != nil {
			return fmt.Errorf("%s: invalid schedule %q: %w", j.name, j.spec(cfg), err)
		}
	}
	return nil
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", tz, err)
	}
	return loc, nil
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// Apply swaps the config. A running cron is rebuilt so new specs and the new
// timezone take effect; disabling stops it.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	cfg = normalize(cfg)
	if err := s.Validate(cfg); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	running := s.c != nil
	s.mu.Unlock()

	if running {
		s.Stop(ctx)
	}
	if cfg.Enabled {
		return s.Start()
	}
	return nil
}

func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return nil
	}
	loc, err := loadLocation(s.cfg.Timezone)
	if err != nil {
		return err
	}
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, j := range s.jobs {
		j := j
		spec := j.spec(s.cfg)
		if _, err := c.AddFunc(spec, func() { _, _ = s.Run(context.Background(), j.name) }); err != nil {
			return fmt.Errorf("%s: %w", j.name, err)
		}
		s.log.Debug("job scheduled", logx.String("job", j.name), logx.String("spec", spec))
	}
	c.Start()
	s.c = c
	s.log.Info("maintenance started", logx.String("tz", loc.String()), logx.Int("jobs", len(s.jobs)))
	return nil
}

// Stop halts the cron and waits for running jobs until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
		s.log.Info("maintenance stopped")
	case <-ctx.Done():
		s.log.Warn("maintenance stop timed out; jobs still running")
	}
}

// Run executes one job now, records it in the history and returns its
// one-line result.
func (s *Service) Run(ctx context.Context, name string) (result string, err error) {
	var target *job
	for i := range s.jobs {
		if s.jobs[i].name == name {
			target = &s.jobs[i]
		}
	}
	if target == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	started := s.deps.Now()
	rctx, cancel := context.WithTimeout(ctx, cfg.JobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("maintenance job panic", logx.String("job", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
		item := HistoryItem{Name: name, Started: started, Duration: s.deps.Now().Sub(started), Result: result}
		if err != nil {
			item.Error = err.Error()
			s.log.Warn("maintenance job failed", logx.String("job", name), logx.Err(err))
		} else {
			s.log.Debug("maintenance job done", logx.String("job", name), logx.String("result", result))
		}
		s.record(item)
	}()
	return target.run(rctx, cfg)
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, item)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = append([]HistoryItem(nil), s.history[over:]...)
	}
}

// History returns the most recent runs, oldest first.
func (s *Service) History() []HistoryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) pruneActions(ctx context.Context, cfg Config) (string, error) {
	if s.deps.Actions == nil {
		return "skipped: no store", nil
	}
	cutoff := s.deps.Now().Add(-cfg.ActionRetention)
	n, err := s.deps.Actions.PruneActions(ctx, cutoff)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("pruned %d actions before %s", n, cutoff.Format(time.RFC3339)), nil
}

func (s *Service) sweepSessions(_ context.Context, cfg Config) (string, error) {
	sessions, records := 0, 0
	if s.deps.Sessions != nil {
		sessions = s.deps.Sessions.Sweep(cfg.SessionTTL)
	}
	if s.deps.Gate != nil {
		records = s.deps.Gate.Prune()
	}
	return fmt.Sprintf("swept %d sessions, %d cooldown records", sessions, records), nil
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}

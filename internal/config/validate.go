package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrNoToken = errors.New("telegram.token is required (or set " + EnvBotToken + ")")

// Validate checks everything that can be checked without side effects.
// Every problem is reported, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(ErrNoToken)
	}
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if _, err := strconv.ParseInt(g, 10, 64); err != nil {
			add(fmt.Errorf("telegram.group_log: not a chat id: %q", g))
		}
	}
	_, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	add(err)

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "sqlite", "none":
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			add(fmt.Errorf("storage.dsn is required for postgres (or set %s)", EnvDatabaseURL))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	_, err = ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	add(err)

	for path, raw := range map[string]string{
		"broadcast.send_delay":         cfg.Broadcast.SendDelay,
		"broadcast.send_timeout":       cfg.Broadcast.SendTimeout,
		"conversation.cooldown":        cfg.Conversation.Cooldown,
		"conversation.handler_timeout": cfg.Conversation.HandlerTimeout,
		"maintenance.action_retention": cfg.Maintenance.ActionRetention,
		"maintenance.session_ttl":      cfg.Maintenance.SessionTTL,
		"pprof.read_timeout":           cfg.Pprof.ReadTimeout,
		"pprof.write_timeout":          cfg.Pprof.WriteTimeout,
		"pprof.idle_timeout":           cfg.Pprof.IdleTimeout,
	} {
		_, err := ParseDurationField(path, raw)
		add(err)
	}
	for path, n := range map[string]int{
		"broadcast.workers":             cfg.Broadcast.Workers,
		"broadcast.queue_size":          cfg.Broadcast.QueueSize,
		"broadcast.progress_every":      cfg.Broadcast.ProgressEvery,
		"broadcast.max_per_second":      cfg.Broadcast.MaxPerSecond,
		"conversation.dispatch_workers": cfg.Conversation.DispatchWorkers,
		"conversation.search_limit":     cfg.Conversation.SearchLimit,
		"conversation.page_size":        cfg.Conversation.PageSize,
	} {
		if n < 0 {
			add(fmt.Errorf("%s: must be >= 0", path))
		}
	}

	if cfg.Events.AMQP.Enabled && strings.TrimSpace(cfg.Events.AMQP.URL) == "" {
		add(errors.New("events.amqp.url is required when enabled"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

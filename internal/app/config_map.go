package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"clipbot/internal/broadcast"
	"clipbot/internal/config"
	"clipbot/internal/conversation"
	"clipbot/internal/eventbus/amqpsink"
	"clipbot/internal/maintenance"
	"clipbot/internal/observability/pprof"
	"clipbot/internal/storage"
	"clipbot/internal/transport/telegram/router"
	logx "clipbot/pkg/logx"
)

const (
	defaultPollTimeout = 10 * time.Second
	defaultDBPath      = "./data/bot.db"
	defaultBusyTimeout = 5 * time.Second
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// mapStorageConfig resolves the store settings. The bot cannot run without
// a store, so the "none" driver is rejected here.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			path = defaultDBPath
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "postgres", "postgresql":
		dsn := strings.TrimSpace(sc.DSN)
		if dsn == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=%s", driver)
		}
		return storage.Config{Driver: "postgres", DSN: dsn}, nil
	case "none":
		return storage.Config{}, fmt.Errorf("storage.driver=none: %w", storage.ErrDisabled)
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapBroadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	b := cfg.Broadcast
	delay, err := config.ParseDurationField("broadcast.send_delay", b.SendDelay)
	if err != nil {
		return broadcast.Config{}, err
	}
	timeout, err := config.ParseDurationField("broadcast.send_timeout", b.SendTimeout)
	if err != nil {
		return broadcast.Config{}, err
	}
	return broadcast.Config{
		Workers:               b.Workers,
		QueueSize:             b.QueueSize,
		SendDelay:             delay,
		SendTimeout:           timeout,
		ProgressEvery:         b.ProgressEvery,
		MaxPerSecond:          b.MaxPerSecond,
		DeactivateUnreachable: b.DeactivateUnreachable,
	}, nil
}

func mapRouterConfig(cfg *config.Config) (router.Config, error) {
	timeout, err := config.ParseDurationField("conversation.handler_timeout", cfg.Conversation.HandlerTimeout)
	if err != nil {
		return router.Config{}, err
	}
	return router.Config{
		Workers:        cfg.Conversation.DispatchWorkers,
		HandlerTimeout: timeout,
	}, nil
}

func mapConversationConfig(cfg *config.Config) conversation.Config {
	return conversation.Config{
		SearchLimit: cfg.Conversation.SearchLimit,
		PageSize:    cfg.Conversation.PageSize,
	}
}

// cooldownWindow returns the per-user action gap; empty keeps the 3s default.
func cooldownWindow(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationField("conversation.cooldown", cfg.Conversation.Cooldown)
}

func mapMaintenanceConfig(cfg *config.Config) (maintenance.Config, error) {
	m := cfg.Maintenance
	retention, err := config.ParseDurationField("maintenance.action_retention", m.ActionRetention)
	if err != nil {
		return maintenance.Config{}, err
	}
	ttl, err := config.ParseDurationField("maintenance.session_ttl", m.SessionTTL)
	if err != nil {
		return maintenance.Config{}, err
	}
	return maintenance.Config{
		Enabled:         m.Enabled,
		Timezone:        m.Timezone,
		PruneActions:    m.PruneActions,
		ActionRetention: retention,
		SweepSessions:   m.SweepSessions,
		SessionTTL:      ttl,
	}, nil
}

func mapAMQPConfig(cfg *config.Config) (amqpsink.Config, bool) {
	a := cfg.Events.AMQP
	return amqpsink.Config{URL: a.URL, Queue: a.Queue}, a.Enabled
}

func mapPprofConfig(cfg *config.Config) (pprof.Config, error) {
	p := cfg.Pprof
	var errs []error
	parse := func(path, raw string) time.Duration {
		d, err := config.ParseDurationField(path, raw)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}
	out := pprof.Config{
		Enabled:              p.Enabled,
		Addr:                 strings.TrimSpace(p.Addr),
		Prefix:               p.Prefix,
		Token:                p.Token,
		AllowInsecure:        p.AllowInsecure,
		ReadTimeout:          parse("pprof.read_timeout", p.ReadTimeout),
		WriteTimeout:         parse("pprof.write_timeout", p.WriteTimeout),
		IdleTimeout:          parse("pprof.idle_timeout", p.IdleTimeout),
		MutexProfileFraction: p.MutexProfileFraction,
		BlockProfileRate:     p.BlockProfileRate,
	}
	if len(errs) > 0 {
		return pprof.Config{}, errors.Join(errs...)
	}
	return out, nil
}

package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"clipbot/internal/config"
	"clipbot/internal/eventbus/amqpsink"
	logx "clipbot/pkg/logx"
)

// restartOnly lists sections whose changes need a process restart.
var restartOnly = []string{"storage"}

// reload fans a committed config out to the running components. Invalid
// sections keep their previous settings.
func (a *App) reload(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if slices.Contains(restartOnly, s) {
			a.log.Warn("config section changed; restart required", logx.String("section", s))
		}
	}
	if prev.Telegram.Token != next.Telegram.Token || prev.Telegram.PollTimeout != next.Telegram.PollTimeout {
		a.log.Warn("telegram token or poll timeout changed; restart required")
	}

	// Target first so Apply does not warn about a missing chat.
	setLogTarget(a.logs, next)
	a.logs.Apply(mapLogConfig(next))

	a.router.SetAdmins(next.Telegram.AdminUserIDs, next.Telegram.AdminUsernames)
	if rc, err := mapRouterConfig(next); err != nil {
		a.log.Warn("invalid router config; keeping previous", logx.Err(err))
	} else {
		a.router.Apply(rc)
	}

	a.conv.Apply(mapConversationConfig(next))
	if w, err := cooldownWindow(next); err != nil {
		a.log.Warn("invalid cooldown; keeping previous", logx.Err(err))
	} else {
		a.gate.SetWindow(w)
	}

	if bc, err := mapBroadcastConfig(next); err != nil {
		a.log.Warn("invalid broadcast config; keeping previous", logx.Err(err))
	} else {
		a.bc.Apply(bc)
	}

	if mc, err := mapMaintenanceConfig(next); err != nil {
		a.log.Warn("invalid maintenance config; keeping previous", logx.Err(err))
	} else if err := a.maint.Apply(ctx, mc); err != nil {
		a.log.Warn("maintenance reload rejected", logx.Err(err))
	}

	if pc, err := mapPprofConfig(next); err != nil {
		a.log.Warn("invalid pprof config; keeping previous", logx.Err(err))
	} else {
		a.pprof.Reconfigure(ctx, pc)
	}

	a.reloadSink(ctx, next)

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// reloadSink restarts the AMQP sink when its settings change.
func (a *App) reloadSink(ctx context.Context, next *config.Config) {
	cfg, enabled := mapAMQPConfig(next)
	a.sinkMu.Lock()
	same := a.sink != nil && enabled && a.sinkCfg.URL == cfg.URL && a.sinkCfg.Queue == cfg.Queue
	idle := a.sink == nil && !enabled
	a.sinkMu.Unlock()
	if same || idle {
		return
	}

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	if err := a.stopSink(stopCtx); err != nil {
		a.log.Warn("amqp sink stop error", logx.Err(err))
	}
	cancel()

	a.sinkMu.Lock()
	a.sink = nil
	a.sinkCfg = amqpsink.Config{}
	if enabled {
		a.sinkCfg = cfg
		a.sink = amqpsink.New(cfg, a.bus, a.root.With(logx.Component("amqpsink")))
	}
	a.sinkMu.Unlock()
	if enabled {
		a.log.Info("amqp sink reconfigured", logx.String("queue", cfg.Queue))
		a.startSink(ctx)
	} else {
		a.log.Info("amqp sink disabled via config")
	}
}

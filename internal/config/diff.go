package config

import (
	"reflect"
	"sort"
	"strings"

	logx "clipbot/pkg/logx"
)

// SummarizeConfigChange lists the changed top-level sections and returns
// log fields describing their new values. Secrets (bot token, pprof token,
// AMQP URL, database DSN) are reported only as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
	)
	section := func(name string, differs bool, f ...logx.Field) {
		if differs {
			changed = append(changed, name)
			fields = append(fields, f...)
		}
	}
	set := func(s string) bool { return strings.TrimSpace(s) != "" }

	o, n := oldCfg.Telegram, newCfg.Telegram
	section("telegram",
		o.Token != n.Token || o.PollTimeout != n.PollTimeout || o.GroupLog != n.GroupLog ||
			!reflect.DeepEqual(o.AdminUserIDs, n.AdminUserIDs) || !reflect.DeepEqual(o.AdminUsernames, n.AdminUsernames),
		logx.Bool("telegram.token_changed", o.Token != n.Token),
		logx.String("telegram.poll_timeout", n.PollTimeout),
		logx.Int("telegram.admin_ids", len(n.AdminUserIDs)),
		logx.Int("telegram.admin_usernames", len(n.AdminUsernames)),
		logx.Bool("telegram.group_log_set", set(n.GroupLog)),
	)

	section("logging", oldCfg.Logging != newCfg.Logging,
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.console", newCfg.Logging.Console),
		logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
	)

	ost, ns := oldCfg.Storage, newCfg.Storage
	section("storage", ost != ns,
		logx.String("storage.driver", ns.Driver),
		logx.Bool("storage.path_set", set(ns.Path)),
		logx.Bool("storage.dsn_set", set(ns.DSN)),
		logx.String("storage.busy_timeout", ns.BusyTimeout),
	)

	nb := newCfg.Broadcast
	section("broadcast", oldCfg.Broadcast != nb,
		logx.Int("broadcast.workers", nb.Workers),
		logx.Int("broadcast.queue_size", nb.QueueSize),
		logx.String("broadcast.send_delay", nb.SendDelay),
		logx.Int("broadcast.progress_every", nb.ProgressEvery),
		logx.Int("broadcast.max_per_second", nb.MaxPerSecond),
		logx.Bool("broadcast.deactivate_unreachable", nb.DeactivateUnreachable),
	)

	nc := newCfg.Conversation
	section("conversation", oldCfg.Conversation != nc,
		logx.String("conversation.cooldown", nc.Cooldown),
		logx.Int("conversation.dispatch_workers", nc.DispatchWorkers),
		logx.String("conversation.handler_timeout", nc.HandlerTimeout),
		logx.Int("conversation.page_size", nc.PageSize),
	)

	nm := newCfg.Maintenance
	section("maintenance", oldCfg.Maintenance != nm,
		logx.Bool("maintenance.enabled", nm.Enabled),
		logx.String("maintenance.timezone", nm.Timezone),
		logx.String("maintenance.prune_actions", nm.PruneActions),
		logx.String("maintenance.sweep_sessions", nm.SweepSessions),
	)

	na := newCfg.Events.AMQP
	section("events", oldCfg.Events != newCfg.Events,
		logx.Bool("events.amqp.enabled", na.Enabled),
		logx.Bool("events.amqp.url_set", set(na.URL)),
		logx.String("events.amqp.queue", na.Queue),
	)

	np := newCfg.Pprof
	section("pprof", oldCfg.Pprof != np,
		logx.Bool("pprof.enabled", np.Enabled),
		logx.String("pprof.addr", np.Addr),
		logx.String("pprof.prefix", np.Prefix),
		logx.Bool("pprof.token_set", set(np.Token)),
		logx.Bool("pprof.allow_insecure", np.AllowInsecure),
	)

	sort.Strings(changed)
	return changed, fields
}

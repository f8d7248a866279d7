package config

// Config is the on-disk bot configuration (YAML or JSON). Durations are Go
// duration strings ("500ms", "10s", "1m"); empty means the component default.
type Config struct {
	Telegram     TelegramConfig     `json:"telegram"`
	Logging      LoggingConfig      `json:"logging"`
	Storage      StorageConfig      `json:"storage"`
	Broadcast    BroadcastConfig    `json:"broadcast"`
	Conversation ConversationConfig `json:"conversation"`
	Maintenance  MaintenanceConfig  `json:"maintenance"`
	Events       EventsConfig       `json:"events"`
	Pprof        PprofConfig        `json:"pprof,omitempty"`
}

type TelegramConfig struct {
	Token          string   `json:"token"`
	AdminUserIDs   []int64  `json:"admin_user_ids"`
	AdminUsernames []string `json:"admin_usernames,omitempty"`
	// GroupLog is the chat id receiving WARN+ log records (empty disables).
	GroupLog    string `json:"group_log"`
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the persistence backend.
//
//	storage: { driver: sqlite, path: ./data/bot.db }
//	storage: { driver: postgres, dsn: postgres://bot@db/bot?sslmode=disable }
type StorageConfig struct {
	Driver      string `json:"driver"` // sqlite (default) | postgres | none
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type BroadcastConfig struct {
	Workers               int    `json:"workers,omitempty"`
	QueueSize             int    `json:"queue_size,omitempty"`
	SendDelay             string `json:"send_delay,omitempty"`
	SendTimeout           string `json:"send_timeout,omitempty"`
	ProgressEvery         int    `json:"progress_every,omitempty"`
	MaxPerSecond          int    `json:"max_per_second,omitempty"`
	DeactivateUnreachable bool   `json:"deactivate_unreachable,omitempty"`
}

type ConversationConfig struct {
	Cooldown        string `json:"cooldown,omitempty"`
	DispatchWorkers int    `json:"dispatch_workers,omitempty"`
	HandlerTimeout  string `json:"handler_timeout,omitempty"`
	SearchLimit     int    `json:"search_limit,omitempty"`
	PageSize        int    `json:"page_size,omitempty"`
}

type MaintenanceConfig struct {
	Enabled         bool   `json:"enabled"`
	Timezone        string `json:"timezone,omitempty"`
	PruneActions    string `json:"prune_actions,omitempty"`
	ActionRetention string `json:"action_retention,omitempty"`
	SweepSessions   string `json:"sweep_sessions,omitempty"`
	SessionTTL      string `json:"session_ttl,omitempty"`
}

type EventsConfig struct {
	AMQP AMQPConfig `json:"amqp"`
}

type AMQPConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url,omitempty"` // contains credentials; never logged
	Queue   string `json:"queue,omitempty"`
}

// PprofConfig controls the debug HTTP server. Bind to loopback, or set a
// token (or allow_insecure) for anything else.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default "/debug"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// WriteTimeout defaults to 0 so /pprof/profile (30s+) works.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

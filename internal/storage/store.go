package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "clipbot/pkg/logx"
)

// Store is the persistence API used by the conversation and broadcast layers.
type Store interface {
	AddOrTouchUser(ctx context.Context, u User) error
	GetActiveUserIDs(ctx context.Context) ([]int64, error)
	MarkUserInactive(ctx context.Context, userID int64) error
	UserStats(ctx context.Context, now time.Time) (UserStats, error)

	SearchVideos(ctx context.Context, keyword string, limit int) ([]Video, error)
	RandomVideo(ctx context.Context) (Video, bool, error)
	AddVideo(ctx context.Context, v Video) (int64, error)
	DeleteVideo(ctx context.Context, id int64) (bool, error)
	ListVideos(ctx context.Context, hashtag string, offset, limit int) ([]Video, int, error)
	Hashtags(ctx context.Context) ([]string, error)

	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error

	RecordBroadcast(ctx context.Context, r BroadcastRecord) error

	LogAction(ctx context.Context, userID int64, action, data string) error
	PruneActions(ctx context.Context, before time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Open initializes the configured store and applies its schema.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql", "pq":
		return openPostgres(cfg, log)
	case "none":
		return nil, ErrDisabled
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

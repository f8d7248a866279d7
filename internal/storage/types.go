package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite" (or empty): SQLite file at Path
//   - "postgres": server database at DSN
//   - "none": no store; Open returns ErrDisabled
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type User struct {
	ID         int64
	Username   string
	FirstName  string
	LastName   string
	CreatedAt  time.Time
	LastActive time.Time
	Active     bool
}

type Video struct {
	ID         int64
	FileID     string
	Title      string
	Hashtags   string
	UploadedAt time.Time
}

// BroadcastRecord is one finished broadcast as written to broadcast_logs.
type BroadcastRecord struct {
	ReportID    string
	AdminID     int64
	MessageType string
	Content     string
	Total       int
	Succeeded   int
	Failed      int
	Skipped     int
	Cancelled   bool
	StartedAt   time.Time
	FinishedAt  time.Time
}

type UserStats struct {
	Total       int
	NewToday    int
	ActiveToday int
	ActiveWeek  int
}

// Well-known settings keys.
const (
	SettingStartMessage = "start_message_config"
	SettingSponsorLinks = "sponsor_links"
)

// Well-known user action names.
const (
	ActionStart        = "start"
	ActionSearch       = "search"
	ActionRandomVideo  = "random_video"
	ActionSponsorClick = "sponsor_click"
)

const (
	DefaultSearchLimit = 20
	maxContentRunes    = 500
)

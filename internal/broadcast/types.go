package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"clipbot/internal/eventbus"
	"clipbot/internal/session"
	"clipbot/internal/storage"
	kit "clipbot/internal/transport"
	logx "clipbot/pkg/logx"
)

var (
	ErrNothingStaged = errors.New("nothing staged")
	ErrNoRecipients  = errors.New("no recipients")
	ErrBusy          = errors.New("a broadcast is already running for this admin")
	ErrNotRunning    = errors.New("broadcast service not running")
	ErrQueueFull     = errors.New("broadcast queue full")
	ErrRunPanicked   = errors.New("broadcast run panicked")
)

type Config struct {
	Workers       int
	QueueSize     int
	SendDelay     time.Duration // pause after every send attempt of one run
	// MaxPerSecond caps sends across all concurrent runs; 0 uses the default.
	MaxPerSecond  int
	SendTimeout   time.Duration // per send; 0 disables
	ProgressEvery int
	// DeactivateUnreachable marks users who blocked the bot inactive so later
	// snapshots skip them.
	DeactivateUnreachable bool
}

const (
	defaultWorkers       = 2
	defaultQueueSize     = 16
	defaultProgressEvery = 10
	defaultMaxPerSecond  = 25
)

// Store is the persistence the dispatcher needs.
type Store interface {
	GetActiveUserIDs(ctx context.Context) ([]int64, error)
	RecordBroadcast(ctx context.Context, r storage.BroadcastRecord) error
	MarkUserInactive(ctx context.Context, userID int64) error
}

// Gateway delivers one message to one recipient.
type Gateway interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	SendMedia(ctx context.Context, to kit.ChatTarget, media kit.Media, caption string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Drafts clears the admin's staged draft once its run is over.
type Drafts interface {
	ClearDraft(userID int64, draftID string) bool
}

// Progress is emitted every ProgressEvery recipients and once at the end.
type Progress struct {
	Total     int
	Processed int
	Succeeded int
	Failed    int
}

// Report summarizes one run. Succeeded+Failed+Skipped == Total; Skipped is
// non-zero only for cancelled runs.
type Report struct {
	ID         string       `json:"id"`
	AdminID    int64        `json:"admin_id"`
	Kind       session.Kind `json:"kind"`
	Total      int          `json:"total"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Skipped    int          `json:"skipped"`
	Cancelled  bool         `json:"cancelled"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// SuccessRate is Succeeded/Total in percent (0 for empty runs).
func (r Report) SuccessRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Succeeded) / float64(r.Total) * 100
}

func (r Report) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Request is one broadcast order. The draft is copied at Submit/Run time.
type Request struct {
	AdminID int64
	Draft   *session.Draft

	// OnProgress errors and panics are logged and ignored.
	OnProgress func(ctx context.Context, p Progress) error
	// OnDone runs after the report is persisted (background runs only).
	OnDone func(ctx context.Context, r Report, err error)
}

type job struct {
	req   Request
	draft session.Draft
	run   *runState
}

type runState struct {
	once   sync.Once
	cancel chan struct{}
}

func (r *runState) stop() {
	r.once.Do(func() { close(r.cancel) })
}

func (r *runState) cancelled() bool {
	select {
	case <-r.cancel:
		return true
	default:
		return false
	}
}

type Service struct {
	mu sync.Mutex

	cfg    Config
	store  Store
	gw     Gateway
	drafts Drafts
	bus    eventbus.Publisher
	log    logx.Logger

	// limiter is shared by every run so parallel broadcasts stay under the
	// bot-wide send rate.
	limiter *rate.Limiter

	queue chan job
	// stopCh is non-nil while workers run; stopDone is non-nil while a Stop is in progress.
	stopCh    chan struct{}
	stopDone  chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	activeMu sync.Mutex
	active   map[int64]*runState
}

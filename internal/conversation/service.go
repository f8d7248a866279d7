// Package conversation holds the bot's handlers: the user menu and search,
// the admin panel and the broadcast flow. Per-user state lives in a
// session.Registry and routing is done by the telegram router.
package conversation

import (
	"context"
	"sync/atomic"
	"time"

	"clipbot/internal/broadcast"
	"clipbot/internal/cooldown"
	"clipbot/internal/session"
	"clipbot/internal/storage"
	"clipbot/internal/transport/telegram/router"
	logx "clipbot/pkg/logx"
)

// Store is the persistence surface the handlers use.
type Store interface {
	AddOrTouchUser(ctx context.Context, u storage.User) error
	UserStats(ctx context.Context, now time.Time) (storage.UserStats, error)

	SearchVideos(ctx context.Context, keyword string, limit int) ([]storage.Video, error)
	RandomVideo(ctx context.Context) (storage.Video, bool, error)
	AddVideo(ctx context.Context, v storage.Video) (int64, error)
	DeleteVideo(ctx context.Context, id int64) (bool, error)
	ListVideos(ctx context.Context, hashtag string, offset, limit int) ([]storage.Video, int, error)
	Hashtags(ctx context.Context) ([]string, error)

	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	LogAction(ctx context.Context, userID int64, action, data string) error
}

// Broadcaster runs broadcasts in the background.
type Broadcaster interface {
	Submit(req broadcast.Request) error
	Cancel(adminID int64) bool
}

type Config struct {
	SearchLimit int
	PageSize    int
}

const (
	defaultPageSize = 10
	maxTagButtons   = 8
)

type Deps struct {
	Store     Store
	Sessions  *session.Registry
	Gate      *cooldown.Gate
	Broadcast Broadcaster
	Logger    logx.Logger
	Now       func() time.Time
}

type Service struct {
	store    Store
	sessions *session.Registry
	gate     *cooldown.Gate
	bc       Broadcaster
	log      logx.Logger
	now      func() time.Time

	cfg atomic.Pointer[Config]
}

func New(cfg Config, d Deps) *Service {
	if d.Logger.IsZero() {
		d.Logger = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Gate == nil {
		d.Gate = cooldown.New(cooldown.DefaultWindow)
	}
	s := &Service{
		store:    d.Store,
		sessions: d.Sessions,
		gate:     d.Gate,
		bc:       d.Broadcast,
		log:      d.Logger,
		now:      d.Now,
	}
	s.Apply(cfg)
	return s
}

// Apply swaps the tunables. Safe during hot reload.
func (s *Service) Apply(cfg Config) {
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = storage.DefaultSearchLimit
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	s.cfg.Store(&cfg)
}

// Register installs every command, callback and the message fallback on r.
func (s *Service) Register(r *router.Router) {
	r.SetRegistry(s.Commands(), s.Callbacks())
	r.SetFallback(s.OnMessage)
	r.SetTouch(s.Touch)
}

func (s *Service) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "開始使用", Handle: s.cmdStart},
		{Name: "cancel", Description: "取消目前操作", Handle: s.cmdCancel},
		{Name: "admin", Access: router.AccessAdminOnly, Handle: s.cmdAdmin},
		{Name: "delvideo", Access: router.AccessAdminOnly, Handle: s.cmdDelVideo},
	}
}

// Callback namespaces and actions.
const (
	nsMenu  = "menu"
	nsAdmin = "admin"
	nsBC    = "bc"

	actMain     = "main"
	actSearch   = "search"
	actRandom   = "random"
	actNext     = "next"
	actSponsors = "sponsors"

	actEdit        = "edit"
	actEditStart   = "edit_start"
	actEditSponsor = "edit_sponsor"
	actVideoMenu   = "vmenu"
	actVideos      = "videos"
	actUsers       = "users"
	actBroadcast   = "broadcast"

	actButtons = "buttons"
	actSend    = "send"
	actStop    = "stop"
)

func (s *Service) Callbacks() []router.CallbackRoute {
	admin := func(action string, h router.CallbackHandlerFunc) router.CallbackRoute {
		return router.CallbackRoute{Namespace: nsAdmin, Action: action, Access: router.AccessAdminOnly, Handle: h}
	}
	bc := func(action string, h router.CallbackHandlerFunc) router.CallbackRoute {
		return router.CallbackRoute{Namespace: nsBC, Action: action, Access: router.AccessAdminOnly, Handle: h}
	}
	return []router.CallbackRoute{
		{Namespace: nsMenu, Action: actMain, Handle: s.cbMainMenu},
		{Namespace: nsMenu, Action: actSearch, Handle: s.cbSearch},
		{Namespace: nsMenu, Action: actRandom, Handle: s.cbRandom},
		{Namespace: nsMenu, Action: actNext, Handle: s.cbNext},
		{Namespace: nsMenu, Action: actSponsors, Handle: s.cbSponsors},

		admin(actMain, s.cbAdminPanel),
		admin(actEdit, s.cbEditMenu),
		admin(actEditStart, s.cbEditStart),
		admin(actEditSponsor, s.cbEditSponsors),
		admin(actVideoMenu, s.cbVideoMenu),
		admin(actVideos, s.cbVideoList),
		admin(actUsers, s.cbUsers),
		admin(actBroadcast, s.cbBroadcast),

		bc(actButtons, s.cbAddButtons),
		bc(actSend, s.cbSend),
		bc(actStop, s.cbStop),
	}
}

// Touch refreshes the user record on every update. Failures are logged only.
func (s *Service) Touch(ctx context.Context, req *router.Request) {
	if req.FromID == 0 {
		return
	}
	err := s.store.AddOrTouchUser(ctx, storage.User{
		ID:        req.FromID,
		Username:  req.FromUsername,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		req.Logger.Warn("touch user failed", logx.Err(err))
	}
}

// OnMessage handles every non-command message according to the sender's
// session state.
func (s *Service) OnMessage(ctx context.Context, req *router.Request) error {
	sess := s.sessions.Get(req.FromID)
	switch sess.State {
	case session.StateAwaitingBroadcastContent:
		return s.onBroadcastContent(ctx, req, sess)
	case session.StateAwaitingButtonSpec:
		return s.onButtonSpec(ctx, req, sess)
	case session.StateAwaitingSearchKeyword:
		return s.onSearchKeyword(ctx, req)
	case session.StateAwaitingStartText:
		return s.onStartText(ctx, req)
	case session.StateAwaitingSponsorLinks:
		return s.onSponsorLinks(ctx, req)
	}
	return s.onIdleMessage(ctx, req)
}

func (s *Service) cmdCancel(ctx context.Context, req *router.Request) error {
	// The router already reset the session.
	_, err := req.Reply(ctx, textMainMenu, mainMenuKeyboard().Options())
	return err
}

func (s *Service) logAction(ctx context.Context, req *router.Request, action, data string) {
	if err := s.store.LogAction(ctx, req.FromID, action, data); err != nil {
		req.Logger.Warn("log action failed", logx.String("action", action), logx.Err(err))
	}
}

func (s *Service) config() Config { return *s.cfg.Load() }

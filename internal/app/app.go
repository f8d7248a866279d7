// Package app wires the bot: config, logging, storage, the Telegram adapter,
// the conversation router and the background services.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"clipbot/internal/broadcast"
	"clipbot/internal/config"
	"clipbot/internal/conversation"
	"clipbot/internal/cooldown"
	"clipbot/internal/eventbus"
	"clipbot/internal/eventbus/amqpsink"
	"clipbot/internal/maintenance"
	"clipbot/internal/observability/pprof"
	"clipbot/internal/runtime/supervisor"
	"clipbot/internal/session"
	"clipbot/internal/storage"
	kit "clipbot/internal/transport"
	telegram "clipbot/internal/transport/telegram/adapter"
	"clipbot/internal/transport/telegram/router"
	logx "clipbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	root  logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter  *telegram.Adapter
	sessions *session.Registry
	gate     *cooldown.Gate
	router   *router.Router
	conv     *conversation.Service
	bc       *broadcast.Service
	maint    *maintenance.Service
	pprof    *pprof.Service

	sinkMu  sync.Mutex
	sink    *amqpsink.Sink
	sinkCfg amqpsink.Config

	updates chan kit.Update
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.Component("telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// logx.New applies immediately, so start with the Telegram sink off, set
	// the target, then apply the real config.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	setLogTarget(logSvc, cfg)
	logSvc.Apply(logCfg)
	appLog := log.With(logx.Component("app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.Component("storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	appLog.Info("storage ready", logx.String("driver", sc.Driver))

	a, err := build(cfg, ad, store, logSvc, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.cfgm = cfgm
	return a, nil
}

// build wires the runtime graph on top of an open store and adapter.
func build(cfg *config.Config, ad *telegram.Adapter, store storage.Store, logSvc *logx.Service, log logx.Logger) (*App, error) {
	bus := eventbus.New()
	sessions := session.NewRegistry()

	window, err := cooldownWindow(cfg)
	if err != nil {
		return nil, err
	}
	gate := cooldown.New(window)

	bcCfg, err := mapBroadcastConfig(cfg)
	if err != nil {
		return nil, err
	}
	bc := broadcast.New(bcCfg, store, ad, sessions, bus, log.With(logx.Component("broadcast")))

	rCfg, err := mapRouterConfig(cfg)
	if err != nil {
		return nil, err
	}
	r := router.New(rCfg, ad, sessions, log.With(logx.Component("router")))
	r.SetAdmins(cfg.Telegram.AdminUserIDs, cfg.Telegram.AdminUsernames)

	conv := conversation.New(mapConversationConfig(cfg), conversation.Deps{
		Store:     store,
		Sessions:  sessions,
		Gate:      gate,
		Broadcast: bc,
		Logger:    log.With(logx.Component("conversation")),
	})
	conv.Register(r)

	mCfg, err := mapMaintenanceConfig(cfg)
	if err != nil {
		return nil, err
	}
	maint := maintenance.New(mCfg, maintenance.Deps{
		Actions:  store,
		Sessions: sessions,
		Gate:     gate,
	}, log.With(logx.Component("maintenance")))
	if err := maint.Validate(mCfg); err != nil {
		return nil, err
	}

	ppCfg, err := mapPprofConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		log:      log.With(logx.Component("app")),
		root:     log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		sessions: sessions,
		gate:     gate,
		router:   r,
		conv:     conv,
		bc:       bc,
		maint:    maint,
		updates:  make(chan kit.Update, 256),
	}
	a.pprof = pprof.New(ppCfg, a.supervisors, log.With(logx.Component("pprof")))
	if sinkCfg, enabled := mapAMQPConfig(cfg); enabled {
		a.sinkCfg = sinkCfg
		a.sink = amqpsink.New(sinkCfg, bus, log.With(logx.Component("amqpsink")))
	}
	return a, nil
}

func setLogTarget(logs *logx.Service, cfg *config.Config) {
	g := strings.TrimSpace(cfg.Telegram.GroupLog)
	if g == "" {
		logs.SetTelegramTarget(0, 0)
		return
	}
	if chatID, err := strconv.ParseInt(g, 10, 64); err == nil {
		logs.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
}

// supervisors feeds the debug server's snapshot endpoint.
func (a *App) supervisors() map[string]*supervisor.Supervisor {
	out := map[string]*supervisor.Supervisor{
		"app":              a.sup,
		"telegram.adapter": a.adapter.Supervisor(),
		"telegram.router":  a.router.Supervisor(),
	}
	a.sinkMu.Lock()
	if a.sink != nil {
		out["amqpsink"] = a.sink.Supervisor()
	}
	a.sinkMu.Unlock()
	return out
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	c := a.sup.Context()

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.Component("config")))
		a.cfgm.SetValidator(a.validate)
	}

	if err := a.adapter.Start(c, a.updates); err != nil {
		return err
	}
	if err := a.router.PushMenu(c); err != nil {
		a.log.Warn("set command menu failed", logx.Err(err))
	}

	a.bc.Start(c)
	if err := a.maint.Start(); err != nil {
		return fmt.Errorf("maintenance: %w", err)
	}
	a.pprof.Start(c)
	a.startSink(c)

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if a.cfgm != nil {
		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			last := a.cfgm.Get()
			for {
				select {
				case <-c.Done():
					return
				case next, ok := <-sub:
					if !ok {
						return
					}
					// Coalesce bursts: keep only the latest config.
				drain:
					for {
						select {
						case newer := <-sub:
							if newer != nil {
								next = newer
							}
						default:
							break drain
						}
					}
					a.reload(c, last, next)
					last = next
				}
			}
		})
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	a.log.Info("app started")
	return nil
}

// validate rejects a reloaded config before it is committed.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	var errs []error
	if _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapPprofConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if mc, err := mapMaintenanceConfig(cfg); err != nil {
		errs = append(errs, err)
	} else if err := a.maint.Validate(mc); err != nil {
		errs = append(errs, fmt.Errorf("maintenance: %w", err))
	}
	return errors.Join(errs...)
}

func (a *App) startSink(ctx context.Context) {
	a.sinkMu.Lock()
	defer a.sinkMu.Unlock()
	if a.sink == nil {
		return
	}
	if err := a.sink.Start(ctx); err != nil {
		a.log.Warn("amqp sink not started", logx.Err(err))
	}
}

func (a *App) stopSink(ctx context.Context) error {
	a.sinkMu.Lock()
	sink := a.sink
	a.sinkMu.Unlock()
	if sink == nil {
		return nil
	}
	return sink.Stop(ctx)
}

// Stop unwinds every component, each step bounded so one slow component
// cannot stall shutdown.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
			max = time.Until(dl)
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				if err := <-done; err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	step("maintenance", 2*time.Second, func(c context.Context) error { a.maint.Stop(c); return nil })
	step("broadcast", 3*time.Second, func(c context.Context) error { a.bc.Stop(c); return nil })
	step("amqpsink", 2*time.Second, a.stopSink)
	step("pprof", time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

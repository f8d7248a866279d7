package router

import (
	"context"
	"strconv"
	"time"

	"clipbot/internal/runtime/supervisor"
	kit "clipbot/internal/transport"
	logx "clipbot/pkg/logx"
	"clipbot/pkg/tgui"
)

// DispatchLoop consumes updates until ctx ends or updates closes. Each user
// is pinned to one shard worker, which keeps that user's updates serialized.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	cfg := *r.cfg.Load()
	sup := supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(r.log.With(logx.Component("telegram.router"))),
		supervisor.WithCancelOnError(false),
	)
	shards := make([]chan kit.Update, cfg.Workers)
	for i := range shards {
		shards[i] = make(chan kit.Update, cfg.QueueSize)
	}
	r.runMu.Lock()
	r.sup = sup
	r.runMu.Unlock()

	for i, ch := range shards {
		in := ch
		sup.GoRestart("router.shard."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case up, ok := <-in:
					if !ok {
						return nil
					}
					_ = r.Dispatch(c, up)
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
			supervisor.WithStopOnCleanExit(true),
		)
	}
	r.log.Info("dispatcher started", logx.Int("shards", cfg.Workers), logx.Int("shard_queue", cfg.QueueSize))

	defer func() {
		for _, ch := range shards {
			close(ch)
		}
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.runMu.Lock()
		r.sup = nil
		r.runMu.Unlock()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			idx := int(uint64(up.FromID()) % uint64(len(shards)))
			select {
			case shards[idx] <- up:
			default:
				r.rejectBusy(ctx, up)
			}
		}
	}
}

func (r *Router) rejectBusy(ctx context.Context, up kit.Update) {
	r.log.Warn("shard queue full; update dropped", logx.Int64("from_id", up.FromID()))
	switch {
	case up.Callback != nil:
		_ = r.adapter.AnswerCallback(ctx, up.Callback.ID, textBusy, false)
	case up.Message != nil:
		_, _ = r.adapter.SendText(ctx, kit.ChatTarget{ChatID: up.Message.ChatID, ThreadID: up.Message.ThreadID}, textBusy, nil)
	}
}

// Dispatch routes one update on the calling goroutine and renders the
// outcome. It returns the handler's error.
func (r *Router) Dispatch(ctx context.Context, up kit.Update) error {
	switch {
	case up.Message != nil:
		return r.routeMessage(ctx, up)
	case up.Callback != nil:
		return r.routeCallback(ctx, up)
	}
	return nil
}

func (r *Router) newRequest(up kit.Update) *Request {
	req := &Request{Update: up, ReqID: newReqID(), Adapter: r.adapter}
	if m := up.Message; m != nil {
		req.Chat = kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
		req.FromID, req.FromUsername, req.FirstName, req.LastName = m.FromID, m.FromUsername, m.FromFirstName, m.FromLastName
	} else if cb := up.Callback; cb != nil {
		req.Chat = kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
		req.FromID, req.FromUsername, req.FirstName, req.LastName = cb.FromID, cb.FromUsername, cb.FromFirstName, cb.FromLastName
	}
	req.IsAdmin = r.IsAdmin(req.FromID, req.FromUsername)
	req.Logger = r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", req.FromID),
	)
	return req
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) error {
	msg := up.Message
	req := r.newRequest(up)

	r.mu.RLock()
	commands, fallback, touch := r.commands, r.fallback, r.touch
	r.mu.RUnlock()
	if touch != nil {
		touch(ctx, req)
	}

	if msg.IsCommand() {
		parts := tokenizeCommandLine(msg.Text)
		name := commandName(parts[0])
		if r.sessions != nil {
			r.sessions.Clear(msg.FromID)
		}
		cmd, ok := commands[name]
		if !ok {
			req.Logger.Debug("unknown command", logx.String("cmd", name))
			return nil
		}
		req.Command = name
		req.Args = parts[1:]
		err := r.run(ctx, req, cmd.Handle, cmd.Access, cmd.Timeout)
		r.respond(ctx, req, err)
		return err
	}

	if fallback == nil {
		return nil
	}
	req.Command = "message"
	err := r.run(ctx, req, fallback, AccessEveryone, 0)
	r.respond(ctx, req, err)
	return err
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) error {
	cb := up.Callback
	req := r.newRequest(up)

	r.mu.RLock()
	callbacks, touch := r.callbacks, r.touch
	r.mu.RUnlock()
	if touch != nil {
		touch(ctx, req)
	}

	ns, action, payload, ok := tgui.ParseData(cb.Data)
	route, found := callbacks[ns][action]
	if !ok || !found {
		req.Logger.Debug("unknown callback", logx.String("data", cb.Data))
		r.respond(ctx, req, nil)
		return nil
	}
	req.Command = "cb:" + ns + ":" + action
	req.Payload = payload
	h := func(ctx context.Context, rq *Request) error { return route.Handle(ctx, rq, payload) }
	err := r.run(ctx, req, h, route.Access, route.Timeout)
	r.respond(ctx, req, err)
	return err
}

func (r *Router) run(ctx context.Context, req *Request, h HandlerFunc, access Access, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = r.cfg.Load().HandlerTimeout
	}
	final := Chain(h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWAccess(access),
		MWTimeout(timeout),
	)
	return final(ctx, req)
}

// MWAccess rejects non-admin callers of admin-only routes before the handler runs.
func MWAccess(access Access) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if access != AccessAdminOnly {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			if !req.IsAdmin {
				return Visible(ErrCapabilityDenied, textDenied)
			}
			return next(ctx, req)
		}
	}
}

// respond renders err: visible errors show their text, anything else shows a
// generic message. Callbacks are always answered so the client stops spinning.
func (r *Router) respond(ctx context.Context, req *Request, err error) {
	text, visible := VisibleText(err)
	if err == nil {
		text = req.notice
	}
	if err != nil && !visible {
		text = textInternal
		req.Logger.Error("handler error", logx.String("cmd", req.Command), logx.Err(err))
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if cb := req.Callback(); cb != nil {
		if e := r.adapter.AnswerCallback(rctx, cb.ID, text, err != nil); e != nil {
			req.Logger.Debug("answer callback failed", logx.Err(e))
		}
		return
	}
	if err == nil {
		return
	}
	if _, e := r.adapter.SendText(rctx, req.Chat, text, nil); e != nil {
		req.Logger.Warn("error reply failed", logx.Err(e))
	}
}

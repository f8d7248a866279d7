package broadcast

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"clipbot/internal/eventbus"
	"clipbot/internal/session"
	"clipbot/internal/storage"
	kit "clipbot/internal/transport"
	logx "clipbot/pkg/logx"
	"clipbot/pkg/tgui"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			s.execJob(ctx, j)
		}
	}
}

func (s *Service) execJob(ctx context.Context, j job) {
	defer s.end(j.req.AdminID, j.run)
	rep, err := s.guardedExecute(ctx, j.req, j.draft, j.run)
	if j.req.OnDone == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in broadcast OnDone", logx.Int64("admin_id", j.req.AdminID), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	// The status message must still be updated while shutting down.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	j.req.OnDone(dctx, rep, err)
}

// guardedExecute turns a panic that escapes execute into ErrRunPanicked so
// the calling worker goes on to the next job.
func (s *Service) guardedExecute(ctx context.Context, req Request, d session.Draft, st *runState) (rep Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in broadcast run", logx.Int64("admin_id", req.AdminID), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			rep = Report{AdminID: req.AdminID, Kind: d.Kind, FinishedAt: time.Now()}
			err = fmt.Errorf("%w: %v", ErrRunPanicked, r)
			s.clearDraft(req.AdminID, d.ID)
		}
	}()
	return s.execute(ctx, req, d, st)
}

// execute is the run loop: snapshot, one attempt per recipient in order with
// a pause after each, progress, and a persisted report. A panic mid-run still
// persists what was done so far.
func (s *Service) execute(ctx context.Context, req Request, d session.Draft, st *runState) (rep Report, err error) {
	cfg := s.config()
	rep = Report{ID: uuid.NewString(), AdminID: req.AdminID, Kind: d.Kind, StartedAt: time.Now()}
	log := s.log.With(logx.String("broadcast", rep.ID), logx.Int64("admin_id", req.AdminID))

	live, err := s.store.GetActiveUserIDs(ctx)
	if err != nil {
		rep.FinishedAt = time.Now()
		return rep, fmt.Errorf("load recipients: %w", err)
	}
	recipients := append([]int64(nil), live...)
	rep.Total = len(recipients)
	if rep.Total == 0 {
		rep.FinishedAt = time.Now()
		// Nothing was sent, so the draft is released like after any other run.
		s.clearDraft(req.AdminID, d.ID)
		log.Info("broadcast skipped: no recipients")
		return rep, ErrNoRecipients
	}

	log.Info("broadcast started",
		logx.String("kind", string(d.Kind)),
		logx.Int("total", rep.Total),
		logx.Int("buttons", len(d.Buttons)),
		logx.String("content", tgui.TruncRunes(d.Content, 500)),
	)
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeBroadcastStarted, Time: rep.StartedAt, Data: rep})

	finished := false
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		log.Error("panic in broadcast run", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		err = fmt.Errorf("%w: %v", ErrRunPanicked, r)
		if finished {
			return
		}
		rep.Skipped = rep.Total - rep.Succeeded - rep.Failed
		rep.Cancelled = true
		s.finish(ctx, log, req, d, &rep)
	}()

	opt := tgui.NewInline().URLRows(d.Buttons).Options()
	processed := 0
	for i, uid := range recipients {
		if st.cancelled() || ctx.Err() != nil {
			break
		}
		if err := s.limiter.Wait(ctx); err != nil {
			break
		}
		err := s.sendOne(ctx, cfg, kit.ChatTarget{ChatID: uid}, d, opt)
		processed++
		if err == nil {
			rep.Succeeded++
		} else {
			rep.Failed++
			s.noteFailure(ctx, cfg, log, uid, err)
		}
		if processed%cfg.ProgressEvery == 0 && processed < rep.Total {
			s.emitProgress(ctx, log, req, Progress{Total: rep.Total, Processed: processed, Succeeded: rep.Succeeded, Failed: rep.Failed})
		}
		if i < len(recipients)-1 && !pause(ctx, st, cfg.SendDelay) {
			break
		}
	}
	rep.Skipped = rep.Total - processed
	rep.Cancelled = rep.Skipped > 0
	s.emitProgress(ctx, log, req, Progress{Total: rep.Total, Processed: processed, Succeeded: rep.Succeeded, Failed: rep.Failed})

	finished = true
	s.finish(ctx, log, req, d, &rep)
	return rep, nil
}

// pause waits d after a send attempt. It returns false when the run was
// cancelled or ctx ended during the wait.
func pause(ctx context.Context, st *runState, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-st.cancel:
		return false
	case <-ctx.Done():
		return false
	}
}

// finish persists the report, releases the draft and announces the outcome.
func (s *Service) finish(ctx context.Context, log logx.Logger, req Request, d session.Draft, rep *Report) {
	rep.FinishedAt = time.Now()
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	if err := s.store.RecordBroadcast(pctx, storage.BroadcastRecord{
		ReportID:    rep.ID,
		AdminID:     rep.AdminID,
		MessageType: string(d.Kind),
		Content:     d.Content,
		Total:       rep.Total,
		Succeeded:   rep.Succeeded,
		Failed:      rep.Failed,
		Skipped:     rep.Skipped,
		Cancelled:   rep.Cancelled,
		StartedAt:   rep.StartedAt,
		FinishedAt:  rep.FinishedAt,
	}); err != nil {
		log.Error("record broadcast failed", logx.Err(err))
	}
	cancel()
	s.clearDraft(req.AdminID, d.ID)

	fields := []logx.Field{
		logx.Int("total", rep.Total),
		logx.Int("succeeded", rep.Succeeded),
		logx.Int("failed", rep.Failed),
		logx.Int("skipped", rep.Skipped),
		logx.Duration("dur", rep.Duration()),
	}
	switch {
	case rep.Cancelled:
		log.Warn("broadcast cancelled", fields...)
	case rep.Failed > 0:
		log.Warn("broadcast finished with failures", fields...)
	default:
		log.Info("broadcast finished", fields...)
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeBroadcastFinished, Time: rep.FinishedAt, Data: *rep})
}

func (s *Service) clearDraft(adminID int64, draftID string) {
	if s.drafts != nil {
		s.drafts.ClearDraft(adminID, draftID)
	}
}

func (s *Service) sendOne(ctx context.Context, cfg Config, to kit.ChatTarget, d session.Draft, opt *kit.SendOptions) error {
	if cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.SendTimeout)
		defer cancel()
	}
	if d.Kind == session.KindText {
		_, err := s.gw.SendText(ctx, to, d.Content, opt)
		return err
	}
	_, err := s.gw.SendMedia(ctx, to, d.Media(), d.Content, opt)
	return err
}

func (s *Service) noteFailure(ctx context.Context, cfg Config, log logx.Logger, uid int64, err error) {
	if !errors.Is(err, kit.ErrRecipientUnreachable) {
		log.Debug("broadcast send failed", logx.Int64("user_id", uid), logx.String("class", "error"), logx.Err(err))
		return
	}
	log.Debug("broadcast recipient unreachable", logx.Int64("user_id", uid), logx.String("class", "unreachable"))
	if !cfg.DeactivateUnreachable {
		return
	}
	if e := s.store.MarkUserInactive(ctx, uid); e != nil {
		log.Warn("mark user inactive failed", logx.Int64("user_id", uid), logx.Err(e))
	}
}

func (s *Service) emitProgress(ctx context.Context, log logx.Logger, req Request, p Progress) {
	if req.OnProgress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn("panic in progress update", logx.Int("processed", p.Processed), logx.Any("panic", r))
		}
	}()
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := req.OnProgress(pctx, p); err != nil {
		log.Debug("progress update failed", logx.Int("processed", p.Processed), logx.Err(err))
	}
}

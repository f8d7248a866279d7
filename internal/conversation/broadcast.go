package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"clipbot/internal/broadcast"
	"clipbot/internal/session"
	"clipbot/internal/transport/telegram/router"
	logx "clipbot/pkg/logx"
	"clipbot/pkg/tgui"
)

const previewRunes = 100

func kindLabel(k session.Kind) string {
	switch k {
	case session.KindPhoto:
		return labelPhoto
	case session.KindAnimation:
		return labelAnimation
	case session.KindVideo:
		return labelVideo
	}
	return ""
}

// previewContent renders the draft body the way previews show it: text as is,
// media as "<label>: <caption>".
func previewContent(d session.Draft) string {
	content := d.Content
	if d.Kind != session.KindText {
		caption := d.Content
		if strings.TrimSpace(caption) == "" {
			caption = labelNoCaption
		}
		content = kindLabel(d.Kind) + ": " + caption
	}
	if len([]rune(content)) > previewRunes {
		return string([]rune(content)[:previewRunes]) + "..."
	}
	return content
}

func previewKeyboard() *tgui.Inline {
	return tgui.NewInline().
		Row(tgui.Btn(btnSendNow, tgui.Data(nsBC, actSend, ""))).
		Row(tgui.Btn(btnAddButtons, tgui.Data(nsBC, actButtons, ""))).
		Row(tgui.Btn(btnCancel, tgui.Data(nsAdmin, actMain, "")))
}

func confirmKeyboard() *tgui.Inline {
	return tgui.NewInline().
		Row(tgui.Btn(btnConfirm, tgui.Data(nsBC, actSend, ""))).
		Row(tgui.Btn(btnCancel, tgui.Data(nsAdmin, actMain, "")))
}

func stopKeyboard() *tgui.Inline {
	return tgui.NewInline().Row(tgui.Btn(btnStop, tgui.Data(nsBC, actStop, "")))
}

// cbBroadcast enters AWAITING_BROADCAST_CONTENT. Admin access is enforced by
// the route.
func (s *Service) cbBroadcast(ctx context.Context, req *router.Request, _ string) error {
	if err := show(ctx, req, textAskBroadcast, backToPanelKeyboard(btnCancel)); err != nil {
		return err
	}
	s.sessions.Set(req.FromID, session.Session{State: session.StateAwaitingBroadcastContent})
	return nil
}

// onBroadcastContent stages the message as a draft and shows the preview.
// Unsupported content leaves the state as is so the admin can retry.
func (s *Service) onBroadcastContent(ctx context.Context, req *router.Request, sess session.Session) error {
	if err := s.requireAdmin(req); err != nil {
		return err
	}
	d, err := session.DraftFromMessage(req.Message())
	if err != nil {
		return router.Visible(err, textUnsupported)
	}
	text := fmt.Sprintf(textPreview, d.Kind, previewContent(d))
	if _, err := req.Reply(ctx, text, previewKeyboard().Options()); err != nil {
		return err
	}
	sess.State = session.StateConfirmSend
	sess.Draft = &d
	s.sessions.Set(req.FromID, sess)
	req.Logger.Info("broadcast draft staged", logx.String("draft", d.ID), logx.String("kind", string(d.Kind)))
	return nil
}

func (s *Service) stagedDraft(req *router.Request) (session.Session, error) {
	sess := s.sessions.Get(req.FromID)
	if sess.Draft == nil {
		return sess, router.Visible(broadcast.ErrNothingStaged, textNothing)
	}
	return sess, nil
}

func (s *Service) cbAddButtons(ctx context.Context, req *router.Request, _ string) error {
	sess, err := s.stagedDraft(req)
	if err != nil {
		return err
	}
	if err := show(ctx, req, textAskButtons, backToPanelKeyboard(btnCancel)); err != nil {
		return err
	}
	sess.State = session.StateAwaitingButtonSpec
	s.sessions.Set(req.FromID, sess)
	return nil
}

// onButtonSpec attaches the parsed buttons. The parse is lenient: no valid
// line means no buttons.
func (s *Service) onButtonSpec(ctx context.Context, req *router.Request, sess session.Session) error {
	if err := s.requireAdmin(req); err != nil {
		return err
	}
	if sess.Draft == nil {
		s.sessions.Clear(req.FromID)
		return router.Visible(broadcast.ErrNothingStaged, textNothing)
	}
	d := sess.Draft.Clone()
	d.Buttons = session.ParseButtons(req.Message().Text)

	var list strings.Builder
	if len(d.Buttons) > 0 {
		list.WriteString("\n\n按鈕：\n")
		for i, b := range d.Buttons {
			fmt.Fprintf(&list, "%d. %s → %s\n", i+1, b.Text, b.URL)
		}
	}
	text := fmt.Sprintf(textFinalPreview, d.Kind, previewContent(d), strings.TrimRight(list.String(), "\n"))
	if _, err := req.Reply(ctx, text, confirmKeyboard().Options()); err != nil {
		return err
	}
	sess.State = session.StateConfirmSend
	sess.Draft = &d
	s.sessions.Set(req.FromID, sess)
	return nil
}

// cbSend hands the staged draft to the dispatcher. The status message is the
// one the button sits on; progress and the final report edit it in place.
// The dispatcher clears the draft when the run ends.
func (s *Service) cbSend(ctx context.Context, req *router.Request, _ string) error {
	sess, err := s.stagedDraft(req)
	if err != nil {
		return err
	}
	status, ok := req.Origin()
	if !ok {
		ref, err := req.Reply(ctx, textStarting, stopKeyboard().Options())
		if err != nil {
			return err
		}
		status = ref
	} else if err := req.Edit(ctx, textStarting, stopKeyboard().Options()); err != nil {
		return err
	}

	adapter := req.Adapter
	log := req.Logger
	err = s.bc.Submit(broadcast.Request{
		AdminID: req.FromID,
		Draft:   sess.Draft,
		OnProgress: func(ctx context.Context, p broadcast.Progress) error {
			text := fmt.Sprintf(textProgress, p.Total, p.Processed, p.Total, p.Succeeded, p.Failed)
			return adapter.EditText(ctx, status, text, stopKeyboard().Options())
		},
		OnDone: func(ctx context.Context, r broadcast.Report, err error) {
			text := reportText(r, err)
			if err != nil && !errors.Is(err, broadcast.ErrNoRecipients) {
				log.Error("broadcast failed", logx.Err(err))
			}
			if e := adapter.EditText(ctx, status, text, backToPanelKeyboard(btnBackPanel).Options()); e != nil {
				log.Warn("final report edit failed; sending new message", logx.Err(e))
				_, _ = adapter.SendText(ctx, status.Target(), text, backToPanelKeyboard(btnBackPanel).Options())
			}
		},
	})
	if err == nil {
		log.Info("broadcast submitted", logx.String("draft", sess.Draft.ID))
		return nil
	}
	// Put the confirmation back so the admin can retry.
	restore := fmt.Sprintf(textFinalPreview, sess.Draft.Kind, previewContent(*sess.Draft), "")
	if e := adapter.EditText(ctx, status, restore, confirmKeyboard().Options()); e != nil {
		log.Debug("restore preview failed", logx.Err(e))
	}
	switch {
	case errors.Is(err, broadcast.ErrBusy):
		return router.Visible(err, textBusy)
	case errors.Is(err, broadcast.ErrNothingStaged):
		return router.Visible(err, textNothing)
	case errors.Is(err, broadcast.ErrNotRunning), errors.Is(err, broadcast.ErrQueueFull):
		return router.Visible(err, textUnavailable)
	}
	return err
}

func reportText(r broadcast.Report, err error) string {
	switch {
	case errors.Is(err, broadcast.ErrNoRecipients):
		return textNoUsers
	case err != nil:
		return textFailed
	case r.Cancelled:
		return fmt.Sprintf(textStopped, r.Total, r.Succeeded, r.Failed, r.Skipped, r.SuccessRate())
	}
	return fmt.Sprintf(textDone, r.Total, r.Succeeded, r.Failed, r.SuccessRate())
}

func (s *Service) cbStop(ctx context.Context, req *router.Request, _ string) error {
	if !s.bc.Cancel(req.FromID) {
		return router.Visible(broadcast.ErrNotRunning, textNotRunning)
	}
	req.Notice(textStopAsked)
	return nil
}

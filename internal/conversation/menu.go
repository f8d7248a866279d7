package conversation

import (
	"context"
	"encoding/json"
	"strings"

	"clipbot/internal/session"
	"clipbot/internal/storage"
	kit "clipbot/internal/transport"
	"clipbot/internal/transport/telegram/router"
	logx "clipbot/pkg/logx"
	"clipbot/pkg/tgui"
)

// startConfig is the JSON stored under storage.SettingStartMessage.
type startConfig struct {
	Text    string       `json:"text"`
	Buttons []kit.Button `json:"buttons"`
}

func (s *Service) loadStartConfig(ctx context.Context, log logx.Logger) (startConfig, error) {
	raw, ok, err := s.store.GetSetting(ctx, storage.SettingStartMessage)
	if err != nil {
		return startConfig{}, err
	}
	var sc startConfig
	if ok && strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &sc); err != nil {
			log.Warn("invalid start message config; using default", logx.Err(err))
			sc = startConfig{}
		}
	}
	if strings.TrimSpace(sc.Text) == "" {
		sc.Text = textWelcome
	}
	return sc, nil
}

func (s *Service) sponsorButtons(ctx context.Context) ([]kit.Button, error) {
	raw, _, err := s.store.GetSetting(ctx, storage.SettingSponsorLinks)
	if err != nil {
		return nil, err
	}
	return session.ParseButtons(raw), nil
}

func mainMenuKeyboard() *tgui.Inline {
	return tgui.NewInline().
		Row(tgui.Btn(btnSearch, tgui.Data(nsMenu, actSearch, ""))).
		Row(tgui.Btn(btnRandom, tgui.Data(nsMenu, actRandom, ""))).
		Row(tgui.Btn(btnSponsors, tgui.Data(nsMenu, actSponsors, "")))
}

func backToMenuKeyboard() *tgui.Inline {
	return tgui.NewInline().Row(tgui.Btn(btnBackMenu, tgui.Data(nsMenu, actMain, "")))
}

// show edits the callback's message into text. Media messages cannot take a
// text edit, so a failed edit falls back to a new message.
func show(ctx context.Context, req *router.Request, text string, kb *tgui.Inline) error {
	opt := kb.Options()
	if _, ok := req.Origin(); !ok {
		_, err := req.Reply(ctx, text, opt)
		return err
	}
	if err := req.Edit(ctx, text, opt); err != nil {
		req.Logger.Debug("edit failed; sending new message", logx.Err(err))
		_, err = req.Reply(ctx, text, opt)
		return err
	}
	return nil
}

func (s *Service) cmdStart(ctx context.Context, req *router.Request) error {
	req.Logger.Info("start", logx.String("username", req.FromUsername))
	s.logAction(ctx, req, storage.ActionStart, "")

	sc, err := s.loadStartConfig(ctx, req.Logger)
	if err != nil {
		return err
	}
	kb := tgui.NewInline().URLRows(sc.Buttons).
		Row(tgui.Btn(btnJoined, tgui.Data(nsMenu, actMain, "")))
	_, err = req.Reply(ctx, sc.Text, kb.Options())
	return err
}

// cbMainMenu is both "joined groups" and "back to menu". It ends any flow.
func (s *Service) cbMainMenu(ctx context.Context, req *router.Request, _ string) error {
	s.sessions.Clear(req.FromID)
	return show(ctx, req, textMainMenu, mainMenuKeyboard())
}

func (s *Service) cbSponsors(ctx context.Context, req *router.Request, _ string) error {
	s.logAction(ctx, req, storage.ActionSponsorClick, "")
	buttons, err := s.sponsorButtons(ctx)
	if err != nil {
		return err
	}
	kb := tgui.NewInline().URLRows(buttons).
		Row(tgui.Btn(btnBackMenu, tgui.Data(nsMenu, actMain, "")))
	return show(ctx, req, textSponsors, kb)
}

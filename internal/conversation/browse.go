package conversation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"clipbot/internal/session"
	"clipbot/internal/storage"
	kit "clipbot/internal/transport"
	"clipbot/internal/transport/telegram/router"
	logx "clipbot/pkg/logx"
	"clipbot/pkg/tgui"
)

var errCoolingDown = errors.New("cooling down")

func (s *Service) allow(req *router.Request) error {
	if s.gate.Allow(req.FromID) {
		return nil
	}
	return router.Visible(errCoolingDown, textCooldown)
}

func videoCaption(v storage.Video) string {
	c := "🎬 " + v.Title
	if strings.TrimSpace(v.Hashtags) != "" {
		c += "\n🏷️ " + v.Hashtags
	}
	return c
}

func (s *Service) videoCard(ctx context.Context, v storage.Video) (kit.Media, string, *kit.SendOptions, error) {
	sponsors, err := s.sponsorButtons(ctx)
	if err != nil {
		return kit.Media{}, "", nil, err
	}
	kb := tgui.NewInline().
		Row(tgui.Btn(btnNext, tgui.Data(nsMenu, actNext, ""))).
		Row(tgui.Btn(btnBackMenu, tgui.Data(nsMenu, actMain, ""))).
		URLRows(sponsors)
	return kit.Media{Kind: kit.MediaVideo, FileID: v.FileID}, videoCaption(v), kb.Options(), nil
}

func (s *Service) cbSearch(ctx context.Context, req *router.Request, _ string) error {
	if err := s.allow(req); err != nil {
		return err
	}
	if err := show(ctx, req, textAskKeyword, nil); err != nil {
		return err
	}
	s.sessions.Set(req.FromID, session.Session{State: session.StateAwaitingSearchKeyword})
	return nil
}

// onSearchKeyword treats the message text as the keyword. The session returns
// to idle whether or not anything matched.
func (s *Service) onSearchKeyword(ctx context.Context, req *router.Request) error {
	keyword := strings.TrimSpace(req.Message().Text)
	if keyword == "" {
		_, err := req.Reply(ctx, textAskKeyword, nil)
		return err
	}
	s.logAction(ctx, req, storage.ActionSearch, keyword)
	videos, err := s.store.SearchVideos(ctx, keyword, s.config().SearchLimit)
	if err != nil {
		return err
	}
	s.sessions.Clear(req.FromID)
	req.Logger.Debug("search", logx.String("keyword", keyword), logx.Int("hits", len(videos)))

	if len(videos) == 0 {
		_, err := req.Reply(ctx, fmt.Sprintf(textNotFound, keyword), backToMenuKeyboard().Options())
		return err
	}
	media, caption, opt, err := s.videoCard(ctx, videos[rand.IntN(len(videos))])
	if err != nil {
		return err
	}
	_, err = req.ReplyMedia(ctx, media, caption, opt)
	return err
}

// cbRandom comes from the text menu, so the card is sent as a new message.
func (s *Service) cbRandom(ctx context.Context, req *router.Request, _ string) error {
	if err := s.allow(req); err != nil {
		return err
	}
	s.logAction(ctx, req, storage.ActionRandomVideo, "")
	v, ok, err := s.store.RandomVideo(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return show(ctx, req, textNoVideos, backToMenuKeyboard())
	}
	media, caption, opt, err := s.videoCard(ctx, v)
	if err != nil {
		return err
	}
	_, err = req.ReplyMedia(ctx, media, caption, opt)
	return err
}

// cbNext swaps the media of the card the button sits on.
func (s *Service) cbNext(ctx context.Context, req *router.Request, _ string) error {
	if err := s.allow(req); err != nil {
		return err
	}
	s.logAction(ctx, req, storage.ActionRandomVideo, "next")
	v, ok, err := s.store.RandomVideo(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return router.Visible(storage.ErrNotFound, textNoVideos)
	}
	media, caption, opt, err := s.videoCard(ctx, v)
	if err != nil {
		return err
	}
	return req.EditMedia(ctx, media, caption, opt)
}

// onIdleMessage handles messages outside any flow: admin video uploads and
// the echo reply.
func (s *Service) onIdleMessage(ctx context.Context, req *router.Request) error {
	m := req.Message()
	if m.Media != nil && m.Media.Kind == kit.MediaVideo && req.IsAdmin {
		return s.uploadVideo(ctx, req, m)
	}
	if strings.TrimSpace(m.Text) == "" {
		return nil
	}
	_, err := req.Reply(ctx, fmt.Sprintf(textEcho, m.Text), nil)
	return err
}

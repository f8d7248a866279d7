package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"clipbot/internal/session"
	"clipbot/internal/storage"
	kit "clipbot/internal/transport"
	"clipbot/internal/transport/telegram/router"
	logx "clipbot/pkg/logx"
	"clipbot/pkg/tgui"
)

var errBadInput = errors.New("invalid input")

func adminPanelKeyboard() *tgui.Inline {
	return tgui.NewInline().
		Row(tgui.Btn(btnEdit, tgui.Data(nsAdmin, actEdit, ""))).
		Row(tgui.Btn(btnVideos, tgui.Data(nsAdmin, actVideoMenu, ""))).
		Row(tgui.Btn(btnUsers, tgui.Data(nsAdmin, actUsers, ""))).
		Row(tgui.Btn(btnBroadcast, tgui.Data(nsAdmin, actBroadcast, "")))
}

func backToPanelKeyboard(label string) *tgui.Inline {
	return tgui.NewInline().Row(tgui.Btn(label, tgui.Data(nsAdmin, actMain, "")))
}

func (s *Service) cmdAdmin(ctx context.Context, req *router.Request) error {
	req.Logger.Info("admin panel opened")
	_, err := req.Reply(ctx, textAdminPanel, adminPanelKeyboard().Options())
	return err
}

// cbAdminPanel also serves as "cancel" for every admin flow.
func (s *Service) cbAdminPanel(ctx context.Context, req *router.Request, _ string) error {
	s.sessions.Clear(req.FromID)
	return show(ctx, req, textAdminPanel, adminPanelKeyboard())
}

func (s *Service) cbEditMenu(ctx context.Context, req *router.Request, _ string) error {
	kb := tgui.NewInline().
		Row(tgui.Btn(btnEditStart, tgui.Data(nsAdmin, actEditStart, ""))).
		Row(tgui.Btn(btnEditLinks, tgui.Data(nsAdmin, actEditSponsor, ""))).
		Row(tgui.Btn(btnBack, tgui.Data(nsAdmin, actMain, "")))
	return show(ctx, req, textEditMenu, kb)
}

func (s *Service) cbEditStart(ctx context.Context, req *router.Request, _ string) error {
	if err := show(ctx, req, textAskStart, backToPanelKeyboard(btnCancel)); err != nil {
		return err
	}
	s.sessions.Set(req.FromID, session.Session{State: session.StateAwaitingStartText})
	return nil
}

func (s *Service) cbEditSponsors(ctx context.Context, req *router.Request, _ string) error {
	if err := show(ctx, req, textAskSponsors, backToPanelKeyboard(btnCancel)); err != nil {
		return err
	}
	s.sessions.Set(req.FromID, session.Session{State: session.StateAwaitingSponsorLinks})
	return nil
}

// requireAdmin rejects input to a flow whose owner lost admin rights since it
// started. The session is left as is.
func (s *Service) requireAdmin(req *router.Request) error {
	if req.IsAdmin {
		return nil
	}
	return router.Visible(router.ErrCapabilityDenied, "❌ 無權限")
}

// onStartText replaces the start text and keeps the configured buttons.
func (s *Service) onStartText(ctx context.Context, req *router.Request) error {
	if err := s.requireAdmin(req); err != nil {
		return err
	}
	text := strings.TrimSpace(req.Message().Text)
	if text == "" {
		return router.Visible(errBadInput, textTextOnly)
	}
	sc, err := s.loadStartConfig(ctx, req.Logger)
	if err != nil {
		return err
	}
	sc.Text = text
	raw, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	if err := s.store.SetSetting(ctx, storage.SettingStartMessage, string(raw)); err != nil {
		return err
	}
	s.sessions.Clear(req.FromID)
	req.Logger.Info("start message updated", logx.Int("buttons", len(sc.Buttons)))
	_, err = req.Reply(ctx, textStartSaved, backToPanelKeyboard(btnBackPanel).Options())
	return err
}

// onSponsorLinks stores the raw text once at least one line parses.
func (s *Service) onSponsorLinks(ctx context.Context, req *router.Request) error {
	if err := s.requireAdmin(req); err != nil {
		return err
	}
	raw := strings.TrimSpace(req.Message().Text)
	buttons := session.ParseButtons(raw)
	if len(buttons) == 0 {
		return router.Visible(errBadInput, textSponsorsBad)
	}
	if err := s.store.SetSetting(ctx, storage.SettingSponsorLinks, raw); err != nil {
		return err
	}
	s.sessions.Clear(req.FromID)
	req.Logger.Info("sponsor links updated", logx.Int("count", len(buttons)))
	_, err := req.Reply(ctx, fmt.Sprintf(textSponsorsOK, len(buttons)), backToPanelKeyboard(btnBackPanel).Options())
	return err
}

func (s *Service) cbVideoMenu(ctx context.Context, req *router.Request, _ string) error {
	kb := tgui.NewInline().
		Row(tgui.Btn(btnVideoList, tgui.Data(nsAdmin, actVideos, "0"))).
		Row(tgui.Btn(btnBack, tgui.Data(nsAdmin, actMain, "")))
	return show(ctx, req, textVideoMenu, kb)
}

// parseListPayload reads "<page>" or "<page>:<tag>" (tag without '#').
func parseListPayload(p string) (page int, tag string) {
	ps, t, _ := strings.Cut(p, ":")
	page, _ = strconv.Atoi(ps)
	if t != "" {
		tag = "#" + t
	}
	return max(page, 0), tag
}

func listPayload(page int, tag string) string {
	p := strconv.Itoa(page)
	if tag != "" {
		p += ":" + strings.TrimPrefix(tag, "#")
	}
	return p
}

func (s *Service) cbVideoList(ctx context.Context, req *router.Request, payload string) error {
	size := s.config().PageSize
	page, tag := parseListPayload(payload)

	videos, total, err := s.store.ListVideos(ctx, tag, page*size, size)
	if err != nil {
		return err
	}
	if clamped := tgui.ClampPage(page, size, total); clamped != page {
		// The list shrank since the button was rendered.
		page = clamped
		if videos, total, err = s.store.ListVideos(ctx, tag, page*size, size); err != nil {
			return err
		}
	}
	tags, err := s.store.Hashtags(ctx)
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("📋 影片列表")
	if tag != "" {
		b.WriteString(" " + tag)
	}
	fmt.Fprintf(&b, "\n\n總影片數：%d\n標籤分類：%d個\n\n", total, len(tags))
	for _, v := range videos {
		fmt.Fprintf(&b, "ID:%d | %s\n", v.ID, tgui.TruncRunes(v.Title, 40))
		if v.Hashtags != "" {
			fmt.Fprintf(&b, "   🏷️ %s\n", v.Hashtags)
		}
	}
	b.WriteString("\n" + tgui.PageLabel(page, size, total))

	kb := tgui.NewInline()
	var nav []tele.Btn
	if page > 0 {
		nav = append(nav, tgui.Btn(btnPrev, tgui.Data(nsAdmin, actVideos, listPayload(page-1, tag))))
	}
	if page+1 < tgui.PageCount(total, size) {
		nav = append(nav, tgui.Btn(btnNextPage, tgui.Data(nsAdmin, actVideos, listPayload(page+1, tag))))
	}
	kb.Row(nav...)
	if tag != "" {
		kb.Row(tgui.Btn(btnAllVideos, tgui.Data(nsAdmin, actVideos, "0")))
	}
	added := 0
	for _, t := range tags {
		if added >= maxTagButtons || strings.EqualFold(t, tag) {
			continue
		}
		data := tgui.Data(nsAdmin, actVideos, listPayload(0, t))
		if tgui.CheckData(data) != nil {
			continue
		}
		kb.Row(tgui.Btn("🏷️ "+t, data))
		added++
	}
	kb.Row(tgui.Btn(btnBack, tgui.Data(nsAdmin, actVideoMenu, "")))
	return show(ctx, req, b.String(), kb)
}

func (s *Service) cmdDelVideo(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return router.Visible(errBadInput, textDelUsage)
	}
	id, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil || id <= 0 {
		return router.Visible(errBadInput, textDelUsage)
	}
	ok, err := s.store.DeleteVideo(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return router.Visible(storage.ErrNotFound, fmt.Sprintf(textDelMissing, id))
	}
	req.Logger.Info("video deleted", logx.Int64("video_id", id))
	_, err = req.Reply(ctx, fmt.Sprintf(textDeleted, id), nil)
	return err
}

// uploadVideo files an admin's video: the first caption line is the title and
// #tags in the caption become its hashtags.
func (s *Service) uploadVideo(ctx context.Context, req *router.Request, m *kit.Message) error {
	caption := strings.TrimSpace(m.Caption)
	title, _, _ := strings.Cut(caption, "\n")
	title = strings.TrimSpace(title)
	if title == "" {
		title = fmt.Sprintf("影片_%d", s.now().Unix())
	}
	tags := strings.Join(storage.ExtractHashtags(caption), " ")

	id, err := s.store.AddVideo(ctx, storage.Video{FileID: m.Media.FileID, Title: title, Hashtags: tags, UploadedAt: s.now()})
	if err != nil {
		return err
	}
	req.Logger.Info("video uploaded", logx.Int64("video_id", id), logx.String("title", title))
	shown := tags
	if shown == "" {
		shown = labelNone
	}
	_, err = req.Reply(ctx, fmt.Sprintf(textUploaded, id, title, shown), nil)
	return err
}

func (s *Service) cbUsers(ctx context.Context, req *router.Request, _ string) error {
	st, err := s.store.UserStats(ctx, s.now())
	if err != nil {
		return err
	}
	text := fmt.Sprintf(textUserStats, st.Total, st.NewToday, st.ActiveToday, st.ActiveWeek)
	return show(ctx, req, text, backToPanelKeyboard(btnBack))
}

package adapter

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "clipbot/internal/runtime/supervisor"
	kit "clipbot/internal/transport"
	logx "clipbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter bridges telebot to the transport interfaces.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Pointer[chan<- kit.Update]
	runMu   sync.Mutex
	running bool

	// sup owns the poll loop and drop reporter between Start and Stop.
	sup *rtsup.Supervisor

	droppedUpdates atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, c tele.Context) {
			log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	a.registerHandlers()
	return a, nil
}

// Supervisor returns the adapter's internal supervisor (nil if not started).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func (a *Adapter) registerHandlers() {
	onMessage := func(c tele.Context) error {
		if m := convertMessage(c.Message()); m != nil {
			a.forward(kit.Update{Kind: kit.UpdateMessage, Message: m})
		}
		return nil
	}
	for _, ev := range []string{tele.OnText, tele.OnPhoto, tele.OnAnimation, tele.OnVideo} {
		a.bot.Handle(ev, onMessage)
	}

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		if cb == nil || cb.Sender == nil {
			return nil
		}
		out := &kit.Callback{
			ID:            cb.ID,
			FromID:        cb.Sender.ID,
			FromUsername:  cb.Sender.Username,
			FromFirstName: cb.Sender.FirstName,
			FromLastName:  cb.Sender.LastName,
			Data:          cb.Data,
		}
		if m := cb.Message; m != nil && m.Chat != nil {
			out.ChatID, out.ThreadID, out.MessageID = m.Chat.ID, m.ThreadID, m.ID
		} else {
			out.ChatID = cb.Sender.ID
		}
		a.forward(kit.Update{Kind: kit.UpdateCallback, Callback: out})
		return nil
	})
}

// convertMessage maps a telebot message; nil when it has no human sender.
func convertMessage(m *tele.Message) *kit.Message {
	if m == nil || m.Sender == nil || m.Chat == nil {
		return nil
	}
	out := &kit.Message{
		ID:            m.ID,
		ChatID:        m.Chat.ID,
		ThreadID:      m.ThreadID,
		FromID:        m.Sender.ID,
		FromUsername:  m.Sender.Username,
		FromFirstName: m.Sender.FirstName,
		FromLastName:  m.Sender.LastName,
		Text:          m.Text,
		Caption:       m.Caption,
		IsGroup:       m.Chat.Type != tele.ChatPrivate,
	}
	switch {
	case m.Photo != nil:
		out.Media = &kit.Media{Kind: kit.MediaPhoto, FileID: m.Photo.FileID}
	case m.Animation != nil:
		out.Media = &kit.Media{Kind: kit.MediaAnimation, FileID: m.Animation.FileID}
	case m.Video != nil:
		out.Media = &kit.Media{Kind: kit.MediaVideo, FileID: m.Video.FileID}
	}
	return out
}

func (a *Adapter) forward(up kit.Update) {
	p := a.out.Load()
	if p == nil || *p == nil {
		return
	}
	select {
	case *p <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(&out)
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.Component("telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	report := func() {
		if n := a.droppedUpdates.Swap(0); n > 0 {
			a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
		}
	}
	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until Stop; restart it if it returns on its own.
	sup.GoRestart0("telebot.poll", func(c context.Context) {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

// Stop ends polling. It never blocks longer than two seconds or ctx.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.out.Store(nil)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.Uint64("dropped_updates_pending", a.droppedUpdates.Load()))
	sup.Cancel()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

func sendOptions(to kit.ChatTarget, opt *kit.SendOptions, withMarkup bool) *tele.SendOptions {
	so := &tele.SendOptions{ThreadID: to.ThreadID}
	if opt == nil {
		return so
	}
	so.ParseMode = opt.ParseMode
	so.DisableWebPagePreview = opt.DisablePreview
	if withMarkup {
		if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok && rm != nil {
			so.ReplyMarkup = rm
		}
	}
	return so
}

// SendText sends text, splitting it when it exceeds Telegram's limit. Markup
// rides on the first chunk and the first chunk's reference is returned.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	parseMode := ""
	if opt != nil {
		parseMode = opt.ParseMode
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit, parseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		var msg *tele.Message
		err := a.withFloodRetry(ctx, func() (err error) {
			msg, err = a.bot.Send(chat, chunk, sendOptions(to, opt, i == 0))
			return err
		})
		if err != nil {
			return first, classify(err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) SendMedia(ctx context.Context, to kit.ChatTarget, media kit.Media, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	what, err := inputMedia(media, caption)
	if err != nil {
		return kit.MessageRef{}, err
	}
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	var msg *tele.Message
	err = a.withFloodRetry(ctx, func() (err error) {
		msg, err = a.bot.Send(&tele.Chat{ID: to.ChatID}, what, sendOptions(to, opt, true))
		return err
	})
	if err != nil {
		return kit.MessageRef{}, classify(err)
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

// EditText replaces a message's text. Overflow beyond one message is sent as
// follow-up messages.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	parseMode := ""
	if opt != nil {
		parseMode = opt.ParseMode
	}
	chunks := splitTelegramText(text, telegramTextLimit, parseMode)
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	so := sendOptions(ref.Target(), opt, true)
	so.ThreadID = 0
	if _, err := a.bot.Edit(m, chunks[0], so); err != nil && !isNotModified(err) {
		return classify(err)
	}
	for _, chunk := range chunks[1:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(&tele.Chat{ID: ref.ChatID}, chunk, sendOptions(ref.Target(), opt, false)); err != nil {
			return classify(err)
		}
	}
	return nil
}

// EditMedia swaps the attachment and caption of an existing media message.
func (a *Adapter) EditMedia(ctx context.Context, ref kit.MessageRef, media kit.Media, caption string, opt *kit.SendOptions) error {
	what, err := inputMedia(media, caption)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	so := sendOptions(ref.Target(), opt, true)
	so.ThreadID = 0
	if _, err := a.bot.EditMedia(m, what, so); err != nil && !isNotModified(err) {
		return classify(err)
	}
	return nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string, alert bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text, ShowAlert: alert})
}

// UpdateMenuCommands publishes the command menu. It only calls Telegram when
// the list changed since the last successful update.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if len(d) > 256 {
			d = d[:256]
		}
		h.Write([]byte(c.Command + "\x00" + d + "\x00"))
		out = append(out, tele.Command{Text: c.Command, Description: d})
		if len(out) >= 100 {
			break
		}
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(out); err != nil {
		return fmt.Errorf("telegram setMyCommands: %w", err)
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(out)))
	return nil
}

const captionLimit = 1024

func inputMedia(m kit.Media, caption string) (tele.Inputtable, error) {
	if strings.TrimSpace(m.FileID) == "" {
		return nil, errors.New("telegram: media without file id")
	}
	if rs := []rune(caption); len(rs) > captionLimit {
		caption = string(rs[:captionLimit])
	}
	file := tele.File{FileID: m.FileID}
	switch m.Kind {
	case kit.MediaPhoto:
		return &tele.Photo{File: file, Caption: caption}, nil
	case kit.MediaAnimation:
		return &tele.Animation{File: file, Caption: caption}, nil
	case kit.MediaVideo:
		return &tele.Video{File: file, Caption: caption}, nil
	}
	return nil, fmt.Errorf("telegram: unsupported media kind %q", m.Kind)
}

// withFloodRetry runs fn and retries it once after Telegram's requested
// back-off when rate limited.
func (a *Adapter) withFloodRetry(ctx context.Context, fn func() error) error {
	err := fn()
	var flood tele.FloodError
	if !errors.As(err, &flood) || flood.RetryAfter <= 0 || flood.RetryAfter > 30 {
		return err
	}
	a.log.Debug("flood wait", logx.Int("retry_after", flood.RetryAfter))
	t := time.NewTimer(time.Duration(flood.RetryAfter) * time.Second)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	return fn()
}

var unreachableErrs = []error{
	tele.ErrBlockedByUser,
	tele.ErrUserIsDeactivated,
	tele.ErrNotStartedByUser,
	tele.ErrKickedFromGroup,
	tele.ErrChatNotFound,
}

// classify wraps errors meaning the recipient can never be reached with
// kit.ErrRecipientUnreachable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, target := range unreachableErrs {
		if errors.Is(err, target) {
			return fmt.Errorf("%w: %v", kit.ErrRecipientUnreachable, err)
		}
	}
	var te *tele.Error
	if errors.As(err, &te) && te.Code == 403 {
		return fmt.Errorf("%w: %v", kit.ErrRecipientUnreachable, err)
	}
	return err
}

func isNotModified(err error) bool {
	return errors.Is(err, tele.ErrSameMessageContent) || strings.Contains(err.Error(), "message is not modified")
}

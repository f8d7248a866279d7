package router

import (
	"context"

	kit "clipbot/internal/transport"
	logx "clipbot/pkg/logx"
)

// Request is one routed update with the caller's identity resolved.
type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	FirstName    string
	LastName     string
	IsAdmin      bool

	Command string   // command name, "cb:ns:action", or "message"
	Args    []string // command arguments
	Payload string   // callback payload

	ReqID   string
	Adapter kit.Adapter
	Logger  logx.Logger

	notice string
}

// Notice sets the toast shown when a callback handler succeeds.
func (r *Request) Notice(text string) { r.notice = text }

func (r *Request) log(fallback logx.Logger) logx.Logger {
	if r != nil && !r.Logger.IsZero() {
		return r.Logger
	}
	return fallback
}

// Message returns the inbound message, or nil for callbacks.
func (r *Request) Message() *kit.Message { return r.Update.Message }

// Callback returns the inbound callback, or nil for messages.
func (r *Request) Callback() *kit.Callback { return r.Update.Callback }

// Origin returns the message a callback button was attached to.
func (r *Request) Origin() (kit.MessageRef, bool) {
	cb := r.Update.Callback
	if cb == nil || cb.MessageID == 0 {
		return kit.MessageRef{}, false
	}
	return kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}, true
}

// Reply sends a new text message to the request chat.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return r.Adapter.SendText(ctx, r.Chat, text, opt)
}

// ReplyMedia sends a new media message to the request chat.
func (r *Request) ReplyMedia(ctx context.Context, m kit.Media, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return r.Adapter.SendMedia(ctx, r.Chat, m, caption, opt)
}

// Edit replaces the text of the message a callback came from, or sends a new
// message for plain messages.
func (r *Request) Edit(ctx context.Context, text string, opt *kit.SendOptions) error {
	if ref, ok := r.Origin(); ok {
		return r.Adapter.EditText(ctx, ref, text, opt)
	}
	_, err := r.Reply(ctx, text, opt)
	return err
}

// EditMedia swaps the media of the callback's message, or sends new media.
func (r *Request) EditMedia(ctx context.Context, m kit.Media, caption string, opt *kit.SendOptions) error {
	if ref, ok := r.Origin(); ok {
		return r.Adapter.EditMedia(ctx, ref, m, caption, opt)
	}
	_, err := r.ReplyMedia(ctx, m, caption, opt)
	return err
}

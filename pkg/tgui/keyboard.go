package tgui

import (
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "clipbot/internal/transport"
)

// Inline builds an inline keyboard row by row.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends one row. Empty rows are ignored.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	if len(btn) == 0 {
		return i
	}
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

// URLRows appends every button as its own row.
func (i *Inline) URLRows(buttons []kit.Button) *Inline {
	for _, b := range buttons {
		if strings.TrimSpace(b.Text) == "" || strings.TrimSpace(b.URL) == "" {
			continue
		}
		i.Row(URLBtn(b.Text, b.URL))
	}
	return i
}

func (i *Inline) Len() int { return len(i.rows) }

// Markup returns the reply markup, or nil when no row was added.
func (i *Inline) Markup() *tele.ReplyMarkup {
	if i == nil || len(i.rows) == 0 {
		return nil
	}
	return i.rm
}

// Options wraps the keyboard into send options for the transport adapter.
func (i *Inline) Options() *kit.SendOptions {
	opt := &kit.SendOptions{DisablePreview: true}
	if rm := i.Markup(); rm != nil {
		opt.ReplyMarkupAdapter = rm
	}
	return opt
}

// Btn creates a callback button with raw callback data.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

func URLBtn(text, url string) tele.Btn {
	return tele.Btn{Text: text, URL: url}
}

package router

import (
	"errors"
)

// ErrCapabilityDenied is returned when a non-admin triggers an admin-only
// command or callback.
var ErrCapabilityDenied = errors.New("capability denied")

const (
	textDenied   = "❌ 無權限"
	textInternal = "❌ 系統錯誤，請稍後再試"
	textBusy     = "⏳ 系統繁忙，請稍後再試"
)

// VisibleError carries the reply text shown to the user for a handled
// condition. Any handler error that is not a VisibleError is treated as an
// internal fault.
type VisibleError struct {
	Text string
	Err  error
}

func (e *VisibleError) Error() string {
	if e.Err == nil {
		return e.Text
	}
	return e.Err.Error()
}

func (e *VisibleError) Unwrap() error { return e.Err }

// Visible wraps err with the text the user should see.
func Visible(err error, text string) error {
	return &VisibleError{Text: text, Err: err}
}

// VisibleText returns the user-facing text of err, if it has one.
func VisibleText(err error) (string, bool) {
	var ve *VisibleError
	if errors.As(err, &ve) && ve.Text != "" {
		return ve.Text, true
	}
	return "", false
}

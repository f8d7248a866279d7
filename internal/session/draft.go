package session

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	kit "clipbot/internal/transport"
)

// ErrUnsupportedContent is returned when a message carries nothing that can
// become a broadcast draft.
var ErrUnsupportedContent = errors.New("unsupported content")

type Kind string

const (
	KindText      Kind = "text"
	KindPhoto     Kind = "photo"
	KindAnimation Kind = "animation"
	KindVideo     Kind = "video"
)

// Draft is a staged broadcast payload. Content holds the text body for text
// drafts and the caption otherwise.
type Draft struct {
	ID        string
	Kind      Kind
	Content   string
	MediaRef  string
	Buttons   []kit.Button
	CreatedAt time.Time
}

func (d Draft) Clone() Draft {
	if d.Buttons != nil {
		d.Buttons = append([]kit.Button(nil), d.Buttons...)
	}
	return d
}

// Media returns the attachment for non-text drafts.
func (d Draft) Media() kit.Media {
	switch d.Kind {
	case KindPhoto:
		return kit.Media{Kind: kit.MediaPhoto, FileID: d.MediaRef}
	case KindAnimation:
		return kit.Media{Kind: kit.MediaAnimation, FileID: d.MediaRef}
	case KindVideo:
		return kit.Media{Kind: kit.MediaVideo, FileID: d.MediaRef}
	}
	return kit.Media{}
}

// Validate checks the draft is sendable: a known kind, and a media reference
// for every kind except text.
func (d Draft) Validate() error {
	switch d.Kind {
	case KindText:
		if strings.TrimSpace(d.Content) == "" {
			return ErrUnsupportedContent
		}
		return nil
	case KindPhoto, KindAnimation, KindVideo:
		if strings.TrimSpace(d.MediaRef) == "" {
			return ErrUnsupportedContent
		}
		return nil
	}
	return ErrUnsupportedContent
}

// DraftFromMessage classifies m into a draft. Text wins, then photo,
// animation and video, in that order.
func DraftFromMessage(m *kit.Message) (Draft, error) {
	if m == nil {
		return Draft{}, ErrUnsupportedContent
	}
	d := Draft{ID: uuid.NewString(), CreatedAt: time.Now()}
	if strings.TrimSpace(m.Text) != "" {
		d.Kind = KindText
		d.Content = m.Text
		return d, nil
	}
	if m.Media == nil || strings.TrimSpace(m.Media.FileID) == "" {
		return Draft{}, ErrUnsupportedContent
	}
	switch m.Media.Kind {
	case kit.MediaPhoto:
		d.Kind = KindPhoto
	case kit.MediaAnimation:
		d.Kind = KindAnimation
	case kit.MediaVideo:
		d.Kind = KindVideo
	default:
		return Draft{}, ErrUnsupportedContent
	}
	d.MediaRef = m.Media.FileID
	d.Content = m.Caption
	return d, nil
}

// ParseButtons reads one "label | url" button per line. Lines without a
// separator, or with an empty side, are skipped; the result may be empty.
func ParseButtons(text string) []kit.Button {
	var out []kit.Button
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		label, url, ok := strings.Cut(line, "|")
		if !ok {
			continue
		}
		label = strings.TrimSpace(label)
		url = strings.TrimSpace(url)
		if label == "" || url == "" {
			continue
		}
		out = append(out, kit.Button{Text: label, URL: url})
	}
	return out
}

package adapter

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "clipbot/internal/transport"
)

func TestSplitTelegramText(t *testing.T) {
	if got := splitTelegramText("short", 10, ""); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short=%q", got)
	}

	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitTelegramText(s, 10, "")
	if len(got) != 2 || got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("newline split=%q", got)
	}

	long := strings.Repeat("字", 25)
	got = splitTelegramText(long, 10, "")
	if len(got) != 3 || len([]rune(got[2])) != 5 {
		t.Fatalf("rune split=%q", got)
	}

	html := "abcdef<b>x</b>"
	got = splitTelegramText(html, 8, "HTML")
	if got[0] != "abcdef" {
		t.Fatalf("html split=%q", got)
	}
}

func TestClassify(t *testing.T) {
	for _, e := range []error{tele.ErrBlockedByUser, tele.ErrUserIsDeactivated, tele.ErrChatNotFound} {
		if !errors.Is(classify(e), kit.ErrRecipientUnreachable) {
			t.Fatalf("%v should be unreachable", e)
		}
	}
	forbidden := &tele.Error{Code: 403, Description: "Forbidden: something new"}
	if !errors.Is(classify(fmt.Errorf("send: %w", forbidden)), kit.ErrRecipientUnreachable) {
		t.Fatalf("403 should be unreachable")
	}
	other := errors.New("network down")
	if got := classify(other); got != other {
		t.Fatalf("other errors pass through: %v", got)
	}
	if classify(nil) != nil {
		t.Fatalf("nil stays nil")
	}
}

func TestInputMedia(t *testing.T) {
	in, err := inputMedia(kit.Media{Kind: kit.MediaVideo, FileID: "f1"}, strings.Repeat("c", 2000))
	if err != nil {
		t.Fatalf("video: %v", err)
	}
	v, ok := in.(*tele.Video)
	if !ok || v.FileID != "f1" || len([]rune(v.Caption)) != captionLimit {
		t.Fatalf("video=%+v", in)
	}
	if _, err := inputMedia(kit.Media{Kind: kit.MediaPhoto}, ""); err == nil {
		t.Fatalf("missing file id should fail")
	}
	if _, err := inputMedia(kit.Media{Kind: "sticker", FileID: "x"}, ""); err == nil {
		t.Fatalf("unknown kind should fail")
	}
}

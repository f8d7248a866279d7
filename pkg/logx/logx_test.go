package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	kit "clipbot/internal/transport"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Info("dropped", String("k", "v"))
	if Nop().IsZero() {
		t.Fatalf("Nop should not be the zero value")
	}
}

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(Component("router"))
	l.Debug("hello", Int("n", 3), Err(nil))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if m["message"] != "hello" || m["comp"] != "router" || m["n"] != float64(3) {
		t.Fatalf("unexpected event: %v", m)
	}
	if _, ok := m["err"]; ok {
		t.Fatalf("nil error should not be logged")
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logx_test.go:") {
		t.Fatalf("caller=%q", c)
	}
}

func TestWithDoesNotAlias(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriter(&buf, "info").With(String("a", "1"))
	x := base.With(String("b", "x"))
	y := base.With(String("b", "y"))
	x.Info("x")
	y.Info("y")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], `"b":"x"`) || !strings.Contains(lines[1], `"b":"y"`) {
		t.Fatalf("derived loggers leaked fields: %v", lines)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("WARNING", LevelInfo) != LevelWarn {
		t.Fatalf("warning should map to warn")
	}
	if ParseLevel("bogus", LevelError) != LevelError {
		t.Fatalf("unknown level should fall back")
	}
}

func TestFormatEvent(t *testing.T) {
	got := formatEvent([]byte(`{"level":"error","message":"boom","z":1,"a":"x","time":"t"}`))
	want := "[ERROR] boom\n- a=x\n- z=1"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if got := formatEvent([]byte("  plain  ")); got != "plain" {
		t.Fatalf("plain passthrough=%q", got)
	}
}

func TestClipRuneBoundary(t *testing.T) {
	s := strings.Repeat("字", 10) // 30 bytes
	got := clip(s, 10)
	if !strings.HasSuffix(got, "...") || !strings.HasPrefix(s, strings.TrimSuffix(got, "...")) {
		t.Fatalf("clip=%q", got)
	}
}

type recSender struct {
	mu   sync.Mutex
	sent []string
}

func (r *recSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	r.sent = append(r.sent, text)
	r.mu.Unlock()
	return kit.MessageRef{}, nil
}

func (r *recSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestServiceTelegramSink(t *testing.T) {
	rs := &recSender{}
	svc, log := New(Config{
		Level:    "info",
		Telegram: TelegramConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10},
	}, rs)
	defer svc.Close()

	log.Error("no target yet")
	svc.SetTelegramTarget(-100, 0)
	log.Info("below min level")
	log.Warn("forwarded")

	deadline := time.Now().Add(2 * time.Second)
	for rs.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.sent) != 1 || !strings.Contains(rs.sent[0], "forwarded") {
		t.Fatalf("sent=%v", rs.sent)
	}
}

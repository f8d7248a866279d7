package router

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	kit "clipbot/internal/transport"
	logx "clipbot/pkg/logx"
)

type answer struct {
	id    string
	text  string
	alert bool
}

type fakeAdapter struct {
	mu      sync.Mutex
	texts   []string
	answers []answer
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                    { return nil }

func (f *fakeAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	return kit.MessageRef{MessageID: 1}, nil
}

func (f *fakeAdapter) SendMedia(context.Context, kit.ChatTarget, kit.Media, string, *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}
func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}
func (f *fakeAdapter) EditMedia(context.Context, kit.MessageRef, kit.Media, string, *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, id, text string, alert bool) error {
	f.mu.Lock()
	f.answers = append(f.answers, answer{id, text, alert})
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type resetter struct {
	mu      sync.Mutex
	cleared []int64
}

func (r *resetter) Clear(id int64) {
	r.mu.Lock()
	r.cleared = append(r.cleared, id)
	r.mu.Unlock()
}

func msg(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: from, FromID: from, Text: text}}
}

func cb(from int64, data string) kit.Update {
	return kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "cb1", ChatID: from, FromID: from, MessageID: 7, Data: data}}
}

func newTestRouter(ad *fakeAdapter, rs *resetter) *Router {
	return New(Config{}, ad, rs, logx.Nop())
}

func TestCommandResetsSessionAndRuns(t *testing.T) {
	ad, rs := &fakeAdapter{}, &resetter{}
	r := newTestRouter(ad, rs)
	var gotArgs []string
	r.SetRegistry([]Command{{Name: "delvideo", Handle: func(_ context.Context, req *Request) error {
		gotArgs = req.Args
		return nil
	}}}, nil)

	if err := r.Dispatch(context.Background(), msg(5, "/delvideo@clipbot 12")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !reflect.DeepEqual(gotArgs, []string{"12"}) {
		t.Fatalf("args=%v", gotArgs)
	}
	if !reflect.DeepEqual(rs.cleared, []int64{5}) {
		t.Fatalf("session not reset: %v", rs.cleared)
	}

	// Unknown commands still reset but reply nothing.
	if err := r.Dispatch(context.Background(), msg(6, "/nope")); err != nil {
		t.Fatalf("unknown: %v", err)
	}
	if len(rs.cleared) != 2 || len(ad.sent()) != 0 {
		t.Fatalf("cleared=%v sent=%v", rs.cleared, ad.sent())
	}
}

func TestAdminOnlyDenied(t *testing.T) {
	ad := &fakeAdapter{}
	r := newTestRouter(ad, &resetter{})
	r.SetAdmins([]int64{1}, []string{"@Boss"})
	called := 0
	r.SetRegistry([]Command{{Name: "admin", Access: AccessAdminOnly, Handle: func(context.Context, *Request) error {
		called++
		return nil
	}}}, nil)

	err := r.Dispatch(context.Background(), msg(2, "/admin"))
	if !errors.Is(err, ErrCapabilityDenied) || called != 0 {
		t.Fatalf("err=%v called=%d", err, called)
	}
	if got := ad.sent(); len(got) != 1 || got[0] != textDenied {
		t.Fatalf("sent=%v", got)
	}

	if err := r.Dispatch(context.Background(), msg(1, "/admin")); err != nil || called != 1 {
		t.Fatalf("admin by id: err=%v called=%d", err, called)
	}
	up := msg(3, "/ADMIN")
	up.Message.FromUsername = "boss"
	if err := r.Dispatch(context.Background(), up); err != nil || called != 2 {
		t.Fatalf("admin by username: err=%v called=%d", err, called)
	}
}

func TestFallbackAndInternalErrors(t *testing.T) {
	ad := &fakeAdapter{}
	r := newTestRouter(ad, &resetter{})
	r.SetFallback(func(_ context.Context, req *Request) error {
		switch req.Message().Text {
		case "boom":
			return errors.New("db down")
		case "panic":
			panic("bad")
		case "visible":
			return Visible(errors.New("x"), "請重試")
		}
		_, err := req.Reply(context.Background(), "您說："+req.Message().Text, nil)
		return err
	})

	_ = r.Dispatch(context.Background(), msg(1, "hi"))
	_ = r.Dispatch(context.Background(), msg(1, "boom"))
	if err := r.Dispatch(context.Background(), msg(1, "panic")); err == nil {
		t.Fatalf("panic should surface as error")
	}
	_ = r.Dispatch(context.Background(), msg(1, "visible"))

	want := []string{"您說：hi", textInternal, textInternal, "請重試"}
	if got := ad.sent(); !reflect.DeepEqual(got, want) {
		t.Fatalf("sent=%v want %v", got, want)
	}
}

func TestCallbackRouting(t *testing.T) {
	ad := &fakeAdapter{}
	r := newTestRouter(ad, &resetter{})
	var payload string
	r.SetRegistry(nil, []CallbackRoute{
		{Namespace: "admin", Action: "videos", Handle: func(_ context.Context, req *Request, p string) error {
			payload = p
			if ref, ok := req.Origin(); !ok || ref.MessageID != 7 {
				t.Errorf("origin=%+v ok=%v", ref, ok)
			}
			return nil
		}},
		{Namespace: "menu", Action: "random", Handle: func(context.Context, *Request, string) error {
			return Visible(errors.New("cooldown"), "⏰ 請等待3秒後再試")
		}},
	})

	if err := r.Dispatch(context.Background(), cb(1, "admin:videos:2")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if payload != "2" {
		t.Fatalf("payload=%q", payload)
	}
	_ = r.Dispatch(context.Background(), cb(1, "menu:random"))
	_ = r.Dispatch(context.Background(), cb(1, "unknown:thing"))

	want := []answer{{"cb1", "", false}, {"cb1", "⏰ 請等待3秒後再試", true}, {"cb1", "", false}}
	if !reflect.DeepEqual(ad.answers, want) {
		t.Fatalf("answers=%+v", ad.answers)
	}
}

func TestTouchSeesEveryUpdate(t *testing.T) {
	r := newTestRouter(&fakeAdapter{}, &resetter{})
	var seen []int64
	r.SetTouch(func(_ context.Context, req *Request) { seen = append(seen, req.FromID) })
	_ = r.Dispatch(context.Background(), msg(1, "/start"))
	_ = r.Dispatch(context.Background(), msg(2, "text"))
	_ = r.Dispatch(context.Background(), cb(3, "x:y"))
	if !reflect.DeepEqual(seen, []int64{1, 2, 3}) {
		t.Fatalf("seen=%v", seen)
	}
}

func TestDispatchLoopKeepsPerUserOrder(t *testing.T) {
	ad := &fakeAdapter{}
	r := New(Config{Workers: 3, QueueSize: 256}, ad, &resetter{}, logx.Nop())

	var mu sync.Mutex
	got := map[int64][]string{}
	var wg sync.WaitGroup
	r.SetFallback(func(_ context.Context, req *Request) error {
		defer wg.Done()
		mu.Lock()
		got[req.FromID] = append(got[req.FromID], req.Message().Text)
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update)
	loopDone := make(chan error, 1)
	go func() { loopDone <- r.DispatchLoop(ctx, updates) }()

	const perUser = 40
	wg.Add(perUser * 4)
	for i := 0; i < perUser; i++ {
		for u := int64(1); u <= 4; u++ {
			updates <- msg(u, fmt.Sprint(i))
		}
	}

	waited := make(chan struct{})
	go func() { wg.Wait(); close(waited) }()
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatalf("updates not processed")
	}
	cancel()
	<-loopDone

	for u := int64(1); u <= 4; u++ {
		seq := got[u]
		if len(seq) != perUser {
			t.Fatalf("user %d got %d updates", u, len(seq))
		}
		for i, s := range seq {
			if s != fmt.Sprint(i) {
				t.Fatalf("user %d out of order at %d: %v", u, i, seq)
			}
		}
	}
}

func TestParseHelpers(t *testing.T) {
	if got := tokenizeCommandLine(`/cmd a "b c" d\ e`); !reflect.DeepEqual(got, []string{"/cmd", "a", "b c", "d e"}) {
		t.Fatalf("tokens=%v", got)
	}
	if got := commandName("/Start@ClipBot"); got != "start" {
		t.Fatalf("name=%q", got)
	}
	if got := sanitizeTelegramCommand("Del-Video"); got != "del_video" {
		t.Fatalf("sanitize=%q", got)
	}
	if got := sanitizeTelegramCommand("9lives"); got != "cmd_9lives" {
		t.Fatalf("sanitize digits=%q", got)
	}
	if a, b := newReqID(), newReqID(); a == b || a == "" {
		t.Fatalf("request ids should be unique: %q %q", a, b)
	}
}

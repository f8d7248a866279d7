package conversation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"clipbot/internal/broadcast"
	"clipbot/internal/cooldown"
	"clipbot/internal/session"
	"clipbot/internal/storage"
	kit "clipbot/internal/transport"
	"clipbot/internal/transport/telegram/router"
	logx "clipbot/pkg/logx"
)

const adminID int64 = 1

type fakeStore struct {
	mu       sync.Mutex
	users    map[int64]storage.User
	inactive map[int64]bool
	order    []int64
	videos   []storage.Video
	settings map[string]string
	actions  []string
	records  []storage.BroadcastRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[int64]storage.User{}, inactive: map[int64]bool{}, settings: map[string]string{}}
}

func (f *fakeStore) AddOrTouchUser(_ context.Context, u storage.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[u.ID]; !ok {
		f.order = append(f.order, u.ID)
	}
	f.users[u.ID] = u
	delete(f.inactive, u.ID)
	return nil
}

func (f *fakeStore) GetActiveUserIDs(context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	for _, id := range f.order {
		if !f.inactive[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkUserInactive(_ context.Context, id int64) error {
	f.mu.Lock()
	f.inactive[id] = true
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) UserStats(context.Context, time.Time) (storage.UserStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.users)
	return storage.UserStats{Total: n, NewToday: n, ActiveToday: n, ActiveWeek: n}, nil
}

func (f *fakeStore) SearchVideos(_ context.Context, kw string, _ int) ([]storage.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kw = strings.ToLower(kw)
	var out []storage.Video
	for _, v := range f.videos {
		if strings.Contains(strings.ToLower(v.Title), kw) || strings.Contains(strings.ToLower(v.Hashtags), kw) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeStore) RandomVideo(context.Context) (storage.Video, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.videos) == 0 {
		return storage.Video{}, false, nil
	}
	return f.videos[0], true, nil
}

func (f *fakeStore) AddVideo(_ context.Context, v storage.Video) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v.ID = int64(len(f.videos) + 1)
	f.videos = append(f.videos, v)
	return v.ID, nil
}

func (f *fakeStore) DeleteVideo(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, v := range f.videos {
		if v.ID == id {
			f.videos = append(f.videos[:i], f.videos[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ListVideos(_ context.Context, tag string, offset, limit int) ([]storage.Video, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []storage.Video
	for _, v := range f.videos {
		if tag == "" || strings.Contains(strings.ToLower(v.Hashtags), strings.ToLower(tag)) {
			all = append(all, v)
		}
	}
	if offset >= len(all) {
		return nil, len(all), nil
	}
	return all[offset:min(offset+limit, len(all))], len(all), nil
}

func (f *fakeStore) Hashtags(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, v := range f.videos {
		for _, t := range storage.ExtractHashtags(v.Hashtags) {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeStore) GetSetting(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.settings[key]
	return v, ok, nil
}

func (f *fakeStore) SetSetting(_ context.Context, key, value string) error {
	f.mu.Lock()
	f.settings[key] = value
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) LogAction(_ context.Context, uid int64, action, data string) error {
	f.mu.Lock()
	f.actions = append(f.actions, fmt.Sprintf("%d:%s:%s", uid, action, data))
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) RecordBroadcast(_ context.Context, r storage.BroadcastRecord) error {
	f.mu.Lock()
	f.records = append(f.records, r)
	f.mu.Unlock()
	return nil
}

type sent struct {
	chat  int64
	text  string
	media kit.Media
	opt   *kit.SendOptions
	edit  bool
}

type answer struct {
	text  string
	alert bool
}

type fakeAdapter struct {
	mu          sync.Mutex
	out         []sent
	answers     []answer
	unreachable map[int64]bool
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                    { return nil }

func (f *fakeAdapter) record(s sent) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unreachable[s.chat] {
		return kit.MessageRef{}, kit.ErrRecipientUnreachable
	}
	f.out = append(f.out, s)
	return kit.MessageRef{ChatID: s.chat, MessageID: len(f.out)}, nil
}

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return f.record(sent{chat: to.ChatID, text: text, opt: opt})
}

func (f *fakeAdapter) SendMedia(_ context.Context, to kit.ChatTarget, m kit.Media, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return f.record(sent{chat: to.ChatID, text: caption, media: m, opt: opt})
}

func (f *fakeAdapter) EditText(_ context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	_, err := f.record(sent{chat: ref.ChatID, text: text, opt: opt, edit: true})
	return err
}

func (f *fakeAdapter) EditMedia(_ context.Context, ref kit.MessageRef, m kit.Media, caption string, opt *kit.SendOptions) error {
	_, err := f.record(sent{chat: ref.ChatID, text: caption, media: m, opt: opt, edit: true})
	return err
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string, alert bool) error {
	f.mu.Lock()
	f.answers = append(f.answers, answer{text, alert})
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) last() sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.out) == 0 {
		return sent{}
	}
	return f.out[len(f.out)-1]
}

func (f *fakeAdapter) lastAnswer() answer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.answers) == 0 {
		return answer{}
	}
	return f.answers[len(f.answers)-1]
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	reqs   []broadcast.Request
	err    error
	active map[int64]bool
}

func (f *fakeBroadcaster) Submit(req broadcast.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.reqs = append(f.reqs, req)
	return nil
}

func (f *fakeBroadcaster) Cancel(adminID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[adminID]
}

type harness struct {
	t     *testing.T
	store *fakeStore
	ad    *fakeAdapter
	reg   *session.Registry
	r     *router.Router
	svc   *Service
	now   time.Time
}

func newHarness(t *testing.T, bc Broadcaster) *harness {
	t.Helper()
	return newHarnessWith(t, newFakeStore(), &fakeAdapter{unreachable: map[int64]bool{}}, session.NewRegistry(), bc)
}

func newHarnessWith(t *testing.T, store *fakeStore, ad *fakeAdapter, reg *session.Registry, bc Broadcaster) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		store: store,
		ad:    ad,
		reg:   reg,
		now:   time.Unix(1_700_000_000, 0),
	}
	clock := func() time.Time { return h.now }
	h.r = router.New(router.Config{}, h.ad, h.reg, logx.Nop())
	h.r.SetAdmins([]int64{adminID}, nil)
	if bc == nil {
		bc = &fakeBroadcaster{}
	}
	h.svc = New(Config{}, Deps{
		Store:     h.store,
		Sessions:  h.reg,
		Gate:      cooldown.New(3*time.Second, cooldown.WithClock(clock)),
		Broadcast: bc,
		Logger:    logx.Nop(),
		Now:       clock,
	})
	h.svc.Register(h.r)
	return h
}

func (h *harness) send(from int64, m kit.Message) error {
	m.ChatID, m.FromID = from, from
	return h.r.Dispatch(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &m})
}

func (h *harness) text(from int64, text string) error {
	return h.send(from, kit.Message{Text: text})
}

func (h *harness) press(from int64, data string) error {
	return h.r.Dispatch(context.Background(), kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "cb", FromID: from, ChatID: from, MessageID: 99, Data: data,
	}})
}

func (h *harness) state(uid int64) session.State {
	return h.reg.Get(uid).State
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

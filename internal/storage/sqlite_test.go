package storage

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	logx "clipbot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestUsersActiveOrderAndDeactivate(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	for _, id := range []int64{30, 10, 20} {
		if err := st.AddOrTouchUser(ctx, User{ID: id, Username: "u"}); err != nil {
			t.Fatalf("add %d: %v", id, err)
		}
	}
	ids, err := st.GetActiveUserIDs(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("ids=%v want 3 entries", ids)
	}

	if err := st.MarkUserInactive(ctx, 20); err != nil {
		t.Fatalf("inactive: %v", err)
	}
	ids, _ = st.GetActiveUserIDs(ctx)
	for _, id := range ids {
		if id == 20 {
			t.Fatalf("inactive user still listed: %v", ids)
		}
	}

	// Touching a user re-activates them.
	if err := st.AddOrTouchUser(ctx, User{ID: 20, Username: "back"}); err != nil {
		t.Fatalf("touch: %v", err)
	}
	ids, _ = st.GetActiveUserIDs(ctx)
	if len(ids) != 3 {
		t.Fatalf("touched user should be active again: %v", ids)
	}

	stats, err := st.UserStats(ctx, time.Now())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.NewToday != 3 || stats.ActiveToday != 3 || stats.ActiveWeek != 3 {
		t.Fatalf("stats=%+v", stats)
	}
}

func TestSearchVideos(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	base := time.Unix(1_700_000_000, 0)
	add := func(title, tags string, at time.Time) {
		if _, err := st.AddVideo(ctx, Video{FileID: "f-" + title, Title: title, Hashtags: tags, UploadedAt: at}); err != nil {
			t.Fatalf("add %s: %v", title, err)
		}
	}
	add("Funny Cat", "#pets", base)
	add("Dog park", "#pets #cat_friends", base.Add(time.Hour))
	add("Cooking 100%", "#food", base.Add(2*time.Hour))

	got, err := st.SearchVideos(ctx, "cat", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	var titles []string
	for _, v := range got {
		titles = append(titles, v.Title)
	}
	if !reflect.DeepEqual(titles, []string{"Dog park", "Funny Cat"}) {
		t.Fatalf("titles=%v (want newest first, title or hashtag match)", titles)
	}

	got, err = st.SearchVideos(ctx, "zzz", 0)
	if err != nil || len(got) != 0 {
		t.Fatalf("miss: %v err=%v", got, err)
	}

	// % is matched literally.
	got, _ = st.SearchVideos(ctx, "100%", 0)
	if len(got) != 1 || got[0].Title != "Cooking 100%" {
		t.Fatalf("literal percent: %+v", got)
	}
	got, _ = st.SearchVideos(ctx, "%", 0)
	if len(got) != 1 {
		t.Fatalf("bare percent should not match everything: %+v", got)
	}

	got, _ = st.SearchVideos(ctx, "pets", 1)
	if len(got) != 1 {
		t.Fatalf("limit ignored: %d", len(got))
	}
}

func TestVideoCatalog(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	if _, ok, err := st.RandomVideo(ctx); err != nil || ok {
		t.Fatalf("random on empty catalog: ok=%v err=%v", ok, err)
	}

	id1, err := st.AddVideo(ctx, Video{FileID: "a", Title: "A", Hashtags: "#x #y"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := st.AddVideo(ctx, Video{FileID: "b", Title: "B", Hashtags: "#y"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	v, ok, err := st.RandomVideo(ctx)
	if err != nil || !ok || v.FileID == "" {
		t.Fatalf("random: %+v ok=%v err=%v", v, ok, err)
	}

	list, total, err := st.ListVideos(ctx, "", 0, 10)
	if err != nil || total != 2 || len(list) != 2 {
		t.Fatalf("list all: total=%d len=%d err=%v", total, len(list), err)
	}
	list, total, _ = st.ListVideos(ctx, "#x", 0, 10)
	if total != 1 || len(list) != 1 || list[0].ID != id1 {
		t.Fatalf("list #x: total=%d %+v", total, list)
	}

	tags, err := st.Hashtags(ctx)
	if err != nil || !reflect.DeepEqual(tags, []string{"#x", "#y"}) {
		t.Fatalf("tags=%v err=%v", tags, err)
	}

	ok, err = st.DeleteVideo(ctx, id1)
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	ok, _ = st.DeleteVideo(ctx, id1)
	if ok {
		t.Fatalf("second delete should report not found")
	}
}

func TestSettingsAndLogs(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	if _, ok, _ := st.GetSetting(ctx, SettingSponsorLinks); ok {
		t.Fatalf("unset setting reported present")
	}
	if err := st.SetSetting(ctx, SettingSponsorLinks, "A | u"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := st.SetSetting(ctx, SettingSponsorLinks, "B | v"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, ok, err := st.GetSetting(ctx, SettingSponsorLinks)
	if err != nil || !ok || v != "B | v" {
		t.Fatalf("get=%q ok=%v err=%v", v, ok, err)
	}

	if err := st.RecordBroadcast(ctx, BroadcastRecord{
		AdminID: 1, MessageType: "text", Content: strings.Repeat("字", 900), Total: 3, Succeeded: 2, Failed: 1,
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	if err := st.LogAction(ctx, 1, ActionSearch, "cat"); err != nil {
		t.Fatalf("log action: %v", err)
	}
	n, err := st.PruneActions(ctx, time.Now().Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("prune n=%d err=%v", n, err)
	}
	if err := st.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	if _, err := Open(Config{Driver: "none"}, logx.Nop()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("none driver err=%v", err)
	}
	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatalf("unknown driver should fail")
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatalf("postgres without dsn should fail")
	}
}

func TestRebindAndHelpers(t *testing.T) {
	if got := rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Fatalf("rebind=%q", got)
	}
	if got := truncRunes("héllo", 2); got != "hé" {
		t.Fatalf("truncRunes=%q", got)
	}
	if got := ExtractHashtags("Title\n#貓 #cat_1 text #"); !reflect.DeepEqual(got, []string{"#貓", "#cat_1"}) {
		t.Fatalf("hashtags=%v", got)
	}
}

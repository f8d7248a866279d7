package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func noEnv(string) (string, bool) { return "", false }

func envOf(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

const sampleYAML = `
telegram:
  token: "123:abc"
  admin_user_ids: [42]
  poll_timeout: 10s
logging:
  level: info
  console: true
storage:
  driver: sqlite
  path: ./bot.db
broadcast:
  workers: 2
  send_delay: 50ms
conversation:
  cooldown: 3s
maintenance:
  enabled: true
  timezone: Asia/Taipei
`

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, sampleYAML)

	m := NewConfigManager(path)
	m.SetLookup(noEnv)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || len(cfg.Telegram.AdminUserIDs) != 1 || cfg.Telegram.AdminUserIDs[0] != 42 {
		t.Fatalf("telegram=%+v", cfg.Telegram)
	}
	if cfg.Broadcast.SendDelay != "50ms" || !cfg.Maintenance.Enabled || m.Get() != cfg {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestParseIsStrict(t *testing.T) {
	dir := t.TempDir()

	unknown := filepath.Join(dir, "unknown.yaml")
	writeFile(t, unknown, sampleYAML+"\nplugins: {}\n")
	m := NewConfigManager(unknown)
	m.SetLookup(noEnv)
	if _, err := m.Parse(); err == nil || !strings.Contains(err.Error(), "plugins") {
		t.Fatalf("unknown field err=%v", err)
	}

	trailing := filepath.Join(dir, "trailing.json")
	writeFile(t, trailing, `{"telegram":{"token":"x"}} {}`)
	m = NewConfigManager(trailing)
	m.SetLookup(noEnv)
	if _, err := m.Parse(); err == nil {
		t.Fatalf("trailing data accepted")
	}
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"telegram":{"token":"file"},"storage":{"driver":"sqlite"}}`)

	m := NewConfigManager(path)
	m.SetLookup(envOf(map[string]string{
		EnvBotToken:      "env-token",
		EnvAdminUsername: "alice, bob",
		EnvAdminUserIDs:  "1,2",
		EnvDatabaseURL:   "postgres://bot@db/bot",
	}))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("token=%q", cfg.Telegram.Token)
	}
	if strings.Join(cfg.Telegram.AdminUsernames, "|") != "alice|bob" || len(cfg.Telegram.AdminUserIDs) != 2 {
		t.Fatalf("admins=%+v", cfg.Telegram)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN != "postgres://bot@db/bot" {
		t.Fatalf("storage=%+v", cfg.Storage)
	}

	if err := ApplyEnv(&Config{}, envOf(map[string]string{EnvAdminUserIDs: "1,x"})); err == nil {
		t.Fatalf("bad admin id accepted")
	}
}

func TestDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	writeFile(t, path, "BOT_TOKEN=from-file\n# comment\nADMIN_USER_IDS=7\n")
	vals, err := ReadDotEnv(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if vals["BOT_TOKEN"] != "from-file" || vals["ADMIN_USER_IDS"] != "7" {
		t.Fatalf("vals=%v", vals)
	}
	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing file should be skipped: %v", err)
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(&Config{}); !errors.Is(err, ErrNoToken) {
		t.Fatalf("err=%v", err)
	}
	bad := &Config{
		Telegram:  TelegramConfig{Token: "t", GroupLog: "@chan"},
		Storage:   StorageConfig{Driver: "postgres"},
		Broadcast: BroadcastConfig{SendDelay: "soon", Workers: -1},
		Events:    EventsConfig{AMQP: AMQPConfig{Enabled: true}},
	}
	err := Validate(bad)
	if err == nil {
		t.Fatalf("bad config accepted")
	}
	for _, want := range []string{"group_log", "storage.dsn", "broadcast.send_delay", "broadcast.workers", "events.amqp.url"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}
	if err := Validate(&Config{Telegram: TelegramConfig{Token: "t"}, Storage: StorageConfig{Driver: "mongo"}}); err == nil {
		t.Fatalf("unknown driver accepted")
	}
}

func TestDurations(t *testing.T) {
	if d, err := ParseDurationOrDefault("x", "", time.Second); err != nil || d != time.Second {
		t.Fatalf("default: %v %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "2m", time.Second); err != nil || d != 2*time.Minute {
		t.Fatalf("explicit: %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("negative accepted")
	}
}

func TestSummarizeHidesSecrets(t *testing.T) {
	a := &Config{Telegram: TelegramConfig{Token: "old"}}
	b := &Config{
		Telegram: TelegramConfig{Token: "new-secret"},
		Events:   EventsConfig{AMQP: AMQPConfig{Enabled: true, URL: "amqp://user:pw@host"}},
	}
	changed, fields := SummarizeConfigChange(a, b)
	if strings.Join(changed, ",") != "events,telegram" {
		t.Fatalf("changed=%v", changed)
	}
	if len(fields) == 0 {
		t.Fatalf("no fields")
	}
	if c, _ := SummarizeConfigChange(b, b); len(c) != 0 {
		t.Fatalf("identical configs reported %v", c)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"telegram":{"token":"a"}}`)
	m := NewConfigManager(path)
	m.SetLookup(noEnv)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Telegram.Token == "veto" {
			return errors.New("vetoed")
		}
		return nil
	})
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	writeFile(t, path, `{"telegram":{"token":"veto"}}`)
	time.Sleep(600 * time.Millisecond)
	writeFile(t, path, `{"telegram":{"token":"b"}}`)

	select {
	case cfg := <-ch:
		if cfg.Telegram.Token != "b" {
			t.Fatalf("published %q", cfg.Telegram.Token)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no reload published")
	}
	if m.Get().Telegram.Token != "b" {
		t.Fatalf("committed %q", m.Get().Telegram.Token)
	}
}

func TestReloadSkipsUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"telegram":{"token":"a"}}`)
	m := NewConfigManager(path)
	m.SetLookup(noEnv)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.reload(context.Background()) {
		t.Fatalf("unchanged file republished")
	}
	writeFile(t, path, `{"telegram":{"token":""}}`)
	if m.reload(context.Background()) {
		t.Fatalf("invalid config published")
	}
	if m.Get().Telegram.Token != "a" {
		t.Fatalf("rejected reload replaced config")
	}
}

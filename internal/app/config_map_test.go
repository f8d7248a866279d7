package app

import (
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"clipbot/internal/config"
	"clipbot/internal/storage"
)

func TestMapStorageConfig(t *testing.T) {
	cfg := &config.Config{}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if sc.Driver != "sqlite" || sc.Path != defaultDBPath || sc.BusyTimeout != defaultBusyTimeout {
		t.Fatalf("default storage=%+v", sc)
	}

	cfg.Storage = config.StorageConfig{Driver: "Postgres", DSN: " postgres://u@h/db "}
	sc, err = mapStorageConfig(cfg)
	if err != nil || sc.Driver != "postgres" || sc.DSN != "postgres://u@h/db" {
		t.Fatalf("postgres=%+v err=%v", sc, err)
	}

	cfg.Storage = config.StorageConfig{Driver: "postgres"}
	if _, err := mapStorageConfig(cfg); err == nil {
		t.Fatalf("postgres without dsn should fail")
	}
	cfg.Storage = config.StorageConfig{Driver: "none"}
	if _, err := mapStorageConfig(cfg); !errors.Is(err, storage.ErrDisabled) {
		t.Fatalf("none err=%v", err)
	}
	cfg.Storage = config.StorageConfig{Driver: "sqlite", BusyTimeout: "soon"}
	if _, err := mapStorageConfig(cfg); err == nil {
		t.Fatalf("bad busy_timeout should fail")
	}
}

func TestMapServiceConfigs(t *testing.T) {
	cfg := &config.Config{
		Broadcast: config.BroadcastConfig{
			Workers: 3, SendDelay: "50ms", SendTimeout: "5s", MaxPerSecond: 10, DeactivateUnreachable: true,
		},
		Conversation: config.ConversationConfig{
			Cooldown: "2s", DispatchWorkers: 8, HandlerTimeout: "20s", PageSize: 5,
		},
		Maintenance: config.MaintenanceConfig{
			Enabled: true, Timezone: "UTC", ActionRetention: "48h", SessionTTL: "30m",
		},
		Events: config.EventsConfig{AMQP: config.AMQPConfig{Enabled: true, URL: "amqp://x", Queue: "q"}},
	}

	bc, err := mapBroadcastConfig(cfg)
	if err != nil || bc.Workers != 3 || bc.SendDelay != 50*time.Millisecond || bc.SendTimeout != 5*time.Second || bc.MaxPerSecond != 10 || !bc.DeactivateUnreachable {
		t.Fatalf("broadcast=%+v err=%v", bc, err)
	}
	rc, err := mapRouterConfig(cfg)
	if err != nil || rc.Workers != 8 || rc.HandlerTimeout != 20*time.Second {
		t.Fatalf("router=%+v err=%v", rc, err)
	}
	if cc := mapConversationConfig(cfg); cc.PageSize != 5 {
		t.Fatalf("conversation=%+v", cc)
	}
	if w, err := cooldownWindow(cfg); err != nil || w != 2*time.Second {
		t.Fatalf("cooldown=%v err=%v", w, err)
	}
	mc, err := mapMaintenanceConfig(cfg)
	if err != nil || !mc.Enabled || mc.ActionRetention != 48*time.Hour || mc.SessionTTL != 30*time.Minute {
		t.Fatalf("maintenance=%+v err=%v", mc, err)
	}
	ac, enabled := mapAMQPConfig(cfg)
	if !enabled || ac.URL != "amqp://x" || ac.Queue != "q" {
		t.Fatalf("amqp=%+v enabled=%v", ac, enabled)
	}

	cfg.Broadcast.SendDelay = "later"
	if _, err := mapBroadcastConfig(cfg); err == nil {
		t.Fatalf("bad send_delay should fail")
	}
	cfg.Conversation.HandlerTimeout = "x"
	if _, err := mapRouterConfig(cfg); err == nil {
		t.Fatalf("bad handler_timeout should fail")
	}
}

func TestMapPprofConfigJoinsErrors(t *testing.T) {
	cfg := &config.Config{Pprof: config.PprofConfig{
		Enabled: true, Addr: " 127.0.0.1:0 ", ReadTimeout: "5s",
	}}
	pc, err := mapPprofConfig(cfg)
	if err != nil || pc.Addr != "127.0.0.1:0" || pc.ReadTimeout != 5*time.Second {
		t.Fatalf("pprof=%+v err=%v", pc, err)
	}

	cfg.Pprof.ReadTimeout = "a"
	cfg.Pprof.IdleTimeout = "b"
	_, err = mapPprofConfig(cfg)
	if err == nil {
		t.Fatalf("bad timeouts should fail")
	}
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) || len(joined.Unwrap()) != 2 {
		t.Fatalf("want both timeout errors, got %v", err)
	}
}

func TestReasonFromSignal(t *testing.T) {
	cases := map[os.Signal]StopReason{
		os.Interrupt:    StopSIGINT,
		syscall.SIGTERM: StopSIGTERM,
		syscall.SIGHUP:  StopUnknown,
	}
	for sig, want := range cases {
		if got := ReasonFromSignal(sig); got != want {
			t.Fatalf("%v: got %s want %s", sig, got, want)
		}
	}
}

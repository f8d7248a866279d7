package pprof

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	rtsup "clipbot/internal/runtime/supervisor"
	logx "clipbot/pkg/logx"
)

func TestHandlerAuthAndRoutes(t *testing.T) {
	sup := rtsup.NewSupervisor(context.Background())
	block := make(chan struct{})
	sup.Go0("worker", func(context.Context) { <-block })
	defer func() {
		close(block)
		_ = sup.Stop(context.Background())
	}()

	s := New(Config{}, func() map[string]*rtsup.Supervisor {
		return map[string]*rtsup.Supervisor{"app": sup, "gone": nil}
	}, logx.Nop())
	h := s.Handler(Config{Token: "sekrit"})

	get := func(path, auth string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := get("/healthz", ""); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
	if rec := get("/debug/supervisors", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rec.Code)
	}
	if rec := get("/debug/supervisors", "Bearer wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", rec.Code)
	}
	if rec := get("/debug/pprof/cmdline?token=sekrit", ""); rec.Code != http.StatusOK {
		t.Fatalf("pprof via query token: %d", rec.Code)
	}

	rec := get("/debug/supervisors", "Bearer sekrit")
	if rec.Code != http.StatusOK {
		t.Fatalf("supervisors: %d", rec.Code)
	}
	var snaps map[string]rtsup.SupervisorSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snaps); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snaps) != 1 || snaps["app"].Counters.Started != 1 {
		t.Fatalf("snapshots=%+v", snaps)
	}
}

func TestRefusesPublicBindWithoutToken(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, nil, logx.Nop())
	if err := s.serveOnce(context.Background()); err != errInsecureBind {
		t.Fatalf("err=%v", err)
	}
}

func TestServeAndStop(t *testing.T) {
	s := New(Config{}, nil, logx.Nop())
	s.Reconfigure(context.Background(), Config{Enabled: true, Addr: "127.0.0.1:0", MutexProfileFraction: -1, BlockProfileRate: -1})

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatalf("server did not bind")
		}
		time.Sleep(5 * time.Millisecond)
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Reconfigure(ctx, Config{Enabled: false})
	if s.Supervisor() != nil {
		t.Fatalf("supervisor still set after disable")
	}
}

func TestHelpers(t *testing.T) {
	for in, want := range map[string]string{"": "/debug", "x/": "/x", "/a/b/": "/a/b"} {
		if got := normalizePrefix(in); got != want {
			t.Fatalf("normalizePrefix(%q)=%q", in, got)
		}
	}
	for addr, want := range map[string]bool{"127.0.0.1:1": true, "localhost:1": true, "[::1]:1": true, ":1": false, "10.0.0.1:1": false, "junk": false} {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q)=%v", addr, got)
		}
	}
}

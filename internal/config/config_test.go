package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "FRAMES_DIR", "FRAME_POLL_INTERVAL", "FRAME_FORMAT", "MAX_SESSIONS",
		"SESSION_TIMEOUT", "HEARTBEAT_INTERVAL", "SESSION_SWEEP_INTERVAL",
		"RENDERER_CONTROL_PORT", "MAX_REQUEST_SIZE", "RATE_LIMIT_MAX",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("expected :8080, got %s", cfg.Server.Addr)
	}
	if cfg.Frames.PollInterval != 50*time.Millisecond {
		t.Fatalf("unexpected poll interval %v", cfg.Frames.PollInterval)
	}
	if cfg.Frames.Format != "png" || cfg.Frames.Prefix != "frame_" {
		t.Fatalf("unexpected frame pattern %s/%s", cfg.Frames.Prefix, cfg.Frames.Format)
	}
	if cfg.Session.MaxSessions != 100 {
		t.Fatalf("expected 100 sessions, got %d", cfg.Session.MaxSessions)
	}
	if cfg.Session.Timeout != time.Hour {
		t.Fatalf("unexpected session timeout %v", cfg.Session.Timeout)
	}
	if cfg.Session.SweepInterval != 30*time.Second {
		t.Fatalf("sweep should default to heartbeat interval, got %v", cfg.Session.SweepInterval)
	}
	if got := cfg.Renderer.ControlAddr(); got != "127.0.0.1:9090" {
		t.Fatalf("unexpected control addr %s", got)
	}
	if cfg.Security.MaxRequestSize != 10_000_000 {
		t.Fatalf("unexpected max request size %d", cfg.Security.MaxRequestSize)
	}
	if cfg.Security.RateLimitMax != 0 {
		t.Fatalf("rate limiting should be off by default, got %d", cfg.Security.RateLimitMax)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("FRAME_FORMAT", ".jpg")
	t.Setenv("HEARTBEAT_INTERVAL", "1000")
	t.Setenv("SESSION_SWEEP_INTERVAL", "")
	t.Setenv("MAX_SESSIONS", "3")
	t.Setenv("RENDERER_CONTROL_PORT", "7000")
	t.Setenv("RATE_LIMIT_MAX", "100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected addr %s", cfg.Server.Addr)
	}
	if cfg.Frames.Format != "jpg" {
		t.Fatalf("expected jpg, got %s", cfg.Frames.Format)
	}
	if cfg.Session.SweepInterval != time.Second {
		t.Fatalf("expected 1s sweep, got %v", cfg.Session.SweepInterval)
	}
	if cfg.Session.MaxSessions != 3 {
		t.Fatalf("expected 3 sessions, got %d", cfg.Session.MaxSessions)
	}
	if cfg.Renderer.Port != 7000 {
		t.Fatalf("expected port 7000, got %d", cfg.Renderer.Port)
	}
	if cfg.Security.RateLimitMax != 100 {
		t.Fatalf("expected rate limit 100, got %d", cfg.Security.RateLimitMax)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"MAX_SESSIONS":        "zero",
		"SESSION_TIMEOUT":     "-5",
		"FRAME_POLL_INTERVAL": "0",
		"MAX_REQUEST_SIZE":    "lots",
		"PORT":                "80 80",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			}
		})
	}
}

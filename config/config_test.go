package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantarc/engine/errs"
)

func TestDefaultSettings(t *testing.T) {
	cfg := Default()
	if cfg.Mode != ModeBacktest {
		t.Fatalf("expected default mode backtest, got %s", cfg.Mode)
	}
	if cfg.Limits.NotificationsPerHour != 30 {
		t.Fatalf("expected 30 notifications/hour, got %d", cfg.Limits.NotificationsPerHour)
	}
	if cfg.Timeouts.Setup != 5*time.Minute {
		t.Fatalf("unexpected setup timeout %s", cfg.Timeouts.Setup)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default settings must validate: %v", err)
	}
}

func TestLoadLayersFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	body := []byte("mode: backtest\ndataDirectory: /srv/market-data\nlimits:\n  notificationsPerHour: 10\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("QUANTARC_MAX_RUNTIME", "30m")
	t.Setenv("QUANTARC_NOTIFICATIONS_PER_HOUR", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DataDirectory != "/srv/market-data" {
		t.Fatalf("file override lost: %s", cfg.DataDirectory)
	}
	if cfg.Limits.NotificationsPerHour != 10 {
		t.Fatalf("file override lost: %d", cfg.Limits.NotificationsPerHour)
	}
	if cfg.Timeouts.MaxRuntime != 30*time.Minute {
		t.Fatalf("env override lost: %s", cfg.Timeouts.MaxRuntime)
	}
	// Unset keys keep their defaults.
	if cfg.Queues.SliceBuffer != 64 {
		t.Fatalf("default lost: %d", cfg.Queues.SliceBuffer)
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := map[string]func(*Settings){
		"unknown mode":     func(s *Settings) { s.Mode = "replay" },
		"empty data dir":   func(s *Settings) { s.DataDirectory = " " },
		"zero queue":       func(s *Settings) { s.Queues.SliceBuffer = 0 },
		"zero rate cap":    func(s *Settings) { s.Limits.NotificationsPerHour = 0 },
		"zero max runtime": func(s *Settings) { s.Timeouts.MaxRuntime = 0 },
		"bad drop policy":  func(s *Settings) { s.ResultDropPolicy = "spill" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
		if !errs.IsCode(err, errs.CodeConfiguration) {
			t.Fatalf("%s: expected configuration code, got %v", name, err)
		}
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestCallbackTimeoutFollowsMode(t *testing.T) {
	cfg := Default()
	if cfg.CallbackTimeout() != 5*time.Minute {
		t.Fatalf("backtest callback timeout: %s", cfg.CallbackTimeout())
	}
	cfg.Mode = ModeLive
	if cfg.CallbackTimeout() != 10*time.Second {
		t.Fatalf("live callback timeout: %s", cfg.CallbackTimeout())
	}
}

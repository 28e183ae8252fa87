// Package config_test tests configuration loading and validation.
package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"usebot/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "test-token"
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
	if cfg.Engine.TickInterval != 15*time.Second {
		t.Errorf("Engine.TickInterval = %v, want 15s", cfg.Engine.TickInterval)
	}
	if cfg.Engine.DefaultMinPause != 30*time.Second || cfg.Engine.DefaultMaxPause != 120*time.Second {
		t.Errorf("default pause range = [%v, %v], want [30s, 120s]",
			cfg.Engine.DefaultMinPause, cfg.Engine.DefaultMaxPause)
	}
	if cfg.Budget.DailyDMLimit != 7 {
		t.Errorf("Budget.DailyDMLimit = %d, want 7", cfg.Budget.DailyDMLimit)
	}
	if cfg.Budget.Timezone != "UTC" {
		t.Errorf("Budget.Timezone = %q, want UTC", cfg.Budget.Timezone)
	}

	tick, ok := cfg.Scheduler.Tasks["engine_tick"]
	if !ok || !tick.Enabled {
		t.Error("engine_tick task should be enabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "test-token"
logger:
  level: debug
  json: false
engine:
  max_workers: 8
  cta_stage: 2
budget:
  timezone: "Europe/Berlin"
  daily_dm_limit: 3
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want debug", cfg.Logger.Level)
	}
	if cfg.Engine.MaxWorkers != 8 {
		t.Errorf("Engine.MaxWorkers = %d, want 8", cfg.Engine.MaxWorkers)
	}
	if cfg.Engine.CTAStage != 2 {
		t.Errorf("Engine.CTAStage = %d, want 2", cfg.Engine.CTAStage)
	}
	if cfg.Budget.Timezone != "Europe/Berlin" {
		t.Errorf("Budget.Timezone = %q, want Europe/Berlin", cfg.Budget.Timezone)
	}
	if cfg.Budget.DailyDMLimit != 3 {
		t.Errorf("Budget.DailyDMLimit = %d, want 3", cfg.Budget.DailyDMLimit)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "test-token"
logger:
  level: shouting
`)

	if _, err := config.Load(path); err == nil {
		t.Error("Load() should reject an unknown log level")
	}
}

func TestLoadMissingFileUsesEnv(t *testing.T) {
	t.Setenv("USEBOT_TELEGRAM_TOKEN", "env-token")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Errorf("Telegram.Token = %q, want env-token", cfg.Telegram.Token)
	}
}

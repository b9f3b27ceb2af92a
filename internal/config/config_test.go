package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oriys/ignis/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	if err := config.Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "concur_cap: 16\nhot_cap: 2\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.ConcurCap != 16 {
		t.Fatalf("ConcurCap = %d, want 16", cfg.ConcurCap)
	}
	if cfg.HotCap != 2 {
		t.Fatalf("HotCap = %d, want 2", cfg.HotCap)
	}
	// Untouched fields should keep their defaults.
	if cfg.SnapCap != config.Default().SnapCap {
		t.Fatalf("SnapCap should retain default, got %d", cfg.SnapCap)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	cfg := config.Default()
	t.Setenv("IGNIS_CONCUR_CAP", "32")
	t.Setenv("IGNIS_LOG_LEVEL", "debug")

	config.LoadFromEnv(cfg)

	if cfg.ConcurCap != 32 {
		t.Fatalf("ConcurCap = %d, want 32", cfg.ConcurCap)
	}
	if cfg.Daemon.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q, want debug", cfg.Daemon.LogLevel)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := config.Default()
	cfg.ConcurCap = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero concur_cap")
	}
}

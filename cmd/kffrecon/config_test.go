package main

import (
	"os"
	"path/filepath"
	"testing"

	"kff-recon/pkg/episode"
	"kff-recon/pkg/qpsolve"
)

func TestLoadConfigDefaultsWhenFileMissing(t *testing.T) {
	t.Parallel()

	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}

	if cfg.Episode.ActiveThreshold != episode.DefaultConfig().ActiveThreshold {
		t.Fatalf("unexpected activeThreshold: %v", cfg.Episode.ActiveThreshold)
	}

	if cfg.QP.WOut != qpsolve.DefaultConfig().WOut {
		t.Fatalf("unexpected wOut: %v", cfg.QP.WOut)
	}

	if cfg.Pool.Workers <= 0 {
		t.Fatalf("expected positive default worker count, got %d", cfg.Pool.Workers)
	}
}

func TestLoadConfigAppliesFileOverrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")

	yamlBody := `
episode:
  activeThreshold: 2.5
  bufferMinutes: 15
reconcile:
  wIn: 2.0
  wOut: 6.0
  adaptiveInflowPrior: true
pool:
  workers: 3
`

	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}

	if cfg.Episode.ActiveThreshold != 2.5 {
		t.Fatalf("expected activeThreshold override, got %v", cfg.Episode.ActiveThreshold)
	}

	if cfg.Episode.BufferMinutes != 15 {
		t.Fatalf("expected bufferMinutes override, got %d", cfg.Episode.BufferMinutes)
	}

	if cfg.QP.WIn != 2.0 || cfg.QP.WOut != 6.0 {
		t.Fatalf("expected wIn/wOut overrides, got %v/%v", cfg.QP.WIn, cfg.QP.WOut)
	}

	if !cfg.QP.AdaptiveInflowPrior {
		t.Fatal("expected adaptiveInflowPrior override to be true")
	}

	if cfg.Pool.Workers != 3 {
		t.Fatalf("expected pool workers override, got %d", cfg.Pool.Workers)
	}
}

func TestLoadConfigRejectsUnreadableFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if _, err := loadConfig(dir); err == nil {
		t.Fatal("expected error reading a directory as a config file")
	}
}

func TestApplyEnvOverridesWinOverFileAndDefaults(t *testing.T) {
	originalLookup := lookupEnv

	defer func() { lookupEnv = originalLookup }()

	env := map[string]string{
		envActiveThreshold: "3.5",
		envWOut:            "9",
		envWorkers:         "7",
	}

	lookupEnv = func(key string) (string, bool) {
		value, ok := env[key]

		return value, ok
	}

	cfg := defaultRuntimeConfig()
	applyEnvOverrides(&cfg)

	if cfg.Episode.ActiveThreshold != 3.5 {
		t.Fatalf("expected env override for activeThreshold, got %v", cfg.Episode.ActiveThreshold)
	}

	if cfg.QP.WOut != 9 {
		t.Fatalf("expected env override for wOut, got %v", cfg.QP.WOut)
	}

	if cfg.Pool.Workers != 7 {
		t.Fatalf("expected env override for workers, got %d", cfg.Pool.Workers)
	}
}

func TestEnvIntIgnoresMalformedValues(t *testing.T) {
	originalLookup := lookupEnv

	defer func() { lookupEnv = originalLookup }()

	lookupEnv = func(string) (string, bool) { return "not-a-number", true }

	if got := envInt("ANY", 42); got != 42 {
		t.Fatalf("expected fallback 42 for malformed env int, got %d", got)
	}

	if got := envFloat("ANY", 1.5); got != 1.5 {
		t.Fatalf("expected fallback 1.5 for malformed env float, got %v", got)
	}

	if got := envBool("ANY", true); got != true {
		t.Fatalf("expected fallback true for malformed env bool, got %v", got)
	}
}

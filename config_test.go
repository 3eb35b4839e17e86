package tlsloop

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tlsloop.toml")
	contents := `
workers = 4
pin_workers = false
address_map_capacity_hint = 2048
index_size = 64
log_level = "warn"
metrics_enabled = true
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}

	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers)
	}
	if cfg.PinWorkers {
		t.Error("PinWorkers should be false")
	}
	if cfg.AddressMapCapacityHint != 2048 {
		t.Errorf("AddressMapCapacityHint = %d, want 2048", cfg.AddressMapCapacityHint)
	}
	if cfg.IndexSize != 64 {
		t.Errorf("IndexSize = %d, want 64", cfg.IndexSize)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
	if !cfg.MetricsEnabled {
		t.Error("MetricsEnabled should be true")
	}
}

func TestConfigOptionsAppliesOverrides(t *testing.T) {
	cfg := Config{
		Workers:                2,
		PinWorkers:             false,
		AddressMapCapacityHint: 512,
		IndexSize:              32,
		MetricsEnabled:         true,
	}

	opts, err := cfg.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}

	resolved, err := resolveRuntimeOptions(opts)
	if err != nil {
		t.Fatalf("resolveRuntimeOptions: %v", err)
	}
	if resolved.workers != 2 {
		t.Errorf("workers = %d, want 2", resolved.workers)
	}
	if resolved.mapCapacityHint != 512 {
		t.Errorf("mapCapacityHint = %d, want 512", resolved.mapCapacityHint)
	}
	if resolved.indexSize != 32 {
		t.Errorf("indexSize = %d, want 32", resolved.indexSize)
	}
	if !resolved.metricsEnabled {
		t.Error("metricsEnabled should be true")
	}
}

func TestLoadConfigFileMissing(t *testing.T) {
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected an error loading a nonexistent config file")
	}
}

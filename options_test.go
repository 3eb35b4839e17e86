package tlsloop

import "testing"

func TestResolveRuntimeOptionsDefaults(t *testing.T) {
	cfg, err := resolveRuntimeOptions(nil)
	if err != nil {
		t.Fatalf("resolveRuntimeOptions(nil) error: %v", err)
	}
	if cfg.workers != 0 {
		t.Errorf("default workers = %d, want 0", cfg.workers)
	}
	if !cfg.pinWorkers {
		t.Error("default pinWorkers should be true")
	}
	if cfg.mapCapacityHint != 1024 {
		t.Errorf("default mapCapacityHint = %d, want 1024", cfg.mapCapacityHint)
	}
	if cfg.indexSize != 256 {
		t.Errorf("default indexSize = %d, want 256", cfg.indexSize)
	}
	if cfg.logger == nil {
		t.Error("default logger should not be nil")
	}
	if cfg.metricsEnabled {
		t.Error("metrics should default to disabled")
	}
}

func TestResolveRuntimeOptionsOverrides(t *testing.T) {
	cfg, err := resolveRuntimeOptions([]RuntimeOption{
		WithWorkers(3),
		WithPinWorkers(false),
		WithMapCapacityHint(128),
		WithIndexSize(16),
		WithMetrics(true),
	})
	if err != nil {
		t.Fatalf("resolveRuntimeOptions error: %v", err)
	}
	if cfg.workers != 3 {
		t.Errorf("workers = %d, want 3", cfg.workers)
	}
	if cfg.pinWorkers {
		t.Error("pinWorkers should be false")
	}
	if cfg.mapCapacityHint != 128 {
		t.Errorf("mapCapacityHint = %d, want 128", cfg.mapCapacityHint)
	}
	if cfg.indexSize != 16 {
		t.Errorf("indexSize = %d, want 16", cfg.indexSize)
	}
	if !cfg.metricsEnabled {
		t.Error("metricsEnabled should be true")
	}
}

func TestResolveRuntimeOptionsRejectsNegatives(t *testing.T) {
	tests := []RuntimeOption{
		WithWorkers(-1),
		WithMapCapacityHint(-1),
		WithIndexSize(-1),
	}
	for _, opt := range tests {
		if _, err := resolveRuntimeOptions([]RuntimeOption{opt}); err == nil {
			t.Errorf("expected an error for a negative option value")
		}
	}
}

func TestResolveRuntimeOptionsSkipsNil(t *testing.T) {
	if _, err := resolveRuntimeOptions([]RuntimeOption{nil, WithWorkers(2), nil}); err != nil {
		t.Fatalf("resolveRuntimeOptions with nil entries error: %v", err)
	}
}

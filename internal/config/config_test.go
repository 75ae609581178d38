package config

import "testing"

func TestLoadAppliesDefaultsWithNoConfigFile(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8001 {
		t.Errorf("expected default port 8001, got %d", cfg.Server.Port)
	}
	if cfg.Scan.MaxConcurrency != 500 {
		t.Errorf("expected default max concurrency 500, got %d", cfg.Scan.MaxConcurrency)
	}
	if cfg.Cache.Backend != "memory" {
		t.Errorf("expected default cache backend memory, got %q", cfg.Cache.Backend)
	}
	if cfg.Queue.Backend != "memory" {
		t.Errorf("expected default queue backend memory, got %q", cfg.Queue.Backend)
	}
	if cfg.Sink.Backend != "memory" {
		t.Errorf("expected default sink backend memory, got %q", cfg.Sink.Backend)
	}
	if len(cfg.Scan.DefaultPorts) == 0 {
		t.Error("expected non-empty default port set")
	}
}

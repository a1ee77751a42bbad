package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Backend != StoreBackendMemory {
		t.Fatalf("expected default backend %q, got %q", StoreBackendMemory, cfg.Store.Backend)
	}
	if cfg.LockTTL != 10*time.Second {
		t.Fatalf("expected default lock TTL 10s, got %v", cfg.LockTTL)
	}
	if cfg.Executor.MaxAttempts != 4 {
		t.Fatalf("expected default max attempts 4, got %d", cfg.Executor.MaxAttempts)
	}
	if cfg.Executor.MaxConcurrency != 100 {
		t.Fatalf("expected default max concurrency 100, got %d", cfg.Executor.MaxConcurrency)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	os.Setenv("ACTEOND_STORE_BACKEND", "redis")
	os.Setenv("ACTEOND_NODE_ID", "node-7")
	defer os.Unsetenv("ACTEOND_STORE_BACKEND")
	defer os.Unsetenv("ACTEOND_NODE_ID")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Backend != StoreBackendRedis {
		t.Fatalf("expected env override to redis, got %q", cfg.Store.Backend)
	}
	if cfg.NodeID != "node-7" {
		t.Fatalf("expected node id override, got %q", cfg.NodeID)
	}
}

func TestLoadRejectsUnreadableFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

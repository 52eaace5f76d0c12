package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Quotas.Default.MaxConcurrentAgents != 10 {
		t.Errorf("expected default max_concurrent_agents 10, got %d", cfg.Quotas.Default.MaxConcurrentAgents)
	}
	if cfg.Quotas.Default.MaxSpawnDepth != 3 {
		t.Errorf("expected default max_spawn_depth 3, got %d", cfg.Quotas.Default.MaxSpawnDepth)
	}
	if cfg.RateLimit.Capacity != 10 {
		t.Errorf("expected rate limit capacity 10, got %v", cfg.RateLimit.Capacity)
	}
	if cfg.RateLimit.MaxWait != 5*time.Second {
		t.Errorf("expected max wait 5s, got %v", cfg.RateLimit.MaxWait)
	}
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("expected failure threshold 5, got %d", cfg.Breaker.FailureThreshold)
	}
	if cfg.Breaker.ResetTimeout != 30*time.Second {
		t.Errorf("expected reset timeout 30s, got %v", cfg.Breaker.ResetTimeout)
	}
	if cfg.Store.Retention != 168*time.Hour {
		t.Errorf("expected retention 168h, got %v", cfg.Store.Retention)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
store:
  path: /tmp/test-warden.db
  retention: 24h
rate_limit:
  capacity: 3
  refill_rate: 1
quotas:
  default:
    max_concurrent_agents: 4
    max_spawn_depth: 2
    max_subagents_per_parent: 3
  requesters:
    sess-batch:
      max_concurrent_agents: 20
      max_spawn_depth: 5
      max_subagents_per_parent: 10
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Store.Path != "/tmp/test-warden.db" {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
	if cfg.Store.Retention != 24*time.Hour {
		t.Errorf("retention = %v", cfg.Store.Retention)
	}
	if cfg.RateLimit.Capacity != 3 {
		t.Errorf("capacity = %v", cfg.RateLimit.Capacity)
	}
	// Unset keys fall back to defaults.
	if cfg.RateLimit.MaxWait != 5*time.Second {
		t.Errorf("max_wait should default to 5s, got %v", cfg.RateLimit.MaxWait)
	}

	q := cfg.Quotas.Requesters["sess-batch"].ToQuota()
	if q.MaxConcurrentAgents != 20 {
		t.Errorf("requester quota = %+v", q)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Default()
	cfg.Store.Path = filepath.Join(dir, "warden.db")
	cfg.Quotas.Requesters = map[string]QuotaConfig{
		"sess-a": {MaxConcurrentAgents: 2, MaxSpawnDepth: 1, MaxSubAgentsPerParent: 2},
	}

	if err := SaveTo(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Store.Path != cfg.Store.Path {
		t.Errorf("store path = %q, want %q", loaded.Store.Path, cfg.Store.Path)
	}
	if loaded.Quotas.Requesters["sess-a"].MaxConcurrentAgents != 2 {
		t.Errorf("requester quota not round-tripped: %+v", loaded.Quotas.Requesters)
	}
}

func TestValidateRejectsBadQuota(t *testing.T) {
	cfg := Default()
	cfg.Quotas.Default.MaxSpawnDepth = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero max_spawn_depth should fail validation")
	}

	cfg = Default()
	cfg.Quotas.Requesters = map[string]QuotaConfig{
		"bad": {MaxConcurrentAgents: -1, MaxSpawnDepth: 1, MaxSubAgentsPerParent: 1},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("negative requester quota should fail validation")
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := SaveTo(Default(), path); err != nil {
		t.Fatalf("save initial: %v", err)
	}

	reloaded := make(chan *Config, 1)
	w, err := Watch(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer w.Close()

	updated := Default()
	updated.Quotas.Default.MaxConcurrentAgents = 42
	if err := SaveTo(updated, path); err != nil {
		t.Fatalf("save updated: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Quotas.Default.MaxConcurrentAgents != 42 {
			t.Errorf("reloaded quota = %d, want 42", cfg.Quotas.Default.MaxConcurrentAgents)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never fired")
	}
}

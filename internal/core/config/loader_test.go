package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
stores:
  - id: store-downtown
    sync_interval: 45s
  - id: store-airport
cloud:
  base_url: https://api.example.com
  api_key: secret
database:
  url: postgres://localhost/syncline
retry:
  base_delay: 2s
  max_batch_size: 100
breaker:
  failure_threshold: 10
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if len(cfg.Stores) != 2 {
		t.Fatalf("stores = %d, want 2", len(cfg.Stores))
	}
	if cfg.Stores[0].StoreID != "store-downtown" || cfg.Stores[0].SyncInterval != 45*time.Second {
		t.Errorf("store[0] = %+v", cfg.Stores[0])
	}
	if cfg.Cloud.BaseURL != "https://api.example.com" {
		t.Errorf("cloud base_url = %q", cfg.Cloud.BaseURL)
	}
	if cfg.Retry.BaseDelay != 2*time.Second || cfg.Retry.MaxBatchSize != 100 {
		t.Errorf("retry = %+v", cfg.Retry)
	}
	if cfg.Breaker.FailureThreshold != 10 {
		t.Errorf("breaker failure_threshold = %d", cfg.Breaker.FailureThreshold)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
stores:
  - id: store-1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Stores[0].SyncInterval != 30*time.Second {
		t.Errorf("default sync_interval = %v, want 30s", cfg.Stores[0].SyncInterval)
	}
	if cfg.Cloud.Timeout != 15*time.Second {
		t.Errorf("default cloud timeout = %v, want 15s", cfg.Cloud.Timeout)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("SYNC_API_KEY", "from-env")
	path := writeConfig(t, `
cloud:
  api_key: ${SYNC_API_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Cloud.APIKey != "from-env" {
		t.Errorf("api_key = %q, want from-env", cfg.Cloud.APIKey)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load of a missing file must fail")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "stores: [unterminated")
	if _, err := Load(path); err == nil {
		t.Error("Load of malformed YAML must fail")
	}
}

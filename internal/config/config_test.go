package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
crawler:
  backend: paged
  base_url: https://old.example.com
  concurrency: 6
  queue_depth: 128
  max_attempts: 3
  settle_delay_ms: 1500
  max_target: 50
  job_timeout_seconds: 120
headless:
  max_parallel: 0
paged:
  cursor_param: page
storage:
  backend: gcs
  gcs_bucket: bucket
  prefix: html
db:
  dsn: postgres://crawler@localhost/crawler
notify:
  recipients:
    ops: ops@example.com
  timeout_seconds: 3
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Crawler.Backend != BackendPaged || cfg.Crawler.Concurrency != 6 || cfg.Crawler.MaxAttempts != 3 {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if got := cfg.Crawler.SettleDelay(); got != 1500*time.Millisecond {
		t.Fatalf("expected settle delay 1.5s, got %v", got)
	}
	if got := cfg.Crawler.JobBudget(); got != 2*time.Minute {
		t.Fatalf("expected job budget 2m, got %v", got)
	}
	if cfg.Crawler.MinTarget != 3 || cfg.Crawler.MaxTarget != 50 {
		t.Fatalf("expected target bounds [3,50], got [%d,%d]", cfg.Crawler.MinTarget, cfg.Crawler.MaxTarget)
	}
	if cfg.Paged.CursorParam != "page" {
		t.Fatalf("expected cursor param override, got %q", cfg.Paged.CursorParam)
	}
	if cfg.Storage.Backend != "gcs" || cfg.Storage.GCSBucket != "bucket" {
		t.Fatalf("expected gcs storage, got %+v", cfg.Storage)
	}
	if cfg.DB.RecordsTable != "crawl_records" {
		t.Fatalf("expected default records table, got %q", cfg.DB.RecordsTable)
	}
	if cfg.Notify.Recipients["ops"] != "ops@example.com" {
		t.Fatalf("expected recipient mapping, got %+v", cfg.Notify.Recipients)
	}
	if got := cfg.Notify.NotifyTimeout(); got != 3*time.Second {
		t.Fatalf("expected notify timeout 3s, got %v", got)
	}
	if cfg.Logging.Development {
		t.Fatal("expected production logging")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.Backend != BackendHeadless {
		t.Fatalf("expected headless backend, got %q", cfg.Crawler.Backend)
	}
	if cfg.Crawler.BaseURL != "https://www.reddit.com" {
		t.Fatalf("unexpected base url %q", cfg.Crawler.BaseURL)
	}
	if cfg.Crawler.SettleDelay() != 20*time.Second || cfg.Crawler.MaxAttempts != 5 {
		t.Fatalf("unexpected loop defaults: %+v", cfg.Crawler)
	}
	if cfg.Headless.WindowWidth != 1920 || cfg.Headless.WindowHeight != 1080 {
		t.Fatalf("unexpected viewport %dx%d", cfg.Headless.WindowWidth, cfg.Headless.WindowHeight)
	}
	if cfg.Storage.Backend != "memory" {
		t.Fatalf("expected memory storage, got %q", cfg.Storage.Backend)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CRAWLER_CRAWLER_CONCURRENCY", "9")
	t.Setenv("CRAWLER_SERVER_PORT", "7070")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.Concurrency != 9 || cfg.Server.Port != 7070 {
		t.Fatalf("expected env overrides, got concurrency=%d port=%d", cfg.Crawler.Concurrency, cfg.Server.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Crawler: CrawlerConfig{
			Backend:          BackendPaged,
			BaseURL:          "https://www.reddit.com",
			Concurrency:      1,
			GlobalQueueDepth: 1,
			MaxAttempts:      1,
			MinTarget:        3,
			MaxTarget:        100,
		},
		Storage: StorageConfig{Backend: "memory"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid concurrency", func(c *Config) { c.Crawler.Concurrency = 0 }, "crawler.concurrency"},
		{"invalid queue depth", func(c *Config) { c.Crawler.GlobalQueueDepth = 0 }, "crawler.queue_depth"},
		{"unknown backend", func(c *Config) { c.Crawler.Backend = "selenium" }, "crawler.backend"},
		{"relative base url", func(c *Config) { c.Crawler.BaseURL = "/r/" }, "crawler.base_url"},
		{"zero attempts", func(c *Config) { c.Crawler.MaxAttempts = 0 }, "crawler.max_attempts"},
		{"negative settle", func(c *Config) { c.Crawler.SettleDelayMillis = -1 }, "crawler.settle_delay_ms"},
		{"inverted bounds", func(c *Config) { c.Crawler.MaxTarget = 2 }, "target bounds"},
		{"headless missing max parallel", func(c *Config) { c.Crawler.Backend = BackendHeadless }, "headless.max_parallel"},
		{"gcs missing bucket", func(c *Config) { c.Storage.Backend = "gcs" }, "storage.gcs_bucket"},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

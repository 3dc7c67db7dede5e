package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/storefront-contact-crawler/internal/dispatcher"
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
database:
  driver: memory
crawler:
  max_pages: 12
  base_delay: 250ms
  breaker_threshold: 4
scheduler:
  email:
    size: 3
    poll_interval: 2s
  max_url_attempts: 5
resolver:
  providers: ["cse", "gemini"]
  orchestrator:
    auto_save_threshold: 0.8
  gemini:
    model: gemini-test
storage:
  backend: local
  local:
    base_dir: out
logging:
  development: false
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.Addr() != ":9090" {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Database.Driver != DriverMemory {
		t.Fatalf("expected memory driver, got %q", cfg.Database.Driver)
	}
	engine := cfg.Crawler.Engine()
	if engine.Discovery.MaxPages != 12 || engine.Session.RateControl.BaseDelay != 250*time.Millisecond {
		t.Fatalf("expected crawler overrides to apply: %+v", engine)
	}
	if engine.Session.RateControl.BreakerThreshold != 4 {
		t.Fatalf("expected breaker threshold 4, got %d", engine.Session.RateControl.BreakerThreshold)
	}
	if cfg.Scheduler.Email.Size != 3 || cfg.Scheduler.Email.PollInterval != 2*time.Second {
		t.Fatalf("expected email pool overrides: %+v", cfg.Scheduler.Email)
	}
	if cfg.Scheduler.URL.Size != 10 {
		t.Fatalf("expected url pool default size, got %d", cfg.Scheduler.URL.Size)
	}
	if cfg.Scheduler.MaxURLAttempts != 5 {
		t.Fatalf("expected max url attempts 5, got %d", cfg.Scheduler.MaxURLAttempts)
	}
	if len(cfg.Resolver.Providers) != 2 || cfg.Resolver.Providers[1] != "gemini" {
		t.Fatalf("expected provider list override, got %v", cfg.Resolver.Providers)
	}
	if cfg.Resolver.Orchestrator.AutoSaveThreshold != 0.8 {
		t.Fatalf("expected auto save threshold 0.8, got %v", cfg.Resolver.Orchestrator.AutoSaveThreshold)
	}
	if cfg.Resolver.Gemini.Model != "gemini-test" || !cfg.Resolver.Gemini.VerifyStorefront {
		t.Fatalf("expected gemini overrides with defaults kept: %+v", cfg.Resolver.Gemini)
	}
	if cfg.Storage.Local.BaseDir != "out" {
		t.Fatalf("expected local base dir out, got %q", cfg.Storage.Local.BaseDir)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides: %+v", cfg.Logging)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("SCC_DATABASE_DRIVER", "memory")
	t.Setenv("SCC_SERVER_PORT", "7070")
	t.Setenv("SCC_RESOLVER_CSE_API_KEY", "cse-key")
	t.Setenv("SCC_SCHEDULER_URL_SIZE", "4")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Resolver.CSE.APIKey != "cse-key" {
		t.Fatalf("expected env api key, got %q", cfg.Resolver.CSE.APIKey)
	}
	if cfg.Scheduler.URL.Size != 4 {
		t.Fatalf("expected env pool size 4, got %d", cfg.Scheduler.URL.Size)
	}
}

func TestLoadRequiresDSNForPostgres(t *testing.T) {
	t.Setenv("SCC_DATABASE_DSN", "")

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "database.dsn") {
		t.Fatalf("expected dsn error, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Driver: DriverMemory},
		Crawler:  CrawlerConfig{Timeout: time.Second, MaxPages: 10},
		Scheduler: SchedulerConfig{
			Email: dispatcherConfig(1),
			URL:   dispatcherConfig(1),
		},
		Relevance: RelevanceConfig{Threshold: 0.7},
		Storage:   StorageConfig{Backend: BackendLocal},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "sqlite" }, want: "database.driver"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Database.Driver = DriverPostgres }, want: "database.dsn"},
		{name: "zero timeout", mutate: func(c *Config) { c.Crawler.Timeout = 0 }, want: "crawler.timeout"},
		{name: "zero pool", mutate: func(c *Config) { c.Scheduler.URL.Size = 0 }, want: "scheduler"},
		{
			name:   "unknown provider",
			mutate: func(c *Config) { c.Resolver.Providers = []string{"bing"} },
			want:   "resolver.providers",
		},
		{name: "threshold range", mutate: func(c *Config) { c.Relevance.Threshold = 1.5 }, want: "relevance.threshold"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = BackendGCS }, want: "storage.gcs.bucket"},
		{name: "pubsub without project", mutate: func(c *Config) { c.PubSub.Enabled = true }, want: "pubsub"},
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

func dispatcherConfig(size int) dispatcher.Config {
	return dispatcher.Config{Size: size}
}

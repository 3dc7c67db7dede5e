// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/storefront-contact-crawler/internal/crawler"
	"github.com/JakeFAU/storefront-contact-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/storefront-contact-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/storefront-contact-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/storefront-contact-crawler/internal/resolver"
	"github.com/JakeFAU/storefront-contact-crawler/internal/resolver/cse"
	"github.com/JakeFAU/storefront-contact-crawler/internal/resolver/gemini"
	"github.com/JakeFAU/storefront-contact-crawler/internal/resolver/perplexity"
	"github.com/JakeFAU/storefront-contact-crawler/internal/storage/gcs"
	"github.com/JakeFAU/storefront-contact-crawler/internal/storage/local"
	"github.com/JakeFAU/storefront-contact-crawler/internal/storage/postgres"
	"github.com/JakeFAU/storefront-contact-crawler/internal/urlcheck"
)

// EnvPrefix namespaces every environment override, e.g. SCC_SERVER_PORT.
const EnvPrefix = "SCC"

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Export backends.
const (
	BackendLocal = "local"
	BackendGCS   = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	Relevance RelevanceConfig `mapstructure:"relevance"`
	Reviews   ReviewsConfig   `mapstructure:"reviews"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr is the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DatabaseConfig selects and tunes the store repository.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// Postgres converts the section into the pgx pool settings.
func (d DatabaseConfig) Postgres() postgres.Config {
	return postgres.Config{
		DSN:             d.DSN,
		MaxConns:        d.MaxConns,
		MinConns:        d.MinConns,
		MaxConnLifetime: d.MaxConnLifetime,
	}
}

// CrawlerConfig governs transport, discovery and per-store pacing.
type CrawlerConfig struct {
	UserAgent        string        `mapstructure:"user_agent"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxBodySize      int           `mapstructure:"max_body_size"`
	MaxPages         int           `mapstructure:"max_pages"`
	SitemapLimit     int           `mapstructure:"sitemap_limit"`
	DeepLinkSources  int           `mapstructure:"deep_link_sources"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	BaseDelay        time.Duration `mapstructure:"base_delay"`
	MaxDelay         time.Duration `mapstructure:"max_delay"`
	Multiplier       float64       `mapstructure:"multiplier"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	RelaxFactor      float64       `mapstructure:"relax_factor"`
}

// Transport returns the colly transport settings.
func (c CrawlerConfig) Transport() collyfetcher.Config {
	return collyfetcher.Config{UserAgent: c.UserAgent, Timeout: c.Timeout, MaxBodySize: c.MaxBodySize}
}

// Engine returns the crawl engine settings.
func (c CrawlerConfig) Engine() crawler.Config {
	return crawler.Config{
		Discovery: crawler.DiscoveryConfig{
			MaxPages:        c.MaxPages,
			SitemapLimit:    c.SitemapLimit,
			DeepLinkSources: c.DeepLinkSources,
		},
		Session: crawler.SessionConfig{
			MaxAttempts: c.MaxAttempts,
			RateControl: ratelimit.AdaptiveConfig{
				BaseDelay:        c.BaseDelay,
				MaxDelay:         c.MaxDelay,
				Multiplier:       c.Multiplier,
				BreakerThreshold: c.BreakerThreshold,
				RelaxFactor:      c.RelaxFactor,
			},
		},
	}
}

// SchedulerConfig sizes the two worker pools. With Autostart off, serve
// leaves both pools idle until started through the API.
type SchedulerConfig struct {
	Autostart        bool              `mapstructure:"autostart"`
	Email            dispatcher.Config `mapstructure:"email"`
	URL              dispatcher.Config `mapstructure:"url"`
	MaxEmailAttempts int               `mapstructure:"max_email_attempts"`
	MaxURLAttempts   int               `mapstructure:"max_url_attempts"`
	Cooldown         time.Duration     `mapstructure:"cooldown"`
}

// ResolverConfig selects URL providers and their credentials.
type ResolverConfig struct {
	Providers    []string          `mapstructure:"providers"`
	RPS          float64           `mapstructure:"rps"`
	CacheTTL     time.Duration     `mapstructure:"cache_ttl"`
	Orchestrator resolver.Config   `mapstructure:"orchestrator"`
	URLCheck     urlcheck.Config   `mapstructure:"urlcheck"`
	CSE          cse.Config        `mapstructure:"cse"`
	Perplexity   perplexity.Config `mapstructure:"perplexity"`
	Gemini       gemini.Config     `mapstructure:"gemini"`
}

// Limiter paces calls to each provider.
func (r ResolverConfig) Limiter() ratelimit.Config {
	return ratelimit.Config{RPS: r.RPS, Burst: 1}
}

// RelevanceConfig controls the optional model adjudication of ambiguous
// third-party addresses.
type RelevanceConfig struct {
	Adjudicate bool    `mapstructure:"adjudicate"`
	Threshold  float64 `mapstructure:"threshold"`
}

// ReviewsConfig paces the review listing scraper.
type ReviewsConfig struct {
	RPS        float64 `mapstructure:"rps"`
	Burst      int     `mapstructure:"burst"`
	MaxPages   int     `mapstructure:"max_pages"`
	MaxReviews int     `mapstructure:"max_reviews"`
}

// Limiter returns the review host limiter settings.
func (r ReviewsConfig) Limiter() ratelimit.Config {
	return ratelimit.Config{RPS: r.RPS, Burst: r.Burst}
}

// StorageConfig picks where exports land.
type StorageConfig struct {
	Backend string       `mapstructure:"backend"`
	GCS     gcs.Config   `mapstructure:"gcs"`
	Local   local.Config `mapstructure:"local"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load builds a Config from .env, an optional file and the environment.
// Environment variables win over file values.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it during
// Unmarshal, secrets included.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.migrate", true)

	v.SetDefault("crawler.user_agent", collyfetcher.DefaultUserAgent)
	v.SetDefault("crawler.timeout", 20*time.Second)
	v.SetDefault("crawler.max_body_size", 5<<20)
	v.SetDefault("crawler.max_pages", crawler.DefaultMaxPages)
	v.SetDefault("crawler.sitemap_limit", crawler.DefaultSitemapLimit)
	v.SetDefault("crawler.deep_link_sources", crawler.DefaultDeepLinkSources)
	v.SetDefault("crawler.max_attempts", 3)
	v.SetDefault("crawler.base_delay", ratelimit.DefaultBaseDelay)
	v.SetDefault("crawler.max_delay", ratelimit.DefaultMaxDelay)
	v.SetDefault("crawler.multiplier", ratelimit.DefaultMultiplier)
	v.SetDefault("crawler.breaker_threshold", ratelimit.DefaultBreakerThreshold)
	v.SetDefault("crawler.relax_factor", ratelimit.DefaultRelaxFactor)

	for _, pool := range []string{"email", "url"} {
		v.SetDefault("scheduler."+pool+".size", dispatcher.DefaultSize)
		v.SetDefault("scheduler."+pool+".poll_interval", dispatcher.DefaultPollInterval)
		v.SetDefault("scheduler."+pool+".sweep_every", dispatcher.DefaultSweepEvery)
		v.SetDefault("scheduler."+pool+".stale_after", dispatcher.DefaultStaleAfter)
	}
	v.SetDefault("scheduler.autostart", false)
	v.SetDefault("scheduler.max_email_attempts", 3)
	v.SetDefault("scheduler.max_url_attempts", 3)
	v.SetDefault("scheduler.cooldown", 0)

	v.SetDefault("resolver.providers", []string{"cse", "perplexity", "gemini"})
	v.SetDefault("resolver.rps", 1.0)
	v.SetDefault("resolver.cache_ttl", resolver.DefaultCacheTTL)
	v.SetDefault("resolver.orchestrator.auto_save_threshold", resolver.DefaultAutoSaveThreshold)
	v.SetDefault("resolver.orchestrator.low_confidence_threshold", resolver.DefaultLowConfidence)
	v.SetDefault("resolver.orchestrator.max_alternatives", resolver.DefaultMaxAlternatives)
	v.SetDefault("resolver.orchestrator.alternative_penalty", resolver.DefaultAlternativePenalty)
	v.SetDefault("resolver.orchestrator.max_review_urls", resolver.DefaultMaxReviewURLs)
	v.SetDefault("resolver.urlcheck.timeout", urlcheck.DefaultTimeout)
	v.SetDefault("resolver.urlcheck.max_redirects", urlcheck.DefaultMaxRedirects)
	v.SetDefault("resolver.urlcheck.user_agent", urlcheck.DefaultUserAgent)
	v.SetDefault("resolver.cse.api_key", "")
	v.SetDefault("resolver.cse.cx", "")
	v.SetDefault("resolver.cse.num", 10)
	v.SetDefault("resolver.perplexity.api_key", "")
	v.SetDefault("resolver.perplexity.model", perplexity.DefaultModel)
	v.SetDefault("resolver.perplexity.endpoint", perplexity.DefaultEndpoint)
	v.SetDefault("resolver.perplexity.top_n", perplexity.DefaultTopN)
	v.SetDefault("resolver.perplexity.timeout", perplexity.DefaultTimeout)
	v.SetDefault("resolver.gemini.api_key", "")
	v.SetDefault("resolver.gemini.model", gemini.DefaultModel)
	v.SetDefault("resolver.gemini.top_n", gemini.DefaultTopN)
	v.SetDefault("resolver.gemini.max_retries", gemini.DefaultMaxRetries)
	v.SetDefault("resolver.gemini.initial_retry_delay", gemini.DefaultInitialRetryDelay)
	v.SetDefault("resolver.gemini.verify_storefront", true)

	v.SetDefault("relevance.adjudicate", false)
	v.SetDefault("relevance.threshold", 0.7)

	v.SetDefault("reviews.rps", 1.0)
	v.SetDefault("reviews.burst", 1)
	v.SetDefault("reviews.max_pages", 0)
	v.SetDefault("reviews.max_reviews", 0)

	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.prefix", "exports")
	v.SetDefault("storage.local.base_dir", "exports")

	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "store-events")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.Crawler.Timeout <= 0 {
		return fmt.Errorf("crawler.timeout must be > 0")
	}
	if c.Crawler.MaxPages <= 0 {
		return fmt.Errorf("crawler.max_pages must be > 0")
	}
	if c.Scheduler.Email.Size <= 0 || c.Scheduler.URL.Size <= 0 {
		return fmt.Errorf("scheduler pool sizes must be > 0")
	}
	for _, name := range c.Resolver.Providers {
		switch name {
		case "cse", "perplexity", "gemini":
		default:
			return fmt.Errorf("resolver.providers: unknown provider %q", name)
		}
	}
	if c.Relevance.Threshold < 0 || c.Relevance.Threshold > 1 {
		return fmt.Errorf("relevance.threshold must be within [0,1]")
	}
	switch c.Storage.Backend {
	case BackendLocal:
	case BackendGCS:
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set when pubsub is enabled")
	}
	return nil
}

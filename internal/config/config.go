// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names accepted by crawler.backend.
const (
	BackendHeadless = "headless"
	BackendPaged    = "paged"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Paged    PagedConfig    `mapstructure:"paged"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the crawl loop, the dispatcher, and request bounds.
type CrawlerConfig struct {
	Backend                 string `mapstructure:"backend"`
	BaseURL                 string `mapstructure:"base_url"`
	Concurrency             int    `mapstructure:"concurrency"`
	GlobalQueueDepth        int    `mapstructure:"queue_depth"`
	MaxAttempts             int    `mapstructure:"max_attempts"`
	SettleDelayMillis       int    `mapstructure:"settle_delay_ms"`
	NavTimeoutSeconds       int    `mapstructure:"nav_timeout_seconds"`
	ReadinessTimeoutSeconds int    `mapstructure:"readiness_timeout_seconds"`
	ReadinessSelector       string `mapstructure:"readiness_selector"`
	ItemSelector            string `mapstructure:"item_selector"`
	DefaultSortMode         string `mapstructure:"default_sort_mode"`
	MinTarget               int    `mapstructure:"min_target"`
	MaxTarget               int    `mapstructure:"max_target"`
	JobTimeoutSeconds       int    `mapstructure:"job_timeout_seconds"`
}

// HeadlessConfig configures the chromedp browser backend.
type HeadlessConfig struct {
	MaxParallel          int     `mapstructure:"max_parallel"`
	UserAgent            string  `mapstructure:"user_agent"`
	WindowWidth          int     `mapstructure:"window_width"`
	WindowHeight         int     `mapstructure:"window_height"`
	NavigationsPerSecond float64 `mapstructure:"navigations_per_second"`
	ExecPath             string  `mapstructure:"exec_path"`
}

// PagedConfig configures the HTTP paging backend.
type PagedConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	CursorParam    string `mapstructure:"cursor_param"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// StorageConfig selects and configures the report blob store.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	BaseDir   string `mapstructure:"base_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database. An empty DSN keeps
// results in memory.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	JobsTable    string `mapstructure:"jobs_table"`
	ResultsTable string `mapstructure:"results_table"`
	RecordsTable string `mapstructure:"records_table"`
}

// PubSubConfig holds metadata for publish-subscribe notifications. An empty
// project keeps notifications in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// NotifyConfig maps recipient handles to delivery addresses.
type NotifyConfig struct {
	Recipients     map[string]string `mapstructure:"recipients"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("crawler.backend", BackendHeadless)
	v.SetDefault("crawler.base_url", "https://www.reddit.com")
	v.SetDefault("crawler.concurrency", 2)
	v.SetDefault("crawler.queue_depth", 32)
	v.SetDefault("crawler.max_attempts", 5)
	v.SetDefault("crawler.settle_delay_ms", 20000)
	v.SetDefault("crawler.nav_timeout_seconds", 90)
	v.SetDefault("crawler.readiness_timeout_seconds", 60)
	v.SetDefault("crawler.readiness_selector", "shreddit-post")
	v.SetDefault("crawler.item_selector", "shreddit-post")
	v.SetDefault("crawler.default_sort_mode", "hot")
	v.SetDefault("crawler.min_target", 3)
	v.SetDefault("crawler.max_target", 100)
	v.SetDefault("crawler.job_timeout_seconds", 600)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.window_width", 1920)
	v.SetDefault("headless.window_height", 1080)
	v.SetDefault("headless.navigations_per_second", 1.0)
	v.SetDefault("paged.cursor_param", "after")
	v.SetDefault("paged.timeout_seconds", 30)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.base_dir", "data")
	v.SetDefault("storage.prefix", "reports")
	v.SetDefault("db.max_open_conns", 4)
	v.SetDefault("db.jobs_table", "crawl_jobs")
	v.SetDefault("db.results_table", "crawl_results")
	v.SetDefault("db.records_table", "crawl_records")
	v.SetDefault("pubsub.topic_name", "crawl-reports")
	v.SetDefault("notify.timeout_seconds", 10)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.GlobalQueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	switch c.Crawler.Backend {
	case BackendHeadless, BackendPaged:
	default:
		return fmt.Errorf("crawler.backend must be %q or %q", BackendHeadless, BackendPaged)
	}
	u, err := url.Parse(c.Crawler.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("crawler.base_url must be an absolute URL")
	}
	if c.Crawler.MaxAttempts <= 0 {
		return fmt.Errorf("crawler.max_attempts must be > 0")
	}
	if c.Crawler.SettleDelayMillis < 0 {
		return fmt.Errorf("crawler.settle_delay_ms must be >= 0")
	}
	if c.Crawler.MinTarget < 0 || c.Crawler.MaxTarget < c.Crawler.MinTarget {
		return fmt.Errorf("crawler target bounds must satisfy 0 <= min_target <= max_target")
	}
	if c.Crawler.Backend == BackendHeadless && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when the headless backend is selected")
	}
	switch c.Storage.Backend {
	case "memory", "local":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend must be memory, local, or gcs")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// SettleDelay returns the post-scroll wait.
func (c CrawlerConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMillis) * time.Millisecond
}

// JobBudget bounds a single crawl job end to end.
func (c CrawlerConfig) JobBudget() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

// NotifyTimeout bounds one notification attempt.
func (c NotifyConfig) NotifyTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

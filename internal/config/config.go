// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Intake   IntakeConfig   `mapstructure:"intake"`
	DB       DBConfig       `mapstructure:"db"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// ServerConfig controls the HTTP server exposing health and metrics.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlerConfig governs the scroll loop.
type CrawlerConfig struct {
	ScrollIncrementPx int `mapstructure:"scroll_increment_px"`
	ScrollPauseMs     int `mapstructure:"scroll_pause_ms"`
	DrainThreshold    int `mapstructure:"drain_threshold"`
}

// ScrollPause converts the configured pause into a duration.
func (c CrawlerConfig) ScrollPause() time.Duration {
	return time.Duration(c.ScrollPauseMs) * time.Millisecond
}

// BrowserConfig configures Chrome startup and page timeouts.
type BrowserConfig struct {
	ProfilesDir           string `mapstructure:"profiles_dir"`
	UserAgent             string `mapstructure:"user_agent"`
	NavTimeoutSeconds     int    `mapstructure:"nav_timeout_seconds"`
	FeedReadyTimeoutSec   int    `mapstructure:"feed_ready_timeout_seconds"`
	ActionTimeoutSeconds  int    `mapstructure:"action_timeout_seconds"`
	DisconnectPollSeconds int    `mapstructure:"disconnect_poll_seconds"`
}

// NavigationTimeout converts the navigation timeout into a duration.
func (c BrowserConfig) NavigationTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSeconds) * time.Second
}

// FeedReadyTimeout converts the feed-ready timeout into a duration.
func (c BrowserConfig) FeedReadyTimeout() time.Duration {
	return time.Duration(c.FeedReadyTimeoutSec) * time.Second
}

// ActionTimeout converts the action timeout into a duration.
func (c BrowserConfig) ActionTimeout() time.Duration {
	return time.Duration(c.ActionTimeoutSeconds) * time.Second
}

// DisconnectPoll converts the session watchdog interval into a duration.
func (c BrowserConfig) DisconnectPoll() time.Duration {
	return time.Duration(c.DisconnectPollSeconds) * time.Second
}

// DeliveryConfig points the dispatcher at the consumer webhook.
type DeliveryConfig struct {
	WebhookURL     string `mapstructure:"webhook_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Timeout converts the delivery timeout into a duration.
func (c DeliveryConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// IntakeConfig governs the job consumption loop.
type IntakeConfig struct {
	// Source selects the queue backend: "memory" or "pubsub".
	Source        string `mapstructure:"source"`
	MaxConcurrent int    `mapstructure:"max_concurrent"`
	Headless      bool   `mapstructure:"headless"`
	QueueDepth    int    `mapstructure:"queue_depth"`
}

// DBConfig controls workflow persistence.
type DBConfig struct {
	// Driver selects the workflow store backend: "memory" or "postgres".
	Driver             string `mapstructure:"driver"`
	DSN                string `mapstructure:"dsn"`
	MaxConns           int    `mapstructure:"max_conns"`
	MinConns           int    `mapstructure:"min_conns"`
	ConnLifetimeMinute int    `mapstructure:"conn_lifetime_minutes"`
}

// ConnLifetime converts the connection lifetime into a duration.
func (c DBConfig) ConnLifetime() time.Duration {
	return time.Duration(c.ConnLifetimeMinute) * time.Minute
}

// RedisConfig controls the persistent dedup store.
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
	TTLHours  int    `mapstructure:"ttl_hours"`
}

// TTL converts the key lifetime into a duration. Zero means no expiry.
func (c RedisConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// StorageConfig selects the audit screenshot backend.
type StorageConfig struct {
	// Provider is one of "noop", "memory", "local" or "gcs".
	Provider    string `mapstructure:"provider"`
	BaseDir     string `mapstructure:"base_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds the job subscription coordinates.
type PubSubConfig struct {
	ProjectID      string `mapstructure:"project_id"`
	SubscriptionID string `mapstructure:"subscription_id"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PIPFOX")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("crawler.scroll_increment_px", 700)
	v.SetDefault("crawler.scroll_pause_ms", 2000)
	v.SetDefault("crawler.drain_threshold", 3)
	v.SetDefault("browser.profiles_dir", "./profiles")
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.feed_ready_timeout_seconds", 30)
	v.SetDefault("browser.action_timeout_seconds", 15)
	v.SetDefault("browser.disconnect_poll_seconds", 2)
	v.SetDefault("delivery.timeout_seconds", 5)
	v.SetDefault("intake.source", "memory")
	v.SetDefault("intake.max_concurrent", 5)
	v.SetDefault("intake.headless", true)
	v.SetDefault("intake.queue_depth", 64)
	v.SetDefault("db.driver", "memory")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("redis.key_prefix", "pipfox:seen:")
	v.SetDefault("storage.provider", "noop")
	v.SetDefault("storage.prefix", "audit")
	v.SetDefault("storage.content_type", "image/png")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.ScrollIncrementPx <= 0 {
		return fmt.Errorf("crawler.scroll_increment_px must be > 0")
	}
	if c.Crawler.DrainThreshold <= 0 {
		return fmt.Errorf("crawler.drain_threshold must be > 0")
	}
	if c.Intake.MaxConcurrent <= 0 {
		return fmt.Errorf("intake.max_concurrent must be > 0")
	}
	if c.Delivery.TimeoutSeconds <= 0 {
		return fmt.Errorf("delivery.timeout_seconds must be > 0")
	}
	switch c.Intake.Source {
	case "memory":
		if c.Intake.QueueDepth <= 0 {
			return fmt.Errorf("intake.queue_depth must be > 0 for the memory queue")
		}
	case "pubsub":
		if c.PubSub.ProjectID == "" || c.PubSub.SubscriptionID == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.subscription_id are required for the pubsub source")
		}
	default:
		return fmt.Errorf("intake.source must be memory or pubsub, got %q", c.Intake.Source)
	}
	switch c.DB.Driver {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("db.driver must be memory or postgres, got %q", c.DB.Driver)
	}
	switch c.Storage.Provider {
	case "noop", "memory":
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local provider")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs provider")
		}
	default:
		return fmt.Errorf("storage.provider must be noop, memory, local or gcs, got %q", c.Storage.Provider)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	return nil
}

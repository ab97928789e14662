// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all crawler configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Parser    ParserConfig    `mapstructure:"parser"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Store     StoreConfig     `mapstructure:"store"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Seeds     SeedsConfig     `mapstructure:"seeds"`
	Server    ServerConfig    `mapstructure:"server"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// HTTPConfig configures static fetches.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	AcceptLanguage string `mapstructure:"accept_language"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
}

// Timeout returns the static fetch timeout.
func (h HTTPConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

// HeadlessConfig configures rendered fetches.
type HeadlessConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	MaxParallel       int      `mapstructure:"max_parallel"`
	NavTimeoutSec     int      `mapstructure:"nav_timeout_seconds"`
	NetworkIdleMs     int      `mapstructure:"network_idle_wait_ms"`
	ViewportWidth     int      `mapstructure:"viewport_width"`
	ViewportHeight    int      `mapstructure:"viewport_height"`
	PerHostQPS        float64  `mapstructure:"per_host_qps"`
	BlockedResources  []string `mapstructure:"blocked_resources"`
	PromoteStatic     bool     `mapstructure:"promote_static"`
	PromotionMinBytes int      `mapstructure:"promotion_min_bytes"`
}

// PolicyConfig holds one platform's request budget. Zero fields inherit the default policy.
type PolicyConfig struct {
	HourlyCap         int `mapstructure:"hourly_cap"`
	WindowSeconds     int `mapstructure:"window_seconds"`
	MinDelayMs        int `mapstructure:"min_delay_ms"`
	MaxDelayMs        int `mapstructure:"max_delay_ms"`
	MaxAttempts       int `mapstructure:"max_attempts"`
	BaseBackoffMs     int `mapstructure:"base_backoff_ms"`
	MaxBackoffSeconds int `mapstructure:"max_backoff_seconds"`
}

// RateLimitConfig holds the default policy plus per-platform overrides.
type RateLimitConfig struct {
	Default   PolicyConfig            `mapstructure:"default"`
	Platforms map[string]PolicyConfig `mapstructure:"platforms"`
}

// PolicyFor merges the platform override on top of the default policy.
func (r RateLimitConfig) PolicyFor(platform string) PolicyConfig {
	out := r.Default
	override, ok := r.Platforms[strings.ToLower(platform)]
	if !ok {
		return out
	}
	mergeInt(&out.HourlyCap, override.HourlyCap)
	mergeInt(&out.WindowSeconds, override.WindowSeconds)
	mergeInt(&out.MinDelayMs, override.MinDelayMs)
	mergeInt(&out.MaxDelayMs, override.MaxDelayMs)
	mergeInt(&out.MaxAttempts, override.MaxAttempts)
	mergeInt(&out.BaseBackoffMs, override.BaseBackoffMs)
	mergeInt(&out.MaxBackoffSeconds, override.MaxBackoffSeconds)
	return out
}

func mergeInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// ParserConfig tunes content-quality filters.
type ParserConfig struct {
	MinBodyLength     int            `mapstructure:"min_body_length"`
	MinLengths        map[string]int `mapstructure:"min_lengths"`
	PlaceholderTitles []string       `mapstructure:"placeholder_titles"`
	MaxPages          int            `mapstructure:"max_pages"`
	MaxReplies        int            `mapstructure:"max_replies"`
	StackExchangeKey  string         `mapstructure:"stackexchange_key"`
	StackExchangeSite string         `mapstructure:"stackexchange_site"`
}

// MinLengthFor returns the platform minimum body length, falling back to MinBodyLength.
func (p ParserConfig) MinLengthFor(platform string) int {
	if n, ok := p.MinLengths[strings.ToLower(platform)]; ok && n > 0 {
		return n
	}
	return p.MinBodyLength
}

// DedupConfig controls fingerprinting and the optional Redis seen cache.
type DedupConfig struct {
	MinLength int         `mapstructure:"min_length"`
	Redis     RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the shared seen-fingerprint cache.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
	TTLHours  int    `mapstructure:"ttl_hours"`
}

// StoreConfig selects the article store.
type StoreConfig struct {
	Driver     string `mapstructure:"driver"`
	DSN        string `mapstructure:"dsn"`
	Table      string `mapstructure:"table"`
	MongoURI   string `mapstructure:"mongo_uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
	MaxConns   int    `mapstructure:"max_conns"`
}

// ArchiveConfig selects where parse-miss snapshots go.
type ArchiveConfig struct {
	Driver string `mapstructure:"driver"`
	Dir    string `mapstructure:"dir"`
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PublisherConfig selects where run summaries are published.
type PublisherConfig struct {
	Driver    string `mapstructure:"driver"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
	NATSURL   string `mapstructure:"nats_url"`
}

// SeedsConfig points at the seed manifest.
type SeedsConfig struct {
	File string `mapstructure:"file"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port                  int    `mapstructure:"port"`
	APIKey                string `mapstructure:"api_key"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
	QueueCapacity         int    `mapstructure:"queue_capacity"`
}

// LoadEnvFiles loads .env style files into the process environment.
// Missing files are ignored; existing variables are not overridden.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OTA")
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
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")

	v.SetDefault("http.timeout_seconds", 20)
	v.SetDefault("http.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("http.accept_language", "en-US,en;q=0.9")
	v.SetDefault("http.max_body_bytes", 5*1024*1024)
	v.SetDefault("http.respect_robots", false)

	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.network_idle_wait_ms", 10000)
	v.SetDefault("headless.viewport_width", 1366)
	v.SetDefault("headless.viewport_height", 768)
	v.SetDefault("headless.per_host_qps", 0.5)
	v.SetDefault("headless.blocked_resources", []string{"Image", "Stylesheet", "Font"})
	v.SetDefault("headless.promote_static", true)
	v.SetDefault("headless.promotion_min_bytes", 2048)

	v.SetDefault("ratelimit.default.hourly_cap", 300)
	v.SetDefault("ratelimit.default.window_seconds", 3600)
	v.SetDefault("ratelimit.default.min_delay_ms", 2000)
	v.SetDefault("ratelimit.default.max_delay_ms", 5000)
	v.SetDefault("ratelimit.default.max_attempts", 5)
	v.SetDefault("ratelimit.default.base_backoff_ms", 2000)
	v.SetDefault("ratelimit.default.max_backoff_seconds", 300)
	v.SetDefault("ratelimit.platforms.stackoverflow.hourly_cap", 250)
	v.SetDefault("ratelimit.platforms.stackoverflow.min_delay_ms", 1000)
	v.SetDefault("ratelimit.platforms.stackoverflow.max_delay_ms", 3000)
	v.SetDefault("ratelimit.platforms.reddit.hourly_cap", 500)
	v.SetDefault("ratelimit.platforms.reddit.min_delay_ms", 1500)
	v.SetDefault("ratelimit.platforms.tripadvisor.hourly_cap", 120)
	v.SetDefault("ratelimit.platforms.tripadvisor.min_delay_ms", 3000)
	v.SetDefault("ratelimit.platforms.tripadvisor.max_delay_ms", 8000)

	v.SetDefault("parser.min_body_length", 50)
	v.SetDefault("parser.min_lengths.tripadvisor", 100)
	v.SetDefault("parser.min_lengths.reddit", 20)
	v.SetDefault("parser.min_lengths.stackoverflow", 20)
	v.SetDefault("parser.min_lengths.airhosts", 40)
	v.SetDefault("parser.placeholder_titles", []string{
		"page not found",
		"help center",
		"search results",
		"404",
		"access denied",
		"just a moment...",
	})
	v.SetDefault("parser.max_pages", 5)
	v.SetDefault("parser.max_replies", 10)
	v.SetDefault("parser.stackexchange_site", "travel")

	v.SetDefault("dedup.min_length", 30)
	v.SetDefault("dedup.redis.key_prefix", "ota:fp:")
	v.SetDefault("dedup.redis.ttl_hours", 24*30)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "file:ota.db")
	v.SetDefault("store.table", "articles")
	v.SetDefault("store.database", "ota")
	v.SetDefault("store.collection", "articles")
	v.SetDefault("store.max_conns", 4)

	v.SetDefault("archive.driver", "none")
	v.SetDefault("archive.dir", "data/snapshots")
	v.SetDefault("archive.prefix", "parse-miss")

	v.SetDefault("publisher.driver", "none")
	v.SetDefault("publisher.topic", "ota-crawl-runs")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.queue_capacity", 16)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.UserAgent == "" {
		return fmt.Errorf("http.user_agent must be set")
	}
	if c.Headless.Enabled {
		if c.Headless.MaxParallel <= 0 {
			return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
		}
		if c.Headless.NavTimeoutSec <= 0 {
			return fmt.Errorf("headless.nav_timeout_seconds must be > 0 when headless is enabled")
		}
	}
	if err := validatePolicy("ratelimit.default", c.RateLimit.Default); err != nil {
		return err
	}
	for name := range c.RateLimit.Platforms {
		if err := validatePolicy("ratelimit.platforms."+name, c.RateLimit.PolicyFor(name)); err != nil {
			return err
		}
	}
	if c.Parser.MinBodyLength <= 0 {
		return fmt.Errorf("parser.min_body_length must be > 0")
	}
	if c.Dedup.MinLength < 0 {
		return fmt.Errorf("dedup.min_length must be >= 0")
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for the %s driver", c.Store.Driver)
		}
	case "mongo":
		if c.Store.MongoURI == "" {
			return fmt.Errorf("store.mongo_uri must be set for the mongo driver")
		}
	default:
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}
	switch c.Archive.Driver {
	case "", "none", "memory":
	case "local":
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir must be set for the local driver")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs driver")
		}
	default:
		return fmt.Errorf("archive.driver %q is not supported", c.Archive.Driver)
	}
	switch c.Publisher.Driver {
	case "", "none", "memory":
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.Topic == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic must be set for pubsub")
		}
	case "nats":
		if c.Publisher.NATSURL == "" || c.Publisher.Topic == "" {
			return fmt.Errorf("publisher.nats_url and publisher.topic must be set for nats")
		}
	default:
		return fmt.Errorf("publisher.driver %q is not supported", c.Publisher.Driver)
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.QueueCapacity <= 0 {
		return fmt.Errorf("server.queue_capacity must be > 0")
	}
	return nil
}

func validatePolicy(key string, p PolicyConfig) error {
	switch {
	case p.HourlyCap <= 0:
		return fmt.Errorf("%s.hourly_cap must be > 0", key)
	case p.WindowSeconds <= 0:
		return fmt.Errorf("%s.window_seconds must be > 0", key)
	case p.MinDelayMs < 0 || p.MaxDelayMs < p.MinDelayMs:
		return fmt.Errorf("%s.max_delay_ms must be >= min_delay_ms >= 0", key)
	case p.MaxAttempts <= 0:
		return fmt.Errorf("%s.max_attempts must be > 0", key)
	case p.BaseBackoffMs <= 0:
		return fmt.Errorf("%s.base_backoff_ms must be > 0", key)
	case p.MaxBackoffSeconds <= 0:
		return fmt.Errorf("%s.max_backoff_seconds must be > 0", key)
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 20*time.Second, cfg.HTTP.Timeout())
	require.Equal(t, "sqlite", cfg.Store.Driver)
	require.Equal(t, 50, cfg.Parser.MinBodyLength)
	require.Equal(t, 100, cfg.Parser.MinLengthFor("tripadvisor"))
	require.Equal(t, 50, cfg.Parser.MinLengthFor("airbnb"))
	require.Contains(t, cfg.Parser.PlaceholderTitles, "page not found")

	so := cfg.RateLimit.PolicyFor("stackoverflow")
	require.Equal(t, 250, so.HourlyCap)
	require.Equal(t, 1000, so.MinDelayMs)
	require.Equal(t, 3600, so.WindowSeconds, "unset override fields inherit the default")
	require.Equal(t, 300, cfg.RateLimit.PolicyFor("viator").HourlyCap)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
logging:
  development: true
  level: debug
http:
  timeout_seconds: 12
  user_agent: test-agent
headless:
  enabled: false
ratelimit:
  default:
    hourly_cap: 100
  platforms:
    reddit:
      hourly_cap: 30
      max_attempts: 2
parser:
  min_body_length: 80
  min_lengths:
    reddit: 25
store:
  driver: postgres
  dsn: postgres://localhost/ota
archive:
  driver: local
  dir: /tmp/snapshots
publisher:
  driver: nats
  nats_url: nats://localhost:4222
  topic: ota.runs
seeds:
  file: seeds.yaml
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.True(t, cfg.Logging.Development)
	require.Equal(t, "test-agent", cfg.HTTP.UserAgent)
	require.False(t, cfg.Headless.Enabled)
	require.Equal(t, 100, cfg.RateLimit.Default.HourlyCap)
	reddit := cfg.RateLimit.PolicyFor("reddit")
	require.Equal(t, 30, reddit.HourlyCap)
	require.Equal(t, 2, reddit.MaxAttempts)
	require.Equal(t, 80, cfg.Parser.MinBodyLength)
	require.Equal(t, 25, cfg.Parser.MinLengthFor("reddit"))
	require.Equal(t, "postgres", cfg.Store.Driver)
	require.Equal(t, "/tmp/snapshots", cfg.Archive.Dir)
	require.Equal(t, "ota.runs", cfg.Publisher.Topic)
	require.Equal(t, "seeds.yaml", cfg.Seeds.File)
	require.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("OTA_TEST_ENV_FILE=loaded\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("OTA_TEST_ENV_FILE") })

	require.NoError(t, LoadEnvFiles(filepath.Join(dir, "missing.env"), path))
	require.Equal(t, "loaded", os.Getenv("OTA_TEST_ENV_FILE"))
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"invalid timeout", func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, "http.timeout_seconds"},
		{"missing user agent", func(c *Config) { c.HTTP.UserAgent = "" }, "http.user_agent"},
		{"headless parallel", func(c *Config) { c.Headless.MaxParallel = 0 }, "headless.max_parallel"},
		{"hourly cap", func(c *Config) { c.RateLimit.Default.HourlyCap = 0 }, "ratelimit.default.hourly_cap"},
		{"delay order", func(c *Config) { c.RateLimit.Default.MaxDelayMs = 1 }, "ratelimit.default.max_delay_ms"},
		{"platform override", func(c *Config) {
			c.RateLimit.Platforms = map[string]PolicyConfig{"viator": {MinDelayMs: 99999}}
		}, "ratelimit.platforms.viator"},
		{"parser min length", func(c *Config) { c.Parser.MinBodyLength = 0 }, "parser.min_body_length"},
		{"unknown store", func(c *Config) { c.Store.Driver = "cassandra" }, "store.driver"},
		{"postgres dsn", func(c *Config) { c.Store.Driver = "postgres"; c.Store.DSN = "" }, "store.dsn"},
		{"mongo uri", func(c *Config) { c.Store.Driver = "mongo" }, "store.mongo_uri"},
		{"gcs bucket", func(c *Config) { c.Archive.Driver = "gcs" }, "archive.bucket"},
		{"pubsub project", func(c *Config) { c.Publisher.Driver = "pubsub" }, "publisher.project_id"},
		{"server port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.RateLimit.Platforms = nil
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

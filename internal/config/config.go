// Package config loads harvester settings from an optional TOML file and
// the environment.
//
// Precedence, lowest first: built-in defaults, TOML file, environment.
// Command line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/github-code-search/pkg/client"
	"github.com/Sternrassler/github-code-search/pkg/fetch"
	"github.com/Sternrassler/github-code-search/pkg/logging"
	"github.com/Sternrassler/github-code-search/pkg/ratelimit"
)

// Validation errors.
var (
	ErrInvalidRequestRate = errors.New("github.requests_per_minute must be >= 0")
	ErrInvalidTimeout     = errors.New("github.timeout must be > 0")
	ErrInvalidRetry       = errors.New("invalid fetch retry policy")
	ErrInvalidSnapshot    = errors.New("redis snapshot durations must be >= 0")
	ErrInvalidLogLevel    = errors.New("invalid log level")
)

// Duration is a time.Duration written as a string ("20s", "2m") in TOML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config is the complete harvester configuration.
type Config struct {
	GitHub  GitHubConfig  `toml:"github"`
	Fetch   FetchConfig   `toml:"fetch"`
	Redis   RedisConfig   `toml:"redis"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
}

// GitHubConfig configures the API client.
type GitHubConfig struct {
	Token             string   `toml:"token"`
	BaseURL           string   `toml:"base_url"`
	UserAgent         string   `toml:"user_agent"`
	Timeout           Duration `toml:"timeout"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
}

// FetchConfig configures throttling waits.
type FetchConfig struct {
	RetryInterval    Duration `toml:"retry_interval"`
	RetryMultiplier  float64  `toml:"retry_multiplier"`
	MaxRetryInterval Duration `toml:"max_retry_interval"`
	MaxAttempts      int      `toml:"max_attempts"`
	Jitter           float64  `toml:"jitter"`
}

// RedisConfig configures the shared rate limit snapshot. An empty Addr
// disables it.
type RedisConfig struct {
	Addr           string   `toml:"addr"`
	Password       string   `toml:"password"`
	DB             int      `toml:"db"`
	SnapshotTTL    Duration `toml:"snapshot_ttl"`
	MaxSnapshotAge Duration `toml:"max_snapshot_age"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

// MetricsConfig configures the metrics endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// Default returns the built-in defaults.
func Default() Config {
	policy := fetch.DefaultRetryPolicy()
	return Config{
		GitHub: GitHubConfig{
			Timeout:           Duration(client.DefaultTimeout),
			RequestsPerMinute: client.DefaultRequestsPerMinute,
		},
		Fetch: FetchConfig{
			RetryInterval:    Duration(policy.Interval),
			RetryMultiplier:  policy.Multiplier,
			MaxRetryInterval: Duration(policy.MaxInterval),
			MaxAttempts:      policy.MaxAttempts,
			Jitter:           policy.Jitter,
		},
		Redis: RedisConfig{
			SnapshotTTL:    Duration(time.Hour),
			MaxSnapshotAge: Duration(ratelimit.DefaultMaxSnapshotAge),
		},
		Log: LogConfig{
			Level: string(logging.LevelInfo),
		},
	}
}

// Load returns the defaults overlaid with the TOML file at path (if path is
// not empty) and the environment, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides settings from environment variables.
func (c *Config) applyEnv() error {
	c.GitHub.Token = getEnv("GITHUB_TOKEN", c.GitHub.Token)
	c.GitHub.BaseURL = getEnv("GITHUB_API_URL", c.GitHub.BaseURL)
	c.GitHub.UserAgent = getEnv("CODESEARCH_USER_AGENT", c.GitHub.UserAgent)
	c.Redis.Addr = getEnv("CODESEARCH_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("CODESEARCH_REDIS_PASSWORD", c.Redis.Password)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Metrics.Addr = getEnv("CODESEARCH_METRICS_ADDR", c.Metrics.Addr)

	var err error
	if c.GitHub.RequestsPerMinute, err = getEnvInt("CODESEARCH_REQUESTS_PER_MINUTE", c.GitHub.RequestsPerMinute); err != nil {
		return err
	}
	if c.Fetch.MaxAttempts, err = getEnvInt("CODESEARCH_MAX_ATTEMPTS", c.Fetch.MaxAttempts); err != nil {
		return err
	}
	if c.Redis.DB, err = getEnvInt("CODESEARCH_REDIS_DB", c.Redis.DB); err != nil {
		return err
	}
	return nil
}

// Validate checks the configuration for values the components reject.
func (c Config) Validate() error {
	if c.GitHub.RequestsPerMinute < 0 {
		return fmt.Errorf("%w (got %d)", ErrInvalidRequestRate, c.GitHub.RequestsPerMinute)
	}
	if c.GitHub.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Fetch.RetryInterval <= 0 {
		return fmt.Errorf("%w: retry_interval must be > 0", ErrInvalidRetry)
	}
	if c.Fetch.MaxAttempts < 0 {
		return fmt.Errorf("%w: max_attempts must be >= 0", ErrInvalidRetry)
	}
	if c.Fetch.Jitter < 0 || c.Fetch.Jitter >= 1 {
		return fmt.Errorf("%w: jitter must be in [0, 1)", ErrInvalidRetry)
	}
	if c.Redis.SnapshotTTL < 0 || c.Redis.MaxSnapshotAge < 0 {
		return ErrInvalidSnapshot
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLogLevel, err)
	}
	return nil
}

// ClientConfig returns the GitHub client configuration.
func (c Config) ClientConfig() client.Config {
	return client.Config{
		Token:             c.GitHub.Token,
		BaseURL:           c.GitHub.BaseURL,
		UserAgent:         c.GitHub.UserAgent,
		Timeout:           time.Duration(c.GitHub.Timeout),
		RequestsPerMinute: c.GitHub.RequestsPerMinute,
	}
}

// RetryPolicy returns the throttling retry policy.
func (c Config) RetryPolicy() fetch.RetryPolicy {
	return fetch.RetryPolicy{
		Interval:    time.Duration(c.Fetch.RetryInterval),
		Multiplier:  c.Fetch.RetryMultiplier,
		MaxInterval: time.Duration(c.Fetch.MaxRetryInterval),
		MaxAttempts: c.Fetch.MaxAttempts,
		Jitter:      c.Fetch.Jitter,
	}
}

// RedisOptions returns the Redis client options, or nil when Redis is
// not configured.
func (c Config) RedisOptions() *redis.Options {
	if c.Redis.Addr == "" {
		return nil
	}
	return &redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}
}

// LoggingConfig returns the logging configuration.
func (c Config) LoggingConfig() logging.Config {
	level, _ := logging.ParseLevel(c.Log.Level)
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Pretty = c.Log.Pretty
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

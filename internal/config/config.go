package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ligustah/hoard/internal/progress"
)

// Config defines configuration for the hoard CLI and server.
type Config struct {
	// Store is the URL of the partial blob store (bolt://, postgres://,
	// file://, s3://, gs://, mem://).
	Store       string         `yaml:"store"`
	Archive     ArchiveConfig  `yaml:"archive"`
	Concurrency int            `yaml:"concurrency"`
	ChunkSize   int64          `yaml:"chunk_size"`
	Retry       RetryConfig    `yaml:"retry"`
	Timeouts    TimeoutConfig  `yaml:"timeouts"`
	Resolver    ResolverConfig `yaml:"resolver"`
	Listen      string         `yaml:"listen"`
	Probe       ProbeConfig    `yaml:"probe"`
	Log         LogConfig      `yaml:"log"`
}

// ArchiveConfig locates the bucket completed batches are packaged into.
type ArchiveConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Backoff  time.Duration `yaml:"backoff"`
}

// TimeoutConfig bounds single request attempts.
type TimeoutConfig struct {
	Metadata time.Duration `yaml:"metadata"`
	Chunk    time.Duration `yaml:"chunk"`
}

// ResolverConfig selects how task ids are turned into download locations.
type ResolverConfig struct {
	// Kind is "head" or "json".
	Kind string `yaml:"kind"`
	// Template is a URL containing {id}.
	Template string `yaml:"template"`
}

// ProbeConfig enables the connectivity prober when URL is set.
type ProbeConfig struct {
	URL      string        `yaml:"url"`
	Interval time.Duration `yaml:"interval"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Store:       "bolt://hoard.db",
		Concurrency: 10,
		ChunkSize:   8 * 1024 * 1024, // 8MiB
		Retry: RetryConfig{
			Attempts: 3,
			Backoff:  2 * time.Second,
		},
		Timeouts: TimeoutConfig{
			Metadata: 30 * time.Second,
			Chunk:    5 * time.Minute,
		},
		Resolver: ResolverConfig{Kind: "head"},
		Listen:   ":8080",
		Probe:    ProbeConfig{Interval: 10 * time.Second},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	Store       string          `yaml:"store"`
	Archive     ArchiveConfig   `yaml:"archive"`
	Concurrency int             `yaml:"concurrency"`
	ChunkSize   string          `yaml:"chunk_size"`
	Retry       yamlRetryConfig `yaml:"retry"`
	Timeouts    struct {
		Metadata string `yaml:"metadata"`
		Chunk    string `yaml:"chunk"`
	} `yaml:"timeouts"`
	Resolver ResolverConfig `yaml:"resolver"`
	Listen   string         `yaml:"listen"`
	Probe    struct {
		URL      string `yaml:"url"`
		Interval string `yaml:"interval"`
	} `yaml:"probe"`
	Log LogConfig `yaml:"log"`
}

type yamlRetryConfig struct {
	Attempts int    `yaml:"attempts"`
	Backoff  string `yaml:"backoff"`
}

// LoadFromFile loads configuration from a YAML file. Missing keys keep their
// defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	override := Config{
		Store:       yc.Store,
		Archive:     yc.Archive,
		Concurrency: yc.Concurrency,
		Retry:       RetryConfig{Attempts: yc.Retry.Attempts},
		Resolver:    yc.Resolver,
		Listen:      yc.Listen,
		Probe:       ProbeConfig{URL: yc.Probe.URL},
		Log:         yc.Log,
	}
	if yc.ChunkSize != "" {
		size, err := progress.ParseBytes(yc.ChunkSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse chunk_size: %w", err)
		}
		override.ChunkSize = size
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"retry.backoff", yc.Retry.Backoff, &override.Retry.Backoff},
		{"timeouts.metadata", yc.Timeouts.Metadata, &override.Timeouts.Metadata},
		{"timeouts.chunk", yc.Timeouts.Chunk, &override.Timeouts.Chunk},
		{"probe.interval", yc.Probe.Interval, &override.Probe.Interval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	return Default().Merge(override), nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the HOARD_ prefix.
func (c *Config) LoadFromEnv() error {
	strs := map[string]*string{
		"HOARD_STORE":             &c.Store,
		"HOARD_ARCHIVE_BUCKET":    &c.Archive.Bucket,
		"HOARD_ARCHIVE_PREFIX":    &c.Archive.Prefix,
		"HOARD_RESOLVER":          &c.Resolver.Kind,
		"HOARD_RESOLVER_TEMPLATE": &c.Resolver.Template,
		"HOARD_LISTEN":            &c.Listen,
		"HOARD_PROBE_URL":         &c.Probe.URL,
		"HOARD_LOG_LEVEL":         &c.Log.Level,
		"HOARD_LOG_FORMAT":        &c.Log.Format,
		"HOARD_LOG_FILE":          &c.Log.File,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"HOARD_CONCURRENCY":    &c.Concurrency,
		"HOARD_RETRY_ATTEMPTS": &c.Retry.Attempts,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"HOARD_RETRY_BACKOFF":    &c.Retry.Backoff,
		"HOARD_TIMEOUT_METADATA": &c.Timeouts.Metadata,
		"HOARD_TIMEOUT_CHUNK":    &c.Timeouts.Chunk,
		"HOARD_PROBE_INTERVAL":   &c.Probe.Interval,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", key, err)
			}
			*dst = d
		}
	}

	if v := os.Getenv("HOARD_CHUNK_SIZE"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse HOARD_CHUNK_SIZE: %w", err)
		}
		c.ChunkSize = size
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Store == "" {
		return errors.New("config: store is required")
	}
	if c.Concurrency <= 0 {
		return errors.New("config: concurrency must be positive")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: chunk_size must be positive")
	}
	if c.Retry.Attempts <= 0 {
		return errors.New("config: retry.attempts must be positive")
	}
	if c.Retry.Backoff < 0 {
		return errors.New("config: retry.backoff must not be negative")
	}
	if c.Timeouts.Metadata <= 0 || c.Timeouts.Chunk <= 0 {
		return errors.New("config: timeouts must be positive")
	}
	switch c.Resolver.Kind {
	case "head", "json":
	default:
		return fmt.Errorf("config: unknown resolver kind %q", c.Resolver.Kind)
	}
	if !strings.Contains(c.Resolver.Template, "{id}") {
		return errors.New("config: resolver.template must contain {id}")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.Store != "" {
		c.Store = override.Store
	}
	if override.Archive.Bucket != "" {
		c.Archive.Bucket = override.Archive.Bucket
	}
	if override.Archive.Prefix != "" {
		c.Archive.Prefix = override.Archive.Prefix
	}
	if override.Concurrency != 0 {
		c.Concurrency = override.Concurrency
	}
	if override.ChunkSize != 0 {
		c.ChunkSize = override.ChunkSize
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Timeouts.Metadata != 0 {
		c.Timeouts.Metadata = override.Timeouts.Metadata
	}
	if override.Timeouts.Chunk != 0 {
		c.Timeouts.Chunk = override.Timeouts.Chunk
	}
	if override.Resolver.Kind != "" {
		c.Resolver.Kind = override.Resolver.Kind
	}
	if override.Resolver.Template != "" {
		c.Resolver.Template = override.Resolver.Template
	}
	if override.Listen != "" {
		c.Listen = override.Listen
	}
	if override.Probe.URL != "" {
		c.Probe.URL = override.Probe.URL
	}
	if override.Probe.Interval != 0 {
		c.Probe.Interval = override.Probe.Interval
	}
	if override.Log.Level != "" {
		c.Log.Level = override.Log.Level
	}
	if override.Log.Format != "" {
		c.Log.Format = override.Log.Format
	}
	if override.Log.File != "" {
		c.Log.File = override.Log.File
	}
	return c
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Concurrency != 10 {
		t.Errorf("expected default concurrency 10, got %d", cfg.Concurrency)
	}
	if cfg.ChunkSize != 8*1024*1024 {
		t.Errorf("expected default chunk size 8MiB, got %d", cfg.ChunkSize)
	}
	if cfg.Retry.Attempts != 3 {
		t.Errorf("expected default retry attempts 3, got %d", cfg.Retry.Attempts)
	}
	if cfg.Retry.Backoff != 2*time.Second {
		t.Errorf("expected default retry backoff 2s, got %v", cfg.Retry.Backoff)
	}
	if cfg.Timeouts.Metadata != 30*time.Second || cfg.Timeouts.Chunk != 5*time.Minute {
		t.Errorf("unexpected default timeouts %+v", cfg.Timeouts)
	}
	if cfg.Resolver.Kind != "head" {
		t.Errorf("expected default resolver head, got %q", cfg.Resolver.Kind)
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "file.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func TestLoadFromYAML(t *testing.T) {
	configPath := writeFile(t, `
store: postgres://hoard@localhost/hoard
archive:
  bucket: file:///srv/archives
  prefix: out/
concurrency: 4
chunk_size: 16MiB
retry:
  attempts: 5
  backoff: 500ms
timeouts:
  chunk: 1m
resolver:
  kind: json
  template: https://api.example.com/media/{id}
probe:
  url: https://api.example.com/healthz
  interval: 3s
log:
  format: json
`)

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Store != "postgres://hoard@localhost/hoard" {
		t.Errorf("unexpected store %q", cfg.Store)
	}
	if cfg.Archive != (ArchiveConfig{Bucket: "file:///srv/archives", Prefix: "out/"}) {
		t.Errorf("unexpected archive %+v", cfg.Archive)
	}
	if cfg.Concurrency != 4 {
		t.Errorf("expected concurrency 4, got %d", cfg.Concurrency)
	}
	if cfg.ChunkSize != 16*1024*1024 {
		t.Errorf("expected chunk size 16MiB, got %d", cfg.ChunkSize)
	}
	if cfg.Retry.Attempts != 5 || cfg.Retry.Backoff != 500*time.Millisecond {
		t.Errorf("unexpected retry %+v", cfg.Retry)
	}
	if cfg.Timeouts.Chunk != time.Minute {
		t.Errorf("expected chunk timeout 1m, got %v", cfg.Timeouts.Chunk)
	}
	if cfg.Timeouts.Metadata != 30*time.Second {
		t.Errorf("expected metadata timeout to keep its default, got %v", cfg.Timeouts.Metadata)
	}
	if cfg.Resolver.Kind != "json" || cfg.Resolver.Template != "https://api.example.com/media/{id}" {
		t.Errorf("unexpected resolver %+v", cfg.Resolver)
	}
	if cfg.Probe.Interval != 3*time.Second {
		t.Errorf("expected probe interval 3s, got %v", cfg.Probe.Interval)
	}
	if cfg.Log.Format != "json" || cfg.Log.Level != "info" {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFromYAMLBadDuration(t *testing.T) {
	configPath := writeFile(t, "timeouts:\n  metadata: soon\n")
	if _, err := LoadFromFile(configPath); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HOARD_STORE", "mem://")
	t.Setenv("HOARD_CONCURRENCY", "2")
	t.Setenv("HOARD_CHUNK_SIZE", "1MiB")
	t.Setenv("HOARD_RETRY_ATTEMPTS", "7")
	t.Setenv("HOARD_RETRY_BACKOFF", "250ms")
	t.Setenv("HOARD_TIMEOUT_CHUNK", "10s")
	t.Setenv("HOARD_RESOLVER_TEMPLATE", "http://cdn/{id}")
	t.Setenv("HOARD_LOG_LEVEL", "debug")

	cfg := Default()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if cfg.Store != "mem://" {
		t.Errorf("expected store mem://, got %q", cfg.Store)
	}
	if cfg.Concurrency != 2 {
		t.Errorf("expected concurrency 2, got %d", cfg.Concurrency)
	}
	if cfg.ChunkSize != 1024*1024 {
		t.Errorf("expected chunk size 1MiB, got %d", cfg.ChunkSize)
	}
	if cfg.Retry.Attempts != 7 || cfg.Retry.Backoff != 250*time.Millisecond {
		t.Errorf("unexpected retry %+v", cfg.Retry)
	}
	if cfg.Timeouts.Chunk != 10*time.Second {
		t.Errorf("expected chunk timeout 10s, got %v", cfg.Timeouts.Chunk)
	}
	if cfg.Resolver.Template != "http://cdn/{id}" {
		t.Errorf("unexpected template %q", cfg.Resolver.Template)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %q", cfg.Log.Level)
	}
}

func TestLoadFromEnvInvalid(t *testing.T) {
	t.Setenv("HOARD_CONCURRENCY", "many")
	cfg := Default()
	if err := cfg.LoadFromEnv(); err == nil {
		t.Error("expected error for non-numeric HOARD_CONCURRENCY")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Resolver.Template = "https://example.com/files/{id}"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(*Config) {}, false},
		{"missing store", func(c *Config) { c.Store = "" }, true},
		{"invalid concurrency", func(c *Config) { c.Concurrency = 0 }, true},
		{"invalid chunk size", func(c *Config) { c.ChunkSize = 0 }, true},
		{"invalid attempts", func(c *Config) { c.Retry.Attempts = 0 }, true},
		{"invalid timeout", func(c *Config) { c.Timeouts.Chunk = 0 }, true},
		{"unknown resolver", func(c *Config) { c.Resolver.Kind = "scrape" }, true},
		{"template without id", func(c *Config) { c.Resolver.Template = "https://example.com/x" }, true},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	base := Default()
	base.Store = "bolt://partials.db"
	base.Resolver.Template = "https://example.com/{id}"

	override := Config{
		Concurrency: 32,
		// Leave other fields at zero values
	}

	merged := base.Merge(override)

	if merged.Store != "bolt://partials.db" {
		t.Errorf("expected Store preserved, got %s", merged.Store)
	}
	if merged.Resolver.Template != "https://example.com/{id}" {
		t.Errorf("expected template preserved, got %s", merged.Resolver.Template)
	}
	if merged.ChunkSize != 8*1024*1024 {
		t.Errorf("expected ChunkSize preserved, got %d", merged.ChunkSize)
	}
	if merged.Concurrency != 32 {
		t.Errorf("expected Concurrency overridden to 32, got %d", merged.Concurrency)
	}
}

func TestLoadYAMLFileNotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadYAMLInvalid(t *testing.T) {
	configPath := writeFile(t, "invalid: [yaml: content")
	if _, err := LoadFromFile(configPath); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadTasks(t *testing.T) {
	path := writeFile(t, `
batch: holiday
tasks:
  - id: "1"
    display_name: beach.jpg
    group_key: day-1
  - id: "2"
    display_name: dunes.jpg
`)
	tf, err := LoadTasks(path)
	if err != nil {
		t.Fatalf("LoadTasks: %v", err)
	}
	if tf.Batch != "holiday" || len(tf.Tasks) != 2 {
		t.Fatalf("unexpected tasks file %+v", tf)
	}
	if tf.Tasks[0].DisplayName != "beach.jpg" || tf.Tasks[0].GroupKey != "day-1" {
		t.Errorf("unexpected first task %+v", tf.Tasks[0])
	}

	if _, err := LoadTasks(writeFile(t, "tasks: []\n")); err == nil {
		t.Error("expected error for empty task list")
	}
	if _, err := LoadTasks(writeFile(t, "tasks:\n  - id: x\n")); err == nil {
		t.Error("expected error for task without display name")
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ligustah/hoard/internal/archive"
	"github.com/ligustah/hoard/internal/batch"
	"github.com/ligustah/hoard/internal/blobstore"
	"github.com/ligustah/hoard/internal/config"
	"github.com/ligustah/hoard/internal/fetch"
	hoardhttp "github.com/ligustah/hoard/internal/http"
	"github.com/ligustah/hoard/internal/logging"
	"github.com/ligustah/hoard/internal/progress"
	"github.com/ligustah/hoard/internal/resolve"
	"github.com/ligustah/hoard/internal/task"
)

// configFlags are the flags shared by every command. Set values override the
// config file and the environment.
type configFlags struct {
	path        *string
	store       *string
	archive     *string
	prefix      *string
	resolver    *string
	template    *string
	concurrency *int
	chunkSize   *string
	attempts    *int
	logLevel    *string
}

func addConfigFlags(fs *flag.FlagSet, withFetch bool) *configFlags {
	f := &configFlags{
		path:     fs.String("config", "", "Path to YAML config file"),
		store:    fs.String("store", "", "Partial blob store URL (bolt://, postgres://, file://, s3://, gs://)"),
		logLevel: fs.String("log-level", "", "Log level (debug, info, warn, error)"),
	}
	if withFetch {
		f.archive = fs.String("archive", "", "Bucket URL completed batches are packaged into")
		f.prefix = fs.String("archive-prefix", "", "Key prefix of packaged archives")
		f.resolver = fs.String("resolver", "", "Location resolver: head or json")
		f.template = fs.String("template", "", "Resolver URL template containing {id}")
		f.concurrency = fs.Int("concurrency", 0, "Number of tasks fetched at once")
		f.chunkSize = fs.String("chunk-size", "", "Range request size (e.g. 8MiB)")
		f.attempts = fs.Int("retries", 0, "Attempts per request, including the first")
	}
	return f
}

// load resolves the configuration: defaults, then the config file, then
// HOARD_* environment variables, then flags.
func (f *configFlags) load() (config.Config, error) {
	cfg := config.Default()
	if *f.path != "" {
		var err error
		if cfg, err = config.LoadFromFile(*f.path); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}

	override := config.Config{Store: *f.store}
	override.Log.Level = *f.logLevel
	if f.archive != nil {
		override.Archive.Bucket = *f.archive
		override.Archive.Prefix = *f.prefix
		override.Resolver.Kind = *f.resolver
		override.Resolver.Template = *f.template
		override.Concurrency = *f.concurrency
		override.Retry.Attempts = *f.attempts
		if *f.chunkSize != "" {
			size, err := progress.ParseBytes(*f.chunkSize)
			if err != nil {
				return config.Config{}, fmt.Errorf("invalid -chunk-size: %w", err)
			}
			override.ChunkSize = size
		}
	}
	return cfg.Merge(override), nil
}

func newLogger(cfg config.Config) (*slog.Logger, io.Closer, error) {
	return logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
}

// defaultArchiveBucket is used when no archive bucket is configured.
func defaultArchiveBucket() (string, error) {
	dir, err := filepath.Abs("downloads")
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(dir) + "?create_dir=true", nil
}

// stack holds everything a batch run needs.
type stack struct {
	client       *hoardhttp.Client
	store        blobstore.Store
	zip          *archive.Zip
	orchestrator *batch.Orchestrator
}

func (s *stack) Close() {
	if s.zip != nil {
		s.zip.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
}

// setupError carries the exit code of a failed setup step.
type setupError struct {
	code int
	err  error
}

func (e *setupError) Error() string { return e.err.Error() }
func (e *setupError) Unwrap() error { return e.err }

func buildStack(ctx context.Context, cfg config.Config, observer task.Observer, log *slog.Logger) (*stack, error) {
	s := &stack{client: hoardhttp.NewClient(hoardhttp.DefaultOptions())}
	retry := hoardhttp.Retry{Attempts: cfg.Retry.Attempts, InitialDelay: cfg.Retry.Backoff}

	resolver, err := resolve.New(cfg.Resolver.Kind, cfg.Resolver.Template, s.client, resolve.Options{
		Timeout: cfg.Timeouts.Metadata,
		Retry:   retry,
	})
	if err != nil {
		return nil, &setupError{ExitInvalidArgs, err}
	}

	if s.store, err = blobstore.Open(ctx, cfg.Store); err != nil {
		return nil, &setupError{ExitStorageError, err}
	}

	bucket := cfg.Archive.Bucket
	if bucket == "" {
		if bucket, err = defaultArchiveBucket(); err != nil {
			s.Close()
			return nil, &setupError{ExitStorageError, err}
		}
	}
	if s.zip, err = archive.OpenZip(ctx, bucket, cfg.Archive.Prefix); err != nil {
		s.Close()
		return nil, &setupError{ExitStorageError, err}
	}

	s.orchestrator = batch.New(s.client, resolver, s.store, batch.Options{
		Concurrency: cfg.Concurrency,
		Fetch: fetch.Options{
			ChunkSize:    cfg.ChunkSize,
			Retry:        retry,
			ChunkTimeout: cfg.Timeouts.Chunk,
		},
		Packager: s.zip,
		Observer: observer,
		Logger:   log,
	})
	return s, nil
}

func exitCode(err error) int {
	var se *setupError
	if errors.As(err, &se) {
		return se.code
	}
	return ExitGeneralError
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}

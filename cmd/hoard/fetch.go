package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ligustah/hoard/internal/batch"
	"github.com/ligustah/hoard/internal/config"
	"github.com/ligustah/hoard/internal/fetch"
	"github.com/ligustah/hoard/internal/monitor"
	"github.com/ligustah/hoard/internal/progress"
	"github.com/ligustah/hoard/internal/task"
)

func runFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)

	tasksPath := fs.String("tasks", "", "YAML file listing the batch tasks (required)")
	batchID := fs.String("batch", "", "Batch id (default: from the tasks file, else generated)")
	quiet := fs.Bool("quiet", false, "Suppress progress output")
	flags := addConfigFlags(fs, true)

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: hoard fetch [options]

Download every task of a batch in fixed-size chunks and package the finished
batch into a zip archive. Chunks are stored as they arrive, so an interrupted
fetch resumes where it stopped when run again.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	if *tasksPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -tasks is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := flags.load()
	if err != nil {
		fail(err)
		return ExitInvalidArgs
	}
	if err := cfg.Validate(); err != nil {
		fail(err)
		return ExitInvalidArgs
	}

	tf, err := config.LoadTasks(*tasksPath)
	if err != nil {
		fail(err)
		return ExitInvalidArgs
	}
	if *batchID != "" {
		tf.Batch = *batchID
	}
	if tf.Batch == "" {
		tf.Batch = batch.NewBatchID()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return fetchBatch(ctx, cfg, tf, *quiet)
}

func fetchBatch(ctx context.Context, cfg config.Config, tf config.TasksFile, quiet bool) int {
	log, closer, err := newLogger(cfg)
	if err != nil {
		fail(err)
		return ExitInvalidArgs
	}
	defer closer.Close()

	var observer task.Observer
	var reporter *progress.Reporter
	if !quiet {
		reporter = progress.NewReporter(progress.Options{
			BatchID:     tf.Batch,
			Tasks:       len(tf.Tasks),
			ChunkSize:   cfg.ChunkSize,
			Concurrency: cfg.Concurrency,
			Output:      os.Stderr,
		})
		observer = reporter
	}

	s, err := buildStack(ctx, cfg, observer, log)
	if err != nil {
		fail(err)
		return exitCode(err)
	}
	defer s.Close()

	// Members still in flight after a failure settle before the store closes.
	defer s.orchestrator.Wait()

	// The monitor only tracks connectivity here; restarts run below under ctx
	// so they finish before the command exits.
	var m *monitor.Monitor
	if cfg.Probe.URL != "" {
		m = monitor.New(s.orchestrator.Registry(), nil, log)
		p := monitor.NewProber(s.client, m, monitor.ProberOptions{
			URL:      cfg.Probe.URL,
			Interval: cfg.Probe.Interval,
			Logger:   log,
		})
		probeCtx, stopProbe := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			p.Run(probeCtx)
		}()
		defer func() {
			stopProbe()
			<-done
		}()
	}

	if reporter != nil {
		reporter.Start()
	}
	err = s.orchestrator.RunBatch(ctx, tf.Batch, tf.Tasks)
	for m != nil && errors.Is(err, fetch.ErrCancelled) && ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, "\n[hoard] Connectivity lost, waiting to reconnect...")
		s.orchestrator.Wait()
		if m.WaitOnline(ctx) != nil {
			break
		}
		fmt.Fprintln(os.Stderr, "[hoard] Connectivity restored, restarting failed tasks")
		err = s.orchestrator.RestartBatch(ctx, tf.Batch)
	}
	if reporter != nil {
		reporter.Stop()
	}

	switch {
	case err == nil:
		return ExitSuccess
	case ctx.Err() != nil:
		fmt.Fprintln(os.Stderr, "[hoard] Interrupted, run again to resume")
		return ExitGeneralError
	case errors.Is(err, fetch.ErrMetadata):
		fail(err)
		return ExitMetadataError
	case errors.Is(err, fetch.ErrPersistence):
		fail(err)
		fmt.Fprintln(os.Stderr, "[hoard] Run again to resume")
		return ExitStorageError
	default:
		fail(err)
		fmt.Fprintln(os.Stderr, "[hoard] Run again to resume")
		return ExitGeneralError
	}
}

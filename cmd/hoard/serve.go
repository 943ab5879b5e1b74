package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ligustah/hoard/internal/api"
	"github.com/ligustah/hoard/internal/metrics"
	"github.com/ligustah/hoard/internal/monitor"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)

	listen := fs.String("listen", "", "Listen address (default :8080)")
	probeURL := fs.String("probe-url", "", "URL polled to detect connectivity changes")
	flags := addConfigFlags(fs, true)

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: hoard serve [options]

Serve the HTTP API: submit batches, inspect their tasks, restart failed
members, signal connectivity changes and stream task events over a websocket.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg, err := flags.load()
	if err != nil {
		fail(err)
		return ExitInvalidArgs
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *probeURL != "" {
		cfg.Probe.URL = *probeURL
	}
	if err := cfg.Validate(); err != nil {
		fail(err)
		return ExitInvalidArgs
	}

	log, closer, err := newLogger(cfg)
	if err != nil {
		fail(err)
		return ExitInvalidArgs
	}
	defer closer.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	hub := api.NewHub(0)
	s, err := buildStack(ctx, cfg, hub, log)
	if err != nil {
		fail(err)
		return exitCode(err)
	}
	defer s.Close()

	metrics.Register(prometheus.DefaultRegisterer)

	m := monitor.New(s.orchestrator.Registry(), s.orchestrator, log)
	srv := api.New(ctx, api.Options{
		Runner:       s.orchestrator,
		Connectivity: m,
		Hub:          hub,
		Logger:       log,
	})

	errCh := make(chan error, 2)
	if cfg.Probe.URL != "" {
		p := monitor.NewProber(s.client, m, monitor.ProberOptions{
			URL:      cfg.Probe.URL,
			Interval: cfg.Probe.Interval,
			Logger:   log,
		})
		go func() { errCh <- p.Run(ctx) }()
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("listening", "addr", cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			cancel()
		}
	}()

	fmt.Fprintf(os.Stderr, "[hoard] Serving on %s\n", cfg.Listen)
	<-ctx.Done()
	fmt.Fprintln(os.Stderr, "\n[hoard] Shutting down...")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	srv.Wait()
	s.orchestrator.Wait()

	select {
	case err := <-errCh:
		if err != nil {
			fail(err)
			return ExitGeneralError
		}
	default:
	}
	return ExitSuccess
}

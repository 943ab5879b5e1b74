// Package http provides the resilient request client used for metadata and
// byte-range requests.
//
// This package handles:
//   - Connection pooling for many concurrent tasks
//   - HEAD and JSON requests for resource metadata
//   - Range requests for chunked downloads
//   - Bounded retry with exponential backoff (delay = initial * 2^(attempt-1))
//   - Per-call cancellation handles and per-attempt timeouts
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions())
//
//	resp, err := client.Do(ctx, http.Request{
//	    Method:  "GET",
//	    URL:     url,
//	    Range:   &http.ByteRange{Start: 0, End: 8<<20 - 1},
//	    Timeout: 5 * time.Minute,
//	}, http.Retry{Attempts: 3, InitialDelay: 2 * time.Second}, http.Callbacks{
//	    OnStart: func(h *http.Handle) { registry.Register(id, h) },
//	    OnRetry: func(attempt int, err error) { log.Warn("retrying", "attempt", attempt) },
//	})
//
// Aborting a Handle makes the call return ErrAborted immediately; no further
// attempts are made. Exhausted retries return an error wrapping ErrTransient.
package http

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ligustah/hoard/internal/metrics"
)

// Common errors.
var (
	ErrAborted           = errors.New("http: request aborted")
	ErrTransient         = errors.New("http: transient failure")
	ErrRangeNotSupported = errors.New("http: server does not support range requests")
	ErrNotFound          = errors.New("http: resource not found")
	ErrForbidden         = errors.New("http: access forbidden")
	ErrUnauthorized      = errors.New("http: unauthorized")
	ErrServerError       = errors.New("http: server error")
)

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 32
	MaxIdleConnsPerHost int

	// UserAgent is sent with every request when set.
	UserAgent string
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 32,
		UserAgent:           "hoard/1.0",
	}
}

// ByteRange is an inclusive byte range, as in the HTTP Range header.
type ByteRange struct {
	Start int64
	End   int64
}

// Len returns the number of bytes in the range.
func (r ByteRange) Len() int64 {
	return r.End - r.Start + 1
}

// String formats r as a Range header value.
func (r ByteRange) String() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// Request describes a single logical request.
type Request struct {
	// Kind labels the request in metrics ("metadata", "chunk").
	Kind   string
	Method string
	URL    string
	Header http.Header
	Range  *ByteRange

	// Timeout bounds each attempt. A timeout is retried like a transport error.
	Timeout time.Duration

	// OnProgress is called as response bytes arrive. total is -1 when unknown.
	OnProgress func(done, total int64)
}

// Retry configures retries of a single call. Attempts counts every attempt,
// including the first.
type Retry struct {
	Attempts     int
	InitialDelay time.Duration
}

// maxDelay caps Delay once doubling would overflow time.Duration.
const maxDelay = time.Duration(math.MaxInt64)

// Delay returns the wait before retry number attempt (1-based).
func (r Retry) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.InitialDelay <= 0 {
		return 0
	}
	shift := uint(attempt - 1)
	if shift >= 62 || r.InitialDelay > maxDelay>>shift {
		return maxDelay
	}
	return r.InitialDelay << shift
}

// Callbacks observe a call.
type Callbacks struct {
	// OnStart receives the call's cancellation handle before the first attempt.
	OnStart func(*Handle)
	// OnRetry is called after failed attempt number attempt, before the backoff wait.
	OnRetry func(attempt int, err error)
}

// Response is a fully read response.
type Response struct {
	Status        int
	Header        http.Header
	ContentLength int64
	Body          []byte
}

// StatusError is returned for responses outside the 2xx range.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d %s", e.Code, e.Status)
}

// Unwrap maps well-known codes onto the package sentinels.
func (e *StatusError) Unwrap() error {
	return statusSentinel(e.Code)
}

// FileInfo contains metadata about a remote file.
type FileInfo struct {
	Size          int64
	ETag          string
	AcceptsRanges bool
	ContentType   string
	LastModified  time.Time
}

// Client issues requests with bounded retry. It holds no task identity.
type Client struct {
	client *http.Client
	opts   Options
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = DefaultOptions().MaxIdleConnsPerHost
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true, // We want raw bytes for range requests
	}

	return &Client{
		client: &http.Client{Transport: transport},
		opts:   opts,
		sleep:  sleepContext,
	}
}

// Do performs req, retrying transient failures per retry.
func (c *Client) Do(ctx context.Context, req Request, retry Retry, cb Callbacks) (*Response, error) {
	attempts := retry.Attempts
	if attempts < 1 {
		attempts = 1
	}
	kind := req.Kind
	if kind == "" {
		kind = "request"
	}

	h := NewHandle(ctx)
	defer h.Release()
	if cb.OnStart != nil {
		cb.OnStart(h)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := h.Err(); err != nil {
			return nil, err
		}

		resp, err := c.attempt(h.Context(), req)
		if err == nil {
			return resp, nil
		}
		if herr := h.Err(); herr != nil {
			return nil, herr
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		metrics.RequestRetries.WithLabelValues(kind).Inc()
		if cb.OnRetry != nil {
			cb.OnRetry(attempt, err)
		}
		if err := c.sleep(h.Context(), retry.Delay(attempt)); err != nil {
			if herr := h.Err(); herr != nil {
				return nil, herr
			}
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: %s request failed after %d attempts: %w", ErrTransient, kind, attempts, lastErr)
}

// attempt performs one HTTP exchange and reads the full body.
func (c *Client) attempt(ctx context.Context, req Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	hreq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		return nil, &permanentError{fmt.Errorf("create request: %w", err)}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	if c.opts.UserAgent != "" && hreq.Header.Get("User-Agent") == "" {
		hreq.Header.Set("User-Agent", c.opts.UserAgent)
	}
	if req.Range != nil {
		hreq.Header.Set("Range", req.Range.String())
	}

	resp, err := c.client.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{Code: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
	}

	// A 200 without Content-Range means the server ignored the Range header.
	if req.Range != nil && resp.StatusCode == http.StatusOK && resp.Header.Get("Content-Range") == "" {
		return nil, &permanentError{ErrRangeNotSupported}
	}

	var data []byte
	if method != http.MethodHead {
		var body io.Reader = resp.Body
		capacity := resp.ContentLength
		if req.Range != nil {
			// One byte past the range is enough to tell an oversized answer.
			limit := req.Range.Len() + 1
			body = io.LimitReader(resp.Body, limit)
			capacity = min(capacity, limit)
		}
		data, err = readBody(body, resp.ContentLength, capacity, req.OnProgress)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
	}

	return &Response{
		Status:        resp.StatusCode,
		Header:        resp.Header,
		ContentLength: resp.ContentLength,
		Body:          data,
	}, nil
}

// Head performs a HEAD request to get file metadata.
func (c *Client) Head(ctx context.Context, url string, timeout time.Duration, retry Retry) (*FileInfo, error) {
	resp, err := c.Do(ctx, Request{
		Kind:    "metadata",
		Method:  http.MethodHead,
		URL:     url,
		Timeout: timeout,
	}, retry, Callbacks{})
	if err != nil {
		return nil, err
	}

	info := &FileInfo{
		Size:          resp.ContentLength,
		ETag:          cleanETag(resp.Header.Get("ETag")),
		AcceptsRanges: resp.Header.Get("Accept-Ranges") == "bytes",
		ContentType:   resp.Header.Get("Content-Type"),
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			info.LastModified = t
		}
	}
	return info, nil
}

// GetJSON performs a GET request and decodes the JSON body into v.
func (c *Client) GetJSON(ctx context.Context, url string, timeout time.Duration, retry Retry, v any) error {
	resp, err := c.Do(ctx, Request{
		Kind:    "metadata",
		Method:  http.MethodGet,
		URL:     url,
		Header:  http.Header{"Accept": []string{"application/json"}},
		Timeout: timeout,
	}, retry, Callbacks{})
	if err != nil {
		return err
	}
	if err := json.NewDecoder(bytes.NewReader(resp.Body)).Decode(v); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	return nil
}

// GetRange downloads the inclusive range [start, end] of url.
func (c *Client) GetRange(ctx context.Context, url string, start, end int64, timeout time.Duration, retry Retry, cb Callbacks) ([]byte, error) {
	resp, err := c.Do(ctx, Request{
		Kind:    "chunk",
		Method:  http.MethodGet,
		URL:     url,
		Range:   &ByteRange{Start: start, End: end},
		Timeout: timeout,
	}, retry, cb)
	if err != nil {
		return nil, err
	}
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		gotStart, _, _, err := ParseContentRange(cr)
		if err != nil {
			return nil, err
		}
		if gotStart != start {
			return nil, fmt.Errorf("range mismatch: requested start %d, got %d", start, gotStart)
		}
	}
	return resp.Body, nil
}

// permanentError marks failures that a retry cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func retryable(err error) bool {
	var pe *permanentError
	return !errors.As(err, &pe)
}

// maxPrealloc bounds the buffer reserved up front from a Content-Length.
const maxPrealloc = 64 << 20

// readBody reads r fully, reporting progress as bytes arrive. capacity is a
// size hint from the response headers and is never trusted beyond
// maxPrealloc.
func readBody(r io.Reader, total, capacity int64, onProgress func(done, total int64)) ([]byte, error) {
	var buf bytes.Buffer
	if capacity > 0 {
		buf.Grow(int(min(capacity, maxPrealloc)))
	}
	if onProgress == nil {
		_, err := buf.ReadFrom(r)
		return buf.Bytes(), err
	}

	chunk := make([]byte, 256*1024)
	var done int64
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			done += int64(n)
			onProgress(done, total)
		}
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// statusSentinel returns the sentinel error for well-known status codes.
func statusSentinel(code int) error {
	switch {
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code >= 500:
		return ErrServerError
	default:
		return nil
	}
}

// cleanETag removes quotes from an ETag value.
func cleanETag(etag string) string {
	etag = strings.TrimPrefix(etag, "W/")
	etag = strings.Trim(etag, `"`)
	return etag
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total may be -1 if unknown.
func ParseContentRange(header string) (start, end, total int64, err error) {
	// Format: bytes start-end/total or bytes start-end/*
	header = strings.TrimPrefix(header, "bytes ")
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	start, err = strconv.ParseInt(rangeParts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}

	end, err = strconv.ParseInt(rangeParts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	if parts[1] == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}

	return start, end, total, nil
}

// Package testutils provides shared test infrastructure: an HTTP server with
// range request support and fault injection, and (behind the integration
// build tag) Minio and PostgreSQL containers.
package testutils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// GenerateTestData generates deterministic test data of the given size.
func GenerateTestData(size int64) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// RangeRequest records one range request served by Server.
type RangeRequest struct {
	Path  string
	Start int64
	End   int64
}

// Server serves files under /files/{name} with HEAD and Range support and
// metadata documents under /meta/{name}.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	files    map[string][]byte
	failures map[string]int // path -> remaining forced failures
	status   int
	ranges   []RangeRequest
	hooks    []func(RangeRequest)
	delay    time.Duration

	heads     atomic.Int32
	metas     atomic.Int32
	inflight  atomic.Int32
	maxFlight atomic.Int32
}

// NewServer starts a server for files, keyed by name.
func NewServer(t *testing.T, files map[string][]byte) *Server {
	t.Helper()

	s := &Server{
		files:    make(map[string][]byte),
		failures: make(map[string]int),
		status:   http.StatusServiceUnavailable,
	}
	for name, data := range files {
		s.files[name] = data
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// FileURL returns the download URL of name.
func (s *Server) FileURL(name string) string {
	return s.URL + "/files/" + name
}

// FailNext makes the next n requests for path answer with the failure status.
// path is "/files/{name}" or "/meta/{name}".
func (s *Server) FailNext(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = n
}

// SetDelay slows every range response by d.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// OnRange registers fn to run after each successful range request is recorded
// and before the response body is written.
func (s *Server) OnRange(fn func(RangeRequest)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Ranges returns the range requests served so far.
func (s *Server) Ranges() []RangeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RangeRequest(nil), s.ranges...)
}

// RangesFor returns the range requests served for file name.
func (s *Server) RangesFor(name string) []RangeRequest {
	var out []RangeRequest
	for _, r := range s.Ranges() {
		if r.Path == "/files/"+name {
			out = append(out, r)
		}
	}
	return out
}

// HeadCount returns the number of HEAD requests served.
func (s *Server) HeadCount() int { return int(s.heads.Load()) }

// MetaCount returns the number of metadata documents served.
func (s *Server) MetaCount() int { return int(s.metas.Load()) }

// MaxConcurrentRanges returns the highest number of simultaneous range requests.
func (s *Server) MaxConcurrentRanges() int { return int(s.maxFlight.Load()) }

func (s *Server) takeFailure(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures[path] > 0 {
		s.failures[path]--
		return true
	}
	return false
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if s.takeFailure(r.URL.Path) {
		w.WriteHeader(s.status)
		return
	}

	switch {
	case strings.HasPrefix(r.URL.Path, "/meta/"):
		s.serveMeta(w, r)
	case strings.HasPrefix(r.URL.Path, "/files/"):
		s.serveFile(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) serveMeta(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/meta/")
	s.mu.Lock()
	data, ok := s.files[name]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.metas.Add(1)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"url":  s.FileURL(name),
		"size": len(data),
	})
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/files/")
	s.mu.Lock()
	data, ok := s.files[name]
	delay := s.delay
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	size := int64(len(data))

	if r.Method == http.MethodHead {
		s.heads.Add(1)
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("ETag", fmt.Sprintf(`"%s"`, name))
		return
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.Write(data)
		return
	}

	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		peak := s.maxFlight.Load()
		if n <= peak || s.maxFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	// Parse range header: bytes=start-end
	parts := strings.Split(strings.TrimPrefix(rangeHeader, "bytes="), "-")
	start, _ := strconv.ParseInt(parts[0], 10, 64)
	end, _ := strconv.ParseInt(parts[1], 10, 64)
	if start >= size {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if end >= size {
		end = size - 1
	}

	req := RangeRequest{Path: r.URL.Path, Start: start, End: end}
	s.mu.Lock()
	s.ranges = append(s.ranges, req)
	hooks := append([]func(RangeRequest){}, s.hooks...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(req)
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	w.Write(data[start : end+1])
}

// Package api exposes the orchestrator over HTTP: batch submission and
// inspection, connectivity signals, a websocket event stream and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ligustah/hoard/internal/batch"
	"github.com/ligustah/hoard/internal/task"
)

var (
	ErrContentType = errors.New("Content-Type must be application/json")
	ErrNoTasks     = errors.New("tasks are required")
)

// Runner runs and inspects batches.
type Runner interface {
	RunBatch(ctx context.Context, batchID string, tasks []task.Descriptor) error
	RestartBatch(ctx context.Context, batchID string) error
	Snapshot(batchID string) (batch.View, bool)
	Batches() []string
}

// Connectivity receives connectivity signals.
type Connectivity interface {
	Lost(ctx context.Context)
	Restored(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	Runner       Runner
	Connectivity Connectivity
	Hub          *Hub
	// Gatherer backs /metrics. Default: prometheus.DefaultGatherer
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server holds the HTTP handlers. Batches and restarts run in the
// background under the context given to New.
type Server struct {
	ctx  context.Context
	opts Options
	log  *slog.Logger
	wg   sync.WaitGroup
}

// New creates a Server.
func New(ctx context.Context, opts Options) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(0)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{ctx: ctx, opts: opts, log: log.With("component", "api")}
}

// Wait blocks until background runs started by the handlers return.
func (s *Server) Wait() { s.wg.Wait() }

// Router sets up the routes and middleware.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestID)
	r.Use(s.logRequests)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			s.log.Error("write healthz response", "err", err)
		}
	}).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/events", s.streamEvents).Methods("GET")

	get := r.Methods("GET").Subrouter()
	get.HandleFunc("/batches", s.listBatches)
	get.HandleFunc("/batches/{id}", s.getBatch)

	post := r.Methods("POST").Subrouter()
	post.HandleFunc("/batches", s.submitBatch)
	post.HandleFunc("/batches/{id}/restart", s.restartBatch)
	post.HandleFunc("/connectivity/lost", s.connectivityLost)
	post.HandleFunc("/connectivity/restored", s.connectivityRestored)

	return r
}

type submitRequest struct {
	ID    string            `json:"id"`
	Tasks []task.Descriptor `json:"tasks"`
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, ErrContentType)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 8<<20)

	var req submitRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Tasks) == 0 {
		writeError(w, http.StatusBadRequest, ErrNoTasks)
		return
	}
	for _, d := range req.Tasks {
		if err := d.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if req.ID == "" {
		req.ID = batch.NewBatchID()
	}

	s.background(func(ctx context.Context) {
		if err := s.opts.Runner.RunBatch(ctx, req.ID, req.Tasks); err != nil {
			s.log.Warn("batch run failed", "batch", req.ID, "error", err)
		}
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"id": req.ID})
}

func (s *Server) listBatches(w http.ResponseWriter, r *http.Request) {
	ids := s.opts.Runner.Batches()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"batches": ids})
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	view, ok := s.opts.Runner.Snapshot(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, batch.ErrUnknownBatch)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) restartBatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.opts.Runner.Snapshot(id); !ok {
		writeError(w, http.StatusNotFound, batch.ErrUnknownBatch)
		return
	}
	s.background(func(ctx context.Context) {
		if err := s.opts.Runner.RestartBatch(ctx, id); err != nil {
			s.log.Warn("batch restart failed", "batch", id, "error", err)
		}
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) connectivityLost(w http.ResponseWriter, r *http.Request) {
	s.opts.Connectivity.Lost(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) connectivityRestored(w http.ResponseWriter, r *http.Request) {
	s.background(func(ctx context.Context) {
		if err := s.opts.Connectivity.Restored(ctx); err != nil {
			s.log.Warn("restart after reconnect failed", "error", err)
		}
	})
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) background(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		markErr(w, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	markErr(w, err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

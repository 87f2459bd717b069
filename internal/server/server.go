// Package server exposes the clip pipeline over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/forPelevin/clipper/internal/pipeline"
	"github.com/forPelevin/clipper/internal/ports"
	"github.com/forPelevin/clipper/internal/runstore"
	"github.com/forPelevin/clipper/internal/types"
)

const (
	DefaultProcessTimeout = 3 * time.Hour
	maxBodyBytes          = 1 << 20
)

type Processor interface {
	Process(ctx context.Context, req pipeline.Request) (types.RunResult, error)
}

type RunLookup interface {
	GetRun(ctx context.Context, id string) (runstore.Run, error)
}

type Options struct {
	Addr  string
	Token string
	// Workers bounds concurrent runs; extra requests wait for a slot.
	Workers        int
	ProcessTimeout time.Duration
	Logger         *slog.Logger
}

type Server struct {
	opts   Options
	proc   Processor
	runs   RunLookup
	slots  chan struct{}
	logger *slog.Logger
	server *http.Server
}

func New(proc Processor, opts Options) *Server {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = DefaultProcessTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		opts:   opts,
		proc:   proc,
		slots:  make(chan struct{}, opts.Workers),
		logger: logger,
	}
}

// SetRunLookup enables GET /v1/runs/{id}.
func (s *Server) SetRunLookup(r RunLookup) { s.runs = r }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("POST /process_video", s.requireToken(http.HandlerFunc(s.handleProcessVideo)))
	mux.Handle("GET /v1/runs/{id}", s.requireToken(http.HandlerFunc(s.handleGetRun)))
	return s.withLogging(mux)
}

func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
		// process_video holds the connection for the whole run.
		WriteTimeout: 0,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}
	s.logger.Info("starting API server", "address", s.opts.Addr, "workers", s.opts.Workers)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requireToken checks the bearer token against the configured secret. An
// unset secret is a server error, never an open door.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Token == "" {
			s.logger.Error("TOKEN is not configured; rejecting request", "path", r.URL.Path)
			s.errorResponse(w, http.StatusInternalServerError, "Server token is not configured")
			return
		}
		got, ok := bearerToken(r)
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.Token)) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			s.errorResponse(w, http.StatusUnauthorized, "Incorrect Bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

type processRequest struct {
	S3Key string `json:"s3_key"`
}

func (s *Server) handleProcessVideo(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	// A body that is not a JSON object carries no key.
	_ = json.Unmarshal(body, &req)
	key := strings.TrimSpace(req.S3Key)
	if key == "" {
		s.errorResponse(w, http.StatusBadRequest, "Missing s3_key in request body")
		return
	}

	select {
	case s.slots <- struct{}{}:
	case <-r.Context().Done():
		return
	}
	defer func() { <-s.slots }()

	// Runs outlive a dropped client; only the process timeout stops them.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.opts.ProcessTimeout)
	defer cancel()

	res, err := s.proc.Process(ctx, pipeline.Request{SourceKey: key})
	if err != nil {
		s.logger.Error("run failed", "source_key", key, "run_id", res.RunID, "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		writeJSON(w, map[string]any{
			"run_id": res.RunID,
			"error": map[string]any{
				"message": err.Error(),
				"code":    http.StatusInternalServerError,
			},
		}, s.logger)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, res, s.logger)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.errorResponse(w, http.StatusNotFound, "run ledger is disabled")
		return
	}
	id := r.PathValue("id")
	run, err := s.runs.GetRun(r.Context(), id)
	if errors.Is(err, ports.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("run lookup failed", "run_id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "run lookup failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, run, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

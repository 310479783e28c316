// Package server exposes the engine over HTTP: POST /v1/ask runs a turn,
// /healthz reports liveness, /metrics serves the Prometheus registry.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/orchestrator"
)

// Server is the HTTP surface over an orchestrator.
type Server struct {
	cfg    *config.ServerConfig
	engine *orchestrator.Orchestrator
	server *http.Server
}

// New creates the server.
func New(cfg *config.ServerConfig, engine *orchestrator.Orchestrator) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if cfg == nil {
		cfg = &config.ServerConfig{}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	s := &Server{cfg: cfg, engine: engine}

	router := chi.NewRouter()
	router.Use(loggingMiddleware)
	router.Get("/healthz", s.handleHealth)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	router.Post("/v1/ask", s.handleAsk)

	s.server = &http.Server{
		Addr:              cfg.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	slog.Info("HTTP server listening", "address", s.cfg.Address())
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeoutDuration())
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// askRequest is the turn request body. A missing session id starts a new
// session.
type askRequest struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Query     string `json:"query"`
	Rerank    bool   `json:"rerank,omitempty"`
}

type askResponse struct {
	SessionID string   `json:"session_id"`
	Answer    string   `json:"answer"`
	Citations any      `json:"citations,omitempty"`
	Degraded  bool     `json:"degraded,omitempty"`
	Reasons   []string `json:"reasons,omitempty"`
	Steps     int      `json:"steps"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	result, err := s.engine.RunTurn(r.Context(), orchestrator.TurnRequest{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Query:     req.Query,
		Rerank:    req.Rerank,
	})
	if err != nil {
		var unavailable *orchestrator.SessionUnavailableError
		switch {
		case errors.Is(err, context.Canceled):
			// Client went away; nothing to write.
			return
		case errors.As(err, &unavailable):
			writeError(w, http.StatusServiceUnavailable, "session store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "turn failed")
		}
		slog.Error("Turn failed", "session_id", req.SessionID, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		SessionID: result.SessionID,
		Answer:    result.Answer,
		Citations: result.Citations,
		Degraded:  result.Degraded,
		Reasons:   result.Reasons,
		Steps:     result.Steps,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// responseWriter captures the status code for request logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.statusCode,
			"duration", time.Since(start))
	})
}

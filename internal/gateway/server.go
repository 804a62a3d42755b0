// Package gateway serves the OpenAI-compatible HTTP surface: the native
// /v1/responses endpoint, the /v1/chat/completions shim, model discovery,
// health, and metrics.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/rants/internal/config"
	"github.com/haasonsaas/rants/internal/observability"
	"github.com/haasonsaas/rants/internal/orchestrator"
	"github.com/haasonsaas/rants/internal/ratelimit"
)

// Server is the gateway HTTP server. All state is immutable after New; the
// orchestrator owns per-session state.
type Server struct {
	cfg     *config.Config
	orch    *orchestrator.Orchestrator
	limiter *ratelimit.Limiter
	metrics *observability.Metrics
	logger  *slog.Logger
	version string

	httpServer *http.Server
	listener   net.Listener
}

// New assembles the gateway over a wired orchestrator. metrics and logger
// may be nil in tests.
func New(
	cfg *config.Config,
	orch *orchestrator.Orchestrator,
	limiter *ratelimit.Limiter,
	metrics *observability.Metrics,
	logger *slog.Logger,
	version string,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		orch:    orch,
		limiter: limiter,
		metrics: metrics,
		logger:  logger.With("component", "gateway"),
		version: version,
	}
}

// Handler builds the full route table with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/models", s.protect("/v1/models", s.handleModels))
	mux.HandleFunc("/v1/responses", s.protect("/v1/responses", s.handleResponses))
	mux.HandleFunc("/v1/chat/completions", s.protect("/v1/chat/completions", s.handleChatCompletions))

	return mux
}

// Start binds and serves until the listener fails or Shutdown runs.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("starting http server", "addr", addr)
	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"models": map[string]bool{
			"generator":     s.cfg.Models.Generator.BaseURL != "",
			"tool_compiler": s.cfg.Models.ToolCompiler.BaseURL != "",
		},
	})
}

// handleModels advertises the single virtual model id.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "bad_request", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data": []map[string]any{{
			"id":       s.cfg.RLM.RantsOne.Name,
			"object":   "model",
			"created":  time.Now().Unix(),
			"owned_by": "rants",
		}},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Package server implements the HTTP API for the document question-answering
// service: ingestion, retrieval-augmented chat, raw chat, conversation
// summaries, health/readiness, and Prometheus metrics.
// The server is started by the `docqa serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/docqa-go/internal/compose"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/pipeline"
)

// New constructs a Server from the provided pipeline and config.
func New(p orchestrator, cfg *Config) (*Server, error) {
	if p == nil {
		return nil, fmt.Errorf("server: pipeline must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must cover a full batch ingest.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		pipeline: p,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.Registry),
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.Logger)
	s.stopRL = stopRL
	if cfg.APIKey == "" {
		cfg.Logger.Warn("server: API key not set, authentication disabled")
	}
	// POST routes carry auth and rate limiting; read-only probes stay open.
	protected := func(name string, h http.HandlerFunc) http.Handler {
		return s.instrument(name, authMiddleware(cfg.APIKey, rl.middleware(h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /ingest", protected("ingest", s.handleIngest))
	mux.Handle("POST /chat", protected("chat", s.handleChat))
	mux.Handle("POST /chat/raw", protected("chat_raw", s.handleChatRaw))
	mux.Handle("POST /summary", protected("summary", s.handleSummary))
	mux.Handle("GET /health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(cfg.Logger, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the server's root handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("docqa server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleIngest handles POST /ingest. It scans the configured document
// directory and indexes every PDF, reporting per-file outcomes.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	report, err := s.pipeline.Ingest(r.Context())
	if err != nil {
		if errors.Is(err, pipeline.ErrNoDocuments) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.metrics.documentsIngested.Add(float64(report.Documents))
	s.metrics.chunksIngested.Add(float64(report.Chunks))
	s.metrics.costUSD.WithLabelValues("embedding").Add(report.Cost.TotalCost)

	status := http.StatusOK
	if report.Status == pipeline.StatusPartial {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, report)
}

// handleChat handles POST /chat: retrieval-augmented question answering.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}

	res, err := s.pipeline.Chat(r.Context(), req.Query, req.History)
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	s.recordQuery("chat", res)
	writeJSON(w, http.StatusOK, res)
}

// handleChatRaw handles POST /chat/raw: direct model access, no retrieval.
func (s *Server) handleChatRaw(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}

	res, err := s.pipeline.ChatRaw(r.Context(), req.Query, req.History)
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	s.recordQuery("chat_raw", res)
	writeJSON(w, http.StatusOK, res)
}

// handleSummary handles POST /summary: summarize a caller-supplied
// conversation.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	var req summaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.History) == 0 {
		writeError(w, http.StatusBadRequest, "history is required")
		return
	}
	for _, t := range req.History {
		if t.Query == "" && t.Answer == "" {
			writeError(w, http.StatusBadRequest, "history turns must carry a query or an answer")
			return
		}
	}

	res, err := s.pipeline.Summarize(r.Context(), req.History)
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	s.metrics.tokensTotal.WithLabelValues("prompt").Add(float64(res.Usage.PromptTokens))
	s.metrics.tokensTotal.WithLabelValues("completion").Add(float64(res.Usage.CompletionTokens))
	s.metrics.costUSD.WithLabelValues("summary").Add(res.Cost.TotalCost)

	writeJSON(w, http.StatusOK, summaryResponse{
		Summary:        res.Summary,
		ProcessingTime: res.ProcessingTime.Seconds(),
		Usage:          res.Usage,
		Cost:           res.Cost,
	})
}

// handleHealth handles GET /health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeChatRequest parses and validates the shared chat request body.
// On failure it writes the 400 response and returns ok=false.
func decodeChatRequest(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return req, false
	}
	for _, t := range req.History {
		if t.Query == "" && t.Answer == "" {
			writeError(w, http.StatusBadRequest, "history turns must carry a query or an answer")
			return req, false
		}
	}
	return req, true
}

// recordQuery updates token and cost metrics for a completed chat flow.
func (s *Server) recordQuery(kind string, res pipeline.QueryResult) {
	s.metrics.tokensTotal.WithLabelValues("prompt").Add(float64(res.Usage.PromptTokens))
	s.metrics.tokensTotal.WithLabelValues("completion").Add(float64(res.Usage.CompletionTokens))
	s.metrics.tokensTotal.WithLabelValues("embedding").Add(float64(res.Usage.EmbeddingTokens))
	s.metrics.costUSD.WithLabelValues(kind).Add(res.Cost.TotalCost)
}

// writeQueryError maps pipeline failures to HTTP statuses: oversized prompts
// are the client's fault, everything else is upstream.
func (s *Server) writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	logging.FromContext(r.Context()).Error("request failed", slog.Any("error", err))
	switch {
	case errors.Is(err, compose.ErrPromptTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the JSON error envelope.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

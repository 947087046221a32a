package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docqa-go/internal/history"
	"github.com/54b3r/docqa-go/internal/pipeline"
	"github.com/54b3r/docqa-go/internal/pricing"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	// Must cover a full ingest run plus a model round trip.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /ready.
	// If empty, /ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on POST
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all POST routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Registry receives the server's Prometheus metrics and backs /metrics.
	// If nil, a fresh registry is created.
	Registry *prometheus.Registry
}

// orchestrator is the pipeline surface the handlers call.
// *pipeline.Pipeline satisfies it; tests inject a fake.
type orchestrator interface {
	Ingest(ctx context.Context) (pipeline.IngestReport, error)
	Chat(ctx context.Context, query string, turns []history.Turn) (pipeline.QueryResult, error)
	ChatRaw(ctx context.Context, query string, turns []history.Turn) (pipeline.QueryResult, error)
	Summarize(ctx context.Context, turns []history.Turn) (pipeline.SummaryResult, error)
}

// Server is the HTTP server exposing the document question-answering API.
type Server struct {
	// pipeline handles all document and chat operations.
	pipeline orchestrator
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// chatRequest is the JSON body for POST /chat and POST /chat/raw.
type chatRequest struct {
	// Query is the user's question.
	Query string `json:"query"`
	// History is the caller-owned conversation so far, oldest first.
	History []history.Turn `json:"history,omitempty"`
}

// summaryRequest is the JSON body for POST /summary.
type summaryRequest struct {
	// History is the conversation to summarize, oldest first.
	History []history.Turn `json:"history"`
}

// summaryResponse is the JSON body returned by POST /summary.
// ProcessingTime is reported in seconds to keep the field unit-stable
// across clients.
type summaryResponse struct {
	Summary        string              `json:"summary"`
	ProcessingTime float64             `json:"processing_time"`
	Usage          pipeline.TokenUsage `json:"token_usage"`
	Cost           pricing.Breakdown   `json:"cost"`
}

// errorResponse is the JSON error envelope for all non-2xx responses.
type errorResponse struct {
	Error string `json:"error"`
}

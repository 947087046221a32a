package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/server"
	"github.com/54b3r/docqa-go/internal/tracing"
)

// NewServeCmd constructs the `docqa serve` command, which starts the HTTP
// question-answering API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var docsDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docqa HTTP API server",
		Long: `Start the docqa HTTP server on localhost.

The server exposes a REST API for PDF ingestion, retrieval-augmented chat,
raw chat, and conversation summarization, plus health, readiness, and
Prometheus metrics endpoints.

Examples:
  docqa serve
  docqa serve --port 9090 --docs ./reports
  MODEL_PROVIDER=azure docqa serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			// Env (and therefore YAML config) fills in unset flags.
			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("DOCQA_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("DOCQA_PORT", port)
			}
			if !cmd.Flags().Changed("docs") {
				docsDir = getEnvOrDefault("DOCQA_DOCS_DIR", docsDir)
			}

			log.Info("serve starting",
				slog.String("provider", os.Getenv("MODEL_PROVIDER")),
				slog.String("docs_dir", docsDir),
			)

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			flush, ok := tracing.Setup()
			if ok {
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			st, err := buildStack(ctx, log, docsDir, false)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer st.Close()

			registry := prometheus.NewRegistry()
			server.RegisterCacheStats(registry,
				func() uint64 { return st.cache.Stats().Hits },
				func() uint64 { return st.cache.Stats().Misses },
			)

			// Readiness probes go through the raw embedder so a dead embedding
			// service is not masked by the cache.
			pingers := []server.Pinger{
				server.NewQdrantPinger(st.store.Client()),
				server.NewEmbedderPinger(st.rawEmbedder, st.embInfo.Provider),
			}

			srv, err := server.New(st.pipeline, &server.Config{
				Host:      host,
				Port:      port,
				Logger:    log,
				Pingers:   pingers,
				APIKey:    os.Getenv("DOCQA_API_KEY"),
				RateLimit: float64(getEnvFloat32("DOCQA_RATE_LIMIT_RPS", 0)),
				RateBurst: getEnvInt("DOCQA_RATE_LIMIT_BURST", 0),
				Registry:  registry,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")
	cmd.Flags().StringVarP(&docsDir, "docs", "d", "./docs", "Directory scanned for PDF documents")

	return cmd
}

package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/pipeline"
)

// NewIngestCmd constructs the `docqa ingest` command, which indexes a
// directory of PDF documents into the vector store.
func NewIngestCmd() *cobra.Command {
	var docsDir string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Index a directory of PDF documents into the vector store",
		Long: `Scan a directory for PDF files and index each one: extract pages, chunk
the text, embed the chunks, and upsert them into the Qdrant vector store.

Documents are processed concurrently and failures are isolated per file; a
corrupt PDF never aborts the batch. Re-ingesting a document replaces its
previous chunks.

Required environment variables:
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: docqa-chunks)
  QDRANT_API_KEY       Optional API key for authenticated clusters
  EMBEDDING_PROVIDER   Embedding backend: ollama, openai, azure (default: ollama)
  EMBEDDING_*          Provider-specific overrides (see README)

Examples:
  docqa ingest
  docqa ingest --docs ./reports
  EMBEDDING_PROVIDER=openai docqa ingest --docs /data/pdfs`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			if !cmd.Flags().Changed("docs") {
				docsDir = getEnvOrDefault("DOCQA_DOCS_DIR", docsDir)
			}

			// Ingestion must not run against an unreachable embedding service.
			st, err := buildStack(ctx, log, docsDir, true)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer st.Close()

			log.Info("starting ingestion", slog.String("docs_dir", docsDir))

			report, err := st.pipeline.Ingest(ctx)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			for _, res := range report.Results {
				if res.Status == pipeline.StatusSuccess {
					fmt.Printf("  %-40s %3d pages %4d chunks\n", res.File, res.Pages, res.Chunks)
				} else {
					fmt.Printf("  %-40s FAILED: %s\n", res.File, res.Error)
				}
			}
			fmt.Printf("%s: %d documents, %d chunks, %d embedding tokens, $%.6f\n",
				report.Status, report.Documents, report.Chunks,
				report.Usage.EmbeddingTokens, report.Cost.TotalCost)

			if report.Status == pipeline.StatusError {
				return fmt.Errorf("ingest: all documents failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&docsDir, "docs", "d", "./docs", "Directory scanned for PDF documents")

	return cmd
}

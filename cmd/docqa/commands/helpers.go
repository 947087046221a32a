package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/54b3r/docqa-go/internal/archive"
	"github.com/54b3r/docqa-go/internal/catalog"
	"github.com/54b3r/docqa-go/internal/compose"
	"github.com/54b3r/docqa-go/internal/embcache"
	"github.com/54b3r/docqa-go/internal/embedder"
	"github.com/54b3r/docqa-go/internal/generation"
	"github.com/54b3r/docqa-go/internal/history"
	"github.com/54b3r/docqa-go/internal/pipeline"
	"github.com/54b3r/docqa-go/internal/pricing"
	"github.com/54b3r/docqa-go/internal/provider"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/tokenizer"
)

// stack holds the fully wired pipeline plus the pieces serve needs to hang
// readiness probes and metrics off. Close releases the store and catalog.
type stack struct {
	pipeline    *pipeline.Pipeline
	store       *rag.QdrantStore
	rawEmbedder rag.Embedder
	embInfo     embedder.Info
	cache       *embcache.Cache
	providerCfg *provider.Config

	closers []func()
}

// Close releases resources in reverse construction order.
func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// buildStack wires the model provider, embedder, cache, Qdrant store,
// retriever, composer, generator, history manager, pricing table, archive
// and catalog into a pipeline. When strictEmbed is true an unreachable
// embedding service is a fatal error; otherwise it is logged and startup
// continues (the /ready probe reports it).
func buildStack(ctx context.Context, log *slog.Logger, docsDir string, strictEmbed bool) (*stack, error) {
	chatModel, providerCfg, err := provider.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	log.Info("provider initialised",
		slog.String("backend", string(providerCfg.Backend)),
		slog.String("model", providerCfg.Model),
	)

	counter := tokenizer.ForModel(providerCfg.Model)

	emb, embInfo, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	if err := embedder.Validate(ctx, emb, embInfo); err != nil {
		if strictEmbed {
			return nil, fmt.Errorf("embedding service validation failed: %w", err)
		}
		log.Warn("embedding service validation failed; continuing, /ready will report it",
			slog.Any("error", err))
	}
	log.Info("embedder initialised",
		slog.String("provider", embInfo.Provider),
		slog.String("model", embInfo.Model),
		slog.Int("dimensions", embInfo.Dimensions),
	)

	cache := embcache.New(emb, embInfo.Model)

	// Pricing must cover both configured models before any request is served.
	table := pricing.NewTable(loadedPricing)
	if !table.Known(providerCfg.Model) {
		return nil, fmt.Errorf("no pricing configured for chat model %q; add a pricing entry to the config file", providerCfg.Model)
	}
	if !table.Known(embInfo.Model) {
		return nil, fmt.Errorf("no pricing configured for embedding model %q; add a pricing entry to the config file", embInfo.Model)
	}

	st := &stack{
		rawEmbedder: emb,
		embInfo:     embInfo,
		cache:       cache,
		providerCfg: providerCfg,
	}

	store, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
		Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
		Port:       getEnvInt("QDRANT_PORT", 6334),
		Collection: getEnvOrDefault("QDRANT_COLLECTION", "docqa-chunks"),
		VectorSize: uint64(embInfo.Dimensions), //nolint:gosec // dimensions are bounded
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	st.store = store
	st.closers = append(st.closers, func() { _ = store.Close() })

	topK := getEnvInt("DOCQA_TOP_K", 3)
	retriever, err := rag.NewRetriever(cache, store, topK)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create retriever: %w", err)
	}

	genClient := generation.New(chatModel, counter)
	histManager := history.NewManager(genClient,
		getEnvInt("DOCQA_SUMMARIZE_AFTER", history.DefaultSummarizeAfter),
		getEnvInt("DOCQA_KEEP_RECENT", history.DefaultKeepRecent),
	)
	composer := compose.New(counter, getEnvInt("DOCQA_MAX_CONTEXT_TOKENS", compose.DefaultMaxContextTokens))

	// Catalog failures disable the catalog, not the pipeline. DOCQA_CATALOG_DB
	// overrides the default path (~/.docqa/catalog.db); "disabled" turns it off.
	var cat catalog.Catalog
	catPath := os.Getenv("DOCQA_CATALOG_DB")
	if catPath != "disabled" {
		if catPath == "" {
			catPath, err = catalog.DefaultDBPath()
			if err != nil {
				log.Warn("catalog: could not resolve default DB path, disabling", slog.Any("error", err))
				catPath = ""
			}
		}
		if catPath != "" {
			c, catErr := catalog.Open(catPath)
			if catErr != nil {
				log.Warn("catalog: failed to open, disabling", slog.Any("error", catErr))
			} else {
				cat = c
				st.closers = append(st.closers, func() { _ = c.Close() })
				log.Info("catalog opened", slog.String("path", catPath))
			}
		}
	}

	st.pipeline = pipeline.New(pipeline.Config{
		DocsDir:        docsDir,
		ChunkSize:      getEnvInt("DOCQA_CHUNK_SIZE", 512),
		ChunkOverlap:   getEnvInt("DOCQA_CHUNK_OVERLAP", 50),
		TopK:           topK,
		ScoreThreshold: getEnvFloat32("DOCQA_SCORE_THRESHOLD", 0),
		ChatModel:      providerCfg.Model,
		EmbedModel:     embInfo.Model,
		IngestWorkers:  getEnvInt("DOCQA_INGEST_WORKERS", 4),
	}, pipeline.Deps{
		Embedder:  cache,
		Store:     store,
		Retriever: retriever,
		Composer:  composer,
		Generator: genClient,
		Pricing:   table,
		History:   histManager,
		Archive:   &archive.Writer{Dir: os.Getenv("DOCQA_ARCHIVE_DIR")},
		Catalog:   cat,
		Counter:   counter,
		Cache:     cache,
	})

	return st, nil
}

// getEnvOrDefault returns the env var value or a fallback when unset.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the env var parsed as int, or a fallback when unset or
// unparseable.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// getEnvFloat32 returns the env var parsed as float32, or a fallback when
// unset or unparseable.
func getEnvFloat32(key string, fallback float32) float32 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return fallback
	}
	return float32(f)
}

// Package pipeline orchestrates the document question-answering flows:
// batch ingestion of PDFs into the vector store, retrieval-augmented chat,
// raw chat, and conversation summarization. Each flow runs through named
// stages so failures report exactly where they happened.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docqa-go/internal/archive"
	"github.com/54b3r/docqa-go/internal/catalog"
	"github.com/54b3r/docqa-go/internal/compose"
	"github.com/54b3r/docqa-go/internal/embcache"
	"github.com/54b3r/docqa-go/internal/generation"
	"github.com/54b3r/docqa-go/internal/history"
	"github.com/54b3r/docqa-go/internal/loader"
	"github.com/54b3r/docqa-go/internal/pricing"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/tokenizer"
)

// StageError reports which pipeline stage failed. Use errors.As to recover
// the stage name and errors.Is to match the underlying cause.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// stageErr wraps err with its stage name.
func stageErr(stage string, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// Generator is the chat-model client surface the pipeline needs.
// *generation.Client satisfies this.
type Generator interface {
	Generate(ctx context.Context, messages []*schema.Message) (string, generation.Usage, error)
}

// Source describes one retrieved excerpt backing an answer. ChunkID
// identifies the stored chunk so answers trace back to the index.
type Source struct {
	ChunkID   string  `json:"chunk_id"`
	Document  string  `json:"document"`
	PageStart int     `json:"page_start"`
	PageEnd   int     `json:"page_end"`
	Score     float32 `json:"score"`
	Content   string  `json:"content"`
}

// QueryResult is the outcome of a chat or raw-chat flow.
type QueryResult struct {
	Answer  string            `json:"answer"`
	Sources []Source          `json:"sources,omitempty"`
	Usage   TokenUsage        `json:"token_usage"`
	Cost    pricing.Breakdown `json:"cost"`
}

// TokenUsage aggregates token consumption across the stages of one request.
type TokenUsage struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	EmbeddingTokens  int  `json:"embedding_tokens"`
	Estimated        bool `json:"estimated,omitempty"`
}

// SummaryResult is the outcome of the conversation summary flow.
type SummaryResult struct {
	Summary        string            `json:"summary"`
	ProcessingTime time.Duration     `json:"processing_time"`
	Usage          TokenUsage        `json:"token_usage"`
	Cost           pricing.Breakdown `json:"cost"`
}

// Config carries the tunables for a Pipeline.
type Config struct {
	// DocsDir is the directory scanned for PDF files on ingest.
	DocsDir string
	// ChunkSize and ChunkOverlap configure the character chunker.
	ChunkSize    int
	ChunkOverlap int
	// TopK is the retrieval depth per query.
	TopK int
	// ScoreThreshold drops retrieved chunks scoring below it.
	ScoreThreshold float32
	// ChatModel and EmbedModel are the pricing-table keys for cost accounting.
	ChatModel  string
	EmbedModel string
	// IngestWorkers bounds concurrent document processing. Defaults to 4.
	IngestWorkers int
}

// Pipeline wires the question-answering components together.
// Safe for concurrent use; vector store write serialization is the store's
// responsibility.
type Pipeline struct {
	cfg       Config
	embedder  rag.Embedder
	store     rag.VectorStore
	retriever rag.Retriever
	composer  *compose.Composer
	generator Generator
	pricing   *pricing.Table
	historyMg *history.Manager
	archive   *archive.Writer
	catalog   catalog.Catalog
	counter   tokenizer.Counter
	cache     *embcache.Cache

	// load reads one PDF from disk. Tests substitute it to feed synthetic
	// documents through the full ingest flow.
	load func(path string) (*loader.Document, error)
}

// Deps carries the constructed components for New. Embedder should be the
// caching embedder so chunk and query embeddings share the coalescing cache;
// Cache may additionally reference it directly for stats and Clear. Archive
// and Catalog are optional.
type Deps struct {
	Embedder  rag.Embedder
	Store     rag.VectorStore
	Retriever rag.Retriever
	Composer  *compose.Composer
	Generator Generator
	Pricing   *pricing.Table
	History   *history.Manager
	Archive   *archive.Writer
	Catalog   catalog.Catalog
	Counter   tokenizer.Counter
	Cache     *embcache.Cache
}

// New constructs a Pipeline. Config defaults: TopK 3, ChunkSize 512,
// ChunkOverlap 50, IngestWorkers 4.
func New(cfg Config, deps Deps) *Pipeline {
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 512
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = 50
	}
	if cfg.IngestWorkers <= 0 {
		cfg.IngestWorkers = 4
	}
	return &Pipeline{
		cfg:       cfg,
		embedder:  deps.Embedder,
		store:     deps.Store,
		retriever: deps.Retriever,
		composer:  deps.Composer,
		generator: deps.Generator,
		pricing:   deps.Pricing,
		historyMg: deps.History,
		archive:   deps.Archive,
		catalog:   deps.Catalog,
		counter:   deps.Counter,
		cache:     deps.Cache,
		load:      loader.Load,
	}
}

// CacheStats exposes embedding cache counters for metrics scraping. Returns
// zeros when no cache is wired.
func (p *Pipeline) CacheStats() embcache.Stats {
	if p.cache == nil {
		return embcache.Stats{}
	}
	return p.cache.Stats()
}

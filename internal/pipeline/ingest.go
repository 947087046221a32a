package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/docqa-go/internal/catalog"
	"github.com/54b3r/docqa-go/internal/chunker"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/pricing"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/tokenizer"
)

// ErrNoDocuments indicates the configured directory holds no PDF files.
var ErrNoDocuments = errors.New("no PDF documents found")

// Ingest statuses.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusError   = "error"
)

// FileResult reports the outcome of ingesting one document.
type FileResult struct {
	File   string `json:"file"`
	Status string `json:"status"`
	Pages  int    `json:"pages,omitempty"`
	Chunks int    `json:"chunks,omitempty"`
	Error  string `json:"error,omitempty"`
}

// IngestReport summarizes a batch ingest run.
type IngestReport struct {
	// Status is success when every file ingested, partial when some did,
	// error when none did.
	Status    string            `json:"status"`
	Documents int               `json:"documents"`
	Chunks    int               `json:"chunks"`
	Results   []FileResult      `json:"results"`
	Usage     TokenUsage        `json:"token_usage"`
	Cost      pricing.Breakdown `json:"cost"`
}

// Ingest scans the configured directory for PDFs and indexes each one:
// extract pages, chunk, embed, and upsert into the vector store. Documents
// are processed concurrently but failures are isolated per document; one
// corrupt file never aborts the batch. Returns ErrNoDocuments when the
// directory holds no PDFs.
func (p *Pipeline) Ingest(ctx context.Context) (IngestReport, error) {
	paths, err := p.scanDocs()
	if err != nil {
		return IngestReport{}, err
	}

	results := make([]FileResult, len(paths))
	var mu sync.Mutex
	report := IngestReport{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.IngestWorkers)
	for i, path := range paths {
		g.Go(func() error {
			res, usage, cost := p.ingestOne(gctx, path)
			results[i] = res
			mu.Lock()
			report.Usage.EmbeddingTokens += usage.EmbeddingTokens
			report.Cost.Add(cost)
			mu.Unlock()
			return nil // per-document isolation: errors live in the result
		})
	}
	if err := g.Wait(); err != nil {
		return IngestReport{}, stageErr("ingest", err)
	}

	succeeded := 0
	for _, r := range results {
		if r.Status == StatusSuccess {
			succeeded++
			report.Documents++
			report.Chunks += r.Chunks
		}
	}
	switch {
	case succeeded == len(results):
		report.Status = StatusSuccess
	case succeeded > 0:
		report.Status = StatusPartial
	default:
		report.Status = StatusError
	}
	report.Results = results
	return report, nil
}

// scanDocs lists the PDF files in the configured directory, sorted by name
// for deterministic result ordering.
func (p *Pipeline) scanDocs() ([]string, error) {
	entries, err := os.ReadDir(p.cfg.DocsDir)
	if err != nil {
		return nil, stageErr("scan", fmt.Errorf("read %s: %w", p.cfg.DocsDir, err))
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		paths = append(paths, filepath.Join(p.cfg.DocsDir, e.Name()))
	}
	if len(paths) == 0 {
		return nil, stageErr("scan", fmt.Errorf("%w in %s", ErrNoDocuments, p.cfg.DocsDir))
	}
	sort.Strings(paths)
	return paths, nil
}

// ingestOne runs the full ingest flow for a single document. All failures
// are reported in the FileResult rather than returned, so the batch
// continues.
func (p *Pipeline) ingestOne(ctx context.Context, path string) (FileResult, TokenUsage, pricing.Breakdown) {
	name := filepath.Base(path)
	res := FileResult{File: name, Status: StatusError}
	log := logging.FromContext(ctx).With(slog.String("document", name))

	fail := func(stage string, err error) (FileResult, TokenUsage, pricing.Breakdown) {
		log.Error("document ingest failed", slog.String("stage", stage), slog.Any("error", err))
		res.Error = stageErr(stage, err).Error()
		return res, TokenUsage{}, pricing.Breakdown{}
	}

	doc, err := p.load(path)
	if err != nil {
		return fail("load", err)
	}
	res.Pages = len(doc.Pages)

	chunks, err := chunker.Split(doc, chunker.Config{Size: p.cfg.ChunkSize, Overlap: p.cfg.ChunkOverlap})
	if err != nil {
		return fail("chunk", err)
	}
	res.Chunks = len(chunks)

	if p.archive != nil {
		if err := p.archive.WriteChunks(chunks); err != nil {
			// Archiving is best-effort; the index is the source of truth.
			log.Warn("chunk archive failed", slog.Any("error", err))
		}
	}

	texts := make([]string, len(chunks))
	docs := make([]rag.Document, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
		docs[i] = rag.Document{
			ID:        c.ID,
			Content:   c.Text,
			Source:    c.DocumentID,
			PageStart: c.PageStart,
			PageEnd:   c.PageEnd,
			Ordinal:   c.Ordinal,
		}
	}

	embeddings, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return fail("embed", err)
	}

	if err := p.store.Upsert(ctx, docs, embeddings); err != nil {
		return fail("store", err)
	}

	if p.catalog != nil {
		if err := p.catalog.Put(ctx, catalog.Record{Name: name, Pages: res.Pages, Chunks: res.Chunks}); err != nil {
			log.Warn("catalog update failed", slog.Any("error", err))
		}
	}

	usage := TokenUsage{EmbeddingTokens: tokenizer.CountAll(p.counter, texts)}
	cost, err := p.pricing.Embedding(p.cfg.EmbedModel, usage.EmbeddingTokens)
	if err != nil {
		return fail("price", err)
	}

	res.Status = StatusSuccess
	log.Info("document ingested",
		slog.Int("pages", res.Pages),
		slog.Int("chunks", res.Chunks),
		slog.Int("embedding_tokens", usage.EmbeddingTokens),
	)
	return res, usage, cost
}

package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docqa-go/internal/compose"
	"github.com/54b3r/docqa-go/internal/embcache"
	"github.com/54b3r/docqa-go/internal/generation"
	"github.com/54b3r/docqa-go/internal/history"
	"github.com/54b3r/docqa-go/internal/loader"
	"github.com/54b3r/docqa-go/internal/pricing"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/tokenizer"
)

type fakeRetriever struct {
	docs []rag.Document
	err  error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, topK int, threshold float32) ([]rag.Document, error) {
	return f.docs, f.err
}

type fakeGenerator struct {
	answer string
	usage  generation.Usage
	err    error
	calls  int
	lastIn []*schema.Message
}

func (f *fakeGenerator) Generate(ctx context.Context, messages []*schema.Message) (string, generation.Usage, error) {
	f.calls++
	f.lastIn = messages
	if f.err != nil {
		return "", generation.Usage{}, f.err
	}
	return f.answer, f.usage, nil
}

func newTestPipeline(t *testing.T, retriever rag.Retriever, gen Generator) *Pipeline {
	t.Helper()
	counter := tokenizer.Estimator{}
	return New(
		Config{
			TopK:       3,
			ChatModel:  "gpt-4o",
			EmbedModel: "text-embedding-3-small",
		},
		Deps{
			Retriever: retriever,
			Composer:  compose.New(counter, 0),
			Generator: gen,
			Pricing:   pricing.NewTable(nil),
			History:   history.NewManager(gen, 10, 4),
			Counter:   counter,
		},
	)
}

func TestChatReturnsAnswerSourcesAndCost(t *testing.T) {
	retriever := &fakeRetriever{docs: []rag.Document{
		{ID: "c1", Content: "refunds take 5 days", Source: "guide.pdf", PageStart: 3, PageEnd: 4, Score: 0.9},
	}}
	gen := &fakeGenerator{answer: "Refunds take five days.", usage: generation.Usage{PromptTokens: 200, CompletionTokens: 20}}
	p := newTestPipeline(t, retriever, gen)

	res, err := p.Chat(context.Background(), "how long do refunds take?", nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.Answer != "Refunds take five days." {
		t.Errorf("Answer = %q", res.Answer)
	}
	if len(res.Sources) != 1 || res.Sources[0].Document != "guide.pdf" || res.Sources[0].PageStart != 3 {
		t.Errorf("Sources = %+v", res.Sources)
	}
	if res.Sources[0].ChunkID != "c1" {
		t.Errorf("ChunkID = %q, want the stored chunk id %q", res.Sources[0].ChunkID, "c1")
	}
	if res.Usage.PromptTokens != 200 || res.Usage.CompletionTokens != 20 {
		t.Errorf("Usage = %+v", res.Usage)
	}
	if res.Usage.EmbeddingTokens == 0 {
		t.Error("query embedding tokens not accounted")
	}
	if res.Cost.TotalCost <= 0 {
		t.Errorf("Cost = %+v, want > 0 for gpt-4o", res.Cost)
	}
	sum := res.Cost.PromptCost + res.Cost.CompletionCost + res.Cost.EmbeddingCost
	if diff := sum - res.Cost.TotalCost; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("cost components %v do not sum to total %v", sum, res.Cost.TotalCost)
	}

	// The retrieved content must have reached the model.
	var sawContext bool
	for _, m := range gen.lastIn {
		if strings.Contains(m.Content, "refunds take 5 days") {
			sawContext = true
		}
	}
	if !sawContext {
		t.Error("retrieved excerpt never reached the model prompt")
	}
}

func TestChatEmptyRetrievalStillAnswers(t *testing.T) {
	gen := &fakeGenerator{answer: "I do not have context for that.", usage: generation.Usage{PromptTokens: 50, CompletionTokens: 10}}
	p := newTestPipeline(t, &fakeRetriever{}, gen)

	res, err := p.Chat(context.Background(), "unknown topic?", nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(res.Sources) != 0 {
		t.Errorf("Sources = %+v, want none", res.Sources)
	}
	var sawNotice bool
	for _, m := range gen.lastIn {
		if strings.Contains(m.Content, "No relevant context") {
			sawNotice = true
		}
	}
	if !sawNotice {
		t.Error("no-context notice missing from prompt")
	}
}

func TestChatStageErrors(t *testing.T) {
	t.Run("retrieve", func(t *testing.T) {
		p := newTestPipeline(t, &fakeRetriever{err: errors.New("qdrant down")}, &fakeGenerator{answer: "x"})
		_, err := p.Chat(context.Background(), "q", nil)
		var se *StageError
		if !errors.As(err, &se) || se.Stage != "retrieve" {
			t.Fatalf("err = %v, want retrieve StageError", err)
		}
	})
	t.Run("generate", func(t *testing.T) {
		p := newTestPipeline(t, &fakeRetriever{}, &fakeGenerator{err: generation.ErrService})
		_, err := p.Chat(context.Background(), "q", nil)
		var se *StageError
		if !errors.As(err, &se) || se.Stage != "generate" {
			t.Fatalf("err = %v, want generate StageError", err)
		}
		if !errors.Is(err, generation.ErrService) {
			t.Errorf("underlying cause lost: %v", err)
		}
	})
}

func TestChatUnknownModelPricing(t *testing.T) {
	gen := &fakeGenerator{answer: "a", usage: generation.Usage{PromptTokens: 1, CompletionTokens: 1}}
	counter := tokenizer.Estimator{}
	p := New(
		Config{ChatModel: "mystery-model", EmbedModel: "text-embedding-3-small"},
		Deps{
			Retriever: &fakeRetriever{},
			Composer:  compose.New(counter, 0),
			Generator: gen,
			Pricing:   pricing.NewTable(nil),
			History:   history.NewManager(nil, 10, 4),
			Counter:   counter,
		},
	)
	_, err := p.Chat(context.Background(), "q", nil)
	if !errors.Is(err, pricing.ErrUnknownModel) {
		t.Fatalf("err = %v, want ErrUnknownModel", err)
	}
}

func TestChatRawSkipsRetrieval(t *testing.T) {
	retriever := &fakeRetriever{err: errors.New("must not be called")}
	gen := &fakeGenerator{answer: "raw answer", usage: generation.Usage{PromptTokens: 10, CompletionTokens: 5}}
	p := newTestPipeline(t, retriever, gen)

	res, err := p.ChatRaw(context.Background(), "hi", []history.Turn{{Query: "earlier", Answer: "turn"}})
	if err != nil {
		t.Fatalf("ChatRaw: %v", err)
	}
	if res.Answer != "raw answer" || len(res.Sources) != 0 {
		t.Errorf("res = %+v", res)
	}
	if res.Usage.EmbeddingTokens != 0 {
		t.Errorf("EmbeddingTokens = %d, want 0 for raw chat", res.Usage.EmbeddingTokens)
	}
	for _, m := range gen.lastIn {
		if m.Role == schema.System {
			t.Error("raw chat prompt should carry no system context")
		}
	}
}

func TestChatCompactsLongHistory(t *testing.T) {
	gen := &fakeGenerator{answer: "compact summary", usage: generation.Usage{PromptTokens: 30, CompletionTokens: 10}}
	p := newTestPipeline(t, &fakeRetriever{}, gen)

	turns := make([]history.Turn, 12)
	for i := range turns {
		turns[i] = history.Turn{Query: "q", Answer: "a"}
	}
	_, err := p.Chat(context.Background(), "q", turns)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	// One summarization call plus the answer call.
	if gen.calls != 2 {
		t.Errorf("generator calls = %d, want 2 (summarize + answer)", gen.calls)
	}
	// [system, context, summary turn pair + 4 recent pairs = 10 msgs, query]
	if want := 1 + 1 + 10 + 1; len(gen.lastIn) != want {
		t.Errorf("prompt holds %d messages, want %d after compaction", len(gen.lastIn), want)
	}
}

func TestSummarize(t *testing.T) {
	gen := &fakeGenerator{answer: "they discussed refunds", usage: generation.Usage{PromptTokens: 40, CompletionTokens: 8}}
	p := newTestPipeline(t, &fakeRetriever{}, gen)

	res, err := p.Summarize(context.Background(), []history.Turn{
		{Query: "how long do refunds take?", Answer: "Five days."},
	})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if res.Summary != "they discussed refunds" {
		t.Errorf("Summary = %q", res.Summary)
	}
	if res.ProcessingTime < 0 {
		t.Errorf("ProcessingTime = %v", res.ProcessingTime)
	}
	if res.Cost.TotalCost <= 0 {
		t.Errorf("Cost = %+v", res.Cost)
	}
}

func TestSummarizeEmptyHistory(t *testing.T) {
	p := newTestPipeline(t, &fakeRetriever{}, &fakeGenerator{answer: "x"})
	if _, err := p.Summarize(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty history")
	}
}

// countingBatchEmbedder is a thread-safe embedder fake for ingest tests.
type countingBatchEmbedder struct {
	calls atomic.Int64
	texts atomic.Int64
}

func (f *countingBatchEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	f.texts.Add(int64(len(texts)))
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}

// recordingStore captures every upserted batch so tests can compare what
// successive ingests wrote.
type recordingStore struct {
	mu      sync.Mutex
	upserts [][]rag.Document
}

func (s *recordingStore) Upsert(ctx context.Context, docs []rag.Document, embeddings [][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, docs)
	return nil
}

func (s *recordingStore) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]rag.Document, error) {
	return nil, nil
}
func (s *recordingStore) Delete(ctx context.Context, ids []string) error { return nil }
func (s *recordingStore) Close() error                                   { return nil }

// ids returns the chunk IDs of the n-th upserted batch.
func (s *recordingStore) ids(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.upserts[n]))
	for i, d := range s.upserts[n] {
		out[i] = d.ID
	}
	return out
}

func TestIngestIndexesDocumentAndReingestHitsCache(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "guide.pdf"), []byte("placeholder"), 0o644); err != nil {
		t.Fatal(err)
	}

	inner := &countingBatchEmbedder{}
	cache := embcache.New(inner, "text-embedding-3-small")
	store := &recordingStore{}
	p := New(
		Config{DocsDir: dir, ChunkSize: 64, ChunkOverlap: 8, EmbedModel: "text-embedding-3-small"},
		Deps{
			Embedder: cache,
			Store:    store,
			Pricing:  pricing.NewTable(nil),
			Counter:  tokenizer.Estimator{},
			Cache:    cache,
		},
	)
	p.load = func(path string) (*loader.Document, error) {
		return &loader.Document{
			Name: filepath.Base(path),
			Path: path,
			Pages: []loader.Page{
				{Number: 1, Text: strings.Repeat("billing terms and refund windows explained at length. ", 5)},
				{Number: 2, Text: "appendix with rate tables"},
			},
		}, nil
	}

	report, err := p.Ingest(context.Background())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if report.Status != StatusSuccess || report.Documents != 1 {
		t.Fatalf("report = %+v, want one successful document", report)
	}
	if len(report.Results) != 1 || report.Results[0].Status != StatusSuccess || report.Results[0].Pages != 2 {
		t.Fatalf("Results = %+v", report.Results)
	}
	if report.Chunks == 0 || report.Chunks != report.Results[0].Chunks {
		t.Errorf("Chunks = %d, Results[0].Chunks = %d", report.Chunks, report.Results[0].Chunks)
	}
	if report.Usage.EmbeddingTokens == 0 {
		t.Error("embedding tokens not accounted")
	}
	if report.Cost.TotalCost <= 0 {
		t.Errorf("Cost = %+v, want > 0 for text-embedding-3-small", report.Cost)
	}

	embeddedTexts := inner.texts.Load()
	if embeddedTexts == 0 {
		t.Fatal("provider never embedded anything")
	}
	firstIDs := store.ids(0)
	if len(firstIDs) != report.Chunks {
		t.Fatalf("upserted %d chunks, report says %d", len(firstIDs), report.Chunks)
	}

	// Re-ingesting the unchanged document must spend zero new provider
	// calls and upsert the same chunk IDs, replacing rather than duplicating.
	report, err = p.Ingest(context.Background())
	if err != nil {
		t.Fatalf("re-Ingest: %v", err)
	}
	if report.Status != StatusSuccess {
		t.Fatalf("re-ingest report = %+v", report)
	}
	if got := inner.texts.Load(); got != embeddedTexts {
		t.Errorf("provider embedded %d texts after re-ingest, want %d (all cached)", got, embeddedTexts)
	}
	if secondIDs := store.ids(1); !reflect.DeepEqual(secondIDs, firstIDs) {
		t.Errorf("re-ingest upserted different chunk IDs:\n first: %v\nsecond: %v", firstIDs, secondIDs)
	}
}

func TestIngestEmptyDirectory(t *testing.T) {
	p := New(Config{DocsDir: t.TempDir()}, Deps{})
	_, err := p.Ingest(context.Background())
	if !errors.Is(err, ErrNoDocuments) {
		t.Fatalf("err = %v, want ErrNoDocuments", err)
	}
}

func TestIngestIsolatesCorruptDocuments(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"bad1.pdf", "bad2.pdf"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("not a pdf"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	// A non-PDF file must be ignored entirely.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := New(Config{DocsDir: dir}, Deps{Pricing: pricing.NewTable(nil), Counter: tokenizer.Estimator{}})
	report, err := p.Ingest(context.Background())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if report.Status != StatusError {
		t.Errorf("Status = %q, want error when every document fails", report.Status)
	}
	if len(report.Results) != 2 {
		t.Fatalf("Results = %d entries, want 2 (txt file ignored)", len(report.Results))
	}
	for _, r := range report.Results {
		if r.Status != StatusError || r.Error == "" {
			t.Errorf("result %+v, want per-file error", r)
		}
		if !strings.Contains(r.Error, "load:") {
			t.Errorf("error %q does not name the failing stage", r.Error)
		}
	}
	if report.Documents != 0 || report.Chunks != 0 {
		t.Errorf("Documents/Chunks = %d/%d, want 0/0", report.Documents, report.Chunks)
	}
}

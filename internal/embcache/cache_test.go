package embcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// countingEmbedder records how many texts it has embedded and can be told to
// fail. The returned vector encodes the text length so tests can verify
// which text produced which vector.
type countingEmbedder struct {
	calls atomic.Int64
	texts atomic.Int64
	fail  atomic.Bool
	block chan struct{} // when non-nil, Embed waits for it to close
}

func (f *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	f.texts.Add(int64(len(texts)))
	if f.block != nil {
		<-f.block
	}
	if f.fail.Load() {
		return nil, errors.New("provider down")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func TestCacheServesRepeatsWithoutProviderCalls(t *testing.T) {
	inner := &countingEmbedder{}
	c := New(inner, "test-model")

	first, err := c.Embed(context.Background(), []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	second, err := c.Embed(context.Background(), []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got := inner.texts.Load(); got != 2 {
		t.Errorf("provider embedded %d texts, want 2", got)
	}
	if first[0][0] != second[0][0] || first[1][0] != second[1][0] {
		t.Errorf("cached vectors differ: %v vs %v", first, second)
	}
	stats := c.Stats()
	if stats.Hits != 2 || stats.Misses != 2 {
		t.Errorf("stats = %+v, want 2 hits 2 misses", stats)
	}
}

func TestCacheDeduplicatesWithinBatch(t *testing.T) {
	inner := &countingEmbedder{}
	c := New(inner, "test-model")

	vecs, err := c.Embed(context.Background(), []string{"same", "same", "same"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got := inner.texts.Load(); got != 1 {
		t.Errorf("provider embedded %d texts, want 1", got)
	}
	for i, v := range vecs {
		if v[0] != 4 {
			t.Errorf("vecs[%d] = %v", i, v)
		}
	}
}

func TestCacheNormalizesWhitespace(t *testing.T) {
	inner := &countingEmbedder{}
	c := New(inner, "test-model")

	if _, err := c.Embed(context.Background(), []string{"hello  world"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Embed(context.Background(), []string{"hello\nworld"}); err != nil {
		t.Fatal(err)
	}
	if got := inner.texts.Load(); got != 1 {
		t.Errorf("provider embedded %d texts, want 1 (keys should normalize whitespace)", got)
	}
}

func TestCacheDoesNotCacheFailures(t *testing.T) {
	inner := &countingEmbedder{}
	inner.fail.Store(true)
	c := New(inner, "test-model")

	if _, err := c.Embed(context.Background(), []string{"text"}); err == nil {
		t.Fatal("expected error from failing provider")
	}
	if c.Len() != 0 {
		t.Fatalf("failed embed was cached: %d entries", c.Len())
	}

	inner.fail.Store(false)
	vecs, err := c.Embed(context.Background(), []string{"text"})
	if err != nil {
		t.Fatalf("Embed after recovery: %v", err)
	}
	if len(vecs) != 1 {
		t.Fatalf("got %d vectors", len(vecs))
	}
}

func TestCacheBatchesMissesIntoOneProviderCall(t *testing.T) {
	inner := &countingEmbedder{}
	c := New(inner, "test-model")

	texts := []string{"one", "two", "three", "four", "five"}
	vecs, err := c.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got := inner.calls.Load(); got != 1 {
		t.Errorf("provider called %d times for one batch, want 1", got)
	}
	if got := inner.texts.Load(); got != 5 {
		t.Errorf("provider embedded %d texts, want 5", got)
	}
	for i, text := range texts {
		if vecs[i][0] != float32(len(text)) {
			t.Errorf("vecs[%d] = %v, want vector for %q", i, vecs[i], text)
		}
	}

	// A mixed batch sends only the new texts, again as one call.
	vecs, err = c.Embed(context.Background(), []string{"one", "six", "two", "seven"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got := inner.calls.Load(); got != 2 {
		t.Errorf("provider called %d times, want 2", got)
	}
	if got := inner.texts.Load(); got != 7 {
		t.Errorf("provider embedded %d texts, want 7 (only misses sent)", got)
	}
	if vecs[0][0] != 3 || vecs[1][0] != 3 || vecs[3][0] != 5 {
		t.Errorf("mixed batch vectors wrong: %v", vecs)
	}
}

func TestCacheCoalescesConcurrentMisses(t *testing.T) {
	inner := &countingEmbedder{block: make(chan struct{})}
	c := New(inner, "test-model")

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Embed(context.Background(), []string{"shared"})
		}(i)
	}

	// Let the goroutines pile up on the in-flight call, then release it.
	for inner.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	close(inner.block)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d: %v", i, err)
		}
	}
	if got := inner.calls.Load(); got != 1 {
		t.Errorf("provider called %d times, want 1", got)
	}
}

func TestCacheClear(t *testing.T) {
	inner := &countingEmbedder{}
	c := New(inner, "test-model")

	if _, err := c.Embed(context.Background(), []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("Len = %d after Clear", c.Len())
	}
	if _, err := c.Embed(context.Background(), []string{"a"}); err != nil {
		t.Fatal(err)
	}
	if got := inner.texts.Load(); got != 3 {
		t.Errorf("provider embedded %d texts, want 3 (cache cleared)", got)
	}
}

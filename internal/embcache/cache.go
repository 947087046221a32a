// Package embcache provides a content-addressed, in-memory cache in front of
// an embedding provider. Identical texts embed at most once per process,
// concurrent requests for the same text coalesce into a single provider call,
// and the misses of one batch travel to the provider as one request.
package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/54b3r/docqa-go/internal/rag"
)

// Stats reports cumulative cache activity since construction or the last
// Clear.
type Stats struct {
	Hits   uint64
	Misses uint64
}

// flight is one in-progress provider call for a key. Concurrent callers wait
// on done and read vec/err afterwards instead of issuing their own call.
type flight struct {
	done chan struct{}
	vec  []float32
	err  error
}

// Cache wraps an inner rag.Embedder with a keyed cache. Keys are derived
// from the normalized text content and the model identifier, so two
// deployments sharing a process but using different models never collide.
// Safe for concurrent use.
type Cache struct {
	inner rag.Embedder
	model string

	mu       sync.RWMutex
	entries  map[string][]float32
	inflight map[string]*flight

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New constructs a Cache around inner. model scopes the cache keys and must
// match the embedding model inner talks to.
func New(inner rag.Embedder, model string) *Cache {
	return &Cache{
		inner:    inner,
		model:    model,
		entries:  make(map[string][]float32),
		inflight: make(map[string]*flight),
	}
}

// key derives the cache key for a text: sha256 of the whitespace-normalized
// content, scoped by the model identifier.
func (c *Cache) key(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	sum := sha256.Sum256([]byte(normalized))
	return c.model + ":" + hex.EncodeToString(sum[:])
}

// claim holds one key this caller owns the provider call for.
type claim struct {
	text      string
	fl        *flight
	positions []int
}

// Embed returns embeddings for texts, serving repeats from the cache. Within
// a single batch, duplicate texts are embedded once and all distinct misses
// go to the provider as one call. Across goroutines, concurrent misses for
// the same key share one provider call via the in-flight table. Failed
// provider calls are never cached, so a later retry re-attempts the embedding.
func (c *Cache) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	// One pass under the lock: serve hits, subscribe to keys another caller
	// is already embedding, and claim the rest.
	claims := make(map[string]*claim)
	var claimOrder []string
	waits := make(map[string]*flight)
	waitPos := make(map[string][]int)

	c.mu.Lock()
	for i, text := range texts {
		k := c.key(text)
		if vec, ok := c.entries[k]; ok {
			out[i] = vec
			c.hits.Add(1)
			continue
		}
		if cl, ok := claims[k]; ok {
			cl.positions = append(cl.positions, i)
			continue
		}
		if _, ok := waits[k]; ok {
			waitPos[k] = append(waitPos[k], i)
			continue
		}
		c.misses.Add(1)
		if fl, ok := c.inflight[k]; ok {
			waits[k] = fl
			waitPos[k] = append(waitPos[k], i)
			continue
		}
		fl := &flight{done: make(chan struct{})}
		c.inflight[k] = fl
		claims[k] = &claim{text: text, fl: fl, positions: []int{i}}
		claimOrder = append(claimOrder, k)
	}
	c.mu.Unlock()

	// Embed every claimed key in a single provider call.
	if len(claimOrder) > 0 {
		batch := make([]string, len(claimOrder))
		for i, k := range claimOrder {
			batch[i] = claims[k].text
		}
		vecs, err := c.inner.Embed(ctx, batch)
		if err == nil && len(vecs) != len(batch) {
			err = fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(batch))
		}

		c.mu.Lock()
		for i, k := range claimOrder {
			fl := claims[k].fl
			if err != nil {
				fl.err = err
			} else {
				fl.vec = vecs[i]
				c.entries[k] = vecs[i]
			}
			delete(c.inflight, k)
			close(fl.done)
		}
		c.mu.Unlock()

		if err != nil {
			return nil, err
		}
		for _, k := range claimOrder {
			for _, pos := range claims[k].positions {
				out[pos] = claims[k].fl.vec
			}
		}
	}

	// Collect the results of flights other callers own.
	for k, fl := range waits {
		select {
		case <-fl.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if fl.err != nil {
			return nil, fl.err
		}
		for _, pos := range waitPos[k] {
			out[pos] = fl.vec
		}
	}

	return out, nil
}

// Stats returns the cumulative hit and miss counts.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear discards all cached entries and resets the counters. In-flight
// provider calls are unaffected and will populate the fresh map when they
// complete.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string][]float32)
	c.mu.Unlock()
	c.hits.Store(0)
	c.misses.Store(0)
}

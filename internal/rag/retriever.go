package rag

import (
	"context"
	"fmt"
	"sort"
)

// DefaultRetriever implements the Retriever interface by combining an
// Embedder and a VectorStore. The embedder is expected to be the caching
// embedder, so repeated identical queries never cost a second embedding
// call.
type DefaultRetriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// store performs the vector similarity search.
	store VectorStore

	// defaultTopK is the number of results requested when the caller
	// passes 0.
	defaultTopK int
}

// NewRetriever constructs a DefaultRetriever from the given Embedder and
// VectorStore. defaultTopK sets the fallback result count when Retrieve is
// called with topK=0.
func NewRetriever(embedder Embedder, store VectorStore, defaultTopK int) (*DefaultRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if defaultTopK <= 0 {
		defaultTopK = 3
	}
	return &DefaultRetriever{
		embedder:    embedder,
		store:       store,
		defaultTopK: defaultTopK,
	}, nil
}

// Retrieve embeds the query, searches the store, drops results below
// scoreThreshold, and deduplicates by chunk ID keeping the highest score.
// Results come back ordered by non-increasing score. An empty slice is a
// valid result meaning no stored chunk was relevant enough.
func (r *DefaultRetriever) Retrieve(ctx context.Context, query string, topK int, scoreThreshold float32) ([]Document, error) {
	if topK <= 0 {
		topK = r.defaultTopK
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query")
	}

	docs, err := r.store.Search(ctx, embeddings[0], topK)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	return filterResults(docs, scoreThreshold), nil
}

// filterResults applies the score cutoff and per-chunk deduplication,
// preserving non-increasing score order in the output.
func filterResults(docs []Document, scoreThreshold float32) []Document {
	best := make(map[string]Document, len(docs))
	for _, d := range docs {
		if d.Score < scoreThreshold {
			continue
		}
		if prev, ok := best[d.ID]; !ok || d.Score > prev.Score {
			best[d.ID] = d
		}
	}

	out := make([]Document, 0, len(best))
	for _, d := range best {
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Package rag defines the interfaces for retrieval-augmented generation
// components: vector storage, document retrieval, and embedding.
// Concrete implementations (Qdrant, the coalescing embedding cache, etc.)
// satisfy these interfaces so the pipeline layer never depends on a
// specific backend.
package rag

import (
	"context"
)

// Document represents a stored or retrieved chunk of knowledge: the text
// plus the provenance metadata needed for source attribution.
type Document struct {
	// ID is the unique identifier for this chunk.
	ID string

	// Content is the raw text content of the chunk.
	Content string

	// Source is the file name of the PDF this chunk was cut from.
	Source string

	// PageStart and PageEnd are the 1-based page numbers the chunk spans.
	PageStart int
	PageEnd   int

	// Ordinal is 0-based position of the chunk within its document.
	Ordinal int

	// Score is the similarity score assigned during retrieval (0.0–1.0).
	// Zero value means the score was not computed.
	Score float32
}

// VectorStore is the interface for persisting and searching chunk
// embeddings. Implementations must be safe to call from multiple
// goroutines; writes for a collection are serialized internally so
// concurrent ingesters cannot interleave partial batches.
type VectorStore interface {
	// Upsert stores or updates a batch of documents with their pre-computed
	// embeddings. embeddings must be parallel to docs — embeddings[i] is
	// the vector for docs[i].
	Upsert(ctx context.Context, docs []Document, embeddings [][]float32) error

	// Search performs a similarity search and returns up to topK documents
	// ordered by descending score. It is a pure read and never blocks on
	// concurrent writers beyond the store's own consistency model.
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Document, error)

	// Delete removes documents by their IDs.
	Delete(ctx context.Context, ids []string) error

	// Close releases any resources held by the store.
	Close() error
}

// Embedder is the interface for converting text into dense vector
// embeddings. Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever fetches the chunks relevant to a query. Implementations embed
// the query and delegate similarity search to a VectorStore.
// An empty result is a valid outcome, not an error — it signals that no
// stored chunk cleared the relevance cutoff.
type Retriever interface {
	// Retrieve returns the top-k most relevant documents for the query,
	// dropping results scoring below scoreThreshold. Pass topK=0 for the
	// configured default and scoreThreshold=0 to disable the cutoff.
	Retrieve(ctx context.Context, query string, topK int, scoreThreshold float32) ([]Document, error)
}

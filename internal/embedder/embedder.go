// Package embedder provides implementations of the rag.Embedder interface
// for converting text into dense vector embeddings. Each implementation
// talks to a different backend (OpenAI, Azure OpenAI, Ollama) via plain
// HTTP — no additional SDK dependencies are required.
package embedder

import "errors"

// ErrService is the sentinel wrapped by all embedding backend failures so
// callers can classify them without depending on the backend's error types.
// A failed embed call is never cached; a later retry recomputes.
var ErrService = errors.New("embedding service error")

// Info describes the resolved embedding backend. The model id keys both the
// content-addressed cache and the pricing table, so it must be stable for
// the lifetime of the process.
type Info struct {
	// Provider is the backend name (ollama, openai, azure).
	Provider string
	// Model is the embedding model id (e.g. "text-embedding-3-small").
	Model string
	// Dimensions is the embedding vector length produced by Model.
	Dimensions int
}

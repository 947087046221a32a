// Package pricing converts token usage into dollar cost using a per-model
// rate table. Rates are loaded from configuration at startup so that price
// changes never require a rebuild.
package pricing

import (
	"errors"
	"fmt"
)

// ErrUnknownModel indicates no rate entry exists for the requested model.
var ErrUnknownModel = errors.New("no pricing for model")

// Rates holds per-token dollar rates for one model. A zero rate is valid:
// local models (Ollama) cost nothing.
type Rates struct {
	// Prompt is the dollar cost per input token.
	Prompt float64 `yaml:"prompt"`
	// Completion is the dollar cost per output token.
	Completion float64 `yaml:"completion"`
	// Embedding is the dollar cost per embedded token.
	Embedding float64 `yaml:"embedding"`
}

// Breakdown itemizes the cost of one operation. Costs are in dollars and
// TotalCost is always the sum of the three components.
type Breakdown struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	EmbeddingTokens  int     `json:"embedding_tokens"`
	PromptCost       float64 `json:"prompt_cost"`
	CompletionCost   float64 `json:"completion_cost"`
	EmbeddingCost    float64 `json:"embedding_cost"`
	TotalCost        float64 `json:"total_cost"`
}

// Add accumulates another breakdown into b.
func (b *Breakdown) Add(other Breakdown) {
	b.PromptTokens += other.PromptTokens
	b.CompletionTokens += other.CompletionTokens
	b.EmbeddingTokens += other.EmbeddingTokens
	b.PromptCost += other.PromptCost
	b.CompletionCost += other.CompletionCost
	b.EmbeddingCost += other.EmbeddingCost
	b.TotalCost += other.TotalCost
}

// Table maps model names to their rates. Lookups are read-only after
// construction, so a Table is safe for concurrent use.
type Table struct {
	rates map[string]Rates
}

// defaultRates covers the commonly deployed models so a bare config still
// prices correctly. Rates are dollars per token (not per million).
var defaultRates = map[string]Rates{
	"gpt-4o":                 {Prompt: 2.50e-6, Completion: 10.00e-6},
	"gpt-4o-mini":            {Prompt: 0.15e-6, Completion: 0.60e-6},
	"gpt-4.1":                {Prompt: 2.00e-6, Completion: 8.00e-6},
	"gemini-1.5-pro":         {Prompt: 1.25e-6, Completion: 5.00e-6},
	"gemini-2.0-flash":       {Prompt: 0.10e-6, Completion: 0.40e-6},
	"text-embedding-3-small": {Embedding: 0.02e-6},
	"text-embedding-3-large": {Embedding: 0.13e-6},
	// Local models are free.
	"llama3":            {},
	"nomic-embed-text":  {},
	"mxbai-embed-large": {},
}

// NewTable builds a Table from configured rates layered over the built-in
// defaults. Configured entries win.
func NewTable(configured map[string]Rates) *Table {
	rates := make(map[string]Rates, len(defaultRates)+len(configured))
	for model, r := range defaultRates {
		rates[model] = r
	}
	for model, r := range configured {
		rates[model] = r
	}
	return &Table{rates: rates}
}

// Known reports whether the table has an entry for model. Used at startup to
// fail fast when the configured model has no pricing.
func (t *Table) Known(model string) bool {
	_, ok := t.rates[model]
	return ok
}

// Generation prices a chat-model call.
func (t *Table) Generation(model string, promptTokens, completionTokens int) (Breakdown, error) {
	r, ok := t.rates[model]
	if !ok {
		return Breakdown{}, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	b := Breakdown{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		PromptCost:       float64(promptTokens) * r.Prompt,
		CompletionCost:   float64(completionTokens) * r.Completion,
	}
	b.TotalCost = b.PromptCost + b.CompletionCost + b.EmbeddingCost
	return b, nil
}

// Embedding prices an embedding call.
func (t *Table) Embedding(model string, tokens int) (Breakdown, error) {
	r, ok := t.rates[model]
	if !ok {
		return Breakdown{}, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	b := Breakdown{
		EmbeddingTokens: tokens,
		EmbeddingCost:   float64(tokens) * r.Embedding,
	}
	b.TotalCost = b.EmbeddingCost
	return b, nil
}

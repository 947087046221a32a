// Package tokenizer provides token counting for prompt budgeting and cost
// accounting. When the configured chat model is in the tiktoken model table
// an exact BPE count is used; for everything else (Ollama models, unknown
// deployments) a conservative character heuristic applies: 1 token ≈ 4
// characters. The heuristic deliberately under-estimates so prompts built
// against it leave headroom for model-specific overhead.
package tokenizer

import (
	"sync"

	"github.com/cloudwego/eino/schema"
	"github.com/pkoukk/tiktoken-go"
)

const (
	// charsPerToken is the character-to-token ratio used by the fallback
	// estimator. 4 chars/token is standard for English prose and code.
	charsPerToken = 4

	// messageOverheadTokens is the per-message framing overhead most chat
	// APIs charge (~4 tokens per message).
	messageOverheadTokens = 4
)

// Counter counts the tokens a model would charge for a string.
// Implementations must be safe to call from multiple goroutines.
type Counter interface {
	// Count returns the token count for s. Never returns a negative value.
	Count(s string) int
}

// Estimate returns a rough token count for s using the character heuristic.
// Any non-empty string counts as at least one token.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// Estimator is a Counter backed by the character heuristic alone.
// Used directly in tests and as the universal fallback.
type Estimator struct{}

// Count implements Counter via Estimate.
func (Estimator) Count(s string) int { return Estimate(s) }

// ForModel returns a Counter for the given chat model id. Models known to
// tiktoken get an exact encoder; everything else gets the estimator.
// Encoder initialisation is lazy — tiktoken may fetch its BPE ranks on
// first use, and startup must not block on the network.
func ForModel(model string) Counter {
	return &lazyTiktoken{model: model}
}

// lazyTiktoken defers tiktoken initialisation to the first Count call and
// falls back to the estimator permanently if the model is unknown.
type lazyTiktoken struct {
	model string

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// Count returns the exact BPE token count when the encoder is available,
// or the character estimate otherwise.
func (t *lazyTiktoken) Count(s string) int {
	t.once.Do(func() {
		enc, err := tiktoken.EncodingForModel(t.model)
		if err == nil {
			t.enc = enc
		}
	})
	if t.enc == nil {
		return Estimate(s)
	}
	return len(t.enc.Encode(s, nil, nil))
}

// CountMessages returns the token count for a chat message slice using c,
// including the per-message framing overhead.
func CountMessages(c Counter, msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverheadTokens
		total += c.Count(string(m.Role))
		total += c.Count(m.Content)
	}
	return total
}

// CountAll sums the token counts of texts using c. Used to account for
// embedding-side token consumption, which embedding APIs do not report.
func CountAll(c Counter, texts []string) int {
	total := 0
	for _, s := range texts {
		total += c.Count(s)
	}
	return total
}

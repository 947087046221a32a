// Package generation wraps a chat model behind a small client that returns
// the answer text together with token usage, retrying transient failures
// with bounded exponential backoff.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/tokenizer"
)

// ErrService indicates the model backend failed after all retries.
var ErrService = errors.New("generation service error")

const (
	maxAttempts    = 3
	initialBackoff = 500 * time.Millisecond
)

// Usage reports token consumption for a single model call. When the backend
// does not report usage, the counts are estimated from the message text.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	// Estimated is true when the backend reported no usage and the counts
	// were derived from a local tokenizer instead.
	Estimated bool
}

// ChatModel is the subset of the eino model interface the client needs.
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Client calls a chat model and accounts for its token usage.
// Safe for concurrent use.
type Client struct {
	model   ChatModel
	counter tokenizer.Counter
}

// New constructs a Client around m. counter supplies usage estimates when the
// backend omits them, typically tokenizer.ForModel for the configured model.
func New(m ChatModel, counter tokenizer.Counter) *Client {
	return &Client{model: m, counter: counter}
}

// Generate sends messages to the model and returns the response text with
// usage. Transient failures (timeouts, rate limits, 5xx-class errors) are
// retried up to three attempts with exponential backoff; other failures
// return immediately. The caller's context bounds the whole exchange,
// including backoff sleeps.
func (c *Client) Generate(ctx context.Context, messages []*schema.Message) (string, Usage, error) {
	var lastErr error
	backoff := initialBackoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.model.Generate(ctx, messages)
		if err == nil {
			return resp.Content, c.usageFor(messages, resp), nil
		}
		lastErr = err

		if !isTransient(err) {
			return "", Usage{}, fmt.Errorf("model call failed: %v: %w", err, ErrService)
		}
		if attempt == maxAttempts {
			break
		}

		logging.FromContext(ctx).Warn("model call failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.Any("error", err),
		)
		select {
		case <-ctx.Done():
			return "", Usage{}, fmt.Errorf("model call canceled: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return "", Usage{}, fmt.Errorf("model call failed after %d attempts: %v: %w", maxAttempts, lastErr, ErrService)
}

// usageFor extracts token usage from the response metadata, falling back to
// a local estimate when the backend reports none.
func (c *Client) usageFor(messages []*schema.Message, resp *schema.Message) Usage {
	if resp.ResponseMeta != nil && resp.ResponseMeta.Usage != nil {
		u := resp.ResponseMeta.Usage
		if u.PromptTokens > 0 || u.CompletionTokens > 0 {
			return Usage{
				PromptTokens:     u.PromptTokens,
				CompletionTokens: u.CompletionTokens,
			}
		}
	}
	return Usage{
		PromptTokens:     tokenizer.CountMessages(c.counter, messages),
		CompletionTokens: c.counter.Count(resp.Content),
		Estimated:        true,
	}
}

// isTransient reports whether err is worth retrying: context deadline on the
// request, network-level failures, rate limiting, or server-side errors.
// Client-side mistakes (auth, bad request) are not retried. Cancellation of
// the caller's own context is never retried.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate limit", "429", "too many requests",
		"500", "502", "503", "504",
		"overloaded", "timeout", "connection refused", "connection reset",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

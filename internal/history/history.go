// Package history models caller-supplied conversation turns and compacts
// long histories into a model-generated summary turn, bounding prompt growth
// on long sessions. The caller owns its history; nothing is stored
// server-side.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docqa-go/internal/generation"
	"github.com/54b3r/docqa-go/internal/logging"
)

// Turn is one question/answer exchange.
type Turn struct {
	Query  string `json:"query"`
	Answer string `json:"answer"`
}

const (
	// DefaultSummarizeAfter is the turn count past which compaction triggers.
	DefaultSummarizeAfter = 10
	// DefaultKeepRecent is how many of the newest turns survive compaction
	// verbatim.
	DefaultKeepRecent = 4
)

const summaryPrompt = `Summarize the following conversation between a user and a document
question-answering assistant. Keep the facts, document names, and conclusions
that later questions might refer back to. Be concise.`

// Summarizer produces a summary of prior turns. *generation.Client satisfies
// this.
type Summarizer interface {
	Generate(ctx context.Context, messages []*schema.Message) (string, generation.Usage, error)
}

// Manager compacts conversation histories. It holds no conversation state
// and is safe for concurrent use.
type Manager struct {
	summarizer     Summarizer
	summarizeAfter int
	keepRecent     int
}

// NewManager constructs a Manager. summarizeAfter <= 0 and keepRecent <= 0
// select the defaults; keepRecent is clamped below summarizeAfter.
func NewManager(summarizer Summarizer, summarizeAfter, keepRecent int) *Manager {
	if summarizeAfter <= 0 {
		summarizeAfter = DefaultSummarizeAfter
	}
	if keepRecent <= 0 {
		keepRecent = DefaultKeepRecent
	}
	if keepRecent >= summarizeAfter {
		keepRecent = summarizeAfter - 1
	}
	return &Manager{
		summarizer:     summarizer,
		summarizeAfter: summarizeAfter,
		keepRecent:     keepRecent,
	}
}

// Fit returns turns compacted to fit the configured threshold, together with
// the token usage spent summarizing. Histories at or under the threshold are
// returned as-is. Over the threshold, everything but the newest keepRecent
// turns is summarized into one synthetic turn, so the result holds at most
// keepRecent+1 turns. Summarization failure is non-fatal: the original turns
// are returned unchanged and the failure is logged.
func (m *Manager) Fit(ctx context.Context, turns []Turn) ([]Turn, generation.Usage) {
	if len(turns) <= m.summarizeAfter || m.summarizer == nil {
		return turns, generation.Usage{}
	}

	compacted, usage, err := m.compact(ctx, turns)
	if err != nil {
		logging.FromContext(ctx).Warn("history summarization failed, keeping full turns",
			slog.Int("turns", len(turns)),
			slog.Any("error", err),
		)
		return turns, generation.Usage{}
	}
	return compacted, usage
}

// compact summarizes everything but the newest keepRecent turns into a
// single synthetic turn, which becomes the new oldest entry.
func (m *Manager) compact(ctx context.Context, turns []Turn) ([]Turn, generation.Usage, error) {
	old := turns[:len(turns)-m.keepRecent]
	recent := turns[len(turns)-m.keepRecent:]

	var sb strings.Builder
	for _, t := range old {
		fmt.Fprintf(&sb, "User: %s\nAssistant: %s\n\n", t.Query, t.Answer)
	}

	summary, usage, err := m.summarizer.Generate(ctx, []*schema.Message{
		schema.SystemMessage(summaryPrompt),
		schema.UserMessage(sb.String()),
	})
	if err != nil {
		return nil, generation.Usage{}, fmt.Errorf("summarize %d turns: %w", len(old), err)
	}

	out := make([]Turn, 0, 1+len(recent))
	out = append(out, Turn{
		Query:  "Summary of the earlier conversation",
		Answer: summary,
	})
	out = append(out, recent...)
	return out, usage, nil
}

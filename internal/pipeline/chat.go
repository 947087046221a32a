package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docqa-go/internal/generation"
	"github.com/54b3r/docqa-go/internal/history"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/pricing"
)

// Chat answers a question using retrieved document context. The
// caller-supplied history is compacted when it exceeds the summarization
// threshold; the cost of that compaction is charged to this request.
func (p *Pipeline) Chat(ctx context.Context, query string, turns []history.Turn) (QueryResult, error) {
	turns, summarizeUsage := p.historyMg.Fit(ctx, turns)

	docs, err := p.retriever.Retrieve(ctx, query, p.cfg.TopK, p.cfg.ScoreThreshold)
	if err != nil {
		return QueryResult{}, stageErr("retrieve", err)
	}

	msgs, err := p.composer.Compose(query, docs, turns)
	if err != nil {
		return QueryResult{}, stageErr("compose", err)
	}

	answer, usage, err := p.generator.Generate(ctx, msgs)
	if err != nil {
		return QueryResult{}, stageErr("generate", err)
	}

	result := QueryResult{
		Answer:  answer,
		Sources: make([]Source, 0, len(docs)),
	}
	for _, d := range docs {
		result.Sources = append(result.Sources, Source{
			ChunkID:   d.ID,
			Document:  d.Source,
			PageStart: d.PageStart,
			PageEnd:   d.PageEnd,
			Score:     d.Score,
			Content:   d.Content,
		})
	}

	// The query embedding went through the caching embedder inside the
	// retriever; its token count is estimated locally.
	queryTokens := p.counter.Count(query)
	result.Usage, result.Cost, err = p.account(usage, summarizeUsage, queryTokens)
	if err != nil {
		return QueryResult{}, err
	}

	logging.FromContext(ctx).Info("chat answered",
		slog.Int("sources", len(result.Sources)),
		slog.Int("prompt_tokens", result.Usage.PromptTokens),
		slog.Int("completion_tokens", result.Usage.CompletionTokens),
		slog.Float64("cost_usd", result.Cost.TotalCost),
	)
	return result, nil
}

// ChatRaw answers a question directly from the model with no document
// context. History is compacted the same way as Chat.
func (p *Pipeline) ChatRaw(ctx context.Context, query string, turns []history.Turn) (QueryResult, error) {
	turns, summarizeUsage := p.historyMg.Fit(ctx, turns)

	msgs, err := p.composer.ComposeRaw(query, turns)
	if err != nil {
		return QueryResult{}, stageErr("compose", err)
	}

	answer, usage, err := p.generator.Generate(ctx, msgs)
	if err != nil {
		return QueryResult{}, stageErr("generate", err)
	}

	result := QueryResult{Answer: answer}
	result.Usage, result.Cost, err = p.account(usage, summarizeUsage, 0)
	if err != nil {
		return QueryResult{}, err
	}
	return result, nil
}

const conversationSummaryPrompt = `Summarize the following conversation between a user and a document
question-answering assistant. Capture the questions asked, the answers given,
and any documents referenced. Be concise but complete.`

// Summarize produces a summary of the supplied conversation turns, timing
// the flow and pricing its token usage.
func (p *Pipeline) Summarize(ctx context.Context, turns []history.Turn) (SummaryResult, error) {
	if len(turns) == 0 {
		return SummaryResult{}, stageErr("compose", fmt.Errorf("nothing to summarize"))
	}
	start := time.Now()

	var sb strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&sb, "User: %s\nAssistant: %s\n\n", t.Query, t.Answer)
	}

	summary, usage, err := p.generator.Generate(ctx, []*schema.Message{
		schema.SystemMessage(conversationSummaryPrompt),
		schema.UserMessage(sb.String()),
	})
	if err != nil {
		return SummaryResult{}, stageErr("generate", err)
	}

	tokenUsage, cost, err := p.account(usage, generation.Usage{}, 0)
	if err != nil {
		return SummaryResult{}, err
	}
	return SummaryResult{
		Summary:        summary,
		ProcessingTime: time.Since(start),
		Usage:          tokenUsage,
		Cost:           cost,
	}, nil
}

// account merges generation and summarization usage with any query embedding
// tokens and prices the lot.
func (p *Pipeline) account(gen, summarize generation.Usage, embeddingTokens int) (TokenUsage, pricing.Breakdown, error) {
	usage := TokenUsage{
		PromptTokens:     gen.PromptTokens + summarize.PromptTokens,
		CompletionTokens: gen.CompletionTokens + summarize.CompletionTokens,
		EmbeddingTokens:  embeddingTokens,
		Estimated:        gen.Estimated || summarize.Estimated,
	}

	var cost pricing.Breakdown
	genCost, err := p.pricing.Generation(p.cfg.ChatModel, usage.PromptTokens, usage.CompletionTokens)
	if err != nil {
		return TokenUsage{}, pricing.Breakdown{}, stageErr("price", err)
	}
	cost.Add(genCost)

	if embeddingTokens > 0 {
		embCost, err := p.pricing.Embedding(p.cfg.EmbedModel, embeddingTokens)
		if err != nil {
			return TokenUsage{}, pricing.Breakdown{}, stageErr("price", err)
		}
		cost.Add(embCost)
	}
	return usage, cost, nil
}

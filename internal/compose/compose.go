// Package compose assembles the prompt sent to the chat model: system
// instructions, retrieved document context, prior conversation turns, and the
// user's question, fitted to a model context budget. Because the service
// supports multiple LLM backends with different tokenizers, budget fitting
// uses the shared tokenizer.Counter abstraction and trims the droppable parts
// of the prompt rather than truncating text mid-sentence.
package compose

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docqa-go/internal/history"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/tokenizer"
)

// ErrPromptTooLarge indicates the system prompt and the question alone
// exceed the context budget, so no amount of trimming can produce a valid
// prompt.
var ErrPromptTooLarge = errors.New("prompt exceeds context budget")

// systemPrompt establishes the answering contract: the model must ground its
// answer in the retrieved excerpts and say so when they do not cover the
// question.
const systemPrompt = `You are a helpful assistant that answers questions about documents.
Use the provided context to answer the question. If the context does not
contain enough information to answer the question, say so clearly instead of
guessing. Cite the source document when it is relevant to the answer.`

// noContextNotice is injected in place of document excerpts when retrieval
// returned nothing above the score threshold.
const noContextNotice = "No relevant context was found in the indexed documents for this question."

// DefaultMaxContextTokens is the default input context budget in tokens.
// Conservative enough to fit within 8k-context models while leaving room for
// the generated answer.
const DefaultMaxContextTokens = 6000

// Composer builds model message slices under a token budget.
// Safe for concurrent use.
type Composer struct {
	counter   tokenizer.Counter
	maxTokens int
}

// New constructs a Composer. counter measures prompt size for budget fitting;
// maxTokens <= 0 selects DefaultMaxContextTokens.
func New(counter tokenizer.Counter, maxTokens int) *Composer {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxContextTokens
	}
	return &Composer{counter: counter, maxTokens: maxTokens}
}

// Compose builds the message slice for a document question: system prompt,
// retrieved excerpts, prior turns, and the question.
//
// When the assembled prompt exceeds the budget, prior turns are dropped
// oldest-first, then excerpts lowest-score-first (docs must arrive sorted by
// descending score, as the retriever returns them). The question itself is
// never truncated; if the system prompt plus question alone exceed the
// budget, Compose returns ErrPromptTooLarge.
func (c *Composer) Compose(query string, docs []rag.Document, turns []history.Turn) ([]*schema.Message, error) {
	userMsg := schema.UserMessage(query)
	core := []*schema.Message{schema.SystemMessage(systemPrompt), userMsg}
	if tokenizer.CountMessages(c.counter, core) > c.maxTokens {
		return nil, fmt.Errorf("system prompt and question need %d tokens, budget is %d: %w",
			tokenizer.CountMessages(c.counter, core), c.maxTokens, ErrPromptTooLarge)
	}

	historyMsgs := historyMessages(turns)

	// Fit by dropping oldest turns first, then the lowest-scored excerpts.
	for {
		contextMsg := schema.SystemMessage(contextBlock(docs))
		msgs := assemble(contextMsg, historyMsgs, userMsg)
		if tokenizer.CountMessages(c.counter, msgs) <= c.maxTokens {
			return msgs, nil
		}
		if len(historyMsgs) > 0 {
			historyMsgs = historyMsgs[2:] // drop the oldest query/answer pair
			continue
		}
		if len(docs) > 0 {
			docs = docs[:len(docs)-1]
			continue
		}
		// Nothing left to drop: the notice block itself pushed us over,
		// so it goes too. The check above guarantees this pair fits.
		return []*schema.Message{schema.SystemMessage(systemPrompt), userMsg}, nil
	}
}

// ComposeRaw builds a prompt with no document context: just the prior turns
// and the question. Used by the raw chat endpoint for direct model access.
func (c *Composer) ComposeRaw(query string, turns []history.Turn) ([]*schema.Message, error) {
	userMsg := schema.UserMessage(query)
	if tokenizer.CountMessages(c.counter, []*schema.Message{userMsg}) > c.maxTokens {
		return nil, fmt.Errorf("question needs more than the %d token budget: %w", c.maxTokens, ErrPromptTooLarge)
	}

	historyMsgs := historyMessages(turns)
	for {
		msgs := make([]*schema.Message, 0, len(historyMsgs)+1)
		msgs = append(msgs, historyMsgs...)
		msgs = append(msgs, userMsg)
		if tokenizer.CountMessages(c.counter, msgs) <= c.maxTokens || len(historyMsgs) == 0 {
			return msgs, nil
		}
		historyMsgs = historyMsgs[2:]
	}
}

// assemble produces the final message ordering:
// [system, context, ...history, question].
func assemble(contextMsg *schema.Message, historyMsgs []*schema.Message, userMsg *schema.Message) []*schema.Message {
	msgs := make([]*schema.Message, 0, 3+len(historyMsgs))
	msgs = append(msgs, schema.SystemMessage(systemPrompt))
	msgs = append(msgs, contextMsg)
	msgs = append(msgs, historyMsgs...)
	msgs = append(msgs, userMsg)
	return msgs
}

// historyMessages flattens prior turns into alternating user/assistant
// messages, oldest first.
func historyMessages(turns []history.Turn) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(turns)*2)
	for _, t := range turns {
		msgs = append(msgs, schema.UserMessage(t.Query))
		msgs = append(msgs, schema.AssistantMessage(t.Answer, nil))
	}
	return msgs
}

// contextBlock formats retrieved excerpts into a single system message. Each
// excerpt names its source document and page range so the model can cite it.
func contextBlock(docs []rag.Document) string {
	if len(docs) == 0 {
		return noContextNotice
	}
	var sb strings.Builder
	sb.WriteString("Context from the indexed documents:\n\n")
	for i, doc := range docs {
		pages := fmt.Sprintf("page %d", doc.PageStart)
		if doc.PageEnd > doc.PageStart {
			pages = fmt.Sprintf("pages %d-%d", doc.PageStart, doc.PageEnd)
		}
		fmt.Fprintf(&sb, "### Source %d: %s (%s)\n%s\n\n", i+1, doc.Source, pages, doc.Content)
	}
	return strings.TrimRight(sb.String(), "\n")
}

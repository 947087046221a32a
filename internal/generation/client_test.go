package generation

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docqa-go/internal/tokenizer"
)

// scriptedModel returns its responses in order; a nil response slot means
// the corresponding call fails with the error in errs.
type scriptedModel struct {
	responses []*schema.Message
	errs      []error
	calls     int
}

func (m *scriptedModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	i := m.calls
	m.calls++
	if i >= len(m.responses) {
		return nil, errors.New("no more scripted responses")
	}
	if m.errs[i] != nil {
		return nil, m.errs[i]
	}
	return m.responses[i], nil
}

func respWithUsage(content string, prompt, completion int) *schema.Message {
	return &schema.Message{
		Role:    schema.Assistant,
		Content: content,
		ResponseMeta: &schema.ResponseMeta{
			Usage: &schema.TokenUsage{
				PromptTokens:     prompt,
				CompletionTokens: completion,
				TotalTokens:      prompt + completion,
			},
		},
	}
}

func TestGenerateReportsProviderUsage(t *testing.T) {
	m := &scriptedModel{
		responses: []*schema.Message{respWithUsage("the answer", 120, 30)},
		errs:      []error{nil},
	}
	c := New(m, tokenizer.Estimator{})

	text, usage, err := c.Generate(context.Background(), []*schema.Message{schema.UserMessage("q")})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "the answer" {
		t.Errorf("text = %q", text)
	}
	if usage.PromptTokens != 120 || usage.CompletionTokens != 30 {
		t.Errorf("usage = %+v", usage)
	}
	if usage.Estimated {
		t.Error("usage marked estimated despite provider-reported counts")
	}
}

func TestGenerateEstimatesWhenUsageMissing(t *testing.T) {
	m := &scriptedModel{
		responses: []*schema.Message{{Role: schema.Assistant, Content: "twelve chars"}},
		errs:      []error{nil},
	}
	c := New(m, tokenizer.Estimator{})

	_, usage, err := c.Generate(context.Background(), []*schema.Message{schema.UserMessage("hello world")})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !usage.Estimated {
		t.Error("usage not marked estimated")
	}
	if usage.CompletionTokens != 3 {
		t.Errorf("CompletionTokens = %d, want 3 (12 chars / 4)", usage.CompletionTokens)
	}
	if usage.PromptTokens == 0 {
		t.Error("PromptTokens = 0, want estimate > 0")
	}
}

func TestGenerateRetriesTransientErrors(t *testing.T) {
	m := &scriptedModel{
		responses: []*schema.Message{nil, nil, respWithUsage("ok", 10, 5)},
		errs: []error{
			errors.New("HTTP 503 service unavailable"),
			errors.New("rate limit exceeded"),
			nil,
		},
	}
	c := New(m, tokenizer.Estimator{})

	text, _, err := c.Generate(context.Background(), []*schema.Message{schema.UserMessage("q")})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "ok" {
		t.Errorf("text = %q", text)
	}
	if m.calls != 3 {
		t.Errorf("model called %d times, want 3", m.calls)
	}
}

func TestGenerateDoesNotRetryNonTransient(t *testing.T) {
	m := &scriptedModel{
		responses: []*schema.Message{nil},
		errs:      []error{errors.New("invalid api key")},
	}
	c := New(m, tokenizer.Estimator{})

	_, _, err := c.Generate(context.Background(), []*schema.Message{schema.UserMessage("q")})
	if !errors.Is(err, ErrService) {
		t.Fatalf("err = %v, want ErrService", err)
	}
	if m.calls != 1 {
		t.Errorf("model called %d times, want 1", m.calls)
	}
}

func TestGenerateGivesUpAfterMaxAttempts(t *testing.T) {
	transient := errors.New("connection refused")
	m := &scriptedModel{
		responses: []*schema.Message{nil, nil, nil},
		errs:      []error{transient, transient, transient},
	}
	c := New(m, tokenizer.Estimator{})

	_, _, err := c.Generate(context.Background(), []*schema.Message{schema.UserMessage("q")})
	if !errors.Is(err, ErrService) {
		t.Fatalf("err = %v, want ErrService", err)
	}
	if m.calls != maxAttempts {
		t.Errorf("model called %d times, want %d", m.calls, maxAttempts)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("HTTP 429 too many requests"), true},
		{errors.New("upstream timeout"), true},
		{errors.New("connection reset by peer"), true},
		{context.DeadlineExceeded, true},
		{context.Canceled, false},
		{errors.New("invalid api key"), false},
		{errors.New("model not found"), false},
	}
	for _, tc := range tests {
		if got := isTransient(tc.err); got != tc.want {
			t.Errorf("isTransient(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

package tokenizer

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func Test_Estimate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},        // < 4 chars → 1
		{"abcd", 1},     // exactly 4 chars → 1
		{"abcdefgh", 2}, // 8 chars → 2
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		if got := Estimate(tc.input); got != tc.want {
			t.Errorf("Estimate(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func Test_CountMessages(t *testing.T) {
	t.Parallel()
	msgs := []*schema.Message{
		schema.UserMessage("hello world"),
		schema.UserMessage("hello world"),
	}
	// Each message: 4 overhead + Estimate("user")=1 + Estimate("hello world")=2 = 7.
	got := CountMessages(Estimator{}, msgs)
	if got != 14 {
		t.Errorf("CountMessages = %d, want 14", got)
	}
}

func Test_CountAll(t *testing.T) {
	t.Parallel()
	got := CountAll(Estimator{}, []string{"abcd", "abcdefgh", ""})
	if got != 3 {
		t.Errorf("CountAll = %d, want 3", got)
	}
}

func Test_ForModel_UnknownFallsBack(t *testing.T) {
	t.Parallel()
	c := ForModel("definitely-not-a-real-model")
	if got := c.Count("abcdefgh"); got != 2 {
		t.Errorf("fallback Count = %d, want estimator value 2", got)
	}
}

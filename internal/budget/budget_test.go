package budget

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
		{"a", 1},
		{"abcd", 1},
		{"abcde", 1},
		{"abcdefgh", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		if got := Estimate(tc.input); got != tc.want {
			t.Errorf("Estimate(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func Test_EstimateMessages(t *testing.T) {
	t.Parallel()
	msgs := []*schema.Message{
		schema.UserMessage("hello world"),
		schema.UserMessage("hello world"),
	}
	// Each message: 4 overhead + Estimate("user")=1 + Estimate("hello world")=2.
	if got := EstimateMessages(msgs); got != 14 {
		t.Errorf("EstimateMessages = %d, want 14", got)
	}
}

func Test_FitTexts(t *testing.T) {
	t.Parallel()

	hundred := strings.Repeat("x", 400) // 100 tokens
	cases := []struct {
		name      string
		texts     []string
		maxTokens int
		want      int
	}{
		{name: "empty", texts: nil, maxTokens: 10, want: 0},
		{name: "all fit", texts: []string{hundred, hundred}, maxTokens: 200, want: 2},
		{name: "trims tail", texts: []string{hundred, hundred, hundred}, maxTokens: 250, want: 2},
		{name: "first always kept", texts: []string{hundred, "tiny"}, maxTokens: 10, want: 1},
		{name: "stops at first overflow", texts: []string{hundred, hundred, "tiny"}, maxTokens: 150, want: 1},
		{name: "disabled", texts: []string{hundred, hundred, hundred}, maxTokens: 0, want: 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := FitTexts(tc.texts, tc.maxTokens)
			if len(got) != tc.want {
				t.Fatalf("FitTexts kept %d texts, want %d", len(got), tc.want)
			}
			for i := range got {
				if got[i] != tc.texts[i] {
					t.Errorf("text %d reordered", i)
				}
			}
		})
	}
}

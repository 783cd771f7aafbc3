// Package budget estimates token counts and trims retrieved context to fit a
// model's input window. The estimate is a character heuristic,
// 1 token ≈ 4 characters, because the configured backends use different
// tokenizers.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// messageOverhead approximates the per-message framing most chat APIs add.
	messageOverhead = 4

	// DefaultContextTokens is the default budget for retrieved context.
	DefaultContextTokens = 3000
)

// Estimate returns a rough token count for s.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count of msgs,
// counting role, content and framing for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// FitTexts returns the longest prefix of texts whose combined estimate fits
// maxTokens. texts are assumed to be in priority order. The first text is
// always kept, even when it alone exceeds the budget, so a query never runs
// without context. A non-positive maxTokens disables trimming.
func FitTexts(texts []string, maxTokens int) []string {
	if maxTokens <= 0 || len(texts) <= 1 {
		return texts
	}
	used := Estimate(texts[0])
	n := 1
	for _, t := range texts[1:] {
		cost := Estimate(t)
		if used+cost > maxTokens {
			break
		}
		used += cost
		n++
	}
	return texts[:n]
}

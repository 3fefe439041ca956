// Package tokens estimates token counts for prompts and completions.
//
// Counts are approximations suitable for quota pre-checks and for accounting
// when a provider does not report usage. They are not billing-grade.
package tokens

import (
	"unicode/utf8"

	"github.com/veltoai/founder-launch/internal/ai/providers"
)

const charsPerToken = 4

// Tokenizer counts tokens precisely for some model family.
type Tokenizer interface {
	Count(text string) int
}

// Counter estimates token usage, preferring a precise Tokenizer when set.
type Counter struct {
	tokenizer Tokenizer
}

// NewCounter returns a Counter. A nil tokenizer selects the character heuristic.
func NewCounter(tokenizer Tokenizer) *Counter {
	return &Counter{tokenizer: tokenizer}
}

// CountTokens returns an estimated token count for text.
func (c *Counter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if c != nil && c.tokenizer != nil {
		if n := c.tokenizer.Count(text); n >= 0 {
			return n
		}
	}
	return EstimateTokens(text)
}

// CountMessageSetTokens sums CountTokens over message contents. Role names and
// per-message framing are not counted.
func (c *Counter) CountMessageSetTokens(messages []providers.Message) int {
	total := 0
	for _, m := range messages {
		total += c.CountTokens(m.Content)
	}
	return total
}

// EstimateTokens is ceil(characters/4).
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := utf8.RuneCountInString(text)
	return (n + charsPerToken - 1) / charsPerToken
}

var defaultCounter = NewCounter(nil)

// CountTokens estimates text with the heuristic counter.
func CountTokens(text string) int {
	return defaultCounter.CountTokens(text)
}

// CountMessageSetTokens estimates messages with the heuristic counter.
func CountMessageSetTokens(messages []providers.Message) int {
	return defaultCounter.CountMessageSetTokens(messages)
}

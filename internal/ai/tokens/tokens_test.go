package tokens

import (
	"strings"
	"testing"

	"github.com/veltoai/founder-launch/internal/ai/providers"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"one char", "a", 1},
		{"exact multiple", "abcd", 1},
		{"rounds up", "abcde", 2},
		{"hundred chars", strings.Repeat("x", 100), 25},
		{"multibyte counts characters", "héllo wörld", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateTokens(tt.text); got != tt.want {
				t.Fatalf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestCountMessageSetTokens(t *testing.T) {
	msgs := []providers.Message{
		{Role: "system", Content: "abcd"},
		{Role: "user", Content: "abcde"},
		{Role: "assistant", Content: ""},
	}
	if got := CountMessageSetTokens(msgs); got != 3 {
		t.Fatalf("CountMessageSetTokens = %d, want 3", got)
	}
	if got := CountMessageSetTokens(nil); got != 0 {
		t.Fatalf("CountMessageSetTokens(nil) = %d, want 0", got)
	}
}

type wordTokenizer struct{}

func (wordTokenizer) Count(text string) int { return len(strings.Fields(text)) }

type brokenTokenizer struct{}

func (brokenTokenizer) Count(string) int { return -1 }

func TestCounter_PrefersTokenizer(t *testing.T) {
	c := NewCounter(wordTokenizer{})
	if got := c.CountTokens("three word prompt"); got != 3 {
		t.Fatalf("CountTokens = %d, want 3", got)
	}
	if got := c.CountMessageSetTokens([]providers.Message{{Content: "a b"}, {Content: "c"}}); got != 3 {
		t.Fatalf("CountMessageSetTokens = %d, want 3", got)
	}

	fallback := NewCounter(brokenTokenizer{})
	if got := fallback.CountTokens("abcdefgh"); got != 2 {
		t.Fatalf("negative tokenizer result should fall back to heuristic, got %d", got)
	}

	var nilCounter *Counter
	if got := nilCounter.CountTokens("abcd"); got != 1 {
		t.Fatalf("nil counter CountTokens = %d, want 1", got)
	}
}

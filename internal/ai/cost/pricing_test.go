package cost

import (
	"math"
	"testing"
)

func TestEstimateUSD(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		model    string
		input    int64
		output   int64
		want     float64
		known    bool
	}{
		{"opus", "openrouter", "anthropic/claude-opus-4", 1_000_000, 1_000_000, 90, true},
		{"dated sonnet", "openrouter", "anthropic/claude-sonnet-4-20250514", 1_000_000, 0, 3, true},
		{"flash lite before flash", "openrouter", "google/gemini-2.0-flash-lite-001", 1_000_000, 1_000_000, 0.375, true},
		{"flash", "openrouter", "google/gemini-2.0-flash-001", 1_000_000, 1_000_000, 0.5, true},
		{"free variant", "openrouter", "meta-llama/llama-3.3-70b-instruct:free", 1_000_000, 1_000_000, 0, true},
		{"groq case insensitive", " Groq ", "LLAMA-3.3-70B-VERSATILE", 1_000_000, 1_000_000, 1.38, true},
		{"unknown model", "openrouter", "acme/unknown", 10, 10, 0, false},
		{"unknown provider", "openai", "gpt-4o", 10, 10, 0, false},
		{"empty model", "groq", "", 10, 10, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usd, ok, price := EstimateUSD(tt.provider, tt.model, tt.input, tt.output)
			if ok != tt.known {
				t.Fatalf("known = %v, want %v", ok, tt.known)
			}
			if math.Abs(usd-tt.want) > 0.0001 {
				t.Fatalf("usd = %.4f, want %.4f", usd, tt.want)
			}
			if ok && price.AsOf != PricingAsOf() {
				t.Fatalf("unexpected AsOf %q", price.AsOf)
			}
		})
	}
}

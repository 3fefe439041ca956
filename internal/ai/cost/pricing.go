package cost

import (
	"strings"

	"github.com/IGLOU-EU/go-wildcard/v2"
)

// TokenPrice is a price per million tokens for a model.
// Prices are estimates for margin tracking, not billing reconciliation.
type TokenPrice struct {
	InputUSDPerMTok  float64
	OutputUSDPerMTok float64
	AsOf             string
}

// EstimateUSD returns an estimated USD cost for the given provider/model and token counts.
// If the model pricing is unknown, ok is false and usd is 0.
func EstimateUSD(provider, model string, inputTokens, outputTokens int64) (usd float64, ok bool, price TokenPrice) {
	price, ok = lookupPrice(provider, model)
	if !ok {
		return 0, false, TokenPrice{}
	}

	usd = (float64(inputTokens)/1_000_000.0)*price.InputUSDPerMTok +
		(float64(outputTokens)/1_000_000.0)*price.OutputUSDPerMTok
	return usd, true, price
}

type modelPrice struct {
	Pattern          string
	InputUSDPerMTok  float64
	OutputUSDPerMTok float64
}

const pricingAsOf = "2026-09"

// PricingAsOf indicates the effective date of the pricing table used for estimation.
func PricingAsOf() string {
	return pricingAsOf
}

// Patterns are matched in order; the first hit wins, so narrower patterns
// come before broader ones.
var providerPrices = map[string][]modelPrice{
	"openrouter": {
		{Pattern: "*:free", InputUSDPerMTok: 0, OutputUSDPerMTok: 0},
		{Pattern: "anthropic/claude-opus-4*", InputUSDPerMTok: 15.00, OutputUSDPerMTok: 75.00},
		{Pattern: "anthropic/claude-sonnet-4*", InputUSDPerMTok: 3.00, OutputUSDPerMTok: 15.00},
		{Pattern: "anthropic/claude-3.7-sonnet*", InputUSDPerMTok: 3.00, OutputUSDPerMTok: 15.00},
		{Pattern: "anthropic/claude-3.5-haiku*", InputUSDPerMTok: 0.80, OutputUSDPerMTok: 4.00},
		{Pattern: "google/gemini-2.5-pro*", InputUSDPerMTok: 1.25, OutputUSDPerMTok: 10.00},
		{Pattern: "google/gemini-2.5-flash*", InputUSDPerMTok: 0.30, OutputUSDPerMTok: 2.50},
		{Pattern: "google/gemini-2.0-flash-lite*", InputUSDPerMTok: 0.075, OutputUSDPerMTok: 0.30},
		{Pattern: "google/gemini-2.0-flash*", InputUSDPerMTok: 0.10, OutputUSDPerMTok: 0.40},
		{Pattern: "meta-llama/llama-3.3-70b*", InputUSDPerMTok: 0.13, OutputUSDPerMTok: 0.40},
		{Pattern: "mistralai/mistral-small*", InputUSDPerMTok: 0.05, OutputUSDPerMTok: 0.10},
	},
	"groq": {
		{Pattern: "llama-3.1-8b-instant", InputUSDPerMTok: 0.05, OutputUSDPerMTok: 0.08},
		{Pattern: "llama-3.3-70b-versatile", InputUSDPerMTok: 0.59, OutputUSDPerMTok: 0.79},
		{Pattern: "deepseek-r1-distill-llama-70b", InputUSDPerMTok: 0.75, OutputUSDPerMTok: 0.99},
		{Pattern: "gemma2-9b-it", InputUSDPerMTok: 0.20, OutputUSDPerMTok: 0.20},
	},
}

func lookupPrice(provider, model string) (TokenPrice, bool) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	model = strings.ToLower(strings.TrimSpace(model))
	if provider == "" || model == "" {
		return TokenPrice{}, false
	}

	prices, ok := providerPrices[provider]
	if !ok {
		return TokenPrice{}, false
	}

	for _, p := range prices {
		if wildcard.Match(strings.ToLower(p.Pattern), model) {
			return TokenPrice{
				InputUSDPerMTok:  p.InputUSDPerMTok,
				OutputUSDPerMTok: p.OutputUSDPerMTok,
				AsOf:             pricingAsOf,
			}, true
		}
	}
	return TokenPrice{}, false
}

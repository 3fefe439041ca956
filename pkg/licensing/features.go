package licensing

import "sort"

// Feature constants represent gated features in the dashboard.
const (
	// Free tier features
	FeatureBusinessPlan = "business_plan" // Single AI-assisted business plan
	FeaturePlanExport   = "plan_export"   // Export a plan as a document

	// Starter tier features (everything in Free, plus:)
	FeatureMarketResearch = "market_research" // AI market sizing and competitor scan
	FeaturePitchDeck      = "pitch_deck"      // Pitch deck outline generation

	// Industry tier features (everything in Starter, plus:)
	FeatureAICoach              = "ai_coach"              // Conversational founder coaching
	FeatureFinancialProjections = "financial_projections" // Three-year financial model

	// Ultra tier features (everything in Industry, plus:)
	FeaturePremiumModels    = "premium_models"    // Access to the top completion models
	FeatureInvestorMatching = "investor_matching" // Investor list generation
	FeaturePrioritySupport  = "priority_support"  // Support queue priority

	// Lifetime tier features
	FeatureWhiteLabelExport = "white_label_export" // Exports without branding
)

// featureRequirements maps each feature to the lowest tier that grants it.
var featureRequirements = map[string]Tier{
	FeatureBusinessPlan:         TierFree,
	FeaturePlanExport:           TierFree,
	FeatureMarketResearch:       TierStarter,
	FeaturePitchDeck:            TierStarter,
	FeatureAICoach:              TierIndustry,
	FeatureFinancialProjections: TierIndustry,
	FeaturePremiumModels:        TierUltra,
	FeatureInvestorMatching:     TierUltra,
	FeaturePrioritySupport:      TierUltra,
	FeatureWhiteLabelExport:     TierLifetime,
}

// FeatureRequirement returns the minimum tier for a feature. Unknown features
// require the most restrictive tier.
func FeatureRequirement(featureID string) Tier {
	if tier, ok := featureRequirements[featureID]; ok {
		return tier
	}
	return TierLifetime
}

// CanAccessFeature reports whether a tier grants a feature.
func CanAccessFeature(tier Tier, featureID string) bool {
	return EntitlementSatisfies(tier, FeatureRequirement(featureID))
}

// CanCreateMoreProjects reports whether an account on tier that already owns
// currentCount projects may create another one.
func CanCreateMoreProjects(tier Tier, currentCount int) bool {
	return currentCount < ProjectLimit(tier)
}

// AllFeatures returns every known feature id, sorted.
func AllFeatures() []string {
	out := make([]string, 0, len(featureRequirements))
	for feature := range featureRequirements {
		out = append(out, feature)
	}
	sort.Strings(out)
	return out
}

// TierFeatures returns the sorted features a tier grants.
func TierFeatures(tier Tier) []string {
	out := make([]string, 0, len(featureRequirements))
	for feature, required := range featureRequirements {
		if EntitlementSatisfies(tier, required) {
			out = append(out, feature)
		}
	}
	sort.Strings(out)
	return out
}

// GetFeatureMinTierName returns the display name of the lowest tier that
// includes the given feature, for messages like "requires Industry or above".
func GetFeatureMinTierName(featureID string) string {
	return GetTierDisplayName(FeatureRequirement(featureID))
}

// GetFeatureDisplayName returns a human-readable name for a feature.
func GetFeatureDisplayName(featureID string) string {
	switch featureID {
	case FeatureBusinessPlan:
		return "Business Plan Generator"
	case FeaturePlanExport:
		return "Plan Export"
	case FeatureMarketResearch:
		return "Market Research"
	case FeaturePitchDeck:
		return "Pitch Deck Outline"
	case FeatureAICoach:
		return "AI Founder Coach"
	case FeatureFinancialProjections:
		return "Financial Projections"
	case FeaturePremiumModels:
		return "Premium AI Models"
	case FeatureInvestorMatching:
		return "Investor Matching"
	case FeaturePrioritySupport:
		return "Priority Support"
	case FeatureWhiteLabelExport:
		return "White-Label Export"
	default:
		return featureID
	}
}

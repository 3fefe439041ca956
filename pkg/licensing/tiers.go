// Package licensing defines the subscription tier catalog and feature gates.
//
// Everything in this package is static data and pure functions so it can be
// shared by the API, the completion gateway and the CLI without importing any
// stateful internals.
package licensing

import "strings"

// Tier represents a subscription tier.
type Tier string

const (
	TierFree     Tier = "free"
	TierStarter  Tier = "starter"
	TierIndustry Tier = "industry"
	TierUltra    Tier = "ultra"
	TierLifetime Tier = "lifetime"
)

// Unlimited is the sentinel used for quotas and limits that are effectively
// unbounded. It is a plain integer so arithmetic on it stays simple.
const Unlimited = 1_000_000_000

// FreeProjectLimit is the number of projects a free account may own.
const FreeProjectLimit = 1

// TierDefinition is the immutable catalog entry for a tier.
type TierDefinition struct {
	DisplayName       string `json:"display_name"`
	TokenQuota        int    `json:"token_quota"`
	PriceLabel        string `json:"price_label"`
	DefaultModelLabel string `json:"default_model_label"`
}

// orderedTiers is the entitlement hierarchy, lowest first.
var orderedTiers = []Tier{TierFree, TierStarter, TierIndustry, TierUltra, TierLifetime}

var tierRank = map[Tier]int{
	TierFree:     0,
	TierStarter:  1,
	TierIndustry: 2,
	TierUltra:    3,
	TierLifetime: 4,
}

// TierDefinitions maps each tier to its catalog entry.
var TierDefinitions = map[Tier]TierDefinition{
	TierFree: {
		DisplayName:       "Free",
		TokenQuota:        10_000,
		PriceLabel:        "$0",
		DefaultModelLabel: "Llama 3.3 70B",
	},
	TierStarter: {
		DisplayName:       "Starter",
		TokenQuota:        100_000,
		PriceLabel:        "$9/mo",
		DefaultModelLabel: "Gemini 2.0 Flash",
	},
	TierIndustry: {
		DisplayName:       "Industry",
		TokenQuota:        400_000,
		PriceLabel:        "$29/mo",
		DefaultModelLabel: "Claude 3.5 Haiku",
	},
	TierUltra: {
		DisplayName:       "Ultra",
		TokenQuota:        1_000_000,
		PriceLabel:        "$79/mo",
		DefaultModelLabel: "Claude Sonnet 4",
	},
	TierLifetime: {
		DisplayName:       "Lifetime",
		TokenQuota:        Unlimited,
		PriceLabel:        "$299 once",
		DefaultModelLabel: "Claude Opus 4",
	},
}

// AllTiers returns the tiers in entitlement order, lowest first.
func AllTiers() []Tier {
	out := make([]Tier, len(orderedTiers))
	copy(out, orderedTiers)
	return out
}

// ParseTier normalizes a raw tier string. ok is false for unknown values.
func ParseTier(raw string) (Tier, bool) {
	tier := Tier(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := tierRank[tier]
	return tier, ok
}

// IsKnown reports whether t is one of the catalog tiers.
func (t Tier) IsKnown() bool {
	_, ok := tierRank[t]
	return ok
}

// IsPaid reports whether t is a known tier other than free.
func (t Tier) IsPaid() bool {
	return t.IsKnown() && t != TierFree
}

// Rank returns the position of t in the entitlement order. Unknown tiers
// rank as free.
func (t Tier) Rank() int {
	return tierRank[t]
}

// Definition returns the catalog entry for a tier, falling back to free for
// unknown values.
func Definition(tier Tier) TierDefinition {
	if def, ok := TierDefinitions[tier]; ok {
		return def
	}
	return TierDefinitions[TierFree]
}

// QuotaFor returns the per-period token quota for a tier. Unknown tiers get
// the free quota.
func QuotaFor(tier Tier) int {
	return Definition(tier).TokenQuota
}

// EntitlementSatisfies reports whether userTier ranks at or above
// requiredTier. An unknown requirement is treated as the most restrictive
// defined tier.
func EntitlementSatisfies(userTier, requiredTier Tier) bool {
	required, ok := tierRank[requiredTier]
	if !ok {
		required = tierRank[TierLifetime]
	}
	return userTier.Rank() >= required
}

// ProjectLimit returns how many projects a tier may own.
func ProjectLimit(tier Tier) int {
	if tier.IsPaid() {
		return Unlimited
	}
	return FreeProjectLimit
}

// GetTierDisplayName returns a human-readable name for the tier.
func GetTierDisplayName(tier Tier) string {
	if def, ok := TierDefinitions[tier]; ok {
		return def.DisplayName
	}
	return "Unknown"
}

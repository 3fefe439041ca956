package licensing

import (
	"sort"
	"testing"
)

func TestCanAccessFeature(t *testing.T) {
	tests := []struct {
		name    string
		tier    Tier
		feature string
		want    bool
	}{
		{name: "free_business_plan", tier: TierFree, feature: FeatureBusinessPlan, want: true},
		{name: "free_pitch_deck", tier: TierFree, feature: FeaturePitchDeck, want: false},
		{name: "starter_pitch_deck", tier: TierStarter, feature: FeaturePitchDeck, want: true},
		{name: "starter_coach", tier: TierStarter, feature: FeatureAICoach, want: false},
		{name: "industry_coach", tier: TierIndustry, feature: FeatureAICoach, want: true},
		{name: "ultra_premium_models", tier: TierUltra, feature: FeaturePremiumModels, want: true},
		{name: "ultra_white_label", tier: TierUltra, feature: FeatureWhiteLabelExport, want: false},
		{name: "lifetime_white_label", tier: TierLifetime, feature: FeatureWhiteLabelExport, want: true},
		{name: "unknown_feature_needs_lifetime", tier: TierUltra, feature: "time_travel", want: false},
		{name: "unknown_feature_lifetime", tier: TierLifetime, feature: "time_travel", want: true},
		{name: "unknown_tier_is_free", tier: Tier("platinum"), feature: FeaturePitchDeck, want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := CanAccessFeature(tt.tier, tt.feature); got != tt.want {
				t.Errorf("CanAccessFeature(%q, %q) = %v, want %v", tt.tier, tt.feature, got, tt.want)
			}
		})
	}
}

func TestCanAccessFeature_MonotonicInTier(t *testing.T) {
	features := append(AllFeatures(), "unknown_feature")
	tiers := AllTiers()
	for _, feature := range features {
		granted := false
		for _, tier := range tiers {
			ok := CanAccessFeature(tier, feature)
			if granted && !ok {
				t.Fatalf("feature %q granted below %q but denied at %q", feature, tier, tier)
			}
			granted = granted || ok
		}
	}
}

func TestCanCreateMoreProjects(t *testing.T) {
	tests := []struct {
		tier  Tier
		count int
		want  bool
	}{
		{TierFree, 0, true},
		{TierFree, 1, false},
		{TierFree, 5, false},
		{TierStarter, 1, true},
		{TierStarter, 500, true},
		{TierLifetime, 10_000, true},
		{Tier(""), 1, false},
	}
	for _, tt := range tests {
		if got := CanCreateMoreProjects(tt.tier, tt.count); got != tt.want {
			t.Errorf("CanCreateMoreProjects(%q, %d) = %v, want %v", tt.tier, tt.count, got, tt.want)
		}
	}
}

func TestTierFeatures_SortedAndCumulative(t *testing.T) {
	prev := 0
	for _, tier := range AllTiers() {
		got := TierFeatures(tier)
		if !sort.StringsAreSorted(got) {
			t.Errorf("TierFeatures(%q) should be sorted", tier)
		}
		if len(got) < prev {
			t.Errorf("TierFeatures(%q) has %d features, fewer than the tier below (%d)", tier, len(got), prev)
		}
		prev = len(got)
	}
	if got := len(TierFeatures(TierLifetime)); got != len(AllFeatures()) {
		t.Errorf("lifetime should grant every feature, got %d of %d", got, len(AllFeatures()))
	}
}

func TestGetFeatureMinTierName(t *testing.T) {
	if got := GetFeatureMinTierName(FeatureAICoach); got != "Industry" {
		t.Errorf("GetFeatureMinTierName(ai_coach) = %q, want Industry", got)
	}
	if got := GetFeatureMinTierName("nope"); got != "Lifetime" {
		t.Errorf("GetFeatureMinTierName(unknown) = %q, want Lifetime", got)
	}
}

func TestGetFeatureDisplayName(t *testing.T) {
	for _, feature := range AllFeatures() {
		if GetFeatureDisplayName(feature) == feature {
			t.Errorf("feature %q has no display name", feature)
		}
	}
	if got := GetFeatureDisplayName("custom"); got != "custom" {
		t.Errorf("GetFeatureDisplayName(custom) = %q, want passthrough", got)
	}
}

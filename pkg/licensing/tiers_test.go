package licensing

import "testing"

func TestQuotaFor(t *testing.T) {
	tests := []struct {
		tier Tier
		want int
	}{
		{TierFree, 10_000},
		{TierStarter, 100_000},
		{TierIndustry, 400_000},
		{TierUltra, 1_000_000},
		{TierLifetime, Unlimited},
		{Tier(""), 10_000},
		{Tier("gold"), 10_000},
	}
	for _, tt := range tests {
		if got := QuotaFor(tt.tier); got != tt.want {
			t.Errorf("QuotaFor(%q) = %d, want %d", tt.tier, got, tt.want)
		}
	}
}

func TestQuotaFor_MonotonicInRank(t *testing.T) {
	tiers := AllTiers()
	for i := 1; i < len(tiers); i++ {
		lower, higher := tiers[i-1], tiers[i]
		if QuotaFor(higher) < QuotaFor(lower) {
			t.Errorf("QuotaFor(%q)=%d is below QuotaFor(%q)=%d", higher, QuotaFor(higher), lower, QuotaFor(lower))
		}
	}
}

func TestEntitlementSatisfies(t *testing.T) {
	tests := []struct {
		name     string
		user     Tier
		required Tier
		want     bool
	}{
		{"same_tier", TierStarter, TierStarter, true},
		{"higher_user", TierUltra, TierIndustry, true},
		{"lower_user", TierStarter, TierUltra, false},
		{"free_requirement", TierFree, TierFree, true},
		{"unknown_user_ranks_free", Tier("bogus"), TierStarter, false},
		{"unknown_requirement_needs_lifetime", TierUltra, Tier("bogus"), false},
		{"lifetime_meets_unknown", TierLifetime, Tier("bogus"), true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := EntitlementSatisfies(tt.user, tt.required); got != tt.want {
				t.Errorf("EntitlementSatisfies(%q, %q) = %v, want %v", tt.user, tt.required, got, tt.want)
			}
		})
	}
}

func TestProjectLimit(t *testing.T) {
	if got := ProjectLimit(TierFree); got != 1 {
		t.Errorf("ProjectLimit(free) = %d, want 1", got)
	}
	for _, tier := range []Tier{TierStarter, TierIndustry, TierUltra, TierLifetime} {
		if got := ProjectLimit(tier); got != Unlimited {
			t.Errorf("ProjectLimit(%q) = %d, want Unlimited", tier, got)
		}
	}
	if got := ProjectLimit(Tier("mystery")); got != 1 {
		t.Errorf("ProjectLimit(unknown) = %d, want 1", got)
	}
}

func TestParseTier(t *testing.T) {
	tier, ok := ParseTier("  ULTRA ")
	if !ok || tier != TierUltra {
		t.Fatalf("ParseTier(ULTRA) = %q, %v", tier, ok)
	}
	if _, ok := ParseTier("enterprise"); ok {
		t.Fatal("ParseTier(enterprise) should not be known")
	}
}

func TestGetTierDisplayName(t *testing.T) {
	for _, tier := range AllTiers() {
		if got := GetTierDisplayName(tier); got == "Unknown" || got == "" {
			t.Errorf("GetTierDisplayName(%q) = %q", tier, got)
		}
	}
	if got := GetTierDisplayName(Tier("x")); got != "Unknown" {
		t.Errorf("GetTierDisplayName(unknown) = %q, want Unknown", got)
	}
}

func TestFindCreditPackage(t *testing.T) {
	pkg, ok := FindCreditPackage("tokens_150k")
	if !ok || pkg.TokenAmount != 150_000 {
		t.Fatalf("FindCreditPackage(tokens_150k) = %+v, %v", pkg, ok)
	}
	if _, ok := FindCreditPackage("tokens_1"); ok {
		t.Fatal("unexpected package for unknown id")
	}
}

func TestParsePaymentStatus(t *testing.T) {
	if got := ParsePaymentStatus("FAILED"); got != PaymentFailed {
		t.Errorf("ParsePaymentStatus(FAILED) = %q", got)
	}
	if got := ParsePaymentStatus(""); got != PaymentActive {
		t.Errorf("ParsePaymentStatus(\"\") = %q, want active", got)
	}
	if !GetPaymentBehavior(PaymentCancelled).ShowWarning {
		t.Error("cancelled should show a warning")
	}
}

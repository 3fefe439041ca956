package billing

import (
	"sort"
	"strings"

	"github.com/veltoai/founder-launch/pkg/licensing"
)

// PriceTable maps Stripe price IDs to tiers and back.
type PriceTable struct {
	tierByPrice map[string]licensing.Tier
	priceByTier map[licensing.Tier]string
}

// NewPriceTable builds a table from "price ID -> tier name" pairs. Entries
// naming an unknown tier are skipped. When several prices map to one tier,
// the lowest price ID is used for new checkouts.
func NewPriceTable(priceTiers map[string]string) *PriceTable {
	t := &PriceTable{
		tierByPrice: make(map[string]licensing.Tier, len(priceTiers)),
		priceByTier: make(map[licensing.Tier]string, len(priceTiers)),
	}
	ids := make([]string, 0, len(priceTiers))
	for id := range priceTiers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		tier, ok := licensing.ParseTier(priceTiers[id])
		priceID := strings.TrimSpace(id)
		if !ok || priceID == "" {
			continue
		}
		t.tierByPrice[priceID] = tier
		if _, exists := t.priceByTier[tier]; !exists {
			t.priceByTier[tier] = priceID
		}
	}
	return t
}

// TierForPrice returns the tier a price ID buys.
func (t *PriceTable) TierForPrice(priceID string) (licensing.Tier, bool) {
	if t == nil {
		return "", false
	}
	tier, ok := t.tierByPrice[strings.TrimSpace(priceID)]
	return tier, ok
}

// PriceForTier returns the price ID used to buy a tier.
func (t *PriceTable) PriceForTier(tier licensing.Tier) (string, bool) {
	if t == nil {
		return "", false
	}
	id, ok := t.priceByTier[tier]
	return id, ok
}

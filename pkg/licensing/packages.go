package licensing

// CreditPackage is a one-off token top-up offered in the purchase flow.
type CreditPackage struct {
	ID          string  `json:"id"`
	TokenAmount int     `json:"token_amount"`
	PriceUSD    float64 `json:"price_usd"`
}

// CreditPackages is the display catalog of top-up packages, smallest first.
var CreditPackages = []CreditPackage{
	{ID: "tokens_50k", TokenAmount: 50_000, PriceUSD: 5},
	{ID: "tokens_150k", TokenAmount: 150_000, PriceUSD: 12},
	{ID: "tokens_500k", TokenAmount: 500_000, PriceUSD: 35},
}

// FindCreditPackage looks up a package by id.
func FindCreditPackage(id string) (CreditPackage, bool) {
	for _, pkg := range CreditPackages {
		if pkg.ID == id {
			return pkg, true
		}
	}
	return CreditPackage{}, false
}

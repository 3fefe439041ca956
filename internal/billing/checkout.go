package billing

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"

	"github.com/veltoai/founder-launch/internal/config"
	"github.com/veltoai/founder-launch/pkg/licensing"
)

var (
	// ErrCheckoutDisabled is returned when no Stripe secret key is configured.
	ErrCheckoutDisabled = errors.New("stripe checkout not configured")
	// ErrNoPrice is returned when a tier has no Stripe price configured.
	ErrNoPrice = errors.New("no stripe price configured for tier")
	// ErrUnknownPackage is returned for a credit package id not in the catalog.
	ErrUnknownPackage = errors.New("unknown credit package")
)

// Checkout creates Stripe checkout sessions for tier purchases and credit
// top-ups. Completed sessions come back through the webhook with the
// identity in client_reference_id.
type Checkout struct {
	cfg    config.BillingConfig
	prices *PriceTable

	createCheckoutSession func(params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)
}

// NewCheckout returns a Checkout using cfg's key and redirect URLs.
func NewCheckout(cfg config.BillingConfig, prices *PriceTable) *Checkout {
	return &Checkout{
		cfg:                   cfg,
		prices:                prices,
		createCheckoutSession: stripesession.New,
	}
}

// CheckoutResult is the redirect target for a created session.
type CheckoutResult struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// CreateSubscriptionCheckout starts a purchase of tier for identity. Lifetime
// is a one-time payment; every other paid tier is a subscription.
func (c *Checkout) CreateSubscriptionCheckout(identity string, tier licensing.Tier) (*CheckoutResult, error) {
	if !tier.IsPaid() {
		return nil, fmt.Errorf("tier %q cannot be purchased", tier)
	}
	priceID, ok := c.prices.PriceForTier(tier)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, tier)
	}

	mode := stripelib.CheckoutSessionModeSubscription
	if tier == licensing.TierLifetime {
		mode = stripelib.CheckoutSessionModePayment
	}
	params := &stripelib.CheckoutSessionParams{
		Mode:              stripelib.String(string(mode)),
		ClientReferenceID: stripelib.String(identity),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				Price:    stripelib.String(priceID),
				Quantity: stripelib.Int64(1),
			},
		},
		Metadata: map[string]string{
			metadataTier: string(tier),
			"price_id":   priceID,
		},
	}
	return c.create("tier", identity, params)
}

// CreatePackageCheckout starts a one-off purchase of a credit package.
func (c *Checkout) CreatePackageCheckout(identity, packageID string) (*CheckoutResult, error) {
	pkg, ok := licensing.FindCreditPackage(strings.TrimSpace(packageID))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPackage, packageID)
	}

	params := &stripelib.CheckoutSessionParams{
		Mode:              stripelib.String(string(stripelib.CheckoutSessionModePayment)),
		ClientReferenceID: stripelib.String(identity),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				PriceData: &stripelib.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripelib.String("usd"),
					UnitAmount: stripelib.Int64(int64(math.Round(pkg.PriceUSD * 100))),
					ProductData: &stripelib.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripelib.String(fmt.Sprintf("%d tokens", pkg.TokenAmount)),
					},
				},
				Quantity: stripelib.Int64(1),
			},
		},
		Metadata: map[string]string{
			metadataPackage: pkg.ID,
		},
	}
	return c.create("package", identity, params)
}

func (c *Checkout) create(kind, identity string, params *stripelib.CheckoutSessionParams) (*CheckoutResult, error) {
	key := strings.TrimSpace(c.cfg.StripeSecretKey)
	if key == "" {
		checkoutSessions.WithLabelValues(kind, "disabled").Inc()
		return nil, ErrCheckoutDisabled
	}
	if strings.TrimSpace(identity) == "" {
		return nil, fmt.Errorf("checkout requires an identity")
	}

	stripelib.Key = key
	params.SuccessURL = stripelib.String(c.cfg.SuccessURL)
	params.CancelURL = stripelib.String(c.cfg.CancelURL)

	session, err := c.createCheckoutSession(params)
	if err != nil {
		checkoutSessions.WithLabelValues(kind, "error").Inc()
		log.Error().Err(err).Str("identity", identity).Str("kind", kind).Msg("Stripe checkout session create failed")
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		checkoutSessions.WithLabelValues(kind, "error").Inc()
		return nil, fmt.Errorf("stripe returned empty checkout URL")
	}
	checkoutSessions.WithLabelValues(kind, "ok").Inc()
	return &CheckoutResult{SessionID: session.ID, URL: strings.TrimSpace(session.URL)}, nil
}

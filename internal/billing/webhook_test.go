package billing

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/veltoai/founder-launch/internal/credits"
	"github.com/veltoai/founder-launch/internal/docstore"
	"github.com/veltoai/founder-launch/internal/kvcache"
	"github.com/veltoai/founder-launch/pkg/licensing"
)

const testSecret = "whsec_test_secret"

func newTestRegistry(t *testing.T) (*credits.Registry, *docstore.MemoryStore) {
	t.Helper()
	store := docstore.NewMemoryStore()
	reg, err := credits.NewRegistry(credits.RegistryOptions{
		Store:          store,
		Cache:          kvcache.NewMemoryCache(),
		NotifyDebounce: 10 * time.Millisecond,
		Outbox:         credits.OutboxOptions{RetryInterval: time.Second},
	})
	require.NoError(t, err)
	return reg, store
}

func newTestHandler(t *testing.T) (*WebhookHandler, *credits.Registry, *docstore.MemoryStore) {
	t.Helper()
	reg, store := newTestRegistry(t)
	prices := NewPriceTable(map[string]string{
		"price_starter":  "starter",
		"price_industry": "industry",
		"price_lifetime": "lifetime",
	})
	return NewWebhookHandler(testSecret, prices, reg), reg, store
}

func signedWebhookRequest(t *testing.T, secret, payload string) *http.Request {
	t.Helper()

	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func eventJSON(id, eventType, object string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"data":{"object":%s}}`, id, eventType, object)
}

func deliver(t *testing.T, h http.Handler, payload string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, testSecret, payload))
	return rec
}

// reload flushes queued writes and reads the identity back through a fresh ledger.
func reload(t *testing.T, reg *credits.Registry, identity string) credits.CreditState {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, reg.Outbox().Flush(ctx))
	reg.Close(ctx, identity)
	l, err := reg.Open(ctx, identity)
	require.NoError(t, err)
	s, err := l.State()
	require.NoError(t, err)
	return s
}

func TestWebhookRejectsBadRequests(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stripe/webhook", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status=%d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader([]byte(`{}`)))
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unsigned status=%d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, "whsec_other", eventJSON("evt_1", "invoice.paid", `{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("wrong secret status=%d, want %d", rec.Code, http.StatusBadRequest)
	}

	reg, _ := newTestRegistry(t)
	unconfigured := NewWebhookHandler("", nil, reg)
	rec = httptest.NewRecorder()
	unconfigured.ServeHTTP(rec, signedWebhookRequest(t, testSecret, eventJSON("evt_2", "invoice.paid", `{}`)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("no secret status=%d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestWebhookCheckoutCompletedSetsTier(t *testing.T) {
	h, reg, store := newTestHandler(t)

	rec := deliver(t, h, eventJSON("evt_checkout", "checkout.session.completed",
		`{"id":"cs_1","customer":"cus_1","client_reference_id":"u1","payment_status":"paid","metadata":{"tier":"starter","price_id":"price_starter"}}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	s := reload(t, reg, "u1")
	assert.Equal(t, licensing.TierStarter, s.Tier)
	assert.Equal(t, licensing.PaymentActive, s.PaymentStatus)
	assert.NotNil(t, s.SubscriptionStartedAt)
	assert.NotNil(t, s.LastPaymentAt)

	doc, err := store.Get(context.Background(), credits.UsersCollection, "u1")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", doc[customerField])
	assert.Equal(t, "starter", doc["tier"])
}

func TestWebhookCheckoutFallsBackToPriceMetadata(t *testing.T) {
	h, reg, _ := newTestHandler(t)

	rec := deliver(t, h, eventJSON("evt_checkout_price", "checkout.session.completed",
		`{"id":"cs_2","customer":"cus_2","client_reference_id":"u2","metadata":{"price_id":"price_industry"}}`))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, licensing.TierIndustry, reload(t, reg, "u2").Tier)
}

func TestWebhookCheckoutPackageGrantsCredits(t *testing.T) {
	h, reg, _ := newTestHandler(t)
	ctx := context.Background()

	// An open session sees the grant directly.
	l, err := reg.Open(ctx, "u3")
	require.NoError(t, err)
	_, err = l.Deduct(ctx, 8_000)
	require.NoError(t, err)

	rec := deliver(t, h, eventJSON("evt_pkg", "checkout.session.completed",
		`{"id":"cs_3","customer":"cus_3","client_reference_id":"u3","payment_status":"paid","metadata":{"package_id":"tokens_50k"}}`))
	require.Equal(t, http.StatusOK, rec.Code)

	s, err := l.State()
	require.NoError(t, err)
	assert.Equal(t, licensing.TierFree, s.Tier)
	assert.Equal(t, 50_000, s.CreditsGranted)
	assert.Equal(t, 0, s.QuotaUsedThisPeriod())

	_, stillOpen := reg.Get("u3")
	assert.True(t, stillOpen, "webhook must not close a user's own session")
}

func TestWebhookCheckoutEdgeCases(t *testing.T) {
	h, reg, store := newTestHandler(t)

	// Unknown package is a processing failure so Stripe retries.
	rec := deliver(t, h, eventJSON("evt_bad_pkg", "checkout.session.completed",
		`{"id":"cs_4","client_reference_id":"u4","metadata":{"package_id":"tokens_bogus"}}`))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// Missing reference and unpaid sessions are acknowledged without changes.
	rec = deliver(t, h, eventJSON("evt_no_ref", "checkout.session.completed",
		`{"id":"cs_5","customer":"cus_5","metadata":{"tier":"ultra"}}`))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = deliver(t, h, eventJSON("evt_unpaid", "checkout.session.completed",
		`{"id":"cs_6","customer":"cus_6","client_reference_id":"u6","payment_status":"unpaid","metadata":{"tier":"ultra"}}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, store.Len(credits.UsersCollection))

	// A session naming no paid tier only links the customer.
	rec = deliver(t, h, eventJSON("evt_no_tier", "checkout.session.completed",
		`{"id":"cs_7","customer":"cus_7","client_reference_id":"u7","payment_status":"paid","metadata":{"tier":"free"}}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	id, err := IdentityForCustomer(context.Background(), store, "cus_7")
	require.NoError(t, err)
	assert.Equal(t, "u7", id)
	assert.Empty(t, reg.Identities())
}

func TestWebhookInvoicePaidRenewsTier(t *testing.T) {
	h, reg, store := newTestHandler(t)
	ctx := context.Background()
	require.NoError(t, LinkCustomer(ctx, store, "u8", "cus_8"))

	l, err := reg.Open(ctx, "u8")
	require.NoError(t, err)
	_, err = l.Record(ctx, credits.Usage{InputTokens: 300, OutputTokens: 200})
	require.NoError(t, err)

	rec := deliver(t, h, eventJSON("evt_inv", "invoice.paid",
		`{"id":"in_1","customer":"cus_8","billing_reason":"subscription_cycle","amount_paid":900,"lines":{"data":[{"pricing":{"price_details":{"price":"price_starter"}}}]}}`))
	require.Equal(t, http.StatusOK, rec.Code)

	s, err := l.State()
	require.NoError(t, err)
	assert.Equal(t, licensing.TierStarter, s.Tier)
	assert.Equal(t, 0, s.QuotaUsedThisPeriod())
	assert.NotNil(t, s.LastPaymentAt)

	// Legacy line shape.
	rec = deliver(t, h, eventJSON("evt_inv_legacy", "invoice.paid",
		`{"id":"in_2","customer":"cus_8","billing_reason":"subscription_update","amount_paid":2900,"lines":{"data":[{"price":{"id":"price_industry"}}]}}`))
	require.Equal(t, http.StatusOK, rec.Code)
	s, err = l.State()
	require.NoError(t, err)
	assert.Equal(t, licensing.TierIndustry, s.Tier)
}

func TestWebhookInvoiceIgnoredCases(t *testing.T) {
	h, reg, store := newTestHandler(t)
	ctx := context.Background()
	require.NoError(t, LinkCustomer(ctx, store, "u9", "cus_9"))

	cases := []struct {
		name    string
		payload string
	}{
		{"unknown price", `{"id":"in_3","customer":"cus_9","amount_paid":100,"lines":{"data":[{"price":{"id":"price_other"}}]}}`},
		{"unlinked customer", `{"id":"in_4","customer":"cus_missing","amount_paid":100,"lines":{"data":[{"price":{"id":"price_starter"}}]}}`},
		{"zero first invoice", `{"id":"in_5","customer":"cus_9","billing_reason":"subscription_create","amount_paid":0,"lines":{"data":[{"price":{"id":"price_starter"}}]}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := deliver(t, h, eventJSON("evt_"+tc.name, "invoice.paid", tc.payload))
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
	assert.Empty(t, reg.Identities())
}

func TestWebhookSubscriptionDeletedDowngrades(t *testing.T) {
	h, reg, store := newTestHandler(t)
	ctx := context.Background()
	require.NoError(t, LinkCustomer(ctx, store, "u10", "cus_10"))

	l, err := reg.Open(ctx, "u10")
	require.NoError(t, err)
	_, err = l.SetTier(ctx, licensing.TierUltra, true)
	require.NoError(t, err)

	rec := deliver(t, h, eventJSON("evt_del", "customer.subscription.deleted",
		`{"id":"sub_1","customer":"cus_10","status":"canceled"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	s, err := l.State()
	require.NoError(t, err)
	assert.Equal(t, licensing.TierFree, s.Tier)
	assert.Equal(t, licensing.PaymentCancelled, s.PaymentStatus)
	assert.Nil(t, s.SubscriptionStartedAt)
	assert.Nil(t, s.LastPaymentAt)
}

func TestWebhookPaymentFailedKeepsTier(t *testing.T) {
	h, reg, store := newTestHandler(t)
	ctx := context.Background()
	require.NoError(t, LinkCustomer(ctx, store, "u11", "cus_11"))

	l, err := reg.Open(ctx, "u11")
	require.NoError(t, err)
	_, err = l.SetTier(ctx, licensing.TierIndustry, true)
	require.NoError(t, err)

	rec := deliver(t, h, eventJSON("evt_fail", "invoice.payment_failed", `{"id":"in_6","customer":"cus_11"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	s, err := l.State()
	require.NoError(t, err)
	assert.Equal(t, licensing.TierIndustry, s.Tier)
	assert.Equal(t, licensing.PaymentFailed, s.PaymentStatus)
}

func TestWebhookStoreFailureIsRetried(t *testing.T) {
	h, _, store := newTestHandler(t)
	store.SetFailure(fmt.Errorf("unavailable"))

	rec := deliver(t, h, eventJSON("evt_store", "invoice.payment_failed", `{"id":"in_7","customer":"cus_12"}`))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhookUnhandledTypeAcknowledged(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := deliver(t, h, eventJSON("evt_other", "customer.created", `{"id":"cus_13"}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
}

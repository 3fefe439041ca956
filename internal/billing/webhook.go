// Package billing applies Stripe payment events to credit ledgers and creates
// checkout sessions. Tier changes happen only here, in response to explicit
// payment events, never from elapsed time.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/veltoai/founder-launch/internal/credits"
	"github.com/veltoai/founder-launch/pkg/licensing"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// Metadata keys set on checkout sessions created by Checkout.
const (
	metadataTier    = "tier"
	metadataPackage = "package_id"
)

// WebhookHandler handles incoming Stripe webhook events.
type WebhookHandler struct {
	secret   string
	prices   *PriceTable
	sessions Sessions
}

type webhookErrorResponse struct {
	Error string `json:"error"`
}

type webhookReceivedResponse struct {
	Received bool `json:"received"`
}

// NewWebhookHandler creates a Stripe webhook HTTP handler.
func NewWebhookHandler(secret string, prices *PriceTable, sessions Sessions) *WebhookHandler {
	return &WebhookHandler{
		secret:   secret,
		prices:   prices,
		sessions: sessions,
	}
}

// ServeHTTP verifies the Stripe signature and dispatches the event.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		webhookRequests.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		webhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		writeJSON(w, http.StatusMethodNotAllowed, webhookErrorResponse{Error: "method not allowed"})
		return
	}
	if strings.TrimSpace(h.secret) == "" {
		status = http.StatusServiceUnavailable
		writeJSON(w, http.StatusServiceUnavailable, webhookErrorResponse{Error: "webhook secret not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: "failed to read request body"})
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		status = http.StatusBadRequest
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: "missing Stripe signature"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: "invalid Stripe signature"})
		return
	}
	eventType = string(event.Type)

	if err := h.handleEvent(r.Context(), &event); err != nil {
		log.Error().Err(err).
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Msg("Stripe webhook processing failed")
		status = http.StatusInternalServerError
		writeJSON(w, http.StatusInternalServerError, webhookErrorResponse{Error: "processing failed"})
		return
	}

	status = http.StatusOK
	writeJSON(w, http.StatusOK, webhookReceivedResponse{Received: true})
}

func (h *WebhookHandler) handleEvent(ctx context.Context, event *stripelib.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		var session CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("decode checkout.session: %w", err)
		}
		return h.handleCheckoutCompleted(ctx, session)

	case "invoice.paid":
		var invoice Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		return h.handleInvoicePaid(ctx, invoice)

	case "invoice.payment_failed":
		var invoice Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		return h.forCustomer(ctx, invoice.Customer, func(l *credits.Ledger) error {
			_, err := l.SetPaymentStatus(ctx, licensing.PaymentFailed)
			return err
		})

	case "customer.subscription.deleted":
		var sub Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return h.forCustomer(ctx, sub.Customer, func(l *credits.Ledger) error {
			if _, err := l.SetTier(ctx, licensing.TierFree, false); err != nil {
				return err
			}
			_, err := l.SetPaymentStatus(ctx, licensing.PaymentCancelled)
			return err
		})

	default:
		log.Info().
			Str("type", string(event.Type)).
			Str("event_id", event.ID).
			Msg("Stripe webhook ignored (unhandled type)")
		return nil
	}
}

func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, session CheckoutSession) error {
	identity := strings.TrimSpace(session.ClientReferenceID)
	if identity == "" {
		log.Warn().Str("session_id", session.ID).Msg("Checkout session without client reference ignored")
		return nil
	}
	if session.PaymentStatus != "" && session.PaymentStatus != "paid" && session.PaymentStatus != "no_payment_required" {
		log.Info().
			Str("session_id", session.ID).
			Str("payment_status", session.PaymentStatus).
			Msg("Checkout session not paid yet; waiting for invoice")
		return nil
	}

	if err := LinkCustomer(ctx, h.sessions.Store(), identity, session.Customer); err != nil {
		return err
	}

	if pkgID := strings.TrimSpace(session.Metadata[metadataPackage]); pkgID != "" {
		pkg, ok := licensing.FindCreditPackage(pkgID)
		if !ok {
			return fmt.Errorf("unknown credit package %q", pkgID)
		}
		return withLedger(ctx, h.sessions, identity, func(l *credits.Ledger) error {
			_, err := l.Add(ctx, pkg.TokenAmount)
			return err
		})
	}

	tier, ok := licensing.ParseTier(session.Metadata[metadataTier])
	if !ok {
		tier, ok = h.prices.TierForPrice(session.Metadata["price_id"])
	}
	if !ok || !tier.IsPaid() {
		log.Warn().
			Str("session_id", session.ID).
			Str("identity", identity).
			Msg("Checkout session names no paid tier; customer linked only")
		return nil
	}

	return withLedger(ctx, h.sessions, identity, func(l *credits.Ledger) error {
		_, err := l.SetTier(ctx, tier, true)
		return err
	})
}

func (h *WebhookHandler) handleInvoicePaid(ctx context.Context, invoice Invoice) error {
	if invoice.AmountPaid == 0 && invoice.BillingReason == "subscription_create" {
		// Trial or free first invoice; checkout.session.completed sets the tier.
		return nil
	}
	var tier licensing.Tier
	found := false
	for _, priceID := range invoice.PriceIDs() {
		if t, ok := h.prices.TierForPrice(priceID); ok {
			tier, found = t, true
			break
		}
	}
	if !found {
		log.Warn().
			Str("invoice_id", invoice.ID).
			Strs("prices", invoice.PriceIDs()).
			Msg("Paid invoice has no price mapped to a tier")
		return nil
	}
	return h.forCustomer(ctx, invoice.Customer, func(l *credits.Ledger) error {
		_, err := l.SetTier(ctx, tier, true)
		return err
	})
}

// forCustomer resolves the Stripe customer to an identity and runs fn on its
// ledger. Events for customers with no linked account are logged and acked.
func (h *WebhookHandler) forCustomer(ctx context.Context, customerID string, fn func(*credits.Ledger) error) error {
	identity, err := IdentityForCustomer(ctx, h.sessions.Store(), customerID)
	if err != nil {
		if errors.Is(err, ErrUnknownCustomer) {
			log.Warn().Str("customer", customerID).Msg("Stripe event for unlinked customer ignored")
			return nil
		}
		return err
	}
	return withLedger(ctx, h.sessions, identity, fn)
}

// CheckoutSession is a minimal representation of a Stripe checkout.session event.
type CheckoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          string            `json:"customer"`
	ClientReferenceID string            `json:"client_reference_id"`
	PaymentStatus     string            `json:"payment_status"`
	Metadata          map[string]string `json:"metadata"`
}

// Invoice is a minimal representation of a Stripe invoice event.
type Invoice struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	BillingReason string `json:"billing_reason"`
	AmountPaid    int64  `json:"amount_paid"`
	Lines         struct {
		Data []struct {
			// Older API versions.
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
			Pricing struct {
				PriceDetails struct {
					Price string `json:"price"`
				} `json:"price_details"`
			} `json:"pricing"`
		} `json:"data"`
	} `json:"lines"`
}

// PriceIDs returns the price IDs on the invoice lines, in order.
func (i *Invoice) PriceIDs() []string {
	var out []string
	for _, line := range i.Lines.Data {
		id := strings.TrimSpace(line.Pricing.PriceDetails.Price)
		if id == "" {
			id = strings.TrimSpace(line.Price.ID)
		}
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Subscription is a minimal representation of a Stripe subscription event.
type Subscription struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Status   string `json:"status"`
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("billing: encode webhook response")
	}
}

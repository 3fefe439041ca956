package api

import (
	"net/http"
	"strconv"

	"github.com/veltoai/founder-launch/internal/utils"
	"github.com/veltoai/founder-launch/pkg/licensing"
)

const defaultSummaryDays = 30

// handleUsageSummary reports the caller's usage by model, task and day.
// Admins may pass ?all=true for the service-wide summary.
func (r *Router) handleUsageSummary(w http.ResponseWriter, req *http.Request, identity string) {
	if r.usage == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "unavailable", "Usage history is not enabled", nil)
		return
	}

	days := defaultSummaryDays
	if raw := trimmedQuery(req, "days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeErrorResponse(w, http.StatusBadRequest, "validation", "days must be a positive integer", nil)
			return
		}
		days = n
	}

	if utils.ParseBool(trimmedQuery(req, "all")) {
		if !r.identity.IsAdmin(req) {
			writeErrorResponse(w, http.StatusForbidden, "forbidden", "Admin token required", nil)
			return
		}
		writeJSON(w, http.StatusOK, r.usage.GetSummary(days))
		return
	}
	writeJSON(w, http.StatusOK, r.usage.GetIdentitySummary(identity, days))
}

type checkoutRequest struct {
	Tier      string `json:"tier,omitempty"`
	PackageID string `json:"package_id,omitempty"`
}

// handleCheckout creates a Stripe checkout session for a tier or a credit
// package. The tier itself changes only when the webhook confirms payment.
func (r *Router) handleCheckout(w http.ResponseWriter, req *http.Request, identity string) {
	if r.checkout == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "unavailable", "Billing is not configured", nil)
		return
	}
	var body checkoutRequest
	if err := decodeJSON(w, req, &body); err != nil {
		writeServiceError(w, req, "checkout", identity, err)
		return
	}

	switch {
	case body.PackageID != "" && body.Tier != "":
		writeErrorResponse(w, http.StatusBadRequest, "validation", "Specify either tier or package_id", nil)
	case body.PackageID != "":
		res, err := r.checkout.CreatePackageCheckout(identity, body.PackageID)
		if err != nil {
			writeServiceError(w, req, "checkout", identity, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	default:
		tier, ok := licensing.ParseTier(body.Tier)
		if !ok || !tier.IsPaid() {
			writeErrorResponse(w, http.StatusBadRequest, "validation", "tier must be a paid tier", nil)
			return
		}
		res, err := r.checkout.CreateSubscriptionCheckout(identity, tier)
		if err != nil {
			writeServiceError(w, req, "checkout", identity, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

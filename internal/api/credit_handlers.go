package api

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/veltoai/founder-launch/internal/credits"
	"github.com/veltoai/founder-launch/pkg/licensing"
)

type amountRequest struct {
	Amount int `json:"amount"`
}

type tierRequest struct {
	Tier      string `json:"tier"`
	IsPayment bool   `json:"isPayment"`
}

// handleGetCredits returns the caller's credit view, rolling the period
// over first when it is due.
func (r *Router) handleGetCredits(w http.ResponseWriter, req *http.Request, identity string) {
	l, ok := r.ledger(w, req, identity)
	if !ok {
		return
	}
	if _, err := l.ResetMonthly(req.Context()); err != nil {
		writeServiceError(w, req, "get_credits", identity, err)
		return
	}
	r.writeState(w, req, "get_credits", l)
}

func (r *Router) handleDeduct(w http.ResponseWriter, req *http.Request, identity string) {
	var body amountRequest
	if err := decodeJSON(w, req, &body); err != nil {
		writeServiceError(w, req, "deduct", identity, err)
		return
	}
	l, ok := r.ledger(w, req, identity)
	if !ok {
		return
	}
	if _, err := l.Deduct(req.Context(), body.Amount); err != nil {
		writeServiceError(w, req, "deduct", identity, err)
		return
	}
	r.writeState(w, req, "deduct", l)
}

// handleAdd grants tokens outside the purchase flow, for support staff.
// Purchases are granted by the billing webhook.
func (r *Router) handleAdd(w http.ResponseWriter, req *http.Request, identity string) {
	var body amountRequest
	if err := decodeJSON(w, req, &body); err != nil {
		writeServiceError(w, req, "add", identity, err)
		return
	}
	l, ok := r.ledger(w, req, identity)
	if !ok {
		return
	}
	if _, err := l.Add(req.Context(), body.Amount); err != nil {
		writeServiceError(w, req, "add", identity, err)
		return
	}
	r.writeState(w, req, "add", l)
}

// handleSetTier changes the tier outside the payment flow, for support staff.
func (r *Router) handleSetTier(w http.ResponseWriter, req *http.Request, identity string) {
	var body tierRequest
	if err := decodeJSON(w, req, &body); err != nil {
		writeServiceError(w, req, "set_tier", identity, err)
		return
	}
	tier, known := licensing.ParseTier(body.Tier)
	if !known {
		writeServiceError(w, req, "set_tier", identity, fmt.Errorf("%w: %q", credits.ErrUnknownTier, body.Tier))
		return
	}
	l, ok := r.ledger(w, req, identity)
	if !ok {
		return
	}
	if _, err := l.SetTier(req.Context(), tier, body.IsPayment); err != nil {
		writeServiceError(w, req, "set_tier", identity, err)
		return
	}
	log.Info().
		Str("identity", identity).
		Str("tier", string(tier)).
		Bool("is_payment", body.IsPayment).
		Msg("Tier changed through admin API")
	r.writeState(w, req, "set_tier", l)
}

func (r *Router) handleReset(w http.ResponseWriter, req *http.Request, identity string) {
	l, ok := r.ledger(w, req, identity)
	if !ok {
		return
	}
	if _, err := l.ResetMonthly(req.Context()); err != nil {
		writeServiceError(w, req, "reset", identity, err)
		return
	}
	r.writeState(w, req, "reset", l)
}

// handleCloseSession ends the caller's session (sign-out).
func (r *Router) handleCloseSession(w http.ResponseWriter, req *http.Request, identity string) {
	r.registry.Close(req.Context(), identity)
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteCredits removes the caller's credit record (account deletion).
func (r *Router) handleDeleteCredits(w http.ResponseWriter, req *http.Request, identity string) {
	if err := r.registry.Delete(req.Context(), identity); err != nil {
		writeServiceError(w, req, "delete_credits", identity, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) writeState(w http.ResponseWriter, req *http.Request, op string, l *credits.Ledger) {
	state, err := l.State()
	if err != nil {
		writeServiceError(w, req, op, l.Identity(), err)
		return
	}
	writeJSON(w, http.StatusOK, credits.NewView(l.Identity(), state))
}

// Package api serves the credit, completion and entitlement endpoints used by
// the dashboard.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/veltoai/founder-launch/internal/ai/cost"
	"github.com/veltoai/founder-launch/internal/ai/gateway"
	"github.com/veltoai/founder-launch/internal/billing"
	"github.com/veltoai/founder-launch/internal/credits"
	"github.com/veltoai/founder-launch/internal/utils"
)

const maxRequestBodySize = 1 << 20 // 1 MiB

// Deps are the collaborators the router serves. Gateway, Usage, Webhook and
// Checkout are optional; their endpoints answer 503 when unset.
type Deps struct {
	Registry *credits.Registry
	Gateway  *gateway.Gateway
	Usage    *cost.Store
	Identity *IdentityResolver
	Webhook  http.Handler
	Checkout *billing.Checkout
	Version  string
}

// Router holds the HTTP routes.
type Router struct {
	mux      *http.ServeMux
	registry *credits.Registry
	gateway  *gateway.Gateway
	usage    *cost.Store
	identity *IdentityResolver
	webhook  http.Handler
	checkout *billing.Checkout
	stream   *creditStream
	version  string
}

// NewRouter creates the API handler.
func NewRouter(deps Deps) (http.Handler, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("api router requires a credit registry")
	}
	r := &Router{
		mux:      http.NewServeMux(),
		registry: deps.Registry,
		gateway:  deps.Gateway,
		usage:    deps.Usage,
		identity: deps.Identity,
		webhook:  deps.Webhook,
		checkout: deps.Checkout,
		version:  deps.Version,
	}
	r.stream = newCreditStream(deps.Registry)
	r.setupRoutes()
	return ErrorHandler(r.mux), nil
}

func (r *Router) setupRoutes() {
	r.mux.HandleFunc("GET /healthz", r.handleHealth)

	r.mux.HandleFunc("GET /api/credits", r.withIdentity(r.handleGetCredits))
	r.mux.HandleFunc("DELETE /api/credits", r.withIdentity(r.handleDeleteCredits))
	r.mux.HandleFunc("POST /api/credits/deduct", r.withIdentity(r.handleDeduct))
	r.mux.HandleFunc("POST /api/credits/add", r.requireAdmin(r.withIdentity(r.handleAdd)))
	r.mux.HandleFunc("POST /api/credits/tier", r.requireAdmin(r.withIdentity(r.handleSetTier)))
	r.mux.HandleFunc("POST /api/credits/reset", r.withIdentity(r.handleReset))
	r.mux.HandleFunc("DELETE /api/credits/session", r.withIdentity(r.handleCloseSession))
	r.mux.HandleFunc("GET /api/credits/stream", r.withIdentity(r.stream.handle))

	r.mux.HandleFunc("POST /api/completions", r.withIdentity(r.handleCompletion))
	r.mux.HandleFunc("GET /api/routing", r.handleRoutingTable)

	r.mux.HandleFunc("GET /api/tiers", r.handleTiers)
	r.mux.HandleFunc("GET /api/features", r.withIdentity(r.handleFeatures))
	r.mux.HandleFunc("GET /api/features/{feature}", r.withIdentity(r.handleFeatureCheck))

	r.mux.HandleFunc("GET /api/usage/summary", r.withIdentity(r.handleUsageSummary))

	r.mux.HandleFunc("POST /api/billing/checkout", r.withIdentity(r.handleCheckout))
	r.mux.HandleFunc("POST /api/stripe/webhook", r.handleStripeWebhook)
}

// identityHandler is a handler that acts for a resolved identity.
type identityHandler func(w http.ResponseWriter, req *http.Request, identity string)

func (r *Router) withIdentity(next identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		identity, err := r.identity.Resolve(req)
		if err != nil {
			writeErrorResponse(w, http.StatusUnauthorized, "auth", "A valid bearer token is required", nil)
			return
		}
		next(w, req, identity)
	}
}

func (r *Router) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if !r.identity.IsAdmin(req) {
			writeErrorResponse(w, http.StatusForbidden, "forbidden", "Admin token required", nil)
			return
		}
		next(w, req)
	}
}

// ledger opens the identity's session ledger.
func (r *Router) ledger(w http.ResponseWriter, req *http.Request, identity string) (*credits.Ledger, bool) {
	l, err := r.registry.Open(req.Context(), identity)
	if err != nil {
		writeServiceError(w, req, "open_ledger", identity, err)
		return nil, false
	}
	return l, true
}

func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"version":         r.version,
		"sessions":        len(r.registry.Identities()),
		"pending_writes":  len(r.registry.Outbox().Pending()),
		"gateway_enabled": r.gateway != nil,
	})
}

func (r *Router) handleStripeWebhook(w http.ResponseWriter, req *http.Request) {
	if r.webhook == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "unavailable", "Billing is not configured", nil)
		return
	}
	r.webhook.ServeHTTP(w, req)
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v unchanged.
func decodeJSON(w http.ResponseWriter, req *http.Request, v any) error {
	req.Body = http.MaxBytesReader(w, req.Body, maxRequestBodySize)
	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	if status != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
	}
	if err := utils.WriteJSONResponse(w, v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func trimmedQuery(req *http.Request, key string) string {
	return strings.TrimSpace(req.URL.Query().Get(key))
}

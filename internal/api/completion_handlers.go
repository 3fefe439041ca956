package api

import (
	"net/http"

	"github.com/veltoai/founder-launch/internal/ai/gateway"
	"github.com/veltoai/founder-launch/internal/ai/providers"
	"github.com/veltoai/founder-launch/internal/credits"
	"github.com/veltoai/founder-launch/pkg/licensing"
)

// completionRequest is the client payload. The tier always comes from the
// caller's ledger.
type completionRequest struct {
	Messages    []providers.Message `json:"messages"`
	Task        string              `json:"task,omitempty"`
	Model       string              `json:"model,omitempty"`
	Provider    string              `json:"provider,omitempty"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Temperature *float64            `json:"temperature,omitempty"`
	// Tier is accepted from older clients and ignored.
	Tier        string              `json:"tier,omitempty"`
}

type completionResponse struct {
	*gateway.Response
	Credits credits.View `json:"credits"`
}

func (r *Router) handleCompletion(w http.ResponseWriter, req *http.Request, identity string) {
	if r.gateway == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "unavailable", "No completion provider is configured", nil)
		return
	}

	var body completionRequest
	if err := decodeJSON(w, req, &body); err != nil {
		writeServiceError(w, req, "complete", identity, err)
		return
	}
	l, ok := r.ledger(w, req, identity)
	if !ok {
		return
	}
	if body.Model != "" {
		state, err := l.State()
		if err != nil {
			writeServiceError(w, req, "complete", identity, err)
			return
		}
		if !licensing.CanAccessFeature(state.Tier, licensing.FeaturePremiumModels) {
			writeErrorResponse(w, http.StatusForbidden, "forbidden", "Choosing a model requires a higher tier", map[string]string{
				"feature":  licensing.FeaturePremiumModels,
				"min_tier": licensing.GetFeatureMinTierName(licensing.FeaturePremiumModels),
			})
			return
		}
	}

	resp, err := r.gateway.Complete(req.Context(), l, gateway.Request{
		Messages:      body.Messages,
		Task:          body.Task,
		ModelOverride: body.Model,
		Provider:      body.Provider,
		MaxTokens:     body.MaxTokens,
		Temperature:   body.Temperature,
	})
	if err != nil {
		writeServiceError(w, req, "complete", identity, err)
		return
	}
	writeJSON(w, http.StatusOK, completionResponse{
		Response: resp,
		Credits:  credits.NewView(identity, resp.State),
	})
}

// handleRoutingTable shows which model each task and tier is routed to.
func (r *Router) handleRoutingTable(w http.ResponseWriter, req *http.Request) {
	if r.gateway == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "unavailable", "No completion provider is configured", nil)
		return
	}
	provider := trimmedQuery(req, "provider")
	if provider == "" {
		provider = providers.ProviderOpenRouter
	}
	table := r.gateway.Router().Table(provider)
	if len(table) == 0 {
		writeErrorResponse(w, http.StatusNotFound, "not_found", "No routing table for provider", map[string]string{"provider": provider})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider": provider,
		"routes":   table,
	})
}

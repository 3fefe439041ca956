package api

import (
	"net/http"
	"strconv"

	"github.com/veltoai/founder-launch/pkg/licensing"
)

type tierInfo struct {
	ID licensing.Tier `json:"id"`
	licensing.TierDefinition
	Features []string `json:"features"`
}

type featureStatus struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	RequiredFor licensing.Tier `json:"required_tier"`
	MinTierName string         `json:"min_tier_name"`
	Allowed     bool           `json:"allowed"`
}

type featuresResponse struct {
	Tier         licensing.Tier            `json:"tier"`
	ProjectLimit int                       `json:"project_limit"`
	Features     []featureStatus           `json:"features"`
	Packages     []licensing.CreditPackage `json:"credit_packages"`
}

// handleTiers returns the catalog. It needs no identity.
func (r *Router) handleTiers(w http.ResponseWriter, _ *http.Request) {
	out := make([]tierInfo, 0, len(licensing.AllTiers()))
	for _, tier := range licensing.AllTiers() {
		out = append(out, tierInfo{
			ID:             tier,
			TierDefinition: licensing.Definition(tier),
			Features:       licensing.TierFeatures(tier),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleFeatures lists every gated feature with the caller's access.
func (r *Router) handleFeatures(w http.ResponseWriter, req *http.Request, identity string) {
	tier, ok := r.callerTier(w, req, identity)
	if !ok {
		return
	}
	resp := featuresResponse{
		Tier:         tier,
		ProjectLimit: licensing.ProjectLimit(tier),
		Packages:     licensing.CreditPackages,
	}
	for _, feature := range licensing.AllFeatures() {
		resp.Features = append(resp.Features, newFeatureStatus(tier, feature))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleFeatureCheck answers one gate. With ?projects=N it also reports
// whether another project may be created.
func (r *Router) handleFeatureCheck(w http.ResponseWriter, req *http.Request, identity string) {
	tier, ok := r.callerTier(w, req, identity)
	if !ok {
		return
	}
	status := newFeatureStatus(tier, req.PathValue("feature"))
	if raw := trimmedQuery(req, "projects"); raw != "" {
		count, err := strconv.Atoi(raw)
		if err != nil || count < 0 {
			writeErrorResponse(w, http.StatusBadRequest, "validation", "projects must be a non-negative integer", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"feature":         status,
			"can_add_project": licensing.CanCreateMoreProjects(tier, count),
		})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (r *Router) callerTier(w http.ResponseWriter, req *http.Request, identity string) (licensing.Tier, bool) {
	l, ok := r.ledger(w, req, identity)
	if !ok {
		return "", false
	}
	state, err := l.State()
	if err != nil {
		writeServiceError(w, req, "features", identity, err)
		return "", false
	}
	return state.Tier, true
}

func newFeatureStatus(tier licensing.Tier, feature string) featureStatus {
	return featureStatus{
		ID:          feature,
		Name:        licensing.GetFeatureDisplayName(feature),
		RequiredFor: licensing.FeatureRequirement(feature),
		MinTierName: licensing.GetFeatureMinTierName(feature),
		Allowed:     licensing.CanAccessFeature(tier, feature),
	}
}

package handler

import (
	"encoding/json"
	"net/http"

	"github.com/plantwatch/alertcore/internal/api/jsonapi"
	"github.com/plantwatch/alertcore/internal/escalation"
	"github.com/plantwatch/alertcore/internal/model"
	"github.com/plantwatch/alertcore/internal/store"
)

// PolicyHandler handles /api/v1/escalation/policies routes.
type PolicyHandler struct {
	store *store.Store
}

// NewPolicyHandler creates a PolicyHandler.
func NewPolicyHandler(st *store.Store) *PolicyHandler {
	return &PolicyHandler{store: st}
}

// policyRequest is the POST/PATCH policy body.
type policyRequest struct {
	Name       *string               `json:"name"`
	Severities []string              `json:"severities"`
	Enabled    *bool                 `json:"enabled"`
	Tiers      model.EscalationTiers `json:"tiers"`
}

// Create handles POST /api/v1/escalation/policies.
func (h *PolicyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_body", "Bad Request", "request body must be valid JSON")
		return
	}
	p := &model.EscalationPolicy{
		Severities: req.Severities,
		Enabled:    true,
		Tiers:      req.Tiers,
	}
	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Enabled != nil {
		p.Enabled = *req.Enabled
	}
	if err := escalation.ValidatePolicy(p); err != nil {
		jsonapi.RenderDomainError(w, err)
		return
	}
	if err := h.store.CreatePolicy(r.Context(), p); err != nil {
		jsonapi.RenderDomainError(w, err)
		return
	}
	if p.Enabled {
		// Alerts parked with no escalation path get a cursor again.
		if err := h.store.ReArmEscalation(r.Context(), p.Severities); err != nil {
			jsonapi.RenderDomainError(w, err)
			return
		}
	}
	jsonapi.RenderOne(w, http.StatusCreated, jsonapi.ResourceObject{
		Type:       "escalation_policy",
		ID:         p.ID,
		Attributes: p,
	})
}

// List handles GET /api/v1/escalation/policies.
func (h *PolicyHandler) List(w http.ResponseWriter, r *http.Request) {
	policies, err := h.store.ListPolicies(r.Context())
	if err != nil {
		jsonapi.RenderDomainError(w, err)
		return
	}
	data := make([]any, 0, len(policies))
	for i := range policies {
		data = append(data, jsonapi.ResourceObject{
			Type:       "escalation_policy",
			ID:         policies[i].ID,
			Attributes: policies[i],
		})
	}
	jsonapi.RenderList(w, http.StatusOK, data, nil)
}

// Get handles GET /api/v1/escalation/policies/{id}.
func (h *PolicyHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetPolicy(r.Context(), r.PathValue("id"))
	if err != nil {
		jsonapi.RenderDomainError(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type:       "escalation_policy",
		ID:         p.ID,
		Attributes: p,
	})
}

// Update handles PATCH /api/v1/escalation/policies/{id}. Partial update; the
// merged policy is re-validated before the write applies.
func (h *PolicyHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_body", "Bad Request", "request body must be valid JSON")
		return
	}

	policyID := r.PathValue("id")
	current, err := h.store.GetPolicy(r.Context(), policyID)
	if err != nil {
		jsonapi.RenderDomainError(w, err)
		return
	}

	merged := *current
	fields := map[string]any{}
	if req.Name != nil {
		merged.Name = *req.Name
		fields["name"] = *req.Name
	}
	if req.Severities != nil {
		merged.Severities = req.Severities
		fields["severities"] = model.StringSlice(req.Severities)
	}
	if req.Enabled != nil {
		merged.Enabled = *req.Enabled
		fields["enabled"] = *req.Enabled
	}
	if req.Tiers != nil {
		merged.Tiers = req.Tiers
		fields["tiers"] = req.Tiers
	}
	if len(fields) == 0 {
		jsonapi.RenderError(w, http.StatusBadRequest, "empty_update", "Bad Request", "no updatable fields provided")
		return
	}
	if err := escalation.ValidatePolicy(&merged); err != nil {
		jsonapi.RenderDomainError(w, err)
		return
	}

	updated, err := h.store.UpdatePolicy(r.Context(), policyID, fields)
	if err != nil {
		jsonapi.RenderDomainError(w, err)
		return
	}
	if updated.Enabled {
		if err := h.store.ReArmEscalation(r.Context(), updated.Severities); err != nil {
			jsonapi.RenderDomainError(w, err)
			return
		}
	}
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type:       "escalation_policy",
		ID:         updated.ID,
		Attributes: updated,
	})
}

package handler

import (
	"net/http"
	"time"

	"github.com/plantwatch/alertcore/internal/api/jsonapi"
	"github.com/plantwatch/alertcore/internal/ingress"
	"github.com/plantwatch/alertcore/internal/store"
)

// GroupHandler handles /api/v1/groups routes.
type GroupHandler struct {
	store   *store.Store
	grouper *ingress.Grouper
}

// NewGroupHandler creates a GroupHandler.
func NewGroupHandler(st *store.Store, grouper *ingress.Grouper) *GroupHandler {
	return &GroupHandler{store: st, grouper: grouper}
}

// List handles GET /api/v1/groups. Optional ?status=active|closed filter.
func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := q.Get("status")
	if status != "" && status != "active" && status != "closed" {
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_parameter", "Bad Request", "status must be active or closed")
		return
	}
	limit := queryInt(q.Get("limit"), 50)
	offset := queryInt(q.Get("offset"), 0)

	groups, total, err := h.store.ListGroups(r.Context(), status, limit, offset)
	if err != nil {
		jsonapi.RenderDomainError(w, err)
		return
	}

	data := make([]any, 0, len(groups))
	for i := range groups {
		data = append(data, jsonapi.ResourceObject{
			Type:       "alert_group",
			ID:         groups[i].ID,
			Attributes: groups[i],
		})
	}
	jsonapi.RenderList(w, http.StatusOK, data, &jsonapi.Pagination{
		Offset:   offset,
		PageSize: len(groups),
		Total:    total,
	})
}

// OverallStats handles GET /api/v1/groups/stats. Optional ?window_hours=N
// (default 24).
func (h *GroupHandler) OverallStats(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r.URL.Query().Get("window_hours"), 24)
	stats, err := h.grouper.OverallStatistics(r.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		jsonapi.RenderDomainError(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type:       "group_stats",
		ID:         "overall",
		Attributes: stats,
	})
}

// Stats handles GET /api/v1/groups/{id}/stats.
func (h *GroupHandler) Stats(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")
	stats, err := h.grouper.GroupStatistics(r.Context(), groupID)
	if err != nil {
		jsonapi.RenderDomainError(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type:       "group_stats",
		ID:         groupID,
		Attributes: stats,
	})
}

// Close handles POST /api/v1/groups/{id}/close. Closing an already closed
// group is a no-op.
func (h *GroupHandler) Close(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")
	if err := h.store.CloseGroup(r.Context(), groupID); err != nil {
		jsonapi.RenderDomainError(w, err)
		return
	}
	grp, err := h.store.GetGroup(r.Context(), groupID)
	if err != nil {
		jsonapi.RenderDomainError(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type:       "alert_group",
		ID:         grp.ID,
		Attributes: grp,
	})
}

package handler

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/plantwatch/alertcore/internal/api/jsonapi"
	"github.com/plantwatch/alertcore/internal/ingress"
)

// SLAHandler handles /api/v1/sla routes.
type SLAHandler struct {
	tracker *ingress.SLATracker
}

// NewSLAHandler creates an SLAHandler.
func NewSLAHandler(tracker *ingress.SLATracker) *SLAHandler {
	return &SLAHandler{tracker: tracker}
}

// windowParam reads an RFC3339 window bound under its primary name with a
// legacy alias.
func windowParam(q url.Values, name, alias string) (time.Time, error) {
	raw := q.Get(name)
	if raw == "" {
		raw = q.Get(alias)
	}
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC3339", name)
	}
	return t, nil
}

// Report handles GET /api/v1/sla/report.
// Optional query params: severity, from, to (RFC3339). window_start and
// window_end stay accepted as aliases.
func (h *SLAHandler) Report(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	windowStart, err := windowParam(q, "from", "window_start")
	if err != nil {
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_parameter", "Bad Request", err.Error())
		return
	}
	windowEnd, err := windowParam(q, "to", "window_end")
	if err != nil {
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_parameter", "Bad Request", err.Error())
		return
	}

	rep, err := h.tracker.ComplianceReport(r.Context(), q.Get("severity"), windowStart, windowEnd)
	if err != nil {
		jsonapi.RenderDomainError(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type:       "sla_report",
		ID:         "report",
		Attributes: rep,
	})
}

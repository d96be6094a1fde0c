// Package handler contains HTTP handlers grouped by resource.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/plantwatch/alertcore/internal/api/jsonapi"
	"github.com/plantwatch/alertcore/internal/api/middleware"
	"github.com/plantwatch/alertcore/internal/ingress"
	"github.com/plantwatch/alertcore/internal/model"
	"github.com/plantwatch/alertcore/internal/store"
)

// AlertHandler handles /api/v1/alerts routes.
type AlertHandler struct {
	svc *ingress.Service
}

// NewAlertHandler creates an AlertHandler.
func NewAlertHandler(svc *ingress.Service) *AlertHandler {
	return &AlertHandler{svc: svc}
}

// createAlertRequest is the POST /api/v1/alerts body.
type createAlertRequest struct {
	DeviceID string         `json:"device_id"`
	RuleID   string         `json:"rule_id"`
	Severity string         `json:"severity"`
	Message  string         `json:"message"`
	Payload  map[string]any `json:"payload"`
}

// Create handles POST /api/v1/alerts.
func (h *AlertHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_body", "Bad Request", "request body must be valid JSON")
		return
	}

	res, err := h.svc.CreateAlert(r.Context(), ingress.CreateAlertInput{
		DeviceID: req.DeviceID,
		RuleID:   req.RuleID,
		Severity: req.Severity,
		Message:  req.Message,
		Payload:  req.Payload,
	})
	if err != nil {
		jsonapi.RenderDomainError(w, err)
		return
	}

	jsonapi.RenderOne(w, http.StatusCreated, jsonapi.ResourceObject{
		Type:       "alert",
		ID:         res.AlertID,
		Attributes: res,
	})
}

// transitionRequest is the POST /api/v1/alerts/{id}/transition body.
type transitionRequest struct {
	TargetState string         `json:"target_state"`
	Actor       string         `json:"actor"`
	Notes       string         `json:"notes"`
	Metadata    map[string]any `json:"metadata"`
	Force       bool           `json:"force"`
}

// Transition handles POST /api/v1/alerts/{id}/transition.
func (h *AlertHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_body", "Bad Request", "request body must be valid JSON")
		return
	}

	entry, err := h.svc.Transition(r.Context(), ingress.TransitionInput{
		AlertID:     r.PathValue("id"),
		TargetState: req.TargetState,
		Actor:       actorOrClaims(r, req.Actor),
		Notes:       req.Notes,
		Metadata:    model.Metadata(req.Metadata),
		Force:       req.Force,
	})
	if err != nil {
		jsonapi.RenderDomainError(w, err)
		return
	}

	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type:       "alert_state_entry",
		ID:         strconv.FormatUint(uint64(entry.ID), 10),
		Attributes: entry,
	})
}

// noteRequest is the POST /api/v1/alerts/{id}/notes body.
type noteRequest struct {
	Actor    string         `json:"actor"`
	Notes    string         `json:"notes"`
	Metadata map[string]any `json:"metadata"`
}

// AddNote handles POST /api/v1/alerts/{id}/notes.
func (h *AlertHandler) AddNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_body", "Bad Request", "request body must be valid JSON")
		return
	}

	entry, err := h.svc.AddNote(r.Context(), r.PathValue("id"),
		actorOrClaims(r, req.Actor), req.Notes, model.Metadata(req.Metadata))
	if err != nil {
		jsonapi.RenderDomainError(w, err)
		return
	}

	jsonapi.RenderOne(w, http.StatusCreated, jsonapi.ResourceObject{
		Type:       "alert_state_entry",
		ID:         strconv.FormatUint(uint64(entry.ID), 10),
		Attributes: entry,
	})
}

// Get handles GET /api/v1/alerts/{id}.
func (h *AlertHandler) Get(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.GetAlertDetail(r.Context(), r.PathValue("id"))
	if err != nil {
		jsonapi.RenderDomainError(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type:       "alert",
		ID:         detail.Alert.ID,
		Attributes: detail,
	})
}

// List handles GET /api/v1/alerts.
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.AlertFilter{
		Severity: q.Get("severity"),
		State:    q.Get("state"),
		DeviceID: q.Get("device_id"),
		Limit:    queryInt(q.Get("limit"), 0),
		Offset:   queryInt(q.Get("offset"), 0),
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			jsonapi.RenderError(w, http.StatusBadRequest, "invalid_parameter", "Bad Request", "since must be RFC3339")
			return
		}
		f.Since = since
	}

	alerts, total, err := h.svc.ListAlerts(r.Context(), f)
	if err != nil {
		jsonapi.RenderDomainError(w, err)
		return
	}

	data := make([]any, 0, len(alerts))
	for i := range alerts {
		data = append(data, jsonapi.ResourceObject{
			Type:       "alert",
			ID:         alerts[i].ID,
			Attributes: alerts[i],
		})
	}
	jsonapi.RenderList(w, http.StatusOK, data, &jsonapi.Pagination{
		Offset:   f.Offset,
		PageSize: len(alerts),
		Total:    total,
	})
}

// actorOrClaims prefers the explicit request actor, falling back to the
// authenticated user. nil means the system actor.
func actorOrClaims(r *http.Request, explicit string) *string {
	if explicit != "" {
		return &explicit
	}
	if uid := middleware.Actor(r.Context()); uid != "" {
		return &uid
	}
	return nil
}

func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

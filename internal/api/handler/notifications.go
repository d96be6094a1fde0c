package handler

import (
	"encoding/json"
	"net/http"

	"github.com/plantwatch/alertcore/internal/api/jsonapi"
	"github.com/plantwatch/alertcore/internal/model"
	"github.com/plantwatch/alertcore/internal/store"
)

// NotificationHandler handles /api/v1/notifications routes.
type NotificationHandler struct {
	store *store.Store
}

// NewNotificationHandler creates a NotificationHandler.
func NewNotificationHandler(st *store.Store) *NotificationHandler {
	return &NotificationHandler{store: st}
}

// ackRequest is the POST /api/v1/notifications/{id}/ack body, sent by the
// delivery collaborator.
type ackRequest struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// Ack handles POST /api/v1/notifications/{id}/ack.
func (h *NotificationHandler) Ack(w http.ResponseWriter, r *http.Request) {
	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_body", "Bad Request", "request body must be valid JSON")
		return
	}
	if req.Status != model.IntentStatusDelivered && req.Status != model.IntentStatusFailed {
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_parameter", "Bad Request",
			"status must be delivered or failed")
		return
	}

	intentID := r.PathValue("id")
	if err := h.store.AckIntent(r.Context(), intentID, req.Status, req.Detail); err != nil {
		jsonapi.RenderDomainError(w, err)
		return
	}
	intent, err := h.store.GetIntent(r.Context(), intentID)
	if err != nil {
		jsonapi.RenderDomainError(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type:       "notification_intent",
		ID:         intent.ID,
		Attributes: intent,
	})
}

// ListForAlert handles GET /api/v1/alerts/{id}/notifications.
func (h *NotificationHandler) ListForAlert(w http.ResponseWriter, r *http.Request) {
	intents, err := h.store.IntentsForAlert(r.Context(), r.PathValue("id"))
	if err != nil {
		jsonapi.RenderDomainError(w, err)
		return
	}
	data := make([]any, 0, len(intents))
	for i := range intents {
		data = append(data, jsonapi.ResourceObject{
			Type:       "notification_intent",
			ID:         intents[i].ID,
			Attributes: intents[i],
		})
	}
	jsonapi.RenderList(w, http.StatusOK, data, nil)
}

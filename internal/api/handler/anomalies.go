package handler

import (
	"encoding/json"
	"net/http"

	"github.com/plantwatch/alertcore/internal/api/jsonapi"
	"github.com/plantwatch/alertcore/internal/bridge"
)

// AnomalyHandler handles /api/v1/anomalies, the HTTP ingress for ML
// detections (the Kafka consumer is the other ingress).
type AnomalyHandler struct {
	bridge *bridge.Bridge
}

// NewAnomalyHandler creates an AnomalyHandler.
func NewAnomalyHandler(b *bridge.Bridge) *AnomalyHandler {
	return &AnomalyHandler{bridge: b}
}

// Ingest handles POST /api/v1/anomalies. Detections below the confidence
// floor are accepted but create no alert (202).
func (h *AnomalyHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var det bridge.Detection
	if err := json.NewDecoder(r.Body).Decode(&det); err != nil {
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_body", "Bad Request", "request body must be valid JSON")
		return
	}

	res, err := h.bridge.Handle(r.Context(), det)
	if err != nil {
		jsonapi.RenderDomainError(w, err)
		return
	}
	if res == nil {
		jsonapi.RenderOne(w, http.StatusAccepted, jsonapi.ResourceObject{
			Type: "anomaly_detection",
			ID:   det.ModelID,
			Attributes: map[string]any{
				"suppressed": true,
				"confidence": det.Confidence,
			},
		})
		return
	}
	jsonapi.RenderOne(w, http.StatusCreated, jsonapi.ResourceObject{
		Type:       "alert",
		ID:         res.AlertID,
		Attributes: res,
	})
}

// Package bridge maps ML anomaly detections into alert ingress calls. Only
// detections above the confidence floor become alerts; severity is derived
// from the confidence band.
package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/plantwatch/alertcore/internal/alerting"
	"github.com/plantwatch/alertcore/internal/ingress"
)

// Detection is one ML anomaly detection event.
type Detection struct {
	DeviceID   string  `json:"device_id"`
	Metric     string  `json:"metric"`
	Value      float64 `json:"value"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	ModelID    string  `json:"model_id"`
}

// DefaultMinConfidence is the alert creation floor.
const DefaultMinConfidence = 0.70

// Bridge gates detections on confidence and forwards the survivors to alert
// ingress.
type Bridge struct {
	svc           *ingress.Service
	minConfidence float64
	log           *slog.Logger
}

// New creates a Bridge. minConfidence ≤ 0 falls back to the default floor.
func New(svc *ingress.Service, minConfidence float64, log *slog.Logger) *Bridge {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &Bridge{svc: svc, minConfidence: minConfidence, log: log}
}

// SeverityForConfidence maps a confidence to a severity band. The caller
// must already have gated on the floor.
func SeverityForConfidence(confidence float64) alerting.Severity {
	switch {
	case confidence >= 0.90:
		return alerting.SeverityCritical
	case confidence >= 0.80:
		return alerting.SeverityHigh
	default:
		return alerting.SeverityMedium
	}
}

// Handle creates an alert for the detection when its confidence clears the
// floor. Returns (nil, nil) for detections below the floor.
func (b *Bridge) Handle(ctx context.Context, det Detection) (*ingress.CreateAlertResult, error) {
	if det.Confidence < b.minConfidence {
		b.log.Debug("detection below confidence floor",
			"device_id", det.DeviceID, "metric", det.Metric,
			"confidence", det.Confidence, "floor", b.minConfidence)
		return nil, nil
	}
	if det.DeviceID == "" || det.Metric == "" || det.ModelID == "" {
		return nil, alerting.NewError(alerting.KindValidation, "device_id, metric and model_id are required")
	}

	severity := SeverityForConfidence(det.Confidence)
	msg := fmt.Sprintf("ml_anomaly_detection: %s=%g score=%g confidence=%g",
		det.Metric, det.Value, det.Score, det.Confidence)

	return b.svc.CreateAlert(ctx, ingress.CreateAlertInput{
		DeviceID: det.DeviceID,
		RuleID:   det.ModelID,
		Severity: string(severity),
		Message:  msg,
		Payload: map[string]any{
			"model_id":   det.ModelID,
			"score":      det.Score,
			"confidence": det.Confidence,
		},
	})
}

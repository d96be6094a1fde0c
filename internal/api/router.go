// Package api wires all API routes onto the provided ServeMux.
package api

import (
	"net/http"

	"github.com/plantwatch/alertcore/internal/api/handler"
	"github.com/plantwatch/alertcore/internal/api/middleware"
	"github.com/plantwatch/alertcore/internal/health"
)

// Handlers bundles the per-resource handlers for route registration.
type Handlers struct {
	Health        *health.Handler
	Alerts        *handler.AlertHandler
	Groups        *handler.GroupHandler
	SLA           *handler.SLAHandler
	OnCall        *handler.OnCallHandler
	Policies      *handler.PolicyHandler
	Notifications *handler.NotificationHandler
	Anomalies     *handler.AnomalyHandler
}

// RegisterRoutes registers all application routes on mux. An empty jwtSecret
// disables authentication (local development and tests).
func RegisterRoutes(mux *http.ServeMux, h Handlers, jwtSecret string) {
	// Public health endpoints (no auth required)
	mux.HandleFunc("GET /api/v1/health", h.Health.ServeHealth)
	mux.HandleFunc("GET /api/v1/ready", h.Health.ServeReady)

	authed := middleware.RequireAuth(jwtSecret)
	perm := func(p string, hf http.HandlerFunc) http.Handler {
		return authed(middleware.RequirePermission(jwtSecret, p)(hf))
	}

	// Alert lifecycle
	mux.Handle("POST /api/v1/alerts", perm("alert:create", h.Alerts.Create))
	mux.Handle("GET /api/v1/alerts", perm("alert:read", h.Alerts.List))
	mux.Handle("GET /api/v1/alerts/{id}", perm("alert:read", h.Alerts.Get))
	mux.Handle("POST /api/v1/alerts/{id}/transition", perm("alert:transition", h.Alerts.Transition))
	mux.Handle("POST /api/v1/alerts/{id}/notes", perm("alert:comment", h.Alerts.AddNote))
	mux.Handle("GET /api/v1/alerts/{id}/notifications", perm("alert:read", h.Notifications.ListForAlert))

	// Grouping
	mux.Handle("GET /api/v1/groups", perm("group:read", h.Groups.List))
	mux.Handle("GET /api/v1/groups/stats", perm("group:read", h.Groups.OverallStats))
	mux.Handle("GET /api/v1/groups/{id}/stats", perm("group:read", h.Groups.Stats))
	mux.Handle("POST /api/v1/groups/{id}/close", perm("group:close", h.Groups.Close))

	// SLA reporting
	mux.Handle("GET /api/v1/sla/report", perm("sla:read", h.SLA.Report))

	// On-call schedules
	mux.Handle("POST /api/v1/on-call/schedules", perm("oncall:write", h.OnCall.CreateSchedule))
	mux.Handle("GET /api/v1/on-call/schedules", perm("oncall:read", h.OnCall.ListSchedules))
	mux.Handle("GET /api/v1/on-call/current", perm("oncall:read", h.OnCall.Current))
	mux.Handle("GET /api/v1/on-call/at", perm("oncall:read", h.OnCall.At))

	// Escalation policies
	mux.Handle("POST /api/v1/escalation/policies", perm("policy:write", h.Policies.Create))
	mux.Handle("GET /api/v1/escalation/policies", perm("policy:read", h.Policies.List))
	mux.Handle("GET /api/v1/escalation/policies/{id}", perm("policy:read", h.Policies.Get))
	mux.Handle("PATCH /api/v1/escalation/policies/{id}", perm("policy:write", h.Policies.Update))

	// Notification delivery acknowledgements
	mux.Handle("POST /api/v1/notifications/{id}/ack", perm("notification:ack", h.Notifications.Ack))

	// Anomaly detections (HTTP ingress)
	mux.Handle("POST /api/v1/anomalies", perm("anomaly:ingest", h.Anomalies.Ingest))

	// Catch-all 404
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
}

// Package health exposes the /api/v1/health and /api/v1/ready HTTP handlers.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/plantwatch/alertcore/internal/api/jsonapi"
	"github.com/plantwatch/alertcore/internal/version"
)

// Pinger is implemented by anything that can check a downstream dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// check is one named readiness dependency.
type check struct {
	name   string
	pinger Pinger
}

// Handler holds dependencies for the health and ready endpoints.
type Handler struct {
	checks    []check
	startTime time.Time
}

// New creates a Handler with the alert store as its first readiness
// dependency. db may be nil during startup before the pool is established;
// in that case /ready returns 503 until a dependency registers.
func New(db Pinger) *Handler {
	h := &Handler{startTime: time.Now()}
	if db != nil {
		h.AddCheck("alert_store", db)
	}
	return h
}

// AddCheck registers an extra readiness dependency, such as the Redis tick
// lock or the Kafka bridge.
func (h *Handler) AddCheck(name string, p Pinger) {
	h.checks = append(h.checks, check{name: name, pinger: p})
}

// healthAttrs is the JSON:API attributes payload for the health response.
type healthAttrs struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	BuildDate     string `json:"build_date"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ServeHealth handles GET /api/v1/health. Liveness only; it never touches
// downstream dependencies.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type: "health",
		ID:   "1",
		Attributes: healthAttrs{
			Status:        "ok",
			Version:       version.Version,
			Commit:        version.Commit,
			BuildDate:     version.Date,
			UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		},
	})
}

// checkResult reports one dependency check in the ready response.
type checkResult struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// readyAttrs is the JSON:API attributes payload for the ready response.
type readyAttrs struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks"`
}

// ServeReady handles GET /api/v1/ready. Every registered dependency is
// checked; 200 means all of them answered.
func (h *Handler) ServeReady(w http.ResponseWriter, r *http.Request) {
	if len(h.checks) == 0 {
		jsonapi.RenderError(w, http.StatusServiceUnavailable,
			"dependency_unavailable", "Service Unavailable",
			"alert store connection is not initialised")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	attrs := readyAttrs{Status: "ok", Checks: make(map[string]checkResult, len(h.checks))}
	var failed string
	for _, c := range h.checks {
		start := time.Now()
		result := checkResult{Status: "ok"}
		if err := c.pinger.Ping(ctx); err != nil {
			result.Status = "unavailable"
			result.Error = err.Error()
			failed = c.name
		}
		result.LatencyMS = time.Since(start).Milliseconds()
		attrs.Checks[c.name] = result
	}

	if failed != "" {
		jsonapi.RenderError(w, http.StatusServiceUnavailable,
			"dependency_unavailable", "Service Unavailable",
			failed+" is unreachable")
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type:       "ready",
		ID:         "1",
		Attributes: attrs,
	})
}

package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/plantwatch/alertcore/internal/api/jsonapi"
	"github.com/plantwatch/alertcore/internal/model"
	"github.com/plantwatch/alertcore/internal/oncall"
	"github.com/plantwatch/alertcore/internal/store"
)

// OnCallHandler handles /api/v1/on-call routes.
type OnCallHandler struct {
	store *store.Store
}

// NewOnCallHandler creates an OnCallHandler.
func NewOnCallHandler(st *store.Store) *OnCallHandler {
	return &OnCallHandler{store: st}
}

// createScheduleRequest is the POST /api/v1/on-call/schedules body.
type createScheduleRequest struct {
	Name          string                   `json:"name"`
	Timezone      string                   `json:"timezone"`
	RotationType  string                   `json:"rotation_type"`
	RotationStart time.Time                `json:"rotation_start"`
	Users         []string                 `json:"users"`
	Overrides     []model.ScheduleOverride `json:"overrides"`
}

// CreateSchedule handles POST /api/v1/on-call/schedules.
func (h *OnCallHandler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_body", "Bad Request", "request body must be valid JSON")
		return
	}
	if req.Name == "" || len(req.Users) == 0 || req.RotationStart.IsZero() {
		jsonapi.RenderError(w, http.StatusBadRequest, "missing_field", "Bad Request",
			"name, users and rotation_start are required")
		return
	}
	if req.RotationType == "" {
		req.RotationType = model.RotationWeekly
	}
	if req.RotationType != model.RotationWeekly && req.RotationType != model.RotationDaily {
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_parameter", "Bad Request",
			"rotation_type must be weekly or daily")
		return
	}
	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_parameter", "Bad Request",
			"timezone must be a valid IANA location")
		return
	}

	sched := &model.OnCallSchedule{
		Name:          req.Name,
		Timezone:      tz,
		Enabled:       true,
		RotationType:  req.RotationType,
		RotationStart: req.RotationStart,
		Users:         req.Users,
		Overrides:     req.Overrides,
	}
	if err := h.store.CreateSchedule(r.Context(), sched); err != nil {
		jsonapi.RenderDomainError(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusCreated, jsonapi.ResourceObject{
		Type:       "on_call_schedule",
		ID:         sched.ID,
		Attributes: sched,
	})
}

// ListSchedules handles GET /api/v1/on-call/schedules.
func (h *OnCallHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	scheds, err := h.store.ListSchedules(r.Context())
	if err != nil {
		jsonapi.RenderDomainError(w, err)
		return
	}
	data := make([]any, 0, len(scheds))
	for i := range scheds {
		data = append(data, jsonapi.ResourceObject{
			Type:       "on_call_schedule",
			ID:         scheds[i].ID,
			Attributes: scheds[i],
		})
	}
	jsonapi.RenderList(w, http.StatusOK, data, nil)
}

// Current handles GET /api/v1/on-call/current?schedule_id=...
func (h *OnCallHandler) Current(w http.ResponseWriter, r *http.Request) {
	h.resolveAt(w, r, h.store.Now())
}

// At handles GET /api/v1/on-call/at?schedule_id=...&instant=RFC3339.
func (h *OnCallHandler) At(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("instant")
	if raw == "" {
		jsonapi.RenderError(w, http.StatusBadRequest, "missing_parameter", "Bad Request", "instant is required")
		return
	}
	instant, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_parameter", "Bad Request", "instant must be RFC3339")
		return
	}
	h.resolveAt(w, r, instant)
}

func (h *OnCallHandler) resolveAt(w http.ResponseWriter, r *http.Request, instant time.Time) {
	scheduleID := r.URL.Query().Get("schedule_id")
	if scheduleID == "" {
		jsonapi.RenderError(w, http.StatusBadRequest, "missing_parameter", "Bad Request", "schedule_id is required")
		return
	}
	sched, err := h.store.GetSchedule(r.Context(), scheduleID)
	if err != nil {
		jsonapi.RenderDomainError(w, err)
		return
	}
	res, err := oncall.Resolve(sched, instant)
	if err != nil {
		jsonapi.RenderDomainError(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type:       "on_call_assignment",
		ID:         res.ScheduleID,
		Attributes: res,
	})
}

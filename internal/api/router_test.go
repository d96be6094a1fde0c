package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/plantwatch/alertcore/internal/alerting"
	"github.com/plantwatch/alertcore/internal/api"
	"github.com/plantwatch/alertcore/internal/api/handler"
	"github.com/plantwatch/alertcore/internal/bridge"
	"github.com/plantwatch/alertcore/internal/db"
	"github.com/plantwatch/alertcore/internal/health"
	"github.com/plantwatch/alertcore/internal/ingress"
	"github.com/plantwatch/alertcore/internal/model"
	"github.com/plantwatch/alertcore/internal/store"
)

type testEnv struct {
	srv *httptest.Server
	st  *store.Store
	svc *ingress.Service
	now time.Time
}

// resourceDoc mirrors the single-resource envelope for decoding.
type resourceDoc struct {
	Data struct {
		Type       string         `json:"type"`
		ID         string         `json:"id"`
		Attributes map[string]any `json:"attributes"`
	} `json:"data"`
}

type listDoc struct {
	Data []struct {
		Type       string         `json:"type"`
		ID         string         `json:"id"`
		Attributes map[string]any `json:"attributes"`
	} `json:"data"`
	Page *struct {
		Offset   int   `json:"offset"`
		PageSize int   `json:"page_size"`
		Total    int64 `json:"total"`
	} `json:"page"`
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))

	st := store.New(gdb)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return now })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	grouper := ingress.NewGrouper(st, 5*time.Minute)
	tracker := ingress.NewSLATracker(st, alerting.DefaultSeverityTargets(), log)
	svc := ingress.NewService(st, grouper, tracker, log)
	brg := bridge.New(svc, 0, log)

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.Handlers{
		Health:        health.New(db.NewPinger(gdb)),
		Alerts:        handler.NewAlertHandler(svc),
		Groups:        handler.NewGroupHandler(st, grouper),
		SLA:           handler.NewSLAHandler(tracker),
		OnCall:        handler.NewOnCallHandler(st),
		Policies:      handler.NewPolicyHandler(st),
		Notifications: handler.NewNotificationHandler(st),
		Anomalies:     handler.NewAnomalyHandler(brg),
	}, "") // auth disabled

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, st: st, svc: svc, now: now}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, raw
}

func decodeResource(t *testing.T, raw []byte) resourceDoc {
	t.Helper()
	var doc resourceDoc
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc
}

func decodeList(t *testing.T, raw []byte) listDoc {
	t.Helper()
	var doc listDoc
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc
}

func (e *testEnv) createAlert(t *testing.T, deviceID, severity string) string {
	t.Helper()
	resp, raw := e.do(t, http.MethodPost, "/api/v1/alerts", map[string]any{
		"device_id": deviceID,
		"rule_id":   "overheat",
		"severity":  severity,
		"message":   "temperature above threshold",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	return decodeResource(t, raw).Data.ID
}

func TestHealthEndpoints(t *testing.T) {
	e := newTestEnv(t)

	resp, raw := e.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	doc := decodeResource(t, raw)
	assert.Equal(t, "health", doc.Data.Type)

	resp, _ = e.do(t, http.MethodGet, "/api/v1/ready", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAlertLifecycleOverHTTP(t *testing.T) {
	e := newTestEnv(t)

	alertID := e.createAlert(t, "pump-7", "critical")

	resp, raw := e.do(t, http.MethodGet, "/api/v1/alerts/"+alertID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	detail := decodeResource(t, raw)
	assert.Equal(t, "new", detail.Data.Attributes["state"])

	resp, raw = e.do(t, http.MethodPost, "/api/v1/alerts/"+alertID+"/transition", map[string]any{
		"target_state": "acknowledged",
		"actor":        "op-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	entry := decodeResource(t, raw)
	assert.Equal(t, "alert_state_entry", entry.Data.Type)
	assert.Equal(t, "acknowledged", entry.Data.Attributes["state"])

	resp, raw = e.do(t, http.MethodPost, "/api/v1/alerts/"+alertID+"/notes", map[string]any{
		"actor": "op-1",
		"notes": "checked the pump room",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	resp, _ = e.do(t, http.MethodPost, "/api/v1/alerts/"+alertID+"/transition", map[string]any{
		"target_state": "resolved",
		"actor":        "op-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// resolved is terminal
	resp, raw = e.do(t, http.MethodPost, "/api/v1/alerts/"+alertID+"/transition", map[string]any{
		"target_state": "acknowledged",
		"actor":        "op-1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(raw))
}

func TestAlertErrorStatuses(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := e.do(t, http.MethodGet, "/api/v1/alerts/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/api/v1/alerts", map[string]any{
		"device_id": "pump-7",
		"rule_id":   "overheat",
		"severity":  "apocalyptic",
		"message":   "boom",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/api/v1/alerts", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	r2, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	r2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, r2.StatusCode)
}

func TestAlertListPagination(t *testing.T) {
	e := newTestEnv(t)
	for _, dev := range []string{"pump-1", "pump-2", "pump-3"} {
		e.createAlert(t, dev, "high")
	}

	resp, raw := e.do(t, http.MethodGet, "/api/v1/alerts?limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := decodeList(t, raw)
	assert.Len(t, doc.Data, 2)
	require.NotNil(t, doc.Page)
	assert.EqualValues(t, 3, doc.Page.Total)

	resp, raw = e.do(t, http.MethodGet, "/api/v1/alerts?device_id=pump-2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc = decodeList(t, raw)
	require.Len(t, doc.Data, 1)
	assert.Equal(t, "pump-2", doc.Data[0].Attributes["device_id"])

	resp, _ = e.do(t, http.MethodGet, "/api/v1/alerts?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGroupEndpoints(t *testing.T) {
	e := newTestEnv(t)
	// Same device/rule/severity lands in one group.
	e.createAlert(t, "pump-7", "high")
	e.createAlert(t, "pump-7", "high")

	resp, raw := e.do(t, http.MethodGet, "/api/v1/groups?status=active", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := decodeList(t, raw)
	require.Len(t, doc.Data, 1)
	groupID := doc.Data[0].ID
	assert.EqualValues(t, 2, doc.Data[0].Attributes["occurrence_count"])

	resp, raw = e.do(t, http.MethodGet, "/api/v1/groups/"+groupID+"/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decodeResource(t, raw)
	assert.EqualValues(t, 50, stats.Data.Attributes["noise_reduction_pct"])

	resp, raw = e.do(t, http.MethodPost, "/api/v1/groups/"+groupID+"/close", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	closed := decodeResource(t, raw)
	assert.Equal(t, "closed", closed.Data.Attributes["status"])

	// closing again is a no-op
	resp, _ = e.do(t, http.MethodPost, "/api/v1/groups/"+groupID+"/close", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/api/v1/groups/"+uuid.NewString()+"/close", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/v1/groups?status=open", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, raw = e.do(t, http.MethodGet, "/api/v1/groups/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	overall := decodeResource(t, raw)
	assert.Equal(t, "overall", overall.Data.ID)
}

func TestSLAReportEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.createAlert(t, "pump-7", "critical")

	resp, raw := e.do(t, http.MethodGet, "/api/v1/sla/report?severity=critical", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	doc := decodeResource(t, raw)
	assert.EqualValues(t, 1, doc.Data.Attributes["total_alerts"])

	// from/to window bounds, with the window_* names kept as aliases
	resp, raw = e.do(t, http.MethodGet,
		"/api/v1/sla/report?from=2026-03-01T00:00:00Z&to=2026-03-02T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	doc = decodeResource(t, raw)
	assert.EqualValues(t, 1, doc.Data.Attributes["total_alerts"])

	resp, raw = e.do(t, http.MethodGet, "/api/v1/sla/report?window_end=2026-02-28T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	doc = decodeResource(t, raw)
	assert.EqualValues(t, 0, doc.Data.Attributes["total_alerts"])

	resp, _ = e.do(t, http.MethodGet, "/api/v1/sla/report?severity=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/v1/sla/report?from=notatime", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/v1/sla/report?window_start=notatime", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOnCallEndpoints(t *testing.T) {
	e := newTestEnv(t)

	resp, raw := e.do(t, http.MethodPost, "/api/v1/on-call/schedules", map[string]any{
		"name":           "plant-a",
		"rotation_type":  "weekly",
		"rotation_start": "2026-02-02T00:00:00Z",
		"users":          []string{"alice", "bob"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	schedID := decodeResource(t, raw).Data.ID

	// Clock is 2026-03-01 noon, inside the fourth week of the rotation.
	resp, raw = e.do(t, http.MethodGet, "/api/v1/on-call/current?schedule_id="+schedID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	doc := decodeResource(t, raw)
	assert.Equal(t, "bob", doc.Data.Attributes["user_id"])

	resp, raw = e.do(t, http.MethodGet,
		"/api/v1/on-call/at?schedule_id="+schedID+"&instant=2026-02-17T09:00:00Z", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc = decodeResource(t, raw)
	assert.Equal(t, "alice", doc.Data.Attributes["user_id"])

	resp, _ = e.do(t, http.MethodGet, "/api/v1/on-call/current", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/v1/on-call/at?schedule_id="+schedID, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/v1/on-call/current?schedule_id="+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/api/v1/on-call/schedules", map[string]any{
		"name": "broken", "users": []string{"a"},
		"rotation_start": "2026-02-02T00:00:00Z", "timezone": "Mars/Olympus_Mons",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, raw = e.do(t, http.MethodGet, "/api/v1/on-call/schedules", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeList(t, raw).Data, 1)
}

func TestPolicyEndpoints(t *testing.T) {
	e := newTestEnv(t)

	body := map[string]any{
		"name":       "plant-a-urgent",
		"severities": []string{"critical"},
		"enabled":    true,
		"tiers": []map[string]any{
			{"level": 1, "delay_minutes": 0, "channels": []string{"email"}, "recipients": []string{"oncall-primary"}},
		},
	}
	resp, raw := e.do(t, http.MethodPost, "/api/v1/escalation/policies", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	policyID := decodeResource(t, raw).Data.ID

	bad := map[string]any{
		"name":       "broken",
		"severities": []string{"critical"},
		"tiers": []map[string]any{
			{"level": 1, "delay_minutes": 0, "channels": []string{"carrier-pigeon"}, "recipients": []string{"x"}},
		},
	}
	resp, _ = e.do(t, http.MethodPost, "/api/v1/escalation/policies", bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, raw = e.do(t, http.MethodGet, "/api/v1/escalation/policies", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeList(t, raw).Data, 1)

	resp, raw = e.do(t, http.MethodPatch, "/api/v1/escalation/policies/"+policyID, map[string]any{
		"enabled": false,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	doc := decodeResource(t, raw)
	assert.Equal(t, false, doc.Data.Attributes["enabled"])

	// Patching the severities to something unknown is rejected after merge.
	resp, _ = e.do(t, http.MethodPatch, "/api/v1/escalation/policies/"+policyID, map[string]any{
		"severities": []string{"apocalyptic"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPatch, "/api/v1/escalation/policies/"+policyID, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/v1/escalation/policies/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNotificationAckEndpoint(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alertID := e.createAlert(t, "pump-7", "critical")

	var intentID string
	err := e.st.WithTx(ctx, func(tx *gorm.DB) error {
		intents := []model.NotificationIntent{{
			AlertID: alertID, Tier: 1, Channel: "email",
			Recipient: "oncall-primary", Status: model.IntentStatusPending,
		}}
		if err := e.st.InsertIntents(tx, intents); err != nil {
			return err
		}
		intentID = intents[0].ID
		return nil
	})
	require.NoError(t, err)

	resp, raw := e.do(t, http.MethodGet, "/api/v1/alerts/"+alertID+"/notifications", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, decodeList(t, raw).Data, 1)

	resp, raw = e.do(t, http.MethodPost, "/api/v1/notifications/"+intentID+"/ack", map[string]any{
		"status": "delivered",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	doc := decodeResource(t, raw)
	assert.Equal(t, "delivered", doc.Data.Attributes["status"])

	resp, _ = e.do(t, http.MethodPost, "/api/v1/notifications/"+intentID+"/ack", map[string]any{
		"status": "lost",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/api/v1/notifications/"+uuid.NewString()+"/ack", map[string]any{
		"status": "failed",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAnomalyIngestEndpoint(t *testing.T) {
	e := newTestEnv(t)

	det := map[string]any{
		"device_id": "compressor-3", "metric": "vibration_rms",
		"value": 4.2, "score": 0.91, "confidence": 0.95, "model_id": "vib-lstm-v2",
	}
	resp, raw := e.do(t, http.MethodPost, "/api/v1/anomalies", det)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	doc := decodeResource(t, raw)
	assert.Equal(t, "alert", doc.Data.Type)

	det["confidence"] = 0.40
	resp, raw = e.do(t, http.MethodPost, "/api/v1/anomalies", det)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	doc = decodeResource(t, raw)
	assert.Equal(t, true, doc.Data.Attributes["suppressed"])

	det["confidence"] = 0.95
	det["device_id"] = ""
	resp, _ = e.do(t, http.MethodPost, "/api/v1/anomalies", det)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownRouteIs404(t *testing.T) {
	e := newTestEnv(t)
	resp, _ := e.do(t, http.MethodGet, "/api/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

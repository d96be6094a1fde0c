package bridge_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/plantwatch/alertcore/internal/alerting"
	"github.com/plantwatch/alertcore/internal/bridge"
	"github.com/plantwatch/alertcore/internal/db"
	"github.com/plantwatch/alertcore/internal/ingress"
	"github.com/plantwatch/alertcore/internal/store"
)

func newBridge(t *testing.T, floor float64) (*bridge.Bridge, *ingress.Service) {
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
	return bridge.New(svc, floor, log), svc
}

func detection(confidence float64) bridge.Detection {
	return bridge.Detection{
		DeviceID:   "compressor-3",
		Metric:     "vibration_rms",
		Value:      4.2,
		Score:      0.91,
		Confidence: confidence,
		ModelID:    "vib-lstm-v2",
	}
}

func TestSeverityForConfidence(t *testing.T) {
	cases := []struct {
		confidence float64
		want       alerting.Severity
	}{
		{0.95, alerting.SeverityCritical},
		{0.90, alerting.SeverityCritical},
		{0.89, alerting.SeverityHigh},
		{0.80, alerting.SeverityHigh},
		{0.79, alerting.SeverityMedium},
		{0.70, alerting.SeverityMedium},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, bridge.SeverityForConfidence(c.confidence), "confidence %v", c.confidence)
	}
}

func TestHandle_BelowFloorIsSuppressed(t *testing.T) {
	b, svc := newBridge(t, 0)
	ctx := context.Background()

	res, err := b.Handle(ctx, detection(0.55))
	require.NoError(t, err)
	assert.Nil(t, res)

	// Exactly at the floor passes.
	res, err = b.Handle(ctx, detection(bridge.DefaultMinConfidence))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, string(alerting.SeverityMedium), res.Alert.Severity)

	alerts, total, err := svc.ListAlerts(ctx, store.AlertFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, alerts, 1)
}

func TestHandle_CustomFloor(t *testing.T) {
	b, _ := newBridge(t, 0.85)
	ctx := context.Background()

	res, err := b.Handle(ctx, detection(0.80))
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = b.Handle(ctx, detection(0.86))
	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestHandle_AlertCarriesDetectionContext(t *testing.T) {
	b, svc := newBridge(t, 0)
	ctx := context.Background()

	res, err := b.Handle(ctx, detection(0.92))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, string(alerting.SeverityCritical), res.Alert.Severity)

	detail, err := svc.GetAlertDetail(ctx, res.AlertID)
	require.NoError(t, err)
	assert.Equal(t, "compressor-3", detail.Alert.DeviceID)
	assert.Equal(t, "vib-lstm-v2", detail.Alert.RuleID)
	assert.Contains(t, detail.Alert.Message, "ml_anomaly_detection")
	assert.Contains(t, detail.Alert.Message, "vibration_rms")

	assert.Equal(t, "vib-lstm-v2", detail.Alert.Payload["model_id"])
	assert.InDelta(t, 0.91, detail.Alert.Payload["score"].(float64), 1e-9)
	assert.InDelta(t, 0.92, detail.Alert.Payload["confidence"].(float64), 1e-9)
}

func TestHandle_ValidationAfterGate(t *testing.T) {
	b, _ := newBridge(t, 0)
	ctx := context.Background()

	for _, mutate := range []func(*bridge.Detection){
		func(d *bridge.Detection) { d.DeviceID = "" },
		func(d *bridge.Detection) { d.Metric = "" },
		func(d *bridge.Detection) { d.ModelID = "" },
	} {
		det := detection(0.95)
		mutate(&det)
		_, err := b.Handle(ctx, det)
		assert.True(t, alerting.IsKind(err, alerting.KindValidation), "got %v", err)
	}

	// Incomplete detections below the floor are still just dropped.
	det := detection(0.10)
	det.DeviceID = ""
	res, err := b.Handle(ctx, det)
	require.NoError(t, err)
	assert.Nil(t, res)
}

package ingress_test

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
	"github.com/plantwatch/alertcore/internal/db"
	"github.com/plantwatch/alertcore/internal/ingress"
	"github.com/plantwatch/alertcore/internal/store"
)

// testClock is a mutable clock injected through store.SetClock.
type testClock struct{ now time.Time }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func nullLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*ingress.Service, *store.Store, *testClock) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))

	st := store.New(gdb)
	clk := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	st.SetClock(func() time.Time { return clk.now })

	log := nullLogger()
	grouper := ingress.NewGrouper(st, 5*time.Minute)
	tracker := ingress.NewSLATracker(st, alerting.DefaultSeverityTargets(), log)
	return ingress.NewService(st, grouper, tracker, log), st, clk
}

func createAlert(t *testing.T, svc *ingress.Service, deviceID, ruleID, severity string) *ingress.CreateAlertResult {
	t.Helper()
	res, err := svc.CreateAlert(context.Background(), ingress.CreateAlertInput{
		DeviceID: deviceID,
		RuleID:   ruleID,
		Severity: severity,
		Message:  "temperature above threshold",
	})
	require.NoError(t, err)
	return res
}

func strPtr(s string) *string { return &s }

func TestCreateAlert_MaterialisesEverything(t *testing.T) {
	svc, st, clk := newTestService(t)
	ctx := context.Background()

	res := createAlert(t, svc, "pump-7", "overheat", "critical")
	assert.Equal(t, alerting.StateNew, res.State)
	assert.Equal(t, 5, res.SLATargets.TTAMinutes)
	assert.Equal(t, 30, res.SLATargets.TTRMinutes)
	assert.NotEmpty(t, res.GroupID)

	detail, err := svc.GetAlertDetail(ctx, res.AlertID)
	require.NoError(t, err)
	assert.Equal(t, alerting.StateNew, detail.State)
	require.Len(t, detail.History, 1)
	assert.Nil(t, detail.History[0].Actor) // initial entry belongs to the system
	assert.True(t, detail.History[0].Instant.Equal(clk.now))
	require.NotNil(t, detail.SLA)
	assert.Equal(t, 5, detail.SLA.TTATargetMin)
	require.NotNil(t, detail.GroupID)
	assert.Equal(t, res.GroupID, *detail.GroupID)

	state, err := st.CurrentState(ctx, res.AlertID)
	require.NoError(t, err)
	assert.Equal(t, alerting.StateNew, state)
}

func TestCreateAlert_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateAlert(ctx, ingress.CreateAlertInput{RuleID: "r", Severity: "high", Message: "m"})
	assert.True(t, alerting.IsKind(err, alerting.KindValidation))

	_, err = svc.CreateAlert(ctx, ingress.CreateAlertInput{DeviceID: "d", RuleID: "r", Severity: "urgent", Message: "m"})
	assert.True(t, alerting.IsKind(err, alerting.KindValidation))
}

// A critical alert acknowledged after 3 minutes and resolved after 20 stays
// inside both targets.
func TestLifecycle_CriticalWithinSLA(t *testing.T) {
	svc, st, clk := newTestService(t)
	ctx := context.Background()
	res := createAlert(t, svc, "pump-7", "overheat", "critical")

	clk.Advance(3 * time.Minute)
	_, err := svc.Transition(ctx, ingress.TransitionInput{
		AlertID: res.AlertID, TargetState: "acknowledged", Actor: strPtr("alice"),
	})
	require.NoError(t, err)

	clk.Advance(17 * time.Minute)
	_, err = svc.Transition(ctx, ingress.TransitionInput{
		AlertID: res.AlertID, TargetState: "resolved", Actor: strPtr("alice"),
	})
	require.NoError(t, err)

	sla, err := st.GetSLA(ctx, res.AlertID)
	require.NoError(t, err)
	require.NotNil(t, sla.TTAActualMin)
	require.NotNil(t, sla.TTRActualMin)
	assert.InDelta(t, 3.0, *sla.TTAActualMin, 1e-9)
	assert.InDelta(t, 20.0, *sla.TTRActualMin, 1e-9)
	assert.False(t, sla.TTABreached)
	assert.False(t, sla.TTRBreached)
}

// A critical alert first acknowledged after 10 minutes breaches the 5-minute
// TTA target.
func TestLifecycle_TTABreach(t *testing.T) {
	svc, st, clk := newTestService(t)
	ctx := context.Background()
	res := createAlert(t, svc, "pump-7", "overheat", "critical")

	clk.Advance(10 * time.Minute)
	_, err := svc.Transition(ctx, ingress.TransitionInput{
		AlertID: res.AlertID, TargetState: "acknowledged", Actor: strPtr("bob"),
	})
	require.NoError(t, err)

	sla, err := st.GetSLA(ctx, res.AlertID)
	require.NoError(t, err)
	require.NotNil(t, sla.TTAActualMin)
	assert.InDelta(t, 10.0, *sla.TTAActualMin, 1e-9)
	assert.True(t, sla.TTABreached)
	assert.Nil(t, sla.TTRActualMin)
}

// Skipping acknowledged and going straight to investigating still stamps TTA.
func TestLifecycle_InvestigatingSetsTTA(t *testing.T) {
	svc, st, clk := newTestService(t)
	ctx := context.Background()
	res := createAlert(t, svc, "pump-7", "overheat", "high")

	clk.Advance(4 * time.Minute)
	_, err := svc.Transition(ctx, ingress.TransitionInput{
		AlertID: res.AlertID, TargetState: "investigating", Actor: strPtr("alice"),
	})
	require.NoError(t, err)

	sla, err := st.GetSLA(ctx, res.AlertID)
	require.NoError(t, err)
	require.NotNil(t, sla.TTAActualMin)
	assert.InDelta(t, 4.0, *sla.TTAActualMin, 1e-9)
	assert.False(t, sla.TTABreached)
}

// Resolving directly from new stamps TTA and TTR at the same instant.
func TestLifecycle_DirectResolve(t *testing.T) {
	svc, st, clk := newTestService(t)
	ctx := context.Background()
	res := createAlert(t, svc, "pump-7", "overheat", "medium")

	clk.Advance(30 * time.Minute)
	_, err := svc.Transition(ctx, ingress.TransitionInput{
		AlertID: res.AlertID, TargetState: "resolved", Actor: strPtr("alice"),
	})
	require.NoError(t, err)

	sla, err := st.GetSLA(ctx, res.AlertID)
	require.NoError(t, err)
	require.NotNil(t, sla.TTAActualMin)
	require.NotNil(t, sla.TTRActualMin)
	assert.InDelta(t, 30.0, *sla.TTAActualMin, 1e-9)
	assert.InDelta(t, 30.0, *sla.TTRActualMin, 1e-9)
}

func TestTransition_ResolvedIsTerminal(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	res := createAlert(t, svc, "pump-7", "overheat", "low")

	_, err := svc.Transition(ctx, ingress.TransitionInput{AlertID: res.AlertID, TargetState: "resolved"})
	require.NoError(t, err)

	for _, target := range []string{"new", "acknowledged", "investigating", "resolved"} {
		_, err := svc.Transition(ctx, ingress.TransitionInput{AlertID: res.AlertID, TargetState: target})
		require.Error(t, err, "resolved -> %s must fail", target)
		assert.True(t, alerting.IsKind(err, alerting.KindInvalidTransition))
	}
}

func TestTransition_UnknownAlert(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Transition(context.Background(), ingress.TransitionInput{
		AlertID: uuid.New().String(), TargetState: "acknowledged",
	})
	assert.True(t, alerting.IsKind(err, alerting.KindNotFound))
}

func TestTransition_ListenersRunAfterCommit(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	var events []alerting.TransitionEvent
	svc.RegisterListener(func(ev alerting.TransitionEvent) { events = append(events, ev) })

	res := createAlert(t, svc, "pump-7", "overheat", "high")
	_, err := svc.Transition(ctx, ingress.TransitionInput{
		AlertID: res.AlertID, TargetState: "acknowledged", Actor: strPtr("alice"),
	})
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, alerting.StateNew, events[0].FromState)
	assert.Equal(t, alerting.StateAcknowledged, events[0].ToState)
	require.NotNil(t, events[0].Actor)
	assert.Equal(t, "alice", *events[0].Actor)
}

func TestAddNote_KeepsState(t *testing.T) {
	svc, st, clk := newTestService(t)
	ctx := context.Background()
	res := createAlert(t, svc, "pump-7", "overheat", "high")

	_, err := svc.Transition(ctx, ingress.TransitionInput{
		AlertID: res.AlertID, TargetState: "acknowledged", Actor: strPtr("alice"),
	})
	require.NoError(t, err)

	clk.Advance(time.Minute)
	entry, err := svc.AddNote(ctx, res.AlertID, strPtr("alice"), "vendor called", nil)
	require.NoError(t, err)
	assert.Equal(t, "acknowledged", entry.State)
	assert.Equal(t, "vendor called", entry.Notes)

	state, err := st.CurrentState(ctx, res.AlertID)
	require.NoError(t, err)
	assert.Equal(t, alerting.StateAcknowledged, state)
}

func TestAddNote_EmptyRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	res := createAlert(t, svc, "pump-7", "overheat", "high")
	_, err := svc.AddNote(context.Background(), res.AlertID, strPtr("alice"), "", nil)
	assert.True(t, alerting.IsKind(err, alerting.KindValidation))
}

func TestListAlerts_RejectsBadFilters(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.ListAlerts(ctx, store.AlertFilter{Severity: "urgent"})
	assert.True(t, alerting.IsKind(err, alerting.KindValidation))

	_, _, err = svc.ListAlerts(ctx, store.AlertFilter{State: "snoozed"})
	assert.True(t, alerting.IsKind(err, alerting.KindValidation))
}

package ingress

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/plantwatch/alertcore/internal/alerting"
	"github.com/plantwatch/alertcore/internal/metrics"
	"github.com/plantwatch/alertcore/internal/model"
	"github.com/plantwatch/alertcore/internal/store"
)

// SLATracker materialises SLA targets at alert creation and records actuals
// on acknowledge/resolve transitions. Its updates run after the transition
// commits; a tracker failure is logged for reconciliation and never rolls the
// transition back.
type SLATracker struct {
	store   *store.Store
	targets alerting.SeverityTargets
	log     *slog.Logger
}

// NewSLATracker creates a tracker using the given severity target table.
func NewSLATracker(st *store.Store, targets alerting.SeverityTargets, log *slog.Logger) *SLATracker {
	if targets == nil {
		targets = alerting.DefaultSeverityTargets()
	}
	return &SLATracker{store: st, targets: targets, log: log}
}

// Materialize inserts the SLA row for a new alert inside the creation
// transaction. Targets come from the severity table and never change.
func (t *SLATracker) Materialize(tx *gorm.DB, a *model.Alert) (*model.AlertSLA, error) {
	targets := t.targets.TargetsFor(alerting.Severity(a.Severity))
	row := &model.AlertSLA{
		AlertID:      a.ID,
		Severity:     a.Severity,
		TTATargetMin: targets.TTAMinutes,
		TTRTargetMin: targets.TTRMinutes,
		CreatedAt:    a.CreatedAt,
	}
	if err := t.store.InsertSLA(tx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// HandleTransition applies the SLA integration rule to a committed
// transition: any first transition into acknowledged/investigating/resolved
// sets TTA once; a transition into resolved sets TTR once.
func (t *SLATracker) HandleTransition(ctx context.Context, ev alerting.TransitionEvent) error {
	switch ev.ToState {
	case alerting.StateAcknowledged, alerting.StateInvestigating, alerting.StateResolved:
	default:
		return nil
	}

	a, err := t.store.GetAlert(ctx, ev.AlertID)
	if err != nil {
		return err
	}
	sla, err := t.store.GetSLA(ctx, ev.AlertID)
	if err != nil {
		return err
	}

	elapsedMin := ev.Instant.Sub(a.CreatedAt).Minutes()

	breachedTTA := elapsedMin > float64(sla.TTATargetMin)
	set, err := t.store.SetTTAOnce(ctx, ev.AlertID, elapsedMin, ev.Instant, breachedTTA)
	if err != nil {
		return err
	}
	if set && breachedTTA {
		metrics.ObserveSLABreach("tta")
		t.log.Warn("tta breached", "alert_id", ev.AlertID, "actual_min", elapsedMin, "target_min", sla.TTATargetMin)
	}

	if ev.ToState == alerting.StateResolved {
		breachedTTR := elapsedMin > float64(sla.TTRTargetMin)
		set, err = t.store.SetTTROnce(ctx, ev.AlertID, elapsedMin, ev.Instant, breachedTTR)
		if err != nil {
			return err
		}
		if set && breachedTTR {
			metrics.ObserveSLABreach("ttr")
			t.log.Warn("ttr breached", "alert_id", ev.AlertID, "actual_min", elapsedMin, "target_min", sla.TTRTargetMin)
		}
	}
	return nil
}

// SLAReport aggregates compliance over a window.
type SLAReport struct {
	WindowStart      time.Time `json:"window_start"`
	WindowEnd        time.Time `json:"window_end"`
	Severity         string    `json:"severity,omitempty"`
	TotalAlerts      int       `json:"total_alerts"`
	Acknowledged     int       `json:"acknowledged"`
	Resolved         int       `json:"resolved"`
	TTABreaches      int       `json:"tta_breaches"`
	TTRBreaches      int       `json:"ttr_breaches"`
	TTACompliancePct float64   `json:"tta_compliance_pct"`
	TTRCompliancePct float64   `json:"ttr_compliance_pct"`
	AvgTTAMinutes    float64   `json:"avg_tta_minutes"`
	AvgTTRMinutes    float64   `json:"avg_ttr_minutes"`
}

// ComplianceReport computes totals, compliance rates, and averages over the
// window. A zero window defaults to the trailing 30 days.
func (t *SLATracker) ComplianceReport(ctx context.Context, severity string, windowStart, windowEnd time.Time) (*SLAReport, error) {
	if severity != "" {
		if _, err := alerting.ParseSeverity(severity); err != nil {
			return nil, err
		}
	}
	if windowEnd.IsZero() {
		windowEnd = t.store.Now()
	}
	if windowStart.IsZero() {
		windowStart = windowEnd.Add(-30 * 24 * time.Hour)
	}
	rows, err := t.store.SLARows(ctx, store.SLAFilter{
		Severity:    severity,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	})
	if err != nil {
		return nil, err
	}

	rep := &SLAReport{WindowStart: windowStart, WindowEnd: windowEnd, Severity: severity, TotalAlerts: len(rows)}
	var ttaSum, ttrSum float64
	for _, row := range rows {
		if row.TTAActualMin != nil {
			rep.Acknowledged++
			ttaSum += *row.TTAActualMin
			if row.TTABreached {
				rep.TTABreaches++
			}
		}
		if row.TTRActualMin != nil {
			rep.Resolved++
			ttrSum += *row.TTRActualMin
			if row.TTRBreached {
				rep.TTRBreaches++
			}
		}
	}
	if rep.Acknowledged > 0 {
		rep.TTACompliancePct = float64(rep.Acknowledged-rep.TTABreaches) / float64(rep.Acknowledged) * 100
		rep.AvgTTAMinutes = ttaSum / float64(rep.Acknowledged)
	}
	if rep.Resolved > 0 {
		rep.TTRCompliancePct = float64(rep.Resolved-rep.TTRBreaches) / float64(rep.Resolved) * 100
		rep.AvgTTRMinutes = ttrSum / float64(rep.Resolved)
	}
	return rep, nil
}

package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/plantwatch/alertcore/internal/alerting"
	"github.com/plantwatch/alertcore/internal/model"
)

// --- Escalation policies ------------------------------------------------------

// CreatePolicy inserts a new escalation policy.
func (s *Store) CreatePolicy(ctx context.Context, p *model.EscalationPolicy) error {
	now := s.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	return s.db.WithContext(ctx).Create(p).Error
}

// UpdatePolicy applies a partial update to a policy by ID.
func (s *Store) UpdatePolicy(ctx context.Context, policyID string, fields map[string]any) (*model.EscalationPolicy, error) {
	fields["updated_at"] = s.now()
	res := s.db.WithContext(ctx).Model(&model.EscalationPolicy{}).
		Where("id = ?", policyID).Updates(fields)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, alerting.NewErrorf(alerting.KindNotFound, "escalation policy %s not found", policyID)
	}
	return s.GetPolicy(ctx, policyID)
}

// GetPolicy loads one policy by ID.
func (s *Store) GetPolicy(ctx context.Context, policyID string) (*model.EscalationPolicy, error) {
	var p model.EscalationPolicy
	err := s.db.WithContext(ctx).Where("id = ?", policyID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, alerting.NewErrorf(alerting.KindNotFound, "escalation policy %s not found", policyID)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPolicies returns all policies ordered by name.
func (s *Store) ListPolicies(ctx context.Context) ([]model.EscalationPolicy, error) {
	var out []model.EscalationPolicy
	err := s.db.WithContext(ctx).Order("name ASC").Find(&out).Error
	return out, err
}

// EnabledPolicies returns enabled policies in alphabetical name order, the
// order policy selection walks them.
func (s *Store) EnabledPolicies(ctx context.Context) ([]model.EscalationPolicy, error) {
	var out []model.EscalationPolicy
	err := s.db.WithContext(ctx).Where("enabled = ?", true).Order("name ASC").Find(&out).Error
	return out, err
}

// CountPolicies reports how many policies exist (seeding guard).
func (s *Store) CountPolicies(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.EscalationPolicy{}).Count(&n).Error
	return n, err
}

// --- On-call schedules ---------------------------------------------------------

// CreateSchedule inserts a new on-call schedule.
func (s *Store) CreateSchedule(ctx context.Context, sched *model.OnCallSchedule) error {
	now := s.now()
	sched.CreatedAt = now
	sched.UpdatedAt = now
	return s.db.WithContext(ctx).Create(sched).Error
}

// GetSchedule loads a schedule by ID.
func (s *Store) GetSchedule(ctx context.Context, scheduleID string) (*model.OnCallSchedule, error) {
	var sched model.OnCallSchedule
	err := s.db.WithContext(ctx).Where("id = ?", scheduleID).First(&sched).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, alerting.NewErrorf(alerting.KindNotFound, "schedule %s not found", scheduleID)
	}
	if err != nil {
		return nil, err
	}
	return &sched, nil
}

// ListSchedules returns all schedules ordered by name.
func (s *Store) ListSchedules(ctx context.Context) ([]model.OnCallSchedule, error) {
	var out []model.OnCallSchedule
	err := s.db.WithContext(ctx).Order("name ASC").Find(&out).Error
	return out, err
}

// --- Notification intents -------------------------------------------------------

// InsertIntents writes intent audit rows inside tx.
func (s *Store) InsertIntents(tx *gorm.DB, intents []model.NotificationIntent) error {
	if len(intents) == 0 {
		return nil
	}
	for i := range intents {
		if intents[i].CreatedAt.IsZero() {
			intents[i].CreatedAt = s.now()
		}
	}
	return tx.Create(&intents).Error
}

// AckIntent records a delivery acknowledgement from the dispatch
// collaborator.
func (s *Store) AckIntent(ctx context.Context, intentID, status, detail string) error {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&model.NotificationIntent{}).
		Where("id = ?", intentID).
		Updates(map[string]any{"status": status, "detail": detail, "acked_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return alerting.NewErrorf(alerting.KindNotFound, "intent %s not found", intentID)
	}
	return nil
}

// GetIntent loads one intent audit row.
func (s *Store) GetIntent(ctx context.Context, intentID string) (*model.NotificationIntent, error) {
	var intent model.NotificationIntent
	err := s.db.WithContext(ctx).Where("id = ?", intentID).First(&intent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, alerting.NewErrorf(alerting.KindNotFound, "intent %s not found", intentID)
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// IntentsForAlert returns an alert's intents in emission order.
func (s *Store) IntentsForAlert(ctx context.Context, alertID string) ([]model.NotificationIntent, error) {
	var out []model.NotificationIntent
	err := s.db.WithContext(ctx).Where("alert_id = ?", alertID).
		Order("created_at ASC").Find(&out).Error
	return out, err
}

// --- Escalation scan -------------------------------------------------------------

// EscalationCandidate pairs an alert with its current state for the driver's
// eligibility filter.
type EscalationCandidate struct {
	Alert model.Alert
	State alerting.State
}

// EscalationCandidates returns up to limit alerts whose escalation cursor is
// due at or before horizon, oldest due first. Alerts with a cleared cursor
// (chain exhausted, no matching policy) never appear, so they cannot starve
// newer due alerts out of the batch. The driver re-checks full eligibility
// per alert under the alert lock; this scan only bounds the work per tick.
func (s *Store) EscalationCandidates(ctx context.Context, states []alerting.State, horizon time.Time, limit int) ([]EscalationCandidate, error) {
	raw := make([]string, len(states))
	for i, st := range states {
		raw[i] = string(st)
	}
	latest := s.db.Model(&model.AlertStateEntry{}).Select("MAX(id)").Group("alert_id")
	var entries []model.AlertStateEntry
	err := s.db.WithContext(ctx).Model(&model.AlertStateEntry{}).
		Where("id IN (?)", latest).
		Where("state IN ?", raw).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	stateByAlert := make(map[string]alerting.State, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		stateByAlert[e.AlertID] = alerting.State(e.State)
		ids = append(ids, e.AlertID)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	var alerts []model.Alert
	err = s.db.WithContext(ctx).
		Where("id IN ?", ids).
		Where("escalation_due IS NOT NULL AND escalation_due <= ?", horizon).
		Order("escalation_due ASC").
		Limit(limit).
		Find(&alerts).Error
	if err != nil {
		return nil, err
	}
	out := make([]EscalationCandidate, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, EscalationCandidate{Alert: a, State: stateByAlert[a.ID]})
	}
	return out, nil
}

// SetEscalationDue moves the alert's escalation cursor inside tx. Nil clears
// it, removing the alert from future scans.
func (s *Store) SetEscalationDue(tx *gorm.DB, alertID string, due *time.Time) error {
	return tx.Model(&model.Alert{}).Where("id = ?", alertID).
		Update("escalation_due", due).Error
}

// ReArmEscalation resets the cursor to created_at for alerts of the given
// severities whose cursor is cleared. Called when a policy is created or
// updated so alerts parked with no escalation path are reconsidered.
// Resolved alerts may re-arm too; the scan's state filter keeps them out.
func (s *Store) ReArmEscalation(ctx context.Context, severities []string) error {
	if len(severities) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&model.Alert{}).
		Where("severity IN ? AND escalation_due IS NULL", severities).
		Update("escalation_due", gorm.Expr("created_at")).Error
}

package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/plantwatch/alertcore/internal/alerting"
	"github.com/plantwatch/alertcore/internal/model"
)

// InsertSLA materialises the SLA row inside tx, atomically with the alert.
func (s *Store) InsertSLA(tx *gorm.DB, row *model.AlertSLA) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.now()
	}
	return tx.Create(row).Error
}

// GetSLA loads the SLA row for an alert.
func (s *Store) GetSLA(ctx context.Context, alertID string) (*model.AlertSLA, error) {
	var row model.AlertSLA
	err := s.db.WithContext(ctx).Where("alert_id = ?", alertID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, alerting.NewErrorf(alerting.KindNotFound, "sla row for alert %s not found", alertID)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// SetTTAOnce records the time-to-acknowledge actuals. The conditional write
// (tta_actual_min IS NULL) makes repeated calls no-ops, so the first human
// response wins regardless of later transitions.
func (s *Store) SetTTAOnce(ctx context.Context, alertID string, actualMin float64, at time.Time, breached bool) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.AlertSLA{}).
		Where("alert_id = ? AND tta_actual_min IS NULL", alertID).
		Updates(map[string]any{
			"tta_actual_min":  actualMin,
			"acknowledged_at": at,
			"tta_breached":    breached,
		})
	return res.RowsAffected > 0, res.Error
}

// SetTTROnce records the time-to-resolve actuals with the same
// write-once guard on ttr_actual_min.
func (s *Store) SetTTROnce(ctx context.Context, alertID string, actualMin float64, at time.Time, breached bool) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.AlertSLA{}).
		Where("alert_id = ? AND ttr_actual_min IS NULL", alertID).
		Updates(map[string]any{
			"ttr_actual_min": actualMin,
			"resolved_at":    at,
			"ttr_breached":   breached,
		})
	return res.RowsAffected > 0, res.Error
}

// SLAFilter narrows compliance reports.
type SLAFilter struct {
	Severity    string
	WindowStart time.Time
	WindowEnd   time.Time
}

// SLARows returns SLA rows inside the window, optionally filtered by
// severity.
func (s *Store) SLARows(ctx context.Context, f SLAFilter) ([]model.AlertSLA, error) {
	q := s.db.WithContext(ctx).Model(&model.AlertSLA{})
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if !f.WindowStart.IsZero() {
		q = q.Where("created_at >= ?", f.WindowStart)
	}
	if !f.WindowEnd.IsZero() {
		q = q.Where("created_at <= ?", f.WindowEnd)
	}
	var rows []model.AlertSLA
	err := q.Order("created_at ASC").Find(&rows).Error
	return rows, err
}

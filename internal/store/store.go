// Package store is the transactional facade over the database. It owns every
// row; all other components read and write through its operations and keep no
// mutable state across transactions.
package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/plantwatch/alertcore/internal/alerting"
	"github.com/plantwatch/alertcore/internal/model"
)

// Store wraps a *gorm.DB with a clock and transaction helpers. Every
// externally observable change commits in exactly one transaction.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// New creates a Store using UTC wall-clock time.
func New(db *gorm.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock replaces the store clock. Tests use this to pin instants; all
// history timestamps and SLA math use the store clock, never caller clocks.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Now returns the store-assigned current instant.
func (s *Store) Now() time.Time { return s.now() }

// DB exposes the underlying handle for read-only queries.
func (s *Store) DB() *gorm.DB { return s.db }

// WithTx runs fn inside a single transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// WithTxRetry runs fn inside a transaction and retries exactly once when the
// failure is not a domain error. A second failure surfaces as
// STORE_UNAVAILABLE. Domain errors (validation, lifecycle) never retry.
func (s *Store) WithTxRetry(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := s.WithTx(ctx, fn)
	if err == nil {
		return nil
	}
	var de *alerting.Error
	if errors.As(err, &de) || errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if err = s.WithTx(ctx, fn); err == nil {
		return nil
	}
	if errors.As(err, &de) || errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return alerting.WrapError(alerting.KindStoreUnavailable, "store operation failed after retry", err)
}

// forUpdate applies SELECT ... FOR UPDATE on drivers that support it.
// SQLite has a single writer, so the transaction itself serialises there.
func (s *Store) forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// --- Alerts -----------------------------------------------------------------

// InsertAlert writes a new alert row inside tx.
func (s *Store) InsertAlert(tx *gorm.DB, a *model.Alert) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	if a.EscalationDue == nil {
		// New alerts are due immediately: tier 1 delay counts from creation.
		due := a.CreatedAt
		a.EscalationDue = &due
	}
	return tx.Create(a).Error
}

// LockAlert loads the alert row under a row-level lock so concurrent
// transitions on the same alert serialise.
func (s *Store) LockAlert(tx *gorm.DB, alertID string) (*model.Alert, error) {
	var a model.Alert
	err := s.forUpdate(tx).Where("id = ?", alertID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, alerting.NewErrorf(alerting.KindNotFound, "alert %s not found", alertID)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAlert loads an alert without locking.
func (s *Store) GetAlert(ctx context.Context, alertID string) (*model.Alert, error) {
	var a model.Alert
	err := s.db.WithContext(ctx).Where("id = ?", alertID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, alerting.NewErrorf(alerting.KindNotFound, "alert %s not found", alertID)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// AlertFilter narrows ListAlerts.
type AlertFilter struct {
	Severity string
	State    string
	DeviceID string
	Since    time.Time
	Limit    int
	Offset   int
}

// ListAlerts returns alerts matching the filter, newest first, plus the total
// match count for pagination.
func (s *Store) ListAlerts(ctx context.Context, f AlertFilter) ([]model.Alert, int64, error) {
	q := s.db.WithContext(ctx).Model(&model.Alert{})
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if f.DeviceID != "" {
		q = q.Where("device_id = ?", f.DeviceID)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}
	if f.State != "" {
		latest := s.db.Model(&model.AlertStateEntry{}).Select("MAX(id)").Group("alert_id")
		inState := s.db.Model(&model.AlertStateEntry{}).Select("alert_id").
			Where("id IN (?)", latest).Where("state = ?", f.State)
		q = q.Where("id IN (?)", inState)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	var alerts []model.Alert
	err := q.Order("created_at DESC").Limit(f.Limit).Offset(f.Offset).Find(&alerts).Error
	return alerts, total, err
}

// DeleteAlert removes an alert and cascades to its history and SLA row.
// Groups are independent: a deleted alert just stops counting toward its
// group the next time statistics are computed.
func (s *Store) DeleteAlert(ctx context.Context, alertID string) error {
	return s.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("alert_id = ?", alertID).Delete(&model.AlertStateEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Where("alert_id = ?", alertID).Delete(&model.AlertSLA{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", alertID).Delete(&model.Alert{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return alerting.NewErrorf(alerting.KindNotFound, "alert %s not found", alertID)
		}
		return nil
	})
}

// --- State history ----------------------------------------------------------

// AppendStateEntry adds one history row inside tx. Instant defaults to the
// store clock.
func (s *Store) AppendStateEntry(tx *gorm.DB, e *model.AlertStateEntry) error {
	if e.Instant.IsZero() {
		e.Instant = s.now()
	}
	return tx.Create(e).Error
}

// LatestStateEntry returns the newest history row for an alert. Ordering is
// by instant then insertion order, so the autoincrement ID is the tiebreaker.
func (s *Store) LatestStateEntry(tx *gorm.DB, alertID string) (*model.AlertStateEntry, error) {
	var e model.AlertStateEntry
	err := tx.Where("alert_id = ?", alertID).
		Order("instant DESC").Order("id DESC").
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, alerting.NewErrorf(alerting.KindNotFound, "alert %s has no state history", alertID)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// StateHistory returns the full history for an alert, oldest first.
func (s *Store) StateHistory(ctx context.Context, alertID string) ([]model.AlertStateEntry, error) {
	var entries []model.AlertStateEntry
	err := s.db.WithContext(ctx).Where("alert_id = ?", alertID).
		Order("instant ASC").Order("id ASC").
		Find(&entries).Error
	return entries, err
}

// CurrentState resolves the alert's current lifecycle state.
func (s *Store) CurrentState(ctx context.Context, alertID string) (alerting.State, error) {
	e, err := s.LatestStateEntry(s.db.WithContext(ctx), alertID)
	if err != nil {
		return "", err
	}
	return alerting.State(e.State), nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/plantwatch/alertcore/internal/alerting"
	"github.com/plantwatch/alertcore/internal/model"
)

// CompositeKey builds the grouping key for (device, rule, severity).
func CompositeKey(deviceID, ruleID string, severity alerting.Severity) string {
	return fmt.Sprintf("%s:%s:%s", deviceID, ruleID, severity)
}

// ActiveGroupForKey returns the newest active group for a composite key under
// a row lock, or nil when none exists. Locking the lookup row serialises
// concurrent ingests with the same key: the first creates, the rest absorb.
func (s *Store) ActiveGroupForKey(tx *gorm.DB, key string) (*model.AlertGroup, error) {
	var g model.AlertGroup
	err := s.forUpdate(tx).
		Where("composite_key = ? AND status = ?", key, model.GroupStatusActive).
		Order("last_occurrence DESC").
		First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// InsertGroup writes a fresh active group inside tx.
func (s *Store) InsertGroup(tx *gorm.DB, g *model.AlertGroup) error {
	now := s.now()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now
	return tx.Create(g).Error
}

// AbsorbIntoGroup increments the group's occurrence count and advances
// last_occurrence to max(current, instant), tolerating out-of-order alerts.
func (s *Store) AbsorbIntoGroup(tx *gorm.DB, g *model.AlertGroup, instant time.Time) error {
	last := g.LastOccurrence
	if instant.After(last) {
		last = instant
	}
	res := tx.Model(&model.AlertGroup{}).
		Where("id = ?", g.ID).
		Updates(map[string]any{
			"occurrence_count": gorm.Expr("occurrence_count + 1"),
			"last_occurrence":  last,
			"updated_at":       s.now(),
		})
	if res.Error != nil {
		return res.Error
	}
	g.OccurrenceCount++
	g.LastOccurrence = last
	return nil
}

// LinkAlertToGroup records the alert's group linkage inside tx.
func (s *Store) LinkAlertToGroup(tx *gorm.DB, alertID, groupID string) error {
	return tx.Model(&model.Alert{}).Where("id = ?", alertID).
		Update("group_id", groupID).Error
}

// GetGroup loads a group by ID.
func (s *Store) GetGroup(ctx context.Context, groupID string) (*model.AlertGroup, error) {
	var g model.AlertGroup
	err := s.db.WithContext(ctx).Where("id = ?", groupID).First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, alerting.NewErrorf(alerting.KindNotFound, "group %s not found", groupID)
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGroups returns groups filtered by status ("" for all), newest activity
// first.
func (s *Store) ListGroups(ctx context.Context, status string, limit, offset int) ([]model.AlertGroup, int64, error) {
	q := s.db.WithContext(ctx).Model(&model.AlertGroup{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 50
	}
	var groups []model.AlertGroup
	err := q.Order("last_occurrence DESC").Limit(limit).Offset(offset).Find(&groups).Error
	return groups, total, err
}

// CloseGroupIn closes a group inside an existing transaction. Used by the
// auto-close path when the last unresolved alert in a group resolves.
func (s *Store) CloseGroupIn(tx *gorm.DB, groupID string) error {
	return tx.Model(&model.AlertGroup{}).
		Where("id = ? AND status = ?", groupID, model.GroupStatusActive).
		Updates(map[string]any{"status": model.GroupStatusClosed, "updated_at": s.now()}).Error
}

// CloseGroup moves a group to closed. Closed groups never absorb new alerts.
func (s *Store) CloseGroup(ctx context.Context, groupID string) error {
	res := s.db.WithContext(ctx).Model(&model.AlertGroup{}).
		Where("id = ? AND status = ?", groupID, model.GroupStatusActive).
		Updates(map[string]any{"status": model.GroupStatusClosed, "updated_at": s.now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var g model.AlertGroup
		if err := s.db.WithContext(ctx).Where("id = ?", groupID).First(&g).Error; err != nil {
			return alerting.NewErrorf(alerting.KindNotFound, "group %s not found", groupID)
		}
		// already closed: closing is idempotent
	}
	return nil
}

// CountAlertsInGroup counts alerts currently linked to the group.
func (s *Store) CountAlertsInGroup(ctx context.Context, groupID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Alert{}).
		Where("group_id = ?", groupID).Count(&n).Error
	return n, err
}

// UnresolvedAlertsInGroup counts linked alerts whose current state is not
// resolved. Zero means the group is eligible for auto-close.
func (s *Store) UnresolvedAlertsInGroup(tx *gorm.DB, groupID string) (int64, error) {
	latest := tx.Session(&gorm.Session{NewDB: true}).Model(&model.AlertStateEntry{}).
		Select("MAX(id)").Group("alert_id")
	resolved := tx.Session(&gorm.Session{NewDB: true}).Model(&model.AlertStateEntry{}).
		Select("alert_id").Where("id IN (?)", latest).Where("state = ?", string(alerting.StateResolved))
	var n int64
	err := tx.Model(&model.Alert{}).
		Where("group_id = ?", groupID).
		Where("id NOT IN (?)", resolved).
		Count(&n).Error
	return n, err
}

// GroupTotals aggregates occurrence counts over groups whose activity falls
// inside the window. Used for the noise-reduction metric.
type GroupTotals struct {
	Groups      int64
	Occurrences int64
}

// GroupTotalsSince sums occurrence counts over active and closed groups with
// last activity at or after since.
func (s *Store) GroupTotalsSince(ctx context.Context, since time.Time) (GroupTotals, error) {
	var t GroupTotals
	row := s.db.WithContext(ctx).Model(&model.AlertGroup{}).
		Select("COUNT(*) AS groups, COALESCE(SUM(occurrence_count), 0) AS occurrences").
		Where("last_occurrence >= ?", since).
		Row()
	if err := row.Scan(&t.Groups, &t.Occurrences); err != nil {
		return GroupTotals{}, err
	}
	return t, nil
}

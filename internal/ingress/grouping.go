package ingress

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/plantwatch/alertcore/internal/alerting"
	"github.com/plantwatch/alertcore/internal/metrics"
	"github.com/plantwatch/alertcore/internal/model"
	"github.com/plantwatch/alertcore/internal/store"
)

// Grouper assigns ingested alerts to groups keyed by (device, rule, severity)
// inside a sliding time window, suppressing alert floods.
type Grouper struct {
	store  *store.Store
	window time.Duration
}

// NewGrouper creates a Grouper with the given absorption window.
func NewGrouper(st *store.Store, window time.Duration) *Grouper {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Grouper{store: st, window: window}
}

// Assign links the alert to the newest active group for its composite key
// when the alert's instant is within the window of the group's last
// occurrence; otherwise it opens a new group. Runs inside the alert creation
// transaction; the locked group lookup serialises concurrent ingests so the
// first creates and the rest absorb.
func (g *Grouper) Assign(tx *gorm.DB, a *model.Alert) (string, error) {
	key := store.CompositeKey(a.DeviceID, a.RuleID, alerting.Severity(a.Severity))
	grp, err := g.store.ActiveGroupForKey(tx, key)
	if err != nil {
		return "", err
	}
	// Out-of-order alerts (instant older than last_occurrence) still attach:
	// the elapsed check only rejects alerts newer than the window.
	if grp != nil && a.CreatedAt.Sub(grp.LastOccurrence) <= g.window {
		if err := g.store.AbsorbIntoGroup(tx, grp, a.CreatedAt); err != nil {
			return "", err
		}
		if err := g.store.LinkAlertToGroup(tx, a.ID, grp.ID); err != nil {
			return "", err
		}
		a.GroupID = &grp.ID
		metrics.ObserveGroupAbsorb()
		return grp.ID, nil
	}
	// A stale active group (last occurrence outside the window) must close
	// before the replacement opens: the partial unique index allows only one
	// active group per composite key.
	if grp != nil {
		if err := g.store.CloseGroupIn(tx, grp.ID); err != nil {
			return "", err
		}
	}

	fresh := &model.AlertGroup{
		DeviceID:            a.DeviceID,
		RuleID:              a.RuleID,
		Severity:            a.Severity,
		CompositeKey:        key,
		FirstOccurrence:     a.CreatedAt,
		LastOccurrence:      a.CreatedAt,
		OccurrenceCount:     1,
		Status:              model.GroupStatusActive,
		RepresentativeAlert: a.ID,
	}
	if err := g.store.InsertGroup(tx, fresh); err != nil {
		return "", err
	}
	if err := g.store.LinkAlertToGroup(tx, a.ID, fresh.ID); err != nil {
		return "", err
	}
	a.GroupID = &fresh.ID
	return fresh.ID, nil
}

// maybeAutoClose closes the alert's group inside tx when every linked alert
// has reached resolved. Explicit operator closure stays available through
// the API regardless.
func (g *Grouper) maybeAutoClose(tx *gorm.DB, a *model.Alert) error {
	if a.GroupID == nil {
		return nil
	}
	unresolved, err := g.store.UnresolvedAlertsInGroup(tx, *a.GroupID)
	if err != nil {
		return err
	}
	if unresolved > 0 {
		return nil
	}
	return g.store.CloseGroupIn(tx, *a.GroupID)
}

// GroupStats is the per-group statistics payload.
type GroupStats struct {
	GroupID           string    `json:"group_id"`
	CompositeKey      string    `json:"composite_key"`
	Status            string    `json:"status"`
	OccurrenceCount   int64     `json:"occurrence_count"`
	LinkedAlerts      int64     `json:"linked_alerts"`
	FirstOccurrence   time.Time `json:"first_occurrence"`
	LastOccurrence    time.Time `json:"last_occurrence"`
	NoiseReductionPct float64   `json:"noise_reduction_pct"`
}

// GroupStatistics reports one group's absorption metrics. Noise reduction is
// (N-1)/N x 100 where N is the group's occurrence count.
func (g *Grouper) GroupStatistics(ctx context.Context, groupID string) (*GroupStats, error) {
	grp, err := g.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	linked, err := g.store.CountAlertsInGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	stats := &GroupStats{
		GroupID:         grp.ID,
		CompositeKey:    grp.CompositeKey,
		Status:          grp.Status,
		OccurrenceCount: grp.OccurrenceCount,
		LinkedAlerts:    linked,
		FirstOccurrence: grp.FirstOccurrence,
		LastOccurrence:  grp.LastOccurrence,
	}
	if grp.OccurrenceCount > 0 {
		stats.NoiseReductionPct = float64(grp.OccurrenceCount-1) / float64(grp.OccurrenceCount) * 100
	}
	return stats, nil
}

// OverallStats aggregates noise reduction across all groups in a window.
type OverallStats struct {
	WindowStart       time.Time `json:"window_start"`
	Groups            int64     `json:"groups"`
	AbsorbedAlerts    int64     `json:"absorbed_alerts"`
	NoiseReductionPct float64   `json:"noise_reduction_pct"`
}

// OverallStatistics reports absorption across active and closed groups whose
// last activity is inside the window.
func (g *Grouper) OverallStatistics(ctx context.Context, window time.Duration) (*OverallStats, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	since := g.store.Now().Add(-window)
	totals, err := g.store.GroupTotalsSince(ctx, since)
	if err != nil {
		return nil, err
	}
	stats := &OverallStats{
		WindowStart:    since,
		Groups:         totals.Groups,
		AbsorbedAlerts: totals.Occurrences,
	}
	if totals.Occurrences > 0 {
		stats.NoiseReductionPct = float64(totals.Occurrences-totals.Groups) / float64(totals.Occurrences) * 100
	}
	return stats, nil
}

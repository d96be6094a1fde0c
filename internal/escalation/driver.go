package escalation

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/plantwatch/alertcore/internal/alerting"
	"github.com/plantwatch/alertcore/internal/metrics"
	"github.com/plantwatch/alertcore/internal/model"
	"github.com/plantwatch/alertcore/internal/notify"
	"github.com/plantwatch/alertcore/internal/store"
)

// Config controls the driver loop.
type Config struct {
	TickInterval    time.Duration // default 30s
	BatchSize       int           // alerts per tick, default 100
	AckSuppresses   bool          // acknowledged alerts pause escalation (default true)
	PerAlertTimeout time.Duration // default 5s
}

func (c *Config) defaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.PerAlertTimeout <= 0 {
		c.PerAlertTimeout = 5 * time.Second
	}
}

// Driver periodically selects alerts due for tier advancement, emits
// notification intents, and records the new tier in the alert's history.
// Multiple stateless workers may run; the Locker keeps a single active
// scanner per tick.
type Driver struct {
	store   *store.Store
	emitter notify.Emitter
	lock    Locker
	cfg     Config
	log     *slog.Logger
}

// NewDriver wires the escalation driver.
func NewDriver(st *store.Store, emitter notify.Emitter, lock Locker, cfg Config, log *slog.Logger) *Driver {
	cfg.defaults()
	if lock == nil {
		lock = NoopLocker{}
	}
	return &Driver{store: st, emitter: emitter, lock: lock, cfg: cfg, log: log}
}

// Run drives ticks at the configured interval until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()
	d.log.Info("escalation driver started", "tick_interval", d.cfg.TickInterval, "batch_size", d.cfg.BatchSize)
	for {
		select {
		case <-ticker.C:
			advanced, err := d.Tick(ctx)
			if err != nil {
				d.log.Error("escalation tick failed", "err", err)
			} else if advanced > 0 {
				d.log.Info("escalation tick complete", "advanced", advanced)
			}
		case <-ctx.Done():
			d.log.Info("escalation driver stopped")
			return
		}
	}
}

// Tick scans one bounded batch of candidates and advances each eligible
// alert. Alerts left over are reconsidered on the next tick; ordering across
// alerts is not guaranteed.
func (d *Driver) Tick(ctx context.Context) (int, error) {
	acquired, err := d.lock.TryAcquire(ctx, d.cfg.TickInterval)
	if err != nil {
		return 0, err
	}
	if !acquired {
		return 0, nil
	}
	defer func() {
		if err := d.lock.Release(ctx); err != nil {
			d.log.Warn("tick lock release failed", "err", err)
		}
	}()

	states := []alerting.State{alerting.StateNew, alerting.StateInvestigating}
	if !d.cfg.AckSuppresses {
		states = append(states, alerting.StateAcknowledged)
	}
	candidates, err := d.store.EscalationCandidates(ctx, states, d.store.Now(), d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	policies, err := d.store.EnabledPolicies(ctx)
	if err != nil {
		return 0, err
	}

	advanced := 0
	for _, c := range candidates {
		alertCtx, cancel := context.WithTimeout(ctx, d.cfg.PerAlertTimeout)
		ok, err := d.Advance(alertCtx, c.Alert.ID, policies)
		cancel()
		if err != nil {
			d.log.Error("tier advance failed", "alert_id", c.Alert.ID, "err", err)
			continue
		}
		if ok {
			advanced++
		}
	}
	return advanced, nil
}

// Advance moves one alert to its next tier when eligible. Eligibility is
// re-checked under the alert lock so a concurrent resolution aborts the
// advance before any intent is written. Returns true when a tier was
// committed.
func (d *Driver) Advance(ctx context.Context, alertID string, policies []model.EscalationPolicy) (bool, error) {
	var (
		committed []model.NotificationIntent
		severity  string
	)
	err := d.store.WithTxRetry(ctx, func(tx *gorm.DB) error {
		committed = nil
		a, err := d.store.LockAlert(tx, alertID)
		if err != nil {
			return err
		}
		severity = a.Severity

		latest, err := d.store.LatestStateEntry(tx, alertID)
		if err != nil {
			return err
		}
		if !d.stateEligible(alerting.State(latest.State)) {
			return nil
		}

		policy := SelectPolicy(policies, alerting.Severity(a.Severity))
		if policy == nil {
			// No escalation path: clear the cursor so the scan skips the
			// alert until a matching policy re-arms it.
			return d.store.SetEscalationDue(tx, alertID, nil)
		}

		tier, err := d.currentTier(tx, alertID)
		if err != nil {
			return err
		}
		if tier >= len(policy.Tiers) {
			// Chain exhausted.
			return d.store.SetEscalationDue(tx, alertID, nil)
		}
		next := policy.Tiers[tier]
		// Delays count from alert creation, not from the previous tier.
		due := a.CreatedAt.Add(time.Duration(next.DelayMinutes) * time.Minute)
		if d.store.Now().Before(due) {
			// Not due yet: park the cursor at the exact due instant.
			return d.store.SetEscalationDue(tx, alertID, &due)
		}

		intents := make([]model.NotificationIntent, 0, len(next.Channels)*len(next.Recipients))
		for _, ch := range next.Channels {
			for _, rcpt := range next.Recipients {
				intents = append(intents, model.NotificationIntent{
					AlertID:   alertID,
					Tier:      next.Level,
					Channel:   ch,
					Recipient: rcpt,
					Status:    model.IntentStatusPending,
				})
			}
		}
		if err := d.store.InsertIntents(tx, intents); err != nil {
			return err
		}

		entry := &model.AlertStateEntry{
			AlertID: alertID,
			State:   latest.State, // tier advancement preserves the lifecycle state
			Instant: d.store.Now(),
			Metadata: model.Metadata{
				MetaTierKey:   next.Level,
				MetaPolicyKey: policy.ID,
			},
		}
		if err := d.store.AppendStateEntry(tx, entry); err != nil {
			return err
		}
		var nextDue *time.Time
		if tier+1 < len(policy.Tiers) {
			t := a.CreatedAt.Add(time.Duration(policy.Tiers[tier+1].DelayMinutes) * time.Minute)
			nextDue = &t
		}
		if err := d.store.SetEscalationDue(tx, alertID, nextDue); err != nil {
			return err
		}
		committed = intents
		return nil
	})
	if err != nil {
		return false, err
	}
	if len(committed) == 0 {
		return false, nil
	}

	metrics.ObserveEscalation(severity)
	for _, intent := range committed {
		metrics.ObserveIntent(intent.Channel)
	}
	// The tier is already committed; emission failures are the emitter's to
	// log so re-drives never duplicate tiers.
	d.emitter.Emit(ctx, committed)
	return true, nil
}

func (d *Driver) stateEligible(s alerting.State) bool {
	switch s {
	case alerting.StateNew, alerting.StateInvestigating:
		return true
	case alerting.StateAcknowledged:
		return !d.cfg.AckSuppresses
	default:
		return false
	}
}

// currentTier walks the history newest-first and returns the first recorded
// tier, or 0 when the alert has never escalated. Lifecycle transitions
// append entries without tier metadata, so the walk carries the tier across
// them.
func (d *Driver) currentTier(tx *gorm.DB, alertID string) (int, error) {
	var entries []model.AlertStateEntry
	err := tx.Where("alert_id = ?", alertID).
		Order("instant DESC").Order("id DESC").
		Find(&entries).Error
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if tier, _ := TierFromMetadata(e.Metadata); tier >= 0 {
			return tier, nil
		}
	}
	return 0, nil
}

// Package seed creates the default escalation policies on first boot when
// the policies table is empty.
package seed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/plantwatch/alertcore/internal/alerting"
	"github.com/plantwatch/alertcore/internal/model"
	"github.com/plantwatch/alertcore/internal/store"
)

// DefaultPolicies returns the seed escalation policies: a tight chain for
// critical/high severities and a slower single-tier chain for the rest.
func DefaultPolicies() []model.EscalationPolicy {
	return []model.EscalationPolicy{
		{
			Name:       "default-urgent",
			Severities: model.StringSlice{string(alerting.SeverityCritical), string(alerting.SeverityHigh)},
			Enabled:    true,
			Tiers: model.EscalationTiers{
				{Level: 1, DelayMinutes: 0, Channels: model.StringSlice{"email"}, Recipients: model.StringSlice{"oncall-primary"}},
				{Level: 2, DelayMinutes: 5, Channels: model.StringSlice{"sms"}, Recipients: model.StringSlice{"oncall-primary"}},
				{Level: 3, DelayMinutes: 15, Channels: model.StringSlice{"voice"}, Recipients: model.StringSlice{"oncall-secondary", "duty-manager"}},
			},
		},
		{
			Name:       "default-routine",
			Severities: model.StringSlice{string(alerting.SeverityMedium), string(alerting.SeverityLow)},
			Enabled:    true,
			Tiers: model.EscalationTiers{
				{Level: 1, DelayMinutes: 30, Channels: model.StringSlice{"email"}, Recipients: model.StringSlice{"oncall-primary"}},
			},
		},
	}
}

// EnsurePolicies inserts the default policies if none exist. Idempotent; safe
// to call on every startup.
func EnsurePolicies(ctx context.Context, st *store.Store, log *slog.Logger) error {
	count, err := st.CountPolicies(ctx)
	if err != nil {
		return fmt.Errorf("count policies: %w", err)
	}
	if count > 0 {
		log.Info("escalation policies already present", "count", count)
		return nil
	}

	for _, p := range DefaultPolicies() {
		p := p
		if err := st.CreatePolicy(ctx, &p); err != nil {
			return fmt.Errorf("insert seed policy %s: %w", p.Name, err)
		}
		log.Info("seed escalation policy created", "name", p.Name)
	}
	return nil
}

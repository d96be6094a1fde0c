// Package escalation advances unacknowledged alerts through policy tiers and
// emits notification intents for each new tier.
package escalation

import (
	"github.com/plantwatch/alertcore/internal/alerting"
	"github.com/plantwatch/alertcore/internal/model"
	"github.com/plantwatch/alertcore/internal/notify"
)

// Metadata keys carrying tier state inside history entries.
const (
	MetaTierKey   = "escalation_tier"
	MetaPolicyKey = "policy_id"
)

// SelectPolicy returns the applicable policy for a severity: the
// alphabetically first enabled policy whose severities contain it. policies
// must already be enabled rows in name order. nil means the alert has no
// escalation path.
func SelectPolicy(policies []model.EscalationPolicy, severity alerting.Severity) *model.EscalationPolicy {
	for i := range policies {
		for _, s := range policies[i].Severities {
			if s == string(severity) {
				return &policies[i]
			}
		}
	}
	return nil
}

// ValidatePolicy checks the structural invariants of a policy: at least one
// tier, levels strictly increasing from 1, delays non-decreasing, known
// severities and channels.
func ValidatePolicy(p *model.EscalationPolicy) error {
	if p.Name == "" {
		return alerting.NewError(alerting.KindValidation, "policy name is required")
	}
	if len(p.Severities) == 0 {
		return alerting.NewError(alerting.KindValidation, "policy must list at least one severity")
	}
	for _, s := range p.Severities {
		if _, err := alerting.ParseSeverity(s); err != nil {
			return err
		}
	}
	if len(p.Tiers) == 0 {
		return alerting.NewError(alerting.KindValidation, "policy must define at least one tier")
	}
	prevDelay := -1
	for i, tier := range p.Tiers {
		if tier.Level != i+1 {
			return alerting.NewErrorf(alerting.KindValidation,
				"tier levels must increase strictly from 1; tier %d has level %d", i, tier.Level)
		}
		if tier.DelayMinutes < 0 {
			return alerting.NewErrorf(alerting.KindValidation, "tier %d has negative delay", tier.Level)
		}
		if tier.DelayMinutes < prevDelay {
			return alerting.NewErrorf(alerting.KindValidation,
				"tier delays must be non-decreasing; tier %d delay %d is below the previous tier",
				tier.Level, tier.DelayMinutes)
		}
		prevDelay = tier.DelayMinutes
		if len(tier.Channels) == 0 || len(tier.Recipients) == 0 {
			return alerting.NewErrorf(alerting.KindValidation,
				"tier %d must define channels and recipients", tier.Level)
		}
		for _, ch := range tier.Channels {
			if !notify.ValidChannel(ch) {
				return alerting.NewErrorf(alerting.KindValidation, "unknown channel %q in tier %d", ch, tier.Level)
			}
		}
	}
	return nil
}

// TierFromMetadata extracts the recorded tier from history entry metadata.
// JSON round-trips numbers as float64, so both int and float forms are
// accepted. Returns -1 when the entry carries no tier state.
func TierFromMetadata(md model.Metadata) (tier int, policyID string) {
	if md == nil {
		return -1, ""
	}
	raw, ok := md[MetaTierKey]
	if !ok {
		return -1, ""
	}
	switch v := raw.(type) {
	case int:
		tier = v
	case int64:
		tier = int(v)
	case float64:
		tier = int(v)
	default:
		return -1, ""
	}
	policyID, _ = md[MetaPolicyKey].(string)
	return tier, policyID
}

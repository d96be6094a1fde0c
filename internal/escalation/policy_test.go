package escalation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantwatch/alertcore/internal/alerting"
	"github.com/plantwatch/alertcore/internal/escalation"
	"github.com/plantwatch/alertcore/internal/model"
)

func validPolicy(name string, severities ...string) model.EscalationPolicy {
	return model.EscalationPolicy{
		ID:         "pol-" + name,
		Name:       name,
		Severities: severities,
		Enabled:    true,
		Tiers: model.EscalationTiers{
			{Level: 1, DelayMinutes: 0, Channels: []string{"email"}, Recipients: []string{"oncall-primary"}},
			{Level: 2, DelayMinutes: 5, Channels: []string{"sms"}, Recipients: []string{"oncall-primary"}},
		},
	}
}

func TestSelectPolicy(t *testing.T) {
	// Rows arrive in name order from the store.
	policies := []model.EscalationPolicy{
		validPolicy("aardvark", "high"),
		validPolicy("zebra", "high", "critical"),
	}

	got := escalation.SelectPolicy(policies, alerting.SeverityHigh)
	require.NotNil(t, got)
	assert.Equal(t, "aardvark", got.Name)

	got = escalation.SelectPolicy(policies, alerting.SeverityCritical)
	require.NotNil(t, got)
	assert.Equal(t, "zebra", got.Name)

	assert.Nil(t, escalation.SelectPolicy(policies, alerting.SeverityInfo))
	assert.Nil(t, escalation.SelectPolicy(nil, alerting.SeverityHigh))
}

func TestValidatePolicy(t *testing.T) {
	ok := validPolicy("plant-a", "critical")
	require.NoError(t, escalation.ValidatePolicy(&ok))

	mutate := func(fn func(p *model.EscalationPolicy)) *model.EscalationPolicy {
		p := validPolicy("plant-a", "critical")
		fn(&p)
		return &p
	}

	cases := []struct {
		name   string
		policy *model.EscalationPolicy
	}{
		{"missing name", mutate(func(p *model.EscalationPolicy) { p.Name = "" })},
		{"no severities", mutate(func(p *model.EscalationPolicy) { p.Severities = nil })},
		{"unknown severity", mutate(func(p *model.EscalationPolicy) { p.Severities = []string{"catastrophic"} })},
		{"no tiers", mutate(func(p *model.EscalationPolicy) { p.Tiers = nil })},
		{"level gap", mutate(func(p *model.EscalationPolicy) { p.Tiers[1].Level = 3 })},
		{"level not starting at 1", mutate(func(p *model.EscalationPolicy) { p.Tiers[0].Level = 0 })},
		{"negative delay", mutate(func(p *model.EscalationPolicy) { p.Tiers[0].DelayMinutes = -1 })},
		{"decreasing delay", mutate(func(p *model.EscalationPolicy) {
			p.Tiers[0].DelayMinutes = 10
			p.Tiers[1].DelayMinutes = 5
		})},
		{"unknown channel", mutate(func(p *model.EscalationPolicy) { p.Tiers[0].Channels = []string{"carrier-pigeon"} })},
		{"no channels", mutate(func(p *model.EscalationPolicy) { p.Tiers[1].Channels = nil })},
		{"no recipients", mutate(func(p *model.EscalationPolicy) { p.Tiers[1].Recipients = nil })},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := escalation.ValidatePolicy(tc.policy)
			assert.True(t, alerting.IsKind(err, alerting.KindValidation), "got %v", err)
		})
	}
}

func TestValidatePolicy_EqualDelaysAllowed(t *testing.T) {
	p := validPolicy("plant-a", "critical")
	p.Tiers[1].DelayMinutes = p.Tiers[0].DelayMinutes
	assert.NoError(t, escalation.ValidatePolicy(&p))
}

func TestTierFromMetadata(t *testing.T) {
	tier, policyID := escalation.TierFromMetadata(nil)
	assert.Equal(t, -1, tier)
	assert.Empty(t, policyID)

	tier, _ = escalation.TierFromMetadata(model.Metadata{"actor_note": "x"})
	assert.Equal(t, -1, tier)

	// Values written in-process arrive as int; values read back from the
	// JSON column arrive as float64.
	tier, policyID = escalation.TierFromMetadata(model.Metadata{
		escalation.MetaTierKey:   2,
		escalation.MetaPolicyKey: "pol-a",
	})
	assert.Equal(t, 2, tier)
	assert.Equal(t, "pol-a", policyID)

	tier, policyID = escalation.TierFromMetadata(model.Metadata{
		escalation.MetaTierKey:   float64(3),
		escalation.MetaPolicyKey: "pol-b",
	})
	assert.Equal(t, 3, tier)
	assert.Equal(t, "pol-b", policyID)

	tier, _ = escalation.TierFromMetadata(model.Metadata{escalation.MetaTierKey: "two"})
	assert.Equal(t, -1, tier)
}

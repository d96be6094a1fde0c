package alerting

// Severity ranks an alert. The set is closed; unknown values are rejected at
// ingress with a VALIDATION error.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Severities lists all valid severities, highest first.
var Severities = []Severity{
	SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo,
}

// ParseSeverity validates a raw severity string.
func ParseSeverity(raw string) (Severity, error) {
	s := Severity(raw)
	for _, known := range Severities {
		if s == known {
			return s, nil
		}
	}
	return "", NewErrorf(KindValidation, "unknown severity %q", raw)
}

// SLATargets holds the acknowledge/resolve targets for one severity, in
// minutes from alert creation.
type SLATargets struct {
	TTAMinutes int `json:"tta_minutes" yaml:"tta_minutes"`
	TTRMinutes int `json:"ttr_minutes" yaml:"ttr_minutes"`
}

// SeverityTargets maps each severity to its SLA targets.
type SeverityTargets map[Severity]SLATargets

// DefaultSeverityTargets is the fixed severity → SLA table. It may be
// overridden only at deployment time through the YAML config overlay.
func DefaultSeverityTargets() SeverityTargets {
	return SeverityTargets{
		SeverityCritical: {TTAMinutes: 5, TTRMinutes: 30},
		SeverityHigh:     {TTAMinutes: 15, TTRMinutes: 120},
		SeverityMedium:   {TTAMinutes: 60, TTRMinutes: 480},
		SeverityLow:      {TTAMinutes: 240, TTRMinutes: 1440},
		SeverityInfo:     {TTAMinutes: 1440, TTRMinutes: 10080},
	}
}

// TargetsFor returns the SLA targets for a severity from t, falling back to
// the default table when t has no entry.
func (t SeverityTargets) TargetsFor(s Severity) SLATargets {
	if targets, ok := t[s]; ok {
		return targets
	}
	return DefaultSeverityTargets()[s]
}

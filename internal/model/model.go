// Package model contains GORM model definitions shared across packages.
// All models are driver-agnostic: they work with both PostgreSQL and SQLite.
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Metadata is a free-form map that GORM serialises as JSON for both SQLite
// (TEXT column) and PostgreSQL.
type Metadata map[string]any

// StringSlice is a []string serialised as JSON for both drivers.
type StringSlice []string

// Alert is an alert event ingested from a rule engine or the anomaly bridge.
// Immutable after creation except for the group linkage and the escalation
// cursor; lifecycle lives in the alert_state_entries history.
type Alert struct {
	ID       string   `gorm:"type:text;primaryKey" json:"id"`
	DeviceID string   `gorm:"type:text;not null;index:idx_alerts_device_created,priority:1" json:"device_id"`
	RuleID   string   `gorm:"type:text;not null" json:"rule_id"`
	Severity string   `gorm:"type:text;not null" json:"severity"`
	Message  string   `gorm:"type:text;not null" json:"message"`
	Payload  Metadata `gorm:"type:text;serializer:json" json:"payload,omitempty"`
	GroupID  *string  `gorm:"type:text;index" json:"group_id,omitempty"`
	// EscalationDue is the driver's scan cursor: the instant the next tier
	// becomes due. Nil means no pending tier (chain exhausted or no policy).
	EscalationDue *time.Time `gorm:"index" json:"-"`
	CreatedAt     time.Time  `gorm:"not null;index;index:idx_alerts_device_created,priority:2" json:"created_at"`
}

// BeforeCreate generates a UUID primary key if not set.
func (a *Alert) BeforeCreate(_ *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

// AlertStateEntry is one row of an alert's append-only state history.
// The autoincrement ID is the insertion-order tiebreaker: the entry with the
// highest ID is the current state. Rows are never updated or deleted on
// their own; they go away only when the owning alert is deleted.
type AlertStateEntry struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	AlertID  string    `gorm:"type:text;not null;index:idx_state_entries_alert_instant,priority:1" json:"alert_id"`
	State    string    `gorm:"type:text;not null" json:"state"`
	Actor    *string   `gorm:"type:text" json:"actor"` // nil means system actor
	Instant  time.Time `gorm:"not null;index:idx_state_entries_alert_instant,priority:2,sort:desc" json:"instant"`
	Notes    string    `gorm:"type:text;not null;default:''" json:"notes,omitempty"`
	Metadata Metadata  `gorm:"type:text;serializer:json" json:"metadata,omitempty"`
}

// AlertSLA is the single SLA accounting row per alert. Targets are fixed at
// creation from the severity table; actuals are written at most once each.
type AlertSLA struct {
	AlertID        string     `gorm:"type:text;primaryKey" json:"alert_id"`
	Severity       string     `gorm:"type:text;not null;index:idx_slas_severity_created,priority:1" json:"severity"`
	TTATargetMin   int        `gorm:"not null" json:"tta_target_min"`
	TTRTargetMin   int        `gorm:"not null" json:"ttr_target_min"`
	TTAActualMin   *float64   `gorm:"" json:"tta_actual_min"`
	TTRActualMin   *float64   `gorm:"" json:"ttr_actual_min"`
	AcknowledgedAt *time.Time `gorm:"" json:"acknowledged_at"`
	ResolvedAt     *time.Time `gorm:"" json:"resolved_at"`
	TTABreached    bool       `gorm:"not null;default:false" json:"tta_breached"`
	TTRBreached    bool       `gorm:"not null;default:false" json:"ttr_breached"`
	CreatedAt      time.Time  `gorm:"not null;index:idx_slas_severity_created,priority:2" json:"created_at"`
}

// Group status values.
const (
	GroupStatusActive = "active"
	GroupStatusClosed = "closed"
)

// AlertGroup deduplicates alert floods. At most one active group may exist
// per composite key; the partial unique index enforcing that lives in the
// Postgres migration, SQLite serialises on the store transaction instead.
type AlertGroup struct {
	ID                  string    `gorm:"type:text;primaryKey" json:"id"`
	DeviceID            string    `gorm:"type:text;not null" json:"device_id"`
	RuleID              string    `gorm:"type:text;not null" json:"rule_id"`
	Severity            string    `gorm:"type:text;not null" json:"severity"`
	CompositeKey        string    `gorm:"type:text;not null;index" json:"composite_key"`
	FirstOccurrence     time.Time `gorm:"not null" json:"first_occurrence"`
	LastOccurrence      time.Time `gorm:"not null" json:"last_occurrence"`
	OccurrenceCount     int64     `gorm:"not null;default:1" json:"occurrence_count"`
	Status              string    `gorm:"type:text;not null;default:'active'" json:"status"`
	RepresentativeAlert string    `gorm:"type:text;not null" json:"representative_alert"`
	Metadata            Metadata  `gorm:"type:text;serializer:json" json:"metadata,omitempty"`
	CreatedAt           time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time `gorm:"not null" json:"updated_at"`
}

// BeforeCreate generates a UUID primary key if not set.
func (g *AlertGroup) BeforeCreate(_ *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	return nil
}

// EscalationTier is one step of an escalation policy. Tiers are stored as a
// JSON column on the policy row; levels are strictly increasing from 1 and
// delays are measured from alert creation.
type EscalationTier struct {
	Level        int         `json:"level"`
	DelayMinutes int         `json:"delay_minutes"`
	Channels     StringSlice `json:"channels"`
	Recipients   StringSlice `json:"recipients"`
}

// EscalationTiers is the ordered tier list serialised as JSON.
type EscalationTiers []EscalationTier

// EscalationPolicy drives multi-tier notification chains for matching
// severities. Policy selection is by alphabetical name among enabled rows.
type EscalationPolicy struct {
	ID         string          `gorm:"type:text;primaryKey" json:"id"`
	Name       string          `gorm:"type:text;not null;uniqueIndex" json:"name"`
	Severities StringSlice     `gorm:"type:text;not null;serializer:json" json:"severities"`
	Enabled    bool            `gorm:"not null;default:true" json:"enabled"`
	Tiers      EscalationTiers `gorm:"type:text;not null;serializer:json" json:"tiers"`
	CreatedAt  time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"not null" json:"updated_at"`
}

// BeforeCreate generates a UUID primary key if not set.
func (p *EscalationPolicy) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// ScheduleOverride is a time-bounded replacement of the rotation user,
// consulted before rotation math. First matching override wins.
type ScheduleOverride struct {
	UserID string    `json:"user_id"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Reason string    `json:"reason,omitempty"`
}

// ScheduleOverrides is the override list serialised as JSON.
type ScheduleOverrides []ScheduleOverride

// Rotation types.
const (
	RotationWeekly = "weekly"
	RotationDaily  = "daily"
)

// OnCallSchedule describes a rotation. RotationStart is authoritative for
// cycle phase; Timezone names an IANA location.
type OnCallSchedule struct {
	ID            string            `gorm:"type:text;primaryKey" json:"id"`
	Name          string            `gorm:"type:text;not null;uniqueIndex" json:"name"`
	Timezone      string            `gorm:"type:text;not null;default:'UTC'" json:"timezone"`
	Enabled       bool              `gorm:"not null;default:true" json:"enabled"`
	RotationType  string            `gorm:"type:text;not null;default:'weekly'" json:"rotation_type"`
	RotationStart time.Time         `gorm:"not null" json:"rotation_start"`
	Users         StringSlice       `gorm:"type:text;not null;serializer:json" json:"users"`
	Overrides     ScheduleOverrides `gorm:"type:text;serializer:json" json:"overrides,omitempty"`
	CreatedAt     time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"not null" json:"updated_at"`
}

// BeforeCreate generates a UUID primary key if not set.
func (s *OnCallSchedule) BeforeCreate(_ *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

// Intent statuses recorded for audit.
const (
	IntentStatusPending   = "pending"
	IntentStatusDelivered = "delivered"
	IntentStatusFailed    = "failed"
)

// NotificationIntent is the audit row for one notification emitted by the
// escalation driver. Delivery is the external collaborator's job; delivery
// acknowledgements update Status and Detail.
type NotificationIntent struct {
	ID        string     `gorm:"type:text;primaryKey" json:"id"`
	AlertID   string     `gorm:"type:text;not null;index" json:"alert_id"`
	Tier      int        `gorm:"not null" json:"tier"`
	Channel   string     `gorm:"type:text;not null" json:"channel"`
	Recipient string     `gorm:"type:text;not null" json:"recipient"`
	Status    string     `gorm:"type:text;not null;default:'pending'" json:"status"`
	Detail    string     `gorm:"type:text;not null;default:''" json:"detail,omitempty"`
	AckedAt   *time.Time `gorm:"" json:"acked_at"`
	CreatedAt time.Time  `gorm:"not null" json:"created_at"`
}

// BeforeCreate generates a UUID primary key if not set.
func (n *NotificationIntent) BeforeCreate(_ *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	return nil
}

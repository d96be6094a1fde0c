// Package ingress is the single entry point for new alerts and lifecycle
// transitions, plus the read API over alerts, groups, and SLA rows. All
// writes commit in one transaction; components share the Store and keep no
// state of their own.
package ingress

import (
	"context"
	"log/slog"

	"gorm.io/gorm"

	"github.com/plantwatch/alertcore/internal/alerting"
	"github.com/plantwatch/alertcore/internal/metrics"
	"github.com/plantwatch/alertcore/internal/model"
	"github.com/plantwatch/alertcore/internal/store"
)

// Service orchestrates alert creation, state transitions, and queries.
type Service struct {
	store     *store.Store
	grouper   *Grouper
	sla       *SLATracker
	listeners []alerting.TransitionListener
	log       *slog.Logger
}

// NewService wires the ingress service.
func NewService(st *store.Store, grouper *Grouper, sla *SLATracker, log *slog.Logger) *Service {
	return &Service{store: st, grouper: grouper, sla: sla, log: log}
}

// RegisterListener adds a transition listener. Listeners run after commit;
// their failures are logged and never fail the transition.
func (s *Service) RegisterListener(l alerting.TransitionListener) {
	s.listeners = append(s.listeners, l)
}

// Store exposes the underlying store for read-side collaborators.
func (s *Service) Store() *store.Store { return s.store }

// Grouper exposes the grouping engine for statistics endpoints.
func (s *Service) Grouper() *Grouper { return s.grouper }

// SLA exposes the SLA tracker for report endpoints.
func (s *Service) SLA() *SLATracker { return s.sla }

// CreateAlertInput is the ingress payload for a new alert.
type CreateAlertInput struct {
	DeviceID string
	RuleID   string
	Severity string
	Message  string
	Payload  map[string]any
}

// CreateAlertResult is the composite result of a successful ingress.
type CreateAlertResult struct {
	AlertID    string              `json:"alert_id"`
	State      alerting.State      `json:"state"`
	SLATargets alerting.SLATargets `json:"sla_targets"`
	GroupID    string              `json:"group_id"`
	Alert      *model.Alert        `json:"-"`
}

// CreateAlert performs the full ingress transaction: insert the alert, write
// the initial `new` history entry with the system actor, materialise the SLA
// row, and attach to or open a group. Idempotency is not assumed; callers
// may dedupe by payload hash upstream.
func (s *Service) CreateAlert(ctx context.Context, in CreateAlertInput) (*CreateAlertResult, error) {
	if in.DeviceID == "" || in.RuleID == "" || in.Message == "" {
		return nil, alerting.NewError(alerting.KindValidation, "device_id, rule_id and message are required")
	}
	sev, err := alerting.ParseSeverity(in.Severity)
	if err != nil {
		return nil, err
	}

	var result CreateAlertResult
	err = s.store.WithTxRetry(ctx, func(tx *gorm.DB) error {
		a := &model.Alert{
			DeviceID: in.DeviceID,
			RuleID:   in.RuleID,
			Severity: string(sev),
			Message:  in.Message,
			Payload:  in.Payload,
		}
		if err := s.store.InsertAlert(tx, a); err != nil {
			return err
		}
		entry := &model.AlertStateEntry{
			AlertID: a.ID,
			State:   string(alerting.StateNew),
			Actor:   nil, // system actor
			Instant: a.CreatedAt,
		}
		if err := s.store.AppendStateEntry(tx, entry); err != nil {
			return err
		}
		slaRow, err := s.sla.Materialize(tx, a)
		if err != nil {
			return err
		}
		groupID, err := s.grouper.Assign(tx, a)
		if err != nil {
			return err
		}
		result = CreateAlertResult{
			AlertID: a.ID,
			State:   alerting.StateNew,
			SLATargets: alerting.SLATargets{
				TTAMinutes: slaRow.TTATargetMin,
				TTRMinutes: slaRow.TTRTargetMin,
			},
			GroupID: groupID,
			Alert:   a,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.ObserveAlertCreated(string(sev))
	s.log.Info("alert created",
		"alert_id", result.AlertID, "device_id", in.DeviceID,
		"rule_id", in.RuleID, "severity", string(sev), "group_id", result.GroupID)
	return &result, nil
}

// TransitionInput describes a requested lifecycle transition.
type TransitionInput struct {
	AlertID     string
	TargetState string
	Actor       *string
	Notes       string
	Metadata    model.Metadata
	Force       bool // privileged system recovery only
}

// Transition validates the lifecycle change under the alert row lock and
// appends the new history entry. On success the SLA tracker and any
// registered listeners are notified outside the transaction.
func (s *Service) Transition(ctx context.Context, in TransitionInput) (*model.AlertStateEntry, error) {
	target, err := alerting.ParseState(in.TargetState)
	if err != nil {
		return nil, err
	}

	var (
		entry *model.AlertStateEntry
		ev    alerting.TransitionEvent
	)
	err = s.store.WithTxRetry(ctx, func(tx *gorm.DB) error {
		a, err := s.store.LockAlert(tx, in.AlertID)
		if err != nil {
			return err
		}
		latest, err := s.store.LatestStateEntry(tx, in.AlertID)
		if err != nil {
			return err
		}
		from := alerting.State(latest.State)
		if err := alerting.ValidateTransition(from, target, in.Force); err != nil {
			return err
		}
		entry = &model.AlertStateEntry{
			AlertID:  in.AlertID,
			State:    string(target),
			Actor:    in.Actor,
			Instant:  s.store.Now(),
			Notes:    in.Notes,
			Metadata: in.Metadata,
		}
		if err := s.store.AppendStateEntry(tx, entry); err != nil {
			return err
		}
		if target == alerting.StateResolved {
			if err := s.grouper.maybeAutoClose(tx, a); err != nil {
				return err
			}
		}
		ev = alerting.TransitionEvent{
			AlertID:   in.AlertID,
			FromState: from,
			ToState:   target,
			Actor:     in.Actor,
			Instant:   entry.Instant,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ObserveTransition(string(target))
	// SLA failures are logged for reconciliation, never surfaced: the state
	// transition has already committed.
	if err := s.sla.HandleTransition(ctx, ev); err != nil {
		s.log.Error("sla update failed", "alert_id", in.AlertID, "to_state", string(target), "err", err)
	}
	for _, l := range s.listeners {
		l(ev)
	}
	return entry, nil
}

// AddNote appends a history entry that keeps the current state. Notes must
// be non-empty.
func (s *Service) AddNote(ctx context.Context, alertID string, actor *string, notes string, metadata model.Metadata) (*model.AlertStateEntry, error) {
	if notes == "" {
		return nil, alerting.NewError(alerting.KindValidation, "notes must be non-empty")
	}
	var entry *model.AlertStateEntry
	err := s.store.WithTxRetry(ctx, func(tx *gorm.DB) error {
		if _, err := s.store.LockAlert(tx, alertID); err != nil {
			return err
		}
		latest, err := s.store.LatestStateEntry(tx, alertID)
		if err != nil {
			return err
		}
		entry = &model.AlertStateEntry{
			AlertID:  alertID,
			State:    latest.State,
			Actor:    actor,
			Instant:  s.store.Now(),
			Notes:    notes,
			Metadata: metadata,
		}
		return s.store.AppendStateEntry(tx, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// AlertDetail is the full read model for one alert.
type AlertDetail struct {
	Alert   *model.Alert            `json:"alert"`
	State   alerting.State          `json:"state"`
	History []model.AlertStateEntry `json:"history"`
	SLA     *model.AlertSLA         `json:"sla"`
	GroupID *string                 `json:"group_id"`
}

// GetAlertDetail loads the alert, its current state, full history, and SLA
// row.
func (s *Service) GetAlertDetail(ctx context.Context, alertID string) (*AlertDetail, error) {
	a, err := s.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	history, err := s.store.StateHistory(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, alerting.NewErrorf(alerting.KindInternal, "alert %s has no state history", alertID)
	}
	sla, err := s.store.GetSLA(ctx, alertID)
	if err != nil {
		return nil, err
	}
	return &AlertDetail{
		Alert:   a,
		State:   alerting.State(history[len(history)-1].State),
		History: history,
		SLA:     sla,
		GroupID: a.GroupID,
	}, nil
}

// ListAlerts is the paginated listing used by the query API.
func (s *Service) ListAlerts(ctx context.Context, f store.AlertFilter) ([]model.Alert, int64, error) {
	if f.Severity != "" {
		if _, err := alerting.ParseSeverity(f.Severity); err != nil {
			return nil, 0, err
		}
	}
	if f.State != "" {
		if _, err := alerting.ParseState(f.State); err != nil {
			return nil, 0, err
		}
	}
	return s.store.ListAlerts(ctx, f)
}

// Package notify defines the outbound notification dispatch boundary. The
// core emits intents; delivering them over a concrete transport is the
// external collaborator's responsibility.
package notify

import (
	"context"
	"log/slog"

	"github.com/plantwatch/alertcore/internal/model"
	"github.com/plantwatch/alertcore/internal/store"
)

// Channels the dispatch contract accepts.
var Channels = []string{"email", "sms", "voice", "webhook"}

// ValidChannel reports whether ch is a known dispatch channel.
func ValidChannel(ch string) bool {
	for _, known := range Channels {
		if ch == known {
			return true
		}
	}
	return false
}

// Dispatcher hands one intent to the external notification collaborator.
type Dispatcher interface {
	Dispatch(ctx context.Context, intent model.NotificationIntent) error
}

// Emitter forwards a batch of committed intents toward dispatch. The tier
// advancement has already committed when Emit runs; emission failures are
// logged per intent and never duplicate tiers on re-drive.
type Emitter interface {
	Emit(ctx context.Context, intents []model.NotificationIntent)
}

// LogDispatcher is the default collaborator stub: it logs each intent and
// reports success. Deployments plug a real gateway behind the Dispatcher
// interface.
type LogDispatcher struct {
	log *slog.Logger
}

// NewLogDispatcher creates a LogDispatcher.
func NewLogDispatcher(log *slog.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

// Dispatch logs the intent.
func (d *LogDispatcher) Dispatch(_ context.Context, intent model.NotificationIntent) error {
	d.log.Info("notification intent dispatched",
		"intent_id", intent.ID, "alert_id", intent.AlertID,
		"tier", intent.Tier, "channel", intent.Channel, "recipient", intent.Recipient)
	return nil
}

// DirectEmitter dispatches intents synchronously and records the delivery
// outcome on the audit row. Used when no job queue is available (SQLite).
type DirectEmitter struct {
	store      *store.Store
	dispatcher Dispatcher
	log        *slog.Logger
}

// NewDirectEmitter creates a DirectEmitter.
func NewDirectEmitter(st *store.Store, d Dispatcher, log *slog.Logger) *DirectEmitter {
	return &DirectEmitter{store: st, dispatcher: d, log: log}
}

// Emit dispatches each intent in order, recording per-intent outcomes.
func (e *DirectEmitter) Emit(ctx context.Context, intents []model.NotificationIntent) {
	for _, intent := range intents {
		if err := e.dispatcher.Dispatch(ctx, intent); err != nil {
			e.log.Error("intent dispatch failed", "intent_id", intent.ID, "err", err)
			if ackErr := e.store.AckIntent(ctx, intent.ID, model.IntentStatusFailed, err.Error()); ackErr != nil {
				e.log.Error("intent ack failed", "intent_id", intent.ID, "err", ackErr)
			}
			continue
		}
		if err := e.store.AckIntent(ctx, intent.ID, model.IntentStatusDelivered, ""); err != nil {
			e.log.Error("intent ack failed", "intent_id", intent.ID, "err", err)
		}
	}
}

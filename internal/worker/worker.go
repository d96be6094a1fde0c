// Package worker bootstraps the River job queue that carries notification
// intent dispatch off the escalation driver's critical path.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/plantwatch/alertcore/internal/model"
	"github.com/plantwatch/alertcore/internal/notify"
	"github.com/plantwatch/alertcore/internal/store"
)

// DispatchArgs queues one committed intent for delivery.
type DispatchArgs struct {
	IntentID string `json:"intent_id"`
}

// Kind returns the unique job type identifier for dispatch jobs.
func (DispatchArgs) Kind() string { return "notification_dispatch" }

type dispatchWorker struct {
	river.WorkerDefaults[DispatchArgs]
	store      *store.Store
	dispatcher notify.Dispatcher
	log        *slog.Logger
}

// Work delivers one intent and records the outcome on the audit row. River
// retries failed jobs; the delivered/failed ack keeps the audit trail honest
// either way.
func (w *dispatchWorker) Work(ctx context.Context, job *river.Job[DispatchArgs]) error {
	intent, err := w.store.GetIntent(ctx, job.Args.IntentID)
	if err != nil {
		return err
	}
	if intent.Status == model.IntentStatusDelivered {
		return nil // re-drive after a crash: already delivered
	}
	if err := w.dispatcher.Dispatch(ctx, *intent); err != nil {
		if ackErr := w.store.AckIntent(ctx, intent.ID, model.IntentStatusFailed, err.Error()); ackErr != nil {
			w.log.Error("intent ack failed", "intent_id", intent.ID, "err", ackErr)
		}
		return err
	}
	return w.store.AckIntent(ctx, intent.ID, model.IntentStatusDelivered, "")
}

// Queue is the interface exposed by both the real River client and noopQueue.
type Queue interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Client wraps river.Client and exposes a Start/Stop lifecycle plus an
// Emitter that enqueues dispatch jobs.
type Client struct {
	client *river.Client[pgx.Tx]
	log    *slog.Logger
}

// Start begins processing queued jobs.
func (c *Client) Start(ctx context.Context) error { return c.client.Start(ctx) }

// Stop gracefully shuts down the worker client.
func (c *Client) Stop(ctx context.Context) error { return c.client.Stop(ctx) }

// Emit enqueues one dispatch job per committed intent. Enqueue failures are
// logged per intent; the tier advancement already committed, so nothing is
// rolled back here.
func (c *Client) Emit(ctx context.Context, intents []model.NotificationIntent) {
	params := make([]river.InsertManyParams, 0, len(intents))
	for _, intent := range intents {
		params = append(params, river.InsertManyParams{Args: DispatchArgs{IntentID: intent.ID}})
	}
	if len(params) == 0 {
		return
	}
	if _, err := c.client.InsertMany(ctx, params); err != nil {
		c.log.Error("intent enqueue failed", "count", len(params), "err", err)
	}
}

// noopQueue is used when River is unavailable (DB_DRIVER=sqlite); intents
// are then dispatched synchronously through notify.DirectEmitter.
type noopQueue struct{ log *slog.Logger }

func (n *noopQueue) Start(_ context.Context) error {
	n.log.Info("worker queue disabled: River requires postgres")
	return nil
}
func (n *noopQueue) Stop(_ context.Context) error { return nil }

// New creates a queue implementation appropriate for the given driver.
//   - "postgres": returns a River client whose Emit enqueues dispatch jobs.
//   - anything else: returns a no-op queue and a nil emitter; callers fall
//     back to synchronous dispatch.
//
// pool may be nil when driver != "postgres".
func New(ctx context.Context, pool *pgxpool.Pool, driver string, concurrency int, st *store.Store, dispatcher notify.Dispatcher, log *slog.Logger) (Queue, notify.Emitter, error) {
	if driver != "postgres" {
		return &noopQueue{log: log}, nil, nil
	}
	workers := river.NewWorkers()
	river.AddWorker(workers, &dispatchWorker{store: st, dispatcher: dispatcher, log: log})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: concurrency},
		},
		Workers: workers,
		Logger:  log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create river client: %w", err)
	}
	c := &Client{client: client, log: log}
	return c, c, nil
}

// MigrateRiver runs River's built-in schema migrations against the given pool.
// Only call this when DB_DRIVER=postgres.
func MigrateRiver(ctx context.Context, db *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(db), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("run river migrations: %w", err)
	}
	return nil
}

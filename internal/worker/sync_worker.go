package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"budgetflow/internal/amqp"
	"budgetflow/internal/core"
	"budgetflow/internal/services"
)

// Syncer runs bank syncs. *services.Reconciler satisfies it.
type Syncer interface {
	Sync(ctx context.Context, userID, connectionID string) (services.SyncResult, error)
	SyncAll(ctx context.Context, userID string) ([]services.SyncOutcome, error)
}

// Consumer delivers queued sync requests. *amqp.Client satisfies it.
type Consumer interface {
	ConsumeSyncRequests(ctx context.Context, handler amqp.Handler) error
}

// SyncWorker consumes sync requests and runs them against the reconciler
type SyncWorker struct {
	syncer   Syncer
	consumer Consumer

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
	err     error
}

func NewSyncWorker(syncer Syncer, consumer Consumer) *SyncWorker {
	return &SyncWorker{syncer: syncer, consumer: consumer}
}

// HandleSyncRequest runs the sync a message asks for. A failed sync is
// already recorded on the connection, so it is logged and the message is
// acked; the next request resumes from the stored cursor. Only a sync cut
// short by the worker's own shutdown is returned, which puts the message
// back on the queue.
func (w *SyncWorker) HandleSyncRequest(ctx context.Context, msg *amqp.SyncRequestMessage) error {
	start := time.Now()
	slog.InfoContext(ctx, "Processing sync request",
		"user_id", msg.UserID,
		"connection_id", msg.ConnectionID,
		"queued_for", start.Sub(msg.Timestamp).Round(time.Millisecond))

	if msg.ConnectionID == "" {
		return w.syncAll(ctx, msg.UserID)
	}

	res, err := w.syncer.Sync(ctx, msg.UserID, msg.ConnectionID)
	if err != nil {
		if interrupted(ctx, err) {
			return fmt.Errorf("sync connection %s: %w", msg.ConnectionID, err)
		}
		slog.WarnContext(ctx, "Sync request failed",
			"user_id", msg.UserID,
			"connection_id", msg.ConnectionID,
			"permanent", permanent(err),
			"error", err)
		return nil
	}

	slog.InfoContext(ctx, "Sync request completed",
		"user_id", msg.UserID,
		"connection_id", msg.ConnectionID,
		"added", res.Added,
		"modified", res.Modified,
		"removed", res.Removed,
		"duration", time.Since(start))
	return nil
}

// syncAll requeues only on shutdown: each connection's failure is already
// recorded on the connection and the next request retries it from its cursor.
func (w *SyncWorker) syncAll(ctx context.Context, userID string) error {
	outcomes, err := w.syncer.SyncAll(ctx, userID)
	if err != nil {
		if interrupted(ctx, err) {
			return fmt.Errorf("sync all connections: %w", err)
		}
		slog.WarnContext(ctx, "Sync request failed",
			"user_id", userID,
			"permanent", permanent(err),
			"error", err)
		return nil
	}
	for _, o := range outcomes {
		if o.Err != nil {
			slog.WarnContext(ctx, "Connection sync failed",
				"user_id", userID,
				"connection_id", o.ConnectionID,
				"error", o.Err)
		}
	}
	return nil
}

// interrupted reports whether err comes from ctx ending mid-sync rather
// than from the feed or the store.
func interrupted(ctx context.Context, err error) bool {
	if ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func permanent(err error) bool {
	return errors.Is(err, core.ErrNotFound) ||
		errors.Is(err, core.ErrReauthRequired) ||
		errors.Is(err, core.ErrUnauthenticated)
}

// Start begins consuming in the background. Returns an error if already running.
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("sync worker is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.running = true
	w.cancel = cancel
	w.doneCh = make(chan struct{})
	w.err = nil

	go w.run(runCtx, w.doneCh)

	slog.InfoContext(ctx, "Sync worker started")
	return nil
}

func (w *SyncWorker) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	err := w.consumer.ConsumeSyncRequests(ctx, w.HandleSyncRequest)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.ErrorContext(ctx, "Sync request consumption failed", "error", err)
	}

	w.mu.Lock()
	w.running = false
	if !errors.Is(err, context.Canceled) {
		w.err = err
	}
	w.mu.Unlock()
}

// Stop cancels consumption and waits for the in-flight request to finish.
func (w *SyncWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	cancel, done := w.cancel, w.doneCh
	w.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		slog.InfoContext(ctx, "Sync worker stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sync worker stop timed out")
		return ctx.Err()
	}
	return nil
}

// Done is closed when consumption ends, whether stopped or failed.
func (w *SyncWorker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.doneCh
}

// Err reports why consumption ended, nil after a clean Stop.
func (w *SyncWorker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// IsRunning returns whether the worker is currently consuming
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

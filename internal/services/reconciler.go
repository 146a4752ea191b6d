package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"budgetflow/internal/classify"
	"budgetflow/internal/core"
	"budgetflow/internal/feed"
	"budgetflow/internal/ports"
)

// ReconcilerConfig holds configuration for the sync reconciler
type ReconcilerConfig struct {
	// PageSize is the number of records requested per delta page (default: 500)
	PageSize int

	// Concurrency bounds how many connections SyncAll syncs at once (default: 4)
	Concurrency int
}

func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		PageSize:    feed.MaxPageSize,
		Concurrency: 4,
	}
}

// SyncResult summarises one successful Sync call.
type SyncResult struct {
	ConnectionID string `json:"connectionId"`
	Added        int    `json:"added"`
	Skipped      int    `json:"skipped"`
	Modified     int    `json:"modified"`
	Removed      int    `json:"removed"`
	Pages        int    `json:"pages"`
	Cursor       string `json:"-"`
}

// SyncOutcome is the per-connection entry of a SyncAll run. Exactly one of
// Result and Err is set.
type SyncOutcome struct {
	ConnectionID string
	Result       *SyncResult
	Err          error
}

// Reconciler merges the delta feed into the transaction store. It keeps no
// state between calls; the stored cursor is the only continuation token.
type Reconciler struct {
	store      ports.Store
	feed       feed.Feed
	classifier classify.Classifier
	config     ReconcilerConfig
	now        func() time.Time
}

// NewReconciler creates a reconciler. classifier may be nil, in which case
// records the feed category map does not cover are stored unclassified.
func NewReconciler(store ports.Store, f feed.Feed, classifier classify.Classifier, config ReconcilerConfig) *Reconciler {
	if config.PageSize < 1 || config.PageSize > feed.MaxPageSize {
		config.PageSize = feed.MaxPageSize
	}
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	return &Reconciler{
		store:      store,
		feed:       f,
		classifier: classifier,
		config:     config,
		now:        time.Now,
	}
}

// Sync pulls every pending page for one connection. Each page and the
// cursor after it commit together, so a failure leaves the stored cursor
// at the last fully applied page.
func (r *Reconciler) Sync(ctx context.Context, userID, connectionID string) (SyncResult, error) {
	if userID == "" {
		return SyncResult{}, core.ErrUnauthenticated
	}
	conn, err := r.store.GetConnection(ctx, userID, connectionID)
	if err != nil {
		return SyncResult{}, fmt.Errorf("load connection: %w", err)
	}
	if conn.Status == core.ConnectionRequiresReauth {
		return SyncResult{}, fmt.Errorf("connection %s: %w", conn.ID, core.ErrReauthRequired)
	}

	start := r.now()
	result := SyncResult{ConnectionID: conn.ID, Cursor: conn.Cursor}
	it := feed.NewPageIterator(r.feed, conn.AccessToken, conn.Cursor, r.config.PageSize)

	for !it.Done() {
		page, err := it.Next(ctx)
		if err != nil {
			return result, r.fail(ctx, conn, upstreamError("fetch delta page", err))
		}

		counts, err := r.applyPage(ctx, conn, page, it.Cursor(), result.Cursor)
		if err != nil {
			return result, r.fail(ctx, conn, err)
		}
		result.Added += counts.Added
		result.Skipped += counts.Skipped
		result.Modified += counts.Modified
		result.Removed += counts.Removed
		result.Pages++
		result.Cursor = it.Cursor()
	}

	if err := r.store.MarkSynced(ctx, conn.ID, r.now()); err != nil {
		return result, r.fail(ctx, conn, fmt.Errorf("mark synced: %w", err))
	}

	slog.InfoContext(ctx, "Bank connection synced",
		"connection_id", conn.ID,
		"user_id", userID,
		"pages", result.Pages,
		"added", result.Added,
		"skipped", result.Skipped,
		"modified", result.Modified,
		"removed", result.Removed,
		"duration", time.Since(start))
	return result, nil
}

// SyncAll syncs every connection of the user concurrently. A failing
// connection is reported in its outcome and never stops the others.
func (r *Reconciler) SyncAll(ctx context.Context, userID string) ([]SyncOutcome, error) {
	if userID == "" {
		return nil, core.ErrUnauthenticated
	}
	conns, err := r.store.ListConnections(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}

	outcomes := make([]SyncOutcome, len(conns))
	var g errgroup.Group
	g.SetLimit(r.config.Concurrency)

	for i, conn := range conns {
		outcomes[i].ConnectionID = conn.ID
		if conn.Status == core.ConnectionRequiresReauth {
			outcomes[i].Err = fmt.Errorf("connection %s: %w", conn.ID, core.ErrReauthRequired)
			continue
		}
		g.Go(func() error {
			res, err := r.Sync(ctx, userID, conn.ID)
			if err != nil {
				outcomes[i].Err = err
				return nil
			}
			outcomes[i].Result = &res
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	slog.InfoContext(ctx, "Sync of all connections finished",
		"user_id", userID,
		"connections", len(conns),
		"failed", failed)
	return outcomes, nil
}

type pageCounts struct {
	Added, Skipped, Modified, Removed int
}

func (r *Reconciler) applyPage(ctx context.Context, conn core.BankConnection, page feed.Page, nextCursor, prevCursor string) (pageCounts, error) {
	var counts pageCounts
	if page.Empty() && nextCursor == prevCursor {
		return counts, nil
	}

	added, skipped, err := r.prepareAdded(ctx, conn, page.Added)
	if err != nil {
		return counts, err
	}
	counts.Skipped = skipped

	err = r.store.InTx(ctx, func(tx ports.Store) error {
		inserted, err := tx.InsertMany(ctx, added)
		if err != nil {
			return fmt.Errorf("insert added: %w", err)
		}
		// a concurrent sync may have inserted the same ids first
		counts.Added = inserted
		counts.Skipped += len(added) - inserted

		for _, rec := range page.Modified {
			local, err := tx.FindByExternalID(ctx, conn.UserID, rec.TransactionID)
			if errors.Is(err, core.ErrNotFound) {
				slog.DebugContext(ctx, "Modified record not stored locally",
					"connection_id", conn.ID,
					"external_id", rec.TransactionID)
				continue
			}
			if err != nil {
				return fmt.Errorf("find modified: %w", err)
			}
			if err := tx.Patch(ctx, conn.UserID, local.ID, feed.Patch(rec)); err != nil {
				return fmt.Errorf("patch modified: %w", err)
			}
			counts.Modified++
		}

		for _, externalID := range page.Removed {
			removed, err := tx.DeleteByExternalID(ctx, conn.UserID, externalID)
			if err != nil {
				return fmt.Errorf("delete removed: %w", err)
			}
			if removed {
				counts.Removed++
			}
		}

		return tx.UpdateCursor(ctx, conn.ID, nextCursor)
	})
	if err != nil {
		return pageCounts{}, fmt.Errorf("apply page: %w", err)
	}
	return counts, nil
}

// prepareAdded maps, dedups and classifies the added records of a page.
// It returns the transactions to insert and how many records were dropped.
func (r *Reconciler) prepareAdded(ctx context.Context, conn core.BankConnection, records []feed.Record) ([]core.Transaction, int, error) {
	if len(records) == 0 {
		return nil, 0, nil
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.TransactionID)
	}
	existing, err := r.store.ExistingExternalIDs(ctx, conn.UserID, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("check existing ids: %w", err)
	}

	var (
		txs     []core.Transaction
		skipped int
		seen    = make(map[string]bool, len(records))
	)
	// Every account the item exposes is in scope, including ones linked
	// after the exchange.
	for _, rec := range records {
		if rec.TransactionID == "" || existing[rec.TransactionID] || seen[rec.TransactionID] {
			skipped++
			continue
		}
		seen[rec.TransactionID] = true
		tx := feed.MapRecord(rec, conn.UserID, conn.ID)
		tx.ID = newID()
		txs = append(txs, tx)
	}

	if err := r.classify(ctx, txs); err != nil {
		return nil, 0, err
	}
	return txs, skipped, nil
}

// classify fills in expenses the feed category map left unclassified,
// using one batch call.
func (r *Reconciler) classify(ctx context.Context, txs []core.Transaction) error {
	if r.classifier == nil {
		return nil
	}
	var (
		idx    []int
		inputs []classify.Input
	)
	for i, tx := range txs {
		if tx.IsExpense() && tx.Category == "" {
			idx = append(idx, i)
			inputs = append(inputs, classify.InputFor(tx))
		}
	}
	if len(inputs) == 0 {
		return nil
	}

	results, err := r.classifier.ClassifyBatch(ctx, inputs)
	if err != nil {
		return upstreamError("classify batch", err)
	}
	for j, i := range idx {
		if j >= len(results) {
			break
		}
		txs[i].Category = results[j].Category
		txs[i].NecessityScore = core.ScorePtr(results[j].Score())
	}
	return nil
}

// fail records the failure on the connection and returns err. A login
// error parks the connection until the user re-authenticates.
func (r *Reconciler) fail(ctx context.Context, conn core.BankConnection, err error) error {
	status := core.ConnectionError
	if errors.Is(err, feed.ErrLoginRequired) {
		status = core.ConnectionRequiresReauth
		err = fmt.Errorf("%w: %w", core.ErrReauthRequired, err)
	}

	// the caller's context may already be cancelled
	if setErr := r.store.SetConnectionStatus(context.WithoutCancel(ctx), conn.ID, status); setErr != nil {
		slog.ErrorContext(ctx, "Failed to record sync failure",
			"connection_id", conn.ID,
			"error", setErr)
	}
	slog.WarnContext(ctx, "Bank connection sync failed",
		"connection_id", conn.ID,
		"user_id", conn.UserID,
		"status", status,
		"error", err)
	return err
}

func upstreamError(op string, err error) error {
	if errors.Is(err, core.ErrUpstreamFeed) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, core.ErrUpstreamFeed, err)
}

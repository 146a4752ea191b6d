package ports

import (
	"context"
	"time"

	"budgetflow/internal/core"
)

// Ports for outbound storage adapters. Every method scopes reads and writes
// to the owning user; a row owned by someone else behaves as missing.
type (
	TransactionRepository interface {
		// FindByDateRange returns the user's transactions with start <= date <= end,
		// ordered by date.
		FindByDateRange(ctx context.Context, userID string, start, end time.Time) ([]core.Transaction, error)
		FindByExternalID(ctx context.Context, userID, externalID string) (core.Transaction, error)
		// ExistingExternalIDs reports which of ids are already stored for the user.
		ExistingExternalIDs(ctx context.Context, userID string, ids []string) (map[string]bool, error)
		// InsertMany stores txs and returns how many rows were written. A row
		// whose (user, external id) already exists is skipped, not an error.
		InsertMany(ctx context.Context, txs []core.Transaction) (int, error)
		Patch(ctx context.Context, userID, id string, p core.TransactionPatch) error
		// SetClassification writes the category and necessity score only.
		SetClassification(ctx context.Context, userID, id, category string, score float64) error
		// UpdateTransaction overwrites the user-editable fields of the row
		// matching t.UserID and t.ID.
		UpdateTransaction(ctx context.Context, t core.Transaction) error
		// DeleteByExternalID reports whether a row was removed.
		DeleteByExternalID(ctx context.Context, userID, externalID string) (bool, error)
		DeleteByID(ctx context.Context, userID, id string) error
		GetByIDs(ctx context.Context, userID string, ids []string) ([]core.Transaction, error)
	}

	ConnectionRepository interface {
		CreateConnection(ctx context.Context, c core.BankConnection) (core.BankConnection, error)
		GetConnection(ctx context.Context, userID, id string) (core.BankConnection, error)
		ListConnections(ctx context.Context, userID string) ([]core.BankConnection, error)
		CountConnections(ctx context.Context, userID string) (int, error)
		UpdateCursor(ctx context.Context, id, cursor string) error
		// MarkSynced sets the status to active and records the sync time.
		MarkSynced(ctx context.Context, id string, at time.Time) error
		SetConnectionStatus(ctx context.Context, id string, status core.ConnectionStatus) error
		DeleteConnection(ctx context.Context, userID, id string) error
	}

	AllocationRepository interface {
		// GetAllocation returns core.ErrNotFound when the month has no row.
		GetAllocation(ctx context.Context, userID string, month, year int) (core.BudgetAllocation, error)
		UpsertAllocation(ctx context.Context, a core.BudgetAllocation) (core.BudgetAllocation, error)
	}

	// Store bundles the repositories. InTx runs fn against a Store whose
	// writes become visible together when fn returns nil and are discarded
	// otherwise.
	Store interface {
		TransactionRepository
		ConnectionRepository
		AllocationRepository
		InTx(ctx context.Context, fn func(tx Store) error) error
		Close() error
	}
)

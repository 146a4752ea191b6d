package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"budgetflow/internal/core"
)

// insertChunk keeps multi-row statements well under SQLite's bound
// parameter limit.
const insertChunk = 200

var transactionColumns = []string{
	"id", "user_id", "amount", "date", "description", "merchant", "category",
	"necessity_score", "external_id", "bank_connection_id", "source", "notes",
	"created_at", "updated_at",
}

func (r *SQLiteRepository) FindByDateRange(ctx context.Context, userID string, start, end time.Time) ([]core.Transaction, error) {
	q := psql.Select(transactionColumns...).
		From("transactions").
		Where(squirrel.Eq{"user_id": userID}).
		Where(squirrel.GtOrEq{"date": formatTime(start)}).
		Where(squirrel.LtOrEq{"date": formatTime(end)}).
		OrderBy("date ASC", "created_at ASC")

	txs, err := r.queryTransactions(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("find transactions by date range: %w", err)
	}
	return txs, nil
}

func (r *SQLiteRepository) FindByExternalID(ctx context.Context, userID, externalID string) (core.Transaction, error) {
	row, err := r.queryRow(ctx, psql.Select(transactionColumns...).
		From("transactions").
		Where(squirrel.Eq{"user_id": userID, "external_id": externalID}))
	if err != nil {
		return core.Transaction{}, err
	}
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction with external id %s: %w", externalID, core.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("find transaction by external id: %w", err)
	}
	return t, nil
}

func (r *SQLiteRepository) ExistingExternalIDs(ctx context.Context, userID string, ids []string) (map[string]bool, error) {
	found := make(map[string]bool)
	for start := 0; start < len(ids); start += insertChunk {
		end := min(start+insertChunk, len(ids))
		rows, err := r.query(ctx, psql.Select("external_id").
			From("transactions").
			Where(squirrel.Eq{"user_id": userID, "external_id": ids[start:end]}))
		if err != nil {
			return nil, fmt.Errorf("query external ids: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan external id: %w", err)
			}
			found[id] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate external ids: %w", err)
		}
	}
	return found, nil
}

func (r *SQLiteRepository) InsertMany(ctx context.Context, txs []core.Transaction) (int, error) {
	now := r.timestamp()
	inserted := 0
	for start := 0; start < len(txs); start += insertChunk {
		end := min(start+insertChunk, len(txs))
		b := psql.Insert("transactions").
			Columns(transactionColumns...).
			Suffix("ON CONFLICT DO NOTHING")
		for _, t := range txs[start:end] {
			id := t.ID
			if id == "" {
				id = uuid.NewString()
			}
			b = b.Values(
				id, t.UserID, t.Amount, formatTime(t.Date), t.Description, t.Merchant, t.Category,
				nullFloat(t.NecessityScore), nullString(t.ExternalID), nullString(t.BankConnectionID),
				string(t.Source), t.Notes, now, now,
			)
		}
		res, err := r.exec(ctx, b)
		if err != nil {
			return inserted, fmt.Errorf("insert transactions: %w", err)
		}
		n, err := affected(res)
		if err != nil {
			return inserted, err
		}
		inserted += int(n)
	}

	if skipped := len(txs) - inserted; skipped > 0 {
		slog.DebugContext(ctx, "Skipped transactions already present", "skipped", skipped)
	}
	return inserted, nil
}

func (r *SQLiteRepository) Patch(ctx context.Context, userID, id string, p core.TransactionPatch) error {
	b := psql.Update("transactions").
		Set("amount", p.Amount).
		Set("description", p.Description).
		Set("merchant", p.Merchant).
		Set("updated_at", r.timestamp()).
		Where(squirrel.Eq{"user_id": userID, "id": id})
	if !p.Date.IsZero() {
		b = b.Set("date", formatTime(p.Date))
	}
	return r.updateOne(ctx, b, "patch transaction", id)
}

func (r *SQLiteRepository) SetClassification(ctx context.Context, userID, id, category string, score float64) error {
	b := psql.Update("transactions").
		Set("category", category).
		Set("necessity_score", score).
		Set("updated_at", r.timestamp()).
		Where(squirrel.Eq{"user_id": userID, "id": id})
	return r.updateOne(ctx, b, "classify transaction", id)
}

func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	b := psql.Update("transactions").
		Set("amount", t.Amount).
		Set("date", formatTime(t.Date)).
		Set("description", t.Description).
		Set("merchant", t.Merchant).
		Set("category", t.Category).
		Set("necessity_score", nullFloat(t.NecessityScore)).
		Set("notes", t.Notes).
		Set("updated_at", r.timestamp()).
		Where(squirrel.Eq{"user_id": t.UserID, "id": t.ID})
	return r.updateOne(ctx, b, "update transaction", t.ID)
}

func (r *SQLiteRepository) DeleteByExternalID(ctx context.Context, userID, externalID string) (bool, error) {
	res, err := r.exec(ctx, psql.Delete("transactions").
		Where(squirrel.Eq{"user_id": userID, "external_id": externalID}))
	if err != nil {
		return false, fmt.Errorf("delete transaction by external id: %w", err)
	}
	n, err := affected(res)
	return n > 0, err
}

func (r *SQLiteRepository) DeleteByID(ctx context.Context, userID, id string) error {
	return r.updateOne(ctx, psql.Delete("transactions").
		Where(squirrel.Eq{"user_id": userID, "id": id}), "delete transaction", id)
}

func (r *SQLiteRepository) GetByIDs(ctx context.Context, userID string, ids []string) ([]core.Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	txs, err := r.queryTransactions(ctx, psql.Select(transactionColumns...).
		From("transactions").
		Where(squirrel.Eq{"user_id": userID, "id": ids}).
		OrderBy("date ASC"))
	if err != nil {
		return nil, fmt.Errorf("get transactions by id: %w", err)
	}
	return txs, nil
}

// updateOne runs an UPDATE or DELETE expected to touch exactly one owned row.
func (r *SQLiteRepository) updateOne(ctx context.Context, b squirrel.Sqlizer, op, id string) error {
	res, err := r.exec(ctx, b)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) queryTransactions(ctx context.Context, b squirrel.Sqlizer) ([]core.Transaction, error) {
	rows, err := r.query(ctx, b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func scanTransaction(s scanner) (core.Transaction, error) {
	var (
		t                      core.Transaction
		date, created, updated string
		source                 string
		score                  sql.NullFloat64
		externalID, connID     sql.NullString
	)
	err := s.Scan(&t.ID, &t.UserID, &t.Amount, &date, &t.Description, &t.Merchant, &t.Category,
		&score, &externalID, &connID, &source, &t.Notes, &created, &updated)
	if err != nil {
		return core.Transaction{}, err
	}

	if t.Date, err = parseTime(date); err != nil {
		return core.Transaction{}, err
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return core.Transaction{}, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return core.Transaction{}, err
	}
	if score.Valid {
		t.NecessityScore = core.ScorePtr(score.Float64)
	}
	t.ExternalID = externalID.String
	t.BankConnectionID = connID.String
	t.Source = core.Source(source)
	return t, nil
}

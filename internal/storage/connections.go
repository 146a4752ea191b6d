package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"budgetflow/internal/core"
)

var connectionColumns = []string{
	"id", "user_id", "external_item_id", "access_token", "institution_id",
	"institution_name", "account_ids", "status", "cursor", "consent_expires_at",
	"last_synced_at", "created_at", "updated_at",
}

func (r *SQLiteRepository) CreateConnection(ctx context.Context, c core.BankConnection) (core.BankConnection, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = core.ConnectionActive
	}
	if c.AccountIDs == nil {
		c.AccountIDs = []string{}
	}
	accounts, err := json.Marshal(c.AccountIDs)
	if err != nil {
		return core.BankConnection{}, fmt.Errorf("encode account ids: %w", err)
	}
	now := r.now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	_, err = r.exec(ctx, psql.Insert("bank_connections").
		Columns(connectionColumns...).
		Values(c.ID, c.UserID, c.ExternalItemID, c.AccessToken, c.InstitutionID,
			c.InstitutionName, string(accounts), string(c.Status), c.Cursor,
			nullTime(&c.ConsentExpiresAt), nullTime(c.LastSyncedAt),
			formatTime(now), formatTime(now)))
	if err != nil {
		return core.BankConnection{}, fmt.Errorf("insert bank connection: %w", err)
	}

	slog.InfoContext(ctx, "Bank connection saved",
		"connection_id", c.ID,
		"user_id", c.UserID,
		"institution", c.InstitutionName)
	return c, nil
}

func (r *SQLiteRepository) GetConnection(ctx context.Context, userID, id string) (core.BankConnection, error) {
	row, err := r.queryRow(ctx, psql.Select(connectionColumns...).
		From("bank_connections").
		Where(squirrel.Eq{"user_id": userID, "id": id}))
	if err != nil {
		return core.BankConnection{}, err
	}
	c, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.BankConnection{}, fmt.Errorf("bank connection %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.BankConnection{}, fmt.Errorf("get bank connection: %w", err)
	}
	return c, nil
}

func (r *SQLiteRepository) ListConnections(ctx context.Context, userID string) ([]core.BankConnection, error) {
	rows, err := r.query(ctx, psql.Select(connectionColumns...).
		From("bank_connections").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("created_at ASC", "id ASC"))
	if err != nil {
		return nil, fmt.Errorf("list bank connections: %w", err)
	}
	defer rows.Close()

	var conns []core.BankConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bank connection: %w", err)
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

func (r *SQLiteRepository) CountConnections(ctx context.Context, userID string) (int, error) {
	row, err := r.queryRow(ctx, psql.Select("COUNT(*)").
		From("bank_connections").
		Where(squirrel.Eq{"user_id": userID}))
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count bank connections: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) UpdateCursor(ctx context.Context, id, cursor string) error {
	return r.updateOne(ctx, psql.Update("bank_connections").
		Set("cursor", cursor).
		Set("updated_at", r.timestamp()).
		Where(squirrel.Eq{"id": id}), "update cursor", id)
}

func (r *SQLiteRepository) MarkSynced(ctx context.Context, id string, at time.Time) error {
	return r.updateOne(ctx, psql.Update("bank_connections").
		Set("status", string(core.ConnectionActive)).
		Set("last_synced_at", formatTime(at)).
		Set("updated_at", r.timestamp()).
		Where(squirrel.Eq{"id": id}), "mark synced", id)
}

func (r *SQLiteRepository) SetConnectionStatus(ctx context.Context, id string, status core.ConnectionStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: connection status %q", core.ErrValidation, status)
	}
	return r.updateOne(ctx, psql.Update("bank_connections").
		Set("status", string(status)).
		Set("updated_at", r.timestamp()).
		Where(squirrel.Eq{"id": id}), "set connection status", id)
}

// DeleteConnection removes the connection. Its transactions stay and lose
// the connection reference through the foreign key.
func (r *SQLiteRepository) DeleteConnection(ctx context.Context, userID, id string) error {
	if err := r.updateOne(ctx, psql.Delete("bank_connections").
		Where(squirrel.Eq{"user_id": userID, "id": id}), "delete bank connection", id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Bank connection deleted", "connection_id", id, "user_id", userID)
	return nil
}

func scanConnection(s scanner) (core.BankConnection, error) {
	var (
		c                   core.BankConnection
		accounts, status    string
		created, updated    string
		consent, lastSynced sql.NullString
	)
	err := s.Scan(&c.ID, &c.UserID, &c.ExternalItemID, &c.AccessToken, &c.InstitutionID,
		&c.InstitutionName, &accounts, &status, &c.Cursor, &consent, &lastSynced, &created, &updated)
	if err != nil {
		return core.BankConnection{}, err
	}

	if err := json.Unmarshal([]byte(accounts), &c.AccountIDs); err != nil {
		return core.BankConnection{}, fmt.Errorf("decode account ids: %w", err)
	}
	c.Status = core.ConnectionStatus(status)
	expires, err := parseNullTime(consent)
	if err != nil {
		return core.BankConnection{}, err
	}
	if expires != nil {
		c.ConsentExpiresAt = *expires
	}
	if c.LastSyncedAt, err = parseNullTime(lastSynced); err != nil {
		return core.BankConnection{}, err
	}
	if c.CreatedAt, err = parseTime(created); err != nil {
		return core.BankConnection{}, err
	}
	if c.UpdatedAt, err = parseTime(updated); err != nil {
		return core.BankConnection{}, err
	}
	return c, nil
}

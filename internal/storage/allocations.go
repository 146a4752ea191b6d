package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Masterminds/squirrel"

	"budgetflow/internal/core"
)

var allocationColumns = []string{
	"user_id", "year", "month", "needs_percent", "wants_percent",
	"savings_percent", "total_income", "updated_at",
}

func (r *SQLiteRepository) GetAllocation(ctx context.Context, userID string, month, year int) (core.BudgetAllocation, error) {
	row, err := r.queryRow(ctx, psql.Select(allocationColumns...).
		From("budget_allocations").
		Where(squirrel.Eq{"user_id": userID, "year": year, "month": month}))
	if err != nil {
		return core.BudgetAllocation{}, err
	}

	var (
		a       core.BudgetAllocation
		updated string
	)
	err = row.Scan(&a.UserID, &a.Year, &a.Month, &a.NeedsPercent, &a.WantsPercent,
		&a.SavingsPercent, &a.TotalIncome, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return core.BudgetAllocation{}, fmt.Errorf("allocation %d-%02d: %w", year, month, core.ErrNotFound)
	}
	if err != nil {
		return core.BudgetAllocation{}, fmt.Errorf("get allocation: %w", err)
	}
	if a.UpdatedAt, err = parseTime(updated); err != nil {
		return core.BudgetAllocation{}, err
	}
	return a, nil
}

func (r *SQLiteRepository) UpsertAllocation(ctx context.Context, a core.BudgetAllocation) (core.BudgetAllocation, error) {
	a.UpdatedAt = r.now().UTC()
	_, err := r.exec(ctx, psql.Insert("budget_allocations").
		Columns(allocationColumns...).
		Values(a.UserID, a.Year, a.Month, a.NeedsPercent, a.WantsPercent,
			a.SavingsPercent, a.TotalIncome, formatTime(a.UpdatedAt)).
		Suffix(`ON CONFLICT(user_id, year, month) DO UPDATE SET
			needs_percent = excluded.needs_percent,
			wants_percent = excluded.wants_percent,
			savings_percent = excluded.savings_percent,
			total_income = excluded.total_income,
			updated_at = excluded.updated_at`))
	if err != nil {
		return core.BudgetAllocation{}, fmt.Errorf("upsert allocation: %w", err)
	}

	slog.InfoContext(ctx, "Budget allocation saved",
		"user_id", a.UserID,
		"year", a.Year,
		"month", a.Month)
	return a, nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"budgetflow/internal/budget"
	"budgetflow/internal/cache"
	"budgetflow/internal/core"
	"budgetflow/internal/ports"
)

type BudgetConfig struct {
	// AllocationCacheTTL is how long allocations stay cached; 0 disables the cache (default: 5m)
	AllocationCacheTTL time.Duration
}

func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{AllocationCacheTTL: 5 * time.Minute}
}

// BudgetService fetches transactions for a period and feeds them to the
// pure calculators in package budget.
type BudgetService struct {
	store       ports.Store
	allocations cache.Cache[core.BudgetAllocation]
	now         func() time.Time
}

func NewBudgetService(store ports.Store, config BudgetConfig) *BudgetService {
	s := &BudgetService{store: store, now: time.Now}
	if config.AllocationCacheTTL > 0 {
		s.allocations = cache.NewTTLCache[core.BudgetAllocation](config.AllocationCacheTTL, 2*config.AllocationCacheTTL)
	}
	return s
}

// Breakdown computes the 50/30/20 breakdown of a calendar month. Income is
// the month's positive transactions, or the allocation's declared income
// when there are none.
func (s *BudgetService) Breakdown(ctx context.Context, userID string, year, month int) (budget.Breakdown, error) {
	if userID == "" {
		return budget.Breakdown{}, core.ErrUnauthenticated
	}
	if month < 1 || month > 12 {
		return budget.Breakdown{}, fmt.Errorf("%w: month %d", core.ErrValidation, month)
	}

	start, end := core.MonthBounds(year, month)
	txs, err := s.store.FindByDateRange(ctx, userID, start, end)
	if err != nil {
		return budget.Breakdown{}, fmt.Errorf("load transactions: %w", err)
	}
	alloc, err := s.Allocation(ctx, userID, month, year)
	if err != nil {
		return budget.Breakdown{}, err
	}

	income := 0.0
	for _, tx := range txs {
		if tx.Amount > 0 {
			income += tx.Amount
		}
	}
	if income == 0 {
		income = alloc.TotalIncome
	}
	return budget.Compute503020(core.RoundCents(income), txs, budget.RatiosFrom(alloc)), nil
}

func (s *BudgetService) Trends(ctx context.Context, userID string, start, end time.Time, groupBy budget.GroupBy) ([]budget.TrendPoint, error) {
	if !groupBy.IsValid() {
		return nil, fmt.Errorf("%w: groupBy %q", core.ErrValidation, groupBy)
	}
	txs, err := s.inRange(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}
	return budget.SpendingTrends(txs, groupBy)
}

func (s *BudgetService) Categories(ctx context.Context, userID string, start, end time.Time) ([]budget.CategoryTotal, error) {
	txs, err := s.inRange(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}
	return budget.CategoryTotals(txs), nil
}

// Monthly compares the current month with the months-1 before it.
func (s *BudgetService) Monthly(ctx context.Context, userID string, months int) ([]budget.MonthSummary, error) {
	if months < 1 {
		return nil, fmt.Errorf("%w: months must be at least 1", core.ErrValidation)
	}
	now := s.now().UTC()
	txs, err := s.inRange(ctx, userID, budget.MonthlyWindowStart(now, months), now)
	if err != nil {
		return nil, err
	}
	return budget.MonthlyComparison(txs, months, now)
}

// ProgressReport is spending against category budgets for one month.
type ProgressReport struct {
	Month string            `json:"month"`
	Items []budget.Progress `json:"items"`
	// SpendingChange is the percentage change in total expenses from the previous month.
	SpendingChange float64 `json:"spendingChange"`
}

// Progress checks the month's expenses against each category budget.
func (s *BudgetService) Progress(ctx context.Context, userID string, year, month int, budgets []budget.CategoryBudget) (ProgressReport, error) {
	if month < 1 || month > 12 {
		return ProgressReport{}, fmt.Errorf("%w: month %d", core.ErrValidation, month)
	}
	for _, b := range budgets {
		if b.Category == "" || b.Amount < 0 {
			return ProgressReport{}, fmt.Errorf("%w: budget %q needs a category and a non-negative amount", core.ErrValidation, b.Name)
		}
	}

	start, end := core.MonthBounds(year, month)
	// time.Date normalises month 0 to December of the previous year.
	prevStart, _ := core.MonthBounds(year, month-1)
	txs, err := s.inRange(ctx, userID, prevStart, end)
	if err != nil {
		return ProgressReport{}, err
	}

	var current []core.Transaction
	var spentNow, spentBefore []float64
	for _, tx := range txs {
		inMonth := !tx.Date.Before(start)
		if inMonth {
			current = append(current, tx)
		}
		if !tx.IsExpense() {
			continue
		}
		if inMonth {
			spentNow = append(spentNow, tx.Amount)
		} else {
			spentBefore = append(spentBefore, tx.Amount)
		}
	}

	change := budget.PercentageChange(core.SumAbs(spentBefore...), core.SumAbs(spentNow...))
	return ProgressReport{
		Month:          start.Format("2006-01"),
		Items:          budget.BudgetProgress(budgets, current),
		SpendingChange: core.RoundCents(change),
	}, nil
}

// Allocation returns the stored split for the month, or 50/30/20.
func (s *BudgetService) Allocation(ctx context.Context, userID string, month, year int) (core.BudgetAllocation, error) {
	if userID == "" {
		return core.BudgetAllocation{}, core.ErrUnauthenticated
	}
	key := allocationKey(userID, year, month)
	if s.allocations != nil {
		if a, ok := s.allocations.Get(key); ok {
			return a, nil
		}
	}

	a, err := s.store.GetAllocation(ctx, userID, month, year)
	if errors.Is(err, core.ErrNotFound) {
		a = core.DefaultAllocation(userID, month, year)
	} else if err != nil {
		return core.BudgetAllocation{}, fmt.Errorf("load allocation: %w", err)
	}

	if s.allocations != nil {
		s.allocations.Set(key, a)
	}
	return a, nil
}

func (s *BudgetService) UpsertAllocation(ctx context.Context, a core.BudgetAllocation) (core.BudgetAllocation, error) {
	if a.UserID == "" {
		return core.BudgetAllocation{}, core.ErrUnauthenticated
	}
	if err := a.Validate(); err != nil {
		return core.BudgetAllocation{}, fmt.Errorf("%w: %w", core.ErrValidation, err)
	}
	saved, err := s.store.UpsertAllocation(ctx, a)
	if err != nil {
		return core.BudgetAllocation{}, fmt.Errorf("save allocation: %w", err)
	}
	if s.allocations != nil {
		s.allocations.Delete(allocationKey(a.UserID, a.Year, a.Month))
	}
	return saved, nil
}

func (s *BudgetService) inRange(ctx context.Context, userID string, start, end time.Time) ([]core.Transaction, error) {
	if userID == "" {
		return nil, core.ErrUnauthenticated
	}
	if start.IsZero() || end.IsZero() {
		return nil, fmt.Errorf("%w: start and end dates are required", core.ErrValidation)
	}
	if start.After(end) {
		return nil, fmt.Errorf("%w: start date is after end date", core.ErrValidation)
	}
	txs, err := s.store.FindByDateRange(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	return txs, nil
}

func allocationKey(userID string, year, month int) string {
	return fmt.Sprintf("%s|%04d-%02d", userID, year, month)
}

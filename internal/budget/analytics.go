package budget

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"budgetflow/internal/core"
)

// GroupBy selects the bucket width of SpendingTrends.
type GroupBy string

const (
	GroupByDay   GroupBy = "day"
	GroupByWeek  GroupBy = "week"
	GroupByMonth GroupBy = "month"
)

func (g GroupBy) IsValid() bool {
	switch g {
	case GroupByDay, GroupByWeek, GroupByMonth:
		return true
	default:
		return false
	}
}

type CategoryTotal struct {
	Category   string  `json:"category"`
	Total      float64 `json:"total"`
	Percentage float64 `json:"percentage"`
}

type TrendPoint struct {
	Date   string  `json:"date"`
	Amount float64 `json:"amount"`
	Count  int     `json:"count"`
}

type MonthSummary struct {
	Month       string  `json:"month"`
	Income      float64 `json:"income"`
	Expenses    float64 `json:"expenses"`
	Savings     float64 `json:"savings"`
	SavingsRate float64 `json:"savingsRate"`
}

// CategoryTotals sums expenses per category, largest first. Categories
// with equal totals keep the order in which they were first seen.
func CategoryTotals(txs []core.Transaction) []CategoryTotal {
	order := make([]string, 0)
	sums := make(map[string]decimal.Decimal)
	grand := decimal.Zero

	for _, tx := range txs {
		if !tx.IsExpense() {
			continue
		}
		category := tx.Category
		if category == "" {
			category = core.CategoryUncategorized
		}
		amount := decimal.NewFromFloat(tx.Amount).Abs()
		if _, seen := sums[category]; !seen {
			order = append(order, category)
		}
		sums[category] = sums[category].Add(amount)
		grand = grand.Add(amount)
	}

	totals := make([]CategoryTotal, 0, len(order))
	for _, category := range order {
		sum := sums[category]
		ct := CategoryTotal{
			Category: category,
			Total:    sum.Round(2).InexactFloat64(),
		}
		if grand.IsPositive() {
			ct.Percentage = sum.Div(grand).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
		}
		totals = append(totals, ct)
	}

	sort.SliceStable(totals, func(i, j int) bool {
		return totals[i].Total > totals[j].Total
	})
	return totals
}

// SpendingTrends buckets expenses by day, week or month in ascending order.
// Weeks are keyed by their Monday.
func SpendingTrends(txs []core.Transaction, groupBy GroupBy) ([]TrendPoint, error) {
	if !groupBy.IsValid() {
		return nil, fmt.Errorf("%w: invalid groupBy %q", core.ErrValidation, groupBy)
	}

	sums := make(map[string]decimal.Decimal)
	counts := make(map[string]int)
	for _, tx := range txs {
		if !tx.IsExpense() {
			continue
		}
		key := bucketKey(tx.Date, groupBy)
		sums[key] = sums[key].Add(decimal.NewFromFloat(tx.Amount).Abs())
		counts[key]++
	}

	points := make([]TrendPoint, 0, len(sums))
	for key, sum := range sums {
		points = append(points, TrendPoint{
			Date:   key,
			Amount: sum.Round(2).InexactFloat64(),
			Count:  counts[key],
		})
	}
	// ISO keys sort chronologically
	sort.Slice(points, func(i, j int) bool {
		return points[i].Date < points[j].Date
	})
	return points, nil
}

func bucketKey(t time.Time, groupBy GroupBy) string {
	t = t.UTC()
	switch groupBy {
	case GroupByWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset).Format("2006-01-02")
	case GroupByMonth:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}

// MonthlyWindowStart returns the first instant of the oldest month covered
// by a trailing window of the given number of calendar months ending at now.
func MonthlyWindowStart(now time.Time, months int) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month()-time.Month(months-1), 1, 0, 0, 0, 0, time.UTC)
}

// MonthlyComparison summarizes income and expenses per calendar month over
// the trailing window that ends at now and spans the given number of
// months, current month included. Months without transactions are omitted.
func MonthlyComparison(txs []core.Transaction, months int, now time.Time) ([]MonthSummary, error) {
	if months < 1 {
		return nil, fmt.Errorf("%w: months must be at least 1, got %d", core.ErrValidation, months)
	}
	start := MonthlyWindowStart(now, months)
	end := now.UTC()

	type acc struct{ income, expenses decimal.Decimal }
	byMonth := make(map[string]*acc)
	for _, tx := range txs {
		d := tx.Date.UTC()
		if d.Before(start) || d.After(end) {
			continue
		}
		key := d.Format("2006-01")
		a, ok := byMonth[key]
		if !ok {
			a = &acc{}
			byMonth[key] = a
		}
		amount := decimal.NewFromFloat(tx.Amount)
		if amount.IsPositive() {
			a.income = a.income.Add(amount)
		} else if amount.IsNegative() {
			a.expenses = a.expenses.Add(amount.Abs())
		}
	}

	out := make([]MonthSummary, 0, len(byMonth))
	for key, a := range byMonth {
		savings := a.income.Sub(a.expenses)
		ms := MonthSummary{
			Month:    key,
			Income:   a.income.Round(2).InexactFloat64(),
			Expenses: a.expenses.Round(2).InexactFloat64(),
			Savings:  savings.Round(2).InexactFloat64(),
		}
		if a.income.IsPositive() {
			ms.SavingsRate = savings.Div(a.income).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
		}
		out = append(out, ms)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Month < out[j].Month
	})
	return out, nil
}

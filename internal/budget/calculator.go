// Package budget holds the pure 50/30/20 and analytics calculations.
//
// Nothing in this package performs I/O. Callers fetch a bounded slice of
// transactions and pass it in; every function tolerates empty input and a
// zero income without producing NaN or Inf.
package budget

import (
	"budgetflow/internal/core"
)

// Status compares actual spending against a target.
type Status string

const (
	StatusUnder   Status = "under"
	StatusOnTrack Status = "on-track"
	StatusOver    Status = "over"
)

// Boundaries for Status. Both are inclusive: exactly 90% of target is
// under, exactly 110% is still on track.
const (
	UnderRatio = 0.9
	OverRatio  = 1.1
)

// Ratios are the allocation percentages for each tier.
type Ratios struct {
	Needs   float64
	Wants   float64
	Savings float64
}

// DefaultRatios returns the classic 50/30/20 split.
func DefaultRatios() Ratios {
	return Ratios{Needs: 50, Wants: 30, Savings: 20}
}

// RatiosFrom extracts the ratios of a stored allocation.
func RatiosFrom(a core.BudgetAllocation) Ratios {
	return Ratios{Needs: a.NeedsPercent, Wants: a.WantsPercent, Savings: a.SavingsPercent}
}

type TierSummary struct {
	Target     float64 `json:"target"`
	Actual     float64 `json:"actual"`
	Percentage float64 `json:"percentage"`
	Status     Status  `json:"status"`
}

type Breakdown struct {
	Needs         TierSummary `json:"needs"`
	Wants         TierSummary `json:"wants"`
	Savings       TierSummary `json:"savings"`
	TotalIncome   float64     `json:"totalIncome"`
	TotalExpenses float64     `json:"totalExpenses"`
	SavingsRate   float64     `json:"savingsRate"`
}

// Compute503020 splits expenses into need, want and savings tiers and
// compares each against its share of income.
func Compute503020(income float64, txs []core.Transaction, r Ratios) Breakdown {
	var needs, wants, savings float64
	for _, tx := range txs {
		if !tx.IsExpense() {
			continue
		}
		amount := -tx.Amount
		switch tx.Tier() {
		case core.TierNeed:
			needs += amount
		case core.TierSavings:
			savings += amount
		default:
			wants += amount
		}
	}

	total := needs + wants + savings
	b := Breakdown{
		Needs:         summarize(income, r.Needs, needs),
		Wants:         summarize(income, r.Wants, wants),
		Savings:       summarize(income, r.Savings, savings),
		TotalIncome:   income,
		TotalExpenses: total,
	}
	if income > 0 {
		b.SavingsRate = (income - total) / income * 100
	}
	return b
}

func summarize(income, ratio, actual float64) TierSummary {
	target := income * ratio / 100
	s := TierSummary{
		Target: target,
		Actual: actual,
		Status: StatusFor(actual, target),
	}
	if income > 0 {
		s.Percentage = actual / income * 100
	}
	return s
}

// StatusFor classifies actual spending against a target.
func StatusFor(actual, target float64) Status {
	if target == 0 {
		return StatusOnTrack
	}
	ratio := actual / target
	switch {
	case ratio <= UnderRatio:
		return StatusUnder
	case ratio <= OverRatio:
		return StatusOnTrack
	default:
		return StatusOver
	}
}

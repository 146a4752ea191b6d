package budget

import (
	"budgetflow/internal/core"
)

type ProgressStatus string

const (
	ProgressUnder   ProgressStatus = "under"
	ProgressWarning ProgressStatus = "warning"
	ProgressOver    ProgressStatus = "over"
)

// CategoryBudget is a spending cap for one category.
type CategoryBudget struct {
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Amount   float64 `json:"amount"`
}

type Progress struct {
	Name       string         `json:"name"`
	Budgeted   float64        `json:"budgeted"`
	Spent      float64        `json:"spent"`
	Remaining  float64        `json:"remaining"`
	Percentage float64        `json:"percentage"`
	Status     ProgressStatus `json:"status"`
}

// BudgetProgress reports spending against each category budget. A budget
// turns to warning at 80% and to over at 100%.
func BudgetProgress(budgets []CategoryBudget, txs []core.Transaction) []Progress {
	out := make([]Progress, 0, len(budgets))
	for _, b := range budgets {
		var amounts []float64
		for _, tx := range txs {
			if tx.IsExpense() && tx.Category == b.Category {
				amounts = append(amounts, tx.Amount)
			}
		}
		spent := core.SumAbs(amounts...)

		p := Progress{
			Name:     b.Name,
			Budgeted: b.Amount,
			Spent:    spent,
		}
		if remaining := b.Amount - spent; remaining > 0 {
			p.Remaining = core.RoundCents(remaining)
		}
		if b.Amount > 0 {
			p.Percentage = spent / b.Amount * 100
		}
		switch {
		case p.Percentage >= 100:
			p.Status = ProgressOver
		case p.Percentage >= 80:
			p.Status = ProgressWarning
		default:
			p.Status = ProgressUnder
		}
		out = append(out, p)
	}
	return out
}

// PercentageChange returns the relative change from previous to current,
// or 0 when there is no previous value to compare against.
func PercentageChange(previous, current float64) float64 {
	if previous == 0 {
		return 0
	}
	return (current - previous) / previous * 100
}

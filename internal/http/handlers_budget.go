package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"budgetflow/internal/budget"
	"budgetflow/internal/core"
)

type allocationView struct {
	Month          int        `json:"month"`
	Year           int        `json:"year"`
	NeedsPercent   float64    `json:"needsPercent"`
	WantsPercent   float64    `json:"wantsPercent"`
	SavingsPercent float64    `json:"savingsPercent"`
	TotalIncome    float64    `json:"totalIncome"`
	UpdatedAt      *time.Time `json:"updatedAt,omitempty"`
}

func newAllocationView(a core.BudgetAllocation) allocationView {
	v := allocationView{
		Month:          a.Month,
		Year:           a.Year,
		NeedsPercent:   a.NeedsPercent,
		WantsPercent:   a.WantsPercent,
		SavingsPercent: a.SavingsPercent,
		TotalIncome:    a.TotalIncome,
	}
	if !a.UpdatedAt.IsZero() {
		v.UpdatedAt = &a.UpdatedAt
	}
	return v
}

type allocationRequest struct {
	Month          int     `json:"month"`
	Year           int     `json:"year"`
	NeedsPercent   float64 `json:"needsPercent"`
	WantsPercent   float64 `json:"wantsPercent"`
	SavingsPercent float64 `json:"savingsPercent"`
	TotalIncome    float64 `json:"totalIncome"`
}

type progressRequest struct {
	Year    int                     `json:"year"`
	Month   int                     `json:"month"`
	Budgets []budget.CategoryBudget `json:"budgets"`
}

const maxMonthlyWindow = 12

func (s *Server) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	params, err := ParseMonthParams(r.URL.Query(), time.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.budget.Breakdown(r.Context(), userFrom(r.Context()), params.Year, params.Month)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(b).Write(w)
}

func (s *Server) handleGetAllocation(w http.ResponseWriter, r *http.Request) {
	params, err := ParseMonthParams(r.URL.Query(), time.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, err := s.budget.Allocation(r.Context(), userFrom(r.Context()), params.Month, params.Year)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(newAllocationView(a)).Write(w)
}

func (s *Server) handlePutAllocation(w http.ResponseWriter, r *http.Request) {
	var req allocationRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	saved, err := s.budget.UpsertAllocation(r.Context(), core.BudgetAllocation{
		UserID:         userFrom(r.Context()),
		Month:          req.Month,
		Year:           req.Year,
		NeedsPercent:   req.NeedsPercent,
		WantsPercent:   req.WantsPercent,
		SavingsPercent: req.SavingsPercent,
		TotalIncome:    req.TotalIncome,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(newAllocationView(saved)).Write(w)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	now := time.Now()
	if req.Year == 0 {
		req.Year = now.Year()
	}
	if req.Month == 0 {
		req.Month = int(now.Month())
	}
	for i := range req.Budgets {
		req.Budgets[i].Name = sanitizeInput(req.Budgets[i].Name)
		req.Budgets[i].Category = sanitizeInput(req.Budgets[i].Category)
	}

	report, err := s.budget.Progress(r.Context(), userFrom(r.Context()), req.Year, req.Month, req.Budgets)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(report).Write(w)
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	start, end, err := ParseDateRange(query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	groupBy := budget.GroupByDay
	if v := strings.TrimSpace(query.Get("groupBy")); v != "" {
		groupBy = budget.GroupBy(strings.ToLower(v))
	}

	points, err := s.budget.Trends(r.Context(), userFrom(r.Context()), start, end, groupBy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(points).Write(w)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	start, end, err := ParseDateRange(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	totals, err := s.budget.Categories(r.Context(), userFrom(r.Context()), start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(totals).Write(w)
}

func (s *Server) handleMonthly(w http.ResponseWriter, r *http.Request) {
	months, err := ParsePositiveInt(r.URL.Query(), "months", 6)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if months > maxMonthlyWindow {
		writeError(w, r, fmt.Errorf("%w: months must be at most %d", core.ErrValidation, maxMonthlyWindow))
		return
	}
	summaries, err := s.budget.Monthly(r.Context(), userFrom(r.Context()), months)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(summaries).Write(w)
}

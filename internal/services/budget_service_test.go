package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"budgetflow/internal/budget"
	"budgetflow/internal/core"
	"budgetflow/internal/storage/memory"
)

func seedTransactions(t *testing.T, store *memory.Store, txs ...core.Transaction) {
	t.Helper()
	for i := range txs {
		txs[i].ID = newID()
		if txs[i].UserID == "" {
			txs[i].UserID = testUser
		}
		if txs[i].Source == "" {
			txs[i].Source = core.SourceManual
		}
	}
	if _, err := store.InsertMany(context.Background(), txs); err != nil {
		t.Fatalf("InsertMany() error = %v", err)
	}
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 12, 0, 0, 0, time.UTC)
}

func TestDefaultBudgetConfig(t *testing.T) {
	if got := DefaultBudgetConfig().AllocationCacheTTL; got != 5*time.Minute {
		t.Errorf("AllocationCacheTTL = %v, want 5m", got)
	}
}

func TestBudgetService_Breakdown(t *testing.T) {
	store := memory.New()
	svc := NewBudgetService(store, DefaultBudgetConfig())
	ctx := context.Background()

	seedTransactions(t, store,
		core.Transaction{Amount: 3000, Date: day(2024, 5, 1), Description: "salary"},
		core.Transaction{Amount: -1000, Date: day(2024, 5, 2), Description: "rent", NecessityScore: core.ScorePtr(1)},
		core.Transaction{Amount: -600, Date: day(2024, 5, 3), Description: "unclassified"},
		core.Transaction{Amount: -300, Date: day(2024, 5, 4), Description: "isa", NecessityScore: core.ScorePtr(0.5)},
		core.Transaction{Amount: -999, Date: day(2024, 6, 1), Description: "next month"},
		core.Transaction{Amount: -50, Date: day(2024, 5, 5), Description: "someone else", UserID: "user-2"},
	)

	b, err := svc.Breakdown(ctx, testUser, 2024, 5)
	if err != nil {
		t.Fatalf("Breakdown() error = %v", err)
	}
	if b.TotalIncome != 3000 || b.TotalExpenses != 1900 {
		t.Fatalf("totals = %v / %v, want 3000 / 1900", b.TotalIncome, b.TotalExpenses)
	}
	if b.Needs.Actual != 1000 || b.Needs.Target != 1500 {
		t.Errorf("needs = %+v", b.Needs)
	}
	if b.Wants.Actual != 600 || b.Wants.Target != 900 {
		t.Errorf("wants = %+v", b.Wants)
	}
	if b.Savings.Actual != 300 || b.Savings.Target != 600 {
		t.Errorf("savings = %+v", b.Savings)
	}
}

func TestBudgetService_BreakdownFallsBackToAllocationIncome(t *testing.T) {
	store := memory.New()
	svc := NewBudgetService(store, DefaultBudgetConfig())
	ctx := context.Background()

	seedTransactions(t, store,
		core.Transaction{Amount: -500, Date: day(2024, 2, 10), Description: "rent", NecessityScore: core.ScorePtr(1)},
	)
	_, err := svc.UpsertAllocation(ctx, core.BudgetAllocation{
		UserID: testUser, Month: 2, Year: 2024,
		NeedsPercent: 60, WantsPercent: 20, SavingsPercent: 20,
		TotalIncome: 2000,
	})
	if err != nil {
		t.Fatalf("UpsertAllocation() error = %v", err)
	}

	b, err := svc.Breakdown(ctx, testUser, 2024, 2)
	if err != nil {
		t.Fatalf("Breakdown() error = %v", err)
	}
	if b.TotalIncome != 2000 {
		t.Errorf("TotalIncome = %v, want 2000", b.TotalIncome)
	}
	if b.Needs.Target != 1200 || b.Needs.Status != budget.StatusUnder {
		t.Errorf("needs = %+v", b.Needs)
	}
}

func TestBudgetService_BreakdownValidation(t *testing.T) {
	svc := NewBudgetService(memory.New(), DefaultBudgetConfig())
	ctx := context.Background()

	tests := []struct {
		name    string
		userID  string
		month   int
		wantErr error
	}{
		{"anonymous", "", 5, core.ErrUnauthenticated},
		{"month zero", testUser, 0, core.ErrValidation},
		{"month thirteen", testUser, 13, core.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Breakdown(ctx, tt.userID, 2024, tt.month); !errors.Is(err, tt.wantErr) {
				t.Errorf("Breakdown() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBudgetService_AllocationCache(t *testing.T) {
	store := memory.New()
	svc := NewBudgetService(store, DefaultBudgetConfig())
	ctx := context.Background()

	a, err := svc.Allocation(ctx, testUser, 3, 2024)
	if err != nil {
		t.Fatalf("Allocation() error = %v", err)
	}
	if a.NeedsPercent != 50 || a.WantsPercent != 30 || a.SavingsPercent != 20 {
		t.Fatalf("default allocation = %+v", a)
	}

	// written behind the service's back, so the cached default must win
	custom := core.BudgetAllocation{UserID: testUser, Month: 3, Year: 2024, NeedsPercent: 40, WantsPercent: 40, SavingsPercent: 20}
	if _, err := store.UpsertAllocation(ctx, custom); err != nil {
		t.Fatalf("store.UpsertAllocation() error = %v", err)
	}
	if a, _ := svc.Allocation(ctx, testUser, 3, 2024); a.NeedsPercent != 50 {
		t.Fatalf("Allocation() bypassed cache: %+v", a)
	}

	custom.NeedsPercent, custom.WantsPercent = 45, 35
	if _, err := svc.UpsertAllocation(ctx, custom); err != nil {
		t.Fatalf("UpsertAllocation() error = %v", err)
	}
	if a, _ := svc.Allocation(ctx, testUser, 3, 2024); a.NeedsPercent != 45 || a.WantsPercent != 35 {
		t.Fatalf("Allocation() after upsert = %+v", a)
	}
}

func TestBudgetService_UpsertAllocationValidation(t *testing.T) {
	svc := NewBudgetService(memory.New(), BudgetConfig{})
	ctx := context.Background()

	tests := []struct {
		name    string
		alloc   core.BudgetAllocation
		wantErr error
	}{
		{"anonymous", core.BudgetAllocation{Month: 1, Year: 2024, NeedsPercent: 50, WantsPercent: 30, SavingsPercent: 20}, core.ErrUnauthenticated},
		{"bad sum", core.BudgetAllocation{UserID: testUser, Month: 1, Year: 2024, NeedsPercent: 50, WantsPercent: 30, SavingsPercent: 30}, core.ErrValidation},
		{"bad month", core.BudgetAllocation{UserID: testUser, Month: 0, Year: 2024, NeedsPercent: 50, WantsPercent: 30, SavingsPercent: 20}, core.ErrValidation},
		{"negative income", core.BudgetAllocation{UserID: testUser, Month: 1, Year: 2024, NeedsPercent: 50, WantsPercent: 30, SavingsPercent: 20, TotalIncome: -1}, core.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.UpsertAllocation(ctx, tt.alloc); !errors.Is(err, tt.wantErr) {
				t.Errorf("UpsertAllocation() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBudgetService_Trends(t *testing.T) {
	store := memory.New()
	svc := NewBudgetService(store, DefaultBudgetConfig())
	ctx := context.Background()
	seedTransactions(t, store,
		core.Transaction{Amount: -10, Date: day(2024, 4, 1), Description: "a"},
		core.Transaction{Amount: -15, Date: day(2024, 4, 1), Description: "b"},
		core.Transaction{Amount: -20, Date: day(2024, 4, 3), Description: "c"},
		core.Transaction{Amount: 100, Date: day(2024, 4, 3), Description: "income"},
	)
	start, end := core.MonthBounds(2024, 4)

	points, err := svc.Trends(ctx, testUser, start, end, budget.GroupByDay)
	if err != nil {
		t.Fatalf("Trends() error = %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("Trends() returned %d points, want 2: %+v", len(points), points)
	}
	if points[0].Date != "2024-04-01" || points[0].Amount != 25 || points[0].Count != 2 {
		t.Errorf("first point = %+v", points[0])
	}

	if _, err := svc.Trends(ctx, testUser, start, end, budget.GroupBy("year")); !errors.Is(err, core.ErrValidation) {
		t.Errorf("Trends() invalid groupBy error = %v", err)
	}
	if _, err := svc.Trends(ctx, testUser, end, start, budget.GroupByDay); !errors.Is(err, core.ErrValidation) {
		t.Errorf("Trends() reversed range error = %v", err)
	}
	if _, err := svc.Categories(ctx, testUser, time.Time{}, end); !errors.Is(err, core.ErrValidation) {
		t.Errorf("Categories() zero start error = %v", err)
	}
}

func TestBudgetService_Categories(t *testing.T) {
	store := memory.New()
	svc := NewBudgetService(store, DefaultBudgetConfig())
	seedTransactions(t, store,
		core.Transaction{Amount: -75, Date: day(2024, 4, 1), Description: "tesco", Category: core.CategoryFood},
		core.Transaction{Amount: -25, Date: day(2024, 4, 2), Description: "netflix", Category: core.CategoryEntertainment},
	)
	start, end := core.MonthBounds(2024, 4)

	totals, err := svc.Categories(context.Background(), testUser, start, end)
	if err != nil {
		t.Fatalf("Categories() error = %v", err)
	}
	if len(totals) != 2 || totals[0].Category != core.CategoryFood || totals[0].Percentage != 75 {
		t.Fatalf("Categories() = %+v", totals)
	}
}

func TestBudgetService_Monthly(t *testing.T) {
	store := memory.New()
	svc := NewBudgetService(store, DefaultBudgetConfig())
	svc.now = func() time.Time { return day(2024, 6, 15) }
	seedTransactions(t, store,
		core.Transaction{Amount: 2000, Date: day(2024, 4, 1), Description: "salary"},
		core.Transaction{Amount: -500, Date: day(2024, 4, 2), Description: "rent"},
		core.Transaction{Amount: 2000, Date: day(2024, 6, 1), Description: "salary"},
		core.Transaction{Amount: -1500, Date: day(2024, 6, 2), Description: "rent"},
		core.Transaction{Amount: -100, Date: day(2024, 3, 31), Description: "outside window"},
	)

	got, err := svc.Monthly(context.Background(), testUser, 3)
	if err != nil {
		t.Fatalf("Monthly() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Monthly() = %+v, want April and June", got)
	}
	if got[0].Month != "2024-04" || got[0].Savings != 1500 || got[0].SavingsRate != 75 {
		t.Errorf("April = %+v", got[0])
	}
	if got[1].Month != "2024-06" || got[1].Expenses != 1500 || got[1].SavingsRate != 25 {
		t.Errorf("June = %+v", got[1])
	}

	if _, err := svc.Monthly(context.Background(), testUser, 0); !errors.Is(err, core.ErrValidation) {
		t.Errorf("Monthly(0) error = %v", err)
	}
}

func TestBudgetService_Progress(t *testing.T) {
	store := memory.New()
	svc := NewBudgetService(store, DefaultBudgetConfig())
	ctx := context.Background()

	seedTransactions(t, store,
		core.Transaction{Amount: -100, Date: day(2023, 12, 10), Description: "december shop", Category: core.CategoryFood},
		core.Transaction{Amount: -90, Date: day(2024, 1, 3), Description: "tesco", Category: core.CategoryFood},
		core.Transaction{Amount: -60, Date: day(2024, 1, 9), Description: "cinema", Category: core.CategoryEntertainment},
		core.Transaction{Amount: 2000, Date: day(2024, 1, 1), Description: "salary", Category: core.CategoryIncome},
	)

	budgets := []budget.CategoryBudget{
		{Name: "groceries", Category: core.CategoryFood, Amount: 100},
		{Name: "fun", Category: core.CategoryEntertainment, Amount: 50},
	}
	report, err := svc.Progress(ctx, testUser, 2024, 1, budgets)
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if report.Month != "2024-01" {
		t.Errorf("Month = %q, want 2024-01", report.Month)
	}
	if len(report.Items) != 2 {
		t.Fatalf("len(Items) = %d, want 2", len(report.Items))
	}
	if got := report.Items[0]; got.Spent != 90 || got.Status != budget.ProgressWarning {
		t.Errorf("groceries = %+v, want spent 90 and warning", got)
	}
	if got := report.Items[1]; got.Spent != 60 || got.Status != budget.ProgressOver {
		t.Errorf("fun = %+v, want spent 60 and over", got)
	}
	if report.SpendingChange != 50 {
		t.Errorf("SpendingChange = %v, want 50", report.SpendingChange)
	}

	if _, err := svc.Progress(ctx, testUser, 2024, 13, budgets); !errors.Is(err, core.ErrValidation) {
		t.Errorf("Progress(month 13) error = %v, want ErrValidation", err)
	}
	bad := []budget.CategoryBudget{{Name: "empty"}}
	if _, err := svc.Progress(ctx, testUser, 2024, 1, bad); !errors.Is(err, core.ErrValidation) {
		t.Errorf("Progress(no category) error = %v, want ErrValidation", err)
	}
}

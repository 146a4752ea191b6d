package memory

import (
	"context"
	"fmt"

	"budgetflow/internal/core"
)

func (s *Store) GetAllocation(_ context.Context, userID string, month, year int) (core.BudgetAllocation, error) {
	s.lock()
	defer s.unlock()

	a, ok := s.st.allocations[allocationKey{userID, year, month}]
	if !ok {
		return core.BudgetAllocation{}, fmt.Errorf("allocation %d-%02d: %w", year, month, core.ErrNotFound)
	}
	return a, nil
}

func (s *Store) UpsertAllocation(_ context.Context, a core.BudgetAllocation) (core.BudgetAllocation, error) {
	s.lock()
	defer s.unlock()

	a.UpdatedAt = s.now().UTC()
	s.st.allocations[allocationKey{a.UserID, a.Year, a.Month}] = a
	return a, nil
}

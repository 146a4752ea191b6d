package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"budgetflow/internal/core"
)

func (s *Store) CreateConnection(_ context.Context, c core.BankConnection) (core.BankConnection, error) {
	s.lock()
	defer s.unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, ok := s.st.connections[c.ID]; ok {
		return core.BankConnection{}, fmt.Errorf("bank connection %s already exists", c.ID)
	}
	if c.Status == "" {
		c.Status = core.ConnectionActive
	}
	now := s.now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	c = copyConnection(c)
	s.st.connections[c.ID] = c
	return copyConnection(c), nil
}

func (s *Store) GetConnection(_ context.Context, userID, id string) (core.BankConnection, error) {
	s.lock()
	defer s.unlock()

	c, ok := s.st.connections[id]
	if !ok || c.UserID != userID {
		return core.BankConnection{}, fmt.Errorf("bank connection %s: %w", id, core.ErrNotFound)
	}
	return copyConnection(c), nil
}

func (s *Store) ListConnections(_ context.Context, userID string) ([]core.BankConnection, error) {
	s.lock()
	defer s.unlock()

	var conns []core.BankConnection
	for _, c := range s.st.connections {
		if c.UserID == userID {
			conns = append(conns, copyConnection(c))
		}
	}
	sort.Slice(conns, func(i, j int) bool {
		if !conns[i].CreatedAt.Equal(conns[j].CreatedAt) {
			return conns[i].CreatedAt.Before(conns[j].CreatedAt)
		}
		return conns[i].ID < conns[j].ID
	})
	return conns, nil
}

func (s *Store) CountConnections(_ context.Context, userID string) (int, error) {
	s.lock()
	defer s.unlock()

	n := 0
	for _, c := range s.st.connections {
		if c.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *Store) UpdateCursor(_ context.Context, id, cursor string) error {
	return s.updateConnection(id, "update cursor", func(c *core.BankConnection) {
		c.Cursor = cursor
	})
}

func (s *Store) MarkSynced(_ context.Context, id string, at time.Time) error {
	return s.updateConnection(id, "mark synced", func(c *core.BankConnection) {
		synced := at.UTC()
		c.Status = core.ConnectionActive
		c.LastSyncedAt = &synced
	})
}

func (s *Store) SetConnectionStatus(_ context.Context, id string, status core.ConnectionStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: connection status %q", core.ErrValidation, status)
	}
	return s.updateConnection(id, "set connection status", func(c *core.BankConnection) {
		c.Status = status
	})
}

// DeleteConnection removes the connection and detaches its transactions.
func (s *Store) DeleteConnection(_ context.Context, userID, id string) error {
	s.lock()
	defer s.unlock()

	c, ok := s.st.connections[id]
	if !ok || c.UserID != userID {
		return fmt.Errorf("delete bank connection %s: %w", id, core.ErrNotFound)
	}
	delete(s.st.connections, id)
	for txID, r := range s.st.txs {
		if r.tx.BankConnectionID == id {
			r.tx.BankConnectionID = ""
			s.st.txs[txID] = r
		}
	}
	return nil
}

func (s *Store) updateConnection(id, op string, apply func(*core.BankConnection)) error {
	s.lock()
	defer s.unlock()

	c, ok := s.st.connections[id]
	if !ok {
		return fmt.Errorf("%s %s: %w", op, id, core.ErrNotFound)
	}
	apply(&c)
	c.UpdatedAt = s.now().UTC()
	s.st.connections[id] = c
	return nil
}

func copyConnection(c core.BankConnection) core.BankConnection {
	c.AccountIDs = slices.Clone(c.AccountIDs)
	if c.LastSyncedAt != nil {
		t := *c.LastSyncedAt
		c.LastSyncedAt = &t
	}
	return c
}

// Package memory is an in-process Store with the same uniqueness and
// transaction semantics as the SQLite store.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"budgetflow/internal/core"
	"budgetflow/internal/ports"
)

type externalKey struct {
	userID     string
	externalID string
}

type allocationKey struct {
	userID      string
	year, month int
}

type storedTx struct {
	tx  core.Transaction
	seq int64
}

type state struct {
	txs         map[string]storedTx
	external    map[externalKey]string
	connections map[string]core.BankConnection
	allocations map[allocationKey]core.BudgetAllocation
	seq         int64
}

func newState() *state {
	return &state{
		txs:         make(map[string]storedTx),
		external:    make(map[externalKey]string),
		connections: make(map[string]core.BankConnection),
		allocations: make(map[allocationKey]core.BudgetAllocation),
	}
}

func (s *state) clone() *state {
	c := &state{
		txs:         make(map[string]storedTx, len(s.txs)),
		external:    make(map[externalKey]string, len(s.external)),
		connections: make(map[string]core.BankConnection, len(s.connections)),
		allocations: make(map[allocationKey]core.BudgetAllocation, len(s.allocations)),
		seq:         s.seq,
	}
	for k, v := range s.txs {
		c.txs[k] = storedTx{tx: copyTx(v.tx), seq: v.seq}
	}
	for k, v := range s.external {
		c.external[k] = v
	}
	for k, v := range s.connections {
		c.connections[k] = copyConnection(v)
	}
	for k, v := range s.allocations {
		c.allocations[k] = v
	}
	return c
}

// Store keeps everything in maps guarded by one mutex. InTx holds the
// mutex for the whole callback, applies writes to a copy and swaps the
// copy in on success.
type Store struct {
	mu   *sync.Mutex
	st   *state
	inTx bool
	now  func() time.Time
}

var _ ports.Store = (*Store)(nil)

func New() *Store {
	return &Store{mu: &sync.Mutex{}, st: newState(), now: time.Now}
}

func (s *Store) lock() {
	if !s.inTx {
		s.mu.Lock()
	}
}

func (s *Store) unlock() {
	if !s.inTx {
		s.mu.Unlock()
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) InTx(ctx context.Context, fn func(tx ports.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	scoped := &Store{mu: s.mu, st: s.st.clone(), inTx: true, now: s.now}
	if err := fn(scoped); err != nil {
		return err
	}
	s.st = scoped.st
	return nil
}

func (s *Store) FindByDateRange(_ context.Context, userID string, start, end time.Time) ([]core.Transaction, error) {
	s.lock()
	defer s.unlock()

	var rows []storedTx
	for _, r := range s.st.txs {
		if r.tx.UserID != userID {
			continue
		}
		if r.tx.Date.Before(start) || r.tx.Date.After(end) {
			continue
		}
		rows = append(rows, r)
	}
	return sortedTxs(rows), nil
}

func (s *Store) FindByExternalID(_ context.Context, userID, externalID string) (core.Transaction, error) {
	s.lock()
	defer s.unlock()

	id, ok := s.st.external[externalKey{userID, externalID}]
	if !ok {
		return core.Transaction{}, fmt.Errorf("transaction with external id %s: %w", externalID, core.ErrNotFound)
	}
	return copyTx(s.st.txs[id].tx), nil
}

func (s *Store) ExistingExternalIDs(_ context.Context, userID string, ids []string) (map[string]bool, error) {
	s.lock()
	defer s.unlock()

	found := make(map[string]bool)
	for _, id := range ids {
		if _, ok := s.st.external[externalKey{userID, id}]; ok {
			found[id] = true
		}
	}
	return found, nil
}

func (s *Store) InsertMany(_ context.Context, txs []core.Transaction) (int, error) {
	s.lock()
	defer s.unlock()

	now := s.now().UTC()
	inserted := 0
	for _, t := range txs {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if _, ok := s.st.txs[t.ID]; ok {
			continue
		}
		if t.ExternalID != "" {
			key := externalKey{t.UserID, t.ExternalID}
			if _, ok := s.st.external[key]; ok {
				continue
			}
			s.st.external[key] = t.ID
		}
		t.CreatedAt, t.UpdatedAt = now, now
		s.st.seq++
		s.st.txs[t.ID] = storedTx{tx: copyTx(t), seq: s.st.seq}
		inserted++
	}
	return inserted, nil
}

func (s *Store) Patch(_ context.Context, userID, id string, p core.TransactionPatch) error {
	s.lock()
	defer s.unlock()

	r, ok := s.owned(userID, id)
	if !ok {
		return fmt.Errorf("patch transaction %s: %w", id, core.ErrNotFound)
	}
	r.tx.Amount = p.Amount
	r.tx.Description = p.Description
	r.tx.Merchant = p.Merchant
	if !p.Date.IsZero() {
		r.tx.Date = p.Date
	}
	r.tx.UpdatedAt = s.now().UTC()
	s.st.txs[id] = r
	return nil
}

func (s *Store) SetClassification(_ context.Context, userID, id, category string, score float64) error {
	s.lock()
	defer s.unlock()

	r, ok := s.owned(userID, id)
	if !ok {
		return fmt.Errorf("classify transaction %s: %w", id, core.ErrNotFound)
	}
	r.tx.Category = category
	r.tx.NecessityScore = core.ScorePtr(score)
	r.tx.UpdatedAt = s.now().UTC()
	s.st.txs[id] = r
	return nil
}

func (s *Store) UpdateTransaction(_ context.Context, t core.Transaction) error {
	s.lock()
	defer s.unlock()

	r, ok := s.owned(t.UserID, t.ID)
	if !ok {
		return fmt.Errorf("update transaction %s: %w", t.ID, core.ErrNotFound)
	}
	r.tx.Amount = t.Amount
	r.tx.Date = t.Date
	r.tx.Description = t.Description
	r.tx.Merchant = t.Merchant
	r.tx.Category = t.Category
	r.tx.NecessityScore = nil
	if t.NecessityScore != nil {
		r.tx.NecessityScore = core.ScorePtr(*t.NecessityScore)
	}
	r.tx.Notes = t.Notes
	r.tx.UpdatedAt = s.now().UTC()
	s.st.txs[t.ID] = r
	return nil
}

func (s *Store) DeleteByExternalID(_ context.Context, userID, externalID string) (bool, error) {
	s.lock()
	defer s.unlock()

	key := externalKey{userID, externalID}
	id, ok := s.st.external[key]
	if !ok {
		return false, nil
	}
	delete(s.st.external, key)
	delete(s.st.txs, id)
	return true, nil
}

func (s *Store) DeleteByID(_ context.Context, userID, id string) error {
	s.lock()
	defer s.unlock()

	r, ok := s.owned(userID, id)
	if !ok {
		return fmt.Errorf("delete transaction %s: %w", id, core.ErrNotFound)
	}
	if r.tx.ExternalID != "" {
		delete(s.st.external, externalKey{userID, r.tx.ExternalID})
	}
	delete(s.st.txs, id)
	return nil
}

func (s *Store) GetByIDs(_ context.Context, userID string, ids []string) ([]core.Transaction, error) {
	s.lock()
	defer s.unlock()

	var rows []storedTx
	for _, id := range ids {
		if r, ok := s.owned(userID, id); ok && !slices.ContainsFunc(rows, func(x storedTx) bool { return x.tx.ID == id }) {
			rows = append(rows, r)
		}
	}
	return sortedTxs(rows), nil
}

func (s *Store) owned(userID, id string) (storedTx, bool) {
	r, ok := s.st.txs[id]
	if !ok || r.tx.UserID != userID {
		return storedTx{}, false
	}
	return r, true
}

func sortedTxs(rows []storedTx) []core.Transaction {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].tx.Date.Equal(rows[j].tx.Date) {
			return rows[i].tx.Date.Before(rows[j].tx.Date)
		}
		return rows[i].seq < rows[j].seq
	})
	out := make([]core.Transaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, copyTx(r.tx))
	}
	return out
}

func copyTx(t core.Transaction) core.Transaction {
	if t.NecessityScore != nil {
		t.NecessityScore = core.ScorePtr(*t.NecessityScore)
	}
	return t
}

package storage_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"budgetflow/internal/core"
	"budgetflow/internal/ports"
	"budgetflow/internal/storage"
	"budgetflow/internal/storage/memory"
)

// forEachStore runs the same behavioural test against every Store.
func forEachStore(t *testing.T, fn func(t *testing.T, s ports.Store)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		fn(t, memory.New())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "budgetflow.db"))
		if err != nil {
			t.Fatalf("NewSQLiteRepository() error = %v", err)
		}
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func day(d int) time.Time {
	return time.Date(2024, 3, d, 12, 0, 0, 0, time.UTC)
}

func synced(user, externalID string, amount float64, date time.Time) core.Transaction {
	return core.Transaction{
		UserID:      user,
		Amount:      amount,
		Date:        date,
		Description: "tx " + externalID,
		ExternalID:  externalID,
		Source:      core.SourceOpenBanking,
	}
}

func TestInsertMany_SkipsDuplicateExternalIDs(t *testing.T) {
	forEachStore(t, func(t *testing.T, s ports.Store) {
		ctx := context.Background()

		n, err := s.InsertMany(ctx, []core.Transaction{
			synced("u1", "a", -10, day(1)),
			synced("u1", "b", -20, day(2)),
			synced("u1", "a", -99, day(3)), // same key within one batch
		})
		if err != nil {
			t.Fatalf("InsertMany() error = %v", err)
		}
		if n != 2 {
			t.Fatalf("inserted = %d, want 2", n)
		}

		// replay plus another user's identical external id
		n, err = s.InsertMany(ctx, []core.Transaction{
			synced("u1", "a", -10, day(1)),
			synced("u2", "a", -10, day(1)),
		})
		if err != nil {
			t.Fatalf("InsertMany() replay error = %v", err)
		}
		if n != 1 {
			t.Fatalf("replay inserted = %d, want 1", n)
		}

		got, err := s.FindByExternalID(ctx, "u1", "a")
		if err != nil {
			t.Fatalf("FindByExternalID() error = %v", err)
		}
		if got.Amount != -10 {
			t.Fatalf("first write must win, got amount %v", got.Amount)
		}

		// rows without an external id never collide
		manual := core.Transaction{UserID: "u1", Amount: -5, Date: day(4), Description: "cash", Source: core.SourceManual}
		if n, _ := s.InsertMany(ctx, []core.Transaction{manual, manual}); n != 2 {
			t.Fatalf("manual inserted = %d, want 2", n)
		}

		ids, err := s.ExistingExternalIDs(ctx, "u1", []string{"a", "b", "c"})
		if err != nil {
			t.Fatalf("ExistingExternalIDs() error = %v", err)
		}
		if !ids["a"] || !ids["b"] || ids["c"] || len(ids) != 2 {
			t.Fatalf("ExistingExternalIDs() = %v", ids)
		}
	})
}

func TestInsertMany_ConcurrentSameKeys(t *testing.T) {
	forEachStore(t, func(t *testing.T, s ports.Store) {
		ctx := context.Background()
		batch := []core.Transaction{synced("u1", "x", -1, day(1)), synced("u1", "y", -2, day(1))}

		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			total int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := s.InsertMany(ctx, batch)
				if err != nil {
					t.Errorf("InsertMany() error = %v", err)
					return
				}
				mu.Lock()
				total += n
				mu.Unlock()
			}()
		}
		wg.Wait()

		if total != 2 {
			t.Fatalf("total inserted = %d, want 2", total)
		}
		all, _ := s.FindByDateRange(ctx, "u1", day(1), day(1))
		if len(all) != 2 {
			t.Fatalf("stored rows = %d, want 2", len(all))
		}
	})
}

func TestFindByDateRange_InclusiveAndScoped(t *testing.T) {
	forEachStore(t, func(t *testing.T, s ports.Store) {
		ctx := context.Background()
		start, end := core.MonthBounds(2024, 3)
		_, err := s.InsertMany(ctx, []core.Transaction{
			synced("u1", "first", -1, start),
			synced("u1", "last", -2, end),
			synced("u1", "before", -3, start.Add(-time.Nanosecond)),
			synced("u1", "after", -4, end.Add(time.Nanosecond)),
			synced("u2", "other", -5, day(10)),
		})
		if err != nil {
			t.Fatalf("InsertMany() error = %v", err)
		}

		got, err := s.FindByDateRange(ctx, "u1", start, end)
		if err != nil {
			t.Fatalf("FindByDateRange() error = %v", err)
		}
		if len(got) != 2 || got[0].ExternalID != "first" || got[1].ExternalID != "last" {
			t.Fatalf("FindByDateRange() = %+v", got)
		}
		if !got[1].Date.Equal(end) {
			t.Fatalf("date round trip lost precision: %v != %v", got[1].Date, end)
		}
	})
}

func TestPatchAndClassification(t *testing.T) {
	forEachStore(t, func(t *testing.T, s ports.Store) {
		ctx := context.Background()
		tx := synced("u1", "p", -10, day(1))
		tx.ID = "tx-p"
		tx.Category = core.CategoryFood
		tx.NecessityScore = core.ScorePtr(1)
		if _, err := s.InsertMany(ctx, []core.Transaction{tx}); err != nil {
			t.Fatalf("InsertMany() error = %v", err)
		}

		patch := core.TransactionPatch{Amount: -12, Description: "corrected", Merchant: "Shop", Date: day(2)}
		if err := s.Patch(ctx, "u1", "tx-p", patch); err != nil {
			t.Fatalf("Patch() error = %v", err)
		}
		got, _ := s.FindByExternalID(ctx, "u1", "p")
		if got.Amount != -12 || got.Description != "corrected" || got.Merchant != "Shop" || !got.Date.Equal(day(2)) {
			t.Fatalf("patched row = %+v", got)
		}
		if got.Category != core.CategoryFood || got.NecessityScore == nil || *got.NecessityScore != 1 {
			t.Fatalf("patch must not touch classification: %+v", got)
		}

		if err := s.SetClassification(ctx, "u1", "tx-p", core.CategoryDining, 0); err != nil {
			t.Fatalf("SetClassification() error = %v", err)
		}
		rows, _ := s.GetByIDs(ctx, "u1", []string{"tx-p", "missing"})
		if len(rows) != 1 || rows[0].Category != core.CategoryDining || *rows[0].NecessityScore != 0 {
			t.Fatalf("GetByIDs() = %+v", rows)
		}

		if err := s.Patch(ctx, "u2", "tx-p", patch); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("foreign Patch() error = %v, want ErrNotFound", err)
		}
		if rows, _ := s.GetByIDs(ctx, "u2", []string{"tx-p"}); len(rows) != 0 {
			t.Fatalf("GetByIDs() leaked a foreign row")
		}
	})
}

func TestDeletes(t *testing.T) {
	forEachStore(t, func(t *testing.T, s ports.Store) {
		ctx := context.Background()
		a := synced("u1", "a", -1, day(1))
		a.ID = "tx-a"
		if _, err := s.InsertMany(ctx, []core.Transaction{a, synced("u1", "b", -2, day(1))}); err != nil {
			t.Fatalf("InsertMany() error = %v", err)
		}

		removed, err := s.DeleteByExternalID(ctx, "u1", "b")
		if err != nil || !removed {
			t.Fatalf("DeleteByExternalID() = %v, %v", removed, err)
		}
		removed, err = s.DeleteByExternalID(ctx, "u1", "b")
		if err != nil || removed {
			t.Fatalf("second DeleteByExternalID() = %v, %v, want false, nil", removed, err)
		}

		if err := s.DeleteByID(ctx, "u2", "tx-a"); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("foreign DeleteByID() error = %v", err)
		}
		if err := s.DeleteByID(ctx, "u1", "tx-a"); err != nil {
			t.Fatalf("DeleteByID() error = %v", err)
		}
		// the external id is free again
		if n, _ := s.InsertMany(ctx, []core.Transaction{synced("u1", "a", -1, day(1))}); n != 1 {
			t.Fatalf("reinsert after delete inserted %d", n)
		}
	})
}

func TestInTx(t *testing.T) {
	forEachStore(t, func(t *testing.T, s ports.Store) {
		ctx := context.Background()
		boom := errors.New("boom")

		err := s.InTx(ctx, func(tx ports.Store) error {
			if _, err := tx.InsertMany(ctx, []core.Transaction{synced("u1", "rolled-back", -1, day(1))}); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("InTx() error = %v, want boom", err)
		}
		if _, err := s.FindByExternalID(ctx, "u1", "rolled-back"); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("rolled back row is visible: %v", err)
		}

		conn, err := s.CreateConnection(ctx, core.BankConnection{UserID: "u1", ExternalItemID: "item", AccessToken: "tok"})
		if err != nil {
			t.Fatalf("CreateConnection() error = %v", err)
		}
		err = s.InTx(ctx, func(tx ports.Store) error {
			if _, err := tx.InsertMany(ctx, []core.Transaction{synced("u1", "kept", -1, day(1))}); err != nil {
				return err
			}
			return tx.UpdateCursor(ctx, conn.ID, "c1")
		})
		if err != nil {
			t.Fatalf("InTx() error = %v", err)
		}
		if _, err := s.FindByExternalID(ctx, "u1", "kept"); err != nil {
			t.Fatalf("committed row missing: %v", err)
		}
		got, _ := s.GetConnection(ctx, "u1", conn.ID)
		if got.Cursor != "c1" {
			t.Fatalf("cursor = %q, want c1", got.Cursor)
		}
	})
}

func TestConnections(t *testing.T) {
	forEachStore(t, func(t *testing.T, s ports.Store) {
		ctx := context.Background()
		expires := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		conn, err := s.CreateConnection(ctx, core.BankConnection{
			UserID:           "u1",
			ExternalItemID:   "item-1",
			AccessToken:      "tok-1",
			InstitutionName:  "Monzo",
			AccountIDs:       []string{"acc-1", "acc-2"},
			ConsentExpiresAt: expires,
		})
		if err != nil {
			t.Fatalf("CreateConnection() error = %v", err)
		}
		if conn.ID == "" || conn.Status != core.ConnectionActive {
			t.Fatalf("CreateConnection() = %+v", conn)
		}

		got, err := s.GetConnection(ctx, "u1", conn.ID)
		if err != nil {
			t.Fatalf("GetConnection() error = %v", err)
		}
		if len(got.AccountIDs) != 2 || !got.ConsentExpiresAt.Equal(expires) || got.LastSyncedAt != nil || got.Cursor != "" {
			t.Fatalf("GetConnection() = %+v", got)
		}
		if _, err := s.GetConnection(ctx, "u2", conn.ID); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("foreign GetConnection() error = %v", err)
		}

		if err := s.SetConnectionStatus(ctx, conn.ID, core.ConnectionError); err != nil {
			t.Fatalf("SetConnectionStatus() error = %v", err)
		}
		if err := s.SetConnectionStatus(ctx, conn.ID, "paused"); !errors.Is(err, core.ErrValidation) {
			t.Fatalf("invalid status error = %v", err)
		}
		at := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)
		if err := s.MarkSynced(ctx, conn.ID, at); err != nil {
			t.Fatalf("MarkSynced() error = %v", err)
		}
		got, _ = s.GetConnection(ctx, "u1", conn.ID)
		if got.Status != core.ConnectionActive || got.LastSyncedAt == nil || !got.LastSyncedAt.Equal(at) {
			t.Fatalf("after MarkSynced = %+v", got)
		}
		if err := s.UpdateCursor(ctx, "missing", "c"); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("UpdateCursor(missing) error = %v", err)
		}

		for i := 0; i < 2; i++ {
			if _, err := s.CreateConnection(ctx, core.BankConnection{UserID: "u1", ExternalItemID: fmt.Sprint("extra-", i), AccessToken: "t"}); err != nil {
				t.Fatalf("CreateConnection() error = %v", err)
			}
		}
		if n, _ := s.CountConnections(ctx, "u1"); n != 3 {
			t.Fatalf("CountConnections() = %d, want 3", n)
		}
		if list, _ := s.ListConnections(ctx, "u2"); len(list) != 0 {
			t.Fatalf("ListConnections() leaked connections")
		}

		tx := synced("u1", "linked", -1, day(1))
		tx.BankConnectionID = conn.ID
		if _, err := s.InsertMany(ctx, []core.Transaction{tx}); err != nil {
			t.Fatalf("InsertMany() error = %v", err)
		}
		if err := s.DeleteConnection(ctx, "u1", conn.ID); err != nil {
			t.Fatalf("DeleteConnection() error = %v", err)
		}
		kept, err := s.FindByExternalID(ctx, "u1", "linked")
		if err != nil {
			t.Fatalf("transaction lost with its connection: %v", err)
		}
		if kept.BankConnectionID != "" {
			t.Fatalf("BankConnectionID = %q, want detached", kept.BankConnectionID)
		}
		if err := s.DeleteConnection(ctx, "u1", conn.ID); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("second DeleteConnection() error = %v", err)
		}
	})
}

func TestAllocations(t *testing.T) {
	forEachStore(t, func(t *testing.T, s ports.Store) {
		ctx := context.Background()
		if _, err := s.GetAllocation(ctx, "u1", 3, 2024); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("GetAllocation(missing) error = %v", err)
		}

		a := core.BudgetAllocation{UserID: "u1", Month: 3, Year: 2024, NeedsPercent: 60, WantsPercent: 20, SavingsPercent: 20, TotalIncome: 3000}
		if _, err := s.UpsertAllocation(ctx, a); err != nil {
			t.Fatalf("UpsertAllocation() error = %v", err)
		}
		a.NeedsPercent, a.WantsPercent = 40, 40
		if _, err := s.UpsertAllocation(ctx, a); err != nil {
			t.Fatalf("second UpsertAllocation() error = %v", err)
		}

		got, err := s.GetAllocation(ctx, "u1", 3, 2024)
		if err != nil {
			t.Fatalf("GetAllocation() error = %v", err)
		}
		if got.NeedsPercent != 40 || got.WantsPercent != 40 || got.TotalIncome != 3000 || got.UpdatedAt.IsZero() {
			t.Fatalf("GetAllocation() = %+v", got)
		}
		if _, err := s.GetAllocation(ctx, "u1", 4, 2024); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("other month must be missing, got %v", err)
		}
	})
}

package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"budgetflow/internal/core"
	"budgetflow/internal/feed"
	feedmemory "budgetflow/internal/feed/memory"
	"budgetflow/internal/storage/memory"
)

type fakeRequester struct {
	calls [][2]string
	err   error
}

func (f *fakeRequester) PublishSyncRequest(_ context.Context, userID, connectionID string) error {
	f.calls = append(f.calls, [2]string{userID, connectionID})
	return f.err
}

func newBankingFixture(cfg BankingConfig, requester SyncRequester) (*BankingService, *memory.Store, *feedmemory.Feed) {
	store := memory.New()
	f := feedmemory.New()
	rec := NewReconciler(store, f, nil, DefaultReconcilerConfig())
	return NewBankingService(store, f, rec, requester, cfg), store, f
}

func TestDefaultBankingConfig(t *testing.T) {
	cfg := DefaultBankingConfig()
	if cfg.MaxConnections != 0 {
		t.Errorf("MaxConnections = %d, want 0", cfg.MaxConnections)
	}
	if cfg.ConsentDays != 90 {
		t.Errorf("ConsentDays = %d, want 90", cfg.ConsentDays)
	}
	if cfg.ConsentWarning != 7*24*time.Hour {
		t.Errorf("ConsentWarning = %v, want 168h", cfg.ConsentWarning)
	}
}

func TestBankingService_ExchangeToken(t *testing.T) {
	svc, store, f := newBankingFixture(DefaultBankingConfig(), nil)
	ctx := context.Background()
	f.AddItem("public-1", feed.Exchange{AccessToken: "access-1", ItemID: "item-1", AccountIDs: []string{"acc-1", "acc-2"}})

	view, err := svc.ExchangeToken(ctx, testUser, ExchangeRequest{PublicToken: "public-1", InstitutionID: "ins_1", InstitutionName: "First Bank"})
	if err != nil {
		t.Fatalf("ExchangeToken() error = %v", err)
	}
	if view.Status != core.ConnectionActive || view.InstitutionName != "First Bank" || len(view.AccountIDs) != 2 {
		t.Errorf("ExchangeToken() = %+v", view)
	}
	if view.ConsentExpiringSoon {
		t.Errorf("fresh connection flagged as expiring")
	}
	if d := time.Until(view.ConsentExpiresAt); d < 89*24*time.Hour || d > 91*24*time.Hour {
		t.Errorf("ConsentExpiresAt = %v, want about 90 days out", view.ConsentExpiresAt)
	}

	stored, err := store.GetConnection(ctx, testUser, view.ID)
	if err != nil {
		t.Fatalf("GetConnection() error = %v", err)
	}
	if stored.AccessToken != "access-1" || stored.ExternalItemID != "item-1" || stored.Cursor != "" {
		t.Errorf("stored connection = %+v", stored)
	}

	if _, err := svc.ExchangeToken(ctx, testUser, ExchangeRequest{PublicToken: "  "}); !errors.Is(err, core.ErrValidation) {
		t.Errorf("blank public token error = %v", err)
	}
	if _, err := svc.ExchangeToken(ctx, "", ExchangeRequest{PublicToken: "x"}); !errors.Is(err, core.ErrUnauthenticated) {
		t.Errorf("anonymous exchange error = %v", err)
	}
}

func TestBankingService_ConnectionLimit(t *testing.T) {
	cfg := DefaultBankingConfig()
	cfg.MaxConnections = 1
	svc, store, _ := newBankingFixture(cfg, nil)
	ctx := context.Background()

	if _, err := svc.ExchangeToken(ctx, testUser, ExchangeRequest{PublicToken: "first"}); err != nil {
		t.Fatalf("first ExchangeToken() error = %v", err)
	}
	if _, err := svc.ExchangeToken(ctx, testUser, ExchangeRequest{PublicToken: "second"}); !errors.Is(err, core.ErrConnectionLimit) {
		t.Fatalf("second ExchangeToken() error = %v, want ErrConnectionLimit", err)
	}
	if _, err := svc.ExchangeToken(ctx, "user-2", ExchangeRequest{PublicToken: "third"}); err != nil {
		t.Fatalf("limit leaked across users: %v", err)
	}
	if n, _ := store.CountConnections(ctx, testUser); n != 1 {
		t.Fatalf("CountConnections() = %d, want 1", n)
	}
}

func TestBankingService_ConsentExpiringSoon(t *testing.T) {
	svc, _, _ := newBankingFixture(BankingConfig{ConsentDays: 5}, nil)
	ctx := context.Background()

	view, err := svc.ExchangeToken(ctx, testUser, ExchangeRequest{PublicToken: "p"})
	if err != nil {
		t.Fatalf("ExchangeToken() error = %v", err)
	}
	if !view.ConsentExpiringSoon {
		t.Errorf("5-day consent not flagged with a 7-day warning window")
	}

	views, err := svc.ListConnections(ctx, testUser)
	if err != nil {
		t.Fatalf("ListConnections() error = %v", err)
	}
	if len(views) != 1 || !views[0].ConsentExpiringSoon {
		t.Errorf("ListConnections() = %+v", views)
	}
}

func TestBankingService_RemoveConnection(t *testing.T) {
	tests := []struct {
		name        string
		knownToFeed bool
	}{
		{"revoked upstream", true},
		{"revoke fails", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, f := newBankingFixture(DefaultBankingConfig(), nil)
			ctx := context.Background()

			token := "ghost-token"
			if tt.knownToFeed {
				f.AddItem("public", feed.Exchange{AccessToken: "live-token", ItemID: "item"})
				token = "live-token"
			}
			conn, err := store.CreateConnection(ctx, core.BankConnection{UserID: testUser, AccessToken: token})
			if err != nil {
				t.Fatalf("CreateConnection() error = %v", err)
			}
			seedTransactions(t, store, core.Transaction{
				Amount: -5, Date: day(2024, 1, 1), Description: "synced",
				ExternalID: "ext-1", BankConnectionID: conn.ID, Source: core.SourceOpenBanking,
			})

			if err := svc.RemoveConnection(ctx, "user-2", conn.ID); !errors.Is(err, core.ErrNotFound) {
				t.Fatalf("RemoveConnection() by another user error = %v", err)
			}
			if err := svc.RemoveConnection(ctx, testUser, conn.ID); err != nil {
				t.Fatalf("RemoveConnection() error = %v", err)
			}
			if tt.knownToFeed && !f.Revoked(token) {
				t.Errorf("item was not revoked upstream")
			}
			if _, err := store.GetConnection(ctx, testUser, conn.ID); !errors.Is(err, core.ErrNotFound) {
				t.Errorf("connection still stored: %v", err)
			}

			tx, err := store.FindByExternalID(ctx, testUser, "ext-1")
			if err != nil {
				t.Fatalf("synced transaction deleted with its connection: %v", err)
			}
			if tx.BankConnectionID != "" {
				t.Errorf("transaction still references removed connection: %+v", tx)
			}
		})
	}
}

func TestBankingService_Reauthentication(t *testing.T) {
	svc, store, f := newBankingFixture(DefaultBankingConfig(), nil)
	ctx := context.Background()
	f.AddItem("public", feed.Exchange{AccessToken: "access", ItemID: "item"})

	view, err := svc.ExchangeToken(ctx, testUser, ExchangeRequest{PublicToken: "public"})
	if err != nil {
		t.Fatalf("ExchangeToken() error = %v", err)
	}
	f.ExpireLogin("access", true)
	if _, err := svc.SyncConnection(ctx, testUser, view.ID); !errors.Is(err, core.ErrReauthRequired) {
		t.Fatalf("SyncConnection() error = %v", err)
	}
	if got, _ := svc.ConnectionStatus(ctx, testUser, view.ID); got.Status != core.ConnectionRequiresReauth {
		t.Fatalf("status = %s, want requires_reauth", got.Status)
	}

	link, err := svc.CreateUpdateLinkToken(ctx, testUser, view.ID, "https://app.example/callback")
	if err != nil {
		t.Fatalf("CreateUpdateLinkToken() error = %v", err)
	}
	if !strings.HasPrefix(link, "link-memory-") {
		t.Errorf("link token = %q", link)
	}

	f.ExpireLogin("access", false)
	got, err := svc.MarkReauthenticated(ctx, testUser, view.ID)
	if err != nil {
		t.Fatalf("MarkReauthenticated() error = %v", err)
	}
	if got.Status != core.ConnectionActive {
		t.Errorf("MarkReauthenticated() status = %s", got.Status)
	}
	if _, err := svc.SyncConnection(ctx, testUser, view.ID); err != nil {
		t.Errorf("SyncConnection() after reauth error = %v", err)
	}
	if c, _ := store.GetConnection(ctx, testUser, view.ID); c.LastSyncedAt == nil {
		t.Errorf("LastSyncedAt not set after sync")
	}
}

func TestBankingService_CreateLinkToken(t *testing.T) {
	svc, _, _ := newBankingFixture(DefaultBankingConfig(), nil)
	ctx := context.Background()

	if _, err := svc.CreateLinkToken(ctx, "", ""); !errors.Is(err, core.ErrUnauthenticated) {
		t.Errorf("anonymous CreateLinkToken() error = %v", err)
	}
	token, err := svc.CreateLinkToken(ctx, testUser, "")
	if err != nil || token == "" {
		t.Errorf("CreateLinkToken() = %q, %v", token, err)
	}
	if _, err := svc.CreateUpdateLinkToken(ctx, testUser, "missing", ""); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("CreateUpdateLinkToken() for missing connection error = %v", err)
	}
}

func TestBankingService_RequestSync(t *testing.T) {
	ctx := context.Background()

	t.Run("no queue", func(t *testing.T) {
		svc, _, _ := newBankingFixture(DefaultBankingConfig(), nil)
		if err := svc.RequestSync(ctx, testUser, ""); !errors.Is(err, ErrQueueUnavailable) {
			t.Errorf("RequestSync() error = %v, want ErrQueueUnavailable", err)
		}
	})

	t.Run("publishes", func(t *testing.T) {
		req := &fakeRequester{}
		svc, store, _ := newBankingFixture(DefaultBankingConfig(), req)
		conn, err := store.CreateConnection(ctx, core.BankConnection{UserID: testUser, AccessToken: "a"})
		if err != nil {
			t.Fatalf("CreateConnection() error = %v", err)
		}

		if err := svc.RequestSync(ctx, testUser, conn.ID); err != nil {
			t.Fatalf("RequestSync() error = %v", err)
		}
		if err := svc.RequestSync(ctx, testUser, ""); err != nil {
			t.Fatalf("RequestSync(all) error = %v", err)
		}
		if err := svc.RequestSync(ctx, testUser, "missing"); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("RequestSync(missing) error = %v", err)
		}
		if len(req.calls) != 2 || req.calls[0] != [2]string{testUser, conn.ID} || req.calls[1] != [2]string{testUser, ""} {
			t.Fatalf("published = %v", req.calls)
		}
	})

	t.Run("broker failure", func(t *testing.T) {
		req := &fakeRequester{err: errors.New("channel closed")}
		svc, _, _ := newBankingFixture(DefaultBankingConfig(), req)
		if err := svc.RequestSync(ctx, testUser, ""); err == nil || !strings.Contains(err.Error(), "channel closed") {
			t.Fatalf("RequestSync() error = %v", err)
		}
	})
}

package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"budgetflow/internal/feed"
)

func TestDelta_PagesAndCursor(t *testing.T) {
	f := New()
	f.Add("tok", feed.Record{TransactionID: "a"}, feed.Record{TransactionID: "b"})
	f.Modify("tok", feed.Record{TransactionID: "a", Name: "changed"})
	f.Remove("tok", "b")

	ctx := context.Background()
	p1, err := f.Delta(ctx, "tok", "", 3)
	if err != nil {
		t.Fatalf("Delta() error = %v", err)
	}
	if len(p1.Added) != 2 || len(p1.Modified) != 1 || p1.NextCursor != "3" || !p1.HasMore {
		t.Fatalf("unexpected first page %+v", p1)
	}

	p2, err := f.Delta(ctx, "tok", p1.NextCursor, 3)
	if err != nil {
		t.Fatalf("Delta() error = %v", err)
	}
	if len(p2.Removed) != 1 || p2.Removed[0] != "b" || p2.HasMore || p2.NextCursor != "4" {
		t.Fatalf("unexpected second page %+v", p2)
	}

	// caught up: same cursor, nothing new
	p3, err := f.Delta(ctx, "tok", p2.NextCursor, 3)
	if err != nil || !p3.Empty() || p3.NextCursor != "4" || p3.HasMore {
		t.Fatalf("caught-up page = %+v, %v", p3, err)
	}
	if f.DeltaCalls("tok") != 3 {
		t.Fatalf("DeltaCalls = %d, want 3", f.DeltaCalls("tok"))
	}
}

func TestDelta_Errors(t *testing.T) {
	f := New()
	ctx := context.Background()

	if _, err := f.Delta(ctx, "missing", "", 10); !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("expected ErrUnknownItem, got %v", err)
	}

	f.Add("tok", feed.Record{TransactionID: "a"})
	if _, err := f.Delta(ctx, "tok", "99", 10); !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("expected ErrInvalidCursor, got %v", err)
	}

	boom := errors.New("boom")
	f.FailWhen("tok", func(cursor string) error {
		if cursor == "" {
			return boom
		}
		return nil
	})
	if _, err := f.Delta(ctx, "tok", "", 10); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	f.FailWhen("tok", nil)

	if err := f.Revoke(ctx, "tok"); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if !f.Revoked("tok") {
		t.Fatalf("expected item to be revoked")
	}
	if _, err := f.Delta(ctx, "tok", "", 10); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
}

func TestExchangeToken(t *testing.T) {
	f := New()
	ctx := context.Background()
	want := feed.Exchange{AccessToken: "access-1", ItemID: "item-1", AccountIDs: []string{"acc-1"}}
	f.AddItem("public-1", want)

	got, err := f.ExchangeToken(ctx, "public-1")
	if err != nil {
		t.Fatalf("ExchangeToken() error = %v", err)
	}
	if got.AccessToken != want.AccessToken || got.ItemID != want.ItemID {
		t.Fatalf("ExchangeToken() = %+v, want %+v", got, want)
	}

	minted, err := f.ExchangeToken(ctx, "anything")
	if err != nil {
		t.Fatalf("ExchangeToken(unknown) error = %v", err)
	}
	if !strings.HasPrefix(minted.AccessToken, "access-memory-") || len(minted.AccountIDs) != 1 {
		t.Fatalf("unexpected minted exchange %+v", minted)
	}
	if _, err := f.Delta(ctx, minted.AccessToken, "", 10); err != nil {
		t.Fatalf("minted item should be syncable, got %v", err)
	}
}

func TestCreateLinkSession(t *testing.T) {
	f := New()
	ctx := context.Background()
	token, err := f.CreateLinkSession(ctx, "user-1", feed.LinkOptions{})
	if err != nil || !strings.HasPrefix(token, "link-memory-") {
		t.Fatalf("CreateLinkSession() = %q, %v", token, err)
	}
	if _, err := f.CreateLinkSession(ctx, "", feed.LinkOptions{}); err == nil {
		t.Fatalf("expected error for empty user")
	}
	if _, err := f.CreateLinkSession(ctx, "user-1", feed.LinkOptions{AccessToken: "nope"}); !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("expected ErrUnknownItem for update mode on unknown item, got %v", err)
	}
}

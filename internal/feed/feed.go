// Package feed defines the external bank delta feed and maps its records
// onto local transactions.
package feed

import (
	"context"
	"errors"
	"time"
)

// ErrLoginRequired means the institution login must be refreshed before
// the item can be synced again.
var ErrLoginRequired = errors.New("institution login required")

// MaxPageSize is the largest page the delta endpoint accepts.
const MaxPageSize = 500

// Feed is an incremental transaction feed addressed by an opaque cursor.
type Feed interface {
	CreateLinkSession(ctx context.Context, userID string, opts LinkOptions) (string, error)
	ExchangeToken(ctx context.Context, publicToken string) (Exchange, error)
	Delta(ctx context.Context, accessToken, cursor string, pageSize int) (Page, error)
	Revoke(ctx context.Context, accessToken string) error
}

type LinkOptions struct {
	RedirectURI string
	// AccessToken puts the link session in update mode for an existing item.
	AccessToken string
}

type Exchange struct {
	AccessToken string
	ItemID      string
	AccountIDs  []string
}

// Record is a transaction as reported by the feed. Amount follows the feed
// convention: positive means money leaving the account.
type Record struct {
	TransactionID       string
	AccountID           string
	Amount              float64
	Date                time.Time
	Name                string
	OriginalDescription string
	MerchantName        string
	Counterparty        string
	CategoryPrimary     string
}

// Page is one response of the delta endpoint.
type Page struct {
	Added      []Record
	Modified   []Record
	Removed    []string
	NextCursor string
	HasMore    bool
}

// Empty reports whether the page carries no changes.
func (p Page) Empty() bool {
	return len(p.Added) == 0 && len(p.Modified) == 0 && len(p.Removed) == 0
}

// Package memory is a scripted in-process delta feed used for local
// development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"budgetflow/internal/feed"
)

var (
	ErrUnknownItem   = errors.New("unknown access token")
	ErrRevoked       = errors.New("item revoked")
	ErrInvalidCursor = errors.New("invalid cursor")
)

type changeKind int

const (
	changeAdded changeKind = iota
	changeModified
	changeRemoved
)

type change struct {
	kind      changeKind
	record    feed.Record
	removedID string
}

type item struct {
	exchange     feed.Exchange
	log          []change
	revoked      bool
	loginExpired bool
	failWhen     func(cursor string) error
	deltaCalls   int
}

// Feed keeps an append-only change log per item. The cursor is the log
// offset, so replaying from an older cursor yields the same changes again.
type Feed struct {
	mu      sync.Mutex
	items   map[string]*item // keyed by access token
	pending map[string]feed.Exchange
}

var _ feed.Feed = (*Feed)(nil)

func New() *Feed {
	return &Feed{
		items:   make(map[string]*item),
		pending: make(map[string]feed.Exchange),
	}
}

// AddItem registers an item that ExchangeToken will hand out for publicToken.
func (f *Feed) AddItem(publicToken string, ex feed.Exchange) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[publicToken] = ex
	f.items[ex.AccessToken] = &item{exchange: ex}
}

func (f *Feed) Add(accessToken string, records ...feed.Record) {
	f.appendChanges(accessToken, changeAdded, records, nil)
}

func (f *Feed) Modify(accessToken string, records ...feed.Record) {
	f.appendChanges(accessToken, changeModified, records, nil)
}

func (f *Feed) Remove(accessToken string, transactionIDs ...string) {
	f.appendChanges(accessToken, changeRemoved, nil, transactionIDs)
}

// FailWhen makes Delta return the error produced by fn for the given cursor.
// A nil fn clears the failure.
func (f *Feed) FailWhen(accessToken string, fn func(cursor string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.itemLocked(accessToken).failWhen = fn
}

// ExpireLogin makes every following Delta call report feed.ErrLoginRequired.
func (f *Feed) ExpireLogin(accessToken string, expired bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.itemLocked(accessToken).loginExpired = expired
}

// DeltaCalls reports how many times Delta was called for the item.
func (f *Feed) DeltaCalls(accessToken string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if it, ok := f.items[accessToken]; ok {
		return it.deltaCalls
	}
	return 0
}

func (f *Feed) Revoked(accessToken string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if it, ok := f.items[accessToken]; ok {
		return it.revoked
	}
	return false
}

func (f *Feed) CreateLinkSession(_ context.Context, userID string, opts feed.LinkOptions) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	if opts.AccessToken != "" {
		f.mu.Lock()
		_, ok := f.items[opts.AccessToken]
		f.mu.Unlock()
		if !ok {
			return "", ErrUnknownItem
		}
	}
	return "link-memory-" + uuid.NewString(), nil
}

func (f *Feed) ExchangeToken(_ context.Context, publicToken string) (feed.Exchange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ex, ok := f.pending[publicToken]; ok {
		delete(f.pending, publicToken)
		return ex, nil
	}
	// unknown public tokens mint an empty item, like a sandbox institution
	ex := feed.Exchange{
		AccessToken: "access-memory-" + uuid.NewString(),
		ItemID:      "item-" + uuid.NewString(),
		AccountIDs:  []string{"acc-" + uuid.NewString()},
	}
	f.items[ex.AccessToken] = &item{exchange: ex}
	return ex, nil
}

func (f *Feed) Delta(_ context.Context, accessToken, cursor string, pageSize int) (feed.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	it, ok := f.items[accessToken]
	if !ok {
		return feed.Page{}, ErrUnknownItem
	}
	it.deltaCalls++
	if it.revoked {
		return feed.Page{}, ErrRevoked
	}
	if it.loginExpired {
		return feed.Page{}, feed.ErrLoginRequired
	}
	if it.failWhen != nil {
		if err := it.failWhen(cursor); err != nil {
			return feed.Page{}, err
		}
	}

	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 || n > len(it.log) {
			return feed.Page{}, fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
		}
		start = n
	}
	if pageSize < 1 {
		pageSize = feed.MaxPageSize
	}
	end := min(start+pageSize, len(it.log))

	page := feed.Page{
		NextCursor: strconv.Itoa(end),
		HasMore:    end < len(it.log),
	}
	for _, c := range it.log[start:end] {
		switch c.kind {
		case changeAdded:
			page.Added = append(page.Added, c.record)
		case changeModified:
			page.Modified = append(page.Modified, c.record)
		case changeRemoved:
			page.Removed = append(page.Removed, c.removedID)
		}
	}
	return page, nil
}

func (f *Feed) Revoke(_ context.Context, accessToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[accessToken]
	if !ok {
		return ErrUnknownItem
	}
	it.revoked = true
	return nil
}

func (f *Feed) appendChanges(accessToken string, kind changeKind, records []feed.Record, ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it := f.itemLocked(accessToken)
	for _, r := range records {
		it.log = append(it.log, change{kind: kind, record: r})
	}
	for _, id := range ids {
		it.log = append(it.log, change{kind: kind, removedID: id})
	}
}

func (f *Feed) itemLocked(accessToken string) *item {
	it, ok := f.items[accessToken]
	if !ok {
		it = &item{exchange: feed.Exchange{AccessToken: accessToken}}
		f.items[accessToken] = it
	}
	return it
}

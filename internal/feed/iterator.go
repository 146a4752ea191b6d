package feed

import (
	"context"
	"fmt"
)

// PageIterator walks the delta feed one page at a time. The cursor is its
// only state, so an interrupted walk resumes from any committed cursor.
type PageIterator struct {
	feed        Feed
	accessToken string
	cursor      string
	pageSize    int
	done        bool
}

func NewPageIterator(f Feed, accessToken, cursor string, pageSize int) *PageIterator {
	if pageSize < 1 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return &PageIterator{
		feed:        f,
		accessToken: accessToken,
		cursor:      cursor,
		pageSize:    pageSize,
	}
}

// Next fetches the page after the current cursor. Call it while Done is false.
func (it *PageIterator) Next(ctx context.Context) (Page, error) {
	if it.done {
		return Page{}, fmt.Errorf("page iterator exhausted")
	}
	page, err := it.feed.Delta(ctx, it.accessToken, it.cursor, it.pageSize)
	if err != nil {
		return Page{}, err
	}
	if page.HasMore && (page.NextCursor == it.cursor || page.NextCursor == "") {
		return Page{}, fmt.Errorf("feed reported more pages without advancing cursor %q", it.cursor)
	}
	// An empty cursor means "from the beginning"; it never replaces a
	// position already held.
	if page.NextCursor != "" {
		it.cursor = page.NextCursor
	}
	it.done = !page.HasMore
	return page, nil
}

func (it *PageIterator) Done() bool {
	return it.done
}

// Cursor is the continuation token after the last fetched page, or the
// last non-empty one the feed handed out.
func (it *PageIterator) Cursor() string {
	return it.cursor
}

// ABOUTME: Page request validation and page math for message history
// ABOUTME: Newest-first offset paging returned in chronological order

package store

import (
	"errors"
	"fmt"
	"slices"
)

const (
	// DefaultPage and DefaultPageLimit are applied by callers when a client
	// omits paging parameters.
	DefaultPage      = 1
	DefaultPageLimit = 50
)

// ErrInvalidPage is returned for non-positive page or limit values.
var ErrInvalidPage = errors.New("invalid page request")

// PageRequest selects one page of history. Page 1 is the newest page.
type PageRequest struct {
	Page  int
	Limit int
}

// Validate rejects non-positive values. Any positive limit is accepted.
func (p PageRequest) Validate() error {
	if p.Page < 1 {
		return fmt.Errorf("%w: page must be positive, got %d", ErrInvalidPage, p.Page)
	}
	if p.Limit < 1 {
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidPage, p.Limit)
	}
	return nil
}

// Offset is the number of newest messages skipped before this page.
func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.Limit
}

// MessagePage is one page of history in chronological (ascending) order.
type MessagePage struct {
	Messages []*Message
	Page     int
	Limit    int
	Total    int
	Pages    int
}

// TotalPages is ceil(total/limit).
func TotalPages(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// newMessagePage builds a page from a newest-first slice, reversing it to
// chronological order.
func newMessagePage(newestFirst []*Message, req PageRequest, total int) *MessagePage {
	msgs := slices.Clone(newestFirst)
	slices.Reverse(msgs)
	if msgs == nil {
		msgs = []*Message{}
	}
	return &MessagePage{
		Messages: msgs,
		Page:     req.Page,
		Limit:    req.Limit,
		Total:    total,
		Pages:    TotalPages(total, req.Limit),
	}
}

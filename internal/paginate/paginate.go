// Package paginate drains token-paginated list APIs into a single slice.
//
// Every cloud listing call in this project follows the same contract: a page
// of items plus an optional continuation token. The provider-specific name of
// that token (NextToken, Marker, ContinuationToken, Continue, ...) is handled
// inside the PageFunc so the loop itself is written once.
package paginate

import (
	"context"
	"errors"
	"fmt"
)

// ErrRepeatedToken is returned when a page reports the same continuation
// token that was used to request it.
var ErrRepeatedToken = errors.New("continuation token did not advance")

// PageFunc fetches one page. token is nil for the first request. A nil or
// empty next token signals the last page.
type PageFunc[T any] func(ctx context.Context, token *string) (items []T, next *string, err error)

// ListAll calls fetch until the continuation token is exhausted and returns
// every item in page order. The first fetch error aborts the listing; items
// from earlier pages are discarded.
func ListAll[T any](ctx context.Context, fetch PageFunc[T]) ([]T, error) {
	var (
		all   []T
		token *string
	)
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		items, next, err := fetch(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		all = append(all, items...)

		if next == nil || *next == "" {
			return all, nil
		}
		if token != nil && *token == *next {
			return nil, fmt.Errorf("page %d: %w", page, ErrRepeatedToken)
		}
		token = next
	}
}

// Token converts a string continuation field (such as the Kubernetes
// ListMeta.Continue value) into the pointer form PageFunc expects.
func Token(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Value dereferences a continuation token; nil yields "".
func Value(token *string) string {
	if token == nil {
		return ""
	}
	return *token
}

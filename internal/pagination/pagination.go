// Package pagination walks page-numbered upstream collections.
package pagination

import (
	"context"
	"fmt"
	"iter"
)

// Page is one fetched page. TotalPages is what the upstream reported with it;
// zero or negative means unknown and is treated as 1.
type Page[T any] struct {
	Number     int
	Items      []T
	TotalPages int
}

// Fetch retrieves a single 1-based page.
type Fetch[T any] func(ctx context.Context, page int) (Page[T], error)

type options struct {
	endOfData func(error) bool
}

type Option func(*options)

// WithEndOfData classifies fetch failures that mean "no more pages". Such a failure
// ends iteration cleanly instead of being reported.
func WithEndOfData(pred func(error) bool) Option {
	return func(o *options) {
		o.endOfData = pred
	}
}

// Pages yields pages 1..TotalPages in order, one request at a time. TotalPages is
// re-read after every page. The first non end-of-data error is yielded once and stops
// iteration.
func Pages[T any](ctx context.Context, fetch Fetch[T], opts ...Option) iter.Seq2[Page[T], error] {
	o := options{endOfData: func(error) bool { return false }}
	for _, opt := range opts {
		opt(&o)
	}

	return func(yield func(Page[T], error) bool) {
		total := 1
		for current := 1; current <= total; current++ {
			if err := ctx.Err(); err != nil {
				yield(Page[T]{}, err)
				return
			}
			page, err := fetch(ctx, current)
			if err != nil {
				if o.endOfData(err) {
					return
				}
				yield(Page[T]{}, fmt.Errorf("page %d: %w", current, err))
				return
			}
			page.Number = current
			total = max(page.TotalPages, 1)
			if !yield(page, nil) {
				return
			}
		}
	}
}

// Collect drains Pages and concatenates the items. Any error discards what was gathered.
func Collect[T any](ctx context.Context, fetch Fetch[T], opts ...Option) ([]T, error) {
	var all []T
	for page, err := range Pages(ctx, fetch, opts...) {
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
	}
	return all, nil
}

// Package dispatch runs batches of independent, possibly slow calls with a
// bounded number in flight. Results come back in submission order and one
// item's failure never disturbs its siblings: each input resolves to either
// a value or a captured error, never neither.
package dispatch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultLimit is used when a caller passes a non-positive concurrency limit.
const DefaultLimit = 3

// Result holds the outcome of a single dispatched item.
type Result[R any] struct {
	Value R
	Err   error
}

// Ok reports whether the item resolved without error.
func (r Result[R]) Ok() bool { return r.Err == nil }

// Map applies fn to every item with at most limit calls in flight.
// The returned slice has the same length and index order as items: slot i
// always holds item i's outcome regardless of completion order.
//
// fn errors are captured into the corresponding Result rather than aborting
// the batch; the batch itself only fails if ctx is cancelled before all
// items were dispatched. Even then every remaining slot is resolved, with
// the context error recorded for items that never ran.
func Map[T, R any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, index int, item T) (R, error)) []Result[R] {
	if limit <= 0 {
		limit = DefaultLimit
	}

	results := make([]Result[R], len(items))

	g := new(errgroup.Group)
	g.SetLimit(limit)

	for i, item := range items {
		g.Go(func() error {
			// A cancelled batch still resolves every slot: items that
			// never ran record the context error as their outcome.
			if err := ctx.Err(); err != nil {
				results[i] = Result[R]{Err: fmt.Errorf("dispatch item %d: %w", i, err)}
				return nil
			}

			v, err := fn(ctx, i, item)
			results[i] = Result[R]{Value: v, Err: err}
			return nil
		})
	}

	// Each goroutine writes only its own slot, so no mutex is needed.
	_ = g.Wait()

	return results
}

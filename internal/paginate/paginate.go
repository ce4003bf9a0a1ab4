// Package paginate walks cursor-paginated list endpoints through a retry
// executor, dropping items already seen and stopping when the remote side
// stops advancing.
package paginate

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/teemow/inboxfleet/internal/apperrors"
	"github.com/teemow/inboxfleet/internal/logging"
	"github.com/teemow/inboxfleet/internal/retry"
)

// Defaults for Options.
const (
	DefaultPageSize = 100
	DefaultMaxPages = 50
)

// Page is one response from a list endpoint.
type Page[T any] struct {
	Items []T
	// Next is the cursor for the following page. When empty the cursor is
	// derived with Options.Cursor, if set.
	Next string
}

// PageFunc fetches one page starting at cursor. The first call gets "".
type PageFunc[T any] func(ctx context.Context, cursor string, limit int) (Page[T], error)

// Options configures FetchAll.
type Options[T any] struct {
	PageSize int
	// MaxPages bounds the walk independently of the loop guard.
	MaxPages int

	// ID returns an item's unique id. Required.
	ID func(T) string
	// Cursor derives the next cursor from the last item of a page, for
	// endpoints that only support "items after X".
	Cursor func(last T) string

	// LogicalKey, when set, collapses items sharing a key, such as several
	// replies from one sender, keeping the most recent.
	LogicalKey func(T) string
	// Recency orders items for the collapse and for the result. Without
	// it the last fetched item of a key wins and fetch order is kept.
	Recency func(T) time.Time

	Logger *slog.Logger
}

// Result is the outcome of a walk.
type Result[T any] struct {
	Items []T
	Pages int
	// LoopDetected is set when the remote side returned a page holding
	// nothing but the previous page's items.
	LoopDetected bool
	// Truncated is set when MaxPages stopped the walk.
	Truncated bool
}

// FetchAll pages through fetch until the cursor runs out, a page repeats
// the previous one or MaxPages is reached. When the endpoint returns no
// Next cursor, a page shorter than PageSize ends the walk. Every page goes
// through exec. If a page fails the items collected so far are returned
// with the error.
func FetchAll[T any](ctx context.Context, exec *retry.Executor, op string, fetch PageFunc[T], opts Options[T]) (*Result[T], error) {
	if opts.ID == nil {
		return nil, fmt.Errorf("paginate %s: ID func is required", op)
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	if exec == nil {
		exec = retry.New(nil, retry.DefaultPolicy())
	}
	logger := logging.WithOperation(logging.OrDefault(opts.Logger), op)

	res := &Result[T]{}
	seen := make(map[string]struct{})
	var (
		prevIDs map[string]struct{}
		cursor  string
	)

	for {
		if res.Pages >= maxPages {
			res.Truncated = true
			logger.Debug("pagination stopped at page limit", slog.Int("pages", res.Pages))
			break
		}

		page, err := retry.Do(ctx, exec, op, func(ctx context.Context) (Page[T], error) {
			return fetch(ctx, cursor, pageSize)
		})
		if err != nil {
			res.Items = collapse(res.Items, opts)
			return res, err
		}
		res.Pages++

		pageIDs := make(map[string]struct{}, len(page.Items))
		for _, item := range page.Items {
			id := opts.ID(item)
			pageIDs[id] = struct{}{}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			res.Items = append(res.Items, item)
		}

		if repeats(pageIDs, prevIDs) {
			res.LoopDetected = true
			logger.Warn("pagination loop detected, returning partial results",
				slog.Int("pages", res.Pages),
				slog.Int("items", len(res.Items)),
				logging.Err(apperrors.New(apperrors.KindPaginationLoop, op, "page repeated the previous page")),
			)
			break
		}
		prevIDs = pageIDs

		next := page.Next
		if next == "" {
			// Without a server cursor a short page is the final page.
			if len(page.Items) < pageSize || opts.Cursor == nil {
				break
			}
			if next = opts.Cursor(page.Items[len(page.Items)-1]); next == "" {
				break
			}
		}
		cursor = next
	}

	exec.Metrics().RecordPagination(ctx, exec.Kind(), op, res.Pages, res.LoopDetected)
	res.Items = collapse(res.Items, opts)
	return res, nil
}

// repeats reports whether cur is a non-empty subset of prev.
func repeats(cur, prev map[string]struct{}) bool {
	if len(cur) == 0 || prev == nil {
		return false
	}
	for id := range cur {
		if _, ok := prev[id]; !ok {
			return false
		}
	}
	return true
}

func collapse[T any](items []T, opts Options[T]) []T {
	if opts.LogicalKey == nil {
		if opts.Recency != nil {
			slices.SortStableFunc(items, func(a, b T) int {
				return opts.Recency(b).Compare(opts.Recency(a))
			})
		}
		return items
	}

	index := make(map[string]int, len(items))
	out := make([]T, 0, len(items))
	for _, item := range items {
		key := opts.LogicalKey(item)
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, item)
			continue
		}
		if opts.Recency == nil || !opts.Recency(item).Before(opts.Recency(out[i])) {
			out[i] = item
		}
	}

	if opts.Recency != nil {
		slices.SortStableFunc(out, func(a, b T) int {
			return opts.Recency(b).Compare(opts.Recency(a))
		})
	}
	return out
}

package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds the workers of Process.
const DefaultConcurrency = 4

// Result status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result is the outcome for one item.
type Result struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// BatchResult aggregates the outcomes of a batch.
type BatchResult struct {
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Results    []Result `json:"results"`
}

// ParseStringOrArray accepts a single string, an array of strings or a
// string holding a JSON array of strings.
func ParseStringOrArray(param any, paramName string) ([]string, error) {
	if param == nil {
		return nil, fmt.Errorf("%s is required", paramName)
	}

	switch v := param.(type) {
	case string:
		if v == "" {
			return nil, fmt.Errorf("%s cannot be empty", paramName)
		}
		if strings.HasPrefix(strings.TrimSpace(v), "[") {
			var ids []string
			if err := json.Unmarshal([]byte(v), &ids); err == nil {
				if len(ids) == 0 {
					return nil, fmt.Errorf("%s cannot be empty", paramName)
				}
				return ids, nil
			}
		}
		return []string{v}, nil
	case []any:
		if len(v) == 0 {
			return nil, fmt.Errorf("%s cannot be empty", paramName)
		}
		ids := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d] must be a string", paramName, i)
			}
			if s == "" {
				return nil, fmt.Errorf("%s[%d] cannot be empty", paramName, i)
			}
			ids = append(ids, s)
		}
		return ids, nil
	case []string:
		if len(v) == 0 {
			return nil, fmt.Errorf("%s cannot be empty", paramName)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%s must be a string or array of strings", paramName)
	}
}

// Summarize counts the outcomes of results.
func Summarize(results []Result) BatchResult {
	br := BatchResult{Total: len(results), Results: results}
	for _, r := range results {
		if r.Status == StatusSuccess {
			br.Successful++
		} else {
			br.Failed++
		}
	}
	return br
}

// FormatResults renders results as indented JSON.
func FormatResults(results []Result) string {
	data, _ := json.MarshalIndent(Summarize(results), "", "  ")
	return string(data)
}

// Process runs fn for every id with at most concurrency workers and
// returns one Result per id in input order. A failing item does not stop
// the others. formatErr renders item errors; nil uses err.Error().
func Process[T any](ctx context.Context, ids []string, concurrency int, fn func(ctx context.Context, id string) (T, error), formatErr func(error) string) []Result {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if formatErr == nil {
		formatErr = func(err error) string { return err.Error() }
	}

	results := make([]Result, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, id := range ids {
		g.Go(func() error {
			res, err := fn(gctx, id)
			if err != nil {
				results[i] = NewErrorResult(id, formatErr(err))
				return nil
			}
			results[i] = NewSuccessResult(id, res)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// NewSuccessResult creates a success result.
func NewSuccessResult(id string, result any) Result {
	return Result{ID: id, Status: StatusSuccess, Result: result}
}

// NewErrorResult creates an error result.
func NewErrorResult(id, message string) Result {
	return Result{ID: id, Status: StatusError, Error: message}
}

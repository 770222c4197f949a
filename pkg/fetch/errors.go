package fetch

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/github-code-search/pkg/client"
)

// ErrThrottleExhausted is returned when a page stayed throttled for
// RetryPolicy.MaxAttempts attempts.
var ErrThrottleExhausted = errors.New("search throttled beyond retry budget")

// FatalQueryError is a non-retryable search failure (HTTP status >= 400
// other than 403). It aborts the whole search.
type FatalQueryError struct {
	StatusCode int
	Query      client.Query
	Page       int
	Err        error
}

// Error implements the error interface.
func (e *FatalQueryError) Error() string {
	return fmt.Sprintf("fatal search error (status %d) for %q page %d: %v",
		e.StatusCode, e.Query.Term, e.Page, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FatalQueryError) Unwrap() error {
	return e.Err
}

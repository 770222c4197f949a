// Package fetch requests single pages of code search results, waiting out
// throttling and telling "no more data" apart from fatal query errors.
package fetch

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/github-code-search/pkg/client"
)

var pageOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "codesearch_page_outcomes_total",
	Help: "Total number of classified page fetches by outcome",
}, []string{"outcome"})

// Kind tags the variant of an Outcome.
type Kind int

const (
	// Success carries a non-empty page of items.
	Success Kind = iota
	// NoMoreData ends the current pass over a query.
	NoMoreData
	// Throttled means the call must be repeated after a wait.
	Throttled
	// Fatal aborts the search.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case NoMoreData:
		return "no_more_data"
	case Throttled:
		return "throttled"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the classified result of one page request.
type Outcome struct {
	Kind       Kind
	Items      []client.Record
	TotalCount int
	StatusCode int

	// Err is the underlying client error, if any.
	Err error
}

// Searcher executes one code search request.
type Searcher interface {
	SearchCode(ctx context.Context, q client.Query, page, perPage int) (*client.SearchResult, error)
}

// Gate answers whether a search call may proceed.
type Gate interface {
	CanSearch(ctx context.Context) (bool, error)
}

// Config holds fetcher settings.
type Config struct {
	Policy RetryPolicy

	// Sleeper performs throttling waits. Defaults to TimerSleeper.
	Sleeper Sleeper
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() Config {
	return Config{
		Policy:  DefaultRetryPolicy(),
		Sleeper: TimerSleeper,
	}
}

// Fetcher fetches single pages of search results.
type Fetcher struct {
	searcher Searcher
	gate     Gate
	policy   RetryPolicy
	sleeper  Sleeper
	logger   zerolog.Logger
}

// New creates a fetcher. gate may be nil to skip the quota check.
func New(searcher Searcher, gate Gate, cfg Config, logger zerolog.Logger) *Fetcher {
	if cfg.Sleeper == nil {
		cfg.Sleeper = TimerSleeper
	}
	return &Fetcher{
		searcher: searcher,
		gate:     gate,
		policy:   cfg.Policy,
		sleeper:  cfg.Sleeper,
		logger:   logger,
	}
}

// FetchPage returns page of q, retrying while throttled.
//
// The returned Outcome is Success or NoMoreData when err is nil. A fatal
// status is returned as *FatalQueryError, an exhausted retry budget as
// ErrThrottleExhausted and cancellation as the context error.
func (f *Fetcher) FetchPage(ctx context.Context, q client.Query, page int) (Outcome, error) {
	logger := f.logger.With().
		Str("query", q.Term).
		Str("sort", q.Sort).
		Str("order", q.Order).
		Int("page", page).
		Logger()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		reason, err := f.checkQuota(ctx)
		if err != nil {
			return Outcome{}, err
		}

		if reason == "" {
			result, err := f.searcher.SearchCode(ctx, q, page, client.PerPage)
			if err != nil && ctx.Err() != nil {
				return Outcome{}, ctx.Err()
			}

			out := Classify(result, err)
			pageOutcomesTotal.WithLabelValues(out.Kind.String()).Inc()

			switch out.Kind {
			case Success:
				logger.Debug().
					Int("records", len(out.Items)).
					Int("total_count", out.TotalCount).
					Msg("Page fetched")
				return out, nil
			case NoMoreData:
				logger.Debug().Err(out.Err).Int("status_code", out.StatusCode).Msg("No more data")
				return out, nil
			case Fatal:
				logger.Error().Err(out.Err).Int("status_code", out.StatusCode).Msg("Fatal search error")
				return out, &FatalQueryError{
					StatusCode: out.StatusCode,
					Query:      q,
					Page:       page,
					Err:        out.Err,
				}
			}
			reason = "forbidden"
		}

		if f.policy.Exhausted(attempt) {
			throttleExhaustedTotal.Inc()
			logger.Error().
				Int("attempts", attempt).
				Str("reason", reason).
				Msg("Throttling retry budget exhausted")
			return Outcome{Kind: Throttled}, fmt.Errorf("%w: %q page %d after %d attempts",
				ErrThrottleExhausted, q.Term, page, attempt)
		}

		backoff := f.policy.withJitter(f.policy.Backoff(attempt))
		throttleWaitsTotal.WithLabelValues(reason).Inc()
		throttleBackoffSeconds.Observe(backoff.Seconds())

		logger.Warn().
			Int("attempt", attempt).
			Str("reason", reason).
			Dur("backoff", backoff).
			Msg("Search throttled, waiting")

		if err := f.sleeper.Sleep(ctx, backoff); err != nil {
			return Outcome{}, fmt.Errorf("wait for search quota: %w", err)
		}
	}
}

// checkQuota returns a non-empty throttling reason when the gate refuses.
// Only context errors are returned as errors.
func (f *Fetcher) checkQuota(ctx context.Context) (string, error) {
	if f.gate == nil {
		return "", nil
	}

	allowed, err := f.gate.CanSearch(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	switch {
	case err != nil:
		return "quota_unknown", nil
	case !allowed:
		return "quota_exhausted", nil
	default:
		return "", nil
	}
}

// Classify maps the result of a search call to an Outcome:
//
//	403                        -> Throttled
//	other status >= 400        -> Fatal
//	200 with items             -> Success
//	200 without items          -> NoMoreData
//	anything else              -> NoMoreData
//
// "Anything else" includes errors that carry no HTTP status.
func Classify(result *client.SearchResult, err error) Outcome {
	if err != nil {
		status := client.StatusCode(err)
		switch {
		case status == http.StatusForbidden:
			return Outcome{Kind: Throttled, StatusCode: status, Err: err}
		case status >= http.StatusBadRequest:
			return Outcome{Kind: Fatal, StatusCode: status, Err: err}
		default:
			return Outcome{Kind: NoMoreData, StatusCode: status, Err: err}
		}
	}

	if result == nil || result.StatusCode != http.StatusOK {
		out := Outcome{Kind: NoMoreData}
		if result != nil {
			out.StatusCode = result.StatusCode
		}
		return out
	}

	if len(result.Items) == 0 {
		return Outcome{Kind: NoMoreData, StatusCode: result.StatusCode, TotalCount: result.TotalCount}
	}

	return Outcome{
		Kind:       Success,
		Items:      result.Items,
		TotalCount: result.TotalCount,
		StatusCode: result.StatusCode,
	}
}

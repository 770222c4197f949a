package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/github-code-search/pkg/client"
	"github.com/Sternrassler/github-code-search/pkg/fetch"
	"github.com/Sternrassler/github-code-search/pkg/plan"
)

// Prometheus metrics for whole searches.
var (
	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codesearch_searches_total",
		Help: "Total number of searches by result (ok, empty, error, cancelled)",
	}, []string{"result"})

	recordsFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codesearch_records_fetched_total",
		Help: "Total number of search records returned to callers",
	})

	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "codesearch_search_duration_seconds",
		Help:    "Duration of complete searches in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})
)

// ProgressFunc is called after every fetched page with the progress
// fraction in (0, 1] and the items of that page. It runs synchronously, so
// the next page is not requested before it returns. A non-nil error aborts
// the search.
type ProgressFunc func(ctx context.Context, fraction float64, items []client.Record) error

// NoProgress is the default ProgressFunc. It ignores all updates.
func NoProgress(context.Context, float64, []client.Record) error {
	return nil
}

// PageFetcher fetches one classified page of results.
type PageFetcher interface {
	FetchPage(ctx context.Context, q client.Query, page int) (fetch.Outcome, error)
}

// Options holds optional orchestrator settings.
type Options struct {
	// OnProgress receives progress updates. Defaults to NoProgress.
	OnProgress ProgressFunc

	// Planner builds the plan from the total count. Defaults to plan.Build.
	Planner func(total int) plan.Plan
}

// Orchestrator runs searches page by page.
type Orchestrator struct {
	fetcher    PageFetcher
	onProgress ProgressFunc
	planner    func(total int) plan.Plan
	logger     zerolog.Logger
}

// New creates an orchestrator.
func New(fetcher PageFetcher, opts Options, logger zerolog.Logger) *Orchestrator {
	if opts.OnProgress == nil {
		opts.OnProgress = NoProgress
	}
	if opts.Planner == nil {
		opts.Planner = plan.Build
	}
	return &Orchestrator{
		fetcher:    fetcher,
		onProgress: opts.OnProgress,
		planner:    opts.Planner,
		logger:     logger,
	}
}

// Search returns all records found for term, in fetch order. It returns an
// empty slice when the first page has no data.
func (o *Orchestrator) Search(ctx context.Context, term string) ([]client.Record, error) {
	start := time.Now()
	logger := o.logger.With().
		Str("run_id", uuid.NewString()).
		Str("query", term).
		Logger()

	records, err := o.run(ctx, logger, term)
	duration := time.Since(start)
	searchDuration.Observe(duration.Seconds())

	switch {
	case err == nil && len(records) == 0:
		searchesTotal.WithLabelValues("empty").Inc()
	case err == nil:
		searchesTotal.WithLabelValues("ok").Inc()
		recordsFetchedTotal.Add(float64(len(records)))
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		searchesTotal.WithLabelValues("cancelled").Inc()
		logger.Warn().Err(err).Dur("duration", duration).Msg("Search cancelled")
		return nil, err
	default:
		searchesTotal.WithLabelValues("error").Inc()
		logger.Error().Err(err).Dur("duration", duration).Msg("Search failed")
		return nil, err
	}

	logger.Info().
		Int("records", len(records)).
		Dur("duration", duration).
		Msg("Search complete")
	return records, nil
}

func (o *Orchestrator) run(ctx context.Context, logger zerolog.Logger, term string) ([]client.Record, error) {
	first, err := o.fetcher.FetchPage(ctx, plan.FirstQuery(term), 1)
	if err != nil {
		return nil, fmt.Errorf("fetch first page: %w", err)
	}
	if first.Kind != fetch.Success {
		logger.Info().Msg("No results")
		return []client.Record{}, nil
	}

	p := o.planner(first.TotalCount)
	logger.Info().
		Int("total_count", first.TotalCount).
		Int("phases", len(p.Phases)).
		Int("total_fetches", p.TotalFetches).
		Msg("Starting search")

	acc := make([][]client.Record, 0, p.TotalFetches)
	acc = append(acc, first.Items)

	rep := reporter{fn: o.onProgress}
	if err := rep.report(ctx, p.Fraction(1, 0), first.Items); err != nil {
		return nil, err
	}

	for i, phase := range p.Phases {
		q := phase.Query(term)

		for _, page := range phase.Pages() {
			out, err := o.fetcher.FetchPage(ctx, q, page)
			if err != nil {
				return nil, fmt.Errorf("phase %d page %d: %w", i, page, err)
			}
			if out.Kind != fetch.Success {
				logger.Debug().
					Int("phase", i).
					Int("page", page).
					Msg("Phase ended early")
				break
			}

			acc = append(acc, out.Items)
			if err := rep.report(ctx, p.Fraction(page, phase.ProgressBase), out.Items); err != nil {
				return nil, err
			}
		}
	}

	return flatten(acc), nil
}

// reporter forwards progress, never reporting a lower fraction than before.
// A later phase restarts at page 1 with a small progress base, so its raw
// fraction can fall below the one reported at the end of the previous phase.
type reporter struct {
	fn   ProgressFunc
	last float64
}

func (r *reporter) report(ctx context.Context, fraction float64, items []client.Record) error {
	r.last = max(r.last, fraction)
	if err := r.fn(ctx, r.last, items); err != nil {
		return fmt.Errorf("progress callback: %w", err)
	}
	return nil
}

func flatten(pages [][]client.Record) []client.Record {
	n := 0
	for _, items := range pages {
		n += len(items)
	}
	out := make([]client.Record, 0, n)
	for _, items := range pages {
		out = append(out, items...)
	}
	return out
}

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for quota gating.
var (
	searchQuotaRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codesearch_search_quota_remaining",
		Help: "Search calls remaining in the current GitHub rate limit window",
	})

	rateLimitChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codesearch_rate_limit_checks_total",
		Help: "Quota checks by result (allowed, exhausted, unknown, snapshot)",
	}, []string{"result"})
)

// ErrStatusUnknown is returned when neither the API nor the store could
// provide the search quota. The gate answers false in that case.
var ErrStatusUnknown = errors.New("search quota status unknown")

// QuotaSource reads the current search quota from the API.
type QuotaSource interface {
	SearchQuota(ctx context.Context) (*Quota, error)
}

// GateConfig holds optional gate settings.
type GateConfig struct {
	// Store keeps the last observed quota. Nil disables snapshots.
	Store StateStore

	// MaxSnapshotAge bounds how old a stored quota may be to be trusted
	// when the API call fails. Defaults to DefaultMaxSnapshotAge.
	MaxSnapshotAge time.Duration
}

// Gate answers whether a search call may proceed.
type Gate struct {
	source         QuotaSource
	store          StateStore
	maxSnapshotAge time.Duration
	logger         zerolog.Logger
}

// NewGate creates a gate over the given quota source.
func NewGate(source QuotaSource, cfg GateConfig, logger zerolog.Logger) *Gate {
	if cfg.MaxSnapshotAge <= 0 {
		cfg.MaxSnapshotAge = DefaultMaxSnapshotAge
	}
	return &Gate{
		source:         source,
		store:          cfg.Store,
		maxSnapshotAge: cfg.MaxSnapshotAge,
		logger:         logger,
	}
}

// CanSearch returns true iff the search quota has calls remaining.
// When the quota cannot be determined it returns false together with an
// error wrapping ErrStatusUnknown; callers should back off as if throttled.
func (g *Gate) CanSearch(ctx context.Context) (bool, error) {
	quota, err := g.source.SearchQuota(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}

		quota = g.loadSnapshot(ctx)
		if quota == nil {
			g.logger.Warn().Err(err).Msg("Search quota unknown - treating as exhausted")
			rateLimitChecksTotal.WithLabelValues("unknown").Inc()
			return false, fmt.Errorf("%w: %v", ErrStatusUnknown, err)
		}

		g.logger.Debug().
			Err(err).
			Time("snapshot_at", quota.LastUpdate).
			Msg("Rate limit call failed, using stored snapshot")
		rateLimitChecksTotal.WithLabelValues("snapshot").Inc()
	} else {
		g.saveSnapshot(ctx, quota)
	}

	searchQuotaRemaining.Set(float64(quota.Remaining))

	if !quota.CanSearch() {
		g.logger.Warn().
			Int("remaining", quota.Remaining).
			Dur("reset_in", quota.TimeUntilReset()).
			Msg("Search quota exhausted")
		rateLimitChecksTotal.WithLabelValues("exhausted").Inc()
		return false, nil
	}

	rateLimitChecksTotal.WithLabelValues("allowed").Inc()
	return true, nil
}

func (g *Gate) loadSnapshot(ctx context.Context) *Quota {
	if g.store == nil {
		return nil
	}

	quota, err := g.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoSnapshot) {
			g.logger.Warn().Err(err).Msg("Failed to load rate limit snapshot")
		}
		return nil
	}

	if quota.IsStale(g.maxSnapshotAge) {
		return nil
	}

	// The window rolled over since the snapshot was taken.
	if quota.HasReset() && quota.Limit > 0 {
		quota.Remaining = quota.Limit
	}
	return quota
}

func (g *Gate) saveSnapshot(ctx context.Context, quota *Quota) {
	if g.store == nil {
		return
	}
	if err := g.store.Save(ctx, quota); err != nil {
		g.logger.Warn().Err(err).Msg("Failed to store rate limit snapshot")
	}
}

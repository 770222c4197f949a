package fetch

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for throttling waits.
var (
	throttleWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codesearch_throttle_waits_total",
		Help: "Total number of throttling waits by reason",
	}, []string{"reason"})

	throttleBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "codesearch_throttle_backoff_seconds",
		Help:    "Backoff duration of throttling waits",
		Buckets: []float64{1, 5, 10, 20, 30, 45, 60, 90, 120},
	})

	throttleExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codesearch_throttle_exhausted_total",
		Help: "Total number of page fetches that ran out of throttling attempts",
	})
)

// RetryPolicy controls how long FetchPage waits while throttled.
type RetryPolicy struct {
	// Interval is the wait after the first throttled attempt.
	Interval time.Duration

	// Multiplier grows the wait after each further throttled attempt.
	// Values below 1 are treated as 1 (fixed interval).
	Multiplier float64

	// MaxInterval caps the wait. Zero means no cap.
	MaxInterval time.Duration

	// MaxAttempts is the number of throttled attempts after which FetchPage
	// gives up with ErrThrottleExhausted. Zero means retry forever.
	MaxAttempts int

	// Jitter randomizes each wait by ±Jitter (0.2 = ±20%). Zero disables it.
	Jitter float64
}

// DefaultRetryPolicy returns the default policy: 20s growing by 1.5x up to
// two minutes, giving up after 60 throttled attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Interval:    20 * time.Second,
		Multiplier:  1.5,
		MaxInterval: 2 * time.Minute,
		MaxAttempts: 60,
	}
}

// Backoff returns the wait after the given 1-based throttled attempt,
// without jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	backoff := float64(p.Interval) * math.Pow(multiplier, float64(attempt-1))
	if p.MaxInterval > 0 && backoff > float64(p.MaxInterval) {
		return p.MaxInterval
	}
	return time.Duration(backoff)
}

// Exhausted reports whether no further attempt is allowed after attempt.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

func (p RetryPolicy) withJitter(d time.Duration) time.Duration {
	if p.Jitter <= 0 {
		return d
	}
	return time.Duration(float64(d) * (1 - p.Jitter + rand.Float64()*2*p.Jitter))
}

// Sleeper suspends the caller. Implementations must return ctx.Err() when
// the context ends before d has elapsed.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to the Sleeper interface.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep calls f(ctx, d).
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// TimerSleeper waits on a real timer.
var TimerSleeper Sleeper = SleeperFunc(sleepContext)

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

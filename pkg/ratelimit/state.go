// Package ratelimit implements GitHub search quota tracking and request gating.
// It reads the "search" resource of the /rate_limit endpoint and answers
// whether another search call may be issued right now.
package ratelimit

import (
	"time"
)

// Redis keys for the last observed search quota.
const (
	RedisKeyRemaining      = "codesearch:rate_limit:search:remaining"
	RedisKeyLimit          = "codesearch:rate_limit:search:limit"
	RedisKeyResetTimestamp = "codesearch:rate_limit:search:reset_timestamp"
	RedisKeyLastUpdate     = "codesearch:rate_limit:search:last_update"
)

// DefaultMaxSnapshotAge is how long a stored quota snapshot may stand in for
// a failed /rate_limit call.
const DefaultMaxSnapshotAge = 30 * time.Second

// Quota is the search resource of the GitHub rate limit status.
type Quota struct {
	// Limit is the number of search calls allowed per window.
	Limit int `json:"limit"`

	// Remaining is the number of search calls left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the current window ends and Remaining is restored to Limit.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this quota was read from the API.
	LastUpdate time.Time `json:"last_update"`
}

// IsStale returns true if the quota was read longer than maxAge ago.
func (q *Quota) IsStale(maxAge time.Duration) bool {
	return time.Since(q.LastUpdate) > maxAge
}

// HasReset returns true if the window the quota was read in is already over.
func (q *Quota) HasReset() bool {
	return !q.ResetAt.IsZero() && time.Now().After(q.ResetAt)
}

// CanSearch reports whether at least one search call is left.
func (q *Quota) CanSearch() bool {
	return q.Remaining > 0
}

// TimeUntilReset returns the duration until the quota window resets.
// Returns 0 if the reset time has already passed.
func (q *Quota) TimeUntilReset() time.Duration {
	duration := time.Until(q.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

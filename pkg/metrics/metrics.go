// Package metrics exposes the Prometheus metrics of the code search harvester.
// All metrics are defined in their respective packages (client, ratelimit,
// fetch, search) to maintain modularity and avoid circular dependencies.
//
// This package provides the HTTP exposition and the reference for all
// available metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the harvester.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Path is the HTTP path metrics are served on.
const Path = "/metrics"

// Handler returns the Prometheus exposition handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewServer returns an HTTP server serving Handler on Path at addr.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(Path, Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - codesearch_search_quota_remaining (Gauge): Search calls remaining in the current window
//   - codesearch_rate_limit_checks_total{result} (Counter): Quota checks by result
//     (allowed, exhausted, unknown, snapshot)
//
// Request Metrics (pkg/client):
//   - codesearch_api_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - codesearch_api_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//
// Page Metrics (pkg/fetch):
//   - codesearch_page_outcomes_total{outcome} (Counter): Classified page fetches
//     (success, no_more_data, throttled, fatal)
//   - codesearch_throttle_waits_total{reason} (Counter): Throttling waits
//     (quota_exhausted, quota_unknown, forbidden)
//   - codesearch_throttle_backoff_seconds (Histogram): Backoff duration of throttling waits
//   - codesearch_throttle_exhausted_total (Counter): Pages that ran out of throttling attempts
//
// Search Metrics (pkg/search):
//   - codesearch_searches_total{result} (Counter): Searches by result (ok, empty, error, cancelled)
//   - codesearch_records_fetched_total (Counter): Records returned to callers
//   - codesearch_search_duration_seconds (Histogram): Duration of complete searches
//
// Example Prometheus Queries:
//
//   # Throttling pressure
//   sum by (reason) (rate(codesearch_throttle_waits_total[5m]))
//
//   # Quota close to exhaustion
//   codesearch_search_quota_remaining < 5
//
//   # Fatal page rate
//   rate(codesearch_page_outcomes_total{outcome="fatal"}[5m])
//
//   # P95 search API latency
//   histogram_quantile(0.95, rate(codesearch_api_request_duration_seconds_bucket{endpoint="search_code"}[5m]))

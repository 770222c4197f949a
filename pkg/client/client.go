// Package client provides the GitHub API capability used by the harvester:
// code search pages and the search rate limit status.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/Sternrassler/github-code-search/pkg/ratelimit"
)

// Prometheus metrics for GitHub API calls.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codesearch_api_requests_total",
		Help: "Total GitHub API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "codesearch_api_request_duration_seconds",
		Help:    "GitHub API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})
)

const (
	// PerPage is the fixed page size of every search request.
	PerPage = 100

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRequestsPerMinute matches the authenticated code search budget.
	DefaultRequestsPerMinute = 30

	endpointSearchCode = "search_code"
	endpointRateLimit  = "rate_limit"
)

// Sort and order values accepted by the code search endpoint.
const (
	SortIndexed = "indexed"
	OrderAsc    = "asc"
	OrderDesc   = "desc"
)

// Query identifies one distinct view of the search results. The API's
// 1000-result cap applies per distinct Query. Empty Sort and Order select
// the API's default ordering.
type Query struct {
	Term  string
	Sort  string
	Order string
}

// Record is a single code search hit.
type Record struct {
	Name          string `json:"name"`
	Path          string `json:"path"`
	SHA           string `json:"sha"`
	HTMLURL       string `json:"html_url"`
	Repository    string `json:"repository"`
	RepositoryURL string `json:"repository_url"`
}

// SearchResult is one page of code search results.
type SearchResult struct {
	StatusCode        int
	TotalCount        int
	IncompleteResults bool
	Items             []Record
}

// Config holds the client configuration.
type Config struct {
	// Token is a GitHub personal access or OAuth token. Empty means unauthenticated.
	Token string

	// BaseURL overrides https://api.github.com/ (GitHub Enterprise, tests).
	BaseURL string

	// UserAgent overrides the go-github default user agent.
	UserAgent string

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration

	// RequestsPerMinute paces search calls proactively. 0 disables pacing.
	RequestsPerMinute int
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(token string) Config {
	return Config{
		Token:             token,
		Timeout:           DefaultTimeout,
		RequestsPerMinute: DefaultRequestsPerMinute,
	}
}

// Client wraps the go-github client.
type Client struct {
	gh      *gh.Client
	limiter *rate.Limiter
	config  Config
	logger  zerolog.Logger
}

// New creates a new GitHub client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.RequestsPerMinute < 0 {
		return nil, fmt.Errorf("requests_per_minute must be >= 0 (got %d)", cfg.RequestsPerMinute)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	var httpClient *http.Client
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(ctx, ts)
		httpClient.Timeout = cfg.Timeout
	} else {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	ghClient := gh.NewClient(httpClient)
	if cfg.BaseURL != "" {
		baseURL, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		if !strings.HasSuffix(baseURL.Path, "/") {
			baseURL.Path += "/"
		}
		ghClient.BaseURL = baseURL
	}
	if cfg.UserAgent != "" {
		ghClient.UserAgent = cfg.UserAgent
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	return &Client{
		gh:      ghClient,
		limiter: rate.NewLimiter(limit, 1),
		config:  cfg,
		logger:  log.With().Str("component", "github-client").Logger(),
	}, nil
}

// SearchCode requests one page of code search results for q.
// HTTP error responses are returned as *APIError.
func (c *Client) SearchCode(ctx context.Context, q Query, page, perPage int) (*SearchResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	opts := &gh.SearchOptions{
		Sort:  q.Sort,
		Order: q.Order,
		ListOptions: gh.ListOptions{
			Page:    page,
			PerPage: perPage,
		},
	}

	c.logger.Debug().
		Str("query", q.Term).
		Str("sort", q.Sort).
		Str("order", q.Order).
		Int("page", page).
		Msg("Executing code search")

	start := time.Now()
	result, resp, err := c.gh.Search.Code(ctx, q.Term, opts)
	apiRequestDuration.WithLabelValues(endpointSearchCode).Observe(time.Since(start).Seconds())

	status := responseStatus(resp)
	apiRequestsTotal.WithLabelValues(endpointSearchCode, statusLabel(status)).Inc()

	if err != nil {
		return nil, c.wrapError(err, "search code")
	}

	items := make([]Record, 0, len(result.CodeResults))
	for _, cr := range result.CodeResults {
		items = append(items, recordFromCodeResult(cr))
	}

	return &SearchResult{
		StatusCode:        status,
		TotalCount:        result.GetTotal(),
		IncompleteResults: result.GetIncompleteResults(),
		Items:             items,
	}, nil
}

// SearchQuota returns the "search" resource of the rate limit status.
// It implements ratelimit.QuotaSource.
func (c *Client) SearchQuota(ctx context.Context) (*ratelimit.Quota, error) {
	start := time.Now()
	limits, resp, err := c.gh.RateLimit.Get(ctx)
	apiRequestDuration.WithLabelValues(endpointRateLimit).Observe(time.Since(start).Seconds())
	apiRequestsTotal.WithLabelValues(endpointRateLimit, statusLabel(responseStatus(resp))).Inc()

	if err != nil {
		return nil, c.wrapError(err, "get rate limit")
	}

	search := limits.GetSearch()
	if search == nil {
		return nil, ErrNoSearchResource
	}

	return &ratelimit.Quota{
		Limit:      search.Limit,
		Remaining:  search.Remaining,
		ResetAt:    search.Reset.Time,
		LastUpdate: time.Now(),
	}, nil
}

// wrapError converts go-github errors to *APIError. Errors without an HTTP
// response (transport failures, cancellation) are wrapped unchanged.
func (c *Client) wrapError(err error, operation string) error {
	var rateLimitErr *gh.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return &APIError{
			StatusCode: httpStatus(rateLimitErr.Response, http.StatusForbidden),
			ErrorClass: ErrorClassRateLimit,
			Message:    rateLimitErr.Message,
			Err:        err,
		}
	}

	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return &APIError{
			StatusCode: httpStatus(abuseErr.Response, http.StatusForbidden),
			ErrorClass: ErrorClassRateLimit,
			Message:    abuseErr.Message,
			Err:        err,
		}
	}

	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) {
		status := httpStatus(ghErr.Response, 0)
		apiErr := &APIError{
			StatusCode: status,
			ErrorClass: classifyStatus(status),
			Message:    ghErr.Message,
			Err:        err,
		}
		if ghErr.Response != nil && ghErr.Response.Request != nil {
			apiErr.URL = ghErr.Response.Request.URL.String()
		}
		return apiErr
	}

	c.logger.Debug().Err(err).Str("class", string(ErrorClassNetwork)).Msg("Error classified")
	return fmt.Errorf("%s: %w", operation, err)
}

func recordFromCodeResult(cr *gh.CodeResult) Record {
	repo := cr.GetRepository()
	return Record{
		Name:          cr.GetName(),
		Path:          cr.GetPath(),
		SHA:           cr.GetSHA(),
		HTMLURL:       cr.GetHTMLURL(),
		Repository:    repo.GetFullName(),
		RepositoryURL: repo.GetHTMLURL(),
	}
}

func responseStatus(resp *gh.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}

func httpStatus(resp *http.Response, fallback int) int {
	if resp == nil || resp.StatusCode == 0 {
		return fallback
	}
	return resp.StatusCode
}

func statusLabel(status int) string {
	if status == 0 {
		return "network_error"
	}
	return strconv.Itoa(status)
}

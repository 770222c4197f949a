// Package testutil provides testing utilities for the code search harvester.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for one mocked search response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// SearchRequest is a recorded /search/code request.
type SearchRequest struct {
	Query   string
	Sort    string
	Order   string
	Page    int
	PerPage int
}

// SearchKey selects scripted responses for one (sort, order, page) combination.
type SearchKey struct {
	Sort  string
	Order string
	Page  int
}

// MockGitHub is a configurable mock of the GitHub search and rate limit API.
type MockGitHub struct {
	server *httptest.Server
	mu     sync.RWMutex

	// Scripted /search/code responses. The last response of a queue repeats.
	search map[SearchKey][]MockResponse

	// Rate limit state served from /rate_limit.
	searchLimit     int
	searchRemaining int
	searchReset     time.Time
	rateLimitStatus int

	// Tracking
	Requests          []SearchRequest
	RateLimitRequests int
	LastRequestHeader http.Header
}

// NewMockGitHub creates a new mock GitHub server with a full search quota.
func NewMockGitHub() *MockGitHub {
	mock := &MockGitHub{
		search:          make(map[SearchKey][]MockResponse),
		searchLimit:     30,
		searchRemaining: 30,
		searchReset:     time.Now().Add(time.Minute),
		rateLimitStatus: http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/search/code", mock.handleSearch)
	mux.HandleFunc("/rate_limit", mock.handleRateLimit)
	mock.server = httptest.NewServer(mux)

	return mock
}

// URL returns the mock server URL.
func (m *MockGitHub) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockGitHub) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockGitHub) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = nil
	m.RateLimitRequests = 0
	m.LastRequestHeader = nil
}

// SetSearchResponses scripts the responses for a (sort, order, page) key.
// Responses are served in order; the last one keeps being served.
func (m *MockGitHub) SetSearchResponses(key SearchKey, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.search[key] = responses
}

// SetSearchQuota sets the search resource returned by /rate_limit.
func (m *MockGitHub) SetSearchQuota(remaining int, resetAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchRemaining = remaining
	m.searchReset = resetAt
}

// SetRateLimitStatus makes /rate_limit answer with the given HTTP status.
func (m *MockGitHub) SetRateLimitStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimitStatus = status
}

// GetRequests returns a copy of the recorded search requests.
func (m *MockGitHub) GetRequests() []SearchRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SearchRequest, len(m.Requests))
	copy(out, m.Requests)
	return out
}

// GetLastRequestHeader returns the headers of the last search request.
func (m *MockGitHub) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader.Clone()
}

// GetRateLimitRequests returns the number of /rate_limit calls.
func (m *MockGitHub) GetRateLimitRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RateLimitRequests
}

func (m *MockGitHub) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	if page == 0 {
		page = 1
	}
	perPage, _ := strconv.Atoi(q.Get("per_page"))

	req := SearchRequest{
		Query:   q.Get("q"),
		Sort:    q.Get("sort"),
		Order:   q.Get("order"),
		Page:    page,
		PerPage: perPage,
	}
	key := SearchKey{Sort: req.Sort, Order: req.Order, Page: req.Page}

	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.LastRequestHeader = r.Header.Clone()

	resp, ok := m.nextResponseLocked(key)
	m.mu.Unlock()

	if !ok {
		resp = NewCodePageResponse(0, 0, "")
	}
	writeResponse(w, resp)
}

// nextResponseLocked pops the next scripted response for key. Caller holds mu.
func (m *MockGitHub) nextResponseLocked(key SearchKey) (MockResponse, bool) {
	queue, ok := m.search[key]
	if !ok || len(queue) == 0 {
		return MockResponse{}, false
	}
	resp := queue[0]
	if len(queue) > 1 {
		m.search[key] = queue[1:]
	}
	return resp, true
}

func (m *MockGitHub) handleRateLimit(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	m.RateLimitRequests++
	status := m.rateLimitStatus
	limit, remaining, reset := m.searchLimit, m.searchRemaining, m.searchReset
	m.mu.Unlock()

	if status != http.StatusOK {
		writeResponse(w, MockResponse{
			StatusCode: status,
			Body:       `{"message": "rate limit status unavailable"}`,
		})
		return
	}

	body := fmt.Sprintf(`{"resources": {`+
		`"core": {"limit": 5000, "remaining": 5000, "reset": %d},`+
		`"search": {"limit": %d, "remaining": %d, "reset": %d}}}`,
		reset.Unix(), limit, remaining, reset.Unix())

	writeResponse(w, MockResponse{StatusCode: http.StatusOK, Body: body})
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}

	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

type codeItem struct {
	Name       string   `json:"name"`
	Path       string   `json:"path"`
	SHA        string   `json:"sha"`
	HTMLURL    string   `json:"html_url"`
	Repository codeRepo `json:"repository"`
}

type codeRepo struct {
	FullName string `json:"full_name"`
	HTMLURL  string `json:"html_url"`
}

type codePage struct {
	TotalCount        int        `json:"total_count"`
	IncompleteResults bool       `json:"incomplete_results"`
	Items             []codeItem `json:"items"`
}

// NewCodePageResponse creates a 200 OK code search page with n items whose
// paths start with prefix.
func NewCodePageResponse(total, n int, prefix string) MockResponse {
	page := codePage{TotalCount: total, Items: make([]codeItem, 0, n)}
	for i := 0; i < n; i++ {
		path := fmt.Sprintf("%s/file%03d.go", prefix, i)
		page.Items = append(page.Items, codeItem{
			Name:    fmt.Sprintf("file%03d.go", i),
			Path:    path,
			SHA:     fmt.Sprintf("%040d", i),
			HTMLURL: "https://github.com/octo/repo/blob/main/" + path,
			Repository: codeRepo{
				FullName: "octo/repo",
				HTMLURL:  "https://github.com/octo/repo",
			},
		})
	}

	body, _ := json.Marshal(page)
	return MockResponse{StatusCode: http.StatusOK, Body: string(body)}
}

// NewForbiddenResponse creates a 403 Forbidden response as sent by the
// search endpoint when the quota is hit.
func NewForbiddenResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       `{"message": "You have exceeded a secondary rate limit."}`,
	}
}

// NewValidationFailedResponse creates a 422 Unprocessable Entity response
// as sent for malformed search queries.
func NewValidationFailedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusUnprocessableEntity,
		Body:       `{"message": "Validation Failed", "errors": [{"resource": "Search", "field": "q", "code": "invalid"}]}`,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message": "Internal server error"}`,
	}
}

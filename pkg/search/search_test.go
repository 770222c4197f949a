package search

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/github-code-search/internal/testutil"
	"github.com/Sternrassler/github-code-search/pkg/client"
	"github.com/Sternrassler/github-code-search/pkg/fetch"
)

type countingSleeper struct {
	waits []time.Duration
}

func (s *countingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func mockConfig(mock *testutil.MockGitHub, sleeper fetch.Sleeper) Config {
	cfg := DefaultConfig("test-token")
	cfg.Client.BaseURL = mock.URL()
	cfg.Client.RequestsPerMinute = 0
	cfg.Fetch.Sleeper = sleeper
	return cfg
}

func descKey(page int) testutil.SearchKey {
	return testutil.SearchKey{Sort: client.SortIndexed, Order: client.OrderDesc, Page: page}
}

func TestNewFromConfig_Search(t *testing.T) {
	t.Run("collects pages until no more data", func(t *testing.T) {
		mock := testutil.NewMockGitHub()
		defer mock.Close()
		mock.SetSearchResponses(descKey(1), testutil.NewCodePageResponse(150, 100, "first"))
		mock.SetSearchResponses(descKey(2), testutil.NewCodePageResponse(150, 50, "second"))

		progress := &progressRecorder{}
		cfg := mockConfig(mock, &countingSleeper{})
		cfg.OnProgress = progress.record

		o, err := NewFromConfig(context.Background(), cfg)
		require.NoError(t, err)

		records, err := o.Search(context.Background(), "foo")

		require.NoError(t, err)
		assert.Len(t, records, 150)
		assert.Equal(t, "first/file000.go", records[0].Path)
		assert.Equal(t, "second/file049.go", records[149].Path)
		assert.Equal(t, []progressCall{{0.5, 100}, {1, 50}}, progress.calls)

		requests := mock.GetRequests()
		require.Len(t, requests, 3)
		assert.Equal(t, 3, requests[2].Page)
		assert.Equal(t, 3, mock.GetRateLimitRequests(), "quota checked before every search call")
	})

	t.Run("waits out a 403 and continues", func(t *testing.T) {
		mock := testutil.NewMockGitHub()
		defer mock.Close()
		mock.SetSearchResponses(descKey(1), testutil.NewCodePageResponse(120, 100, "first"))
		mock.SetSearchResponses(descKey(2),
			testutil.NewForbiddenResponse(),
			testutil.NewCodePageResponse(120, 20, "second"),
		)

		sleeper := &countingSleeper{}
		o, err := NewFromConfig(context.Background(), mockConfig(mock, sleeper))
		require.NoError(t, err)

		records, err := o.Search(context.Background(), "foo")

		require.NoError(t, err)
		assert.Len(t, records, 120)
		assert.Equal(t, []time.Duration{20 * time.Second}, sleeper.waits)
	})

	t.Run("waits while the search quota is exhausted", func(t *testing.T) {
		mock := testutil.NewMockGitHub()
		defer mock.Close()
		mock.SetSearchQuota(0, time.Now().Add(time.Minute))
		mock.SetSearchResponses(descKey(1), testutil.NewCodePageResponse(10, 10, "first"))

		sleeper := newRefillingSleeper(mock)
		o, err := NewFromConfig(context.Background(), mockConfig(mock, sleeper))
		require.NoError(t, err)

		records, err := o.Search(context.Background(), "foo")

		require.NoError(t, err)
		assert.Len(t, records, 10)
		assert.Len(t, sleeper.waits, 1)
	})

	t.Run("fails on validation error", func(t *testing.T) {
		mock := testutil.NewMockGitHub()
		defer mock.Close()
		mock.SetSearchResponses(descKey(1), testutil.NewCodePageResponse(300, 100, "first"))
		mock.SetSearchResponses(descKey(2), testutil.NewValidationFailedResponse())

		o, err := NewFromConfig(context.Background(), mockConfig(mock, &countingSleeper{}))
		require.NoError(t, err)

		records, err := o.Search(context.Background(), "foo")

		require.Error(t, err)
		assert.Nil(t, records)
		var fatal *fetch.FatalQueryError
		require.True(t, errors.As(err, &fatal))
		assert.Equal(t, http.StatusUnprocessableEntity, fatal.StatusCode)
		var apiErr *client.APIError
		assert.True(t, errors.As(err, &apiErr))
	})

	t.Run("returns empty result for no matches", func(t *testing.T) {
		mock := testutil.NewMockGitHub()
		defer mock.Close()

		o, err := NewFromConfig(context.Background(), mockConfig(mock, &countingSleeper{}))
		require.NoError(t, err)

		records, err := o.Search(context.Background(), "nothing")

		require.NoError(t, err)
		assert.Empty(t, records)
		assert.Len(t, mock.GetRequests(), 1)
	})
}

func TestNewFromConfig_InvalidClientConfig(t *testing.T) {
	cfg := DefaultConfig("token")
	cfg.Client.RequestsPerMinute = -1

	_, err := NewFromConfig(context.Background(), cfg)

	assert.Error(t, err)
}

// refillingSleeper restores the mock's search quota on its first wait.
type refillingSleeper struct {
	mock  *testutil.MockGitHub
	waits []time.Duration
}

func newRefillingSleeper(mock *testutil.MockGitHub) *refillingSleeper {
	return &refillingSleeper{mock: mock}
}

func (s *refillingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	s.mock.SetSearchQuota(30, time.Now().Add(time.Minute))
	return nil
}

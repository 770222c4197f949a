package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/github-code-search/pkg/client"
	"github.com/Sternrassler/github-code-search/pkg/fetch"
)

type pageKey struct {
	sort  string
	order string
	page  int
}

func (k pageKey) path() string {
	return fmt.Sprintf("%s-%s-%d", k.sort, k.order, k.page)
}

var (
	firstPhase  = func(page int) pageKey { return pageKey{client.SortIndexed, client.OrderDesc, page} }
	secondPhase = func(page int) pageKey { return pageKey{client.SortIndexed, client.OrderAsc, page} }
	thirdPhase  = func(page int) pageKey { return pageKey{"", "", page} }
)

// fakeFetcher returns one record per page unless the page is scripted to
// have no data or to fail.
type fakeFetcher struct {
	total  int
	noData map[pageKey]bool
	fail   map[pageKey]error
	calls  []pageKey
}

func (f *fakeFetcher) FetchPage(ctx context.Context, q client.Query, page int) (fetch.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return fetch.Outcome{}, err
	}

	key := pageKey{q.Sort, q.Order, page}
	f.calls = append(f.calls, key)

	if err, ok := f.fail[key]; ok {
		return fetch.Outcome{Kind: fetch.Fatal}, err
	}
	if f.noData[key] {
		return fetch.Outcome{Kind: fetch.NoMoreData}, nil
	}
	return fetch.Outcome{
		Kind:       fetch.Success,
		TotalCount: f.total,
		Items:      []client.Record{{Path: key.path()}},
	}, nil
}

type progressCall struct {
	fraction float64
	items    int
}

type progressRecorder struct {
	calls []progressCall
}

func (r *progressRecorder) record(_ context.Context, fraction float64, items []client.Record) error {
	r.calls = append(r.calls, progressCall{fraction: fraction, items: len(items)})
	return nil
}

func (r *progressRecorder) fractions() []float64 {
	out := make([]float64, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.fraction
	}
	return out
}

func newTestOrchestrator(f PageFetcher, onProgress ProgressFunc) *Orchestrator {
	return New(f, Options{OnProgress: onProgress}, zerolog.New(io.Discard))
}

func TestOrchestrator_Search_ThreePhases(t *testing.T) {
	fetcher := &fakeFetcher{total: 3500}
	progress := &progressRecorder{}
	o := newTestOrchestrator(fetcher, progress.record)

	records, err := o.Search(context.Background(), "foo")

	require.NoError(t, err)
	assert.Len(t, records, 30)
	require.Len(t, fetcher.calls, 30)

	// Page 1 probe, then desc 2..10, asc 1..10, default 1..10.
	want := []pageKey{firstPhase(1)}
	for p := 2; p <= 10; p++ {
		want = append(want, firstPhase(p))
	}
	for p := 1; p <= 10; p++ {
		want = append(want, secondPhase(p))
	}
	for p := 1; p <= 10; p++ {
		want = append(want, thirdPhase(p))
	}
	assert.Equal(t, want, fetcher.calls)

	// Records are returned in fetch order.
	for i, key := range want {
		assert.Equal(t, key.path(), records[i].Path)
	}

	fractions := progress.fractions()
	require.Len(t, fractions, 30)
	assert.Equal(t, 1.0/30, fractions[0])
	assert.Equal(t, 10.0/30, fractions[9], "last page of first phase")
	assert.Equal(t, 11.0/30, fractions[19], "last page of second phase")
	for i := 1; i < len(fractions); i++ {
		assert.GreaterOrEqual(t, fractions[i], fractions[i-1], "progress must not go backwards")
		assert.LessOrEqual(t, fractions[i], 1.0)
		assert.Greater(t, fractions[i], 0.0)
	}
}

func TestOrchestrator_Search_SinglePhaseReachesOne(t *testing.T) {
	fetcher := &fakeFetcher{total: 1000}
	progress := &progressRecorder{}
	o := newTestOrchestrator(fetcher, progress.record)

	records, err := o.Search(context.Background(), "foo")

	require.NoError(t, err)
	assert.Len(t, records, 10)

	fractions := progress.fractions()
	require.Len(t, fractions, 10)
	for i := 1; i < len(fractions); i++ {
		assert.Greater(t, fractions[i], fractions[i-1], "strictly increasing within one phase")
	}
	assert.Equal(t, 1.0, fractions[len(fractions)-1])
}

func TestOrchestrator_Search_TwoPhases(t *testing.T) {
	fetcher := &fakeFetcher{total: 1500}
	o := newTestOrchestrator(fetcher, nil)

	records, err := o.Search(context.Background(), "foo")

	require.NoError(t, err)
	assert.Len(t, records, 20)
	for _, key := range fetcher.calls {
		assert.NotEqual(t, "", key.sort, "default ordering phase must not run for 1500 results")
	}
}

func TestOrchestrator_Search_SmallResultStopsOnNoData(t *testing.T) {
	noData := map[pageKey]bool{}
	for p := 3; p <= 10; p++ {
		noData[firstPhase(p)] = true
	}
	fetcher := &fakeFetcher{total: 450, noData: noData}
	progress := &progressRecorder{}
	o := newTestOrchestrator(fetcher, progress.record)

	records, err := o.Search(context.Background(), "foo")

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, firstPhase(1).path(), records[0].Path)
	assert.Equal(t, firstPhase(2).path(), records[1].Path)
	assert.Equal(t, []pageKey{firstPhase(1), firstPhase(2), firstPhase(3)}, fetcher.calls)
	assert.Equal(t, []float64{1.0 / 5, 2.0 / 5}, progress.fractions())
}

func TestOrchestrator_Search_EmptyFirstPage(t *testing.T) {
	fetcher := &fakeFetcher{noData: map[pageKey]bool{firstPhase(1): true}}
	progress := &progressRecorder{}
	o := newTestOrchestrator(fetcher, progress.record)

	records, err := o.Search(context.Background(), "nothing matches")

	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
	assert.Empty(t, progress.calls, "progress must not be reported")
	assert.Len(t, fetcher.calls, 1)
}

func TestOrchestrator_Search_EarlyPhaseEndContinuesWithNextPhase(t *testing.T) {
	noData := map[pageKey]bool{firstPhase(4): true}
	fetcher := &fakeFetcher{total: 3500, noData: noData}
	o := newTestOrchestrator(fetcher, nil)

	records, err := o.Search(context.Background(), "foo")

	require.NoError(t, err)
	// Pages 1..3 of the first phase plus both later phases in full.
	assert.Len(t, records, 3+10+10)
	assert.NotContains(t, fetcher.calls, firstPhase(5))
	assert.Contains(t, fetcher.calls, secondPhase(10))
	assert.Contains(t, fetcher.calls, thirdPhase(10))
}

func TestOrchestrator_Search_FatalErrorReturnsNoResult(t *testing.T) {
	fatal := &fetch.FatalQueryError{StatusCode: 422, Page: 5, Err: errors.New("Validation Failed")}
	fetcher := &fakeFetcher{total: 3500, fail: map[pageKey]error{secondPhase(5): fatal}}
	progress := &progressRecorder{}
	o := newTestOrchestrator(fetcher, progress.record)

	records, err := o.Search(context.Background(), "foo")

	require.Error(t, err)
	assert.Nil(t, records)
	var fqe *fetch.FatalQueryError
	require.True(t, errors.As(err, &fqe))
	assert.Equal(t, 422, fqe.StatusCode)
	assert.Equal(t, secondPhase(5), fetcher.calls[len(fetcher.calls)-1], "no fetch after the fatal page")
	assert.Len(t, progress.calls, 14)
}

func TestOrchestrator_Search_FatalErrorOnFirstPage(t *testing.T) {
	fatal := &fetch.FatalQueryError{StatusCode: 401, Page: 1, Err: errors.New("Bad credentials")}
	fetcher := &fakeFetcher{fail: map[pageKey]error{firstPhase(1): fatal}}
	o := newTestOrchestrator(fetcher, nil)

	records, err := o.Search(context.Background(), "foo")

	assert.Nil(t, records)
	assert.ErrorIs(t, err, fatal)
}

func TestOrchestrator_Search_ProgressErrorAborts(t *testing.T) {
	stop := errors.New("consumer gone")
	calls := 0
	onProgress := func(context.Context, float64, []client.Record) error {
		calls++
		if calls == 3 {
			return stop
		}
		return nil
	}
	fetcher := &fakeFetcher{total: 3500}
	o := newTestOrchestrator(fetcher, onProgress)

	records, err := o.Search(context.Background(), "foo")

	assert.Nil(t, records)
	assert.ErrorIs(t, err, stop)
	assert.Len(t, fetcher.calls, 3)
}

func TestOrchestrator_Search_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	onProgress := func(context.Context, float64, []client.Record) error {
		cancel()
		return nil
	}
	fetcher := &fakeFetcher{total: 3500}
	o := newTestOrchestrator(fetcher, onProgress)

	records, err := o.Search(ctx, "foo")

	assert.Nil(t, records)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, fetcher.calls, 1)
}

func TestNoProgress(t *testing.T) {
	assert.NoError(t, NoProgress(context.Background(), 0.5, nil))
}

func TestFlatten(t *testing.T) {
	pages := [][]client.Record{
		{{Path: "a"}, {Path: "b"}},
		{},
		{{Path: "c"}},
	}

	out := flatten(pages)

	assert.Equal(t, []client.Record{{Path: "a"}, {Path: "b"}, {Path: "c"}}, out)
	assert.NotNil(t, flatten(nil))
}

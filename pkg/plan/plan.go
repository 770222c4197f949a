// Package plan decides which pages of a code search to request after the
// first page has revealed the total result count.
//
// The search API caps every query+sort+order combination at 1000 results
// (10 pages of 100). A Plan works around the cap by re-running the same
// search term under up to three orderings, each one surfacing a different
// slice of the matching records:
//
//	phase 0: sort=indexed order=desc  pages 2..10  (page 1 is fetched before planning)
//	phase 1: sort=indexed order=asc   pages 1..10
//	phase 2: API default ordering     pages 1..10
//
// The phase table is a pinned assumption about the search API and lives in
// DefaultPhases rather than in code paths.
package plan

import (
	"github.com/Sternrassler/github-code-search/pkg/client"
)

const (
	// ResultCap is the maximum number of results the API returns per query.
	ResultCap = 1000

	// PagesPerQuery is ResultCap divided by client.PerPage.
	PagesPerQuery = ResultCap / client.PerPage

	// MaxPhases is the number of orderings in DefaultPhases.
	MaxPhases = 3
)

// Phase is one pagination pass over a single sort/order variant of the query.
type Phase struct {
	Sort         string
	Order        string
	ProgressBase int
	FirstPage    int
	LastPage     int
}

// Query returns the search query of this phase for term.
func (p Phase) Query(term string) client.Query {
	return client.Query{Term: term, Sort: p.Sort, Order: p.Order}
}

// Pages returns the contiguous, ascending page numbers of the phase.
func (p Phase) Pages() []int {
	if p.LastPage < p.FirstPage {
		return nil
	}
	pages := make([]int, 0, p.LastPage-p.FirstPage+1)
	for page := p.FirstPage; page <= p.LastPage; page++ {
		pages = append(pages, page)
	}
	return pages
}

// DefaultPhases is the ordered phase table. Phase 0 starts at page 2 because
// page 1 of indexed/desc is the probe that yields the total count.
var DefaultPhases = [MaxPhases]Phase{
	{Sort: client.SortIndexed, Order: client.OrderDesc, ProgressBase: 0, FirstPage: 2, LastPage: PagesPerQuery},
	{Sort: client.SortIndexed, Order: client.OrderAsc, ProgressBase: 1, FirstPage: 1, LastPage: PagesPerQuery},
	{ProgressBase: 2, FirstPage: 1, LastPage: PagesPerQuery},
}

// FirstQuery returns the query used for the probing first page.
func FirstQuery(term string) client.Query {
	return DefaultPhases[0].Query(term)
}

// Plan is the ordered list of phases plus the progress denominator.
type Plan struct {
	Phases       []Phase
	TotalFetches int
}

// NumberOfPhases returns how many phases are needed for total results.
func NumberOfPhases(total int) int {
	switch {
	case total <= ResultCap:
		return 1
	case total <= 2*ResultCap:
		return 2
	default:
		return 3
	}
}

// TotalFetches returns the progress denominator for total results.
// It is never below 1 so fractions stay defined for a total of zero.
func TotalFetches(total int) int {
	switch {
	case total <= ResultCap:
		fetches := (total + client.PerPage - 1) / client.PerPage
		if fetches < 1 {
			return 1
		}
		return fetches
	case total <= 2*ResultCap:
		return 2 * PagesPerQuery
	default:
		return 3 * PagesPerQuery
	}
}

// Build returns the plan for total results.
func Build(total int) Plan {
	n := NumberOfPhases(total)
	phases := make([]Phase, n)
	copy(phases, DefaultPhases[:n])
	return Plan{Phases: phases, TotalFetches: TotalFetches(total)}
}

// Fraction returns the progress fraction after fetching page of a phase with
// the given progress base, clamped to (0, 1].
//
// With fewer than 1000 results the denominator can be smaller than the pages
// actually served (the reported total may grow between requests), so the
// fraction is capped at 1.
func (p Plan) Fraction(page, progressBase int) float64 {
	if p.TotalFetches <= 0 {
		return 1
	}
	f := float64(page+progressBase) / float64(p.TotalFetches)
	if f > 1 {
		return 1
	}
	return f
}

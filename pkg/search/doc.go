// Package search collects as many code search results as the GitHub search
// API will hand out for a single query.
//
// The API returns at most 1000 results per query+sort+order combination in
// pages of 100. The orchestrator works around the cap in three steps:
//
//   - Fetches page 1 (indexed/desc) to learn the total result count
//   - Builds a plan.Plan of up to three orderings of the same query
//   - Fetches every planned page in order, one request at a time
//
// A phase that runs out of data ends early without affecting the next one.
// Throttling is handled below in package fetch and only shows up as latency.
// Fatal query errors abort the search and no partial result is returned.
//
// Example usage:
//
//	records, err := search.Search(ctx, token, "ratelimit language:go",
//		func(ctx context.Context, fraction float64, items []client.Record) error {
//			fmt.Printf("%3.0f%% (+%d)\n", fraction*100, len(items))
//			return nil
//		})
package search

package search

import (
	"context"
	"fmt"

	"github.com/Sternrassler/github-code-search/pkg/client"
	"github.com/Sternrassler/github-code-search/pkg/fetch"
	"github.com/Sternrassler/github-code-search/pkg/logging"
	"github.com/Sternrassler/github-code-search/pkg/ratelimit"
)

// Config wires a complete orchestrator from its parts.
type Config struct {
	Client client.Config
	Gate   ratelimit.GateConfig
	Fetch  fetch.Config

	// OnProgress receives progress updates. Defaults to NoProgress.
	OnProgress ProgressFunc
}

// DefaultConfig returns the default configuration for apiToken.
func DefaultConfig(apiToken string) Config {
	return Config{
		Client: client.DefaultConfig(apiToken),
		Fetch:  fetch.DefaultConfig(),
	}
}

// NewFromConfig builds the GitHub client, quota gate, page fetcher and
// orchestrator described by cfg.
func NewFromConfig(ctx context.Context, cfg Config) (*Orchestrator, error) {
	gh, err := client.New(ctx, cfg.Client)
	if err != nil {
		return nil, fmt.Errorf("create github client: %w", err)
	}

	gate := ratelimit.NewGate(gh, cfg.Gate, logging.NewLogger("ratelimit"))
	fetcher := fetch.New(gh, gate, cfg.Fetch, logging.NewLogger("fetch"))

	return New(fetcher, Options{OnProgress: cfg.OnProgress}, logging.NewLogger("search")), nil
}

// Search runs one search for term with apiToken and default settings.
// onProgress may be nil.
func Search(ctx context.Context, apiToken, term string, onProgress ProgressFunc) ([]client.Record, error) {
	cfg := DefaultConfig(apiToken)
	cfg.OnProgress = onProgress

	o, err := NewFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return o.Search(ctx, term)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/github-code-search/internal/config"
	"github.com/Sternrassler/github-code-search/pkg/client"
	"github.com/Sternrassler/github-code-search/pkg/fetch"
	"github.com/Sternrassler/github-code-search/pkg/logging"
	"github.com/Sternrassler/github-code-search/pkg/metrics"
	"github.com/Sternrassler/github-code-search/pkg/ratelimit"
	"github.com/Sternrassler/github-code-search/pkg/search"
)

const shutdownTimeout = 5 * time.Second

type searchOptions struct {
	configPath  string
	token       string
	output      string
	metricsAddr string
	redisAddr   string
	logLevel    string
	maxAttempts int
	json        bool
	pretty      bool
	quiet       bool
}

func newSearchCmd() *cobra.Command {
	opts := &searchOptions{}

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Collect all results for a code search query",
		Long: `Runs a GitHub code search and collects every result the API hands out,
up to 3000 records, printing progress to stderr and the records to stdout.

The query uses GitHub code search syntax, e.g. "ratelimit language:go".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, opts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to TOML config file")
	flags.StringVar(&opts.token, "token", "", "GitHub token (default $GITHUB_TOKEN)")
	flags.StringVarP(&opts.output, "output", "o", "", "write records to file instead of stdout")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while searching")
	flags.StringVar(&opts.redisAddr, "redis-addr", "", "Redis address for the shared rate limit snapshot")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.IntVar(&opts.maxAttempts, "max-attempts", 0, "throttled attempts per page before giving up (0 = forever)")
	flags.BoolVar(&opts.json, "json", false, "output records as JSON lines")
	flags.BoolVar(&opts.pretty, "pretty", false, "human-readable log output")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "do not print progress")

	return cmd
}

// applyFlags overrides configuration with explicitly set flags.
func applyFlags(cmd *cobra.Command, opts *searchOptions, cfg *config.Config) error {
	if opts.token != "" {
		cfg.GitHub.Token = opts.token
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if opts.redisAddr != "" {
		cfg.Redis.Addr = opts.redisAddr
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.pretty {
		cfg.Log.Pretty = true
	}
	if cmd.Flags().Changed("max-attempts") {
		cfg.Fetch.MaxAttempts = opts.maxAttempts
	}
	return cfg.Validate()
}

func runSearch(cmd *cobra.Command, opts *searchOptions, term string) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, opts, &cfg); err != nil {
		return err
	}

	logCfg := cfg.LoggingConfig()
	logCfg.Output = cmd.ErrOrStderr()
	logging.Setup(logCfg)
	logger := logging.NewLogger("cli")

	if cfg.GitHub.Token == "" {
		logger.Warn().Msg("No GitHub token configured - code search requires authentication")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openSnapshotStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var progress search.ProgressFunc = search.NoProgress
	if !opts.quiet {
		progress = newProgressPrinter(cmd.ErrOrStderr())
	}

	o, err := search.NewFromConfig(ctx, search.Config{
		Client: cfg.ClientConfig(),
		Gate: ratelimit.GateConfig{
			Store:          store,
			MaxSnapshotAge: time.Duration(cfg.Redis.MaxSnapshotAge),
		},
		Fetch:      fetch.Config{Policy: cfg.RetryPolicy()},
		OnProgress: progress,
	})
	if err != nil {
		return err
	}

	records, err := searchWithMetrics(ctx, o, term, cfg.Metrics.Addr, logger)
	if !opts.quiet {
		fmt.Fprintln(cmd.ErrOrStderr())
	}
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	return writeOutput(cmd.OutOrStdout(), opts, records)
}

// openSnapshotStore connects to Redis when configured. The returned close
// function is always safe to call.
func openSnapshotStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (ratelimit.StateStore, func(), error) {
	redisOpts := cfg.RedisOptions()
	if redisOpts == nil {
		return nil, func() {}, nil
	}

	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, func() {}, fmt.Errorf("connect to redis at %s: %w", redisOpts.Addr, err)
	}
	logger.Info().Str("addr", redisOpts.Addr).Msg("Connected to Redis")

	store := ratelimit.NewRedisStore(rdb, time.Duration(cfg.Redis.SnapshotTTL))
	return store, func() { rdb.Close() }, nil
}

// searchWithMetrics runs the search, serving metrics on addr alongside it
// when addr is not empty. The metrics server stops when the search returns.
func searchWithMetrics(ctx context.Context, o *search.Orchestrator, term, addr string, logger zerolog.Logger) ([]client.Record, error) {
	if addr == "" {
		return o.Search(ctx, term)
	}

	srv := metrics.NewServer(addr)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	var records []client.Record
	g.Go(func() error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("Metrics server shutdown failed")
			}
		}()

		var err error
		records, err = o.Search(gctx, term)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

func writeOutput(stdout io.Writer, opts *searchOptions, records []client.Record) error {
	w := stdout
	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if opts.json {
		return writeJSONLines(w, records)
	}
	return writeTable(w, records)
}

package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"equity_valuation/pkg/config"
	"equity_valuation/pkg/core/dataset"
	"equity_valuation/pkg/core/ingest"
	"equity_valuation/pkg/core/llm"
	"equity_valuation/pkg/core/narrative"
	"equity_valuation/pkg/core/store"
	"equity_valuation/pkg/core/valuation"
)

// App bundles the components both binaries share.
type App struct {
	Evaluator *valuation.Evaluator
	Narrator  *narrative.Narrator // nil when no LLM key is configured
	Fetcher   dataset.Fetcher

	pool *pgxpool.Pool
	log  zerolog.Logger
}

// New wires the fetcher stack, the evaluator and the optional narrator from cfg.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{log: log}

	fetcher, err := a.buildFetcher(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Fetcher = fetcher
	a.Evaluator = valuation.NewEvaluator(fetcher, cfg.Engine(), log)

	if cfg.NarrativeEnabled() {
		provider, err := llm.NewGeminiProvider(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			log.Warn().Err(err).Msg("narrative disabled")
		} else {
			a.Narrator = narrative.New(provider, log)
		}
	}
	return a, nil
}

// buildFetcher layers source, then cache, then per-call timeout.
func (a *App) buildFetcher(ctx context.Context, cfg *config.Config) (dataset.Fetcher, error) {
	var source dataset.Fetcher
	switch cfg.Data.Source {
	case config.SourceEODHD:
		opts := []ingest.ClientOption{
			ingest.WithLogger(a.log),
			ingest.WithRateLimit(cfg.EODHD.RateLimit),
		}
		if cfg.EODHD.BaseURL != "" {
			opts = append(opts, ingest.WithBaseURL(cfg.EODHD.BaseURL))
		}
		client := ingest.NewClient(cfg.EODHD.APIKey, opts...)
		source = ingest.NewEODHDFetcher(client, cfg.EODHD.Exchange, cfg.EODHD.HistoryDays, a.log)
	case config.SourceFile:
		source = &ingest.FileFetcher{Dir: cfg.Data.Dir}
	default:
		return nil, fmt.Errorf("unknown data source %q", cfg.Data.Source)
	}
	a.log.Info().Str("source", cfg.Data.Source).Msg("dataset source ready")

	if cfg.Cache.Enabled {
		if cfg.Cache.DatabaseURL != "" {
			pool, err := store.Connect(ctx, cfg.Cache.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("failed to open dataset cache: %w", err)
			}
			a.pool = pool
		}
		cache, err := store.NewDatasetCache(a.pool, cfg.Cache.Dir, cfg.Cache.TTL)
		if err != nil {
			return nil, fmt.Errorf("failed to open dataset cache: %w", err)
		}
		source = ingest.NewCachingFetcher(source, cache, a.log)
	}

	return ingest.WithTimeout(source, cfg.Valuation.FetchTimeout), nil
}

// Describe returns commentary for r, or nil when no narrator is configured or it fails.
func (a *App) Describe(ctx context.Context, r *valuation.Report) *narrative.Commentary {
	if a.Narrator == nil {
		return nil
	}
	c, err := a.Narrator.Describe(ctx, r)
	if err != nil && !errors.Is(err, llm.ErrNotConfigured) {
		a.log.Warn().Err(err).Msg("commentary unavailable")
	}
	return c
}

// Close releases the cache pool, if any.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"equity_valuation/pkg/core/dataset"
)

// DatasetStore is the cache behind a CachingFetcher. store.DatasetCache implements it.
type DatasetStore interface {
	Get(ctx context.Context, ticker string) (*dataset.Dataset, bool, error)
	Put(ctx context.Context, ds *dataset.Dataset) error
}

// CachingFetcher is a read-through cache over another Fetcher. Cache failures are logged and
// never fail a fetch.
type CachingFetcher struct {
	next  dataset.Fetcher
	store DatasetStore
	log   zerolog.Logger
}

// NewCachingFetcher wraps next with store.
func NewCachingFetcher(next dataset.Fetcher, store DatasetStore, log zerolog.Logger) *CachingFetcher {
	return &CachingFetcher{next: next, store: store, log: log.With().Str("component", "dataset_cache").Logger()}
}

// Fetch implements dataset.Fetcher.
func (c *CachingFetcher) Fetch(ctx context.Context, ticker string) (*dataset.Dataset, error) {
	ticker = dataset.NormalizeTicker(ticker)

	ds, hit, err := c.store.Get(ctx, ticker)
	switch {
	case err != nil:
		c.log.Warn().Err(err).Str("ticker", ticker).Msg("cache read failed")
	case hit:
		c.log.Debug().Str("ticker", ticker).Msg("cache hit")
		return ds, nil
	}

	ds, err = c.next.Fetch(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if err := c.store.Put(ctx, ds); err != nil {
		c.log.Warn().Err(err).Str("ticker", ticker).Msg("cache write failed")
	}
	return ds, nil
}

// WithTimeout bounds every Fetch on f by d. Expiry surfaces as a fetch error.
func WithTimeout(f dataset.Fetcher, d time.Duration) dataset.Fetcher {
	if d <= 0 {
		return f
	}
	return dataset.FetcherFunc(func(ctx context.Context, ticker string) (*dataset.Dataset, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		ds, err := f.Fetch(ctx, ticker)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &dataset.FetchError{Ticker: ticker, Err: ctx.Err()}
			}
			return nil, err
		}
		return ds, nil
	})
}

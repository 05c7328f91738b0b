package dataset

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by accessors that have no data at all for a ticker.
var ErrNotFound = errors.New("ticker not found")

// Fetcher supplies a Dataset for a ticker. Implementations must represent missing line items
// and profile facts as absent rather than zero.
type Fetcher interface {
	Fetch(ctx context.Context, ticker string) (*Dataset, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, ticker string) (*Dataset, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, ticker string) (*Dataset, error) {
	return f(ctx, ticker)
}

// FetchError marks a dataset as unobtainable for a ticker.
type FetchError struct {
	Ticker string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Ticker, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StaticFetcher serves datasets from memory, keyed by normalised ticker.
type StaticFetcher map[string]*Dataset

// NewStaticFetcher indexes the given datasets by ticker.
func NewStaticFetcher(sets ...*Dataset) StaticFetcher {
	f := make(StaticFetcher, len(sets))
	for _, d := range sets {
		f[d.Ticker()] = d
	}
	return f
}

// Fetch implements Fetcher.
func (f StaticFetcher) Fetch(ctx context.Context, ticker string) (*Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Ticker: ticker, Err: err}
	}
	d, ok := f[NormalizeTicker(ticker)]
	if !ok {
		return nil, &FetchError{Ticker: ticker, Err: ErrNotFound}
	}
	return d, nil
}

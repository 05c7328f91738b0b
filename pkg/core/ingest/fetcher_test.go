package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equity_valuation/pkg/core/dataset"
)

func TestFileFetcher_Formats(t *testing.T) {
	f := &FileFetcher{Dir: "testdata"}
	ctx := context.Background()

	t.Run("json", func(t *testing.T) {
		ds, err := f.Fetch(ctx, "aapl")
		require.NoError(t, err)
		assert.Equal(t, "AAPL", ds.Ticker())
		assert.Equal(t, "Apple Inc.", ds.Name())

		ocf, ok := ds.Latest(dataset.CashFlowStatement, dataset.OperatingCashFlow)
		require.True(t, ok)
		assert.Equal(t, 118254000000.0, ocf)

		_, ok = ds.Latest(dataset.BalanceSheet, dataset.TotalStockholderEquity)
		assert.False(t, ok, "null latest period is absent")

		last, ok := ds.LastClose()
		require.True(t, ok)
		assert.Equal(t, 203.27, last)

		eps, ok := ds.Profile(dataset.TrailingEPS)
		require.True(t, ok)
		assert.Equal(t, 6.08, eps)
	})

	t.Run("hjson", func(t *testing.T) {
		ds, err := f.Fetch(ctx, "MSFT")
		require.NoError(t, err)
		assert.Equal(t, "Microsoft Corporation", ds.Name())
		price, ok := ds.Profile(dataset.CurrentPrice)
		require.True(t, ok)
		assert.Equal(t, 464.1, price)
	})

	t.Run("yaml", func(t *testing.T) {
		ds, err := f.Fetch(ctx, "GOOGL")
		require.NoError(t, err)
		equity, ok := ds.Latest(dataset.BalanceSheet, dataset.TotalStockholderEquity)
		require.True(t, ok)
		assert.Equal(t, 325084000000.0, equity)
		assert.Equal(t, 2, ds.Periods(dataset.BalanceSheet, dataset.LongTermDebt))
		_, ok = ds.Latest(dataset.BalanceSheet, dataset.LongTermDebt)
		assert.False(t, ok)
		assert.Equal(t, 1, ds.PriceCount())
	})
}

func TestFileFetcher_HjsonComments(t *testing.T) {
	dir := t.TempDir()
	doc := "{\n" +
		"  // own-line comments are dropped\n" +
		"  ticker: \"NOTE\" // so are comments after quoted values\n" +
		"  long_name: Note Corp // but a quoteless string runs to the end of the line\n" +
		"  profile: { currentPrice: 12.5 }\n" +
		"}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "NOTE.hjson"), []byte(doc), 0o644))

	ds, err := (&FileFetcher{Dir: dir}).Fetch(context.Background(), "NOTE")
	require.NoError(t, err)
	assert.Equal(t, "NOTE", ds.Ticker())
	assert.Equal(t, "Note Corp // but a quoteless string runs to the end of the line", ds.Name())
	price, ok := ds.Profile(dataset.CurrentPrice)
	require.True(t, ok)
	assert.Equal(t, 12.5, price)
}

func TestFileFetcher_Errors(t *testing.T) {
	f := &FileFetcher{Dir: "testdata"}
	ctx := context.Background()

	_, err := f.Fetch(ctx, "NOPE")
	assert.ErrorIs(t, err, dataset.ErrNotFound)
	var fe *dataset.FetchError
	assert.True(t, errors.As(err, &fe))

	_, err = f.Fetch(ctx, "../testdata/AAPL")
	assert.ErrorIs(t, err, dataset.ErrNotFound)

	_, err = f.Fetch(ctx, "BROKEN")
	require.Error(t, err)
	assert.NotErrorIs(t, err, dataset.ErrNotFound)

	_, err = f.Fetch(ctx, "OTHER")
	assert.ErrorContains(t, err, "NOTOTHER")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = f.Fetch(cancelled, "AAPL")
	assert.ErrorIs(t, err, context.Canceled)
}

type memStore struct {
	data   map[string]*dataset.Dataset
	getErr error
	puts   int
	putErr error
}

func (m *memStore) Get(_ context.Context, ticker string) (*dataset.Dataset, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	ds, ok := m.data[ticker]
	return ds, ok, nil
}

func (m *memStore) Put(_ context.Context, ds *dataset.Dataset) error {
	m.puts++
	if m.putErr != nil {
		return m.putErr
	}
	m.data[ds.Ticker()] = ds
	return nil
}

func TestCachingFetcher(t *testing.T) {
	calls := 0
	next := dataset.FetcherFunc(func(ctx context.Context, ticker string) (*dataset.Dataset, error) {
		calls++
		if ticker == "MISSING" {
			return nil, &dataset.FetchError{Ticker: ticker, Err: dataset.ErrNotFound}
		}
		return dataset.FromSnapshot(dataset.Snapshot{Ticker: ticker}), nil
	})
	store := &memStore{data: map[string]*dataset.Dataset{}}
	c := NewCachingFetcher(next, store, zerolog.Nop())
	ctx := context.Background()

	_, err := c.Fetch(ctx, "aapl")
	require.NoError(t, err)
	_, err = c.Fetch(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second fetch is served from cache")
	assert.Equal(t, 1, store.puts)

	_, err = c.Fetch(ctx, "MISSING")
	assert.ErrorIs(t, err, dataset.ErrNotFound)
	assert.Equal(t, 1, store.puts, "failures are not cached")
}

func TestCachingFetcher_CacheErrorsDoNotFailFetch(t *testing.T) {
	next := dataset.FetcherFunc(func(ctx context.Context, ticker string) (*dataset.Dataset, error) {
		return dataset.FromSnapshot(dataset.Snapshot{Ticker: ticker}), nil
	})
	store := &memStore{data: map[string]*dataset.Dataset{}, getErr: errors.New("disk gone"), putErr: errors.New("disk gone")}

	ds, err := NewCachingFetcher(next, store, zerolog.Nop()).Fetch(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", ds.Ticker())
}

func TestWithTimeout(t *testing.T) {
	slow := dataset.FetcherFunc(func(ctx context.Context, ticker string) (*dataset.Dataset, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return dataset.FromSnapshot(dataset.Snapshot{Ticker: ticker}), nil
		}
	})

	_, err := WithTimeout(slow, 10*time.Millisecond).Fetch(context.Background(), "SLOW")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var fe *dataset.FetchError
	assert.True(t, errors.As(err, &fe))
}

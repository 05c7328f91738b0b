// Package peer fetches the comparable-company basket and exposes its market multiples.
//
// Peer fetches are independent and read-only, so they run concurrently. A peer whose fetch fails
// or times out is simply left out of the basket.
package peer

import (
	"context"
	"iter"
	"math"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"equity_valuation/pkg/core/dataset"
)

// Multiple is a market multiple quoted in a company profile.
type Multiple string

const (
	PE       Multiple = "P/E"
	PBV      Multiple = "P/BV"
	EVEBITDA Multiple = "EV/EBITDA"
	EVSales  Multiple = "EV/Sales"
)

// Multiples lists every multiple in report order.
var Multiples = []Multiple{PE, PBV, EVEBITDA, EVSales}

// Field returns the profile field carrying the multiple.
func (m Multiple) Field() dataset.ProfileField {
	switch m {
	case PE:
		return dataset.TrailingPE
	case PBV:
		return dataset.PriceToBook
	case EVEBITDA:
		return dataset.EnterpriseToEBITDA
	case EVSales:
		return dataset.EnterpriseToRevenue
	}
	return ""
}

// Options bounds peer fetching.
type Options struct {
	Concurrency int
	Timeout     time.Duration
}

// Basket is the set of peers that were fetched successfully, in request order.
// A nil *Basket behaves as an empty basket.
type Basket struct {
	members []*dataset.Dataset
	failed  []string
}

// Fetches lazily fetches each ticker in turn, yielding the ticker with its dataset or error.
// Stopping the iteration stops further fetches.
func Fetches(ctx context.Context, f dataset.Fetcher, tickers []string, timeout time.Duration) iter.Seq2[string, Result] {
	return func(yield func(string, Result) bool) {
		for _, t := range tickers {
			ds, err := fetchOne(ctx, f, t, timeout)
			if !yield(t, Result{Dataset: ds, Err: err}) {
				return
			}
		}
	}
}

// Result is the outcome of one peer fetch.
type Result struct {
	Dataset *dataset.Dataset
	Err     error
}

// Collect fetches the peers. Duplicate and blank tickers, and the subject itself, are skipped.
// It never fails: unreachable peers are recorded in Failed.
func Collect(ctx context.Context, f dataset.Fetcher, subject string, tickers []string, opts Options, log zerolog.Logger) *Basket {
	tickers = normalize(subject, tickers)
	b := &Basket{}
	if len(tickers) == 0 {
		return b
	}

	results := make([]Result, len(tickers))
	if opts.Concurrency <= 1 {
		i := 0
		for _, res := range Fetches(ctx, f, tickers, opts.Timeout) {
			results[i] = res
			i++
		}
	} else {
		var g errgroup.Group
		g.SetLimit(opts.Concurrency)
		for i, t := range tickers {
			g.Go(func() error {
				ds, err := fetchOne(ctx, f, t, opts.Timeout)
				results[i] = Result{Dataset: ds, Err: err}
				return nil
			})
		}
		_ = g.Wait()
	}

	for i, res := range results {
		if res.Err != nil {
			log.Debug().Err(res.Err).Str("peer", tickers[i]).Msg("peer excluded")
			b.failed = append(b.failed, tickers[i])
			continue
		}
		b.members = append(b.members, res.Dataset)
	}
	return b
}

// New builds a basket from already-fetched datasets.
func New(members ...*dataset.Dataset) *Basket {
	return &Basket{members: append([]*dataset.Dataset(nil), members...)}
}

// Len is the number of successfully fetched peers.
func (b *Basket) Len() int {
	if b == nil {
		return 0
	}
	return len(b.members)
}

// Tickers lists the fetched peers.
func (b *Basket) Tickers() []string {
	if b == nil {
		return nil
	}
	out := make([]string, len(b.members))
	for i, m := range b.members {
		out[i] = m.Ticker()
	}
	return out
}

// Failed lists peers that could not be fetched.
func (b *Basket) Failed() []string {
	if b == nil {
		return nil
	}
	return append([]string(nil), b.failed...)
}

// Values yields each peer's multiple, skipping peers that do not quote it or quote a
// non-positive value.
func (b *Basket) Values(m Multiple) iter.Seq[float64] {
	return func(yield func(float64) bool) {
		if b == nil {
			return
		}
		field := m.Field()
		for _, p := range b.members {
			v, ok := p.Profile(field)
			if !ok || v <= 0 || math.IsInf(v, 0) {
				continue
			}
			if !yield(v) {
				return
			}
		}
	}
}

// Average is the arithmetic mean of Values(m). ok is false when no peer supplied the multiple.
func (b *Basket) Average(m Multiple) (mean float64, n int, ok bool) {
	var vals []float64
	for v := range b.Values(m) {
		vals = append(vals, v)
	}
	if len(vals) == 0 {
		return 0, 0, false
	}
	return stat.Mean(vals, nil), len(vals), true
}

func fetchOne(ctx context.Context, f dataset.Fetcher, ticker string, timeout time.Duration) (*dataset.Dataset, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ds, err := f.Fetch(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if ds == nil {
		return nil, &dataset.FetchError{Ticker: ticker, Err: dataset.ErrNotFound}
	}
	return ds, nil
}

func normalize(subject string, tickers []string) []string {
	subject = dataset.NormalizeTicker(subject)
	seen := make(map[string]bool, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		t = dataset.NormalizeTicker(t)
		if t == "" || t == subject || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

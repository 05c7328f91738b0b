package valuation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"equity_valuation/pkg/core/dataset"
	"equity_valuation/pkg/core/peer"
	"equity_valuation/pkg/core/resolve"
)

// Status classifies an estimate against the current price.
type Status string

const (
	Undervalued Status = "undervalued"
	Overvalued  Status = "overvalued"
)

// Classify returns Undervalued only when the estimate is strictly above price.
//
// FORMULA: deviation % = (estimate / price − 1) × 100
func Classify(estimate, price float64) (deviationPct float64, status Status) {
	deviationPct = (estimate/price - 1) * 100
	if estimate > price {
		return deviationPct, Undervalued
	}
	return deviationPct, Overvalued
}

// Verdict is a successful estimate compared with the current price.
type Verdict struct {
	Estimate
	DeviationPct float64 `json:"deviation_pct"`
	Status       Status  `json:"status"`
}

// Skipped records a method that produced no estimate.
type Skipped struct {
	Method MethodName `json:"method"`
	Reason string     `json:"reason"`
}

// Report is the outcome of one evaluation. Verdicts lists exactly the methods that succeeded,
// in method order; Average is nil when none did.
type Report struct {
	ID           string    `json:"id"`
	Ticker       string    `json:"ticker"`
	CompanyName  string    `json:"company_name"`
	CurrentPrice float64   `json:"current_price"`
	PriceSource  string    `json:"price_source"`
	Verdicts     []Verdict `json:"verdicts"`
	Skipped      []Skipped `json:"skipped,omitempty"`
	Average      *float64  `json:"average"`
	Peers        []string  `json:"peers,omitempty"`
	FailedPeers  []string  `json:"failed_peers,omitempty"`
	DCF          DCFParams `json:"dcf_params"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// Empty reports whether no method succeeded.
func (r *Report) Empty() bool { return len(r.Verdicts) == 0 }

// Request is one evaluation. A nil DCF uses the evaluator's defaults.
type Request struct {
	Ticker string
	Peers  []string
	DCF    *DCFParams
}

// Config tunes an Evaluator.
type Config struct {
	DCF          DCFParams
	Multiples    DefaultMultiples
	Resolve      resolve.Options
	Peers        peer.Options
	FetchTimeout time.Duration
}

// DefaultConfig is the standard parameter set with four concurrent peer fetches.
func DefaultConfig() Config {
	return Config{
		DCF:          DefaultDCFParams(),
		Multiples:    StandardMultiples(),
		Peers:        peer.Options{Concurrency: 4, Timeout: 10 * time.Second},
		FetchTimeout: 10 * time.Second,
	}
}

// Evaluator runs every valuation method for a ticker and aggregates the results.
type Evaluator struct {
	fetcher  dataset.Fetcher
	resolver *resolve.Resolver
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time
}

// NewEvaluator creates an Evaluator reading datasets from f.
func NewEvaluator(f dataset.Fetcher, cfg Config, log zerolog.Logger) *Evaluator {
	return &Evaluator{
		fetcher:  f,
		resolver: resolve.New(cfg.Resolve),
		cfg:      cfg,
		log:      log.With().Str("component", "valuation").Logger(),
		now:      time.Now,
	}
}

// Methods returns the five methods in report order for the given DCF parameters.
func (e *Evaluator) Methods(dcf DCFParams) []Method {
	return []Method{
		&DCF{Params: dcf, Resolver: e.resolver},
		NewPE(e.resolver, e.cfg.Multiples.PE),
		NewPBV(e.resolver, e.cfg.Multiples.PBV),
		NewEVEBITDA(e.resolver, e.cfg.Multiples.EVEBITDA),
		&MarketMultiples{Resolver: e.resolver},
	}
}

// Evaluate values req.Ticker. It fails only with ErrSubjectUnavailable or ErrNoPrice (or a
// cancelled context); method failures are recorded in Report.Skipped.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (*Report, error) {
	ticker := dataset.NormalizeTicker(req.Ticker)
	log := e.log.With().Str("ticker", ticker).Logger()
	if ticker == "" {
		return nil, fmt.Errorf("%w: empty ticker", ErrSubjectUnavailable)
	}

	dcf := e.cfg.DCF
	if req.DCF != nil {
		dcf = *req.DCF
	}

	// 1. Subject
	subject, err := e.fetchSubject(ctx, ticker)
	if err != nil {
		log.Warn().Err(err).Msg("subject fetch failed")
		return nil, fmt.Errorf("%w: %s: %w", ErrSubjectUnavailable, ticker, err)
	}

	// 2. Price
	price, priceSource, ok := CurrentPrice(subject)
	if !ok {
		log.Warn().Msg("no current price")
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, ticker)
	}

	// 3. Peers, once, shared by every method
	basket := peer.Collect(ctx, e.fetcher, ticker, req.Peers, e.cfg.Peers, log)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log.Debug().Int("peers", basket.Len()).Strs("failed", basket.Failed()).Msg("peer basket ready")

	// 4. Methods, concurrently
	methods := e.Methods(dcf)
	in := Input{Subject: subject, Peers: basket}
	results := make([]Estimate, len(methods))
	errs := make([]error, len(methods))

	var g errgroup.Group
	for i, m := range methods {
		g.Go(func() error {
			results[i], errs[i] = m.Estimate(ctx, in)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &Report{
		ID:           uuid.NewString(),
		Ticker:       ticker,
		CompanyName:  subject.Name(),
		CurrentPrice: price,
		PriceSource:  priceSource,
		Peers:        basket.Tickers(),
		FailedPeers:  basket.Failed(),
		DCF:          dcf,
		GeneratedAt:  e.now().UTC(),
	}

	var values []float64
	for i, m := range methods {
		if errs[i] != nil {
			log.Info().Str("method", string(m.Name())).Err(errs[i]).Msg("method unavailable")
			report.Skipped = append(report.Skipped, Skipped{Method: m.Name(), Reason: reason(errs[i])})
			continue
		}
		dev, status := Classify(results[i].PerShare, price)
		if !isFinite(dev) {
			err := unavailable(m.Name(), fmt.Errorf("%w: deviation from price %g", ErrNonFinite, price))
			log.Info().Str("method", string(m.Name())).Err(err).Msg("method unavailable")
			report.Skipped = append(report.Skipped, Skipped{Method: m.Name(), Reason: reason(err)})
			continue
		}
		report.Verdicts = append(report.Verdicts, Verdict{Estimate: results[i], DeviationPct: dev, Status: status})
		values = append(values, results[i].PerShare)
	}

	// 5. Average over successes only
	if len(values) > 0 {
		avg := mean(values)
		report.Average = &avg
	}

	log.Info().Int("succeeded", len(report.Verdicts)).Int("skipped", len(report.Skipped)).Msg("valuation complete")
	return report, nil
}

// mean is the arithmetic mean of finite values. When the running sum overflows the terms are
// scaled by 1/n first, which keeps the result finite.
func mean(values []float64) float64 {
	if m := stat.Mean(values, nil); isFinite(m) {
		return m
	}
	n := float64(len(values))
	var m float64
	for _, v := range values {
		m += v / n
	}
	return m
}

func (e *Evaluator) fetchSubject(ctx context.Context, ticker string) (*dataset.Dataset, error) {
	if e.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.FetchTimeout)
		defer cancel()
	}
	ds, err := e.fetcher.Fetch(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if ds == nil {
		return nil, dataset.ErrNotFound
	}
	return ds, nil
}

// CurrentPrice is the profile price when positive, else the last positive close.
func CurrentPrice(ds *dataset.Dataset) (price float64, source string, ok bool) {
	if p, ok := ds.Profile(dataset.CurrentPrice); ok && p > 0 {
		return p, "profile", true
	}
	if c, ok := ds.LastClose(); ok && c > 0 {
		return c, "last close", true
	}
	return 0, "", false
}

func reason(err error) string {
	var me *MethodError
	if errors.As(err, &me) {
		return me.Err.Error()
	}
	return err.Error()
}

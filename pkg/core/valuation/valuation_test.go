package valuation

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equity_valuation/pkg/core/dataset"
	"equity_valuation/pkg/core/peer"
	"equity_valuation/pkg/core/resolve"
)

func series(vals ...float64) []*float64 {
	out := make([]*float64, len(vals))
	for i, v := range vals {
		out[i] = dataset.Float(v)
	}
	return out
}

func profile(kv ...any) map[dataset.ProfileField]float64 {
	out := make(map[dataset.ProfileField]float64, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		out[kv[i].(dataset.ProfileField)] = kv[i+1].(float64)
	}
	return out
}

// workedSubject is OCF 1000, CapEx -200, cash 500, debt 300 and 100 shares.
func workedSubject(extra map[dataset.ProfileField]float64) *dataset.Dataset {
	p := profile(dataset.SharesOutstanding, 100.0)
	for k, v := range extra {
		p[k] = v
	}
	return dataset.FromSnapshot(dataset.Snapshot{
		Ticker: "SUBJ",
		CashFlow: map[string][]*float64{
			dataset.OperatingCashFlow:  series(1000),
			dataset.CapitalExpenditure: series(-200),
		},
		Balance: map[string][]*float64{
			dataset.CashAndCashEquivalents: series(500),
			dataset.TotalDebt:              series(300),
		},
		Profile: p,
	})
}

func peerSet(ticker string, p map[dataset.ProfileField]float64) *dataset.Dataset {
	return dataset.FromSnapshot(dataset.Snapshot{Ticker: ticker, Profile: p})
}

const workedPerShare = 117.69695119868861

func TestCalculateDCF_WorkedExample(t *testing.T) {
	res, err := CalculateDCF(DCFInput{
		BaseFCF:           800,
		Cash:              500,
		Debt:              300,
		SharesOutstanding: 100,
		Params:            DefaultDCFParams(),
	})
	require.NoError(t, err)

	require.Len(t, res.ProjectedFCF, 5)
	assert.InDelta(t, 840.0, res.ProjectedFCF[0], 1e-9)
	assert.InDelta(t, 1021.02525, res.ProjectedFCF[4], 1e-9)
	assert.InDelta(t, 3486.4967, res.PV_FCF, 1e-3)
	assert.InDelta(t, 13018.0719, res.TerminalValue, 1e-3)
	assert.InDelta(t, 8083.1985, res.PV_Terminal, 1e-3)
	assert.InDelta(t, 11569.6951, res.EnterpriseValue, 1e-3)
	assert.InDelta(t, 11769.6951, res.EquityValue, 1e-3)
	assert.InDelta(t, workedPerShare, res.SharePrice, 1e-6)
}

func TestDCF_EstimateFromDataset(t *testing.T) {
	m := &DCF{Params: DefaultDCFParams(), Resolver: resolve.New(resolve.Options{})}
	est, err := m.Estimate(context.Background(), Input{Subject: workedSubject(nil)})
	require.NoError(t, err)

	assert.Equal(t, MethodDCF, est.Method)
	assert.InDelta(t, workedPerShare, est.PerShare, 1e-6)
	require.Len(t, est.Inputs, 4)
	assert.Equal(t, 800.0, est.Inputs[0].Value)
	assert.Equal(t, "Operating Cash Flow - |Capital Expenditure|", est.Inputs[0].Source)
	assert.NotEmpty(t, est.Figures)
}

func TestDCF_InvalidParameters(t *testing.T) {
	r := resolve.New(resolve.Options{})
	cases := map[string]DCFParams{
		"discount equals terminal growth": {GrowthRate: 0.05, DiscountRate: 0.02, TerminalGrowthRate: 0.02, ProjectionYears: 5},
		"discount below terminal growth":  {GrowthRate: 0.05, DiscountRate: 0.01, TerminalGrowthRate: 0.02, ProjectionYears: 5},
		"no projection years":             {GrowthRate: 0.05, DiscountRate: 0.10, TerminalGrowthRate: 0.02, ProjectionYears: 0},
		"NaN growth":                      {GrowthRate: math.NaN(), DiscountRate: 0.10, TerminalGrowthRate: 0.02, ProjectionYears: 5},
		"infinite discount":               {GrowthRate: 0.05, DiscountRate: math.Inf(1), TerminalGrowthRate: 0.02, ProjectionYears: 5},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := (&DCF{Params: p, Resolver: r}).Estimate(context.Background(), Input{Subject: workedSubject(nil)})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnavailable)

			var pe *ParamError
			assert.True(t, errors.As(err, &pe))
		})
	}
}

func TestDCF_MissingSharesIsUnavailable(t *testing.T) {
	ds := dataset.FromSnapshot(dataset.Snapshot{
		Ticker:   "NOSH",
		CashFlow: map[string][]*float64{dataset.OperatingCashFlow: series(1000)},
	})
	_, err := (&DCF{Params: DefaultDCFParams(), Resolver: resolve.New(resolve.Options{})}).Estimate(context.Background(), Input{Subject: ds})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, resolve.ErrUnavailable)
}

func TestDCF_PositiveWhenFCFPositive(t *testing.T) {
	r := resolve.New(resolve.Options{})
	for _, ocf := range []float64{1, 250, 1000, 1e9} {
		for _, p := range []DCFParams{
			DefaultDCFParams(),
			{GrowthRate: 0, DiscountRate: 0.08, TerminalGrowthRate: 0, ProjectionYears: 1},
			{GrowthRate: -0.1, DiscountRate: 0.15, TerminalGrowthRate: 0.03, ProjectionYears: 10},
		} {
			ds := dataset.FromSnapshot(dataset.Snapshot{
				Ticker:   "POS",
				CashFlow: map[string][]*float64{dataset.OperatingCashFlow: series(ocf)},
				Profile:  profile(dataset.SharesOutstanding, 10.0),
			})
			est, err := (&DCF{Params: p, Resolver: r}).Estimate(context.Background(), Input{Subject: ds})
			require.NoError(t, err)
			assert.Greater(t, est.PerShare, 0.0)
			assert.False(t, math.IsInf(est.PerShare, 0) || math.IsNaN(est.PerShare))
		}
	}
}

func TestPE_FallsBackToDefaultMultiple(t *testing.T) {
	ds := dataset.FromSnapshot(dataset.Snapshot{
		Ticker:  "EPS",
		Profile: profile(dataset.TrailingEPS, 5.0),
	})
	est, err := NewPE(resolve.New(resolve.Options{}), DefaultPE).Estimate(context.Background(), Input{Subject: ds})
	require.NoError(t, err)
	assert.Equal(t, 75.0, est.PerShare)
	require.NotNil(t, est.Multiple)
	assert.Equal(t, SourceDefault, est.Multiple.Source)
}

func TestRatioMethod_MultipleOrder(t *testing.T) {
	r := resolve.New(resolve.Options{})
	ctx := context.Background()

	own := dataset.FromSnapshot(dataset.Snapshot{
		Ticker:  "OWN",
		Profile: profile(dataset.TrailingEPS, 5.0, dataset.TrailingPE, 12.0),
	})

	t.Run("peer average wins", func(t *testing.T) {
		basket := peer.New(
			peerSet("A", profile(dataset.TrailingPE, 10.0)),
			peerSet("B", profile(dataset.TrailingPE, 30.0)),
			peerSet("C", profile(dataset.TrailingPE, -4.0)),
		)
		est, err := NewPE(r, DefaultPE).Estimate(ctx, Input{Subject: own, Peers: basket})
		require.NoError(t, err)
		assert.Equal(t, 100.0, est.PerShare)
		assert.Equal(t, SourcePeers, est.Multiple.Source)
		assert.Equal(t, 2, est.Multiple.PeerCount)
	})

	t.Run("own multiple when peers lack it", func(t *testing.T) {
		basket := peer.New(peerSet("A", profile(dataset.PriceToBook, 3.0)))
		est, err := NewPE(r, DefaultPE).Estimate(ctx, Input{Subject: own, Peers: basket})
		require.NoError(t, err)
		assert.Equal(t, 60.0, est.PerShare)
		assert.Equal(t, SourceOwn, est.Multiple.Source)
	})

	t.Run("own multiple is used whatever its sign", func(t *testing.T) {
		neg := dataset.FromSnapshot(dataset.Snapshot{
			Ticker:  "NEG",
			Profile: profile(dataset.TrailingEPS, 5.0, dataset.TrailingPE, -8.0),
		})
		est, err := NewPE(r, 20).Estimate(ctx, Input{Subject: neg})
		require.NoError(t, err)
		assert.Equal(t, -40.0, est.PerShare)
		assert.Equal(t, SourceOwn, est.Multiple.Source)
	})

	t.Run("default only when the profile has no multiple", func(t *testing.T) {
		bare := dataset.FromSnapshot(dataset.Snapshot{
			Ticker:  "BARE",
			Profile: profile(dataset.TrailingEPS, 5.0),
		})
		est, err := NewPE(r, 20).Estimate(ctx, Input{Subject: bare, Peers: peer.New()})
		require.NoError(t, err)
		assert.Equal(t, 100.0, est.PerShare)
		assert.Equal(t, SourceDefault, est.Multiple.Source)
	})
}

func TestMethods_OverflowIsUnavailable(t *testing.T) {
	r := resolve.New(resolve.Options{})
	ctx := context.Background()
	huge := workedSubject(profile(
		dataset.TrailingEPS, 1e300, dataset.TrailingPE, 1e300,
		dataset.BookValue, 1e300, dataset.PriceToBook, 1e300,
		dataset.EnterpriseToEBITDA, 1e300,
	))
	ebitda := dataset.FromSnapshot(dataset.Snapshot{
		Ticker: "EBITDA",
		Income: map[string][]*float64{
			dataset.EBIT:                     series(1e300),
			dataset.DepreciationAmortization: series(1),
		},
		Profile: profile(dataset.SharesOutstanding, 100.0, dataset.EnterpriseToEBITDA, 1e300),
	})
	params := DefaultDCFParams()
	params.GrowthRate = 1e200

	cases := []struct {
		name   string
		method Method
		in     Input
	}{
		{"DCF", &DCF{Params: params, Resolver: r}, Input{Subject: huge}},
		{"P/E", NewPE(r, DefaultPE), Input{Subject: huge}},
		{"P/BV", NewPBV(r, DefaultPBV), Input{Subject: huge}},
		{"EV/EBITDA", NewEVEBITDA(r, DefaultEVEBITDA), Input{Subject: ebitda}},
		{"Market Multiples", &MarketMultiples{Resolver: r}, Input{Subject: huge, Peers: peer.New(peerSet("BIG", profile(dataset.TrailingPE, 1e300)))}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			est, err := tc.method.Estimate(ctx, tc.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnavailable)
			assert.ErrorIs(t, err, ErrNonFinite)
			assert.Zero(t, est.PerShare)
		})
	}
}

func TestMean_DoesNotOverflow(t *testing.T) {
	assert.Equal(t, 2.0, mean([]float64{1, 2, 3}))
	big := math.MaxFloat64 / 2 * 1.5
	got := mean([]float64{big, big})
	assert.False(t, math.IsInf(got, 0))
	assert.InDelta(t, big, got, big*1e-12)
}

func TestPBV_DerivesBookValuePerShare(t *testing.T) {
	ds := dataset.FromSnapshot(dataset.Snapshot{
		Ticker:  "BOOK",
		Balance: map[string][]*float64{dataset.TotalStockholderEquity: series(2000)},
		Profile: profile(dataset.SharesOutstanding, 100.0),
	})
	est, err := NewPBV(resolve.New(resolve.Options{}), DefaultPBV).Estimate(context.Background(), Input{Subject: ds})
	require.NoError(t, err)
	assert.Equal(t, 40.0, est.PerShare)
}

func TestEVEBITDA_BridgesToEquity(t *testing.T) {
	ds := dataset.FromSnapshot(dataset.Snapshot{
		Ticker: "EBITDA",
		Income: map[string][]*float64{
			dataset.EBIT:                     series(500),
			dataset.DepreciationAmortization: series(100),
		},
		Balance: map[string][]*float64{
			dataset.CashAndCashEquivalents: series(500),
			dataset.TotalDebt:              series(300),
		},
		Profile: profile(dataset.SharesOutstanding, 100.0),
	})
	est, err := NewEVEBITDA(resolve.New(resolve.Options{}), DefaultEVEBITDA).Estimate(context.Background(), Input{Subject: ds})
	require.NoError(t, err)
	// (600 × 10 + 500 − 300) / 100
	assert.InDelta(t, 62.0, est.PerShare, 1e-9)
}

func TestMarketMultiples(t *testing.T) {
	r := resolve.New(resolve.Options{})
	ctx := context.Background()
	subject := dataset.FromSnapshot(dataset.Snapshot{
		Ticker:  "SUBJ",
		Profile: profile(dataset.TrailingEPS, 5.0, dataset.BookValue, 20.0, dataset.TrailingPE, 99.0),
	})

	t.Run("unavailable without peers", func(t *testing.T) {
		_, err := (&MarketMultiples{Resolver: r}).Estimate(ctx, Input{Subject: subject})
		assert.ErrorIs(t, err, ErrUnavailable)

		_, err = (&MarketMultiples{Resolver: r}).Estimate(ctx, Input{Subject: subject, Peers: peer.New()})
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("unavailable when peers quote nothing usable", func(t *testing.T) {
		basket := peer.New(peerSet("A", profile(dataset.TrailingPE, 0.0)))
		_, err := (&MarketMultiples{Resolver: r}).Estimate(ctx, Input{Subject: subject, Peers: basket})
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("averages implied values", func(t *testing.T) {
		basket := peer.New(
			peerSet("A", profile(dataset.TrailingPE, 10.0, dataset.PriceToBook, 3.0)),
			peerSet("B", profile(dataset.TrailingPE, 20.0)),
		)
		est, err := (&MarketMultiples{Resolver: r}).Estimate(ctx, Input{Subject: subject, Peers: basket})
		require.NoError(t, err)
		// P/E 15 × 5 = 75, P/BV 3 × 20 = 60; EV multiples have no peer data
		assert.InDelta(t, 67.5, est.PerShare, 1e-9)

		implied := CalculateComps(r, subject, basket, &Estimate{})
		require.Len(t, implied, 2)
		assert.Equal(t, peer.PE, implied[0].Multiple)
		assert.Equal(t, 2, implied[0].PeerCount)
	})
}

func TestClassify(t *testing.T) {
	dev, status := Classify(120, 100)
	assert.InDelta(t, 20.0, dev, 1e-9)
	assert.Equal(t, Undervalued, status)

	dev, status = Classify(80, 100)
	assert.InDelta(t, -20.0, dev, 1e-9)
	assert.Equal(t, Overvalued, status)

	dev, status = Classify(100, 100)
	assert.Equal(t, 0.0, dev)
	assert.Equal(t, Overvalued, status, "equality classifies as overvalued")
}

func newEvaluator(sets ...*dataset.Dataset) *Evaluator {
	cfg := DefaultConfig()
	cfg.Peers.Timeout = time.Second
	e := NewEvaluator(dataset.NewStaticFetcher(sets...), cfg, zerolog.Nop())
	e.now = func() time.Time { return time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC) }
	return e
}

func TestEvaluate_AverageOfSuccessfulMethods(t *testing.T) {
	// DCF, P/E and Market Multiples succeed; P/BV and EV/EBITDA have no inputs.
	subject := workedSubject(profile(dataset.TrailingEPS, 5.0, dataset.CurrentPrice, 100.0))
	e := newEvaluator(subject, peerSet("PEER", profile(dataset.TrailingPE, 20.0)))

	report, err := e.Evaluate(context.Background(), Request{Ticker: "subj", Peers: []string{"peer", "MISSING"}})
	require.NoError(t, err)

	require.Len(t, report.Verdicts, 3)
	assert.Equal(t, MethodDCF, report.Verdicts[0].Method)
	assert.Equal(t, MethodPE, report.Verdicts[1].Method)
	assert.Equal(t, MethodMarketMultiples, report.Verdicts[2].Method)

	require.Len(t, report.Skipped, 2)
	assert.Equal(t, MethodPBV, report.Skipped[0].Method)
	assert.Equal(t, MethodEVEBITDA, report.Skipped[1].Method)

	require.NotNil(t, report.Average)
	assert.InDelta(t, (workedPerShare+100+100)/3, *report.Average, 1e-9)

	assert.Equal(t, Undervalued, report.Verdicts[0].Status)
	assert.Equal(t, Overvalued, report.Verdicts[1].Status, "P/E lands exactly on the price")

	assert.Equal(t, "SUBJ", report.Ticker)
	assert.Equal(t, 100.0, report.CurrentPrice)
	assert.Equal(t, []string{"PEER"}, report.Peers)
	assert.Equal(t, []string{"MISSING"}, report.FailedPeers)
	assert.NotEmpty(t, report.ID)
}

func TestEvaluate_SubjectUnavailable(t *testing.T) {
	_, err := newEvaluator().Evaluate(context.Background(), Request{Ticker: "NOPE"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubjectUnavailable)
	assert.ErrorIs(t, err, dataset.ErrNotFound)
}

func TestEvaluate_Price(t *testing.T) {
	t.Run("no price is an error", func(t *testing.T) {
		_, err := newEvaluator(workedSubject(nil)).Evaluate(context.Background(), Request{Ticker: "SUBJ"})
		assert.ErrorIs(t, err, ErrNoPrice)
	})

	t.Run("last close stands in for profile price", func(t *testing.T) {
		s := workedSubject(nil).Snapshot()
		s.Prices = []dataset.PricePoint{
			{Date: time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC), Close: 90},
			{Date: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), Close: 80},
		}
		report, err := newEvaluator(dataset.FromSnapshot(s)).Evaluate(context.Background(), Request{Ticker: "SUBJ"})
		require.NoError(t, err)
		assert.Equal(t, 90.0, report.CurrentPrice)
		assert.Equal(t, "last close", report.PriceSource)
	})
}

func TestEvaluate_NoSuccessfulMethods(t *testing.T) {
	bare := dataset.FromSnapshot(dataset.Snapshot{Ticker: "BARE", Profile: profile(dataset.CurrentPrice, 10.0)})
	report, err := newEvaluator(bare).Evaluate(context.Background(), Request{Ticker: "BARE"})
	require.NoError(t, err)
	assert.True(t, report.Empty())
	assert.Nil(t, report.Average)
	assert.Len(t, report.Skipped, 5)
}

func TestEvaluate_NonFiniteMethodsAreSkipped(t *testing.T) {
	subject := workedSubject(profile(
		dataset.CurrentPrice, 100.0,
		dataset.TrailingEPS, 1e300, dataset.TrailingPE, 1e300,
	))
	params := DefaultDCFParams()
	params.GrowthRate = 1e200

	report, err := newEvaluator(subject).Evaluate(context.Background(), Request{Ticker: "SUBJ", DCF: &params})
	require.NoError(t, err)
	assert.True(t, report.Empty(), "DCF and P/E overflow, the rest lack inputs")
	assert.Nil(t, report.Average)
	require.Len(t, report.Skipped, 5)
	assert.Equal(t, MethodDCF, report.Skipped[0].Method)
	assert.Contains(t, report.Skipped[0].Reason, "not a finite number")
	assert.Equal(t, MethodPE, report.Skipped[1].Method)
	assert.Contains(t, report.Skipped[1].Reason, "not a finite number")

	_, err = json.Marshal(report)
	assert.NoError(t, err)
}

func TestEvaluate_DeviationOverflowIsSkipped(t *testing.T) {
	// P/E is 1e300 per share against a 1e-10 price; DCF stays comparable.
	subject := workedSubject(profile(
		dataset.CurrentPrice, 1e-10,
		dataset.TrailingEPS, 1e150, dataset.TrailingPE, 1e150,
	))
	report, err := newEvaluator(subject).Evaluate(context.Background(), Request{Ticker: "SUBJ"})
	require.NoError(t, err)

	require.Len(t, report.Verdicts, 1)
	assert.Equal(t, MethodDCF, report.Verdicts[0].Method)
	assert.InDelta(t, workedPerShare, *report.Average, 1e-9)

	var pe *Skipped
	for i := range report.Skipped {
		if report.Skipped[i].Method == MethodPE {
			pe = &report.Skipped[i]
		}
	}
	require.NotNil(t, pe)
	assert.Contains(t, pe.Reason, "deviation")

	_, err = json.Marshal(report)
	assert.NoError(t, err)
}

func TestEvaluate_AllPeerFetchesFail(t *testing.T) {
	subject := workedSubject(profile(dataset.CurrentPrice, 100.0, dataset.TrailingEPS, 5.0))
	report, err := newEvaluator(subject).Evaluate(context.Background(), Request{Ticker: "SUBJ", Peers: []string{"GONE1", "GONE2"}})
	require.NoError(t, err)

	assert.Empty(t, report.Peers)
	assert.ElementsMatch(t, []string{"GONE1", "GONE2"}, report.FailedPeers)

	var skipped []MethodName
	for _, s := range report.Skipped {
		skipped = append(skipped, s.Method)
	}
	assert.Contains(t, skipped, MethodMarketMultiples)
	for _, v := range report.Verdicts {
		assert.NotEqual(t, MethodMarketMultiples, v.Method)
		if v.Method == MethodPE {
			assert.Equal(t, SourceDefault, v.Multiple.Source, "P/E falls through to the default")
		}
	}
}

func TestEvaluate_RequestDCFOverridesDefaults(t *testing.T) {
	subject := workedSubject(profile(dataset.CurrentPrice, 100.0))
	bad := DCFParams{GrowthRate: 0.05, DiscountRate: 0.02, TerminalGrowthRate: 0.03, ProjectionYears: 5}

	report, err := newEvaluator(subject).Evaluate(context.Background(), Request{Ticker: "SUBJ", DCF: &bad})
	require.NoError(t, err)
	for _, v := range report.Verdicts {
		assert.NotEqual(t, MethodDCF, v.Method)
	}
	assert.Equal(t, MethodDCF, report.Skipped[0].Method)
	assert.Contains(t, report.Skipped[0].Reason, "discount_rate")
}

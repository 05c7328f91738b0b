package ingest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"equity_valuation/pkg/core/dataset"
)

// EODHD field names mapped onto canonical line items, in priority order per line item.
var (
	incomeFields = []fieldMap{
		{dataset.TotalRevenue, []string{"totalRevenue"}},
		{dataset.EBIT, []string{"ebit", "operatingIncome"}},
		{dataset.DepreciationAmortization, []string{"depreciationAndAmortization", "reconciledDepreciation"}},
		{dataset.IncomeBeforeTax, []string{"incomeBeforeTax"}},
		{dataset.InterestExpense, []string{"interestExpense"}},
		{dataset.NetIncome, []string{"netIncome", "netIncomeApplicableToCommonShares"}},
	}
	balanceFields = []fieldMap{
		{dataset.CashAndCashEquivalents, []string{"cashAndEquivalents", "cash"}},
		{dataset.CashAndShortTermInvest, []string{"cashAndShortTermInvestments"}},
		{dataset.TotalDebt, []string{"shortLongTermDebtTotal"}},
		{dataset.LongTermDebt, []string{"longTermDebt", "longTermDebtTotal"}},
		{dataset.TotalStockholderEquity, []string{"totalStockholderEquity"}},
	}
	cashFlowFields = []fieldMap{
		{dataset.OperatingCashFlow, []string{"totalCashFromOperatingActivities"}},
		{dataset.CapitalExpenditure, []string{"capitalExpenditures"}},
		{dataset.Depreciation, []string{"depreciation"}},
	}
)

type fieldMap struct {
	item   string
	fields []string
}

// EODHDFetcher fetches datasets from EODHD fundamentals and end-of-day prices.
type EODHDFetcher struct {
	client      *Client
	exchange    string
	historyDays int
	log         zerolog.Logger
	now         func() time.Time
}

// NewEODHDFetcher wraps client. Tickers without an exchange suffix get "."+exchange appended;
// historyDays bounds the price history requested.
func NewEODHDFetcher(client *Client, exchange string, historyDays int, log zerolog.Logger) *EODHDFetcher {
	if exchange == "" {
		exchange = "US"
	}
	if historyDays <= 0 {
		historyDays = 30
	}
	return &EODHDFetcher{
		client:      client,
		exchange:    exchange,
		historyDays: historyDays,
		log:         log.With().Str("component", "eodhd").Logger(),
		now:         time.Now,
	}
}

// Symbol returns the EODHD symbol for ticker.
func (f *EODHDFetcher) Symbol(ticker string) string {
	ticker = dataset.NormalizeTicker(ticker)
	if strings.Contains(ticker, ".") {
		return ticker
	}
	return ticker + "." + f.exchange
}

// Fetch implements dataset.Fetcher.
func (f *EODHDFetcher) Fetch(ctx context.Context, ticker string) (*dataset.Dataset, error) {
	ticker = dataset.NormalizeTicker(ticker)
	symbol := f.Symbol(ticker)

	// 1. Fundamentals
	fund, err := f.client.GetFundamentals(ctx, symbol)
	if err != nil {
		return nil, &dataset.FetchError{Ticker: ticker, Err: err}
	}
	if fund.General == nil && fund.Financials == nil {
		return nil, &dataset.FetchError{Ticker: ticker, Err: dataset.ErrNotFound}
	}

	// 2. Prices; a missing history leaves the dataset without a close rather than failing it
	now := f.now()
	eod, err := f.client.GetEOD(ctx, symbol, now.AddDate(0, 0, -f.historyDays), now)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, &dataset.FetchError{Ticker: ticker, Err: err}
		}
		f.log.Debug().Err(err).Str("symbol", symbol).Msg("price history unavailable")
	}

	snap := MapFundamentals(ticker, fund, eod)
	snap.FetchedAt = now.UTC()
	return dataset.FromSnapshot(snap), nil
}

// MapFundamentals converts an EODHD response to a dataset snapshot. Statement series are ordered
// oldest to newest over the periods the statement reports; a field missing in a period is nil.
func MapFundamentals(ticker string, fund *FundamentalsResponse, eod []EODData) dataset.Snapshot {
	snap := dataset.Snapshot{
		Ticker:  ticker,
		Profile: make(map[dataset.ProfileField]float64),
	}
	if fund.General != nil {
		snap.Name = fund.General.Name
	}

	if fin := fund.Financials; fin != nil {
		snap.Income = mapStatement(fin.IncomeStatement, incomeFields)
		snap.Balance = mapStatement(fin.BalanceSheet, balanceFields)
		snap.CashFlow = mapStatement(fin.CashFlow, cashFlowFields)
	}

	// EODHD reports 0 for facts it does not have, so zero profile values are treated as absent.
	setProfile := func(field dataset.ProfileField, n Number) {
		if n.Valid && n.Value != 0 {
			snap.Profile[field] = n.Value
		}
	}
	if s := fund.SharesStats; s != nil {
		setProfile(dataset.SharesOutstanding, s.SharesOutstanding)
	}
	if h := fund.Highlights; h != nil {
		setProfile(dataset.TrailingEPS, h.EarningsShare)
		setProfile(dataset.BookValue, h.BookValue)
		setProfile(dataset.TrailingPE, h.PERatio)
	}
	if v := fund.Valuation; v != nil {
		setProfile(dataset.TrailingPE, v.TrailingPE)
		setProfile(dataset.PriceToBook, v.PriceBookMRQ)
		setProfile(dataset.EnterpriseToEBITDA, v.EnterpriseValueEbitda)
		setProfile(dataset.EnterpriseToRevenue, v.EnterpriseValueRevenue)
	}

	for _, d := range eod {
		if d.Date.IsZero() || d.Close <= 0 {
			continue
		}
		snap.Prices = append(snap.Prices, dataset.PricePoint{Date: d.Date, Close: d.Close})
	}
	return snap
}

func mapStatement(st *FinancialStatement, fields []fieldMap) map[string][]*float64 {
	if st == nil || len(st.Yearly) == 0 {
		return nil
	}

	periods := make([]string, 0, len(st.Yearly))
	for p := range st.Yearly {
		periods = append(periods, p)
	}
	sort.Strings(periods)

	out := make(map[string][]*float64)
	for _, fm := range fields {
		values := make([]*float64, len(periods))
		found := false
		for i, p := range periods {
			row := st.Yearly[p]
			for _, name := range fm.fields {
				if n, ok := row[name]; ok && n.Valid {
					values[i] = dataset.Float(n.Value)
					found = true
					break
				}
			}
		}
		if found {
			out[fm.item] = values
		}
	}
	return out
}

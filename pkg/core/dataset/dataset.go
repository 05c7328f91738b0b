// Package dataset defines the per-ticker bundle of financial statements, price history and
// profile facts that every valuation method reads from.
//
// A Dataset is immutable once built: all state is unexported, constructors copy their inputs,
// and accessors return values rather than references.
package dataset

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Statement identifies one of the three financial statements.
type Statement string

const (
	IncomeStatement   Statement = "income_statement"
	BalanceSheet      Statement = "balance_sheet"
	CashFlowStatement Statement = "cash_flow"
)

// Canonical line-item names. Accessors map their source vocabulary onto these.
const (
	OperatingCashFlow        = "Operating Cash Flow"
	CapitalExpenditure       = "Capital Expenditure"
	Depreciation             = "Depreciation"
	EBIT                     = "EBIT"
	DepreciationAmortization = "Depreciation And Amortization"
	IncomeBeforeTax          = "Income Before Tax"
	InterestExpense          = "Interest Expense"
	NetIncome                = "Net Income"
	TotalRevenue             = "Total Revenue"
	CashAndCashEquivalents   = "Cash And Cash Equivalents"
	CashAndShortTermInvest   = "Cash And Short Term Investments"
	TotalDebt                = "Total Debt"
	LongTermDebt             = "Long Term Debt"
	TotalStockholderEquity   = "Total Stockholder Equity"
)

// ProfileField names a scalar company fact. Any field may be absent.
type ProfileField string

const (
	SharesOutstanding   ProfileField = "sharesOutstanding"
	TrailingEPS         ProfileField = "trailingEps"
	TrailingPE          ProfileField = "trailingPE"
	PriceToBook         ProfileField = "priceToBook"
	BookValue           ProfileField = "bookValue"
	EnterpriseToEBITDA  ProfileField = "enterpriseToEbitda"
	EnterpriseToRevenue ProfileField = "enterpriseToRevenue"
	CurrentPrice        ProfileField = "currentPrice"
)

// PricePoint is one daily close.
type PricePoint struct {
	Date  time.Time `json:"date" yaml:"date" msgpack:"date"`
	Close float64   `json:"close" yaml:"close" msgpack:"close"`
}

// Snapshot is the serialisable form of a Dataset. It is what accessors decode into and what
// caches persist. Statement values are ordered oldest to newest; a nil entry is a missing period.
type Snapshot struct {
	Ticker    string                   `json:"ticker" yaml:"ticker" msgpack:"ticker"`
	Name      string                   `json:"long_name,omitempty" yaml:"long_name,omitempty" msgpack:"long_name"`
	Prices    []PricePoint             `json:"prices,omitempty" yaml:"prices,omitempty" msgpack:"prices"`
	Income    map[string][]*float64    `json:"income_statement,omitempty" yaml:"income_statement,omitempty" msgpack:"income_statement"`
	Balance   map[string][]*float64    `json:"balance_sheet,omitempty" yaml:"balance_sheet,omitempty" msgpack:"balance_sheet"`
	CashFlow  map[string][]*float64    `json:"cash_flow,omitempty" yaml:"cash_flow,omitempty" msgpack:"cash_flow"`
	Profile   map[ProfileField]float64 `json:"profile,omitempty" yaml:"profile,omitempty" msgpack:"profile"`
	FetchedAt time.Time                `json:"fetched_at,omitempty" yaml:"fetched_at,omitempty" msgpack:"fetched_at"`
}

// Dataset is the immutable bundle consumed by the valuation engine.
type Dataset struct {
	ticker     string
	name       string
	prices     []PricePoint
	statements map[Statement]map[string][]*float64
	profile    map[ProfileField]float64
	fetchedAt  time.Time
}

// NormalizeTicker upper-cases and trims a ticker symbol.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// FromSnapshot builds a Dataset, deep-copying everything in s. Prices are sorted by date and
// non-finite profile values are dropped so that absence is the only "missing" representation.
func FromSnapshot(s Snapshot) *Dataset {
	d := &Dataset{
		ticker:    NormalizeTicker(s.Ticker),
		name:      s.Name,
		fetchedAt: s.FetchedAt,
		statements: map[Statement]map[string][]*float64{
			IncomeStatement:   copyStatement(s.Income),
			BalanceSheet:      copyStatement(s.Balance),
			CashFlowStatement: copyStatement(s.CashFlow),
		},
		profile: make(map[ProfileField]float64, len(s.Profile)),
	}

	d.prices = append([]PricePoint(nil), s.Prices...)
	sort.SliceStable(d.prices, func(i, j int) bool { return d.prices[i].Date.Before(d.prices[j].Date) })

	for k, v := range s.Profile {
		if isFinite(v) {
			d.profile[k] = v
		}
	}
	return d
}

// Snapshot returns a deep copy of the dataset in serialisable form.
func (d *Dataset) Snapshot() Snapshot {
	s := Snapshot{
		Ticker:    d.ticker,
		Name:      d.name,
		Prices:    append([]PricePoint(nil), d.prices...),
		Income:    copyStatement(d.statements[IncomeStatement]),
		Balance:   copyStatement(d.statements[BalanceSheet]),
		CashFlow:  copyStatement(d.statements[CashFlowStatement]),
		Profile:   make(map[ProfileField]float64, len(d.profile)),
		FetchedAt: d.fetchedAt,
	}
	for k, v := range d.profile {
		s.Profile[k] = v
	}
	return s
}

// Ticker returns the normalised ticker symbol.
func (d *Dataset) Ticker() string { return d.ticker }

// Name returns the company display name, falling back to the ticker.
func (d *Dataset) Name() string {
	if d.name == "" {
		return d.ticker
	}
	return d.name
}

// FetchedAt reports when the accessor produced the data.
func (d *Dataset) FetchedAt() time.Time { return d.fetchedAt }

// Latest returns the most recent period of a line item. It reports false when the item is not
// reported, or when its most recent period is missing or not a finite number.
func (d *Dataset) Latest(st Statement, item string) (float64, bool) {
	series, ok := d.statements[st][item]
	if !ok || len(series) == 0 {
		return 0, false
	}
	last := series[len(series)-1]
	if last == nil || !isFinite(*last) {
		return 0, false
	}
	return *last, true
}

// Has reports whether the statement carries the line item at all.
func (d *Dataset) Has(st Statement, item string) bool {
	_, ok := d.statements[st][item]
	return ok
}

// Periods returns how many periods the line item spans.
func (d *Dataset) Periods(st Statement, item string) int {
	return len(d.statements[st][item])
}

// Profile returns a profile fact.
func (d *Dataset) Profile(f ProfileField) (float64, bool) {
	v, ok := d.profile[f]
	return v, ok
}

// LastClose returns the most recent historical close.
func (d *Dataset) LastClose() (float64, bool) {
	if len(d.prices) == 0 {
		return 0, false
	}
	c := d.prices[len(d.prices)-1].Close
	return c, isFinite(c)
}

// PriceCount returns the number of historical closes.
func (d *Dataset) PriceCount() int { return len(d.prices) }

func copyStatement(in map[string][]*float64) map[string][]*float64 {
	out := make(map[string][]*float64, len(in))
	for item, series := range in {
		cp := make([]*float64, len(series))
		for i, v := range series {
			if v != nil {
				val := *v
				cp[i] = &val
			}
		}
		out[item] = cp
	}
	return out
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Float returns a pointer to v. Handy for building snapshots.
func Float(v float64) *float64 { return &v }

package resolve

import (
	"math"

	"equity_valuation/pkg/core/dataset"
)

// chain returns the ordered candidates for a concept, most specific first.
func (r *Resolver) chain(c Concept) []candidate {
	switch c {
	case FreeCashFlow:
		return freeCashFlowChain
	case EBITDA:
		return ebitdaChain
	case Cash:
		return cashChain
	case Debt:
		return debtChain
	case Revenue:
		return revenueChain
	case SharesOutstanding:
		return r.sharesChain()
	case EPS:
		return r.perShareChain(dataset.TrailingEPS, dataset.IncomeStatement, dataset.NetIncome)
	case BookValuePerShare:
		return r.perShareChain(dataset.BookValue, dataset.BalanceSheet, dataset.TotalStockholderEquity)
	}
	return nil
}

// =============================================================================
// CASH FLOW
// =============================================================================

// FORMULA: FCF = Operating Cash Flow − |Capital Expenditure|
//
// CapEx is reported negative by most sources, positive by some; the absolute value makes the
// subtraction sign-agnostic. Without CapEx the operating cash flow stands in for FCF.
var freeCashFlowChain = []candidate{
	{
		source: "Operating Cash Flow - |Capital Expenditure|",
		eval: func(ds *dataset.Dataset) (float64, bool) {
			ocf, ok := ds.Latest(dataset.CashFlowStatement, dataset.OperatingCashFlow)
			if !ok {
				return 0, false
			}
			capex, ok := ds.Latest(dataset.CashFlowStatement, dataset.CapitalExpenditure)
			if !ok {
				return 0, false
			}
			return ocf - math.Abs(capex), true
		},
	},
	item("Operating Cash Flow", dataset.CashFlowStatement, dataset.OperatingCashFlow),
}

// =============================================================================
// EARNINGS
// =============================================================================

// FORMULA: EBITDA = EBIT + D&A
//
// D&A comes from the income statement, else the cash-flow statement's Depreciation. Without EBIT
// the chain falls back to Income Before Tax + |Interest Expense|, adding interest only when it is
// reported.
var ebitdaChain = []candidate{
	sum("EBIT + Depreciation And Amortization",
		dataset.IncomeStatement, dataset.EBIT,
		dataset.IncomeStatement, dataset.DepreciationAmortization),
	sum("EBIT + Depreciation (cash flow)",
		dataset.IncomeStatement, dataset.EBIT,
		dataset.CashFlowStatement, dataset.Depreciation),
	{
		source: "Income Before Tax + |Interest Expense|",
		eval: func(ds *dataset.Dataset) (float64, bool) {
			ebt, ok := ds.Latest(dataset.IncomeStatement, dataset.IncomeBeforeTax)
			if !ok {
				return 0, false
			}
			interest, ok := ds.Latest(dataset.IncomeStatement, dataset.InterestExpense)
			if !ok {
				return 0, false
			}
			return ebt + math.Abs(interest), true
		},
	},
	item("Income Before Tax", dataset.IncomeStatement, dataset.IncomeBeforeTax),
}

var revenueChain = []candidate{
	item("Total Revenue", dataset.IncomeStatement, dataset.TotalRevenue),
}

// =============================================================================
// BALANCE SHEET
// =============================================================================

var cashChain = []candidate{
	item("Cash And Cash Equivalents", dataset.BalanceSheet, dataset.CashAndCashEquivalents),
	item("Cash And Short Term Investments", dataset.BalanceSheet, dataset.CashAndShortTermInvest),
	zero("no cash reported (0)"),
}

var debtChain = []candidate{
	item("Total Debt", dataset.BalanceSheet, dataset.TotalDebt),
	item("Long Term Debt", dataset.BalanceSheet, dataset.LongTermDebt),
	zero("no debt reported (0)"),
}

// =============================================================================
// PER SHARE
// =============================================================================

func (r *Resolver) sharesChain() []candidate {
	chain := []candidate{{
		source: "profile sharesOutstanding",
		eval: func(ds *dataset.Dataset) (float64, bool) {
			v, ok := ds.Profile(dataset.SharesOutstanding)
			return v, ok && v > 0
		},
	}}
	if r.opts.UnitShareFallback {
		chain = append(chain, candidate{
			source: "unit share fallback (1)",
			eval:   func(*dataset.Dataset) (float64, bool) { return 1, true },
		})
	}
	return chain
}

// perShareChain prefers the profile's per-share figure and otherwise divides a statement total
// by the resolved share count.
func (r *Resolver) perShareChain(field dataset.ProfileField, st dataset.Statement, total string) []candidate {
	return []candidate{
		{
			source: "profile " + string(field),
			eval: func(ds *dataset.Dataset) (float64, bool) {
				return ds.Profile(field)
			},
		},
		{
			source: total + " / shares outstanding",
			eval: func(ds *dataset.Dataset) (float64, bool) {
				v, ok := ds.Latest(st, total)
				if !ok {
					return 0, false
				}
				shares, err := r.Value(ds, SharesOutstanding)
				if err != nil {
					return 0, false
				}
				return v / shares, true
			},
		},
	}
}

// =============================================================================
// CANDIDATE BUILDERS
// =============================================================================

func item(source string, st dataset.Statement, name string) candidate {
	return candidate{
		source: source,
		eval: func(ds *dataset.Dataset) (float64, bool) {
			return ds.Latest(st, name)
		},
	}
}

func sum(source string, st1 dataset.Statement, a string, st2 dataset.Statement, b string) candidate {
	return candidate{
		source: source,
		eval: func(ds *dataset.Dataset) (float64, bool) {
			x, ok := ds.Latest(st1, a)
			if !ok {
				return 0, false
			}
			y, ok := ds.Latest(st2, b)
			if !ok {
				return 0, false
			}
			return x + y, true
		},
	}
}

func zero(source string) candidate {
	return candidate{
		source: source,
		eval:   func(*dataset.Dataset) (float64, bool) { return 0, true },
	}
}

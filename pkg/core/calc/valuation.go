// Package calc provides deterministic financial formulas for the valuation methods.
// This file implements growth projection and discounting.
package calc

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrNonPositiveSpread is returned when a perpetuity has r − g ≤ 0.
var ErrNonPositiveSpread = errors.New("discount rate must exceed terminal growth rate")

// =============================================================================
// PROJECTION
// =============================================================================

// ProjectGrowth compounds a base cash flow forward.
//
// FORMULA: CF_t = CF_0 × (1 + g)^t,  t = 1..n
func ProjectGrowth(base, growth float64, years int) []float64 {
	if years <= 0 {
		return nil
	}
	out := make([]float64, years)
	for t := 1; t <= years; t++ {
		out[t-1] = base * math.Pow(1+growth, float64(t))
	}
	return out
}

// =============================================================================
// DISCOUNTING
// =============================================================================

// TerminalValueGordonGrowth values the cash flows beyond the projection horizon.
//
// FORMULA: TV = CF_n × (1 + g) / (r − g)
//
// Where:
//   - CF_n = last projected cash flow
//   - r = discount rate
//   - g = perpetual growth rate (must be < r)
func TerminalValueGordonGrowth(lastCF, discountRate, growthRate float64) (float64, error) {
	spread := discountRate - growthRate
	if spread <= 0 {
		return 0, ErrNonPositiveSpread
	}
	return lastCF * (1 + growthRate) / spread, nil
}

// PresentValue discounts a single cash flow.
//
// FORMULA: PV = CF / (1 + r)^t
func PresentValue(cashFlow, discountRate float64, periods int) float64 {
	if periods < 0 {
		return 0
	}
	return cashFlow / math.Pow(1+discountRate, float64(periods))
}

// PresentValues discounts each cash flow of a series, assuming end-of-period timing so the
// first flow is discounted one period.
//
// FORMULA: PV_t = CF_t / (1 + r)^t,  t = 1..n
func PresentValues(cashFlows []float64, discountRate float64) []float64 {
	out := make([]float64, len(cashFlows))
	for i, cf := range cashFlows {
		out[i] = PresentValue(cf, discountRate, i+1)
	}
	return out
}

// PresentValueOfCashFlows is the sum of PresentValues.
//
// FORMULA: PV = Σ [ CF_t / (1 + r)^t ]
func PresentValueOfCashFlows(cashFlows []float64, discountRate float64) float64 {
	if len(cashFlows) == 0 {
		return 0
	}
	return floats.Sum(PresentValues(cashFlows, discountRate))
}

// =============================================================================
// ENTERPRISE TO EQUITY BRIDGE
// =============================================================================

// EquityFromEnterprise converts enterprise value to equity value.
//
// FORMULA: Equity = EV + Cash − Debt
func EquityFromEnterprise(enterpriseValue, cash, debt float64) float64 {
	return enterpriseValue + cash - debt
}

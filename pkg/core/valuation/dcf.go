package valuation

import (
	"context"
	"strconv"

	"equity_valuation/pkg/core/calc"
	"equity_valuation/pkg/core/resolve"
)

// DCFInput encapsulates all inputs required for a Discounted Cash Flow valuation
type DCFInput struct {
	BaseFCF           float64 // Latest free cash flow, year 0
	Cash              float64
	Debt              float64
	SharesOutstanding float64
	Params            DCFParams
}

// DCFResult holds the valuation outputs
type DCFResult struct {
	ProjectedFCF    []float64
	DiscountedFCF   []float64
	PV_FCF          float64
	TerminalValue   float64
	PV_Terminal     float64
	EnterpriseValue float64
	EquityValue     float64
	SharePrice      float64
}

// CalculateDCF performs a single-stage growth DCF with a Gordon growth terminal value.
func CalculateDCF(input DCFInput) (DCFResult, error) {
	p := input.Params
	if err := p.Validate(); err != nil {
		return DCFResult{}, err
	}
	if input.SharesOutstanding == 0 {
		return DCFResult{}, &ParamError{Param: "shares_outstanding", Reason: "must be non-zero"}
	}

	// 1. Project FCF from the base year
	projected := calc.ProjectGrowth(input.BaseFCF, p.GrowthRate, p.ProjectionYears)

	// 2. Discount each projected year
	discounted := calc.PresentValues(projected, p.DiscountRate)
	pvFCF := calc.PresentValueOfCashFlows(projected, p.DiscountRate)

	// 3. Terminal Value on the final projected year, discounted N periods
	tv, err := calc.TerminalValueGordonGrowth(projected[len(projected)-1], p.DiscountRate, p.TerminalGrowthRate)
	if err != nil {
		return DCFResult{}, err
	}
	pvTerminal := calc.PresentValue(tv, p.DiscountRate, p.ProjectionYears)

	// 4. Aggregation
	ev := pvFCF + pvTerminal
	eqVal := calc.EquityFromEnterprise(ev, input.Cash, input.Debt)

	return DCFResult{
		ProjectedFCF:    projected,
		DiscountedFCF:   discounted,
		PV_FCF:          pvFCF,
		TerminalValue:   tv,
		PV_Terminal:     pvTerminal,
		EnterpriseValue: ev,
		EquityValue:     eqVal,
		SharePrice:      eqVal / input.SharesOutstanding,
	}, nil
}

// DCF is the discounted cash flow method.
type DCF struct {
	Params   DCFParams
	Resolver *resolve.Resolver
}

func (m *DCF) Name() MethodName { return MethodDCF }

// Estimate resolves FCF, cash, debt and shares from the subject and runs CalculateDCF.
func (m *DCF) Estimate(ctx context.Context, in Input) (Estimate, error) {
	if err := ctx.Err(); err != nil {
		return Estimate{}, unavailable(MethodDCF, err)
	}
	if err := m.Params.Validate(); err != nil {
		return Estimate{}, unavailable(MethodDCF, err)
	}

	est := Estimate{Method: MethodDCF}
	var items [4]resolve.LineItem
	for i, c := range []resolve.Concept{resolve.FreeCashFlow, resolve.Cash, resolve.Debt, resolve.SharesOutstanding} {
		li, err := m.Resolver.Resolve(in.Subject, c)
		if err != nil {
			return Estimate{}, unavailable(MethodDCF, err)
		}
		items[i] = li
	}
	est.Inputs = items[:]

	res, err := CalculateDCF(DCFInput{
		BaseFCF:           items[0].Value,
		Cash:              items[1].Value,
		Debt:              items[2].Value,
		SharesOutstanding: items[3].Value,
		Params:            m.Params,
	})
	if err != nil {
		return Estimate{}, unavailable(MethodDCF, err)
	}

	for i, v := range res.ProjectedFCF {
		est.figure(yearLabel("FCF", i+1), v)
	}
	for i, v := range res.DiscountedFCF {
		est.figure(yearLabel("PV FCF", i+1), v)
	}
	est.figure("PV of Projected FCF", res.PV_FCF)
	est.figure("Terminal Value", res.TerminalValue)
	est.figure("PV of Terminal Value", res.PV_Terminal)
	est.figure("Enterprise Value", res.EnterpriseValue)
	est.figure("Equity Value", res.EquityValue)
	est.PerShare = res.SharePrice
	return done(MethodDCF, est)
}

func yearLabel(prefix string, year int) string {
	return prefix + " Y" + strconv.Itoa(year)
}

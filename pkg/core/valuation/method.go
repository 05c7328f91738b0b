package valuation

import (
	"context"
	"errors"
	"fmt"
	"math"

	"equity_valuation/pkg/core/calc"
	"equity_valuation/pkg/core/dataset"
	"equity_valuation/pkg/core/peer"
	"equity_valuation/pkg/core/resolve"
)

// MethodName identifies a valuation method in reports.
type MethodName string

const (
	MethodDCF             MethodName = "DCF"
	MethodPE              MethodName = "P/E"
	MethodPBV             MethodName = "P/BV"
	MethodEVEBITDA        MethodName = "EV/EBITDA"
	MethodMarketMultiples MethodName = "Market Multiples"
)

// Input is what every method sees: the subject and the already-fetched peer basket.
// Both are read-only and shared between concurrently running methods.
type Input struct {
	Subject *dataset.Dataset
	Peers   *peer.Basket
}

// Method produces a per-share estimate or an error wrapping ErrUnavailable.
type Method interface {
	Name() MethodName
	Estimate(ctx context.Context, in Input) (Estimate, error)
}

// Figure is one intermediate number of a method, kept for diagnostics.
type Figure struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// MultipleSource records where a ratio method's multiple came from.
type MultipleSource string

const (
	SourcePeers   MultipleSource = "peers"
	SourceOwn     MultipleSource = "own"
	SourceDefault MultipleSource = "default"
)

// AppliedMultiple is the multiple a ratio method used.
type AppliedMultiple struct {
	Name      peer.Multiple  `json:"name"`
	Value     float64        `json:"value"`
	Source    MultipleSource `json:"source"`
	PeerCount int            `json:"peer_count,omitempty"`
}

// Estimate is a successful method result.
type Estimate struct {
	Method   MethodName         `json:"method"`
	PerShare float64            `json:"per_share"`
	Inputs   []resolve.LineItem `json:"inputs,omitempty"`
	Multiple *AppliedMultiple   `json:"multiple,omitempty"`
	Figures  []Figure           `json:"figures,omitempty"`
}

func (e *Estimate) figure(label string, v float64) {
	e.Figures = append(e.Figures, Figure{Label: label, Value: v})
}

// checkFinite rejects an estimate carrying an infinite or NaN number, in its per-share value, its
// multiple or any figure. Overflowing inputs end here as ErrNonFinite.
func (e *Estimate) checkFinite() error {
	if !isFinite(e.PerShare) {
		return fmt.Errorf("%w: per-share value %g", ErrNonFinite, e.PerShare)
	}
	if e.Multiple != nil && !isFinite(e.Multiple.Value) {
		return fmt.Errorf("%w: %s multiple %g", ErrNonFinite, e.Multiple.Name, e.Multiple.Value)
	}
	for _, in := range e.Inputs {
		if !isFinite(in.Value) {
			return fmt.Errorf("%w: %s %g", ErrNonFinite, in.Concept, in.Value)
		}
	}
	for _, f := range e.Figures {
		if !isFinite(f.Value) {
			return fmt.Errorf("%w: %s %g", ErrNonFinite, f.Label, f.Value)
		}
	}
	return nil
}

// done is the common exit of every method: a non-finite estimate is unavailable.
func done(m MethodName, est Estimate) (Estimate, error) {
	if err := est.checkFinite(); err != nil {
		return Estimate{}, unavailable(m, err)
	}
	return est, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// enterpriseToPerShare bridges an enterprise value to a per-share equity value.
//
// FORMULA: per share = (EV + Cash − Debt) / Shares
func enterpriseToPerShare(r *resolve.Resolver, ds *dataset.Dataset, ev float64, est *Estimate) (float64, error) {
	cash, err := r.Resolve(ds, resolve.Cash)
	if err != nil {
		return 0, err
	}
	debt, err := r.Resolve(ds, resolve.Debt)
	if err != nil {
		return 0, err
	}
	shares, err := r.Resolve(ds, resolve.SharesOutstanding)
	if err != nil {
		return 0, err
	}
	est.Inputs = append(est.Inputs, cash, debt, shares)

	equity := calc.EquityFromEnterprise(ev, cash.Value, debt.Value)
	est.figure("Equity Value", equity)
	return equity / shares.Value, nil
}

var errNoPeers = errors.New("no peer supplied a usable multiple")

// ErrNonFinite marks a computation that overflowed or produced NaN.
var ErrNonFinite = errors.New("result is not a finite number")

package valuation

import (
	"context"
	"fmt"

	"equity_valuation/pkg/core/dataset"
	"equity_valuation/pkg/core/peer"
	"equity_valuation/pkg/core/resolve"
)

// RatioMethod values the subject by applying a single market multiple to one fundamental.
//
// The multiple is taken, in order, from the average of the peers' positive values, the subject's
// own profile value when it has one, and finally Default.
type RatioMethod struct {
	name        MethodName
	multiple    peer.Multiple
	fundamental resolve.Concept
	enterprise  bool // multiple prices the enterprise, not the equity
	Default     float64
	Resolver    *resolve.Resolver
}

// NewPE values equity as EPS × P/E.
func NewPE(r *resolve.Resolver, def float64) *RatioMethod {
	return &RatioMethod{name: MethodPE, multiple: peer.PE, fundamental: resolve.EPS, Default: def, Resolver: r}
}

// NewPBV values equity as book value per share × P/BV.
func NewPBV(r *resolve.Resolver, def float64) *RatioMethod {
	return &RatioMethod{name: MethodPBV, multiple: peer.PBV, fundamental: resolve.BookValuePerShare, Default: def, Resolver: r}
}

// NewEVEBITDA values the enterprise as EBITDA × EV/EBITDA and bridges to equity.
func NewEVEBITDA(r *resolve.Resolver, def float64) *RatioMethod {
	return &RatioMethod{name: MethodEVEBITDA, multiple: peer.EVEBITDA, fundamental: resolve.EBITDA, enterprise: true, Default: def, Resolver: r}
}

func (m *RatioMethod) Name() MethodName { return m.name }

func (m *RatioMethod) Estimate(ctx context.Context, in Input) (Estimate, error) {
	if err := ctx.Err(); err != nil {
		return Estimate{}, unavailable(m.name, err)
	}

	fund, err := m.Resolver.Resolve(in.Subject, m.fundamental)
	if err != nil {
		return Estimate{}, unavailable(m.name, err)
	}

	applied, err := m.chooseMultiple(in.Subject, in.Peers)
	if err != nil {
		return Estimate{}, unavailable(m.name, err)
	}

	est := Estimate{Method: m.name, Inputs: []resolve.LineItem{fund}, Multiple: &applied}
	perShare, err := applyMultiple(m.Resolver, in.Subject, m.enterprise, fund.Value, applied.Value, &est)
	if err != nil {
		return Estimate{}, unavailable(m.name, err)
	}
	est.PerShare = perShare
	return done(m.name, est)
}

func (m *RatioMethod) chooseMultiple(subject *dataset.Dataset, peers *peer.Basket) (AppliedMultiple, error) {
	if avg, n, ok := peers.Average(m.multiple); ok {
		return AppliedMultiple{Name: m.multiple, Value: avg, Source: SourcePeers, PeerCount: n}, nil
	}
	if own, ok := subject.Profile(m.multiple.Field()); ok {
		return AppliedMultiple{Name: m.multiple, Value: own, Source: SourceOwn}, nil
	}
	if m.Default <= 0 {
		return AppliedMultiple{}, &ParamError{Param: "default " + string(m.multiple), Reason: fmt.Sprintf("must be positive, got %g", m.Default)}
	}
	return AppliedMultiple{Name: m.multiple, Value: m.Default, Source: SourceDefault}, nil
}

// applyMultiple turns fundamental × multiple into a per-share value.
//
// FORMULA (equity multiples):     per share = fundamental × multiple
// FORMULA (enterprise multiples): EV = fundamental × multiple, per share = (EV + Cash − Debt) / Shares
func applyMultiple(r *resolve.Resolver, ds *dataset.Dataset, enterprise bool, fundamental, multiple float64, est *Estimate) (float64, error) {
	if !enterprise {
		return fundamental * multiple, nil
	}
	ev := fundamental * multiple
	est.figure("Enterprise Value", ev)
	return enterpriseToPerShare(r, ds, ev, est)
}

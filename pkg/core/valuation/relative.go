package valuation

import (
	"context"
	"errors"

	"gonum.org/v1/gonum/stat"

	"equity_valuation/pkg/core/dataset"
	"equity_valuation/pkg/core/peer"
	"equity_valuation/pkg/core/resolve"
)

// ImpliedValue is one comparable multiple applied to the subject.
type ImpliedValue struct {
	Multiple  peer.Multiple
	PeerMean  float64
	PeerCount int
	PerShare  float64
}

// MarketMultiples performs Comparable Companies Analysis: every multiple that at least one peer
// quotes is averaged and applied to the subject, and the implied per-share values are averaged.
// It never falls back to default multiples.
type MarketMultiples struct {
	Resolver *resolve.Resolver
}

func (m *MarketMultiples) Name() MethodName { return MethodMarketMultiples }

func (m *MarketMultiples) Estimate(ctx context.Context, in Input) (Estimate, error) {
	if err := ctx.Err(); err != nil {
		return Estimate{}, unavailable(MethodMarketMultiples, err)
	}
	if in.Peers.Len() == 0 {
		return Estimate{}, unavailable(MethodMarketMultiples, errors.New("no peers available"))
	}

	est := Estimate{Method: MethodMarketMultiples}
	implied := CalculateComps(m.Resolver, in.Subject, in.Peers, &est)
	if len(implied) == 0 {
		return Estimate{}, unavailable(MethodMarketMultiples, errNoPeers)
	}

	values := make([]float64, len(implied))
	for i, iv := range implied {
		values[i] = iv.PerShare
		est.figure("Peer "+string(iv.Multiple), iv.PeerMean)
		est.figure("Implied "+string(iv.Multiple), iv.PerShare)
	}
	est.PerShare = stat.Mean(values, nil)
	return done(MethodMarketMultiples, est)
}

// CalculateComps applies each averaged peer multiple to the subject. Multiples no peer quotes, or
// whose subject fundamental cannot be resolved, are skipped. Resolved inputs are appended to est.
func CalculateComps(r *resolve.Resolver, subject *dataset.Dataset, peers *peer.Basket, est *Estimate) []ImpliedValue {
	var out []ImpliedValue
	seen := make(map[resolve.Concept]bool)

	for _, mult := range peer.Multiples {
		avg, n, ok := peers.Average(mult)
		if !ok {
			continue
		}
		concept, enterprise := compsFundamental(mult)
		fund, err := r.Resolve(subject, concept)
		if err != nil {
			continue
		}

		scratch := Estimate{}
		perShare, err := applyMultiple(r, subject, enterprise, fund.Value, avg, &scratch)
		if err != nil {
			continue
		}

		for _, li := range append([]resolve.LineItem{fund}, scratch.Inputs...) {
			if !seen[li.Concept] {
				seen[li.Concept] = true
				est.Inputs = append(est.Inputs, li)
			}
		}
		out = append(out, ImpliedValue{Multiple: mult, PeerMean: avg, PeerCount: n, PerShare: perShare})
	}
	return out
}

func compsFundamental(m peer.Multiple) (resolve.Concept, bool) {
	switch m {
	case peer.PE:
		return resolve.EPS, false
	case peer.PBV:
		return resolve.BookValuePerShare, false
	case peer.EVEBITDA:
		return resolve.EBITDA, true
	default:
		return resolve.Revenue, true
	}
}

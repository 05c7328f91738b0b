// Package resolve turns a financial concept ("free cash flow", "EBITDA", ...) into a single
// number by walking a fixed, ordered chain of candidate line items.
//
// The resolver never substitutes a business default on its own. The only constants it can
// return are the explicit zero terminals of the Cash and Debt chains and, when enabled, the
// legacy unit share count; both are labelled in LineItem.Source.
package resolve

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"equity_valuation/pkg/core/dataset"
)

// Concept is a resolvable financial quantity.
type Concept string

const (
	FreeCashFlow      Concept = "free_cash_flow"
	EBITDA            Concept = "ebitda"
	Cash              Concept = "cash"
	Debt              Concept = "debt"
	EPS               Concept = "eps"
	BookValuePerShare Concept = "book_value_per_share"
	SharesOutstanding Concept = "shares_outstanding"
	Revenue           Concept = "revenue"
)

// ErrUnavailable is wrapped by every resolution gap.
var ErrUnavailable = errors.New("line item unavailable")

// GapError reports that no candidate in a concept's chain could be satisfied.
type GapError struct {
	Concept Concept
	Tried   []string
}

func (e *GapError) Error() string {
	return fmt.Sprintf("resolve %s: no candidate available (tried %s)", e.Concept, strings.Join(e.Tried, "; "))
}

func (e *GapError) Unwrap() error { return ErrUnavailable }

// LineItem is a resolved value plus the candidate that produced it.
type LineItem struct {
	Concept Concept `json:"concept"`
	Value   float64 `json:"value"`
	Source  string  `json:"source"`
}

// Options tunes resolution policy.
type Options struct {
	// UnitShareFallback reproduces the historical behaviour of treating a missing share count
	// as 1. Off by default: a missing share count makes every per-share figure unavailable.
	UnitShareFallback bool `yaml:"unit_share_fallback" json:"unit_share_fallback"`
}

// Resolver resolves concepts against a dataset. It holds no per-dataset state and is safe for
// concurrent use.
type Resolver struct {
	opts Options
}

// New creates a Resolver.
func New(opts Options) *Resolver {
	return &Resolver{opts: opts}
}

// candidate is one link of a fallback chain.
type candidate struct {
	source string
	eval   func(ds *dataset.Dataset) (float64, bool)
}

// Resolve walks the chain for c and returns the first candidate that yields a finite number.
func (r *Resolver) Resolve(ds *dataset.Dataset, c Concept) (LineItem, error) {
	chain := r.chain(c)
	if chain == nil {
		return LineItem{}, fmt.Errorf("resolve %s: unknown concept", c)
	}

	tried := make([]string, 0, len(chain))
	for _, cand := range chain {
		if v, ok := cand.eval(ds); ok && !math.IsInf(v, 0) && !math.IsNaN(v) {
			return LineItem{Concept: c, Value: v, Source: cand.source}, nil
		}
		tried = append(tried, cand.source)
	}
	return LineItem{}, &GapError{Concept: c, Tried: tried}
}

// Value is Resolve without the provenance.
func (r *Resolver) Value(ds *dataset.Dataset, c Concept) (float64, error) {
	li, err := r.Resolve(ds, c)
	return li.Value, err
}

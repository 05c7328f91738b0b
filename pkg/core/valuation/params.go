package valuation

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is wrapped by every method-level failure.
	ErrUnavailable = errors.New("valuation method unavailable")

	// ErrSubjectUnavailable means the subject dataset could not be fetched. No report is produced.
	ErrSubjectUnavailable = errors.New("subject dataset unavailable")

	// ErrNoPrice means neither a profile price nor a historical close is available, so no
	// estimate can be classified.
	ErrNoPrice = errors.New("current price unavailable")
)

// DCFParams are the projection and discounting assumptions of the DCF method.
type DCFParams struct {
	GrowthRate         float64 `yaml:"growth_rate" json:"growth_rate"`
	DiscountRate       float64 `yaml:"discount_rate" json:"discount_rate"`
	TerminalGrowthRate float64 `yaml:"terminal_growth_rate" json:"terminal_growth_rate"`
	ProjectionYears    int     `yaml:"projection_years" json:"projection_years"`
}

// DefaultDCFParams returns 5% growth, a 10% discount rate, 2% terminal growth over 5 years.
func DefaultDCFParams() DCFParams {
	return DCFParams{
		GrowthRate:         0.05,
		DiscountRate:       0.10,
		TerminalGrowthRate: 0.02,
		ProjectionYears:    5,
	}
}

// Validate reports the first parameter that makes the model undefined.
func (p DCFParams) Validate() error {
	for _, r := range []struct {
		name string
		v    float64
	}{{"growth_rate", p.GrowthRate}, {"discount_rate", p.DiscountRate}, {"terminal_growth_rate", p.TerminalGrowthRate}} {
		if !isFinite(r.v) {
			return &ParamError{Param: r.name, Reason: fmt.Sprintf("must be a finite number, got %g", r.v)}
		}
	}
	if p.ProjectionYears < 1 {
		return &ParamError{Param: "projection_years", Reason: fmt.Sprintf("must be at least 1, got %d", p.ProjectionYears)}
	}
	if p.DiscountRate <= p.TerminalGrowthRate {
		return &ParamError{
			Param:  "discount_rate",
			Reason: fmt.Sprintf("%.4f must exceed terminal growth rate %.4f", p.DiscountRate, p.TerminalGrowthRate),
		}
	}
	if p.DiscountRate <= -1 {
		return &ParamError{Param: "discount_rate", Reason: "must be greater than -100%"}
	}
	return nil
}

// ParamError is an invalid method parameter.
type ParamError struct {
	Param  string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Reason)
}

// Industry default multiples. They are coarse placeholders used only when neither peers nor the
// subject's own profile supply a multiple.
const (
	DefaultPE       = 15.0
	DefaultPBV      = 2.0
	DefaultEVEBITDA = 10.0
)

// DefaultMultiples are the fallback multiples of the ratio methods.
type DefaultMultiples struct {
	PE       float64 `yaml:"pe" json:"pe" validate:"gt=0"`
	PBV      float64 `yaml:"pbv" json:"pbv" validate:"gt=0"`
	EVEBITDA float64 `yaml:"ev_ebitda" json:"ev_ebitda" validate:"gt=0"`
}

// StandardMultiples returns DefaultPE, DefaultPBV and DefaultEVEBITDA.
func StandardMultiples() DefaultMultiples {
	return DefaultMultiples{PE: DefaultPE, PBV: DefaultPBV, EVEBITDA: DefaultEVEBITDA}
}

// MethodError carries the reason a single method could not produce an estimate.
// It matches both ErrUnavailable and the underlying cause under errors.Is.
type MethodError struct {
	Method MethodName
	Err    error
}

func (e *MethodError) Error() string {
	return fmt.Sprintf("%s: %v", e.Method, e.Err)
}

func (e *MethodError) Unwrap() []error { return []error{ErrUnavailable, e.Err} }

func unavailable(m MethodName, err error) error {
	return &MethodError{Method: m, Err: err}
}

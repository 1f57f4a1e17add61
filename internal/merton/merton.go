package merton

import (
	"benritz/dtd/internal/types"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

const (
	Sigma         = 4.6940
	Weight        = 0.3466
	Horizon       = 1.0
	Tolerance     = 1e-8
	MaxIterations = 1_000
	TradingDays   = 250.0

	// smallest |f'(V)| the solver will divide by
	minDerivative = 1e-12
)

// Params holds the fixed model constants applied uniformly to every row.
type Params struct {
	Sigma         float64
	Weight        float64
	Horizon       float64
	Tolerance     float64
	MaxIterations int
	TradingDays   float64
}

func DefaultParams() Params {
	return Params{
		Sigma:         Sigma,
		Weight:        Weight,
		Horizon:       Horizon,
		Tolerance:     Tolerance,
		MaxIterations: MaxIterations,
		TradingDays:   TradingDays,
	}
}

func (p Params) Validate() error {
	if p.Sigma <= 0 {
		return fmt.Errorf("%w: sigma %v", ErrInvalidParams, p.Sigma)
	}
	if p.Horizon <= 0 {
		return fmt.Errorf("%w: horizon %v", ErrInvalidParams, p.Horizon)
	}
	if p.Weight < 0 {
		return fmt.Errorf("%w: weight %v", ErrInvalidParams, p.Weight)
	}
	if p.Tolerance < 0 {
		return fmt.Errorf("%w: tolerance %v", ErrInvalidParams, p.Tolerance)
	}
	if p.MaxIterations < 1 {
		return fmt.Errorf("%w: max iterations %d", ErrInvalidParams, p.MaxIterations)
	}
	if p.TradingDays <= 0 {
		return fmt.Errorf("%w: trading days %v", ErrInvalidParams, p.TradingDays)
	}
	return nil
}

// Liabilities calculates the default barrier from the debt composition.
//
// Parameters:
//
//	st:    Short term debt.
//	lt:    Long term debt, half of which counts towards the barrier.
//	other: Other liabilities, weighted by p.Weight.
//
// Returns:
//
//	Liability barrier L.
func (p Params) Liabilities(st, lt, other float64) float64 {
	return st + 0.5*lt + p.Weight*other
}

// AnnualRate annualizes a daily risk-free rate over p.TradingDays.
func (p Params) AnnualRate(daily float64) float64 {
	return daily * p.TradingDays
}

func (p Params) volSqrtT() float64 {
	return p.Sigma * math.Sqrt(p.Horizon)
}

// D1D2 calculates the Black-Scholes d1 and d2 terms for asset value V against
// barrier L at annual rate r.
func (p Params) D1D2(V, L, r float64) (float64, float64, error) {
	if err := checkFinite(V, L, r); err != nil {
		return 0, 0, err
	}
	if V <= 0 {
		return 0, 0, fmt.Errorf("%w: %v", types.ErrNonPositiveAssetValue, V)
	}
	if L <= 0 {
		return 0, 0, fmt.Errorf("%w: %v", types.ErrNonPositiveLiabilities, L)
	}

	s := p.volSqrtT()
	d1 := (math.Log(V/L) + (r+0.5*p.Sigma*p.Sigma)*p.Horizon) / s
	d2 := d1 - s

	return d1, d2, nil
}

// EquityValue calculates the theoretical equity value of a firm as a call on
// its assets.
//
// Parameters:
//
//	V:    Asset value.
//	L:    Liability barrier (strike).
//	r:    Annual risk-free rate.
//
// Returns:
//
//	V·Φ(d1) − L·e^(−rT)·Φ(d2).
func (p Params) EquityValue(V, L, r float64) (float64, error) {
	d1, d2, err := p.D1D2(V, L, r)
	if err != nil {
		return 0, err
	}
	return p.equity(V, L, r, d1, d2), nil
}

func (p Params) equity(V, L, r, d1, d2 float64) float64 {
	return V*NormCDF(d1) - L*math.Exp(-r*p.Horizon)*NormCDF(d2)
}

// Vega is the solver's approximation of dE/dV. It keeps the φ(d1)/(σ√T) term
// and ignores the derivative of the discounted barrier leg.
func (p Params) Vega(d1 float64) float64 {
	return NormCDF(d1) + NormPDF(d1)/p.volSqrtT()
}

// Solution is the outcome of the implied asset value search.
type Solution struct {
	AssetValue float64
	Converged  bool
	Iterations int
}

// ImpliedAssetValue calculates the asset value consistent with the observed
// equity value using the Newton-Raphson numerical method.
//
// Parameters:
//
//	E:    Observed equity value (market capitalization), used as the initial guess.
//	L:    Liability barrier.
//	r:    Annual risk-free rate.
//
// Returns:
//
//	The solution. Converged is false when p.MaxIterations updates did not
//	reach p.Tolerance, in which case AssetValue is the last estimate. An error
//	is returned when the iteration leaves the model's domain.
func (p Params) ImpliedAssetValue(E, L, r float64) (Solution, error) {
	if err := checkFinite(E, L, r); err != nil {
		return Solution{}, err
	}
	if E <= 0 {
		return Solution{}, fmt.Errorf("%w: %v", types.ErrNonPositiveEquity, E)
	}
	if L <= 0 {
		return Solution{}, fmt.Errorf("%w: %v", types.ErrNonPositiveLiabilities, L)
	}

	V := E

	for i := range p.MaxIterations {
		d1, d2, err := p.D1D2(V, L, r)
		if err != nil {
			return Solution{AssetValue: V, Iterations: i}, err
		}

		f := p.equity(V, L, r, d1, d2) - E

		d := p.Vega(d1)
		if math.Abs(d) < minDerivative {
			return Solution{AssetValue: V, Iterations: i}, types.ErrDerivativeTooSmall
		}

		next := V - f/d

		if math.IsNaN(next) || math.IsInf(next, 0) {
			return Solution{AssetValue: V, Iterations: i + 1}, fmt.Errorf("%w: asset value", types.ErrNotFinite)
		}
		if next <= 0 {
			return Solution{AssetValue: next, Iterations: i + 1}, fmt.Errorf("%w: %v", types.ErrNonPositiveAssetValue, next)
		}

		if math.Abs(next-V) < p.Tolerance {
			return Solution{AssetValue: next, Converged: true, Iterations: i + 1}, nil
		}

		V = next
	}

	return Solution{AssetValue: V, Iterations: p.MaxIterations}, nil
}

// DistanceToDefault calculates ln(V/L)/(σ√T).
func (p Params) DistanceToDefault(V, L float64) (float64, error) {
	if V <= 0 {
		return 0, fmt.Errorf("%w: %v", types.ErrNonPositiveAssetValue, V)
	}
	if L <= 0 {
		return 0, fmt.Errorf("%w: %v", types.ErrNonPositiveLiabilities, L)
	}
	return math.Log(V/L) / p.volSqrtT(), nil
}

// NormCDF is the standard normal cumulative distribution function.
func NormCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

// NormPDF is the standard normal probability density function.
func NormPDF(x float64) float64 {
	return distuv.UnitNormal.Prob(x)
}

func checkFinite(vals ...float64) error {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %v", types.ErrNotFinite, v)
		}
	}
	return nil
}

var (
	ErrInvalidParams = fmt.Errorf("invalid model parameters")
)

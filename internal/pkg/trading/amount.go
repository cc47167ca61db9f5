// Package trading provides the quantisation helpers shared by the risk
// model, the sizer and the venue adapter.
package trading

import (
	"math"

	"github.com/shopspring/decimal"
)

// RoundToStep rounds v to the nearest multiple of step. A non-positive step
// returns v unchanged.
func RoundToStep(v, step float64) float64 {
	if step <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	s := decimal.NewFromFloat(step)
	q := decimal.NewFromFloat(v).Div(s).Round(0).Mul(s)
	out, _ := q.Round(StepDecimals(step)).Float64()
	return out
}

// FloorToStep truncates v down to a multiple of step.
func FloorToStep(v, step float64) float64 {
	if step <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	s := decimal.NewFromFloat(step)
	q := decimal.NewFromFloat(v).Div(s).Floor().Mul(s)
	out, _ := q.Round(StepDecimals(step)).Float64()
	return out
}

// RoundPlaces rounds v half away from zero to the given number of places.
func RoundPlaces(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	out, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return out
}

// StepDecimals reports how many decimal places a step such as 0.001 carries.
func StepDecimals(step float64) int32 {
	if step <= 0 {
		return 0
	}
	exp := decimal.NewFromFloat(step).Exponent()
	if exp >= 0 {
		return 0
	}
	return -exp
}

// Format renders v quantised to step without exponent notation, the form
// venues expect for quantity and price strings.
func Format(v, step float64) string {
	if step <= 0 {
		return decimal.NewFromFloat(v).String()
	}
	return decimal.NewFromFloat(RoundToStep(v, step)).StringFixed(StepDecimals(step))
}

// FormatFloor is Format with truncation instead of rounding.
func FormatFloor(v, step float64) string {
	if step <= 0 {
		return decimal.NewFromFloat(v).String()
	}
	return decimal.NewFromFloat(FloorToStep(v, step)).StringFixed(StepDecimals(step))
}

// NearlyEqual compares two quantities with an absolute tolerance.
func NearlyEqual(a, b, tol float64) bool {
	return math.Abs(a-b) < tol
}

// Package mathx holds small float helpers
package mathx

import "math"

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
// Halves round away from zero.
func Round(x, unit float64) float64 {
	if unit <= 0 {
		return x
	}
	return math.Round(x/unit) * unit
}

// RoundSig rounds x to n significant figures
func RoundSig(x float64, n int) float64 {
	if x == 0 || n < 1 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	exp := math.Floor(math.Log10(math.Abs(x))) + 1 - float64(n)
	return Round(x, math.Pow(10, exp))
}

package numeric

import "gonum.org/v1/gonum/mathext"

// Digamma returns psi(x) = d/dx ln Gamma(x).
func Digamma(x float64) float64 {
	return mathext.Digamma(x)
}

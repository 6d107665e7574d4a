package numeric

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/bobonovski/rcgmix/matrix"
)

// MixtNegNatGrad computes the negative natural gradient of the ELBO on the
// product-of-simplices manifold and writes it into stepOut:
//
//	stepOut[k,n] = psi(Nk[k]) + logl[k,n] - gamma[k,n]
//
// projected onto the simplex tangent space by subtracting, per column, the
// responsibility-weighted mean c_n = sum_k exp(gamma[k,n]) * stepOut[k,n].
// Returns the squared natural-gradient norm under the Fisher metric,
// sum_{k,n} exp(gamma[k,n]) * stepOut[k,n]^2.
func MixtNegNatGrad(gamma *matrix.Log, nk []float64, logl *matrix.Log, stepOut *matrix.Log) float64 {
	rows, cols := gamma.Rows(), gamma.Cols()
	if uint32(len(nk)) != rows {
		panic(matrix.ErrIndexOutOfRange)
	}

	psiNk := make([]float64, rows)
	for k := uint32(0); k < rows; k++ {
		psiNk[k] = Digamma(nk[k])
	}

	weights := make([]float64, rows)
	raw := make([]float64, rows)
	for n := uint32(0); n < cols; n++ {
		for k := uint32(0); k < rows; k++ {
			g := gamma.At(k, n)
			raw[k] = psiNk[k] + logl.At(k, n) - g
			weights[k] = math.Exp(g)
		}
		c := floats.Dot(weights, raw)
		for k := uint32(0); k < rows; k++ {
			raw[k] -= c
		}
		for k := uint32(0); k < rows; k++ {
			stepOut.Set(k, n, raw[k])
		}
	}

	norm := 0.0
	for n := uint32(0); n < cols; n++ {
		for k := uint32(0); k < rows; k++ {
			w := math.Exp(gamma.At(k, n))
			s := stepOut.At(k, n)
			norm += w * s * s
		}
	}
	return norm
}

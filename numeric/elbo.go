package numeric

import (
	"math"

	"github.com/bobonovski/rcgmix/matrix"
)

// kahanSum accumulates a running sum with compensated (Kahan) summation,
// so the ELBO's non-decreasing invariant near convergence survives summing
// many terms of widely varying magnitude.
type kahanSum struct {
	sum, c float64
}

func (k *kahanSum) add(x float64) {
	y := x - k.c
	t := k.sum + y
	k.c = (t - k.sum) - y
	k.sum = t
}

// CalcBoundConst returns the prior-only constant term of the ELBO:
//
//	ln Gamma(sum_k alpha0_k) - sum_k ln Gamma(alpha0_k)
//
// Computed once (at rank 0 in the parallel optimizer) and broadcast,
// since it does not depend on gamma or logl.
func CalcBoundConst(logTimesObserved []float64, alpha0 []float64) float64 {
	sumAlpha0 := 0.0
	for _, a := range alpha0 {
		sumAlpha0 += a
	}
	lgSum, _ := math.Lgamma(sumAlpha0)

	c := lgSum
	for _, a := range alpha0 {
		lg, _ := math.Lgamma(a)
		c -= lg
	}
	return c
}

// ELBORcgMat adds to out the data- and gamma-dependent part of the ELBO:
//
//	sum_{k,n} exp(gamma[k,n] + logTimesObserved[n]) * (logl[k,n] - gamma[k,n])
//	+ sum_k (alpha0[k] - Nk[k]) * psi(Nk[k])
//	+ sum_k ln Gamma(Nk[k])
//
// The prior-only constant from CalcBoundConst is added by the caller after
// any cross-rank reduction of the data term.
func ELBORcgMat(logl, gamma *matrix.Log, logTimesObserved []float64, alpha0 []float64, nk []float64, out *float64) {
	rows, cols := gamma.Rows(), gamma.Cols()

	acc := kahanSum{}
	for n := uint32(0); n < cols; n++ {
		lt := logTimesObserved[n]
		for k := uint32(0); k < rows; k++ {
			g := gamma.At(k, n)
			acc.add(math.Exp(g+lt) * (logl.At(k, n) - g))
		}
	}

	for k := uint32(0); k < rows; k++ {
		psiNk := Digamma(nk[k])
		acc.add((alpha0[k] - nk[k]) * psiNk)
		lg, _ := math.Lgamma(nk[k])
		acc.add(lg)
	}

	*out += acc.sum
}

// AddAlpha0ToNk performs Nk[k] += alpha0[k] elementwise.
func AddAlpha0ToNk(alpha0 []float64, nk []float64) {
	if len(alpha0) != len(nk) {
		panic(matrix.ErrIndexOutOfRange)
	}
	for k := range nk {
		nk[k] += alpha0[k]
	}
}

// UpdateNk combines ExpRightMultiply and AddAlpha0ToNk into the single
// "recompute the expected counts" step every normalization point in the
// optimizer needs.
func UpdateNk(gamma *matrix.Log, logTimesObserved []float64, alpha0 []float64, nk []float64) {
	gamma.ExpRightMultiply(logTimesObserved, nk)
	AddAlpha0ToNk(alpha0, nk)
}

// RevertStep undoes the last Logsumexp normalization, given the column
// maxima oldm that Logsumexp recorded. After normalization column n holds
// g[k,n] - s_n, whose largest entry is oldm[n] - s_n, so adding
// oldm[n] - max_k gamma[k,n] (== s_n) to every entry of column n restores
// the pre-normalization values. gamma must be unchanged since that
// Logsumexp call.
func RevertStep(gamma *matrix.Log, oldm []float64) {
	rows, cols := gamma.Rows(), gamma.Cols()
	if uint32(len(oldm)) != cols {
		panic(matrix.ErrIndexOutOfRange)
	}
	for n := uint32(0); n < cols; n++ {
		colMax := gamma.At(0, n)
		for k := uint32(1); k < rows; k++ {
			if v := gamma.At(k, n); v > colMax {
				colMax = v
			}
		}
		shift := oldm[n] - colMax
		for k := uint32(0); k < rows; k++ {
			gamma.Set(k, n, gamma.At(k, n)+shift)
		}
	}
}

// Package rcg implements the Riemannian conjugate gradient optimizer that
// estimates mixture-component responsibilities from a precomputed
// log-likelihood matrix: OptimizeSerial for a single process, OptimizeMPI
// for the data-parallel variant driven over a collective.Comm group.
package rcg

import (
	"fmt"
	"io"
	"math"

	"github.com/golang/glog"

	"github.com/bobonovski/rcgmix/matrix"
	"github.com/bobonovski/rcgmix/numeric"
)

// OptimizeSerial runs the Riemannian conjugate gradient iteration on a
// single process. logl is the K×N matrix of log p(x_n | component k),
// logTimesObserved holds the N per-observation log-multiplicities, alpha0
// the K Dirichlet prior concentrations. boundConst is the caller-supplied
// prior-only ELBO constant (numeric.CalcBoundConst). verbose additionally
// logs the per-5-iteration progress line through glog; logStream always
// receives it in the "  iter: <k>, bound: <bound>, |g|: <newnorm>" format
// regardless of verbose.
//
// Returns an error if K or N is zero, if alpha0/logTimesObserved have the
// wrong length, or if a non-finite bound or gradient norm is produced at
// any iteration, rather than let NaN/Inf silently propagate into gamma.
func OptimizeSerial(logl *matrix.Log, logTimesObserved []float64, alpha0 []float64, boundConst float64, tol float64, maxiters int, verbose bool, logStream io.Writer) (*matrix.Log, error) {
	k, n := logl.Rows(), logl.Cols()
	if err := validateShapes(k, n, logTimesObserved, alpha0); err != nil {
		return nil, err
	}

	gamma, _ := matrix.Fill(k, n, -math.Log(float64(k)))
	step, _ := matrix.New(k, n)
	oldstep, _ := matrix.New(k, n)
	oldnorm := 1.0
	bound := -1e5
	didreset := false

	nk := make([]float64, k)
	numeric.UpdateNk(gamma, logTimesObserved, alpha0, nk)

	oldm := make([]float64, n)

	for iter := 0; iter < maxiters; iter++ {
		newnorm := numeric.MixtNegNatGrad(gamma, nk, logl, step)
		if math.IsNaN(newnorm) || math.IsInf(newnorm, 0) {
			return nil, fmt.Errorf("rcg: non-finite gradient norm at iteration %d", iter)
		}

		betaFR := newnorm / oldnorm
		oldnorm = newnorm

		if didreset {
			oldstep.Zero()
		} else if betaFR > 0 {
			oldstep.Scale(betaFR)
			step.Add(oldstep)
		}
		didreset = false

		gamma.Add(step)
		numeric.Logsumexp(gamma, oldm)
		numeric.UpdateNk(gamma, logTimesObserved, alpha0, nk)

		oldbound := bound
		var err error
		bound, err = evalBound(logl, gamma, logTimesObserved, alpha0, nk, boundConst)
		if err != nil {
			return nil, fmt.Errorf("rcg: %w at iteration %d", err, iter)
		}

		if bound < oldbound {
			didreset = true
			numeric.RevertStep(gamma, oldm)
			if betaFR > 0 {
				gamma.Sub(oldstep)
			}
			numeric.Logsumexp(gamma, oldm)
			numeric.UpdateNk(gamma, logTimesObserved, alpha0, nk)

			bound, err = evalBound(logl, gamma, logTimesObserved, alpha0, nk, boundConst)
			if err != nil {
				return nil, fmt.Errorf("rcg: %w at iteration %d (revert)", err, iter)
			}
		} else {
			oldstep.CopyFrom(step)
		}

		if iter%5 == 0 {
			logProgress(logStream, verbose, iter, bound, newnorm)
		}

		if bound-oldbound < tol && !didreset {
			numeric.Logsumexp(gamma, nil)
			return gamma, nil
		}
	}

	numeric.Logsumexp(gamma, nil)
	return gamma, nil
}

func evalBound(logl, gamma *matrix.Log, logTimesObserved, alpha0, nk []float64, boundConst float64) (float64, error) {
	bound := 0.0
	numeric.ELBORcgMat(logl, gamma, logTimesObserved, alpha0, nk, &bound)
	bound += boundConst
	if math.IsNaN(bound) || math.IsInf(bound, 0) {
		return 0, fmt.Errorf("non-finite bound")
	}
	return bound, nil
}

func logProgress(logStream io.Writer, verbose bool, iter int, bound, newnorm float64) {
	if logStream != nil {
		fmt.Fprintf(logStream, "  iter: %d, bound: %g, |g|: %g\n", iter, bound, newnorm)
	}
	if verbose {
		glog.Infof("iter: %d, bound: %g, |g|: %g", iter, bound, newnorm)
	}
}

func validateShapes(k, n uint32, logTimesObserved, alpha0 []float64) error {
	if k == 0 {
		return fmt.Errorf("rcg: logl has zero rows (K must be >= 1)")
	}
	if n == 0 {
		return fmt.Errorf("rcg: logl has zero columns (N must be >= 1)")
	}
	if uint32(len(logTimesObserved)) != n {
		return fmt.Errorf("rcg: log_times_observed has length %d, want %d", len(logTimesObserved), n)
	}
	if uint32(len(alpha0)) != k {
		return fmt.Errorf("rcg: alpha0 has length %d, want %d", len(alpha0), k)
	}
	for _, a := range alpha0 {
		if a <= 0 {
			return fmt.Errorf("rcg: alpha0 entries must be strictly positive, got %g", a)
		}
	}
	return nil
}

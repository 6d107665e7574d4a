package rcg

import (
	"fmt"
	"io"
	"math"

	"github.com/bobonovski/rcgmix/collective"
	"github.com/bobonovski/rcgmix/matrix"
	"github.com/bobonovski/rcgmix/numeric"
)

// OptimizeMPI runs the data-parallel Riemannian conjugate gradient
// iteration over a collective.Comm group. Only the rank at collective.Root
// needs loglFull and logTimesObservedFull populated; every rank must pass
// the same alpha0, tol and maxiters. The returned *matrix.Log is non-nil
// only at collective.Root; other ranks return (nil, nil) on success.
//
// The per-rank N_k contributions are all-reduced before adding alpha0, so
// every rank's psi(N_k) term uses the true global expected count rather
// than a slab-local partial; mixt_negnatgrad would otherwise compute a
// gradient against the wrong posterior. The row-wise logsumexp
// normalization runs purely locally per rank instead of through a
// gather/scatter/broadcast round trip, since each column lives on exactly
// one rank and no cross-rank information is needed to normalize it. N not
// divisible by Size() is handled by padding with zero-multiplicity
// (log_times_observed = -Inf) columns rather than left undefined.
func OptimizeMPI(comm collective.Comm, loglFull *matrix.Log, logTimesObservedFull []float64, alpha0 []float64, tol float64, maxiters int, logStream io.Writer) (*matrix.Log, error) {
	rank := comm.Rank()
	size := comm.Size()

	var numComponents, nFullInt int
	if rank == collective.Root {
		numComponents = int(loglFull.Rows())
		nFullInt = int(loglFull.Cols())
	}
	numComponents = comm.BcastInt(numComponents, collective.Root)
	nFullInt = comm.BcastInt(nFullInt, collective.Root)

	if numComponents == 0 {
		return nil, fmt.Errorf("rcg: logl has zero rows (K must be >= 1)")
	}
	if nFullInt == 0 {
		return nil, fmt.Errorf("rcg: logl has zero columns (N must be >= 1)")
	}
	if len(alpha0) != numComponents {
		return nil, fmt.Errorf("rcg: alpha0 has length %d, want %d", len(alpha0), numComponents)
	}
	for _, a := range alpha0 {
		if a <= 0 {
			return nil, fmt.Errorf("rcg: alpha0 entries must be strictly positive, got %g", a)
		}
	}

	numComponentsU := uint32(numComponents)
	nFull := uint32(nFullInt)
	n := nFull
	if n%uint32(size) != 0 {
		n = (n/uint32(size) + 1) * uint32(size)
	}
	w := n / uint32(size)

	var loglScatterBuf, logTimesScatterBuf []float64
	if rank == collective.Root {
		loglScatterBuf = buildLoglScatterBuffer(loglFull, numComponentsU, nFull, n, w, size)
		logTimesScatterBuf = buildLogTimesScatterBuffer(logTimesObservedFull, nFull, n)
	}

	logTimesSlab := make([]float64, w)
	comm.Scatter(logTimesScatterBuf, logTimesSlab, collective.Root)

	loglSlab, _ := matrix.New(numComponentsU, w)
	comm.Scatter(loglScatterBuf, loglSlab.Raw(), collective.Root)

	boundConst := 0.0
	if rank == collective.Root {
		boundConst = numeric.CalcBoundConst(logTimesObservedFull, alpha0)
	}
	boundConst = comm.BcastFloat64(boundConst, collective.Root)

	gamma, _ := matrix.Fill(numComponentsU, w, -math.Log(float64(numComponentsU)))
	step, _ := matrix.New(numComponentsU, w)
	oldstep, _ := matrix.New(numComponentsU, w)
	oldnorm := 1.0
	bound := -1e5
	didreset := false

	nkPartial := make([]float64, numComponentsU)
	nk := make([]float64, numComponentsU)
	gamma.ExpRightMultiply(logTimesSlab, nkPartial)
	comm.AllReduceSum(nkPartial, nk)
	numeric.AddAlpha0ToNk(alpha0, nk)

	oldmPartial := make([]float64, w)

	for iter := 0; iter < maxiters; iter++ {
		newnormPartial := numeric.MixtNegNatGrad(gamma, nk, loglSlab, step)
		newnorm := comm.AllReduceSumScalar(newnormPartial)
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
		numeric.Logsumexp(gamma, oldmPartial)

		gamma.ExpRightMultiply(logTimesSlab, nkPartial)
		comm.AllReduceSum(nkPartial, nk)
		numeric.AddAlpha0ToNk(alpha0, nk)

		oldbound := bound
		var err error
		bound, err = evalBoundMPI(comm, loglSlab, gamma, logTimesSlab, alpha0, nk, boundConst)
		if err != nil {
			return nil, fmt.Errorf("rcg: %w at iteration %d", err, iter)
		}

		if bound < oldbound {
			didreset = true
			numeric.RevertStep(gamma, oldmPartial)
			if betaFR > 0 {
				gamma.Sub(oldstep)
			}
			numeric.Logsumexp(gamma, oldmPartial)

			gamma.ExpRightMultiply(logTimesSlab, nkPartial)
			comm.AllReduceSum(nkPartial, nk)
			numeric.AddAlpha0ToNk(alpha0, nk)

			bound, err = evalBoundMPI(comm, loglSlab, gamma, logTimesSlab, alpha0, nk, boundConst)
			if err != nil {
				return nil, fmt.Errorf("rcg: %w at iteration %d (revert)", err, iter)
			}
		} else {
			oldstep.CopyFrom(step)
		}

		if rank == collective.Root && iter%5 == 0 {
			logProgress(logStream, true, iter, bound, newnorm)
		}

		if bound-oldbound < tol && !didreset {
			numeric.Logsumexp(gamma, nil)
			return finalizeGamma(comm, gamma, numComponentsU, w, size, nFull), nil
		}
	}

	numeric.Logsumexp(gamma, nil)
	return finalizeGamma(comm, gamma, numComponentsU, w, size, nFull), nil
}

func evalBoundMPI(comm collective.Comm, loglSlab, gamma *matrix.Log, logTimesSlab, alpha0, nk []float64, boundConst float64) (float64, error) {
	boundPartial := 0.0
	numeric.ELBORcgMat(loglSlab, gamma, logTimesSlab, alpha0, nk, &boundPartial)
	bound := comm.AllReduceSumScalar(boundPartial) + boundConst
	if math.IsNaN(bound) || math.IsInf(bound, 0) {
		return 0, fmt.Errorf("non-finite bound")
	}
	return bound, nil
}

// buildLoglScatterBuffer assembles, at collective.Root, the flat buffer
// collective.Comm.Scatter expects: size contiguous chunks of
// numComponents*w values, chunk r holding loglFull's columns
// [r*w, (r+1)*w) in row-major order — the slab rank r's call to
// matrix.Log.Raw() will end up holding. Columns at or beyond nFull are
// padding (see buildLogTimesScatterBuffer) and their logl value is left 0;
// the ELBO multiplies it by exp(-Inf) == 0, while MixtNegNatGrad still
// uses it in the padding columns' step and gradient norm.
func buildLoglScatterBuffer(loglFull *matrix.Log, numComponents, nFull, n, w uint32, size int) []float64 {
	buf := make([]float64, numComponents*w*uint32(size))
	for r := 0; r < size; r++ {
		start := uint32(r) * w
		base := uint32(r) * numComponents * w
		for row := uint32(0); row < numComponents; row++ {
			for c := uint32(0); c < w; c++ {
				col := start + c
				val := 0.0
				if col < nFull {
					val = loglFull.At(row, col)
				}
				buf[base+row*w+c] = val
			}
		}
	}
	return buf
}

// buildLogTimesScatterBuffer pads logTimesObservedFull (length nFull) up to
// length n with -Inf log-multiplicities: a padding column contributes
// exp(-Inf)=0 to every N_k and ELBO term it touches.
func buildLogTimesScatterBuffer(logTimesObservedFull []float64, nFull, n uint32) []float64 {
	buf := make([]float64, n)
	copy(buf, logTimesObservedFull)
	for i := nFull; i < n; i++ {
		buf[i] = math.Inf(-1)
	}
	return buf
}

// finalizeGamma gathers every rank's gamma slab to collective.Root,
// reassembles the K×n padded matrix, and trims the padding columns back
// off, returning the K×nFull result. Non-root ranks get nil.
func finalizeGamma(comm collective.Comm, gamma *matrix.Log, numComponents, w uint32, size int, nFull uint32) *matrix.Log {
	full := make([]float64, numComponents*w*uint32(size))
	comm.Gather(gamma.Raw(), full, collective.Root)
	if comm.Rank() != collective.Root {
		return nil
	}

	padded, _ := matrix.New(numComponents, w*uint32(size))
	for r := 0; r < size; r++ {
		start := uint32(r) * w
		base := uint32(r) * numComponents * w
		for row := uint32(0); row < numComponents; row++ {
			for c := uint32(0); c < w; c++ {
				padded.Set(row, start+c, full[base+row*w+c])
			}
		}
	}

	if w*uint32(size) == nFull {
		return padded
	}
	trimmed, _ := matrix.New(numComponents, nFull)
	for row := uint32(0); row < numComponents; row++ {
		for c := uint32(0); c < nFull; c++ {
			trimmed.Set(row, c, padded.At(row, c))
		}
	}
	return trimmed
}

package rcg

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bobonovski/rcgmix/collective"
	"github.com/bobonovski/rcgmix/matrix"
)

func buildEquivalenceData(t *testing.T, k, n uint32) (*matrix.Log, []float64, []float64) {
	logl, err := matrix.New(k, n)
	assert.NoError(t, err)
	// A deterministic, non-uniform surface: component k is favored more on
	// columns congruent to k mod K, so the optimizer has real work to do.
	for row := uint32(0); row < k; row++ {
		for col := uint32(0); col < n; col++ {
			base := -1.0 - float64((col+row)%k)
			if col%k == row {
				base = -0.05
			}
			logl.Set(row, col, base)
		}
	}
	logTimesObserved := make([]float64, n)
	for i := range logTimesObserved {
		logTimesObserved[i] = math.Log(1.0 + float64(i%3))
	}
	alpha0 := make([]float64, k)
	for i := range alpha0 {
		alpha0[i] = 1.5
	}
	return logl, logTimesObserved, alpha0
}

func runMPI(t *testing.T, p int, logl *matrix.Log, logTimesObserved, alpha0 []float64, tol float64, maxiters int) *matrix.Log {
	comms := collective.NewLocal(p)
	results := make([]*matrix.Log, p)
	errs := make([]error, p)

	var wg sync.WaitGroup
	for r := 0; r < p; r++ {
		wg.Add(1)
		go func(c collective.Comm) {
			defer wg.Done()
			var loglArg *matrix.Log
			var logTimesArg []float64
			if c.Rank() == collective.Root {
				loglArg = logl
				logTimesArg = logTimesObserved
			}
			g, err := OptimizeMPI(c, loglArg, logTimesArg, alpha0, tol, maxiters, nil)
			results[c.Rank()] = g
			errs[c.Rank()] = err
		}(comms[r])
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	return results[collective.Root]
}

func TestOptimizeMPIMatchesSerialForDivisibleN(t *testing.T) {
	k, n := uint32(3), uint32(6)
	logl, logTimesObserved, alpha0 := buildEquivalenceData(t, k, n)
	// boundConst is a constant additive offset cancelled out by every
	// "bound < oldbound" / "bound - oldbound < tol" comparison, so using 0
	// here instead of numeric.CalcBoundConst does not affect the gamma
	// trajectory being compared.
	boundConst := 0.0
	serialLogl := logl.Clone()
	serialGamma, err := OptimizeSerial(serialLogl, logTimesObserved, alpha0, boundConst, 1e-10, 2000, false, nil)
	assert.NoError(t, err)

	for _, p := range []int{1, 2, 3} {
		mpiGamma := runMPI(t, p, logl, logTimesObserved, alpha0, 1e-10, 2000)
		assert.NotNil(t, mpiGamma)
		assert.Equal(t, serialGamma.Rows(), mpiGamma.Rows())
		assert.Equal(t, serialGamma.Cols(), mpiGamma.Cols())
		for row := uint32(0); row < k; row++ {
			for col := uint32(0); col < n; col++ {
				assert.InDelta(t, serialGamma.At(row, col), mpiGamma.At(row, col), 1e-4,
					"p=%d row=%d col=%d", p, row, col)
			}
		}
	}
}

func TestOptimizeMPIHandlesNonDivisibleNViaPadding(t *testing.T) {
	k, n := uint32(2), uint32(5)
	logl, logTimesObserved, alpha0 := buildEquivalenceData(t, k, n)

	mpiGamma := runMPI(t, 3, logl, logTimesObserved, alpha0, 1e-10, 500)
	assert.NotNil(t, mpiGamma)
	assert.Equal(t, n, mpiGamma.Cols())

	for col := uint32(0); col < n; col++ {
		sum := 0.0
		for row := uint32(0); row < k; row++ {
			sum += math.Exp(mpiGamma.At(row, col))
		}
		assert.InDelta(t, 1.0, sum, 1e-6)
	}
}

func TestOptimizeMPINonRootReturnsNil(t *testing.T) {
	k, n := uint32(2), uint32(4)
	logl, logTimesObserved, alpha0 := buildEquivalenceData(t, k, n)

	comms := collective.NewLocal(2)
	var wg sync.WaitGroup
	results := make([]*matrix.Log, 2)
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func(c collective.Comm) {
			defer wg.Done()
			var loglArg *matrix.Log
			var logTimesArg []float64
			if c.Rank() == collective.Root {
				loglArg = logl
				logTimesArg = logTimesObserved
			}
			g, err := OptimizeMPI(c, loglArg, logTimesArg, alpha0, 1e-8, 100, nil)
			assert.NoError(t, err)
			results[c.Rank()] = g
		}(comms[r])
	}
	wg.Wait()

	assert.NotNil(t, results[collective.Root])
	assert.Nil(t, results[1])
}

func TestOptimizeMPIRejectsBadAlpha0(t *testing.T) {
	k, n := uint32(2), uint32(4)
	logl, logTimesObserved, _ := buildEquivalenceData(t, k, n)

	comms := collective.NewLocal(2)
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func(c collective.Comm) {
			defer wg.Done()
			var loglArg *matrix.Log
			var logTimesArg []float64
			if c.Rank() == collective.Root {
				loglArg = logl
				logTimesArg = logTimesObserved
			}
			_, err := OptimizeMPI(c, loglArg, logTimesArg, []float64{1, 1, 1}, 1e-8, 100, nil)
			errs[c.Rank()] = err
		}(comms[r])
	}
	wg.Wait()

	for _, err := range errs {
		assert.Error(t, err)
	}
}

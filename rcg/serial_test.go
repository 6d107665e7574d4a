package rcg

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bobonovski/rcgmix/matrix"
	"github.com/bobonovski/rcgmix/numeric"
)

func fixedLogl(t *testing.T) (*matrix.Log, []float64, []float64) {
	// K=3 components, N=6 observations, a small but non-degenerate
	// log-likelihood surface so components separate on some columns.
	logl, err := matrix.New(3, 6)
	assert.NoError(t, err)
	vals := [][]float64{
		{-0.1, -2.0, -3.0, -0.2, -1.5, -4.0},
		{-2.0, -0.1, -2.5, -3.0, -0.3, -1.0},
		{-3.0, -2.5, -0.1, -1.0, -2.0, -0.2},
	}
	for k := 0; k < 3; k++ {
		for n := 0; n < 6; n++ {
			logl.Set(uint32(k), uint32(n), vals[k][n])
		}
	}
	logTimesObserved := []float64{0, 0, 0, 0, 0, 0}
	alpha0 := []float64{1.0, 1.0, 1.0}
	return logl, logTimesObserved, alpha0
}

func TestOptimizeSerialColumnsAreNormalized(t *testing.T) {
	logl, logTimesObserved, alpha0 := fixedLogl(t)
	boundConst := numeric.CalcBoundConst(logTimesObserved, alpha0)

	var buf bytes.Buffer
	gamma, err := OptimizeSerial(logl, logTimesObserved, alpha0, boundConst, 1e-8, 5000, false, &buf)
	assert.NoError(t, err)

	for n := uint32(0); n < gamma.Cols(); n++ {
		sum := 0.0
		for k := uint32(0); k < gamma.Rows(); k++ {
			sum += math.Exp(gamma.At(k, n))
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
	assert.Contains(t, buf.String(), "iter: 0")
}

func TestOptimizeSerialNkAtLeastAlpha0(t *testing.T) {
	logl, logTimesObserved, alpha0 := fixedLogl(t)
	boundConst := numeric.CalcBoundConst(logTimesObserved, alpha0)

	gamma, err := OptimizeSerial(logl, logTimesObserved, alpha0, boundConst, 1e-8, 200, false, nil)
	assert.NoError(t, err)

	nk := make([]float64, gamma.Rows())
	numeric.UpdateNk(gamma, logTimesObserved, alpha0, nk)
	for k := range nk {
		assert.GreaterOrEqual(t, nk[k], alpha0[k])
	}
}

func TestOptimizeSerialKEqualsOneConvergesImmediately(t *testing.T) {
	logl, _ := matrix.New(1, 4)
	for n := uint32(0); n < 4; n++ {
		logl.Set(0, n, -1.23)
	}
	logTimesObserved := []float64{0, 0, 0, 0}
	alpha0 := []float64{2.0}
	boundConst := numeric.CalcBoundConst(logTimesObserved, alpha0)

	gamma, err := OptimizeSerial(logl, logTimesObserved, alpha0, boundConst, 1e-8, 5000, false, nil)
	assert.NoError(t, err)

	for n := uint32(0); n < 4; n++ {
		assert.InDelta(t, 0.0, gamma.At(0, n), 1e-12)
	}
}

func TestOptimizeSerialMaxitersZeroReturnsNormalizedInitial(t *testing.T) {
	logl, logTimesObserved, alpha0 := fixedLogl(t)
	boundConst := numeric.CalcBoundConst(logTimesObserved, alpha0)

	gamma, err := OptimizeSerial(logl, logTimesObserved, alpha0, boundConst, 1e-8, 0, false, nil)
	assert.NoError(t, err)

	for k := uint32(0); k < 3; k++ {
		for n := uint32(0); n < 6; n++ {
			assert.InDelta(t, -math.Log(3), gamma.At(k, n), 1e-12)
		}
	}
}

func TestOptimizeSerialLargeTolConvergesAtIterationZero(t *testing.T) {
	logl, logTimesObserved, alpha0 := fixedLogl(t)
	boundConst := numeric.CalcBoundConst(logTimesObserved, alpha0)

	gamma, err := OptimizeSerial(logl, logTimesObserved, alpha0, boundConst, 1e10, 5000, false, nil)
	assert.NoError(t, err)
	assert.Equal(t, uint32(3), gamma.Rows())
}

func TestOptimizeSerialRejectsBadShapes(t *testing.T) {
	logl, _ := matrix.New(2, 2)
	_, err := OptimizeSerial(logl, []float64{0, 0, 0}, []float64{1, 1}, 0, 1e-8, 10, false, nil)
	assert.Error(t, err)

	_, err = OptimizeSerial(logl, []float64{0, 0}, []float64{1, 1, 1}, 0, 1e-8, 10, false, nil)
	assert.Error(t, err)

	_, err = OptimizeSerial(logl, []float64{0, 0}, []float64{1, -1}, 0, 1e-8, 10, false, nil)
	assert.Error(t, err)
}

func TestOptimizeSerialShortRunWritesProgressLog(t *testing.T) {
	logl, logTimesObserved, alpha0 := fixedLogl(t)
	boundConst := numeric.CalcBoundConst(logTimesObserved, alpha0)

	var buf bytes.Buffer
	_, err := OptimizeSerial(logl, logTimesObserved, alpha0, boundConst, 1e-12, 50, false, &buf)
	assert.NoError(t, err)
	// Smoke check: the progress line is written every 5th iteration,
	// whether or not that iteration was reverted. The logged bounds are not
	// parsed, so the bound trajectory itself is not checked here.
	assert.NotEmpty(t, buf.String())
}

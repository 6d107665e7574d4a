package numeric

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/bobonovski/rcgmix/matrix"
)

// Logsumexp normalizes g in place, row-wise within each column, so that
// every column becomes a valid log-probability vector: for each column n,
//
//	m_n = max_k g[k,n]
//	s_n = m_n + ln sum_k exp(g[k,n] - m_n)
//	g[k,n] -= s_n
//
// If mOut is non-nil it must have length g.Cols() and receives m_n, which
// RevertStep later needs to undo the normalization.
func Logsumexp(g *matrix.Log, mOut []float64) {
	rows, cols := g.Rows(), g.Cols()
	if mOut != nil && uint32(len(mOut)) != cols {
		panic(matrix.ErrIndexOutOfRange)
	}

	col := make([]float64, rows)
	for n := uint32(0); n < cols; n++ {
		for k := uint32(0); k < rows; k++ {
			col[k] = g.At(k, n)
		}

		m := col[0]
		for _, v := range col[1:] {
			if v > m {
				m = v
			}
		}

		shifted := make([]float64, rows)
		for k, v := range col {
			shifted[k] = math.Exp(v - m)
		}
		s := m + math.Log(floats.Sum(shifted))

		for k := uint32(0); k < rows; k++ {
			g.Set(k, n, col[k]-s)
		}
		if mOut != nil {
			mOut[n] = m
		}
	}
}

// Package matrix provides the dense K×N log-space matrix used throughout
// rcgmix: mixture-component rows, observation columns, row-major storage.
package matrix

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrIndexOutOfRange is the value At/Set and the shape-checked
	// operations panic with on an out-of-range index or mismatched shape,
	// since that is a programmer error, not a data error.
	ErrIndexOutOfRange = errors.New("matrix: index out of range")
	// ErrBadShape is returned when rows or cols is non-positive.
	ErrBadShape = errors.New("matrix: non-positive dimension not allowed")
)

// Log is a dense K×N matrix of float64 values in log-space, stored
// row-major: the (i*ncol+j)-th entry of data is the [i,j]-th element.
type Log struct {
	nrow uint32
	ncol uint32
	data []float64
}

// New creates a Log matrix with r rows and c columns, all entries zero.
func New(r, c uint32) (*Log, error) {
	if r == 0 || c == 0 {
		return nil, ErrBadShape
	}
	return &Log{nrow: r, ncol: c, data: make([]float64, r*c)}, nil
}

// Fill creates a Log matrix with r rows and c columns, every entry set to val.
func Fill(r, c uint32, val float64) (*Log, error) {
	m, err := New(r, c)
	if err != nil {
		return nil, err
	}
	for i := range m.data {
		m.data[i] = val
	}
	return m, nil
}

// Rows returns the number of rows (mixture components, K).
func (m *Log) Rows() uint32 { return m.nrow }

// Cols returns the number of columns (observations, N).
func (m *Log) Cols() uint32 { return m.ncol }

// At returns the [r,c]-th element. Panics if r or c is out of range.
func (m *Log) At(r, c uint32) float64 {
	if r >= m.nrow || c >= m.ncol {
		panic(ErrIndexOutOfRange)
	}
	return m.data[r*m.ncol+c]
}

// Set assigns val to the [r,c]-th element. Panics if r or c is out of range.
func (m *Log) Set(r, c uint32, val float64) {
	if r >= m.nrow || c >= m.ncol {
		panic(ErrIndexOutOfRange)
	}
	m.data[r*m.ncol+c] = val
}

// Raw returns the underlying contiguous row-major storage, for use by
// collective-operations calls (scatter/gather operate on this slice
// directly rather than copying through At/Set).
func (m *Log) Raw() []float64 { return m.data }

// CopyFrom overwrites m's entries with other's, without reallocating m's
// backing storage. Panics on shape mismatch.
func (m *Log) CopyFrom(other *Log) {
	m.checkSameShape(other)
	copy(m.data, other.data)
}

// Clone returns a deep copy of m.
func (m *Log) Clone() *Log {
	out := &Log{nrow: m.nrow, ncol: m.ncol, data: make([]float64, len(m.data))}
	copy(out.data, m.data)
	return out
}

// Add performs m += other elementwise. Panics on shape mismatch.
func (m *Log) Add(other *Log) {
	m.checkSameShape(other)
	for i, v := range other.data {
		m.data[i] += v
	}
}

// Sub performs m -= other elementwise. Panics on shape mismatch.
func (m *Log) Sub(other *Log) {
	m.checkSameShape(other)
	for i, v := range other.data {
		m.data[i] -= v
	}
}

// Scale performs m *= c elementwise.
func (m *Log) Scale(c float64) {
	for i := range m.data {
		m.data[i] *= c
	}
}

// Zero sets every entry to 0.
func (m *Log) Zero() {
	for i := range m.data {
		m.data[i] = 0
	}
}

func (m *Log) checkSameShape(other *Log) {
	if m.nrow != other.nrow || m.ncol != other.ncol {
		panic(ErrIndexOutOfRange)
	}
}

// ExpRightMultiply computes out[k] = sum_n exp(M[k,n] + v[n]) for every row
// k, accumulating directly in float64 (inputs are bounded: columns of M are
// log-probabilities, so M[k,n] <= 0, and v is finite, so exp never
// overflows; it may underflow to 0, which is the correct contribution).
// v must have length Cols(); out must have length Rows().
func (m *Log) ExpRightMultiply(v []float64, out []float64) {
	if uint32(len(v)) != m.ncol {
		panic(ErrIndexOutOfRange)
	}
	if uint32(len(out)) != m.nrow {
		panic(ErrIndexOutOfRange)
	}
	for k := uint32(0); k < m.nrow; k++ {
		sum := 0.0
		base := k * m.ncol
		for n := uint32(0); n < m.ncol; n++ {
			sum += math.Exp(m.data[base+n] + v[n])
		}
		out[k] = sum
	}
}

// Dense returns a *gonum.org/v1/gonum/mat.Dense view over the same
// semantics (a copy, since mat.Dense owns its own backing slice) for
// interop with callers that already compute logl in gonum space.
func (m *Log) Dense() *mat.Dense {
	return mat.NewDense(int(m.nrow), int(m.ncol), append([]float64(nil), m.data...))
}

// FromDense builds a Log matrix from a *gonum.org/v1/gonum/mat.Dense.
func FromDense(d *mat.Dense) *Log {
	r, c := d.Dims()
	out := &Log{nrow: uint32(r), ncol: uint32(c), data: make([]float64, r*c)}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.data[i*c+j] = d.At(i, j)
		}
	}
	return out
}

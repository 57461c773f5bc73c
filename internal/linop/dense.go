package linop

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-linop/internal/device"
)

var _ Operator = (*MatrixMult)(nil)

// MatrixMult applies an explicit dense matrix.
type MatrixMult struct {
	rows, cols int
	data       []complex128 // row-major
	dtype      DType
	backend    device.Backend
}

// NewMatrixMult wraps a real matrix. The matrix is copied.
func NewMatrixMult(m mat.Matrix, dtype DType, backend device.Backend) (*MatrixMult, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil matrix", ErrInvalidBlock)
	}
	r, c := m.Dims()
	data := make([]complex128, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data[i*c+j] = complex(m.At(i, j), 0)
		}
	}
	return newMatrixMult(r, c, data, dtype, backend)
}

// NewCMatrixMult wraps a complex matrix. The matrix is copied.
func NewCMatrixMult(m mat.CMatrix, dtype DType, backend device.Backend) (*MatrixMult, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil matrix", ErrInvalidBlock)
	}
	r, c := m.Dims()
	data := make([]complex128, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data[i*c+j] = m.At(i, j)
		}
	}
	return newMatrixMult(r, c, data, dtype, backend)
}

func newMatrixMult(r, c int, data []complex128, dtype DType, backend device.Backend) (*MatrixMult, error) {
	if err := checkShape(r, c); err != nil {
		return nil, err
	}
	if !dtype.valid() {
		return nil, fmt.Errorf("%w: unknown dtype %v", ErrInvalidBlock, dtype)
	}
	if backend == nil {
		backend = device.Default()
	}
	return &MatrixMult{rows: r, cols: c, data: data, dtype: dtype, backend: backend}, nil
}

func (m *MatrixMult) Shape() (int, int) { return m.rows, m.cols }
func (m *MatrixMult) DType() DType      { return m.dtype }
func (m *MatrixMult) Explicit() bool    { return true }

func (m *MatrixMult) Forward(x []complex128) ([]complex128, error) {
	if err := checkLen("forward", len(x), m.cols); err != nil {
		return nil, err
	}
	y := m.backend.Zeros(m.rows)
	m.backend.Gemv(false, m.rows, m.cols, m.data, x, y)
	return y, nil
}

func (m *MatrixMult) Adjoint(y []complex128) ([]complex128, error) {
	if err := checkLen("adjoint", len(y), m.rows); err != nil {
		return nil, err
	}
	x := m.backend.Zeros(m.cols)
	m.backend.Gemv(true, m.rows, m.cols, m.data, y, x)
	return x, nil
}

// Matrix returns a copy of the wrapped matrix, or nil if it is empty.
func (m *MatrixMult) Matrix() *mat.CDense {
	if m.rows == 0 || m.cols == 0 {
		return nil
	}
	data := make([]complex128, len(m.data))
	copy(data, m.data)
	return mat.NewCDense(m.rows, m.cols, data)
}

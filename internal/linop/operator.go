// Package linop implements matrix-free linear operators: leaf operators
// (dense matrix, second derivative, 2-D Fourier transform) and the
// block-diagonal composite that evaluates independent blocks serially or on
// a worker pool.
//
// Every operator satisfies the adjoint identity <L u, v> = <u, L^H v>, which
// DotTest checks numerically.
package linop

import (
	"errors"
	"fmt"
)

var (
	ErrShapeMismatch      = errors.New("linop: shape mismatch")
	ErrInvalidShape       = errors.New("linop: invalid shape")
	ErrInvalidBlock       = errors.New("linop: invalid block")
	ErrInvalidParallelism = errors.New("linop: invalid parallelism")
	ErrPoolLifecycle      = errors.New("linop: worker pool lifecycle")
	ErrDotTest            = errors.New("linop: dot test failed")
)

// Operator is a linear map from a space of dimension cols to a space of
// dimension rows that is applied without materializing a matrix.
//
// Forward and Adjoint must not modify their input and must be safe to call
// concurrently.
type Operator interface {
	// Shape returns (rows, cols).
	Shape() (rows, cols int)

	// DType returns the element type of the operator.
	DType() DType

	// Explicit reports whether the operator is backed by a literal matrix.
	Explicit() bool

	// Forward computes y = L x. len(x) must equal cols; len(y) is rows.
	Forward(x []complex128) ([]complex128, error)

	// Adjoint computes x = L^H y. len(y) must equal rows; len(x) is cols.
	Adjoint(y []complex128) ([]complex128, error)
}

// complexLinear is implemented by operators that may be linear over the
// reals only, such as a Fourier transform restricted to real input.
type complexLinear interface {
	ComplexLinear() bool
}

// IsComplexLinear reports whether op is linear over the complex field.
// Operators that do not say otherwise are assumed to be.
func IsComplexLinear(op Operator) bool {
	if cl, ok := op.(complexLinear); ok {
		return cl.ComplexLinear()
	}
	return true
}

func checkLen(what string, got, want int) error {
	if got != want {
		return fmt.Errorf("%w: %s input has length %d, want %d", ErrShapeMismatch, what, got, want)
	}
	return nil
}

func checkShape(rows, cols int) error {
	if rows < 0 || cols < 0 {
		return fmt.Errorf("%w: (%d, %d)", ErrInvalidShape, rows, cols)
	}
	return nil
}

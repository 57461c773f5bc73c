package linop

import (
	"fmt"

	"github.com/23skdu/longbow-linop/internal/device"
)

var _ Operator = (*SecondDerivative)(nil)

// SecondDerivative applies a centered second-order second derivative along
// one axis of a row-major N-dimensional array:
//
//	y[i] = (x[i+1] - 2x[i] + x[i-1]) / dx²
//
// The first and last samples along the axis are zero unless edge is set,
// in which case a one-sided stencil is used there.
type SecondDerivative struct {
	n        int
	dims     []int
	dir      int
	sampling float64
	edge     bool
	dtype    DType
	backend  device.Backend
}

// DerivativeOption configures a SecondDerivative.
type DerivativeOption func(*SecondDerivative)

// WithDims sets the array dimensions; their product must equal n.
func WithDims(dims ...int) DerivativeOption {
	return func(d *SecondDerivative) { d.dims = append([]int(nil), dims...) }
}

// WithDir selects the axis to differentiate. Negative values count from the
// last axis.
func WithDir(dir int) DerivativeOption {
	return func(d *SecondDerivative) { d.dir = dir }
}

// WithSampling sets the sampling step dx.
func WithSampling(dx float64) DerivativeOption {
	return func(d *SecondDerivative) { d.sampling = dx }
}

// WithEdge enables the reduced-order stencil at both ends of the axis.
func WithEdge(edge bool) DerivativeOption {
	return func(d *SecondDerivative) { d.edge = edge }
}

// WithDerivativeDType sets the element type. Defaults to Float64.
func WithDerivativeDType(dtype DType) DerivativeOption {
	return func(d *SecondDerivative) { d.dtype = dtype }
}

// WithDerivativeBackend sets the array backend.
func WithDerivativeBackend(b device.Backend) DerivativeOption {
	return func(d *SecondDerivative) { d.backend = b }
}

// NewSecondDerivative creates an n x n second derivative operator.
func NewSecondDerivative(n int, opts ...DerivativeOption) (*SecondDerivative, error) {
	d := &SecondDerivative{
		n:        n,
		sampling: 1,
		dtype:    Float64,
	}
	for _, opt := range opts {
		opt(d)
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrInvalidShape, n)
	}
	if d.dims == nil {
		d.dims = []int{n}
	}
	prod := 1
	for _, v := range d.dims {
		if v < 0 {
			return nil, fmt.Errorf("%w: negative dimension in %v", ErrInvalidShape, d.dims)
		}
		prod *= v
	}
	if prod != n {
		return nil, fmt.Errorf("%w: product of dims %v must equal %d", ErrInvalidShape, d.dims, n)
	}
	if d.dir < 0 {
		d.dir += len(d.dims)
	}
	if d.dir < 0 || d.dir >= len(d.dims) {
		return nil, fmt.Errorf("%w: dir out of range for dims %v", ErrInvalidShape, d.dims)
	}
	if d.edge && n > 0 && d.dims[d.dir] < 3 {
		return nil, fmt.Errorf("%w: edge stencil needs at least 3 samples along dir, got %d", ErrInvalidShape, d.dims[d.dir])
	}
	if d.sampling == 0 {
		return nil, fmt.Errorf("%w: zero sampling", ErrInvalidShape)
	}
	if !d.dtype.valid() {
		return nil, fmt.Errorf("%w: unknown dtype %v", ErrInvalidShape, d.dtype)
	}
	if d.backend == nil {
		d.backend = device.Default()
	}
	return d, nil
}

func (d *SecondDerivative) Shape() (int, int) { return d.n, d.n }
func (d *SecondDerivative) DType() DType      { return d.dtype }
func (d *SecondDerivative) Explicit() bool    { return false }

// ComplexLinear is false for real element types, whose output drops the
// imaginary part.
func (d *SecondDerivative) ComplexLinear() bool { return d.dtype.IsComplex() }

func (d *SecondDerivative) Forward(x []complex128) ([]complex128, error) {
	if err := checkLen("forward", len(x), d.n); err != nil {
		return nil, err
	}
	y := d.backend.Zeros(d.n)
	if d.n == 0 {
		return y, nil
	}
	h := complex(1/(d.sampling*d.sampling), 0)
	d.eachSlab(func(base, stride, span int) {
		yi := y[base+stride : base+stride+span]
		d.backend.Axpy(h, x[base+2*stride:base+2*stride+span], yi)
		d.backend.Axpy(-2*h, x[base+stride:base+stride+span], yi)
		d.backend.Axpy(h, x[base:base+span], yi)
	})
	if d.edge {
		length := d.dims[d.dir]
		forEachLine(d.dims, d.dir, func(base, stride int) {
			at := func(i int) int { return base + i*stride }
			y[at(0)] = (x[at(0)] - 2*x[at(1)] + x[at(2)]) * h
			y[at(length-1)] = (x[at(length-3)] - 2*x[at(length-2)] + x[at(length-1)]) * h
		})
	}
	d.dtype.Cast(y)
	return y, nil
}

func (d *SecondDerivative) Adjoint(y []complex128) ([]complex128, error) {
	if err := checkLen("adjoint", len(y), d.n); err != nil {
		return nil, err
	}
	x := d.backend.Zeros(d.n)
	if d.n == 0 {
		return x, nil
	}
	h := complex(1/(d.sampling*d.sampling), 0)
	d.eachSlab(func(base, stride, span int) {
		yi := y[base+stride : base+stride+span]
		d.backend.Axpy(h, yi, x[base:base+span])
		d.backend.Axpy(-2*h, yi, x[base+stride:base+stride+span])
		d.backend.Axpy(h, yi, x[base+2*stride:base+2*stride+span])
	})
	if d.edge {
		length := d.dims[d.dir]
		forEachLine(d.dims, d.dir, func(base, stride int) {
			at := func(i int) int { return base + i*stride }
			v := y[at(0)] * h
			x[at(0)] += v
			x[at(1)] -= 2 * v
			x[at(2)] += v
			v = y[at(length-1)] * h
			x[at(length-3)] += v
			x[at(length-2)] -= 2 * v
			x[at(length-1)] += v
		})
	}
	d.dtype.Cast(x)
	return x, nil
}

// eachSlab calls fn once per index of the axes before dir. Along dir the
// array is then a contiguous block of length*stride elements, and shifting
// by stride moves one sample along dir for every trailing index at once, so
// the interior stencil rows 1 .. length-2 cover span = (length-2)*stride
// elements starting at base+stride.
func (d *SecondDerivative) eachSlab(fn func(base, stride, span int)) {
	outer, length, stride := axisLines(d.dims, d.dir)
	if length < 3 {
		return
	}
	span := (length - 2) * stride
	for o := 0; o < outer; o++ {
		fn(o*length*stride, stride, span)
	}
}

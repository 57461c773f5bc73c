package linop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecondDerivative_Parabola(t *testing.T) {
	x := []complex128{0, 1, 4, 9, 16}

	d, err := NewSecondDerivative(5)
	require.NoError(t, err)
	y, err := d.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []complex128{0, 2, 2, 2, 0}, y)

	d, err = NewSecondDerivative(5, WithEdge(true))
	require.NoError(t, err)
	y, err = d.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []complex128{2, 2, 2, 2, 2}, y)

	d, err = NewSecondDerivative(5, WithSampling(0.5))
	require.NoError(t, err)
	y, err = d.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []complex128{0, 8, 8, 8, 0}, y)
}

func TestSecondDerivative_Adjoint(t *testing.T) {
	// Transpose of the 4x4 stencil matrix with zero edge rows.
	d, err := NewSecondDerivative(4)
	require.NoError(t, err)
	x, err := d.Adjoint([]complex128{1, 1, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, []complex128{1, -1, -1, 1}, x)
}

func TestSecondDerivative_Axis(t *testing.T) {
	// dims (3, 4); x[i, j] = i² varies along axis 0 only.
	x := make([]complex128, 12)
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			x[i*4+j] = complex(float64(i*i), 0)
		}
	}

	d0, err := NewSecondDerivative(12, WithDims(3, 4), WithDir(0))
	require.NoError(t, err)
	y, err := d0.Forward(x)
	require.NoError(t, err)
	for j := 0; j < 4; j++ {
		assert.Equal(t, complex128(0), y[j])
		assert.Equal(t, complex128(2), y[4+j])
		assert.Equal(t, complex128(0), y[8+j])
	}

	// Constant along the last axis.
	d1, err := NewSecondDerivative(12, WithDims(3, 4), WithDir(-1), WithEdge(true))
	require.NoError(t, err)
	y, err = d1.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, make([]complex128, 12), y)
}

func TestSecondDerivative_DotTest(t *testing.T) {
	r := newRand(2)
	cases := []struct {
		name string
		n    int
		opts []DerivativeOption
	}{
		{"1d", 11, nil},
		{"1d-edge", 11, []DerivativeOption{WithEdge(true)}},
		{"2d-first", 20, []DerivativeOption{WithDims(4, 5), WithDir(0), WithSampling(0.3)}},
		{"2d-last-edge", 20, []DerivativeOption{WithDims(4, 5), WithDir(-1), WithEdge(true)}},
		{"3d-middle-edge", 60, []DerivativeOption{WithDims(3, 4, 5), WithDir(1), WithEdge(true)}},
		{"complex", 9, []DerivativeOption{WithDerivativeDType(Complex128), WithEdge(true)}},
		{"float32", 30, []DerivativeOption{WithDerivativeDType(Float32)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := NewSecondDerivative(tc.n, tc.opts...)
			require.NoError(t, err)
			flag := ComplexNone
			if d.DType().IsComplex() {
				flag = ComplexBoth
			}
			_, err = DotTest(d, DotTestConfig{Complex: flag, Rand: r})
			assert.NoError(t, err)
		})
	}
}

func TestSecondDerivative_RealDTypeIsRealLinear(t *testing.T) {
	d, err := NewSecondDerivative(10)
	require.NoError(t, err)
	assert.False(t, d.ComplexLinear())
	assert.False(t, IsComplexLinear(d))

	_, err = DotTest(d, DotTestConfig{Complex: ComplexBoth, Rand: newRand(3)})
	assert.NoError(t, err)

	c, err := NewSecondDerivative(10, WithDerivativeDType(Complex64))
	require.NoError(t, err)
	assert.True(t, c.ComplexLinear())
}

func TestSecondDerivative_CastsOutput(t *testing.T) {
	d, err := NewSecondDerivative(3, WithEdge(true))
	require.NoError(t, err)
	y, err := d.Forward([]complex128{1i, 2i, 4i})
	require.NoError(t, err)
	assert.Equal(t, []complex128{0, 0, 0}, y)

	d, err = NewSecondDerivative(3, WithDerivativeDType(Float32))
	require.NoError(t, err)
	y, err = d.Forward([]complex128{0, 0.1, 0})
	require.NoError(t, err)
	assert.Equal(t, complex(float64(float32(-0.2)), 0), y[1])
}

func TestSecondDerivative_Invalid(t *testing.T) {
	_, err := NewSecondDerivative(-1)
	assert.ErrorIs(t, err, ErrInvalidShape)

	_, err = NewSecondDerivative(12, WithDims(3, 5))
	assert.ErrorIs(t, err, ErrInvalidShape)

	_, err = NewSecondDerivative(12, WithDims(3, 4), WithDir(2))
	assert.ErrorIs(t, err, ErrInvalidShape)

	_, err = NewSecondDerivative(2, WithEdge(true))
	assert.ErrorIs(t, err, ErrInvalidShape)

	_, err = NewSecondDerivative(4, WithSampling(0))
	assert.ErrorIs(t, err, ErrInvalidShape)

	d, err := NewSecondDerivative(4)
	require.NoError(t, err)
	_, err = d.Forward(make([]complex128, 3))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestSecondDerivative_Empty(t *testing.T) {
	d, err := NewSecondDerivative(0)
	require.NoError(t, err)
	y, err := d.Forward(nil)
	require.NoError(t, err)
	assert.Empty(t, y)
}

func TestSecondDerivative_InteriorUsesAxpy(t *testing.T) {
	b := newCountingBackend()
	d, err := NewSecondDerivative(60, WithDims(3, 4, 5), WithDir(1), WithDerivativeBackend(b))
	require.NoError(t, err)

	x := make([]complex128, 60)
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			for k := 0; k < 5; k++ {
				x[i*20+j*5+k] = complex(float64(j*j+k), 0)
			}
		}
	}
	y, err := d.Forward(x)
	require.NoError(t, err)
	// Three shifted updates per index of the leading axis.
	assert.Equal(t, 9, b.axpys)
	for i := 0; i < 3; i++ {
		for k := 0; k < 5; k++ {
			assert.Equal(t, complex128(0), y[i*20+k])
			assert.Equal(t, complex128(2), y[i*20+5+k])
			assert.Equal(t, complex128(2), y[i*20+10+k])
			assert.Equal(t, complex128(0), y[i*20+15+k])
		}
	}

	_, err = d.Adjoint(y)
	require.NoError(t, err)
	assert.Equal(t, 18, b.axpys)

	short, err := NewSecondDerivative(4, WithDims(2, 2), WithDerivativeBackend(b))
	require.NoError(t, err)
	y, err = short.Forward([]complex128{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, make([]complex128, 4), y)
	assert.Equal(t, 18, b.axpys)
}

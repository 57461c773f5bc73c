package linop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDType(t *testing.T) {
	for in, want := range map[string]DType{
		"float64":    Float64,
		"F32":        Float32,
		"complex64":  Complex64,
		" c128 ":     Complex128,
		"":           Float64,
		"complex128": Complex128,
	} {
		got, err := ParseDType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDType("int8")
	assert.Error(t, err)
}

func TestPromoteDTypes(t *testing.T) {
	assert.Equal(t, Float64, PromoteDTypes())
	assert.Equal(t, Float32, PromoteDTypes(Float32, Float32))
	assert.Equal(t, Float64, PromoteDTypes(Float32, Float64))
	assert.Equal(t, Complex64, PromoteDTypes(Float32, Complex64))
	assert.Equal(t, Complex128, PromoteDTypes(Float64, Complex64))
	assert.Equal(t, Complex128, PromoteDTypes(Complex128))
}

func TestDTypeCast(t *testing.T) {
	x := []complex128{complex(0.1, 0.2)}

	v := append([]complex128(nil), x...)
	Float64.Cast(v)
	assert.Equal(t, complex(0.1, 0), v[0])

	v = append([]complex128(nil), x...)
	Float32.Cast(v)
	assert.Equal(t, complex(float64(float32(0.1)), 0), v[0])

	v = append([]complex128(nil), x...)
	Complex64.Cast(v)
	assert.Equal(t, complex(float64(float32(0.1)), float64(float32(0.2))), v[0])

	v = append([]complex128(nil), x...)
	Complex128.Cast(v)
	assert.Equal(t, x, v)
}

func TestDTypeConversions(t *testing.T) {
	assert.Equal(t, Complex64, Float32.Complex())
	assert.Equal(t, Float64, Complex128.Real())
	assert.True(t, Complex64.IsComplex())
	assert.False(t, Float64.IsComplex())
	assert.Greater(t, Float32.Eps(), Float64.Eps())
	assert.Equal(t, "complex64", Complex64.String())
}

package linop

import (
	"fmt"
	"strings"
)

// DType tags the element type an operator works in.
type DType int

const (
	Float64 DType = iota
	Float32
	Complex128
	Complex64
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Complex64:
		return "complex64"
	case Complex128:
		return "complex128"
	}
	return fmt.Sprintf("DType(%d)", int(d))
}

// ParseDType maps a name such as "float32" or "complex128" to a DType.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float32", "f32":
		return Float32, nil
	case "float64", "f64", "":
		return Float64, nil
	case "complex64", "c64":
		return Complex64, nil
	case "complex128", "c128":
		return Complex128, nil
	}
	return 0, fmt.Errorf("unknown dtype %q", s)
}

func (d DType) valid() bool {
	return d >= Float64 && d <= Complex64
}

// IsComplex reports whether d is a complex type.
func (d DType) IsComplex() bool {
	return d == Complex64 || d == Complex128
}

// Is32 reports whether d has single precision components.
func (d DType) Is32() bool {
	return d == Float32 || d == Complex64
}

// Complex returns the complex type with the same precision as d.
func (d DType) Complex() DType {
	if d.Is32() {
		return Complex64
	}
	return Complex128
}

// Real returns the real type with the same precision as d.
func (d DType) Real() DType {
	if d.Is32() {
		return Float32
	}
	return Float64
}

// Eps returns the machine epsilon of the component type.
func (d DType) Eps() float64 {
	if d.Is32() {
		return 1.1920929e-07
	}
	return 2.220446049250313e-16
}

// PromoteDTypes returns the smallest type that can represent every input:
// any complex input makes the result complex, any double precision input
// makes it double precision. With no inputs it returns Float64.
func PromoteDTypes(ds ...DType) DType {
	if len(ds) == 0 {
		return Float64
	}
	cplx, double := false, false
	for _, d := range ds {
		cplx = cplx || d.IsComplex()
		double = double || !d.Is32()
	}
	switch {
	case cplx && double:
		return Complex128
	case cplx:
		return Complex64
	case double:
		return Float64
	}
	return Float32
}

// Cast rounds x in place to values representable in d. Real types drop the
// imaginary part; single precision types round each component to float32.
func (d DType) Cast(x []complex128) {
	switch d {
	case Float64:
		for i, v := range x {
			x[i] = complex(real(v), 0)
		}
	case Float32:
		for i, v := range x {
			x[i] = complex(float64(float32(real(v))), 0)
		}
	case Complex64:
		for i, v := range x {
			x[i] = complex(float64(float32(real(v))), float64(float32(imag(v))))
		}
	}
}

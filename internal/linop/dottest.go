package linop

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand/v2"

	"github.com/23skdu/longbow-linop/internal/device"
)

// ComplexFlag selects which of the random dot-test vectors are complex.
type ComplexFlag int

const (
	ComplexNone  ComplexFlag = iota // real model and data
	ComplexData                     // complex data vector v
	ComplexModel                    // complex model vector u
	ComplexBoth
)

// DotTestConfig configures DotTest. The zero value uses real vectors, the
// default tolerance and a fixed seed.
type DotTestConfig struct {
	Complex ComplexFlag
	// Tol is the accepted normalized error; 0 selects
	// 100 * eps(dtype) * (rows + cols).
	Tol     float64
	Rand    *rand.Rand
	Backend device.Backend
}

// DotTestResult reports the two sides of the adjoint identity.
type DotTestResult struct {
	ForwardDot complex128 // <L u, v>
	AdjointDot complex128 // <u, L^H v>
	Err        float64
	Tol        float64
}

// DotTest checks <L u, v> = <u, L^H v> for random u and v. The error is
// |a - b| normalized by the mean of ||L u|| ||v|| and ||u|| ||L^H v||.
// For operators that are only real-linear the real parts are compared.
func DotTest(op Operator, cfg DotTestConfig) (DotTestResult, error) {
	rows, cols := op.Shape()
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(10, 10))
	}
	if cfg.Backend == nil {
		cfg.Backend = device.Default()
	}
	res := DotTestResult{Tol: cfg.Tol}
	if res.Tol == 0 {
		res.Tol = 100 * op.DType().Eps() * float64(rows+cols)
	}

	u := randomVector(cfg.Rand, cols, cfg.Complex == ComplexModel || cfg.Complex == ComplexBoth)
	v := randomVector(cfg.Rand, rows, cfg.Complex == ComplexData || cfg.Complex == ComplexBoth)

	y, err := op.Forward(u)
	if err != nil {
		return res, fmt.Errorf("dot test forward: %w", err)
	}
	x, err := op.Adjoint(v)
	if err != nil {
		return res, fmt.Errorf("dot test adjoint: %w", err)
	}

	b := cfg.Backend
	res.ForwardDot = b.Dotc(y, v)
	res.AdjointDot = b.Dotc(u, x)

	diff := cmplx.Abs(res.ForwardDot - res.AdjointDot)
	if !IsComplexLinear(op) {
		diff = math.Abs(real(res.ForwardDot) - real(res.AdjointDot))
	}
	scale := 0.5 * (b.Nrm2(y)*b.Nrm2(v) + b.Nrm2(u)*b.Nrm2(x))
	res.Err = diff
	if scale > 0 {
		res.Err = diff / scale
	}
	if math.IsNaN(res.Err) || res.Err > res.Tol {
		return res, fmt.Errorf("%w: <Lu,v>=%v <u,L^Hv>=%v err=%.3g tol=%.3g",
			ErrDotTest, res.ForwardDot, res.AdjointDot, res.Err, res.Tol)
	}
	return res, nil
}

func randomVector(r *rand.Rand, n int, cplx bool) []complex128 {
	v := make([]complex128, n)
	for i := range v {
		if cplx {
			v[i] = complex(r.NormFloat64(), r.NormFloat64())
		} else {
			v[i] = complex(r.NormFloat64(), 0)
		}
	}
	return v
}

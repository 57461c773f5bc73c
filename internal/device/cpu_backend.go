package device

import (
	"log"
	"sync"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/cblas128"
)

// ensure interface compliance
var _ Backend = (*CPUBackend)(nil)

// CPUBackend keeps vectors in host memory and delegates arithmetic to the
// registered cblas128 implementation (pure Go gonum unless netlib is
// registered by the cgo build).
type CPUBackend struct {
	pool sync.Pool
}

func NewCPUBackend() *CPUBackend {
	return &CPUBackend{
		pool: sync.Pool{
			New: func() interface{} {
				return new([]complex128)
			},
		},
	}
}

func (b *CPUBackend) Name() string {
	return "CPU"
}

func (b *CPUBackend) Zeros(n int) []complex128 {
	return make([]complex128, n)
}

func (b *CPUBackend) GetVector(n int) []complex128 {
	p := b.pool.Get().(*[]complex128)
	if cap(*p) < n {
		poolMisses.Inc()
		return make([]complex128, n)
	}
	poolHits.Inc()
	v := (*p)[:n]
	clear(v)
	return v
}

func (b *CPUBackend) PutVector(v []complex128) {
	if cap(v) == 0 {
		return
	}
	v = v[:0]
	b.pool.Put(&v)
}

func (b *CPUBackend) Slice(x []complex128, lo, hi int) []complex128 {
	if lo < 0 || hi > len(x) || lo > hi {
		log.Panicf("Slice: bounds [%d:%d] out of range for length %d", lo, hi, len(x))
	}
	out := make([]complex128, hi-lo)
	copy(out, x[lo:hi])
	return out
}

func (b *CPUBackend) Concat(segs ...[]complex128) []complex128 {
	n := 0
	for _, s := range segs {
		n += len(s)
	}
	out := make([]complex128, 0, n)
	for _, s := range segs {
		out = append(out, s...)
	}
	return out
}

func (b *CPUBackend) Scale(alpha complex128, x []complex128) {
	if len(x) == 0 {
		return
	}
	cblas128.Scal(alpha, vec(x))
}

func (b *CPUBackend) Axpy(alpha complex128, x, y []complex128) {
	if len(x) != len(y) {
		log.Panicf("Axpy: length mismatch. x: %d, y: %d", len(x), len(y))
	}
	if len(x) == 0 {
		return
	}
	cblas128.Axpy(alpha, vec(x), vec(y))
}

func (b *CPUBackend) Dotc(x, y []complex128) complex128 {
	if len(x) != len(y) {
		log.Panicf("Dotc: length mismatch. x: %d, y: %d", len(x), len(y))
	}
	if len(x) == 0 {
		return 0
	}
	return cblas128.Dotc(vec(x), vec(y))
}

func (b *CPUBackend) Nrm2(x []complex128) float64 {
	if len(x) == 0 {
		return 0
	}
	return cblas128.Nrm2(vec(x))
}

func (b *CPUBackend) Gemv(conjTrans bool, rows, cols int, a, x, y []complex128) {
	if len(a) != rows*cols {
		log.Panicf("Gemv: matrix data length %d does not match %dx%d", len(a), rows, cols)
	}
	t := blas.NoTrans
	xn, yn := cols, rows
	if conjTrans {
		t = blas.ConjTrans
		xn, yn = rows, cols
	}
	if len(x) != xn || len(y) != yn {
		log.Panicf("Gemv: vector length mismatch. x: %d (want %d), y: %d (want %d)", len(x), xn, len(y), yn)
	}
	if rows == 0 || cols == 0 {
		// BLAS rejects zero strides; the product is empty or all zeros.
		clear(y)
		return
	}
	g := cblas128.General{Rows: rows, Cols: cols, Stride: cols, Data: a}
	cblas128.Gemv(t, 1, g, vec(x), 0, vec(y))
}

func vec(x []complex128) cblas128.Vector {
	return cblas128.Vector{N: len(x), Inc: 1, Data: x}
}

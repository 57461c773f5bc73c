package linop

import (
	"math/cmplx"
	"math/rand/v2"
	"sync"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-linop/internal/device"
)

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed+1))
}

func randDense(r *rand.Rand, rows, cols int) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = r.NormFloat64()
	}
	return mat.NewDense(rows, cols, data)
}

func randCDense(r *rand.Rand, rows, cols int) *mat.CDense {
	data := make([]complex128, rows*cols)
	for i := range data {
		data[i] = complex(r.NormFloat64(), r.NormFloat64())
	}
	return mat.NewCDense(rows, cols, data)
}

func randVec(r *rand.Rand, n int, cplx bool) []complex128 {
	return randomVector(r, n, cplx)
}

func assertAllClose(t *testing.T, want, got []complex128, tol float64) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("length mismatch: want %d, got %d", len(want), len(got))
	}
	for i := range want {
		if d := cmplx.Abs(want[i] - got[i]); d > tol*(1+cmplx.Abs(want[i])) {
			t.Fatalf("element %d: want %v, got %v (diff %.3g)", i, want[i], got[i], d)
		}
	}
}

// countingBackend records scratch traffic and Axpy calls on top of a
// CPU backend.
type countingBackend struct {
	device.Backend
	mu       sync.Mutex
	gets     int
	puts     int
	axpys    int
	borrowed map[*complex128]bool
}

func newCountingBackend() *countingBackend {
	return &countingBackend{Backend: device.NewCPUBackend(), borrowed: map[*complex128]bool{}}
}

func (b *countingBackend) GetVector(n int) []complex128 {
	v := b.Backend.GetVector(n)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gets++
	if cap(v) > 0 {
		b.borrowed[&v[:1][0]] = true
	}
	return v
}

func (b *countingBackend) PutVector(v []complex128) {
	b.mu.Lock()
	b.puts++
	b.mu.Unlock()
	b.Backend.PutVector(v)
}

func (b *countingBackend) Axpy(alpha complex128, x, y []complex128) {
	b.mu.Lock()
	b.axpys++
	b.mu.Unlock()
	b.Backend.Axpy(alpha, x, y)
}

// isScratch reports whether v starts at a vector handed out by GetVector.
func (b *countingBackend) isScratch(v []complex128) bool {
	if len(v) == 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.borrowed[&v[0]]
}

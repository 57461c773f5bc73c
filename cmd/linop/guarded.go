package main

import (
	"sync"

	"github.com/23skdu/longbow-linop/internal/linop"
)

var _ linop.Operator = (*guardedOperator)(nil)

// guardedOperator lets HTTP and Flight handlers apply one BlockDiag
// concurrently while parallelism changes wait for in-flight applications.
type guardedOperator struct {
	mu sync.RWMutex
	bd *linop.BlockDiag
}

func newGuardedOperator(bd *linop.BlockDiag) *guardedOperator {
	return &guardedOperator{bd: bd}
}

func (g *guardedOperator) Shape() (int, int)   { return g.bd.Shape() }
func (g *guardedOperator) DType() linop.DType  { return g.bd.DType() }
func (g *guardedOperator) Explicit() bool      { return false }
func (g *guardedOperator) ComplexLinear() bool { return g.bd.ComplexLinear() }

func (g *guardedOperator) Forward(x []complex128) ([]complex128, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.bd.Forward(x)
}

func (g *guardedOperator) Adjoint(y []complex128) ([]complex128, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.bd.Adjoint(y)
}

func (g *guardedOperator) Parallelism() int {
	return g.bd.Parallelism()
}

func (g *guardedOperator) SetParallelism(n int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bd.SetParallelism(n)
}

// offsets returns the block boundaries of an output in the given mode.
func (g *guardedOperator) offsets(adjoint bool) []int {
	if adjoint {
		return g.bd.ColOffsets()
	}
	return g.bd.RowOffsets()
}

func (g *guardedOperator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bd.Close()
}

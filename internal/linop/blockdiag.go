package linop

import (
	"fmt"
	"sync"
	"time"

	"github.com/23skdu/longbow-linop/internal/device"
	"github.com/23skdu/longbow-linop/internal/workerpool"
)

var _ Operator = (*BlockDiag)(nil)

// BlockDiag is a block-diagonal operator built from N independent blocks.
// Block i maps x[colOffsets[i]:colOffsets[i+1]] to
// y[rowOffsets[i]:rowOffsets[i+1]] in forward mode and the other way round
// in adjoint mode.
//
// With parallelism 1 the blocks are evaluated in a loop; above 1 each block
// is a unit of work on a worker pool owned by this BlockDiag. Results are
// identical in both modes. SetParallelism must not be called concurrently
// with Forward or Adjoint.
type BlockDiag struct {
	ops        []Operator
	rowOffsets []int
	colOffsets []int
	dtype      DType
	backend    device.Backend

	mu    sync.Mutex
	nproc int
	pool  *workerpool.Pool
}

// Option configures a BlockDiag.
type Option func(*blockDiagConfig)

type blockDiagConfig struct {
	nproc    int
	dtype    DType
	hasDType bool
	backend  device.Backend
}

// WithParallelism sets the number of workers used to evaluate blocks.
// 1 (the default) evaluates serially.
func WithParallelism(n int) Option {
	return func(c *blockDiagConfig) { c.nproc = n }
}

// WithDType overrides the promoted element type of the blocks.
func WithDType(dtype DType) Option {
	return func(c *blockDiagConfig) {
		c.dtype = dtype
		c.hasDType = true
	}
}

// WithBackend sets the array backend used for slicing, concatenation and
// for wrapping raw matrices.
func WithBackend(b device.Backend) Option {
	return func(c *blockDiagConfig) { c.backend = b }
}

// NewBlockDiag builds a block-diagonal operator. Raw matrix blocks are
// wrapped into MatrixMult operators before offsets are computed. With a
// parallelism above 1 the worker pool is started immediately.
func NewBlockDiag(blocks []Block, opts ...Option) (*BlockDiag, error) {
	cfg := blockDiagConfig{nproc: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.nproc < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidParallelism, cfg.nproc)
	}
	if cfg.hasDType && !cfg.dtype.valid() {
		return nil, fmt.Errorf("%w: unknown dtype %v", ErrInvalidBlock, cfg.dtype)
	}
	if cfg.backend == nil {
		cfg.backend = device.Default()
	}

	ops := make([]Operator, len(blocks))
	for i, b := range blocks {
		op, err := b.adapt(cfg.backend)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		ops[i] = op
	}

	bd := &BlockDiag{
		ops:        ops,
		rowOffsets: make([]int, len(ops)+1),
		colOffsets: make([]int, len(ops)+1),
		backend:    cfg.backend,
		nproc:      1,
	}
	dtypes := make([]DType, len(ops))
	for i, op := range ops {
		r, c := op.Shape()
		bd.rowOffsets[i+1] = bd.rowOffsets[i] + r
		bd.colOffsets[i+1] = bd.colOffsets[i] + c
		dtypes[i] = op.DType()
	}
	bd.dtype = PromoteDTypes(dtypes...)
	if cfg.hasDType {
		bd.dtype = cfg.dtype
	}

	if err := bd.SetParallelism(cfg.nproc); err != nil {
		return nil, err
	}
	return bd, nil
}

func (bd *BlockDiag) Shape() (int, int) {
	n := len(bd.ops)
	return bd.rowOffsets[n], bd.colOffsets[n]
}

func (bd *BlockDiag) DType() DType   { return bd.dtype }
func (bd *BlockDiag) Explicit() bool { return false }

// ComplexLinear reports whether every block is linear over the complex
// field. A real composite dtype discards imaginary parts of the output and
// is never complex-linear.
func (bd *BlockDiag) ComplexLinear() bool {
	if !bd.dtype.IsComplex() {
		return false
	}
	for _, op := range bd.ops {
		if !IsComplexLinear(op) {
			return false
		}
	}
	return true
}

// Blocks returns the operators on the diagonal, in order. Raw matrix blocks
// appear as their MatrixMult wrappers.
func (bd *BlockDiag) Blocks() []Operator {
	return append([]Operator(nil), bd.ops...)
}

// RowOffsets returns the N+1 cumulative row counts.
func (bd *BlockDiag) RowOffsets() []int {
	return append([]int(nil), bd.rowOffsets...)
}

// ColOffsets returns the N+1 cumulative column counts.
func (bd *BlockDiag) ColOffsets() []int {
	return append([]int(nil), bd.colOffsets...)
}

// Parallelism returns the current number of workers (1 means serial).
func (bd *BlockDiag) Parallelism() int {
	bd.mu.Lock()
	defer bd.mu.Unlock()
	return bd.nproc
}

// SetParallelism changes the number of workers. Any existing pool is shut
// down after its queued work completes, and a new pool of n workers is
// started when n > 1. If the new pool cannot be started the BlockDiag is
// left as it was.
func (bd *BlockDiag) SetParallelism(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidParallelism, n)
	}
	bd.mu.Lock()
	defer bd.mu.Unlock()

	var next *workerpool.Pool
	if n > 1 {
		p, err := workerpool.New(n)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPoolLifecycle, err)
		}
		next = p
	}
	if bd.pool != nil {
		if err := bd.pool.Close(); err != nil {
			if next != nil {
				_ = next.Close()
			}
			return fmt.Errorf("%w: %w", ErrPoolLifecycle, err)
		}
	}
	bd.pool = next
	bd.nproc = n
	return nil
}

// Close shuts down the worker pool, if any. The parallelism setting is
// kept; a later parallel evaluation starts a new pool.
func (bd *BlockDiag) Close() error {
	bd.mu.Lock()
	defer bd.mu.Unlock()
	if bd.pool == nil {
		return nil
	}
	err := bd.pool.Close()
	bd.pool = nil
	return err
}

// Live returns the number of running pool workers.
func (bd *BlockDiag) Live() int {
	bd.mu.Lock()
	defer bd.mu.Unlock()
	if bd.pool == nil {
		return 0
	}
	return bd.pool.Live()
}

// acquirePool returns the pool to evaluate on, or nil in serial mode.
func (bd *BlockDiag) acquirePool() (*workerpool.Pool, error) {
	bd.mu.Lock()
	defer bd.mu.Unlock()
	if bd.nproc == 1 {
		return nil, nil
	}
	if bd.pool == nil {
		p, err := workerpool.New(bd.nproc)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPoolLifecycle, err)
		}
		bd.pool = p
	}
	return bd.pool, nil
}

func (bd *BlockDiag) Forward(x []complex128) ([]complex128, error) {
	_, cols := bd.Shape()
	if err := checkLen("forward", len(x), cols); err != nil {
		return nil, err
	}
	return bd.apply("forward", x, bd.colOffsets, bd.rowOffsets, Operator.Forward)
}

func (bd *BlockDiag) Adjoint(y []complex128) ([]complex128, error) {
	rows, _ := bd.Shape()
	if err := checkLen("adjoint", len(y), rows); err != nil {
		return nil, err
	}
	return bd.apply("adjoint", y, bd.rowOffsets, bd.colOffsets, Operator.Adjoint)
}

type applyFunc func(op Operator, v []complex128) ([]complex128, error)

// apply slices in at the input offsets, applies each block and concatenates
// the segments in block order.
func (bd *BlockDiag) apply(mode string, in []complex128, inOffsets, outOffsets []int, fn applyFunc) ([]complex128, error) {
	pool, err := bd.acquirePool()
	if err != nil {
		return nil, err
	}
	exec := "serial"
	if pool != nil {
		exec = "parallel"
	}
	start := time.Now()
	defer func() {
		applyDuration.WithLabelValues(mode, exec).Observe(time.Since(start).Seconds())
	}()

	unit := func(i int) ([]complex128, error) {
		seg, err := fn(bd.ops[i], bd.backend.Slice(in, inOffsets[i], inOffsets[i+1]))
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		if want := outOffsets[i+1] - outOffsets[i]; len(seg) != want {
			return nil, fmt.Errorf("%w: block %d %s output has length %d, want %d", ErrShapeMismatch, i, mode, len(seg), want)
		}
		return seg, nil
	}

	var segs [][]complex128
	if pool == nil {
		segs = make([][]complex128, len(bd.ops))
		for i := range bd.ops {
			if segs[i], err = unit(i); err != nil {
				appliesTotal.WithLabelValues(mode, exec, "failed").Inc()
				return nil, err
			}
		}
	} else {
		if segs, err = workerpool.Map(pool, len(bd.ops), unit); err != nil {
			appliesTotal.WithLabelValues(mode, exec, "failed").Inc()
			return nil, err
		}
	}

	out := bd.backend.Concat(segs...)
	bd.dtype.Cast(out)
	appliesTotal.WithLabelValues(mode, exec, "ok").Inc()
	return out, nil
}

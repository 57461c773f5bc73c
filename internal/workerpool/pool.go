// Package workerpool provides a fixed-size pool of long-lived workers with
// an order-preserving, synchronous Map.
package workerpool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// MaxWorkers bounds the size of a single pool.
const MaxWorkers = 4096

var (
	ErrInvalidSize  = errors.New("workerpool: invalid pool size")
	ErrPoolClosed   = errors.New("workerpool: pool is closed")
	ErrWorkerFailed = errors.New("workerpool: worker failed")
)

// Pool runs submitted units of work on a fixed set of workers.
// A Pool is safe for concurrent use.
type Pool struct {
	size  int
	tasks chan func()
	group errgroup.Group
	live  atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// New starts a pool of size workers.
func New(size int) (*Pool, error) {
	if size < 1 || size > MaxWorkers {
		return nil, fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidSize, size, MaxWorkers)
	}

	p := &Pool{
		size:  size,
		tasks: make(chan func()),
	}
	for w := 0; w < size; w++ {
		p.live.Add(1)
		p.group.Go(p.work)
	}
	workersGauge.Add(float64(size))
	log.Debug().Int("workers", size).Msg("Worker pool started")
	return p, nil
}

func (p *Pool) work() error {
	defer func() {
		p.live.Add(-1)
		workersGauge.Dec()
	}()
	for task := range p.tasks {
		task()
	}
	return nil
}

// Size returns the number of workers the pool was started with.
func (p *Pool) Size() int {
	return p.size
}

// Live returns the number of workers that have not exited yet.
func (p *Pool) Live() int {
	return int(p.live.Load())
}

// Close stops accepting work, lets queued units finish and waits for every
// worker to exit. Calling Close more than once is a no-op.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	err := p.group.Wait()
	log.Debug().Int("workers", p.size).Msg("Worker pool stopped")
	return err
}

// Map runs fn(0) .. fn(n-1) on the pool and blocks until every call has
// returned. Results are in index order regardless of completion order.
// If any call fails or panics, Map returns the error of the lowest failing
// index and no results.
func Map[T any](p *Pool, n int, fn func(i int) (T, error)) ([]T, error) {
	results := make([]T, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrPoolClosed
	}
	for i := 0; i < n; i++ {
		wg.Add(1)
		p.tasks <- func() {
			defer wg.Done()
			start := time.Now()
			results[i], errs[i] = run(i, fn)
			taskDuration.Observe(time.Since(start).Seconds())
		}
	}
	p.mu.RUnlock()
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			tasksTotal.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("unit %d: %w", i, err)
		}
	}
	tasksTotal.WithLabelValues("ok").Add(float64(n))
	return results, nil
}

func run[T any](i int, fn func(i int) (T, error)) (res T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrWorkerFailed, r)
		}
	}()
	res, err = fn(i)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrWorkerFailed, err)
	}
	return res, err
}

package workerpool

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidSize(t *testing.T) {
	for _, size := range []int{-1, 0, MaxWorkers + 1} {
		p, err := New(size)
		assert.Nil(t, p)
		assert.ErrorIs(t, err, ErrInvalidSize, "size %d", size)
	}
}

func TestMap_PreservesOrder(t *testing.T) {
	p, err := New(4)
	require.NoError(t, err)
	defer p.Close()

	// Later indices finish first.
	n := 8
	out, err := Map(p, n, func(i int) (int, error) {
		time.Sleep(time.Duration(n-i) * time.Millisecond)
		return i * i, nil
	})
	require.NoError(t, err)
	for i, v := range out {
		assert.Equal(t, i*i, v)
	}
}

func TestMap_BoundedConcurrency(t *testing.T) {
	p, err := New(2)
	require.NoError(t, err)
	defer p.Close()

	var running, peak atomic.Int64
	_, err = Map(p, 10, func(i int) (struct{}, error) {
		cur := running.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
		return struct{}{}, nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestMap_ErrorFailsWholeCall(t *testing.T) {
	p, err := New(3)
	require.NoError(t, err)
	defer p.Close()

	boom := errors.New("boom")
	out, err := Map(p, 5, func(i int) (int, error) {
		if i == 1 || i == 3 {
			return 0, boom
		}
		return i, nil
	})
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrWorkerFailed)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "unit 1")
}

func TestMap_PanicIsRecovered(t *testing.T) {
	p, err := New(2)
	require.NoError(t, err)
	defer p.Close()

	out, err := Map(p, 3, func(i int) (int, error) {
		if i == 2 {
			panic("kaboom")
		}
		return i, nil
	})
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrWorkerFailed)

	// The pool is still usable after a panic.
	out, err = Map(p, 3, func(i int) (int, error) { return i, nil })
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, out)
	assert.Equal(t, 2, p.Live())
}

func TestClose(t *testing.T) {
	p, err := New(4)
	require.NoError(t, err)
	assert.Equal(t, 4, p.Size())
	assert.Equal(t, 4, p.Live())

	require.NoError(t, p.Close())
	assert.Equal(t, 0, p.Live())

	// Idempotent
	require.NoError(t, p.Close())

	_, err = Map(p, 1, func(i int) (int, error) { return i, nil })
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestMap_Empty(t *testing.T) {
	p, err := New(1)
	require.NoError(t, err)
	defer p.Close()

	out, err := Map(p, 0, func(i int) (int, error) { return i, nil })
	require.NoError(t, err)
	assert.Empty(t, out)
}

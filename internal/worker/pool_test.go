package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsAllUnits(t *testing.T) {
	pool, _ := NewPool(context.Background(), 4)

	var ran int64
	for i := 0; i < 20; i++ {
		pool.Go(func(ctx context.Context) error {
			atomic.AddInt64(&ran, 1)
			return nil
		})
	}
	require.NoError(t, pool.Wait())
	assert.Equal(t, int64(20), atomic.LoadInt64(&ran))
	assert.Equal(t, int64(20), pool.Metrics().Completed)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool, _ := NewPool(context.Background(), 2)

	var active, peak int64
	for i := 0; i < 10; i++ {
		pool.Go(func(ctx context.Context) error {
			cur := atomic.AddInt64(&active, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&active, -1)
			return nil
		})
	}
	require.NoError(t, pool.Wait())
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
}

func TestPoolCancelsSiblingsOnFirstError(t *testing.T) {
	pool, poolCtx := NewPool(context.Background(), 2)

	boom := errors.New("loader exploded")
	pool.Go(func(ctx context.Context) error {
		return boom
	})
	pool.Go(func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
			return errors.New("sibling was not cancelled")
		}
	})

	err := pool.Wait()
	require.ErrorIs(t, err, boom)
	assert.Error(t, poolCtx.Err())
}

func TestPoolRunsUnitsQueuedBehindFailure(t *testing.T) {
	// A unit that gets its slot only after a sibling failed still runs, so
	// callers can rely on its side effects; it sees the cancelled context.
	pool, _ := NewPool(context.Background(), 1)

	boom := errors.New("first unit failed")
	var ran int64
	pool.Go(func(ctx context.Context) error {
		return boom
	})
	pool.Go(func(ctx context.Context) error {
		atomic.AddInt64(&ran, 1)
		return ctx.Err()
	})

	err := pool.Wait()
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), atomic.LoadInt64(&ran))
}

func TestPoolRecoversPanics(t *testing.T) {
	pool, _ := NewPool(context.Background(), 1)

	pool.Go(func(ctx context.Context) error {
		panic("bad loader")
	})

	err := pool.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker panic")
	assert.Equal(t, int64(1), pool.Metrics().Panics)
}

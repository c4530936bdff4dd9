// Package worker provides the bounded concurrency primitive used for
// parallel kind loading: dispatch independent units, join on completion,
// cancel all siblings when any unit fails.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// PoolMetrics tracks pool operational counters.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// Pool runs units of work with bounded concurrency. The first unit to fail
// cancels the pool context; queued and in-flight units observe the
// cancellation through the context passed to them. There is no
// partial-success mode: Wait returns the first error.
type Pool struct {
	eg      *errgroup.Group
	ctx     context.Context
	metrics PoolMetrics
}

// NewPool creates a pool with the given max concurrency, derived from the
// parent context. The returned context is cancelled when any unit fails.
func NewPool(ctx context.Context, size int) (*Pool, context.Context) {
	if size <= 0 {
		size = 1
	}
	eg, poolCtx := errgroup.WithContext(ctx)
	eg.SetLimit(size)
	return &Pool{eg: eg, ctx: poolCtx}, poolCtx
}

// Go dispatches a unit of work. It blocks while the pool is at capacity.
// Every dispatched unit runs, even after a sibling has failed: the unit
// observes the cancellation through the pool context and is responsible
// for returning promptly, which lets callers rely on side effects the unit
// guarantees (such as posting a result). Panics inside a unit are
// recovered and surfaced as unit failures so one bad loader cannot take
// down the whole generation run.
func (p *Pool) Go(fn func(ctx context.Context) error) {
	p.eg.Go(func() (err error) {
		atomic.AddInt64(&p.metrics.Active, 1)
		defer func() {
			atomic.AddInt64(&p.metrics.Active, -1)
			if r := recover(); r != nil {
				atomic.AddInt64(&p.metrics.Panics, 1)
				atomic.AddInt64(&p.metrics.Failed, 1)
				err = fmt.Errorf("worker panic: %v", r)
			}
		}()

		if err := fn(p.ctx); err != nil {
			atomic.AddInt64(&p.metrics.Failed, 1)
			return err
		}
		atomic.AddInt64(&p.metrics.Completed, 1)
		return nil
	})
}

// Wait blocks until all dispatched units finish and returns the first
// error, if any.
func (p *Pool) Wait() error {
	return p.eg.Wait()
}

// Metrics returns a snapshot of the current pool metrics.
func (p *Pool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    atomic.LoadInt64(&p.metrics.Active),
		Completed: atomic.LoadInt64(&p.metrics.Completed),
		Failed:    atomic.LoadInt64(&p.metrics.Failed),
		Panics:    atomic.LoadInt64(&p.metrics.Panics),
	}
}

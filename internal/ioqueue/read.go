package ioqueue

import (
	"golang.org/x/sync/errgroup"
)

// ReadFunc serves one read.
type ReadFunc[T, R any] func(item T) (R, error)

// ReadQueue dispatches up to workers pending reads per tick. Reads beyond
// that wait for the next tick.
type ReadQueue[T, R any] struct {
	d    *dispatcher[T, R]
	fifo *fifo[T, R]
}

// NewReadQueue returns a queue running at most workers reads at once.
func NewReadQueue[T, R any](workers int, fn ReadFunc[T, R], opts ...Option) *ReadQueue[T, R] {
	if workers <= 0 {
		workers = 1
	}
	o := buildOptions(opts)
	o.maxBatch = workers
	batch := func(items []T) ([]R, []error, error) {
		out := make([]R, len(items))
		errs := make([]error, len(items))
		var g errgroup.Group
		for i := range items {
			i := i
			g.Go(func() error {
				out[i], errs[i] = fn(items[i])
				return nil
			})
		}
		_ = g.Wait()
		return out, errs, nil
	}
	f := &fifo[T, R]{}
	return &ReadQueue[T, R]{d: newDispatcher[T, R](batch, f, o), fifo: f}
}

// Enqueue submits a read.
func (q *ReadQueue[T, R]) Enqueue(item T) <-chan Result[R] {
	return q.d.enqueue(item, q.fifo.push)
}

func (q *ReadQueue[T, R]) Close()          { q.d.close() }
func (q *ReadQueue[T, R]) Batches() uint64 { return q.d.batches.Load() }

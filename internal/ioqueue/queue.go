package ioqueue

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rzbill/logsrd/pkg/id"
)

// ErrClosed is returned for requests enqueued after Close.
var ErrClosed = errors.New("ioqueue: closed")

// Result resolves one request.
type Result[R any] struct {
	Seq   uint64
	Value R
	Err   error
}

// BatchFunc processes a batch. It returns either one result per item, in
// order, or an error that rejects the whole batch.
type BatchFunc[T, R any] func(items []T) ([]R, error)

type request[T, R any] struct {
	seq  uint64
	item T
	done chan Result[R]
}

func (r *request[T, R]) resolve(v R, err error) {
	r.done <- Result[R]{Seq: r.seq, Value: v, Err: err}
	close(r.done)
}

// backlog stores pending requests. Implementations are used under the
// dispatcher's lock.
type backlog[T, R any] interface {
	take(max int) []*request[T, R]
	size() int
}

// batchFunc is the dispatcher's view of a batch: per-item errors plus an
// error rejecting the whole batch.
type batchFunc[T, R any] func(items []T) ([]R, []error, error)

// Option configures a queue.
type Option func(*options)

type options struct {
	seq      *id.Sequence
	maxBatch int
}

// WithSequence injects the sequence generator shared by related queues.
func WithSequence(s *id.Sequence) Option { return func(o *options) { o.seq = s } }

// WithMaxBatch caps the number of requests per batch. Zero means no cap.
func WithMaxBatch(n int) Option { return func(o *options) { o.maxBatch = n } }

func buildOptions(opts []Option) options {
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.seq == nil {
		o.seq = id.NewSequence()
	}
	return o
}

// dispatcher runs the single-flight work loop over a backlog.
type dispatcher[T, R any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pending  backlog[T, R]
	inflight bool
	paused   int
	closed   bool

	fn       batchFunc[T, R]
	seq      *id.Sequence
	maxBatch int
	batches  atomic.Uint64
}

func newDispatcher[T, R any](fn batchFunc[T, R], b backlog[T, R], o options) *dispatcher[T, R] {
	d := &dispatcher[T, R]{pending: b, fn: fn, seq: o.seq, maxBatch: o.maxBatch}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *dispatcher[T, R]) enqueue(item T, push func(*request[T, R])) <-chan Result[R] {
	r := &request[T, R]{seq: d.seq.Next(), item: item, done: make(chan Result[R], 1)}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		var zero R
		r.resolve(zero, ErrClosed)
		return r.done
	}
	push(r)
	d.kickLocked()
	d.mu.Unlock()
	return r.done
}

// kickLocked starts the work loop if it is not running.
func (d *dispatcher[T, R]) kickLocked() {
	if d.inflight || d.paused > 0 || d.pending.size() == 0 {
		return
	}
	d.inflight = true
	go d.loop()
}

func (d *dispatcher[T, R]) loop() {
	for {
		d.mu.Lock()
		if d.paused > 0 || d.pending.size() == 0 {
			d.inflight = false
			d.cond.Broadcast()
			d.mu.Unlock()
			return
		}
		batch := d.pending.take(d.maxBatch)
		d.mu.Unlock()

		d.batches.Add(1)
		d.run(batch)
	}
}

func (d *dispatcher[T, R]) run(batch []*request[T, R]) {
	items := make([]T, len(batch))
	for i, r := range batch {
		items[i] = r.item
	}
	results, errs, err := d.call(items)
	if err == nil && len(results) != len(batch) {
		err = fmt.Errorf("ioqueue: batch of %d returned %d results", len(batch), len(results))
	}
	var zero R
	for i, r := range batch {
		switch {
		case err != nil:
			r.resolve(zero, err)
		case errs != nil && errs[i] != nil:
			r.resolve(zero, errs[i])
		default:
			r.resolve(results[i], nil)
		}
	}
}

func (d *dispatcher[T, R]) call(items []T) (results []R, errs []error, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("ioqueue: batch panicked: %v", p)
		}
	}()
	return d.fn(items)
}

func wholeBatch[T, R any](fn BatchFunc[T, R]) batchFunc[T, R] {
	return func(items []T) ([]R, []error, error) {
		out, err := fn(items)
		return out, nil, err
	}
}

// pause blocks new batches and waits for the in-flight one.
func (d *dispatcher[T, R]) pause() {
	d.mu.Lock()
	d.paused++
	for d.inflight {
		d.cond.Wait()
	}
	d.mu.Unlock()
}

func (d *dispatcher[T, R]) resume() {
	d.mu.Lock()
	if d.paused > 0 {
		d.paused--
	}
	d.kickLocked()
	d.mu.Unlock()
}

// idle waits until no batch is in flight and nothing is pending, or the
// queue is paused.
func (d *dispatcher[T, R]) idle() {
	d.mu.Lock()
	for d.inflight || (d.paused == 0 && d.pending.size() > 0) {
		d.cond.Wait()
	}
	d.mu.Unlock()
}

// close rejects later requests and drains what is already queued.
func (d *dispatcher[T, R]) close() {
	d.mu.Lock()
	d.closed = true
	d.paused = 0
	d.kickLocked()
	for d.inflight {
		d.cond.Wait()
	}
	d.mu.Unlock()
}

// WriteQueue is a FIFO single-flight batching queue.
type WriteQueue[T, R any] struct {
	d    *dispatcher[T, R]
	fifo *fifo[T, R]
}

// NewWriteQueue returns a queue that hands batches to fn.
func NewWriteQueue[T, R any](fn BatchFunc[T, R], opts ...Option) *WriteQueue[T, R] {
	f := &fifo[T, R]{}
	return &WriteQueue[T, R]{d: newDispatcher[T, R](wholeBatch(fn), f, buildOptions(opts)), fifo: f}
}

// Enqueue submits item. The returned channel receives exactly one result.
func (q *WriteQueue[T, R]) Enqueue(item T) <-chan Result[R] {
	return q.d.enqueue(item, q.fifo.push)
}

// Pause stops dispatching and waits for the in-flight batch to finish.
// Calls nest; each must be matched by Resume.
func (q *WriteQueue[T, R]) Pause() { q.d.pause() }

// Resume undoes one Pause.
func (q *WriteQueue[T, R]) Resume() { q.d.resume() }

// Idle waits until the queue has drained.
func (q *WriteQueue[T, R]) Idle() { q.d.idle() }

// Close drains queued requests and rejects later ones with ErrClosed.
func (q *WriteQueue[T, R]) Close() { q.d.close() }

// Batches returns how many batches have been dispatched.
func (q *WriteQueue[T, R]) Batches() uint64 { return q.d.batches.Load() }

// Pending returns the number of queued requests not yet in a batch.
func (q *WriteQueue[T, R]) Pending() int {
	q.d.mu.Lock()
	defer q.d.mu.Unlock()
	return q.d.pending.size()
}

type fifo[T, R any] struct {
	items []*request[T, R]
}

func (f *fifo[T, R]) push(r *request[T, R]) { f.items = append(f.items, r) }
func (f *fifo[T, R]) size() int             { return len(f.items) }

func (f *fifo[T, R]) take(max int) []*request[T, R] {
	if max <= 0 || max >= len(f.items) {
		out := f.items
		f.items = nil
		return out
	}
	out := append([]*request[T, R](nil), f.items[:max]...)
	f.items = append(f.items[:0:0], f.items[max:]...)
	return out
}

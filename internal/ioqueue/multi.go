package ioqueue

// MultiQueue keeps one pending queue per key and builds each batch by merging
// them in sequence order.
type MultiQueue[K comparable, T, R any] struct {
	d    *dispatcher[T, R]
	keys *keyed[K, T, R]
}

// NewMultiQueue returns a keyed queue that hands merged batches to fn.
func NewMultiQueue[K comparable, T, R any](fn BatchFunc[T, R], opts ...Option) *MultiQueue[K, T, R] {
	k := &keyed[K, T, R]{queues: make(map[K][]*request[T, R])}
	return &MultiQueue[K, T, R]{d: newDispatcher[T, R](wholeBatch(fn), k, buildOptions(opts)), keys: k}
}

// Enqueue submits item under key.
func (q *MultiQueue[K, T, R]) Enqueue(key K, item T) <-chan Result[R] {
	return q.d.enqueue(item, func(r *request[T, R]) { q.keys.pushKey(key, r) })
}

// PendingFor returns the number of queued requests for key.
func (q *MultiQueue[K, T, R]) PendingFor(key K) int {
	q.d.mu.Lock()
	defer q.d.mu.Unlock()
	return len(q.keys.queues[key])
}

func (q *MultiQueue[K, T, R]) Pause()          { q.d.pause() }
func (q *MultiQueue[K, T, R]) Resume()         { q.d.resume() }
func (q *MultiQueue[K, T, R]) Idle()           { q.d.idle() }
func (q *MultiQueue[K, T, R]) Close()          { q.d.close() }
func (q *MultiQueue[K, T, R]) Batches() uint64 { return q.d.batches.Load() }

type keyed[K comparable, T, R any] struct {
	queues map[K][]*request[T, R]
	n      int
}

func (k *keyed[K, T, R]) pushKey(key K, r *request[T, R]) {
	k.queues[key] = append(k.queues[key], r)
	k.n++
}

func (k *keyed[K, T, R]) size() int { return k.n }

// take repeatedly pops the lowest sequence number among the queue heads.
func (k *keyed[K, T, R]) take(max int) []*request[T, R] {
	if max <= 0 || max > k.n {
		max = k.n
	}
	out := make([]*request[T, R], 0, max)
	for len(out) < max {
		var (
			best    K
			bestSeq uint64
			found   bool
		)
		for key, q := range k.queues {
			if s := q[0].seq; !found || s < bestSeq {
				best, bestSeq, found = key, s, true
			}
		}
		q := k.queues[best]
		out = append(out, q[0])
		if len(q) == 1 {
			delete(k.queues, best)
		} else {
			k.queues[best] = q[1:]
		}
	}
	k.n -= len(out)
	return out
}

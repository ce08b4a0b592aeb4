// Package ioqueue schedules file IO for persisted logs.
//
// A WriteQueue keeps at most one batch in flight. Requests that arrive while a
// batch is being written accumulate in the pending queue; when the batch
// completes the whole pending queue is swapped out and becomes the next batch.
// Every request gets a one-shot result channel back from Enqueue.
//
// A MultiQueue does the same over one pending queue per key, merging them by
// the sequence number each request received at creation.
//
// A ReadQueue dispatches up to N pending reads in parallel per tick.
//
//	q := ioqueue.NewWriteQueue(func(items []op) ([]res, error) { ... })
//	r := <-q.Enqueue(op{...})
//	if r.Err != nil { ... }
package ioqueue

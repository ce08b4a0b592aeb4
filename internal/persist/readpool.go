package persist

import (
	"context"
	"os"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/semaphore"
)

// readPool hands out read-only handles, opening at most max of them.
type readPool struct {
	path func() string
	sem  *semaphore.Weighted

	mu   sync.Mutex
	free []*os.File
	gen  uint64
}

func newReadPool(path func() string, max int) *readPool {
	return &readPool{path: path, sem: semaphore.NewWeighted(int64(max))}
}

type handle struct {
	f   *os.File
	gen uint64
}

// acquire checks out a handle, opening one if none is free.
func (p *readPool) acquire(ctx context.Context) (handle, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return handle{}, err
	}
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		f := p.free[n-1]
		p.free = p.free[:n-1]
		gen := p.gen
		p.mu.Unlock()
		return handle{f: f, gen: gen}, nil
	}
	gen := p.gen
	p.mu.Unlock()
	f, err := os.Open(p.path())
	if err != nil {
		p.sem.Release(1)
		return handle{}, err
	}
	return handle{f: f, gen: gen}, nil
}

// release returns h to the pool. Handles from before a reset are closed.
func (p *readPool) release(h handle) {
	p.mu.Lock()
	if h.gen == p.gen {
		p.free = append(p.free, h.f)
		h.f = nil
	}
	p.mu.Unlock()
	if h.f != nil {
		_ = h.f.Close()
	}
	p.sem.Release(1)
}

// reset closes idle handles; checked-out ones are closed on release.
func (p *readPool) reset() error {
	p.mu.Lock()
	free := p.free
	p.free = nil
	p.gen++
	p.mu.Unlock()
	var result *multierror.Error
	for _, f := range free {
		if err := f.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

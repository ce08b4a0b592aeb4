package store

import (
	"sync"
	"time"

	"github.com/rzbill/logsrd/internal/catalog"
	"github.com/rzbill/logsrd/internal/entry"
	"github.com/rzbill/logsrd/internal/persist"
	"github.com/rzbill/logsrd/pkg/id"
)

// logState is the in-memory bookkeeping for one log.
type logState struct {
	id id.LogID

	mu         sync.Mutex
	next       uint32
	hotPending int // hot writes submitted and not yet resolved
	stopped    error
	lastWrite  time.Time
	residence  catalog.Residence
	dirty      bool
}

func newLogState(logID id.LogID, next uint32, residence catalog.Residence) *logState {
	return &logState{id: logID, next: next, residence: residence}
}

// write builds the hot-log write for p. The entry number is assigned when the
// batch carrying the write runs, and given back if that batch fails.
func (st *logState) write(p entry.Payload) *persist.Write {
	return st.build(p, func(num uint32, p entry.Payload) entry.Frame {
		return entry.NewGlobalLogEntry(st.id, num, p)
	})
}

// perLogWrite builds a write for the log's own file.
func (st *logState) perLogWrite(p entry.Payload) *persist.Write {
	return st.build(p, func(num uint32, p entry.Payload) entry.Frame {
		return entry.NewLogLogEntry(num, p)
	})
}

func (st *logState) build(p entry.Payload, frame func(uint32, entry.Payload) entry.Frame) *persist.Write {
	var consumed bool
	_, isCmd := p.(*entry.Command)
	return &persist.Write{
		Key: st.id,
		Build: func() []entry.Frame {
			st.mu.Lock()
			defer st.mu.Unlock()
			num := st.next
			if !isCmd {
				st.next++
				consumed = true
			}
			return []entry.Frame{frame(num, p)}
		},
		Abort: func() {
			if !consumed {
				return
			}
			st.mu.Lock()
			st.next--
			consumed = false
			st.mu.Unlock()
		},
	}
}

// route decides under st.mu whether the next append goes to the hot log, and
// if so marks a hot write pending. shared reports whether any global log
// holds entries of the log.
func (st *logState) route(hasOwnFile bool, shared func() bool) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !hasOwnFile || st.hotPending > 0 || shared() {
		st.hotPending++
		return true
	}
	return false
}

func (st *logState) hotDone() {
	st.mu.Lock()
	st.hotPending--
	st.mu.Unlock()
}

func (st *logState) stop(err error) {
	st.mu.Lock()
	if st.stopped == nil {
		st.stopped = err
	}
	st.mu.Unlock()
}

func (st *logState) err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.stopped
}

func (st *logState) touch(now time.Time) {
	st.mu.Lock()
	st.lastWrite = now
	st.dirty = true
	st.mu.Unlock()
}

func (st *logState) setResidence(r catalog.Residence) {
	st.mu.Lock()
	if st.residence != r {
		st.residence = r
		st.dirty = true
	}
	st.mu.Unlock()
}

func (st *logState) snapshot() (time.Time, catalog.Residence, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastWrite, st.residence, st.dirty
}

func (st *logState) clean() {
	st.mu.Lock()
	st.dirty = false
	st.mu.Unlock()
}

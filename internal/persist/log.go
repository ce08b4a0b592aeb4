package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/rzbill/logsrd/internal/index"
	"github.com/rzbill/logsrd/internal/ioqueue"
	"github.com/rzbill/logsrd/pkg/id"
	logpkg "github.com/rzbill/logsrd/pkg/log"
)

// Log is one append-only file.
type Log struct {
	kind    Kind
	opts    Options
	logger  logpkg.Logger
	metrics MetricsHook
	writeFn WriteFunc

	mu         sync.Mutex // guards everything below plus file-level changes
	path       string
	wf         *os.File
	byteLength int64
	lastConfig int64
	failed     error
	inited     bool

	global *index.GlobalIndex
	local  *index.LogIndex

	pool    *readPool
	writes  writeQueue
	enqueue func(*Write) <-chan ioqueue.Result[Written]
	reads   *ioqueue.ReadQueue[span, []byte]
}

// writeQueue is the batching queue behind a Log. Global files merge one
// queue per log in sequence order; a per-log file has a single FIFO.
type writeQueue interface {
	Pause()
	Resume()
	Idle()
	Close()
	Batches() uint64
}

// New returns a Log for opts.Path. Call Init before use.
func New(opts Options, seq *id.Sequence) *Log {
	if opts.ReadHandles <= 0 {
		opts.ReadHandles = opts.Kind.DefaultReadHandles()
	}
	l := &Log{
		kind:    opts.Kind,
		opts:    opts,
		path:    opts.Path,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		writeFn: opts.WriteFunc,
	}
	if l.logger == nil {
		l.logger = logpkg.NewNopLogger()
	}
	l.logger = l.logger.With(logpkg.Str("file", filepath.Base(opts.Path)))
	if l.metrics == nil {
		l.metrics = NoopMetrics{}
	}
	if l.writeFn == nil {
		l.writeFn = vectoredWrite
	}
	if opts.Kind == PerLog {
		l.local = index.NewLogIndex()
	} else {
		l.global = index.NewGlobalIndex()
	}
	if seq == nil {
		seq = id.NewSequence()
	}
	l.pool = newReadPool(l.Path, opts.ReadHandles)
	qopts := []ioqueue.Option{ioqueue.WithSequence(seq), ioqueue.WithMaxBatch(opts.MaxBatch)}
	if opts.Kind == PerLog {
		q := ioqueue.NewWriteQueue[*Write, Written](l.writeBatch, qopts...)
		l.writes, l.enqueue = q, q.Enqueue
	} else {
		q := ioqueue.NewMultiQueue[id.LogID, *Write, Written](l.writeBatch, qopts...)
		l.writes = q
		l.enqueue = func(w *Write) <-chan ioqueue.Result[Written] { return q.Enqueue(w.Key, w) }
	}
	l.reads = ioqueue.NewReadQueue(opts.ReadHandles, l.readSpan, ioqueue.WithSequence(seq))
	return l
}

// Open builds a Log and runs Init.
func Open(ctx context.Context, opts Options, seq *id.Sequence) (*Log, error) {
	l := New(opts, seq)
	if err := l.Init(ctx); err != nil {
		_ = l.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) Kind() Kind { return l.kind }

// Path returns the current file path.
func (l *Log) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// ByteLength is the offset the next write starts at.
func (l *Log) ByteLength() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byteLength
}

// Failed returns the error that stopped the log, if any.
func (l *Log) Failed() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failed
}

// GlobalIndex returns the index of a Global log, nil otherwise.
func (l *Log) GlobalIndex() *index.GlobalIndex { return l.global }

// LogIndex returns the index of a PerLog file, nil otherwise.
func (l *Log) LogIndex() *index.LogIndex { return l.local }

// Section returns the index of logID's entries in this file. For a PerLog
// file the logID is ignored.
func (l *Log) Section(logID id.LogID) (*index.LogIndex, bool) {
	if l.local != nil {
		return l.local, true
	}
	return l.global.Get(logID)
}

// Pause blocks write batches and waits for the in-flight one.
func (l *Log) Pause() { l.writes.Pause() }

// Resume undoes Pause.
func (l *Log) Resume() { l.writes.Resume() }

// Idle waits for queued writes to drain.
func (l *Log) Idle() { l.writes.Idle() }

// WriteBatches returns the number of write batches dispatched so far.
func (l *Log) WriteBatches() uint64 { return l.writes.Batches() }

func (l *Log) openWriterLocked() (*os.File, error) {
	if l.wf != nil {
		return l.wf, nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	l.wf = f
	return f, nil
}

// Create makes sure the file exists on disk even if nothing was written yet.
func (l *Log) Create() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.openWriterLocked(); err != nil {
		return err
	}
	return syncDir(filepath.Dir(l.path))
}

// Rename moves the file. Writes must be paused.
func (l *Log) Rename(newPath string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.closeHandlesLocked(); err != nil {
		return err
	}
	if err := os.Rename(l.path, newPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("rename %s: %w", l.path, err)
	}
	l.path = newPath
	return syncDir(filepath.Dir(newPath))
}

func (l *Log) closeHandlesLocked() error {
	var result *multierror.Error
	if l.wf != nil {
		if err := l.wf.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		l.wf = nil
	}
	if err := l.pool.reset(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Close drains the queues and closes every handle.
func (l *Log) Close() error {
	l.writes.Close()
	l.reads.Close()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeHandlesLocked()
}

// Remove closes the log and deletes its file.
func (l *Log) Remove() error {
	var result *multierror.Error
	if err := l.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	path := l.Path()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		result = multierror.Append(result, err)
	}
	if err := syncDir(filepath.Dir(path)); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (l *Log) describe(num uint32, off int64, length int) string {
	return fmt.Sprintf("%s entry %d offset %d length %d", filepath.Base(l.path), num, off, length)
}

package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/rzbill/logsrd/internal/entry"
	"github.com/rzbill/logsrd/internal/index"
	"github.com/rzbill/logsrd/internal/ioqueue"
	"github.com/rzbill/logsrd/pkg/id"
	logpkg "github.com/rzbill/logsrd/pkg/log"
)

// Write is one unit of a write batch. Its frames are written contiguously and
// in order.
type Write struct {
	// Key selects the pending queue of a global file; writes for one log keep
	// their order. Per-log files ignore it.
	Key    id.LogID
	Frames []entry.Frame
	// Build, when set, is called inside the batch in submission order and its
	// frames are written instead of Frames. Entry numbers assigned here are
	// assigned in the order writes were enqueued.
	Build func() []entry.Frame
	// Abort is called if the batch carrying this write fails, before the
	// result is delivered. Writes are aborted in reverse order.
	Abort func()
}

// Written reports where a Write landed.
type Written struct {
	Frames []entry.Frame
	Refs   []index.Ref
}

// Submit enqueues w. The channel receives exactly one result.
func (l *Log) Submit(w *Write) <-chan ioqueue.Result[Written] {
	return l.enqueue(w)
}

// Append submits w and waits for its batch. The context bounds the wait only;
// the write still completes or fails with its batch.
func (l *Log) Append(ctx context.Context, w *Write) (Written, error) {
	select {
	case r := <-l.Submit(w):
		return r.Value, r.Err
	case <-ctx.Done():
		return Written{}, ctx.Err()
	}
}

type placed struct {
	frame entry.Frame
	ref   index.Ref
}

// layout assigns offsets starting at start and produces the segments to write,
// inserting checkpoints at every interval boundary.
func (l *Log) layout(frames []entry.Frame, start int64, lastConfig int64) ([][]byte, []placed, int64, int64) {
	const interval = entry.CheckpointInterval
	segs := make([][]byte, 0, len(frames)*3)
	out := make([]placed, 0, len(frames))
	pos := start
	for _, f := range frames {
		if pos > 0 && pos%interval == 0 {
			cp := l.checkpoint(0, 0, lastConfig)
			segs = append(segs, cp.Segments()...)
			pos += int64(cp.Len())
		}
		n := f.Len()
		out = append(out, placed{frame: f, ref: index.Ref{Num: f.Num(), Offset: pos, Length: n}})
		if isConfig(f) {
			lastConfig = pos
		}
		within := int(interval - pos%interval)
		if n <= within {
			segs = append(segs, f.Segments()...)
			pos += int64(n)
			continue
		}
		head, tail := splitSegments(f.Segments(), within)
		cp := l.checkpoint(uint16(within), uint16(n), lastConfig)
		segs = append(segs, head...)
		segs = append(segs, cp.Segments()...)
		segs = append(segs, tail...)
		pos += int64(n + cp.Len())
	}
	return segs, out, pos, lastConfig
}

func (l *Log) checkpoint(lastOffset, lastLength uint16, lastConfig int64) entry.Checkpoint {
	if l.kind == PerLog {
		return entry.NewLogCheckpoint(lastOffset, lastLength, uint32(lastConfig))
	}
	return entry.NewGlobalCheckpoint(lastOffset, lastLength)
}

// splitSegments cuts segs after at bytes.
func splitSegments(segs [][]byte, at int) (head, tail [][]byte) {
	for i, s := range segs {
		if at >= len(s) {
			head = append(head, s)
			at -= len(s)
			continue
		}
		if at > 0 {
			head = append(head, s[:at])
		}
		tail = append(tail, s[at:])
		tail = append(tail, segs[i+1:]...)
		return head, tail
	}
	return head, nil
}

func isConfig(f entry.Frame) bool {
	c, ok := f.Inner().(*entry.Command)
	return ok && c.IsConfig()
}

func isBlockMarker(f entry.Frame) bool {
	c, ok := f.Inner().(*entry.Command)
	if !ok {
		return false
	}
	switch c.Name() {
	case entry.BeginWrite, entry.EndWrite, entry.AbortWrite:
		return true
	}
	return false
}

func frameKey(f entry.Frame) id.LogID {
	if g, ok := f.(*entry.GlobalLogEntry); ok {
		return g.LogID
	}
	return id.Zero
}

// checkFrames validates kinds, sizes and per-log numbering before anything
// reaches the disk.
func (l *Log) checkFrames(frames []entry.Frame) error {
	next := make(map[id.LogID]int64)
	for _, f := range frames {
		if f.Type() != l.kind.frameType() {
			return fmt.Errorf("%w: %s frame in %s file %s", ErrWrongKind, f.Type(), l.kind, l.path)
		}
		if f.Inner().Len() > entry.MaxEntrySize {
			return fmt.Errorf("%w: %s", entry.ErrEntryTooLarge, l.describe(f.Num(), -1, f.Len()))
		}
		if l.kind == PerLog && isBlockMarker(f) {
			continue
		}
		key := frameKey(f)
		want, ok := next[key]
		if !ok {
			want = -1
			if sec, found := l.Section(key); found {
				if m := sec.MaxEntryNum(); m >= 0 {
					want = m + 1
				}
			}
		}
		if want >= 0 && int64(f.Num()) != want {
			return fmt.Errorf("%w: %s, expected entry %d", index.ErrNonContiguous, l.describe(f.Num(), -1, f.Len()), want)
		}
		if _, isCmd := f.Inner().(*entry.Command); isCmd {
			next[key] = int64(f.Num())
		} else {
			next[key] = int64(f.Num()) + 1
		}
	}
	return nil
}

// writeBatch is the queue's batch function. It runs on one goroutine at a
// time.
func (l *Log) writeBatch(ws []*Write) (results []Written, err error) {
	frames := make([][]entry.Frame, len(ws))
	defer func() {
		if err == nil {
			return
		}
		for i := len(ws) - 1; i >= 0; i-- {
			if ws[i].Abort != nil {
				ws[i].Abort()
			}
		}
	}()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failed != nil {
		return nil, l.failed
	}

	var all []entry.Frame
	for i, w := range ws {
		frames[i] = w.Frames
		if w.Build != nil {
			frames[i] = w.Build()
		}
		all = append(all, frames[i]...)
	}
	if err := l.checkFrames(all); err != nil {
		return nil, err
	}

	start := l.byteLength
	segs, placed, end, lastConfig := l.layout(all, start, l.lastConfig)
	expect := int(end - start)

	wf, err := l.openWriterLocked()
	if err != nil {
		return nil, fmt.Errorf("open %s for write: %w", l.path, err)
	}
	began := time.Now()
	n, werr := l.writeFn(wf, segs)
	if werr != nil || n != expect {
		return nil, l.recoverShortWriteLocked(start, n, expect, werr)
	}
	l.metrics.ObserveWrite(time.Since(began), len(all), n)

	if l.opts.Sync {
		began = time.Now()
		if err := datasync(wf); err != nil {
			l.byteLength = end
			l.failed = fmt.Errorf("%w: datasync %s: %v", ErrLogFailed, l.path, err)
			l.logger.Error("datasync failed", logpkg.Err(err))
			return nil, l.failed
		}
		l.metrics.ObserveSync(time.Since(began))
	}
	l.byteLength = end
	l.lastConfig = lastConfig

	if err := l.indexPlacedLocked(placed); err != nil {
		// Validated above; reaching this means the index and file disagree.
		l.failed = fmt.Errorf("%w: %v", ErrLogFailed, err)
		return nil, l.failed
	}

	results = make([]Written, len(ws))
	k := 0
	for i := range ws {
		w := Written{Frames: frames[i], Refs: make([]index.Ref, len(frames[i]))}
		for j := range frames[i] {
			w.Refs[j] = placed[k].ref
			k++
		}
		results[i] = w
	}
	return results, nil
}

// indexPlacedLocked indexes a written batch. A per-log batch is indexed as a
// fragment first and then appended whole to the file's index.
func (l *Log) indexPlacedLocked(batch []placed) error {
	if l.kind == PerLog {
		frag := index.NewLogIndex()
		for _, p := range batch {
			if isBlockMarker(p.frame) {
				continue
			}
			if err := frag.Add(p.frame, p.ref.Offset); err != nil {
				return err
			}
		}
		return l.local.Append(frag)
	}
	for _, p := range batch {
		if err := l.global.Add(p.frame.(*entry.GlobalLogEntry), p.ref.Offset); err != nil {
			return err
		}
	}
	return nil
}

func (l *Log) recoverShortWriteLocked(start int64, n, expect int, werr error) error {
	cause := fmt.Sprintf("wrote %d of %d bytes at offset %d in %s", n, expect, start, l.path)
	if werr != nil {
		cause += ": " + werr.Error()
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrShortWrite, cause)
	}
	backup, terr := l.truncateLocked(start)
	if terr != nil {
		l.byteLength = start + int64(n)
		l.failed = fmt.Errorf("%w: %s; truncate failed: %v", ErrLogFailed, cause, terr)
		l.logger.Error("short write and truncate failed",
			logpkg.Int64("offset", start), logpkg.Int("written", n), logpkg.Int("expected", expect), logpkg.Err(terr))
		return l.failed
	}
	l.logger.Warn("short write truncated",
		logpkg.Int64("offset", start), logpkg.Int("written", n), logpkg.Int("expected", expect), logpkg.Str("backup", backup))
	return fmt.Errorf("%w: %s", ErrShortWrite, cause)
}

package persist

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rzbill/logsrd/internal/entry"
	"github.com/rzbill/logsrd/internal/index"
	"github.com/rzbill/logsrd/internal/ioqueue"
)

// span is one contiguous physical byte range.
type span struct {
	off int64
	n   int
}

// physical returns the on-disk size of r, including a spliced checkpoint.
func (l *Log) physical(r index.Ref) int {
	if r.Offset%entry.CheckpointInterval+int64(r.Length) > entry.CheckpointInterval {
		return r.Length + l.kind.checkpointLen()
	}
	return r.Length
}

// strip removes the checkpoint spliced into a raw entry read from off.
func (l *Log) strip(raw []byte, off int64) []byte {
	within := int(entry.CheckpointInterval - off%entry.CheckpointInterval)
	if within >= len(raw) {
		return raw
	}
	cp := l.kind.checkpointLen()
	out := make([]byte, 0, len(raw)-cp)
	out = append(out, raw[:within]...)
	return append(out, raw[within+cp:]...)
}

func (l *Log) readSpan(s span) ([]byte, error) {
	h, err := l.pool.acquire(context.Background())
	if err != nil {
		return nil, err
	}
	defer l.pool.release(h)
	began := time.Now()
	buf := make([]byte, s.n)
	n, err := h.f.ReadAt(buf, s.off)
	if n < s.n {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read %d bytes at %d in %s: %w", s.n, s.off, l.Path(), err)
	}
	l.metrics.ObserveRead(time.Since(began), n)
	return buf, nil
}

func (l *Log) decodeRef(raw []byte, r index.Ref) (entry.Frame, error) {
	raw = l.strip(raw, r.Offset)
	if len(raw) != r.Length {
		return nil, fmt.Errorf("%w: %s", ErrOffsetMismatch, l.describe(r.Num, r.Offset, r.Length))
	}
	e, err := entry.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.describe(r.Num, r.Offset, r.Length), err)
	}
	f, ok := e.(entry.Frame)
	if !ok || e.Type() != l.kind.frameType() {
		return nil, fmt.Errorf("%w: %s at %s", ErrWrongKind, e.Type(), l.describe(r.Num, r.Offset, r.Length))
	}
	if f.Num() != r.Num {
		return nil, fmt.Errorf("%w: found entry %d at %s", ErrOffsetMismatch, f.Num(), l.describe(r.Num, r.Offset, r.Length))
	}
	if !f.Verify() {
		return nil, fmt.Errorf("%w: %s", ErrChecksum, l.describe(r.Num, r.Offset, r.Length))
	}
	return f, nil
}

// Read reads and verifies the entry at r.
func (l *Log) Read(ctx context.Context, r index.Ref) (entry.Frame, error) {
	out, err := l.ReadMany(ctx, []index.Ref{r})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// coalesce groups refs that sit back to back on disk into spans. spanOf[i]
// is the span holding refs[i].
func (l *Log) coalesce(refs []index.Ref) ([]span, []int) {
	var spans []span
	spanOf := make([]int, len(refs))
	for i, r := range refs {
		n := l.physical(r)
		if k := len(spans) - 1; k >= 0 && spans[k].off+int64(spans[k].n) == r.Offset {
			spans[k].n += n
			spanOf[i] = k
			continue
		}
		spans = append(spans, span{off: r.Offset, n: n})
		spanOf[i] = len(spans) - 1
	}
	return spans, spanOf
}

// ReadMany reads refs, issuing one read per run of adjacent entries. Results
// are in the order of refs.
func (l *Log) ReadMany(ctx context.Context, refs []index.Ref) ([]entry.Frame, error) {
	spans, spanOf := l.coalesce(refs)
	pending := make([]<-chan ioqueue.Result[[]byte], len(spans))
	for i, s := range spans {
		pending[i] = l.reads.Enqueue(s)
	}
	raws := make([][]byte, len(spans))
	for i, ch := range pending {
		select {
		case r := <-ch:
			if r.Err != nil {
				return nil, r.Err
			}
			raws[i] = r.Value
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := make([]entry.Frame, len(refs))
	for i, r := range refs {
		s := spans[spanOf[i]]
		start := int(r.Offset - s.off)
		raw := raws[spanOf[i]][start : start+l.physical(r)]
		f, err := l.decodeRef(raw, r)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

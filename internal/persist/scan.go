package persist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rzbill/logsrd/internal/entry"
	logpkg "github.com/rzbill/logsrd/pkg/log"
)

// Item is one entry found by Scan.
type Item struct {
	Entry entry.Entry
	// Offset is where the entry starts. Length is its encoded length; an entry
	// split by a checkpoint occupies Length plus the checkpoint on disk.
	Offset int64
	Length int
	Split  bool
}

// ScanResult summarizes a scan.
type ScanResult struct {
	// Size is the number of bytes in the file.
	Size int64
	// End is the end of the last complete, valid entry or checkpoint.
	End int64
	// Err describes why scanning stopped before Size, if it did.
	Err error
}

// Clean reports whether every byte of the file was accounted for.
func (r ScanResult) Clean() bool { return r.End == r.Size && r.Err == nil }

type scanner struct {
	r     io.ReaderAt
	kind  Kind
	visit func(Item) error
	res   ScanResult
}

// Scan streams the file one checkpoint interval at a time and calls visit for
// every frame and checkpoint in file order. Scanning stops at the first torn,
// corrupt or checksum-failing entry; the returned result records where. An
// error from visit aborts the scan and is returned as is.
func Scan(ctx context.Context, r io.ReaderAt, kind Kind, visit func(Item) error) (ScanResult, error) {
	s := &scanner{r: r, kind: kind, visit: visit}
	err := s.run(ctx)
	return s.res, err
}

func (s *scanner) stop(off int64, err error) {
	s.res.End = off
	s.res.Err = err
}

func (s *scanner) run(ctx context.Context) error {
	const interval = entry.CheckpointInterval
	buf := make([]byte, interval)
	var (
		carry    []byte
		carryOff int64
	)
	for chunk := int64(0); ; chunk++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		base := chunk * interval
		n, err := s.r.ReadAt(buf, base)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read at %d: %w", base, err)
		}
		data := buf[:n]
		s.res.Size = base + int64(n)
		eof := n < interval
		p := 0

		if chunk > 0 {
			if n == 0 {
				if len(carry) > 0 {
					s.stop(carryOff, fmt.Errorf("%w: %d bytes of an entry at %d", ErrTornTail, len(carry), carryOff))
				}
				return nil
			}
			cpLen := s.kind.checkpointLen()
			if n < cpLen {
				s.stop(s.torn(carry, carryOff, base), fmt.Errorf("%w: partial checkpoint at %d", ErrTornTail, base))
				return nil
			}
			e, err := entry.Decode(data[:cpLen])
			cp, ok := e.(entry.Checkpoint)
			if err != nil || !ok || e.Type() != s.kind.checkpointType() {
				s.stop(s.torn(carry, carryOff, base), fmt.Errorf("%w: no checkpoint at boundary %d", ErrOffsetMismatch, base))
				return nil
			}
			if !cp.Verify() {
				s.stop(s.torn(carry, carryOff, base), fmt.Errorf("%w: checkpoint at %d", ErrChecksum, base))
				return nil
			}
			lastOff, lastLen := cp.Last()
			if int(lastOff) != len(carry) {
				s.stop(s.torn(carry, carryOff, base), fmt.Errorf("%w: checkpoint at %d expects %d carried bytes, have %d", ErrOffsetMismatch, base, lastOff, len(carry)))
				return nil
			}
			if lastOff == 0 {
				if err := s.emit(Item{Entry: e, Offset: base, Length: cpLen}); err != nil {
					return err
				}
				s.res.End = base + int64(cpLen)
				p = cpLen
			} else {
				rest := int(lastLen) - int(lastOff)
				if rest <= 0 || cpLen+rest > n {
					s.stop(carryOff, fmt.Errorf("%w: split entry at %d", ErrTornTail, carryOff))
					return nil
				}
				whole := append(carry, data[cpLen:cpLen+rest]...)
				e, err := entry.Decode(whole)
				if err != nil {
					s.stop(carryOff, fmt.Errorf("split entry at %d: %w", carryOff, err))
					return nil
				}
				if !s.checkFrame(e, carryOff) {
					return nil
				}
				if err := s.emit(Item{Entry: e, Offset: carryOff, Length: len(whole), Split: true}); err != nil {
					return err
				}
				if err := s.emit(Item{Entry: cp, Offset: base, Length: cpLen}); err != nil {
					return err
				}
				p = cpLen + rest
				s.res.End = base + int64(p)
			}
			carry = nil
		}

		for p < n {
			off := base + int64(p)
			e, need, err := entry.DecodePartial(data[p:])
			if err != nil {
				s.stop(off, fmt.Errorf("decode at %d: %w", off, err))
				return nil
			}
			if e == nil {
				if eof {
					s.stop(off, fmt.Errorf("%w: entry at %d needs %d more bytes", ErrTornTail, off, need))
					return nil
				}
				carry = append([]byte(nil), data[p:]...)
				carryOff = off
				break
			}
			if _, isCP := e.(entry.Checkpoint); isCP {
				s.stop(off, fmt.Errorf("%w: checkpoint at %d is not on a boundary", ErrOffsetMismatch, off))
				return nil
			}
			if !s.checkFrame(e, off) {
				return nil
			}
			if err := s.emit(Item{Entry: e, Offset: off, Length: e.Len()}); err != nil {
				return err
			}
			p += e.Len()
			s.res.End = base + int64(p)
		}
		if eof {
			return nil
		}
	}
}

// torn picks the truncation point when a chunk boundary is damaged.
func (s *scanner) torn(carry []byte, carryOff, boundary int64) int64 {
	if len(carry) > 0 {
		return carryOff
	}
	return boundary
}

func (s *scanner) checkFrame(e entry.Entry, off int64) bool {
	f, ok := e.(entry.Frame)
	if !ok || e.Type() != s.kind.frameType() {
		s.stop(off, fmt.Errorf("%w: %s at %d", ErrWrongKind, e.Type(), off))
		return false
	}
	if !f.Verify() {
		s.stop(off, fmt.Errorf("%w: entry %d at %d length %d", ErrChecksum, f.Num(), off, e.Len()))
		return false
	}
	return true
}

func (s *scanner) emit(it Item) error {
	if s.visit == nil {
		return nil
	}
	return s.visit(it)
}

// DetectKind reads the first byte of a file to tell global and per-log files
// apart. An empty file is reported as Global.
func DetectKind(path string) (Kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return Global, err
	}
	defer f.Close()
	var b [1]byte
	if _, err := f.ReadAt(b[:], 0); err != nil {
		if errors.Is(err, io.EOF) {
			return Global, nil
		}
		return Global, err
	}
	switch entry.Type(b[0]) {
	case entry.TypeGlobalLog:
		return Global, nil
	case entry.TypeLogLog:
		return PerLog, nil
	default:
		return Global, fmt.Errorf("%w: file starts with %s", entry.ErrUnknownType, entry.Type(b[0]))
	}
}

// block tracks an open migration block while scanning a per-log file.
type block struct {
	start int64
	items []Item
	open  bool
}

// Init rebuilds the index from the file. A missing file is an empty log.
func (l *Log) Init(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inited {
		return nil
	}
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		l.inited = true
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	var blk block
	res, err := Scan(ctx, f, l.kind, func(it Item) error {
		fr, ok := it.Entry.(entry.Frame)
		if !ok {
			return nil
		}
		if l.kind == Global {
			return l.global.Add(fr.(*entry.GlobalLogEntry), it.Offset)
		}
		return l.scanLocal(&blk, fr, it)
	})
	if err != nil {
		return fmt.Errorf("scan %s: %w", l.path, err)
	}

	good := res.End
	reason := res.Err
	if blk.open {
		good = blk.start
		if reason == nil {
			reason = fmt.Errorf("%w: migration block at %d has no end marker", ErrTornTail, blk.start)
		}
	}
	l.byteLength = res.Size
	if cfg, ok := l.localConfig(); ok {
		l.lastConfig = cfg
	}
	l.inited = true
	if good == res.Size {
		return nil
	}

	fields := []logpkg.Field{logpkg.Int64("good", good), logpkg.Int64("size", res.Size), logpkg.Err(reason)}
	if errors.Is(reason, ErrChecksum) {
		l.logger.Error("corrupt entry found during scan", fields...)
	} else {
		l.logger.Warn("torn tail found during scan", fields...)
	}
	if !l.opts.RepairTornTail {
		return fmt.Errorf("%s: %w", l.path, reason)
	}
	backup, err := l.truncateLocked(good)
	if err != nil {
		return fmt.Errorf("repair %s: %w", l.path, err)
	}
	l.logger.Info("truncated tail", logpkg.Int64("length", good), logpkg.Str("backup", backup))
	return nil
}

func (l *Log) scanLocal(blk *block, fr entry.Frame, it Item) error {
	c, isCmd := fr.Inner().(*entry.Command)
	if !isCmd || !isBlockMarker(fr) {
		if blk.open {
			blk.items = append(blk.items, it)
			return nil
		}
		return l.local.Add(fr, it.Offset)
	}
	v, err := c.DecodeValue()
	if err != nil {
		return err
	}
	count := v.(entry.CountValue).Count
	switch c.Name() {
	case entry.BeginWrite:
		*blk = block{start: it.Offset, open: true}
	case entry.AbortWrite:
		*blk = block{}
	case entry.EndWrite:
		if !blk.open {
			return fmt.Errorf("%w: end marker at %d without a block", ErrOffsetMismatch, it.Offset)
		}
		if int(count) != len(blk.items) {
			return fmt.Errorf("%w: block at %d ends with count %d, holds %d", ErrOffsetMismatch, blk.start, count, len(blk.items))
		}
		for _, b := range blk.items {
			if err := l.local.Add(b.Entry.(entry.Frame), b.Offset); err != nil {
				return err
			}
		}
		*blk = block{}
	}
	return nil
}

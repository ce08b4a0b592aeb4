package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/rzbill/logsrd/internal/catalog"
	"github.com/rzbill/logsrd/internal/entry"
	"github.com/rzbill/logsrd/internal/index"
	"github.com/rzbill/logsrd/internal/persist"
	"github.com/rzbill/logsrd/pkg/id"
	logpkg "github.com/rzbill/logsrd/pkg/log"
)

// Run checks the compaction thresholds every CompactInterval until ctx is
// done. It returns immediately when the interval is zero.
func (s *Store) Run(ctx context.Context) error {
	if s.opts.CompactInterval <= 0 {
		s.logger.Info("background compaction disabled")
		return nil
	}
	ticker := time.NewTicker(s.opts.CompactInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.CompactIfNeeded(ctx); err != nil {
				if errors.Is(err, ErrClosed) {
					return nil
				}
				s.logger.Error("compaction failed", logpkg.Err(err))
			}
		}
	}
}

// CompactIfNeeded compacts the hot log when it reached DiskCompactThreshold
// and then promotes cold logs while the global logs hold more than
// MemCompactThreshold. It reports whether anything was done.
func (s *Store) CompactIfNeeded(ctx context.Context) (bool, error) {
	did := false
	if t := s.opts.DiskCompactThreshold; t > 0 && s.Stats().HotBytes >= t {
		if err := s.Compact(ctx); err != nil {
			return did, err
		}
		did = true
	}
	n, err := s.RelieveMemory(ctx)
	return did || n > 0, err
}

// Compact freezes the hot log and moves its entries to the cold log or to
// per-log files.
func (s *Store) Compact(ctx context.Context) error {
	s.compactMu.Lock()
	defer s.compactMu.Unlock()
	if err := s.rotate(ctx); err != nil {
		return fmt.Errorf("rotate hot log: %w", err)
	}
	return s.drainOld(ctx)
}

// rotate renames the hot log to .old and installs an empty hot log. Appends
// are held off while the files change names.
func (s *Store) rotate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.old != nil {
		return nil
	}
	hot := s.hot
	hot.Idle()
	if hot.ByteLength() == 0 {
		return nil
	}
	hot.Pause()
	defer hot.Resume()

	hotPath := s.opts.hotPath()
	next := persist.New(s.globalOptions(hotPath+NewSuffix, "hot"), s.seq)
	if err := next.Create(); err != nil {
		return err
	}
	if err := next.Init(ctx); err != nil {
		return multierror.Append(err, next.Remove()).ErrorOrNil()
	}
	if err := hot.Rename(hotPath + OldSuffix); err != nil {
		return multierror.Append(err, next.Remove()).ErrorOrNil()
	}
	if err := next.Rename(hotPath); err != nil {
		return multierror.Append(err, hot.Rename(hotPath), next.Remove()).ErrorOrNil()
	}
	s.old, s.hot = hot, next
	s.logger.Info("rotated hot log", logpkg.Int64("bytes", hot.ByteLength()))
	return nil
}

// drainOld runs one compaction epoch over the frozen hot log and deletes it.
// compactMu must be held.
func (s *Store) drainOld(ctx context.Context) (err error) {
	s.mu.RLock()
	old, cold := s.old, s.cold
	s.mu.RUnlock()
	if old == nil {
		return nil
	}
	began := time.Now()
	var toCold, toPerLog int
	defer func() {
		if s.opts.Metrics != nil {
			s.opts.Metrics.ObserveCompaction(time.Since(began), toCold, toPerLog, err)
			st := s.Stats()
			s.opts.Metrics.ObserveUsage(st.HotBytes, st.ColdHeld)
		}
	}()

	if err := s.flushCatalog(ctx); err != nil {
		s.logger.Warn("flushing catalog before compaction", logpkg.Err(err))
	}

	total := old.GlobalIndex().TotalBytes()
	begin := entry.NewBeginCompactCold(uint64(cold.ByteLength()), uint64(total))
	if err := s.writeMarker(ctx, begin); err != nil {
		return err
	}
	for _, logID := range old.GlobalIndex().LogIDs() {
		dest, err := s.moveLog(ctx, old, logID)
		if err != nil {
			return fmt.Errorf("compact log %s: %w", logID, err)
		}
		switch dest {
		case roleCold:
			toCold++
		case rolePerLog:
			toPerLog++
		}
	}
	if err := s.writeMarker(ctx, entry.NewFinishCompactCold(uint64(cold.ByteLength()))); err != nil {
		return err
	}

	s.mu.Lock()
	s.old = nil
	s.mu.Unlock()
	if err := old.Remove(); err != nil {
		return fmt.Errorf("remove frozen hot log: %w", err)
	}
	s.logger.Info("compaction finished",
		logpkg.Int("to_cold", toCold), logpkg.Int("to_per_log", toPerLog),
		logpkg.Int64("bytes", total), logpkg.Dur("took", time.Since(began)))
	return nil
}

func (s *Store) writeMarker(ctx context.Context, cmd *entry.Command) error {
	w := &persist.Write{Key: id.Zero, Frames: []entry.Frame{entry.NewGlobalLogEntry(id.Zero, 0, cmd)}}
	if _, err := s.cold.Append(ctx, w); err != nil {
		return fmt.Errorf("write %s marker: %w", cmd.Name(), err)
	}
	return nil
}

// items returns every entry and command of sec in file order.
func items(sec *index.LogIndex) []index.Ref {
	refs := sec.Entries()
	for _, c := range sec.Commands() {
		refs = append(refs, c.Ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Offset < refs[j].Offset })
	return refs
}

// moveLog moves logID's entries out of the frozen hot log and returns the
// role of the file they went to. A log already moved by an earlier, cut short
// run of the same epoch is skipped and reported as -1.
func (s *Store) moveLog(ctx context.Context, old *persist.Log, logID id.LogID) (int, error) {
	sec, ok := old.GlobalIndex().Get(logID)
	if !ok || sec.Empty() {
		return -1, nil
	}
	frames, err := old.ReadMany(ctx, items(sec))
	if err != nil {
		return -1, err
	}
	last := frames[len(frames)-1]

	s.mu.RLock()
	pl := s.perLog[logID]
	cold := s.cold
	s.mu.RUnlock()

	// A resumed epoch may find the log already copied. Cold is checked before
	// the page size decision, which counts whatever cold holds.
	for _, dst := range []*persist.Log{cold, pl} {
		if dst == nil {
			continue
		}
		if done, err := endsWith(ctx, dst, logID, last); err != nil || done {
			return -1, err
		}
	}

	held := sec.ByteLength()
	if coldSec, inCold := cold.GlobalIndex().Get(logID); inCold {
		held += coldSec.ByteLength()
	}
	if pl == nil && held < s.opts.PageSize {
		if _, err := cold.Append(ctx, &persist.Write{Key: logID, Frames: frames}); err != nil {
			s.stopOnFailure(logID, err)
			return -1, err
		}
		s.stateOf(logID).setResidence(catalog.Cold)
		return roleCold, nil
	}

	if err := s.promote(ctx, logID, frames); err != nil {
		return -1, err
	}
	return rolePerLog, nil
}

// endsWith reports whether the last item dst holds for logID is want.
func endsWith(ctx context.Context, dst *persist.Log, logID id.LogID, want entry.Frame) (bool, error) {
	sec, ok := dst.Section(logID)
	if !ok {
		return false, nil
	}
	ref, ok := sec.LastItem()
	if !ok || ref.Num != want.Num() {
		return false, nil
	}
	got, err := dst.Read(ctx, ref)
	if err != nil {
		return false, err
	}
	return sameItem(got, want), nil
}

type checksummed interface {
	Checksum() (uint32, bool)
}

func sameItem(a, b entry.Frame) bool {
	ca, okA := a.(checksummed)
	cb, okB := b.(checksummed)
	if !okA || !okB || a.Num() != b.Num() || a.Inner().Type() != b.Inner().Type() {
		return false
	}
	sa, _ := ca.Checksum()
	sb, _ := cb.Checksum()
	return sa == sb
}

// promote writes logID's cold entries followed by extra to its own file as one
// migration block, creating the file if needed, and drops the cold section
// from memory.
func (s *Store) promote(ctx context.Context, logID id.LogID, extra []entry.Frame) error {
	s.mu.RLock()
	pl := s.perLog[logID]
	cold := s.cold
	s.mu.RUnlock()

	var frames []entry.Frame
	coldSec, inCold := cold.GlobalIndex().Get(logID)
	if inCold && !coldSec.Empty() {
		fromCold, err := cold.ReadMany(ctx, items(coldSec))
		if err != nil {
			return err
		}
		frames = append(frames, fromCold...)
	}
	frames = append(frames, extra...)
	if len(frames) == 0 {
		return nil
	}

	if pl == nil {
		var err error
		if pl, err = s.openPerLog(ctx, logID, true); err != nil {
			return err
		}
		if err := pl.Create(); err != nil {
			return multierror.Append(err, pl.Close()).ErrorOrNil()
		}
		s.mu.Lock()
		if existing := s.perLog[logID]; existing != nil {
			_ = pl.Close()
			pl = existing
		} else {
			s.perLog[logID] = pl
		}
		s.mu.Unlock()
	}

	if _, err := pl.Append(ctx, migrationBlock(frames)); err != nil {
		s.stopOnFailure(logID, err)
		return err
	}
	if inCold {
		cold.GlobalIndex().Remove(logID)
	}
	s.stateOf(logID).setResidence(catalog.PerLog)
	s.logger.Debug("log promoted", logpkg.LogID(logID.String()), logpkg.Int("items", len(frames)))
	return nil
}

// migrationBlock wraps frames for a per-log file between BeginWrite and
// EndWrite markers so a partial copy is discarded on recovery.
func migrationBlock(frames []entry.Frame) *persist.Write {
	n := uint32(len(frames))
	first := frames[0].Num()
	lastF := frames[len(frames)-1]
	next := lastF.Num()
	if _, isCmd := lastF.Inner().(*entry.Command); !isCmd {
		next++
	}
	out := make([]entry.Frame, 0, len(frames)+2)
	out = append(out, entry.NewLogLogEntry(first, entry.NewBeginWrite(n)))
	for _, f := range frames {
		out = append(out, entry.NewLogLogEntry(f.Num(), f.Inner()))
	}
	out = append(out, entry.NewLogLogEntry(next, entry.NewEndWrite(n)))
	return &persist.Write{Frames: out}
}

func (s *Store) stateOf(logID id.LogID) *logState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.logs[logID]
	if st == nil {
		st = s.rebuildState(logID)
		s.logs[logID] = st
	}
	return st
}

func (s *Store) stopOnFailure(logID id.LogID, err error) {
	if errors.Is(err, persist.ErrLogFailed) {
		s.stateOf(logID).stop(err)
	}
}

// RelieveMemory promotes the least recently written cold logs to their own
// files while the hot and cold logs together hold more than
// MemCompactThreshold, stopping once they hold at most half of it. It
// returns the number of logs promoted.
func (s *Store) RelieveMemory(ctx context.Context) (int, error) {
	limit := s.opts.MemCompactThreshold
	if limit <= 0 {
		return 0, nil
	}
	s.compactMu.Lock()
	defer s.compactMu.Unlock()
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return 0, ErrClosed
	}

	usage := s.usage()
	if usage <= limit {
		return 0, nil
	}
	candidates, err := s.coldByLastWrite(ctx)
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, logID := range candidates {
		if usage <= limit/2 {
			break
		}
		if err := s.promote(ctx, logID, nil); err != nil {
			return promoted, fmt.Errorf("promote log %s: %w", logID, err)
		}
		promoted++
		usage = s.usage()
	}
	s.logger.Info("promoted cold logs", logpkg.Int("logs", promoted), logpkg.Int64("usage", usage), logpkg.Int64("limit", limit))
	if s.opts.Metrics != nil {
		st := s.Stats()
		s.opts.Metrics.ObserveUsage(st.HotBytes, st.ColdHeld)
	}
	return promoted, nil
}

func (s *Store) usage() int64 {
	st := s.Stats()
	return st.HotBytes + st.OldBytes + st.ColdHeld
}

// coldByLastWrite lists logs with entries held in the cold log, least
// recently written first. The catalog decides the order when there is one.
func (s *Store) coldByLastWrite(ctx context.Context) ([]id.LogID, error) {
	s.mu.RLock()
	inCold := make(map[id.LogID]struct{})
	for _, logID := range s.cold.GlobalIndex().LogIDs() {
		inCold[logID] = struct{}{}
	}
	s.mu.RUnlock()

	if s.catalog != nil {
		if err := s.flushCatalog(ctx); err != nil {
			return nil, err
		}
		recs, err := s.catalog.LeastRecentlyWritten(func(r catalog.Record) bool {
			_, ok := inCold[r.LogID]
			return ok
		})
		if err != nil {
			return nil, err
		}
		out := make([]id.LogID, 0, len(inCold))
		for _, rec := range recs {
			out = append(out, rec.LogID)
			delete(inCold, rec.LogID)
		}
		// Logs missing from the catalog go first.
		return append(sortedIDs(inCold), out...), nil
	}

	type aged struct {
		id id.LogID
		at time.Time
	}
	list := make([]aged, 0, len(inCold))
	for logID := range inCold {
		at, _, _ := s.stateOf(logID).snapshot()
		list = append(list, aged{logID, at})
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].at.Equal(list[j].at) {
			return list[i].at.Before(list[j].at)
		}
		return list[i].id.Compare(list[j].id) < 0
	})
	out := make([]id.LogID, len(list))
	for i, a := range list {
		out[i] = a.id
	}
	return out, nil
}

func sortedIDs(set map[id.LogID]struct{}) []id.LogID {
	out := make([]id.LogID, 0, len(set))
	for logID := range set {
		out = append(out, logID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

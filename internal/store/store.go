package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/rzbill/logsrd/internal/catalog"
	"github.com/rzbill/logsrd/internal/entry"
	"github.com/rzbill/logsrd/internal/index"
	"github.com/rzbill/logsrd/internal/persist"
	"github.com/rzbill/logsrd/pkg/id"
	logpkg "github.com/rzbill/logsrd/pkg/log"
)

// Store owns the global logs and every per-log file under one data
// directory.
type Store struct {
	opts    Options
	logger  logpkg.Logger
	seq     *id.Sequence
	catalog *catalog.Catalog

	mu     sync.RWMutex // guards the fields below; readers hold it across a read
	hot    *persist.Log
	old    *persist.Log
	cold   *persist.Log
	perLog map[id.LogID]*persist.Log
	logs   map[id.LogID]*logState
	closed bool

	loads     singleflight.Group
	compactMu sync.Mutex
}

// Open recovers the data directory and loads every log the global logs
// mention. An interrupted compaction is finished before Open returns.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.DataDir == "" {
		return nil, errors.New("store: Options.DataDir is required")
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 64 << 10
	}
	s := &Store{
		opts:    opts,
		logger:  opts.Logger,
		seq:     opts.Sequence,
		catalog: opts.Catalog,
		perLog:  make(map[id.LogID]*persist.Log),
		logs:    make(map[id.LogID]*logState),
	}
	if s.logger == nil {
		s.logger = logpkg.NewNopLogger()
	}
	s.logger = s.logger.WithComponent("store")
	if s.seq == nil {
		s.seq = id.NewSequence()
	}
	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, err
	}
	if err := s.recoverRotation(); err != nil {
		return nil, err
	}
	if err := s.load(ctx); err != nil {
		_ = s.closeFiles()
		return nil, err
	}
	if s.old != nil {
		s.logger.Info("resuming interrupted compaction")
		s.compactMu.Lock()
		err := s.drainOld(ctx)
		s.compactMu.Unlock()
		if err != nil {
			_ = s.closeFiles()
			return nil, fmt.Errorf("resume compaction: %w", err)
		}
	}
	return s, nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// recoverRotation settles a hot log rotation that was cut short. Rotation
// creates .new, renames hot to .old, then renames .new to hot.
func (s *Store) recoverRotation() error {
	hot := s.opts.hotPath()
	hasHot, err := exists(hot)
	if err != nil {
		return err
	}
	hasNew, err := exists(hot + NewSuffix)
	if err != nil {
		return err
	}
	if !hasNew {
		return nil
	}
	if hasHot {
		s.logger.Warn("removing unused hot log", logpkg.Str("path", hot+NewSuffix))
		return os.Remove(hot + NewSuffix)
	}
	s.logger.Warn("completing hot log rotation", logpkg.Str("path", hot))
	return os.Rename(hot+NewSuffix, hot)
}

func (s *Store) fileHook(role string) persist.MetricsHook {
	if s.opts.Metrics == nil {
		return persist.NoopMetrics{}
	}
	return s.opts.Metrics.File(role)
}

func (s *Store) globalOptions(path, role string) persist.Options {
	return persist.Options{
		Path:           path,
		Kind:           persist.Global,
		ReadHandles:    s.opts.GlobalReadHandles,
		Sync:           s.opts.Sync,
		RepairTornTail: s.opts.RepairTornTail,
		MaxBatch:       s.opts.MaxWriteBatch,
		Logger:         s.logger.WithField("role", role),
		Metrics:        s.fileHook(role),
	}
}

func (s *Store) perLogOptions(logID id.LogID) persist.Options {
	return persist.Options{
		Path:           PerLogPath(s.opts.DataDir, logID),
		Kind:           persist.PerLog,
		ReadHandles:    s.opts.LogReadHandles,
		Sync:           s.opts.Sync,
		RepairTornTail: s.opts.RepairTornTail,
		Logger:         s.logger.With(logpkg.LogID(logID.String())),
		Metrics:        s.fileHook("per-log"),
	}
}

// load opens the global logs in parallel, then the per-log files of every
// log they mention, and rebuilds each log's state.
func (s *Store) load(ctx context.Context) error {
	hotPath := s.opts.hotPath()
	hasOld, err := exists(hotPath + OldSuffix)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		s.hot, err = persist.Open(gctx, s.globalOptions(hotPath, "hot"), s.seq)
		return err
	})
	g.Go(func() (err error) {
		s.cold, err = persist.Open(gctx, s.globalOptions(s.opts.coldPath(), "cold"), s.seq)
		return err
	})
	if hasOld {
		g.Go(func() (err error) {
			s.old, err = persist.Open(gctx, s.globalOptions(hotPath+OldSuffix, "old"), s.seq)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := s.rollbackColdEpoch(ctx); err != nil {
		return err
	}

	known := make(map[id.LogID]struct{})
	for _, l := range []*persist.Log{s.hot, s.old, s.cold} {
		if l == nil {
			continue
		}
		for _, logID := range l.GlobalIndex().LogIDs() {
			known[logID] = struct{}{}
		}
	}

	var mu sync.Mutex
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(8)
	for logID := range known {
		logID := logID
		g.Go(func() error {
			pl, err := s.openPerLog(gctx, logID, false)
			if err != nil || pl == nil {
				return err
			}
			mu.Lock()
			s.perLog[logID] = pl
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for logID := range known {
		s.dedupeCold(logID)
		s.logs[logID] = s.rebuildState(logID)
	}
	s.seedLastWrites()
	s.logger.Info("store loaded",
		logpkg.Int("logs", len(s.logs)),
		logpkg.Int("per_log_files", len(s.perLog)),
		logpkg.Int64("hot_bytes", s.hot.ByteLength()),
		logpkg.Int64("cold_bytes", s.cold.ByteLength()))
	return nil
}

// rollbackColdEpoch truncates the cold log back to where an unfinished
// compaction epoch began.
func (s *Store) rollbackColdEpoch(ctx context.Context) error {
	sec, ok := s.cold.GlobalIndex().Get(id.Zero)
	if !ok {
		return nil
	}
	cmds := sec.Commands()
	if len(cmds) == 0 || cmds[len(cmds)-1].Name != entry.BeginCompactCold {
		return nil
	}
	f, err := s.cold.Read(ctx, cmds[len(cmds)-1].Ref)
	if err != nil {
		return fmt.Errorf("read compaction marker: %w", err)
	}
	v, err := f.Inner().(*entry.Command).DecodeValue()
	if err != nil {
		return err
	}
	length := int64(v.(entry.BeginCompactColdValue).ColdLength)
	backup, err := s.cold.TruncateAndBackup(length)
	if err != nil {
		return fmt.Errorf("roll back cold log to %d: %w", length, err)
	}
	s.logger.Warn("rolled back unfinished compaction", logpkg.Int64("cold_length", length), logpkg.Str("backup", backup))
	return nil
}

// openPerLog opens logID's own file. Unless create is set a missing file
// yields nil.
func (s *Store) openPerLog(ctx context.Context, logID id.LogID, create bool) (*persist.Log, error) {
	opts := s.perLogOptions(logID)
	if !create {
		ok, err := exists(opts.Path)
		if err != nil || !ok {
			return nil, err
		}
	}
	return persist.Open(ctx, opts, s.seq)
}

// dedupeCold drops the in-memory cold section of a log whose own file
// already holds it. The bytes stay in the cold file.
func (s *Store) dedupeCold(logID id.LogID) {
	pl := s.perLog[logID]
	if pl == nil {
		return
	}
	sec, ok := s.cold.GlobalIndex().Get(logID)
	if !ok || pl.LogIndex().Empty() {
		return
	}
	if pl.LogIndex().MaxEntryNum() >= sec.MaxEntryNum() {
		s.cold.GlobalIndex().Remove(logID)
	}
}

func (s *Store) rebuildState(logID id.LogID) *logState {
	next := int64(0)
	residence := catalog.Hot
	for _, src := range s.chainLocked(logID) {
		if m := src.sec.MaxEntryNum(); m+1 > next {
			next = m + 1
		}
		switch src.role {
		case rolePerLog:
			residence = catalog.PerLog
		case roleCold:
			if residence == catalog.Hot {
				residence = catalog.Cold
			}
		}
	}
	return newLogState(logID, uint32(next), residence)
}

func (s *Store) seedLastWrites() {
	if s.catalog == nil {
		return
	}
	recs, err := s.catalog.List()
	if err != nil {
		s.logger.Warn("reading catalog", logpkg.Err(err))
		return
	}
	for _, rec := range recs {
		if st := s.logs[rec.LogID]; st != nil {
			st.mu.Lock()
			st.lastWrite = rec.LastWrite
			st.mu.Unlock()
		}
	}
}

// state returns the state of a known log, loading its own file on first use.
func (s *Store) state(ctx context.Context, logID id.LogID) (*logState, error) {
	s.mu.RLock()
	st, closed := s.logs[logID], s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if st != nil {
		return st, nil
	}
	v, err, _ := s.loads.Do(logID.String(), func() (interface{}, error) {
		pl, err := s.openPerLog(ctx, logID, false)
		if err != nil {
			return nil, err
		}
		if pl == nil {
			return nil, fmt.Errorf("%w: %s", ErrLogNotFound, logID)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if st := s.logs[logID]; st != nil {
			_ = pl.Close()
			return st, nil
		}
		if s.closed {
			_ = pl.Close()
			return nil, ErrClosed
		}
		s.perLog[logID] = pl
		st := s.rebuildState(logID)
		s.logs[logID] = st
		s.logger.Debug("loaded per-log file", logpkg.LogID(logID.String()))
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*logState), nil
}

// ListLogs returns every log known to the store, including logs whose own
// file has not been opened yet.
func (s *Store) ListLogs() ([]id.LogID, error) {
	seen := make(map[id.LogID]struct{})
	s.mu.RLock()
	for logID := range s.logs {
		seen[logID] = struct{}{}
	}
	s.mu.RUnlock()

	root := filepath.Join(s.opts.DataDir, LogsDir)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".log") {
			return nil
		}
		logID, perr := id.ParseLogID(strings.TrimSuffix(d.Name(), ".log"))
		if perr != nil {
			return nil
		}
		seen[logID] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]id.LogID, 0, len(seen))
	for logID := range seen {
		out = append(out, logID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out, nil
}

// Stats reports file sizes and counts.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		Logs:         len(s.logs),
		PerLogFiles:  len(s.perLog),
		Compacting:   s.old != nil,
		HotBytes:     s.hot.ByteLength(),
		ColdBytes:    s.cold.ByteLength(),
		ColdHeld:     s.cold.GlobalIndex().TotalBytes(),
		WriteBatches: s.hot.WriteBatches(),
	}
	if s.old != nil {
		st.OldBytes = s.old.ByteLength()
	}
	return st
}

// flushCatalog writes the last-write time and residence of every changed log.
func (s *Store) flushCatalog(ctx context.Context) error {
	if s.catalog == nil {
		return nil
	}
	s.mu.RLock()
	states := make([]*logState, 0, len(s.logs))
	for _, st := range s.logs {
		states = append(states, st)
	}
	s.mu.RUnlock()

	var recs []catalog.Record
	var flushed []*logState
	now := time.Now()
	for _, st := range states {
		lastWrite, residence, dirty := st.snapshot()
		if !dirty {
			continue
		}
		rec, ok, err := s.catalog.Get(st.id)
		if err != nil {
			return err
		}
		if !ok {
			rec = catalog.Record{LogID: st.id, Created: now}
		}
		rec.LastWrite = lastWrite
		rec.Residence = residence
		recs = append(recs, rec)
		flushed = append(flushed, st)
	}
	if err := s.catalog.PutBatch(ctx, recs); err != nil {
		return err
	}
	for _, st := range flushed {
		st.clean()
	}
	return nil
}

// Close flushes the catalog and closes every file. It waits for a running
// compaction.
func (s *Store) Close() error {
	s.compactMu.Lock()
	defer s.compactMu.Unlock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var result *multierror.Error
	if err := s.flushCatalog(context.Background()); err != nil {
		result = multierror.Append(result, fmt.Errorf("flush catalog: %w", err))
	}
	if err := s.closeFiles(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (s *Store) closeFiles() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result *multierror.Error
	for _, l := range []*persist.Log{s.hot, s.old, s.cold} {
		if l == nil {
			continue
		}
		if err := l.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, l := range s.perLog {
		if err := l.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// source pairs a file with the part of it holding one log.
type source struct {
	role int
	log  *persist.Log
	sec  *index.LogIndex
}

// Source roles in read preference order.
const (
	rolePerLog = iota
	roleCold
	roleOld
	roleHot
)

// chainLocked returns the files holding logID, most authoritative first.
// s.mu must be held.
func (s *Store) chainLocked(logID id.LogID) []source {
	out := make([]source, 0, 4)
	if pl := s.perLog[logID]; pl != nil {
		out = append(out, source{role: rolePerLog, log: pl, sec: pl.LogIndex()})
	}
	for _, c := range []struct {
		role int
		log  *persist.Log
	}{{roleCold, s.cold}, {roleOld, s.old}, {roleHot, s.hot}} {
		if c.log == nil {
			continue
		}
		if sec, ok := c.log.GlobalIndex().Get(logID); ok {
			out = append(out, source{role: c.role, log: c.log, sec: sec})
		}
	}
	return out
}

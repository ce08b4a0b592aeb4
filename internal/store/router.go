package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rzbill/logsrd/internal/catalog"
	"github.com/rzbill/logsrd/internal/entry"
	"github.com/rzbill/logsrd/internal/index"
	"github.com/rzbill/logsrd/internal/ioqueue"
	"github.com/rzbill/logsrd/internal/persist"
	"github.com/rzbill/logsrd/pkg/id"
	logpkg "github.com/rzbill/logsrd/pkg/log"
)

// Create registers a new log and writes its configuration to the hot log.
func (s *Store) Create(ctx context.Context, logID id.LogID, config []byte) error {
	if logID.IsZero() {
		return fmt.Errorf("%w: zero log id is reserved", id.ErrInvalidLogID)
	}
	if _, err := ParseLogConfig(config); err != nil {
		return err
	}
	cmd := entry.NewCreateLog(append([]byte(nil), config...))
	if err := entry.CheckSize(cmd); err != nil {
		return err
	}
	if _, err := s.state(ctx, logID); err == nil {
		return fmt.Errorf("%w: %s", ErrLogExists, logID)
	} else if !errors.Is(err, ErrLogNotFound) {
		return err
	}

	st := newLogState(logID, 0, catalog.Hot)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.logs[logID] != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrLogExists, logID)
	}
	s.logs[logID] = st
	st.route(false, nil)
	ch := s.hot.Submit(st.write(cmd))
	s.mu.Unlock()

	if _, err := waitHot(ctx, st, ch); err != nil {
		if errors.Is(err, persist.ErrLogFailed) {
			st.stop(err)
		} else if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.mu.Lock()
			if s.logs[logID] == st {
				delete(s.logs, logID)
			}
			s.mu.Unlock()
		}
		return fmt.Errorf("create %s: %w", logID, err)
	}
	now := time.Now()
	st.touch(now)
	if s.catalog != nil {
		if _, err := s.catalog.Ensure(ctx, logID, now); err != nil {
			s.logger.Warn("recording log in catalog", logpkg.LogID(logID.String()), logpkg.Err(err))
		}
	}
	s.logger.Debug("log created", logpkg.LogID(logID.String()))
	return nil
}

type resultOf = ioqueue.Result[persist.Written]

func wait(ctx context.Context, ch <-chan resultOf) (persist.Written, error) {
	select {
	case r := <-ch:
		return r.Value, r.Err
	case <-ctx.Done():
		return persist.Written{}, ctx.Err()
	}
}

// waitHot waits for a hot-log write. The pending mark is released once the
// write resolves, even when the caller stops waiting first.
func waitHot(ctx context.Context, st *logState, ch <-chan resultOf) (persist.Written, error) {
	select {
	case r := <-ch:
		st.hotDone()
		return r.Value, r.Err
	case <-ctx.Done():
		go func() {
			<-ch
			st.hotDone()
		}()
		return persist.Written{}, ctx.Err()
	}
}

// targetLocked picks the file an append to st goes to. A log with its own file
// is written there directly once no global log holds its entries and no hot
// write is pending; until then it keeps going to the hot log so its entry
// numbers reach the own file in order. s.mu must be held.
func (s *Store) targetLocked(st *logState) (*persist.Log, bool) {
	pl := s.perLog[st.id]
	toHot := st.route(pl != nil, func() bool {
		for _, l := range []*persist.Log{s.hot, s.old, s.cold} {
			if l == nil {
				continue
			}
			if _, ok := l.GlobalIndex().Get(st.id); ok {
				return true
			}
		}
		return false
	})
	if toHot {
		return s.hot, true
	}
	return pl, false
}

// Append writes p to logID and returns the frame written. Data entries get
// the next entry number; SetConfig commands carry the number the next data
// entry will get. Logs still held by the global logs are written to the hot
// log, the others to their own file.
func (s *Store) Append(ctx context.Context, logID id.LogID, p entry.Payload) (entry.Frame, error) {
	switch v := p.(type) {
	case *entry.Binary, *entry.JSON:
	case *entry.Command:
		if v.Name() != entry.SetConfig {
			return nil, fmt.Errorf("%w: %s command", ErrInvalidEntry, v.Name())
		}
		if _, err := ParseLogConfig(v.Value()); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidEntry, p)
	}
	if err := entry.CheckSize(p); err != nil {
		return nil, err
	}
	st, err := s.state(ctx, logID)
	if err != nil {
		return nil, err
	}
	if err := st.err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLogStopped, logID, err)
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	target, toHot := s.targetLocked(st)
	if err := target.Failed(); err != nil {
		if toHot {
			st.hotDone()
		}
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s: %v", ErrLogStopped, logID, err)
	}
	var w persist.Written
	if toHot {
		ch := target.Submit(st.write(p))
		s.mu.RUnlock()
		w, err = waitHot(ctx, st, ch)
	} else {
		ch := target.Submit(st.perLogWrite(p))
		s.mu.RUnlock()
		w, err = wait(ctx, ch)
	}
	if err != nil {
		if errors.Is(err, persist.ErrLogFailed) {
			st.stop(err)
		}
		return nil, fmt.Errorf("append to %s: %w", logID, err)
	}
	st.touch(time.Now())
	return w.Frames[0], nil
}

// MaxEntryNum returns the highest entry number of logID, or -1 if it has
// none.
func (s *Store) MaxEntryNum(ctx context.Context, logID id.LogID) (int64, error) {
	if _, err := s.state(ctx, logID); err != nil {
		return -1, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maxEntryNum(s.chainLocked(logID)), nil
}

func maxEntryNum(chain []source) int64 {
	last := int64(-1)
	for _, src := range chain {
		if m := src.sec.MaxEntryNum(); m > last {
			last = m
		}
	}
	return last
}

// ReadHead returns the most recent data entry of logID.
func (s *Store) ReadHead(ctx context.Context, logID id.LogID) (entry.Frame, error) {
	if _, err := s.state(ctx, logID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chainLocked(logID)
	last := maxEntryNum(chain)
	if last < 0 {
		return nil, fmt.Errorf("%w: log %s is empty", ErrEntryNotFound, logID)
	}
	out, err := s.readLocked(ctx, logID, chain, []uint32{uint32(last)})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// ReadEntries returns the entries numbered nums, in the order requested.
func (s *Store) ReadEntries(ctx context.Context, logID id.LogID, nums []uint32) ([]entry.Frame, error) {
	if _, err := s.state(ctx, logID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readLocked(ctx, logID, s.chainLocked(logID), nums)
}

// ReadRange returns up to limit entries starting at entry number offset.
func (s *Store) ReadRange(ctx context.Context, logID id.LogID, offset uint32, limit int) ([]entry.Frame, error) {
	if _, err := s.state(ctx, logID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chainLocked(logID)
	last := maxEntryNum(chain)
	if limit <= 0 || int64(offset) > last {
		return nil, nil
	}
	end := int64(offset) + int64(limit) - 1
	if end > last {
		end = last
	}
	nums := make([]uint32, 0, end-int64(offset)+1)
	for n := int64(offset); n <= end; n++ {
		nums = append(nums, uint32(n))
	}
	return s.readLocked(ctx, logID, chain, nums)
}

type located struct {
	pos int
	ref index.Ref
}

// readLocked reads nums from the first file in chain holding each one. Reads
// against one file are sorted by offset so adjacent entries share an IO.
func (s *Store) readLocked(ctx context.Context, logID id.LogID, chain []source, nums []uint32) ([]entry.Frame, error) {
	groups := make([][]located, len(chain))
	for pos, n := range nums {
		found := false
		for i, src := range chain {
			if ref, ok := src.sec.Entry(n); ok {
				groups[i] = append(groups[i], located{pos: pos, ref: ref})
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: log %s entry %d", ErrEntryNotFound, logID, n)
		}
	}

	out := make([]entry.Frame, len(nums))
	g, gctx := errgroup.WithContext(ctx)
	for i, group := range groups {
		if len(group) == 0 {
			continue
		}
		src, group := chain[i], group
		g.Go(func() error {
			sort.Slice(group, func(a, b int) bool { return group[a].ref.Offset < group[b].ref.Offset })
			refs := make([]index.Ref, len(group))
			for k, l := range group {
				refs[k] = l.ref
			}
			frames, err := src.log.ReadMany(gctx, refs)
			if err != nil {
				return fmt.Errorf("read log %s: %w", logID, err)
			}
			for k, l := range group {
				out[l.pos] = frames[k]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetConfig returns the current configuration of logID: the config command
// with the highest entry number across the files holding the log. Commands
// share the number of the next data entry, so a tie is won by the file
// written last: the hot log, then the log's own file, then the frozen hot
// log, then the cold log.
func (s *Store) GetConfig(ctx context.Context, logID id.LogID) (LogConfig, error) {
	if _, err := s.state(ctx, logID); err != nil {
		return LogConfig{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best    index.CommandRef
		bestSrc *source
	)
	chain := s.chainLocked(logID)
	sort.SliceStable(chain, func(i, j int) bool { return configRank(chain[i].role) < configRank(chain[j].role) })
	for i := range chain {
		c, ok := chain[i].sec.LastConfig()
		if !ok {
			continue
		}
		if bestSrc == nil || c.Num > best.Num {
			best, bestSrc = c, &chain[i]
		}
	}
	if bestSrc == nil {
		return LogConfig{}, fmt.Errorf("%w: log %s has no config", ErrEntryNotFound, logID)
	}
	f, err := bestSrc.log.Read(ctx, best.Ref)
	if err != nil {
		return LogConfig{}, fmt.Errorf("read config of %s: %w", logID, err)
	}
	cmd, ok := f.Inner().(*entry.Command)
	if !ok || !cmd.IsConfig() {
		return LogConfig{}, fmt.Errorf("%w: config of %s at offset %d is %s", persist.ErrOffsetMismatch, logID, best.Offset, f.Inner().Type())
	}
	return ParseLogConfig(cmd.Value())
}

func configRank(role int) int {
	switch role {
	case roleHot:
		return 0
	case rolePerLog:
		return 1
	case roleOld:
		return 2
	}
	return 3
}

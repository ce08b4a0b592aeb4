package persist

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rzbill/logsrd/internal/entry"
	"github.com/rzbill/logsrd/internal/index"
	"github.com/rzbill/logsrd/internal/ioqueue"
	"github.com/rzbill/logsrd/pkg/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}

func openTestLog(t *testing.T, opts Options) *Log {
	t.Helper()
	opts.RepairTornTail = true
	l, err := Open(context.Background(), opts, nil)
	if err != nil {
		t.Fatalf("open %s: %v", opts.Path, err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func logIDN(n byte) id.LogID {
	var l id.LogID
	l[0], l[15] = n, n
	return l
}

func globalFrame(logID id.LogID, num uint32, size int) *entry.GlobalLogEntry {
	data := bytes.Repeat([]byte{byte(num)}, size)
	return entry.NewGlobalLogEntry(logID, num, entry.NewBinary(data))
}

type ioResult = ioqueue.Result[Written]

// fillTo appends frames for logID until the file is exactly target bytes long.
// target must not cross a checkpoint boundary. It returns the next entry number.
func fillTo(t *testing.T, l *Log, logID id.LogID, target int64) uint32 {
	t.Helper()
	num := uint32(0)
	for l.ByteLength() < target {
		n := target - l.ByteLength()
		if n > entry.MaxEntrySize {
			n = entry.MaxEntrySize / 2
		}
		appendFrames(t, l, globalFrame(logID, num, int(n)-entry.GlobalPrefixLen-1))
		num++
	}
	require.Equal(t, target, l.ByteLength())
	return num
}

func appendFrames(t *testing.T, l *Log, frames ...entry.Frame) []index.Ref {
	t.Helper()
	w, err := l.Append(context.Background(), &Write{Frames: frames})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return w.Refs
}

func TestEmptyMissingFile(t *testing.T) {
	l := openTestLog(t, Options{Path: testPath(t, "global-hot.log")})
	assert.Equal(t, int64(0), l.ByteLength())
	assert.Empty(t, l.GlobalIndex().LogIDs())
}

func TestWriteReadAndReopen(t *testing.T) {
	path := testPath(t, "global-hot.log")
	l := openTestLog(t, Options{Path: path})
	a, b := logIDN(1), logIDN(2)
	refs := appendFrames(t, l, globalFrame(a, 0, 10), globalFrame(b, 0, 20), globalFrame(a, 1, 30))
	require.Len(t, refs, 3)
	assert.Equal(t, int64(0), refs[0].Offset)
	assert.Equal(t, int64(38), refs[1].Offset)

	f, err := l.Read(context.Background(), refs[2])
	require.NoError(t, err)
	assert.Equal(t, uint32(1), f.Num())
	assert.Equal(t, a, f.(*entry.GlobalLogEntry).LogID)
	require.NoError(t, l.Close())

	re := openTestLog(t, Options{Path: path})
	sec, ok := re.Section(a)
	require.True(t, ok)
	assert.Equal(t, int64(1), sec.MaxEntryNum())
	assert.Equal(t, l.ByteLength(), re.ByteLength())
}

func TestRejectsNonContiguousWrite(t *testing.T) {
	l := openTestLog(t, Options{Path: testPath(t, "hot")})
	appendFrames(t, l, globalFrame(logIDN(1), 0, 1))
	_, err := l.Append(context.Background(), &Write{Frames: []entry.Frame{globalFrame(logIDN(1), 2, 1)}})
	assert.ErrorIs(t, err, index.ErrNonContiguous)
	_, err = l.Append(context.Background(), &Write{Frames: []entry.Frame{entry.NewLogLogEntry(1, entry.NewBinary(nil))}})
	assert.ErrorIs(t, err, ErrWrongKind)
	assert.Equal(t, int64(29), l.ByteLength())
}

// Cumulative lengths crossing k*131072 must place checkpoints so that a fresh
// scan finds exactly what was written.
func TestCheckpointBoundaryExactness(t *testing.T) {
	for _, kind := range []Kind{Global, PerLog} {
		t.Run(kind.String(), func(t *testing.T) {
			path := testPath(t, "boundary.log")
			l := openTestLog(t, Options{Path: path, Kind: kind})
			rng := rand.New(rand.NewSource(7))
			logID := logIDN(9)

			var want []index.Ref
			num := uint32(0)
			for l.ByteLength() < 5*entry.CheckpointInterval {
				var frames []entry.Frame
				for i := 0; i < 1+rng.Intn(8); i++ {
					size := 1 + rng.Intn(entry.MaxEntrySize-2)
					p := entry.NewBinary(bytes.Repeat([]byte{byte(num)}, size))
					if kind == PerLog {
						frames = append(frames, entry.NewLogLogEntry(num, p))
					} else {
						frames = append(frames, entry.NewGlobalLogEntry(logID, num, p))
					}
					num++
				}
				want = append(want, appendFrames(t, l, frames...)...)
			}
			size := l.ByteLength()
			require.NoError(t, l.Close())

			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			require.Equal(t, size, int64(len(raw)))
			for b := int64(entry.CheckpointInterval); b < size; b += entry.CheckpointInterval {
				assert.Equal(t, byte(kind.checkpointType()), raw[b], "boundary %d", b)
			}

			re := openTestLog(t, Options{Path: path, Kind: kind})
			sec, ok := re.Section(logID)
			require.True(t, ok)
			assert.Equal(t, want, sec.Entries())
			assert.Equal(t, size, re.ByteLength())

			got, err := re.ReadMany(context.Background(), sec.Entries())
			require.NoError(t, err)
			for i, f := range got {
				assert.Equal(t, uint32(i), f.Num())
				data := f.Inner().(*entry.Binary).Data()
				assert.Equal(t, byte(i), data[0])
			}
		})
	}
}

func TestCheckpointFirstAtExactBoundary(t *testing.T) {
	path := testPath(t, "exact.log")
	l := openTestLog(t, Options{Path: path})
	logID := logIDN(3)
	// 4 frames of exactly 32768 bytes end on the first boundary.
	payload := entry.MaxEntrySize - entry.GlobalPrefixLen - 1
	for n := uint32(0); n < 4; n++ {
		appendFrames(t, l, globalFrame(logID, n, payload))
	}
	require.Equal(t, int64(entry.CheckpointInterval), l.ByteLength())
	refs := appendFrames(t, l, globalFrame(logID, 4, 5))
	assert.Equal(t, int64(entry.CheckpointInterval+entry.GlobalCheckpointLen), refs[0].Offset)
	require.NoError(t, l.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	cp, err := entry.Decode(raw[entry.CheckpointInterval : entry.CheckpointInterval+entry.GlobalCheckpointLen])
	require.NoError(t, err)
	off, length := cp.(entry.Checkpoint).Last()
	assert.Zero(t, off)
	assert.Zero(t, length)

	re := openTestLog(t, Options{Path: path})
	sec, _ := re.Section(logID)
	assert.Equal(t, int64(4), sec.MaxEntryNum())
}

func TestSplitEntryRecordsCheckpoint(t *testing.T) {
	path := testPath(t, "split.log")
	l := openTestLog(t, Options{Path: path})
	logID := logIDN(4)
	num := fillTo(t, l, logID, entry.CheckpointInterval-1000)
	refs := appendFrames(t, l, globalFrame(logID, num, 3000))
	require.Equal(t, int64(entry.CheckpointInterval-1000), refs[0].Offset)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	cp, err := entry.Decode(raw[entry.CheckpointInterval : entry.CheckpointInterval+entry.GlobalCheckpointLen])
	require.NoError(t, err)
	off, length := cp.(entry.Checkpoint).Last()
	assert.Equal(t, uint16(1000), off)
	assert.Equal(t, uint16(3028), length)

	f, err := l.Read(context.Background(), refs[0])
	require.NoError(t, err)
	assert.Len(t, f.Inner().(*entry.Binary).Data(), 3000)
}

func TestCrashRecoveryDropsPartialEntry(t *testing.T) {
	path := testPath(t, "crash.log")
	l := openTestLog(t, Options{Path: path})
	logID := logIDN(5)
	var refs []index.Ref
	for n := uint32(0); n < 10; n++ {
		refs = append(refs, appendFrames(t, l, globalFrame(logID, n, 100))...)
	}
	require.NoError(t, l.Close())

	last := refs[9]
	require.NoError(t, os.Truncate(path, last.Offset+40))

	_, err := Open(context.Background(), Options{Path: path}, nil)
	assert.ErrorIs(t, err, ErrTornTail)

	re := openTestLog(t, Options{Path: path})
	sec, _ := re.Section(logID)
	assert.Equal(t, int64(8), sec.MaxEntryNum())
	assert.Equal(t, last.Offset, re.ByteLength())

	backups, _ := filepath.Glob(path + ".truncated.*")
	require.Len(t, backups, 1)
	tail, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Len(t, tail, 40)

	// writes continue where the good prefix ended
	appendFrames(t, re, globalFrame(logID, 9, 100))
	assert.Equal(t, last.End(), re.ByteLength())
}

func TestCrashRecoveryInsideSplitEntry(t *testing.T) {
	path := testPath(t, "crash-split.log")
	l := openTestLog(t, Options{Path: path})
	logID := logIDN(6)
	num := fillTo(t, l, logID, entry.CheckpointInterval-500)
	refs := appendFrames(t, l, globalFrame(logID, num, 2000))
	require.NoError(t, l.Close())

	// keep the head and the checkpoint but lose most of the tail
	require.NoError(t, os.Truncate(path, entry.CheckpointInterval+entry.GlobalCheckpointLen+10))

	re := openTestLog(t, Options{Path: path})
	sec, _ := re.Section(logID)
	assert.Equal(t, int64(num)-1, sec.MaxEntryNum())
	assert.Equal(t, refs[0].Offset, re.ByteLength())

	again := appendFrames(t, re, globalFrame(logID, num, 2000))
	assert.Equal(t, refs[0], again[0])
	f, err := re.Read(context.Background(), again[0])
	require.NoError(t, err)
	assert.Equal(t, num, f.Num())
}

func TestChecksumFailureSurfacesOnRead(t *testing.T) {
	path := testPath(t, "corrupt.log")
	l := openTestLog(t, Options{Path: path})
	logID := logIDN(7)
	refs := appendFrames(t, l, globalFrame(logID, 0, 10), globalFrame(logID, 1, 10), globalFrame(logID, 2, 10))

	fh, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = fh.WriteAt([]byte{0xff}, refs[1].Offset+30)
	require.NoError(t, err)
	require.NoError(t, fh.Close())

	_, err = l.Read(context.Background(), refs[1])
	assert.ErrorIs(t, err, ErrChecksum)
	require.NoError(t, l.Close())

	re := openTestLog(t, Options{Path: path})
	sec, _ := re.Section(logID)
	assert.Equal(t, int64(0), sec.MaxEntryNum())
	assert.Equal(t, refs[1].Offset, re.ByteLength())
}

// partialWriter writes only the first keep bytes and reports them.
func partialWriter(keep int, after func()) WriteFunc {
	return func(f *os.File, segs [][]byte) (int, error) {
		var all []byte
		for _, s := range segs {
			all = append(all, s...)
		}
		n, err := f.Write(all[:keep])
		if after != nil {
			after()
		}
		return n, err
	}
}

func TestShortWriteTruncatesWithBackup(t *testing.T) {
	path := testPath(t, "short.log")
	var fail atomic.Bool
	opts := Options{Path: path}
	opts.WriteFunc = func(f *os.File, segs [][]byte) (int, error) {
		if fail.Load() {
			return partialWriter(17, nil)(f, segs)
		}
		return vectoredWrite(f, segs)
	}
	l := openTestLog(t, opts)
	logID := logIDN(8)
	appendFrames(t, l, globalFrame(logID, 0, 50))
	good := l.ByteLength()

	fail.Store(true)
	aborted := 0
	_, err := l.Append(context.Background(), &Write{
		Frames: []entry.Frame{globalFrame(logID, 1, 50)},
		Abort:  func() { aborted++ },
	})
	assert.ErrorIs(t, err, ErrShortWrite)
	assert.Equal(t, 1, aborted)

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, good, st.Size())
	assert.Equal(t, good, l.ByteLength())

	backups, _ := filepath.Glob(path + ".truncated.*")
	require.Len(t, backups, 1)
	tail, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	want := entry.Bytes(globalFrame(logID, 1, 50))[:17]
	assert.Equal(t, want, tail)

	fail.Store(false)
	refs := appendFrames(t, l, globalFrame(logID, 1, 50))
	assert.Equal(t, good, refs[0].Offset)
	assert.NoError(t, l.Failed())
}

func TestShortWriteWithFailedTruncateStopsLog(t *testing.T) {
	path := testPath(t, "doomed.log")
	var fail atomic.Bool
	opts := Options{Path: path}
	opts.WriteFunc = func(f *os.File, segs [][]byte) (int, error) {
		if fail.Load() {
			// the file vanishes, so the backup copy cannot be made
			return partialWriter(5, func() { _ = os.Remove(path) })(f, segs)
		}
		return vectoredWrite(f, segs)
	}
	l := openTestLog(t, opts)
	logID := logIDN(10)
	appendFrames(t, l, globalFrame(logID, 0, 50))
	good := l.ByteLength()

	fail.Store(true)
	_, err := l.Append(context.Background(), &Write{Frames: []entry.Frame{globalFrame(logID, 1, 50)}})
	assert.ErrorIs(t, err, ErrLogFailed)
	assert.Equal(t, good+5, l.ByteLength())

	fail.Store(false)
	_, err = l.Append(context.Background(), &Write{Frames: []entry.Frame{globalFrame(logID, 1, 50)}})
	assert.ErrorIs(t, err, ErrLogFailed)
}

func TestMigrationBlocks(t *testing.T) {
	path := testPath(t, "logs/ab/cd/x.log")
	l := openTestLog(t, Options{Path: path, Kind: PerLog})
	cfg := entry.NewLogLogEntry(0, entry.NewCreateLog([]byte(`{"type":"binary"}`)))
	block := []entry.Frame{
		entry.NewLogLogEntry(0, entry.NewBeginWrite(3)),
		cfg,
		entry.NewLogLogEntry(0, entry.NewBinary([]byte("a"))),
		entry.NewLogLogEntry(1, entry.NewBinary([]byte("b"))),
		entry.NewLogLogEntry(2, entry.NewEndWrite(3)),
	}
	appendFrames(t, l, block...)
	committed := l.ByteLength()
	assert.Equal(t, int64(1), l.LogIndex().MaxEntryNum())
	assert.True(t, l.LogIndex().HasConfig())

	// a block that never got its end marker
	appendFrames(t, l,
		entry.NewLogLogEntry(2, entry.NewBeginWrite(1)),
		entry.NewLogLogEntry(2, entry.NewBinary([]byte("c"))),
	)
	require.NoError(t, l.Close())

	re := openTestLog(t, Options{Path: path, Kind: PerLog})
	assert.Equal(t, int64(1), re.LogIndex().MaxEntryNum())
	assert.Equal(t, committed, re.ByteLength())
	c, ok := re.LogIndex().LastConfig()
	require.True(t, ok)
	assert.Equal(t, entry.CreateLog, c.Name)
}

type countingMetrics struct {
	NoopMetrics
	reads    atomic.Int32
	writes   atomic.Int32
	truncate atomic.Int64
}

func (m *countingMetrics) ObserveRead(time.Duration, int)       { m.reads.Add(1) }
func (m *countingMetrics) ObserveWrite(time.Duration, int, int) { m.writes.Add(1) }
func (m *countingMetrics) ObserveTruncate(n int64)              { m.truncate.Add(n) }

func TestReadManyCoalescesAdjacentEntries(t *testing.T) {
	m := &countingMetrics{}
	l := openTestLog(t, Options{Path: testPath(t, "hot"), Metrics: m})
	logID := logIDN(11)
	refs := appendFrames(t, l, globalFrame(logID, 0, 10), globalFrame(logID, 1, 10), globalFrame(logID, 2, 10))
	assert.Equal(t, int32(1), m.writes.Load())

	got, err := l.ReadMany(context.Background(), []index.Ref{refs[0], refs[1], refs[2]})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int32(1), m.reads.Load())

	_, err = l.ReadMany(context.Background(), []index.Ref{refs[0], refs[2]})
	require.NoError(t, err)
	assert.Equal(t, int32(3), m.reads.Load())
}

func TestTruncateAndBackup(t *testing.T) {
	m := &countingMetrics{}
	path := testPath(t, "cold")
	l := openTestLog(t, Options{Path: path, Metrics: m})
	logID := logIDN(12)
	refs := appendFrames(t, l, globalFrame(logID, 0, 10), globalFrame(logID, 1, 10))
	backup, err := l.TruncateAndBackup(refs[1].Offset)
	require.NoError(t, err)
	require.NotEmpty(t, backup)
	assert.Equal(t, int64(refs[1].Length), m.truncate.Load())
	sec, _ := l.Section(logID)
	assert.Equal(t, int64(0), sec.MaxEntryNum())

	tail, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(tail[17:21]))

	_, err = l.TruncateAndBackup(1 << 20)
	assert.True(t, errors.Is(err, ErrOffsetMismatch))
}

func TestConcurrentAppendsShareBatches(t *testing.T) {
	l := openTestLog(t, Options{Path: testPath(t, "hot")})
	logID := logIDN(13)
	next := uint32(0)
	l.Pause()
	var chans []<-chan ioResult
	for i := 0; i < 100; i++ {
		chans = append(chans, l.Submit(&Write{Key: logID, Build: func() []entry.Frame {
			f := globalFrame(logID, next, 4)
			next++
			return []entry.Frame{f}
		}}))
	}
	l.Resume()
	for i, ch := range chans {
		r := <-ch
		require.NoError(t, r.Err)
		assert.Equal(t, uint32(i), r.Value.Refs[0].Num)
	}
	assert.Equal(t, uint64(1), l.WriteBatches())
}

func TestPerLogFileBatchesInOrder(t *testing.T) {
	path := testPath(t, "logs/ab/cd/y.log")
	l := openTestLog(t, Options{Path: path, Kind: PerLog})
	appendFrames(t, l, entry.NewLogLogEntry(0, entry.NewCreateLog([]byte(`{"type":"json"}`))))

	next := uint32(0)
	l.Pause()
	var chans []<-chan ioResult
	for i := 0; i < 50; i++ {
		i := i
		chans = append(chans, l.Submit(&Write{Build: func() []entry.Frame {
			if i == 25 {
				return []entry.Frame{entry.NewLogLogEntry(next, entry.NewSetConfig([]byte(`{"type":"binary"}`)))}
			}
			f := entry.NewLogLogEntry(next, entry.NewBinary([]byte{byte(i)}))
			next++
			return []entry.Frame{f}
		}}))
	}
	l.Resume()
	for _, ch := range chans {
		r := <-ch
		require.NoError(t, r.Err)
	}
	assert.Equal(t, uint64(2), l.WriteBatches())
	assert.Equal(t, int64(48), l.LogIndex().MaxEntryNum())
	c, ok := l.LogIndex().LastConfig()
	require.True(t, ok)
	assert.Equal(t, entry.SetConfig, c.Name)
	assert.Equal(t, uint32(25), c.Num)
	require.NoError(t, l.Close())

	re := openTestLog(t, Options{Path: path, Kind: PerLog})
	assert.Equal(t, int64(48), re.LogIndex().MaxEntryNum())
	c, ok = re.LogIndex().LastConfig()
	require.True(t, ok)
	assert.Equal(t, entry.SetConfig, c.Name)
}

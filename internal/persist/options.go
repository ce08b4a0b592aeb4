package persist

import (
	"errors"
	"os"
	"time"

	"github.com/rzbill/logsrd/internal/entry"
	logpkg "github.com/rzbill/logsrd/pkg/log"
)

// Kind selects the frame and checkpoint types a file holds.
type Kind int

const (
	// Global files (hot, cold) hold GlobalLogEntry frames for many logs.
	Global Kind = iota
	// PerLog files hold LogLogEntry frames for a single log.
	PerLog
)

func (k Kind) String() string {
	if k == PerLog {
		return "per-log"
	}
	return "global"
}

func (k Kind) frameType() entry.Type {
	if k == PerLog {
		return entry.TypeLogLog
	}
	return entry.TypeGlobalLog
}

func (k Kind) checkpointType() entry.Type {
	if k == PerLog {
		return entry.TypeLogCheckpoint
	}
	return entry.TypeGlobalCheckpoint
}

func (k Kind) checkpointLen() int {
	if k == PerLog {
		return entry.LogCheckpointLen
	}
	return entry.GlobalCheckpointLen
}

// DefaultReadHandles is the read handle bound for each kind.
func (k Kind) DefaultReadHandles() int {
	if k == PerLog {
		return 4
	}
	return 16
}

var (
	ErrChecksum       = errors.New("persist: checksum mismatch")
	ErrShortWrite     = errors.New("persist: short write")
	ErrLogFailed      = errors.New("persist: log failed, operator intervention required")
	ErrOffsetMismatch = errors.New("persist: offset mismatch")
	ErrTornTail       = errors.New("persist: torn tail")
	ErrWrongKind      = errors.New("persist: entry does not belong in this file")
)

// WriteFunc writes segments to f and returns the bytes written. Tests swap it
// to inject short writes.
type WriteFunc func(f *os.File, segs [][]byte) (int, error)

// MetricsHook observes file IO.
type MetricsHook interface {
	ObserveWrite(elapsed time.Duration, entries int, bytes int)
	ObserveSync(elapsed time.Duration)
	ObserveRead(elapsed time.Duration, bytes int)
	ObserveTruncate(bytes int64)
}

// NoopMetrics is used when no hook is provided.
type NoopMetrics struct{}

func (NoopMetrics) ObserveWrite(time.Duration, int, int) {}
func (NoopMetrics) ObserveSync(time.Duration)            {}
func (NoopMetrics) ObserveRead(time.Duration, int)       {}
func (NoopMetrics) ObserveTruncate(int64)                {}

// Options configures a Log.
type Options struct {
	Path string
	Kind Kind
	// ReadHandles bounds open read handles. Zero uses Kind.DefaultReadHandles.
	ReadHandles int
	// Sync issues a data sync after every write batch.
	Sync bool
	// RepairTornTail backs up and truncates an incomplete or corrupt tail on
	// Init. When false Init fails with ErrTornTail instead.
	RepairTornTail bool
	// MaxBatch caps writes per batch. Zero means no cap.
	MaxBatch int

	Logger    logpkg.Logger
	Metrics   MetricsHook
	WriteFunc WriteFunc
}

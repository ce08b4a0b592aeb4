package persist

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
)

// TruncateAndBackup copies everything from length to the end of the file into
// a timestamped backup and truncates the file to length. Writes are paused
// for the duration. It returns the backup path, or "" when there was nothing
// past length.
func (l *Log) TruncateAndBackup(length int64) (string, error) {
	l.writes.Pause()
	defer l.writes.Resume()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.truncateLocked(length)
}

func (l *Log) truncateLocked(length int64) (string, error) {
	src, err := os.Open(l.path)
	if err != nil {
		return "", err
	}
	defer src.Close()
	st, err := src.Stat()
	if err != nil {
		return "", err
	}
	size := st.Size()
	if size < length {
		return "", fmt.Errorf("%w: truncate %s to %d beyond size %d", ErrOffsetMismatch, l.path, length, size)
	}

	backup := ""
	if size > length {
		backup = l.path + ".truncated." + strconv.FormatInt(time.Now().UnixNano(), 10)
		if err := copyTail(src, length, size-length, backup); err != nil {
			return "", fmt.Errorf("backup %s: %w", backup, err)
		}
	}
	if err := os.Truncate(l.path, length); err != nil {
		return backup, err
	}
	if err := l.pool.reset(); err != nil {
		l.logger.Warn("closing read handles after truncate: " + err.Error())
	}
	if l.global != nil {
		l.global.TruncateFrom(length)
	} else {
		l.local.TruncateFrom(length)
	}
	if l.lastConfig >= length {
		l.lastConfig = 0
		if cfg, ok := l.localConfig(); ok {
			l.lastConfig = cfg
		}
	}
	l.byteLength = length
	l.metrics.ObserveTruncate(size - length)
	return backup, nil
}

func (l *Log) localConfig() (int64, bool) {
	if l.local == nil {
		return 0, false
	}
	c, ok := l.local.LastConfig()
	return c.Offset, ok
}

func copyTail(src *os.File, off, n int64, path string) error {
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, io.NewSectionReader(src, off, n)); err != nil {
		return multierror.Append(err, dst.Close()).ErrorOrNil()
	}
	if err := dst.Sync(); err != nil {
		return multierror.Append(err, dst.Close()).ErrorOrNil()
	}
	return dst.Close()
}

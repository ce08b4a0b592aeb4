//go:build linux

package persist

import (
	"errors"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// iovMax is the kernel's per-call iovec limit.
const iovMax = 1024

// vectoredWrite writes segs with writev, continuing after partial writes
// until everything is written, an error occurs, or no progress is made.
func vectoredWrite(f *os.File, segs [][]byte) (int, error) {
	fd := int(f.Fd())
	total := 0
	segs = dropEmpty(segs)
	for len(segs) > 0 {
		batch := segs
		if len(batch) > iovMax {
			batch = batch[:iovMax]
		}
		n, err := unix.Writev(fd, batch)
		if n > 0 {
			total += n
			segs = advance(segs, n)
		}
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

func datasync(f *os.File) error {
	for {
		err := unix.Fdatasync(int(f.Fd()))
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

func syncDir(dir string) error {
	fd, err := unix.Open(dir, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	return unix.Fsync(fd)
}

//go:build !linux

package persist

import "os"

func vectoredWrite(f *os.File, segs [][]byte) (int, error) {
	total := 0
	for _, s := range segs {
		n, err := f.Write(s)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func datasync(f *os.File) error { return f.Sync() }

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

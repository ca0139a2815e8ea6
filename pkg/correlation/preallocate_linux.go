//go:build linux

package correlation

import (
	"os"

	"golang.org/x/sys/unix"
)

// preallocate reserves size bytes on disk for f. Filesystems without
// fallocate fall back to Truncate.
func preallocate(f *os.File, size int64) error {
	if err := unix.Fallocate(int(f.Fd()), 0, 0, size); err == nil {
		return nil
	}
	return f.Truncate(size)
}

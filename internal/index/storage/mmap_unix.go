//go:build unix

package storage

import (
	"os"

	"golang.org/x/sys/unix"
)

// readMapped maps path read-only and hands the mapping to decode. The mapping is released when
// decode returns, so decode must not retain its argument.
func readMapped(path string, decode func([]byte) ([]byte, error)) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return decode(nil)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	defer unix.Munmap(data) //nolint:errcheck

	return decode(data)
}

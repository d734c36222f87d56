// Package shm contains the platform helpers behind shared mailbox regions:
// mapping a file into memory and taking a non-blocking advisory lock on it.
package shm

import (
	"errors"
	"os"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

const devShm = "/dev/shm"

// ErrUnsupported is returned on platforms without mmap/flock support.
var ErrUnsupported = errors.New("shared regions are not supported on " + runtime.GOOS)

// MappedRegion represents a memory-mapped shared region.
type MappedRegion struct {
	Addr []byte
	Path string
	fd   int
}

// MapOptions defines options for mapping shared memory.
type MapOptions struct {
	Path   string
	Size   int
	Create bool
}

// CanCreate reports whether a region of size bytes fits at path. Only paths
// on /dev/shm are checked, every other location always reports true.
func CanCreate(size uint64, path string) bool {
	if runtime.GOOS != "linux" || !strings.HasPrefix(path, devShm) {
		return true
	}
	stat, err := disk.Usage(devShm)
	if err != nil {
		return true
	}
	return stat.Free >= size
}

// RemoveRegion unlinks the backing file. A missing file is not an error.
func RemoveRegion(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

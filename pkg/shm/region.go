package shm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/srediag/shmbox/internal/logging"
	internalshm "github.com/srediag/shmbox/internal/shm"
)

var regionLogger = logging.New("shm", nil)

// ErrClosed is returned when a closed Region is used.
var ErrClosed = errors.New("shared region is closed")

// OpenOptions defines options for creating or opening a shared memory region.
type OpenOptions struct {
	// Path is the backing file, usually under /dev/shm.
	Path string
	// Size is the region size in bytes.
	Size int
	// Create indicates whether to create (if not exists) or open existing.
	Create bool
}

// Region is a mapped shared memory file plus its exclusive lock.
type Region struct {
	mapped *internalshm.MappedRegion
	mu     sync.Mutex
	closed bool
}

// Open creates or opens a shared memory region with the given options.
func Open(ctx context.Context, opts OpenOptions) (*Region, error) {
	if opts.Size <= 0 {
		return nil, errors.New("invalid region size")
	}
	if opts.Path == "" {
		return nil, errors.New("empty region path")
	}
	mapped, err := internalshm.MapRegion(ctx, internalshm.MapOptions{
		Path:   opts.Path,
		Size:   opts.Size,
		Create: opts.Create,
	})
	if err != nil {
		return nil, fmt.Errorf("map region: %w", err)
	}
	regionLogger.Debugf("mapped %s (%d bytes)", opts.Path, opts.Size)
	return &Region{mapped: mapped}, nil
}

// Bytes returns the mapped memory. Callers must hold the lock while
// touching it.
func (r *Region) Bytes() []byte {
	return r.mapped.Addr
}

// Path returns the backing file path.
func (r *Region) Path() string {
	return r.mapped.Path
}

// TryLock reports whether the caller now holds the region exclusively. It
// never waits: contention from this process or another one yields false.
func (r *Region) TryLock() bool {
	if !r.mu.TryLock() {
		return false
	}
	if r.closed {
		r.mu.Unlock()
		return false
	}
	ok, err := r.mapped.TryLock()
	if err != nil {
		regionLogger.Warnf("lock %s: %v", r.mapped.Path, err)
	}
	if !ok {
		r.mu.Unlock()
		return false
	}
	return true
}

// Unlock releases the lock taken by TryLock.
func (r *Region) Unlock() {
	if err := r.mapped.Unlock(); err != nil {
		regionLogger.Errorf("unlock %s: %v", r.mapped.Path, err)
	}
	r.mu.Unlock()
}

// Close unmaps the region. The backing file stays; see Remove.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.closed = true
	return internalshm.UnmapRegion(context.Background(), r.mapped)
}

// Remove unlinks the backing file. Processes that still map it keep their
// view until they close it.
func (r *Region) Remove() error {
	return internalshm.RemoveRegion(r.mapped.Path)
}

// RemoveFile unlinks the region file at path. A missing file is not an error.
func RemoveFile(path string) error {
	return internalshm.RemoveRegion(path)
}

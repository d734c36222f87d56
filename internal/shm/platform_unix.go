//go:build linux || darwin

package shm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// MapRegion maps or creates a shared memory region.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Size <= 0 {
		return nil, fmt.Errorf("invalid region size %d", opts.Size)
	}
	flags := unix.O_RDWR | unix.O_CLOEXEC
	if opts.Create {
		//ignore mkdir error, open reports the real problem
		_ = os.MkdirAll(filepath.Dir(opts.Path), 0o755)
		if !CanCreate(uint64(opts.Size), opts.Path) {
			return nil, fmt.Errorf("no space left for %d bytes at %s", opts.Size, opts.Path)
		}
		flags |= unix.O_CREAT
	}
	fd, err := unix.Open(opts.Path, flags, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Path, err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("fstat: %w", err)
	}
	if st.Size < int64(opts.Size) {
		if !opts.Create {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("region %s is %d bytes, want %d", opts.Path, st.Size, opts.Size)
		}
		if err := unix.Ftruncate(fd, int64(opts.Size)); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("ftruncate: %w", err)
		}
	}
	addr, err := unix.Mmap(fd, 0, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &MappedRegion{
		Addr: addr,
		Path: opts.Path,
		fd:   fd,
	}, nil
}

// UnmapRegion unmaps and closes the shared memory region. The backing file
// is left in place.
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	if region == nil || region.Addr == nil {
		return nil
	}
	var errs []error
	if err := unix.Munmap(region.Addr); err != nil {
		errs = append(errs, fmt.Errorf("munmap: %w", err))
	}
	region.Addr = nil
	if err := unix.Close(region.fd); err != nil {
		errs = append(errs, fmt.Errorf("close fd %d: %w", region.fd, err))
	}
	region.fd = -1
	return errors.Join(errs...)
}

// TryLock takes an exclusive advisory lock on the region file without
// blocking. It reports false when another open file description holds it.
func (r *MappedRegion) TryLock() (bool, error) {
	err := unix.Flock(r.fd, unix.LOCK_EX|unix.LOCK_NB)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.EINTR):
		return false, nil
	default:
		return false, fmt.Errorf("flock: %w", err)
	}
}

// Unlock releases the advisory lock taken by TryLock.
func (r *MappedRegion) Unlock() error {
	if err := unix.Flock(r.fd, unix.LOCK_UN); err != nil {
		return fmt.Errorf("flock unlock: %w", err)
	}
	return nil
}

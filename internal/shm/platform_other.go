//go:build !linux && !darwin

package shm

import "context"

// MapRegion is not available on this platform.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	return nil, ErrUnsupported
}

// UnmapRegion is not available on this platform.
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	return ErrUnsupported
}

func (r *MappedRegion) TryLock() (bool, error) {
	return false, ErrUnsupported
}

func (r *MappedRegion) Unlock() error {
	return ErrUnsupported
}

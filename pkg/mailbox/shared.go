package mailbox

import (
	"context"
	"errors"

	"github.com/srediag/shmbox/pkg/shm"
)

// SharedOptions selects the region behind a shared mailbox.
type SharedOptions struct {
	// Path is the backing file, e.g. /dev/shm/shmbox.
	Path string
	// Create makes the file when it does not exist yet.
	Create bool
}

// OpenShared maps the mailbox stored at opts.Path. Every process that opens
// the same path shares the slot and its guard. Close unmaps the region.
func OpenShared(ctx context.Context, opts SharedOptions, mbOpts ...Option) (*Mailbox, error) {
	region, err := shm.Open(ctx, shm.OpenOptions{
		Path:   opts.Path,
		Size:   RegionSize,
		Create: opts.Create,
	})
	if err != nil {
		return nil, err
	}
	mb, err := NewWithRegion(region.Bytes(), region, mbOpts...)
	if err != nil {
		return nil, errors.Join(err, region.Close())
	}
	mb.closer = region
	return mb, nil
}

// RemoveShared unlinks the region file at path. Mappings that are still open
// keep working until they are closed.
func RemoveShared(path string) error {
	return shm.RemoveFile(path)
}

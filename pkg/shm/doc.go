// Package shm provides shared memory regions for inter-process communication (IPC).
//
// A Region is a file mapped into memory with MAP_SHARED, so every process
// that opens the same path sees the same bytes. Each Region also carries a
// non-blocking exclusive lock: an in-process mutex stacked on flock(2), so
// holders are mutually exclusive across goroutines and across processes.
//
// Example usage:
//
//	r, err := shm.Open(ctx, shm.OpenOptions{
//	  Path:   "/dev/shm/shmbox",
//	  Size:   mailbox.RegionSize,
//	  Create: true,
//	})
//	// ...
//	if r.TryLock() {
//	  copy(r.Bytes(), data)
//	  r.Unlock()
//	}
//
// Platform-specific helpers are in internal/shm.
package shm

package mailbox

import "sync"

// Guard is an exclusive-access lock that never blocks.
//
// TryLock reports whether the caller now holds the guard. Unlock must only be
// called by the holder.
type Guard interface {
	TryLock() bool
	Unlock()
}

// MutexGuard is the in-process Guard.
type MutexGuard struct {
	mu sync.Mutex
}

func (g *MutexGuard) TryLock() bool {
	return g.mu.TryLock()
}

func (g *MutexGuard) Unlock() {
	g.mu.Unlock()
}

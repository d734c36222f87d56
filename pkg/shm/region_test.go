//go:build linux || darwin

package shm

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRegion(t *testing.T, path string, create bool) *Region {
	t.Helper()
	r, err := Open(context.Background(), OpenOptions{Path: path, Size: 128, Create: create})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRegionAPI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "testshm")
	w := openTestRegion(t, path, true)
	r := openTestRegion(t, path, false)

	require.True(t, w.TryLock())
	copy(w.Bytes(), "hello world")
	w.Unlock()

	require.True(t, r.TryLock())
	assert.Equal(t, "hello world", string(r.Bytes()[:11]))
	r.Unlock()
	assert.Equal(t, path, r.Path())
}

func TestRegionOpenInvalid(t *testing.T) {
	_, err := Open(context.Background(), OpenOptions{Path: "x", Size: 0})
	assert.Error(t, err)
	_, err = Open(context.Background(), OpenOptions{Size: 8})
	assert.Error(t, err)
}

func TestRegionTryLockAcrossMappings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	a := openTestRegion(t, path, true)
	b := openTestRegion(t, path, false)

	require.True(t, a.TryLock())
	assert.False(t, a.TryLock(), "same region is busy")
	assert.False(t, b.TryLock(), "other mapping is busy")
	a.Unlock()
	require.True(t, b.TryLock())
	b.Unlock()
}

func TestRegionTryLockGoroutines(t *testing.T) {
	r := openTestRegion(t, filepath.Join(t.TempDir(), "race"), true)

	var holders, maxHolders atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 200; k++ {
				if !r.TryLock() {
					continue
				}
				h := holders.Add(1)
				for {
					m := maxHolders.Load()
					if h <= m || maxHolders.CompareAndSwap(m, h) {
						break
					}
				}
				holders.Add(-1)
				r.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxHolders.Load())
}

func TestRegionCloseAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closed")
	r, err := Open(context.Background(), OpenOptions{Path: path, Size: 8, Create: true})
	require.NoError(t, err)

	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.Close(), ErrClosed)
	assert.False(t, r.TryLock())

	require.NoError(t, r.Remove())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

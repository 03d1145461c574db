package indexer

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// keyedLocks serializes work per string key. Lock handles are created
// lazily and shared by every caller of the same key; unrelated keys never
// contend.
type keyedLocks struct {
	locks *xsync.MapOf[string, *sync.Mutex]
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: xsync.NewMapOf[string, *sync.Mutex]()}
}

// acquire blocks until the key's lock is held and returns the release
// function. The release is safe to call exactly once from any exit path;
// calling it again is a no-op.
func (k *keyedLocks) acquire(key string) func() {
	mu, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu.Lock()

	var once sync.Once
	return func() {
		once.Do(mu.Unlock)
	}
}

// Package store provides the key-value persistence layer for webdb:
// per-table record stores and the archive meta store, with pebble and
// SQLite backends behind a common interface.
package store

import "errors"

var (
	// ErrNotFound is returned by Get when the key is absent.
	ErrNotFound = errors.New("store: key not found")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")
)

// Store is a flat string-keyed byte store. Implementations must be safe
// for concurrent use; the engine issues overlapping reads and writes from
// indexing passes on different archives.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Put writes or overwrites the value for key.
	Put(key string, value []byte) error

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(key string) error

	// Clear removes every key in the store.
	Clear() error

	// ScanPrefix calls fn for each key with the given prefix, in key
	// order. An empty prefix scans the whole store. Returning an error
	// from fn stops the scan and propagates the error.
	ScanPrefix(prefix string, fn func(key string, value []byte) error) error

	// Close releases the store's resources.
	Close() error
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix, or nil when no upper bound exists.
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

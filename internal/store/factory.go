package store

import "fmt"

// Backend identifies a store implementation.
type Backend string

const (
	// BackendPebble stores data in a pebble LSM directory.
	BackendPebble Backend = "pebble"
	// BackendSQLite stores data in a single SQLite file.
	BackendSQLite Backend = "sqlite"
	// BackendMemory keeps data in process memory; nothing persists.
	BackendMemory Backend = "memory"
)

// DefaultBackend is used when the configuration does not name one.
const DefaultBackend = BackendPebble

// Options tunes backend-specific behavior. The zero value is fine.
type Options struct {
	// SQLiteCacheMB sizes the sqlite page cache. Zero means 64.
	SQLiteCacheMB int
}

// Open creates a store of the given backend at path. For pebble the path
// is a directory, for SQLite a database file; memory ignores it.
func Open(backend Backend, path string, opts Options) (Store, error) {
	switch backend {
	case BackendPebble:
		return OpenPebble(path)
	case BackendSQLite:
		return OpenSQLite(path, opts.SQLiteCacheMB)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// ValidBackend reports whether b names a known backend.
func ValidBackend(b Backend) bool {
	switch b {
	case BackendPebble, BackendSQLite, BackendMemory:
		return true
	}
	return false
}

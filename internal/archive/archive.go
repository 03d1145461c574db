// Package archive defines the contract the indexing engine consumes from
// versioned file archives, plus two implementations: an in-memory archive
// and a local-directory archive.
//
// An archive is an append-only, independently versioned file tree. The
// engine only reads: current info, a linear change history, file
// contents, and a live activity stream.
package archive

import "context"

// ChangeType distinguishes history entries.
type ChangeType uint8

const (
	// ChangePut records a file write at some version.
	ChangePut ChangeType = iota
	// ChangeDelete records a file deletion at some version.
	ChangeDelete
)

// String returns a human-readable representation of the change type.
func (c ChangeType) String() string {
	switch c {
	case ChangePut:
		return "put"
	case ChangeDelete:
		return "del"
	default:
		return "unknown"
	}
}

// Change is one history entry: the latest state of a path at a version.
type Change struct {
	Path    string
	Type    ChangeType
	Version uint64
}

// Info is an archive's current state.
type Info struct {
	// Version is the archive's monotonically increasing version.
	Version uint64
	// IsOwner reports whether this node can write to the archive.
	IsOwner bool
	// LocalPath is the local checkout path, when one exists.
	LocalPath string
}

// ActivityType distinguishes live activity events.
type ActivityType uint8

const (
	// ActivityInvalidated announces data that exists remotely but has
	// not been downloaded locally.
	ActivityInvalidated ActivityType = iota
	// ActivityChanged announces a local content change.
	ActivityChanged
)

// ActivityEvent is one live file event from an archive.
type ActivityEvent struct {
	Type ActivityType
	Path string
}

// ActivityStream is a live subscription to an archive's file activity.
type ActivityStream interface {
	// Events returns the event channel. It is closed when the stream is
	// closed or the archive goes away.
	Events() <-chan ActivityEvent

	// Close unsubscribes. Safe to call more than once.
	Close() error
}

// Archive is the versioned file tree contract the engine consumes.
// Implementations must be safe for concurrent use.
type Archive interface {
	// URL returns the archive's stable identifier.
	URL() string

	// Info returns the archive's current version and writability.
	Info(ctx context.Context) (Info, error)

	// History returns the ordered changes covering versions
	// [start, end). Only the latest change per path per version is
	// reported.
	History(ctx context.Context, start, end uint64) ([]Change, error)

	// ReadFile returns the content of path at the current version.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// Download fetches path's content from the network. A no-op for
	// archives whose data is already local.
	Download(ctx context.Context, path string) error

	// ActivityStream subscribes to live file activity, filtered to
	// paths matching any of the given patterns. Nil or empty patterns
	// subscribe to everything.
	ActivityStream(patterns []string) (ActivityStream, error)
}

// Opener reconstructs an archive handle from its persisted identity.
// The lifecycle manager uses it to bring persisted archives back under
// management at startup.
type Opener func(ctx context.Context, url, localPath string) (Archive, error)

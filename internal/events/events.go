// Package events defines the typed signal surface of the indexing engine.
//
// Consumers implement Listener (usually by embedding NopListener) and
// subscribe through a Broadcaster. There is no global event bus; every
// signal is a plain method call on registered listeners.
package events

import "sync"

// Listener receives engine signals. Implementations must be safe for
// concurrent calls; signals for different archives may arrive in parallel.
type Listener interface {
	// IndexUpdated fires once per table touched by an indexing pass.
	IndexUpdated(table string, archiveURL string, version uint64)

	// IndexesUpdated fires once per indexing pass that touched any table.
	IndexesUpdated(archiveURL string, version uint64)

	// SourceMissing fires when an archive's initial indexing failed
	// because the archive is unreachable; the resilience loop has taken
	// over.
	SourceMissing(archiveURL string)

	// SourceFound fires when a previously missing archive was reached
	// and indexed.
	SourceFound(archiveURL string)

	// SourceError fires for non-retryable archive-level failures.
	SourceError(archiveURL string, err error)

	// IndexError fires for per-file failures (unreadable or malformed
	// records). The batch containing the file continues.
	IndexError(fileURL string, err error)
}

// NopListener implements Listener with no-ops. Embed it to implement only
// the signals you care about.
type NopListener struct{}

func (NopListener) IndexUpdated(table, archiveURL string, version uint64) {}
func (NopListener) IndexesUpdated(archiveURL string, version uint64)     {}
func (NopListener) SourceMissing(archiveURL string)                      {}
func (NopListener) SourceFound(archiveURL string)                        {}
func (NopListener) SourceError(archiveURL string, err error)             {}
func (NopListener) IndexError(fileURL string, err error)                 {}

// Broadcaster fans signals out to every subscribed listener, in
// subscription order. The zero value is ready to use.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners []Listener
}

// NewBroadcaster creates a Broadcaster with the given initial listeners.
func NewBroadcaster(listeners ...Listener) *Broadcaster {
	return &Broadcaster{listeners: listeners}
}

// Subscribe registers a listener. Safe to call concurrently with signal
// delivery; the listener only sees signals emitted after registration.
func (b *Broadcaster) Subscribe(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

func (b *Broadcaster) snapshot() []Listener {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.listeners
}

func (b *Broadcaster) IndexUpdated(table, archiveURL string, version uint64) {
	for _, l := range b.snapshot() {
		l.IndexUpdated(table, archiveURL, version)
	}
}

func (b *Broadcaster) IndexesUpdated(archiveURL string, version uint64) {
	for _, l := range b.snapshot() {
		l.IndexesUpdated(archiveURL, version)
	}
}

func (b *Broadcaster) SourceMissing(archiveURL string) {
	for _, l := range b.snapshot() {
		l.SourceMissing(archiveURL)
	}
}

func (b *Broadcaster) SourceFound(archiveURL string) {
	for _, l := range b.snapshot() {
		l.SourceFound(archiveURL)
	}
}

func (b *Broadcaster) SourceError(archiveURL string, err error) {
	for _, l := range b.snapshot() {
		l.SourceError(archiveURL, err)
	}
}

func (b *Broadcaster) IndexError(fileURL string, err error) {
	for _, l := range b.snapshot() {
		l.IndexError(fileURL, err)
	}
}

var _ Listener = (*Broadcaster)(nil)

package archive

import (
	"context"
	"fmt"
	"sync"

	"github.com/jimpick/webdb/internal/glob"
)

// MemArchive is a fully in-process Archive. It is the reference
// implementation of the contract: writes append to a linear history and
// fan out to activity streams. Tests drive it directly; the version
// starts at 0 and each mutation advances it by one.
type MemArchive struct {
	url   string
	owner bool

	mu          sync.Mutex
	version     uint64
	files       map[string][]byte
	history     []Change
	streams     map[*memStream]struct{}
	unreachable error
	downloads   int
}

var _ Archive = (*MemArchive)(nil)

// NewMemArchive creates an empty writable in-memory archive.
func NewMemArchive(url string) *MemArchive {
	return &MemArchive{
		url:     url,
		owner:   true,
		files:   make(map[string][]byte),
		streams: make(map[*memStream]struct{}),
	}
}

// SetUnreachable makes every subsequent operation fail with err until
// called again with nil. Simulates a network partition.
func (a *MemArchive) SetUnreachable(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unreachable = err
}

// Put writes a file, advancing the archive version.
func (a *MemArchive) Put(path string, data []byte) uint64 {
	a.mu.Lock()
	a.version++
	a.files[path] = data
	a.history = append(a.history, Change{Path: path, Type: ChangePut, Version: a.version})
	version := a.version
	streams := a.matchingStreams(path)
	a.mu.Unlock()

	for _, s := range streams {
		s.emit(ActivityEvent{Type: ActivityChanged, Path: path})
	}
	return version
}

// Delete removes a file, advancing the archive version.
func (a *MemArchive) Delete(path string) uint64 {
	a.mu.Lock()
	a.version++
	delete(a.files, path)
	a.history = append(a.history, Change{Path: path, Type: ChangeDelete, Version: a.version})
	version := a.version
	streams := a.matchingStreams(path)
	a.mu.Unlock()

	for _, s := range streams {
		s.emit(ActivityEvent{Type: ActivityChanged, Path: path})
	}
	return version
}

// Invalidate announces that path has remote data not yet downloaded.
func (a *MemArchive) Invalidate(path string) {
	a.mu.Lock()
	streams := a.matchingStreams(path)
	a.mu.Unlock()

	for _, s := range streams {
		s.emit(ActivityEvent{Type: ActivityInvalidated, Path: path})
	}
}

// matchingStreams must be called with the lock held.
func (a *MemArchive) matchingStreams(path string) []*memStream {
	var out []*memStream
	for s := range a.streams {
		if glob.MatchAny(s.patterns, path) {
			out = append(out, s)
		}
	}
	return out
}

// Downloads returns how many Download calls the archive has served.
func (a *MemArchive) Downloads() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.downloads
}

func (a *MemArchive) URL() string { return a.url }

func (a *MemArchive) Info(ctx context.Context) (Info, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unreachable != nil {
		return Info{}, a.unreachable
	}
	return Info{Version: a.version, IsOwner: a.owner}, nil
}

func (a *MemArchive) History(ctx context.Context, start, end uint64) ([]Change, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unreachable != nil {
		return nil, a.unreachable
	}

	var out []Change
	for _, ch := range a.history {
		if ch.Version >= start && ch.Version < end {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (a *MemArchive) ReadFile(ctx context.Context, path string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unreachable != nil {
		return nil, a.unreachable
	}
	data, ok := a.files[path]
	if !ok {
		return nil, fmt.Errorf("%s: file not found", path)
	}
	return data, nil
}

func (a *MemArchive) Download(ctx context.Context, path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unreachable != nil {
		return a.unreachable
	}
	a.downloads++
	return nil
}

func (a *MemArchive) ActivityStream(patterns []string) (ActivityStream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unreachable != nil {
		return nil, a.unreachable
	}

	s := &memStream{
		patterns: patterns,
		events:   make(chan ActivityEvent, 64),
		remove: func(ms *memStream) {
			a.mu.Lock()
			delete(a.streams, ms)
			a.mu.Unlock()
		},
	}
	a.streams[s] = struct{}{}
	return s, nil
}

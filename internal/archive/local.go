package archive

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/jimpick/webdb/internal/glob"
)

// LocalArchive exposes a local directory as an Archive. File system
// events (fsnotify) append to an in-process change journal; the archive
// version is the journal length. Data is always local, so the stream
// never emits invalidation events and Download is a no-op.
type LocalArchive struct {
	url string
	dir string

	mu      sync.Mutex
	version uint64
	history []Change
	streams map[*memStream]struct{}

	fsw  *fsnotify.Watcher
	done chan struct{}
}

var _ Archive = (*LocalArchive)(nil)

// OpenLocal opens dir as an archive identified by url. Existing files
// are journaled as initial puts so a first indexing pass sees them.
func OpenLocal(url, dir string) (*LocalArchive, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open local archive: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open local archive: %s is not a directory", dir)
	}

	a := &LocalArchive{
		url:     url,
		dir:     dir,
		streams: make(map[*memStream]struct{}),
		done:    make(chan struct{}),
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	a.fsw = fsw

	if err := a.scanInitial(); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	go a.watchLoop()
	return a, nil
}

// scanInitial journals existing files and registers directories with the
// fs watcher.
func (a *LocalArchive) scanInitial() error {
	return filepath.WalkDir(a.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return a.fsw.Add(p)
		}
		a.appendChange(a.relPath(p), ChangePut)
		return nil
	})
}

func (a *LocalArchive) relPath(p string) string {
	rel, err := filepath.Rel(a.dir, p)
	if err != nil {
		return ""
	}
	return "/" + filepath.ToSlash(rel)
}

func (a *LocalArchive) appendChange(path string, typ ChangeType) {
	if path == "" || path == "/" {
		return
	}
	a.mu.Lock()
	a.version++
	a.history = append(a.history, Change{Path: path, Type: typ, Version: a.version})
	var streams []*memStream
	for s := range a.streams {
		if glob.MatchAny(s.patterns, path) {
			streams = append(streams, s)
		}
	}
	a.mu.Unlock()

	for _, s := range streams {
		s.emit(ActivityEvent{Type: ActivityChanged, Path: path})
	}
}

func (a *LocalArchive) watchLoop() {
	for {
		select {
		case <-a.done:
			return
		case ev, ok := <-a.fsw.Events:
			if !ok {
				return
			}
			a.handleFsEvent(ev)
		case err, ok := <-a.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("local archive watcher error",
				slog.String("url", a.url),
				slog.String("error", err.Error()))
		}
	}
}

func (a *LocalArchive) handleFsEvent(ev fsnotify.Event) {
	switch {
	case ev.Op&fsnotify.Create != 0:
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = a.fsw.Add(ev.Name)
			return
		}
		a.appendChange(a.relPath(ev.Name), ChangePut)
	case ev.Op&fsnotify.Write != 0:
		a.appendChange(a.relPath(ev.Name), ChangePut)
	case ev.Op&fsnotify.Remove != 0, ev.Op&fsnotify.Rename != 0:
		a.appendChange(a.relPath(ev.Name), ChangeDelete)
	}
}

func (a *LocalArchive) URL() string { return a.url }

func (a *LocalArchive) Info(ctx context.Context) (Info, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Info{Version: a.version, IsOwner: true, LocalPath: a.dir}, nil
}

func (a *LocalArchive) History(ctx context.Context, start, end uint64) ([]Change, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []Change
	for _, ch := range a.history {
		if ch.Version >= start && ch.Version < end {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (a *LocalArchive) ReadFile(ctx context.Context, path string) ([]byte, error) {
	clean := filepath.Clean(strings.TrimPrefix(path, "/"))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("path %s escapes archive root", path)
	}
	return os.ReadFile(filepath.Join(a.dir, clean))
}

// Download is a no-op; local archive data is always present.
func (a *LocalArchive) Download(ctx context.Context, path string) error {
	return nil
}

func (a *LocalArchive) ActivityStream(patterns []string) (ActivityStream, error) {
	s := &memStream{
		patterns: patterns,
		events:   make(chan ActivityEvent, 64),
		remove: func(ms *memStream) {
			a.mu.Lock()
			delete(a.streams, ms)
			a.mu.Unlock()
		},
	}
	a.mu.Lock()
	a.streams[s] = struct{}{}
	a.mu.Unlock()
	return s, nil
}

// Close stops the file system watcher and closes every activity stream.
func (a *LocalArchive) Close() error {
	close(a.done)
	err := a.fsw.Close()

	a.mu.Lock()
	streams := make([]*memStream, 0, len(a.streams))
	for s := range a.streams {
		streams = append(streams, s)
	}
	a.mu.Unlock()
	for _, s := range streams {
		_ = s.Close()
	}
	return err
}

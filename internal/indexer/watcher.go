package indexer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jimpick/webdb/internal/archive"
)

// archiveWatcher consumes one archive's activity stream: invalidation
// events feed the download scheduler, change events trigger full
// incremental passes. Changes may span several paths, and the watermark
// model only understands version ranges, so a single-path shortcut would
// lose updates.
type archiveWatcher struct {
	archive archive.Archive
	stream  archive.ActivityStream
	sched   *downloadScheduler

	closeOnce sync.Once
	done      chan struct{}
}

// WatchArchive attaches a change watcher to the archive. Watching an
// archive twice is a warn-level no-op.
func (m *Manager) WatchArchive(a archive.Archive) error {
	url := a.URL()

	if _, watching := m.watchers.Load(url); watching {
		slog.Warn("archive already being watched", slog.String("url", url))
		return nil
	}

	stream, err := a.ActivityStream(m.registry.Patterns())
	if err != nil {
		return classifyArchiveErr(err)
	}

	w := &archiveWatcher{
		archive: a,
		stream:  stream,
		done:    make(chan struct{}),
	}
	w.sched = newDownloadScheduler(m.downloadCooldown, func(path string) {
		if err := a.Download(context.Background(), path); err != nil {
			m.events.SourceError(url, classifyArchiveErr(err))
		}
	})

	if _, loaded := m.watchers.LoadOrStore(url, w); loaded {
		// Lost a race with a concurrent attach; discard ours.
		w.Close()
		slog.Warn("archive already being watched", slog.String("url", url))
		return nil
	}

	go m.watchLoop(w)
	return nil
}

// UnwatchArchive detaches the archive's watcher. A no-op when none is
// attached.
func (m *Manager) UnwatchArchive(a archive.Archive) {
	if w, ok := m.watchers.LoadAndDelete(a.URL()); ok {
		w.Close()
	}
}

func (m *Manager) watchLoop(w *archiveWatcher) {
	url := w.archive.URL()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.stream.Events():
			if !ok {
				return
			}
			switch ev.Type {
			case archive.ActivityInvalidated:
				w.sched.Schedule(ev.Path)
			case archive.ActivityChanged:
				if err := m.indexer.IndexArchive(context.Background(), w.archive, false); err != nil {
					m.events.SourceError(url, err)
				}
			}
		}
	}
}

func (w *archiveWatcher) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
		w.sched.Stop()
		_ = w.stream.Close()
	})
}

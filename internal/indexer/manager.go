package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/jimpick/webdb/internal/archive"
	"github.com/jimpick/webdb/internal/errors"
	"github.com/jimpick/webdb/internal/events"
	"github.com/jimpick/webdb/internal/store"
	"github.com/jimpick/webdb/internal/table"
)

// defaultRetryInterval is how long the resilience loop waits between
// attempts to reach a missing archive.
const defaultRetryInterval = 30 * time.Second

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Meta is the archive bookkeeping store. Required.
	Meta *store.MetaStore

	// Registry holds the destination tables. Required.
	Registry *table.Registry

	// Opener reconstructs archive handles for persisted metas. Required
	// for LoadArchives.
	Opener archive.Opener

	// Listener receives engine signals. Optional.
	Listener events.Listener

	// RetryInterval overrides the resilience loop interval. Zero means
	// the 30 second default.
	RetryInterval time.Duration

	// DownloadCooldown overrides the per-path download coalescing
	// window. Zero means one second.
	DownloadCooldown time.Duration
}

// Manager owns archive lifecycle: bringing archives under management,
// wiring change watchers, routing initial failures into the resilience
// loop, and unwinding everything on removal.
type Manager struct {
	meta     *store.MetaStore
	registry *table.Registry
	opener   archive.Opener
	events   events.Listener
	indexer  *Indexer

	retryInterval    time.Duration
	downloadCooldown time.Duration

	state    atomic.Int32
	done     chan struct{}
	managed  *xsync.MapOf[string, archive.Archive]
	watchers *xsync.MapOf[string, *archiveWatcher]
}

// NewManager creates a manager in the opening state.
func NewManager(cfg ManagerConfig) *Manager {
	listener := cfg.Listener
	if listener == nil {
		listener = events.NopListener{}
	}
	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}

	m := &Manager{
		meta:             cfg.Meta,
		registry:         cfg.Registry,
		opener:           cfg.Opener,
		events:           listener,
		retryInterval:    retryInterval,
		downloadCooldown: cfg.DownloadCooldown,
		done:             make(chan struct{}),
		managed:          xsync.NewMapOf[string, archive.Archive](),
		watchers:         xsync.NewMapOf[string, *archiveWatcher](),
	}
	m.state.Store(int32(StateOpening))
	m.indexer = NewIndexer(cfg.Meta, cfg.Registry, listener, m.State)
	return m
}

// State returns the manager's lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// SetOpen marks startup as finished. Indexing passes run during both
// opening and open.
func (m *Manager) SetOpen() {
	m.state.Store(int32(StateOpen))
}

// Indexer returns the manager's indexer.
func (m *Manager) Indexer() *Indexer {
	return m.indexer
}

// IsManaged reports whether the archive with this URL is currently under
// management. The resilience loop polls this between retries.
func (m *Manager) IsManaged(url string) bool {
	_, ok := m.managed.Load(url)
	return ok
}

// Archive returns the managed archive for url, or nil.
func (m *Manager) Archive(url string) archive.Archive {
	a, _ := m.managed.Load(url)
	return a
}

// LoadArchives brings every persisted archive back under management and
// runs their initial indexing passes concurrently. It returns once every
// pass has settled; one archive's failure routes into the resilience
// loop without disturbing the others.
func (m *Manager) LoadArchives(ctx context.Context, needsRebuild bool) error {
	if m.opener == nil {
		return fmt.Errorf("no archive opener configured")
	}

	metas, err := m.meta.List()
	if err != nil {
		return fmt.Errorf("list archive metas: %w", err)
	}

	var wg sync.WaitGroup
	for _, meta := range metas {
		a, err := m.opener(ctx, meta.URL, meta.LocalPath)
		if err != nil {
			m.events.SourceError(meta.URL, errors.Wrap(errors.ErrCodeArchiveInternal, err))
			continue
		}
		m.managed.Store(meta.URL, a)

		wg.Add(1)
		go func() {
			defer wg.Done()
			m.firstIndex(ctx, a, needsRebuild)
		}()
	}
	wg.Wait()
	return nil
}

// AddArchive brings a new archive under management: persist bookkeeping
// with a zero watermark, then run the same first-index path as a startup
// load.
func (m *Manager) AddArchive(ctx context.Context, a archive.Archive) error {
	url := a.URL()

	info, err := a.Info(ctx)
	if err != nil {
		err = classifyArchiveErr(err)
		if !errors.IsUnreachable(err) {
			return err
		}
		// Unreachable at add time is not fatal: persist a zero
		// watermark, announce the missing source, and let the
		// resilience loop pick it up.
		meta := &store.IndexMeta{URL: url}
		if perr := m.meta.Put(meta); perr != nil {
			return fmt.Errorf("persist meta for %s: %w", url, perr)
		}
		m.managed.Store(url, a)
		m.events.SourceMissing(url)
		go m.retryIndexLoop(a)
		return nil
	}

	meta := &store.IndexMeta{
		URL:        url,
		Version:    0,
		IsWritable: info.IsOwner,
		LocalPath:  info.LocalPath,
	}
	if err := m.meta.Put(meta); err != nil {
		return fmt.Errorf("persist meta for %s: %w", url, err)
	}

	m.managed.Store(url, a)
	m.firstIndex(ctx, a, false)
	return nil
}

// RemoveArchive removes an archive from management, deletes its indexed
// records and bookkeeping, and detaches its watcher. Safe to call for an
// archive that was never fully indexed; in-progress retry loops observe
// the removal at their next wake-up.
func (m *Manager) RemoveArchive(ctx context.Context, a archive.Archive) error {
	url := a.URL()
	m.managed.Delete(url)
	m.UnwatchArchive(a)
	return m.indexer.UnindexArchive(ctx, a)
}

// ResetOutdatedIndexes handles incompatible table shape changes: when any
// table needs a rebuild, every table's store is cleared and every
// archive's watermark reset to zero, so the next passes regenerate all
// indexes from source. Rebuilds are always global, never per-table.
// Returns whether a reset occurred.
func (m *Manager) ResetOutdatedIndexes(tablesNeedingRebuild []string) (bool, error) {
	if len(tablesNeedingRebuild) == 0 {
		return false, nil
	}

	slog.Info("resetting outdated indexes",
		slog.Any("tables", tablesNeedingRebuild))

	if err := m.registry.ClearAll(); err != nil {
		return false, err
	}

	metas, err := m.meta.List()
	if err != nil {
		return false, fmt.Errorf("list archive metas: %w", err)
	}
	for _, meta := range metas {
		meta.Version = 0
		if err := m.meta.Put(meta); err != nil {
			return false, fmt.Errorf("reset watermark for %s: %w", meta.URL, err)
		}
	}
	return true, nil
}

// firstIndex runs an archive's initial indexing pass, attaching the
// watcher on success and routing failures by kind: unreachable archives
// enter the resilience loop, anything else is surfaced once.
func (m *Manager) firstIndex(ctx context.Context, a archive.Archive, needsRebuild bool) {
	url := a.URL()

	err := m.indexer.IndexArchive(ctx, a, needsRebuild)
	if err == nil {
		if werr := m.WatchArchive(a); werr != nil {
			slog.Warn("failed to attach archive watcher",
				slog.String("url", url),
				slog.String("error", werr.Error()))
		}
		return
	}

	if errors.IsUnreachable(err) {
		m.events.SourceMissing(url)
		go m.retryIndexLoop(a)
		return
	}
	m.events.SourceError(url, err)
}

// Close stops watchers and signals retry loops to exit at their next
// wake-up. It does not close the stores; their owner does.
func (m *Manager) Close() {
	if !m.state.CompareAndSwap(int32(StateOpen), int32(StateClosed)) {
		m.state.Store(int32(StateClosed))
	}
	select {
	case <-m.done:
	default:
		close(m.done)
	}

	m.watchers.Range(func(url string, w *archiveWatcher) bool {
		w.Close()
		m.watchers.Delete(url)
		return true
	})
}

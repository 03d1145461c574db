package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jimpick/webdb/internal/archive"
	"github.com/jimpick/webdb/internal/errors"
	"github.com/jimpick/webdb/internal/events"
	"github.com/jimpick/webdb/internal/store"
	"github.com/jimpick/webdb/internal/table"
)

// applyConcurrency bounds parallel per-file dispatch within one pass.
const applyConcurrency = 8

// State is the engine's lifecycle state.
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateOpen
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Indexer runs versioned incremental indexing passes. A pass computes the
// unprocessed version range for an archive, resolves it to a deduplicated
// set of path updates, applies them through the Dispatcher, and advances
// the watermark.
type Indexer struct {
	meta     *store.MetaStore
	registry *table.Registry
	dispatch *Dispatcher
	events   events.Listener
	locks    *keyedLocks

	// state reports the owning engine's lifecycle state. Passes run
	// only while the engine is opening or open.
	state func() State
}

// NewIndexer creates an indexer. listener may be nil.
func NewIndexer(meta *store.MetaStore, registry *table.Registry, listener events.Listener, state func() State) *Indexer {
	if listener == nil {
		listener = events.NopListener{}
	}
	return &Indexer{
		meta:     meta,
		registry: registry,
		dispatch: NewDispatcher(registry, listener),
		events:   listener,
		locks:    newKeyedLocks(),
		state:    state,
	}
}

// Dispatcher returns the indexer's record dispatcher.
func (ix *Indexer) Dispatcher() *Dispatcher {
	return ix.dispatch
}

// IndexArchive brings every table up to date with the archive's current
// version. Passes for the same archive are serialized; unrelated archives
// index in parallel. needsRebuild ignores the stored watermark and
// rescans from the beginning.
func (ix *Indexer) IndexArchive(ctx context.Context, a archive.Archive, needsRebuild bool) error {
	url := a.URL()
	release := ix.locks.acquire("index:" + url)
	defer release()

	// Corrupted-state guards: log and bail, don't error.
	if st := ix.state(); st != StateOpening && st != StateOpen {
		slog.Debug("skipping index pass, engine not open",
			slog.String("url", url),
			slog.String("state", st.String()))
		return nil
	}
	if ix.meta == nil {
		slog.Warn("skipping index pass, meta store missing",
			slog.String("url", url))
		return nil
	}

	start := time.Now()

	// Read bookkeeping and live info concurrently.
	var meta *store.IndexMeta
	var info archive.Info
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		meta, err = ix.meta.Get(url)
		if err != nil {
			return errors.Wrap(errors.ErrCodeStoreCorrupt, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		info, err = a.Info(gctx)
		if err != nil {
			return classifyArchiveErr(err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		IndexPassCount.WithLabelValues("error").Inc()
		return err
	}

	if meta == nil {
		meta = &store.IndexMeta{URL: url}
	}
	watermark := meta.Version
	if needsRebuild {
		watermark = 0
	}

	// Fast path: everything up to the current version is already
	// reflected in the tables. Identity fields still get refreshed
	// when a recovered archive was first persisted without them.
	if watermark >= info.Version {
		if meta.IsWritable != info.IsOwner || meta.LocalPath != info.LocalPath {
			meta.IsWritable = info.IsOwner
			meta.LocalPath = info.LocalPath
			if err := ix.meta.Put(meta); err != nil {
				return errors.Wrap(errors.ErrCodeStoreCorrupt, err)
			}
		}
		IndexPassCount.WithLabelValues("noop").Inc()
		return nil
	}

	updates, err := ix.scanUpdates(ctx, a, watermark, info.Version)
	if err != nil {
		IndexPassCount.WithLabelValues("error").Inc()
		return err
	}

	touched := ix.applyUpdates(ctx, a, updates)

	// One watermark write per pass, after every per-update write has
	// settled. A crash before this point re-applies the same range;
	// record writes are keyed and overwrite-safe. Identity fields
	// ride along so a meta persisted while the source was unreachable
	// picks them up on the first successful pass.
	meta.Version = info.Version
	meta.IsWritable = info.IsOwner
	meta.LocalPath = info.LocalPath
	if err := ix.meta.Put(meta); err != nil {
		IndexPassCount.WithLabelValues("error").Inc()
		return errors.Wrap(errors.ErrCodeStoreCorrupt, err)
	}

	for _, name := range touched {
		ix.events.IndexUpdated(name, url, info.Version)
	}
	ix.events.IndexesUpdated(url, info.Version)

	IndexPassCount.WithLabelValues("ok").Inc()
	PassDuration.Observe(float64(time.Since(start).Milliseconds()))
	slog.Debug("index pass complete",
		slog.String("url", url),
		slog.Uint64("from", watermark),
		slog.Uint64("to", info.Version),
		slog.Int("updates", len(updates)),
		slog.Int("tables_touched", len(touched)))
	return nil
}

// scanUpdates resolves the half-open version range (watermark, current]
// to the latest update per path. The range filter is the cheap first
// layer; per-table ownership happens later in the dispatcher.
func (ix *Indexer) scanUpdates(ctx context.Context, a archive.Archive, watermark, current uint64) ([]archive.Change, error) {
	changes, err := a.History(ctx, watermark+1, current+1)
	if err != nil {
		return nil, classifyArchiveErr(err)
	}

	// History is ordered by version; later changes supersede earlier
	// ones for the same path within the range.
	latest := make(map[string]archive.Change)
	for _, ch := range changes {
		if !ix.registry.MatchesAny(ch.Path) {
			continue
		}
		latest[ch.Path] = ch
	}

	out := make([]archive.Change, 0, len(latest))
	for _, ch := range latest {
		out = append(out, ch)
	}
	return out, nil
}

// applyUpdates dispatches every update concurrently and returns the
// sorted set of table names touched.
func (ix *Indexer) applyUpdates(ctx context.Context, a archive.Archive, updates []archive.Change) []string {
	var mu sync.Mutex
	touched := make(map[string]struct{})

	g := new(errgroup.Group)
	g.SetLimit(applyConcurrency)
	for _, update := range updates {
		update := update
		g.Go(func() error {
			var name string
			switch update.Type {
			case archive.ChangePut:
				name = ix.dispatch.ReadAndIndexFile(ctx, a, update.Path)
				UpdatesApplied.WithLabelValues("put").Inc()
			case archive.ChangeDelete:
				name = ix.dispatch.UnindexFile(ctx, a, update.Path)
				UpdatesApplied.WithLabelValues("del").Inc()
			}
			if name != "" {
				mu.Lock()
				touched[name] = struct{}{}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	names := make([]string, 0, len(touched))
	for name := range touched {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnindexArchive deletes every stored record originating from the
// archive, then its meta record. Held under the same per-archive lock as
// indexing passes. Safe to call for archives that were never indexed.
func (ix *Indexer) UnindexArchive(ctx context.Context, a archive.Archive) error {
	url := a.URL()
	release := ix.locks.acquire("index:" + url)
	defer release()

	if ix.meta == nil {
		slog.Warn("skipping unindex, meta store missing", slog.String("url", url))
		return nil
	}

	for _, tbl := range ix.registry.Tables() {
		files, err := tbl.ListRecordFiles(url)
		if err != nil {
			return fmt.Errorf("list records of %s for %s: %w", tbl.Name, url, err)
		}
		for _, f := range files {
			if err := tbl.Store.Delete(f.RecordURL); err != nil && err != store.ErrNotFound {
				return fmt.Errorf("delete record %s: %w", f.RecordURL, err)
			}
		}
	}

	return ix.meta.Delete(url)
}

// classifyArchiveErr maps raw archive failures onto the engine's error
// taxonomy, preserving already-classified errors.
func classifyArchiveErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.GetCode(err) != "" {
		return err
	}
	if errors.IsUnreachable(err) {
		return errors.Wrap(errors.ErrCodeArchiveUnreachable, err)
	}
	return errors.Wrap(errors.ErrCodeArchiveInternal, err)
}

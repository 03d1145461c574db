// Package webdb is the public surface of the indexing engine: open a
// database from configuration, bring archives under management, and
// observe index updates through listeners.
package webdb

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/cespare/xxhash"

	"github.com/jimpick/webdb/internal/archive"
	"github.com/jimpick/webdb/internal/config"
	"github.com/jimpick/webdb/internal/events"
	"github.com/jimpick/webdb/internal/indexer"
	"github.com/jimpick/webdb/internal/logging"
	"github.com/jimpick/webdb/internal/store"
	"github.com/jimpick/webdb/internal/table"
)

const (
	systemStoreName = "system"
	tablesDirName   = "tables"
	schemaPrefix    = "schema!"
)

// DB is an open webdb instance. All methods are safe for concurrent use.
type DB struct {
	cfg         *config.Config
	lock        *store.DirLock
	system      store.Store
	meta        *store.MetaStore
	registry    *table.Registry
	broadcaster *events.Broadcaster
	manager     *indexer.Manager

	logCleanup func()
	closeOnce  sync.Once
	closeErr   error
}

// Open opens (or creates) the database described by cfg. The data
// directory is locked against other processes, table stores are opened
// per the configured backend, tables whose shape changed since the last
// run are rebuilt, and every persisted archive is brought back under
// management via opener. Listeners receive engine signals from this
// point on.
func Open(ctx context.Context, cfg *config.Config, opener archive.Opener, listeners ...events.Listener) (*DB, error) {
	return openDB(ctx, cfg, nil, opener, listeners)
}

// OpenWithTables is like Open but takes fully constructed tables,
// allowing programmatic validators and preprocessors; cfg.Tables is
// ignored. Tables without a store get one opened per the configured
// backend. Shape fingerprinting covers only the pattern: after changing
// a programmatic validator or preprocessor incompatibly, delete the data
// directory to force a rebuild.
func OpenWithTables(ctx context.Context, cfg *config.Config, tables []*table.Table, opener archive.Opener, listeners ...events.Listener) (*DB, error) {
	return openDB(ctx, cfg, tables, opener, listeners)
}

func openDB(ctx context.Context, cfg *config.Config, tables []*table.Table, opener archive.Opener, listeners []events.Listener) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logCleanup, err := logging.SetupDefault(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}

	dataDir := cfg.Paths.DataDir
	if err := os.MkdirAll(filepath.Join(dataDir, tablesDirName), 0o755); err != nil {
		logCleanup()
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	lock := store.NewDirLock(dataDir)
	acquired, err := lock.TryLock()
	if err != nil {
		logCleanup()
		return nil, fmt.Errorf("lock data dir: %w", err)
	}
	if !acquired {
		logCleanup()
		return nil, fmt.Errorf("data dir %s is locked by another process", dataDir)
	}

	db := &DB{cfg: cfg, lock: lock, logCleanup: logCleanup}
	if err := db.open(ctx, tables, opener, listeners); err != nil {
		db.release()
		return nil, err
	}
	return db, nil
}

func (db *DB) open(ctx context.Context, tables []*table.Table, opener archive.Opener, listeners []events.Listener) error {
	cfg := db.cfg
	backend := cfg.Store.Backend
	opts := store.Options{SQLiteCacheMB: cfg.Store.SQLiteCacheMB}
	dataDir := cfg.Paths.DataDir

	system, err := store.Open(backend, storePath(dataDir, systemStoreName, backend), opts)
	if err != nil {
		return fmt.Errorf("open system store: %w", err)
	}
	db.system = system
	db.meta = store.NewMetaStore(system)

	db.registry = table.NewRegistry()
	fingerprints := make(map[string]string)

	if tables == nil {
		for _, tc := range cfg.Tables {
			schemaSrc, err := tc.SchemaSource(dataDir)
			if err != nil {
				return err
			}

			var validator table.Validator
			if schemaSrc != "" {
				validator, err = table.CompileSchema(schemaSrc)
				if err != nil {
					return fmt.Errorf("table %s: %w", tc.Name, err)
				}
			}

			t := &table.Table{
				Name:      tc.Name,
				Pattern:   tc.Pattern,
				Validator: validator,
			}
			if err := db.registerTable(t, backend, opts); err != nil {
				return err
			}
			fingerprints[tc.Name] = fingerprint(tc.Pattern, schemaSrc)
		}
	} else {
		for _, t := range tables {
			if err := db.registerTable(t, backend, opts); err != nil {
				return err
			}
			fingerprints[t.Name] = fingerprint(t.Pattern, "")
		}
	}

	db.broadcaster = events.NewBroadcaster(listeners...)
	db.manager = indexer.NewManager(indexer.ManagerConfig{
		Meta:             db.meta,
		Registry:         db.registry,
		Opener:           opener,
		Listener:         db.broadcaster,
		RetryInterval:    cfg.RetryInterval(),
		DownloadCooldown: cfg.DownloadCooldown(),
	})

	outdated, err := db.outdatedTables(fingerprints)
	if err != nil {
		return err
	}
	reset, err := db.manager.ResetOutdatedIndexes(outdated)
	if err != nil {
		return fmt.Errorf("reset outdated indexes: %w", err)
	}
	if err := db.storeFingerprints(fingerprints); err != nil {
		return err
	}

	if err := db.manager.LoadArchives(ctx, reset); err != nil {
		return err
	}
	db.manager.SetOpen()

	slog.Info("webdb open",
		slog.String("data_dir", dataDir),
		slog.String("backend", string(backend)),
		slog.Int("tables", len(db.registry.Tables())))
	return nil
}

// registerTable registers t, opening a store for it when it has none.
func (db *DB) registerTable(t *table.Table, backend store.Backend, opts store.Options) error {
	opened := false
	if t.Store == nil {
		s, err := store.Open(backend, storePath(filepath.Join(db.cfg.Paths.DataDir, tablesDirName), t.Name, backend), opts)
		if err != nil {
			return fmt.Errorf("open store for table %s: %w", t.Name, err)
		}
		t.Store = s
		opened = true
	}
	if err := db.registry.Register(t); err != nil {
		if opened {
			_ = t.Store.Close()
			t.Store = nil
		}
		return err
	}
	return nil
}

// outdatedTables compares each table's shape fingerprint against the one
// persisted by the previous run. New tables count as outdated: archives
// indexed before the table existed have watermarks past the files it
// should contain.
func (db *DB) outdatedTables(current map[string]string) ([]string, error) {
	var outdated []string
	for name, fp := range current {
		stored, err := db.system.Get(schemaPrefix + name)
		if err == store.ErrNotFound {
			outdated = append(outdated, name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read fingerprint for table %s: %w", name, err)
		}
		if string(stored) != fp {
			outdated = append(outdated, name)
		}
	}

	// A table removed from the configuration also forces a rebuild; its
	// records are orphaned in a store nothing opens anymore.
	var stale []string
	err := db.system.ScanPrefix(schemaPrefix, func(key string, _ []byte) error {
		name := key[len(schemaPrefix):]
		if _, ok := current[name]; !ok {
			stale = append(stale, key)
			outdated = append(outdated, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan table fingerprints: %w", err)
	}
	for _, key := range stale {
		if err := db.system.Delete(key); err != nil {
			return nil, err
		}
	}
	return outdated, nil
}

func (db *DB) storeFingerprints(current map[string]string) error {
	for name, fp := range current {
		if err := db.system.Put(schemaPrefix+name, []byte(fp)); err != nil {
			return fmt.Errorf("persist fingerprint for table %s: %w", name, err)
		}
	}
	return nil
}

// AddArchive brings a new archive under management and indexes it.
func (db *DB) AddArchive(ctx context.Context, a archive.Archive) error {
	return db.manager.AddArchive(ctx, a)
}

// RemoveArchive removes an archive and deletes everything indexed from
// it.
func (db *DB) RemoveArchive(ctx context.Context, a archive.Archive) error {
	return db.manager.RemoveArchive(ctx, a)
}

// IsManaged reports whether the archive with this URL is under
// management.
func (db *DB) IsManaged(url string) bool {
	return db.manager.IsManaged(url)
}

// Archive returns the managed archive for url, or nil.
func (db *DB) Archive(url string) archive.Archive {
	return db.manager.Archive(url)
}

// Subscribe registers a listener for engine signals.
func (db *DB) Subscribe(l events.Listener) {
	db.broadcaster.Subscribe(l)
}

// Tables returns the registered tables in registration order.
func (db *DB) Tables() []*table.Table {
	return db.registry.Tables()
}

// Table returns the table with this name, or nil.
func (db *DB) Table(name string) *table.Table {
	return db.registry.Get(name)
}

// Close stops watchers and retry loops, closes every store, and releases
// the data directory lock. Safe to call more than once.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		db.closeErr = db.release()
	})
	return db.closeErr
}

func (db *DB) release() error {
	var firstErr error
	if db.manager != nil {
		db.manager.Close()
	}
	if db.registry != nil {
		for _, t := range db.registry.Tables() {
			if err := t.Store.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	if db.system != nil {
		if err := db.system.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := db.lock.Unlock(); err != nil && firstErr == nil {
		firstErr = err
	}
	db.logCleanup()
	return firstErr
}

// LocalOpener returns an Opener serving file-backed archives rooted at
// each archive's persisted local path.
func LocalOpener() archive.Opener {
	return func(ctx context.Context, url, localPath string) (archive.Archive, error) {
		return archive.OpenLocal(url, localPath)
	}
}

// storePath places a backend's state under dir: a database file for
// sqlite, a directory for everything else.
func storePath(dir, name string, backend store.Backend) string {
	if backend == store.BackendSQLite {
		return filepath.Join(dir, name+".db")
	}
	return filepath.Join(dir, name)
}

// fingerprint hashes the parts of a table's shape that force a rebuild
// when they change.
func fingerprint(pattern, schema string) string {
	return strconv.FormatUint(xxhash.Sum64String(pattern+"\x00"+schema), 16)
}

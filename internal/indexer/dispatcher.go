package indexer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cespare/xxhash"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jimpick/webdb/internal/archive"
	"github.com/jimpick/webdb/internal/errors"
	"github.com/jimpick/webdb/internal/events"
	"github.com/jimpick/webdb/internal/store"
	"github.com/jimpick/webdb/internal/table"
)

// ownerCacheSize bounds the path-to-table resolution cache. Paths repeat
// heavily across passes; ownership only changes when the registry does,
// and the registry is fixed for the life of the engine.
const ownerCacheSize = 10000

// Dispatcher routes one changed file to its owning table: parse,
// validate, preprocess, store. Per-file failures are reported as
// index-error signals and never abort the surrounding batch.
type Dispatcher struct {
	registry *table.Registry
	events   events.Listener
	owner    *lru.Cache[string, string] // path -> table name ("" = no table)
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(registry *table.Registry, listener events.Listener) *Dispatcher {
	cache, _ := lru.New[string, string](ownerCacheSize)
	if listener == nil {
		listener = events.NopListener{}
	}
	return &Dispatcher{
		registry: registry,
		events:   listener,
		owner:    cache,
	}
}

// resolve returns the owning table for path, consulting the LRU cache.
func (d *Dispatcher) resolve(path string) *table.Table {
	if name, ok := d.owner.Get(path); ok {
		if name == "" {
			return nil
		}
		return d.registry.Get(name)
	}

	t := d.registry.Resolve(path)
	if t == nil {
		d.owner.Add(path, "")
		return nil
	}
	d.owner.Add(path, t.Name)
	return t
}

// ReadAndIndexFile reads and indexes one file from the archive. Returns
// the name of the table touched, or "" when no table matched or the file
// could not be indexed. Errors are reported via index-error signals, not
// returned; one bad file must not fail its batch.
func (d *Dispatcher) ReadAndIndexFile(ctx context.Context, a archive.Archive, path string) string {
	fileURL := a.URL() + path

	data, err := a.ReadFile(ctx, path)
	if err != nil {
		IndexErrorCount.Inc()
		d.events.IndexError(fileURL, errors.Wrap(errors.ErrCodeRecordMalformed, err))
		return ""
	}

	if !json.Valid(data) {
		IndexErrorCount.Inc()
		d.events.IndexError(fileURL, errors.Malformed("record is not valid JSON", nil).
			WithDetail("path", path))
		return ""
	}

	tbl := d.resolve(path)
	if tbl == nil {
		return ""
	}

	record := json.RawMessage(data)
	if tbl.Validator != nil && !tbl.Validator(record) {
		// A record that stops validating is retracted.
		if err := tbl.Store.Delete(fileURL); err != nil {
			slog.Warn("failed to retract invalid record",
				slog.String("url", fileURL),
				slog.String("error", err.Error()))
		}
		return tbl.Name
	}

	if tbl.Preprocess != nil {
		if out := tbl.Preprocess(record); len(out) > 0 {
			record = out
		}
	}

	// Skip the write when the stored payload is unchanged, so re-running
	// a pass over the same range stays write-free.
	if existing, err := tbl.Store.Get(fileURL); err == nil {
		var stored table.Record
		if json.Unmarshal(existing, &stored) == nil &&
			xxhash.Sum64(stored.Record) == xxhash.Sum64(record) {
			return tbl.Name
		}
	}

	value, err := json.Marshal(table.Record{
		URL:       fileURL,
		Origin:    a.URL(),
		IndexedAt: time.Now().UTC(),
		Record:    record,
	})
	if err != nil {
		IndexErrorCount.Inc()
		d.events.IndexError(fileURL, errors.Wrap(errors.ErrCodeRecordMalformed, err))
		return ""
	}

	if err := tbl.Store.Put(fileURL, value); err != nil {
		IndexErrorCount.Inc()
		d.events.IndexError(fileURL, errors.Wrap(errors.ErrCodeStoreCorrupt, err))
		return ""
	}
	return tbl.Name
}

// UnindexFile deletes the stored record for path from its owning table.
// Returns the table name touched, or "" when no table matched. Deleting
// a path that was never indexed is not an error.
func (d *Dispatcher) UnindexFile(ctx context.Context, a archive.Archive, path string) string {
	tbl := d.resolve(path)
	if tbl == nil {
		return ""
	}

	fileURL := a.URL() + path
	if err := tbl.Store.Delete(fileURL); err != nil && err != store.ErrNotFound {
		slog.Warn("failed to unindex file",
			slog.String("url", fileURL),
			slog.String("error", err.Error()))
		return ""
	}
	return tbl.Name
}

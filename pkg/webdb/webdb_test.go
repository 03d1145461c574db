package webdb

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jimpick/webdb/internal/archive"
	"github.com/jimpick/webdb/internal/config"
	"github.com/jimpick/webdb/internal/events"
	"github.com/jimpick/webdb/internal/store"
	"github.com/jimpick/webdb/internal/table"
)

func testConfig(t *testing.T, backend config.StoreBackend) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Paths.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Store.Backend = backend
	cfg.Logging.Level = "error"
	cfg.Tables = []config.TableConfig{
		{Name: "posts", Pattern: "/posts/*.json"},
	}
	return cfg
}

// mapOpener reconstructs archives from a fixed set, standing in for a
// network transport.
func mapOpener(archives map[string]archive.Archive) archive.Opener {
	return func(ctx context.Context, url, localPath string) (archive.Archive, error) {
		a, ok := archives[url]
		if !ok {
			return nil, fmt.Errorf("%s: unknown archive", url)
		}
		return a, nil
	}
}

func TestOpen_AddArchiveIndexesRecords(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	recorder := &events.Recorder{}

	db, err := Open(context.Background(), cfg, mapOpener(nil), recorder)
	require.NoError(t, err)
	defer db.Close()

	a := archive.NewMemArchive("dat://alice")
	a.Put("/posts/1.json", []byte(`{"text":"hello"}`))
	require.NoError(t, db.AddArchive(context.Background(), a))

	posts := db.Table("posts")
	require.NotNil(t, posts)
	_, err = posts.Store.Get("dat://alice/posts/1.json")
	assert.NoError(t, err)
	assert.True(t, db.IsManaged("dat://alice"))
	assert.Len(t, recorder.ByKind("indexes-updated"), 1)
}

func TestOpen_DataDirIsSingleProcess(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)

	db, err := Open(context.Background(), cfg, mapOpener(nil))
	require.NoError(t, err)
	defer db.Close()

	_, err = Open(context.Background(), cfg, mapOpener(nil))
	assert.ErrorContains(t, err, "locked")
}

func TestOpen_ReleasesLockOnClose(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)

	db, err := Open(context.Background(), cfg, mapOpener(nil))
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "close is idempotent")

	db2, err := Open(context.Background(), cfg, mapOpener(nil))
	require.NoError(t, err)
	assert.NoError(t, db2.Close())
}

func TestOpen_SchemaRejectsInvalidRecords(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	cfg.Tables[0].Schema = "text: string"
	recorder := &events.Recorder{}

	db, err := Open(context.Background(), cfg, mapOpener(nil), recorder)
	require.NoError(t, err)
	defer db.Close()

	a := archive.NewMemArchive("dat://alice")
	a.Put("/posts/good.json", []byte(`{"text":"hello"}`))
	a.Put("/posts/bad.json", []byte(`{"text":42}`))
	require.NoError(t, db.AddArchive(context.Background(), a))

	posts := db.Table("posts")
	_, err = posts.Store.Get("dat://alice/posts/good.json")
	assert.NoError(t, err)
	_, err = posts.Store.Get("dat://alice/posts/bad.json")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReopen_RestoresArchivesAndRecords(t *testing.T) {
	cfg := testConfig(t, config.BackendPebble)
	a := archive.NewMemArchive("dat://alice")
	a.Put("/posts/1.json", []byte(`{"text":"hello"}`))
	opener := mapOpener(map[string]archive.Archive{"dat://alice": a})

	db, err := Open(context.Background(), cfg, opener)
	require.NoError(t, err)
	require.NoError(t, db.AddArchive(context.Background(), a))
	require.NoError(t, db.Close())

	db2, err := Open(context.Background(), cfg, opener)
	require.NoError(t, err)
	defer db2.Close()

	assert.True(t, db2.IsManaged("dat://alice"))
	_, err = db2.Table("posts").Store.Get("dat://alice/posts/1.json")
	assert.NoError(t, err)
}

func TestReopen_ChangedTableShapeRebuildsIndexes(t *testing.T) {
	cfg := testConfig(t, config.BackendPebble)
	a := archive.NewMemArchive("dat://alice")
	a.Put("/posts/1.json", []byte(`{"text":"hello"}`))
	opener := mapOpener(map[string]archive.Archive{"dat://alice": a})

	db, err := Open(context.Background(), cfg, opener)
	require.NoError(t, err)
	require.NoError(t, db.AddArchive(context.Background(), a))
	require.NoError(t, db.Close())

	// The table now claims different paths; the old records must not
	// survive the rebuild.
	cfg.Tables[0].Pattern = "/articles/*.json"
	db2, err := Open(context.Background(), cfg, opener)
	require.NoError(t, err)
	defer db2.Close()

	_, err = db2.Table("posts").Store.Get("dat://alice/posts/1.json")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSubscribe_LaterListenerSeesNewSignals(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)

	db, err := Open(context.Background(), cfg, mapOpener(nil))
	require.NoError(t, err)
	defer db.Close()

	recorder := &events.Recorder{}
	db.Subscribe(recorder)

	a := archive.NewMemArchive("dat://alice")
	a.Put("/posts/1.json", []byte(`{"text":"hello"}`))
	require.NoError(t, db.AddArchive(context.Background(), a))

	assert.Eventually(t, func() bool {
		return len(recorder.ByKind("indexes-updated")) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestOpenWithTables_ProgrammaticPreprocess(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	cfg.Tables = nil

	upper := &table.Table{
		Name:    "posts",
		Pattern: "/posts/*.json",
		Preprocess: func(record json.RawMessage) json.RawMessage {
			return json.RawMessage(strings.ToUpper(string(record)))
		},
	}
	db, err := OpenWithTables(context.Background(), cfg, []*table.Table{upper}, mapOpener(nil))
	require.NoError(t, err)
	defer db.Close()

	a := archive.NewMemArchive("dat://alice")
	a.Put("/posts/1.json", []byte(`{"text": "hi"}`))
	require.NoError(t, db.AddArchive(context.Background(), a))

	raw, err := db.Table("posts").Store.Get("dat://alice/posts/1.json")
	require.NoError(t, err)
	var stored table.Record
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.JSONEq(t, `{"TEXT": "HI"}`, string(stored.Record))
}

func TestRemoveArchive_DropsRecordsAndManagement(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)

	db, err := Open(context.Background(), cfg, mapOpener(nil))
	require.NoError(t, err)
	defer db.Close()

	a := archive.NewMemArchive("dat://alice")
	a.Put("/posts/1.json", []byte(`{"text":"hello"}`))
	require.NoError(t, db.AddArchive(context.Background(), a))
	require.NoError(t, db.RemoveArchive(context.Background(), a))

	assert.False(t, db.IsManaged("dat://alice"))
	_, err = db.Table("posts").Store.Get("dat://alice/posts/1.json")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

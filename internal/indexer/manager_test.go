package indexer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jimpick/webdb/internal/archive"
	"github.com/jimpick/webdb/internal/errors"
	"github.com/jimpick/webdb/internal/events"
	"github.com/jimpick/webdb/internal/store"
	"github.com/jimpick/webdb/internal/table"
)

type managerEnv struct {
	manager  *Manager
	meta     *store.MetaStore
	recorder *events.Recorder
	registry *table.Registry
	foo      *table.Table
	archives map[string]archive.Archive
}

func newManagerEnv(t *testing.T) *managerEnv {
	t.Helper()

	registry := table.NewRegistry()
	foo := &table.Table{Name: "foo", Pattern: "/tables/foo/*.json", Store: store.NewMemoryStore()}
	require.NoError(t, registry.Register(foo))

	env := &managerEnv{
		meta:     store.NewMetaStore(store.NewMemoryStore()),
		recorder: &events.Recorder{},
		registry: registry,
		foo:      foo,
		archives: make(map[string]archive.Archive),
	}
	env.manager = NewManager(ManagerConfig{
		Meta:     env.meta,
		Registry: registry,
		Listener: env.recorder,
		Opener: func(ctx context.Context, url, localPath string) (archive.Archive, error) {
			a, ok := env.archives[url]
			if !ok {
				return nil, fmt.Errorf("%s: unknown archive", url)
			}
			return a, nil
		},
		RetryInterval:    15 * time.Millisecond,
		DownloadCooldown: 20 * time.Millisecond,
	})
	env.manager.SetOpen()
	t.Cleanup(env.manager.Close)
	return env
}

func (e *managerEnv) waitSignal(t *testing.T, kind string, n int) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return len(e.recorder.ByKind(kind)) >= n
	}, 2*time.Second, 5*time.Millisecond, "expected %d %q signals", n, kind)
}

func TestAddArchive_IndexesAndPersistsMeta(t *testing.T) {
	env := newManagerEnv(t)
	a := archive.NewMemArchive("dat://a")
	a.Put("/tables/foo/1.json", []byte(`{"k":1}`))

	require.NoError(t, env.manager.AddArchive(context.Background(), a))

	_, err := env.foo.Store.Get("dat://a/tables/foo/1.json")
	assert.NoError(t, err)

	meta, err := env.meta.Get("dat://a")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, uint64(1), meta.Version)
	assert.True(t, env.manager.IsManaged("dat://a"))
}

func TestAddArchive_EmptyArchiveIndexesNothing(t *testing.T) {
	env := newManagerEnv(t)
	a := archive.NewMemArchive("dat://empty")

	require.NoError(t, env.manager.AddArchive(context.Background(), a))

	assert.True(t, env.manager.IsManaged("dat://empty"))
	assert.Empty(t, env.recorder.ByKind("index-updated"))
	assert.Empty(t, env.recorder.ByKind("indexes-updated"))
}

func TestAddArchive_WatcherReindexesOnChange(t *testing.T) {
	env := newManagerEnv(t)
	a := archive.NewMemArchive("dat://a")

	require.NoError(t, env.manager.AddArchive(context.Background(), a))

	// A write after the watcher attaches triggers an incremental pass.
	a.Put("/tables/foo/2.json", []byte(`{"k":2}`))

	assert.Eventually(t, func() bool {
		_, err := env.foo.Store.Get("dat://a/tables/foo/2.json")
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAddArchive_WatcherSurvivesEventBurst(t *testing.T) {
	env := newManagerEnv(t)
	a := archive.NewMemArchive("dat://burst")

	require.NoError(t, env.manager.AddArchive(context.Background(), a))

	// Many more writes than the activity stream buffers. Every pass
	// covers the full range since the watermark, so the index must
	// still converge on the final write.
	for i := 0; i < 200; i++ {
		a.Put(fmt.Sprintf("/tables/foo/%d.json", i), []byte(`{"k":1}`))
	}

	assert.Eventually(t, func() bool {
		_, err := env.foo.Store.Get("dat://burst/tables/foo/199.json")
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAddArchive_UnreachableEntersRetryLoop(t *testing.T) {
	env := newManagerEnv(t)
	a := archive.NewMemArchive("dat://flaky")
	a.Put("/tables/foo/1.json", []byte(`{"k":1}`))
	a.SetUnreachable(errors.Unreachable("dat://flaky: host not found", nil))

	require.NoError(t, env.manager.AddArchive(context.Background(), a))
	env.waitSignal(t, "source-missing", 1)
	assert.True(t, env.manager.IsManaged("dat://flaky"))

	// The source coming back is picked up at the next retry tick.
	a.SetUnreachable(nil)
	env.waitSignal(t, "source-found", 1)

	assert.Eventually(t, func() bool {
		_, err := env.foo.Store.Get("dat://flaky/tables/foo/1.json")
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAddArchive_RecoveryBackfillsMetaIdentity(t *testing.T) {
	env := newManagerEnv(t)
	a := archive.NewMemArchive("dat://flaky")
	a.Put("/tables/foo/1.json", []byte(`{"k":1}`))
	a.SetUnreachable(errors.Unreachable("dat://flaky: host not found", nil))

	require.NoError(t, env.manager.AddArchive(context.Background(), a))

	// The meta persisted while unreachable carries no identity fields.
	meta, err := env.meta.Get("dat://flaky")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.False(t, meta.IsWritable)

	a.SetUnreachable(nil)
	env.waitSignal(t, "source-found", 1)

	// The first successful pass fills in what Info reports.
	assert.Eventually(t, func() bool {
		meta, err := env.meta.Get("dat://flaky")
		return err == nil && meta != nil && meta.IsWritable
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLoadArchives_RestoresPersistedArchives(t *testing.T) {
	env := newManagerEnv(t)
	a := archive.NewMemArchive("dat://a")
	a.Put("/tables/foo/1.json", []byte(`{"k":1}`))
	env.archives["dat://a"] = a
	require.NoError(t, env.meta.Put(&store.IndexMeta{URL: "dat://a"}))

	require.NoError(t, env.manager.LoadArchives(context.Background(), false))

	assert.True(t, env.manager.IsManaged("dat://a"))
	_, err := env.foo.Store.Get("dat://a/tables/foo/1.json")
	assert.NoError(t, err)
}

func TestLoadArchives_OneFailureDoesNotDisturbOthers(t *testing.T) {
	env := newManagerEnv(t)
	good := archive.NewMemArchive("dat://good")
	good.Put("/tables/foo/1.json", []byte(`{"k":1}`))
	env.archives["dat://good"] = good
	require.NoError(t, env.meta.Put(&store.IndexMeta{URL: "dat://good"}))
	require.NoError(t, env.meta.Put(&store.IndexMeta{URL: "dat://gone"}))

	require.NoError(t, env.manager.LoadArchives(context.Background(), false))

	// The archive the opener could not reconstruct surfaces once.
	errs := env.recorder.ByKind("source-error")
	require.Len(t, errs, 1)
	assert.Equal(t, "dat://gone", errs[0].URL)

	_, err := env.foo.Store.Get("dat://good/tables/foo/1.json")
	assert.NoError(t, err)
}

func TestRetryLoop_ExitsWhenArchiveRemoved(t *testing.T) {
	env := newManagerEnv(t)
	a := archive.NewMemArchive("dat://flaky")
	a.SetUnreachable(errors.Unreachable("dat://flaky: host not found", nil))

	require.NoError(t, env.manager.AddArchive(context.Background(), a))
	env.waitSignal(t, "source-missing", 1)

	require.NoError(t, env.manager.RemoveArchive(context.Background(), a))
	assert.False(t, env.manager.IsManaged("dat://flaky"))

	// Even if the source recovers, the loop observed the removal and
	// never announces it.
	a.SetUnreachable(nil)
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, env.recorder.ByKind("source-found"))
}

func TestRemoveArchive_DeletesRecordsAndMeta(t *testing.T) {
	env := newManagerEnv(t)
	a := archive.NewMemArchive("dat://a")
	a.Put("/tables/foo/1.json", []byte(`{"k":1}`))

	require.NoError(t, env.manager.AddArchive(context.Background(), a))
	require.NoError(t, env.manager.RemoveArchive(context.Background(), a))

	_, err := env.foo.Store.Get("dat://a/tables/foo/1.json")
	assert.ErrorIs(t, err, store.ErrNotFound)

	meta, err := env.meta.Get("dat://a")
	require.NoError(t, err)
	assert.Nil(t, meta)
	assert.False(t, env.manager.IsManaged("dat://a"))
}

func TestResetOutdatedIndexes_EmptyListIsNoop(t *testing.T) {
	env := newManagerEnv(t)
	a := archive.NewMemArchive("dat://a")
	a.Put("/tables/foo/1.json", []byte(`{"k":1}`))
	require.NoError(t, env.manager.AddArchive(context.Background(), a))

	reset, err := env.manager.ResetOutdatedIndexes(nil)
	require.NoError(t, err)
	assert.False(t, reset)

	_, err = env.foo.Store.Get("dat://a/tables/foo/1.json")
	assert.NoError(t, err, "records must survive a no-op reset")
}

func TestResetOutdatedIndexes_ClearsAllTablesAndWatermarks(t *testing.T) {
	env := newManagerEnv(t)
	a := archive.NewMemArchive("dat://a")
	a.Put("/tables/foo/1.json", []byte(`{"k":1}`))
	require.NoError(t, env.manager.AddArchive(context.Background(), a))

	reset, err := env.manager.ResetOutdatedIndexes([]string{"foo"})
	require.NoError(t, err)
	assert.True(t, reset)

	_, err = env.foo.Store.Get("dat://a/tables/foo/1.json")
	assert.ErrorIs(t, err, store.ErrNotFound)

	meta, err := env.meta.Get("dat://a")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, uint64(0), meta.Version, "watermark reset so the next pass rescans")
}

func TestWatchArchive_DoubleAttachIsNoop(t *testing.T) {
	env := newManagerEnv(t)
	a := archive.NewMemArchive("dat://a")
	require.NoError(t, env.manager.AddArchive(context.Background(), a))

	require.NoError(t, env.manager.WatchArchive(a))
	assert.Equal(t, 1, env.manager.watchers.Size())
}

func TestWatcher_InvalidationBurstCoalescesDownloads(t *testing.T) {
	env := newManagerEnv(t)
	a := archive.NewMemArchive("dat://a")
	require.NoError(t, env.manager.AddArchive(context.Background(), a))

	for i := 0; i < 5; i++ {
		a.Invalidate("/tables/foo/1.json")
	}

	assert.Eventually(t, func() bool {
		return a.Downloads() == 1
	}, 2*time.Second, 5*time.Millisecond, "burst within the cooldown window downloads once")

	// A fresh invalidation after the window fires again.
	time.Sleep(50 * time.Millisecond)
	a.Invalidate("/tables/foo/1.json")
	assert.Eventually(t, func() bool {
		return a.Downloads() == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestManagerClose_StopsRetryLoops(t *testing.T) {
	env := newManagerEnv(t)
	a := archive.NewMemArchive("dat://flaky")
	a.SetUnreachable(errors.Unreachable("dat://flaky: host not found", nil))

	require.NoError(t, env.manager.AddArchive(context.Background(), a))
	env.waitSignal(t, "source-missing", 1)

	env.manager.Close()
	a.SetUnreachable(nil)
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, env.recorder.ByKind("source-found"))
}

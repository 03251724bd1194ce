package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "widgets.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSaveAndGetWidget(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveWidget(WidgetRecord{ID: "w1", SpecSource: `{"mark":"bar"}`, OptSource: `null`}))

	rec, err := store.GetWidget("w1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, `{"mark":"bar"}`, rec.SpecSource)
	assert.Equal(t, `null`, rec.OptSource)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestSaveWidgetUpserts(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveWidget(WidgetRecord{ID: "w1", SpecSource: `{}`, OptSource: `null`}))
	first, err := store.GetWidget("w1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, store.SaveWidget(WidgetRecord{ID: "w1", SpecSource: `{"mark":"line"}`, OptSource: `{"theme":"dark"}`}))

	second, err := store.GetWidget("w1")
	require.NoError(t, err)
	assert.Equal(t, `{"mark":"line"}`, second.SpecSource)
	assert.Equal(t, `{"theme":"dark"}`, second.OptSource)
	assert.True(t, second.CreatedAt.Equal(first.CreatedAt), "created_at is kept on update")
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

	all, err := store.ListWidgets()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetMissingWidget(t *testing.T) {
	store := newTestStore(t)
	rec, err := store.GetWidget("nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestListAndDelete(t *testing.T) {
	store := newTestStore(t)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.SaveWidget(WidgetRecord{ID: id, SpecSource: `{}`, OptSource: `null`}))
	}

	require.NoError(t, store.DeleteWidget("b"))
	require.NoError(t, store.DeleteWidget("missing"))

	all, err := store.ListWidgets()
	require.NoError(t, err)
	var ids []string
	for _, rec := range all {
		ids = append(ids, rec.ID)
	}
	assert.ElementsMatch(t, []string{"a", "c"}, ids)
}

func TestObserversReceiveEvents(t *testing.T) {
	store := newTestStore(t)
	events := make(chan Event, 4)
	store.AddObserver(ObserverFunc(func(e Event) { events <- e }))

	require.NoError(t, store.SaveWidget(WidgetRecord{ID: "w", SpecSource: `{}`, OptSource: `null`}))
	require.NoError(t, store.DeleteWidget("w"))

	seen := map[EventType]bool{}
	for i := 0; i < 2; i++ {
		select {
		case e := <-events:
			assert.Equal(t, "w", e.WidgetID)
			seen[e.Type] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for storage event")
		}
	}
	assert.True(t, seen[EventWidgetSaved])
	assert.True(t, seen[EventWidgetDeleted])
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "widgets.db")
	store, err := New(path)
	require.NoError(t, err)
	require.NoError(t, store.SaveWidget(WidgetRecord{ID: "w", SpecSource: `{"a":1}`, OptSource: `null`}))
	require.NoError(t, store.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := New(path)
	require.NoError(t, err)
	defer reopened.Close()

	rec, err := reopened.GetWidget("w")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, `{"a":1}`, rec.SpecSource)

	version, err := reopened.GetSchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)
}

func TestInMemoryStore(t *testing.T) {
	store, err := New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveWidget(WidgetRecord{ID: "m", SpecSource: `{}`, OptSource: `null`}))
	rec, err := store.GetWidget("m")
	require.NoError(t, err)
	require.NotNil(t, rec)
}

func TestSqliteFilePathFromDSN(t *testing.T) {
	tests := []struct {
		dsn    string
		path   string
		onDisk bool
	}{
		{"", "", false},
		{":memory:", "", false},
		{"file::memory:?cache=shared", "", false},
		{"file:/tmp/x.db?mode=memory", "", false},
		{"file:/tmp/x.db", "/tmp/x.db", true},
		{"/var/lib/w.db", "/var/lib/w.db", true},
		{"http://nope", "", false},
	}
	for _, tt := range tests {
		path, onDisk := sqliteFilePathFromDSN(tt.dsn)
		assert.Equal(t, tt.path, path, tt.dsn)
		assert.Equal(t, tt.onDisk, onDisk, tt.dsn)
	}
}

func TestClosedStore(t *testing.T) {
	var s *Store
	assert.ErrorIs(t, s.SaveWidget(WidgetRecord{ID: "x"}), ErrStoreClosed)
	_, err := s.ListWidgets()
	assert.ErrorIs(t, err, ErrStoreClosed)
}

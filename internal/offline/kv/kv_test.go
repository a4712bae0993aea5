package kv

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBackends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	file, err := OpenFile(filepath.Join(dir, "store.json"))
	require.NoError(t, err)

	lite, err := OpenSQLite(filepath.Join(dir, "store.db"))
	require.NoError(t, err)

	bdb, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)

	stores := map[string]Store{
		"memory": NewMemory(),
		"file":   file,
		"sqlite": lite,
		"badger": NewBadger(bdb),
	}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestStore_RoundTrip(t *testing.T) {
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := store.Get("missing")
			require.NoError(t, err)
			assert.False(t, ok, "missing key should report ok=false")

			require.NoError(t, store.Set("offline_devotionals", `[{"id":"offline-1"}]`))
			v, ok, err := store.Get("offline_devotionals")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, `[{"id":"offline-1"}]`, v)

			require.NoError(t, store.Set("offline_devotionals", `[]`))
			v, _, err = store.Get("offline_devotionals")
			require.NoError(t, err)
			assert.Equal(t, `[]`, v)

			require.NoError(t, store.Delete("offline_devotionals"))
			require.NoError(t, store.Delete("offline_devotionals"), "second delete must be a no-op")
			_, ok, err = store.Get("offline_devotionals")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSQLite_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "offline.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("k", "v"))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	v, ok, err := s.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	assert.Equal(t, path, s.Path())
}

func TestFile_SharedBetweenHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offline.json")

	a, err := OpenFile(path)
	require.NoError(t, err)
	b, err := OpenFile(path)
	require.NoError(t, err)

	require.NoError(t, a.Set("k", "from-a"))
	v, ok, err := b.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "from-a", v)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be renamed away")
}

func TestFile_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offline.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	f, err := OpenFile(path)
	require.NoError(t, err, "open must not fail on a corrupt file")

	_, _, err = f.Get("k")
	assert.Error(t, err, "reading a corrupt file reports an error")

	require.NoError(t, f.Set("k", "v"), "writing replaces the corrupt file")
	v, ok, err := f.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestFile_DeletedFileReadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offline.json")
	f, err := OpenFile(path)
	require.NoError(t, err)

	require.NoError(t, f.Set("offline_devotionals", `[{"id":"offline-1"}]`))
	_, ok, err := f.Get("offline_devotionals")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, os.Remove(path))

	_, ok, err = f.Get("offline_devotionals")
	require.NoError(t, err)
	assert.False(t, ok, "a deleted store file must not be served from cache")

	require.NoError(t, f.Set("other", "v"))
	g, err := OpenFile(path)
	require.NoError(t, err)
	_, ok, err = g.Get("offline_devotionals")
	require.NoError(t, err)
	assert.False(t, ok, "a later write must not restore cleared keys")
}

func TestFile_CorruptFileDropsStaleKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offline.json")
	f, err := OpenFile(path)
	require.NoError(t, err)

	require.NoError(t, f.Set("stale", "old"))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	require.NoError(t, f.Set("k", "v"))
	_, ok, err := f.Get("stale")
	require.NoError(t, err)
	assert.False(t, ok, "replacing a corrupt file must not write back cached keys")

	v, ok, err := f.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestMemory_Closed(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Close())

	_, _, err := m.Get("k")
	assert.True(t, errors.Is(err, ErrClosed))
	assert.True(t, errors.Is(m.Set("k", "v"), ErrClosed))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		dsn      string
		wantPath string
		wantErr  bool
	}{
		{name: "memory", dsn: "memory://"},
		{name: "sqlite", dsn: "sqlite://" + filepath.Join(dir, "a.db"), wantPath: filepath.Join(dir, "a.db")},
		{name: "file scheme", dsn: "file://" + filepath.Join(dir, "a.json"), wantPath: filepath.Join(dir, "a.json")},
		{name: "bare path", dsn: filepath.Join(dir, "b.json"), wantPath: filepath.Join(dir, "b.json")},
		{name: "badger", dsn: "badger://" + filepath.Join(dir, "badger"), wantPath: filepath.Join(dir, "badger")},
		{name: "empty", dsn: "", wantErr: true},
		{name: "unknown scheme", dsn: "redis://localhost", wantErr: true},
		{name: "missing path", dsn: "sqlite://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := Open(tt.dsn)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer store.Close()
			assert.Equal(t, tt.wantPath, store.Path())
		})
	}
}

func TestOpen_UnsupportedScheme(t *testing.T) {
	_, err := Open("redis://localhost:6379")
	assert.True(t, errors.Is(err, ErrUnsupportedScheme))
}

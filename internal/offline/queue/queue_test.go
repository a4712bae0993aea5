package queue

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koinonia-app/koinonia/internal/offline/events"
	"github.com/koinonia-app/koinonia/internal/offline/kv"
	"github.com/koinonia-app/koinonia/internal/offline/notify"
	"github.com/koinonia-app/koinonia/internal/offline/schema"
)

var fixedNow = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func newTestQueue(t *testing.T, store kv.Store) (*Queue, *notify.Recorder) {
	t.Helper()
	rec := &notify.Recorder{}
	seq := 0
	q := New(store, Options{
		Notifier: rec,
		Logger:   zerolog.Nop(),
		Clock:    func() time.Time { return fixedNow },
		NewID: func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		},
	})
	return q, rec
}

func TestEnqueue(t *testing.T) {
	q, rec := newTestQueue(t, kv.NewMemory())

	item, err := q.Enqueue(schema.Draft{Title: "T", Text: "body", Date: "2024-01-01"})
	require.NoError(t, err)

	assert.Equal(t, "offline-id-1", item.ID)
	assert.True(t, schema.IsLocalID(item.ID))
	assert.True(t, item.IsPending)
	assert.Equal(t, fixedNow, item.CreatedAt)
	assert.Equal(t, fixedNow, item.UpdatedAt)

	items := q.List()
	require.Len(t, items, 1)
	assert.Equal(t, "T", items[0].Title)
	assert.True(t, items[0].IsPending)

	assert.Equal(t, []string{"Saved offline"}, rec.Titles())
	assert.Equal(t, notify.VariantSuccess, rec.Notices()[0].Variant)
}

func TestEnqueue_PreservesInsertionOrder(t *testing.T) {
	q, _ := newTestQueue(t, kv.NewMemory())

	for _, title := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(schema.Draft{Title: title, Text: "x"})
		require.NoError(t, err)
	}

	var titles []string
	for _, item := range q.List() {
		titles = append(titles, item.Title)
	}
	assert.Equal(t, []string{"a", "b", "c"}, titles)
	assert.Equal(t, 3, q.Count())
}

func TestEnqueue_DefaultIDsAreUnique(t *testing.T) {
	q := New(kv.NewMemory(), Options{})

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		item, err := q.Enqueue(schema.Draft{Title: "T", Text: "x"})
		require.NoError(t, err)
		assert.False(t, seen[item.ID], "duplicate id %s", item.ID)
		seen[item.ID] = true
	}
}

type failingStore struct {
	kv.Store
	setErr error
	getErr error
}

func (f failingStore) Get(key string) (string, bool, error) {
	if f.getErr != nil {
		return "", false, f.getErr
	}
	return f.Store.Get(key)
}

func (f failingStore) Set(key, value string) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.Store.Set(key, value)
}

func TestEnqueue_PersistFailure(t *testing.T) {
	q, rec := newTestQueue(t, failingStore{Store: kv.NewMemory(), setErr: errors.New("disk full")})

	_, err := q.Enqueue(schema.Draft{Title: "T", Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, rec.Titles(), "no saved-offline notice when nothing was saved")
}

func TestList_FailsOpen(t *testing.T) {
	t.Run("absent key", func(t *testing.T) {
		q, _ := newTestQueue(t, kv.NewMemory())
		assert.Empty(t, q.List())
		assert.False(t, q.HasPending())
	})

	t.Run("corrupt json", func(t *testing.T) {
		store := kv.NewMemory()
		require.NoError(t, store.Set(StorageKey, "{not json"))
		q, _ := newTestQueue(t, store)
		assert.Empty(t, q.List())
	})

	t.Run("wrong shape", func(t *testing.T) {
		store := kv.NewMemory()
		require.NoError(t, store.Set(StorageKey, `{"id":"offline-1"}`))
		q, _ := newTestQueue(t, store)
		assert.Empty(t, q.List())
	})

	t.Run("store read error", func(t *testing.T) {
		q, _ := newTestQueue(t, failingStore{Store: kv.NewMemory(), getErr: errors.New("io error")})
		assert.NotPanics(t, func() { assert.Empty(t, q.List()) })
	})
}

func TestEnqueue_ReplacesCorruptQueue(t *testing.T) {
	store := kv.NewMemory()
	require.NoError(t, store.Set(StorageKey, "garbage"))
	q, _ := newTestQueue(t, store)

	_, err := q.Enqueue(schema.Draft{Title: "T", Text: "x"})
	require.NoError(t, err)
	assert.Len(t, q.List(), 1)
}

func TestRemove(t *testing.T) {
	q, _ := newTestQueue(t, kv.NewMemory())

	first, err := q.Enqueue(schema.Draft{Title: "first", Text: "x"})
	require.NoError(t, err)
	second, err := q.Enqueue(schema.Draft{Title: "second", Text: "x"})
	require.NoError(t, err)

	require.NoError(t, q.Remove(first.ID))
	items := q.List()
	require.Len(t, items, 1)
	assert.Equal(t, second.ID, items[0].ID)

	// Removing again, or removing an unknown id, is a no-op.
	require.NoError(t, q.Remove(first.ID))
	require.NoError(t, q.Remove("offline-unknown"))
	assert.Len(t, q.List(), 1)
}

func TestClear(t *testing.T) {
	q, _ := newTestQueue(t, kv.NewMemory())
	_, err := q.Enqueue(schema.Draft{Title: "T", Text: "x"})
	require.NoError(t, err)

	require.NoError(t, q.Clear())
	assert.False(t, q.HasPending())
}

func TestQueue_PublishesQueueChanged(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	changes := 0
	bus.Subscribe(events.QueueChanged, func(events.Event) { changes++ })

	q := New(kv.NewMemory(), Options{Bus: bus})
	item, err := q.Enqueue(schema.Draft{Title: "T", Text: "x"})
	require.NoError(t, err)
	require.NoError(t, q.Remove(item.ID))
	require.NoError(t, q.Remove(item.ID))

	assert.Equal(t, 2, changes, "no-op remove must not publish")
}

func TestQueue_ConcurrentMutations(t *testing.T) {
	store, err := kv.OpenSQLite(filepath.Join(t.TempDir(), "offline.db"))
	require.NoError(t, err)
	defer store.Close()

	q := New(store, Options{})

	const n = 25
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item, err := q.Enqueue(schema.Draft{Title: fmt.Sprintf("t-%d", i), Text: "x"})
			if err == nil {
				ids <- item.ID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	require.Equal(t, n, q.Count(), "no enqueue may be lost")

	var removed int
	for id := range ids {
		if removed%2 == 0 {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_ = q.Remove(id)
			}(id)
		}
		removed++
	}
	wg.Wait()

	assert.Equal(t, n/2, q.Count())
}

func TestQueue_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offline.json")

	store, err := kv.OpenFile(path)
	require.NoError(t, err)
	q := New(store, Options{})
	_, err = q.Enqueue(schema.Draft{Title: "persisted", Text: "x"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = kv.OpenFile(path)
	require.NoError(t, err)
	q = New(store, Options{})

	items := q.List()
	require.Len(t, items, 1)
	assert.Equal(t, "persisted", items[0].Title)
	assert.Equal(t, path, q.Path())
}

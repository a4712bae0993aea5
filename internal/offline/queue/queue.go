// Package queue implements the local durable queue of devotionals waiting
// to be written to the remote store.
//
// The whole queue is one JSON array stored under a single key. Every
// mutation is a read-modify-write of that array performed while holding the
// queue mutex, so concurrent Enqueue and Remove calls within one process
// never lose updates. Writers in separate processes are not coordinated.
package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/koinonia-app/koinonia/internal/offline/events"
	"github.com/koinonia-app/koinonia/internal/offline/kv"
	"github.com/koinonia-app/koinonia/internal/offline/notify"
	"github.com/koinonia-app/koinonia/internal/offline/schema"
)

// StorageKey is the key the queue is persisted under.
const StorageKey = "offline_devotionals"

// Options configures a Queue. Every field is optional.
type Options struct {
	Notifier notify.Notifier
	Logger   zerolog.Logger
	// Bus receives events.QueueChanged after each successful mutation.
	Bus *events.Bus
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
	// NewID returns a fresh identifier suffix. Defaults to a random UUID.
	NewID func() string
}

// Queue is the local durable queue.
type Queue struct {
	store    kv.Store
	notifier notify.Notifier
	logger   zerolog.Logger
	bus      *events.Bus
	now      func() time.Time
	newID    func() string

	mu sync.Mutex
}

// New returns a queue persisted in store.
func New(store kv.Store, opts Options) *Queue {
	q := &Queue{
		store:    store,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		bus:      opts.Bus,
		now:      opts.Clock,
		newID:    opts.NewID,
	}
	if q.notifier == nil {
		q.notifier = notify.Discard
	}
	if q.now == nil {
		q.now = time.Now
	}
	if q.newID == nil {
		q.newID = func() string { return uuid.NewString() }
	}
	return q
}

// Enqueue persists draft as a new pending devotional and returns the
// stored record. It emits a "saved offline" notice on success.
func (q *Queue) Enqueue(draft schema.Draft) (schema.PendingDevotional, error) {
	item := schema.NewPending(schema.LocalIDPrefix+q.newID(), draft, q.now())

	q.mu.Lock()
	items := q.load()
	items = append(items, item)
	err := q.save(items)
	q.mu.Unlock()

	if err != nil {
		return schema.PendingDevotional{}, fmt.Errorf("failed to enqueue devotional: %w", err)
	}

	q.logger.Info().Str("id", item.ID).Str("title", item.Title).Int("pending", len(items)).Msg("devotional queued offline")
	q.notifier.Notify(notify.Notice{
		Title:       "Saved offline",
		Description: "Your devotional will be published once the connection is restored.",
		Variant:     notify.VariantSuccess,
	})
	q.changed()
	return item, nil
}

// List returns every queued devotional in insertion order. It never fails:
// absent, unreadable or corrupt storage yields an empty slice.
func (q *Queue) List() []schema.PendingDevotional {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load()
}

// Remove drops the devotional with the given id. Removing an id that is not
// queued is a no-op.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	items := q.load()
	kept := make([]schema.PendingDevotional, 0, len(items))
	for _, item := range items {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	if len(kept) == len(items) {
		q.mu.Unlock()
		return nil
	}
	err := q.save(kept)
	q.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to remove devotional %s: %w", id, err)
	}
	q.changed()
	return nil
}

// Clear drops every queued devotional.
func (q *Queue) Clear() error {
	q.mu.Lock()
	err := q.store.Delete(StorageKey)
	q.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	q.changed()
	return nil
}

// HasPending reports whether anything is queued.
func (q *Queue) HasPending() bool {
	return q.Count() > 0
}

// Count returns the number of queued devotionals.
func (q *Queue) Count() int {
	return len(q.List())
}

// Path returns the location of the backing store, "" when not file-backed.
func (q *Queue) Path() string {
	return q.store.Path()
}

// load reads the persisted collection. Must be called with q.mu held.
func (q *Queue) load() []schema.PendingDevotional {
	raw, ok, err := q.store.Get(StorageKey)
	if err != nil {
		q.logger.Warn().Err(err).Msg("offline queue unreadable, treating as empty")
		return nil
	}
	if !ok || raw == "" {
		return nil
	}
	var items []schema.PendingDevotional
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		q.logger.Warn().Err(err).Msg("offline queue corrupt, treating as empty")
		return nil
	}
	return items
}

// save persists items. Must be called with q.mu held.
func (q *Queue) save(items []schema.PendingDevotional) error {
	if items == nil {
		items = []schema.PendingDevotional{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal queue: %w", err)
	}
	return q.store.Set(StorageKey, string(data))
}

func (q *Queue) changed() {
	if q.bus != nil {
		q.bus.Emit(events.QueueChanged, nil)
	}
}

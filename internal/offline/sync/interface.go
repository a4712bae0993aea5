package sync

import (
	"context"
	"errors"

	"github.com/koinonia-app/koinonia/internal/offline/schema"
)

// ErrSyncInProgress is returned by SyncAll when another drain is already
// running in this process.
var ErrSyncInProgress = errors.New("sync: drain already in progress")

// Syncer is the single entry point content-creation flows use to persist a
// devotional, and the entry point that reconciles the local queue against
// the remote store.
//
// The syncer never loses a devotional to a connectivity problem: if the
// remote store is unreachable, or a write fails for a network reason, the
// devotional is queued locally and written by a later drain. Writes the
// store rejects on their merits (validation, permission, conflict) are
// reported to the caller and never queued.
type Syncer interface {
	// Save persists draft, remotely when possible and locally otherwise.
	//
	// Save never panics and never returns an error directly; the outcome
	// is discriminated by SaveResult.Success and SaveResult.IsOffline:
	//
	//   Success  IsOffline  meaning
	//   true     false      written remotely, Record is set
	//   true     true       queued locally, Pending is set
	//   false    false      rejected by the remote store, Err is set
	//   false    true       could not be written remotely nor queued, Err is set
	//
	// Example:
	//   res := syncer.Save(ctx, schema.Draft{Title: "T", Text: "body"})
	//   if !res.Success {
	//       return res.Err
	//   }
	Save(ctx context.Context, draft schema.Draft) SaveResult

	// SyncOne writes one queued devotional with its local-only fields
	// stripped. On success the item is removed from the queue and true is
	// returned. Any failure leaves the item queued for a future drain and
	// returns false; failures are not classified here.
	//
	// Example:
	//   for _, item := range syncer.Pending() {
	//       syncer.SyncOne(ctx, item)
	//   }
	SyncOne(ctx context.Context, item schema.PendingDevotional) bool

	// SyncAll drains the queue.
	//
	// An empty queue returns a zero SyncResult without probing the remote
	// store. If the store is unreachable, SyncAll returns Failed equal to
	// the queue depth without attempting any writes. Otherwise items are
	// written sequentially via SyncOne; a failed item is skipped, not
	// fatal.
	//
	// Only one drain runs at a time: a call made while another drain is in
	// flight returns ErrSyncInProgress immediately. A cancelled ctx stops
	// the drain between items; items not attempted are counted as failed
	// and ctx.Err() is returned alongside the partial result.
	//
	// Example:
	//   res, err := syncer.SyncAll(ctx)
	//   if errors.Is(err, sync.ErrSyncInProgress) {
	//       return nil
	//   }
	SyncAll(ctx context.Context) (SyncResult, error)

	// Pending returns the queued devotionals, for pending-count badges.
	Pending() []schema.PendingDevotional

	// PendingCount returns len(Pending()).
	PendingCount() int
}

// SaveResult is the outcome of Save.
type SaveResult struct {
	Success   bool
	IsOffline bool

	// Record is the remote representation when the devotional was written
	// remotely.
	Record *schema.Record

	// Pending is the queued item when the devotional was saved offline.
	Pending *schema.PendingDevotional

	// Err explains a failed save.
	Err error
}

// SyncResult counts the outcome of one drain.
type SyncResult struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Queue is the local queue surface the syncer depends on.
type Queue interface {
	Enqueue(draft schema.Draft) (schema.PendingDevotional, error)
	List() []schema.PendingDevotional
	Remove(id string) error
}

// Prober reports remote reachability with bounded retries.
type Prober interface {
	Probe(ctx context.Context, maxAttempts int) bool
}

// Writer performs one remote create.
type Writer interface {
	WriteOne(ctx context.Context, draft schema.Draft) (schema.Record, error)
}

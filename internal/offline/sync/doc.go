// Package sync provides the orchestrator that decides whether a devotional is
// written to the remote store directly or queued on the device, and that
// drains the queue when connectivity allows.
//
// # Overview
//
// Content-creation flows call Save. Save probes the remote store, writes
// directly when it is reachable, and falls back to the local queue when it
// is not or when the write fails for a network reason:
//
//	Save(draft)
//	   ├── probe unreachable ─────────────► queue.Enqueue   (Success, IsOffline)
//	   └── probe reachable ─► writer.WriteOne
//	                              ├── ok ──────────────────► (Success, Record)
//	                              ├── network error ──► queue.Enqueue (Success, IsOffline)
//	                              └── rejected ────────────► (!Success, Err)
//
// # Draining
//
// SyncAll writes every queued devotional, one at a time. A failed item stays
// queued and is retried on the next drain; there is no retry limit and no
// dead-letter state. Drains are triggered on startup, on reconnect and on
// demand by the daemon package.
//
// # Usage
//
//	store, err := kv.Open("sqlite://~/.koinonia/offline.db")
//	if err != nil {
//	    return err
//	}
//	q := queue.New(store, queue.Options{Logger: logger})
//
//	remoteStore, err := remote.Open(remote.Config{URL: cfg.Remote.URL, APIKey: cfg.Remote.APIKey})
//	if err != nil {
//	    return err
//	}
//	w := remote.NewWriter(remoteStore, nil)
//
//	s, err := sync.New(sync.Options{
//	    Queue:  q,
//	    Prober: probe.New(w, logger),
//	    Writer: w,
//	    Logger: logger,
//	})
//	if err != nil {
//	    return err
//	}
//
//	res := s.Save(ctx, schema.Draft{Title: "Morning", Text: "Psalm 23"})
//	if !res.Success {
//	    return res.Err
//	}
//
// # Concurrency
//
// A Syncer is safe for concurrent use. Save may run alongside a drain; the
// queue serializes its own read-modify-write cycles. At most one SyncAll
// runs at a time per Syncer, and a concurrent call returns
// ErrSyncInProgress instead of writing the same items twice.
package sync

// Package daemon keeps the offline queue moving while the process runs.
//
// Three parts cooperate over an events.Bus:
//
//   - Monitor polls the remote store and publishes connection-online and
//     connection-offline on every transition. Finding the store online on
//     the first poll also counts as connection-online.
//   - Bridge drains the queue at startup and again, after a short
//     stabilize delay, whenever connection-online fires with work queued.
//     Every drain publishes offline-sync-complete.
//   - QueueWatcher watches the local store with fsnotify and publishes
//     offline-queue-changed when another process writes to it.
//
// Daemon wires the three together and blocks until its context is
// cancelled:
//
//	d, err := daemon.New(syncer, prober, bus, store.Path(), daemon.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	return d.Start(ctx)
package daemon

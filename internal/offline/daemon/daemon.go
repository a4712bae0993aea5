package daemon

import (
	"context"
	"fmt"

	"github.com/koinonia-app/koinonia/internal/offline/events"
	"github.com/koinonia-app/koinonia/internal/offline/sync"
)

// Daemon runs the Bridge, the Monitor and, for on-disk stores, the
// QueueWatcher together.
type Daemon struct {
	bridge  *Bridge
	monitor *Monitor
	watcher *QueueWatcher
	config  *Config
}

// New creates a daemon. storePath is the location of the local store as
// reported by kv.Store.Path; an empty path (in-memory store) disables the
// QueueWatcher.
//
// Use Start() to begin.
func New(s sync.Syncer, p sync.Prober, bus *events.Bus, storePath string, config *Config) (*Daemon, error) {
	config = config.withDefaults()

	bridge, err := NewBridge(s, p, bus, config)
	if err != nil {
		return nil, err
	}
	monitor, err := NewMonitor(p, bus, config)
	if err != nil {
		return nil, err
	}

	d := &Daemon{bridge: bridge, monitor: monitor, config: config}
	if storePath != "" {
		d.watcher, err = NewQueueWatcher(storePath, bus, config)
		if err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Bridge returns the daemon's bridge, for manual drains.
func (d *Daemon) Bridge() *Bridge { return d.bridge }

// Monitor returns the daemon's connectivity monitor.
func (d *Daemon) Monitor() *Monitor { return d.monitor }

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Subscribe the bridge and run the startup drain
// 2. Start polling connectivity
// 3. Start watching the local store for changes by other processes
//
// This blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Info().Msg("starting daemon")

	if err := d.bridge.Start(ctx); err != nil {
		return fmt.Errorf("failed to start bridge: %w", err)
	}
	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			d.bridge.Stop()
			_ = d.watcher.Stop()
			return fmt.Errorf("failed to start store watcher: %w", err)
		}
		d.config.Logger.Info().Str("dir", d.watcher.Dir()).Msg("watching offline store")
	}
	if err := d.monitor.Start(ctx); err != nil {
		d.Stop()
		return fmt.Errorf("failed to start monitor: %w", err)
	}

	<-ctx.Done()
	d.config.Logger.Info().Msg("shutdown signal received")
	d.Stop()
	return nil
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() {
	d.monitor.Stop()
	d.bridge.Stop()
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			d.config.Logger.Warn().Err(err).Msg("error closing store watcher")
		}
	}
	d.config.Logger.Info().Msg("daemon stopped")
}

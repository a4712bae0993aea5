package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/koinonia-app/koinonia/internal/config"
	"github.com/koinonia-app/koinonia/internal/logging"
	"github.com/koinonia-app/koinonia/internal/offline/daemon"
	"github.com/koinonia-app/koinonia/internal/offline/events"
	"github.com/koinonia-app/koinonia/internal/offline/kv"
	"github.com/koinonia-app/koinonia/internal/offline/metrics"
	"github.com/koinonia-app/koinonia/internal/offline/notify"
	"github.com/koinonia-app/koinonia/internal/offline/probe"
	"github.com/koinonia-app/koinonia/internal/offline/queue"
	"github.com/koinonia-app/koinonia/internal/offline/remote"
	"github.com/koinonia-app/koinonia/internal/offline/sync"
	"github.com/koinonia-app/koinonia/internal/ui"
)

// app holds every component a command needs, built once from config.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	printer  *ui.Printer
	bus      *events.Bus
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	store  kv.Store
	queue  *queue.Queue
	remote remote.Store
	prober *probe.Prober
	syncer sync.Syncer

	closeLog func() error
}

// openApp loads configuration and wires the offline stack.
func openApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		printer:  ui.NewPrinter(os.Stdout),
		bus:      events.NewBus(logging.Component(logger, "events")),
		registry: prometheus.NewRegistry(),
		closeLog: closeLog,
	}
	a.registry.MustRegister(collectors.NewGoCollector())
	a.metrics = metrics.New(a.registry)

	a.store, err = kv.Open(cfg.Store.DSN)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open offline store: %w", err)
	}

	notifier := notify.Multi(a.printer, notify.Log(logging.Component(logger, "notice")), notify.Publish(a.bus))

	a.queue = queue.New(a.store, queue.Options{
		Notifier: notifier,
		Logger:   logging.Component(logger, "queue"),
		Bus:      a.bus,
	})

	if cfg.RemoteConfigured() {
		a.remote, err = remote.Open(remote.Config{
			URL:         cfg.Remote.URL,
			APIKey:      cfg.Remote.APIKey,
			AccessToken: cfg.Remote.AccessToken,
			Timeout:     cfg.Remote.Timeout,
			Breaker: remote.BreakerConfig{
				Enabled:          cfg.Remote.Breaker.Enabled,
				FailureThreshold: cfg.Remote.Breaker.FailureThreshold,
				OpenTimeout:      cfg.Remote.Breaker.OpenTimeout,
			},
			Logger: logging.Component(logger, "remote"),
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open remote store: %w", err)
		}
	} else {
		logger.Debug().Msg("no remote store configured, devotionals stay offline")
		a.remote = remote.Unconfigured{}
	}

	writer := remote.NewWriter(a.remote, nil)
	a.prober = probe.New(writer, logging.Component(logger, "probe"))
	a.prober.AttemptTimeout = cfg.Sync.ProbeTimeout

	a.syncer, err = sync.New(sync.Options{
		Queue:             a.queue,
		Prober:            a.prober,
		Writer:            writer,
		Notifier:          notifier,
		Logger:            logging.Component(logger, "sync"),
		Metrics:           a.metrics,
		SaveProbeAttempts: cfg.Sync.SaveProbeAttempts,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.metrics.SetPending(a.syncer.PendingCount())

	return a, nil
}

// drain runs one drain through a daemon.Bridge so the result is published
// as events.SyncComplete, the same as a drain triggered by the daemon.
func (a *app) drain(ctx context.Context) (sync.SyncResult, error) {
	b, err := daemon.NewBridge(a.syncer, a.prober, a.bus, daemonConfig(a.cfg, a.logger))
	if err != nil {
		return sync.SyncResult{}, err
	}
	return b.Drain(ctx)
}

// mustOpenApp is openApp for command Run funcs.
func mustOpenApp() *app {
	a, err := openApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return a
}

// Close releases the stores and the log file.
func (a *app) Close() {
	if a.remote != nil {
		if err := a.remote.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close remote store")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close offline store")
		}
	}
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/koinonia-app/koinonia/internal/config"
	"github.com/koinonia-app/koinonia/internal/logging"
	"github.com/koinonia-app/koinonia/internal/offline/daemon"
	"github.com/koinonia-app/koinonia/internal/offline/dashboard"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Publish queued devotionals whenever the store is reachable",
	Long: `Run in the foreground and keep the offline queue drained.

The daemon drains once at startup when devotionals are queued and the store
answers, then again every time connectivity comes back. With
--dashboard-addr it also serves a live view of the queue over WebSocket,
with /pending, POST /sync and /metrics endpoints.

Stop with Ctrl-C.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp()
		defer a.Close()

		addr := a.cfg.Dashboard.Addr
		if cmd.Flags().Changed("dashboard-addr") {
			addr, _ = cmd.Flags().GetString("dashboard-addr")
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		d, err := daemon.New(a.syncer, a.prober, a.bus, a.store.Path(), daemonConfig(a.cfg, a.logger))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			a.Close()
			os.Exit(1)
		}

		if addr != "" {
			server := dashboard.NewServer(&dashboard.Config{
				Addr:     addr,
				Queue:    a.syncer,
				Drainer:  d.Bridge(),
				Gatherer: a.registry,
				Logger:   logging.Component(a.logger, "dashboard"),
			})
			if err := server.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
				a.Close()
				os.Exit(1)
			}
			defer func() { _ = server.Stop() }()

			detach := dashboard.NewHandler(server, a.syncer, logging.Component(a.logger, "dashboard")).Attach(a.bus)
			defer detach()

			a.printer.Muted("Dashboard on http://%s", server.GetAddr())
		}

		a.printer.Muted("Watching %d queued devotional(s), Ctrl-C to stop", a.syncer.PendingCount())
		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			a.Close()
			os.Exit(1)
		}
	},
}

func daemonConfig(cfg *config.Config, logger zerolog.Logger) *daemon.Config {
	dc := daemon.DefaultConfig()
	dc.StartupProbeAttempts = cfg.Sync.StartupProbeAttempts
	dc.StabilizeDelay = cfg.Sync.StabilizeDelay
	dc.ProbeInterval = cfg.Sync.ProbeInterval
	dc.Logger = logging.Component(logger, "daemon")
	return dc
}

func init() {
	daemonCmd.Flags().String("dashboard-addr", "", "Serve the dashboard on this address (empty disables it)")
	rootCmd.AddCommand(daemonCmd)
}

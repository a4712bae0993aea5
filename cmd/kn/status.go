package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/koinonia-app/koinonia/internal/offline/remote"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show queue depth and store reachability",
	Run: func(cmd *cobra.Command, args []string) {
		probe, _ := cmd.Flags().GetBool("probe")

		a := mustOpenApp()
		defer a.Close()

		a.printer.KeyValue("Pending", a.syncer.PendingCount())
		a.printer.KeyValue("Offline store", storeLabel(a.store.Path()))
		a.printer.KeyValue("Remote", remoteLabel(a.cfg.RemoteConfigured(), a.cfg.Remote.URL))

		if !probe {
			return
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		reachable := "no"
		if a.prober.Probe(ctx, a.cfg.Sync.SaveProbeAttempts) {
			reachable = "yes"
		}
		a.printer.KeyValue("Reachable", reachable)

		if b, ok := a.remote.(*remote.Breaker); ok {
			a.printer.KeyValue("Breaker", b.State())
		}
	},
}

func storeLabel(path string) string {
	if path == "" {
		return "memory (not persisted)"
	}
	return path
}

func remoteLabel(configured bool, url string) string {
	if !configured {
		return "not configured"
	}
	return url
}

func init() {
	statusCmd.Flags().Bool("probe", true, "Check whether the remote store is reachable")
	rootCmd.AddCommand(statusCmd)
}

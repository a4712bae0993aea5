package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/koinonia-app/koinonia/internal/offline/sync"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Publish queued devotionals now",
	Long: `Publish every queued devotional once.

Devotionals that fail stay queued for the next sync. If the store is not
reachable nothing is attempted and the command exits non-zero.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp()
		defer a.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		if a.syncer.PendingCount() == 0 {
			a.printer.Muted("No devotionals waiting to be published")
			return
		}

		res, err := a.drain(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			a.Close()
			os.Exit(1)
		}

		printSyncResult(a, res)
		if res.Failed > 0 {
			a.Close()
			os.Exit(1)
		}
	},
}

func printSyncResult(a *app, res sync.SyncResult) {
	a.printer.KeyValue("Published", res.Success)
	a.printer.KeyValue("Failed", res.Failed)
	a.printer.KeyValue("Pending", a.syncer.PendingCount())
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

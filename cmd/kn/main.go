// Command kn publishes devotionals and keeps the offline queue in sync with
// the remote store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "kn",
	Short: "Koinonia devotional publishing with offline support",
	Long: `kn publishes devotionals to the Koinonia store.

When the store cannot be reached, devotionals are kept in a local queue and
published automatically once the connection is back (see 'kn daemon') or on
demand with 'kn sync'.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ./koinonia.yaml or ~/.koinonia/koinonia.yaml)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "devotional", Title: "Devotionals:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

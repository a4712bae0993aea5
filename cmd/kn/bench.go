package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/koinonia-app/koinonia/internal/offline/loadtest"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure offline save latency against a local store backend",
	Long: `Simulate many authors saving devotionals while the remote store is down.

A throwaway store of the chosen backend is created in a temporary directory,
every save is queued, and the queue is checked for lost or duplicated
writes. The remote store is simulated; nothing is published.

Examples:
  # 20 authors, 10 saves each, on SQLite
  kn bench

  # Compare the Badger backend, then drain the queue
  kn bench --backend badger --drain

  # Output as JSON
  kn bench --json
`,
	Run: runBench,
}

func init() {
	benchCmd.Flags().Int("authors", 20, "Number of concurrent authors to simulate")
	benchCmd.Flags().Int("saves", 10, "Number of saves per author")
	benchCmd.Flags().String("backend", "sqlite", "Store backend: sqlite, badger, file or memory")
	benchCmd.Flags().Bool("drain", false, "Bring the simulated store online and drain afterwards")
	benchCmd.Flags().Bool("json", false, "Output results as JSON")
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) {
	authors, _ := cmd.Flags().GetInt("authors")
	saves, _ := cmd.Flags().GetInt("saves")
	backend, _ := cmd.Flags().GetString("backend")
	drain, _ := cmd.Flags().GetBool("drain")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if authors <= 0 {
		fmt.Fprintf(os.Stderr, "Error: --authors must be positive\n")
		os.Exit(1)
	}
	if saves <= 0 {
		fmt.Fprintf(os.Stderr, "Error: --saves must be positive\n")
		os.Exit(1)
	}

	dir, err := os.MkdirTemp("", "kn-bench-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	dsn, err := benchDSN(backend, dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	f, err := loadtest.NewFixture(dsn, zerolog.Nop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	stats, err := f.RunConcurrentSaves(ctx, authors, saves)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	verifyErr := f.VerifyNoLostWrites(authors * saves)

	report := benchReport{
		Backend:    backend,
		Authors:    authors,
		Saves:      stats.TotalSaves,
		Errors:     stats.Errors,
		P50Micros:  stats.P50.Microseconds(),
		P95Micros:  stats.P95.Microseconds(),
		P99Micros:  stats.P99.Microseconds(),
		Consistent: verifyErr == nil,
	}
	if drain {
		res, err := f.Drain(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: drain failed: %v\n", err)
		}
		report.Drained = &res.Success
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
			return
		}
	} else {
		fmt.Printf("Backend: %s, %d authors\n\n", backend, authors)
		stats.Print(os.Stdout)
		if report.Drained != nil {
			fmt.Printf("\nDrained: %d\n", *report.Drained)
		}
	}

	if verifyErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", verifyErr)
		f.Close()
		os.Exit(1)
	}
}

type benchReport struct {
	Backend    string `json:"backend"`
	Authors    int    `json:"authors"`
	Saves      int    `json:"saves"`
	Errors     int    `json:"errors"`
	P50Micros  int64  `json:"p50_us"`
	P95Micros  int64  `json:"p95_us"`
	P99Micros  int64  `json:"p99_us"`
	Consistent bool   `json:"consistent"`
	Drained    *int   `json:"drained,omitempty"`
}

func benchDSN(backend, dir string) (string, error) {
	switch backend {
	case "sqlite":
		return "sqlite://" + filepath.Join(dir, "offline.db"), nil
	case "badger":
		return "badger://" + filepath.Join(dir, "offline.badger"), nil
	case "file":
		return "file://" + filepath.Join(dir, "offline.json"), nil
	case "memory":
		return "memory://", nil
	default:
		return "", fmt.Errorf("unknown backend %q (use sqlite, badger, file or memory)", backend)
	}
}

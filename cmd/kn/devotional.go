package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/koinonia-app/koinonia/internal/offline/migrate"
	"github.com/koinonia-app/koinonia/internal/offline/schema"
	"github.com/koinonia-app/koinonia/internal/ui"
)

var devotionalCmd = &cobra.Command{
	Use:     "devotional",
	Aliases: []string{"dev"},
	GroupID: "devotional",
	Short:   "Create and inspect devotionals",
}

var devotionalSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Publish a devotional, or queue it if the store is unreachable",
	Long: `Publish a devotional to the remote store.

If the store cannot be reached the devotional is saved on this device and
published by the next sync. Rejected devotionals (invalid, duplicate, not
permitted) are reported and not queued.

Dates accept YYYY-MM-DD or natural language:
  kn devotional save --title "Morning" --text "Psalm 23" --date "next sunday"

Run with --interactive (or without --title on a terminal) for a form.`,
	Run: func(cmd *cobra.Command, args []string) {
		draft := schema.Draft{}
		draft.Title, _ = cmd.Flags().GetString("title")
		draft.Text, _ = cmd.Flags().GetString("text")
		draft.Scripture, _ = cmd.Flags().GetString("scripture")
		draft.ImageSrc, _ = cmd.Flags().GetString("image")
		draft.TransmissionLink, _ = cmd.Flags().GetString("link")
		draft.UserID, _ = cmd.Flags().GetString("user")
		dateInput, _ := cmd.Flags().GetString("date")
		interactive, _ := cmd.Flags().GetBool("interactive")

		if interactive || (draft.Title == "" && stdinIsTerminal()) {
			if !stdinIsTerminal() {
				fmt.Fprintf(os.Stderr, "Error: --interactive requires a terminal\n")
				os.Exit(1)
			}
			if err := runSaveForm(&draft, &dateInput); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					return
				}
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		date, err := parseDate(dateInput, time.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		draft.Date = date

		if err := draft.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		a := mustOpenApp()
		defer a.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		res := a.syncer.Save(ctx, draft)
		switch {
		case res.Success && res.IsOffline:
			a.printer.Muted("Queued as %s (%d pending)", res.Pending.ID, a.syncer.PendingCount())
		case res.Success:
			a.printer.Muted("Published as %s", res.Record.ID)
		default:
			a.Close()
			os.Exit(1)
		}
	},
}

var devotionalPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List devotionals waiting to be published",
	Run: func(cmd *cobra.Command, args []string) {
		output, _ := cmd.Flags().GetString("output")
		clearAll, _ := cmd.Flags().GetBool("clear")
		yes, _ := cmd.Flags().GetBool("yes")

		a := mustOpenApp()
		defer a.Close()

		if clearAll {
			n := a.queue.Count()
			if n == 0 {
				a.printer.Muted("Nothing queued")
				return
			}
			if !yes && !confirmClear(n) {
				return
			}
			if err := a.queue.Clear(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			a.printer.Muted("Discarded %d queued devotional(s)", n)
			return
		}

		if err := renderPending(os.Stdout, a.printer, a.syncer.Pending(), output); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var devotionalImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Queue devotionals from an export",
	Long: `Queue devotionals from an export file.

The file is either a JSON array, such as the browser client's
offline_devotionals storage value, or JSONL with one devotional per line.
Each valid devotional is queued with a fresh id; invalid ones are reported
and skipped.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		items, err := migrate.FromFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		a := mustOpenApp()
		defer a.Close()

		result, err := migrate.Import(a.queue, items, migrate.ImportOptions{DryRun: dryRun})
		for _, msg := range result.Errors {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", msg)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			a.Close()
			os.Exit(1)
		}

		verb := "Queued"
		if dryRun {
			verb = "Would queue"
		}
		a.printer.KeyValue("Read", result.Read)
		a.printer.KeyValue(verb, result.Imported)
		a.printer.KeyValue("Skipped", result.Skipped)
	},
}

var devotionalExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write queued devotionals as a JSON array",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp()
		defer a.Close()

		var w io.Writer = os.Stdout
		if len(args) == 1 {
			// #nosec G304 - controlled path from CLI
			f, err := os.Create(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				a.Close()
				os.Exit(1)
			}
			defer f.Close()
			w = f
		}

		if err := migrate.Export(w, a.queue.List()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			a.Close()
			os.Exit(1)
		}
	},
}

// pendingView is the flattened shape used for json and yaml output.
type pendingView struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Date      string    `json:"date,omitempty" yaml:"date,omitempty"`
	Scripture string    `json:"scripture,omitempty" yaml:"scripture,omitempty"`
	CreatedAt time.Time `json:"createdAt" yaml:"created_at"`
}

func renderPending(w io.Writer, p *ui.Printer, items []schema.PendingDevotional, format string) error {
	views := make([]pendingView, 0, len(items))
	for _, item := range items {
		views = append(views, pendingView{
			ID:        item.ID,
			Title:     item.Title,
			Date:      item.Date,
			Scripture: item.Scripture,
			CreatedAt: item.CreatedAt,
		})
	}

	switch format {
	case "", "table":
		if len(views) == 0 {
			p.Muted("No devotionals waiting to be published")
			return nil
		}
		rows := make([][]string, 0, len(views))
		for _, v := range views {
			rows = append(rows, []string{v.ID, ui.Truncate(v.Title, 40), v.Date, v.CreatedAt.Local().Format("2006-01-02 15:04")})
		}
		p.Table([]string{"ID", "TITLE", "DATE", "QUEUED"}, rows)
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(views)
	default:
		return fmt.Errorf("unknown output format %q (use table, json or yaml)", format)
	}
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func runSaveForm(draft *schema.Draft, dateInput *string) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Title").
				Value(&draft.Title).
				Validate(func(s string) error {
					d := schema.Draft{Title: s, Text: "-"}
					return d.Validate()
				}),
			huh.NewText().
				Title("Text").
				Value(&draft.Text),
			huh.NewInput().
				Title("Date").
				Placeholder("today, next sunday, 2024-01-07").
				Value(dateInput).
				Validate(func(s string) error {
					_, err := parseDate(s, time.Now())
					return err
				}),
			huh.NewInput().
				Title("Scripture").
				Value(&draft.Scripture),
			huh.NewInput().
				Title("Transmission link").
				Value(&draft.TransmissionLink),
		),
	)
	return form.Run()
}

func confirmClear(n int) bool {
	if !stdinIsTerminal() {
		fmt.Fprintf(os.Stderr, "Error: refusing to discard %d queued devotional(s) without --yes\n", n)
		return false
	}
	confirmed := false
	err := huh.NewConfirm().
		Title(fmt.Sprintf("Discard %d unpublished devotional(s)?", n)).
		Description("They have not reached the store and cannot be recovered.").
		Value(&confirmed).
		Run()
	return err == nil && confirmed
}

func init() {
	devotionalSaveCmd.Flags().String("title", "", "Devotional title")
	devotionalSaveCmd.Flags().String("text", "", "Devotional body")
	devotionalSaveCmd.Flags().String("date", "", "Date (YYYY-MM-DD or natural language, default today)")
	devotionalSaveCmd.Flags().String("scripture", "", "Scripture reference")
	devotionalSaveCmd.Flags().String("image", "", "Image URL")
	devotionalSaveCmd.Flags().String("link", "", "Transmission (live stream) link")
	devotionalSaveCmd.Flags().String("user", "", "Author user id")
	devotionalSaveCmd.Flags().BoolP("interactive", "i", false, "Fill in the devotional with a form")

	devotionalPendingCmd.Flags().StringP("output", "o", "table", "Output format: table, json or yaml")
	devotionalPendingCmd.Flags().Bool("clear", false, "Discard every queued devotional")
	devotionalPendingCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation for --clear")

	devotionalImportCmd.Flags().Bool("dry-run", false, "Validate without queueing")

	devotionalCmd.AddCommand(devotionalSaveCmd)
	devotionalCmd.AddCommand(devotionalPendingCmd)
	devotionalCmd.AddCommand(devotionalImportCmd)
	devotionalCmd.AddCommand(devotionalExportCmd)
	rootCmd.AddCommand(devotionalCmd)
}

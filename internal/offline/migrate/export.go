// Package migrate moves queued devotionals between devices and stores.
//
// An export is either a JSON array, the shape the browser client keeps under
// its offline_devotionals storage key, or JSONL with one devotional per
// line. Imported devotionals are re-queued with fresh local ids.
package migrate

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/koinonia-app/koinonia/internal/offline/schema"
)

// Enqueuer is the queue surface an import writes to.
type Enqueuer interface {
	Enqueue(draft schema.Draft) (schema.PendingDevotional, error)
}

// ImportOptions contains configuration for an import
type ImportOptions struct {
	DryRun bool // Validate without enqueueing
}

// ImportResult contains statistics about an import
type ImportResult struct {
	Read     int
	Imported int
	Skipped  int
	Errors   []string
}

// FromFile reads an export file.
func FromFile(path string) ([]schema.PendingDevotional, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open export file: %w", err)
	}
	defer file.Close()

	return FromExport(file)
}

// FromExport parses a JSON array or JSONL stream of devotionals.
func FromExport(r io.Reader) ([]schema.PendingDevotional, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}

	if first == '[' {
		var items []schema.PendingDevotional
		if err := json.NewDecoder(br).Decode(&items); err != nil {
			return nil, fmt.Errorf("invalid JSON array: %w", err)
		}
		return items, nil
	}

	var items []schema.PendingDevotional
	decoder := json.NewDecoder(br)
	for lineNum := 1; ; lineNum++ {
		var item schema.PendingDevotional
		if err := decoder.Decode(&item); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at record %d: %w", lineNum, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if !bytes.ContainsRune([]byte(" \t\r\n"), rune(b)) {
			return b, br.UnreadByte()
		}
	}
}

// Import re-queues the content of each item. Items whose content does not
// validate are skipped and reported in the result; they never abort the
// import. Queue failures do abort it, since later items would fail the
// same way.
func Import(q Enqueuer, items []schema.PendingDevotional, opts ImportOptions) (*ImportResult, error) {
	result := &ImportResult{}

	for i, item := range items {
		result.Read++
		draft := item.Content()

		if err := draft.Validate(); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("record %d (%s): %v", i+1, label(item), err))
			continue
		}

		if opts.DryRun {
			result.Imported++
			continue
		}

		if _, err := q.Enqueue(draft); err != nil {
			return result, fmt.Errorf("failed to enqueue record %d (%s): %w", i+1, label(item), err)
		}
		result.Imported++
	}

	return result, nil
}

// Export writes items as an indented JSON array, the shape FromExport and
// the browser client both read.
func Export(w io.Writer, items []schema.PendingDevotional) error {
	if items == nil {
		items = []schema.PendingDevotional{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(items); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}

func label(item schema.PendingDevotional) string {
	if item.ID != "" {
		return item.ID
	}
	if item.Title != "" {
		return fmt.Sprintf("%q", item.Title)
	}
	return "untitled"
}

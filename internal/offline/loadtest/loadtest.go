// Package loadtest drives the offline queue with many concurrent authors.
//
// It checks that concurrent saves made while the remote store is down are
// all queued exactly once, and reports save latency for a given kv backend.
// The remote store is simulated in process so runs are repeatable.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"sort"
	gosync "sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/koinonia-app/koinonia/internal/offline/kv"
	"github.com/koinonia-app/koinonia/internal/offline/probe"
	"github.com/koinonia-app/koinonia/internal/offline/queue"
	"github.com/koinonia-app/koinonia/internal/offline/remote"
	"github.com/koinonia-app/koinonia/internal/offline/schema"
	"github.com/koinonia-app/koinonia/internal/offline/sync"
)

// Remote is an in-process remote.Store whose reachability can be toggled.
// While offline every call fails with a connection-refused error, which the
// sync engine classifies as a network failure.
type Remote struct {
	// Latency is added to every successful call.
	Latency time.Duration

	online atomic.Bool

	mu      gosync.Mutex
	seq     int
	written []schema.Row
}

// NewRemote returns a simulated store, initially reachable or not.
func NewRemote(online bool) *Remote {
	r := &Remote{}
	r.online.Store(online)
	return r
}

// SetOnline toggles reachability.
func (r *Remote) SetOnline(online bool) { r.online.Store(online) }

// Ping implements remote.Store.
func (r *Remote) Ping(ctx context.Context) error {
	return r.wait(ctx)
}

// InsertDevotional implements remote.Store.
func (r *Remote) InsertDevotional(ctx context.Context, row schema.Row) (schema.Record, error) {
	if err := r.wait(ctx); err != nil {
		return schema.Record{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.written = append(r.written, row)
	return schema.Record{ID: fmt.Sprintf("%d", r.seq), Row: row}, nil
}

// Close implements remote.Store.
func (r *Remote) Close() error { return nil }

// Written returns the rows inserted so far.
func (r *Remote) Written() []schema.Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schema.Row, len(r.written))
	copy(out, r.written)
	return out
}

func (r *Remote) wait(ctx context.Context) error {
	if !r.online.Load() {
		return syscall.ECONNREFUSED
	}
	if r.Latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(r.Latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fixture is a complete offline stack over one kv backend.
type Fixture struct {
	Store  kv.Store
	Queue  *queue.Queue
	Remote *Remote
	Syncer sync.Syncer
}

// LatencyStats captures save latency for a run.
type LatencyStats struct {
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	P50        time.Duration
	P95        time.Duration
	P99        time.Duration
	TotalSaves int
	Errors     int
	Durations  []time.Duration
}

// NewFixture opens the store named by dsn and wires a queue and syncer
// over it, with the simulated remote initially offline.
func NewFixture(dsn string, logger zerolog.Logger) (*Fixture, error) {
	store, err := kv.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	f := &Fixture{
		Store:  store,
		Queue:  queue.New(store, queue.Options{Logger: logger}),
		Remote: NewRemote(false),
	}

	writer := remote.NewWriter(f.Remote, nil)
	f.Syncer, err = sync.New(sync.Options{
		Queue:  f.Queue,
		Prober: probe.New(writer, logger),
		Writer: writer,
		Logger: logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return f, nil
}

// Close closes the backing store.
func (f *Fixture) Close() error {
	if f.Store != nil {
		return f.Store.Close()
	}
	return nil
}

// RunConcurrentSaves has numAuthors goroutines each save savesPerAuthor
// drafts through the syncer and returns aggregated latency. A save counts
// as an error when its result is not successful.
func (f *Fixture) RunConcurrentSaves(ctx context.Context, numAuthors, savesPerAuthor int) (*LatencyStats, error) {
	var wg gosync.WaitGroup
	var errorCount atomic.Int64

	resultsChan := make(chan []time.Duration, numAuthors)

	for i := 0; i < numAuthors; i++ {
		wg.Add(1)
		go func(author int) {
			defer wg.Done()

			drafts := GenerateDrafts(savesPerAuthor, fmt.Sprintf("author-%03d", author))
			durations := make([]time.Duration, 0, len(drafts))
			for _, d := range drafts {
				if ctx.Err() != nil {
					break
				}
				start := time.Now()
				res := f.Syncer.Save(ctx, d)
				durations = append(durations, time.Since(start))
				if !res.Success {
					errorCount.Add(1)
				}
			}
			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)

	var all []time.Duration
	for durations := range resultsChan {
		all = append(all, durations...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no saves completed")
	}

	stats := computeLatencyStats(all)
	stats.Errors = int(errorCount.Load())
	return stats, ctx.Err()
}

// VerifyNoLostWrites checks that the queue holds exactly expected items,
// each with a distinct local id.
func (f *Fixture) VerifyNoLostWrites(expected int) error {
	items := f.Queue.List()
	if len(items) != expected {
		return fmt.Errorf("queue holds %d devotionals, expected %d", len(items), expected)
	}
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if !schema.IsLocalID(item.ID) {
			return fmt.Errorf("queued devotional has non-local id %q", item.ID)
		}
		if seen[item.ID] {
			return fmt.Errorf("duplicate queued id %q", item.ID)
		}
		seen[item.ID] = true
	}
	return nil
}

// Drain brings the simulated remote online and publishes the queue.
func (f *Fixture) Drain(ctx context.Context) (sync.SyncResult, error) {
	f.Remote.SetOnline(true)
	return f.Syncer.SyncAll(ctx)
}

// GenerateDrafts returns count valid drafts whose titles start with prefix.
func GenerateDrafts(count int, prefix string) []schema.Draft {
	books := []string{"Psalm 23", "John 1", "Romans 8", "Isaiah 40", "Matthew 5"}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	drafts := make([]schema.Draft, count)
	for i := 0; i < count; i++ {
		book := books[i%len(books)]
		drafts[i] = schema.Draft{
			Title:     fmt.Sprintf("%s #%d", prefix, i),
			Text:      fmt.Sprintf("Reflection on %s for load testing", book),
			Date:      base.AddDate(0, 0, i).Format(schema.DateLayout),
			Scripture: book,
		}
	}
	return drafts
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(durations)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		TotalSaves: len(durations),
		Durations:  sorted,
	}
}

// Print writes the statistics to w.
func (s *LatencyStats) Print(w io.Writer) {
	fmt.Fprintf(w, "Save Latency:\n")
	fmt.Fprintf(w, "  Total Saves:  %d\n", s.TotalSaves)
	fmt.Fprintf(w, "  Errors:       %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:          %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median): %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:         %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:          %v\n", s.P95)
	fmt.Fprintf(w, "  P99:          %v\n", s.P99)
	fmt.Fprintf(w, "  Max:          %v\n", s.Max)
}

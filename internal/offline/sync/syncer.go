package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/koinonia-app/koinonia/internal/offline/metrics"
	"github.com/koinonia-app/koinonia/internal/offline/notify"
	"github.com/koinonia-app/koinonia/internal/offline/remote"
	"github.com/koinonia-app/koinonia/internal/offline/schema"
)

// Defaults for Options.
const (
	DefaultSaveProbeAttempts  = 2
	DefaultDrainProbeAttempts = 1
)

// Options wires a Syncer. Queue, Prober and Writer are required.
type Options struct {
	Queue    Queue
	Prober   Prober
	Writer   Writer
	Notifier notify.Notifier
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics

	// SaveProbeAttempts bounds the reachability probe made by Save.
	SaveProbeAttempts int

	// DrainProbeAttempts bounds the reachability probe made by SyncAll.
	DrainProbeAttempts int
}

// syncer implements the Syncer interface.
type syncer struct {
	queue    Queue
	prober   Prober
	writer   Writer
	notifier notify.Notifier
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	saveProbeAttempts  int
	drainProbeAttempts int

	draining atomic.Bool

	// attempts counts failed writes per queued id within this process.
	attemptsMu gosync.Mutex
	attempts   map[string]int
}

// New creates a Syncer from opts.
//
// Example:
//
//	q := queue.New(store, queue.Options{Notifier: n, Logger: logger})
//	w := remote.NewWriter(remoteStore, nil)
//	s, err := sync.New(sync.Options{
//	    Queue:  q,
//	    Prober: probe.New(w, logger),
//	    Writer: w,
//	})
func New(opts Options) (Syncer, error) {
	if opts.Queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if opts.Prober == nil {
		return nil, fmt.Errorf("prober cannot be nil")
	}
	if opts.Writer == nil {
		return nil, fmt.Errorf("writer cannot be nil")
	}
	s := &syncer{
		queue:              opts.Queue,
		prober:             opts.Prober,
		writer:             opts.Writer,
		notifier:           opts.Notifier,
		logger:             opts.Logger,
		metrics:            opts.Metrics,
		saveProbeAttempts:  opts.SaveProbeAttempts,
		drainProbeAttempts: opts.DrainProbeAttempts,
		attempts:           make(map[string]int),
	}
	if s.notifier == nil {
		s.notifier = notify.Discard
	}
	if s.saveProbeAttempts < 1 {
		s.saveProbeAttempts = DefaultSaveProbeAttempts
	}
	if s.drainProbeAttempts < 1 {
		s.drainProbeAttempts = DefaultDrainProbeAttempts
	}
	return s, nil
}

// Save implements Syncer.Save.
func (s *syncer) Save(ctx context.Context, draft schema.Draft) (result SaveResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("save panicked")
			result = SaveResult{Err: fmt.Errorf("save panicked: %v", r)}
			s.metrics.ObserveSave(metrics.ModeFailed)
		}
	}()

	if !s.prober.Probe(ctx, s.saveProbeAttempts) {
		s.logger.Info().Str("title", draft.Title).Msg("remote store unreachable, saving offline")
		return s.saveOffline(draft)
	}

	rec, err := s.writer.WriteOne(ctx, draft)
	if err == nil {
		s.logger.Info().Str("id", rec.ID).Str("title", draft.Title).Msg("devotional published")
		s.notifier.Notify(notify.Notice{
			Title:   "Devotional published",
			Variant: notify.VariantSuccess,
		})
		s.metrics.ObserveSave(metrics.ModeOnline)
		return SaveResult{Success: true, Record: &rec}
	}

	if remote.IsNetwork(err) {
		s.logger.Warn().Err(err).Str("title", draft.Title).Msg("remote write failed with network error, saving offline")
		return s.saveOffline(draft)
	}

	s.logger.Error().Err(err).Str("kind", remote.Classify(err).String()).Str("title", draft.Title).Msg("remote store rejected devotional")
	s.notifier.Notify(notify.Notice{
		Title:       "Could not publish devotional",
		Description: describe(err),
		Variant:     notify.VariantDestructive,
	})
	s.metrics.ObserveSave(metrics.ModeFailed)
	return SaveResult{Err: err}
}

func (s *syncer) saveOffline(draft schema.Draft) SaveResult {
	item, err := s.queue.Enqueue(draft)
	if err != nil {
		s.logger.Error().Err(err).Str("title", draft.Title).Msg("failed to queue devotional offline")
		s.notifier.Notify(notify.Notice{
			Title:       "Could not save devotional",
			Description: "The devotional could not be published or stored on this device.",
			Variant:     notify.VariantDestructive,
		})
		s.metrics.ObserveSave(metrics.ModeFailed)
		return SaveResult{IsOffline: true, Err: err}
	}
	s.metrics.ObserveSave(metrics.ModeOffline)
	s.metrics.SetPending(len(s.queue.List()))
	return SaveResult{Success: true, IsOffline: true, Pending: &item}
}

// SyncOne implements Syncer.SyncOne.
func (s *syncer) SyncOne(ctx context.Context, item schema.PendingDevotional) bool {
	rec, err := s.writer.WriteOne(ctx, item.Content())
	if err != nil {
		attempts := s.recordFailure(item.ID)
		s.logger.Warn().Err(err).
			Str("id", item.ID).
			Str("kind", remote.Classify(err).String()).
			Int("attempts", attempts).
			Msg("failed to sync queued devotional, will retry on next drain")
		return false
	}

	if err := s.queue.Remove(item.ID); err != nil {
		s.logger.Error().Err(err).Str("id", item.ID).Str("remote_id", rec.ID).Msg("devotional synced but could not be removed from queue")
		return false
	}

	s.clearFailures(item.ID)
	s.logger.Info().Str("id", item.ID).Str("remote_id", rec.ID).Str("title", item.Title).Msg("synced queued devotional")
	return true
}

// SyncAll implements Syncer.SyncAll.
func (s *syncer) SyncAll(ctx context.Context) (SyncResult, error) {
	if !s.draining.CompareAndSwap(false, true) {
		s.logger.Debug().Msg("drain already in progress, skipping")
		return SyncResult{}, ErrSyncInProgress
	}
	defer s.draining.Store(false)

	pending := s.Pending()
	if len(pending) == 0 {
		return SyncResult{}, nil
	}

	if !s.prober.Probe(ctx, s.drainProbeAttempts) {
		s.logger.Info().Int("pending", len(pending)).Msg("remote store unreachable, drain skipped")
		return SyncResult{Failed: len(pending)}, nil
	}

	s.logger.Info().Int("pending", len(pending)).Msg("starting drain")
	s.notifier.Notify(notify.Notice{
		Title:       "Syncing offline devotionals",
		Description: fmt.Sprintf("Publishing %d pending devotional(s).", len(pending)),
		Variant:     notify.VariantDefault,
	})

	var (
		result SyncResult
		ctxErr error
	)
	for i, item := range pending {
		if err := ctx.Err(); err != nil {
			result.Failed += len(pending) - i
			ctxErr = err
			break
		}
		if s.SyncOne(ctx, item) {
			result.Success++
		} else {
			result.Failed++
		}
	}

	s.logger.Info().Int("success", result.Success).Int("failed", result.Failed).Msg("drain complete")
	if result.Success > 0 || result.Failed > 0 {
		s.notifier.Notify(resultNotice(result))
	}
	s.metrics.ObserveDrain(result.Success, result.Failed)
	s.metrics.SetPending(s.PendingCount())

	return result, ctxErr
}

// Pending implements Syncer.Pending.
func (s *syncer) Pending() []schema.PendingDevotional {
	items := s.queue.List()
	pending := items[:0:0]
	for _, item := range items {
		if item.IsPending {
			pending = append(pending, item)
		}
	}
	return pending
}

// PendingCount implements Syncer.PendingCount.
func (s *syncer) PendingCount() int {
	return len(s.Pending())
}

func (s *syncer) recordFailure(id string) int {
	s.attemptsMu.Lock()
	defer s.attemptsMu.Unlock()
	s.attempts[id]++
	return s.attempts[id]
}

func (s *syncer) clearFailures(id string) {
	s.attemptsMu.Lock()
	defer s.attemptsMu.Unlock()
	delete(s.attempts, id)
}

func resultNotice(r SyncResult) notify.Notice {
	n := notify.Notice{
		Title:       "Offline devotionals synced",
		Description: fmt.Sprintf("%d published, %d failed.", r.Success, r.Failed),
		Variant:     notify.VariantSuccess,
	}
	if r.Failed > 0 {
		n.Title = "Offline sync incomplete"
		n.Variant = notify.VariantDestructive
	}
	return n
}

func describe(err error) string {
	var classified *remote.Error
	if errors.As(err, &classified) {
		switch classified.Kind {
		case remote.KindValidation:
			return "The devotional was rejected as invalid."
		case remote.KindConflict:
			return "A devotional with the same key already exists."
		case remote.KindPermission:
			return "You do not have permission to publish devotionals."
		}
	}
	return err.Error()
}

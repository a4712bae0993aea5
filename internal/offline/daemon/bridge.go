package daemon

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/koinonia-app/koinonia/internal/offline/events"
	"github.com/koinonia-app/koinonia/internal/offline/sync"
)

// Bridge connects connectivity signals to queue drains.
//
// On Start it drains once if anything is queued and the remote store is
// reachable. Afterwards every connection-online event with a non-empty
// queue schedules a drain after Config.StabilizeDelay. Each drain that
// actually runs publishes events.SyncComplete with the sync.SyncResult as
// payload.
type Bridge struct {
	syncer sync.Syncer
	prober sync.Prober
	bus    *events.Bus
	config *Config

	mu          gosync.Mutex
	running     bool
	unsubscribe func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// NewBridge creates a bridge. Use Start to attach it to the bus.
func NewBridge(s sync.Syncer, p sync.Prober, bus *events.Bus, config *Config) (*Bridge, error) {
	if s == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if p == nil {
		return nil, fmt.Errorf("prober cannot be nil")
	}
	if bus == nil {
		return nil, fmt.Errorf("bus cannot be nil")
	}
	return &Bridge{
		syncer: s,
		prober: p,
		bus:    bus,
		config: config.withDefaults(),
	}, nil
}

// Start subscribes to connection-online and runs the startup drain in the
// background. It returns immediately. The bridge stops when ctx is
// cancelled or Stop is called.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("bridge already running")
	}

	b.ctx, b.cancel = context.WithCancel(ctx)
	b.running = true
	b.unsubscribe = b.bus.Subscribe(events.ConnectionOnline, b.onOnline)

	b.wg.Add(1)
	go b.startupDrain()

	return nil
}

// Stop removes the connection-online listener and waits for scheduled and
// in-flight drains to finish. Scheduled drains still waiting out the
// stabilize delay are abandoned. Stop is safe to call more than once.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.unsubscribe()
	b.cancel()
	b.mu.Unlock()

	b.wg.Wait()
}

// Drain runs one drain and publishes events.SyncComplete. A drain already
// in flight elsewhere in the process is not duplicated: Drain returns
// sync.ErrSyncInProgress and publishes nothing.
func (b *Bridge) Drain(ctx context.Context) (sync.SyncResult, error) {
	res, err := b.syncer.SyncAll(ctx)
	if errors.Is(err, sync.ErrSyncInProgress) {
		b.config.Logger.Debug().Msg("drain skipped, another drain is running")
		return res, err
	}
	if err != nil {
		b.config.Logger.Warn().Err(err).Int("success", res.Success).Int("failed", res.Failed).Msg("drain interrupted")
	}
	b.bus.Emit(events.SyncComplete, res)
	return res, err
}

func (b *Bridge) startupDrain() {
	defer b.wg.Done()

	if b.syncer.PendingCount() == 0 {
		return
	}
	if !b.prober.Probe(b.ctx, b.config.StartupProbeAttempts) {
		b.config.Logger.Info().Int("pending", b.syncer.PendingCount()).Msg("remote store unreachable at startup, waiting for connection")
		return
	}
	b.config.Logger.Info().Msg("draining offline queue at startup")
	_, _ = b.Drain(b.ctx)
}

// onOnline runs on the publisher's goroutine, so the drain is handed off.
func (b *Bridge) onOnline(events.Event) {
	if b.syncer.PendingCount() == 0 {
		return
	}

	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	ctx := b.ctx
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()

		if b.config.StabilizeDelay > 0 {
			timer := time.NewTimer(b.config.StabilizeDelay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return
			}
		}

		if b.syncer.PendingCount() == 0 {
			return
		}
		b.config.Logger.Info().Msg("connection restored, draining offline queue")
		_, _ = b.Drain(ctx)
	}()
}

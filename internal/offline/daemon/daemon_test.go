package daemon

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koinonia-app/koinonia/internal/offline/events"
	"github.com/koinonia-app/koinonia/internal/offline/kv"
	"github.com/koinonia-app/koinonia/internal/offline/queue"
	"github.com/koinonia-app/koinonia/internal/offline/schema"
	"github.com/koinonia-app/koinonia/internal/offline/sync"
)

// TestDaemon_ReconnectEndToEnd covers the path from a dropped connection to
// an emptied queue: the monitor notices the link coming back, the bridge
// drains and the sync-complete event fires.
func TestDaemon_ReconnectEndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offline.json")
	store, err := kv.OpenFile(path)
	require.NoError(t, err)

	f := newFixture(t, false, 0)
	f.queue = queue.New(store, queue.Options{Bus: f.bus})
	s, err := sync.New(sync.Options{Queue: f.queue, Prober: f.prober, Writer: f.writer})
	require.NoError(t, err)
	f.syncer = s

	res := s.Save(context.Background(), schema.Draft{Title: "T", Text: "body"})
	require.True(t, res.IsOffline)

	d, err := New(f.syncer, f.prober, f.bus, store.Path(), fastConfig())
	require.NoError(t, err)
	assert.NotNil(t, d.Bridge())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	require.Eventually(t, func() bool { return d.Monitor().State() == Offline }, time.Second, 5*time.Millisecond)
	f.prober.online.Store(true)

	require.Eventually(t, func() bool { return f.queue.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		for _, r := range f.completed() {
			if r.Success == 1 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop")
	}
	assert.Equal(t, 0, f.bus.Subscribers(events.ConnectionOnline))
}

// failFirstProber reports the store unreachable on its first call and then
// defers to the wrapped prober.
type failFirstProber struct {
	inner  *switchProber
	failed atomic.Bool
}

func (p *failFirstProber) Probe(ctx context.Context, maxAttempts int) bool {
	if p.failed.CompareAndSwap(false, true) {
		return false
	}
	return p.inner.Probe(ctx, maxAttempts)
}

// TestDaemon_FirstCheckOnlineDrainsAfterMissedStartup covers a store that is
// down for the startup attempt but up by the monitor's first poll.
func TestDaemon_FirstCheckOnlineDrainsAfterMissedStartup(t *testing.T) {
	f := newFixture(t, true, 2)
	startup := &failFirstProber{inner: f.prober}

	b, err := NewBridge(f.syncer, startup, f.bus, fastConfig())
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(b.Stop)

	require.Eventually(t, startup.failed.Load, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, f.queue.Count())

	m, err := NewMonitor(f.prober, f.bus, fastConfig())
	require.NoError(t, err)
	assert.Equal(t, Online, m.Check(context.Background()))

	require.Eventually(t, func() bool { return f.queue.Count() == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(f.completed()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, sync.SyncResult{Success: 2}, f.completed()[0])
}

func TestDaemon_InMemoryStoreHasNoWatcher(t *testing.T) {
	f := newFixture(t, true, 0)

	d, err := New(f.syncer, f.prober, f.bus, "", nil)
	require.NoError(t, err)
	assert.Nil(t, d.watcher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, d.Start(ctx))
}

func TestDaemon_WatcherStartFailure(t *testing.T) {
	f := newFixture(t, true, 0)

	d, err := New(f.syncer, f.prober, f.bus, filepath.Join(t.TempDir(), "missing", "offline.json"), fastConfig())
	require.NoError(t, err)

	err = d.Start(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, f.bus.Subscribers(events.ConnectionOnline), "bridge torn down after failure")
}

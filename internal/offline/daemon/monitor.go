package daemon

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/koinonia-app/koinonia/internal/offline/events"
	"github.com/koinonia-app/koinonia/internal/offline/sync"
)

// Connectivity is the last observed reachability of the remote store.
type Connectivity int

const (
	// Unknown means no observation has been made yet.
	Unknown Connectivity = iota
	// Online means the last probe succeeded.
	Online
	// Offline means the last probe failed.
	Offline
)

// String returns a human-readable representation of the state.
func (c Connectivity) String() string {
	switch c {
	case Online:
		return "online"
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}

// Monitor polls the remote store and publishes connectivity transitions.
// It stands in for the platform "online" signal: every offline to online
// transition publishes events.ConnectionOnline, and the reverse publishes
// events.ConnectionOffline. A first observation of Online also publishes
// events.ConnectionOnline, so work queued before the process started is
// drained even when the startup attempt missed the store. A first
// observation of Offline only records state.
type Monitor struct {
	prober sync.Prober
	bus    *events.Bus
	config *Config

	stateMu gosync.Mutex
	state   Connectivity

	mu      gosync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      gosync.WaitGroup
}

// NewMonitor creates a monitor. Use Start to begin polling.
func NewMonitor(p sync.Prober, bus *events.Bus, config *Config) (*Monitor, error) {
	if p == nil {
		return nil, fmt.Errorf("prober cannot be nil")
	}
	if bus == nil {
		return nil, fmt.Errorf("bus cannot be nil")
	}
	return &Monitor{
		prober: p,
		bus:    bus,
		config: config.withDefaults(),
	}, nil
}

// Start makes a first observation immediately and then polls every
// Config.ProbeInterval until ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("monitor already running")
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.running = true

	m.wg.Add(1)
	go m.poll(ctx)

	return nil
}

// Stop ends polling and waits for the poll loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()
}

// State returns the last observed connectivity.
func (m *Monitor) State() Connectivity {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

// Check probes once, records the result and publishes a transition event
// if the state changed. It returns the new state.
func (m *Monitor) Check(ctx context.Context) Connectivity {
	next := Offline
	if m.prober.Probe(ctx, 1) {
		next = Online
	}
	if ctx.Err() != nil {
		// A probe cut short by shutdown says nothing about the link.
		return m.State()
	}

	m.stateMu.Lock()
	prev := m.state
	m.state = next
	m.stateMu.Unlock()

	if prev == next || (prev == Unknown && next == Offline) {
		return next
	}

	m.config.Logger.Info().Str("from", prev.String()).Str("to", next.String()).Msg("connectivity changed")
	if next == Online {
		m.bus.Emit(events.ConnectionOnline, nil)
	} else {
		m.bus.Emit(events.ConnectionOffline, nil)
	}
	return next
}

func (m *Monitor) poll(ctx context.Context) {
	defer m.wg.Done()

	m.Check(ctx)

	ticker := time.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

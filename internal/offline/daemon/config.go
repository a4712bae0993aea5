package daemon

import (
	"time"

	"github.com/rs/zerolog"
)

// Config holds configuration for the daemon and its parts.
type Config struct {
	// StartupProbeAttempts bounds the reachability probe made before the
	// startup drain.
	StartupProbeAttempts int

	// StabilizeDelay is how long to wait after a connection-online signal
	// before draining, so a flapping link can settle.
	StabilizeDelay time.Duration

	// ProbeInterval is how often the Monitor checks reachability.
	ProbeInterval time.Duration

	// DebounceInterval is how long the QueueWatcher waits for the store to
	// go quiet before announcing a change.
	// This batches the several writes a single save produces.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger zerolog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		StartupProbeAttempts: 2,
		StabilizeDelay:       time.Second,
		ProbeInterval:        15 * time.Second,
		DebounceInterval:     100 * time.Millisecond,
		Logger:               zerolog.Nop(),
	}
}

func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.StartupProbeAttempts < 1 {
		out.StartupProbeAttempts = d.StartupProbeAttempts
	}
	if out.StabilizeDelay < 0 {
		out.StabilizeDelay = 0
	}
	if out.ProbeInterval <= 0 {
		out.ProbeInterval = d.ProbeInterval
	}
	if out.DebounceInterval <= 0 {
		out.DebounceInterval = d.DebounceInterval
	}
	return &out
}

// Package probe answers whether the remote store is currently reachable.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Pinger performs one lightweight round trip against the remote store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

// Ping calls f(ctx).
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Prober issues bounded-retry reachability checks. Answers are point in
// time and never cached.
type Prober struct {
	pinger Pinger
	logger zerolog.Logger

	// AttemptTimeout bounds each ping. Zero leaves it to the transport.
	AttemptTimeout time.Duration
}

// New returns a prober over pinger.
func New(pinger Pinger, logger zerolog.Logger) *Prober {
	return &Prober{pinger: pinger, logger: logger}
}

// Probe pings up to maxAttempts times (at least once) and reports whether
// any attempt succeeded. It never fails: transport errors, timeouts and
// panics in the pinger all fold into false. No backoff is applied between
// attempts beyond what the transport imposes.
func (p *Prober) Probe(ctx context.Context, maxAttempts int) bool {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		err := p.ping(ctx)
		if err == nil {
			return true
		}
		p.logger.Debug().Err(err).Int("attempt", attempt).Int("max_attempts", maxAttempts).Msg("connectivity probe failed")
	}
	return false
}

func (p *Prober) ping(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	if p.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		defer cancel()
	}
	return p.pinger.Ping(ctx)
}

type panicError struct{ value any }

func (e *panicError) Error() string { return fmt.Sprintf("pinger panicked: %v", e.value) }

package remote

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/koinonia-app/koinonia/internal/offline/schema"
)

// BreakerConfig configures the circuit breaker around a Store.
type BreakerConfig struct {
	Enabled bool

	// FailureThreshold is the number of consecutive network failures that
	// opens the breaker.
	FailureThreshold uint32

	// OpenTimeout is how long the breaker stays open before letting a
	// trial request through.
	OpenTimeout time.Duration
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:          true,
		FailureThreshold: 3,
		OpenTimeout:      30 * time.Second,
	}
}

// Breaker wraps a Store in a circuit breaker. Only network-classified
// failures count against the breaker, so a burst of rejected writes never
// makes the store look unreachable. While open, calls fail fast with
// gobreaker.ErrOpenState, which Classify reports as KindNetwork.
type Breaker struct {
	store Store
	cb    *gobreaker.CircuitBreaker[schema.Record]
}

// NewBreaker wraps store.
func NewBreaker(store Store, cfg BreakerConfig, logger zerolog.Logger) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultBreakerConfig().OpenTimeout
	}
	settings := gobreaker.Settings{
		Name:        "remote-store",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsNetwork(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}
	return &Breaker{
		store: store,
		cb:    gobreaker.NewCircuitBreaker[schema.Record](settings),
	}
}

// Ping probes through the breaker. An open breaker answers immediately.
func (b *Breaker) Ping(ctx context.Context) error {
	_, err := b.cb.Execute(func() (schema.Record, error) {
		return schema.Record{}, b.store.Ping(ctx)
	})
	return err
}

func (b *Breaker) InsertDevotional(ctx context.Context, row schema.Row) (schema.Record, error) {
	return b.cb.Execute(func() (schema.Record, error) {
		return b.store.InsertDevotional(ctx, row)
	})
}

// State reports the breaker state for status output.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func (b *Breaker) Close() error {
	return b.store.Close()
}

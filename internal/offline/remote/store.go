// Package remote talks to the hosted relational store that is the system of
// record for devotionals once they are synced.
//
// Two transports are supported: a direct Postgres connection and the
// PostgREST gateway in front of a Supabase project. Both are wrapped by
// Writer, which translates drafts into rows and classifies failures into
// Kinds so callers can tell retryable outages from rejected writes.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/koinonia-app/koinonia/internal/offline/schema"
)

// Store is the narrow surface of the remote store the sync core depends on.
type Store interface {
	// Ping performs a cheap metadata read used to probe reachability.
	Ping(ctx context.Context) error

	// InsertDevotional creates one devotionals row and returns it,
	// including the identifier the store assigned.
	InsertDevotional(ctx context.Context, row schema.Row) (schema.Record, error)

	// Close releases the transport.
	Close() error
}

// ErrNotConfigured is returned by every Unconfigured call.
var ErrNotConfigured = errors.New("remote: store not configured")

// Unconfigured is the Store of a device with no remote set up. It is never
// reachable, so every save lands in the local queue.
type Unconfigured struct{}

// Ping implements Store.
func (Unconfigured) Ping(context.Context) error { return ErrNotConfigured }

// InsertDevotional implements Store.
func (Unconfigured) InsertDevotional(context.Context, schema.Row) (schema.Record, error) {
	return schema.Record{}, ErrNotConfigured
}

// Close implements Store.
func (Unconfigured) Close() error { return nil }

// Config selects and configures a Store.
type Config struct {
	// URL is either a postgres:// DSN or the https:// base URL of a
	// Supabase project.
	URL string

	// APIKey authenticates REST requests. Ignored for postgres URLs.
	APIKey string

	// AccessToken is sent as the bearer token for REST requests. Defaults
	// to APIKey when empty.
	AccessToken string

	// Timeout bounds each remote operation. Zero leaves it to the transport.
	Timeout time.Duration

	// Breaker wraps the store in a circuit breaker when enabled.
	Breaker BreakerConfig

	Logger zerolog.Logger
}

// Open builds a Store for cfg.URL.
func Open(cfg Config) (Store, error) {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return nil, fmt.Errorf("remote: url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("remote: parse url: %w", err)
	}

	var store Store
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		store, err = NewPostgres(raw, cfg.Timeout)
	case "http", "https":
		store, err = NewREST(RESTConfig{
			BaseURL:     raw,
			APIKey:      cfg.APIKey,
			AccessToken: cfg.AccessToken,
			Timeout:     cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("remote: unsupported scheme %q", parsed.Scheme)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Breaker.Enabled {
		store = NewBreaker(store, cfg.Breaker, cfg.Logger)
	}
	return store, nil
}

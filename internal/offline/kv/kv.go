// Package kv provides the local string-keyed storage the offline queue
// persists into. Backends are selected by DSN scheme.
package kv

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedScheme is returned by Open for an unknown DSN scheme.
var ErrUnsupportedScheme = errors.New("kv: unsupported store scheme")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("kv: store closed")

// Store is a synchronous string-keyed get/set store scoped to the local
// device. Values survive process restarts for every backend except memory.
type Store interface {
	// Get returns the value stored under key. ok is false when the key
	// has never been set or was deleted.
	Get(key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// Path returns the on-disk location backing the store, or "" when the
	// store is not file-backed.
	Path() string

	// Close releases the backend.
	Close() error
}

// Open builds a Store from a DSN:
//
//	sqlite:///home/me/.koinonia/offline.db
//	badger:///home/me/.koinonia/offline.badger
//	file:///home/me/.koinonia/offline.json   (or a bare path)
//	memory://
func Open(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("kv: empty store dsn")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("kv: parse dsn: %w", err)
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "memory", "mem", "inmem":
		return NewMemory(), nil
	case "", "file":
		path, err := dsnPath(scheme, dsn)
		if err != nil {
			return nil, err
		}
		return OpenFile(path)
	case "sqlite", "sqlite3":
		path, err := dsnPath(scheme, dsn)
		if err != nil {
			return nil, err
		}
		return OpenSQLite(path)
	case "badger":
		path, err := dsnPath(scheme, dsn)
		if err != nil {
			return nil, err
		}
		return OpenBadger(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
}

// dsnPath extracts the filesystem path from a DSN and expands a leading ~.
func dsnPath(scheme, raw string) (string, error) {
	path := raw
	if scheme != "" {
		path = raw[len(scheme):]
		path = strings.TrimPrefix(path, ":")
		path = strings.TrimPrefix(path, "//")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("kv: dsn %q has no path", raw)
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("kv: resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path, nil
}

// ensureDir creates the parent directory of path.
func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	return nil
}

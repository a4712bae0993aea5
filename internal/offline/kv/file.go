package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// File is a Store backed by a single JSON object on disk. Every Set
// rewrites the whole file through a temp file and rename.
type File struct {
	path   string
	mu     sync.Mutex
	values map[string]string
	closed bool
}

// OpenFile returns the JSON store at path. The file is created on first
// write and read on every Get.
func OpenFile(path string) (*File, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	return &File{path: path, values: make(map[string]string)}, nil
}

// load replaces the cached values with the file's contents. A missing or
// empty file reads as empty; an unreadable or corrupt one leaves the cache
// empty and returns the error, so a later write never resurrects stale keys.
func (f *File) load() error {
	f.values = make(map[string]string)
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read store file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	values := make(map[string]string)
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse store file %s: %w", f.path, err)
	}
	if values != nil {
		f.values = values
	}
	return nil
}

// Get re-reads the file so values written by other processes are visible.
func (f *File) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return "", false, ErrClosed
	}
	if err := f.load(); err != nil {
		return "", false, err
	}
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *File) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	// A corrupt file is replaced by the write below.
	_ = f.load()
	f.values[key] = value
	return f.saveLocked()
}

func (f *File) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	_ = f.load()
	if _, ok := f.values[key]; !ok {
		return nil
	}
	delete(f.values, key)
	return f.saveLocked()
}

func (f *File) Path() string { return f.path }

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *File) saveLocked() error {
	data, err := json.MarshalIndent(f.values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}
	tmpPath := f.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

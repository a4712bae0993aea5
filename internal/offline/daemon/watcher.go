package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/koinonia-app/koinonia/internal/offline/events"
)

// QueueWatcher watches the local store on disk and publishes
// events.QueueChanged when another process modifies it.
//
// For a single-file store (JSON file, SQLite) the parent directory is
// watched and only events for the store file and its siblings sharing its
// name as prefix (WAL, journal, temp files) count. For a directory store
// (badger) every event inside the directory counts. Bursts are debounced
// into one event per quiet period.
type QueueWatcher struct {
	watcher *fsnotify.Watcher
	bus     *events.Bus
	config  *Config

	dir    string
	prefix string // "" matches every file in dir

	done    chan struct{}
	wg      gosync.WaitGroup
	mu      gosync.Mutex
	running bool

	pendingMu gosync.Mutex
	lastEvent time.Time
	dirty     bool
}

// NewQueueWatcher creates a watcher for the store at path.
// The watcher must be started with Start() before it will emit events.
func NewQueueWatcher(path string, bus *events.Bus, config *Config) (*QueueWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("store path cannot be empty")
	}
	if bus == nil {
		return nil, fmt.Errorf("bus cannot be nil")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store path %s: %w", path, err)
	}

	dir, prefix := filepath.Dir(absPath), filepath.Base(absPath)
	if info, err := os.Stat(absPath); err == nil && info.IsDir() {
		dir, prefix = absPath, ""
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &QueueWatcher{
		watcher: watcher,
		bus:     bus,
		config:  config.withDefaults(),
		dir:     dir,
		prefix:  prefix,
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the store directory.
func (qw *QueueWatcher) Start() error {
	qw.mu.Lock()
	defer qw.mu.Unlock()

	if qw.running {
		return fmt.Errorf("watcher already running")
	}

	if err := qw.watcher.Add(qw.dir); err != nil {
		return fmt.Errorf("failed to watch store directory %s: %w", qw.dir, err)
	}

	qw.running = true
	qw.wg.Add(2)
	go qw.processEvents()
	go qw.processChanges()

	return nil
}

// Stop stops watching and waits for the event loops to exit. It also
// releases a watcher that was never started.
func (qw *QueueWatcher) Stop() error {
	qw.mu.Lock()
	if !qw.running {
		qw.mu.Unlock()
		return qw.watcher.Close()
	}
	qw.running = false
	qw.mu.Unlock()

	close(qw.done)

	err := qw.watcher.Close()
	qw.wg.Wait()

	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// IsRunning returns true if the watcher is currently running.
func (qw *QueueWatcher) IsRunning() bool {
	qw.mu.Lock()
	defer qw.mu.Unlock()
	return qw.running
}

// Dir returns the watched directory.
func (qw *QueueWatcher) Dir() string {
	return qw.dir
}

func (qw *QueueWatcher) processEvents() {
	defer qw.wg.Done()

	for {
		select {
		case <-qw.done:
			return

		case event, ok := <-qw.watcher.Events:
			if !ok {
				return
			}
			if !qw.relevant(event) {
				continue
			}
			qw.markDirty()

		case err, ok := <-qw.watcher.Errors:
			if !ok {
				return
			}
			qw.config.Logger.Warn().Err(err).Str("dir", qw.dir).Msg("store watcher error")
		}
	}
}

func (qw *QueueWatcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	if qw.prefix == "" {
		return true
	}
	return strings.HasPrefix(filepath.Base(event.Name), qw.prefix)
}

func (qw *QueueWatcher) markDirty() {
	qw.pendingMu.Lock()
	defer qw.pendingMu.Unlock()
	qw.lastEvent = time.Now()
	qw.dirty = true
}

// processChanges publishes one QueueChanged per burst once the store has
// been quiet for the debounce interval.
func (qw *QueueWatcher) processChanges() {
	defer qw.wg.Done()

	ticker := time.NewTicker(qw.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-qw.done:
			return
		case <-ticker.C:
			if qw.settled() {
				qw.config.Logger.Debug().Str("dir", qw.dir).Msg("offline store changed on disk")
				qw.bus.Emit(events.QueueChanged, nil)
			}
		}
	}
}

func (qw *QueueWatcher) settled() bool {
	qw.pendingMu.Lock()
	defer qw.pendingMu.Unlock()
	if !qw.dirty || time.Since(qw.lastEvent) < qw.config.DebounceInterval {
		return false
	}
	qw.dirty = false
	return true
}

package permission

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"objectos/pkg/logging"
)

// DefaultDebounceInterval is the time to wait after the last file change
// before triggering a reload.
const DefaultDebounceInterval = 500 * time.Millisecond

// DefaultPollInterval is the fallback polling cadence when fsnotify is
// unavailable.
const DefaultPollInterval = 10 * time.Second

// WatcherConfig holds configuration for the permissions directory watcher.
type WatcherConfig struct {
	// Dir is the permission-set directory to watch.
	Dir string

	// PollInterval is the fallback polling interval when fsnotify is not
	// available.
	PollInterval time.Duration

	// OnChange is called after the debounce window when YAML files in the
	// directory change.
	OnChange func()
}

// Watcher monitors the permissions directory and triggers reloads when
// permission-set files change. It uses fsnotify with a fallback to polling
// for environments where fsnotify is not available or reliable.
type Watcher struct {
	mu sync.Mutex

	config WatcherConfig

	// fsWatcher is the fsnotify watcher (nil when falling back to polling)
	fsWatcher *fsnotify.Watcher

	stopCh  chan struct{}
	running bool

	// lastModTimes tracks modification times for fallback polling
	lastModTimes map[string]time.Time

	debounceTimer *time.Timer
	debounceMu    sync.Mutex
}

// NewWatcher creates a watcher over the permission-set directory.
func NewWatcher(config WatcherConfig) *Watcher {
	if config.PollInterval == 0 {
		config.PollInterval = DefaultPollInterval
	}
	return &Watcher{
		config:       config,
		lastModTimes: make(map[string]time.Time),
	}
}

// Start begins watching for permission-set changes.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	w.stopCh = make(chan struct{})
	w.running = true

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn("Permissions", "fsnotify not available, falling back to polling: %v", err)
		go w.pollForChanges()
		return nil
	}

	w.fsWatcher = watcher

	if err := w.fsWatcher.Add(w.config.Dir); err != nil {
		logging.Warn("Permissions", "Failed to watch directory %s, falling back to polling: %v",
			w.config.Dir, err)
		w.fsWatcher.Close()
		w.fsWatcher = nil
		go w.pollForChanges()
		return nil
	}

	// Capture channels before releasing the lock to avoid racing Stop
	eventsCh := w.fsWatcher.Events
	errorsCh := w.fsWatcher.Errors

	go w.processEvents(eventsCh, errorsCh)

	logging.Info("Permissions", "Watching %s for permission-set changes", w.config.Dir)
	return nil
}

// processEvents handles fsnotify events. The channels are passed as
// parameters to avoid race conditions with Stop().
func (w *Watcher) processEvents(eventsCh <-chan fsnotify.Event, errorsCh <-chan error) {
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-eventsCh:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			logging.Error("Permissions", err, "fsnotify error")
		}
	}
}

// handleEvent processes a single fsnotify event.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !isPermissionFile(event.Name) {
		return
	}

	// Writes, creates, and removals all warrant a reload
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	logging.Debug("Permissions", "Permission file changed: %s", event.Name)
	w.triggerReloadDebounced()
}

// isPermissionFile checks whether a path names a permission-set document.
func isPermissionFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// triggerReloadDebounced triggers a reload after a debounce period. This
// prevents multiple rapid reloads when several files change at once.
func (w *Watcher) triggerReloadDebounced() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}

	w.debounceTimer = time.AfterFunc(DefaultDebounceInterval, func() {
		w.mu.Lock()
		running := w.running
		callback := w.config.OnChange
		w.mu.Unlock()

		if running && callback != nil {
			callback()
		}
	})
}

// pollForChanges implements fallback polling when fsnotify is not available.
func (w *Watcher) pollForChanges() {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.updateModTimes()

	for {
		select {
		case <-w.stopCh:
			return

		case <-ticker.C:
			if w.checkForChanges() {
				logging.Debug("Permissions", "Permission file changes detected via polling")
				w.triggerReloadDebounced()
			}
		}
	}
}

// updateModTimes records the current modification times of every permission
// file in the directory.
func (w *Watcher) updateModTimes() {
	for _, path := range w.listFiles() {
		if info, err := os.Stat(path); err == nil {
			w.lastModTimes[path] = info.ModTime()
		}
	}
}

// checkForChanges reports whether any permission file was added, removed, or
// modified since the last poll.
func (w *Watcher) checkForChanges() bool {
	current := w.listFiles()
	changed := len(current) != len(w.lastModTimes)

	seen := make(map[string]bool, len(current))
	for _, path := range current {
		seen[path] = true
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		modTime := info.ModTime()
		if last, exists := w.lastModTimes[path]; !exists || modTime.After(last) {
			changed = true
		}
		w.lastModTimes[path] = modTime
	}

	for path := range w.lastModTimes {
		if !seen[path] {
			delete(w.lastModTimes, path)
			changed = true
		}
	}

	return changed
}

// listFiles returns the permission-set documents currently in the directory.
func (w *Watcher) listFiles() []string {
	entries, err := os.ReadDir(w.config.Dir)
	if err != nil {
		return nil
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !isPermissionFile(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(w.config.Dir, entry.Name()))
	}
	return files
}

// Stop gracefully stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	w.running = false
	close(w.stopCh)

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	w.debounceMu.Unlock()

	if w.fsWatcher != nil {
		if err := w.fsWatcher.Close(); err != nil {
			logging.Warn("Permissions", "Error closing fsnotify watcher: %v", err)
		}
		w.fsWatcher = nil
	}

	logging.Info("Permissions", "Stopped permission watcher")
	return nil
}

// IsRunning returns whether the watcher is currently active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

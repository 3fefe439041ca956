package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// RoutingWatcher reloads the routing file when it changes and hands the new
// overrides to a callback.
type RoutingWatcher struct {
	path     string
	onReload func(*RoutingOverrides)
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	stopOnce sync.Once
	debounce time.Duration

	mu          sync.Mutex
	lastModTime time.Time
}

// NewRoutingWatcher creates a watcher for path.
func NewRoutingWatcher(path string, onReload func(*RoutingOverrides)) (*RoutingWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	rw := &RoutingWatcher{
		path:     path,
		onReload: onReload,
		watcher:  watcher,
		stopChan: make(chan struct{}),
		debounce: 100 * time.Millisecond,
	}
	if stat, err := os.Stat(path); err == nil {
		rw.lastModTime = stat.ModTime()
	}
	return rw, nil
}

// Start begins watching the routing file's directory. Editors often replace
// files by rename, so the directory is watched rather than the file. When the
// directory cannot be watched the watcher falls back to polling.
func (rw *RoutingWatcher) Start() error {
	dir := filepath.Dir(rw.path)
	if err := rw.watcher.Add(dir); err != nil {
		log.Warn().Err(err).Str("path", dir).Msg("Failed to watch routing directory, falling back to polling")
		go rw.pollForChanges()
		return nil
	}
	go rw.watchForChanges()
	log.Info().Str("routing_file", rw.path).Msg("Started watching routing file for changes")
	return nil
}

// Stop stops the watcher. Safe to call more than once.
func (rw *RoutingWatcher) Stop() {
	rw.stopOnce.Do(func() {
		close(rw.stopChan)
		rw.watcher.Close()
	})
}

// Reload re-reads the routing file immediately.
func (rw *RoutingWatcher) Reload() {
	rw.reload()
}

func (rw *RoutingWatcher) watchForChanges() {
	target := filepath.Clean(rw.path)
	for {
		select {
		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Wait for the write to complete.
			time.Sleep(rw.debounce)
			log.Info().Str("event", event.Op.String()).Msg("Detected routing file change")
			rw.reload()

		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Routing watcher error")

		case <-rw.stopChan:
			return
		}
	}
}

func (rw *RoutingWatcher) pollForChanges() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stat, err := os.Stat(rw.path)
			if err != nil {
				continue
			}
			rw.mu.Lock()
			changed := stat.ModTime().After(rw.lastModTime)
			rw.mu.Unlock()
			if changed {
				rw.reload()
			}
		case <-rw.stopChan:
			return
		}
	}
}

func (rw *RoutingWatcher) reload() {
	overrides, err := LoadRouting(rw.path)
	if err != nil {
		// Keep serving the previous table.
		log.Error().Err(err).Str("routing_file", rw.path).Msg("Failed to reload routing file")
		return
	}

	rw.mu.Lock()
	if stat, err := os.Stat(rw.path); err == nil {
		rw.lastModTime = stat.ModTime()
	}
	rw.mu.Unlock()

	log.Info().
		Int("tasks", len(overrides.Tasks)).
		Int("defaults", len(overrides.Defaults)).
		Msg("Routing overrides reloaded")
	if rw.onReload != nil {
		rw.onReload(overrides)
	}
}

// Package watcher reloads the config file when it changes on disk and lets
// the server pick up the new state without a restart.
package watcher

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hwendt/llmgate/internal/config"
	"github.com/hwendt/llmgate/internal/logging"
)

// debounce delays the reload after a change event; editors and atomic
// renames produce bursts of events for one logical save.
const debounce = 200 * time.Millisecond

// ConfigWatcher watches one config file and applies valid changes in place.
type ConfigWatcher struct {
	path     string
	cfg      *config.Config
	onReload []func()

	mu       sync.Mutex
	lastHash [sha256.Size]byte
}

// New creates a watcher for the config file at path. The onReload callbacks
// run after each successfully applied change (drop cached clients, re-apply
// the debug level, ...).
func New(path string, cfg *config.Config, onReload ...func()) *ConfigWatcher {
	w := &ConfigWatcher{path: path, cfg: cfg, onReload: onReload}
	if data, err := os.ReadFile(path); err == nil {
		w.lastHash = sha256.Sum256(data)
	}
	return w
}

// Start watches until ctx is cancelled. The parent directory is watched
// rather than the file itself: atomic saves replace the inode, which would
// silently detach a file-level watch.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return err
	}

	go func() {
		defer fsw.Close()

		var timer *time.Timer
		fire := make(chan struct{}, 1)

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(w.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			case <-fire:
				w.reload()
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				logging.WithError(err).Warnf("Config watcher error")
			}
		}
	}()

	logging.Infof("Watching %s for changes", w.path)
	return nil
}

// reload re-reads the file and applies it. An invalid file keeps the running
// configuration untouched.
func (w *ConfigWatcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		logging.WithError(err).Warnf("Config reload: cannot read %s", w.path)
		return
	}

	hash := sha256.Sum256(data)
	w.mu.Lock()
	unchanged := hash == w.lastHash
	w.lastHash = hash
	w.mu.Unlock()
	if unchanged {
		return
	}

	newCfg, err := config.LoadConfig(w.path)
	if err != nil {
		logging.WithError(err).Warnf("Config reload rejected, keeping previous configuration")
		return
	}

	changes := buildConfigChangeDetails(w.cfg, newCfg)
	w.cfg.ApplyFrom(newCfg)
	for _, fn := range w.onReload {
		fn()
	}

	if len(changes) == 0 {
		logging.Infof("Config reloaded (no visible changes)")
		return
	}
	for _, change := range changes {
		logging.Infof("Config changed: %s", change)
	}
}

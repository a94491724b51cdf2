package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const watchDebounce = 500 * time.Millisecond

// expectWindow is how long after Expect() file events are attributed to the
// daemon's own write instead of outside drift.
const expectWindow = 2 * time.Second

// SettingsWatcher reports out-of-band edits to the settings file. The parent
// directory is watched rather than the file itself so editors that replace
// the file (write to temp, rename over) and installs that create it are both
// seen.
type SettingsWatcher struct {
	path string
	fw   *fsnotify.Watcher

	mu          sync.Mutex
	callbacks   []func()
	expectUntil time.Time
	debounce    *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSettingsWatcher prepares a watcher for the settings file at path. The
// parent directory must exist; the file itself may not yet.
func NewSettingsWatcher(path string) (*SettingsWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SettingsWatcher{path: filepath.Clean(path), fw: fw, ctx: ctx, cancel: cancel}, nil
}

// OnChange registers a callback invoked after a debounced drift event.
func (w *SettingsWatcher) OnChange(fn func()) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, fn)
	w.mu.Unlock()
}

// Expect marks the next file events as caused by the daemon itself; they are
// swallowed instead of reported as drift. Call it right before WriteSettings.
func (w *SettingsWatcher) Expect() {
	w.mu.Lock()
	w.expectUntil = time.Now().Add(expectWindow)
	w.mu.Unlock()
}

// Start begins watching. It returns an error when the parent directory
// cannot be watched.
func (w *SettingsWatcher) Start() error {
	if err := w.fw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop ends watching and waits for the event loop to exit.
func (w *SettingsWatcher) Stop() error {
	w.cancel()
	err := w.fw.Close()
	w.wg.Wait()
	w.mu.Lock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.mu.Unlock()
	return err
}

func (w *SettingsWatcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleFire()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("settings watcher error")
		}
	}
}

// scheduleFire coalesces bursts of events into one callback round.
func (w *SettingsWatcher) scheduleFire() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(watchDebounce, w.fire)
}

func (w *SettingsWatcher) fire() {
	w.mu.Lock()
	if time.Now().Before(w.expectUntil) {
		w.mu.Unlock()
		log.Debug().Str("path", w.path).Msg("settings change acknowledged (own write)")
		return
	}
	callbacks := make([]func(), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	log.Info().Str("path", w.path).Msg("settings file changed on disk")
	for _, fn := range callbacks {
		runCallback(fn)
	}
}

func runCallback(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("settings change callback panicked")
		}
	}()
	fn()
}

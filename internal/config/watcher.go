package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher monitors config.json for external edits and hands the reloaded
// config to a callback, so file edits behave like an API update.
type Watcher struct {
	dataDir     string
	path        string
	watcher     *fsnotify.Watcher
	stopChan    chan struct{}
	stopOnce    sync.Once
	lastModTime time.Time
	onChange    func(*SystemConfig)
}

// NewWatcher creates a watcher for the system config file. onChange runs
// on the watcher goroutine.
func NewWatcher(dataDir string, onChange func(*SystemConfig)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		dataDir:  dataDir,
		path:     filepath.Join(dataDir, configFileName),
		watcher:  fsw,
		stopChan: make(chan struct{}),
		onChange: onChange,
	}
	if stat, err := os.Stat(w.path); err == nil {
		w.lastModTime = stat.ModTime()
	}
	return w, nil
}

// Start begins watching. Falls back to polling when the directory cannot
// be watched.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.dataDir); err != nil {
		log.Warn().Err(err).Str("path", w.dataDir).Msg("Failed to watch config directory, falling back to polling")
		go w.pollForChanges()
		return nil
	}

	go w.watchForChanges()
	log.Info().Str("path", w.path).Msg("Watching config file for changes")
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.watcher.Close()
	})
}

func (w *Watcher) watchForChanges() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != configFileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Debounce so we read after the write completes
			time.Sleep(100 * time.Millisecond)
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Config watcher error")

		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) pollForChanges() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stat, err := os.Stat(w.path)
			if err != nil {
				continue
			}
			if stat.ModTime().After(w.lastModTime) {
				w.lastModTime = stat.ModTime()
				w.reload()
			}
		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.dataDir)
	if err != nil {
		log.Error().Err(err).Msg("Failed to reload config file")
		return
	}
	log.Info().Str("path", w.path).Msg("Detected config file change")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Package watcher reacts to filesystem changes under artist folders and
// triggers rescans, so new files land without waiting for the cron cycle.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/driftarr/driftarr/internal/scanner"
)

// FileEvent is one debounced filesystem change on a media file.
type FileEvent struct {
	Path      string
	Op        string
	Timestamp time.Time
}

// BatchHandler receives a debounced batch of file events.
type BatchHandler func(events []FileEvent)

// Config tunes event batching.
type Config struct {
	// DebounceDelay is how long to wait after the last event before the
	// batch is handed off. Copies into the library produce a write event
	// per chunk; debouncing collapses them.
	DebounceDelay time.Duration
	// MaxBatchSize flushes the batch early when it grows this large.
	MaxBatchSize int
}

// DefaultConfig returns the batching defaults.
func DefaultConfig() Config {
	return Config{
		DebounceDelay: 2 * time.Second,
		MaxBatchSize:  200,
	}
}

// Watcher wraps fsnotify with recursive watches and debounced batching.
// Events on non-media files are dropped except for new directories, which
// extend the watch.
type Watcher struct {
	fs      *fsnotify.Watcher
	config  Config
	handler BatchHandler
	logger  zerolog.Logger

	mu      sync.Mutex
	watched map[string]bool

	pendingMu sync.Mutex
	pending   map[string]FileEvent
	debounce  *time.Timer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher. Call Start to begin delivering batches.
func New(config Config, handler BatchHandler, logger zerolog.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fs:      fs,
		config:  config,
		handler: handler,
		logger:  logger.With().Str("component", "watcher").Logger(),
		watched: make(map[string]bool),
		pending: make(map[string]FileEvent),
	}, nil
}

// Start runs the event loop until Stop.
func (w *Watcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop flushes pending events and closes the underlying watcher.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	return w.fs.Close()
}

// AddPath watches a folder and all of its subfolders.
func (w *Watcher) AddPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watched[abs] {
		return nil
	}
	if err := w.fs.Add(abs); err != nil {
		return err
	}
	w.watched[abs] = true

	err = filepath.WalkDir(abs, func(sub string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() || sub == abs {
			return nil
		}
		if addErr := w.fs.Add(sub); addErr != nil {
			w.logger.Warn().Err(addErr).Str("path", sub).Msg("Failed to watch subfolder")
			return nil
		}
		w.watched[sub] = true
		return nil
	})
	if err != nil {
		w.logger.Warn().Err(err).Str("path", abs).Msg("Failed to walk folder for watches")
	}
	return nil
}

// RemovePath drops the watch on a folder and everything under it.
func (w *Watcher) RemovePath(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	prefix := abs + string(filepath.Separator)
	for watched := range w.watched {
		if watched == abs || strings.HasPrefix(watched, prefix) {
			_ = w.fs.Remove(watched)
			delete(w.watched, watched)
		}
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			w.flush()
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watch error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !scanner.IsMediaFile(event.Name) {
		// a new album folder must join the watch before its files arrive
		if event.Has(fsnotify.Create) {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				w.mu.Lock()
				if !w.watched[event.Name] {
					if err := w.fs.Add(event.Name); err == nil {
						w.watched[event.Name] = true
					}
				}
				w.mu.Unlock()
			}
		}
		return
	}

	var op string
	switch {
	case event.Has(fsnotify.Create):
		op = "create"
	case event.Has(fsnotify.Write):
		op = "write"
	case event.Has(fsnotify.Remove):
		op = "remove"
	case event.Has(fsnotify.Rename):
		op = "rename"
	default:
		return
	}
	w.enqueue(FileEvent{Path: event.Name, Op: op, Timestamp: time.Now()})
}

// enqueue dedupes rapid events per path and arms the debounce timer.
func (w *Watcher) enqueue(event FileEvent) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	w.pending[event.Path] = event
	if len(w.pending) >= w.config.MaxBatchSize {
		w.flushLocked()
		return
	}
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.config.DebounceDelay, w.flush)
}

func (w *Watcher) flush() {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	w.flushLocked()
}

func (w *Watcher) flushLocked() {
	if len(w.pending) == 0 {
		return
	}
	if w.debounce != nil {
		w.debounce.Stop()
		w.debounce = nil
	}
	batch := make([]FileEvent, 0, len(w.pending))
	for _, e := range w.pending {
		batch = append(batch, e)
	}
	w.pending = make(map[string]FileEvent)

	w.logger.Debug().Int("count", len(batch)).Msg("Flushing file events")
	// handler runs off the event loop so a long scan never blocks fsnotify
	go w.handler(batch)
}

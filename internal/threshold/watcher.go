package threshold

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/recoguard/recoguard/internal/pkg/logger"
)

// Watcher reloads a Holder when its backing document changes on disk.
type Watcher struct {
	holder *Holder
	file   string
	delay  time.Duration
	log    *logger.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher watches the holder's document. Bursts of events within delay
// collapse into one reload.
func NewWatcher(h *Holder, delay time.Duration, log *logger.Logger) (*Watcher, error) {
	if h.Path() == "" {
		return nil, fmt.Errorf("threshold watcher needs a document path")
	}
	if delay <= 0 {
		delay = 250 * time.Millisecond
	}
	abs, err := filepath.Abs(h.Path())
	if err != nil {
		return nil, err
	}
	return &Watcher{
		holder: h,
		file:   abs,
		delay:  delay,
		log:    logger.OrDefault(log).WithComponent("threshold-watcher"),
	}, nil
}

// Run blocks until ctx is cancelled. The parent directory is watched so that
// editors replacing the file by rename are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsWatcher.Close()

	if err := fsWatcher.Add(filepath.Dir(w.file)); err != nil {
		return fmt.Errorf("watching %s: %w", w.file, err)
	}
	w.log.Info("Watching thresholds", "path", w.file)

	defer w.stopTimer()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error("Watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.file {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, func() {
		_ = w.holder.Reload()
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Package inbox turns photos dropped into a directory into meal uploads.
//
// Copying a file produces a Create followed by one or more Writes. The
// watcher waits until a file has been quiet for the settle period before
// handing it off, so an upload never reads a half-written photo.
package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long a file must go without writes before it is
// uploaded.
const DefaultSettle = 500 * time.Millisecond

// Uploader starts an upload for an image path. service.MealService
// implements it.
type Uploader interface {
	BeginCapturedMealUpload(ctx context.Context, imageRef string) (string, error)
}

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".heic": true,
	".webp": true,
}

// IsImage reports whether path looks like a photo we accept. Hidden files
// (editors' and copiers' temp files) never count.
func IsImage(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return imageExts[strings.ToLower(filepath.Ext(base))]
}

// Watcher watches one directory. It is not recursive.
type Watcher struct {
	dir      string
	uploader Uploader
	settle   time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	timers    map[string]*time.Timer
	submitted map[string]bool
}

// New creates a Watcher. A settle of 0 means DefaultSettle.
func New(dir string, uploader Uploader, settle time.Duration, logger *slog.Logger) *Watcher {
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Watcher{
		dir:       dir,
		uploader:  uploader,
		settle:    settle,
		logger:    logger,
		timers:    make(map[string]*time.Timer),
		submitted: make(map[string]bool),
	}
}

// Run watches until ctx is cancelled. Files already in the directory when
// Run starts are left alone; only new arrivals are uploaded.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox: creating watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("inbox: watching %s: %w", w.dir, err)
	}
	w.logger.Info("inbox watcher started", slog.String("dir", w.dir))

	ready := make(chan string, 16)
	defer w.stopTimers()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("inbox watcher stopped")
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev, ready)

		case path := <-ready:
			w.upload(ctx, path)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("inbox watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event, ready chan<- string) {
	if !IsImage(ev.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		// The path may be reused by a new photo later.
		if t, ok := w.timers[ev.Name]; ok {
			t.Stop()
			delete(w.timers, ev.Name)
		}
		delete(w.submitted, ev.Name)

	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if w.submitted[ev.Name] {
			return
		}
		if t, ok := w.timers[ev.Name]; ok {
			t.Reset(w.settle)
			return
		}
		path := ev.Name
		w.timers[path] = time.AfterFunc(w.settle, func() {
			select {
			case ready <- path:
			case <-ctx.Done():
			}
		})
	}
}

func (w *Watcher) upload(ctx context.Context, path string) {
	w.mu.Lock()
	delete(w.timers, path)
	if w.submitted[path] {
		w.mu.Unlock()
		return
	}
	w.submitted[path] = true
	w.mu.Unlock()

	mealID, err := w.uploader.BeginCapturedMealUpload(ctx, path)
	if err != nil {
		w.logger.Error("inbox upload failed to start",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	w.logger.Info("inbox photo queued",
		slog.String("path", path),
		slog.String("meal_id", mealID),
	)
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

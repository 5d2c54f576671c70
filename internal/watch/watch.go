// Package watch re-optimizes images as they appear or change in a directory.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/shamspias/imgcrush"
)

// DefaultDebounce is how long a file must stay quiet before it is processed.
const DefaultDebounce = 500 * time.Millisecond

// Processor optimizes one file. *imgcrush.Pipeline satisfies it.
type Processor interface {
	Process(ctx context.Context, path string) (imgcrush.FileResult, error)
}

// Watcher feeds created and modified images under a directory to a Processor.
type Watcher struct {
	dir       string
	outputDir string
	recursive bool
	proc      Processor
	observer  imgcrush.Observer
	logger    *slog.Logger
	debounce  time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	written map[string]time.Time
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithObserver receives one OnResult or OnError per processed file. done and
// total are always zero.
func WithObserver(o imgcrush.Observer) Option { return func(w *Watcher) { w.observer = o } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(w *Watcher) { w.logger = l } }

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option { return func(w *Watcher) { w.debounce = d } }

// New validates opts.InputPath as a directory and returns a Watcher that
// hands files to p.
func New(opts imgcrush.ProcessingOptions, p Processor, options ...Option) (*Watcher, error) {
	info, err := os.Stat(opts.InputPath)
	if err != nil || !info.IsDir() {
		return nil, imgcrush.InvalidInput("imgcrush: watch target must be a directory: %s", opts.InputPath)
	}
	dir, err := filepath.Abs(opts.InputPath)
	if err != nil {
		return nil, imgcrush.InvalidInput("imgcrush: cannot resolve %s", opts.InputPath)
	}
	w := &Watcher{
		dir:       dir,
		recursive: opts.Recursive,
		proc:      p,
		debounce:  DefaultDebounce,
		timers:    make(map[string]*time.Timer),
		written:   make(map[string]time.Time),
	}
	if opts.OutputDir != "" {
		if w.outputDir, err = filepath.Abs(opts.OutputDir); err != nil {
			return nil, imgcrush.InvalidInput("imgcrush: cannot resolve %s", opts.OutputDir)
		}
	}
	for _, o := range options {
		o(w)
	}
	if w.logger == nil {
		w.logger = slog.New(slog.DiscardHandler)
	}
	if w.observer == nil {
		w.observer = nopObserver{}
	}
	return w, nil
}

// Run processes every existing image once, then watches for changes until
// ctx is cancelled. It returns ctx.Err() on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return imgcrush.General(err, "imgcrush: cannot start file watcher")
	}
	defer func() { _ = watcher.Close() }()

	if err := w.addDirs(watcher, w.dir); err != nil {
		return err
	}

	existing, err := imgcrush.CollectFiles(w.dir, w.recursive)
	if err != nil {
		return err
	}
	for _, f := range existing {
		if ctx.Err() != nil {
			break
		}
		if !w.skip(f) {
			w.process(ctx, f)
		}
	}

	ready := make(chan string)
	done := make(chan struct{})
	defer func() {
		close(done)
		w.stopTimers()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case path := <-ready:
			w.process(ctx, path)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handle(watcher, event, ready, done)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(watcher *fsnotify.Watcher, event fsnotify.Event, ready chan<- string, done <-chan struct{}) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	info, err := os.Lstat(event.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if w.recursive && event.Has(fsnotify.Create) && !w.insideOutput(event.Name) {
			if err := w.addDirs(watcher, event.Name); err != nil {
				w.logger.Warn("cannot watch new directory", "dir", event.Name, "error", err)
			}
		}
		return
	}
	if !info.Mode().IsRegular() || w.skip(event.Name) {
		return
	}
	if !w.recursive && filepath.Dir(event.Name) != w.dir {
		return
	}
	w.schedule(event.Name, ready, done)
}

// schedule (re)starts the debounce timer for path.
func (w *Watcher) schedule(path string, ready chan<- string, done <-chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		select {
		case ready <- path:
		case <-done:
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.timers {
		t.Stop()
		delete(w.timers, p)
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	if w.ownOutput(path) {
		return
	}
	res, err := w.proc.Process(ctx, path)
	switch {
	case err == nil:
		if !res.DryRun {
			if info, statErr := os.Stat(res.OutputFile); statErr == nil {
				w.mu.Lock()
				w.written[res.OutputFile] = info.ModTime()
				w.mu.Unlock()
			}
		}
		w.observer.OnResult(res, 0, 0)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		w.logger.Debug("file abandoned", "file", path)
	default:
		w.observer.OnError(imgcrush.FileError{File: path, Message: err.Error()}, 0, 0)
	}
}

// ownOutput reports whether path is unchanged since this watcher wrote it,
// so in-place optimization does not trigger itself.
func (w *Watcher) ownOutput(path string) bool {
	w.mu.Lock()
	mod, ok := w.written[path]
	w.mu.Unlock()
	if !ok {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.ModTime().Equal(mod)
}

// skip filters out unsupported files, hidden temp files and anything under
// the output directory.
func (w *Watcher) skip(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || !imgcrush.IsSupportedExtension(base) {
		return true
	}
	return w.insideOutput(path)
}

func (w *Watcher) insideOutput(path string) bool {
	if w.outputDir == "" || w.outputDir == w.dir {
		return false
	}
	rel, err := filepath.Rel(w.outputDir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// addDirs watches root and, when recursive, every directory below it.
func (w *Watcher) addDirs(watcher *fsnotify.Watcher, root string) error {
	if !w.recursive {
		if err := watcher.Add(root); err != nil {
			return imgcrush.PermissionDenied("imgcrush: cannot watch %s: %v", root, err)
		}
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return imgcrush.PermissionDenied("imgcrush: cannot watch %s: %v", root, err)
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.insideOutput(path) {
			return fs.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			if path == root {
				return imgcrush.PermissionDenied("imgcrush: cannot watch %s: %v", root, err)
			}
			w.logger.Warn("cannot watch directory", "dir", path, "error", err)
		}
		return nil
	})
}

type nopObserver struct{}

func (nopObserver) OnStart(int, string)                    {}
func (nopObserver) OnResult(imgcrush.FileResult, int, int) {}
func (nopObserver) OnError(imgcrush.FileError, int, int)   {}

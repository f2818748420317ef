package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"framer/internal/fsutil"
)

// Event describes one processed file.
type Event struct {
	Path   string    `json:"path"`
	Output string    `json:"output,omitempty"`
	Error  string    `json:"error,omitempty"`
	Time   time.Time `json:"time"`
}

// Handler frames one file and returns the path it wrote.
type Handler interface {
	Handle(ctx context.Context, path string) (string, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, path string) (string, error)

func (f HandlerFunc) Handle(ctx context.Context, path string) (string, error) { return f(ctx, path) }

// Watcher runs a Handler for every image that settles in a watched directory.
type Watcher struct {
	Dirs      []string
	OutputDir string
	Debounce  time.Duration
	Handler   Handler
	Log       *slog.Logger

	// Events receives one entry per handled file when non-nil.
	Events chan<- Event

	mu      sync.Mutex
	pending map[string]*pendingFile
	written map[string]struct{}
}

// pendingFile is a settle timer. gen changes whenever the timer is replaced,
// so a firing from an older timer is recognised and dropped.
type pendingFile struct {
	timer *time.Timer
	gen   uint64
}

type settled struct {
	path string
	gen  uint64
}

func New(dirs []string, outputDir string, h Handler, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		Dirs:      dirs,
		OutputDir: outputDir,
		Debounce:  500 * time.Millisecond,
		Handler:   h,
		Log:       log,
	}
}

// Run watches until ctx is cancelled. Files are handled one at a time.
func (w *Watcher) Run(ctx context.Context) error {
	if len(w.Dirs) == 0 {
		return fmt.Errorf("no directories to watch")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	for _, dir := range w.Dirs {
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		w.Log.Info("watching directory", "dir", dir)
	}

	w.mu.Lock()
	w.pending = make(map[string]*pendingFile)
	w.written = make(map[string]struct{})
	w.mu.Unlock()

	ready := make(chan settled, 64)
	defer w.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
				continue
			}
			if !w.wants(ev.Name) {
				continue
			}
			w.schedule(ctx, ev.Name, ready)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.Log.Error("filesystem watcher error", "error", err)

		case s := <-ready:
			w.handle(ctx, s)
		}
	}
}

func (w *Watcher) wants(path string) bool {
	if !fsutil.IsImageFile(path) || strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	if w.OutputDir != "" {
		if rel, err := filepath.Rel(w.OutputDir, path); err == nil && !strings.HasPrefix(rel, "..") {
			return false
		}
	}
	w.mu.Lock()
	_, ours := w.written[path]
	w.mu.Unlock()
	return !ours
}

// schedule (re)starts the settle timer for path. A timer is never reused:
// one that already fired may have its path on ready, so it is replaced.
func (w *Watcher) schedule(ctx context.Context, path string, ready chan<- settled) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var gen uint64
	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
		gen = p.gen + 1
	}
	s := settled{path: path, gen: gen}
	t := time.AfterFunc(w.Debounce, func() {
		select {
		case ready <- s:
		case <-ctx.Done():
		}
	})
	w.pending[path] = &pendingFile{timer: t, gen: gen}
}

func (w *Watcher) handle(ctx context.Context, s settled) {
	path := s.path
	w.mu.Lock()
	p, ok := w.pending[path]
	if !ok || p.gen != s.gen {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	w.mu.Unlock()

	if _, err := os.Stat(path); err != nil {
		return
	}

	ev := Event{Path: path, Time: time.Now()}
	out, err := w.Handler.Handle(ctx, path)
	if err != nil {
		ev.Error = err.Error()
		w.Log.Warn("hot folder file failed", "file", path, "error", err)
	} else {
		ev.Output = out
		w.mu.Lock()
		w.written[out] = struct{}{}
		w.mu.Unlock()
		w.Log.Info("hot folder file framed", "file", path, "output", out)
	}
	if w.Events != nil {
		select {
		case w.Events <- ev:
		default:
			w.Log.Warn("event buffer full, dropping event", "file", path)
		}
	}
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range w.pending {
		p.timer.Stop()
	}
}

// Package watch reruns a build when project files change. Events are
// debounced so that an editor saving several files triggers one rebuild,
// and rebuilds run one at a time on the caller's goroutine.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Options configures a Watcher.
type Options struct {
	Logger *zap.Logger
	// Delay is how long the tree must stay quiet before a change is reported.
	Delay time.Duration
	// Patterns select the files that count as changes, matched against the
	// base name. Empty matches everything.
	Patterns []string
	// Ignore lists directories, relative to the root, whose contents never
	// count. Build outputs belong here or every build triggers the next.
	Ignore []string
}

// DefaultOptions returns options with a 200ms delay and no filters.
func DefaultOptions() *Options {
	return &Options{Logger: zap.NewNop(), Delay: 200 * time.Millisecond}
}

// Watcher monitors a project tree.
type Watcher struct {
	root     string
	fsw      *fsnotify.Watcher
	logger   *zap.Logger
	patterns []string
	ignore   []string
	debounce *Debouncer
}

// New creates a watcher over every directory under root.
func New(root string, opts *Options) (*Watcher, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	delay := opts.Delay
	if delay <= 0 {
		delay = DefaultOptions().Delay
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		root:     root,
		fsw:      fsw,
		logger:   logger,
		patterns: opts.Patterns,
		debounce: NewDebouncer(delay),
	}
	for _, dir := range opts.Ignore {
		w.ignore = append(w.ignore, filepath.Clean(filepath.Join(root, dir)))
	}

	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run reports batches of changed paths to onChange until ctx is done.
// onChange is never called concurrently with itself.
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context, files []string)) error {
	defer w.fsw.Close()
	defer w.debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))

		case files := <-w.debounce.C():
			onChange(ctx, files)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if w.ignored(event.Name) {
		return
	}
	if event.Has(fsnotify.Create) && isDir(event.Name) {
		if err := w.addTree(event.Name); err != nil {
			w.logger.Warn("failed to watch new directory", zap.String("dir", event.Name), zap.Error(err))
		}
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	if !w.matches(event.Name) {
		return
	}
	w.logger.Debug("file changed", zap.String("path", event.Name), zap.Stringer("op", event.Op))
	w.debounce.Add(event.Name)
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.ignored(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", path, err)
		}
		w.logger.Debug("watching directory", zap.String("dir", path))
		return nil
	})
}

// ignored reports hidden entries and anything under an ignored directory.
func (w *Watcher) ignored(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return true
	}
	path = filepath.Clean(path)
	for _, dir := range w.ignore {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) matches(path string) bool {
	if len(w.patterns) == 0 {
		return true
	}
	base := filepath.Base(path)
	for _, pattern := range w.patterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Debouncer collects paths and delivers them as one sorted batch once no
// new path has arrived for the configured duration.
type Debouncer struct {
	duration time.Duration
	timer    *time.Timer
	files    map[string]struct{}
	mutex    sync.Mutex
	out      chan []string
	stopped  bool
}

// NewDebouncer creates a new debouncer instance
func NewDebouncer(duration time.Duration) *Debouncer {
	return &Debouncer{
		duration: duration,
		files:    make(map[string]struct{}),
		out:      make(chan []string, 1),
	}
}

// C delivers batches.
func (d *Debouncer) C() <-chan []string { return d.out }

// Add records a path and restarts the quiet period.
func (d *Debouncer) Add(file string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.stopped {
		return
	}
	d.files[file] = struct{}{}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.duration, d.flush)
}

func (d *Debouncer) flush() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.stopped || len(d.files) == 0 {
		return
	}
	select {
	case d.out <- d.drain():
	default:
		// The previous batch is still pending; retry after another quiet period.
		d.timer = time.AfterFunc(d.duration, d.flush)
	}
}

func (d *Debouncer) drain() []string {
	files := make([]string, 0, len(d.files))
	for file := range d.files {
		files = append(files, file)
	}
	sort.Strings(files)
	d.files = make(map[string]struct{})
	return files
}

// Stop discards pending paths. Add is a no-op afterwards.
func (d *Debouncer) Stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.stopped = true
	d.files = make(map[string]struct{})
}

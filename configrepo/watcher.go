package configrepo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/GoCodeAlone/modhub"
)

var ErrNotWatchable = errors.New("configuration repository is not file backed")

// DefaultDebounce is how long the watcher waits for a burst of file events
// to settle before reloading.
const DefaultDebounce = 250 * time.Millisecond

// ChangeHandler receives the records that changed on disk.
type ChangeHandler func(diff *ConfigDiff)

// Watcher reloads a file repository when its file changes and reports what
// changed. Edits made through the repository itself and committed produce
// no report because the working copy already matches the file.
type Watcher struct {
	repo     *Repository
	path     string
	handler  ChangeHandler
	logger   modhub.Logger
	debounce time.Duration
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

func WithWatcherLogger(l modhub.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

func NewWatcher(repo *Repository, handler ChangeHandler, opts ...WatcherOption) (*Watcher, error) {
	if repo == nil || repo.Path() == "" {
		return nil, ErrNotWatchable
	}
	w := &Watcher{
		repo:     repo,
		path:     filepath.Clean(repo.Path()),
		handler:  handler,
		logger:   modhub.NopLogger(),
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Check reloads the repository and reports the difference to the handler.
// A repository with uncommitted changes is left alone.
func (w *Watcher) Check() (*ConfigDiff, error) {
	if w.repo.Dirty() {
		w.logger.Warn("Configuration file changed while edits are pending, ignoring", "path", w.path)
		return &ConfigDiff{Timestamp: time.Now()}, nil
	}
	before, err := w.repo.GetAllModulesConfigurations()
	if err != nil {
		return nil, err
	}
	if err := w.repo.Reload(); err != nil {
		return nil, fmt.Errorf("failed to reload %s: %w", w.path, err)
	}
	after, err := w.repo.GetAllModulesConfigurations()
	if err != nil {
		return nil, err
	}
	diff := Diff(before, after)
	if !diff.Empty() && w.handler != nil {
		w.handler(diff)
	}
	return diff, nil
}

// Run watches the file until ctx is done. The parent directory is watched
// so that editors replacing the file by rename are noticed.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}
	w.logger.Info("Watching module configuration", "path", w.path)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("File watcher error", "path", w.path, "error", err)
		case <-timer.C:
			diff, err := w.Check()
			if err != nil {
				w.logger.Error("Cannot reload module configuration", "path", w.path, "error", err)
				continue
			}
			if !diff.Empty() {
				w.logger.Info("Module configuration changed", "path", w.path,
					"added", len(diff.Added), "changed", len(diff.Changed), "removed", len(diff.Removed))
			}
		}
	}
}

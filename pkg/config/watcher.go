package config

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/getmockd/imposter/pkg/logging"
)

// DefaultDebounce is the quiet period after the last change before a reload.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads a configuration path when its files change. The path may
// be a file, a directory or a glob pattern, as accepted by Load.
type Watcher struct {
	path     string
	debounce time.Duration
	log      *slog.Logger
}

// NewWatcher creates a watcher for path. A zero debounce uses
// DefaultDebounce.
func NewWatcher(path string, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{path: path, debounce: debounce, log: logging.OrNop(logger)}
}

// Watch blocks until ctx is done, calling onChange with the freshly loaded
// configuration after each burst of changes. Files that fail to load are
// logged and the previous configuration stays in effect.
func (w *Watcher) Watch(ctx context.Context, onChange func(*File) error) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	dirs, match, err := w.targets()
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	w.log.Info("config watcher started", "path", w.path, "dirs", len(dirs))

	fire := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if event.Op == fsnotify.Chmod || !match(event.Name) {
				continue
			}
			w.log.Debug("config change detected", "file", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.AfterFunc(w.debounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(w.debounce)
			}

		case <-fire:
			w.reload(onChange)

		case err, ok := <-fw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.log.Error("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload(onChange func(*File) error) {
	f, err := Load(w.path)
	if err != nil {
		w.log.Error("config reload failed, keeping previous configuration", "path", w.path, "error", err)
		return
	}
	if err := onChange(f); err != nil {
		w.log.Error("applying reloaded config failed", "path", w.path, "error", err)
		return
	}
	w.log.Info("config reloaded", "path", w.path, "imposters", len(f.Imposters))
}

// targets returns the directories to watch and a filter for event paths.
func (w *Watcher) targets() ([]string, func(string) bool, error) {
	if isGlob(w.path) {
		base, _ := doublestar.SplitPattern(filepath.ToSlash(w.path))
		var dirs []string
		err := filepath.WalkDir(filepath.FromSlash(base), func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				dirs = append(dirs, p)
			}
			return nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to walk %s: %w", base, err)
		}
		pattern := w.path
		return dirs, func(name string) bool {
			ok, _ := doublestar.PathMatch(pattern, filepath.Clean(name))
			return ok
		}, nil
	}

	info, err := os.Stat(w.path)
	if err != nil {
		return nil, nil, statError(w.path, err)
	}
	if info.IsDir() {
		return []string{w.path}, isConfigFile, nil
	}

	// Editors often replace files, so watch the parent directory.
	target := filepath.Clean(w.path)
	return []string{filepath.Dir(target)}, func(name string) bool {
		return filepath.Clean(name) == target
	}, nil
}

func isConfigFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// Package watch reloads a local repository when its .git directory changes.
package watch

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/thiagokokada/gitodyssey/internal/debounce"
)

const DefaultDelay = 350 * time.Millisecond

// Watcher calls a reload function once a burst of repository changes has
// settled.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	debounce *debounce.Debouncer
	done     chan struct{}
	closed   bool
}

// Start watches root and runs reload delay after the last relevant event.
// reload runs on its own goroutine.
func Start(root string, delay time.Duration, reload func()) (*Watcher, error) {
	if root == "" {
		return nil, errors.New("watch: repository path is empty")
	}
	if delay <= 0 {
		delay = DefaultDelay
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	for path := range watchPaths(root) {
		slog.Debug("adding path to FS watcher", slog.String("path", path))
		if err := fw.Add(path); err != nil {
			err := errors.Join(err, fw.Close())
			return nil, fmt.Errorf("watch %s: %w", path, err)
		}
	}
	w := &Watcher{
		watcher:  fw,
		debounce: debounce.New(delay, reload),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if shouldIgnoreWatchPath(ev.Name) {
				continue
			}
			slog.Debug("fsnotify event",
				slog.String("op", ev.Op.String()),
				slog.String("path", ev.Name),
			)
			w.schedule()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("fsnotify error", slog.Any("error", err))
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	slog.Debug("auto reload scheduled")
	w.debounce.Trigger()
}

// Close stops watching. A reload that is already running is not waited for.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.debounce.Stop()
	w.mu.Unlock()
	err := w.watcher.Close()
	<-w.done
	return err
}

// watchPaths prefers the .git directory so worktree edits alone do not
// trigger reloads.
func watchPaths(root string) iter.Seq[string] {
	uniquePaths := map[string]struct{}{}
	appendUnique := func(p string) { uniquePaths[p] = struct{}{} }
	gitDir := filepath.Join(root, ".git")
	if info, err := os.Stat(gitDir); err == nil && info.IsDir() {
		appendUnique(gitDir)
		// Branch updates land here, not in .git itself.
		for _, sub := range []string{"refs/heads", "refs/remotes"} {
			p := filepath.Join(gitDir, sub)
			if info, err := os.Stat(p); err == nil && info.IsDir() {
				appendUnique(p)
			}
		}
		return maps.Keys(uniquePaths)
	}
	appendUnique(root)
	return maps.Keys(uniquePaths)
}

func shouldIgnoreWatchPath(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".lock" || ext == ".ipc"
}

// Package watch reports changes to a working tree so a comparison against it
// can be refreshed.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/thiagokokada/refdiff/internal/debounce"
)

const DefaultDelay = 350 * time.Millisecond

// gitMetadata are the files under .git whose changes alter a comparison.
var gitMetadata = []string{"HEAD", "index", "refs", "packed-refs"}

// Run calls onChange after every burst of relevant file events below root
// until ctx is done. Directories created later are watched as they appear.
func Run(ctx context.Context, root string, delay time.Duration, onChange func()) error {
	if delay <= 0 {
		delay = DefaultDelay
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer watcher.Close()

	paths, err := watchPaths(root)
	if err != nil {
		return err
	}
	for _, path := range paths {
		slog.Debug("adding path to FS watcher", slog.String("path", path))
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
	}

	// Created on the first relevant event.
	var d *debounce.Debouncer
	defer func() {
		if d == nil {
			return
		}
		if d.Pending() {
			slog.Debug("dropping pending refresh on shutdown", slog.String("root", root))
		}
		d.Stop()
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if shouldIgnore(root, ev.Name) {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Lstat(ev.Name); err == nil && info.IsDir() && !inGitDir(root, ev.Name) {
					if err := watcher.Add(ev.Name); err != nil {
						slog.Warn("watch new directory", slog.String("path", ev.Name), slog.Any("error", err))
					}
				}
			}
			slog.Debug("fsnotify event",
				slog.String("op", ev.Op.String()),
				slog.String("path", ev.Name),
			)
			debounce.Ensure(&d, delay, onChange).Trigger()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("fsnotify error", slog.Any("error", err))
		}
	}
}

// watchPaths lists every directory of the working tree plus the .git
// directory itself and its refs.
func watchPaths(root string) ([]string, error) {
	if root == "" {
		return nil, errors.New("watch: empty root")
	}
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" && path != root {
			paths = append(paths, path)
			refs := filepath.Join(path, "refs")
			if info, err := os.Stat(refs); err == nil && info.IsDir() {
				paths = append(paths, refs)
			}
			return filepath.SkipDir
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return paths, nil
}

func inGitDir(root, name string) bool {
	rel, err := filepath.Rel(root, name)
	if err != nil {
		return false
	}
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	return first == ".git"
}

func shouldIgnore(root, name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".lock" || ext == ".ipc" || ext == ".swp" {
		return true
	}
	if !inGitDir(root, name) {
		return false
	}
	rel, _ := filepath.Rel(filepath.Join(root, ".git"), name)
	rel = filepath.ToSlash(rel)
	for _, meta := range gitMetadata {
		if rel == meta || strings.HasPrefix(rel, meta+"/") {
			return false
		}
	}
	return true
}

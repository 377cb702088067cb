package weaver

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/standardbeagle/jweave/internal/config"
	"github.com/standardbeagle/jweave/internal/debug"
)

// Watch reruns the weave whenever class or mixin files change, debounced so
// a compiler writing many files triggers one run. Each run builds a fresh
// weaver: mixin sets and merge sessions must not leak between runs. Returns
// when the context is cancelled.
func Watch(ctx context.Context, cfg *config.Config, onRun func(Stats, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	roots := []string{
		filepath.Join(cfg.Project.Root, cfg.Paths.Classes),
		filepath.Join(cfg.Project.Root, cfg.Paths.Mixins),
	}
	for _, root := range roots {
		if err := watchTree(watcher, root); err != nil {
			return err
		}
	}

	debounce := time.Duration(cfg.Watch.DebounceMs) * time.Millisecond
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// new package directories need watching too
			if ev.Op.Has(fsnotify.Create) {
				if err := watchTree(watcher, ev.Name); err == nil {
					debug.Printf("watching new directory %s", ev.Name)
				}
			}
			if !strings.HasSuffix(ev.Name, ".class") {
				continue
			}
			if !pending {
				timer.Reset(debounce)
				pending = true
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			debug.Errorf("watch error: %v", err)
		case <-timer.C:
			pending = false
			w, err := New(cfg)
			if err != nil {
				onRun(Stats{}, err)
				continue
			}
			stats, err := w.Run(ctx)
			onRun(stats, err)
		}
	}
}

// watchTree registers a directory and its subdirectories. Non-directories
// and vanished paths are ignored.
func watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

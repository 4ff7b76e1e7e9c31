// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/conditions/services/conditions/conderr"
)

// DirectorySource serves items from a materialized directory.
//
// # Description
//
// Items are plain files below root. When created with WithWatch, the
// directory tree is watched with fsnotify; any change marks the source
// dirty and the next Update returns UpdateReplace so the manager
// re-resolves instead of serving edited files under a stale cache.
//
// # Thread Safety
//
// Open and Update are called from the control goroutine. The watch
// goroutine only touches the dirty flag.
type DirectorySource struct {
	root    string
	watch   bool
	watcher *fsnotify.Watcher
	dirty   atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// DirectoryOption configures a DirectorySource.
type DirectoryOption func(*DirectorySource)

// WithWatch enables fsnotify change detection on the directory tree.
func WithWatch(logger *slog.Logger) DirectoryOption {
	return func(d *DirectorySource) {
		d.watch = true
		d.logger = logger
	}
}

// NewDirectorySource opens root as a Source.
//
// # Inputs
//
//   - root: Directory holding the detector's items. Must exist.
//   - opts: Optional WithWatch.
//
// # Outputs
//
//   - *DirectorySource: The source. Caller must Close it.
//   - error: Kind conderr.ErrNotFound if root is not a directory.
func NewDirectorySource(root string, opts ...DirectoryOption) (*DirectorySource, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, conderr.New(conderr.ErrNotFound, "source.NewDirectorySource", root, err)
	}
	if !info.IsDir() {
		return nil, conderr.Newf(conderr.ErrNotFound, "source.NewDirectorySource", root, "not a directory")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}

	d := &DirectorySource{root: abs}
	for _, opt := range opts {
		opt(d)
	}
	if d.watch {
		if err := d.startWatch(); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Root returns the absolute directory path.
func (d *DirectorySource) Root() string {
	return d.root
}

// Describe implements Describer.
func (d *DirectorySource) Describe() string {
	return "dir:" + d.root
}

// Open implements Source.
func (d *DirectorySource) Open(name, typ string) (io.ReadCloser, error) {
	// ItemPath cleans against "/", so the joined path cannot leave root.
	p := filepath.Join(d.root, filepath.FromSlash(ItemPath(name, typ)))
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(name, typ, err)
		}
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	return f, nil
}

// Update implements Source.
//
// A watched directory that changed since it was opened asks to be replaced.
func (d *DirectorySource) Update(_ context.Context, current, next Identity) (UpdateResult, error) {
	if d.dirty.Load() && current.Detector == next.Detector {
		return UpdateReplace, nil
	}
	return DefaultUpdate(current, next)
}

// Dirty reports whether the watched tree changed since the source was opened.
func (d *DirectorySource) Dirty() bool {
	return d.dirty.Load()
}

// Close implements Source. Stops the watcher if one is running.
func (d *DirectorySource) Close() error {
	if d.watcher == nil || d.done == nil {
		return nil
	}
	close(d.done)
	err := d.watcher.Close()
	d.wg.Wait()
	d.done = nil
	return err
}

func (d *DirectorySource) startWatch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watchTree(w, d.root); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", d.root, err)
	}

	d.watcher = w
	d.done = make(chan struct{})
	d.wg.Add(1)
	go d.loop()
	return nil
}

// watchTree adds root and every directory below it to w.
func watchTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return w.Add(p)
		}
		return nil
	})
}

// watchCreated follows a directory created after the watch started, so
// edits inside it are seen too.
func (d *DirectorySource) watchCreated(path string) {
	info, err := os.Lstat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if err := watchTree(d.watcher, path); err != nil && d.logger != nil {
		d.logger.Warn("failed to watch new conditions directory",
			slog.String("root", d.root),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// WatchedDirs returns the directories currently under watch, or nil when
// the source is not watched.
func (d *DirectorySource) WatchedDirs() []string {
	if d.watcher == nil || d.done == nil {
		return nil
	}
	return d.watcher.WatchList()
}

func (d *DirectorySource) loop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if ev.Has(fsnotify.Create) {
				d.watchCreated(ev.Name)
			}
			if !d.dirty.Swap(true) && d.logger != nil {
				d.logger.Info("conditions directory changed",
					slog.String("root", d.root),
					slog.String("path", ev.Name),
					slog.String("op", ev.Op.String()),
				)
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			if d.logger != nil {
				d.logger.Warn("conditions directory watch error",
					slog.String("root", d.root),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

var (
	_ Source    = (*DirectorySource)(nil)
	_ Describer = (*DirectorySource)(nil)
)

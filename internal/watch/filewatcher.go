// Package watch implements FileWatcher and ModuleWatcher (spec.md
// §4.3-§4.4), backed by fsnotify.
package watch

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/akfullfo/taskforce/internal/eventloop"
)

// entry tracks one watched path's last known identity, used both to detect
// the simfs coalesced-event bug (original `watch_files.py`) and to implement
// the pending-path workflow for paths that may not exist yet.
type entry struct {
	pending bool
	ino     uint64
	dev     uint64
}

// FileWatcher watches a mutable set of paths and reports deduplicated
// changes (spec.md §4.3).
type FileWatcher struct {
	mu      sync.Mutex
	w       *fsnotify.Watcher
	paths   map[string]*entry
	changed map[string]bool
}

// NewFileWatcher constructs a FileWatcher over an fsnotify backend.
func NewFileWatcher() (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("filewatcher: %w", err)
	}
	fw := &FileWatcher{
		w:       w,
		paths:   make(map[string]*entry),
		changed: make(map[string]bool),
	}
	go fw.run()
	return fw, nil
}

func (fw *FileWatcher) run() {
	for {
		select {
		case ev, ok := <-fw.w.Events:
			if !ok {
				return
			}
			fw.mu.Lock()
			fw.changed[ev.Name] = true
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				if _, ok := fw.paths[ev.Name]; ok {
					fw.paths[ev.Name] = &entry{pending: true}
				}
			} else if ev.Op&fsnotify.Chmod != 0 {
				// simfs reports a move/delete only as an attribute change:
				// a path that is gone or has a new inode goes pending.
				if e, ok := fw.paths[ev.Name]; ok && !e.pending {
					if st, err := os.Stat(ev.Name); err != nil || inoOf(st) != e.ino {
						fw.paths[ev.Name] = &entry{pending: true}
					}
				}
			}
			fw.mu.Unlock()
		case _, ok := <-fw.w.Errors:
			if !ok {
				return
			}
		}
	}
}

// Add registers paths for watching. If missing is true, a path need not
// exist yet: it enters the pending set until FileWatcher.Scan sees it
// appear (spec.md §4.3).
func (fw *FileWatcher) Add(paths []string, missing bool) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	for _, p := range paths {
		if _, ok := fw.paths[p]; ok {
			continue
		}
		st, err := os.Stat(p)
		if err != nil {
			if !missing {
				return fmt.Errorf("filewatcher: add %q: %w", p, err)
			}
			fw.paths[p] = &entry{pending: true}
			continue
		}
		if err := fw.w.Add(p); err != nil {
			return fmt.Errorf("filewatcher: add %q: %w", p, err)
		}
		fw.paths[p] = &entry{ino: inoOf(st)}
	}
	return nil
}

// Remove stops watching paths.
func (fw *FileWatcher) Remove(paths []string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	for _, p := range paths {
		if e, ok := fw.paths[p]; ok && !e.pending {
			fw.w.Remove(p)
		}
		delete(fw.paths, p)
		delete(fw.changed, p)
	}
}

// Commit reconciles the registered set with the OS primitives. Since Add
// and Remove apply immediately against fsnotify, Commit is a no-op hook
// kept for the batch-update contract spec.md §4.3 describes (and for
// idempotence: two Commits with no intervening Add/Remove do nothing).
func (fw *FileWatcher) Commit() error { return nil }

// Get drains pending change events, returning a deduplicated, sorted list
// of changed paths. It aggregates bursts: after the first change arrives it
// keeps collecting until timeout elapses with no new change, or limit
// distinct paths have been collected (spec.md §4.3). limit <= 0 means
// unlimited.
func (fw *FileWatcher) Get(timeout time.Duration, limit int) []string {
	waitDeadline := time.Now().Add(timeout)
	for {
		fw.mu.Lock()
		n := len(fw.changed)
		fw.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(waitDeadline) {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Reset the aggregation deadline every time the changed set grows, so a
	// burst of changes keeps extending the window; drain once a full
	// `timeout` passes with no new change or `limit` distinct paths
	// accumulate (spec.md §4.3 "aggregation timeout").
	lastCount := 0
	quietSince := time.Now()
	for {
		fw.mu.Lock()
		n := len(fw.changed)
		fw.mu.Unlock()

		if n != lastCount {
			lastCount = n
			quietSince = time.Now()
		}
		if limit > 0 && n >= limit {
			return fw.drain(limit)
		}
		if time.Since(quietSince) >= timeout {
			return fw.drain(limit)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (fw *FileWatcher) drain(limit int) []string {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	out := make([]string, 0, len(fw.changed))
	for p := range fw.changed {
		out = append(out, p)
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for _, p := range out {
		delete(fw.changed, p)
	}
	return out
}

// Scan promotes newly appearing pending paths to watched, synthesizing a
// single change event on appearance (spec.md §4.3).
func (fw *FileWatcher) Scan() {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	for p, e := range fw.paths {
		if !e.pending {
			continue
		}
		st, err := os.Stat(p)
		if err != nil {
			continue
		}
		if err := fw.w.Add(p); err != nil {
			continue
		}
		fw.paths[p] = &entry{ino: inoOf(st)}
		fw.changed[p] = true
	}
}

// Watch implements eventloop.Source so a FileWatcher can be registered
// directly with a Poller. The fsnotify event channel itself is already
// consumed by run (to maintain the deduplicated changed set); Watch instead
// polls that set and signals readiness once, which Get then drains.
func (fw *FileWatcher) Watch(ctx context.Context, out chan<- eventloop.Event) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fw.mu.Lock()
			n := len(fw.changed)
			fw.mu.Unlock()
			if n > 0 {
				out <- eventloop.Event{Object: fw, Mask: eventloop.In}
			}
		}
	}
}

// Close releases the underlying fsnotify watcher.
func (fw *FileWatcher) Close() error {
	return fw.w.Close()
}

package watch

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// importRe matches Python `import x.y` and `from x.y import z` statements,
// the same scan `watch_modules.py` performs to build a program's transitive
// source-module dependency closure (spec.md §4.4, SPEC_FULL.md §6.2).
var importRe = regexp.MustCompile(`^\s*(?:from\s+([\w.]+)\s+import|import\s+([\w.]+))`)

// ModuleWatcher wraps a FileWatcher, mapping a program's dependency closure
// of source files back to the program name that uses it (spec.md §4.4).
type ModuleWatcher struct {
	fw *FileWatcher

	searchPath []string

	mu       sync.Mutex
	programs map[string]string   // name -> command path
	files    map[string][]string // file path -> program names depending on it
}

// NewModuleWatcher constructs a ModuleWatcher delegating file notification
// to fw. searchPath is consulted when resolving `import` module names to
// on-disk files, mirroring the Python module search path.
func NewModuleWatcher(fw *FileWatcher, searchPath []string) *ModuleWatcher {
	return &ModuleWatcher{
		fw:         fw,
		searchPath: searchPath,
		programs:   make(map[string]string),
		files:      make(map[string][]string),
	}
}

// Add registers a program for python-closure watching. If the closure
// cannot be fully resolved, the program path itself is still watched
// (spec.md §4.4 fallback).
func (mw *ModuleWatcher) Add(name, commandPath string) error {
	mw.mu.Lock()
	mw.programs[name] = commandPath
	mw.mu.Unlock()

	closure := mw.closure(commandPath)
	if len(closure) == 0 {
		closure = []string{commandPath}
	}

	mw.mu.Lock()
	for _, f := range closure {
		mw.files[f] = appendUnique(mw.files[f], name)
	}
	mw.mu.Unlock()

	return mw.fw.Add(closure, true)
}

// AddPaths registers an explicit set of paths against name without
// computing an import closure (spec.md §4.6 `file_change` events, which
// name paths directly rather than a program to resolve).
func (mw *ModuleWatcher) AddPaths(name string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	mw.mu.Lock()
	for _, f := range paths {
		mw.files[f] = appendUnique(mw.files[f], name)
	}
	mw.mu.Unlock()
	return mw.fw.Add(paths, true)
}

// Remove stops watching name's closure. Files still referenced by another
// program remain watched.
func (mw *ModuleWatcher) Remove(name string) {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	delete(mw.programs, name)

	var toRemove []string
	for f, names := range mw.files {
		kept := names[:0]
		for _, n := range names {
			if n != name {
				kept = append(kept, n)
			}
		}
		if len(kept) == 0 {
			delete(mw.files, f)
			toRemove = append(toRemove, f)
		} else {
			mw.files[f] = kept
		}
	}
	if len(toRemove) > 0 {
		mw.fw.Remove(toRemove)
	}
}

// Scan delegates to the underlying FileWatcher's pending-path promotion.
func (mw *ModuleWatcher) Scan() {
	mw.fw.Scan()
}

// Change is one de-aggregated ModuleWatcher.Get result (spec.md §4.4).
type Change struct {
	Name        string
	CommandPath string
	Changed     []string
}

// Get drains FileWatcher changes and de-aggregates them back to the program
// names whose closures include the changed paths.
func (mw *ModuleWatcher) Get(timeout time.Duration, limit int) []Change {
	paths := mw.fw.Get(timeout, limit)
	if len(paths) == 0 {
		return nil
	}

	mw.mu.Lock()
	defer mw.mu.Unlock()

	byName := make(map[string]*Change)
	var order []string
	for _, p := range paths {
		for _, name := range mw.files[p] {
			c, ok := byName[name]
			if !ok {
				c = &Change{Name: name, CommandPath: mw.programs[name]}
				byName[name] = c
				order = append(order, name)
			}
			c.Changed = append(c.Changed, p)
		}
	}

	out := make([]Change, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out
}

// closure computes the transitive import closure of a Python program,
// scanning statically for import statements and resolving module names
// against searchPath.
func (mw *ModuleWatcher) closure(commandPath string) []string {
	if !strings.HasSuffix(commandPath, ".py") {
		return nil
	}

	seen := map[string]bool{}
	queue := []string{commandPath}
	var result []string

	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		if seen[f] {
			continue
		}
		seen[f] = true
		result = append(result, f)

		for _, mod := range scanImports(f) {
			if resolved, ok := mw.resolveModule(mod); ok && !seen[resolved] {
				queue = append(queue, resolved)
			}
		}
	}

	sort.Strings(result)
	return result
}

func scanImports(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var mods []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m := importRe.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		mod := m[1]
		if mod == "" {
			mod = m[2]
		}
		if mod != "" {
			mods = append(mods, mod)
		}
	}
	return mods
}

func (mw *ModuleWatcher) resolveModule(mod string) (string, bool) {
	rel := strings.ReplaceAll(mod, ".", string(filepath.Separator)) + ".py"
	for _, dir := range mw.searchPath {
		candidate := filepath.Join(dir, rel)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}
	return "", false
}

func appendUnique(s []string, v string) []string {
	for _, existing := range s {
		if existing == v {
			return s
		}
	}
	return append(s, v)
}

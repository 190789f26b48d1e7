package legion

import (
	"log/slog"
	"time"

	"github.com/akfullfo/taskforce/internal/task"
	"github.com/akfullfo/taskforce/internal/watch"
)

// moduleWatcherBundle couples a ModuleWatcher to the legion so changed
// programs can be mapped back to their owning Task (spec.md §4.4, §4.6
// `self`/`python`/`file_change` events).
type moduleWatcherBundle struct {
	mw *watch.ModuleWatcher
}

// setUpWatchersLocked builds the FileWatcher/ModuleWatcher pair and
// registers every task's self/python/file_change events against it (spec.md
// §4.7 Initialization: "register watchers ... with the Poller").
func (l *Legion) setUpWatchersLocked() (*watch.FileWatcher, *moduleWatcherBundle) {
	fw, err := watch.NewFileWatcher()
	if err != nil {
		slog.Error("legion: file watcher unavailable, self/python/file_change events disabled", "error", err)
		return nil, nil
	}
	mw := watch.NewModuleWatcher(fw, nil)
	bundle := &moduleWatcherBundle{mw: mw}
	l.registerTaskWatches(bundle)
	return fw, bundle
}

// registerTaskWatches (re)registers every current task's self/python/
// file_change event bindings against bundle. Re-running it after a reload
// (spec.md §4.9 `/manage/reload`) is safe: ModuleWatcher.Add/AddPaths
// overwrite the program's prior registration rather than duplicating it.
func (l *Legion) registerTaskWatches(bundle *moduleWatcherBundle) {
	if bundle == nil || bundle.mw == nil {
		return
	}
	mw := bundle.mw

	for name, tc := range l.doc.Tasks {
		t, ok := l.tasks[name]
		if !ok {
			continue
		}
		if _, ok := t.Binding(task.EventSelf); ok {
			if argv := tc.Commands["start"]; len(argv) > 0 {
				_ = mw.AddPaths(name, []string{argv[0]})
			}
		}
		if _, ok := t.Binding(task.EventPython); ok {
			if argv := tc.Commands["start"]; len(argv) > 0 {
				_ = mw.Add(name, argv[0])
			}
		}
		if b, ok := t.Binding(task.EventFileChange); ok {
			_ = mw.AddPaths(name, b.Paths)
		}
	}
}

// dispatchFileChanges drains changed programs/paths and, for each task with
// a change, fires every self/python/file_change binding that task has
// (signal sent to every live pid, or a one-shot command) (spec.md §4.6
// event handlers, §4.7 step 5). Bindings are not filtered by which watched
// path changed: a task with both `self` and `python` bindings fires both on
// a change to any file in its closure.
func (l *Legion) dispatchFileChanges(bundle *moduleWatcherBundle) {
	if bundle == nil || bundle.mw == nil {
		return
	}
	changes := bundle.mw.Get(100*time.Millisecond, 0)
	for _, c := range changes {
		t, ok := l.lookup(c.Name)
		if !ok {
			continue
		}
		for _, typ := range []task.EventBindingType{task.EventSelf, task.EventPython, task.EventFileChange} {
			if b, ok := t.Binding(typ); ok {
				l.invokeEventBinding(t, b, c.Changed)
			}
		}
	}
}

// invokeEventBinding runs the handler described by b: a signal delivered to
// every live pid in the task, or a named one-shot command whose exit is
// just logged (spec.md §4.6).
func (l *Legion) invokeEventBinding(t *task.Task, b task.EventBinding, changed []string) {
	switch b.Kind {
	case task.HandlerSignal:
		if sig, ok := signalByName(b.Signal); ok {
			for _, s := range t.Slots() {
				if s.Live() {
					_ = t.SignalSlot(s, sig)
				}
			}
		}
	case task.HandlerCommand:
		l.runOneShotCommand(t, b.Command)
	}
	slog.Debug("legion: event fired", "task", t.Name, "type", b.Type, "changed", changed)
}

// Package legion implements the Legion scheduler and main loop (spec.md
// §4.7): the process-wide supervisor owning tasks, the roles filter, the
// config document, the poller, the watchers, and the HTTP services.
package legion

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/tevino/abool"
	"go.uber.org/multierr"

	"github.com/akfullfo/taskforce/internal/config"
	"github.com/akfullfo/taskforce/internal/eventloop"
	"github.com/akfullfo/taskforce/internal/fmtctx"
	"github.com/akfullfo/taskforce/internal/task"
)

const (
	shortTimeout    = 250 * time.Millisecond
	longTimeout     = 5 * time.Second
	sigtermLimit    = 10 * time.Second
	idleStarvation  = 15 * time.Second
)

// Legion is the top-level supervisor (spec.md §2, §4.7).
type Legion struct {
	configFile string
	rolesFile  string

	mu    sync.RWMutex
	doc   *config.Document
	roles *config.RolesSet
	tasks map[string]*task.Task
	order []string // topologically sorted scoped task names

	poller    *eventloop.Poller
	signals   *eventloop.SignalHub
	pidOwners map[int]func(syscall.WaitStatus)

	exiting        *abool.AtomicBool
	resetting      *abool.AtomicBool
	reloadPending  *abool.AtomicBool
	lastIdlePass   time.Time
	exitingAt      time.Time
	expiresAt      time.Time

	httpStarters []func() error
	httpStoppers []func() error

	watchBundle *moduleWatcherBundle
}

// Options configures a Legion at construction.
type Options struct {
	ConfigFile string
	RolesFile  string
	Expires    time.Duration
}

// New loads configuration and roles and builds the initial scoped task set
// (spec.md §4.7 Initialization).
func New(opts Options) (*Legion, error) {
	doc, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("legion: %w", err)
	}

	var roles *config.RolesSet
	if opts.RolesFile != "" {
		roles, err = config.LoadRoles(opts.RolesFile)
		if err != nil {
			return nil, fmt.Errorf("legion: %w", err)
		}
	}

	l := &Legion{
		configFile:    opts.ConfigFile,
		rolesFile:     opts.RolesFile,
		doc:           doc,
		roles:         roles,
		tasks:         make(map[string]*task.Task),
		pidOwners:     make(map[int]func(syscall.WaitStatus)),
		exiting:       abool.New(),
		resetting:     abool.New(),
		reloadPending: abool.New(),
	}
	if opts.Expires > 0 {
		l.expiresAt = time.Now().Add(opts.Expires)
	}

	if err := l.rebuildLocked(); err != nil {
		return nil, err
	}
	return l, nil
}

// baseContext builds the document-level define/default context layer merged
// with host identity built-ins (spec.md §6: Task_host, Task_fqdn, ...).
func baseContext(doc *config.Document) fmtctx.Context {
	hostname, _ := os.Hostname()
	ctx := fmtctx.Merge(fmtctx.Context(doc.Defaults), fmtctx.Context(doc.Defines))
	ctx["Task_host"] = hostname
	ctx["Task_fqdn"] = hostname
	ctx["Task_ppid"] = os.Getpid()
	return ctx
}

// rebuildLocked (re)computes the scoped task set and its topological order
// from the current doc/roles. Must be called with l.mu held for writing by
// the caller's convention (construction and Reload both hold it
// implicitly: construction runs single-threaded, Reload via applyReload).
func (l *Legion) rebuildLocked() error {
	base := baseContext(l.doc)

	next := make(map[string]*task.Task, len(l.doc.Tasks))
	for name, tc := range l.doc.Tasks {
		if existing, ok := l.tasks[name]; ok {
			if tc.InScope(l.roles) {
				// Back in scope (e.g. a roles-file change restored it):
				// make sure a prior out-of-scope `off` override doesn't
				// stick around.
				existing.RequestControl(tc.Control)
			} else {
				// Fell out of scope on this reload (e.g. a roles-file
				// change): drive it through the same stop path as an
				// explicit `control: off` rather than leaving it
				// running indefinitely (spec.md §3 Roles set / Scope).
				existing.RequestControl(config.ControlOff)
			}
			next[name] = existing
			continue
		}
		if !tc.InScope(l.roles) {
			continue
		}
		next[name] = task.New(tc, base)
	}

	for name, t := range l.tasks {
		if _, stillExists := l.doc.Tasks[name]; !stillExists {
			t.MarkDoNotResuscitate()
			next[name] = t
		}
	}

	order, err := topoSort(next)
	if err != nil {
		return err
	}

	l.tasks = next
	l.order = order
	return nil
}

// lookup implements task.Lookup against the current task set.
func (l *Legion) lookup(name string) (*task.Task, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.tasks[name]
	return t, ok
}

// topoSort implements task_list() (spec.md §4.6): scoped tasks in
// dependency order, cycles reported as a fatal DependencyCycle error naming
// the unschedulable set.
func topoSort(tasks map[string]*task.Task) ([]string, error) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(tasks))
	var order []string
	var visit func(name string, stack []string) error

	visit = func(name string, stack []string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("legion: dependency cycle involving %v", append(stack, name))
		}
		color[name] = gray
		t, ok := tasks[name]
		if ok {
			for _, req := range t.Requires() {
				if _, exists := tasks[req]; !exists {
					continue
				}
				if err := visit(req, append(stack, name)); err != nil {
					return err
				}
			}
		}
		color[name] = black
		order = append(order, name)
		return nil
	}

	names := make([]string, 0, len(tasks))
	for name := range tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Tasks returns the current scoped task set in dependency order.
func (l *Legion) Tasks() []*task.Task {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*task.Task, 0, len(l.order))
	for _, name := range l.order {
		if t, ok := l.tasks[name]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Document returns the currently running configuration document.
func (l *Legion) Document() *config.Document {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.doc
}

// AddHTTPStarter registers a deferred HTTP service start attempt. Listener
// creation that fails at startup (e.g. address in use) is retried on every
// idle pass until it succeeds (spec.md §4.7 step 6, §7 "recover locally
// wherever a retry can make progress").
func (l *Legion) AddHTTPStarter(start func() error) {
	l.mu.Lock()
	l.httpStarters = append(l.httpStarters, start)
	l.mu.Unlock()
}

// AddHTTPStopper registers a listener shutdown to run when the main loop
// exits, so Unix-domain socket files are cleaned up on service stop
// (spec.md §6 "Persisted state").
func (l *Legion) AddHTTPStopper(stop func() error) {
	l.mu.Lock()
	l.httpStoppers = append(l.httpStoppers, stop)
	l.mu.Unlock()
}

func (l *Legion) stopHTTPServices() {
	l.mu.Lock()
	stoppers := l.httpStoppers
	l.mu.Unlock()
	for _, stop := range stoppers {
		if err := stop(); err != nil {
			slog.Warn("legion: http service stop failed", "error", err)
		}
	}
}

func (l *Legion) retryHTTPStartersLocked() {
	l.mu.Lock()
	pending := l.httpStarters
	l.httpStarters = nil
	l.mu.Unlock()

	for _, start := range pending {
		if err := start(); err != nil {
			slog.Warn("legion: http service start deferred", "error", err)
			l.mu.Lock()
			l.httpStarters = append(l.httpStarters, start)
			l.mu.Unlock()
		}
	}
}

// RequestExit schedules a graceful shutdown (spec.md §4.9 `/manage/stop`).
// Safe to call from an HTTP worker goroutine (spec.md §5).
func (l *Legion) RequestExit() {
	l.exiting.Set()
}

// RequestReset schedules a graceful shutdown followed by a caller-visible
// reset (spec.md §4.9 `/manage/reset`, §4.2 SIGHUP).
func (l *Legion) RequestReset() {
	l.exiting.Set()
	l.resetting.Set()
}

// RequestReload schedules a config+roles reload on the next idle pass
// (spec.md §4.9 `/manage/reload`).
func (l *Legion) RequestReload() {
	l.reloadPending.Set()
}

// Exiting reports whether shutdown has been requested.
func (l *Legion) Exiting() bool { return l.exiting.IsSet() }

// Run drives the main loop until shutdown completes (spec.md §4.7). ctx
// cancellation is treated the same as an external exit request.
func (l *Legion) Run(ctx context.Context) error {
	l.poller = eventloop.New(eventloop.EpollPoll)
	l.signals = eventloop.NewSignalHub(l.declaredSignals()...)
	l.poller.Register(l.signals.Key(), l.signals)

	fw, mw := l.setUpWatchersLocked()
	if fw != nil {
		l.poller.Register(fw, fw)
	}
	l.watchBundle = mw

	defer func() {
		l.stopHTTPServices()
		l.signals.Stop()
		l.poller.Close()
		if fw != nil {
			fw.Close()
		}
	}()

	timeout := shortTimeout
	l.lastIdlePass = time.Now()

	for {
		select {
		case <-ctx.Done():
			l.exiting.Set()
		default:
		}

		if l.exiting.IsSet() {
			if l.exitingAt.IsZero() {
				l.exitingAt = time.Now()
				// Drive every task through its stop sequence
				// (SIGTERM, then SIGKILL after SigtermEscalation).
				for _, t := range l.Tasks() {
					t.RequestControl(config.ControlOff)
				}
			}
			if l.allStoppedLocked() {
				return l.finishExit()
			}
			if time.Since(l.exitingAt) > sigtermLimit {
				slog.Warn("legion: sigterm_limit exceeded, forcing exit")
				return l.finishExit()
			}
		}

		if !l.expiresAt.IsZero() && time.Now().After(l.expiresAt) {
			l.exiting.Set()
		}

		events, _ := l.poller.Poll(timeout)
		timeout = longTimeout

		if time.Since(l.lastIdlePass) > idleStarvation {
			events = append(events, eventloop.Event{})
		}

		for _, ev := range events {
			if hint := l.handleEventLocked(ev, mw); hint > 0 && hint < timeout {
				timeout = hint
			}
		}

		if len(events) == 0 || time.Since(l.lastIdlePass) > idleStarvation {
			if hint := l.idlePass(); hint > 0 && hint < timeout {
				timeout = hint
			}
		}
	}
}

// declaredSignals collects every distinct signal named by a task's `signal`
// event handler, so SignalHub also installs a handler for it and can relay
// deliveries of it to every task (spec.md §4.2: "any signal named in a
// task's `signal` event").
func (l *Legion) declaredSignals() []os.Signal {
	seen := make(map[syscall.Signal]bool)
	var out []os.Signal
	for _, tc := range l.doc.Tasks {
		for _, ev := range tc.Events {
			if ev.Signal == "" {
				continue
			}
			if sig, ok := signalByName(ev.Signal); ok && !seen[sig] {
				seen[sig] = true
				out = append(out, sig)
			}
		}
	}
	return out
}

func (l *Legion) finishExit() error {
	if l.resetting.IsSet() {
		slog.Info("legion: reset complete")
	}
	return nil
}

func (l *Legion) allStoppedLocked() bool {
	for _, t := range l.Tasks() {
		if t.LiveCount() > 0 {
			return false
		}
	}
	return true
}

// handleEventLocked dispatches one poller event (spec.md §4.7 step 5).
func (l *Legion) handleEventLocked(ev eventloop.Event, mw *moduleWatcherBundle) time.Duration {
	switch obj := ev.Object.(type) {
	case eventloop.SignalEvent:
		return l.handleSignal(obj)
	default:
		if mw != nil {
			l.dispatchFileChanges(mw)
		}
	}
	return 0
}

func (l *Legion) handleSignal(ev eventloop.SignalEvent) time.Duration {
	switch ev.Kind {
	case eventloop.SignalReap:
		l.reap()
	case eventloop.SignalReset:
		l.RequestReset()
	case eventloop.SignalExit:
		l.RequestExit()
	case eventloop.SignalRelay:
		l.relaySignal(ev.Signal.(syscall.Signal))
	}
	return shortTimeout
}

// relaySignal propagates an arbitrary task-declared signal to every
// registered task (spec.md §4.2: "other signals propagate to all
// registered tasks"). Sends to already-exited or unsignalable processes
// are aggregated rather than abandoning the rest of the fan-out
// (SPEC_FULL.md §3, go.uber.org/multierr).
func (l *Legion) relaySignal(sig syscall.Signal) {
	var err error
	for _, t := range l.Tasks() {
		for _, s := range t.Slots() {
			if !s.Live() {
				continue
			}
			if sigErr := t.SignalSlot(s, sig); sigErr != nil {
				err = multierr.Append(err, sigErr)
			}
		}
	}
	if err != nil {
		slog.Warn("legion: signal relay had failures", "signal", sig, "error", err)
	}
}

// reap drains the self-pipe's SIGCHLD backlog by repeatedly waitpid(-1,
// WNOHANG) until no child is reported (spec.md §4.2, §4.7 "Reap loop").
func (l *Legion) reap() {
	for {
		var ws syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &ws, syscall.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		l.mu.Lock()
		onExit := l.pidOwners[pid]
		delete(l.pidOwners, pid)
		l.mu.Unlock()

		if onExit != nil {
			onExit(ws)
		} else {
			slog.Warn("legion: reaped unowned pid", "pid", pid)
		}
	}
}

// registerPidOwner records the reap callback for a live child pid, so
// Legion.reap's blanket waitpid(-1, WNOHANG) dispatches its exit to exactly
// one handler regardless of whether the pid belongs to a task's
// proc_state or to a one-shot event command (spec.md §3: "every live
// child PID appears in ... exactly one entry in the Legion's
// pid→EventTarget map").
func (l *Legion) registerPidOwner(pid int, onExit func(syscall.WaitStatus)) {
	l.mu.Lock()
	l.pidOwners[pid] = onExit
	l.mu.Unlock()
}

// idlePass implements spec.md §4.7 step 6.
func (l *Legion) idlePass() time.Duration {
	l.lastIdlePass = time.Now()

	l.retryHTTPStartersLocked()

	if l.watchBundle != nil && l.watchBundle.mw != nil {
		l.watchBundle.mw.Scan()
	}

	if l.reloadPending.IsSet() {
		l.reloadPending.UnSet()
		if err := l.applyReload(); err != nil {
			slog.Error("legion: reload failed, keeping previous config", "error", err)
		}
	}

	next := longTimeout
	now := time.Now()
	for _, t := range l.Tasks() {
		hint := t.Manage(now, l.lookup)
		if hint > 0 && hint < next {
			next = hint
		}
		for _, s := range t.Slots() {
			if s.Live() {
				t, pid := t, s.Pid
				l.registerPidOwner(pid, func(ws syscall.WaitStatus) {
					t.Reap(pid, ws)
				})
			}
		}
		if t.ConsumeOnExitPending() {
			l.fireOnExit(t)
		}
	}
	l.pruneRemovedTasks()
	return next
}

func (l *Legion) pruneRemovedTasks() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for name, t := range l.tasks {
		if t.ReadyForRemoval() {
			delete(l.tasks, name)
		}
	}
}

// applyReload reloads the config and roles files and rebuilds the scoped
// task set (spec.md §4.9 `/manage/reload`, §7 ConfigLoad).
func (l *Legion) applyReload() error {
	doc, err := config.Load(l.configFile)
	if err != nil {
		return err
	}
	var roles *config.RolesSet
	if l.rolesFile != "" {
		roles, err = config.LoadRoles(l.rolesFile)
		if err != nil {
			return err
		}
	}

	l.mu.Lock()
	l.doc = doc
	l.roles = roles
	err = l.rebuildLocked()
	l.mu.Unlock()
	if err == nil {
		l.registerTaskWatches(l.watchBundle)
	}
	return err
}

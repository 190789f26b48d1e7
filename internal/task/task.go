package task

import (
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/tevino/abool"

	"github.com/akfullfo/taskforce/internal/config"
	"github.com/akfullfo/taskforce/internal/fmtctx"
	"github.com/akfullfo/taskforce/internal/procexec"
)

// Lookup resolves a task name to its current Task, used to check
// `requires` satisfaction without Task holding owning pointers to other
// Tasks (spec.md §9: "Task -> Legion is a weak reference ... handlers carry
// indices or names, not pointers").
type Lookup func(name string) (*Task, bool)

// Task is one configured unit of supervision (spec.md §3, §4.6).
type Task struct {
	Name string

	mu     sync.Mutex
	cfg    *config.TaskConfig // config_running
	events []EventBinding

	State State
	slots []*ProcessSlot

	StartingAt, StartedAt   time.Time
	SuspendedAt, StoppingAt time.Time
	TerminatedAt, KilledAt  time.Time
	StoppedAt               time.Time
	Limit                   time.Time // absolute expiry from time_limit

	dnr *abool.AtomicBool

	// ConfigPending holds a config change awaiting application on the next
	// idle pass (spec.md §5: durable state changes are applied by Manage on
	// the main loop, never from an HTTP worker goroutine directly).
	configPendingControl config.Control
	configPendingCount   int
	configPendingDirty   *abool.AtomicBool

	// onExitPending is set exactly once when all of the task's processes
	// have just exited, so the legion can fire `onexit` actions precisely
	// once per stop (spec.md §3 onexit).
	onExitPending bool

	context fmtctx.Context
}

// New constructs a Task bound to cfg, with context built from the merged
// document/task define and default layers (spec.md §3 "context").
func New(cfg *config.TaskConfig, baseCtx fmtctx.Context) *Task {
	t := &Task{
		Name:               cfg.Name,
		cfg:                cfg,
		events:             bindEvents(cfg.Events),
		State:              StateIdle,
		dnr:                abool.New(),
		configPendingDirty: abool.New(),
	}
	t.context = fmtctx.Merge(baseCtx, fmtctx.Context(cfg.Defaults), fmtctx.Context(cfg.Defines))
	t.context["Task_name"] = t.Name
	if d := cfg.TimeLimitDuration(); d > 0 {
		t.Limit = time.Now().Add(d)
	}
	t.ensureSlots(cfg.Count)
	return t
}

// Config returns the currently running configuration.
func (t *Task) Config() *config.TaskConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

// Slots returns a snapshot of the task's process slots.
func (t *Task) Slots() []*ProcessSlot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*ProcessSlot, len(t.slots))
	copy(out, t.slots)
	return out
}

// LiveCount reports how many slots currently hold a running process.
func (t *Task) LiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.slots {
		if s.Live() {
			n++
		}
	}
	return n
}

func (t *Task) ensureSlots(count int) {
	for len(t.slots) < count {
		t.slots = append(t.slots, &ProcessSlot{Index: len(t.slots)})
	}
}

// RequestControl sets a pending control mode to be applied on the next
// manage() tick (spec.md §5, §4.9 `/manage/control`). Returns false if the
// requested value equals the currently running control (a no-op).
func (t *Task) RequestControl(c config.Control) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cfg.Control == c {
		return false
	}
	t.configPendingControl = c
	t.configPendingDirty.Set()
	return true
}

// RequestCount sets a pending process count (spec.md §4.9 `/manage/count`).
func (t *Task) RequestCount(n int) (bool, error) {
	if n <= 0 {
		return false, fmt.Errorf("count must be positive")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cfg.Count == n {
		return false, nil
	}
	t.configPendingCount = n
	t.configPendingDirty.Set()
	return true, nil
}

// Requires returns the names this task depends on.
func (t *Task) Requires() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.cfg.Requires...)
}

// requirementsSatisfied reports whether every required task has started
// (or, for a `once` requirement, has stopped) (spec.md §3 invariants).
// Called from Manage with t.mu already held, so it reads t.cfg directly.
func (t *Task) requirementsSatisfied(lookup Lookup) bool {
	for _, name := range t.cfg.Requires {
		req, ok := lookup(name)
		if !ok {
			return false
		}
		req.mu.Lock()
		ok1 := req.cfg.Control == config.ControlOnce || req.cfg.Control == config.ControlEvent
		started := !req.StartedAt.IsZero()
		stopped := !req.StoppedAt.IsZero()
		req.mu.Unlock()
		if ok1 {
			if !stopped {
				return false
			}
		} else if !started {
			return false
		}
	}
	return true
}

// Manage converges the task's running state toward its configuration,
// implementing the state machine of spec.md §4.6. It returns a suggested
// next-timeout hint (zero means "no preference": the main loop keeps its
// default long timeout).
func (t *Task) Manage(now time.Time, lookup Lookup) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.applyPendingConfigLocked()

	if t.cfg.Control == config.ControlOff {
		return t.driveStopLocked(now)
	}
	if t.cfg.Control == config.ControlSuspend {
		return t.driveSuspendLocked(now)
	}

	if !t.Limit.IsZero() && now.After(t.Limit) && t.State == StateStarted {
		return t.driveStopLocked(now)
	}

	switch t.State {
	case StateIdle:
		return t.driveStartLocked(now, lookup)
	case StateStarting:
		return t.driveStartLocked(now, lookup)
	case StateStarted:
		return t.maintainLocked(now, lookup)
	case StateStopping:
		return t.driveStopLocked(now)
	case StateKilled:
		return t.driveStopLocked(now)
	case StateStopped:
		if t.cfg.Control == config.ControlOnce || t.cfg.Control == config.ControlEvent {
			return 0 // stays stopped until an onexit.start action resets it
		}
		if t.dnr.IsSet() {
			return 0
		}
		t.State = StateIdle
		return 0
	}
	return 0
}

func (t *Task) applyPendingConfigLocked() {
	if !t.configPendingDirty.IsSet() {
		return
	}
	if t.configPendingControl != "" {
		t.cfg.Control = t.configPendingControl
		t.configPendingControl = ""
	}
	if t.configPendingCount > 0 {
		t.cfg.Count = t.configPendingCount
		t.ensureSlots(t.cfg.Count)
		t.configPendingCount = 0
	}
	t.configPendingDirty.UnSet()
}

// driveStartLocked attempts to bring the task's configured process count up,
// honoring requires and once/event semantics.
func (t *Task) driveStartLocked(now time.Time, lookup Lookup) time.Duration {
	if !t.requirementsSatisfied(lookup) {
		return shortTimeout
	}
	if t.StartingAt.IsZero() {
		t.StartingAt = now
	}
	if d := t.cfg.StartDelayDuration(); d > 0 && now.Sub(t.StartingAt) < d {
		return shortTimeout
	}

	started := t.startEligibleSlotsLocked(now)

	if t.cfg.Control == config.ControlOnce {
		t.State = StateStopping
		t.StartedAt = now
		return 0
	}
	if t.cfg.Control == config.ControlEvent {
		t.State = StateStopped
		t.StartedAt = now
		t.StoppedAt = now
		return 0
	}
	if started || t.LiveCountLocked() >= t.cfg.Count {
		t.State = StateStarted
		if t.StartedAt.IsZero() {
			t.StartedAt = now
		}
	}
	return shortTimeout
}

// LiveCountLocked is LiveCount for callers already holding t.mu.
func (t *Task) LiveCountLocked() int {
	n := 0
	for _, s := range t.slots {
		if s.Live() {
			n++
		}
	}
	return n
}

func (t *Task) startEligibleSlotsLocked(now time.Time) bool {
	started := false
	t.ensureSlots(t.cfg.Count)
	for i := 0; i < t.cfg.Count; i++ {
		s := t.slots[i]
		if s.Live() || !s.backoffReady(now) {
			continue
		}
		argv, ok := t.cfg.Commands["start"]
		if !ok {
			slog.Warn("task has no start command, not started", "task", t.Name, "slot", i)
			continue
		}
		instance := uuid.NewV4()
		ctx := t.slotContextLocked(s)
		ctx["Task_instance"] = instance.String()
		spec, err := procexec.Resolve(argv, t.cfg.User, t.cfg.Group, t.cfg.Cwd, t.cfg.Procname, ctx)
		if err != nil {
			slog.Warn("task spawn validation failed", "task", t.Name, "slot", i, "error", err)
			continue
		}
		proc, err := procexec.Start(spec)
		if err != nil {
			slog.Warn("task spawn failed", "task", t.Name, "slot", i, "error", err)
			continue
		}
		s.occupy(proc)
		s.Instance = instance
		started = true
		slog.Info("task process started", "task", t.Name, "slot", i, "pid", proc.Pid)
	}
	return started
}

func (t *Task) slotContextLocked(s *ProcessSlot) fmtctx.Context {
	ctx := fmtctx.Merge(t.context)
	ctx["Task_pid"] = s.Pid
	ctx["Task_instance"] = s.Instance.String()
	return ctx
}

// maintainLocked handles the StateStarted steady state: shrinking count
// escalation and replacing exited slots within count (spec.md §4.6
// "Shrinking count").
func (t *Task) maintainLocked(now time.Time, lookup Lookup) time.Duration {
	for i, s := range t.slots {
		if i >= t.cfg.Count && s.Live() {
			t.escalateLocked(s, now)
		}
	}
	t.trimDrainedSlotsLocked()

	if t.LiveCountLocked() < t.cfg.Count {
		t.startEligibleSlotsLocked(now)
		return shortTimeout
	}
	return longTimeout
}

func (t *Task) escalateLocked(s *ProcessSlot, now time.Time) {
	if s.PendingSig == syscall.SIGTERM && now.Sub(s.Started) > SigtermEscalation*time.Second {
		s.signal(syscall.SIGKILL)
		return
	}
	if s.PendingSig == 0 {
		s.signal(syscall.SIGTERM)
	}
}

func (t *Task) trimDrainedSlotsLocked() {
	for len(t.slots) > t.cfg.Count {
		last := t.slots[len(t.slots)-1]
		if last.Live() {
			return
		}
		t.slots = t.slots[:len(t.slots)-1]
	}
}

// driveStopLocked moves every live slot through SIGTERM -> SIGKILL
// escalation and transitions to stopped once all slots are drained (spec.md
// §4.6, §5).
func (t *Task) driveStopLocked(now time.Time) time.Duration {
	if t.State == StateStopped && t.LiveCountLocked() == 0 {
		return 0 // already at rest; onexit has fired for this stop
	}
	if t.State != StateStopping && t.State != StateKilled {
		t.State = StateStopping
		t.StoppingAt = now
	}

	live := 0
	for _, s := range t.slots {
		if !s.Live() {
			continue
		}
		live++
		if t.State == StateKilled {
			s.signal(syscall.SIGKILL)
			continue
		}
		if s.PendingSig == 0 {
			t.sendStopSignalLocked(s)
		} else if now.Sub(t.StoppingAt) > SigtermEscalation*time.Second {
			t.State = StateKilled
			t.KilledAt = now
			s.signal(syscall.SIGKILL)
		}
	}

	if live == 0 {
		if t.State != StateStopped {
			t.State = StateStopped
			t.StoppedAt = now
			t.TerminatedAt = now
			t.onExitPending = true
		}
		return 0
	}
	return shortTimeout
}

// ConsumeOnExitPending reports whether the task's processes have just all
// exited since the last call, clearing the flag so the legion fires
// `onexit` actions exactly once per stop (spec.md §3 onexit).
func (t *Task) ConsumeOnExitPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := t.onExitPending
	t.onExitPending = false
	return v
}

func (t *Task) sendStopSignalLocked(s *ProcessSlot) {
	if b, ok := t.Binding(EventStop); ok && b.Kind == HandlerSignal {
		if sig, ok := lookupSignal(b.Signal); ok {
			s.signal(sig)
			return
		}
	}
	s.signal(syscall.SIGTERM)
}

// driveSuspendLocked drains running processes and leaves the task resident
// but idle (spec.md §4.6 `suspend`).
func (t *Task) driveSuspendLocked(now time.Time) time.Duration {
	if t.State == StateSuspended && t.LiveCountLocked() == 0 {
		return 0
	}
	if t.SuspendedAt.IsZero() {
		t.SuspendedAt = now
	}
	d := t.driveStopLocked(now)
	if t.State == StateStopped {
		t.State = StateSuspended
	}
	return d
}

// SignalSlot sends sig to s, used by the legion to relay an arbitrary
// task-declared signal (spec.md §4.2, §4.6 `signal` event handler).
func (t *Task) SignalSlot(s *ProcessSlot, sig syscall.Signal) error {
	return s.signal(sig)
}

// Reap records a reaped exit for the slot holding pid, returning true if a
// slot was found.
func (t *Task) Reap(pid int, ws syscall.WaitStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.slots {
		if s.Pid == pid {
			s.markExited(ws)
			return true
		}
	}
	return false
}

// MarkDoNotResuscitate flags the task to be dropped once stopped (spec.md
// §3: "dnr ∧ stopped ⇒ task is removed from the legion").
func (t *Task) MarkDoNotResuscitate() {
	t.dnr.Set()
}

// ReadyForRemoval reports whether the task may be dropped from the legion.
func (t *Task) ReadyForRemoval() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dnr.IsSet() && t.State == StateStopped
}

// ResetForOnExit restarts a `once`/`event` task from an onexit.start action
// (spec.md §3 `onexit`, §9 Open Question i: only valid against once/event
// targets; enforced by the caller before invoking this).
func (t *Task) ResetForOnExit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.State = StateIdle
	t.StartingAt = time.Time{}
	t.StartedAt = time.Time{}
	t.StoppedAt = time.Time{}
}

const (
	shortTimeout = 250 * time.Millisecond
	longTimeout  = 5 * time.Second
)

var signalNames = map[string]syscall.Signal{
	"HUP": syscall.SIGHUP, "SIGHUP": syscall.SIGHUP,
	"INT": syscall.SIGINT, "SIGINT": syscall.SIGINT,
	"TERM": syscall.SIGTERM, "SIGTERM": syscall.SIGTERM,
	"KILL": syscall.SIGKILL, "SIGKILL": syscall.SIGKILL,
	"USR1": syscall.SIGUSR1, "SIGUSR1": syscall.SIGUSR1,
	"USR2": syscall.SIGUSR2, "SIGUSR2": syscall.SIGUSR2,
	"QUIT": syscall.SIGQUIT, "SIGQUIT": syscall.SIGQUIT,
}

func lookupSignal(name string) (syscall.Signal, bool) {
	sig, ok := signalNames[name]
	return sig, ok
}

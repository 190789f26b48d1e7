package legion

import (
	"log/slog"
	"syscall"

	"github.com/akfullfo/taskforce/internal/config"
	"github.com/akfullfo/taskforce/internal/exitstatus"
	"github.com/akfullfo/taskforce/internal/procexec"
	"github.com/akfullfo/taskforce/internal/task"
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

func signalByName(name string) (syscall.Signal, bool) {
	sig, ok := signalNames[name]
	return sig, ok
}

// runOneShotCommand runs a named entry from the task's `commands` map as a
// one-shot child whose exit is just logged (spec.md §4.6 event handler
// kind `command: <name>`).
func (l *Legion) runOneShotCommand(t *task.Task, name string) {
	argv, ok := t.Config().Commands[name]
	if !ok || len(argv) == 0 {
		slog.Warn("legion: event command not found", "task", t.Name, "command", name)
		return
	}
	spec, err := procexec.Resolve(argv, t.Config().User, t.Config().Group, t.Config().Cwd, "", nil)
	if err != nil {
		slog.Warn("legion: event command validation failed", "task", t.Name, "command", name, "error", err)
		return
	}
	proc, err := procexec.Start(spec)
	if err != nil {
		slog.Warn("legion: event command spawn failed", "task", t.Name, "command", name, "error", err)
		return
	}
	// Routed through Legion.pidOwners/reap rather than a dedicated
	// proc.Wait() goroutine: this pid is still this process's direct
	// child, so the blanket waitpid(-1, WNOHANG) in Legion.reap would
	// otherwise reap it first and starve a separate Wait() call with
	// ECHILD (spec.md §3: every live child pid owns exactly one
	// pid→EventTarget entry).
	l.registerPidOwner(proc.Pid, func(ws syscall.WaitStatus) {
		slog.Info("legion: event command exited", "task", t.Name, "command", name, "status", exitstatus.Describe(ws))
	})
}

// fireOnExit runs t's `onexit` actions once all of its processes have
// exited (spec.md §3 onexit). Only `type: start` targeting a once/event
// task is defined; anything else is rejected by log-and-skip at runtime
// rather than at load time (spec.md §9 Open Question i).
func (l *Legion) fireOnExit(t *task.Task) {
	for _, oa := range t.Config().OnExit {
		if oa.Type != "start" {
			continue
		}
		target, ok := l.lookup(oa.Task)
		if !ok {
			slog.Warn("legion: onexit target not found", "task", t.Name, "target", oa.Task)
			continue
		}
		cfg := target.Config()
		if cfg.Control != config.ControlOnce && cfg.Control != config.ControlEvent {
			slog.Warn("legion: onexit start target is not once/event, skipped",
				"task", t.Name, "target", oa.Task, "control", cfg.Control)
			continue
		}
		target.ResetForOnExit()
		slog.Info("legion: onexit started target", "task", t.Name, "target", oa.Task)
	}
}

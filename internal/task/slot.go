package task

import (
	"os"
	"syscall"
	"time"

	uuid "github.com/satori/go.uuid"
	"go.uber.org/atomic"
)

// ProcessSlot is a fixed index within a task's process list; it holds one
// PID at a time, and persists across restarts so the back-off and restart
// counters survive the process that occupied it (spec.md §3 "Lifecycles").
type ProcessSlot struct {
	Index int

	proc     *os.Process
	Pid      int
	Instance uuid.UUID

	Started time.Time
	Exited  time.Time

	ExitStatus syscall.WaitStatus
	HasExited  bool

	NextSig    syscall.Signal
	PendingSig syscall.Signal

	Restarts atomic.Int64
}

// Live reports whether the slot currently holds a running process.
func (s *ProcessSlot) Live() bool {
	return s.Pid != 0
}

// occupy records a freshly started process in the slot. The caller sets
// Instance to the identity it passed to the process as Task_instance.
func (s *ProcessSlot) occupy(proc *os.Process) {
	if !s.Exited.IsZero() || s.HasExited {
		s.Restarts.Inc()
	}
	s.proc = proc
	s.Pid = proc.Pid
	s.Started = time.Now()
	s.Exited = time.Time{}
	s.HasExited = false
	s.NextSig = syscall.SIGTERM
	s.PendingSig = 0
}

// backoffReady reports whether enough time has passed since the slot's
// process last exited to attempt another start (spec.md §4.6: "Per-process
// restart back-off"). A zero Exited means the slot has never run and is
// always ready.
func (s *ProcessSlot) backoffReady(now time.Time) bool {
	if s.Exited.IsZero() {
		return true
	}
	if now.Before(s.Exited) {
		// Clock moved backward: restart the back-off window from now
		// (spec.md §9 Open Question iii). The slot is not started on
		// this check; it waits a full RestartBackoff from now.
		s.Exited = now
		return false
	}
	return now.Sub(s.Exited) >= RestartBackoff*time.Second
}

// markExited records a reaped exit.
func (s *ProcessSlot) markExited(ws syscall.WaitStatus) {
	s.Pid = 0
	s.proc = nil
	s.Exited = time.Now()
	s.ExitStatus = ws
	s.HasExited = true
}

// signal delivers sig to the slot's live process, recording it as the
// slot's pending signal.
func (s *ProcessSlot) signal(sig syscall.Signal) error {
	if s.proc == nil {
		return nil
	}
	s.PendingSig = sig
	return s.proc.Signal(sig)
}

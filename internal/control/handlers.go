package control

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/akfullfo/taskforce/internal/config"
	"github.com/akfullfo/taskforce/internal/exitstatus"
	"github.com/akfullfo/taskforce/internal/legion"
	"github.com/akfullfo/taskforce/internal/task"
)

// taskforceVersion is the daemon's self-reported version (spec.md §4.9
// `/status/version`).
const taskforceVersion = "1.0.0"

func versionBody() map[string]any {
	platform := map[string]any{"system": runtime.GOOS}
	return map[string]any{
		"taskforce": taskforceVersion,
		"platform":  platform,
	}
}

// processStatus is one slot's rendering in `/status/tasks` (spec.md §4.9).
type processStatus struct {
	Pid     int    `json:"pid,omitempty"`
	Started string `json:"started,omitempty"`
	Exited  string `json:"exited,omitempty"`
	Status  string `json:"status,omitempty"`
}

type taskStatus struct {
	Control   string          `json:"control"`
	Count     int             `json:"count"`
	State     string          `json:"state"`
	Processes []processStatus `json:"processes"`
}

func tasksBody(l *legion.Legion) map[string]taskStatus {
	out := make(map[string]taskStatus)
	for _, t := range l.Tasks() {
		cfg := t.Config()
		processes := make([]processStatus, 0)
		for _, s := range t.Slots() {
			if !s.Live() && !s.HasExited {
				continue
			}
			ps := processStatus{}
			if s.Live() {
				ps.Pid = s.Pid
				ps.Started = deltafmt(time.Since(s.Started))
			} else if s.HasExited {
				ps.Status = exitstatus.Describe(s.ExitStatus)
			}
			processes = append(processes, ps)
		}
		out[t.Name] = taskStatus{
			Control:   string(cfg.Control),
			Count:     cfg.Count,
			State:     t.State.String(),
			Processes: processes,
		}
	}
	return out
}

func configBody(l *legion.Legion) *config.Document {
	return l.Document()
}

// deltafmt renders a duration in the compact human-readable form described
// in SPEC_FULL.md §5 (grounded on the original `utils.py` duration
// formatting), e.g. "3h12m" rather than Go's default "3h12m0.001s".
func deltafmt(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	switch {
	case h > 0:
		return fmt.Sprintf("%dh%dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm%ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// controlHandler implements `/manage/control` (spec.md §4.9): for each
// `<taskname>=<control>` pair, change the task's pending control. 202 on
// change, 200 on no-op, 404 on error (unknown task or invalid value).
func controlHandler(l *legion.Legion) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := mergedParams(r)
		status := http.StatusOK
		var lines []string
		for name, value := range params {
			t, ok := findTask(l, name)
			if !ok {
				lines = append(lines, fmt.Sprintf("%s\tunknown task", name))
				status = http.StatusNotFound
				continue
			}
			switch config.Control(value) {
			case config.ControlOff, config.ControlWait, config.ControlNowait, config.ControlAdopt,
				config.ControlOnce, config.ControlEvent, config.ControlSuspend:
			default:
				lines = append(lines, fmt.Sprintf("%s\tinvalid control %q", name, value))
				status = http.StatusNotFound
				continue
			}
			changed := t.RequestControl(config.Control(value))
			if changed {
				lines = append(lines, fmt.Sprintf("%s\tchanged", name))
				if status == http.StatusOK {
					status = http.StatusAccepted
				}
			} else {
				lines = append(lines, fmt.Sprintf("%s\tno change", name))
			}
		}
		w.WriteHeader(status)
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
	}
}

// countHandler implements `/manage/count` analogously to controlHandler,
// rejecting non-positive counts.
func countHandler(l *legion.Legion) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := mergedParams(r)
		status := http.StatusOK
		var lines []string
		for name, value := range params {
			t, ok := findTask(l, name)
			if !ok {
				lines = append(lines, fmt.Sprintf("%s\tunknown task", name))
				status = http.StatusNotFound
				continue
			}
			n, err := parsePositiveInt(value)
			if err != nil {
				lines = append(lines, fmt.Sprintf("%s\t%v", name, err))
				status = http.StatusNotFound
				continue
			}
			changed, err := t.RequestCount(n)
			if err != nil {
				lines = append(lines, fmt.Sprintf("%s\t%v", name, err))
				status = http.StatusNotFound
				continue
			}
			if changed {
				lines = append(lines, fmt.Sprintf("%s\tchanged", name))
				if status == http.StatusOK {
					status = http.StatusAccepted
				}
			} else {
				lines = append(lines, fmt.Sprintf("%s\tno change", name))
			}
		}
		w.WriteHeader(status)
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
	}
}

func findTask(l *legion.Legion, name string) (*task.Task, bool) {
	for _, t := range l.Tasks() {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

func parsePositiveInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	if n <= 0 {
		return 0, fmt.Errorf("count must be positive")
	}
	return n, nil
}

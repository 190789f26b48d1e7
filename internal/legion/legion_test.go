package legion

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akfullfo/taskforce/internal/config"
	"github.com/akfullfo/taskforce/internal/task"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestNewBuildsScopedTaskList(t *testing.T) {
	path := writeConfig(t, `
tasks:
  db_server:
    roles: [backend]
    commands:
      start: ["/bin/true"]
  ws_server:
    roles: [frontend]
    commands:
      start: ["/bin/true"]
  firewall:
    commands:
      start: ["/bin/true"]
`)
	l, err := New(Options{ConfigFile: path})
	require.NoError(t, err)
	assert.Len(t, l.Tasks(), 3)
}

func TestNewFailsOnDependencyCycle(t *testing.T) {
	path := writeConfig(t, `
tasks:
  a:
    requires: [b]
    commands:
      start: ["/bin/true"]
  b:
    requires: [a]
    commands:
      start: ["/bin/true"]
`)
	_, err := New(Options{ConfigFile: path})
	assert.Error(t, err)
}

func writeRoles(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roles")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

// TestReloadDrainsTaskThatFallsOutOfRoleScope is the regression test for
// rebuildLocked carrying an already-running task over unconditionally
// (`if existing, ok := ...; next[name] = existing; continue`) without
// re-checking InScope, which left a task that fell out of scope on a roles
// change running forever instead of being driven through the stop path
// like an explicit `control: off` (spec.md §3 Roles set / Scope).
func TestReloadDrainsTaskThatFallsOutOfRoleScope(t *testing.T) {
	configPath := writeConfig(t, `
tasks:
  db_server:
    roles: [backend]
    commands:
      start: ["/bin/true"]
  ws_server:
    roles: [frontend]
    commands:
      start: ["/bin/true"]
`)
	rolesPath := writeRoles(t, "frontend\nbackend\n")

	l, err := New(Options{ConfigFile: configPath, RolesFile: rolesPath})
	require.NoError(t, err)
	require.Len(t, l.Tasks(), 2)

	// Drop "backend": db_server should no longer be in scope.
	require.NoError(t, os.WriteFile(rolesPath, []byte("frontend\n"), 0o644))
	require.NoError(t, l.applyReload())

	var dbServer, wsServer *task.Task
	for _, tk := range l.Tasks() {
		switch tk.Name {
		case "db_server":
			dbServer = tk
		case "ws_server":
			wsServer = tk
		}
	}
	require.NotNil(t, dbServer)
	require.NotNil(t, wsServer)

	// Drive one manage tick so the pending `off` control takes effect.
	dbServer.Manage(time.Now(), l.lookup)
	assert.Equal(t, config.ControlOff, dbServer.Config().Control)
	assert.NotEqual(t, config.ControlOff, wsServer.Config().Control)
}

func TestRequestExitSetsExitingFlag(t *testing.T) {
	path := writeConfig(t, "tasks: {}\n")
	l, err := New(Options{ConfigFile: path})
	require.NoError(t, err)
	assert.False(t, l.Exiting())
	l.RequestExit()
	assert.True(t, l.Exiting())
}

package legion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akfullfo/taskforce/internal/config"
	"github.com/akfullfo/taskforce/internal/fmtctx"
	"github.com/akfullfo/taskforce/internal/task"
)

func taskWithRequires(name string, requires ...string) *task.Task {
	cfg := &config.TaskConfig{
		Name:     name,
		Control:  config.ControlWait,
		Count:    1,
		Commands: map[string][]string{"start": {"/bin/true"}},
		Requires: requires,
	}
	return task.New(cfg, fmtctx.Context{})
}

func TestTopoSortOrdersRequirementsFirst(t *testing.T) {
	tasks := map[string]*task.Task{
		"a": taskWithRequires("a"),
		"b": taskWithRequires("b", "a"),
		"c": taskWithRequires("c", "b"),
	}
	order, err := topoSort(tasks)
	require.NoError(t, err)
	require.Equal(t, 3, len(order))

	pos := map[string]int{}
	for i, name := range order {
		pos[name] = i
	}
	assert.Less(t, pos["a"], pos["b"])
	assert.Less(t, pos["b"], pos["c"])
}

func TestTopoSortDetectsCycle(t *testing.T) {
	tasks := map[string]*task.Task{
		"a": taskWithRequires("a", "b"),
		"b": taskWithRequires("b", "a"),
	}
	_, err := topoSort(tasks)
	assert.Error(t, err)
}

package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akfullfo/taskforce/internal/config"
	"github.com/akfullfo/taskforce/internal/fmtctx"
)

func newTestTaskConfig(name string) *config.TaskConfig {
	tc := &config.TaskConfig{
		Name:     name,
		Control:  config.ControlWait,
		Count:    1,
		Commands: map[string][]string{"start": {"/bin/sleep", "30"}},
	}
	return tc
}

func noopLookup(string) (*Task, bool) { return nil, false }

func TestNewCreatesConfiguredSlotCount(t *testing.T) {
	cfg := newTestTaskConfig("t1")
	cfg.Count = 3
	tk := New(cfg, fmtctx.Context{})
	assert.Len(t, tk.Slots(), 3)
	assert.Equal(t, StateIdle, tk.State)
}

func TestRequestControlNoopWhenUnchanged(t *testing.T) {
	cfg := newTestTaskConfig("t2")
	tk := New(cfg, fmtctx.Context{})
	changed := tk.RequestControl(config.ControlWait)
	assert.False(t, changed)
}

func TestRequestControlAppliedOnNextManage(t *testing.T) {
	cfg := newTestTaskConfig("t3")
	cfg.Control = config.ControlWait
	tk := New(cfg, fmtctx.Context{})
	changed := tk.RequestControl(config.ControlOff)
	assert.True(t, changed)

	tk.Manage(time.Now(), noopLookup)
	assert.Equal(t, config.ControlOff, tk.Config().Control)
}

func TestRequestCountRejectsNonPositive(t *testing.T) {
	cfg := newTestTaskConfig("t4")
	tk := New(cfg, fmtctx.Context{})
	_, err := tk.RequestCount(0)
	assert.Error(t, err)
}

func TestRequestCountNoopWhenUnchanged(t *testing.T) {
	cfg := newTestTaskConfig("t5")
	tk := New(cfg, fmtctx.Context{})
	changed, err := tk.RequestCount(1)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRequirementsSatisfiedForNonOnceRequiresStarted(t *testing.T) {
	dep := New(newTestTaskConfig("dep"), fmtctx.Context{})
	main := newTestTaskConfig("main")
	main.Requires = []string{"dep"}
	mainTask := New(main, fmtctx.Context{})

	lookup := func(name string) (*Task, bool) {
		if name == "dep" {
			return dep, true
		}
		return nil, false
	}

	assert.False(t, mainTask.requirementsSatisfied(lookup))

	dep.StartedAt = time.Now()
	assert.True(t, mainTask.requirementsSatisfied(lookup))
}

func TestRequirementsSatisfiedForOnceRequiresStopped(t *testing.T) {
	depCfg := newTestTaskConfig("once-dep")
	depCfg.Control = config.ControlOnce
	dep := New(depCfg, fmtctx.Context{})

	main := newTestTaskConfig("main2")
	main.Requires = []string{"once-dep"}
	mainTask := New(main, fmtctx.Context{})

	lookup := func(name string) (*Task, bool) {
		if name == "once-dep" {
			return dep, true
		}
		return nil, false
	}

	dep.StartedAt = time.Now()
	assert.False(t, mainTask.requirementsSatisfied(lookup))

	dep.StoppedAt = time.Now()
	assert.True(t, mainTask.requirementsSatisfied(lookup))
}

func TestOffControlDrivesTaskToStopped(t *testing.T) {
	cfg := newTestTaskConfig("off-task")
	cfg.Control = config.ControlOff
	tk := New(cfg, fmtctx.Context{})
	tk.Manage(time.Now(), noopLookup)
	assert.Equal(t, StateStopped, tk.State)
}

func TestConsumeOnExitPendingFiresOnceOnStop(t *testing.T) {
	cfg := newTestTaskConfig("onexit-task")
	cfg.Control = config.ControlOff
	tk := New(cfg, fmtctx.Context{})

	tk.Manage(time.Now(), noopLookup)
	assert.Equal(t, StateStopped, tk.State)
	assert.True(t, tk.ConsumeOnExitPending())
	assert.False(t, tk.ConsumeOnExitPending())

	tk.Manage(time.Now(), noopLookup)
	assert.False(t, tk.ConsumeOnExitPending())
}

func TestMarkDoNotResuscitateReadyForRemovalOnceStopped(t *testing.T) {
	cfg := newTestTaskConfig("dnr-task")
	cfg.Control = config.ControlOff
	tk := New(cfg, fmtctx.Context{})
	tk.MarkDoNotResuscitate()
	assert.False(t, tk.ReadyForRemoval())
	tk.Manage(time.Now(), noopLookup)
	assert.True(t, tk.ReadyForRemoval())
}

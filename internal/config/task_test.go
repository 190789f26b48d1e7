package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaultsFillsControlAndCount(t *testing.T) {
	tc := &TaskConfig{Commands: map[string][]string{"start": {"/bin/true"}}}
	require.NoError(t, tc.applyDefaults())
	assert.Equal(t, ControlWait, tc.Control)
	assert.Equal(t, 1, tc.Count)
}

func TestApplyDefaultsRejectsUnknownControl(t *testing.T) {
	tc := &TaskConfig{Control: "bogus"}
	assert.Error(t, tc.applyDefaults())
}

func TestApplyDefaultsAllowsMissingStartCommand(t *testing.T) {
	// A missing commands.start is a per-task SpawnFailure (spec.md §7),
	// enforced in the task's start path, not a document-load error: one
	// misconfigured task must not block the rest of the legion from
	// loading or starting.
	tc := &TaskConfig{Control: ControlWait}
	assert.NoError(t, tc.applyDefaults())

	off := &TaskConfig{Control: ControlOff}
	assert.NoError(t, off.applyDefaults())
}

func TestApplyDefaultsValidatesOnExitTargetsStart(t *testing.T) {
	tc := &TaskConfig{
		Control:  ControlOnce,
		Commands: map[string][]string{"start": {"/bin/true"}},
		OnExit:   []OnExitAction{{Type: "delete", Task: "other"}},
	}
	assert.Error(t, tc.applyDefaults())
}

func TestInScopeWithNoRolesIsAlwaysInScope(t *testing.T) {
	tc := &TaskConfig{Control: ControlWait}
	assert.True(t, tc.InScope(nil))
}

func TestInScopeRespectsRolesSet(t *testing.T) {
	tc := &TaskConfig{Control: ControlWait, Roles: []string{"backend"}}
	rs := &RolesSet{roles: map[string]bool{"frontend": true}}
	assert.False(t, tc.InScope(rs))

	rs2 := &RolesSet{roles: map[string]bool{"backend": true}}
	assert.True(t, tc.InScope(rs2))
}

func TestInScopeOffControlIsNeverInScope(t *testing.T) {
	tc := &TaskConfig{Control: ControlOff}
	assert.False(t, tc.InScope(nil))
}

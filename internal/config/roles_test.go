package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roles.txt")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadRolesIgnoresBlankAndCommentLines(t *testing.T) {
	path := writeTempFile(t, "frontend\n\n# a comment\nbackend\n")
	rs, err := LoadRoles(path)
	require.NoError(t, err)
	assert.True(t, rs.Has("frontend"))
	assert.True(t, rs.Has("backend"))
	assert.False(t, rs.Has("other"))
}

func TestLoadRolesEmptyFileAdmitsOnlyRolelessTasks(t *testing.T) {
	path := writeTempFile(t, "")
	rs, err := LoadRoles(path)
	require.NoError(t, err)
	assert.False(t, rs.Unfiltered())
	assert.False(t, rs.Has("anything"))
}

func TestNilRolesSetIsUnfiltered(t *testing.T) {
	var rs *RolesSet
	assert.True(t, rs.Unfiltered())
	assert.True(t, rs.Has("anything"))
}

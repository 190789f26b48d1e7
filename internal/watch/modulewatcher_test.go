package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModuleWatcherAddPathsMapsChangeBackToName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watched.conf")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))

	fw, err := NewFileWatcher()
	require.NoError(t, err)
	defer fw.Close()

	mw := NewModuleWatcher(fw, nil)
	require.NoError(t, mw.AddPaths("httpd", []string{path}))

	require.NoError(t, os.WriteFile(path, []byte("b"), 0o644))

	changes := mw.Get(200*time.Millisecond, 0)
	require.Len(t, changes, 1)
	assert.Equal(t, "httpd", changes[0].Name)
	assert.Equal(t, []string{path}, changes[0].Changed)
}

func TestModuleWatcherAddFallsBackToWatchingNonPythonPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "httpd") // not a .py file, no import closure
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))

	fw, err := NewFileWatcher()
	require.NoError(t, err)
	defer fw.Close()

	mw := NewModuleWatcher(fw, nil)
	require.NoError(t, mw.Add("httpd", path))

	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho hi\n"), 0o755))

	changes := mw.Get(200*time.Millisecond, 0)
	require.Len(t, changes, 1)
	assert.Equal(t, "httpd", changes[0].Name)
	assert.Equal(t, path, changes[0].CommandPath)
}

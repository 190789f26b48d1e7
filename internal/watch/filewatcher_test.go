package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWatcherGetReportsChangeOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watched")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))

	fw, err := NewFileWatcher()
	require.NoError(t, err)
	defer fw.Close()

	require.NoError(t, fw.Add([]string{path}, false))

	require.NoError(t, os.WriteFile(path, []byte("b"), 0o644))

	changed := fw.Get(200*time.Millisecond, 0)
	assert.Equal(t, []string{path}, changed)

	// A second Get with no intervening change reports nothing: the
	// aggregation timeout must actually elapse and return, not hang
	// forever (the regression this test guards against).
	more := fw.Get(50*time.Millisecond, 0)
	assert.Nil(t, more)
}

func TestFileWatcherAddMissingPromotesOnScan(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "appears-later")

	fw, err := NewFileWatcher()
	require.NoError(t, err)
	defer fw.Close()

	require.NoError(t, fw.Add([]string{path}, true))

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	fw.Scan()

	changed := fw.Get(200*time.Millisecond, 0)
	assert.Equal(t, []string{path}, changed)
}

func TestFileWatcherCommitIsIdempotent(t *testing.T) {
	fw, err := NewFileWatcher()
	require.NoError(t, err)
	defer fw.Close()
	assert.NoError(t, fw.Commit())
	assert.NoError(t, fw.Commit())
}

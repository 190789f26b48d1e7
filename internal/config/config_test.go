package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestLoadRequiresTasksSection(t *testing.T) {
	path := writeConfig(t, "settings:\n  http: []\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadAppliesTaskDefaultsAndName(t *testing.T) {
	path := writeConfig(t, `
tasks:
  httpd:
    commands:
      start: ["/usr/sbin/httpd"]
`)
	doc, err := Load(path)
	require.NoError(t, err)
	require.Contains(t, doc.Tasks, "httpd")
	tc := doc.Tasks["httpd"]
	assert.Equal(t, "httpd", tc.Name)
	assert.Equal(t, ControlWait, tc.Control)
	assert.Equal(t, 1, tc.Count)
}

func TestLoadRejectsInvalidTask(t *testing.T) {
	path := writeConfig(t, `
tasks:
  bad:
    control: not-a-real-mode
    commands:
      start: ["/bin/true"]
`)
	_, err := Load(path)
	assert.Error(t, err)
}

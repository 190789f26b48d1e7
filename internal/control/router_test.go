package control

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akfullfo/taskforce/internal/legion"
)

func newTestLegion(t *testing.T) *legion.Legion {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
tasks:
  httpd:
    commands:
      start: ["/bin/true"]
`), 0o644))
	l, err := legion.New(legion.Options{ConfigFile: path})
	require.NoError(t, err)
	return l
}

func TestStatusVersionReturnsJSON(t *testing.T) {
	l := newTestLegion(t)
	router := newRouter(l, false)

	req := httptest.NewRequest(http.MethodGet, "/status/version", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "taskforce")
}

func TestManageControlForbiddenWithoutAllowControl(t *testing.T) {
	l := newTestLegion(t)
	router := newRouter(l, false)

	req := httptest.NewRequest(http.MethodPost, "/manage/control?httpd=off", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestManageControlAcceptedWhenAllowed(t *testing.T) {
	l := newTestLegion(t)
	router := newRouter(l, true)

	req := httptest.NewRequest(http.MethodPost, "/manage/control?httpd=off", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "httpd\tchanged")
}

func TestManageUnknownPathIsNotFound(t *testing.T) {
	l := newTestLegion(t)
	router := newRouter(l, true)

	req := httptest.NewRequest(http.MethodGet, "/manage/frobnicate", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

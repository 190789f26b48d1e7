package control

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/akfullfo/taskforce/internal/legion"
)

// newRouter builds the HTTP handler for one Service. Routing matches
// spec.md §4.9: handlers register by path, longest-prefix match wins (here,
// a fixed small route table makes that simply "registered path wins");
// `/manage/*` paths other than the five named actions respond 404, and any
// endpoint requiring control on a non-privileged listener responds 403.
func newRouter(l *legion.Legion, allowControl bool) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/status/version", jsonHandler(func(r *http.Request) (any, int) {
		return versionBody(), http.StatusOK
	}))
	mux.HandleFunc("/status/tasks", jsonHandler(func(r *http.Request) (any, int) {
		return tasksBody(l), http.StatusOK
	}))
	mux.HandleFunc("/status/config", jsonHandler(func(r *http.Request) (any, int) {
		return configBody(l), http.StatusOK
	}))

	mux.HandleFunc("/manage/control", requireControl(allowControl, controlHandler(l)))
	mux.HandleFunc("/manage/count", requireControl(allowControl, countHandler(l)))
	mux.HandleFunc("/manage/reload", requireControl(allowControl, actionHandler(func() { l.RequestReload() })))
	mux.HandleFunc("/manage/stop", requireControl(allowControl, actionHandler(func() { l.RequestExit() })))
	mux.HandleFunc("/manage/reset", requireControl(allowControl, actionHandler(func() { l.RequestReset() })))

	mux.HandleFunc("/manage/", notFound)

	return mux
}

func notFound(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "not found", http.StatusNotFound)
}

func requireControl(allowControl bool, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowControl {
			http.Error(w, "control not permitted on this listener", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func actionHandler(action func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		action()
		w.WriteHeader(http.StatusAccepted)
	}
}

// jsonHandler wraps fn, honoring the `indent` and `fmt` query parameters
// (spec.md §4.9: "JSON endpoints honor an indent query parameter and a fmt
// query parameter (only json currently accepted)").
func jsonHandler(fn func(r *http.Request) (any, int)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if f := r.URL.Query().Get("fmt"); f != "" && f != "json" {
			http.Error(w, fmt.Sprintf("unsupported fmt %q", f), http.StatusBadRequest)
			return
		}
		body, status := fn(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)

		enc := json.NewEncoder(w)
		if indent := r.URL.Query().Get("indent"); indent != "" {
			if n, err := strconv.Atoi(indent); err == nil && n >= 0 {
				enc.SetIndent("", strings.Repeat(" ", n))
			}
		}
		enc.Encode(body)
	}
}

// mergedParams reads `<task>=<value>` pairs from either the query string or
// an `application/x-www-form-urlencoded`/multipart POST body (spec.md §6
// "HTTP wire").
func mergedParams(r *http.Request) map[string]string {
	r.ParseMultipartForm(1 << 20)
	out := make(map[string]string)
	for k, v := range r.Form {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

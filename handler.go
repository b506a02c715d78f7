package gdexposure

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

func (app *App) setupRoute() {
	app.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, http.StatusOK, http.StatusText(http.StatusOK))
	})
	app.router.HandleFunc("/scan", app.handleScan).Methods(http.MethodPost)
}

func (app *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	app.router.ServeHTTP(w, r)
}

// handleScan triggers one scan run. It is intended to be hit by a
// scheduler (Cloud Scheduler, EventBridge Scheduler) on a fixed cadence.
func (app *App) handleScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slog.InfoContext(ctx, "received scan trigger",
		"method", coalesce(r.Method, "-"),
		"uri", coalesce(r.URL.String(), "-"),
		"forwarded_for", coalesce(r.Header.Get("X-Forwarded-For"), "-"),
	)
	defer r.Body.Close()
	opts := ScanOption{
		DryRun: r.URL.Query().Get("dry_run") == "true",
	}
	if err := app.Scan(ctx, opts); err != nil {
		slog.ErrorContext(ctx, "scan failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, http.StatusText(http.StatusInternalServerError))
		return
	}
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, http.StatusText(http.StatusOK))
}

func coalesce(strs ...string) string {
	for _, str := range strs {
		if str != "" {
			return str
		}
	}
	return ""
}

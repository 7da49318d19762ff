package handlers

import (
	"net/http"

	"github.com/nomis52/activityhost/buildinfo"
)

// HandleHealth is a simple health check handler that returns "ok".
// Build properties are reported in response headers.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	props := buildinfo.Get()
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("X-Build-Time", props.BuildTime)
	w.Header().Set("X-Git-Commit", props.GitCommit)
	w.Header().Set("X-Go-Version", props.GoVersion)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

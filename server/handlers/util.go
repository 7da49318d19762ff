package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/nomis52/activityhost/host"
	"github.com/nomis52/activityhost/lifecycle"
	"github.com/nomis52/activityhost/registry"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is returned when an error occurs.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// writeError maps host errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	var hookErr *lifecycle.HookError
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrDuplicate), errors.Is(err, lifecycle.ErrIllegalTransition):
		return http.StatusConflict
	case errors.Is(err, host.ErrUnknownType),
		errors.Is(err, host.ErrInvalidRequest),
		errors.Is(err, lifecycle.ErrInvalidConfiguration),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, host.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &hookErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decoding body: %v", errBadRequest, err)
	}
	return nil
}

// activityID resolves the {id} path value, which may be an ID or a name.
func activityID(r *http.Request, resolver ActivityResolver) (uuid.UUID, error) {
	return resolver.Resolve(r.PathValue("id"))
}

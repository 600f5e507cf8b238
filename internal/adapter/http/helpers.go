package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/heyitsaamir/conductor/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Status string `json:"status"`
}

var okResponse = statusResponse{Status: "ok"}

// readJSON decodes a size-limited JSON body into T. On failure it has
// already written the error response.
func readJSON[T any](w http.ResponseWriter, r *http.Request, bodyLimit int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	err := json.NewDecoder(r.Body).Decode(&v)
	if err == nil {
		return v, true
	}
	if tooLarge := (*http.MaxBytesError)(nil); errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
	} else {
		writeError(w, http.StatusBadRequest, "invalid request body")
	}
	return v, false
}

func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// requireField writes a 400 and returns false when value is empty.
func requireField(w http.ResponseWriter, value, fieldName string) bool {
	if value == "" {
		writeError(w, http.StatusBadRequest, fieldName+" is required")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// domainStatus maps workflow sentinels to HTTP statuses, first match wins.
var domainStatus = []struct {
	err    error
	status int
}{
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrValidation, http.StatusBadRequest},
	{domain.ErrConflict, http.StatusConflict},
	{domain.ErrStateExists, http.StatusConflict},
	{domain.ErrNestingDepth, http.StatusUnprocessableEntity},
}

// writeDomainError answers with the status for err. Not-found answers use
// notFoundMsg; unmapped errors are logged and hidden behind a 500.
func writeDomainError(w http.ResponseWriter, err error, notFoundMsg string) {
	for _, m := range domainStatus {
		if !errors.Is(err, m.err) {
			continue
		}
		switch m.status {
		case http.StatusNotFound:
			writeError(w, m.status, notFoundMsg)
		case http.StatusBadRequest:
			writeError(w, m.status, strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": "))
		default:
			writeError(w, m.status, err.Error())
		}
		return
	}
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmcleod/ironsession/key"
	"github.com/jmcleod/ironsession/storage"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, storage.ErrInvalidID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, key.ErrKeyUnavailable):
		writeError(w, http.StatusInternalServerError, "session key unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func csrfFailure(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusForbidden, "invalid CSRF token")
}

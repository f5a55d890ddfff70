package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/ironsession/csrf"
)

// GetToken returns the caller's CSRF token, starting a session if needed.
func (a *API) GetToken(w http.ResponseWriter, r *http.Request) {
	token, err := a.csrf.EnsureToken(w, r)
	if err != nil {
		a.logger.Error("issuing csrf token", "error", err)
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{
		Token:     token,
		FormField: a.csrf.FormField(),
		Header:    csrf.HeaderName,
	})
}

func (a *API) GetSession(w http.ResponseWriter, r *http.Request) {
	rec, err := a.csrf.Session(r)
	if err != nil {
		mapError(w, err)
		return
	}
	vars := rec.Vars.Map()
	delete(vars, a.csrf.TokenVar())
	writeJSON(w, http.StatusOK, SessionResponse{
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
		Variables: vars,
	})
}

// DeleteSession ends the caller's session and clears its cookie.
func (a *API) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := a.csrf.EndSession(w, r); err != nil {
		a.logger.Error("ending session", "error", err)
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) PutVariable(w http.ResponseWriter, r *http.Request) {
	name, ok := a.variableName(w, r)
	if !ok {
		return
	}
	var req PutVariableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := a.csrf.Session(r)
	if err != nil {
		mapError(w, err)
		return
	}
	if err := a.csrf.Store().SetVariable(r.Context(), rec, name, req.Value); err != nil {
		a.logger.Error("storing variable", "error", err)
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) DeleteVariable(w http.ResponseWriter, r *http.Request) {
	name, ok := a.variableName(w, r)
	if !ok {
		return
	}
	rec, err := a.csrf.Session(r)
	if err != nil {
		mapError(w, err)
		return
	}
	if _, found := a.csrf.Store().GetVariable(rec, name); !found {
		writeError(w, http.StatusNotFound, "variable not found")
		return
	}
	if err := a.csrf.Store().DeleteVariable(r.Context(), rec, name); err != nil {
		a.logger.Error("deleting variable", "error", err)
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// variableName reads the {name} parameter. The token variable is reserved.
func (a *API) variableName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := chi.URLParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "variable name is required")
		return "", false
	}
	if name == a.csrf.TokenVar() {
		writeError(w, http.StatusBadRequest, "variable is reserved")
		return "", false
	}
	return name, true
}

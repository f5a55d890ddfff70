// Package csrf issues, persists and verifies anti-forgery tokens. A token
// lives as a variable of the client's session; the session id travels in a
// cookie.
package csrf

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"html"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/jmcleod/ironsession/internal/util"
	"github.com/jmcleod/ironsession/session"
	"github.com/jmcleod/ironsession/storage"
)

const (
	DefaultTokenVar  = "csrftoken"
	DefaultFormField = "RandomToken"
	HeaderName       = "X-CSRF-Token"

	tokenBytes = 20
)

// Manager runs the token lifecycle for HTTP requests.
type Manager struct {
	store     *session.Store
	cookies   CookieGateway
	policy    Policy
	tokenVar  string
	formField string
	onFailure http.Handler
	logger    *slog.Logger
}

type Option func(*Manager)

func WithPolicy(p Policy) Option {
	return func(m *Manager) {
		m.policy = p
	}
}

// WithTokenVar sets the session variable that holds the token.
func WithTokenVar(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.tokenVar = name
		}
	}
}

// WithFormField sets the form field a submitted token is read from.
func WithFormField(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.formField = name
		}
	}
}

// WithFailureHandler replaces the default 403 response for rejected
// requests.
func WithFailureHandler(h http.Handler) Option {
	return func(m *Manager) {
		m.onFailure = h
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func NewManager(store *session.Store, cookies CookieGateway, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		cookies:   cookies,
		policy:    DefaultPolicy(),
		tokenVar:  DefaultTokenVar,
		formField: DefaultFormField,
		onFailure: http.HandlerFunc(defaultFailure),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "csrf")
	return m
}

func defaultFailure(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "invalid CSRF token", http.StatusForbidden)
}

func (m *Manager) Store() *session.Store {
	return m.store
}

func (m *Manager) FormField() string {
	return m.formField
}

func (m *Manager) TokenVar() string {
	return m.tokenVar
}

// requestState remembers a session issued earlier in the same request, since
// the new cookie only reaches the client with the response.
type requestState struct {
	sessionID string
}

type stateKey struct{}

func withState(ctx context.Context) context.Context {
	if _, ok := ctx.Value(stateKey{}).(*requestState); ok {
		return ctx
	}
	return context.WithValue(ctx, stateKey{}, &requestState{})
}

func stateFrom(ctx context.Context) *requestState {
	st, _ := ctx.Value(stateKey{}).(*requestState)
	return st
}

// SessionID resolves the client's session id: one issued earlier in this
// request wins over the cookie.
func (m *Manager) SessionID(r *http.Request) (string, bool) {
	if st := stateFrom(r.Context()); st != nil && st.sessionID != "" {
		return st.sessionID, true
	}
	return m.cookies.SessionID(r)
}

// lookup returns the live session for r, or nil when there is none.
func (m *Manager) lookup(r *http.Request) (*storage.Record, error) {
	id, ok := m.SessionID(r)
	if !ok {
		return nil, nil
	}
	rec, err := m.store.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// Session returns the client's live session or storage.ErrNotFound.
func (m *Manager) Session(r *http.Request) (*storage.Record, error) {
	rec, err := m.lookup(r)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}

// EnsureToken returns the session's token, creating the token, and the
// session and cookie if needed. Errors come only from the store or key.
func (m *Manager) EnsureToken(w http.ResponseWriter, r *http.Request) (string, error) {
	rec, err := m.lookup(r)
	if err != nil {
		return "", err
	}
	if rec != nil {
		if token, ok := m.store.GetVariable(rec, m.tokenVar); ok && token != "" {
			return token, nil
		}
		token, err := newToken()
		if err != nil {
			return "", err
		}
		if err := m.store.SetVariable(r.Context(), rec, m.tokenVar, token); err != nil {
			return "", fmt.Errorf("storing csrf token: %w", err)
		}
		m.logger.Debug("issued token for existing session")
		return token, nil
	}

	rec, err = m.store.Create(r.Context(), "", 0)
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	token, err := newToken()
	if err != nil {
		return "", err
	}
	if err := m.store.SetVariable(r.Context(), rec, m.tokenVar, token); err != nil {
		return "", fmt.Errorf("storing csrf token: %w", err)
	}
	if err := m.cookies.SetSessionID(w, r, rec.ID); err != nil {
		return "", fmt.Errorf("setting session cookie: %w", err)
	}
	if st := stateFrom(r.Context()); st != nil {
		st.sessionID = rec.ID
	}
	m.logger.Debug("issued token for new session")
	return token, nil
}

func newToken() (string, error) {
	return util.RandomHex(tokenBytes)
}

// Validate reports whether submitted equals the token stored in the
// client's session. Missing tokens, cookies or sessions never match.
func (m *Manager) Validate(r *http.Request, submitted string) bool {
	if submitted == "" {
		return false
	}
	rec, err := m.lookup(r)
	if err != nil {
		m.logger.Error("csrf session lookup failed", "error", err)
		return false
	}
	if rec == nil {
		return false
	}
	stored, ok := m.store.GetVariable(rec, m.tokenVar)
	if !ok || stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) == 1
}

// ValidateRequest validates the token submitted in the form field, falling
// back to the X-CSRF-Token header.
func (m *Manager) ValidateRequest(r *http.Request) bool {
	submitted := r.PostFormValue(m.formField)
	if submitted == "" {
		submitted = r.Header.Get(HeaderName)
	}
	return m.Validate(r, submitted)
}

// HiddenField renders a hidden form input carrying the session's token.
func (m *Manager) HiddenField(w http.ResponseWriter, r *http.Request) (template.HTML, error) {
	token, err := m.EnsureToken(w, r)
	if err != nil {
		return "", err
	}
	return template.HTML(`<input type="hidden" name="` + html.EscapeString(m.formField) +
		`" value="` + html.EscapeString(token) + `">`), nil
}

// Protected reports whether r is subject to CSRF checks under the policy.
func (m *Manager) Protected(r *http.Request) bool {
	return m.policy.Protected(r)
}

// EndSession deletes the client's session and clears its cookie.
func (m *Manager) EndSession(w http.ResponseWriter, r *http.Request) error {
	if id, ok := m.SessionID(r); ok {
		if err := m.store.Delete(r.Context(), id); err != nil {
			return err
		}
	}
	if st := stateFrom(r.Context()); st != nil {
		st.sessionID = ""
	}
	m.cookies.ClearSessionID(w, r)
	return nil
}

// Middleware installs per-request state and rejects state-changing
// requests to protected paths whose token does not validate.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return m.Protect(nil)(next)
}

// Protect is Middleware with a per-router failure response. A nil
// onFailure uses the manager's handler.
func (m *Manager) Protect(onFailure http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r = r.WithContext(withState(r.Context()))

			if safeMethod(r.Method) || !m.Protected(r) {
				next.ServeHTTP(w, r)
				return
			}
			if !m.ValidateRequest(r) {
				m.logger.Warn("rejected request with invalid csrf token", "method", r.Method, "path", r.URL.Path)
				fail := onFailure
				if fail == nil {
					fail = m.onFailure
				}
				fail.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

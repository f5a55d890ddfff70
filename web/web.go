// Package web serves a small HTML form protected by the CSRF manager. It is
// the reference integration for server-rendered pages.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/ironsession/csrf"
)

//go:embed templates/*.html
var content embed.FS

const (
	messageVar    = "message"
	maxMessageLen = 200
)

// Pages renders the demo form and accepts its submissions.
type Pages struct {
	csrf   *csrf.Manager
	tmpl   *template.Template
	logger *slog.Logger
}

type Option func(*Pages)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pages) {
		p.logger = logger
	}
}

func New(manager *csrf.Manager, opts ...Option) (*Pages, error) {
	tmpl, err := template.ParseFS(content, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("loading embedded templates: %w", err)
	}
	p := &Pages{csrf: manager, tmpl: tmpl, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "web")
	return p, nil
}

// Router serves GET / and POST /submit. Submissions without a valid token
// are rejected by the CSRF middleware.
func (p *Pages) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(p.csrf.Middleware)
	r.Get("/", p.form)
	r.Post("/submit", p.submit)
	return r
}

type formData struct {
	Field   template.HTML
	Action  string
	Message string
	MaxLen  int
}

func (p *Pages) form(w http.ResponseWriter, r *http.Request) {
	// The hidden field may set the session cookie, so it is built before
	// anything is written.
	field, err := p.csrf.HiddenField(w, r)
	if err != nil {
		p.logger.Error("building csrf field", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	data := formData{Field: field, Action: "/submit", MaxLen: maxMessageLen}
	if rec, err := p.csrf.Session(r); err == nil {
		data.Message, _ = p.csrf.Store().GetVariable(rec, messageVar)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := p.tmpl.ExecuteTemplate(w, "form.html", data); err != nil {
		p.logger.Error("rendering form", "error", err)
	}
}

func (p *Pages) submit(w http.ResponseWriter, r *http.Request) {
	msg := strings.TrimSpace(r.PostFormValue(messageVar))
	if len(msg) > maxMessageLen {
		http.Error(w, "message too long", http.StatusBadRequest)
		return
	}
	rec, err := p.csrf.Session(r)
	if err != nil {
		p.logger.Error("loading session", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := p.csrf.Store().SetVariable(r.Context(), rec, messageVar, msg); err != nil {
		p.logger.Error("storing message", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Package api exposes the session and CSRF token lifecycle as a small JSON
// API for script clients.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/ironsession/csrf"
)

// API serves the JSON endpoints over a csrf.Manager.
type API struct {
	csrf   *csrf.Manager
	logger *slog.Logger
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures optional API behaviour.
type Option func(*API)

// WithLogger sets the logger used for handler errors.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

func New(manager *csrf.Manager, opts ...Option) *API {
	a := &API{
		csrf:   manager,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "api")
	return a
}

// Router returns a chi router with every endpoint registered. Mount it
// under /api/v1.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(a.csrf.Protect(http.HandlerFunc(csrfFailure)))

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
		Title:   "ironsession API",
	}, nil))

	r.Get("/csrf", a.GetToken)
	r.Get("/session", a.GetSession)
	r.Delete("/session", a.DeleteSession)
	r.Put("/session/variables/{name}", a.PutVariable)
	r.Delete("/session/variables/{name}", a.DeleteVariable)

	return r
}

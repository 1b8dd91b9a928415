package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"afterimage/internal/platform/metrics"
	"afterimage/internal/platform/middleware"
	"afterimage/pkg/platform/httputil"
	"afterimage/pkg/platform/middleware/admin"
	"afterimage/pkg/platform/middleware/auth"
	"afterimage/pkg/platform/middleware/metadata"
	"afterimage/pkg/platform/middleware/requesttime"
)

// Registrar mounts a module's routes.
type Registrar interface {
	Register(r chi.Router)
}

// RegistrarFunc adapts a route-mounting function to Registrar.
type RegistrarFunc func(r chi.Router)

func (f RegistrarFunc) Register(r chi.Router) {
	f(r)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps are the pieces the router wires together.
type Deps struct {
	Logger    *slog.Logger
	Validator auth.JWTValidator
	// AdminToken, when set, additionally guards the operator routes.
	AdminToken string

	Decision Registrar
	Ledger   Registrar
	Audit    Registrar
	// Operator routes: full verification and replay.
	Operator []Registrar

	Health map[string]HealthCheck
}

// NewRouter wires every public endpoint. Everything except /health and
// /metrics requires a bearer token.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Logger(d.Logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", healthHandler(d.Health))
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(d.Validator, d.Logger))
		for _, reg := range []Registrar{d.Decision, d.Ledger, d.Audit} {
			if reg != nil {
				reg.Register(r)
			}
		}
		r.Group(func(r chi.Router) {
			if d.AdminToken != "" {
				r.Use(admin.RequireAdminToken(d.AdminToken, d.Logger))
			}
			for _, reg := range d.Operator {
				reg.Register(r)
			}
		})
	})
	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body[name] = err.Error()
				continue
			}
			body[name] = "ok"
		}
		httputil.WriteJSON(w, status, body)
	}
}

// Package router arma el árbol de rutas del gate sobre chi.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	gatectrl "github.com/dropDatabas3/portalgate/internal/http/controllers/gate"
	"github.com/dropDatabas3/portalgate/internal/http/controllers/health"
	httperrors "github.com/dropDatabas3/portalgate/internal/http/errors"
	mw "github.com/dropDatabas3/portalgate/internal/http/middlewares"
	"github.com/dropDatabas3/portalgate/internal/metrics"
)

// Deps contiene las dependencias del router.
type Deps struct {
	Gate   *gatectrl.Controller
	Health *health.HealthController

	// Metrics nil deshabilita /metrics y la instrumentación HTTP.
	Metrics *metrics.Metrics
	// RateLimiter nil deshabilita el rate limit de los POST.
	RateLimiter mw.RateLimiter
	CSRF        mw.CSRFConfig
	Security    mw.SecurityConfig
}

// New registra:
//
//	GET  /healthz, /metrics          infra, sin logging
//	GET  /, /apps                    páginas del gate
//	POST /logout, /retry, /debug, /debug/force
//	                                 mutan la sesión: rate limit + CSRF
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(mw.WithRecover(), mw.WithRequestID())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
	})

	if d.Health != nil {
		r.Get("/healthz", d.Health.Healthz)
		r.Head("/healthz", d.Health.Healthz)
	}
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	pages := mw.Stack{
		mw.WithLogging(),
		d.Metrics.Middleware,
		mw.WithSecurityHeaders(d.Security),
		mw.WithNoStore(),
	}
	actions := pages.With(
		mw.WithRateLimit(mw.RateLimitConfig{
			Limiter: d.RateLimiter,
			OnReject: func(req *http.Request) {
				d.Metrics.RecordRateReject(req.URL.Path)
			},
		}),
		mw.WithCSRF(d.CSRF),
	)

	r.With(pages.Funcs()...).Get("/", d.Gate.Gate)
	r.With(pages.Funcs()...).Get("/apps", d.Gate.Apps)

	r.Group(func(r chi.Router) {
		r.Use(actions.Funcs()...)
		r.Post("/logout", d.Gate.Logout)
		r.Post("/retry", d.Gate.Retry)
		r.Post("/debug", d.Gate.ToggleDebug)
		r.Post("/debug/force", d.Gate.ForceAccess)
	})
	return r
}

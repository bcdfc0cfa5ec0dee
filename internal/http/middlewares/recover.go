package middlewares

import (
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/dropDatabas3/portalgate/internal/http/errors"
	"github.com/dropDatabas3/portalgate/internal/observability/logger"
)

const panicPage = `<!doctype html><html lang="es"><head><meta charset="utf-8"><title>Error</title></head>` +
	`<body><h1>Error inesperado</h1><p>Volvé a intentar en unos segundos.</p><p><small>request id: %s</small></p></body></html>`

// WithRecover convierte un panic en un 500. Los navegadores reciben una página
// mínima con el request id; el resto (healthz, clientes de API) el AppError JSON.
func WithRecover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				// Recover corre por fuera de WithRequestID: el id se toma del header.
				rid := GetRequestID(r.Context())
				if rid == "" {
					rid = w.Header().Get("X-Request-ID")
				}
				logger.From(r.Context()).Error("panic recovered",
					logger.Op("recover"),
					logger.RequestID(rid),
					logger.String("path", r.URL.Path),
					logger.Any("panic", rec),
				)
				if wantsHTML(r) {
					w.Header().Set("Content-Type", "text/html; charset=utf-8")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = fmt.Fprintf(w, panicPage, html.EscapeString(rid))
					return
				}
				errors.WriteError(w, errors.ErrInternalServerError.WithDetail("panic recovered"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

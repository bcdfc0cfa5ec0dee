package middlewares

import (
	"net/http"
	"net/url"
	"strings"
)

// SecurityConfig ajusta las cabeceras de las páginas del gate.
type SecurityConfig struct {
	// PublicURL con esquema https habilita HSTS aunque el proxy no mande
	// X-Forwarded-Proto.
	PublicURL string
	// FormTargets son URLs a las que un POST del gate puede terminar
	// redirigiendo (ej. el sign-out del auth proxy). Su origen se agrega a
	// form-action; URLs relativas se ignoran.
	FormTargets []string
}

func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// origin retorna scheme://host de u, o "" si u no es absoluta.
func origin(u string) string {
	p, err := url.Parse(strings.TrimSpace(u))
	if err != nil || p.Scheme == "" || p.Host == "" {
		return ""
	}
	return p.Scheme + "://" + p.Host
}

// pageCSP: estilos inline de los templates, forms al mismo origen (más los
// destinos de redirect configurados) y ningún script.
func pageCSP(formTargets []string) string {
	formAction := []string{"'self'"}
	for _, t := range formTargets {
		if o := origin(t); o != "" {
			formAction = append(formAction, o)
		}
	}
	return strings.Join([]string{
		"default-src 'none'",
		"style-src 'unsafe-inline'",
		"img-src 'self' data:",
		"form-action " + strings.Join(formAction, " "),
		"frame-ancestors 'none'",
		"base-uri 'none'",
	}, "; ")
}

// WithSecurityHeaders agrega las cabeceras de seguridad de las páginas del gate.
func WithSecurityHeaders(cfg SecurityConfig) Middleware {
	csp := pageCSP(cfg.FormTargets)
	forceHSTS := strings.HasPrefix(strings.ToLower(cfg.PublicURL), "https://")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Content-Security-Policy", csp)
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Cross-Origin-Opener-Policy", "same-origin")
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			if forceHSTS || isHTTPS(r) {
				h.Set("Strict-Transport-Security", "max-age=15552000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/portalgate/internal/observability/logger"
	"go.uber.org/zap"
)

// parseSameSite convierte el string de config a http.SameSite.
// Acepta: "", "lax", "strict", "none" (case-insensitive). Default: Lax.
func parseSameSite(s string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lax":
		return http.SameSiteLaxMode
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		logger.L().Warn("cookie: SameSite desconocido, usando Lax", zap.String("same_site", s))
		return http.SameSiteLaxMode
	}
}

// BuildSessionCookie construye la cookie de sesión (HttpOnly, Path=/).
// Expires y Max-Age siguen a ttl; domain vacío no se setea.
func BuildSessionCookie(name, value, domain, sameSite string, secure bool, ttl time.Duration) *http.Cookie {
	ss := parseSameSite(sameSite)
	if ss == http.SameSiteNoneMode && !secure {
		logger.L().Warn("cookie: SameSite=None sin Secure; algunos navegadores pueden rechazar la cookie",
			zap.String("domain", domain))
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   domain,
		Expires:  time.Now().UTC().Add(ttl),
		MaxAge:   int(ttl.Seconds()),
		Secure:   secure,
		HttpOnly: true,
		SameSite: ss,
	}
}

// BuildDeletionCookie devuelve una cookie que borra la sesión del navegador.
// Usa mismo nombre/domain/samesite/secure para que el user-agent la sobreescriba.
func BuildDeletionCookie(name, domain, sameSite string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   domain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		Secure:   secure,
		HttpOnly: true,
		SameSite: parseSameSite(sameSite),
	}
}

package middlewares

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/portalgate/internal/http/errors"
)

// Nombres por defecto del double-submit.
const (
	DefaultCSRFCookie = "portalgate_csrf"
	DefaultCSRFField  = "csrf_token"
	DefaultCSRFHeader = "X-CSRF-Token"
)

// CSRFConfig configura el middleware CSRF.
type CSRFConfig struct {
	HeaderName string
	CookieName string
	FieldName  string
	Secure     bool
}

func (c CSRFConfig) normalized() CSRFConfig {
	if strings.TrimSpace(c.HeaderName) == "" {
		c.HeaderName = DefaultCSRFHeader
	}
	if strings.TrimSpace(c.CookieName) == "" {
		c.CookieName = DefaultCSRFCookie
	}
	if strings.TrimSpace(c.FieldName) == "" {
		c.FieldName = DefaultCSRFField
	}
	return c
}

// WithCSRF exige double-submit en métodos inseguros: el valor de la cookie
// debe llegar también en el header o en el campo del form.
func WithCSRF(cfg CSRFConfig) Middleware {
	cfg = cfg.normalized()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			sent := strings.TrimSpace(r.Header.Get(cfg.HeaderName))
			if sent == "" {
				sent = strings.TrimSpace(r.PostFormValue(cfg.FieldName))
			}
			ck, _ := r.Cookie(cfg.CookieName)
			if sent == "" || ck == nil || ck.Value == "" || subtle.ConstantTimeCompare([]byte(sent), []byte(ck.Value)) != 1 {
				errors.WriteError(w, errors.ErrInvalidCSRF)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CSRFToken devuelve el token vigente del navegador o emite uno nuevo
// (cookie no HttpOnly, SameSite=Strict) para incrustar en los forms.
func CSRFToken(w http.ResponseWriter, r *http.Request, cfg CSRFConfig) string {
	cfg = cfg.normalized()
	if ck, err := r.Cookie(cfg.CookieName); err == nil && len(ck.Value) == 64 {
		return ck.Value
	}
	var b [32]byte
	_, _ = rand.Read(b[:])
	tok := hex.EncodeToString(b[:])
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.CookieName,
		Value:    tok,
		Path:     "/",
		HttpOnly: false,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(12 * time.Hour).UTC(),
	})
	return tok
}

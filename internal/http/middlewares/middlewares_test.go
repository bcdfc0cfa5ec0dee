package middlewares

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/portalgate/internal/rate"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestChain_Order(t *testing.T) {
	var order []string
	mk := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	Chain(okHandler, mk("a"), mk("b"), mk("c")).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestWithRequestID(t *testing.T) {
	var seen string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}), WithRequestID())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Len(t, seen, 36)
	require.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "upstream-1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "upstream-1", seen)
}

func TestStack_WithDoesNotMutate(t *testing.T) {
	var order []string
	mk := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	base := Stack{mk("page")}
	actions := base.With(nil, mk("csrf"))
	require.Len(t, base, 1)
	require.Len(t, actions, 2)
	require.Len(t, actions.Funcs(), 2)

	actions.Then(okHandler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, []string{"page", "csrf"}, order)
}

func TestWithRecover(t *testing.T) {
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("x") }), WithRecover(), WithRequestID())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "INTERNAL_SERVER_ERROR")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("X-Request-ID", "rid-<b>")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	require.Contains(t, rec.Body.String(), "rid-&lt;b&gt;")
}

func TestWithSecurityHeaders_HSTSOnlyOnHTTPS(t *testing.T) {
	h := Chain(okHandler, WithSecurityHeaders(SecurityConfig{}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Empty(t, rec.Header().Get("Strict-Transport-Security"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))

	rec = httptest.NewRecorder()
	Chain(okHandler, WithSecurityHeaders(SecurityConfig{PublicURL: "https://portal.example.com"})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestWithSecurityHeaders_FormActionIncludesTargets(t *testing.T) {
	h := Chain(okHandler, WithSecurityHeaders(SecurityConfig{
		FormTargets: []string{"https://auth.example.com/oauth2/sign_out?rd=x", "/relative", ""},
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	csp := rec.Header().Get("Content-Security-Policy")
	require.Contains(t, csp, "form-action 'self' https://auth.example.com;")
	require.NotContains(t, csp, "/relative")
	require.Contains(t, csp, "default-src 'none'")
}

func TestWithNoStore(t *testing.T) {
	rec := httptest.NewRecorder()
	Chain(okHandler, WithNoStore()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	require.Equal(t, "Cookie", rec.Header().Get("Vary"))
}

func TestWithRateLimit(t *testing.T) {
	rejected := 0
	calls := 0
	lim := limiterFunc(func(ctx context.Context, key string) (rate.Result, error) {
		calls++
		if calls > 1 {
			return rate.Result{Allowed: false, RetryAfter: 5 * time.Second}, nil
		}
		return rate.Result{Allowed: true, Remaining: 0}, nil
	})
	h := Chain(okHandler, WithRateLimit(RateLimitConfig{Limiter: lim, OnReject: func(*http.Request) { rejected++ }}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/logout", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/logout", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "5", rec.Header().Get("Retry-After"))
	require.Equal(t, 1, rejected)
}

func TestWithRateLimit_LimiterErrorLetsThrough(t *testing.T) {
	lim := limiterFunc(func(context.Context, string) (rate.Result, error) { return rate.Result{}, errors.New("redis down") })
	rec := httptest.NewRecorder()
	Chain(okHandler, WithRateLimit(RateLimitConfig{Limiter: lim})).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestWithCSRF(t *testing.T) {
	h := Chain(okHandler, WithCSRF(CSRFConfig{}))

	// GET pasa siempre
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	// POST sin token
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/logout", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	// POST con form + cookie iguales
	issue := httptest.NewRecorder()
	tok := CSRFToken(issue, httptest.NewRequest(http.MethodGet, "/", nil), CSRFConfig{})
	form := url.Values{DefaultCSRFField: {tok}}
	req := httptest.NewRequest(http.MethodPost, "/logout", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: DefaultCSRFCookie, Value: tok})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// header distinto a la cookie
	req = httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.Header.Set(DefaultCSRFHeader, "other")
	req.AddCookie(&http.Cookie{Name: DefaultCSRFCookie, Value: tok})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCSRFToken_ReusesCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	existing := strings.Repeat("a", 64)
	req.AddCookie(&http.Cookie{Name: DefaultCSRFCookie, Value: existing})
	rec := httptest.NewRecorder()
	require.Equal(t, existing, CSRFToken(rec, req, CSRFConfig{}))
	require.Empty(t, rec.Result().Cookies())
}

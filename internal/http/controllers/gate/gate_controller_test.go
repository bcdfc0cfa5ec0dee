package gate

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

	"github.com/dropDatabas3/portalgate/internal/cache"
	"github.com/dropDatabas3/portalgate/internal/gate"
	"github.com/dropDatabas3/portalgate/internal/http/pages"
	"github.com/dropDatabas3/portalgate/internal/secrets"
	"github.com/dropDatabas3/portalgate/internal/session"
	"github.com/dropDatabas3/portalgate/internal/widget"
)

const emailHeader = "X-Forwarded-Email"

func validSnapshot(extra map[string]any) *secrets.Section {
	auth := map[string]any{
		"client_id":              "cid",
		"client_secret":          "csecret",
		"redirect_uri":           "https://portal.example.com/oauth2callback",
		"metadata_discovery_url": "https://accounts.example.com/.well-known/openid-configuration",
		"cookie_secret":          "0123456789abcdef0123456789abcdef",
	}
	for k, v := range extra {
		auth[k] = v
	}
	return secrets.FromMap(map[string]any{
		"auth": auth,
		"apps": []any{
			map[string]any{"title": "Reportes", "href": "https://reports.example.com"},
		},
	})
}

type logins struct{ n int }

func (l *logins) RecordLogin(string, bool) { l.n++ }

type fixture struct {
	ctrl    *Controller
	trigger *widget.Trigger
	logins  *logins
	src     *secrets.Static
}

func newFixture(t *testing.T, snap *secrets.Section, allowDebug bool) *fixture {
	t.Helper()
	return newFixtureWithCache(t, snap, allowDebug, cache.NewMemory(cache.Config{}))
}

func newFixtureWithCache(t *testing.T, snap *secrets.Section, allowDebug bool, c cache.Client) *fixture {
	t.Helper()
	trig, err := widget.NewTrigger("/oauth2/start")
	require.NoError(t, err)
	trig.WithLoopGuard(widget.NewLoopGuard(time.Minute, 2))
	src := &secrets.Static{Root: snap}
	l := &logins{}
	ctrl := NewController(Deps{
		Machine:     gate.New(gate.Options{AllowDebug: allowDebug}),
		Secrets:     src,
		Sessions:    session.NewStore(c, session.CookieConfig{}),
		Widget:      widget.Chain{widget.HeaderSource{}},
		Trigger:     trig,
		Pages:       pages.MustNew(),
		Logins:      l,
		PublicURL:   "https://portal.example.com",
		TokenCookie: widget.DefaultTokenCookie,
		AllowDebug:  allowDebug,
	})
	return &fixture{ctrl: ctrl, trigger: trig, logins: l, src: src}
}

// browser arrastra las cookies entre requests.
type browser struct {
	cookies map[string]*http.Cookie
	email   string
}

func newBrowser(email string) *browser { return &browser{cookies: map[string]*http.Cookie{}, email: email} }

func (b *browser) do(h http.HandlerFunc, method, path string, form url.Values) *httptest.ResponseRecorder {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if b.email != "" {
		req.Header.Set(emailHeader, b.email)
	}
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c
	}
	return rec
}

func TestGate_RedirectsOnceThenManualLink(t *testing.T) {
	f := newFixture(t, validSnapshot(nil), false)
	b := newBrowser("ana@example.com")

	rec := b.do(f.ctrl.Gate, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, gate.DefaultLanding, rec.Header().Get("Location"))

	rec = b.do(f.ctrl.Gate, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `href="/apps"`)
}

func TestGate_NoIdentityTriggersLogin(t *testing.T) {
	f := newFixture(t, validSnapshot(nil), false)
	b := newBrowser("")

	rec := b.do(f.ctrl.Gate, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/oauth2/start", loc.Path)
	require.Equal(t, "root-block", loc.Query().Get("provider"))
	require.Equal(t, "https://portal.example.com/", loc.Query().Get("rd"))
	require.EqualValues(t, 1, f.trigger.Invocations())
	require.Equal(t, 1, f.logins.n)

	ck := b.cookies[session.DefaultCookieName]
	require.NotNil(t, ck)
	require.Equal(t, int(session.DefaultPendingTTL.Seconds()), ck.MaxAge)
}

func TestGate_LoginLoopIsThrottled(t *testing.T) {
	f := newFixture(t, validSnapshot(nil), false)
	b := newBrowser("")

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusFound, b.do(f.ctrl.Gate, http.MethodGet, "/", nil).Code)
	}
	rec := b.do(f.ctrl.Gate, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "/oauth2/start?")
	require.EqualValues(t, 2, f.trigger.Invocations())
}

func TestGate_ConfigInvalid(t *testing.T) {
	f := newFixture(t, secrets.FromMap(map[string]any{"auth": map[string]any{"client_id": "x"}}), false)
	rec := newBrowser("ana@example.com").do(f.ctrl.Gate, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "client_secret")
	require.Zero(t, f.trigger.Invocations())
}

func TestGate_SnapshotErrorIsConfigInvalid(t *testing.T) {
	f := newFixture(t, nil, false)
	f.src.Err = errors.New("file gone")
	rec := newBrowser("ana@example.com").do(f.ctrl.Gate, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGate_Denied(t *testing.T) {
	f := newFixture(t, validSnapshot(map[string]any{"allowed_domains": []any{"example.com"}}), false)
	rec := newBrowser("eve@other.org").do(f.ctrl.Gate, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), "eve@other.org")
}

func TestGate_InvalidLandingDegradesToManualPage(t *testing.T) {
	snap := validSnapshot(nil)
	snap.Put("app", secrets.FromMap(map[string]any{"landing_url": "javascript:alert(1)"}))
	f := newFixture(t, snap, false)
	rec := newBrowser("ana@example.com").do(f.ctrl.Gate, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "javascript:")
}

func TestLogoutResetsRedirect(t *testing.T) {
	f := newFixture(t, validSnapshot(nil), false)
	b := newBrowser("ana@example.com")

	require.Equal(t, http.StatusSeeOther, b.do(f.ctrl.Gate, http.MethodGet, "/", nil).Code)
	rec := b.do(f.ctrl.Logout, http.MethodPost, "/logout", url.Values{})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/", rec.Header().Get("Location"))
	require.Empty(t, b.cookies[session.DefaultCookieName])

	// Sesión nueva: vuelve a redirigir una vez.
	require.Equal(t, http.StatusSeeOther, b.do(f.ctrl.Gate, http.MethodGet, "/", nil).Code)
}

type brokenDelete struct{ cache.Client }

func (brokenDelete) Delete(context.Context, string) error { return errors.New("delete failed") }

func TestLogoutResetsRedirect_DeleteFails(t *testing.T) {
	f := newFixtureWithCache(t, validSnapshot(nil), false, brokenDelete{cache.NewMemory(cache.Config{})})
	b := newBrowser("ana@example.com")

	require.Equal(t, http.StatusSeeOther, b.do(f.ctrl.Gate, http.MethodGet, "/", nil).Code)
	old := b.cookies[session.DefaultCookieName]
	require.NotNil(t, old)

	rec := b.do(f.ctrl.Logout, http.MethodPost, "/logout", url.Values{})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Empty(t, b.cookies[session.DefaultCookieName])

	require.Equal(t, http.StatusSeeOther, b.do(f.ctrl.Gate, http.MethodGet, "/", nil).Code)

	// Un navegador que ignora el borrado y reenvía el id viejo tampoco
	// conserva redirected_once.
	f2 := newFixtureWithCache(t, validSnapshot(nil), false, brokenDelete{cache.NewMemory(cache.Config{})})
	b2 := newBrowser("ana@example.com")
	require.Equal(t, http.StatusSeeOther, b2.do(f2.ctrl.Gate, http.MethodGet, "/", nil).Code)
	stale := b2.cookies[session.DefaultCookieName]
	b2.do(f2.ctrl.Logout, http.MethodPost, "/logout", url.Values{})
	b2.cookies[session.DefaultCookieName] = stale
	require.Equal(t, http.StatusSeeOther, b2.do(f2.ctrl.Gate, http.MethodGet, "/", nil).Code)
}

func TestRetryClearsSession(t *testing.T) {
	f := newFixture(t, validSnapshot(nil), false)
	b := newBrowser("ana@example.com")

	require.Equal(t, http.StatusSeeOther, b.do(f.ctrl.Gate, http.MethodGet, "/", nil).Code)
	require.Equal(t, http.StatusSeeOther, b.do(f.ctrl.Retry, http.MethodPost, "/retry", url.Values{}).Code)
	require.Equal(t, http.StatusSeeOther, b.do(f.ctrl.Gate, http.MethodGet, "/", nil).Code)
}

func TestApps(t *testing.T) {
	f := newFixture(t, validSnapshot(nil), false)

	rec := newBrowser("ana@example.com").do(f.ctrl.Apps, http.MethodGet, "/apps", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `href="https://reports.example.com"`)

	rec = newBrowser("").do(f.ctrl.Apps, http.MethodGet, "/apps", nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Zero(t, f.trigger.Invocations())
}

func TestApps_DoesNotConsumeRedirect(t *testing.T) {
	f := newFixture(t, validSnapshot(nil), false)
	b := newBrowser("ana@example.com")
	require.Equal(t, http.StatusOK, b.do(f.ctrl.Apps, http.MethodGet, "/apps", nil).Code)
	require.Equal(t, http.StatusSeeOther, b.do(f.ctrl.Gate, http.MethodGet, "/", nil).Code)
}

func TestDebugRoutes(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, validSnapshot(nil), false)
		rec := newBrowser("").do(f.ctrl.ToggleDebug, http.MethodPost, "/debug", url.Values{})
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("debug page then force", func(t *testing.T) {
		f := newFixture(t, validSnapshot(nil), true)
		b := newBrowser("")

		require.Equal(t, http.StatusSeeOther, b.do(f.ctrl.ToggleDebug, http.MethodPost, "/debug", url.Values{}).Code)
		rec := b.do(f.ctrl.Gate, http.MethodGet, "/", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), "***HIDDEN***")
		require.NotContains(t, rec.Body.String(), "csecret")

		require.Equal(t, http.StatusSeeOther, b.do(f.ctrl.ForceAccess, http.MethodPost, "/debug/force", url.Values{}).Code)
		rec = b.do(f.ctrl.Gate, http.MethodGet, "/", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), "Acceso forzado")
		require.Zero(t, f.trigger.Invocations())
	})
}

func TestValidTarget(t *testing.T) {
	for target, want := range map[string]bool{
		"/apps":                 true,
		"https://x.example.com": true,
		"http://x.example.com/": true,
		"//evil.com":            false,
		"javascript:alert(1)":   false,
		"":                      false,
		"/a\\b":                 false,
		"https://":              false,
	} {
		require.Equal(t, want, ValidTarget(target), target)
	}
}

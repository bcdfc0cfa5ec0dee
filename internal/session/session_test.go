package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dropDatabas3/portalgate/internal/cache"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return NewStore(cache.NewMemory(cache.Config{}), CookieConfig{Name: "gs", TTL: time.Hour})
}

func cookieFrom(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %q not set", name)
	return nil
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore()

	s, err := st.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.True(t, s.IsNew())
	require.False(t, s.GetBool(KeyRedirectedOnce))

	s.SetBool(KeyRedirectedOnce, true)
	s.Set("user_email", "a@x.org")
	rec := httptest.NewRecorder()
	require.NoError(t, st.Save(ctx, rec, s))

	ck := cookieFrom(t, rec, "gs")
	require.Equal(t, s.ID(), ck.Value)
	require.True(t, ck.HttpOnly)
	require.Equal(t, http.SameSiteLaxMode, ck.SameSite)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(ck)
	again, err := st.Load(ctx, req)
	require.NoError(t, err)
	require.False(t, again.IsNew())
	require.True(t, again.GetBool(KeyRedirectedOnce))
	v, ok := again.Get("user_email")
	require.True(t, ok)
	require.Equal(t, "a@x.org", v)
	require.Equal(t, []string{"redirected_once", "user_email"}, again.Keys())
}

func TestStore_UnknownCookieStartsFresh(t *testing.T) {
	st := newTestStore()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "gs", Value: "forged"})
	s, err := st.Load(context.Background(), req)
	require.NoError(t, err)
	require.True(t, s.IsNew())
	require.NotEqual(t, "forged", s.ID())
}

func TestStore_Destroy(t *testing.T) {
	ctx := context.Background()
	st := newTestStore()
	s, _ := st.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	s.SetBool(KeyRedirectedOnce, true)
	require.NoError(t, st.Save(ctx, nil, s))

	rec := httptest.NewRecorder()
	require.NoError(t, st.Destroy(ctx, rec, s))
	require.Empty(t, s.Keys())

	del := cookieFrom(t, rec, "gs")
	require.Equal(t, -1, del.MaxAge)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "gs", Value: s.ID()})
	after, err := st.Load(ctx, req)
	require.NoError(t, err)
	require.True(t, after.IsNew())
	require.False(t, after.GetBool(KeyRedirectedOnce))
}

// failingDelete es un cache cuyo Delete falla siempre.
type failingDelete struct {
	cache.Client
	setErr error
}

func (f failingDelete) Delete(context.Context, string) error { return errors.New("backend down") }

func (f failingDelete) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.Client.Set(ctx, key, value, ttl)
}

func TestStore_DestroyWhenDeleteFails(t *testing.T) {
	ctx := context.Background()
	st := NewStore(failingDelete{Client: cache.NewMemory(cache.Config{})}, CookieConfig{Name: "gs", TTL: time.Hour})
	s, _ := st.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	s.SetBool(KeyRedirectedOnce, true)
	require.NoError(t, st.Save(ctx, nil, s))

	rec := httptest.NewRecorder()
	require.NoError(t, st.Destroy(ctx, rec, s))
	require.Equal(t, -1, cookieFrom(t, rec, "gs").MaxAge)

	// Aunque el navegador reenvíe el id viejo, la entrada quedó vacía.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "gs", Value: s.ID()})
	after, err := st.Load(ctx, req)
	require.NoError(t, err)
	require.False(t, after.GetBool(KeyRedirectedOnce))
	require.Empty(t, after.Keys())
}

func TestStore_DestroyReportsWhenBackendIsDown(t *testing.T) {
	ctx := context.Background()
	st := NewStore(failingDelete{Client: cache.NewMemory(cache.Config{}), setErr: errors.New("set down")}, CookieConfig{Name: "gs"})
	s, _ := st.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))

	rec := httptest.NewRecorder()
	require.Error(t, st.Destroy(ctx, rec, s))
	require.Equal(t, -1, cookieFrom(t, rec, "gs").MaxAge)
}

func TestStore_SavePending(t *testing.T) {
	ctx := context.Background()
	st := NewStore(cache.NewMemory(cache.Config{}), CookieConfig{Name: "gs", TTL: time.Hour, PendingTTL: 5 * time.Minute})

	s, _ := st.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	rec := httptest.NewRecorder()
	require.NoError(t, st.SavePending(ctx, rec, s))
	ck := cookieFrom(t, rec, "gs")
	require.Equal(t, 300, ck.MaxAge)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(ck)
	known, err := st.Load(ctx, req)
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	require.NoError(t, st.SavePending(ctx, rec, known))
	require.Equal(t, 3600, cookieFrom(t, rec, "gs").MaxAge)
}

func TestNewStore_PendingTTLBoundedByTTL(t *testing.T) {
	st := NewStore(cache.NewMemory(cache.Config{}), CookieConfig{TTL: time.Minute})
	require.Equal(t, time.Minute, st.cookie.PendingTTL)
}

func TestParseSameSite(t *testing.T) {
	require.Equal(t, http.SameSiteStrictMode, parseSameSite(" Strict "))
	require.Equal(t, http.SameSiteNoneMode, parseSameSite("none"))
	require.Equal(t, http.SameSiteLaxMode, parseSameSite("weird"))
}

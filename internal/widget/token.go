package widget

import (
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"

	"github.com/dropDatabas3/portalgate/internal/providercfg"
)

const (
	// DefaultTokenCookie es la cookie donde el widget deja el identity token.
	DefaultTokenCookie = "portalgate_identity"
	tokenKeyInfo       = "portalgate identity token v1"
	tokenIssuer        = "portalgate-widget"
)

// TokenKey deriva la clave HS256 del identity token a partir de cookie_secret.
func TokenKey(cookieSecret string) ([]byte, error) {
	if cookieSecret == "" {
		return nil, fmt.Errorf("widget: empty cookie secret")
	}
	r := hkdf.New(sha256.New, []byte(cookieSecret), nil, []byte(tokenKeyInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("widget: derive key: %w", err)
	}
	return key, nil
}

// TokenSource verifica el identity token firmado por el widget (cookie o
// Authorization: Bearer). Los claims quedan como mapping para el extractor.
type TokenSource struct {
	Cookie string
	Leeway time.Duration
}

func (t TokenSource) Identify(r *http.Request, cfg providercfg.ProviderConfig) (Result, error) {
	raw := t.raw(r)
	if raw == "" {
		return Result{}, nil
	}
	key, err := TokenKey(cfg.CookieSecret)
	if err != nil {
		return Result{}, err
	}
	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(tk *jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(cfg.ClientID),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(t.Leeway),
	)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return Result{User: map[string]any(claims), LoggedIn: true, Via: "token"}, nil
}

func (t TokenSource) raw(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	name := t.Cookie
	if name == "" {
		name = DefaultTokenCookie
	}
	if c, err := r.Cookie(name); err == nil {
		return c.Value
	}
	return ""
}

// MintToken firma un identity token como lo haría el widget. Lo usa el comando
// `portalgate mint-token` para pruebas locales sin proxy.
func MintToken(cfg providercfg.ProviderConfig, claims map[string]any, ttl time.Duration) (string, error) {
	key, err := TokenKey(cfg.CookieSecret)
	if err != nil {
		return "", err
	}
	now := time.Now()
	mc := jwt.MapClaims{
		"iss": tokenIssuer,
		"aud": cfg.ClientID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	for k, v := range claims {
		mc[k] = v
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, mc).SignedString(key)
}

package widget

import (
	"net/http"
	"strings"

	"github.com/dropDatabas3/portalgate/internal/providercfg"
)

// Headers que setea el auth proxy por defecto.
const (
	DefaultEmailHeader = "X-Forwarded-Email"
	DefaultUserHeader  = "X-Forwarded-Preferred-Username"
)

// ForwardedUser es el usuario tal como lo reenvía el proxy. Expone accessors
// (Email, PreferredUsername) para el extractor de atributos.
type ForwardedUser struct {
	email    string
	username string
}

func (u ForwardedUser) Email() string             { return u.email }
func (u ForwardedUser) PreferredUsername() string { return u.username }

// HeaderSource confía en headers seteados por un proxy de confianza.
// Solo debe habilitarse cuando el gate no es alcanzable sin pasar por el proxy.
type HeaderSource struct {
	EmailHeader string
	UserHeader  string
}

func (h HeaderSource) Identify(r *http.Request, _ providercfg.ProviderConfig) (Result, error) {
	eh, uh := h.EmailHeader, h.UserHeader
	if eh == "" {
		eh = DefaultEmailHeader
	}
	if uh == "" {
		uh = DefaultUserHeader
	}
	u := ForwardedUser{
		email:    strings.TrimSpace(r.Header.Get(eh)),
		username: strings.TrimSpace(r.Header.Get(uh)),
	}
	if u.email == "" && u.username == "" {
		return Result{}, nil
	}
	return Result{User: u, LoggedIn: true, Via: "header"}, nil
}

// Package widget adapta el login widget externo (un auth proxy delante del gate)
// a lo que el gate necesita: el objeto de usuario, el flag de logged-in y el
// disparo del login. El handshake OIDC lo hace el widget, nunca el gate.
package widget

import (
	"errors"
	"net/http"

	"github.com/dropDatabas3/portalgate/internal/providercfg"
)

// Result es lo que el widget expone para una request.
type Result struct {
	User     any
	LoggedIn bool
	// Via nombra el adaptador que produjo el resultado ("header", "token").
	Via string
}

// Source lee el resultado del widget de una request. Un error significa que la
// evidencia presentada es inválida (token mal firmado, expirado); el caller la
// trata como "no logueado".
type Source interface {
	Identify(r *http.Request, cfg providercfg.ProviderConfig) (Result, error)
}

// ErrInvalidToken se retorna cuando el identity token no verifica.
var ErrInvalidToken = errors.New("widget: invalid identity token")

// Chain prueba cada Source en orden; gana el primero con LoggedIn.
// Los errores se acumulan pero no cortan la cadena.
type Chain []Source

func (c Chain) Identify(r *http.Request, cfg providercfg.ProviderConfig) (Result, error) {
	var errs []error
	for _, s := range c {
		res, err := s.Identify(r, cfg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if res.LoggedIn {
			return res, nil
		}
	}
	return Result{}, errors.Join(errs...)
}

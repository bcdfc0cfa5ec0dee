// Package catalog lee la lista de herramientas que muestra la landing.
package catalog

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/dropDatabas3/portalgate/internal/secrets"
)

// Key es la lista de apps en el snapshot.
const Key = "apps"

// App es una tarjeta del catálogo.
type App struct {
	Title       string
	Description string
	// Href es el destino externo; vacío deja la tarjeta deshabilitada.
	Href string
	// Path es una ruta interna del gate (ej. "/apps/reports"); gana sobre Href.
	Path string
}

// Link retorna el destino efectivo, o "" si la app no está disponible.
func (a App) Link() string {
	if a.Path != "" {
		return a.Path
	}
	return a.Href
}

// Available indica si la tarjeta tiene destino.
func (a App) Available() bool { return a.Link() != "" }

// Load arma el catálogo desde el snapshot. Entradas sin título se descartan;
// hrefs que no son http(s) dejan la tarjeta deshabilitada y se reportan.
func Load(snap *secrets.Section) ([]App, []error) {
	if snap == nil {
		return nil, nil
	}
	items, err := snap.Sections(Key)
	if err != nil {
		return nil, []error{err}
	}
	var (
		apps []App
		errs []error
	)
	for i, it := range items {
		app := App{
			Title:       it.String("title"),
			Description: firstNonEmpty(it.String("description"), it.String("desc")),
			Href:        it.String("href"),
			Path:        firstNonEmpty(it.String("path"), it.String("internal_page")),
		}
		if app.Title == "" {
			errs = append(errs, fmt.Errorf("catalog: apps[%d]: missing title", i))
			continue
		}
		if app.Href != "" && !IsSafeURL(app.Href) {
			errs = append(errs, fmt.Errorf("catalog: apps[%d] %q: unsupported href", i, app.Title))
			app.Href = ""
		}
		if app.Path != "" && !strings.HasPrefix(app.Path, "/") {
			errs = append(errs, fmt.Errorf("catalog: apps[%d] %q: path must start with /", i, app.Title))
			app.Path = ""
		}
		apps = append(apps, app)
	}
	return apps, errs
}

// IsSafeURL acepta URLs absolutas http(s) con host.
func IsSafeURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}

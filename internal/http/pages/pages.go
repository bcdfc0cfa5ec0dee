// Package pages renderiza las páginas HTML del gate (html/template embebido).
package pages

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/dropDatabas3/portalgate/internal/catalog"
	"github.com/dropDatabas3/portalgate/internal/gate"
	"github.com/dropDatabas3/portalgate/internal/observability/logger"
)

//go:embed templates/*.html templates/pages/*.html
var files embed.FS

// Nombres de página.
const (
	Login       = "login"
	ConfigError = "config_error"
	Denied      = "denied"
	Landing     = "landing"
	Error       = "error"
	Debug       = "debug"
	Apps        = "apps"
)

// View es el modelo común de todas las páginas; cada template usa lo suyo.
type View struct {
	Title     string
	CSRF      string
	RequestID string

	// Login
	LoginURL  string
	Throttled bool

	// Config error / debug
	Problems []string

	// Denied / landing / apps
	Email  string
	Target string
	Forced bool

	Apps       []catalog.App
	AppsErrors []string

	Debug      *gate.DebugInfo
	AllowDebug bool
}

// Renderer tiene un template por página, cada uno clonado del layout.
type Renderer struct {
	pages map[string]*template.Template
}

// New parsea los templates embebidos.
func New() (*Renderer, error) {
	base, err := template.New("layout").ParseFS(files, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("pages: layout: %w", err)
	}
	names, err := fs.Glob(files, "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	r := &Renderer{pages: make(map[string]*template.Template, len(names))}
	for _, n := range names {
		t, err := base.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := t.ParseFS(files, n); err != nil {
			return nil, fmt.Errorf("pages: %s: %w", n, err)
		}
		r.pages[strings.TrimSuffix(path.Base(n), ".html")] = t
	}
	return r, nil
}

// MustNew es New para el wiring; los templates son embebidos, un error acá
// es un bug de build.
func MustNew() *Renderer {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

// Render ejecuta la página en un buffer y recién después escribe status y
// body, así un error de template no deja una respuesta a medias.
func (r *Renderer) Render(w http.ResponseWriter, req *http.Request, status int, name string, v View) {
	t, ok := r.pages[name]
	if !ok {
		logger.From(req.Context()).Error("pages: página desconocida", logger.String("page", name))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", v); err != nil {
		logger.From(req.Context()).Error("pages: render", logger.String("page", name), logger.Err(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

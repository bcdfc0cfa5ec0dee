// Package gate contiene el controller HTTP del gate: corre un ciclo de la
// máquina por request y traduce el Outcome a redirects o páginas.
package gate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dropDatabas3/portalgate/internal/catalog"
	"github.com/dropDatabas3/portalgate/internal/gate"
	mw "github.com/dropDatabas3/portalgate/internal/http/middlewares"
	"github.com/dropDatabas3/portalgate/internal/http/pages"
	"github.com/dropDatabas3/portalgate/internal/observability/logger"
	"github.com/dropDatabas3/portalgate/internal/providercfg"
	"github.com/dropDatabas3/portalgate/internal/secrets"
	"github.com/dropDatabas3/portalgate/internal/session"
	"github.com/dropDatabas3/portalgate/internal/widget"
)

// LoginRecorder registra los disparos del login widget (métricas).
type LoginRecorder interface {
	RecordLogin(provider string, shared bool)
}

// Deps son las dependencias del controller.
type Deps struct {
	Machine  *gate.Machine
	Secrets  secrets.Source
	Sessions *session.Store
	Widget   widget.Source
	Trigger  *widget.Trigger
	Pages    *pages.Renderer
	Logins   LoginRecorder

	// PublicURL es la base del parámetro rd del login; vacío = "/".
	PublicURL string
	// LogoutURL es a dónde va el navegador después del logout; vacío = "/".
	LogoutURL string
	// TokenCookie se borra en el logout junto con la sesión.
	TokenCookie string
	Cookie      session.CookieConfig
	CSRF        mw.CSRFConfig
	AllowDebug  bool
}

// Controller maneja /, /apps, /logout, /retry y /debug.
type Controller struct {
	d Deps
}

// NewController crea el controller.
func NewController(d Deps) *Controller {
	return &Controller{d: d}
}

// cycle es el estado que arma un request antes de evaluar.
type cycle struct {
	sess  *session.Session
	input gate.Input
}

func (c *Controller) begin(r *http.Request) (*cycle, error) {
	ctx := r.Context()
	sess, err := c.d.Sessions.Load(ctx, r)
	if err != nil {
		return nil, err
	}
	snap, snapErr := c.d.Secrets.Snapshot(ctx)
	in := gate.Input{Snapshot: snap, SnapshotErr: snapErr, Session: sess}

	if c.d.Widget != nil {
		// El token necesita cookie_secret; con config inválida el gate corta
		// antes de mirar la identidad, así que el error acá es irrelevante.
		var cfg providercfg.ProviderConfig
		if snapErr == nil {
			cfg, _ = providercfg.Validate(snap)
		}
		res, err := c.d.Widget.Identify(r, cfg)
		if err != nil {
			logger.From(ctx).Debug("widget: evidencia de identidad rechazada", logger.Err(err))
		}
		in.User, in.LoggedIn = res.User, res.LoggedIn
	}
	return &cycle{sess: sess, input: in}, nil
}

// Gate maneja GET /: un ciclo completo de la máquina.
func (c *Controller) Gate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Component("controller"), logger.Op("GateController.Gate"))

	cy, err := c.begin(r)
	if err != nil {
		log.Error("session load failed", logger.Err(err))
		c.render(w, r, http.StatusInternalServerError, pages.Error, pages.View{})
		return
	}

	var (
		loginTarget string
		throttled   bool
		navTarget   string
	)
	fx := gate.Effects{
		Login: func(ctx context.Context, cfg providercfg.ProviderConfig) error {
			req := widget.LoginRequest{Provider: cfg.LoginProvider(), ReturnTo: c.returnTo()}
			target, shared, err := c.d.Trigger.Start(ctx, cy.sess.Hash(), req)
			if errors.Is(err, widget.ErrLoginThrottled) {
				throttled = true
				loginTarget, _ = c.d.Trigger.Link(ctx, req)
				return nil
			}
			if err != nil {
				return err
			}
			if c.d.Logins != nil {
				c.d.Logins.RecordLogin(req.Provider, shared)
			}
			loginTarget = target
			return nil
		},
		Navigate: func(_ context.Context, target string) error {
			if !ValidTarget(target) {
				return fmt.Errorf("invalid navigation target %q", target)
			}
			navTarget = target
			return nil
		},
	}

	out := c.d.Machine.Evaluate(ctx, cy.input, fx)
	log = log.With(logger.SessionHash(cy.sess.Hash()), logger.State(string(out.State)))

	// La sesión se guarda antes de responder: redirected_once tiene que estar
	// persistido antes de que el navegador siga el redirect.
	save := c.d.Sessions.Save
	if out.State == gate.NoIdentity {
		save = c.d.Sessions.SavePending
	}
	saveErr := save(ctx, w, cy.sess)
	if saveErr != nil {
		log.Error("session save failed", logger.Err(saveErr))
	}

	switch out.State {
	case gate.NoIdentity:
		if !throttled && loginTarget != "" {
			http.Redirect(w, r, loginTarget, http.StatusFound)
			return
		}
		c.render(w, r, http.StatusOK, pages.Login, pages.View{Title: "Iniciar sesión", LoginURL: loginTarget, Throttled: throttled})

	case gate.AuthorizingRedirect:
		if out.Navigated && saveErr == nil {
			http.Redirect(w, r, navTarget, http.StatusSeeOther)
			return
		}
		c.render(w, r, http.StatusOK, pages.Landing, c.landingView(out))

	case gate.Landed:
		c.render(w, r, http.StatusOK, pages.Landing, c.landingView(out))

	default:
		c.blocked(w, r, out)
	}
}

// Apps maneja GET /apps: el catálogo, solo para identidades autorizadas.
// No dispara login ni toca redirected_once.
func (c *Controller) Apps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Component("controller"), logger.Op("GateController.Apps"))

	cy, err := c.begin(r)
	if err != nil {
		log.Error("session load failed", logger.Err(err))
		c.render(w, r, http.StatusInternalServerError, pages.Error, pages.View{})
		return
	}
	out := c.d.Machine.Check(ctx, cy.input)
	switch out.State {
	case gate.Landed:
		apps, errs := catalog.Load(cy.input.Snapshot)
		v := pages.View{Title: "Aplicativos", Email: out.Identity.Email, Apps: apps}
		for _, e := range errs {
			log.Warn("catalog entry rejected", logger.Err(e))
			v.AppsErrors = append(v.AppsErrors, e.Error())
		}
		c.render(w, r, http.StatusOK, pages.Apps, v)
	case gate.NoIdentity:
		http.Redirect(w, r, "/", http.StatusSeeOther)
	default:
		c.blocked(w, r, out)
	}
}

// blocked renderiza los estados terminales que no navegan.
func (c *Controller) blocked(w http.ResponseWriter, r *http.Request, out gate.Outcome) {
	switch out.State {
	case gate.ConfigInvalid:
		v := pages.View{Title: "Configuración"}
		for _, p := range out.Problems {
			v.Problems = append(v.Problems, p.String())
		}
		c.render(w, r, http.StatusServiceUnavailable, pages.ConfigError, v)
	case gate.Denied:
		c.render(w, r, http.StatusForbidden, pages.Denied, pages.View{Title: "Acceso denegado", Email: out.Identity.Email})
	case gate.Debug:
		c.render(w, r, http.StatusOK, pages.Debug, pages.View{Title: "Debug", Debug: out.Debug})
	default:
		if out.Err != nil {
			logger.From(r.Context()).Error("gate cycle failed", logger.State(string(out.State)), logger.Err(out.Err))
		}
		c.render(w, r, http.StatusInternalServerError, pages.Error, pages.View{Title: "Error"})
	}
}

// Logout maneja POST /logout: borra la sesión entera y la cookie del token.
func (c *Controller) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, err := c.d.Sessions.Load(ctx, r)
	if err == nil {
		c.d.Machine.Logout(sess)
		if err = c.d.Sessions.Destroy(ctx, w, sess); err != nil {
			logger.From(ctx).Warn("session destroy failed", logger.Err(err))
		}
	}
	if c.d.TokenCookie != "" {
		http.SetCookie(w, session.BuildDeletionCookie(c.d.TokenCookie, c.d.Cookie.Domain, c.d.Cookie.SameSite, c.d.Cookie.Secure))
	}
	target := "/"
	if c.d.LogoutURL != "" {
		target = c.d.LogoutURL
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// Retry maneja POST /retry: limpia la sesión y vuelve a correr el gate.
func (c *Controller) Retry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, err := c.d.Sessions.Load(ctx, r)
	if err != nil {
		logger.From(ctx).Error("session load failed", logger.Err(err))
		c.render(w, r, http.StatusInternalServerError, pages.Error, pages.View{})
		return
	}
	c.d.Machine.Logout(sess)
	if err := c.d.Sessions.Save(ctx, w, sess); err != nil {
		logger.From(ctx).Warn("session save failed", logger.Err(err))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// ToggleDebug maneja POST /debug (enabled=false lo apaga).
func (c *Controller) ToggleDebug(w http.ResponseWriter, r *http.Request) {
	c.setFlags(w, r, func(s *session.Session) {
		s.SetBool(session.KeyDebugMode, r.PostFormValue("enabled") != "false")
	})
}

// ForceAccess maneja POST /debug/force.
func (c *Controller) ForceAccess(w http.ResponseWriter, r *http.Request) {
	c.setFlags(w, r, func(s *session.Session) {
		s.SetBool(session.KeyDebugMode, false)
		s.SetBool(session.KeyForceAuthenticated, true)
	})
}

func (c *Controller) setFlags(w http.ResponseWriter, r *http.Request, apply func(*session.Session)) {
	if !c.d.AllowDebug {
		http.NotFound(w, r)
		return
	}
	ctx := r.Context()
	sess, err := c.d.Sessions.Load(ctx, r)
	if err != nil {
		logger.From(ctx).Error("session load failed", logger.Err(err))
		c.render(w, r, http.StatusInternalServerError, pages.Error, pages.View{})
		return
	}
	apply(sess)
	if err := c.d.Sessions.Save(ctx, w, sess); err != nil {
		logger.From(ctx).Warn("session save failed", logger.Err(err))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (c *Controller) landingView(out gate.Outcome) pages.View {
	v := pages.View{Title: "Bienvenido", Email: out.Identity.Email, Forced: out.Forced}
	if ValidTarget(out.Target) {
		v.Target = out.Target
	}
	return v
}

func (c *Controller) render(w http.ResponseWriter, r *http.Request, status int, name string, v pages.View) {
	v.CSRF = mw.CSRFToken(w, r, c.d.CSRF)
	v.RequestID = mw.GetRequestID(r.Context())
	v.AllowDebug = c.d.AllowDebug
	c.d.Pages.Render(w, r, status, name, v)
}

func (c *Controller) returnTo() string {
	if c.d.PublicURL == "" {
		return "/"
	}
	return strings.TrimRight(c.d.PublicURL, "/") + "/"
}

// ValidTarget acepta rutas locales ("/apps", nunca "//host") o URLs http(s)
// absolutas con host.
func ValidTarget(target string) bool {
	t := strings.TrimSpace(target)
	if t == "" || strings.ContainsAny(t, "\\\r\n") {
		return false
	}
	if strings.HasPrefix(t, "/") {
		return !strings.HasPrefix(t, "//")
	}
	u, err := url.Parse(t)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

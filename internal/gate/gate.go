// Package gate es el orquestador: valida la config del proveedor, resuelve la
// identidad, aplica el allowlist y decide el estado del ciclo, redirigiendo al
// destino protegido a lo sumo una vez por sesión.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/portalgate/internal/allowlist"
	"github.com/dropDatabas3/portalgate/internal/identity"
	"github.com/dropDatabas3/portalgate/internal/observability/logger"
	"github.com/dropDatabas3/portalgate/internal/providercfg"
	"github.com/dropDatabas3/portalgate/internal/secrets"
	"github.com/dropDatabas3/portalgate/internal/session"
)

// State es el resultado de un ciclo.
type State string

const (
	NoIdentity          State = "NO_IDENTITY"
	ConfigInvalid       State = "CONFIG_INVALID"
	Denied              State = "DENIED"
	AuthorizingRedirect State = "AUTHORIZING_REDIRECT"
	Landed              State = "LANDED"
	Errored             State = "ERROR"
	Debug               State = "DEBUG"
)

// Políticas ante errores, una por componente.
const (
	OnConfigError        = allowlist.FailClosed
	OnAllowlistReadError = allowlist.FailOpen
)

// DefaultLanding es el destino cuando el snapshot no define app.landing_url.
const DefaultLanding = "/apps"

// ErrNoSession se reporta cuando el host no pasó store de sesión.
var ErrNoSession = errors.New("gate: no session store")

// Session es el contrato mínimo sobre el GateSession.
type Session interface {
	identity.SessionReader
	GetBool(key string) bool
	SetBool(key string, v bool)
	Clear()
}

// Effects son las acciones hacia afuera que el gate puede disparar.
type Effects struct {
	// Login invoca el login widget. Solo se llama en NO_IDENTITY.
	Login func(ctx context.Context, cfg providercfg.ProviderConfig) error
	// Navigate cambia al destino. Un error degrada a link manual.
	Navigate func(ctx context.Context, target string) error
}

// Input es todo lo que un ciclo necesita.
type Input struct {
	Snapshot    *secrets.Section
	SnapshotErr error
	User        any
	LoggedIn    bool
	Session     Session
}

// Outcome describe qué decidió el ciclo y qué efectos corrieron.
type Outcome struct {
	State    State
	Config   providercfg.ProviderConfig
	Problems providercfg.Problems
	Identity identity.Identity
	Target   string

	Navigated     bool
	NavigationErr error
	LoginInvoked  bool

	// AllowlistReadErr se setea cuando el allowlist no se pudo leer y se
	// aplicó OnAllowlistReadError.
	AllowlistReadErr error
	Forced           bool
	Err              error
	Debug            *DebugInfo
}

// ManualLink indica si la página debe ofrecer el link al destino.
func (o Outcome) ManualLink() bool {
	return o.State == Landed || (o.State == AuthorizingRedirect && !o.Navigated)
}

// DebugInfo es el diagnóstico que muestra el modo debug.
type DebugInfo struct {
	Identity    identity.Identity
	SessionKeys map[string]string
	Provider    map[string]string
	Problems    []string
}

// Observer recibe cada ciclo terminado (métricas).
type Observer interface {
	ObserveCycle(state State, d time.Duration)
}

// Options configuran el Machine.
type Options struct {
	Resolver  *identity.Resolver
	Allowlist allowlist.Policy
	// AllowDebug habilita debug_mode y force_authenticated.
	AllowDebug bool
	Observer   Observer
}

// Machine es stateless entre ciclos: todo lo que persiste vive en Session.
type Machine struct {
	resolver   *identity.Resolver
	allow      allowlist.Policy
	allowDebug bool
	observer   Observer
}

func New(opts Options) *Machine {
	if opts.Resolver == nil {
		opts.Resolver = identity.NewResolver()
	}
	if opts.Allowlist.Section == "" {
		opts.Allowlist = allowlist.Policy{Section: allowlist.DefaultSection, OnReadError: OnAllowlistReadError}
	}
	return &Machine{
		resolver:   opts.Resolver,
		allow:      opts.Allowlist,
		allowDebug: opts.AllowDebug,
		observer:   opts.Observer,
	}
}

// Evaluate corre un ciclo completo. Nunca entra en pánico: cualquier falla
// inesperada termina en ERROR con el flag redirected_once intacto.
func (m *Machine) Evaluate(ctx context.Context, in Input, fx Effects) (out Outcome) {
	defer m.finish(ctx, time.Now(), &out)

	out, ok := m.assess(ctx, in)
	if !ok {
		if out.State == NoIdentity && fx.Login != nil {
			out.LoginInvoked = true
			if err := fx.Login(ctx, out.Config); err != nil {
				return Outcome{State: Errored, Config: out.Config, Err: fmt.Errorf("gate: login trigger: %w", err)}
			}
		}
		return out
	}
	if out.Forced || in.Session.GetBool(session.KeyRedirectedOnce) {
		out.State = Landed
		return out
	}

	// El flag se marca inmediatamente antes del único intento de navegación.
	out.State = AuthorizingRedirect
	in.Session.SetBool(session.KeyRedirectedOnce, true)
	if fx.Navigate == nil {
		out.NavigationErr = errors.New("gate: no navigator")
		return out
	}
	if err := fx.Navigate(ctx, out.Target); err != nil {
		logger.From(ctx).Named("gate").Info("gate: navegación falló, se ofrece link manual", logger.Err(err))
		out.NavigationErr = err
		return out
	}
	out.Navigated = true
	return out
}

// Check evalúa config, identidad y allowlist sin efectos: no dispara login,
// no navega y no toca redirected_once. Un usuario autorizado queda en LANDED.
// Lo usan las páginas protegidas (catálogo).
func (m *Machine) Check(ctx context.Context, in Input) (out Outcome) {
	defer m.finish(ctx, time.Now(), &out)

	out, ok := m.assess(ctx, in)
	if ok {
		out.State = Landed
	}
	return out
}

// assess corre los tres componentes; ok=true significa autorizado.
func (m *Machine) assess(ctx context.Context, in Input) (Outcome, bool) {
	if in.Session == nil {
		return Outcome{State: Errored, Err: ErrNoSession}, false
	}
	log := logger.From(ctx).Named("gate")

	cfg, probs := m.validate(in)
	id := m.resolver.Resolve(identity.Handle{User: in.User, LoggedIn: in.LoggedIn, Session: in.Session})

	if m.allowDebug && in.Session.GetBool(session.KeyDebugMode) {
		return Outcome{State: Debug, Config: cfg, Problems: probs, Identity: id, Debug: debugInfo(cfg, probs, id, in.Session)}, false
	}
	if len(probs) > 0 {
		log.Warn("gate: configuración de proveedor inválida", logger.Problems(len(probs)), logger.Err(probs))
		return Outcome{State: ConfigInvalid, Problems: probs}, false
	}

	target := landing(in.Snapshot)
	if m.allowDebug && in.Session.GetBool(session.KeyForceAuthenticated) {
		return Outcome{State: Landed, Config: cfg, Identity: id, Target: target, Forced: true}, true
	}
	if id.Empty() {
		return Outcome{State: NoIdentity, Config: cfg}, false
	}

	dec := m.allow.Check(id.Email, in.Snapshot)
	if dec.ReadErr != nil {
		log.Warn("gate: allowlist ilegible, aplicando política",
			zap.String("policy", m.allow.OnReadError.String()), logger.Err(dec.ReadErr))
	}
	if !dec.Allowed {
		log.Info("gate: identidad fuera del allowlist", logger.Email(id.Email), logger.Provenance(string(id.Source)))
		return Outcome{State: Denied, Config: cfg, Identity: id, AllowlistReadErr: dec.ReadErr}, false
	}
	return Outcome{Config: cfg, Identity: id, Target: target, AllowlistReadErr: dec.ReadErr}, true
}

// finish recupera pánicos, registra métricas y loguea el ciclo.
func (m *Machine) finish(ctx context.Context, start time.Time, out *Outcome) {
	log := logger.From(ctx).Named("gate")
	if rec := recover(); rec != nil {
		*out = Outcome{State: Errored, Err: fmt.Errorf("gate: panic: %v", rec)}
		log.Error("gate: panic recuperado", zap.Any("panic", rec), zap.Stack("stack"))
	}
	d := time.Since(start)
	if m.observer != nil {
		m.observer.ObserveCycle(out.State, d)
	}
	fields := []zap.Field{logger.State(string(out.State)), logger.DurationMs(d)}
	if out.Config.ProviderKey != "" {
		fields = append(fields, logger.ProviderKey(string(out.Config.ProviderKey)))
	}
	if !out.Identity.Empty() {
		fields = append(fields, logger.Provenance(string(out.Identity.Source)))
	}
	if out.Err != nil {
		fields = append(fields, logger.Err(out.Err))
	}
	log.Debug("gate: ciclo", fields...)
}

func (m *Machine) validate(in Input) (providercfg.ProviderConfig, providercfg.Problems) {
	if in.SnapshotErr != nil || in.Snapshot == nil {
		reason := "secrets snapshot unavailable"
		if in.SnapshotErr != nil {
			reason += ": " + in.SnapshotErr.Error()
		}
		return providercfg.ProviderConfig{}, providercfg.Problems{{Section: "*", Reason: reason}}
	}
	cfg, err := providercfg.Validate(in.Snapshot)
	if err == nil {
		return cfg, nil
	}
	var probs providercfg.Problems
	if errors.As(err, &probs) && len(probs) > 0 {
		return providercfg.ProviderConfig{}, probs
	}
	return providercfg.ProviderConfig{}, providercfg.Problems{{Section: "*", Reason: err.Error()}}
}

// Logout limpia todo el estado de la sesión: identidad cacheada, flags y
// redirected_once. Retry tiene la misma semántica.
func (m *Machine) Logout(s Session) {
	if s != nil {
		s.Clear()
	}
}

func landing(snap *secrets.Section) string {
	if snap == nil {
		return DefaultLanding
	}
	if app, ok := snap.Section("app"); ok {
		if v := app.String("landing_url"); v != "" {
			return v
		}
	}
	return DefaultLanding
}

func debugInfo(cfg providercfg.ProviderConfig, probs providercfg.Problems, id identity.Identity, s Session) *DebugInfo {
	info := &DebugInfo{Identity: id, SessionKeys: map[string]string{}}
	if lister, ok := s.(interface{ Keys() []string }); ok {
		for _, k := range lister.Keys() {
			v, _ := s.Get(k)
			info.SessionKeys[k] = v
		}
	}
	if len(probs) == 0 {
		info.Provider = cfg.Redacted()
	}
	for _, p := range probs {
		info.Problems = append(info.Problems, p.String())
	}
	return info
}

package widget

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// ErrLoginThrottled indica que la sesión disparó demasiados logins seguidos
// (el widget vuelve sin identidad); el caller debe ofrecer el link manual.
var ErrLoginThrottled = errors.New("widget: login throttled for session")

// LoginRequest es lo que se le pasa al widget para iniciar el login.
type LoginRequest struct {
	Provider string
	ReturnTo string
}

// StartFunc arma la URL de inicio del login.
type StartFunc func(ctx context.Context, req LoginRequest) (string, error)

// Trigger dispara el login del widget, a lo sumo una vez en vuelo por sesión:
// requests concurrentes de la misma sesión comparten el resultado.
type Trigger struct {
	start StartFunc
	group singleflight.Group
	calls atomic.Int64
	guard *LoopGuard
}

// NewTrigger crea un Trigger que redirige a loginURL?provider=..&rd=..
func NewTrigger(loginURL string) (*Trigger, error) {
	base, err := url.Parse(loginURL)
	if err != nil {
		return nil, fmt.Errorf("widget: login url: %w", err)
	}
	return NewTriggerFunc(func(_ context.Context, req LoginRequest) (string, error) {
		u := *base
		q := u.Query()
		q.Set("provider", req.Provider)
		if req.ReturnTo != "" {
			q.Set("rd", req.ReturnTo)
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	}), nil
}

// NewTriggerFunc permite inyectar el StartFunc (tests, widgets propios).
func NewTriggerFunc(fn StartFunc) *Trigger {
	return &Trigger{start: fn}
}

// WithLoopGuard limita los disparos por sesión.
func (t *Trigger) WithLoopGuard(g *LoopGuard) *Trigger {
	t.guard = g
	return t
}

// Start invoca el widget para la sesión dada y retorna la URL de login.
// shared=true indica que la llamada se unió a una invocación ya en vuelo.
func (t *Trigger) Start(ctx context.Context, sessionKey string, req LoginRequest) (target string, shared bool, err error) {
	v, err, shared := t.group.Do(sessionKey, func() (any, error) {
		if t.guard != nil && !t.guard.Allow(sessionKey) {
			return "", ErrLoginThrottled
		}
		t.calls.Add(1)
		return t.start(ctx, req)
	})
	if err != nil {
		return "", shared, err
	}
	return v.(string), shared, nil
}

// Link arma la URL de login sin disparar nada: no cuenta como invocación ni
// consume el LoopGuard. Es el link manual cuando el disparo fue frenado.
func (t *Trigger) Link(ctx context.Context, req LoginRequest) (string, error) {
	return t.start(ctx, req)
}

// Invocations cuenta las veces que el StartFunc corrió de verdad.
func (t *Trigger) Invocations() int64 { return t.calls.Load() }

// LoopGuard es un token bucket por sesión. Los limiters viven en go-cache y
// expiran solos cuando la sesión deja de disparar logins.
type LoopGuard struct {
	every time.Duration
	burst int
	lims  *gocache.Cache
}

// NewLoopGuard permite burst disparos y luego uno cada every.
func NewLoopGuard(every time.Duration, burst int) *LoopGuard {
	idle := every * time.Duration(burst+1)
	return &LoopGuard{every: every, burst: burst, lims: gocache.New(idle, idle)}
}

// Allow consume un token de la sesión.
func (g *LoopGuard) Allow(sessionKey string) bool {
	var lim *rate.Limiter
	if v, ok := g.lims.Get(sessionKey); ok {
		lim = v.(*rate.Limiter)
	} else {
		lim = rate.NewLimiter(rate.Every(g.every), g.burst)
		if err := g.lims.Add(sessionKey, lim, gocache.DefaultExpiration); err != nil {
			// Otro request la creó primero.
			if v, ok := g.lims.Get(sessionKey); ok {
				lim = v.(*rate.Limiter)
			}
		}
	}
	g.lims.SetDefault(sessionKey, lim)
	return lim.Allow()
}

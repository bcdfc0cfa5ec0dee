// Package server arma el gate completo a partir de la config del proceso y
// lo sirve con shutdown ordenado.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/portalgate/internal/allowlist"
	"github.com/dropDatabas3/portalgate/internal/cache"
	"github.com/dropDatabas3/portalgate/internal/config"
	"github.com/dropDatabas3/portalgate/internal/gate"
	gatectrl "github.com/dropDatabas3/portalgate/internal/http/controllers/gate"
	"github.com/dropDatabas3/portalgate/internal/http/controllers/health"
	mw "github.com/dropDatabas3/portalgate/internal/http/middlewares"
	"github.com/dropDatabas3/portalgate/internal/http/pages"
	"github.com/dropDatabas3/portalgate/internal/http/router"
	"github.com/dropDatabas3/portalgate/internal/metrics"
	"github.com/dropDatabas3/portalgate/internal/observability/logger"
	"github.com/dropDatabas3/portalgate/internal/rate"
	"github.com/dropDatabas3/portalgate/internal/secrets"
	"github.com/dropDatabas3/portalgate/internal/session"
	"github.com/dropDatabas3/portalgate/internal/widget"
)

// App es el gate armado: handler más los recursos que hay que cerrar.
type App struct {
	Handler http.Handler
	Cache   cache.Client
	Secrets secrets.Source
	Metrics *metrics.Metrics

	cleanup []func() error
}

// Options permiten inyectar piezas en tests; los campos vacíos se arman
// desde la config.
type Options struct {
	Version string
	Secrets secrets.Source
	Cache   cache.Client
	Limiter rate.Limiter
}

// Build instancia todas las dependencias del gate.
func Build(cfg *config.Config, opts Options) (*App, error) {
	a := &App{Secrets: opts.Secrets, Cache: opts.Cache}
	if a.Secrets == nil {
		a.Secrets = secrets.FileSource{Path: cfg.Secrets.File}
	}

	// 1. Cache de sesiones + limiter (comparten cliente redis)
	limiter := opts.Limiter
	if a.Cache == nil {
		switch cfg.Cache.Kind {
		case "redis":
			client := rdb.NewClient(&rdb.Options{
				Addr:     cfg.Cache.Redis.Addr,
				Password: cfg.Cache.Redis.Password,
				DB:       cfg.Cache.Redis.DB,
			})
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := client.Ping(ctx).Err()
			cancel()
			if err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("server: redis ping %s: %w", cfg.Cache.Redis.Addr, err)
			}
			a.cleanup = append(a.cleanup, client.Close)
			a.Cache = cache.NewRedisFromClient(client, cfg.Cache.Redis.Prefix)
			if limiter == nil && cfg.Rate.Enabled {
				limiter = rate.NewRedisLimiter(client, cfg.Cache.Redis.Prefix+":rl:", cfg.Rate.MaxRequests, cfg.Rate.Window)
			}
		default:
			c, err := cache.New(cache.Config{Driver: "memory", CleanupInterval: cfg.Cache.Memory.CleanupInterval})
			if err != nil {
				return nil, err
			}
			a.Cache = c
			a.cleanup = append(a.cleanup, c.Close)
		}
	}
	if limiter == nil && cfg.Rate.Enabled {
		limiter = rate.NewMemoryLimiter(cfg.Rate.MaxRequests, cfg.Rate.Window)
	}

	// 2. Métricas
	m, err := metrics.Register(metrics.Config{Namespace: "portalgate"})
	if err != nil {
		return nil, fmt.Errorf("server: metrics: %w", err)
	}
	a.Metrics = m

	// 3. Widget: headers del proxy (si se confía en ellos) y identity token
	var chain widget.Chain
	if cfg.Widget.TrustHeaders {
		chain = append(chain, widget.HeaderSource{EmailHeader: cfg.Widget.EmailHeader, UserHeader: cfg.Widget.UserHeader})
	}
	chain = append(chain, widget.TokenSource{Cookie: cfg.Widget.TokenCookie, Leeway: cfg.Widget.TokenLeeway})

	trigger, err := widget.NewTrigger(cfg.Widget.LoginURL)
	if err != nil {
		return nil, err
	}
	trigger.WithLoopGuard(widget.NewLoopGuard(cfg.Widget.LoopGuard.Every, cfg.Widget.LoopGuard.Burst))

	// 4. Gate
	policy := allowlist.Policy{Section: allowlist.DefaultSection, OnReadError: gate.OnAllowlistReadError}
	if cfg.Gate.AllowlistOnError == "fail_closed" {
		policy.OnReadError = allowlist.FailClosed
	}
	machine := gate.New(gate.Options{
		Allowlist:  policy,
		AllowDebug: cfg.Gate.AllowDebug,
		Observer:   m,
	})

	cookie := session.CookieConfig{
		Name:       cfg.Session.CookieName,
		Domain:     cfg.Session.Domain,
		SameSite:   cfg.Session.SameSite,
		Secure:     cfg.Session.Secure,
		TTL:        cfg.Session.TTL,
		PendingTTL: cfg.Session.PendingTTL,
	}
	csrf := mw.CSRFConfig{Secure: cfg.Session.Secure}

	renderer, err := pages.New()
	if err != nil {
		return nil, err
	}

	// 5. Controllers + router
	ctrl := gatectrl.NewController(gatectrl.Deps{
		Machine:     machine,
		Secrets:     a.Secrets,
		Sessions:    session.NewStore(a.Cache, cookie),
		Widget:      chain,
		Trigger:     trigger,
		Pages:       renderer,
		Logins:      m,
		PublicURL:   cfg.Server.PublicURL,
		LogoutURL:   cfg.Widget.LogoutURL,
		TokenCookie: cfg.Widget.TokenCookie,
		Cookie:      cookie,
		CSRF:        csrf,
		AllowDebug:  cfg.Gate.AllowDebug,
	})
	a.Handler = router.New(router.Deps{
		Gate:        ctrl,
		Health:      health.NewHealthController(a.Cache, a.Secrets, opts.Version),
		Metrics:     m,
		RateLimiter: limiter,
		CSRF:        csrf,
		Security: mw.SecurityConfig{
			PublicURL:   cfg.Server.PublicURL,
			FormTargets: []string{cfg.Widget.LogoutURL},
		},
	})

	logger.L().Info("gate wired",
		logger.String("cache", cfg.Cache.Kind),
		logger.Bool("rate_limit", limiter != nil),
		logger.Bool("trust_headers", cfg.Widget.TrustHeaders),
		logger.Bool("allow_debug", cfg.Gate.AllowDebug),
		logger.String("allowlist_on_error", policy.OnReadError.String()),
	)
	return a, nil
}

// Close libera los recursos en orden inverso.
func (a *App) Close() error {
	var errs []error
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		if err := a.cleanup[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run sirve el handler hasta que ctx se cancele y luego hace shutdown ordenado.
func Run(ctx context.Context, cfg *config.Config, h http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("http server listening", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.L().Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return <-errCh
}

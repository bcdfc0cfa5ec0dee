package middlewares

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dropDatabas3/portalgate/internal/http/errors"
	"github.com/dropDatabas3/portalgate/internal/observability/logger"
	"github.com/dropDatabas3/portalgate/internal/rate"
)

// RateLimiter es el limiter que consume el middleware (internal/rate).
type RateLimiter = rate.Limiter

// RateKeyFunc define cómo generar la clave de rate limiting.
type RateKeyFunc func(r *http.Request) string

// IPPathRateKey: ip|path.
func IPPathRateKey(r *http.Request) string {
	return clientIP(r) + "|" + r.URL.Path
}

// RateLimitConfig configura el middleware.
type RateLimitConfig struct {
	Limiter RateLimiter
	KeyFunc RateKeyFunc
	// OnReject se llama por cada request rechazada (métricas).
	OnReject func(r *http.Request)
}

// WithRateLimit crea un middleware de rate limiting. Un error del limiter
// deja pasar el request.
func WithRateLimit(cfg RateLimitConfig) Middleware {
	if cfg.Limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = IPPathRateKey
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := cfg.Limiter.Allow(r.Context(), cfg.KeyFunc(r))
			if err != nil {
				logger.From(r.Context()).Warn("rate_limit_error", logger.Err(err))
				next.ServeHTTP(w, r)
				return
			}
			setRateHeaders(w, res)
			if !res.Allowed {
				if res.RetryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
				}
				if cfg.OnReject != nil {
					cfg.OnReject(r)
				}
				errors.WriteError(w, errors.ErrRateLimitExceeded)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func setRateHeaders(w http.ResponseWriter, res rate.Result) {
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", res.Remaining))
	if res.WindowTTL > 0 {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(res.WindowTTL).Unix(), 10))
	}
}

// limiterFunc adapta una función a RateLimiter (tests).
type limiterFunc func(ctx context.Context, key string) (rate.Result, error)

func (f limiterFunc) Allow(ctx context.Context, key string) (rate.Result, error) { return f(ctx, key) }

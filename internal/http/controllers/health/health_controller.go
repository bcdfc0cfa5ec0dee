// Package health contiene el controller para health checks.
package health

import (
	"context"
	"net/http"
	"time"

	httperrors "github.com/dropDatabas3/portalgate/internal/http/errors"
	"github.com/dropDatabas3/portalgate/internal/observability/logger"
	"github.com/dropDatabas3/portalgate/internal/secrets"
)

// Pinger es lo que se chequea del backend de sesiones.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Response es el cuerpo de /healthz.
type Response struct {
	Status     string            `json:"status"` // ready | degraded | unavailable
	Version    string            `json:"version,omitempty"`
	Components map[string]string `json:"components"`
}

// HealthController maneja las rutas de health check.
type HealthController struct {
	cache   Pinger
	secrets secrets.Source
	version string
	timeout time.Duration
}

// NewHealthController crea un nuevo controller de health check.
func NewHealthController(cache Pinger, src secrets.Source, version string) *HealthController {
	return &HealthController{cache: cache, secrets: src, version: version, timeout: 2 * time.Second}
}

// Healthz maneja GET /healthz. Sin cache de sesiones el gate no puede
// responder (503); un snapshot ilegible solo degrada, el gate sigue
// mostrando el diagnóstico de configuración.
func (c *HealthController) Healthz(w http.ResponseWriter, r *http.Request) {
	log := logger.From(r.Context()).With(logger.Component("controller"), logger.Op("HealthController.Healthz"))

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
	defer cancel()

	resp := Response{Status: "ready", Version: c.version, Components: map[string]string{}}
	status := http.StatusOK

	if c.cache != nil {
		if err := c.cache.Ping(ctx); err != nil {
			log.Warn("cache ping failed", logger.Err(err))
			resp.Components["cache"] = "error"
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Components["cache"] = "ok"
		}
	}
	if c.secrets != nil {
		if _, err := c.secrets.Snapshot(ctx); err != nil {
			log.Warn("secrets snapshot failed", logger.Err(err))
			resp.Components["secrets"] = "error"
			if resp.Status == "ready" {
				resp.Status = "degraded"
			}
		} else {
			resp.Components["secrets"] = "ok"
		}
	}

	log.Debug("health check completed", logger.String("status", resp.Status))
	w.Header().Set("Cache-Control", "no-store")
	httperrors.WriteJSON(w, status, resp)
}

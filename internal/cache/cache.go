// Package cache provee el backend key-value de las sesiones del gate.
//
// Soporta:
//   - memory: in-process (go-cache), una sola réplica o tests
//   - redis: compartido entre réplicas del gate
package cache

import (
	"context"
	"errors"
	"time"
)

// Client define las operaciones de cache que usa el gate.
type Client interface {
	// Get obtiene un valor. Retorna ErrNotFound si no existe o expiró.
	Get(ctx context.Context, key string) (string, error)

	// Set guarda un valor; ttl 0 significa sin expiración.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete elimina una key. Borrar una key inexistente no es error.
	Delete(ctx context.Context, key string) error

	// Ping verifica el backend (lo usa /healthz).
	Ping(ctx context.Context) error

	// Close libera recursos.
	Close() error

	// Stats retorna estadísticas básicas.
	Stats(ctx context.Context) (Stats, error)
}

// Stats contiene estadísticas del cache.
type Stats struct {
	Driver string
	Keys   int64
	Hits   int64
	Misses int64
}

// Config para construir un cliente.
type Config struct {
	Driver   string // "memory" | "redis"
	Addr     string // host:port (redis)
	Password string
	DB       int
	Prefix   string // prefijo para todas las keys

	// DefaultTTL y CleanupInterval aplican a memory.
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
}

// ErrNotFound indica que la key no existe.
var ErrNotFound = errors.New("cache: key not found")

// IsNotFound verifica si el error es porque la key no existe.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// New crea un cliente según cfg.Driver; cualquier driver desconocido cae a memory.
func New(cfg Config) (Client, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedis(cfg)
	default:
		return NewMemory(cfg), nil
	}
}

func prefixed(prefix, k string) string {
	if prefix == "" {
		return k
	}
	return prefix + ":" + k
}

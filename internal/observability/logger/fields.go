package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// HTTP
// =================================================================================

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }
func Bytes(v int) zap.Field        { return zap.Int("bytes", v) }
func ClientIP(v string) zap.Field  { return zap.String("client_ip", v) }

// DurationMs registra la duración en milisegundos.
func DurationMs(v time.Duration) zap.Field { return zap.Int64("duration_ms", v.Milliseconds()) }

// =================================================================================
// GATE
// =================================================================================

// State es el estado resultante de un ciclo del gate.
func State(v string) zap.Field { return zap.String("state", v) }

// ProviderKey identifica la forma de configuración que resolvió el proveedor.
func ProviderKey(v string) zap.Field { return zap.String("provider_key", v) }

// Provenance indica de qué fuente salió la identidad (attribute|mapping|session).
func Provenance(v string) zap.Field { return zap.String("identity_source", v) }

// Email se loguea enmascarado (ver MaskEmail).
func Email(v string) zap.Field { return zap.String("email", MaskEmail(v)) }

// SessionHash es el hash del session id, nunca el id crudo.
func SessionHash(v string) zap.Field { return zap.String("session", v) }

// Problems cuenta los problemas de configuración detectados.
func Problems(n int) zap.Field { return zap.Int("problems", n) }

// =================================================================================
// SISTEMA
// =================================================================================

func Component(v string) zap.Field { return zap.String("component", v) }
func Op(v string) zap.Field        { return zap.String("op", v) }
func Err(err error) zap.Field      { return zap.Error(err) }
func Any(key string, v any) zap.Field {
	return zap.Any(key, v)
}
func String(key, v string) zap.Field { return zap.String(key, v) }
func Bool(key string, v bool) zap.Field {
	return zap.Bool(key, v)
}

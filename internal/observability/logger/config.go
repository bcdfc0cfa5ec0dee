package logger

import (
	"io"
	"os"
	"strings"

	zaplogfmt "github.com/jsternberg/zap-logfmt"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configura el logger.
type Config struct {
	// Env: "dev" o "prod". Default "dev".
	Env string

	// Level: "debug", "info", "warn", "error". Default "info".
	Level string

	// Format: "auto", "console", "json", "logfmt". Default "auto":
	// prod usa JSON; dev usa consola en una TTY y logfmt si no.
	Format string

	// ServiceName se agrega como campo "service" si no está vacío.
	ServiceName string

	// Version se agrega como campo "version" si no está vacío.
	Version string

	// Output reemplaza stderr (tests).
	Output io.Writer
}

func build(cfg Config) *zap.Logger {
	prod := strings.EqualFold(strings.TrimSpace(cfg.Env), "prod")

	var out zapcore.WriteSyncer
	if cfg.Output != nil {
		out = zapcore.AddSync(cfg.Output)
	} else {
		out = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(encoder(resolveFormat(cfg.Format, prod, cfg.Output == nil && isTerminal()), prod), out, parseLevel(cfg.Level))

	opts := []zap.Option{zap.AddCaller()}
	if prod {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	l := zap.New(core, opts...)

	if cfg.ServiceName != "" {
		l = l.With(zap.String("service", cfg.ServiceName))
	}
	if cfg.Version != "" {
		l = l.With(zap.String("version", cfg.Version))
	}
	return l
}

func resolveFormat(format string, prod, tty bool) string {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "console", "json", "logfmt":
		return f
	}
	if prod {
		return "json"
	}
	if tty {
		return "console"
	}
	return "logfmt"
}

func encoder(format string, prod bool) zapcore.Encoder {
	var ec zapcore.EncoderConfig
	if prod {
		ec = zap.NewProductionEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		ec = zap.NewDevelopmentEncoderConfig()
		ec.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	}
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	if format != "console" {
		ec.TimeKey, ec.LevelKey, ec.NameKey = "ts", "level", "logger"
		ec.CallerKey, ec.MessageKey, ec.StacktraceKey = "caller", "msg", "stacktrace"
	}

	switch format {
	case "json":
		return zapcore.NewJSONEncoder(ec)
	case "logfmt":
		ec.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zaplogfmt.NewEncoder(ec)
	default:
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
}

func isTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func parseLevel(lvl string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

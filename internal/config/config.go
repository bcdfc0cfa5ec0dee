package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config es la configuración del proceso. Los secretos del proveedor OIDC y el
// allowlist NO viven acá: están en el secrets snapshot (Secrets.File), que se
// relee en cada ciclo.
type Config struct {
	App struct {
		// dev | staging | prod
		Env  string `yaml:"app_env"`
		Name string `yaml:"name"`
	} `yaml:"app"`

	Server struct {
		Addr            string        `yaml:"addr"`
		PublicURL       string        `yaml:"public_url"` // base para el parámetro rd del login
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // auto | console | json | logfmt
	} `yaml:"log"`

	Secrets struct {
		File string `yaml:"file"` // .yaml/.yml o .toml
	} `yaml:"secrets"`

	Cache struct {
		Kind  string `yaml:"kind"` // memory | redis
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			CleanupInterval time.Duration `yaml:"cleanup_interval"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	Session struct {
		CookieName string        `yaml:"cookie_name"`
		Domain     string        `yaml:"domain"`
		SameSite   string        `yaml:"samesite"`
		Secure     bool          `yaml:"secure"`
		TTL        time.Duration `yaml:"ttl"`
		PendingTTL time.Duration `yaml:"pending_ttl"` // sesiones nuevas sin identidad
	} `yaml:"session"`

	Widget struct {
		LoginURL     string        `yaml:"login_url"`
		LogoutURL    string        `yaml:"logout_url"` // vacío = volver a "/"
		TrustHeaders bool          `yaml:"trust_headers"` // solo detrás del auth proxy
		EmailHeader  string        `yaml:"email_header"`
		UserHeader   string        `yaml:"user_header"`
		TokenCookie  string        `yaml:"token_cookie"`
		TokenLeeway  time.Duration `yaml:"token_leeway"`
		LoopGuard    struct {
			Every time.Duration `yaml:"every"`
			Burst int           `yaml:"burst"`
		} `yaml:"loop_guard"`
	} `yaml:"widget"`

	Gate struct {
		AllowDebug       bool   `yaml:"allow_debug"`
		AllowlistOnError string `yaml:"allowlist_on_error"` // fail_open | fail_closed
	} `yaml:"gate"`

	Rate struct {
		Enabled     bool          `yaml:"enabled"`
		Window      time.Duration `yaml:"window"`
		MaxRequests int           `yaml:"max_requests"`
	} `yaml:"rate"`
}

// Load lee el YAML (path vacío = solo defaults + env), aplica defaults,
// overrides de entorno y valida.
func Load(path string) (*Config, error) {
	var c Config
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	c.applyEnvOverrides()
	c.applyDefaults()

	// secrets.file relativo ⇒ respecto al directorio del YAML
	if p := strings.TrimSpace(c.Secrets.File); p != "" && path != "" && !filepath.IsAbs(p) {
		c.Secrets.File = filepath.Clean(filepath.Join(filepath.Dir(path), p))
	}

	// Guardia dura: en prod nunca se habilitan los flags de debug.
	if strings.EqualFold(c.App.Env, "prod") {
		c.Gate.AllowDebug = false
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.Name == "" {
		c.App.Name = "portalgate"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "auto"
	}
	if c.Secrets.File == "" {
		c.Secrets.File = "secrets.yaml"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Redis.Addr == "" {
		c.Cache.Redis.Addr = "localhost:6379"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "portalgate"
	}
	if c.Cache.Memory.CleanupInterval == 0 {
		c.Cache.Memory.CleanupInterval = time.Minute
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "portalgate_session"
	}
	if c.Session.SameSite == "" {
		c.Session.SameSite = "Lax"
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = 12 * time.Hour
	}
	if c.Session.PendingTTL == 0 {
		c.Session.PendingTTL = 10 * time.Minute
	}
	if c.Widget.LoginURL == "" {
		c.Widget.LoginURL = "/oauth2/start"
	}
	if c.Widget.TokenCookie == "" {
		c.Widget.TokenCookie = "portalgate_identity"
	}
	if c.Widget.TokenLeeway == 0 {
		c.Widget.TokenLeeway = 30 * time.Second
	}
	if c.Widget.LoopGuard.Every == 0 {
		c.Widget.LoopGuard.Every = 10 * time.Second
	}
	if c.Widget.LoopGuard.Burst == 0 {
		c.Widget.LoopGuard.Burst = 3
	}
	if c.Gate.AllowlistOnError == "" {
		c.Gate.AllowlistOnError = "fail_open"
	}
	if c.Rate.Window == 0 {
		c.Rate.Window = time.Minute
	}
	if c.Rate.MaxRequests == 0 {
		c.Rate.MaxRequests = 30
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}

// applyEnvOverrides: pisa el YAML con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("SERVER_PUBLIC_URL"); ok {
		c.Server.PublicURL = v
	}
	if v, ok := getEnvDur("SERVER_READ_TIMEOUT"); ok {
		c.Server.ReadTimeout = v
	}
	if v, ok := getEnvDur("SERVER_WRITE_TIMEOUT"); ok {
		c.Server.WriteTimeout = v
	}

	// LOG
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := getEnvStr("LOG_FORMAT"); ok {
		c.Log.Format = v
	}

	// SECRETS
	if v, ok := getEnvStr("GATE_SECRETS_FILE"); ok {
		c.Secrets.File = v
	}

	// CACHE
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = strings.ToLower(v)
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Cache.Redis.Prefix = v
	}

	// SESSION
	if v, ok := getEnvStr("SESSION_COOKIE_NAME"); ok {
		c.Session.CookieName = v
	}
	if v, ok := getEnvStr("SESSION_DOMAIN"); ok {
		c.Session.Domain = v
	}
	if v, ok := getEnvStr("SESSION_SAMESITE"); ok {
		c.Session.SameSite = v
	}
	if v, ok := getEnvBool("SESSION_SECURE"); ok {
		c.Session.Secure = v
	}
	if v, ok := getEnvDur("SESSION_TTL"); ok {
		c.Session.TTL = v
	}
	if v, ok := getEnvDur("SESSION_PENDING_TTL"); ok {
		c.Session.PendingTTL = v
	}

	// WIDGET
	if v, ok := getEnvStr("WIDGET_LOGIN_URL"); ok {
		c.Widget.LoginURL = v
	}
	if v, ok := getEnvStr("WIDGET_LOGOUT_URL"); ok {
		c.Widget.LogoutURL = v
	}
	if v, ok := getEnvBool("WIDGET_TRUST_HEADERS"); ok {
		c.Widget.TrustHeaders = v
	}
	if v, ok := getEnvStr("WIDGET_EMAIL_HEADER"); ok {
		c.Widget.EmailHeader = v
	}
	if v, ok := getEnvStr("WIDGET_USER_HEADER"); ok {
		c.Widget.UserHeader = v
	}
	if v, ok := getEnvStr("WIDGET_TOKEN_COOKIE"); ok {
		c.Widget.TokenCookie = v
	}

	// GATE
	if v, ok := getEnvBool("GATE_ALLOW_DEBUG"); ok {
		c.Gate.AllowDebug = v
	}
	if v, ok := getEnvStr("GATE_ALLOWLIST_ON_ERROR"); ok {
		c.Gate.AllowlistOnError = strings.ToLower(v)
	}

	// RATE
	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvDur("RATE_WINDOW"); ok {
		c.Rate.Window = v
	}
	if v, ok := getEnvInt("RATE_MAX_REQUESTS"); ok {
		c.Rate.MaxRequests = v
	}
}

// Validate revisa los valores críticos; junta todos los errores.
func (c *Config) Validate() error {
	var errs []error
	switch c.Cache.Kind {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("config: cache.kind %q (want memory|redis)", c.Cache.Kind))
	}
	switch c.Gate.AllowlistOnError {
	case "fail_open", "fail_closed":
	default:
		errs = append(errs, fmt.Errorf("config: gate.allowlist_on_error %q (want fail_open|fail_closed)", c.Gate.AllowlistOnError))
	}
	if _, err := url.Parse(c.Widget.LoginURL); err != nil {
		errs = append(errs, fmt.Errorf("config: widget.login_url: %w", err))
	}
	if c.Widget.LogoutURL != "" {
		if _, err := url.Parse(c.Widget.LogoutURL); err != nil {
			errs = append(errs, fmt.Errorf("config: widget.logout_url: %w", err))
		}
	}
	if c.Server.PublicURL != "" {
		if u, err := url.Parse(c.Server.PublicURL); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("config: server.public_url %q must be absolute", c.Server.PublicURL))
		}
	}
	if c.Session.TTL < time.Minute {
		errs = append(errs, fmt.Errorf("config: session.ttl %s too short", c.Session.TTL))
	}
	if c.Session.PendingTTL < time.Minute || c.Session.PendingTTL > c.Session.TTL {
		errs = append(errs, fmt.Errorf("config: session.pending_ttl %s must be between 1m and session.ttl", c.Session.PendingTTL))
	}
	if c.Rate.MaxRequests < 1 {
		errs = append(errs, errors.New("config: rate.max_requests must be >= 1"))
	}
	return errors.Join(errs...)
}

// IsProd indica si corremos en prod.
func (c *Config) IsProd() bool { return strings.EqualFold(c.App.Env, "prod") }

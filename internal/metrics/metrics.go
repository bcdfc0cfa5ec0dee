// Package metrics expone las métricas Prometheus del gate y de la capa HTTP.
package metrics

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/portalgate/internal/gate"
)

// Config agrupa lo necesario para registrar y exponer /metrics.
type Config struct {
	// Registry nil usa un registry propio (no el global), así los tests no chocan.
	Registry  *prometheus.Registry
	Namespace string
}

// Metrics mantiene los collectors registrados.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inflight        *prometheus.GaugeVec

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	logins        *prometheus.CounterVec
	rateRejects   *prometheus.CounterVec

	handler http.Handler
}

// Register crea y registra los collectors; devuelve también el handler de /metrics.
func Register(cfg Config) (*Metrics, error) {
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "portalgate"
	}

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "http_requests_total",
			Help: "Número total de requests procesadas",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "http_request_duration_seconds",
			Help:    "Latencia de los requests HTTP",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "http_inflight_requests",
			Help: "Requests en vuelo por método y ruta",
		}, []string{"method", "path"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "gate_cycles_total",
			Help: "Ciclos del gate por estado resultante",
		}, []string{"state"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Name: "gate_cycle_duration_seconds",
			Help:    "Duración de un ciclo del gate",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "gate_login_triggers_total",
			Help: "Disparos del login widget (shared=true si se unió a uno en vuelo)",
		}, []string{"provider", "shared"}),
		rateRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "rate_limit_rejects_total",
			Help: "Requests rechazadas por rate limit",
		}, []string{"path"}),
	}

	for _, c := range []prometheus.Collector{
		m.requestsTotal, m.requestDuration, m.inflight,
		m.cycles, m.cycleDuration, m.logins, m.rateRejects,
	} {
		if err := registerCollector(reg, c); err != nil {
			return nil, err
		}
	}
	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	return m, nil
}

// Handler sirve /metrics.
func (m *Metrics) Handler() http.Handler { return m.handler }

// ObserveCycle implementa gate.Observer.
func (m *Metrics) ObserveCycle(state gate.State, d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(string(state)).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

// RecordLogin cuenta un disparo del login widget.
func (m *Metrics) RecordLogin(provider string, shared bool) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(provider, strconv.FormatBool(shared)).Inc()
}

// RecordRateReject cuenta un rechazo del rate limiter.
func (m *Metrics) RecordRateReject(path string) {
	if m == nil {
		return
	}
	m.rateRejects.WithLabelValues(normalizePath(path)).Inc()
}

// Middleware instrumenta requests HTTP (contadores, latencia, inflight).
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := strings.ToUpper(r.Method)
		pathLabel := normalizePath(r.URL.Path)

		m.inflight.WithLabelValues(method, pathLabel).Inc()
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		defer func() {
			m.inflight.WithLabelValues(method, pathLabel).Dec()
			m.requestDuration.WithLabelValues(method, pathLabel).Observe(time.Since(start).Seconds())
			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			m.requestsTotal.WithLabelValues(method, pathLabel, strconv.Itoa(status)).Inc()
		}()
		next.ServeHTTP(rec, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// registerCollector registra el collector ignorando duplicados.
func registerCollector(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

var tokenSegmentRE = regexp.MustCompile(`^[A-Za-z0-9_-]{24,}$`)

// normalizePath colapsa segmentos dinámicos para no explotar la cardinalidad.
func normalizePath(p string) string {
	clean := strings.SplitN(p, "?", 2)[0]
	var out []string
	for _, seg := range strings.Split(clean, "/") {
		if seg == "" {
			continue
		}
		if len(seg) > 48 || tokenSegmentRE.MatchString(seg) {
			seg = ":param"
		} else if _, err := strconv.Atoi(seg); err == nil {
			seg = ":param"
		}
		out = append(out, seg)
	}
	if len(out) == 0 {
		return "/"
	}
	return "/" + strings.Join(out, "/")
}

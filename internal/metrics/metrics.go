package metrics

import (
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics agrupa los colectores Prometheus del servicio. Un *Metrics nil es válido y no registra nada.
type Metrics struct {
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	sessionsIssued   prometheus.Counter
	rotations        *prometheus.CounterVec
	reuseDetected    prometheus.Counter
	revokedTokens    prometheus.Counter
	logins           *prometheus.CounterVec
	verificationOps  *prometheus.CounterVec
	emailDeliveryErr *prometheus.CounterVec
}

// New crea y registra los colectores en reg (DefaultRegisterer si es nil).
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Número total de requests procesadas",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latencia de los requests HTTP",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		sessionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_sessions_issued_total",
			Help: "Refresh tokens emitidos por register, login u oauth",
		}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_refresh_rotations_total",
			Help: "Rotaciones de refresh token por resultado",
		}, []string{"result"}), // result: ok|invalid|reuse
		reuseDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_refresh_reuse_detected_total",
			Help: "Presentaciones de refresh tokens ya consumidos",
		}),
		revokedTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_refresh_tokens_revoked_total",
			Help: "Refresh tokens revocados",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Intentos de login por método y resultado",
		}, []string{"method", "result"}),
		verificationOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_verification_tokens_total",
			Help: "Tokens de verificación y reset por propósito y operación",
		}, []string{"purpose", "op"}),
		emailDeliveryErr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_email_delivery_failures_total",
			Help: "Fallos de envío de email por propósito",
		}, []string{"purpose"}),
	}

	for _, c := range []prometheus.Collector{
		m.httpRequests, m.httpDuration, m.sessionsIssued, m.rotations, m.reuseDetected,
		m.revokedTokens, m.logins, m.verificationOps, m.emailDeliveryErr,
	} {
		if err := registerCollector(reg, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RegisterPool expone gauges de conexiones del pool de Postgres.
func RegisterPool(reg prometheus.Registerer, pool *pgxpool.Pool) error {
	if pool == nil {
		return nil
	}
	return registerCollector(reg, &poolCollector{
		pool:         pool,
		acquiredDesc: prometheus.NewDesc("pg_pool_acquired", "Conexiones adquiridas", nil, nil),
		idleDesc:     prometheus.NewDesc("pg_pool_idle", "Conexiones inactivas", nil, nil),
		totalDesc:    prometheus.NewDesc("pg_pool_total", "Conexiones totales", nil, nil),
	})
}

func (m *Metrics) ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

func (m *Metrics) SessionIssued() {
	if m == nil {
		return
	}
	m.sessionsIssued.Inc()
}

func (m *Metrics) Rotation(result string) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(result).Inc()
}

func (m *Metrics) ReuseDetected() {
	if m == nil {
		return
	}
	m.reuseDetected.Inc()
}

func (m *Metrics) TokensRevoked(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.revokedTokens.Add(float64(n))
}

func (m *Metrics) Login(method, result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(method, result).Inc()
}

func (m *Metrics) VerificationToken(purpose, op string) {
	if m == nil {
		return
	}
	m.verificationOps.WithLabelValues(purpose, op).Inc()
}

func (m *Metrics) EmailDeliveryFailed(purpose string) {
	if m == nil {
		return
	}
	m.emailDeliveryErr.WithLabelValues(purpose).Inc()
}

// registerCollector registra el collector en el registry indicado, ignorando duplicados.
func registerCollector(reg prometheus.Registerer, collector prometheus.Collector) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := reg.Register(collector); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

type poolCollector struct {
	pool         *pgxpool.Pool
	acquiredDesc *prometheus.Desc
	idleDesc     *prometheus.Desc
	totalDesc    *prometheus.Desc
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquiredDesc
	ch <- c.idleDesc
	ch <- c.totalDesc
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	stat := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.acquiredDesc, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idleDesc, prometheus.GaugeValue, float64(stat.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.totalDesc, prometheus.GaugeValue, float64(stat.TotalConns()))
}

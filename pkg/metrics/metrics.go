package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/socialflow/resilience/pkg/resilience"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Breaker metrics
	BreakerTransitionsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "resilience",
		Subsystem: "",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
			[]string{"method", "path"},
		),
		BreakerTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"name", "from", "to"},
		),
		registry: prometheus.NewRegistry(),
	}

	if !config.Enabled {
		return m
	}

	m.registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.BreakerTransitionsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterBreakers adds a scrape-time collector over the breaker registry
func (m *Metrics) RegisterBreakers(reg *resilience.Registry) {
	m.registry.MustRegister(NewBreakerCollector(reg))
}

// StateChangeHook returns an OnStateChange callback that counts transitions
func (m *Metrics) StateChangeHook() func(name string, from, to resilience.CircuitState) {
	return func(name string, from, to resilience.CircuitState) {
		m.BreakerTransitionsTotal.WithLabelValues(name, from.String(), to.String()).Inc()
	}
}

// Handler returns a gin handler serving the metrics endpoint
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Middleware creates a gin middleware recording HTTP metrics
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, path).Inc()
		defer m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, path).Dec()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

// BreakerCollector exports circuit breaker state and counters from a
// registry at scrape time, so gauges never go stale.
type BreakerCollector struct {
	registry *resilience.Registry

	stateDesc     *prometheus.Desc
	failuresDesc  *prometheus.Desc
	successesDesc *prometheus.Desc
	rejectedDesc  *prometheus.Desc
}

// NewBreakerCollector creates a collector over the given breaker registry
func NewBreakerCollector(registry *resilience.Registry) *BreakerCollector {
	return &BreakerCollector{
		registry: registry,
		stateDesc: prometheus.NewDesc(
			"resilience_breaker_state",
			"Current circuit breaker state (0=CLOSED, 1=OPEN, 2=HALF_OPEN)",
			[]string{"name"}, nil,
		),
		failuresDesc: prometheus.NewDesc(
			"resilience_breaker_failures_total",
			"Counted failures recorded by the circuit breaker",
			[]string{"name"}, nil,
		),
		successesDesc: prometheus.NewDesc(
			"resilience_breaker_successes_total",
			"Successes recorded by the circuit breaker",
			[]string{"name"}, nil,
		),
		rejectedDesc: prometheus.NewDesc(
			"resilience_breaker_rejected_total",
			"Calls rejected by the circuit breaker",
			[]string{"name"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (bc *BreakerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- bc.stateDesc
	ch <- bc.failuresDesc
	ch <- bc.successesDesc
	ch <- bc.rejectedDesc
}

// Collect implements prometheus.Collector
func (bc *BreakerCollector) Collect(ch chan<- prometheus.Metric) {
	for name, cb := range bc.registry.All() {
		status := cb.Status()

		ch <- prometheus.MustNewConstMetric(bc.stateDesc, prometheus.GaugeValue, float64(cb.State()), name)
		ch <- prometheus.MustNewConstMetric(bc.failuresDesc, prometheus.CounterValue, float64(status.FailureCount), name)
		ch <- prometheus.MustNewConstMetric(bc.successesDesc, prometheus.CounterValue, float64(status.SuccessCount), name)
		ch <- prometheus.MustNewConstMetric(bc.rejectedDesc, prometheus.CounterValue, float64(status.RejectedCount), name)
	}
}

package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the dispatch pipeline.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	dispatchTotal         *prometheus.CounterVec
	buildDuration         *prometheus.HistogramVec
	unitsBuiltTotal       *prometheus.CounterVec
	sendsTotal            *prometheus.CounterVec
	sendDuration          *prometheus.HistogramVec
	retryScheduledTotal   prometheus.Counter
	deadLetteredTotal     prometheus.Counter
	usersRateLimitedTotal prometheus.Counter
	breakerState          prometheus.Gauge
	queueDepth            *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "push_pipeline",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "push_pipeline",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		dispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "push_pipeline",
				Name:      "dispatch_requests_total",
				Help:      "Total number of dispatch requests by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		buildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "push_pipeline",
				Name:      "build_duration_seconds",
				Help:      "Template/target resolution duration in seconds by kind.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"kind"},
		),
		unitsBuiltTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "push_pipeline",
				Name:      "dispatch_units_built_total",
				Help:      "Total number of dispatch units produced by delivery type.",
			},
			[]string{"delivery_type"},
		),
		sendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "push_pipeline",
				Name:      "sends_total",
				Help:      "Total number of transport sends by delivery type and result.",
			},
			[]string{"delivery_type", "result"},
		),
		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "push_pipeline",
				Name:      "send_duration_seconds",
				Help:      "Transport send duration in seconds grouped by delivery type.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"delivery_type"},
		),
		retryScheduledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "push_pipeline",
				Name:      "retry_scheduled_total",
				Help:      "Total number of queue items rescheduled for retry.",
			},
		),
		deadLetteredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "push_pipeline",
				Name:      "dead_lettered_total",
				Help:      "Total number of queue items moved to the dead-letter list.",
			},
		),
		usersRateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "push_pipeline",
				Name:      "users_rate_limited_total",
				Help:      "Total number of users excluded from targeting by the rate limiter.",
			},
		),
		breakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "push_pipeline",
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
			},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "push_pipeline",
				Name:      "queue_depth",
				Help:      "Current queue depth by list (pending, dead_letter).",
			},
			[]string{"list"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.dispatchTotal,
		m.buildDuration,
		m.unitsBuiltTotal,
		m.sendsTotal,
		m.sendDuration,
		m.retryScheduledTotal,
		m.deadLetteredTotal,
		m.usersRateLimitedTotal,
		m.breakerState,
		m.queueDepth,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncDispatch(kind string, outcome string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) ObserveBuildDuration(kind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.buildDuration.WithLabelValues(normalizeLabel(kind)).Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) AddUnitsBuilt(deliveryType string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.unitsBuiltTotal.WithLabelValues(normalizeLabel(deliveryType)).Add(float64(count))
}

func (m *Metrics) IncSend(deliveryType string, result string) {
	if m == nil {
		return
	}
	m.sendsTotal.WithLabelValues(normalizeLabel(deliveryType), normalizeLabel(result)).Inc()
}

func (m *Metrics) ObserveSendDuration(deliveryType string, duration time.Duration) {
	if m == nil {
		return
	}
	m.sendDuration.WithLabelValues(normalizeLabel(deliveryType)).Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) IncRetryScheduled() {
	if m == nil {
		return
	}
	m.retryScheduledTotal.Inc()
}

func (m *Metrics) IncDeadLettered() {
	if m == nil {
		return
	}
	m.deadLetteredTotal.Inc()
}

func (m *Metrics) IncUserRateLimited() {
	if m == nil {
		return
	}
	m.usersRateLimitedTotal.Inc()
}

func (m *Metrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.breakerState.Set(float64(state))
}

func (m *Metrics) SetQueueDepth(pending int, deadLetters int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues("pending").Set(float64(pending))
	m.queueDepth.WithLabelValues("dead_letter").Set(float64(deadLetters))
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

func nonNegativeSeconds(duration time.Duration) float64 {
	seconds := duration.Seconds()
	if seconds < 0 {
		return 0
	}
	return seconds
}

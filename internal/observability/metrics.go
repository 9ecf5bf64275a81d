package observability

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsNamespace = "wali_dispatch"
	unknownLabel     = "unknown"
	unmatchedRoute   = "unmatched"
)

// Metrics holds the Prometheus collectors. All methods are safe on a nil
// receiver so components can run without metrics wired in.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	notificationsSentTotal   *prometheus.CounterVec
	notificationsFailedTotal *prometheus.CounterVec
	notificationsLoggedTotal *prometheus.CounterVec
	deliveryAttemptsTotal    *prometheus.CounterVec
	sendDurationSeconds      *prometheus.HistogramVec
	throttleWaitSeconds      prometheus.Histogram
	producerSkippedTotal     *prometheus.CounterVec
	redispatchPublishedTotal *prometheus.CounterVec
	redispatchHandledTotal   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: metricsNamespace, Name: name, Help: help}, labels)
	}

	return &Metrics{
		registry: reg,

		httpRequestsTotal: counter("http_requests_total",
			"HTTP requests by method, route and status.", "method", "path", "status"),
		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		notificationsSentTotal: counter("notifications_sent_total",
			"Dispatch jobs that reached sent.", "event"),
		notificationsFailedTotal: counter("notifications_failed_total",
			"Dispatch jobs that ended failed, by failure kind.", "event", "reason"),
		notificationsLoggedTotal: counter("notifications_logged_total",
			"Log-only notification rows written.", "event"),
		deliveryAttemptsTotal: counter("delivery_attempts_total",
			"Transport calls by event and outcome.", "event", "outcome"),
		sendDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "transport_send_duration_seconds",
			Help:      "Latency of a single transport call.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"outcome"}),
		throttleWaitSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "throttle_wait_seconds",
			Help:      "Time spent waiting for the per-recipient throttle window.",
			Buckets:   []float64{0, 0.05, 0.25, 0.5, 1, 2, 3, 4, 5, 10},
		}),

		producerSkippedTotal: counter("producer_skipped_total",
			"Tahfidz events with no wali contact on file.", "event"),
		redispatchPublishedTotal: counter("redispatch_published_total",
			"Notifications handed to the redispatch queue.", "reason"),
		redispatchHandledTotal: counter("redispatch_handled_total",
			"Redispatch messages consumed, by result.", "result"),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// HTTPMiddleware records request count and latency per matched route. The
// /metrics scrape itself is not counted.
func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		if path := routePath(c); path != "/metrics" {
			m.recordHTTPRequest(c.Method(), path, responseStatus(c, err), time.Since(start))
		}
		return err
	}
}

func (m *Metrics) IncNotificationSent(event string) {
	if m != nil {
		m.notificationsSentTotal.WithLabelValues(label(event)).Inc()
	}
}

func (m *Metrics) IncNotificationFailed(event string, reason string) {
	if m != nil {
		m.notificationsFailedTotal.WithLabelValues(label(event), label(reason)).Inc()
	}
}

func (m *Metrics) IncNotificationLogged(event string) {
	if m != nil {
		m.notificationsLoggedTotal.WithLabelValues(label(event)).Inc()
	}
}

func (m *Metrics) IncDeliveryAttempt(event string, outcome string) {
	if m != nil {
		m.deliveryAttemptsTotal.WithLabelValues(label(event), label(outcome)).Inc()
	}
}

func (m *Metrics) ObserveSendDuration(outcome string, d time.Duration) {
	if m != nil {
		m.sendDurationSeconds.WithLabelValues(label(outcome)).Observe(seconds(d))
	}
}

func (m *Metrics) ObserveThrottleWait(d time.Duration) {
	if m != nil {
		m.throttleWaitSeconds.Observe(seconds(d))
	}
}

func (m *Metrics) IncProducerSkipped(event string) {
	if m != nil {
		m.producerSkippedTotal.WithLabelValues(label(event)).Inc()
	}
}

func (m *Metrics) IncRedispatchPublished(reason string) {
	if m != nil {
		m.redispatchPublishedTotal.WithLabelValues(label(reason)).Inc()
	}
}

func (m *Metrics) IncRedispatchHandled(result string) {
	if m != nil {
		m.redispatchHandledTotal.WithLabelValues(label(result)).Inc()
	}
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, d time.Duration) {
	if m == nil {
		return
	}

	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "UNKNOWN"
	}

	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil || c.Route() == nil {
		return unmatchedRoute
	}
	if path := strings.TrimSpace(c.Route().Path); path != "" {
		return path
	}
	return unmatchedRoute
}

func responseStatus(c *fiber.Ctx, err error) int {
	if err != nil {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return fe.Code
		}
		return fiber.StatusInternalServerError
	}
	if c != nil {
		if status := c.Response().StatusCode(); status != 0 {
			return status
		}
	}
	return fiber.StatusOK
}

func label(value string) string {
	if v := strings.ToLower(strings.TrimSpace(value)); v != "" {
		return v
	}
	return unknownLabel
}

func seconds(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return d.Seconds()
}

// Package metrics exposes proxy activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "poe_proxy"

// Collector records request, token, tool-call and upload metrics. A nil
// *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tokensTotal     *prometheus.CounterVec
	toolCallsTotal  *prometheus.CounterVec
	upstreamErrors  *prometheus.CounterVec
	uploadsTotal    *prometheus.CounterVec
}

// NewCollector registers all metrics with registry, or with a fresh registry
// when registry is nil.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	c := &Collector{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Completed API requests by endpoint, model and HTTP status.",
		}, []string{"endpoint", "model", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "API request duration, including the full upstream stream.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"endpoint", "model"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimated_tokens_total",
			Help:      "Estimated tokens by model and kind (prompt, completion, reasoning).",
		}, []string{"model", "kind"}),
		toolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls returned to clients by model and extraction path.",
		}, []string{"model", "path"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Errors reported by Poe, by mapped HTTP status.",
		}, []string{"status"}),
		uploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Attachment uploads by result (uploaded, cached, failed).",
		}, []string{"result"}),
	}
	registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.tokensTotal,
		c.toolCallsTotal,
		c.upstreamErrors,
		c.uploadsTotal,
	)
	return c
}

// ObserveRequest records one finished API request.
func (c *Collector) ObserveRequest(endpoint, model string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(endpoint, model, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(endpoint, model).Observe(duration.Seconds())
}

// AddTokens records estimated token counts.
func (c *Collector) AddTokens(model string, prompt, completion, reasoning int) {
	if c == nil {
		return
	}
	c.tokensTotal.WithLabelValues(model, "prompt").Add(float64(prompt))
	c.tokensTotal.WithLabelValues(model, "completion").Add(float64(completion))
	if reasoning > 0 {
		c.tokensTotal.WithLabelValues(model, "reasoning").Add(float64(reasoning))
	}
}

// AddToolCalls records n tool calls extracted via path ("native" or "inline").
func (c *Collector) AddToolCalls(model, path string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.toolCallsTotal.WithLabelValues(model, path).Add(float64(n))
}

// UpstreamError records a Poe failure.
func (c *Collector) UpstreamError(status int) {
	if c == nil {
		return
	}
	c.upstreamErrors.WithLabelValues(strconv.Itoa(status)).Inc()
}

// Upload records an attachment upload outcome.
func (c *Collector) Upload(result string) {
	if c == nil {
		return
	}
	c.uploadsTotal.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

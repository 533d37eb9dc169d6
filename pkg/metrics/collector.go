package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "msgrelay"

// Outcome labels for requests_total.
const (
	OutcomeRelayed      = "relayed"
	OutcomeUnauthorized = "unauthorized"
	OutcomeFailed       = "failed"
)

// Relay modes for upstream timings.
const (
	ModeBuffered = "buffered"
	ModeStream   = "stream"
)

// Collector owns the relay's Prometheus metrics. A nil *Collector is valid
// and records nothing, so callers never need to check whether metrics are on.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	upstreamStatus   *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	streamBytes      prometheus.Counter
	metadataInjected prometheus.Counter
	malformedBodies  prometheus.Counter
}

// NewCollector registers the relay metrics on registry, or on a fresh
// registry when nil.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	c := &Collector{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Requests handled on the messages route, by outcome",
			},
			[]string{"outcome"},
		),
		upstreamStatus: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_responses_total",
				Help:      "Backend responses by status class",
			},
			[]string{"class"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_duration_seconds",
				Help:      "Time from dispatch until the relayed body is complete",
				// LLM responses run from sub-second to several minutes when streamed.
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"mode"},
		),
		streamBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_bytes_total",
			Help:      "Bytes relayed to clients on streamed responses",
		}),
		metadataInjected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_injected_total",
			Help:      "Requests that received a synthetic metadata.user_id",
		}),
		malformedBodies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_bodies_total",
			Help:      "Request bodies forwarded unparsed because they were not a JSON object",
		}),
	}
	registry.MustRegister(
		c.requestsTotal,
		c.upstreamStatus,
		c.upstreamDuration,
		c.streamBytes,
		c.metadataInjected,
		c.malformedBodies,
	)
	return c
}

func (c *Collector) RecordRequest(outcome string) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordUpstream(status int, mode string, d time.Duration) {
	if c == nil {
		return
	}
	c.upstreamStatus.WithLabelValues(statusClass(status)).Inc()
	c.upstreamDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func (c *Collector) AddStreamBytes(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.streamBytes.Add(float64(n))
}

func (c *Collector) RecordMetadataInjected() {
	if c == nil {
		return
	}
	c.metadataInjected.Inc()
}

func (c *Collector) RecordMalformedBody() {
	if c == nil {
		return
	}
	c.malformedBodies.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}

// Package metricsreport exposes the /metrics counters, histograms and gauges spec.md §6 calls
// for: counters per routing outcome, histograms of end-to-end latency and bytes relayed, gauges of
// cached connections and active streams. Grounded on proxy/metrics.go and connection/metrics.go's
// use of prometheus namespace/subsystem conventions.
package metricsreport

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "datum_connect"
)

// Outcome labels the routing outcomes spec.md §6 names for the request counter.
type Outcome string

const (
	OutcomeOK         Outcome = "ok"
	OutcomeBadRequest Outcome = "bad_request"
	OutcomeNotFound   Outcome = "not_found"
	OutcomeBadGateway Outcome = "bad_gateway"
	OutcomeTimeout    Outcome = "timeout"
	OutcomeCancelled  Outcome = "cancelled"
)

// Registry bundles every metric this module emits. One Registry is process-wide, shared by the
// forwarder, the upstream listener and datum-gateway's cached-connections reporter.
type Registry struct {
	RequestsByOutcome   *prometheus.CounterVec
	EndToEndLatency     prometheus.Histogram
	BytesRelayed        prometheus.Histogram
	CachedConnections   prometheus.Gauge
	ActiveStreams       prometheus.Gauge
	DeviceLocalRequests *prometheus.CounterVec
}

// NewRegistry constructs and registers every metric against reg (typically
// prometheus.DefaultRegisterer or a freshly built *prometheus.Registry in tests).
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		RequestsByOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Count of inbound requests by routing outcome",
		}, []string{"outcome"}),
		EndToEndLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "End-to-end latency from inbound request to final response byte",
			Buckets:   prometheus.DefBuckets,
		}),
		BytesRelayed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "response_bytes_relayed",
			Help:      "Bytes of response body relayed back to the inbound client, per request",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		}),
		CachedConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connmgr",
			Name:      "cached_connections",
			Help:      "Number of overlay connections currently cached by the ConnectionManager",
		}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "active_streams",
			Help:      "Number of overlay streams currently being served by the UpstreamProxyListener",
		}),
		DeviceLocalRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "local_requests_total",
			Help:      "Count of requests the device proxied to its local service, by response status class",
		}, []string{"status_class"}),
	}

	reg.MustRegister(
		r.RequestsByOutcome,
		r.EndToEndLatency,
		r.BytesRelayed,
		r.CachedConnections,
		r.ActiveStreams,
		r.DeviceLocalRequests,
	)
	return r
}

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

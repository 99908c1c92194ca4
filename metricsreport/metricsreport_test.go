package metricsreport

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryRegistersEveryMetric(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.RequestsByOutcome.WithLabelValues(string(OutcomeOK)).Inc()
	r.EndToEndLatency.Observe(0.042)
	r.BytesRelayed.Observe(256)
	r.CachedConnections.Set(3)
	r.ActiveStreams.Inc()
	r.DeviceLocalRequests.WithLabelValues("2xx").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["datum_connect_gateway_requests_total"])
	assert.True(t, names["datum_connect_gateway_request_duration_seconds"])
	assert.True(t, names["datum_connect_gateway_response_bytes_relayed"])
	assert.True(t, names["datum_connect_connmgr_cached_connections"])
	assert.True(t, names["datum_connect_upstream_active_streams"])
	assert.True(t, names["datum_connect_upstream_local_requests_total"])
}

func TestCachedConnectionsGaugeValue(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)
	r.CachedConnections.Set(5)

	metric := &dto.Metric{}
	require.NoError(t, r.CachedConnections.Write(metric))
	assert.Equal(t, 5.0, metric.GetGauge().GetValue())
}

func TestHandlerServesMetrics(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
}

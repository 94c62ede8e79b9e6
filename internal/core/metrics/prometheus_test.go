package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector_RecordsPipelineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := NewPrometheusCollector(&MetricsConfig{Enabled: true, Prefix: "test"}, reg)

	collector.RecordCacheHit()
	collector.RecordCacheHit()
	collector.RecordCacheMiss()
	collector.RecordCacheEviction()
	collector.RecordResolution("parser", "valid")
	collector.RecordFetch(10*time.Millisecond, errors.New("boom"))
	collector.RecordEvent("emitted", "value_changed", "major")
	collector.SetTrackedDevices(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.cacheRequests.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.cacheRequests.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.cacheEvictions))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.resolutions.WithLabelValues("parser", "valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.fetchErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.events.WithLabelValues("emitted", "value_changed", "major")))
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.trackedDevices))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestPrometheusCollector_DisabledAndNil(t *testing.T) {
	collector := NewPrometheusCollector(&MetricsConfig{Enabled: false, Prefix: "off"}, prometheus.NewRegistry())
	collector.RecordCacheHit()
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.cacheRequests.WithLabelValues("hit")))

	var nilCollector *PrometheusCollector
	assert.NotPanics(t, func() {
		nilCollector.RecordCacheMiss()
		nilCollector.RecordEvent("suppressed", "value_changed", "trivial")
		nilCollector.SetTrackedDevices(1)
	})
}

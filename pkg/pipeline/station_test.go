package pipeline

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audiomon-server/pkg/errors"
	"audiomon-server/pkg/metrics"
)

func TestMain(m *testing.M) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	metrics.Init(logger)
	os.Exit(m.Run())
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestRegistryRegisterAndGet(t *testing.T) {
	registry := NewRegistry()

	err := registry.Register(Station{
		ID:         "probe-1",
		Direction:  "RX",
		PreMetrics: []string{"pcm.rms_dbfs", "pcm.peak_dbfs"},
	})
	require.NoError(t, err)

	station, ok := registry.Get("probe-1")
	assert.True(t, ok)
	assert.Equal(t, "RX", station.Direction)

	_, ok = registry.Get("probe-2")
	assert.False(t, ok)
	assert.Equal(t, 1, registry.Count())
}

func TestRegistryRejectsBadStations(t *testing.T) {
	registry := NewRegistry()

	// Missing ID
	err := registry.Register(Station{PreMetrics: []string{"pcm.rms_dbfs"}})
	assert.Error(t, err)

	// Metric key absent from the catalog fails at registration, so a typo
	// surfaces at startup instead of per frame
	err = registry.Register(Station{ID: "probe-1", PreMetrics: []string{"pcm.rms"}})
	require.Error(t, err)
	assert.Equal(t, "UNKNOWN_METRIC", errors.GetErrorCode(err))

	err = registry.Register(Station{ID: "probe-1", PostMetrics: []string{"nope"}})
	assert.Error(t, err, "post metrics validate too")

	assert.Zero(t, registry.Count())
}

func TestRegistryList(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(Station{ID: "b"}))
	require.NoError(t, registry.Register(Station{ID: "a"}))
	require.NoError(t, registry.Register(Station{ID: "c"}))

	list := registry.List()
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "c", list[2].ID)
}

func TestDefaultStations(t *testing.T) {
	registry := NewRegistry()
	stations := DefaultStations()
	require.Len(t, stations, 2)

	// Every stock station registers cleanly: all metric keys exist
	for _, station := range stations {
		require.NoError(t, registry.Register(station), "station %s must register", station.ID)
	}

	ingress, ok := registry.Get("pcm_ingress")
	require.True(t, ok)
	assert.Equal(t, "RX", ingress.Direction)
	assert.Contains(t, ingress.PreMetrics, "stream.sample_rate")
	assert.Contains(t, ingress.PostMetrics, "health.audio_score")

	egress, ok := registry.Get("pcm_egress")
	require.True(t, ok)
	assert.Equal(t, "TX", egress.Direction)
}

func TestRegistryRegisterWithMetricsDisabled(t *testing.T) {
	metrics.EnableMetrics(false)
	defer metrics.EnableMetrics(true)

	registry := NewRegistry()
	assert.NotPanics(t, func() {
		for _, station := range DefaultStations() {
			require.NoError(t, registry.Register(station))
		}
	})
	assert.Equal(t, 2, registry.Count())
}

// Package metrics exposes the server's own operational counters via
// Prometheus. These describe the monitoring pipeline itself, not the
// audio it measures; per-call audio metrics flow through the aggregator.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry           *prometheus.Registry
	registryOnce       sync.Once
	defaultMetricsPath = "/metrics"
	metricsEnabled     = true
	initialized        bool

	// Frame path metrics
	FramesProcessed *prometheus.CounterVec
	FrameLatency    *prometheus.HistogramVec
	FramesRejected  *prometheus.CounterVec
	ComputeFailures *prometheus.CounterVec
	StationsActive  prometheus.Gauge

	// Aggregation metrics
	BucketsFlushed prometheus.Counter
	BucketsEvicted prometheus.Counter
	RowsEmitted    prometheus.Counter
	RowsDropped    *prometheus.CounterVec
	EmitQueueDepth prometheus.Gauge

	// Segment metrics
	SegmentsWritten    prometheus.Counter
	SegmentsDropped    prometheus.Counter
	SegmentWriteErrors prometheus.Counter
	SegmentQueueDepth  prometheus.Gauge
	RecorderGuardTrips prometheus.Counter

	// Backpressure metrics
	BackpressureActive *prometheus.GaugeVec

	// Knob metrics
	KnobChanges *prometheus.CounterVec

	// Store metrics
	StoreWriteFailures   *prometheus.CounterVec
	AMQPConnectionStatus prometheus.Gauge
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		FramesProcessed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audiomon_frames_processed_total",
				Help: "Total number of PCM frames run through a station",
			},
			[]string{"station_id", "tap"},
		)

		FrameLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "audiomon_frame_latency_seconds",
				Help:    "Per-frame processing latency inside a station",
				Buckets: prometheus.ExponentialBuckets(0.00001, 2, 12), // 10us to ~40ms
			},
			[]string{"station_id"},
		)

		FramesRejected = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audiomon_frames_rejected_total",
				Help: "Frames rejected before processing",
			},
			[]string{"reason"},
		)

		ComputeFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audiomon_compute_failures_total",
				Help: "Metric compute functions that panicked or failed",
			},
			[]string{"metric_key"},
		)

		StationsActive = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "audiomon_stations_active",
				Help: "Number of registered monitoring stations",
			},
		)

		BucketsFlushed = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "audiomon_buckets_flushed_total",
				Help: "Closed aggregation buckets flushed downstream",
			},
		)

		BucketsEvicted = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "audiomon_buckets_evicted_total",
				Help: "Aggregation buckets evicted by the in-memory ceiling",
			},
		)

		RowsEmitted = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "audiomon_rows_emitted_total",
				Help: "Aggregated metric rows handed to the emitter",
			},
		)

		RowsDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audiomon_rows_dropped_total",
				Help: "Aggregated metric rows shed under backpressure",
			},
			[]string{"stage"},
		)

		EmitQueueDepth = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "audiomon_emit_queue_depth",
				Help: "Metric rows waiting for store delivery",
			},
		)

		SegmentsWritten = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "audiomon_segments_written_total",
				Help: "Audio segments written to disk",
			},
		)

		SegmentsDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "audiomon_segments_dropped_total",
				Help: "Audio segments shed by the writer queue",
			},
		)

		SegmentWriteErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "audiomon_segment_write_errors_total",
				Help: "Audio segment disk write failures",
			},
		)

		SegmentQueueDepth = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "audiomon_segment_queue_depth",
				Help: "Audio segments waiting for disk write",
			},
		)

		RecorderGuardTrips = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "audiomon_recorder_guard_trips_total",
				Help: "Segment accumulations force-rotated by the size guard",
			},
		)

		BackpressureActive = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "audiomon_backpressure_active",
				Help: "Whether a queue is above its high watermark (1) or recovered (0)",
			},
			[]string{"queue"},
		)

		KnobChanges = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audiomon_knob_changes_total",
				Help: "Accepted knob override changes",
			},
			[]string{"scope"},
		)

		StoreWriteFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audiomon_store_write_failures_total",
				Help: "Failed writes to the durable store",
			},
			[]string{"operation"},
		)

		AMQPConnectionStatus = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "audiomon_amqp_connection_status",
				Help: "AMQP connection status (1 = connected, 0 = disconnected)",
			},
		)

		registry.MustRegister(
			FramesProcessed,
			FrameLatency,
			FramesRejected,
			ComputeFailures,
			StationsActive,
			BucketsFlushed,
			BucketsEvicted,
			RowsEmitted,
			RowsDropped,
			EmitQueueDepth,
			SegmentsWritten,
			SegmentsDropped,
			SegmentWriteErrors,
			SegmentQueueDepth,
			RecorderGuardTrips,
			BackpressureActive,
			KnobChanges,
			StoreWriteFailures,
			AMQPConnectionStatus,
		)

		initialized = true
		logger.Info("Prometheus metrics initialized")
	})
}

// enabled reports whether the helpers may touch the collectors. Both
// conditions matter: the collectors are nil until Init runs.
func enabled() bool {
	return metricsEnabled && initialized
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	return registry
}

// SetMetricsPath sets the HTTP path for metrics endpoint
func SetMetricsPath(path string) {
	defaultMetricsPath = path
}

// EnableMetrics enables or disables metrics collection
func EnableMetrics(on bool) {
	metricsEnabled = on
}

// IsMetricsEnabled reports whether metrics are enabled and initialized.
// Callers touching collectors directly must check this first.
func IsMetricsEnabled() bool {
	return enabled()
}

// RegisterHandler registers the metrics HTTP handler
func RegisterHandler(mux *http.ServeMux) {
	if enabled() {
		handler := promhttp.HandlerFor(
			registry,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				Registry:          registry,
			},
		)
		mux.Handle(defaultMetricsPath, handler)
	}
}

// RecordFrame records one processed frame and its latency.
func RecordFrame(stationID, tap string, duration time.Duration) {
	if enabled() {
		FramesProcessed.WithLabelValues(stationID, tap).Inc()
		FrameLatency.WithLabelValues(stationID).Observe(duration.Seconds())
	}
}

// RecordFrameRejected records a frame rejected before processing.
func RecordFrameRejected(reason string) {
	if enabled() {
		FramesRejected.WithLabelValues(reason).Inc()
	}
}

// RecordComputeFailure records a metric compute panic or failure.
func RecordComputeFailure(metricKey string) {
	if enabled() {
		ComputeFailures.WithLabelValues(metricKey).Inc()
	}
}

// SetStationsActive updates the registered station count gauge.
func SetStationsActive(count int) {
	if enabled() {
		StationsActive.Set(float64(count))
	}
}

// RecordBucketFlush records one closed bucket and its emitted rows.
func RecordBucketFlush(rows int) {
	if enabled() {
		BucketsFlushed.Inc()
		RowsEmitted.Add(float64(rows))
	}
}

// RecordBucketEviction records buckets evicted by the memory ceiling.
func RecordBucketEviction(count int) {
	if enabled() {
		BucketsEvicted.Add(float64(count))
	}
}

// RecordRowsDropped records rows shed at a pipeline stage.
func RecordRowsDropped(stage string, count int) {
	if enabled() && count > 0 {
		RowsDropped.WithLabelValues(stage).Add(float64(count))
	}
}

// RecordSegmentWritten records one segment written to disk.
func RecordSegmentWritten() {
	if enabled() {
		SegmentsWritten.Inc()
	}
}

// RecordSegmentDropped records segments shed by the writer queue.
func RecordSegmentDropped(count int) {
	if enabled() && count > 0 {
		SegmentsDropped.Add(float64(count))
	}
}

// RecordSegmentWriteError records one failed segment disk write.
func RecordSegmentWriteError() {
	if enabled() {
		SegmentWriteErrors.Inc()
	}
}

// RecordGuardTrip records one size-guard forced rotation.
func RecordGuardTrip() {
	if enabled() {
		RecorderGuardTrips.Inc()
	}
}

// SetBackpressure flags a queue as above (true) or below (false) pressure.
func SetBackpressure(queue string, active bool) {
	if enabled() {
		v := 0.0
		if active {
			v = 1.0
		}
		BackpressureActive.WithLabelValues(queue).Set(v)
	}
}

// RecordKnobChange records one accepted knob override.
func RecordKnobChange(scope string) {
	if enabled() {
		KnobChanges.WithLabelValues(scope).Inc()
	}
}

// RecordStoreFailure records one failed store write.
func RecordStoreFailure(operation string) {
	if enabled() {
		StoreWriteFailures.WithLabelValues(operation).Inc()
	}
}

// SetAMQPConnectionStatus updates the broker connection gauge.
func SetAMQPConnectionStatus(connected bool) {
	if enabled() {
		if connected {
			AMQPConnectionStatus.Set(1)
		} else {
			AMQPConnectionStatus.Set(0)
		}
	}
}

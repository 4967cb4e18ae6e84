package aggregate

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audiomon-server/pkg/metrics"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// rowCollector is a FlushFunc that records every batch it receives.
type rowCollector struct {
	mu      sync.Mutex
	batches [][]Row
}

func (c *rowCollector) flush(rows []Row) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, rows)
}

func (c *rowCollector) all() []Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	var rows []Row
	for _, batch := range c.batches {
		rows = append(rows, batch...)
	}
	return rows
}

func testKey(metric string) SeriesKey {
	return SeriesKey{CallID: "call-1", StationID: "st-1", Tap: "PRE", MetricKey: metric}
}

func TestAggregatorStatistics(t *testing.T) {
	collector := &rowCollector{}
	agg := New(collector.flush, testLogger())

	// 1. Three samples land in the same bucket
	key := testKey("pcm.rms_dbfs")
	agg.AddSample(key, 10_000, 1)
	agg.AddSample(key, 12_345, 3)
	agg.AddSample(key, 14_999, 5)

	agg.FlushAll()

	rows := collector.all()
	require.Len(t, rows, 1)

	// 2. Running statistics cover all three values
	row := rows[0]
	assert.Equal(t, int64(10_000), row.BucketTS, "every timestamp floors to the same bucket")
	assert.Equal(t, int64(5000), row.BucketMS)
	assert.Equal(t, int64(3), row.Count)
	assert.Equal(t, 1.0, row.Min)
	assert.Equal(t, 5.0, row.Max)
	assert.Equal(t, 9.0, row.Sum)
	assert.Equal(t, 3.0, row.Avg)
	assert.Equal(t, 5.0, row.Last)
}

func TestAggregatorNaNSamples(t *testing.T) {
	collector := &rowCollector{}
	agg := New(collector.flush, testLogger())

	key := testKey("pcm.rms_dbfs")
	agg.AddSample(key, 10_000, 1)
	agg.AddSample(key, 10_000, 3)
	agg.AddSample(key, 10_000, math.NaN())
	agg.AddSample(key, 10_000, 5)

	agg.FlushAll()

	rows := collector.all()
	require.Len(t, rows, 1)

	// NaN bumps the count but leaves every statistic untouched
	row := rows[0]
	assert.Equal(t, int64(4), row.Count)
	assert.Equal(t, 1.0, row.Min)
	assert.Equal(t, 5.0, row.Max)
	assert.Equal(t, 9.0, row.Sum)
	assert.Equal(t, 3.0, row.Avg, "average is over numeric samples only")
	assert.Equal(t, 5.0, row.Last)
}

func TestAggregatorAllNaNSeries(t *testing.T) {
	collector := &rowCollector{}
	agg := New(collector.flush, testLogger())

	agg.AddSample(testKey("pipe.latency_ms"), 10_000, math.NaN())
	agg.FlushAll()

	rows := collector.all()
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].Count)
	assert.True(t, math.IsNaN(rows[0].Min), "no numeric sample means no statistics")
	assert.True(t, math.IsNaN(rows[0].Avg))
}

func TestAggregatorIgnoresIncompleteKeys(t *testing.T) {
	collector := &rowCollector{}
	agg := New(collector.flush, testLogger())

	agg.AddSample(SeriesKey{CallID: "", StationID: "st", Tap: "PRE", MetricKey: "m"}, 10_000, 1)
	agg.AddSample(SeriesKey{CallID: "c", StationID: "st", Tap: "PRE", MetricKey: ""}, 10_000, 1)
	agg.FlushAll()

	assert.Empty(t, collector.all())
}

func TestAggregatorSweepKeepsOpenBucket(t *testing.T) {
	collector := &rowCollector{}
	now := time.UnixMilli(17_000)
	agg := New(collector.flush, testLogger(), WithClock(func() time.Time { return now }))

	// Closed bucket at 10000, open bucket at 15000 (now is 17000)
	agg.AddSample(testKey("pcm.rms_dbfs"), 11_000, 1)
	agg.AddSample(testKey("pcm.rms_dbfs"), 16_000, 2)

	agg.SweepNow()

	rows := collector.all()
	require.Len(t, rows, 1, "only the closed bucket flushes")
	assert.Equal(t, int64(10_000), rows[0].BucketTS)

	_, open := agg.Stats()
	assert.Equal(t, 1, open, "the current bucket stays in memory")

	// FlushAll drains the open bucket too
	agg.FlushAll()
	assert.Len(t, collector.all(), 2)
}

func TestAggregatorFlushOrderAndRowSort(t *testing.T) {
	collector := &rowCollector{}
	agg := New(collector.flush, testLogger())

	// Buckets added out of order, plus several series in one bucket
	agg.AddSample(SeriesKey{"c", "st-b", "PRE", "m1"}, 20_000, 1)
	agg.AddSample(SeriesKey{"c", "st-a", "PRE", "m2"}, 20_000, 1)
	agg.AddSample(SeriesKey{"c", "st-a", "PRE", "m1"}, 20_000, 1)
	agg.AddSample(SeriesKey{"c", "st-a", "POST", "m1"}, 20_000, 1)
	agg.AddSample(SeriesKey{"c", "st-a", "PRE", "m1"}, 10_000, 1)

	agg.FlushAll()

	require.Len(t, collector.batches, 2, "one callback per bucket")
	assert.Equal(t, int64(10_000), collector.batches[0][0].BucketTS, "buckets flush oldest first")

	// Rows inside a bucket sort by station, tap, metric
	batch := collector.batches[1]
	require.Len(t, batch, 4)
	assert.Equal(t, "POST", batch[0].Tap)
	assert.Equal(t, "m1", batch[1].MetricKey)
	assert.Equal(t, "m2", batch[2].MetricKey)
	assert.Equal(t, "st-b", batch[3].StationID)
}

func TestAggregatorEviction(t *testing.T) {
	collector := &rowCollector{}
	agg := New(collector.flush, testLogger(), WithBucketCeiling(3))

	key := testKey("pcm.rms_dbfs")
	for i := int64(0); i < 4; i++ {
		agg.AddSample(key, i*5000, 1)
	}

	stats, open := agg.Stats()
	assert.Equal(t, 3, open, "ceiling holds the bucket count")
	assert.Equal(t, uint64(1), stats.BucketsEvicted)

	// The oldest bucket was the victim
	agg.FlushAll()
	for _, row := range collector.all() {
		assert.NotEqual(t, int64(0), row.BucketTS, "bucket 0 was evicted, never flushed")
	}
}

func TestAggregatorSurvivesPanickingCallback(t *testing.T) {
	agg := New(func(rows []Row) { panic("downstream exploded") }, testLogger())

	agg.AddSample(testKey("pcm.rms_dbfs"), 10_000, 1)
	assert.NotPanics(t, func() { agg.FlushAll() })

	// The bucket is gone regardless; no redelivery
	_, open := agg.Stats()
	assert.Zero(t, open)
}

func TestAggregatorStartStop(t *testing.T) {
	collector := &rowCollector{}
	agg := New(collector.flush, testLogger())

	agg.Start()
	agg.AddSample(testKey("pcm.rms_dbfs"), 10_000, 7)
	agg.Stop()

	// Stop force-flushes everything, open bucket included
	rows := collector.all()
	require.Len(t, rows, 1)
	assert.Equal(t, 7.0, rows[0].Last)

	// Stop is idempotent
	assert.NotPanics(t, func() { agg.Stop() })
}

func TestAggregatorEvictionExportsCounter(t *testing.T) {
	metrics.Init(testLogger())
	metrics.EnableMetrics(true)

	agg := New(func([]Row) {}, testLogger(), WithBucketCeiling(2))

	before := testutil.ToFloat64(metrics.BucketsEvicted)
	key := testKey("pcm.rms_dbfs")
	for i := int64(0); i < 4; i++ {
		agg.AddSample(key, i*5000, 1)
	}

	assert.Equal(t, before+2, testutil.ToFloat64(metrics.BucketsEvicted))
}

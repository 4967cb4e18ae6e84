// Package aggregate accumulates per-series running statistics into fixed
// 5-second buckets and flushes closed buckets to a non-blocking callback.
// It holds everything in memory and performs no IO of its own.
package aggregate

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"audiomon-server/pkg/metrics"
	"audiomon-server/pkg/timebucket"
)

// SeriesKey identifies one aggregation stream. Derived per sample, never
// persisted.
type SeriesKey struct {
	CallID    string
	StationID string
	Tap       string
	MetricKey string
}

// Row is one flattened series aggregate for a closed bucket.
type Row struct {
	CallID     string    `json:"call_id"`
	StationID  string    `json:"station_id"`
	Tap        string    `json:"tap"`
	MetricKey  string    `json:"metric_key"`
	BucketTS   int64     `json:"bucket_ts_ms"`
	BucketMS   int64     `json:"bucket_ms"`
	Count      int64     `json:"count"`
	Min        float64   `json:"min"`
	Max        float64   `json:"max"`
	Sum        float64   `json:"sum"`
	Avg        float64   `json:"avg"`
	Last       float64   `json:"last"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// FlushFunc receives the flattened batch for one closed bucket. It must be
// non-blocking: the bucket is already removed from memory when it runs.
type FlushFunc func(rows []Row)

type series struct {
	count   int64
	numeric int64
	min     float64
	max     float64
	sum     float64
	last    float64
}

// Stats counts aggregator activity.
type Stats struct {
	Samples        uint64 `json:"samples"`
	BucketsFlushed uint64 `json:"buckets_flushed"`
	BucketsEvicted uint64 `json:"buckets_evicted"`
	RowsFlushed    uint64 `json:"rows_flushed"`
}

// Aggregator owns the bucket map. AddSample is called from the frame path;
// the sweep runs on its own goroutine, so the map is guarded by a mutex
// with short critical sections. Buckets are detached from the map before
// their batch is built, so a slow callback never blocks ingestion or causes
// re-delivery.
type Aggregator struct {
	mu      sync.Mutex
	buckets map[int64]map[SeriesKey]*series
	stats   Stats

	onFlush    FlushFunc
	maxBuckets int
	logger     *logrus.Logger
	now        func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithBucketCeiling overrides the in-memory bucket ceiling.
func WithBucketCeiling(max int) Option {
	return func(a *Aggregator) {
		if max > 0 {
			a.maxBuckets = max
		}
	}
}

// New creates an aggregator that hands closed buckets to onFlush.
func New(onFlush FlushFunc, logger *logrus.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		buckets:    make(map[int64]map[SeriesKey]*series),
		onFlush:    onFlush,
		maxBuckets: 2000,
		logger:     logger,
		now:        time.Now,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AddSample records one metric value. The bucket timestamp is floored to
// the 5-second grid defensively; a NaN value increments the sample count
// but leaves the running statistics untouched.
func (a *Aggregator) AddSample(key SeriesKey, bucketTS int64, value float64) {
	if key.CallID == "" || key.StationID == "" || key.Tap == "" || key.MetricKey == "" {
		return
	}
	bucketTS = timebucket.Floor(bucketTS)

	a.mu.Lock()
	defer a.mu.Unlock()

	bucket, ok := a.buckets[bucketTS]
	if !ok {
		if len(a.buckets) >= a.maxBuckets {
			a.evictOldestLocked()
		}
		bucket = make(map[SeriesKey]*series)
		a.buckets[bucketTS] = bucket
	}

	agg, ok := bucket[key]
	if !ok {
		agg = &series{min: math.Inf(1), max: math.Inf(-1)}
		bucket[key] = agg
	}

	agg.count++
	a.stats.Samples++
	if !math.IsNaN(value) {
		agg.numeric++
		if value < agg.min {
			agg.min = value
		}
		if value > agg.max {
			agg.max = value
		}
		agg.sum += value
		agg.last = value
	}
}

// Start launches the sweep goroutine. The first sweep is aligned to the
// next bucket boundary (plus a small jitter guard), then runs every 5
// seconds.
func (a *Aggregator) Start() {
	a.startOnce.Do(func() {
		go a.run()
		a.logger.Info("Aggregator started with 5s buckets")
	})
}

// Stop halts the sweep and force-flushes every remaining bucket, including
// the currently open one, in ascending time order.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() {
		close(a.stop)
		<-a.done
		a.FlushAll()
		a.logger.Info("Aggregator stopped and flushed all buckets")
	})
}

// FlushAll flushes everything currently held, open bucket included.
func (a *Aggregator) FlushAll() {
	a.flushBefore(math.MaxInt64)
}

// SweepNow flushes every bucket whose window has closed. Exposed for tests;
// the background loop calls it on each tick.
func (a *Aggregator) SweepNow() {
	a.flushBefore(timebucket.Floor(a.now().UnixMilli()))
}

// Stats returns a snapshot of aggregator counters plus the live bucket count.
func (a *Aggregator) Stats() (Stats, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats, len(a.buckets)
}

func (a *Aggregator) run() {
	defer close(a.done)

	const jitter = 50 * time.Millisecond

	align := time.NewTimer(timebucket.UntilNextBoundary(a.now()) + jitter)
	defer align.Stop()

	select {
	case <-align.C:
	case <-a.stop:
		return
	}
	a.SweepNow()

	ticker := time.NewTicker(timebucket.Span)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.SweepNow()
		case <-a.stop:
			return
		}
	}
}

// flushBefore detaches every bucket with start < cutoff and emits them in
// ascending order. Emission happens outside the lock.
func (a *Aggregator) flushBefore(cutoff int64) {
	a.mu.Lock()
	var starts []int64
	for ts := range a.buckets {
		if ts < cutoff {
			starts = append(starts, ts)
		}
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	detached := make([]map[SeriesKey]*series, len(starts))
	for i, ts := range starts {
		detached[i] = a.buckets[ts]
		delete(a.buckets, ts)
	}
	a.stats.BucketsFlushed += uint64(len(starts))
	a.mu.Unlock()

	for i, ts := range starts {
		rows := buildRows(ts, detached[i])

		a.mu.Lock()
		a.stats.RowsFlushed += uint64(len(rows))
		a.mu.Unlock()

		a.emit(ts, rows)
	}
}

// emit invokes the flush callback, containing any panic so a faulty
// downstream can never disturb ingestion.
func (a *Aggregator) emit(bucketTS int64, rows []Row) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.WithFields(logrus.Fields{
				"bucket_ts": bucketTS,
				"panic":     r,
			}).Error("Flush callback panicked")
		}
	}()

	a.onFlush(rows)
	a.logger.WithFields(logrus.Fields{
		"bucket_ts": bucketTS,
		"series":    len(rows),
	}).Debug("Flushed bucket")
}

func (a *Aggregator) evictOldestLocked() {
	oldest := int64(math.MaxInt64)
	for ts := range a.buckets {
		if ts < oldest {
			oldest = ts
		}
	}
	if oldest == math.MaxInt64 {
		return
	}
	delete(a.buckets, oldest)
	a.stats.BucketsEvicted++
	metrics.RecordBucketEviction(1)
	a.logger.WithField("bucket_ts", oldest).Warn("Dropped oldest bucket: in-memory ceiling reached")
}

func buildRows(bucketTS int64, bucket map[SeriesKey]*series) []Row {
	rows := make([]Row, 0, len(bucket))
	for key, agg := range bucket {
		row := Row{
			CallID:    key.CallID,
			StationID: key.StationID,
			Tap:       key.Tap,
			MetricKey: key.MetricKey,
			BucketTS:  bucketTS,
			BucketMS:  timebucket.SpanMS,
			Count:     agg.count,
			Min:       math.NaN(),
			Max:       math.NaN(),
			Sum:       math.NaN(),
			Avg:       math.NaN(),
			Last:      math.NaN(),
		}
		if agg.numeric > 0 {
			row.Min = agg.min
			row.Max = agg.max
			row.Sum = agg.sum
			row.Avg = agg.sum / float64(agg.numeric)
			row.Last = agg.last
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].StationID != rows[j].StationID {
			return rows[i].StationID < rows[j].StationID
		}
		if rows[i].Tap != rows[j].Tap {
			return rows[i].Tap < rows[j].Tap
		}
		return rows[i].MetricKey < rows[j].MetricKey
	})
	return rows
}

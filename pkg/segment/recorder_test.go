package segment

import (
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

// segmentSink collects finalized segments handed to it.
type segmentSink struct {
	mu       sync.Mutex
	segments []*Segment
}

func (s *segmentSink) accept(seg *Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = append(s.segments, seg)
}

func (s *segmentSink) all() []*Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Segment(nil), s.segments...)
}

// fakeClock steps a recorder through bucket windows deterministically.
type fakeClock struct {
	mu sync.Mutex
	ms int64
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.UnixMilli(c.ms)
}

func (c *fakeClock) set(ms int64) {
	c.mu.Lock()
	c.ms = ms
	c.mu.Unlock()
}

func rampFrame(n int) []int16 {
	frame := make([]int16, n)
	for i := range frame {
		frame[i] = int16(i % 1000)
	}
	return frame
}

func TestExpectedSamples(t *testing.T) {
	assert.Equal(t, 40000, ExpectedSamples(8000, 1), "8 kHz mono yields 40000 samples per 5s bucket")
	assert.Equal(t, 160000, ExpectedSamples(16000, 2))
}

func TestRecorderRotationOnBucketBoundary(t *testing.T) {
	clock := &fakeClock{ms: 10_000}
	sink := &segmentSink{}
	rec := NewRecorder(8000, 1, sink.accept, testLogger(), WithRecorderClock(clock.now))

	// 1. Two frames land in the 10000 bucket
	rec.Capture(rampFrame(160), "call-1", "st-1", "PRE")
	clock.set(12_000)
	rec.Capture(rampFrame(160), "call-1", "st-1", "PRE")
	assert.Empty(t, sink.all(), "nothing finalizes while the bucket is open")

	// 2. The first frame of the next bucket finalizes the previous one
	clock.set(15_100)
	rec.Capture(rampFrame(160), "call-1", "st-1", "PRE")

	segments := sink.all()
	require.Len(t, segments, 1)
	seg := segments[0]
	assert.Equal(t, int64(10_000), seg.BucketTS)
	assert.Equal(t, "call-1", seg.CallID)
	assert.Equal(t, "PRE", seg.Tap)
	assert.Equal(t, FormatWAVPCM16Mono, seg.Format)

	// 3. The payload is padded out to the exact bucket length
	assert.Len(t, seg.PCM, 40000, "320 captured samples pad to the full bucket")
	assert.Equal(t, rampFrame(160), seg.PCM[:160], "captured audio leads the segment")
	assert.Equal(t, int16(0), seg.PCM[25_000], "the tail is silence padding")
}

func TestRecorderSeparateStreams(t *testing.T) {
	clock := &fakeClock{ms: 10_000}
	sink := &segmentSink{}
	rec := NewRecorder(8000, 1, sink.accept, testLogger(), WithRecorderClock(clock.now))

	// PRE and POST taps of the same call accumulate independently
	rec.Capture(rampFrame(160), "call-1", "st-1", "PRE")
	rec.Capture(rampFrame(160), "call-1", "st-1", "POST")
	rec.Capture(rampFrame(160), "call-2", "st-1", "PRE")

	_, open := rec.Stats()
	assert.Equal(t, 3, open)

	rec.FlushAll()
	assert.Len(t, sink.all(), 3)
}

func TestRecorderIgnoresInvalidCaptures(t *testing.T) {
	sink := &segmentSink{}
	rec := NewRecorder(8000, 1, sink.accept, testLogger())

	rec.Capture(nil, "call-1", "st-1", "PRE")
	rec.Capture(rampFrame(160), "", "st-1", "PRE")
	rec.Capture(rampFrame(160), "call-1", "", "PRE")
	rec.Capture(rampFrame(160), "call-1", "st-1", "SIDE")

	stats, open := rec.Stats()
	assert.Zero(t, stats.Captured)
	assert.Zero(t, open)
}

func TestRecorderFlushCall(t *testing.T) {
	clock := &fakeClock{ms: 10_000}
	sink := &segmentSink{}
	rec := NewRecorder(8000, 1, sink.accept, testLogger(), WithRecorderClock(clock.now))

	rec.Capture(rampFrame(160), "call-1", "st-1", "PRE")
	rec.Capture(rampFrame(160), "call-2", "st-1", "PRE")

	// Only call-1 streams finalize; call-2 stays open
	rec.FlushCall("call-1")

	segments := sink.all()
	require.Len(t, segments, 1)
	assert.Equal(t, "call-1", segments[0].CallID)

	_, open := rec.Stats()
	assert.Equal(t, 1, open)
}

func TestRecorderSizeGuard(t *testing.T) {
	clock := &fakeClock{ms: 10_000}
	sink := &segmentSink{}
	// 8 kHz mono expects 40000 samples; guard multiple 2 caps at 80000
	rec := NewRecorder(8000, 1, sink.accept, testLogger(),
		WithRecorderClock(clock.now), WithSizeGuard(2))

	// The clock never advances, so no boundary rotation can save us from
	// a stuck or over-feeding source
	big := rampFrame(30000)
	rec.Capture(big, "call-1", "st-1", "PRE")
	rec.Capture(big, "call-1", "st-1", "PRE")
	assert.Empty(t, sink.all(), "60000 samples is still under the guard")

	rec.Capture(big, "call-1", "st-1", "PRE")

	segments := sink.all()
	require.Len(t, segments, 1, "90000 samples trips the guard and force-finalizes")
	assert.Len(t, segments[0].PCM, 40000, "guarded segments still truncate to bucket length")

	stats, _ := rec.Stats()
	assert.Equal(t, uint64(1), stats.GuardTrips)
}

func TestRecorderTruncatesOverfullBucket(t *testing.T) {
	clock := &fakeClock{ms: 10_000}
	sink := &segmentSink{}
	rec := NewRecorder(8000, 1, sink.accept, testLogger(), WithRecorderClock(clock.now))

	// 50000 samples in one bucket exceeds the 40000 expected
	rec.Capture(rampFrame(25000), "call-1", "st-1", "PRE")
	rec.Capture(rampFrame(25000), "call-1", "st-1", "PRE")
	rec.FlushAll()

	segments := sink.all()
	require.Len(t, segments, 1)
	assert.Len(t, segments[0].PCM, 40000, "excess samples truncate at the tail")
}

func TestRecorderExportsGuardTripCounter(t *testing.T) {
	metrics.Init(testLogger())
	metrics.EnableMetrics(true)

	clock := &fakeClock{ms: 10_000}
	sink := &segmentSink{}
	rec := NewRecorder(8000, 1, sink.accept, testLogger(),
		WithRecorderClock(clock.now), WithSizeGuard(2))

	before := testutil.ToFloat64(metrics.RecorderGuardTrips)
	for i := 0; i < 3; i++ {
		rec.Capture(rampFrame(30000), "call-1", "st-1", "PRE")
	}

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RecorderGuardTrips))
}

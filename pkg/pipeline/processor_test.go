package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audiomon-server/pkg/aggregate"
	"audiomon-server/pkg/errors"
	"audiomon-server/pkg/knobs"
	"audiomon-server/pkg/segment"
)

// mapResolver serves a fixed knob map for every call.
type mapResolver struct {
	overrides map[string]interface{}
}

func (r *mapResolver) Resolve(string) map[string]interface{} {
	m := knobs.Defaults()
	for key, value := range r.overrides {
		m[key] = value
	}
	return m
}

func newTestProcessor(t *testing.T, overrides map[string]interface{}, recorder *segment.Recorder) (*Processor, *aggregate.Aggregator) {
	t.Helper()

	registry := NewRegistry()
	require.NoError(t, registry.Register(Station{
		ID:          "st-1",
		Direction:   "RX",
		PreMetrics:  []string{"pcm.rms_dbfs", "pcm.peak_amplitude"},
		PostMetrics: []string{"pcm.rms_dbfs"},
	}))

	agg := aggregate.New(func([]aggregate.Row) {}, testLogger())
	resolver := &mapResolver{overrides: overrides}
	proc := NewProcessor(registry, resolver, agg, recorder, 8000, 1, testLogger())
	return proc, agg
}

func TestProcessorValidation(t *testing.T) {
	proc, _ := newTestProcessor(t, nil, nil)
	samples := []int16{1, 2, 3}

	_, err := proc.Process(Frame{StationID: "st-1", Samples: samples})
	assert.Equal(t, "MISSING_CONTEXT", errors.GetErrorCode(err))

	_, err = proc.Process(Frame{CallID: "c1", Samples: samples})
	assert.Equal(t, "MISSING_CONTEXT", errors.GetErrorCode(err))

	_, err = proc.Process(Frame{CallID: "c1", StationID: "st-1"})
	assert.Equal(t, "MALFORMED_FRAME", errors.GetErrorCode(err))

	_, err = proc.Process(Frame{CallID: "c1", StationID: "nope", Samples: samples})
	assert.Equal(t, "UNKNOWN_STATION", errors.GetErrorCode(err))
}

func TestProcessorSamplesLandInFlooredBucket(t *testing.T) {
	var mu sync.Mutex
	var flushed []aggregate.Row
	registry := NewRegistry()
	require.NoError(t, registry.Register(Station{
		ID:          "st-1",
		PreMetrics:  []string{"pcm.rms_dbfs", "pcm.peak_amplitude"},
		PostMetrics: []string{"pcm.rms_dbfs"},
	}))
	agg := aggregate.New(func(rows []aggregate.Row) {
		mu.Lock()
		flushed = append(flushed, rows...)
		mu.Unlock()
	}, testLogger())
	proc := NewProcessor(registry, &mapResolver{}, agg, nil, 8000, 1, testLogger())

	_, err := proc.Process(Frame{
		CallID:    "c1",
		StationID: "st-1",
		Samples:   []int16{1000, -1000},
		Timestamp: time.UnixMilli(12_345),
	})
	require.NoError(t, err)
	agg.FlushAll()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, flushed, 3, "two PRE metrics and one POST metric")
	for _, row := range flushed {
		assert.Equal(t, int64(10_000), row.BucketTS)
		assert.Equal(t, "c1", row.CallID)
	}

	// PRE and POST series are distinct even for the same metric key
	taps := map[string]int{}
	for _, row := range flushed {
		taps[row.Tap]++
	}
	assert.Equal(t, 2, taps[TapPre])
	assert.Equal(t, 1, taps[TapPost])
}

func TestProcessorTapGating(t *testing.T) {
	var mu sync.Mutex
	var flushed []aggregate.Row
	registry := NewRegistry()
	require.NoError(t, registry.Register(Station{
		ID:          "st-1",
		PreMetrics:  []string{"pcm.rms_dbfs"},
		PostMetrics: []string{"pcm.rms_dbfs"},
	}))
	agg := aggregate.New(func(rows []aggregate.Row) {
		mu.Lock()
		flushed = append(flushed, rows...)
		mu.Unlock()
	}, testLogger())
	resolver := &mapResolver{overrides: map[string]interface{}{
		"monitoring.pre_tap_enabled": false,
	}}
	proc := NewProcessor(registry, resolver, agg, nil, 8000, 1, testLogger())

	_, err := proc.Process(Frame{CallID: "c1", StationID: "st-1", Samples: []int16{100}})
	require.NoError(t, err)
	agg.FlushAll()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, flushed, 1, "only the POST tap ran")
	assert.Equal(t, TapPost, flushed[0].Tap)
}

func TestProcessorMetricsDisabledStillProcesses(t *testing.T) {
	var mu sync.Mutex
	count := 0
	registry := NewRegistry()
	require.NoError(t, registry.Register(Station{ID: "st-1", PreMetrics: []string{"pcm.rms_dbfs"}}))
	agg := aggregate.New(func(rows []aggregate.Row) {
		mu.Lock()
		count += len(rows)
		mu.Unlock()
	}, testLogger())
	resolver := &mapResolver{overrides: map[string]interface{}{
		"monitoring.metrics_enabled": false,
		"pcm.input_gain_db":          20.0,
	}}
	proc := NewProcessor(registry, resolver, agg, nil, 8000, 1, testLogger())

	out, err := proc.Process(Frame{CallID: "c1", StationID: "st-1", Samples: []int16{100}})
	require.NoError(t, err)
	assert.Equal(t, int16(1000), out[0], "the chain still runs with metrics off")

	agg.FlushAll()
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, count, "no samples when metrics are disabled")
}

func TestProcessorCapturesBothTaps(t *testing.T) {
	var mu sync.Mutex
	var segments []*segment.Segment
	recorder := segment.NewRecorder(8000, 1, func(seg *segment.Segment) {
		mu.Lock()
		segments = append(segments, seg)
		mu.Unlock()
	}, testLogger())

	proc, _ := newTestProcessor(t, nil, recorder)

	_, err := proc.Process(Frame{CallID: "c1", StationID: "st-1", Samples: []int16{1000, -1000}})
	require.NoError(t, err)

	recorder.FlushAll()
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, segments, 2, "one segment per tap")
	taps := map[string]bool{}
	for _, seg := range segments {
		taps[seg.Tap] = true
	}
	assert.True(t, taps[TapPre])
	assert.True(t, taps[TapPost])
}

func TestProcessorCaptureDisabled(t *testing.T) {
	var mu sync.Mutex
	captured := 0
	recorder := segment.NewRecorder(8000, 1, func(*segment.Segment) {
		mu.Lock()
		captured++
		mu.Unlock()
	}, testLogger())

	proc, _ := newTestProcessor(t, map[string]interface{}{
		"monitoring.audio_capture_enabled": false,
	}, recorder)

	_, err := proc.Process(Frame{CallID: "c1", StationID: "st-1", Samples: []int16{1000}})
	require.NoError(t, err)

	recorder.FlushAll()
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, captured)
}

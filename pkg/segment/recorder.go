package segment

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"audiomon-server/pkg/metrics"
	"audiomon-server/pkg/timebucket"
)

type streamKey struct {
	callID    string
	stationID string
	tap       string
}

type streamState struct {
	bucketTS     int64
	chunks       [][]int16
	totalSamples int
}

// RecorderStats counts recorder activity.
type RecorderStats struct {
	Captured   uint64 `json:"captured"`
	Finalized  uint64 `json:"finalized"`
	GuardTrips uint64 `json:"guard_trips"`
}

// Recorder accumulates PCM per (call, station, tap) stream and finalizes a
// Segment whenever the 5-second window rotates. Capture only appends to
// in-memory state and enqueues finished segments; it never touches disk.
type Recorder struct {
	mu      sync.Mutex
	streams map[streamKey]*streamState
	stats   RecorderStats

	sampleRate      int
	channels        int
	expectedSamples int
	guardMax        int

	sink   func(*Segment)
	logger *logrus.Logger
	now    func() time.Time
}

// RecorderOption customizes a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderClock overrides the time source, for tests.
func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// WithSizeGuard overrides the runaway-size guard multiplier (default 2).
func WithSizeGuard(multiplier int) RecorderOption {
	return func(r *Recorder) {
		if multiplier > 1 {
			r.guardMax = r.expectedSamples * multiplier
		}
	}
}

// NewRecorder creates a recorder that hands finished segments to sink.
// The sink must be a non-blocking enqueue (Writer.Enqueue).
func NewRecorder(sampleRate, channels int, sink func(*Segment), logger *logrus.Logger, opts ...RecorderOption) *Recorder {
	expected := ExpectedSamples(sampleRate, channels)
	r := &Recorder{
		streams:         make(map[streamKey]*streamState),
		sampleRate:      sampleRate,
		channels:        channels,
		expectedSamples: expected,
		guardMax:        expected * 2,
		sink:            sink,
		logger:          logger,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	logger.WithFields(logrus.Fields{
		"sample_rate":    sampleRate,
		"channels":       channels,
		"samples_bucket": expected,
	}).Info("Audio recorder initialized")
	return r
}

// Capture appends one frame to the open bucket of the given stream,
// finalizing the previous bucket first when the window has rotated. The
// samples are copied, so the caller may reuse its frame buffer.
func (r *Recorder) Capture(samples []int16, callID, stationID, tap string) {
	if callID == "" || stationID == "" || len(samples) == 0 {
		return
	}
	if tap != "PRE" && tap != "POST" {
		return
	}

	bucketTS := timebucket.Floor(r.now().UnixMilli())
	key := streamKey{callID: callID, stationID: stationID, tap: tap}

	chunk := make([]int16, len(samples))
	copy(chunk, samples)

	var finalized *Segment

	r.mu.Lock()
	st, ok := r.streams[key]
	if !ok {
		st = &streamState{bucketTS: bucketTS}
		r.streams[key] = st
	}

	if bucketTS != st.bucketTS {
		finalized = r.finalizeLocked(key, st)
		st.bucketTS = bucketTS
	}

	st.chunks = append(st.chunks, chunk)
	st.totalSamples += len(chunk)
	r.stats.Captured++

	var guarded *Segment
	if st.totalSamples > r.guardMax {
		r.stats.GuardTrips++
		metrics.RecordGuardTrip()
		guarded = r.finalizeLocked(key, st)
		st.bucketTS = bucketTS
	}
	r.mu.Unlock()

	if finalized != nil {
		r.sink(finalized)
	}
	if guarded != nil {
		r.logger.WithFields(logrus.Fields{
			"call_id": callID,
			"tap":     tap,
		}).Warn("Segment size guard triggered early rotation")
		r.sink(guarded)
	}
}

// FlushCall force-finalizes every open stream for a call. Used at call
// teardown.
func (r *Recorder) FlushCall(callID string) {
	r.flushMatching(func(key streamKey) bool { return key.callID == callID })
}

// FlushAll force-finalizes every open stream. Used at shutdown.
func (r *Recorder) FlushAll() {
	r.flushMatching(func(streamKey) bool { return true })
}

// Stats returns a snapshot of recorder counters plus the open stream count.
func (r *Recorder) Stats() (RecorderStats, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats, len(r.streams)
}

func (r *Recorder) flushMatching(match func(streamKey) bool) {
	var finished []*Segment

	r.mu.Lock()
	for key, st := range r.streams {
		if !match(key) {
			continue
		}
		if seg := r.finalizeLocked(key, st); seg != nil {
			finished = append(finished, seg)
		}
		delete(r.streams, key)
	}
	r.mu.Unlock()

	for _, seg := range finished {
		r.sink(seg)
	}
	if len(finished) > 0 {
		r.logger.WithField("segments", len(finished)).Debug("Flushed open audio streams")
	}
}

// finalizeLocked builds a Segment from the accumulated chunks, padding or
// truncating to the exact expected sample count, and resets the stream
// buffer. Returns nil when the stream holds no data.
func (r *Recorder) finalizeLocked(key streamKey, st *streamState) *Segment {
	if len(st.chunks) == 0 {
		return nil
	}

	pcm := mergeAndFit(st.chunks, r.expectedSamples)
	seg := &Segment{
		CallID:     key.callID,
		StationID:  key.stationID,
		Tap:        key.tap,
		BucketTS:   st.bucketTS,
		BucketMS:   timebucket.SpanMS,
		SampleRate: r.sampleRate,
		Channels:   r.channels,
		Format:     FormatWAVPCM16Mono,
		PCM:        pcm,
	}

	st.chunks = nil
	st.totalSamples = 0
	r.stats.Finalized++
	return seg
}

// mergeAndFit concatenates chunks and pads with zeros or truncates at the
// tail so the result is exactly expected samples long.
func mergeAndFit(chunks [][]int16, expected int) []int16 {
	out := make([]int16, expected)
	off := 0
	for _, chunk := range chunks {
		if off >= expected {
			break
		}
		n := copy(out[off:], chunk)
		off += n
	}
	return out
}

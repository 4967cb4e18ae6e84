// Package pipeline runs PCM frames through the processing chain with a
// PRE tap before the chain and a POST tap after it. Each tap computes the
// station's metric set and optionally captures raw audio; everything
// downstream of the taps is asynchronous.
package pipeline

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"audiomon-server/pkg/aggregate"
	"audiomon-server/pkg/analysis"
	"audiomon-server/pkg/errors"
	"audiomon-server/pkg/metrics"
	"audiomon-server/pkg/segment"
	"audiomon-server/pkg/timebucket"
)

// Taps, as stored on every sample and segment.
const (
	TapPre  = "PRE"
	TapPost = "POST"
)

// Frame is one block of PCM samples with its call context. A zero
// Timestamp means "now".
type Frame struct {
	CallID    string
	StationID string
	Samples   []int16
	Timestamp time.Time

	// Pipeline health observed by the caller, forwarded into pipe.* metrics.
	ProcessingLatencyMs float64
	FrameDropRatio      float64
	QueueDepth          int
}

// Resolver yields the effective knob map for a call.
type Resolver interface {
	Resolve(callID string) map[string]interface{}
}

// Processor is the synchronous frame path. Process is safe for concurrent
// use across calls; the heavy lifting per frame is bounded by the frame
// length and the station's metric list.
type Processor struct {
	registry   *Registry
	resolver   Resolver
	aggregator *aggregate.Aggregator
	recorder   *segment.Recorder
	sampleRate int
	bitDepth   int
	channels   int
	logger     *logrus.Logger
	now        func() time.Time

	warnMu sync.Mutex
	warned map[string]struct{}
}

// ProcessorOption adjusts processor construction.
type ProcessorOption func(*Processor)

// WithProcessorClock overrides the time source.
func WithProcessorClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

// NewProcessor wires the frame path. A nil recorder disables audio capture.
func NewProcessor(registry *Registry, resolver Resolver, aggregator *aggregate.Aggregator, recorder *segment.Recorder, sampleRate, channels int, logger *logrus.Logger, opts ...ProcessorOption) *Processor {
	if logger == nil {
		logger = logrus.New()
	}
	p := &Processor{
		registry:   registry,
		resolver:   resolver,
		aggregator: aggregator,
		recorder:   recorder,
		sampleRate: sampleRate,
		bitDepth:   16,
		channels:   channels,
		logger:     logger,
		now:        time.Now,
		warned:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one frame through both taps and the chain, returning the
// processed samples. Validation errors reject the frame before any tap
// runs; metric compute failures never do.
func (p *Processor) Process(frame Frame) ([]int16, error) {
	if frame.CallID == "" {
		metrics.RecordFrameRejected("missing_call_id")
		return nil, errors.NewMissingContext("call_id")
	}
	if frame.StationID == "" {
		metrics.RecordFrameRejected("missing_station_id")
		return nil, errors.NewMissingContext("station_id")
	}
	if len(frame.Samples) == 0 {
		metrics.RecordFrameRejected("empty_frame")
		return nil, errors.NewMalformedFrame("empty sample block", map[string]interface{}{
			"call_id": frame.CallID,
		})
	}

	station, ok := p.registry.Get(frame.StationID)
	if !ok {
		metrics.RecordFrameRejected("unknown_station")
		return nil, errors.NewUnknownStation(frame.StationID)
	}

	start := p.now()
	ts := frame.Timestamp
	if ts.IsZero() {
		ts = start
	}
	bucketTS := timebucket.Floor(ts.UnixMilli())

	settings := SettingsFromKnobs(p.resolver.Resolve(frame.CallID))
	ctx := analysis.Context{
		SampleRate:          p.sampleRate,
		BitDepth:            p.bitDepth,
		Channels:            p.channels,
		ProcessingLatencyMs: frame.ProcessingLatencyMs,
		FrameDropRatio:      frame.FrameDropRatio,
		QueueDepth:          frame.QueueDepth,
	}

	if settings.PreTapEnabled {
		if settings.MetricsEnabled {
			p.computeTap(frame, TapPre, station.PreMetrics, frame.Samples, ctx, bucketTS)
		}
		if settings.CaptureEnabled && p.recorder != nil {
			p.recorder.Capture(frame.Samples, frame.CallID, frame.StationID, TapPre)
		}
		metrics.RecordFrame(frame.StationID, TapPre, p.now().Sub(start))
	}

	processed := ProcessChain(frame.Samples, p.sampleRate, settings)

	if settings.PostTapEnabled {
		if settings.MetricsEnabled {
			p.computeTap(frame, TapPost, station.PostMetrics, processed, ctx, bucketTS)
		}
		if settings.CaptureEnabled && p.recorder != nil {
			p.recorder.Capture(processed, frame.CallID, frame.StationID, TapPost)
		}
		metrics.RecordFrame(frame.StationID, TapPost, p.now().Sub(start))
	}

	return processed, nil
}

func (p *Processor) computeTap(frame Frame, tap string, keys []string, samples []int16, ctx analysis.Context, bucketTS int64) {
	for _, key := range keys {
		metric, ok := analysis.Lookup(key)
		if !ok {
			// Registration validates keys, so this only fires if the
			// catalog changed underneath a running station.
			p.warnOnce(key, "Skipping metric absent from catalog")
			continue
		}
		if metric.Compute == nil {
			p.warnOnce(key, "Skipping metric not safe for the frame path")
			continue
		}

		value := p.computeSafe(key, metric.Compute, samples, ctx)
		p.aggregator.AddSample(aggregate.SeriesKey{
			CallID:    frame.CallID,
			StationID: frame.StationID,
			Tap:       tap,
			MetricKey: key,
		}, bucketTS, value)
	}
}

// computeSafe shields the frame path from a panicking compute function.
// A panic yields NaN, which the aggregator counts without aggregating.
func (p *Processor) computeSafe(key string, compute analysis.ComputeFunc, samples []int16, ctx analysis.Context) (value float64) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordComputeFailure(key)
			p.logger.WithFields(logrus.Fields{
				"metric_key": key,
				"panic":      r,
			}).Error("Metric compute panicked")
			value = math.NaN()
		}
	}()
	return compute(samples, ctx)
}

func (p *Processor) warnOnce(key, message string) {
	p.warnMu.Lock()
	_, seen := p.warned[key]
	if !seen {
		p.warned[key] = struct{}{}
	}
	p.warnMu.Unlock()

	if !seen {
		p.logger.WithField("metric_key", key).Warn(message)
	}
}

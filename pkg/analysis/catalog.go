// Package analysis provides the catalog of signal metrics computed at the
// PRE and POST taps. Every compute function is pure, allocation-light and
// safe to run inside the frame path; heavy spectral metrics are declared
// without a compute function and must never run in the hot path.
package analysis

import (
	"math"
	"sort"
)

const (
	// FullScale is the maximum magnitude of a 16-bit signed sample.
	FullScale = 32767

	// clipThreshold marks samples considered clipped.
	clipThreshold = 32760

	epsilon = 1e-12
)

// Context carries per-frame metadata available to compute functions.
type Context struct {
	SampleRate          int
	BitDepth            int
	Channels            int
	ProcessingLatencyMs float64
	FrameDropRatio      float64
	QueueDepth          int
}

// ComputeFunc computes one metric value for a frame. A NaN result is a
// valid sample: the aggregator counts it without affecting statistics.
type ComputeFunc func(frame []int16, ctx Context) float64

// Metric describes one entry in the catalog.
type Metric struct {
	Description  string
	Unit         string
	RealtimeSafe bool
	Compute      ComputeFunc
}

// Catalog maps metric keys to their descriptors. Referencing a key absent
// from this table is a configuration error at startup.
var Catalog = map[string]Metric{
	// Amplitude & loudness
	"pcm.peak_amplitude": {
		Description:  "Peak absolute amplitude",
		Unit:         "int16",
		RealtimeSafe: true,
		Compute:      func(frame []int16, _ Context) float64 { return PeakAmplitude(frame) },
	},
	"pcm.peak_to_peak": {
		Description:  "Peak-to-peak amplitude",
		Unit:         "int16",
		RealtimeSafe: true,
		Compute:      func(frame []int16, _ Context) float64 { return PeakToPeak(frame) },
	},
	"pcm.rms_dbfs": {
		Description:  "RMS level in dBFS",
		Unit:         "dBFS",
		RealtimeSafe: true,
		Compute:      func(frame []int16, _ Context) float64 { return RMSDBFS(frame) },
	},
	"pcm.peak_dbfs": {
		Description:  "Peak level in dBFS",
		Unit:         "dBFS",
		RealtimeSafe: true,
		Compute:      func(frame []int16, _ Context) float64 { return PeakDBFS(frame) },
	},
	"pcm.average_absolute": {
		Description:  "Average absolute amplitude",
		Unit:         "int16",
		RealtimeSafe: true,
		Compute:      func(frame []int16, _ Context) float64 { return AverageAbsolute(frame) },
	},
	"pcm.crest_factor": {
		Description:  "Peak to RMS ratio",
		Unit:         "ratio",
		RealtimeSafe: true,
		Compute:      func(frame []int16, _ Context) float64 { return CrestFactor(frame) },
	},

	// Silence & activity
	"pcm.silence_detected": {
		Description:  "Silence detection boolean",
		Unit:         "boolean",
		RealtimeSafe: true,
		Compute:      func(frame []int16, _ Context) float64 { return boolSample(SilenceDetected(frame, -50)) },
	},

	// Clipping & distortion
	"pcm.clipped_samples": {
		Description:  "Number of clipped samples",
		Unit:         "count",
		RealtimeSafe: true,
		Compute:      func(frame []int16, _ Context) float64 { return float64(ClippedSamples(frame)) },
	},
	"pcm.clipping_ratio": {
		Description:  "Ratio of clipped samples",
		Unit:         "ratio",
		RealtimeSafe: true,
		Compute:      func(frame []int16, _ Context) float64 { return ClippingRatio(frame) },
	},
	"pcm.consecutive_clipped": {
		Description:  "Max consecutive clipped samples",
		Unit:         "count",
		RealtimeSafe: true,
		Compute:      func(frame []int16, _ Context) float64 { return float64(ConsecutiveClipped(frame)) },
	},

	// Noise & quality
	"pcm.noise_floor": {
		Description:  "Estimated noise floor",
		Unit:         "dBFS",
		RealtimeSafe: true,
		Compute:      func(frame []int16, _ Context) float64 { return NoiseFloor(frame) },
	},
	"pcm.snr_estimate": {
		Description:  "Signal-to-noise ratio estimate",
		Unit:         "dB",
		RealtimeSafe: true,
		Compute:      func(frame []int16, _ Context) float64 { return SNREstimate(frame) },
	},
	"pcm.muted_signal": {
		Description:  "All zeros detection",
		Unit:         "boolean",
		RealtimeSafe: true,
		Compute:      func(frame []int16, _ Context) float64 { return boolSample(MutedSignal(frame)) },
	},
	"pcm.frozen_signal": {
		Description:  "Constant value detection",
		Unit:         "boolean",
		RealtimeSafe: true,
		Compute:      func(frame []int16, _ Context) float64 { return boolSample(FrozenSignal(frame)) },
	},

	// Temporal
	"pcm.zero_crossing_rate": {
		Description:  "Zero crossing rate",
		Unit:         "ratio",
		RealtimeSafe: true,
		Compute:      func(frame []int16, _ Context) float64 { return ZeroCrossingRate(frame) },
	},

	// Stream integrity (context-based)
	"stream.sample_rate": {
		Description:  "Sample rate",
		Unit:         "Hz",
		RealtimeSafe: true,
		Compute:      func(_ []int16, ctx Context) float64 { return float64(ctx.SampleRate) },
	},
	"stream.bit_depth": {
		Description:  "Bit depth",
		Unit:         "bits",
		RealtimeSafe: true,
		Compute:      func(_ []int16, ctx Context) float64 { return float64(ctx.BitDepth) },
	},
	"stream.channel_count": {
		Description:  "Number of channels",
		Unit:         "count",
		RealtimeSafe: true,
		Compute:      func(_ []int16, ctx Context) float64 { return float64(ctx.Channels) },
	},

	// Transport & pipeline (context-based)
	"pipe.processing_latency_ms": {
		Description:  "Processing latency",
		Unit:         "ms",
		RealtimeSafe: true,
		Compute: func(_ []int16, ctx Context) float64 {
			if ctx.ProcessingLatencyMs == 0 {
				return math.NaN()
			}
			return ctx.ProcessingLatencyMs
		},
	},
	"pipe.frame_drop_ratio": {
		Description:  "Dropped frames ratio",
		Unit:         "ratio",
		RealtimeSafe: true,
		Compute:      func(_ []int16, ctx Context) float64 { return ctx.FrameDropRatio },
	},
	"pipe.queue_depth": {
		Description:  "Queue depth",
		Unit:         "frames",
		RealtimeSafe: true,
		Compute:      func(_ []int16, ctx Context) float64 { return float64(ctx.QueueDepth) },
	},

	// Composite
	"health.audio_score": {
		Description:  "Overall audio health score",
		Unit:         "score",
		RealtimeSafe: true,
		Compute:      func(frame []int16, _ Context) float64 { return AudioHealthScore(frame) },
	},

	// Spectral metrics require an FFT and run only in offline analysis.
	"fft.dominant_frequency": {
		Description: "Dominant frequency from FFT",
		Unit:        "Hz",
	},
	"fft.spectral_centroid": {
		Description: "Spectral centroid (brightness)",
		Unit:        "Hz",
	},
	"fft.spectral_flatness": {
		Description: "Spectral flatness (tonality measure)",
		Unit:        "ratio",
	},
	"fft.hum_detected": {
		Description: "50/60 Hz hum detection",
		Unit:        "boolean",
	},
}

// Lookup returns the metric descriptor for key.
func Lookup(key string) (Metric, bool) {
	m, ok := Catalog[key]
	return m, ok
}

// Keys returns all catalog keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(Catalog))
	for key := range Catalog {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func boolSample(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

package pipeline

import (
	"math"

	"audiomon-server/pkg/analysis"
)

// Settings is one station's resolved processing configuration, flattened
// from the knob map for the duration of a single frame.
type Settings struct {
	InputGainDB  float64
	OutputGainDB float64

	HighpassEnabled bool
	HighpassCutoff  float64

	NoiseGateEnabled   bool
	NoiseGateThreshold float64

	CompressorEnabled   bool
	CompressorThreshold float64
	CompressorRatio     float64
	MakeupGainDB        float64

	LimiterEnabled   bool
	LimiterThreshold float64

	ClippingProtection bool
	MaxOutputDBFS      float64
	EmergencyMute      bool

	MetricsEnabled bool
	CaptureEnabled bool
	PreTapEnabled  bool
	PostTapEnabled bool
}

// SettingsFromKnobs flattens a resolved knob map. Missing or mistyped
// entries fall back to the catalog defaults; the resolver guarantees the
// map is fully populated in normal operation.
func SettingsFromKnobs(m map[string]interface{}) Settings {
	return Settings{
		InputGainDB:  knobFloat(m, "pcm.input_gain_db", 0),
		OutputGainDB: knobFloat(m, "pcm.output_gain_db", 0),

		HighpassEnabled: knobBool(m, "highpass.enabled", false),
		HighpassCutoff:  knobFloat(m, "highpass.cutoff_hz", 80),

		NoiseGateEnabled:   knobBool(m, "noise_gate.enabled", false),
		NoiseGateThreshold: knobFloat(m, "noise_gate.threshold_dbfs", -50),

		CompressorEnabled:   knobBool(m, "compressor.enabled", false),
		CompressorThreshold: knobFloat(m, "compressor.threshold_dbfs", -20),
		CompressorRatio:     knobFloat(m, "compressor.ratio", 4),
		MakeupGainDB:        knobFloat(m, "compressor.makeup_gain_db", 0),

		LimiterEnabled:   knobBool(m, "limiter.enabled", true),
		LimiterThreshold: knobFloat(m, "limiter.threshold_dbfs", -6),

		ClippingProtection: knobBool(m, "safety.clipping_protection", true),
		MaxOutputDBFS:      knobFloat(m, "safety.max_output_level_dbfs", -1),
		EmergencyMute:      knobBool(m, "safety.emergency_mute", false),

		MetricsEnabled: knobBool(m, "monitoring.metrics_enabled", true),
		CaptureEnabled: knobBool(m, "monitoring.audio_capture_enabled", true),
		PreTapEnabled:  knobBool(m, "monitoring.pre_tap_enabled", true),
		PostTapEnabled: knobBool(m, "monitoring.post_tap_enabled", true),
	}
}

// DBToLinear converts a decibel gain to a linear multiplier.
func DBToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// DBFSToAmplitude converts a dBFS level to an absolute 16-bit amplitude.
func DBFSToAmplitude(dbfs float64) float64 {
	return math.Round(analysis.FullScale * math.Pow(10, dbfs/20))
}

// ProcessChain runs the stage chain over one frame and returns a new frame.
// Stage order is fixed: mute, input gain, highpass, noise gate, compressor,
// limiter, output gain, safety clamp. The input frame is never mutated.
func ProcessChain(frame []int16, sampleRate int, s Settings) []int16 {
	out := make([]int16, len(frame))
	if s.EmergencyMute || len(frame) == 0 {
		return out
	}

	work := make([]float64, len(frame))
	for i, v := range frame {
		work[i] = float64(v)
	}

	if s.InputGainDB != 0 {
		applyGain(work, s.InputGainDB)
	}
	if s.HighpassEnabled && sampleRate > 0 {
		applyHighpass(work, s.HighpassCutoff, sampleRate)
	}
	if s.NoiseGateEnabled {
		applyNoiseGate(work, s.NoiseGateThreshold)
	}
	if s.CompressorEnabled {
		applyCompressor(work, s.CompressorThreshold, s.CompressorRatio, s.MakeupGainDB)
	}
	if s.LimiterEnabled {
		applyLimiter(work, s.LimiterThreshold)
	}
	if s.OutputGainDB != 0 {
		applyGain(work, s.OutputGainDB)
	}
	if s.ClippingProtection {
		applyLimiter(work, s.MaxOutputDBFS)
	}

	for i, v := range work {
		out[i] = clampSample(v)
	}
	return out
}

func applyGain(work []float64, db float64) {
	g := DBToLinear(db)
	for i := range work {
		work[i] *= g
	}
}

// applyHighpass is a single-pole high-pass filter. State starts at zero on
// each frame; at speech frame sizes the transient is a handful of samples.
func applyHighpass(work []float64, cutoffHz float64, sampleRate int) {
	if cutoffHz <= 0 {
		return
	}
	rc := 1 / (2 * math.Pi * cutoffHz)
	dt := 1 / float64(sampleRate)
	alpha := rc / (rc + dt)

	prevIn := work[0]
	prevOut := work[0]
	work[0] = 0
	for i := 1; i < len(work); i++ {
		in := work[i]
		out := alpha * (prevOut + in - prevIn)
		work[i] = out
		prevIn = in
		prevOut = out
	}
}

// applyNoiseGate mutes every sample whose magnitude sits below the
// threshold amplitude. Samples at or above it pass untouched.
func applyNoiseGate(work []float64, thresholdDBFS float64) {
	threshold := DBFSToAmplitude(thresholdDBFS)
	for i, v := range work {
		if math.Abs(v) < threshold {
			work[i] = 0
		}
	}
}

// applyCompressor reduces the portion of each sample above the threshold by
// the ratio, then applies makeup gain.
func applyCompressor(work []float64, thresholdDBFS, ratio, makeupDB float64) {
	if ratio < 1 {
		ratio = 1
	}
	threshold := DBFSToAmplitude(thresholdDBFS)
	makeup := DBToLinear(makeupDB)

	for i, v := range work {
		mag := math.Abs(v)
		if mag > threshold {
			mag = threshold + (mag-threshold)/ratio
		}
		if v < 0 {
			mag = -mag
		}
		work[i] = mag * makeup
	}
}

// applyLimiter hard-clips samples at the threshold amplitude.
func applyLimiter(work []float64, thresholdDBFS float64) {
	limit := DBFSToAmplitude(thresholdDBFS)
	for i, v := range work {
		if v > limit {
			work[i] = limit
		} else if v < -limit {
			work[i] = -limit
		}
	}
}

func knobFloat(m map[string]interface{}, key string, fallback float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return fallback
	}
}

func knobBool(m map[string]interface{}, key string, fallback bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return fallback
}

func clampSample(v float64) int16 {
	r := math.Round(v)
	if r > 32767 {
		return 32767
	}
	if r < -32768 {
		return -32768
	}
	return int16(r)
}

package knobs

import (
	"math"
	"sort"

	"audiomon-server/pkg/errors"
)

// ValueKind is the declared type of a knob value.
type ValueKind string

const (
	KindFloat ValueKind = "float"
	KindInt   ValueKind = "int"
	KindBool  ValueKind = "bool"
	KindEnum  ValueKind = "enum"
)

// Stage names the pipeline stage a knob affects.
type Stage string

const (
	StagePreProcessing  Stage = "PRE_PROCESSING"
	StagePostProcessing Stage = "POST_PROCESSING"
	StageDynamics       Stage = "DYNAMICS"
	StageNoise          Stage = "NOISE"
	StageAGC            Stage = "AGC"
	StageVAD            Stage = "VAD"
	StageEQ             Stage = "EQ"
	StageFilter         Stage = "FILTER"
	StageVoice          Stage = "VOICE"
	StageDeesser        Stage = "DEESSER"
	StageAEC            Stage = "AEC"
	StageFeedback       Stage = "FEEDBACK"
	StageSmoothing      Stage = "SMOOTHING"
	StageSafety         Stage = "SAFETY"
	StageTransport      Stage = "TRANSPORT"
	StageMonitoring     Stage = "MONITORING"
	StageAutoControl    Stage = "AUTO_CONTROL"
	StageAIControl      Stage = "AI_CONTROL"
)

// Definition describes one control parameter. Definitions are immutable and
// registered once at startup.
type Definition struct {
	Description string
	Kind        ValueKind
	Min         float64
	Max         float64
	EnumValues  []string
	Default     interface{}
	LiveApply   bool
	AppliesAt   Stage
	Unit        string
}

// Catalog is the static table of every recognized knob.
var Catalog = map[string]Definition{
	// Gain & amplitude control
	"pcm.input_gain_db": {
		Description: "Input gain adjustment in decibels",
		Kind:        KindFloat,
		Min:         -24, Max: 24,
		Default:   0.0,
		LiveApply: true,
		AppliesAt: StagePreProcessing,
		Unit:      "dB",
	},
	"pcm.output_gain_db": {
		Description: "Output gain adjustment in decibels",
		Kind:        KindFloat,
		Min:         -24, Max: 24,
		Default:   0.0,
		LiveApply: true,
		AppliesAt: StagePostProcessing,
		Unit:      "dB",
	},
	"pcm.target_level_dbfs": {
		Description: "Target level for normalization",
		Kind:        KindFloat,
		Min:         -30, Max: 0,
		Default:   -12.0,
		LiveApply: true,
		AppliesAt: StagePreProcessing,
		Unit:      "dBFS",
	},

	// Dynamics: limiter
	"limiter.enabled": {
		Description: "Enable/disable hard limiter",
		Kind:        KindBool,
		Default:     true,
		LiveApply:   true,
		AppliesAt:   StageDynamics,
	},
	"limiter.threshold_dbfs": {
		Description: "Limiter threshold in dBFS",
		Kind:        KindFloat,
		Min:         -30, Max: -1,
		Default:   -6.0,
		LiveApply: true,
		AppliesAt: StageDynamics,
		Unit:      "dBFS",
	},
	"limiter.release_ms": {
		Description: "Limiter release time",
		Kind:        KindFloat,
		Min:         1, Max: 1000,
		Default:   50.0,
		LiveApply: true,
		AppliesAt: StageDynamics,
		Unit:      "ms",
	},
	"limiter.lookahead_ms": {
		Description: "Limiter lookahead time",
		Kind:        KindFloat,
		Min:         0, Max: 10,
		Default:   5.0,
		LiveApply: true,
		AppliesAt: StageDynamics,
		Unit:      "ms",
	},

	// Dynamics: compressor
	"compressor.enabled": {
		Description: "Enable/disable compressor",
		Kind:        KindBool,
		Default:     false,
		LiveApply:   true,
		AppliesAt:   StageDynamics,
	},
	"compressor.threshold_dbfs": {
		Description: "Compressor threshold in dBFS",
		Kind:        KindFloat,
		Min:         -40, Max: -6,
		Default:   -20.0,
		LiveApply: true,
		AppliesAt: StageDynamics,
		Unit:      "dBFS",
	},
	"compressor.ratio": {
		Description: "Compression ratio (e.g. 4 means 4:1)",
		Kind:        KindFloat,
		Min:         1, Max: 20,
		Default:   4.0,
		LiveApply: true,
		AppliesAt: StageDynamics,
		Unit:      "ratio",
	},
	"compressor.attack_ms": {
		Description: "Compressor attack time",
		Kind:        KindFloat,
		Min:         0.1, Max: 100,
		Default:   10.0,
		LiveApply: true,
		AppliesAt: StageDynamics,
		Unit:      "ms",
	},
	"compressor.release_ms": {
		Description: "Compressor release time",
		Kind:        KindFloat,
		Min:         10, Max: 1000,
		Default:   100.0,
		LiveApply: true,
		AppliesAt: StageDynamics,
		Unit:      "ms",
	},
	"compressor.makeup_gain_db": {
		Description: "Makeup gain after compression",
		Kind:        KindFloat,
		Min:         0, Max: 24,
		Default:   0.0,
		LiveApply: true,
		AppliesAt: StageDynamics,
		Unit:      "dB",
	},

	// Noise gate
	"noise_gate.enabled": {
		Description: "Enable/disable noise gate",
		Kind:        KindBool,
		Default:     false,
		LiveApply:   true,
		AppliesAt:   StageNoise,
	},
	"noise_gate.threshold_dbfs": {
		Description: "Noise gate threshold in dBFS",
		Kind:        KindFloat,
		Min:         -80, Max: -20,
		Default:   -50.0,
		LiveApply: true,
		AppliesAt: StageNoise,
		Unit:      "dBFS",
	},
	"noise_gate.attack_ms": {
		Description: "Gate attack time",
		Kind:        KindFloat,
		Min:         0.1, Max: 10,
		Default:   1.0,
		LiveApply: true,
		AppliesAt: StageNoise,
		Unit:      "ms",
	},
	"noise_gate.hold_ms": {
		Description: "Gate hold time",
		Kind:        KindFloat,
		Min:         0, Max: 1000,
		Default:   10.0,
		LiveApply: true,
		AppliesAt: StageNoise,
		Unit:      "ms",
	},
	"noise_gate.release_ms": {
		Description: "Gate release time",
		Kind:        KindFloat,
		Min:         10, Max: 5000,
		Default:   100.0,
		LiveApply: true,
		AppliesAt: StageNoise,
		Unit:      "ms",
	},

	// Noise reduction
	"noise_reduction.enabled": {
		Description: "Enable/disable noise reduction",
		Kind:        KindBool,
		Default:     false,
		LiveApply:   true,
		AppliesAt:   StageNoise,
	},
	"noise_reduction.strength": {
		Description: "Noise reduction strength",
		Kind:        KindFloat,
		Min:         0, Max: 1,
		Default:   0.5,
		LiveApply: true,
		AppliesAt: StageNoise,
		Unit:      "ratio",
	},
	"noise_reduction.learning_rate": {
		Description: "Noise profile learning rate",
		Kind:        KindFloat,
		Min:         0.01, Max: 1,
		Default:   0.1,
		LiveApply: true,
		AppliesAt: StageNoise,
		Unit:      "ratio",
	},
	"noise_reduction.preserve_voice_threshold": {
		Description: "Voice preservation threshold",
		Kind:        KindFloat,
		Min:         -60, Max: -20,
		Default:   -40.0,
		LiveApply: true,
		AppliesAt: StageNoise,
		Unit:      "dBFS",
	},
	"noise_reduction.spectral_subtraction_factor": {
		Description: "Spectral subtraction factor",
		Kind:        KindFloat,
		Min:         0, Max: 2,
		Default:   1.0,
		LiveApply: true,
		AppliesAt: StageNoise,
		Unit:      "factor",
	},

	// Automatic gain control
	"agc.enabled": {
		Description: "Enable/disable AGC",
		Kind:        KindBool,
		Default:     false,
		LiveApply:   true,
		AppliesAt:   StageAGC,
	},
	"agc.target_level_dbfs": {
		Description: "AGC target level",
		Kind:        KindFloat,
		Min:         -30, Max: -6,
		Default:   -18.0,
		LiveApply: true,
		AppliesAt: StageAGC,
		Unit:      "dBFS",
	},
	"agc.max_gain_db": {
		Description: "Maximum AGC gain",
		Kind:        KindFloat,
		Min:         0, Max: 30,
		Default:   12.0,
		LiveApply: true,
		AppliesAt: StageAGC,
		Unit:      "dB",
	},
	"agc.attack_ms": {
		Description: "AGC attack time",
		Kind:        KindFloat,
		Min:         10, Max: 1000,
		Default:   100.0,
		LiveApply: true,
		AppliesAt: StageAGC,
		Unit:      "ms",
	},
	"agc.release_ms": {
		Description: "AGC release time",
		Kind:        KindFloat,
		Min:         100, Max: 5000,
		Default:   1000.0,
		LiveApply: true,
		AppliesAt: StageAGC,
		Unit:      "ms",
	},

	// Voice activity detection
	"vad.enabled": {
		Description: "Enable/disable VAD",
		Kind:        KindBool,
		Default:     false,
		LiveApply:   true,
		AppliesAt:   StageVAD,
	},
	"vad.energy_threshold_dbfs": {
		Description: "Energy threshold for voice detection",
		Kind:        KindFloat,
		Min:         -80, Max: -20,
		Default:   -45.0,
		LiveApply: true,
		AppliesAt: StageVAD,
		Unit:      "dBFS",
	},
	"vad.frequency_threshold_hz": {
		Description: "Minimum frequency for voice detection",
		Kind:        KindInt,
		Min:         50, Max: 500,
		Default:   85,
		LiveApply: true,
		AppliesAt: StageVAD,
		Unit:      "Hz",
	},
	"vad.hangover_ms": {
		Description: "Time to keep VAD active after voice stops",
		Kind:        KindInt,
		Min:         0, Max: 2000,
		Default:   300,
		LiveApply: true,
		AppliesAt: StageVAD,
		Unit:      "ms",
	},
	"vad.pre_trigger_ms": {
		Description: "Pre-trigger buffer time",
		Kind:        KindInt,
		Min:         0, Max: 500,
		Default:   100,
		LiveApply: true,
		AppliesAt: StageVAD,
		Unit:      "ms",
	},

	// Equalizer
	"eq.enabled": {
		Description: "Enable/disable equalizer",
		Kind:        KindBool,
		Default:     false,
		LiveApply:   true,
		AppliesAt:   StageEQ,
	},
	"eq.low_shelf_freq_hz": {
		Description: "Low shelf frequency",
		Kind:        KindFloat,
		Min:         20, Max: 500,
		Default:   100.0,
		LiveApply: true,
		AppliesAt: StageEQ,
		Unit:      "Hz",
	},
	"eq.low_shelf_gain_db": {
		Description: "Low shelf gain",
		Kind:        KindFloat,
		Min:         -12, Max: 12,
		Default:   0.0,
		LiveApply: true,
		AppliesAt: StageEQ,
		Unit:      "dB",
	},
	"eq.mid_freq_hz": {
		Description: "Mid band center frequency",
		Kind:        KindFloat,
		Min:         500, Max: 4000,
		Default:   1000.0,
		LiveApply: true,
		AppliesAt: StageEQ,
		Unit:      "Hz",
	},
	"eq.mid_gain_db": {
		Description: "Mid band gain",
		Kind:        KindFloat,
		Min:         -12, Max: 12,
		Default:   0.0,
		LiveApply: true,
		AppliesAt: StageEQ,
		Unit:      "dB",
	},
	"eq.mid_q": {
		Description: "Mid band Q factor",
		Kind:        KindFloat,
		Min:         0.1, Max: 10,
		Default:   1.0,
		LiveApply: true,
		AppliesAt: StageEQ,
		Unit:      "Q",
	},
	"eq.high_shelf_freq_hz": {
		Description: "High shelf frequency",
		Kind:        KindFloat,
		Min:         2000, Max: 10000,
		Default:   4000.0,
		LiveApply: true,
		AppliesAt: StageEQ,
		Unit:      "Hz",
	},
	"eq.high_shelf_gain_db": {
		Description: "High shelf gain",
		Kind:        KindFloat,
		Min:         -12, Max: 12,
		Default:   0.0,
		LiveApply: true,
		AppliesAt: StageEQ,
		Unit:      "dB",
	},

	// Filters
	"highpass.enabled": {
		Description: "Enable/disable high-pass filter",
		Kind:        KindBool,
		Default:     false,
		LiveApply:   true,
		AppliesAt:   StageFilter,
	},
	"highpass.cutoff_hz": {
		Description: "High-pass cutoff frequency",
		Kind:        KindInt,
		Min:         0, Max: 1000,
		Default:   80,
		LiveApply: true,
		AppliesAt: StageFilter,
		Unit:      "Hz",
	},
	"highpass.order": {
		Description: "Filter order (steepness)",
		Kind:        KindInt,
		Min:         1, Max: 4,
		Default:   2,
		LiveApply: true,
		AppliesAt: StageFilter,
		Unit:      "order",
	},
	"lowpass.enabled": {
		Description: "Enable/disable low-pass filter",
		Kind:        KindBool,
		Default:     false,
		LiveApply:   true,
		AppliesAt:   StageFilter,
	},
	"lowpass.cutoff_hz": {
		Description: "Low-pass cutoff frequency",
		Kind:        KindInt,
		Min:         1000, Max: 8000,
		Default:   3400,
		LiveApply: true,
		AppliesAt: StageFilter,
		Unit:      "Hz",
	},

	// Voice enhancement
	"voice.enhancement_enabled": {
		Description: "Enable voice enhancement",
		Kind:        KindBool,
		Default:     false,
		LiveApply:   true,
		AppliesAt:   StageVoice,
	},
	"voice.enhancement_mode": {
		Description: "Voice enhancement mode",
		Kind:        KindEnum,
		EnumValues:  []string{"off", "mild", "moderate", "aggressive"},
		Default:     "moderate",
		LiveApply:   true,
		AppliesAt:   StageVoice,
	},
	"voice.frequency_boost_db": {
		Description: "Voice frequency boost (1-3kHz)",
		Kind:        KindFloat,
		Min:         0, Max: 12,
		Default:   3.0,
		LiveApply: true,
		AppliesAt: StageVoice,
		Unit:      "dB",
	},
	"voice.clarity_amount": {
		Description: "Voice clarity enhancement amount",
		Kind:        KindFloat,
		Min:         0, Max: 1,
		Default:   0.5,
		LiveApply: true,
		AppliesAt: StageVoice,
		Unit:      "ratio",
	},

	// De-esser
	"deesser.enabled": {
		Description: "Enable/disable de-esser",
		Kind:        KindBool,
		Default:     false,
		LiveApply:   true,
		AppliesAt:   StageDeesser,
	},
	"deesser.threshold_dbfs": {
		Description: "De-esser threshold",
		Kind:        KindFloat,
		Min:         -40, Max: -10,
		Default:   -25.0,
		LiveApply: true,
		AppliesAt: StageDeesser,
		Unit:      "dBFS",
	},
	"deesser.frequency_hz": {
		Description: "Sibilance center frequency",
		Kind:        KindFloat,
		Min:         4000, Max: 10000,
		Default:   6000.0,
		LiveApply: true,
		AppliesAt: StageDeesser,
		Unit:      "Hz",
	},
	"deesser.reduction_db": {
		Description: "Maximum sibilance reduction",
		Kind:        KindFloat,
		Min:         0, Max: 12,
		Default:   6.0,
		LiveApply: true,
		AppliesAt: StageDeesser,
		Unit:      "dB",
	},

	// Feedback suppression
	"feedback.suppression_enabled": {
		Description: "Enable feedback suppression",
		Kind:        KindBool,
		Default:     false,
		LiveApply:   true,
		AppliesAt:   StageFeedback,
	},
	"feedback.notch_q": {
		Description: "Notch filter Q factor",
		Kind:        KindFloat,
		Min:         10, Max: 100,
		Default:   30.0,
		LiveApply: true,
		AppliesAt: StageFeedback,
		Unit:      "Q",
	},
	"feedback.max_notches": {
		Description: "Maximum number of notch filters",
		Kind:        KindInt,
		Min:         1, Max: 10,
		Default:   5,
		LiveApply: true,
		AppliesAt: StageFeedback,
		Unit:      "count",
	},
	"feedback.reaction_time_ms": {
		Description: "Feedback detection reaction time",
		Kind:        KindFloat,
		Min:         10, Max: 1000,
		Default:   100.0,
		LiveApply: true,
		AppliesAt: StageFeedback,
		Unit:      "ms",
	},

	// Smoothing
	"smoothing.enabled": {
		Description: "Enable/disable smoothing",
		Kind:        KindBool,
		Default:     false,
		LiveApply:   true,
		AppliesAt:   StageSmoothing,
	},
	"smoothing.window_ms": {
		Description: "Smoothing window size",
		Kind:        KindInt,
		Min:         0, Max: 100,
		Default:   20,
		LiveApply: true,
		AppliesAt: StageSmoothing,
		Unit:      "ms",
	},
	"smoothing.type": {
		Description: "Smoothing algorithm type",
		Kind:        KindEnum,
		EnumValues:  []string{"none", "moving_average", "exponential", "gaussian"},
		Default:     "exponential",
		LiveApply:   true,
		AppliesAt:   StageSmoothing,
	},

	// Safety limits
	"safety.clipping_protection": {
		Description: "Enable clipping protection",
		Kind:        KindBool,
		Default:     true,
		LiveApply:   true,
		AppliesAt:   StageSafety,
	},
	"safety.max_output_level_dbfs": {
		Description: "Maximum allowed output level",
		Kind:        KindFloat,
		Min:         -30, Max: 0,
		Default:   -1.0,
		LiveApply: true,
		AppliesAt: StageSafety,
		Unit:      "dBFS",
	},
	"safety.min_output_level_dbfs": {
		Description: "Minimum allowed output level",
		Kind:        KindFloat,
		Min:         -80, Max: -30,
		Default:   -60.0,
		LiveApply: true,
		AppliesAt: StageSafety,
		Unit:      "dBFS",
	},
	"safety.emergency_mute": {
		Description: "Emergency mute (panic button)",
		Kind:        KindBool,
		Default:     false,
		LiveApply:   true,
		AppliesAt:   StageSafety,
	},
	"safety.emergency_boost_db": {
		Description: "Emergency boost amount",
		Kind:        KindFloat,
		Min:         0, Max: 20,
		Default:   6.0,
		LiveApply: true,
		AppliesAt: StageSafety,
		Unit:      "dB",
	},

	// Jitter buffer: fixed at stream setup, size tunable live
	"jitterbuffer.enabled": {
		Description: "Enable jitter buffer",
		Kind:        KindBool,
		Default:     true,
		LiveApply:   false,
		AppliesAt:   StageTransport,
	},
	"jitterbuffer.type": {
		Description: "Jitter buffer type",
		Kind:        KindEnum,
		EnumValues:  []string{"fixed", "adaptive"},
		Default:     "adaptive",
		LiveApply:   false,
		AppliesAt:   StageTransport,
	},
	"jitterbuffer.size_ms": {
		Description: "Jitter buffer size",
		Kind:        KindInt,
		Min:         20, Max: 500,
		Default:   100,
		LiveApply: true,
		AppliesAt: StageTransport,
		Unit:      "ms",
	},
	"jitterbuffer.target_delay_ms": {
		Description: "Target delay",
		Kind:        KindInt,
		Min:         10, Max: 200,
		Default:   50,
		LiveApply: true,
		AppliesAt: StageTransport,
		Unit:      "ms",
	},

	// Monitoring control
	"monitoring.metrics_enabled": {
		Description: "Enable/disable metrics collection",
		Kind:        KindBool,
		Default:     true,
		LiveApply:   true,
		AppliesAt:   StageMonitoring,
	},
	"monitoring.audio_capture_enabled": {
		Description: "Enable/disable audio recording",
		Kind:        KindBool,
		Default:     true,
		LiveApply:   true,
		AppliesAt:   StageMonitoring,
	},
	"monitoring.pre_tap_enabled": {
		Description: "Enable/disable PRE tap monitoring",
		Kind:        KindBool,
		Default:     true,
		LiveApply:   true,
		AppliesAt:   StageMonitoring,
	},
	"monitoring.post_tap_enabled": {
		Description: "Enable/disable POST tap monitoring",
		Kind:        KindBool,
		Default:     true,
		LiveApply:   true,
		AppliesAt:   StageMonitoring,
	},
	"monitoring.fft_analysis_enabled": {
		Description: "Enable FFT spectral analysis",
		Kind:        KindBool,
		Default:     false,
		LiveApply:   true,
		AppliesAt:   StageMonitoring,
	},

	// Echo cancellation: filter topology is fixed at stream setup
	"aec.enabled": {
		Description: "Enable/disable acoustic echo cancellation",
		Kind:        KindBool,
		Default:     false,
		LiveApply:   false,
		AppliesAt:   StageAEC,
	},
	"aec.tail_length_ms": {
		Description: "Echo tail length",
		Kind:        KindInt,
		Min:         50, Max: 500,
		Default:   128,
		LiveApply: false,
		AppliesAt: StageAEC,
		Unit:      "ms",
	},
	"aec.convergence_speed": {
		Description: "AEC convergence speed",
		Kind:        KindFloat,
		Min:         0.1, Max: 1,
		Default:   0.5,
		LiveApply: true,
		AppliesAt: StageAEC,
		Unit:      "ratio",
	},
	"aec.suppression_level": {
		Description: "Echo suppression level",
		Kind:        KindEnum,
		EnumValues:  []string{"low", "moderate", "high"},
		Default:     "moderate",
		LiveApply:   true,
		AppliesAt:   StageAEC,
	},
	"aec.nlp_enabled": {
		Description: "Enable non-linear processing",
		Kind:        KindBool,
		Default:     true,
		LiveApply:   true,
		AppliesAt:   StageAEC,
	},

	// Automation permissions
	"auto.gain_adjustment_allowed": {
		Description: "Allow automatic gain adjustment",
		Kind:        KindBool,
		Default:     false,
		LiveApply:   true,
		AppliesAt:   StageAutoControl,
	},
	"auto.max_gain_adjustment_db": {
		Description: "Maximum auto gain adjustment",
		Kind:        KindFloat,
		Min:         0, Max: 12,
		Default:   6.0,
		LiveApply: true,
		AppliesAt: StageAutoControl,
		Unit:      "dB",
	},
	"auto.noise_reduction_allowed": {
		Description: "Allow automatic noise reduction",
		Kind:        KindBool,
		Default:     false,
		LiveApply:   true,
		AppliesAt:   StageAutoControl,
	},
	"auto.eq_adjustment_allowed": {
		Description: "Allow automatic EQ adjustment",
		Kind:        KindBool,
		Default:     false,
		LiveApply:   true,
		AppliesAt:   StageAutoControl,
	},
	"ai.optimization_allowed": {
		Description: "Allow AI-driven optimization",
		Kind:        KindBool,
		Default:     false,
		LiveApply:   true,
		AppliesAt:   StageAIControl,
	},
	"ai.max_adjustment_percent": {
		Description: "Maximum AI adjustment percentage",
		Kind:        KindFloat,
		Min:         0, Max: 50,
		Default:   20.0,
		LiveApply: true,
		AppliesAt: StageAIControl,
		Unit:      "percent",
	},
	"ai.rollback_on_failure": {
		Description: "Rollback AI changes on failure",
		Kind:        KindBool,
		Default:     true,
		LiveApply:   true,
		AppliesAt:   StageAIControl,
	},
}

// Groups collects the headline knobs per concern for management surfaces.
// Not every catalog key appears here; the full set is reachable by stage.
var Groups = map[string][]string{
	"GAIN":     {"pcm.input_gain_db", "pcm.output_gain_db", "pcm.target_level_dbfs"},
	"DYNAMICS": {"limiter.enabled", "limiter.threshold_dbfs", "limiter.release_ms", "limiter.lookahead_ms", "compressor.enabled", "compressor.threshold_dbfs", "compressor.ratio", "compressor.attack_ms", "compressor.release_ms"},
	"NOISE":    {"noise_gate.enabled", "noise_gate.threshold_dbfs", "noise_reduction.enabled", "noise_reduction.strength"},
	"VOICE":    {"vad.enabled", "vad.energy_threshold_dbfs", "voice.enhancement_enabled", "voice.enhancement_mode"},
	"FILTERS":  {"highpass.enabled", "highpass.cutoff_hz", "lowpass.enabled", "lowpass.cutoff_hz", "eq.enabled"},
	"ECHO":     {"aec.enabled", "aec.suppression_level", "feedback.suppression_enabled"},
	"SAFETY":   {"safety.max_output_level_dbfs", "safety.clipping_protection", "safety.emergency_mute"},
	"AUTO":     {"auto.gain_adjustment_allowed", "auto.noise_reduction_allowed", "ai.optimization_allowed"},
}

// Validate checks a candidate value against the catalog entry for key.
// Numeric kinds enforce min <= value <= max (and integrality for int),
// bool enforces a boolean, enum enforces membership.
func Validate(key string, value interface{}) error {
	def, ok := Catalog[key]
	if !ok {
		return errors.NewUnknownKnob(key)
	}

	switch def.Kind {
	case KindFloat, KindInt:
		num, ok := toFloat(value)
		if !ok || math.IsNaN(num) {
			return errors.NewWrongValueType(key, "number", value)
		}
		if num < def.Min || num > def.Max {
			return errors.NewValueOutOfRange(key, value, def.Min, def.Max)
		}
		if def.Kind == KindInt && num != math.Trunc(num) {
			return errors.NewWrongValueType(key, "integer", value)
		}
	case KindBool:
		if _, ok := value.(bool); !ok {
			return errors.NewWrongValueType(key, "boolean", value)
		}
	case KindEnum:
		s, ok := value.(string)
		if !ok {
			return errors.NewWrongValueType(key, "string", value)
		}
		for _, allowed := range def.EnumValues {
			if s == allowed {
				return nil
			}
		}
		return errors.NewValueOutOfRange(key, value, def.EnumValues[0], def.EnumValues[len(def.EnumValues)-1])
	}

	return nil
}

// Defaults returns a fresh map of every knob set to its default value.
func Defaults() map[string]interface{} {
	defaults := make(map[string]interface{}, len(Catalog))
	for key, def := range Catalog {
		defaults[key] = def.Default
	}
	return defaults
}

// KeysByStage returns the sorted knob keys that apply at the given stage.
func KeysByStage(stage Stage) []string {
	var keys []string
	for key, def := range Catalog {
		if def.AppliesAt == stage {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// LiveApplicable returns the sorted knob keys that may be applied without restart.
func LiveApplicable() []string {
	var keys []string
	for key, def := range Catalog {
		if def.LiveApply {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

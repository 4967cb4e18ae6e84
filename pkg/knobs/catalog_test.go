package knobs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audiomon-server/pkg/errors"
)

func TestValidateFloatRange(t *testing.T) {
	// Values inside the declared range pass, boundaries included
	assert.NoError(t, Validate("limiter.threshold_dbfs", -6.0))
	assert.NoError(t, Validate("limiter.threshold_dbfs", -30.0), "lower boundary is inclusive")
	assert.NoError(t, Validate("limiter.threshold_dbfs", -1.0), "upper boundary is inclusive")

	// Values outside the range are rejected with the range code
	err := Validate("limiter.threshold_dbfs", -0.5)
	assert.Error(t, err)
	assert.Equal(t, "VALUE_OUT_OF_RANGE", errors.GetErrorCode(err))

	err = Validate("pcm.input_gain_db", 25.0)
	assert.Error(t, err, "gain above +24 dB must be refused")
}

func TestValidateWrongType(t *testing.T) {
	err := Validate("limiter.threshold_dbfs", "loud")
	assert.Error(t, err)
	assert.Equal(t, "WRONG_VALUE_TYPE", errors.GetErrorCode(err))

	err = Validate("limiter.enabled", 1)
	assert.Error(t, err, "bool knobs refuse numeric values")
	assert.Equal(t, "WRONG_VALUE_TYPE", errors.GetErrorCode(err))
}

func TestValidateUnknownKnob(t *testing.T) {
	err := Validate("limiter.threshold", -6.0)
	assert.Error(t, err)
	assert.Equal(t, "UNKNOWN_KNOB", errors.GetErrorCode(err))
}

func TestValidateIntKnob(t *testing.T) {
	assert.NoError(t, Validate("highpass.order", 2))
	// JSON decoding produces float64; whole floats are valid integers
	assert.NoError(t, Validate("highpass.order", 2.0))

	err := Validate("highpass.order", 2.5)
	assert.Error(t, err, "fractional values are not valid integers")
	assert.Equal(t, "WRONG_VALUE_TYPE", errors.GetErrorCode(err))
}

func TestValidateEnumKnob(t *testing.T) {
	def, ok := Catalog["smoothing.type"]
	assert.True(t, ok)
	assert.NotEmpty(t, def.EnumValues)

	assert.NoError(t, Validate("smoothing.type", def.EnumValues[0]))

	err := Validate("smoothing.type", "nonsense")
	assert.Error(t, err)
	assert.Equal(t, "VALUE_OUT_OF_RANGE", errors.GetErrorCode(err))

	err = Validate("smoothing.type", 42)
	assert.Error(t, err)
	assert.Equal(t, "WRONG_VALUE_TYPE", errors.GetErrorCode(err))
}

func TestDefaults(t *testing.T) {
	defaults := Defaults()
	assert.Len(t, defaults, len(Catalog), "every catalog entry must have a default")
	assert.Equal(t, -6.0, defaults["limiter.threshold_dbfs"])
	assert.Equal(t, true, defaults["limiter.enabled"])

	// Every default must itself validate against its definition
	for key, value := range defaults {
		assert.NoError(t, Validate(key, value), "default for %s should be valid", key)
	}

	// The returned map is a copy
	defaults["limiter.threshold_dbfs"] = -99.0
	assert.Equal(t, -6.0, Defaults()["limiter.threshold_dbfs"])
}

func TestKeysByStage(t *testing.T) {
	keys := KeysByStage(StageDynamics)
	assert.Contains(t, keys, "limiter.threshold_dbfs")
	assert.Contains(t, keys, "compressor.ratio")
	assert.NotContains(t, keys, "highpass.cutoff_hz")
	assert.IsIncreasing(t, keys, "stage listings are sorted")
}

func TestLiveApplicable(t *testing.T) {
	keys := LiveApplicable()
	assert.Contains(t, keys, "pcm.input_gain_db")
	assert.IsIncreasing(t, keys)
}

func TestCatalogCoversAllControlGroups(t *testing.T) {
	// The full control surface: 87 keys across pcm, dynamics, noise,
	// voice, filtering, echo, transport, safety and automation
	assert.Len(t, Catalog, 87)

	prefixes := []string{
		"pcm.", "limiter.", "compressor.", "noise_gate.", "noise_reduction.",
		"agc.", "vad.", "eq.", "highpass.", "lowpass.", "voice.", "deesser.",
		"aec.", "feedback.", "smoothing.", "safety.", "jitterbuffer.",
		"monitoring.", "auto.", "ai.",
	}
	for _, prefix := range prefixes {
		found := false
		for key := range Catalog {
			if strings.HasPrefix(key, prefix) {
				found = true
				break
			}
		}
		assert.True(t, found, "no catalog keys under %q", prefix)
	}
}

func TestCatalogCoversProcessingStages(t *testing.T) {
	stages := []Stage{
		StagePreProcessing, StagePostProcessing, StageFilter, StageNoise,
		StageDynamics, StageSafety, StageAGC, StageVAD, StageEQ, StageVoice,
		StageDeesser, StageAEC, StageFeedback, StageSmoothing, StageTransport,
		StageMonitoring, StageAutoControl, StageAIControl,
	}
	for _, stage := range stages {
		assert.NotEmpty(t, KeysByStage(stage), "no knobs declared for stage %s", stage)
	}
}

func TestGroupsReferenceCatalogKeys(t *testing.T) {
	require.NotEmpty(t, Groups)
	for group, keys := range Groups {
		assert.NotEmpty(t, keys, "group %s is empty", group)
		for _, key := range keys {
			_, ok := Catalog[key]
			assert.True(t, ok, "group %s references unknown key %s", group, key)
		}
	}
}

func TestValidateEnumDefaultsFromCatalog(t *testing.T) {
	// String enums added with the echo and transport knobs validate
	// against their listed values
	assert.NoError(t, Validate("aec.suppression_level", "moderate"))
	err := Validate("aec.suppression_level", "extreme")
	assert.Error(t, err)
	assert.Equal(t, "VALUE_OUT_OF_RANGE", errors.GetErrorCode(err))

	assert.NoError(t, Validate("jitterbuffer.type", "adaptive"))
	assert.NoError(t, Validate("voice.enhancement_mode", Catalog["voice.enhancement_mode"].Default))
}

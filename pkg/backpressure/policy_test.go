package backpressure

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestPolicyHysteresis(t *testing.T) {
	policy := NewPolicy(DropOldest, 0.8, 0.5, testLogger())

	// Below the high watermark the flag stays clear
	assert.False(t, policy.Check(70, 100), "70% utilization must not trigger")
	assert.False(t, policy.Active())

	// Reaching the high watermark triggers
	assert.True(t, policy.Check(80, 100), "80% utilization must trigger")
	assert.True(t, policy.Active())

	// Dropping into the hysteresis band keeps the flag set
	assert.True(t, policy.Check(60, 100), "60% is inside the band, pressure stays active")

	// Falling to the low watermark clears
	assert.False(t, policy.Check(50, 100), "50% utilization must clear")
	assert.False(t, policy.Active())

	stats := policy.Stats()
	assert.Equal(t, uint64(1), stats.Triggered)
	assert.Equal(t, uint64(1), stats.Cleared)
}

func TestPolicyDefaults(t *testing.T) {
	// Zero or invalid watermarks fall back to the balanced preset
	policy := NewPolicy("", 0, 0, testLogger())
	assert.Equal(t, DropOldest, policy.Strategy)
	assert.Equal(t, 0.8, policy.HighWater)
	assert.Equal(t, 0.5, policy.LowWater)

	// A low watermark above the high watermark is rejected
	policy = NewPolicy(DropNewest, 0.8, 0.9, testLogger())
	assert.Equal(t, 0.5, policy.LowWater, "inverted watermarks should reset the low side")
}

func TestPolicyZeroCapacity(t *testing.T) {
	policy := NewPolicy(DropOldest, 0.8, 0.5, testLogger())
	assert.False(t, policy.Check(10, 0), "zero capacity can never report pressure")
}

func TestPresets(t *testing.T) {
	conservative := NewPreset(PresetConservative, testLogger())
	assert.Equal(t, 0.7, conservative.HighWater)
	assert.Equal(t, 0.3, conservative.LowWater)

	aggressive := NewPreset(PresetAggressive, testLogger())
	assert.Equal(t, 0.95, aggressive.HighWater)

	throttle := NewPreset(PresetThrottle, testLogger())
	assert.Equal(t, Throttle, throttle.Strategy)

	// Unknown preset names fall back to balanced
	balanced := NewPreset("nonsense", testLogger())
	assert.Equal(t, DropOldest, balanced.Strategy)
	assert.Equal(t, 0.8, balanced.HighWater)
}

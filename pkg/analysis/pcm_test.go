package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// constantFrame builds a frame holding the same value throughout.
func constantFrame(value int16, n int) []int16 {
	frame := make([]int16, n)
	for i := range frame {
		frame[i] = value
	}
	return frame
}

// squareFrame alternates +amp/-amp every sample.
func squareFrame(amp int16, n int) []int16 {
	frame := make([]int16, n)
	for i := range frame {
		if i%2 == 0 {
			frame[i] = amp
		} else {
			frame[i] = -amp
		}
	}
	return frame
}

func TestRMSDBFS(t *testing.T) {
	// 1. A full-scale square wave has an RMS of exactly full scale: 0 dBFS
	assert.InDelta(t, 0.0, RMSDBFS(squareFrame(32767, 160)), 0.001)

	// 2. A half-scale square wave sits close to -6 dBFS
	assert.InDelta(t, -6.02, RMSDBFS(squareFrame(16384, 160)), 0.01)

	// 3. Digital silence bottoms out at the epsilon floor, far below any
	//    audible level
	assert.Less(t, RMSDBFS(constantFrame(0, 160)), -200.0)

	// 4. Empty frames yield NaN, not a fake level
	assert.True(t, math.IsNaN(RMSDBFS(nil)))
}

func TestPeakMeasures(t *testing.T) {
	frame := []int16{100, -300, 250, -50}

	assert.Equal(t, 300.0, PeakAmplitude(frame), "peak is the largest absolute sample")
	assert.Equal(t, 550.0, PeakToPeak(frame), "span from -300 to 250")
	assert.InDelta(t, 175.0, AverageAbsolute(frame), 0.001, "(100+300+250+50)/4")

	assert.InDelta(t, 0.0, PeakDBFS(squareFrame(32767, 8)), 0.001)
	assert.True(t, math.IsNaN(PeakAmplitude(nil)))
}

func TestCrestFactor(t *testing.T) {
	// A square wave's peak equals its RMS: crest factor 1
	assert.InDelta(t, 1.0, CrestFactor(squareFrame(10000, 160)), 0.001)
	assert.True(t, math.IsNaN(CrestFactor(nil)))
}

func TestClippingDetection(t *testing.T) {
	frame := []int16{0, 32760, 32767, -32760, 1000, 32761, 32762}

	// 1. Samples at or above 32760 magnitude count as clipped
	assert.Equal(t, 5, ClippedSamples(frame))
	assert.InDelta(t, 5.0/7.0, ClippingRatio(frame), 0.001)

	// 2. The longest clipped run spans the trailing pair
	assert.Equal(t, 2, ConsecutiveClipped(frame))

	// 3. A clean frame reports no clipping
	assert.Zero(t, ClippedSamples(constantFrame(30000, 10)))
	assert.True(t, math.IsNaN(ClippingRatio(nil)))
}

func TestZeroCrossingRate(t *testing.T) {
	// Every transition of a square wave crosses zero
	assert.Equal(t, 1.0, ZeroCrossingRate(squareFrame(1000, 8)))

	// A constant signal never crosses
	assert.Equal(t, 0.0, ZeroCrossingRate(constantFrame(500, 8)))

	// Too short to measure
	assert.True(t, math.IsNaN(ZeroCrossingRate([]int16{5})))
}

func TestNoiseFloorAndSNR(t *testing.T) {
	// Three quiet samples among seventeen loud ones: the 10th percentile
	// picks a quiet magnitude, so the floor sits well below the RMS level
	frame := append([]int16{10, 10, 10}, constantFrame(20000, 17)...)

	floor := NoiseFloor(frame)
	rms := RMSDBFS(frame)
	assert.Less(t, floor, rms, "noise floor must sit below the signal level")
	assert.Greater(t, SNREstimate(frame), 0.0)

	assert.True(t, math.IsNaN(NoiseFloor(nil)))
}

func TestSilenceDetected(t *testing.T) {
	assert.True(t, SilenceDetected(constantFrame(0, 160), -50))
	assert.False(t, SilenceDetected(squareFrame(16384, 160), -50))
}

func TestMutedAndFrozen(t *testing.T) {
	assert.True(t, MutedSignal(constantFrame(0, 10)))
	assert.False(t, MutedSignal(constantFrame(1, 10)))
	assert.False(t, MutedSignal(nil), "an empty frame is not evidence of muting")

	assert.True(t, FrozenSignal(constantFrame(777, 10)), "a stuck DC value is frozen")
	assert.False(t, FrozenSignal(squareFrame(777, 10)))
	assert.False(t, FrozenSignal([]int16{1}), "one sample cannot be frozen")
}

func TestAudioHealthScore(t *testing.T) {
	// 1. A clean, live signal with a clear noise floor scores high
	clean := append([]int16{10, -10}, squareFrame(12000, 158)...)
	assert.Greater(t, AudioHealthScore(clean), 60.0)

	// 2. Pure silence loses the muted and frozen components
	assert.Less(t, AudioHealthScore(constantFrame(0, 160)), 60.0)

	// 3. The score is always clamped to 0..100
	score := AudioHealthScore(squareFrame(32767, 160))
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 100.0)

	assert.True(t, math.IsNaN(AudioHealthScore(nil)))
}

func TestCatalogLookup(t *testing.T) {
	metric, ok := Lookup("pcm.rms_dbfs")
	assert.True(t, ok)
	assert.NotNil(t, metric.Compute)
	assert.True(t, metric.RealtimeSafe)

	_, ok = Lookup("pcm.nonsense")
	assert.False(t, ok)

	assert.IsIncreasing(t, Keys(), "catalog key listing is sorted")
}

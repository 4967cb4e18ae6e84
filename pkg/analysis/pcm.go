package analysis

import (
	"math"
	"sort"
)

// RatioToDBFS converts a 0..1 magnitude ratio to dB relative to full scale.
func RatioToDBFS(ratio float64) float64 {
	return 20 * math.Log10(math.Max(epsilon, ratio))
}

// RMSDBFS returns the root-mean-square level of a frame in dBFS.
func RMSDBFS(frame []int16) float64 {
	if len(frame) == 0 {
		return math.NaN()
	}
	var sumSq float64
	for _, s := range frame {
		f := float64(s)
		sumSq += f * f
	}
	rms := math.Sqrt(sumSq / float64(len(frame)))
	return RatioToDBFS(rms / FullScale)
}

// PeakDBFS returns the peak level of a frame in dBFS.
func PeakDBFS(frame []int16) float64 {
	if len(frame) == 0 {
		return math.NaN()
	}
	return RatioToDBFS(PeakAmplitude(frame) / FullScale)
}

// PeakAmplitude returns the largest absolute sample value.
func PeakAmplitude(frame []int16) float64 {
	if len(frame) == 0 {
		return math.NaN()
	}
	var peak float64
	for _, s := range frame {
		a := math.Abs(float64(s))
		if a > peak {
			peak = a
		}
	}
	return peak
}

// PeakToPeak returns the span between the largest and smallest sample.
func PeakToPeak(frame []int16) float64 {
	if len(frame) == 0 {
		return math.NaN()
	}
	min, max := frame[0], frame[0]
	for _, s := range frame[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	return float64(max) - float64(min)
}

// AverageAbsolute returns the mean absolute sample value.
func AverageAbsolute(frame []int16) float64 {
	if len(frame) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, s := range frame {
		sum += math.Abs(float64(s))
	}
	return sum / float64(len(frame))
}

// CrestFactor returns the ratio of peak amplitude to linear RMS.
func CrestFactor(frame []int16) float64 {
	peak := PeakAmplitude(frame)
	rmsDB := RMSDBFS(frame)
	if math.IsNaN(peak) || math.IsNaN(rmsDB) {
		return math.NaN()
	}
	rms := FullScale * math.Pow(10, rmsDB/20)
	return peak / rms
}

// ClippingRatio returns the fraction of samples at or above the clip
// threshold.
func ClippingRatio(frame []int16) float64 {
	if len(frame) == 0 {
		return math.NaN()
	}
	return float64(ClippedSamples(frame)) / float64(len(frame))
}

// ClippedSamples counts samples at or above the clip threshold.
func ClippedSamples(frame []int16) int {
	count := 0
	for _, s := range frame {
		if abs(s) >= clipThreshold {
			count++
		}
	}
	return count
}

// ConsecutiveClipped returns the longest run of clipped samples.
func ConsecutiveClipped(frame []int16) int {
	maxRun, run := 0, 0
	for _, s := range frame {
		if abs(s) >= clipThreshold {
			run++
			if run > maxRun {
				maxRun = run
			}
		} else {
			run = 0
		}
	}
	return maxRun
}

// ZeroCrossingRate returns sign changes per sample transition.
func ZeroCrossingRate(frame []int16) float64 {
	if len(frame) < 2 {
		return math.NaN()
	}
	crossings := 0
	prev := frame[0]
	for _, cur := range frame[1:] {
		if (prev < 0 && cur >= 0) || (prev >= 0 && cur < 0) {
			crossings++
		}
		prev = cur
	}
	return float64(crossings) / float64(len(frame)-1)
}

// NoiseFloor estimates the noise floor as the 10th percentile of absolute
// sample magnitude, expressed in dBFS.
func NoiseFloor(frame []int16) float64 {
	if len(frame) == 0 {
		return math.NaN()
	}
	magnitudes := make([]float64, len(frame))
	for i, s := range frame {
		magnitudes[i] = math.Abs(float64(s))
	}
	sort.Float64s(magnitudes)
	idx := len(magnitudes) / 10
	return RatioToDBFS(magnitudes[idx] / FullScale)
}

// SNREstimate returns the spread between RMS level and the noise floor.
func SNREstimate(frame []int16) float64 {
	return RMSDBFS(frame) - NoiseFloor(frame)
}

// SilenceDetected reports whether the frame RMS is below thresholdDBFS.
func SilenceDetected(frame []int16, thresholdDBFS float64) bool {
	return RMSDBFS(frame) < thresholdDBFS
}

// MutedSignal reports whether every sample is zero.
func MutedSignal(frame []int16) bool {
	if len(frame) == 0 {
		return false
	}
	for _, s := range frame {
		if s != 0 {
			return false
		}
	}
	return true
}

// FrozenSignal reports whether every sample holds the same value.
func FrozenSignal(frame []int16) bool {
	if len(frame) < 2 {
		return false
	}
	first := frame[0]
	for _, s := range frame[1:] {
		if s != first {
			return false
		}
	}
	return true
}

// AudioHealthScore combines clipping, SNR and signal liveness into a
// 0..100 score.
func AudioHealthScore(frame []int16) float64 {
	clipping := ClippingRatio(frame)
	snr := SNREstimate(frame)
	if math.IsNaN(clipping) || math.IsNaN(snr) {
		return math.NaN()
	}

	frozen := 1.0
	if FrozenSignal(frame) {
		frozen = 0
	}
	muted := 1.0
	if MutedSignal(frame) {
		muted = 0
	}

	score := (1-clipping)*25 + math.Min(snr/40, 1)*25 + frozen*25 + muted*25
	return math.Max(0, math.Min(100, score))
}

func abs(s int16) int {
	if s < 0 {
		return -int(s)
	}
	return int(s)
}

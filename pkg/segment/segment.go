// Package segment captures raw PCM into 5-second bucket-aligned segments
// and writes them to disk as WAV files off the frame path.
package segment

// FormatWAVPCM16Mono names the baseline segment encoding.
const FormatWAVPCM16Mono = "WAV_PCM_S16LE_MONO"

// Segment is one finalized, exact-length audio bucket for one
// (call, station, tap) stream. Immutable once built; ownership passes to
// the writer, which discards it after encoding.
type Segment struct {
	CallID     string
	StationID  string
	Tap        string
	BucketTS   int64
	BucketMS   int64
	SampleRate int
	Channels   int
	Format     string
	PCM        []int16
}

// ExpectedSamples returns the exact sample count of a finalized segment.
func ExpectedSamples(sampleRate, channels int) int {
	return sampleRate * 5 * channels
}

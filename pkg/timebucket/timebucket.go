// Package timebucket defines the fixed 5-second time grid that aligns
// metric aggregation and audio segmentation. The span is a protocol
// invariant, not a configuration option.
package timebucket

import "time"

// SpanMS is the bucket length in milliseconds.
const SpanMS int64 = 5000

// Span is the bucket length as a duration.
const Span = 5 * time.Second

// Floor snaps a millisecond timestamp down to its bucket start.
func Floor(tsMS int64) int64 {
	if tsMS < 0 {
		return 0
	}
	return tsMS - tsMS%SpanMS
}

// NextBoundary returns the start of the bucket after the one containing tsMS.
func NextBoundary(tsMS int64) int64 {
	return Floor(tsMS) + SpanMS
}

// UntilNextBoundary returns the wait from now until the next bucket boundary.
func UntilNextBoundary(now time.Time) time.Duration {
	nowMS := now.UnixMilli()
	return time.Duration(NextBoundary(nowMS)-nowMS) * time.Millisecond
}

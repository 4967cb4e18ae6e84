// Package store defines the boundary to the durable store. Everything in
// this subsystem treats the store as fire-and-forget: failures are logged
// and the in-memory item is dropped; retry and transaction logic belong to
// the store implementation.
package store

import (
	"time"

	"audiomon-server/pkg/aggregate"
	"audiomon-server/pkg/knobs"
)

// CallRecord describes one monitored call leg.
type CallRecord struct {
	CallID    string     `json:"call_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	SrcExt    string     `json:"src_extension,omitempty"`
	DstExt    string     `json:"dst_extension,omitempty"`
	Notes     string     `json:"notes,omitempty"`
}

// SegmentIndex points the store at one written audio segment file.
// Idempotent per (call, station, tap, bucket).
type SegmentIndex struct {
	CallID     string `json:"call_id"`
	StationID  string `json:"station_id"`
	Tap        string `json:"tap"`
	BucketTS   int64  `json:"bucket_ts_ms"`
	BucketMS   int64  `json:"bucket_ms"`
	SampleRate int    `json:"sample_rate_hz"`
	Channels   int    `json:"channels"`
	Format     string `json:"format"`
	FilePath   string `json:"file_path"`
	FileBytes  int64  `json:"file_bytes"`
}

// Store receives finished artifacts. WriteMetricBatch must merge, not
// duplicate, on repeat delivery of the same (call, station, tap, metric,
// bucket) key; IndexAudioSegment likewise per (call, station, tap, bucket).
type Store interface {
	UpsertCall(record CallRecord) error
	WriteMetricBatch(rows []aggregate.Row) error
	IndexAudioSegment(record SegmentIndex) error
	RecordKnobEvent(event knobs.ChangeResult) error
	RunRetentionCleanup() error
	Close() error
}

// Nop is a Store that discards everything. Used when no durable store is
// configured.
type Nop struct{}

func (Nop) UpsertCall(CallRecord) error                 { return nil }
func (Nop) WriteMetricBatch([]aggregate.Row) error      { return nil }
func (Nop) IndexAudioSegment(SegmentIndex) error        { return nil }
func (Nop) RecordKnobEvent(knobs.ChangeResult) error    { return nil }
func (Nop) RunRetentionCleanup() error                  { return nil }
func (Nop) Close() error                                { return nil }

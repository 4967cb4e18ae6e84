package store

import (
	"audiomon-server/pkg/aggregate"
	"audiomon-server/pkg/knobs"
)

// Fanout delivers every write to each backing store in order. The first
// error is returned after all stores have been tried, so a broken relay
// never starves the database or vice versa.
type Fanout struct {
	stores []Store
}

// NewFanout composes stores into one. With no arguments it behaves as Nop.
func NewFanout(stores ...Store) *Fanout {
	return &Fanout{stores: stores}
}

func (f *Fanout) UpsertCall(record CallRecord) error {
	return f.each(func(s Store) error { return s.UpsertCall(record) })
}

func (f *Fanout) WriteMetricBatch(rows []aggregate.Row) error {
	return f.each(func(s Store) error { return s.WriteMetricBatch(rows) })
}

func (f *Fanout) IndexAudioSegment(record SegmentIndex) error {
	return f.each(func(s Store) error { return s.IndexAudioSegment(record) })
}

func (f *Fanout) RecordKnobEvent(event knobs.ChangeResult) error {
	return f.each(func(s Store) error { return s.RecordKnobEvent(event) })
}

func (f *Fanout) RunRetentionCleanup() error {
	return f.each(func(s Store) error { return s.RunRetentionCleanup() })
}

func (f *Fanout) Close() error {
	return f.each(func(s Store) error { return s.Close() })
}

func (f *Fanout) each(fn func(Store) error) error {
	var first error
	for _, s := range f.stores {
		if err := fn(s); err != nil && first == nil {
			first = err
		}
	}
	return first
}

package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audiomon-server/pkg/aggregate"
	"audiomon-server/pkg/errors"
	"audiomon-server/pkg/knobs"
)

// countingStore tracks calls and optionally fails everything.
type countingStore struct {
	mu    sync.Mutex
	calls map[string]int
	fail  bool
}

func newCountingStore(fail bool) *countingStore {
	return &countingStore{calls: make(map[string]int), fail: fail}
}

func (s *countingStore) bump(op string) error {
	s.mu.Lock()
	s.calls[op]++
	s.mu.Unlock()
	if s.fail {
		return errors.New("store down").WithCode("STORE_DOWN")
	}
	return nil
}

func (s *countingStore) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *countingStore) UpsertCall(CallRecord) error              { return s.bump("upsert_call") }
func (s *countingStore) WriteMetricBatch([]aggregate.Row) error   { return s.bump("write_metrics") }
func (s *countingStore) IndexAudioSegment(SegmentIndex) error     { return s.bump("index_segment") }
func (s *countingStore) RecordKnobEvent(knobs.ChangeResult) error { return s.bump("knob_event") }
func (s *countingStore) RunRetentionCleanup() error               { return s.bump("retention") }
func (s *countingStore) Close() error                             { return s.bump("close") }

func TestFanoutDeliversToAllStores(t *testing.T) {
	a := newCountingStore(false)
	b := newCountingStore(false)
	fanout := NewFanout(a, b)

	require.NoError(t, fanout.UpsertCall(CallRecord{CallID: "c1"}))
	require.NoError(t, fanout.WriteMetricBatch([]aggregate.Row{{CallID: "c1"}}))
	require.NoError(t, fanout.IndexAudioSegment(SegmentIndex{CallID: "c1"}))
	require.NoError(t, fanout.RecordKnobEvent(knobs.ChangeResult{Key: "limiter.enabled"}))
	require.NoError(t, fanout.RunRetentionCleanup())
	require.NoError(t, fanout.Close())

	for _, op := range []string{"upsert_call", "write_metrics", "index_segment", "knob_event", "retention", "close"} {
		assert.Equal(t, 1, a.count(op), "store a missed %s", op)
		assert.Equal(t, 1, b.count(op), "store b missed %s", op)
	}
}

func TestFanoutFirstErrorWinsButAllStoresRun(t *testing.T) {
	broken := newCountingStore(true)
	healthy := newCountingStore(false)
	fanout := NewFanout(broken, healthy)

	err := fanout.WriteMetricBatch([]aggregate.Row{{CallID: "c1"}})
	require.Error(t, err)
	assert.Equal(t, "STORE_DOWN", errors.GetErrorCode(err))

	// The healthy store still received the batch
	assert.Equal(t, 1, healthy.count("write_metrics"))
}

func TestFanoutEmptyBehavesAsNop(t *testing.T) {
	fanout := NewFanout()
	assert.NoError(t, fanout.UpsertCall(CallRecord{CallID: "c1"}))
	assert.NoError(t, fanout.Close())
}

func TestNopStore(t *testing.T) {
	var s Store = Nop{}
	assert.NoError(t, s.UpsertCall(CallRecord{}))
	assert.NoError(t, s.WriteMetricBatch(nil))
	assert.NoError(t, s.IndexAudioSegment(SegmentIndex{}))
	assert.NoError(t, s.RecordKnobEvent(knobs.ChangeResult{}))
	assert.NoError(t, s.RunRetentionCleanup())
	assert.NoError(t, s.Close())
}

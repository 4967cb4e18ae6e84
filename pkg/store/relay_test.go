package store

import (
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audiomon-server/pkg/aggregate"
	"audiomon-server/pkg/errors"
	"audiomon-server/pkg/knobs"
	"audiomon-server/pkg/messaging"
)

func relayLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// fakePublisher records published events and simulates broker state.
type fakePublisher struct {
	mu        sync.Mutex
	events    []string
	connected bool
	fail      bool
}

func (p *fakePublisher) Publish(eventType string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("publish failed")
	}
	p.events = append(p.events, eventType)
	return nil
}

func (p *fakePublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func TestRelayPublishesTypedEvents(t *testing.T) {
	pub := &fakePublisher{connected: true}
	relay := NewAMQPRelay(pub, relayLogger())

	require.NoError(t, relay.UpsertCall(CallRecord{CallID: "c1"}))
	require.NoError(t, relay.WriteMetricBatch([]aggregate.Row{{CallID: "c1"}}))
	require.NoError(t, relay.IndexAudioSegment(SegmentIndex{CallID: "c1"}))
	require.NoError(t, relay.RecordKnobEvent(knobs.ChangeResult{Key: "limiter.enabled"}))

	assert.Equal(t, []string{
		messaging.EventCallUpdate,
		messaging.EventMetricRows,
		messaging.EventSegmentIndex,
		messaging.EventKnobChange,
	}, pub.published())
}

func TestRelaySkipsWhenDisconnected(t *testing.T) {
	pub := &fakePublisher{connected: false}
	relay := NewAMQPRelay(pub, relayLogger())

	// Best-effort: a disconnected broker never surfaces as an error
	assert.NoError(t, relay.WriteMetricBatch([]aggregate.Row{{CallID: "c1"}}))
	assert.Empty(t, pub.published())
}

func TestRelaySwallowsPublishFailures(t *testing.T) {
	pub := &fakePublisher{connected: true, fail: true}
	relay := NewAMQPRelay(pub, relayLogger())

	assert.NoError(t, relay.UpsertCall(CallRecord{CallID: "c1"}))
	assert.NoError(t, relay.RecordKnobEvent(knobs.ChangeResult{Key: "limiter.enabled"}))
}

func TestRelaySkipsEmptyBatches(t *testing.T) {
	pub := &fakePublisher{connected: true}
	relay := NewAMQPRelay(pub, relayLogger())

	assert.NoError(t, relay.WriteMetricBatch(nil))
	assert.Empty(t, pub.published(), "no event for an empty batch")
}

func TestRelayNoOps(t *testing.T) {
	relay := NewAMQPRelay(&fakePublisher{}, relayLogger())
	assert.NoError(t, relay.RunRetentionCleanup())
	assert.NoError(t, relay.Close())
}

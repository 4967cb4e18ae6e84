package store

import (
	"github.com/sirupsen/logrus"

	"audiomon-server/pkg/aggregate"
	"audiomon-server/pkg/knobs"
	"audiomon-server/pkg/messaging"
)

// Publisher is the slice of the messaging client the relay needs.
type Publisher interface {
	Publish(eventType string, payload interface{}) error
	IsConnected() bool
}

// AMQPRelay mirrors store writes onto the message broker. It is strictly
// best-effort: a disconnected broker or failed publish is logged and
// swallowed so the fanout never stalls on it.
type AMQPRelay struct {
	publisher Publisher
	logger    *logrus.Logger
}

// NewAMQPRelay wraps a messaging publisher as a Store.
func NewAMQPRelay(publisher Publisher, logger *logrus.Logger) *AMQPRelay {
	if logger == nil {
		logger = logrus.New()
	}
	return &AMQPRelay{publisher: publisher, logger: logger}
}

func (r *AMQPRelay) UpsertCall(record CallRecord) error {
	r.publish(messaging.EventCallUpdate, record)
	return nil
}

func (r *AMQPRelay) WriteMetricBatch(rows []aggregate.Row) error {
	if len(rows) == 0 {
		return nil
	}
	r.publish(messaging.EventMetricRows, rows)
	return nil
}

func (r *AMQPRelay) IndexAudioSegment(record SegmentIndex) error {
	r.publish(messaging.EventSegmentIndex, record)
	return nil
}

func (r *AMQPRelay) RecordKnobEvent(event knobs.ChangeResult) error {
	r.publish(messaging.EventKnobChange, event)
	return nil
}

func (r *AMQPRelay) RunRetentionCleanup() error { return nil }

func (r *AMQPRelay) Close() error { return nil }

func (r *AMQPRelay) publish(eventType string, payload interface{}) {
	if !r.publisher.IsConnected() {
		return
	}
	if err := r.publisher.Publish(eventType, payload); err != nil {
		r.logger.WithError(err).WithField("event_type", eventType).Debug("Dropped broker event")
	}
}

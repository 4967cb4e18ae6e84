// Package emit moves aggregated metric rows from the flush callback to the
// durable store through a bounded queue so a slow store never stalls the
// aggregation sweep.
package emit

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"audiomon-server/pkg/aggregate"
	"audiomon-server/pkg/backpressure"
)

const (
	// DefaultQueueCapacity bounds memory held for rows awaiting delivery.
	DefaultQueueCapacity = 10000
	// flushInterval paces store deliveries.
	flushInterval = 200 * time.Millisecond
	// maxBatch caps rows per store call.
	maxBatch = 100
)

// Sink receives batches of finished metric rows. Delivery of the same row
// twice must merge, not duplicate.
type Sink interface {
	WriteMetricBatch(rows []aggregate.Row) error
}

// EmitterStats counts emitter activity.
type EmitterStats struct {
	Enqueued  uint64 `json:"enqueued"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Failures  uint64 `json:"failures"`
}

// Emitter buffers metric rows and delivers them to the sink in batches.
// EmitBatch is O(rows) and never blocks on the sink.
type Emitter struct {
	queue  *backpressure.Queue[aggregate.Row]
	sink   Sink
	logger *logrus.Logger
	now    func() time.Time

	mu    sync.Mutex
	stats EmitterStats

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// Option adjusts emitter construction.
type Option func(*Emitter)

// WithClock overrides the time source used to stamp row arrival.
func WithClock(now func() time.Time) Option {
	return func(e *Emitter) { e.now = now }
}

// NewEmitter creates an emitter draining into sink. A zero capacity falls
// back to DefaultQueueCapacity.
func NewEmitter(sink Sink, capacity int, policy *backpressure.Policy, logger *logrus.Logger, opts ...Option) *Emitter {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if policy == nil {
		policy = NewDropOldestPolicy(logger)
	}
	if logger == nil {
		logger = logrus.New()
	}
	e := &Emitter{
		queue:  backpressure.NewQueue[aggregate.Row](capacity, policy),
		sink:   sink,
		logger: logger,
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewDropOldestPolicy builds the emitter's default admission policy. Old
// rows lose value fastest, so overflow sheds from the head.
func NewDropOldestPolicy(logger *logrus.Logger) *backpressure.Policy {
	return backpressure.NewPolicy(backpressure.DropOldest, 0, 0, logger)
}

// EmitBatch stamps arrival time on each row and queues it for delivery.
// Returns the number of rows shed under backpressure.
func (e *Emitter) EmitBatch(rows []aggregate.Row) int {
	receivedAt := e.now()
	shed := 0
	for _, row := range rows {
		row.ReceivedAt = receivedAt
		_, dropped := e.queue.Offer(row)
		shed += dropped
	}

	e.mu.Lock()
	e.stats.Enqueued += uint64(len(rows))
	e.stats.Dropped += uint64(shed)
	e.mu.Unlock()

	if shed > 0 {
		e.logger.WithField("dropped", shed).Warn("Metric emit queue full, shedding oldest rows")
	}
	return shed
}

// Start launches the background delivery loop.
func (e *Emitter) Start() {
	e.startOnce.Do(func() {
		go e.deliverLoop()
	})
}

// Stop halts the delivery loop and flushes everything still queued.
func (e *Emitter) Stop() {
	e.stopOnce.Do(func() {
		close(e.stop)
		<-e.done
		for e.queue.Len() > 0 {
			if !e.deliverOnce() {
				// Sink is down; shed the remainder rather than spin.
				remaining := e.queue.PopBatch(e.queue.Len())
				e.mu.Lock()
				e.stats.Dropped += uint64(len(remaining))
				e.mu.Unlock()
				e.logger.WithField("dropped", len(remaining)).Warn("Discarding queued metric rows on shutdown, sink unavailable")
				return
			}
		}
	})
}

// QueueDepth returns the number of rows awaiting delivery.
func (e *Emitter) QueueDepth() int { return e.queue.Len() }

// QueueUtilization returns the queue fill ratio in [0, 1].
func (e *Emitter) QueueUtilization() float64 { return e.queue.Utilization() }

// Stats returns a snapshot of emitter counters.
func (e *Emitter) Stats() EmitterStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Emitter) deliverLoop() {
	defer close(e.done)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.deliverOnce()
		}
	}
}

// deliverOnce sends at most one batch to the sink. On failure the batch is
// requeued at the front so ordering survives a transient store outage; if
// the queue refilled in the meantime the batch is shed instead.
func (e *Emitter) deliverOnce() bool {
	batch := e.queue.PopBatch(maxBatch)
	if len(batch) == 0 {
		return true
	}

	if err := e.sink.WriteMetricBatch(batch); err != nil {
		e.mu.Lock()
		e.stats.Failures++
		e.mu.Unlock()

		if !e.queue.Requeue(batch) {
			e.mu.Lock()
			e.stats.Dropped += uint64(len(batch))
			e.mu.Unlock()
			e.logger.WithError(err).WithField("dropped", len(batch)).Error("Metric batch delivery failed and queue is full, shedding batch")
		} else {
			e.logger.WithError(err).WithField("rows", len(batch)).Warn("Metric batch delivery failed, requeued for retry")
		}
		return false
	}

	e.mu.Lock()
	e.stats.Delivered += uint64(len(batch))
	e.mu.Unlock()
	return true
}

package backpressure

import "sync"

// QueueStats counts queue activity.
type QueueStats struct {
	Enqueued uint64 `json:"enqueued"`
	Popped   uint64 `json:"popped"`
	Dropped  uint64 `json:"dropped"`
}

// Queue is a bounded FIFO mutated only through Offer (producer side) and
// Pop/PopBatch (consumer side). Overflow is resolved by the attached
// policy's strategy; Offer never blocks.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	policy   *Policy
	stats    QueueStats
}

// NewQueue creates a bounded queue with the given capacity and policy.
func NewQueue[T any](capacity int, policy *Policy) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	if policy == nil {
		policy = NewPolicy(DropOldest, 0, 0, nil)
	}
	return &Queue[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
		policy:   policy,
	}
}

// Offer enqueues item, applying the overflow strategy when full. It reports
// whether the item was accepted and how many queued items were shed to make
// room, and updates the policy's pressure flag.
func (q *Queue[T]) Offer(item T) (bool, int) {
	q.mu.Lock()

	accepted := true
	dropped := 0
	if len(q.items) >= q.capacity {
		idx := q.policy.dropIndex(len(q.items))
		if idx < 0 {
			accepted = false
			if q.policy.Strategy == Throttle {
				q.policy.recordThrottle()
			} else {
				q.policy.recordDrop()
			}
			q.stats.Dropped++
			dropped++
		} else {
			q.items = append(q.items[:idx], q.items[idx+1:]...)
			q.policy.recordDrop()
			q.stats.Dropped++
			dropped++
		}
	}
	if accepted {
		q.items = append(q.items, item)
		q.stats.Enqueued++
	}
	length := len(q.items)
	q.mu.Unlock()

	q.policy.Check(length, q.capacity)
	return accepted, dropped
}

// Pop removes and returns the oldest item.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	q.stats.Popped++
	return item, true
}

// PopBatch removes and returns up to max items in FIFO order.
func (q *Queue[T]) PopBatch(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 || max <= 0 {
		return nil
	}
	n := max
	if n > len(q.items) {
		n = len(q.items)
	}

	batch := make([]T, n)
	copy(batch, q.items[:n])

	var zero T
	for i := 0; i < n; i++ {
		q.items[i] = zero
	}
	q.items = q.items[n:]
	q.stats.Popped += uint64(n)
	return batch
}

// Requeue puts items back at the front of the queue, preserving order,
// only if the result would not exceed capacity. Used by drain loops to
// retry a failed batch exactly once per tick without unbounded growth.
func (q *Queue[T]) Requeue(items []T) bool {
	if len(items) == 0 {
		return true
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items)+len(items) > q.capacity {
		q.stats.Dropped += uint64(len(items))
		return false
	}
	q.items = append(append(make([]T, 0, len(items)+len(q.items)), items...), q.items...)
	return true
}

// Len returns the current queue length.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return q.capacity
}

// Utilization returns the fill ratio 0..1.
func (q *Queue[T]) Utilization() float64 {
	return float64(q.Len()) / float64(q.capacity)
}

// Stats returns a snapshot of queue counters.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Policy returns the queue's admission policy.
func (q *Queue[T]) Policy() *Policy {
	return q.policy
}

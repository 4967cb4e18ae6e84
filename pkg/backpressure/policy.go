// Package backpressure provides the bounded-capacity admission primitives
// shared by every downstream queue: a hysteresis-based pressure signal and
// a set of overflow strategies. Nothing here may block the frame path.
package backpressure

import (
	"math/rand"
	"sync"

	"github.com/sirupsen/logrus"
)

// Strategy selects what happens when a full queue is offered a new item.
type Strategy string

const (
	DropOldest Strategy = "drop_oldest"
	DropNewest Strategy = "drop_newest"
	DropRandom Strategy = "drop_random"
	Throttle   Strategy = "throttle"
)

// PolicyStats counts policy decisions.
type PolicyStats struct {
	Triggered      uint64 `json:"triggered"`
	Cleared        uint64 `json:"cleared"`
	ItemsDropped   uint64 `json:"items_dropped"`
	ItemsThrottled uint64 `json:"items_throttled"`
}

// Policy combines an overflow strategy with a hysteresis pressure signal:
// pressure activates when utilization reaches the high watermark and clears
// only once utilization falls to the low watermark, so the flag cannot flap
// around a single threshold.
type Policy struct {
	Strategy  Strategy
	HighWater float64
	LowWater  float64

	mu     sync.Mutex
	active bool
	stats  PolicyStats
	logger *logrus.Logger
}

// NewPolicy creates a policy. Zero watermarks fall back to the balanced
// preset (0.8 high, 0.5 low).
func NewPolicy(strategy Strategy, highWater, lowWater float64, logger *logrus.Logger) *Policy {
	if strategy == "" {
		strategy = DropOldest
	}
	if highWater <= 0 || highWater > 1 {
		highWater = 0.8
	}
	if lowWater <= 0 || lowWater >= highWater {
		lowWater = 0.5
	}
	return &Policy{
		Strategy:  strategy,
		HighWater: highWater,
		LowWater:  lowWater,
		logger:    logger,
	}
}

// Check updates and returns the pressure flag for the given utilization.
func (p *Policy) Check(length, capacity int) bool {
	if capacity <= 0 {
		return false
	}
	utilization := float64(length) / float64(capacity)

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active && utilization >= p.HighWater {
		p.active = true
		p.stats.Triggered++
		if p.logger != nil {
			p.logger.WithFields(logrus.Fields{
				"queue_length": length,
				"capacity":     capacity,
			}).Warn("Backpressure triggered")
		}
		return true
	}

	if p.active && utilization <= p.LowWater {
		p.active = false
		p.stats.Cleared++
		if p.logger != nil {
			p.logger.WithFields(logrus.Fields{
				"queue_length": length,
				"capacity":     capacity,
			}).Info("Backpressure cleared")
		}
		return false
	}

	return p.active
}

// Active returns the current pressure flag without updating it.
func (p *Policy) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Stats returns a snapshot of policy counters.
func (p *Policy) Stats() PolicyStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Policy) recordDrop() {
	p.mu.Lock()
	p.stats.ItemsDropped++
	p.mu.Unlock()
}

func (p *Policy) recordThrottle() {
	p.mu.Lock()
	p.stats.ItemsThrottled++
	p.mu.Unlock()
}

// dropIndex picks the victim slot for a full queue of length n, or -1 when
// the new item itself should be refused.
func (p *Policy) dropIndex(n int) int {
	switch p.Strategy {
	case DropNewest, Throttle:
		return -1
	case DropRandom:
		return rand.Intn(n)
	default:
		return 0
	}
}

// Preset names a predefined watermark configuration.
type Preset string

const (
	PresetConservative Preset = "conservative"
	PresetBalanced     Preset = "balanced"
	PresetAggressive   Preset = "aggressive"
	PresetThrottle     Preset = "throttle"
)

// NewPreset builds a policy from a named preset.
func NewPreset(preset Preset, logger *logrus.Logger) *Policy {
	switch preset {
	case PresetConservative:
		return NewPolicy(DropOldest, 0.7, 0.3, logger)
	case PresetAggressive:
		return NewPolicy(DropOldest, 0.95, 0.8, logger)
	case PresetThrottle:
		return NewPolicy(Throttle, 0.8, 0.5, logger)
	default:
		return NewPolicy(DropOldest, 0.8, 0.5, logger)
	}
}

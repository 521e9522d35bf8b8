package capture

import (
	"sync"
	"time"
)

// RetrainPolicy decides whether a just-completed capture should trigger a
// training pass. Implementations must be safe for concurrent use.
type RetrainPolicy interface {
	ShouldRetrain(totalCaptures int64, at time.Time) bool
}

// CountPolicy retrains every Every captures, keyed off the project-wide
// capture counter so the cadence holds across processes.
type CountPolicy struct {
	Every int64
}

// ShouldRetrain reports whether the counter just crossed a retrain boundary.
func (p CountPolicy) ShouldRetrain(totalCaptures int64, _ time.Time) bool {
	if p.Every <= 0 {
		return false
	}
	return totalCaptures%p.Every == 0
}

// TimePolicy retrains at most once per Interval, regardless of capture
// volume. Useful for long-lived processes on quiet projects.
type TimePolicy struct {
	Interval time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewTimePolicy creates a TimePolicy whose first eligible capture triggers
// a training pass immediately.
func NewTimePolicy(interval time.Duration) *TimePolicy {
	return &TimePolicy{Interval: interval}
}

// ShouldRetrain fires when at least Interval has elapsed since the last
// firing, then arms itself for the next interval.
func (p *TimePolicy) ShouldRetrain(_ int64, at time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if at.Sub(p.last) < p.Interval {
		return false
	}
	p.last = at
	return true
}

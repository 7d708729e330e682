package power

import "time"

// Energy integrates power over time in microjoule. Readings between zero
// and the negative noise threshold contribute nothing.
type Energy struct {
	total     int64
	last      time.Time
	threshold int32
}

// NewEnergy creates an integrator ignoring power in [threshold, 0].
func NewEnergy(threshold int32) *Energy {
	return &Energy{threshold: threshold}
}

// Add accounts mw over the time since the previous call. The first call
// only sets the reference time.
func (e *Energy) Add(mw int32, now time.Time) {
	if e.last.IsZero() {
		e.last = now
		return
	}
	dtUs := now.Sub(e.last).Microseconds()
	e.last = now
	if dtUs <= 0 {
		return
	}
	if mw > 0 || mw < e.threshold {
		// mW * us = nJ
		e.total += int64(mw) * dtUs / 1000
	}
}

// MicroJoule returns the accumulated energy.
func (e *Energy) MicroJoule() int64 { return e.total }

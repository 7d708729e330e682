package power

import "math"

// PowerAverage smooths real power at two speeds. The fast average uses a
// constant discount. The slow average feeds energy and telemetry: its
// discount ramps from SlowDiscountStart down to SlowDiscountEnd over
// SlowRampUpdates updates after every reset.
type PowerAverage struct {
	fast      int64
	slow      float64
	slowCount int
	p         Params
}

// NewPowerAverage creates averages at zero.
func NewPowerAverage(p Params) *PowerAverage {
	return &PowerAverage{p: p}
}

// Update folds one real power reading in milliwatt. It reports whether the
// averages diverged far enough to force the slow average to the fast one.
func (a *PowerAverage) Update(mw int32) bool {
	a.fast = blendPermille(a.fast, int64(mw), a.p.FastPowerDiscount)

	d := a.slowDiscount()
	a.slow = (1-d)*a.slow + d*float64(mw)
	if a.slowCount < math.MaxInt32 {
		a.slowCount++
	}

	if a.slowCount < a.p.SlowRampUpdates {
		return false
	}
	limit := max(a.p.DivergencePart*math.Abs(a.slow), float64(a.p.DivergenceFloorMW))
	if math.Abs(float64(a.fast)-a.slow) > limit {
		a.ResetSlow(float64(a.fast))
		return true
	}
	return false
}

// ResetSlow sets the slow average and restarts its discount ramp.
func (a *PowerAverage) ResetSlow(mw float64) {
	a.slow = mw
	a.slowCount = 0
}

func (a *PowerAverage) slowDiscount() float64 {
	if a.slowCount >= a.p.SlowRampUpdates {
		return a.p.SlowDiscountEnd
	}
	frac := float64(a.slowCount) / float64(a.p.SlowRampUpdates)
	return a.p.SlowDiscountStart + (a.p.SlowDiscountEnd-a.p.SlowDiscountStart)*frac
}

// Fast returns the fast average in milliwatt.
func (a *PowerAverage) Fast() int32 { return int32(a.fast) }

// Slow returns the slow average in milliwatt.
func (a *PowerAverage) Slow() int32 { return int32(a.slow) }

// SlowCount returns the number of updates since the last slow reset.
func (a *PowerAverage) SlowCount() int { return a.slowCount }

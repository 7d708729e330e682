package power

import (
	"fmt"
	"time"
)

// Params are the fixed tuning constants of the engine. User adjustable
// values come from Settings instead.
type Params struct {
	ACPeriodUs       uint32 // one mains period
	FilterHalfWindow int
	QueueDepth       int // buffers retained: 1 unfiltered, rest filtered
	HistorySize      int // odd, median network size

	// Zero level discount in permille once confidence is saturated.
	ZeroDiscountVoltage int64
	ZeroDiscountCurrent int64

	FastPowerDiscount   int64   // permille
	SlowDiscountStart   float64 // right after a reset
	SlowDiscountEnd     float64 // steady state
	SlowRampUpdates     int
	DivergencePart      float64 // of the slow average
	DivergenceFloorMW   int32
	SlowConvergedCount  int
	NegativePowerMW     int32 // energy noise threshold
	PowerZeroSettle     time.Duration
	PowerZeroBandMW     int32
	BoardPowerZeroMW    int32
	SoftfuseWarmup      uint16 // zero level updates before softfuse checks
	OvercurrentCount    int
	DimmerCount         int
	SwitchOffGrace      time.Duration
	DimmerFailureArm    time.Duration
	VoltageMinMilliVolt int32
	VoltageMaxMilliVolt int32

	// SwapDetection enables the buffer comparison channel swap check. It
	// only reports; it never restarts sampling.
	SwapDetection bool
}

// DefaultParams returns the tuning used on 230 V / 50 Hz mains.
func DefaultParams() Params {
	return Params{
		ACPeriodUs:          20000,
		FilterHalfWindow:    5,
		QueueDepth:          4,
		HistorySize:         9,
		ZeroDiscountVoltage: 20,
		ZeroDiscountCurrent: 100,
		FastPowerDiscount:   200,
		SlowDiscountStart:   0.2,
		SlowDiscountEnd:     0.02,
		SlowRampUpdates:     50,
		DivergencePart:      0.10,
		DivergenceFloorMW:   10000,
		SlowConvergedCount:  1000,
		NegativePowerMW:     -10000,
		PowerZeroSettle:     4 * time.Second,
		PowerZeroBandMW:     10000,
		BoardPowerZeroMW:    0,
		SoftfuseWarmup:      200,
		OvercurrentCount:    5,
		DimmerCount:         20,
		SwitchOffGrace:      time.Second,
		DimmerFailureArm:    5 * time.Second,
		VoltageMinMilliVolt: 200000,
		VoltageMaxMilliVolt: 250000,
	}
}

func (p Params) validate() error {
	switch {
	case p.ACPeriodUs == 0:
		return fmt.Errorf("power: zero AC period")
	case p.QueueDepth < 2:
		return fmt.Errorf("power: queue depth %d, need at least 2", p.QueueDepth)
	case p.HistorySize <= 0 || p.HistorySize%2 == 0:
		return fmt.Errorf("power: history size %d must be odd", p.HistorySize)
	case p.OvercurrentCount <= 0 || p.DimmerCount <= 0:
		return fmt.Errorf("power: softfuse counts must be positive")
	case p.SlowRampUpdates <= 0:
		return fmt.Errorf("power: slow ramp must be positive")
	}
	return nil
}

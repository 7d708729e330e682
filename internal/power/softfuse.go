package power

import (
	"log"
	"time"
)

// SoftfuseInput is one evaluation of the softfuse.
type SoftfuseInput struct {
	Time  time.Time
	State SwitchState // read before any event of this cycle is dispatched
	// Ready is false while the zero levels have not converged. Only switch
	// tracking runs until then.
	Ready bool

	CurrentMilliAmp       int32 // median of filtered current RMS
	DimmerCurrentMilliAmp int32 // filtered current RMS of this period
	VoltageMilliVolt      int32
}

// Softfuse raises sticky faults after consecutive over threshold
// evaluations. A raised fault stays raised until Clear.
type Softfuse struct {
	faults Faults

	threshold       int32
	dimmerThreshold int32
	overcurrentN    int
	dimmerN         int
	overcurrent     int // consecutive evaluations above threshold
	dimmer          int

	grace     time.Duration
	offAt     time.Time
	offValid  bool
	prevState SwitchState
	havePrev  bool

	armAt time.Time
	armed bool

	vMin, vMax    int32
	voltageFaulty bool
}

// NewSoftfuse creates a softfuse armed for dimmer failure detection
// DimmerFailureArm after start.
func NewSoftfuse(p Params, threshold, dimmerThreshold int32, start time.Time) *Softfuse {
	return &Softfuse{
		threshold:       threshold,
		dimmerThreshold: dimmerThreshold,
		overcurrentN:    p.OvercurrentCount,
		dimmerN:         p.DimmerCount,
		grace:           p.SwitchOffGrace,
		armAt:           start.Add(p.DimmerFailureArm),
		vMin:            p.VoltageMinMilliVolt,
		vMax:            p.VoltageMaxMilliVolt,
	}
}

// Configure changes the thresholds in milliampere.
func (s *Softfuse) Configure(threshold, dimmerThreshold int32) {
	s.threshold = threshold
	s.dimmerThreshold = dimmerThreshold
}

// Faults returns the raised faults.
func (s *Softfuse) Faults() Faults { return s.faults }

// Clear lowers f and restarts its counter. It reports whether f was
// raised.
func (s *Softfuse) Clear(f Fault) bool {
	if !s.faults.Clear(f) {
		return false
	}
	switch f {
	case FaultOvercurrent:
		s.overcurrent = 0
	case FaultOvercurrentDimmer, FaultDimmerOnFailure:
		s.dimmer = 0
	}
	return true
}

// Evaluate runs one cycle and returns the events to dispatch, in order.
// Faults are raised before the events are returned.
func (s *Softfuse) Evaluate(in SoftfuseInput) []Event {
	if !s.armed && !in.Time.Before(s.armAt) {
		s.armed = true
		log.Printf("softfuse: dimmer failure detection armed")
	}

	justSwitchedOff := s.trackSwitchOff(in.State, in.Time)

	var events []Event

	// A voltage far from nominal hints at swapped channels. Reported once
	// per excursion; the current checks below still run.
	v := in.VoltageMilliVolt
	if v != 0 && (v < s.vMin || v > s.vMax) {
		if !s.voltageFaulty {
			s.voltageFaulty = true
			log.Printf("softfuse: voltage %d mV out of range, channel swap suspected", v)
			events = append(events, Event{
				Timestamp:        in.Time,
				Type:             EventChannelSwapSuspected,
				Faults:           s.faults,
				VoltageMilliVolt: v,
			})
		}
	} else {
		s.voltageFaulty = false
	}

	if !in.Ready {
		return events
	}

	s.overcurrent = step(s.overcurrent, in.CurrentMilliAmp > s.threshold, s.overcurrentN)
	if s.overcurrent >= s.overcurrentN && s.faults.Set(FaultOvercurrent) {
		log.Printf("softfuse: overcurrent %d mA > %d mA", in.CurrentMilliAmp, s.threshold)
		return append(events,
			s.event(in, CommandSwitchOff, in.CurrentMilliAmp),
			s.event(in, EventErrorStateChanged, in.CurrentMilliAmp))
	}

	s.dimmer = step(s.dimmer, in.DimmerCurrentMilliAmp > s.dimmerThreshold, s.dimmerN)
	if s.dimmer < s.dimmerN {
		return events
	}
	switch {
	case in.State.Dimmer() != 0:
		if s.faults.Set(FaultOvercurrentDimmer) {
			log.Printf("softfuse: dimmer overcurrent %d mA > %d mA", in.DimmerCurrentMilliAmp, s.dimmerThreshold)
			events = append(events,
				s.event(in, CommandDimmerOff, in.DimmerCurrentMilliAmp),
				s.event(in, EventErrorStateChanged, in.DimmerCurrentMilliAmp))
		}
	case !in.State.Relay() && !justSwitchedOff && s.armed:
		// Current flows while relay and dimmer are both off.
		if s.faults.Set(FaultDimmerOnFailure) {
			log.Printf("softfuse: dimmer on failure, %d mA with switch off", in.DimmerCurrentMilliAmp)
			events = append(events,
				s.event(in, EventDimmerOnFailure, in.DimmerCurrentMilliAmp),
				s.event(in, EventErrorStateChanged, in.DimmerCurrentMilliAmp))
		}
	}
	return events
}

// trackSwitchOff records switch off transitions and reports whether the
// grace period after the last one is still running.
func (s *Softfuse) trackSwitchOff(state SwitchState, now time.Time) bool {
	if s.havePrev && !s.prevState.Off() && state.Off() {
		s.offAt = now
		s.offValid = true
	}
	s.prevState = state
	s.havePrev = true

	if !s.offValid {
		return false
	}
	if now.Sub(s.offAt) < s.grace {
		return true
	}
	s.offValid = false
	return false
}

func (s *Softfuse) event(in SoftfuseInput, t EventType, ma int32) Event {
	return Event{
		Timestamp:        in.Time,
		Type:             t,
		Faults:           s.faults,
		CurrentMilliAmp:  ma,
		VoltageMilliVolt: in.VoltageMilliVolt,
	}
}

// step advances a consecutive counter, saturating at limit.
func step(count int, over bool, limit int) int {
	if !over {
		return 0
	}
	if count < limit {
		count++
	}
	return count
}

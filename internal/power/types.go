// Package power turns completed ADC sample buffers into calibrated power,
// RMS and energy figures, and trips the softfuse on overcurrent or dimmer
// failure. The Engine is single threaded: every method must be called from
// the goroutine that delivers buffers. Time is injected through Deps.Now.
package power

import (
	"fmt"
	"strings"
	"time"

	"github.com/crownstone/bluenet-sub000/internal/adc"
	"github.com/crownstone/bluenet-sub000/internal/settings"
)

// SwitchState packs the relay (top bit) and the dimmer intensity (lower
// seven bits) of the switch.
type SwitchState uint8

const relayBit SwitchState = 0x80

// NewSwitchState builds a state. Dimmer intensity is capped at 100.
func NewSwitchState(relay bool, dimmer uint8) SwitchState {
	s := SwitchState(min(dimmer, 100))
	if relay {
		s |= relayBit
	}
	return s
}

// Relay reports whether the relay is closed.
func (s SwitchState) Relay() bool { return s&relayBit != 0 }

// Dimmer returns the dimmer intensity, 0 being off.
func (s SwitchState) Dimmer() uint8 { return uint8(s &^ relayBit) }

// Off reports whether both relay and dimmer are off.
func (s SwitchState) Off() bool { return s == 0 }

func (s SwitchState) String() string {
	relay := "off"
	if s.Relay() {
		relay = "on"
	}
	return fmt.Sprintf("relay=%s dimmer=%d", relay, s.Dimmer())
}

// Fault is a single softfuse fault kind.
type Fault uint8

const (
	FaultOvercurrent Fault = 1 << iota
	FaultOvercurrentDimmer
	FaultDimmerOnFailure
)

var faultNames = []struct {
	f    Fault
	name string
}{
	{FaultOvercurrent, "OVERCURRENT"},
	{FaultOvercurrentDimmer, "OVERCURRENT_DIMMER"},
	{FaultDimmerOnFailure, "DIMMER_ON_FAILURE"},
}

func (f Fault) String() string {
	for _, n := range faultNames {
		if n.f == f {
			return n.name
		}
	}
	return fmt.Sprintf("FAULT(%d)", uint8(f))
}

// Faults is the sticky set of raised faults. The zero value has none set.
type Faults uint8

// Set raises f and reports whether it was newly raised.
func (fs *Faults) Set(f Fault) bool {
	if fs.Has(f) {
		return false
	}
	*fs |= Faults(f)
	return true
}

// Clear lowers f and reports whether it was raised.
func (fs *Faults) Clear(f Fault) bool {
	if !fs.Has(f) {
		return false
	}
	*fs &^= Faults(f)
	return true
}

// Has reports whether f is raised.
func (fs Faults) Has(f Fault) bool { return fs&Faults(f) != 0 }

// List returns the names of the raised faults.
func (fs Faults) List() []string {
	var out []string
	for _, n := range faultNames {
		if fs.Has(n.f) {
			out = append(out, n.name)
		}
	}
	return out
}

func (fs Faults) String() string {
	if fs == 0 {
		return "NONE"
	}
	return strings.Join(fs.List(), "|")
}

// ParseFault returns the fault with the given name.
func ParseFault(name string) (Fault, error) {
	for _, n := range faultNames {
		if strings.EqualFold(n.name, name) {
			return n.f, nil
		}
	}
	return 0, fmt.Errorf("unknown fault %q", name)
}

// EventType tags commands and notifications dispatched by the engine.
type EventType string

const (
	CommandSwitchOff          EventType = "SWITCH_OFF"
	CommandDimmerOff          EventType = "DIMMER_OFF"
	CommandSwitchToggle       EventType = "SWITCH_TOGGLE"
	EventErrorStateChanged    EventType = "ERROR_STATE_CHANGED"
	EventChannelSwapSuspected EventType = "CHANNEL_SWAP_SUSPECTED"
	EventDimmerOnFailure      EventType = "DIMMER_ON_FAILURE"
)

// Event is a command or notification for collaborators.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Faults    Faults // fault set after the event was raised
	// Measurements that caused the event, zero when not applicable.
	CurrentMilliAmp  int32
	VoltageMilliVolt int32
}

// Counters tracks recoverable pipeline conditions since start.
type Counters struct {
	Buffers         uint64
	Discontinuities uint32
	InvalidBuffers  uint32
	ChannelSwaps    uint32
	LastChannelSwap time.Time
}

// Telemetry is published to shared state after every processed buffer.
type Telemetry struct {
	Timestamp             time.Time
	PowerMilliWatt        int32 // slow average, used for energy
	PowerFastMilliWatt    int32
	ApparentPowerMilliVA  int32
	EnergyMicroJoule      int64
	CurrentRmsMilliAmp    int32 // median of unfiltered current RMS
	FilteredCurrentMilliA int32 // median of filtered current RMS
	VoltageRmsMilliVolt   int32
	PowerZeroMilliWatt    int32 // settings.PowerZeroInvalid until calibrated
	Faults                Faults
	Counters              Counters
}

// Dispatcher receives commands and notifications. Dispatch must not block
// and must not call back into the Engine.
type Dispatcher interface {
	Dispatch(Event)
}

// SharedState is the switch state read every cycle and the sink for
// computed telemetry.
type SharedState interface {
	SwitchState() SwitchState
	SetTelemetry(Telemetry)
}

// Recognizer detects a manual switch actuation from the filtered voltage of
// one AC period and keeps its own evidence for sample queries.
type Recognizer interface {
	Detect(voltage []int16) bool
	Configure(threshold float64)
	Samples(kind SamplesKind, index int) (Samples, error)
}

// LogWriter streams verbose logs. Each message is a timestamp and a flat
// run of values.
type LogWriter interface {
	WriteLog(kind LogKind, timestamp time.Time, values []int32) error
}

// Settings is the part of the configuration store the engine uses.
type Settings interface {
	Config() settings.Config
	Set(key settings.Key, value any) error
}

// BufferPool gives access to sample buffers and takes them back once the
// engine no longer retains them.
type BufferPool interface {
	Buffer(id adc.BufferID) *adc.SampleBuffer
	Release(id adc.BufferID)
}

package gpio

import (
	"fmt"
	"sync"
)

// FakeSwitch is a test double that records every actuation.
type FakeSwitch struct {
	mu sync.Mutex

	Relay  bool
	Dimmer uint8

	// Calls lists actuations in order, e.g. "relay=false", "dimmer=40".
	Calls []string

	// Closed tracks if Close was called
	Closed bool

	// SetError, if set, is returned by SetRelay and SetDimmer without
	// changing state.
	SetError error
}

// NewFakeSwitch creates a FakeSwitch with both outputs off.
func NewFakeSwitch() *FakeSwitch {
	return &FakeSwitch{}
}

// SetRelay records the relay state.
func (f *FakeSwitch) SetRelay(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.Relay = on
	f.Calls = append(f.Calls, fmt.Sprintf("relay=%v", on))
	return nil
}

// SetDimmer records the dimmer level.
func (f *FakeSwitch) SetDimmer(level uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.Dimmer = level
	f.Calls = append(f.Calls, fmt.Sprintf("dimmer=%d", level))
	return nil
}

// Close marks the switch as closed.
func (f *FakeSwitch) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// State returns the recorded relay and dimmer.
func (f *FakeSwitch) State() (bool, uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Relay, f.Dimmer
}

// Package status provides a thread-safe view of the sampler for HTTP
// handlers and heartbeats. The Tracker also holds the switch state the
// power engine reads every cycle and receives its telemetry.
package status

import (
	"sync"
	"time"

	"github.com/crownstone/bluenet-sub000/internal/power"
)

// NetworkInfo contains network state as reported by the host.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	SampleIntervalUs uint32
	HeartbeatMs      int64
	Broker           string
	HTTPPort         string
	SerialPort       string // empty when logs are not streamed
}

// EventCounts counts dispatched engine events by kind.
type EventCounts struct {
	SwitchOff    int
	DimmerOff    int
	Toggle       int
	ErrorChanges int
	ChannelSwaps int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Switch        power.SwitchState
	Telemetry     power.Telemetry
	Counts        EventCounts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Ready reports whether the engine has published telemetry yet.
func (s Snapshot) Ready() bool {
	return !s.Telemetry.Timestamp.IsZero()
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex. It implements
// power.SharedState.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// SwitchState returns the current relay and dimmer state.
func (t *Tracker) SwitchState() power.SwitchState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap.Switch
}

// SetSwitchState records a new relay and dimmer state.
func (t *Tracker) SetSwitchState(s power.SwitchState) {
	t.mu.Lock()
	t.snap.Switch = s
	t.mu.Unlock()
}

// SetTelemetry stores the latest engine figures.
func (t *Tracker) SetTelemetry(tel power.Telemetry) {
	t.mu.Lock()
	t.snap.Telemetry = tel
	t.mu.Unlock()
}

// CountEvent increments the counter for an event kind. Kinds without a
// counter are ignored.
func (t *Tracker) CountEvent(et power.EventType) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := &t.snap.Counts
	switch et {
	case power.CommandSwitchOff:
		c.SwitchOff++
	case power.CommandDimmerOff:
		c.DimmerOff++
	case power.CommandSwitchToggle:
		c.Toggle++
	case power.EventErrorStateChanged:
		c.ErrorChanges++
	case power.EventChannelSwapSuspected:
		c.ChannelSwaps++
	}
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}

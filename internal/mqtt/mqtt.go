// Package mqtt publishes power events and telemetry, and receives control
// commands, with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/crownstone/bluenet-sub000/internal/power"
)

// Topics used by the sampler.
const (
	TopicEvents    = "power/switch/events"
	TopicTelemetry = "power/switch/telemetry"
	TopicSystem    = "power/switch/system"
	TopicCommands  = "power/switch/commands"
)

// Publisher publishes to MQTT.
type Publisher interface {
	// Publish sends an engine event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event power.Event) error

	// PublishTelemetry sends the latest power figures.
	PublishTelemetry(t power.Telemetry) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// EventPayload is the message for an engine event.
type EventPayload struct {
	Power EventInner `json:"power"`
}

// EventInner contains the event details.
type EventInner struct {
	Timestamp string   `json:"timestamp"`
	Event     string   `json:"event"`
	Faults    []string `json:"faults"`
	CurrentMA int32    `json:"current_ma,omitempty"`
	VoltageMV int32    `json:"voltage_mv,omitempty"`
}

// FormatPayload creates the JSON payload for an engine event.
func FormatPayload(event power.Event) ([]byte, error) {
	faults := event.Faults.List()
	if faults == nil {
		faults = []string{}
	}
	return json.Marshal(EventPayload{
		Power: EventInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			Faults:    faults,
			CurrentMA: event.CurrentMilliAmp,
			VoltageMV: event.VoltageMilliVolt,
		},
	})
}

// TelemetryPayload is the periodic power report.
type TelemetryPayload struct {
	Timestamp   string   `json:"timestamp"`
	PowerMW     int32    `json:"power_mw"`
	ApparentMVA int32    `json:"apparent_mva"`
	EnergyUJ    int64    `json:"energy_uj"`
	CurrentMA   int32    `json:"current_ma"`
	VoltageMV   int32    `json:"voltage_mv"`
	Faults      []string `json:"faults"`
}

// FormatTelemetry creates the JSON payload for a telemetry report.
func FormatTelemetry(t power.Telemetry) ([]byte, error) {
	faults := t.Faults.List()
	if faults == nil {
		faults = []string{}
	}
	return json.Marshal(TelemetryPayload{
		Timestamp:   t.Timestamp.UTC().Format(time.RFC3339),
		PowerMW:     t.PowerMilliWatt,
		ApparentMVA: t.ApparentPowerMilliVA,
		EnergyUJ:    t.EnergyMicroJoule,
		CurrentMA:   t.CurrentRmsMilliAmp,
		VoltageMV:   t.VoltageRmsMilliVolt,
		Faults:      faults,
	})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Command actions accepted on TopicCommands.
const (
	ActionClearFaults = "clear_faults"
	ActionSetLog      = "set_log"
	ActionSet         = "set"
	ActionSwitch      = "switch"
)

// Command is a control request received from the broker.
//
//	{"action":"clear_faults","faults":["OVERCURRENT"]}
//	{"action":"set_log","log":"power","enabled":true}
//	{"action":"set","key":"current_threshold","value":12000}
//	{"action":"switch","relay":true,"dimmer":0}
type Command struct {
	Action  string   `json:"action"`
	Faults  []string `json:"faults,omitempty"`
	Log     string   `json:"log,omitempty"`
	Enabled bool     `json:"enabled,omitempty"`
	Key     string   `json:"key,omitempty"`
	Value   any      `json:"value,omitempty"`
	Relay   *bool    `json:"relay,omitempty"`
	Dimmer  uint8    `json:"dimmer,omitempty"`
}

// ParseCommand decodes and checks a command payload.
func ParseCommand(payload []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(payload, &c); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	switch c.Action {
	case ActionClearFaults:
		if len(c.Faults) == 0 {
			return Command{}, fmt.Errorf("clear_faults: no faults given")
		}
	case ActionSetLog:
		if c.Log == "" {
			return Command{}, fmt.Errorf("set_log: no log given")
		}
	case ActionSet:
		if c.Key == "" || c.Value == nil {
			return Command{}, fmt.Errorf("set: key and value required")
		}
	case ActionSwitch:
		if c.Relay == nil {
			return Command{}, fmt.Errorf("switch: relay required")
		}
		if c.Dimmer > 100 {
			return Command{}, fmt.Errorf("switch: dimmer %d out of range", c.Dimmer)
		}
	default:
		return Command{}, fmt.Errorf("unknown action %q", c.Action)
	}
	return c, nil
}

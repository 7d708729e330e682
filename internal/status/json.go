package status

import (
	"encoding/json"
	"time"

	"github.com/crownstone/bluenet-sub000/internal/settings"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Relay         bool         `json:"relay"`
	Dimmer        uint8        `json:"dimmer"`
	Ready         bool         `json:"ready"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	Power         PowerJSON    `json:"power"`
	Faults        []string     `json:"faults"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Pipeline      PipelineJSON `json:"pipeline"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// PowerJSON carries the latest engine figures.
type PowerJSON struct {
	PowerMW         int32  `json:"power_mw"`
	PowerFastMW     int32  `json:"power_fast_mw"`
	ApparentMVA     int32  `json:"apparent_mva"`
	EnergyUJ        int64  `json:"energy_uj"`
	CurrentMA       int32  `json:"current_ma"`
	FilteredCurrent int32  `json:"filtered_current_ma"`
	VoltageMV       int32  `json:"voltage_mv"`
	PowerZeroMW     *int32 `json:"power_zero_mw"` // null until calibrated
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	SwitchOff    int `json:"switch_off"`
	DimmerOff    int `json:"dimmer_off"`
	Toggle       int `json:"toggle"`
	ErrorChanges int `json:"error_changes"`
	ChannelSwaps int `json:"channel_swaps"`
}

// PipelineJSON reports recoverable sampling conditions.
type PipelineJSON struct {
	Buffers         uint64 `json:"buffers"`
	Discontinuities uint32 `json:"discontinuities"`
	InvalidBuffers  uint32 `json:"invalid_buffers"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	SampleIntervalUs uint32 `json:"sample_interval_us"`
	HeartbeatMs      int64  `json:"heartbeat_ms"`
	Broker           string `json:"broker"`
	HTTPPort         string `json:"http_port"`
	SerialPort       string `json:"serial_port,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	tel := snap.Telemetry
	faults := tel.Faults.List()
	if faults == nil {
		faults = []string{}
	}
	var zero *int32
	if snap.Ready() && tel.PowerZeroMilliWatt != settings.PowerZeroInvalid {
		z := tel.PowerZeroMilliWatt
		zero = &z
	}

	return StatusInner{
		Relay:         snap.Switch.Relay(),
		Dimmer:        snap.Switch.Dimmer(),
		Ready:         snap.Ready(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Power: PowerJSON{
			PowerMW:         tel.PowerMilliWatt,
			PowerFastMW:     tel.PowerFastMilliWatt,
			ApparentMVA:     tel.ApparentPowerMilliVA,
			EnergyUJ:        tel.EnergyMicroJoule,
			CurrentMA:       tel.CurrentRmsMilliAmp,
			FilteredCurrent: tel.FilteredCurrentMilliA,
			VoltageMV:       tel.VoltageRmsMilliVolt,
			PowerZeroMW:     zero,
		},
		Faults: faults,
		MQTT:   MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			SwitchOff:    snap.Counts.SwitchOff,
			DimmerOff:    snap.Counts.DimmerOff,
			Toggle:       snap.Counts.Toggle,
			ErrorChanges: snap.Counts.ErrorChanges,
			ChannelSwaps: snap.Counts.ChannelSwaps,
		},
		Pipeline: PipelineJSON{
			Buffers:         tel.Counters.Buffers,
			Discontinuities: tel.Counters.Discontinuities,
			InvalidBuffers:  tel.Counters.InvalidBuffers,
		},
		Config: ConfigJSON{
			SampleIntervalUs: snap.Config.SampleIntervalUs,
			HeartbeatMs:      snap.Config.HeartbeatMs,
			Broker:           snap.Config.Broker,
			HTTPPort:         snap.Config.HTTPPort,
			SerialPort:       snap.Config.SerialPort,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

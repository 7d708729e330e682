package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/crownstone/bluenet-sub000/internal/gpio"
)

var (
	// Serial log stream flags
	portName string
	baudRate int

	settingsPath string
)

// runFlags are the flags of the sampler itself.
type runFlags struct {
	broker         string
	clientID       string
	heartbeat      time.Duration
	telemetryEvery time.Duration
	httpAddr       string
	pinRelay       int
	pinDimmer      int
	simulate       bool
	loadAmps       float64
	phaseDeg       float64
	logs           []string
	swapDetection  bool
}

var flags runFlags

var rootCmd = &cobra.Command{
	Use:   "powersampler",
	Short: "AC power telemetry and overcurrent protection",
	Long: `powersampler turns mains voltage and current samples into power, RMS and
energy figures, switches the load off on overcurrent or dimmer failure and
publishes events and telemetry to MQTT.

Verbose logs are streamed as framed CBOR over a serial line when --port is
set; "powersampler decode --port ..." prints such a stream.`,
	SilenceUsage: true,
	RunE:         runSampler,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port for the log stream")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 230400, "Baud rate")
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "settings.cbor", "Settings file")

	f := rootCmd.Flags()
	f.StringVar(&flags.broker, "broker", "tcp://localhost:1883", "MQTT broker address")
	f.StringVar(&flags.clientID, "client-id", "power-sampler", "MQTT client ID")
	f.DurationVar(&flags.heartbeat, "heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	f.DurationVar(&flags.telemetryEvery, "telemetry", time.Second, "Telemetry publish interval")
	f.StringVar(&flags.httpAddr, "http", ":8080", "HTTP status address (empty to disable)")
	f.IntVar(&flags.pinRelay, "pin-relay", gpio.PinRelay, "BCM pin number of the relay")
	f.IntVar(&flags.pinDimmer, "pin-dimmer", gpio.PinDimmer, "BCM pin number of the dimmer enable")
	f.BoolVar(&flags.simulate, "simulate", false, "Use a simulated switch instead of GPIO")
	f.Float64Var(&flags.loadAmps, "load", 1, "Simulated load current in amps while switched on")
	f.Float64Var(&flags.phaseDeg, "phase", 0, "Simulated current phase lag in degrees")
	f.StringSliceVar(&flags.logs, "log", nil, "Verbose logs to stream: power, current, voltage, filtered_current")
	f.BoolVar(&flags.swapDetection, "swap-detection", false, "Report suspected voltage/current channel swaps")
}

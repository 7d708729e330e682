// Command powersampler samples mains voltage and current, computes power,
// RMS and energy, trips the softfuse on overcurrent and reports to MQTT.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

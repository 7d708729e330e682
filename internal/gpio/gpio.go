// Package gpio drives the switch outputs: the relay and the dimmer enable
// line. The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Switch actuates the relay and the dimmer.
type Switch interface {
	// SetRelay closes (true) or opens the relay.
	SetRelay(on bool) error

	// SetDimmer sets the dimmer intensity, 0 to 100. Zero turns the
	// dimmer off.
	SetDimmer(level uint8) error

	// Close releases GPIO resources, leaving the outputs off.
	Close() error
}

// Pin definitions (BCM numbering)
const (
	PinRelay  = 26
	PinDimmer = 16
)

//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealSwitch drives actual hardware using the Linux GPIO character device.
// The dimmer line only enables the dimmer; intensity is not modulated.
type RealSwitch struct {
	chip   *gpiocdev.Chip
	relay  *gpiocdev.Line
	dimmer *gpiocdev.Line
}

// NewRealSwitch requests both lines as outputs, initially off.
func NewRealSwitch(pinRelay, pinDimmer int) (*RealSwitch, error) {
	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	relay, err := chip.RequestLine(pinRelay, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request relay pin %d: %w", pinRelay, err)
	}

	dimmer, err := chip.RequestLine(pinDimmer, gpiocdev.AsOutput(0))
	if err != nil {
		relay.Close()
		chip.Close()
		return nil, fmt.Errorf("request dimmer pin %d: %w", pinDimmer, err)
	}

	return &RealSwitch{chip: chip, relay: relay, dimmer: dimmer}, nil
}

// SetRelay drives the relay line.
func (s *RealSwitch) SetRelay(on bool) error {
	if err := s.relay.SetValue(level(on)); err != nil {
		return fmt.Errorf("set relay: %w", err)
	}
	return nil
}

// SetDimmer enables the dimmer for any non-zero level.
func (s *RealSwitch) SetDimmer(l uint8) error {
	if err := s.dimmer.SetValue(level(l > 0)); err != nil {
		return fmt.Errorf("set dimmer: %w", err)
	}
	return nil
}

func level(on bool) int {
	if on {
		return 1
	}
	return 0
}

// Close turns both outputs off and reconfigures the pins to input with
// pull-down, matching Pi boot defaults.
func (s *RealSwitch) Close() error {
	var errs []error

	for name, line := range map[string]*gpiocdev.Line{"relay": s.relay, "dimmer": s.dimmer} {
		if line == nil {
			continue
		}
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("turn off %s: %w", name, err))
		}
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s pin: %w", name, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s pin: %w", name, err))
		}
	}
	if s.chip != nil {
		if err := s.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

//go:build !linux

package gpio

import "errors"

// RealSwitch is not available on non-Linux platforms.
type RealSwitch struct{}

// NewRealSwitch returns an error on non-Linux platforms.
func NewRealSwitch(pinRelay, pinDimmer int) (*RealSwitch, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// SetRelay is not implemented on non-Linux platforms.
func (s *RealSwitch) SetRelay(bool) error {
	return errors.New("gpio: not supported")
}

// SetDimmer is not implemented on non-Linux platforms.
func (s *RealSwitch) SetDimmer(uint8) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (s *RealSwitch) Close() error {
	return nil
}

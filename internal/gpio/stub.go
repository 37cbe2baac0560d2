//go:build !linux

package gpio

import "errors"

// RealActuator is not available on non-Linux platforms.
type RealActuator struct{}

// NewRealActuator returns an error on non-Linux platforms.
func NewRealActuator(chipName string, pins Pins) (*RealActuator, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// SetRelay is not implemented on non-Linux platforms.
func (a *RealActuator) SetRelay(on bool) {}

// SetLED is not implemented on non-Linux platforms.
func (a *RealActuator) SetLED(on bool) {}

// Feedback is not implemented on non-Linux platforms.
func (a *RealActuator) Feedback(f Feedback) {}

// Close is not implemented on non-Linux platforms.
func (a *RealActuator) Close() error {
	return nil
}

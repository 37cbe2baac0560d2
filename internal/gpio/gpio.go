// Package gpio drives the amplifier outputs with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "time"

// Feedback is a pattern flashed on the IR feedback LED.
type Feedback string

const (
	FeedbackAccept Feedback = "ACCEPT"
	FeedbackDeny   Feedback = "DENY"
)

// Pulses returns how many flashes the pattern consists of.
func (f Feedback) Pulses() int {
	if f == FeedbackDeny {
		return 3
	}
	return 1
}

// PulseWidth is the on (and off) time of a single feedback flash.
const PulseWidth = 100 * time.Millisecond

// Actuator drives the amplifier outputs. Calls are fire-and-forget: hardware
// errors are logged by the implementation, never returned to the control loop.
type Actuator interface {
	// SetRelay switches the amplifier relay and power-enable line together.
	SetRelay(on bool)

	// SetLED switches the power indicator LED.
	SetLED(on bool)

	// Feedback flashes the IR feedback LED without blocking.
	Feedback(f Feedback)

	// Close drives all outputs off and releases GPIO resources.
	Close() error
}

// Pins holds the output line offsets.
type Pins struct {
	Power       int
	Relay       int
	PowerLED    int
	FeedbackLED int
}

// Default pin assignments of the amplifier board.
const (
	DefaultPinPower       = 2
	DefaultPinRelay       = 12
	DefaultPinPowerLED    = 8
	DefaultPinFeedbackLED = 13
)

// DefaultPins returns the stock amplifier board wiring.
func DefaultPins() Pins {
	return Pins{
		Power:       DefaultPinPower,
		Relay:       DefaultPinRelay,
		PowerLED:    DefaultPinPowerLED,
		FeedbackLED: DefaultPinFeedbackLED,
	}
}

package gpio

// FakeActuator records output commands for test assertions.
type FakeActuator struct {
	// Relay and LED hold the last commanded levels.
	Relay bool
	LED   bool

	// RelayHistory contains every SetRelay call in order.
	RelayHistory []bool

	// Feedbacks contains every Feedback call in order.
	Feedbacks []Feedback

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeActuator creates a FakeActuator with all outputs off.
func NewFakeActuator() *FakeActuator {
	return &FakeActuator{}
}

// SetRelay records the relay level.
func (f *FakeActuator) SetRelay(on bool) {
	f.Relay = on
	f.RelayHistory = append(f.RelayHistory, on)
}

// SetLED records the LED level.
func (f *FakeActuator) SetLED(on bool) {
	f.LED = on
}

// Feedback records the pattern.
func (f *FakeActuator) Feedback(fb Feedback) {
	f.Feedbacks = append(f.Feedbacks, fb)
}

// Close turns everything off and marks the actuator as closed.
func (f *FakeActuator) Close() error {
	f.Relay = false
	f.LED = false
	f.Closed = true
	return nil
}

// Reset clears recorded commands.
func (f *FakeActuator) Reset() {
	*f = FakeActuator{}
}

// Package sensor abstracts the thermistor ADC channels.
// The real readings arrive over the serial bridge; the fake implementation
// allows testing without hardware.
package sensor

// Channel identifies a thermistor input.
type Channel int

// Thermistor channels. The wiring number selects which one gates power.
const (
	Thermistor1 Channel = 0
	Thermistor2 Channel = 1
)

// Reader returns raw ADC counts.
type Reader interface {
	// ReadRaw returns the latest raw count for the channel, in [0, SensorMax].
	// Returns an error wrapping logic.ErrSensorFault when no valid reading
	// is available.
	ReadRaw(ch Channel) (int, error)
}

// SampleReader is implemented by readers that cache the latest sample and
// may return it more than once. seq changes only when a new sample arrives.
type SampleReader interface {
	Reader
	ReadSample(ch Channel) (raw int, seq uint64, err error)
}

// ChannelForWiring maps a wiring configuration number to the active channel.
// Wiring 1 uses THERMISTOR1, wiring 2 uses THERMISTOR2.
func ChannelForWiring(wiring int) (Channel, bool) {
	switch wiring {
	case 1:
		return Thermistor1, true
	case 2:
		return Thermistor2, true
	}
	return 0, false
}

// Other returns the channel that is not ch.
func (ch Channel) Other() Channel {
	if ch == Thermistor1 {
		return Thermistor2
	}
	return Thermistor1
}

func (ch Channel) String() string {
	if ch == Thermistor2 {
		return "THERMISTOR2"
	}
	return "THERMISTOR1"
}

package sensor

import (
	"fmt"

	"github.com/sweeney/amp-controller/internal/logic"
)

// FakeReader is a test double that returns scripted raw readings.
type FakeReader struct {
	// Samples contains scripted readings per channel.
	// Each call to ReadRaw(ch) consumes the next sample for that channel.
	Samples map[Channel][]int

	// index tracks current position per channel
	index map[Channel]int

	// Reads counts ReadRaw calls per channel.
	Reads map[Channel]int

	// ReadError, if set, will be returned by ReadRaw.
	ReadError error
}

// NewFakeReader creates a FakeReader with samples for the first channel.
func NewFakeReader(samples ...int) *FakeReader {
	return &FakeReader{
		Samples: map[Channel][]int{Thermistor1: samples},
		index:   map[Channel]int{},
		Reads:   map[Channel]int{},
	}
}

// ReadRaw returns the next scripted sample for ch.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeReader) ReadRaw(ch Channel) (int, error) {
	if f.index == nil {
		f.Reset()
	}
	f.Reads[ch]++
	if f.ReadError != nil {
		return 0, f.ReadError
	}

	samples := f.Samples[ch]
	if len(samples) == 0 {
		return 0, fmt.Errorf("%w: no samples for %s", logic.ErrSensorFault, ch)
	}

	i := f.index[ch]
	if i < len(samples)-1 {
		f.index[ch]++
	}
	return samples[i], nil
}

// Reset resets the reader to the beginning of samples.
func (f *FakeReader) Reset() {
	f.index = map[Channel]int{}
	f.Reads = map[Channel]int{}
}

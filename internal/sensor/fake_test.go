package sensor

import (
	"errors"
	"testing"

	"github.com/sweeney/amp-controller/internal/logic"
)

func TestFakeReaderRead(t *testing.T) {
	f := NewFakeReader(100, 200, 300)

	for i, want := range []int{100, 200, 300, 300} {
		got, err := f.ReadRaw(Thermistor1)
		if err != nil {
			t.Fatalf("read %d: unexpected error: %v", i, err)
		}
		if got != want {
			t.Errorf("read %d: got %d, want %d", i, got, want)
		}
	}
	if f.Reads[Thermistor1] != 4 {
		t.Errorf("Reads: got %d, want 4", f.Reads[Thermistor1])
	}
}

func TestFakeReaderNoSamples(t *testing.T) {
	f := NewFakeReader(512)

	_, err := f.ReadRaw(Thermistor2)
	if !errors.Is(err, logic.ErrSensorFault) {
		t.Errorf("expected ErrSensorFault for unscripted channel, got %v", err)
	}
}

func TestFakeReaderError(t *testing.T) {
	f := NewFakeReader(512)
	f.ReadError = errors.New("simulated error")

	_, err := f.ReadRaw(Thermistor1)
	if err == nil || err.Error() != "simulated error" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFakeReaderReset(t *testing.T) {
	f := NewFakeReader(100, 200)
	f.ReadRaw(Thermistor1)

	f.Reset()

	got, _ := f.ReadRaw(Thermistor1)
	if got != 100 {
		t.Errorf("after reset: got %d, want 100", got)
	}
}

func TestChannelForWiring(t *testing.T) {
	tests := []struct {
		wiring int
		want   Channel
		ok     bool
	}{
		{1, Thermistor1, true},
		{2, Thermistor2, true},
		{0, 0, false},
		{3, 0, false},
	}

	for _, tt := range tests {
		got, ok := ChannelForWiring(tt.wiring)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("wiring %d: got (%v, %v), want (%v, %v)", tt.wiring, got, ok, tt.want, tt.ok)
		}
	}

	if Thermistor1.Other() != Thermistor2 || Thermistor2.Other() != Thermistor1 {
		t.Error("Other should swap channels")
	}
}

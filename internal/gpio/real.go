//go:build linux

package gpio

import (
	"fmt"
	"log"

	"github.com/warthog618/go-gpiocdev"
)

// RealActuator drives actual hardware using Linux GPIO character device.
type RealActuator struct {
	chip     *gpiocdev.Chip
	power    *gpiocdev.Line
	relay    *gpiocdev.Line
	powerLED *gpiocdev.Line
	feedback *gpiocdev.Line

	flasher *flasher
}

// NewRealActuator requests the output lines, all driven low.
func NewRealActuator(chipName string, pins Pins) (*RealActuator, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	a := &RealActuator{chip: chip}
	a.flasher = newFlasher(func(on bool) { set(a.feedback, "feedback LED", on) }, PulseWidth)
	for _, req := range []struct {
		name string
		pin  int
		line **gpiocdev.Line
	}{
		{"power", pins.Power, &a.power},
		{"relay", pins.Relay, &a.relay},
		{"power LED", pins.PowerLED, &a.powerLED},
		{"feedback LED", pins.FeedbackLED, &a.feedback},
	} {
		l, err := chip.RequestLine(req.pin, gpiocdev.AsOutput(0))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("request %s pin %d: %w", req.name, req.pin, err)
		}
		*req.line = l
	}

	return a, nil
}

// SetRelay switches the relay and the power-enable line together.
// The power-enable line leads on the way up and trails on the way down so the
// amplifier is never enabled with the relay open.
func (a *RealActuator) SetRelay(on bool) {
	if on {
		set(a.power, "power", true)
		set(a.relay, "relay", true)
		return
	}
	set(a.relay, "relay", false)
	set(a.power, "power", false)
}

// SetLED switches the power indicator LED.
func (a *RealActuator) SetLED(on bool) {
	set(a.powerLED, "power LED", on)
}

// Feedback flashes the feedback LED in the background. A pattern requested
// while another is still flashing is dropped.
func (a *RealActuator) Feedback(f Feedback) {
	a.flasher.flash(f)
}

// Close drives all outputs low, then reconfigures the lines as inputs with
// pull-down (matching Pi boot defaults) before releasing them.
func (a *RealActuator) Close() error {
	var errs []error

	// No pattern may touch the feedback line once it is released.
	if a.flasher != nil {
		a.flasher.stop()
	}

	for _, l := range []struct {
		name string
		line *gpiocdev.Line
	}{
		{"relay", a.relay},
		{"power", a.power},
		{"power LED", a.powerLED},
		{"feedback LED", a.feedback},
	} {
		if l.line == nil {
			continue
		}
		if err := l.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("drive %s low: %w", l.name, err))
		}
		if err := l.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s pin: %w", l.name, err))
		}
		if err := l.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s pin: %w", l.name, err))
		}
	}
	if a.chip != nil {
		if err := a.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

func set(l *gpiocdev.Line, name string, on bool) {
	if l == nil {
		return
	}
	v := 0
	if on {
		v = 1
	}
	if err := l.SetValue(v); err != nil {
		log.Printf("gpio: set %s=%d: %v", name, v, err)
	}
}

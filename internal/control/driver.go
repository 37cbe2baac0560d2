// Package control runs one control cycle at a time: sensor read, thermal
// protection update, remote command arbitration and output actuation.
package control

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sweeney/amp-controller/internal/gpio"
	"github.com/sweeney/amp-controller/internal/ir"
	"github.com/sweeney/amp-controller/internal/logic"
	"github.com/sweeney/amp-controller/internal/sensor"
)

// Config holds the driver parameters.
type Config struct {
	Wiring         int // 1 = THERMISTOR1, 2 = THERMISTOR2
	Model          logic.ThermistorModel
	Thresholds     logic.Thresholds
	Codes          logic.CommandSet
	SleepLoopCount int
}

// Report describes one completed cycle.
type Report struct {
	Timestamp   time.Time
	Temperature float64
	SensorErr   error
	State       logic.ThermalState
	Admissible  bool
	Power       logic.PowerState
	Action      logic.Action
	CommandErr  error
	LowTemp     bool
	LowPower    bool
	Full        bool

	// Auxiliary channel, read on full cycles only.
	AuxTemperature float64
	AuxErr         error

	Events []logic.Event
}

// Driver owns the thermal state and the amplifier power state. It is not
// safe for concurrent use; one cycle runs at a time.
type Driver struct {
	active  sensor.Channel
	model   logic.ThermistorModel
	adc     sensor.Reader
	remote  ir.Source
	out     gpio.Actuator
	machine *logic.Machine
	arbiter *logic.Arbiter
	cadence *Cadence

	powered bool
	faulted bool

	// Sequence of the last sample fed to the machine.
	lastSeq uint64
	fed     bool
}

// New validates cfg and creates a driver with the amplifier off.
// It returns a *logic.ConfigError when the configuration is unusable.
func New(cfg Config, adc sensor.Reader, remote ir.Source, out gpio.Actuator) (*Driver, error) {
	active, ok := sensor.ChannelForWiring(cfg.Wiring)
	if !ok {
		return nil, &logic.ConfigError{Field: "thermistor.wiring", Reason: fmt.Sprintf("%d must be 1 or 2", cfg.Wiring)}
	}
	if err := cfg.Model.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Codes.Validate(); err != nil {
		return nil, err
	}
	machine, err := logic.NewMachine(cfg.Thresholds)
	if err != nil {
		return nil, err
	}

	d := &Driver{
		active:  active,
		model:   cfg.Model,
		adc:     adc,
		remote:  remote,
		out:     out,
		machine: machine,
		arbiter: logic.NewArbiter(cfg.Codes),
		cadence: NewCadence(cfg.Thresholds.LowCheckInterval, cfg.SleepLoopCount),
	}
	d.out.SetRelay(false)
	d.out.SetLED(false)
	return d, nil
}

// Step runs one cycle.
func (d *Driver) Step(now time.Time) Report {
	rep := Report{Timestamp: now, Action: logic.ActionNone}

	// Thermal check: every cycle, whatever the cadence.
	res := d.thermal(&rep)
	for _, tr := range res.Transitions {
		if et, ok := transitionEvent(tr); ok {
			rep.Events = append(rep.Events, d.event(now, et, tr.To, rep.Temperature))
		}
	}
	if res.Fault && !d.faulted {
		rep.Events = append(rep.Events, d.event(now, logic.EventSensorFault, res.State, 0))
	}
	d.faulted = res.Fault

	if (res.Tripped || res.Fault) && d.powered {
		log.Printf("control: forcing amplifier off (state=%s)", res.State)
		d.setPower(false)
		rep.Events = append(rep.Events, d.event(now, logic.EventPowerOff, res.State, rep.Temperature))
	}

	// Remote command, arbitrated against the post-update admissibility.
	var pending *logic.RemoteCommand
	if cmd, ok := d.remote.Poll(); ok {
		pending = &cmd
	}
	action, err := d.arbiter.Arbitrate(pending, res.Admissible, d.powered)
	rep.Action = action
	rep.CommandErr = err
	if err != nil {
		log.Printf("control: ignoring remote command: %v", err)
	}
	if et, ok := d.apply(action); ok {
		rep.Events = append(rep.Events, d.event(now, et, res.State, rep.Temperature))
	}

	busy := pending != nil || len(res.Transitions) > 0 || res.Fault
	rep.Full = d.cadence.Next(res.LowTemp, busy)
	rep.LowPower = d.cadence.LowPower()
	if rep.Full {
		rep.AuxTemperature, rep.AuxErr = d.read(d.active.Other())
	}

	rep.State = d.machine.State()
	rep.Admissible = d.machine.Admissible()
	rep.Power = logic.PowerStateOf(d.powered)
	rep.LowTemp = res.LowTemp
	return rep
}

func (d *Driver) thermal(rep *Report) logic.Result {
	temp, seq, err := d.sample(d.active)
	if err != nil {
		rep.SensorErr = err
		if !d.faulted {
			log.Printf("control: sensor fault on %s: %v", d.active, err)
		}
		return d.machine.Fault()
	}
	rep.Temperature = temp
	if d.fed && seq == d.lastSeq {
		return d.machine.Hold(temp)
	}
	d.lastSeq, d.fed = seq, true
	return d.machine.Update(temp)
}

// sample reads and converts ch. Readers that do not report a sequence
// deliver a fresh sample on every read.
func (d *Driver) sample(ch sensor.Channel) (float64, uint64, error) {
	var (
		raw int
		seq uint64
		err error
	)
	if sr, ok := d.adc.(sensor.SampleReader); ok {
		raw, seq, err = sr.ReadSample(ch)
	} else {
		raw, err = d.adc.ReadRaw(ch)
		seq = d.lastSeq + 1
	}
	if err != nil {
		if !errors.Is(err, logic.ErrSensorFault) {
			err = fmt.Errorf("%w: %v", logic.ErrSensorFault, err)
		}
		return 0, 0, err
	}
	temp, err := logic.Convert(raw, d.model)
	return temp, seq, err
}

func (d *Driver) read(ch sensor.Channel) (float64, error) {
	temp, _, err := d.sample(ch)
	return temp, err
}

func (d *Driver) apply(action logic.Action) (logic.EventType, bool) {
	switch action {
	case logic.ActionPowerOn:
		d.setPower(true)
		return logic.EventPowerOn, true
	case logic.ActionPowerOff:
		d.setPower(false)
		return logic.EventPowerOff, true
	case logic.ActionAccept:
		d.out.Feedback(gpio.FeedbackAccept)
		return logic.EventCommandAccepted, true
	case logic.ActionDeny:
		d.out.Feedback(gpio.FeedbackDeny)
		return logic.EventCommandDenied, true
	}
	return "", false
}

func (d *Driver) setPower(on bool) {
	d.out.SetRelay(on)
	d.out.SetLED(on)
	d.powered = on
}

func (d *Driver) event(now time.Time, et logic.EventType, state logic.ThermalState, temp float64) logic.Event {
	return logic.Event{
		Timestamp:   now,
		Type:        et,
		State:       state,
		Power:       logic.PowerStateOf(d.powered),
		Temperature: temp,
	}
}

func transitionEvent(tr logic.Transition) (logic.EventType, bool) {
	switch tr.To {
	case logic.StateOverheatPending:
		return logic.EventOverheatPending, true
	case logic.StateShutdown:
		return logic.EventThermalShutdown, true
	case logic.StateCooldown:
		return logic.EventCooldown, true
	case logic.StateNormal:
		if tr.From == logic.StateCooldown {
			return logic.EventRestartEligible, true
		}
		return logic.EventOverheatCleared, true
	}
	return "", false
}

// State returns the current thermal state.
func (d *Driver) State() logic.ThermalState {
	return d.machine.State()
}

// Powered reports whether the amplifier relay is on.
func (d *Driver) Powered() bool {
	return d.powered
}

// Close switches the amplifier off and releases the outputs.
func (d *Driver) Close() error {
	d.setPower(false)
	return d.out.Close()
}

package logic

import "fmt"

// ConfigError reports a configuration value that the controller refuses to
// run with.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Field, e.Reason)
}

// Thresholds parametrize the thermal protection machine.
type Thresholds struct {
	ShutdownC        float64 // trip temperature
	RestartC         float64 // cooldown ends below this
	LowC             float64 // below this the low-power hint is raised
	ShutdownDelay    int     // consecutive hot cycles before tripping
	LowCheckInterval int     // cycles between full checks in low-power mode
}

// DefaultThresholds returns the thresholds of the stock amplifier build.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ShutdownC:        74.0,
		RestartC:         65.0,
		LowC:             50.0,
		ShutdownDelay:    1,
		LowCheckInterval: 30,
	}
}

// Validate enforces ShutdownC > RestartC > LowC and positive cycle counts.
func (t Thresholds) Validate() error {
	if !(t.ShutdownC > t.RestartC) {
		return &ConfigError{Field: "thermal.shutdown_c", Reason: fmt.Sprintf("(%.1f) must be above restart_c (%.1f)", t.ShutdownC, t.RestartC)}
	}
	if !(t.RestartC > t.LowC) {
		return &ConfigError{Field: "thermal.restart_c", Reason: fmt.Sprintf("(%.1f) must be above low_c (%.1f)", t.RestartC, t.LowC)}
	}
	if t.ShutdownDelay < 1 {
		return &ConfigError{Field: "thermal.shutdown_delay", Reason: "must be at least 1 cycle"}
	}
	if t.LowCheckInterval < 1 {
		return &ConfigError{Field: "timing.low_check_interval", Reason: "must be at least 1 cycle"}
	}
	return nil
}

// Transition is a single state change made during one update.
type Transition struct {
	From ThermalState
	To   ThermalState
}

// Result is the outcome of feeding one cycle into the Machine.
type Result struct {
	State       ThermalState
	Admissible  bool
	Tripped     bool // entered SHUTDOWN this cycle; power must be forced off
	LowTemp     bool // low-power polling hint
	Fault       bool
	Transitions []Transition
}

// Machine is the thermal protection state machine.
// It is not safe for concurrent use; the control loop owns it.
type Machine struct {
	th      Thresholds
	state   ThermalState
	pending int
}

// NewMachine creates a machine in NORMAL. Invalid thresholds are refused.
func NewMachine(th Thresholds) (*Machine, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}
	return &Machine{th: th, state: StateNormal}, nil
}

// State returns the current state.
func (m *Machine) State() ThermalState {
	return m.state
}

// Admissible reports whether the amplifier may be powered on.
func (m *Machine) Admissible() bool {
	return m.state == StateNormal
}

// Update advances the machine with the latest temperature.
func (m *Machine) Update(tempC float64) Result {
	var res Result

	if m.state == StateShutdown {
		m.move(&res, StateCooldown)
	}

	switch m.state {
	case StateNormal:
		if tempC >= m.th.ShutdownC {
			m.move(&res, StateOverheatPending)
			m.pending = 1
			m.confirm(&res)
		}
	case StateOverheatPending:
		if tempC < m.th.ShutdownC {
			m.pending = 0
			m.move(&res, StateNormal)
			break
		}
		m.pending++
		m.confirm(&res)
	case StateCooldown:
		if tempC < m.th.RestartC {
			m.move(&res, StateNormal)
		}
	}

	res.State = m.state
	res.Admissible = m.Admissible()
	res.LowTemp = tempC < m.th.LowC
	return res
}

// Hold reports the current state for a reading that was already fed to
// Update. Nothing advances, so a repeated sample never counts as another
// hot cycle.
func (m *Machine) Hold(tempC float64) Result {
	return Result{
		State:      m.state,
		Admissible: m.Admissible(),
		LowTemp:    tempC < m.th.LowC,
	}
}

// Fault forces SHUTDOWN from any state. A sensor that cannot be read is
// treated as overheated.
func (m *Machine) Fault() Result {
	var res Result
	m.pending = 0
	if m.state != StateShutdown {
		m.move(&res, StateShutdown)
		res.Tripped = true
	}
	res.Fault = true
	res.State = m.state
	res.Admissible = false
	return res
}

func (m *Machine) confirm(res *Result) {
	if m.pending < m.th.ShutdownDelay {
		return
	}
	m.pending = 0
	m.move(res, StateShutdown)
	res.Tripped = true
}

func (m *Machine) move(res *Result, to ThermalState) {
	res.Transitions = append(res.Transitions, Transition{From: m.state, To: to})
	m.state = to
}

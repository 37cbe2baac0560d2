// Package logic contains the pure control logic of the amplifier controller:
// thermistor conversion, the thermal protection state machine and remote
// command arbitration.
// This package has NO external dependencies (no GPIO, MQTT, serial or OS).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// ThermalState is the state of the thermal protection machine.
type ThermalState string

const (
	StateNormal          ThermalState = "NORMAL"
	StateOverheatPending ThermalState = "OVERHEAT_PENDING"
	StateShutdown        ThermalState = "SHUTDOWN"
	StateCooldown        ThermalState = "COOLDOWN"
)

// PowerState is the amplifier relay state.
type PowerState string

const (
	PowerOn  PowerState = "ON"
	PowerOff PowerState = "OFF"
)

// PowerStateOf converts a relay level into a PowerState.
func PowerStateOf(on bool) PowerState {
	if on {
		return PowerOn
	}
	return PowerOff
}

// RemoteCommand is a decoded IR remote frame.
type RemoteCommand struct {
	Address byte
	Command byte
}

// EventType identifies a published controller event.
type EventType string

const (
	EventOverheatPending EventType = "OVERHEAT_PENDING"
	EventThermalShutdown EventType = "THERMAL_SHUTDOWN"
	EventCooldown        EventType = "COOLDOWN"
	EventRestartEligible EventType = "RESTART_ELIGIBLE"
	EventOverheatCleared EventType = "OVERHEAT_CLEARED"
	EventSensorFault     EventType = "SENSOR_FAULT"
	EventPowerOn         EventType = "POWER_ON"
	EventPowerOff        EventType = "POWER_OFF"
	EventCommandDenied   EventType = "COMMAND_DENIED"
	EventCommandAccepted EventType = "COMMAND_ACCEPTED"
)

// Event is a controller occurrence to be published and recorded.
type Event struct {
	Timestamp   time.Time
	Type        EventType
	State       ThermalState
	Power       PowerState
	Temperature float64 // °C; zero when the sensor was faulted
}

// EventCounts tracks the number of notable events since startup.
type EventCounts struct {
	Trips     int
	Restarts  int
	Faults    int
	PowerOns  int
	PowerOffs int
	Denied    int
}

// Add counts a single event.
func (c *EventCounts) Add(t EventType) {
	switch t {
	case EventThermalShutdown:
		c.Trips++
	case EventRestartEligible:
		c.Restarts++
	case EventSensorFault:
		c.Faults++
	case EventPowerOn:
		c.PowerOns++
	case EventPowerOff:
		c.PowerOffs++
	case EventCommandDenied:
		c.Denied++
	}
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}

// Heartbeat tracks when the last heartbeat was emitted.
type Heartbeat struct {
	startTime time.Time
	last      time.Time
}

// NewHeartbeat creates a heartbeat clock starting at startTime.
func NewHeartbeat(startTime time.Time) *Heartbeat {
	return &Heartbeat{startTime: startTime, last: startTime}
}

// Check returns heartbeat data if the interval has elapsed since the last
// heartbeat (or startup). Returns nil if the interval has not elapsed or if
// interval is <= 0 (disabled).
func (h *Heartbeat) Check(now time.Time, interval time.Duration, counts EventCounts) *HeartbeatData {
	if interval <= 0 {
		return nil
	}
	if now.Sub(h.last) < interval {
		return nil
	}
	h.last = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(h.startTime),
		Counts:    counts,
	}
}

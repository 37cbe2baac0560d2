// Package status provides a thread-safe status tracker for the amp-controller
// daemon. It is read by the HTTP handlers and by heartbeat publishing.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/amp-controller/internal/control"
	"github.com/sweeney/amp-controller/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs      int64
	HeartbeatMs int64
	Broker      string
	HTTPPort    string
	SerialPort  string
	Wiring      int
	ShutdownC   float64
	RestartC    float64
	Profile     string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Thermal        logic.ThermalState
	Temperature    float64
	SensorOK       bool
	AuxTemperature float64
	AuxOK          bool
	Power          logic.PowerState
	Admissible     bool
	LowPower       bool
	Cycles         int64
	LastEvent      *logic.Event
	Counts         logic.EventCounts
	StartTime      time.Time
	Now            time.Time
	MQTTConnected  bool
	BridgeOnline   bool
	Network        *NetworkInfo
	Config         Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update records a completed control cycle. Events are counted and the
// auxiliary reading is only replaced on full cycles.
func (t *Tracker) Update(rep control.Report) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snap.Cycles++
	t.snap.Thermal = rep.State
	t.snap.Power = rep.Power
	t.snap.Admissible = rep.Admissible
	t.snap.LowPower = rep.LowPower
	t.snap.SensorOK = rep.SensorErr == nil
	if t.snap.SensorOK {
		t.snap.Temperature = rep.Temperature
	}
	if rep.Full {
		t.snap.AuxOK = rep.AuxErr == nil
		t.snap.AuxTemperature = rep.AuxTemperature
	}
	for _, ev := range rep.Events {
		t.snap.Counts.Add(ev.Type)
		t.snap.LastEvent = &ev
	}
}

// Counts returns the event counts since startup.
func (t *Tracker) Counts() logic.EventCounts {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap.Counts
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetBridgeOnline sets the sensor MCU link status.
func (t *Tracker) SetBridgeOnline(online bool) {
	t.mu.Lock()
	t.snap.BridgeOnline = online
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}

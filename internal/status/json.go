package status

import (
	"encoding/json"
	"math"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event          string         `json:"event,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Thermal        string         `json:"thermal_state"`
	Power          string         `json:"power"`
	Admissible     bool           `json:"admissible"`
	LowPower       bool           `json:"low_power"`
	TemperatureC   *float64       `json:"temperature_c"`
	AuxTemperature *float64       `json:"aux_temperature_c"`
	Cycles         int64          `json:"cycles"`
	LastEvent      *LastEventJSON `json:"last_event,omitempty"`
	UptimeSeconds  int64          `json:"uptime_seconds"`
	StartTime      string         `json:"start_time"`
	Timestamp      string         `json:"timestamp"`
	MQTT           MQTTStatus     `json:"mqtt"`
	Bridge         bool           `json:"bridge_online"`
	Counts         CountsJSON     `json:"event_counts"`
	Network        *NetworkJSON   `json:"network,omitempty"`
	Config         ConfigJSON     `json:"config"`
}

// LastEventJSON is the most recent controller event.
type LastEventJSON struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Trips     int `json:"thermal_shutdowns"`
	Restarts  int `json:"restarts"`
	Faults    int `json:"sensor_faults"`
	PowerOns  int `json:"power_on"`
	PowerOffs int `json:"power_off"`
	Denied    int `json:"denied"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64   `json:"poll_ms"`
	HeartbeatMs int64   `json:"heartbeat_ms"`
	Broker      string  `json:"broker"`
	HTTPPort    string  `json:"http_port"`
	SerialPort  string  `json:"serial_port"`
	Wiring      int     `json:"wiring"`
	ShutdownC   float64 `json:"shutdown_c"`
	RestartC    float64 `json:"restart_c"`
	Profile     string  `json:"profile"`
}

func orUnknown(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return s
}

// celsius rounds to 0.1 °C; nil means no valid reading.
func celsius(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	r := math.Round(v*10) / 10
	return &r
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Thermal:        orUnknown(string(snap.Thermal)),
		Power:          orUnknown(string(snap.Power)),
		Admissible:     snap.Admissible,
		LowPower:       snap.LowPower,
		TemperatureC:   celsius(snap.Temperature, snap.SensorOK),
		AuxTemperature: celsius(snap.AuxTemperature, snap.AuxOK),
		Cycles:         snap.Cycles,
		UptimeSeconds:  int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:      snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:      snap.Now.UTC().Format(time.RFC3339),
		MQTT:           MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Bridge:         snap.BridgeOnline,
		Counts: CountsJSON{
			Trips:     snap.Counts.Trips,
			Restarts:  snap.Counts.Restarts,
			Faults:    snap.Counts.Faults,
			PowerOns:  snap.Counts.PowerOns,
			PowerOffs: snap.Counts.PowerOffs,
			Denied:    snap.Counts.Denied,
		},
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPPort,
			SerialPort:  snap.Config.SerialPort,
			Wiring:      snap.Config.Wiring,
			ShutdownC:   snap.Config.ShutdownC,
			RestartC:    snap.Config.RestartC,
			Profile:     snap.Config.Profile,
		},
	}
	if snap.LastEvent != nil {
		inner.LastEvent = &LastEventJSON{
			Type:      string(snap.LastEvent.Type),
			Timestamp: snap.LastEvent.Timestamp.UTC().Format(time.RFC3339),
		}
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

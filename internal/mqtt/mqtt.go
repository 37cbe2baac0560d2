// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"math"
	"time"

	"github.com/sweeney/amp-controller/internal/logic"
)

// Topic is the MQTT topic for amplifier events.
const Topic = "amplifier/controller/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "amplifier/controller/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends an amplifier event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Amplifier AmplifierPayload `json:"amplifier"`
}

// AmplifierPayload contains the amplifier event details.
type AmplifierPayload struct {
	Timestamp    string  `json:"timestamp"`
	Event        string  `json:"event"`
	State        string  `json:"state"`
	Power        string  `json:"power"`
	TemperatureC float64 `json:"temperature_c"`
}

// FormatPayload creates the JSON payload for an amplifier event.
func FormatPayload(event logic.Event) ([]byte, error) {
	payload := Payload{
		Amplifier: AmplifierPayload{
			Timestamp:    event.Timestamp.UTC().Format(time.RFC3339),
			Event:        string(event.Type),
			State:        string(event.State),
			Power:        string(event.Power),
			TemperatureC: math.Round(event.Temperature*10) / 10,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// willPayload is the retained message the broker publishes if the controller
// disappears without a clean disconnect.
func willPayload() []byte {
	data, _ := json.Marshal(SystemPayload{System: SystemPayloadInner{Event: "OFFLINE", Reason: "CONNECTION_LOST"}})
	return data
}

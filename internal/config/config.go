// Package config loads the controller configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/amp-controller/internal/control"
	"github.com/sweeney/amp-controller/internal/gpio"
	"github.com/sweeney/amp-controller/internal/logic"
)

// Config represents the controller configuration.
type Config struct {
	IR         IRConfig         `yaml:"ir"`
	Pins       PinsConfig       `yaml:"pins"`
	Thermistor ThermistorConfig `yaml:"thermistor"`
	Thermal    ThermalConfig    `yaml:"thermal"`
	Timing     TimingConfig     `yaml:"timing"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	HTTP       HTTPConfig       `yaml:"http"`
	Serial     SerialConfig     `yaml:"serial"`
	History    HistoryConfig    `yaml:"history"`
}

// IRConfig selects the remote command vocabulary.
type IRConfig struct {
	ReceivePin     int        `yaml:"receive_pin"`      // on the sensor MCU
	FeedbackLEDPin int        `yaml:"feedback_led_pin"` // on this board
	Profile        string     `yaml:"profile"`
	Address        *uint8     `yaml:"address,omitempty"`
	Codes          *CodesYAML `yaml:"codes,omitempty"` // overrides the profile
}

// CodesYAML is an explicit command-code assignment.
type CodesYAML struct {
	Accept uint8 `yaml:"accept"`
	Deny1  uint8 `yaml:"deny1"`
	Deny2  uint8 `yaml:"deny2"`
	Power  uint8 `yaml:"power"`
}

// PinsConfig contains output line offsets and the thermistor channels.
type PinsConfig struct {
	Chip        string `yaml:"chip"`
	Power       int    `yaml:"power"`
	Relay       int    `yaml:"relay"`
	PowerLED    int    `yaml:"power_led"`
	Thermistor1 int    `yaml:"thermistor1"` // MCU analog input
	Thermistor2 int    `yaml:"thermistor2"` // MCU analog input
}

// ThermistorConfig describes the sensor and divider.
type ThermistorConfig struct {
	Wiring        int     `yaml:"wiring"`
	SeriesOhms    float64 `yaml:"series_ohms"`
	NominalOhms   float64 `yaml:"nominal_ohms"`
	BCoefficient  float64 `yaml:"b_coefficient"`
	NominalKelvin float64 `yaml:"nominal_kelvin"`
	SensorMax     int     `yaml:"sensor_max"`
}

// ThermalConfig contains the protection thresholds in °C.
type ThermalConfig struct {
	ShutdownC     float64 `yaml:"shutdown_c"`
	RestartC      float64 `yaml:"restart_c"`
	LowC          float64 `yaml:"low_c"`
	ShutdownDelay int     `yaml:"shutdown_delay"` // cycles
}

// TimingConfig contains cycle cadence parameters.
type TimingConfig struct {
	Poll             time.Duration `yaml:"poll"`
	LowCheckInterval int           `yaml:"low_check_interval"` // cycles
	SleepLoopCount   int           `yaml:"sleep_loop_count"`   // cycles
}

// MQTTConfig contains broker settings.
type MQTTConfig struct {
	Broker    string        `yaml:"broker"`
	ClientID  string        `yaml:"client_id"`
	Heartbeat time.Duration `yaml:"heartbeat"`
	Buffer    int           `yaml:"buffer"`
}

// HTTPConfig contains the status server address; empty disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// SerialConfig contains the sensor MCU link settings.
type SerialConfig struct {
	Port       string        `yaml:"port"`
	BaudRate   int           `yaml:"baud_rate"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

// HistoryConfig contains the event history database location; empty disables it.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// Default returns the stock amplifier configuration.
func Default() *Config {
	model := logic.DefaultThermistorModel()
	th := logic.DefaultThresholds()
	pins := gpio.DefaultPins()

	return &Config{
		IR: IRConfig{
			ReceivePin:     3,
			FeedbackLEDPin: pins.FeedbackLED,
			Profile:        "amplifier",
		},
		Pins: PinsConfig{
			Chip:        "gpiochip0",
			Power:       pins.Power,
			Relay:       pins.Relay,
			PowerLED:    pins.PowerLED,
			Thermistor1: 0,
			Thermistor2: 1,
		},
		Thermistor: ThermistorConfig{
			Wiring:        1,
			SeriesOhms:    model.SeriesOhms,
			NominalOhms:   model.NominalOhms,
			BCoefficient:  model.BCoefficient,
			NominalKelvin: model.NominalKelvin,
			SensorMax:     model.SensorMax,
		},
		Thermal: ThermalConfig{
			ShutdownC:     th.ShutdownC,
			RestartC:      th.RestartC,
			LowC:          th.LowC,
			ShutdownDelay: th.ShutdownDelay,
		},
		Timing: TimingConfig{
			Poll:             100 * time.Millisecond,
			LowCheckInterval: th.LowCheckInterval,
			SleepLoopCount:   100,
		},
		MQTT: MQTTConfig{
			Broker:    "tcp://192.168.1.200:1883",
			ClientID:  "amp-controller",
			Heartbeat: 15 * time.Minute,
			Buffer:    100,
		},
		HTTP: HTTPConfig{
			Addr: ":80",
		},
		Serial: SerialConfig{
			Port:       "/dev/ttyACM0",
			BaudRate:   115200,
			StaleAfter: 2 * time.Second,
		},
		History: HistoryConfig{
			Path: "/var/lib/amp-controller/history.db",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values. The result is validated.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults restores fields a file set to zero. Thermal thresholds are
// left alone so Validate reports them.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.IR.Profile == "" {
		c.IR.Profile = def.IR.Profile
	}
	if c.Pins.Chip == "" {
		c.Pins.Chip = def.Pins.Chip
	}

	if c.Thermistor.Wiring == 0 {
		c.Thermistor.Wiring = def.Thermistor.Wiring
	}
	if c.Thermistor.SeriesOhms == 0 {
		c.Thermistor.SeriesOhms = def.Thermistor.SeriesOhms
	}
	if c.Thermistor.NominalOhms == 0 {
		c.Thermistor.NominalOhms = def.Thermistor.NominalOhms
	}
	if c.Thermistor.BCoefficient == 0 {
		c.Thermistor.BCoefficient = def.Thermistor.BCoefficient
	}
	if c.Thermistor.NominalKelvin == 0 {
		c.Thermistor.NominalKelvin = def.Thermistor.NominalKelvin
	}
	if c.Thermistor.SensorMax == 0 {
		c.Thermistor.SensorMax = def.Thermistor.SensorMax
	}

	if c.Timing.Poll == 0 {
		c.Timing.Poll = def.Timing.Poll
	}
	if c.Timing.LowCheckInterval == 0 {
		c.Timing.LowCheckInterval = def.Timing.LowCheckInterval
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = def.MQTT.ClientID
	}
	if c.MQTT.Buffer == 0 {
		c.MQTT.Buffer = def.MQTT.Buffer
	}

	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.StaleAfter == 0 {
		c.Serial.StaleAfter = def.Serial.StaleAfter
	}
}

// Validate reports the first setting the controller refuses to run with, as
// a *logic.ConfigError.
func (c *Config) Validate() error {
	if _, err := c.Codes(); err != nil {
		return err
	}
	if err := c.Model().Validate(); err != nil {
		return err
	}
	if err := c.Thresholds().Validate(); err != nil {
		return err
	}
	if c.Thermistor.Wiring != 1 && c.Thermistor.Wiring != 2 {
		return &logic.ConfigError{Field: "thermistor.wiring", Reason: fmt.Sprintf("%d must be 1 or 2", c.Thermistor.Wiring)}
	}
	if c.Timing.Poll <= 0 {
		return &logic.ConfigError{Field: "timing.poll", Reason: "must be positive"}
	}
	if c.Timing.SleepLoopCount < 0 {
		return &logic.ConfigError{Field: "timing.sleep_loop_count", Reason: "must not be negative"}
	}
	return nil
}

// Codes resolves the command set from the profile, address and overrides.
func (c *Config) Codes() (logic.CommandSet, error) {
	cs, ok := logic.Profiles[c.IR.Profile]
	if !ok {
		return logic.CommandSet{}, &logic.ConfigError{Field: "ir.profile", Reason: fmt.Sprintf("%q is not a known profile", c.IR.Profile)}
	}
	if c.IR.Codes != nil {
		cs.Accept = c.IR.Codes.Accept
		cs.Deny1 = c.IR.Codes.Deny1
		cs.Deny2 = c.IR.Codes.Deny2
		cs.Power = c.IR.Codes.Power
	}
	if c.IR.Address != nil {
		cs.Address = *c.IR.Address
	}
	if err := cs.Validate(); err != nil {
		return logic.CommandSet{}, err
	}
	return cs, nil
}

// Model returns the thermistor model.
func (c *Config) Model() logic.ThermistorModel {
	return logic.ThermistorModel{
		SeriesOhms:    c.Thermistor.SeriesOhms,
		NominalOhms:   c.Thermistor.NominalOhms,
		BCoefficient:  c.Thermistor.BCoefficient,
		NominalKelvin: c.Thermistor.NominalKelvin,
		SensorMax:     c.Thermistor.SensorMax,
	}
}

// Thresholds returns the thermal protection thresholds.
func (c *Config) Thresholds() logic.Thresholds {
	return logic.Thresholds{
		ShutdownC:        c.Thermal.ShutdownC,
		RestartC:         c.Thermal.RestartC,
		LowC:             c.Thermal.LowC,
		ShutdownDelay:    c.Thermal.ShutdownDelay,
		LowCheckInterval: c.Timing.LowCheckInterval,
	}
}

// GPIOPins returns the output line offsets.
func (c *Config) GPIOPins() gpio.Pins {
	return gpio.Pins{
		Power:       c.Pins.Power,
		Relay:       c.Pins.Relay,
		PowerLED:    c.Pins.PowerLED,
		FeedbackLED: c.IR.FeedbackLEDPin,
	}
}

// Control returns the control driver configuration. Call Validate first.
func (c *Config) Control() control.Config {
	codes, _ := c.Codes()
	return control.Config{
		Wiring:         c.Thermistor.Wiring,
		Model:          c.Model(),
		Thresholds:     c.Thresholds(),
		Codes:          codes,
		SleepLoopCount: c.Timing.SleepLoopCount,
	}
}

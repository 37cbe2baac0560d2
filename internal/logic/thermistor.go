package logic

import (
	"errors"
	"fmt"
	"math"
)

// Errors returned by the control logic.
var (
	ErrSensorFault         = errors.New("thermistor: sensor fault")
	ErrUnknownSource       = errors.New("remote: unknown source address")
	ErrUnrecognizedCommand = errors.New("remote: unrecognized command")
)

// kelvinOffset converts between Kelvin and Celsius.
const kelvinOffset = 273.15

// ThermistorModel describes an NTC thermistor wired as the low side of a
// voltage divider against a fixed series resistor.
type ThermistorModel struct {
	SeriesOhms    float64 // fixed divider resistor
	NominalOhms   float64 // R0, resistance at NominalKelvin
	BCoefficient  float64 // B
	NominalKelvin float64 // T0
	SensorMax     int     // highest ADC count, e.g. 1023 for a 10-bit converter
}

// DefaultThermistorModel returns the 10k NTC, B=4300 part on a 10-bit ADC.
func DefaultThermistorModel() ThermistorModel {
	return ThermistorModel{
		SeriesOhms:    10000,
		NominalOhms:   10000,
		BCoefficient:  4300,
		NominalKelvin: 298.15,
		SensorMax:     1023,
	}
}

// Validate reports parameters that would make Convert meaningless.
func (m ThermistorModel) Validate() error {
	switch {
	case m.SeriesOhms <= 0:
		return &ConfigError{Field: "thermistor.series_ohms", Reason: "must be positive"}
	case m.NominalOhms <= 0:
		return &ConfigError{Field: "thermistor.nominal_ohms", Reason: "must be positive"}
	case m.BCoefficient <= 0:
		return &ConfigError{Field: "thermistor.b_coefficient", Reason: "must be positive"}
	case m.NominalKelvin <= 0:
		return &ConfigError{Field: "thermistor.nominal_kelvin", Reason: "must be positive"}
	case m.SensorMax < 2:
		return &ConfigError{Field: "thermistor.sensor_max", Reason: "must be at least 2"}
	}
	return nil
}

// Resistance returns the thermistor resistance for a raw ADC count.
// The divider uses SensorMax+1 levels, R = Rs*raw/(1024-raw) on a 10-bit ADC,
// not the R = Rs/(1023/raw-1) form; firmware calibration must use the same.
// Readings at either rail mean an open or shorted sensor and return
// ErrSensorFault.
func (m ThermistorModel) Resistance(raw int) (float64, error) {
	if raw <= 0 || raw >= m.SensorMax {
		return 0, fmt.Errorf("%w: raw reading %d outside (0, %d)", ErrSensorFault, raw, m.SensorMax)
	}
	levels := float64(m.SensorMax + 1)
	return m.SeriesOhms * float64(raw) / (levels - float64(raw)), nil
}

// Convert maps a raw ADC count to degrees Celsius using the Beta equation
//
//	1/T = 1/T0 + ln(R/R0)/B
func Convert(raw int, m ThermistorModel) (float64, error) {
	r, err := m.Resistance(raw)
	if err != nil {
		return 0, err
	}
	invT := 1/m.NominalKelvin + math.Log(r/m.NominalOhms)/m.BCoefficient
	return 1/invT - kelvinOffset, nil
}

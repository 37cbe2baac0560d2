// Package metrics exposes controller state as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/amp-controller/internal/control"
	"github.com/sweeney/amp-controller/internal/logic"
)

const namespace = "amp_controller"

var thermalStates = []logic.ThermalState{
	logic.StateNormal,
	logic.StateOverheatPending,
	logic.StateShutdown,
	logic.StateCooldown,
}

// Metrics holds the controller collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	temperature    prometheus.Gauge
	auxTemperature prometheus.Gauge
	thermalState   *prometheus.GaugeVec
	power          prometheus.Gauge
	lowPower       prometheus.Gauge
	cycles         prometheus.Counter
	sensorErrors   prometheus.Counter
	events         *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_celsius",
			Help:      "Last valid reading of the active thermistor.",
		}),
		auxTemperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "aux_temperature_celsius",
			Help:      "Last valid reading of the monitor-only thermistor.",
		}),
		thermalState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "thermal_state",
			Help:      "1 for the current thermal protection state, 0 otherwise.",
		}, []string{"state"}),
		power: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "power_on",
			Help:      "1 when the amplifier relay is on.",
		}),
		lowPower: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "low_power",
			Help:      "1 while the controller runs the reduced cadence.",
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Control cycles run.",
		}),
		sensorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_errors_total",
			Help:      "Cycles whose active thermistor reading was invalid.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Controller events by type.",
		}, []string{"event"}),
	}

	m.registry.MustRegister(
		m.temperature,
		m.auxTemperature,
		m.thermalState,
		m.power,
		m.lowPower,
		m.cycles,
		m.sensorErrors,
		m.events,
	)
	return m
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// Observe records a completed control cycle.
func (m *Metrics) Observe(rep control.Report) {
	m.cycles.Inc()
	if rep.SensorErr != nil {
		m.sensorErrors.Inc()
	} else {
		m.temperature.Set(rep.Temperature)
	}
	if rep.Full && rep.AuxErr == nil {
		m.auxTemperature.Set(rep.AuxTemperature)
	}
	for _, s := range thermalStates {
		m.thermalState.WithLabelValues(string(s)).Set(boolGauge(rep.State == s))
	}
	m.power.Set(boolGauge(rep.Power == logic.PowerOn))
	m.lowPower.Set(boolGauge(rep.LowPower))
	for _, ev := range rep.Events {
		m.events.WithLabelValues(string(ev.Type)).Inc()
	}
}

// GaugeFunc registers a gauge whose value is read from fn at scrape time.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// CounterFunc registers a counter whose value is read from fn at scrape time.
// fn must never decrease.
func (m *Metrics) CounterFunc(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

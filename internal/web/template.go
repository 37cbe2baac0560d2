package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/amp-controller/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"orUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
	"celsius": func(v float64, ok bool) string {
		if !ok {
			return "no reading"
		}
		return fmt.Sprintf("%.1f °C", v)
	},
	"thermalClass": func(s string) string {
		switch s {
		case "NORMAL":
			return "ok"
		case "OVERHEAT_PENDING", "COOLDOWN":
			return "warn"
		case "SHUTDOWN":
			return "bad"
		}
		return "unknown"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>Amplifier Controller</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.ok, .on, .connected { color: green; font-weight: bold; }
.warn { color: orange; font-weight: bold; }
.bad, .disconnected { color: red; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
</style>
</head>
<body>
<h1>Amplifier Controller</h1>

<h2>State</h2>
<table>
<tr><th>Thermal</th><td id="thermal-state" class="{{thermalClass (printf "%s" .Thermal)}}">{{orUnknown (printf "%s" .Thermal)}}</td></tr>
<tr><th>Power</th><td id="power-state" class="{{if eq (printf "%s" .Power) "ON"}}on{{else}}off{{end}}">{{orUnknown (printf "%s" .Power)}}</td></tr>
<tr><th>Power-on allowed</th><td>{{if .Admissible}}yes{{else}}no{{end}}</td></tr>
<tr><th>Temperature</th><td>{{celsius .Temperature .SensorOK}}</td></tr>
<tr><th>Second thermistor</th><td>{{celsius .AuxTemperature .AuxOK}}</td></tr>
<tr><th>Low-power cadence</th><td>{{if .LowPower}}yes{{else}}no{{end}}</td></tr>
{{if .LastEvent}}<tr><th>Last event</th><td>{{.LastEvent.Type}} at {{.LastEvent.Timestamp.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>Sensor MCU</th><td class="{{if .BridgeOnline}}connected{{else}}disconnected{{end}}">{{if .BridgeOnline}}online{{else}}offline{{end}} ({{.Config.SerialPort}})</td></tr>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Thermal shutdowns</th><td>{{.Counts.Trips}}</td></tr>
<tr><th>Restarts allowed</th><td>{{.Counts.Restarts}}</td></tr>
<tr><th>Sensor faults</th><td>{{.Counts.Faults}}</td></tr>
<tr><th>Power on</th><td>{{.Counts.PowerOns}}</td></tr>
<tr><th>Power off</th><td>{{.Counts.PowerOffs}}</td></tr>
<tr><th>Commands denied</th><td>{{.Counts.Denied}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Cycles</th><td>{{.Cycles}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Shutdown / restart</th><td>{{.Config.ShutdownC}} °C / {{.Config.RestartC}} °C</td></tr>
<tr><th>Thermistor wiring</th><td>{{.Config.Wiring}}</td></tr>
<tr><th>Remote profile</th><td>{{.Config.Profile}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/history.json">History</a> · <a href="/metrics">Metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}

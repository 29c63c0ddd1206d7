package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/greenhouse-controller/internal/controller"
	"github.com/sweeney/greenhouse-controller/internal/logic"
	"github.com/sweeney/greenhouse-controller/internal/status"
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
	"state": func(on bool) string { return string(logic.StateOf(on)) },
	"utc": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="10">
<title>Greenhouse {{.Config.Name}}</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.alarm { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Greenhouse {{.Config.Name}}</h1>

<h2>Readings</h2>
<table>
{{if .Ready}}<tr><th>Temperature</th><td id="temperature">{{.Controller.Snapshot.Temperature}}&deg;C</td></tr>
<tr><th>Humidity</th><td id="humidity">{{.Controller.Snapshot.Humidity}}%</td></tr>
<tr><th>Light</th><td id="light">{{.Controller.Snapshot.Light}}%</td></tr>
{{if .Controller.Snapshot.SensorError}}<tr><th>Sensors</th><td class="alarm">error</td></tr>{{end}}
{{else}}<tr><th>Sensors</th><td>waiting for first reading</td></tr>{{end}}
</table>

<h2>Devices ({{.Controller.Mode}})</h2>
<table>
{{range .Devices}}<tr><th>{{.Device}}</th><td class="{{if .On}}on{{else}}off{{end}}">{{state .On}}{{if and .On .Speed}} {{.Speed}}%{{end}}</td><td>{{.Run.SwitchCount}} switches, {{uptime .RunTime}}</td></tr>
{{end}}</table>

<h2>Alarms</h2>
<table>
<tr><th>Active</th><td class="{{if .Controller.Alarms}}alarm{{end}}">{{.Controller.Alarms}}</td></tr>
</table>

<h2>Log</h2>
<table>
<tr><th>Records</th><td>{{.Controller.Log.Total}} / {{.Controller.Log.Capacity}}</td></tr>
<tr><th>Oldest</th><td>{{utc .Controller.Log.Oldest}}</td></tr>
<tr><th>Newest</th><td>{{utc .Controller.Log.Newest}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{utc .StartTime}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> <a href="/records">Records</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	data := struct {
		status.Snapshot
		Uptime  time.Duration
		Devices [logic.NumDevices]controller.DeviceStatus
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Devices:  snap.Controller.Devices,
	}
	return indexTmpl.Execute(w, data)
}

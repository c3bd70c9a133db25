package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/limit-reporter/internal/status"
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
	"state": status.StateString,
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="2">
<title>Limit Reporter {{.Config.DeviceID}}</title>
<style>
body { font-family: monospace; max-width: 700px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.pressed { color: green; font-weight: bold; }
.released { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Limit Reporter {{.Config.DeviceID}}</h1>

<h2>Channels</h2>
<table>
<tr><th>#</th><th>Pin</th><th>State</th><th>Transitions</th><th>Commits</th></tr>
{{range .Channels}}<tr><td>{{.ID}}</td><td>{{.Pin}}</td><td class="{{if .Pressed}}pressed{{else}}released{{end}}">{{state .Pressed}}</td><td>{{.Transitions}}</td><td>{{.Commits}}</td></tr>
{{end}}</table>

<h2>Serial</h2>
<table>
<tr><th>Device</th><td>{{.Config.SerialDevice}} @ {{.Config.Baud}}</td></tr>
<tr><th>Last frame</th><td id="last-frame">{{.LastFrame}}</td></tr>
<tr><th>Events</th><td>{{.Counts.Event}}</td></tr>
<tr><th>Heartbeats</th><td>{{.Counts.Heartbeat}}</td></tr>
<tr><th>Status</th><td>{{.Counts.Status}}</td></tr>
<tr><th>Write errors</th><td>{{.Counts.WriteErrors}}</td></tr>
<tr><th>Ignored bytes</th><td>{{.Counts.IgnoredBytes}}</td></tr>
<tr><th>Dropped bytes</th><td>{{.SerialDropped}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}

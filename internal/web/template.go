package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/signal-link/internal/status"
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
	"hex": func(v interface{}) string {
		return fmt.Sprintf("0x%02X", v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>Signal Link: {{.Config.Node}}</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.ok { color: green; font-weight: bold; }
.alert { color: red; font-weight: bold; }
.idle { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Signal Link: {{.Config.Node}}</h1>
{{with .Sampler}}
<h2>Sampler</h2>
<table>
<tr><th>Armed</th><td class="{{if .Armed}}ok{{else}}idle{{end}}">{{if .Armed}}yes{{else}}waiting for trigger{{end}}</td></tr>
<tr><th>Raw sample</th><td>{{.Raw}}</td></tr>
<tr><th>Level</th><td>{{.Level}}</td></tr>
<tr><th>Frame</th><td>{{hex .Frame}}</td></tr>
<tr><th>Fault</th><td class="{{if .Fault}}alert{{else}}ok{{end}}">{{if .Fault}}out of range{{else}}none{{end}}</td></tr>
</table>
{{end}}
{{with .Receiver}}
<h2>Receiver</h2>
<table>
<tr><th>Armed</th><td class="{{if .Armed}}ok{{else}}idle{{end}}">{{if .Armed}}yes{{else}}waiting for first capture{{end}}</td></tr>
<tr><th>Alert</th><td id="alert" class="{{if eq (printf "%s" .Alert) "ALERT"}}alert{{else}}ok{{end}}">{{.Alert}}</td></tr>
<tr><th>Delta</th><td>{{.Delta}} ticks</td></tr>
<tr><th>Duty</th><td>{{.Duty}}</td></tr>
<tr><th>Last capture</th><td>{{.LastCapture}}</td></tr>
</table>
{{end}}
<h2>Counts</h2>
<table>
<tr><th>Samples</th><td>{{.Counts.Samples}}</td></tr>
<tr><th>Out of range</th><td>{{.Counts.Faults}}</td></tr>
<tr><th>ADC timeouts</th><td>{{.Counts.Timeouts}}</td></tr>
<tr><th>Frames</th><td>{{.Counts.Frames}}</td></tr>
<tr><th>Captures</th><td>{{.Counts.Captures}}</td></tr>
<tr><th>Overruns</th><td>{{.Counts.Overruns}}</td></tr>
<tr><th>Alerts</th><td>{{.Counts.Alerts}}</td></tr>
<tr><th>Bus errors</th><td>{{.Counts.BusWriteErrors}} write / {{.Counts.BusReadErrors}} read</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">metrics</a></p>
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

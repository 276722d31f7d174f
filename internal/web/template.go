package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sweeney/pump-doser/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm", days, h, m)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm", h, m)
		}
		return d.String()
	},
	"ago": humanize.Time,
	"ms": func(ms int) string {
		return (time.Duration(ms) * time.Millisecond).String()
	},
	"comma": func(n int) string { return humanize.Comma(int64(n)) },
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Pump {{.Device}}</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Pump {{.Device}}</h1>

<h2>Pump</h2>
<table>
<tr><th>Ready</th><td>{{if .Ready}}yes{{else}}no{{end}}</td></tr>
<tr><th>Pin</th><td>{{.Pump.Pin}}</td></tr>
<tr><th>Speed</th><td>{{.Pump.PumpSpeed}}</td></tr>
<tr><th>Dose time</th><td>{{ms .Pump.DoseTime}}</td></tr>
</table>

<h2>Auto dosing</h2>
<table>
<tr><th>Enabled</th><td class="{{if .Pump.AutoEnabled}}on{{else}}off{{end}}">{{if .Pump.AutoEnabled}}yes{{else}}no{{end}}</td></tr>
<tr><th>Parameter</th><td>{{if .Pump.AutoParameter}}{{.Pump.AutoParameter}}{{else}}none{{end}}</td></tr>
<tr><th>Condition</th><td>{{if .Pump.ActiveLow}}below{{else}}above{{end}} {{.Pump.Threshold}}</td></tr>
<tr><th>Period</th><td>{{ms .Pump.TaskPeriod}}</td></tr>
{{with .LastEvaluation}}<tr><th>Last check</th><td>{{if .Found}}{{.Value}}{{else}}no reading{{end}}{{if .Triggered}} (dosed){{end}}, {{ago .Time}}</td></tr>{{end}}
</table>

<h2>Doses</h2>
<table>
<tr><th>Manual</th><td>{{comma .Counts.Manual}}</td></tr>
<tr><th>Auto</th><td>{{comma .Counts.Auto}}</td></tr>
<tr><th>Scheduled</th><td>{{comma .Counts.Schedule}}</td></tr>
{{with .LastDose}}<tr><th>Last dose</th><td>{{.Trigger}}, {{ago .Started}}</td></tr>{{end}}
{{if not .NextSchedule.IsZero}}<tr><th>Next scheduled</th><td>{{ago .NextSchedule}}</td></tr>{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/api/pump/config">config</a> · <a href="/api/pump/history">history</a></p>
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

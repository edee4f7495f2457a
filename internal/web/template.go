package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/pump-controller/internal/status"
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
	"reading": func(v *float64) string {
		if v == nil {
			return "no data"
		}
		return fmt.Sprintf("%.1f", *v)
	},
	"orUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>Pump Controller{{with .Config.Station}} {{.}}{{end}}</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
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
<h1>Pump Controller{{with .Config.Station}} {{.}}{{end}}</h1>

<h2>Process</h2>
<table>
<tr><th>Pumps</th><td class="{{if .Info.Running}}on{{else}}off{{end}}">{{if .Info.Running}}RUNNING{{else}}STOPPED{{end}}</td></tr>
<tr><th>Stop reason</th><td{{if .Interlock}} class="alarm"{{end}}>{{if .Reason}}{{.Reason}}{{else}}none{{end}}</td></tr>
<tr><th>Run requested</th><td>{{if .Info.Run}}yes{{else}}no{{end}}</td></tr>
<tr><th>Network state</th><td>{{orUnknown .NetworkState}}</td></tr>
<tr><th>Speed</th><td>{{.Speed}}</td></tr>
<tr><th>Outlet pressure</th><td>{{reading .Info.OutletPressure}}</td></tr>
<tr><th>Target</th><td>{{.Info.OutletPressureTarget}}</td></tr>
<tr><th>Inlet pressure</th><td>{{reading .Info.InletPressure}}</td></tr>
<tr><th>Inlet temperature</th><td>{{reading .Info.InletTemperature}}</td></tr>
<tr><th>Ready</th><td>{{if .Ready}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Protection</h2>
<table>
<tr><th>Anti-drip</th><td{{if .Info.AntiDrip}} class="alarm">LOCKED{{else}}>ok{{end}}</td></tr>
<tr><th>TL service</th><td{{if .Info.TLService}} class="alarm">DUE{{else}}>ok{{end}}</td></tr>
<tr><th>BK service</th><td{{if .Info.BKService}} class="alarm">DUE{{else}}>ok{{end}}</td></tr>
<tr><th>RB service</th><td{{if .Info.RBService}} class="alarm">DUE{{else}}>ok{{end}}</td></tr>
<tr><th>Working time</th><td>{{.Info.WorkingHours}}h {{.Info.WorkingMinutes}}m</td></tr>
</table>

<h2>Drives</h2>
<table>
<tr><th>Address</th><td>State</td></tr>
{{range .Drives}}<tr><th>{{.ID}}</th><td{{if .Faulty}} class="alarm"{{end}}>{{.State}} ({{.Setpoint}})</td></tr>
{{else}}<tr><th>none</th><td>no drives found</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>Supervisor</th><td class="{{if .SupervisorConnected}}connected{{else}}disconnected{{end}}">{{if .SupervisorConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Gain</th><td>{{.Config.Gain}}</td></tr>
<tr><th>Max speed</th><td>{{.Config.MaxSpeed}}</td></tr>
<tr><th>Store</th><td>{{.Config.Store}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	data := struct {
		status.Snapshot
		Uptime    time.Duration
		Interlock bool
	}{
		Snapshot:  snap,
		Uptime:    snap.Uptime(),
		Interlock: snap.Reason.Interlock(),
	}
	return indexTmpl.Execute(w, data)
}

package web

import (
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/sweeney/pillbox-sensor/internal/alert"
	"github.com/sweeney/pillbox-sensor/internal/core"
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
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Pillbox Sensor</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.taken { color: green; font-weight: bold; }
.pending { color: orange; }
.due { color: #888; }
.warning { color: red; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Pillbox Sensor</h1>

<h2>Slots</h2>
<table>
<tr><th>Medication</th><td>Target</td><td>Today</td><td>Container</td></tr>
{{range .Slots}}
<tr>
<th>{{.Label}}</th>
<td>{{.TargetTime}}</td>
<td class="{{if .DoseTakenToday}}taken{{else if .PendingRemoval}}pending{{else}}due{{end}}">
{{if .DoseTakenToday}}taken{{else if .PendingRemoval}}out{{else}}not yet{{end}}</td>
<td>{{if .RawPresence}}present{{else}}removed{{end}}</td>
</tr>
{{end}}
</table>

{{if .Notices}}
<h2>Notices</h2>
<table>
{{range .Notices}}<tr><th class="{{.Type}}">{{.Priority}}</th><td>{{.Message}}</td></tr>
{{end}}
</table>
{{end}}

<h2>System</h2>
<table>
<tr><th>Adherence</th><td>{{.AdherenceRate}}%</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Broker}}</td></tr>
</table>

<p><a href="/api/history">history</a> &middot; <a href="/api/metrics">metrics</a> &middot; <a href="/api/chart/weekly">weekly chart</a></p>
</body>
</html>
`

type indexData struct {
	Slots         []core.SlotSnapshot
	Notices       []alert.Notice
	AdherenceRate int
	Uptime        time.Duration
	MQTTConnected bool
	Broker        string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	snaps := s.core.Slots()

	mqttConnected := false
	if s.mqttStatus != nil {
		mqttConnected = s.mqttStatus.IsConnected()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	indexTmpl.Execute(w, indexData{
		Slots:         snaps,
		Notices:       alert.Notices(snaps, now),
		AdherenceRate: s.core.AdherenceRate(),
		Uptime:        now.Sub(s.core.StartTime()),
		MQTTConnected: mqttConnected,
		Broker:        s.info.Broker,
	})
}

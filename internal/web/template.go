package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/crownstone/bluenet-sub000/internal/status"
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
	"milli": func(v int32) string {
		return fmt.Sprintf("%.3f", float64(v)/1000)
	},
	"wattHours": func(uj int64) string {
		return fmt.Sprintf("%.4f", float64(uj)/3.6e9)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Power Sampler</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.fault { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Power Sampler<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Switch</h2>
<table>
<tr><th>Relay</th><td class="{{if .Switch.Relay}}on{{else}}off{{end}}">{{if .Switch.Relay}}ON{{else}}OFF{{end}}</td></tr>
<tr><th>Dimmer</th><td>{{.Switch.Dimmer}}%</td></tr>
<tr><th>Faults</th><td id="faults" class="{{if .Telemetry.Faults}}fault{{end}}">{{.Telemetry.Faults}}</td></tr>
<tr><th>Ready</th><td>{{if .Ready}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Power</h2>
<table>
<tr><th>Power</th><td id="power">{{milli .Telemetry.PowerMilliWatt}} W</td></tr>
<tr><th>Apparent</th><td id="apparent">{{milli .Telemetry.ApparentPowerMilliVA}} VA</td></tr>
<tr><th>Current</th><td id="current">{{milli .Telemetry.CurrentRmsMilliAmp}} A</td></tr>
<tr><th>Voltage</th><td id="voltage">{{milli .Telemetry.VoltageRmsMilliVolt}} V</td></tr>
<tr><th>Energy</th><td id="energy">{{wattHours .Telemetry.EnergyMicroJoule}} Wh</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}} / {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Switch off</th><td>{{.Counts.SwitchOff}}</td></tr>
<tr><th>Dimmer off</th><td>{{.Counts.DimmerOff}}</td></tr>
<tr><th>Toggle</th><td>{{.Counts.Toggle}}</td></tr>
<tr><th>Fault changes</th><td>{{.Counts.ErrorChanges}}</td></tr>
<tr><th>Discontinuities</th><td>{{.Telemetry.Counters.Discontinuities}}</td></tr>
<tr><th>Invalid buffers</th><td>{{.Telemetry.Counters.InvalidBuffers}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Sample interval</th><td>{{.Config.SampleIntervalUs}}us</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
{{if .Config.SerialPort}}<tr><th>Serial</th><td>{{.Config.SerialPort}}</td></tr>{{end}}
</table>

<p><a href="/index.json">JSON</a> | <a href="/samples?kind=now_filtered&amp;index=1">Samples</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }
  function set(id, v, unit) {
    document.getElementById(id).textContent = (v / 1000).toFixed(3) + " " + unit;
  }
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var ws = new WebSocket(proto + location.host + "/live");
  ws.onopen = function() { setDot("ok", "live"); };
  ws.onclose = function() { setDot("err", "closed"); };
  ws.onerror = function() { setDot("err", "error"); };
  ws.onmessage = function(e) {
    try {
      var m = JSON.parse(e.data);
      set("power", m.power_mw, "W");
      set("apparent", m.apparent_mva, "VA");
      set("current", m.current_ma, "A");
      set("voltage", m.voltage_mv, "V");
      document.getElementById("energy").textContent = (m.energy_uj / 3.6e9).toFixed(4) + " Wh";
      var f = document.getElementById("faults");
      f.textContent = m.faults.length ? m.faults.join("|") : "NONE";
      f.className = m.faults.length ? "fault" : "";
    } catch (err) {}
  };
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() and Ready() methods but the template needs fields.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Ready  bool
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Ready:    snap.Ready(),
	}
	indexTmpl.Execute(w, data)
}

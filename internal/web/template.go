package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/power-watchdog/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": formatUptime,
}).Parse(indexHTML))

func formatUptime(d time.Duration) string {
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
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Power Watchdog</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.warn { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.actions a { margin-right: 1em; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Power Watchdog{{if .Live}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Watchdog</h2>
<table>
<tr><th>Mode</th><td id="mode">{{.Watchdog.Mode}}</td></tr>
<tr><th>Output</th><td id="mosfet" class="{{if .Watchdog.Energized}}on{{else}}off{{end}}">{{if .Watchdog.Energized}}ON{{else}}OFF{{end}}</td></tr>
<tr><th>Counter</th><td><span id="counter">{{.Watchdog.Counter}}</span> / <span id="ttl">{{.Watchdog.TTL}}</span>s</td></tr>
<tr><th>Resets</th><td id="resets">{{.Watchdog.ResetCount}}</td></tr>
<tr><th>Reboot pending</th><td class="{{if .Watchdog.PendingReboot}}warn{{end}}">{{if .Watchdog.PendingReboot}}yes{{else}}no{{end}}</td></tr>
<tr><th>Hardware faults</th><td class="{{if .Watchdog.HardwareFaults}}warn{{end}}">{{.Watchdog.HardwareFaults}}</td></tr>
</table>

<p class="actions">
<a href="/auto">auto</a>
<a href="/on">force on</a>
<a href="/off">force off</a>
<a href="/reboot">reboot</a>
<a href="/feed">feed</a>
</p>

<h2>Connectivity</h2>
<table>
{{if .Config.Broker}}<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>{{else}}<tr><th>MQTT</th><td>disabled</td></tr>{{end}}
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.Watchdog.BootTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Settle</th><td>{{.Config.SettleMs}}ms</td></tr>
<tr><th>GPIO</th><td>{{.Config.Pin}}{{if .Config.ActiveLow}} (active low){{end}}{{if .Config.DryRun}} (dry run){{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/status.json">JSON</a>{{if .Config.Journal}} <a href="/events">events</a>{{end}}</p>
{{if .Live}}
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var el = function(id) { return document.getElementById(id); };

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(m) {
      try {
        var e = JSON.parse(m.data);
        el("mode").textContent = e.mode;
        el("counter").textContent = e.counter;
        el("ttl").textContent = e.ttl;
        el("resets").textContent = e.resets;
        el("mosfet").textContent = e.mosfet_on ? "ON" : "OFF";
        el("mosfet").className = e.mosfet_on ? "on" : "off";
      } catch (err) {}
    };
  }
  connect();
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, live bool) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Live   bool
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Live:     live,
	}
	return indexTmpl.Execute(w, data)
}

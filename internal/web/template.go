package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/sousvide/internal/logic"
	"github.com/sweeney/sousvide/internal/status"
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
	"clock": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		return fmt.Sprintf("%d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
	},
	"celsius": func(c float64) string {
		return fmt.Sprintf("%.1f°C", c)
	},
	"minutes": func(d time.Duration) int {
		return int(d.Minutes())
	},
	"stateOrUnknown": func(s logic.State) string {
		if s == "" {
			return "UNKNOWN"
		}
		return string(s)
	},
	"stateClass": func(s logic.State) string {
		switch {
		case s == logic.StateError:
			return "err"
		case s.Heating():
			return "on"
		case s == "":
			return "unknown"
		}
		return "off"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Sous Vide</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
form { display: inline; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.err { color: red; font-weight: bold; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
{{$m := .Control.Machine}}{{$s := .Control.Sensor}}
<h1>Sous Vide{{if .Config.WSBroker}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Cook</h2>
<table>
<tr><th>State</th><td id="state" class="{{stateClass $m.State}}">{{stateOrUnknown $m.State}}</td></tr>
{{if ne (printf "%s" $m.Error) "NONE"}}{{if $m.Error}}<tr><th>Error</th><td class="err">{{$m.Error}}</td></tr>{{end}}{{end}}
<tr><th>Temperature</th><td id="temp">{{if $s.Connected}}{{celsius $s.Filtered}}{{else}}<span class="disconnected">disconnected</span>{{end}}</td></tr>
<tr><th>Target</th><td id="target">{{celsius $m.Params.TargetTemperature}}</td></tr>
<tr><th>Cook time</th><td>{{clock $m.Params.CookingTime}}</td></tr>
{{if gt $m.Remaining 0}}<tr><th>Remaining</th><td>{{clock $m.Remaining}}</td></tr>
<tr><th>Ends</th><td>{{$m.EndsAt.UTC.Format "15:04:05Z"}}</td></tr>{{end}}
<tr><th>Heater</th><td class="{{if .Control.SSR.On}}on{{else}}off{{end}}">{{printf "%.0f" .Control.SSR.Power}}%{{if .Control.SSR.Locked}} (locked){{end}}</td></tr>
<tr><th>Alarm</th><td>{{if $m.AlarmActive}}<span class="err">SOUNDING</span>{{else if $m.Params.AlarmEnabled}}armed{{else}}off{{end}}</td></tr>
<tr><th>Preheat</th><td>{{if $m.Params.PreheatEnabled}}on{{else}}off{{end}}{{if $m.Preheated}} (reached){{end}}</td></tr>
</table>

<p>
<form method="post" action="/control"><input type="hidden" name="action" value="start"><button>Start</button></form>
<form method="post" action="/control"><input type="hidden" name="action" value="pause"><button>Pause</button></form>
<form method="post" action="/control"><input type="hidden" name="action" value="resume"><button>Resume</button></form>
<form method="post" action="/control"><input type="hidden" name="action" value="stop"><button>Stop</button></form>
<form method="post" action="/control"><input type="hidden" name="action" value="acknowledge"><button>Acknowledge</button></form>
</p>

<h2>Settings</h2>
<form method="post" action="/settings">
<table>
<tr><th>Target (°C)</th><td><input name="target" type="number" step="0.5" value="{{$m.Params.TargetTemperature}}"></td></tr>
<tr><th>Time (min)</th><td><input name="time" type="number" step="1" value="{{minutes $m.Params.CookingTime}}"></td></tr>
<tr><th>Alarm</th><td><select name="alarm"><option value="on"{{if $m.Params.AlarmEnabled}} selected{{end}}>on</option><option value="off"{{if not $m.Params.AlarmEnabled}} selected{{end}}>off</option></select></td></tr>
<tr><th>Preheat</th><td><select name="preheat"><option value="on"{{if $m.Params.PreheatEnabled}} selected{{end}}>on</option><option value="off"{{if not $m.Params.PreheatEnabled}} selected{{end}}>off</option></select></td></tr>
</table>
<button>Save</button>
</form>

<h2>Probe</h2>
<table>
<tr><th>Raw</th><td>{{celsius $s.Raw}}</td></tr>
<tr><th>Min / Max</th><td>{{celsius $s.Min}} / {{celsius $s.Max}}</td></tr>
<tr><th>Offset</th><td>{{printf "%+.1f" $s.Offset}}°C</td></tr>
<tr><th>Read errors</th><td>{{$s.ReadErrors}}</td></tr>
<tr><th>PID</th><td>Kp {{$m.Params.Kp}} Ki {{$m.Params.Ki}} Kd {{$m.Params.Kd}} out {{printf "%.1f" .Control.PID.Output}}</td></tr>
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
<tr><th>PID sample</th><td>{{.Config.SampleMs}}ms</td></tr>
<tr><th>SSR window</th><td>{{.Config.WindowMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
{{if .Session}}<tr><th>Session</th><td>{{.Session}}</td></tr>{{end}}
</table>

<p><a href="/index.json">JSON</a> <a href="/log.csv">CSV</a> <a href="/metrics">metrics</a></p>
{{if .Config.WSBroker}}
<script src="/mqtt.min.js"></script>
<script>
(function() {
  var broker = "{{.Config.WSBroker}}";
  var dot = document.getElementById("live-dot");
  var stateEl = document.getElementById("state");
  var tempEl = document.getElementById("temp");
  var targetEl = document.getElementById("target");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  var client = mqtt.connect(broker, { reconnectPeriod: 5000 });

  client.on("connect", function() {
    setDot("ok", "live");
    client.subscribe(["sousvide/events", "sousvide/temperature", "sousvide/setpoint"]);
  });

  client.on("reconnect", function() {
    setDot("pending", "reconnecting");
  });

  client.on("offline", function() {
    setDot("err", "offline");
  });

  client.on("error", function() {
    setDot("err", "error");
  });

  client.on("message", function(t, payload) {
    var text = payload.toString();
    if (t === "sousvide/temperature") {
      tempEl.textContent = parseFloat(text).toFixed(1) + "°C";
      return;
    }
    if (t === "sousvide/setpoint") {
      targetEl.textContent = parseFloat(text).toFixed(1) + "°C";
      return;
    }
    try {
      var msg = JSON.parse(text);
      if (msg.sousvide && msg.sousvide.event === "STATE_CHANGED") {
        stateEl.textContent = msg.sousvide.to;
      }
    } catch (e) {}
  });
})();
</script>
{{end}}
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

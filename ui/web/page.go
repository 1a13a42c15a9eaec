package web

import "html/template"

// page renders the chat view. The narration box is pre-filled with the
// current narration; the script streams messages over /ws.
var page = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>GM Trainer</title>
<style>
body { font-family: sans-serif; max-width: 52rem; margin: 2rem auto; }
#chat { border: 1px solid #ccc; padding: 1rem; height: 60vh; overflow-y: auto; }
.msg { margin: 0 0 .75rem; white-space: pre-wrap; }
.gm { color: #7a4b00; }
.error { color: #b00020; }
textarea { width: 100%; height: 6rem; }
</style>
</head>
<body>
<h1>GM Trainer</h1>
<div id="chat">
{{- range .History}}
<p class="msg {{.Role}}"><b>{{if .Name}}{{.Name}}{{else}}GM{{end}}:</b> {{.Text}}</p>
{{- end}}
</div>
<form id="turn">
<textarea id="narration" name="narration">{{.Narration}}</textarea>
<button type="submit" id="send">Run turn</button>
<span id="status">{{.State}}</span>
</form>
<script>
const chat = document.getElementById("chat");
const status = document.getElementById("status");
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
let seen = {{len .History}};
ws.onmessage = (ev) => {
  const m = JSON.parse(ev.data);
  if (m.role === "state") { status.textContent = m.text; return; }
  if (m.seq >= 0) {
    if (m.seq < seen) { return; }
    seen = m.seq + 1;
  }
  const p = document.createElement("p");
  p.className = "msg " + m.role;
  const b = document.createElement("b");
  b.textContent = (m.name || (m.role === "error" ? "Error" : "GM")) + ": ";
  p.appendChild(b);
  p.appendChild(document.createTextNode(m.text));
  chat.appendChild(p);
  chat.scrollTop = chat.scrollHeight;
};
document.getElementById("turn").onsubmit = (ev) => {
  ev.preventDefault();
  ws.send(JSON.stringify({type: "turn", narration: document.getElementById("narration").value}));
};
</script>
</body>
</html>
`))

type pageData struct {
	Narration string
	State     string
	History   []Message
}

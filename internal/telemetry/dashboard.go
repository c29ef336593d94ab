package telemetry

// dashboardHTML is the single-page telemetry dashboard served at /telemetry.
// It talks to the JSON API on the same origin, so it needs no build step and
// no assets beyond this string.
const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Auricle Telemetry</title>
<style>
  :root { --bg: #12141a; --panel: #1c1f29; --fg: #d8dce6; --dim: #7a8194; --accent: #6fa8dc; --err: #d76a6a; }
  * { box-sizing: border-box; }
  body { margin: 0; padding: 1.5rem; background: var(--bg); color: var(--fg);
         font: 14px/1.5 ui-monospace, "SF Mono", Menlo, Consolas, monospace; }
  h1 { font-size: 1.2rem; margin: 0 0 1rem; }
  h2 { font-size: 1rem; margin: 1.5rem 0 .5rem; color: var(--accent); }
  .cards { display: grid; grid-template-columns: repeat(auto-fill, minmax(160px, 1fr)); gap: .75rem; }
  .card { background: var(--panel); border-radius: 6px; padding: .75rem 1rem; }
  .card .value { font-size: 1.4rem; }
  .card .label { color: var(--dim); font-size: .75rem; text-transform: uppercase; }
  table { width: 100%; border-collapse: collapse; background: var(--panel); border-radius: 6px; }
  th, td { text-align: left; padding: .4rem .75rem; border-bottom: 1px solid #2a2e3b; }
  th { color: var(--dim); font-weight: normal; font-size: .75rem; text-transform: uppercase; }
  tr.session { cursor: pointer; }
  tr.session:hover { background: #232736; }
  .error { color: var(--err); }
  .dim { color: var(--dim); }
  #detail { display: none; background: var(--panel); border-radius: 6px; padding: 1rem; margin-top: 1rem;
            white-space: pre-wrap; overflow-x: auto; }
  #search-box { width: 100%; padding: .5rem .75rem; background: var(--panel); color: var(--fg);
                border: 1px solid #2a2e3b; border-radius: 6px; font: inherit; }
  #search-results { margin-top: .5rem; }
</style>
</head>
<body>
<h1>Auricle Telemetry</h1>

<div class="cards" id="cards"></div>

<h2>Recall search</h2>
<input id="search-box" placeholder="what did I ask about... (press Enter)">
<div id="search-results"></div>

<h2>Recent sessions</h2>
<table>
  <thead><tr><th>Started</th><th>Wake model</th><th>Exchanges</th><th>Duration</th><th>First utterance</th></tr></thead>
  <tbody id="sessions"></tbody>
</table>
<pre id="detail"></pre>

<script>
const fmtMs = ms => ms == null ? "-" : (ms >= 1000 ? (ms / 1000).toFixed(1) + "s" : Math.round(ms) + "ms");
const esc = s => String(s ?? "").replace(/[&<>"]/g, c => ({"&":"&amp;","<":"&lt;",">":"&gt;",'"':"&quot;"}[c]));

async function loadStats() {
  const s = await (await fetch("api/stats")).json();
  const cards = [
    ["Sessions", s.total_sessions], ["Exchanges", s.total_exchanges],
    ["LLM calls", s.total_llm_calls], ["Errors", s.error_count],
    ["Today", s.sessions_today + " / " + s.exchanges_today],
    ["Tokens in/out", s.total_input_tokens + " / " + s.total_output_tokens],
    ["Avg STT", fmtMs(s.avg_stt_ms)], ["Avg routing", fmtMs(s.avg_routing_ms)],
    ["Avg TTS", fmtMs(s.avg_tts_ms)], ["Avg playback", fmtMs(s.avg_playback_ms)],
  ];
  document.getElementById("cards").innerHTML = cards.map(([label, value]) =>
    '<div class="card"><div class="value">' + esc(value) + '</div><div class="label">' + esc(label) + "</div></div>"
  ).join("");
}

async function loadSessions() {
  const page = await (await fetch("api/sessions?limit=50")).json();
  document.getElementById("sessions").innerHTML = page.sessions.map(s =>
    '<tr class="session" data-id="' + esc(s.id) + '">' +
    "<td>" + esc(new Date(s.started_at).toLocaleString()) + "</td>" +
    '<td class="dim">' + esc(s.wake_model ?? "-") + "</td>" +
    "<td>" + s.exchange_count + "</td>" +
    "<td>" + fmtMs(s.duration_ms) + "</td>" +
    "<td>" + esc(s.first_transcription ?? "") + "</td></tr>"
  ).join("");
  for (const row of document.querySelectorAll("tr.session")) {
    row.onclick = () => showDetail(row.dataset.id);
  }
}

async function showDetail(id) {
  const sess = await (await fetch("api/sessions/" + id)).json();
  const el = document.getElementById("detail");
  el.style.display = "block";
  el.textContent = JSON.stringify(sess, null, 2);
  el.scrollIntoView({behavior: "smooth"});
}

document.getElementById("search-box").addEventListener("keydown", async e => {
  if (e.key !== "Enter") return;
  const q = e.target.value.trim();
  if (!q) return;
  const resp = await fetch("api/search?q=" + encodeURIComponent(q));
  const out = document.getElementById("search-results");
  if (!resp.ok) {
    out.innerHTML = '<span class="error">' + esc((await resp.json()).error) + "</span>";
    return;
  }
  const hits = await resp.json();
  out.innerHTML = hits.length === 0 ? '<span class="dim">no matches</span>' :
    "<table><tbody>" + hits.map(h =>
      '<tr class="session" data-id="' + esc(h.session_id) + '">' +
      '<td class="dim">' + h.distance.toFixed(3) + "</td>" +
      "<td>" + esc(h.transcription) + '<br><span class="dim">' + esc(h.response_text) + "</span></td></tr>"
    ).join("") + "</tbody></table>";
  for (const row of out.querySelectorAll("tr.session")) {
    row.onclick = () => showDetail(row.dataset.id);
  }
});

loadStats();
loadSessions();
setInterval(() => { loadStats(); loadSessions(); }, 30000);
</script>
</body>
</html>
`

package sandbox

import (
	"context"
	"crypto/sha256"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/tv_sandbox/internal/types"
)

type fakeHandler struct {
	mu          sync.Mutex
	bars        []types.Bar
	lines       map[string][]types.LinePoint
	labels      map[string][]types.Label
	methods     []string
	attachments map[string]types.Table
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{
		bars: []types.Bar{
			{Time: 0, Open: 1, High: 2, Low: 0, Close: 1, Volume: 10},
			{Time: 1, Open: 1, High: 2, Low: 0, Close: 2, Volume: 10},
			{Time: 2, Open: 2, High: 3, Low: 1, Close: 3, Volume: 10},
		},
		lines:  make(map[string][]types.LinePoint),
		labels: make(map[string][]types.Label),
		attachments: map[string]types.Table{
			"levels.csv": {Columns: []string{"price"}, Rows: []map[string]string{{"price": "1.5"}}},
		},
	}
}

func (h *fakeHandler) record(m string) {
	h.mu.Lock()
	h.methods = append(h.methods, m)
	h.mu.Unlock()
}

func (h *fakeHandler) GetBars(ctx context.Context, c GetBars) ([]types.Bar, error) {
	h.record(c.Method() + ":" + c.Symbol + ":" + c.Timeframe)
	return h.bars, nil
}

func (h *fakeHandler) PlotLine(ctx context.Context, c PlotLine) error {
	h.record(c.Method())
	h.mu.Lock()
	h.lines[c.ID] = c.Points
	h.mu.Unlock()
	return nil
}

func (h *fakeHandler) PlotBands(ctx context.Context, c PlotBands) error { h.record(c.Method()); return nil }
func (h *fakeHandler) PlotHistogram(ctx context.Context, c PlotHistogram) error {
	h.record(c.Method())
	return nil
}
func (h *fakeHandler) PlotBoxes(ctx context.Context, c PlotBoxes) error { h.record(c.Method()); return nil }

func (h *fakeHandler) PlotLabels(ctx context.Context, c PlotLabels) error {
	h.record(c.Method())
	h.mu.Lock()
	h.labels[c.ID] = c.Labels
	h.mu.Unlock()
	return nil
}

func (h *fakeHandler) ListAttachments(ctx context.Context, c ListAttachments) ([]string, error) {
	h.record(c.Method())
	return []string{"levels.csv"}, nil
}

func (h *fakeHandler) ReadCSV(ctx context.Context, c ReadCSV) (types.Table, error) {
	h.record(c.Method())
	t, ok := h.attachments[c.Name]
	if !ok {
		return types.Table{}, types.AttachmentMissing(c.Name)
	}
	return t, nil
}

func (h *fakeHandler) calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.methods...)
}

// drive plays the host side until the context posts its done message.
func drive(t *testing.T, c *Context, h Handler) (DoneMessage, []LogMessage) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	var logs []LogMessage
	for {
		select {
		case m := <-c.Outbox():
			switch m := m.(type) {
			case RPCRequest:
				call, err := DecodeCall(m)
				if err != nil {
					c.Post(ErrorReply(m.ID, err))
					continue
				}
				c.Post(Dispatch(context.Background(), h, m, call))
			case LogMessage:
				logs = append(logs, m)
			case DoneMessage:
				return m, logs
			}
		case <-deadline:
			t.Fatalf("no done message from context %s (state %s)", c.ID(), c.State())
		}
	}
}

func start(t *testing.T, source string, timeoutMS int) *Context {
	t.Helper()
	c := New(NewRunInstruction(types.RunSpec{Symbol: "AAPL", Timeframe: "1m", SourceCode: source, TimeoutMS: timeoutMS}))
	if err := c.Start(); err != nil {
		t.Fatalf("Start() = %v; want nil", err)
	}
	t.Cleanup(c.Terminate)
	return c
}

func waitExit(t *testing.T, c *Context) {
	t.Helper()
	select {
	case <-c.Exited():
	case <-time.After(2 * time.Second):
		t.Fatalf("context %s did not exit (state %s)", c.ID(), c.State())
	}
}

func TestNoCallableExport(t *testing.T) {
	h := newFakeHandler()
	c := start(t, "const x = 1;", 1000)

	done, _ := drive(t, c, h)
	if done.Error != ErrNoCallableExport {
		t.Fatalf("done.Error = %q; want %q", done.Error, ErrNoCallableExport)
	}
	if got := h.calls(); len(got) != 0 {
		t.Fatalf("capability calls = %v; want none", got)
	}
	waitExit(t, c)
	if c.State() != StateFailed {
		t.Fatalf("State() = %s; want failed", c.State())
	}
	if !types.HasCode(c.Err(), types.CodeCompile) {
		t.Fatalf("Err() = %v; want COMPILE_ERROR", c.Err())
	}
}

func TestExportStyles(t *testing.T) {
	sources := map[string]string{
		"module.exports": "module.exports = async function (env) { await env.plot.line('a', []); };",
		"export default": "export default async (env) => { await env.plot.line('a', []); }",
		"exports.default": "exports.default = (env) => env.plot.line('a', []);",
	}
	for name, src := range sources {
		t.Run(name, func(t *testing.T) {
			h := newFakeHandler()
			done, _ := drive(t, start(t, src, 1000), h)
			if done.Error != "" || done.TimedOut {
				t.Fatalf("done = %+v; want success", done)
			}
			if got := h.calls(); len(got) != 1 || got[0] != MethodPlotLine {
				t.Fatalf("calls = %v; want [plot:line]", got)
			}
		})
	}
}

func TestSyntaxError(t *testing.T) {
	done, _ := drive(t, start(t, "export default (env) => {", 1000), newFakeHandler())
	if !strings.HasPrefix(done.Error, "syntax error") {
		t.Fatalf("done.Error = %q; want syntax error", done.Error)
	}
}

func TestSMAScriptEndToEnd(t *testing.T) {
	src := `
export default async function (env) {
  const bars = await env.getBars();
  const closes = bars.map(b => b.close);
  const sma = env.utils.sma(closes, 2);
  await env.plot.line("sma", sma.map((v, i) => ({ time: bars[i + 1].time, value: v })), { color: "#f00" });
}`
	h := newFakeHandler()
	done, _ := drive(t, start(t, src, 1000), h)
	if done.Error != "" {
		t.Fatalf("done.Error = %q; want none", done.Error)
	}

	got := h.lines["sma"]
	if len(got) != 2 {
		t.Fatalf("len(sma) = %d; want 2", len(got))
	}
	want := []struct {
		t int64
		v float64
	}{{1, 1.5}, {2, 2.5}}
	for i, w := range want {
		if got[i].Time != w.t || got[i].Value == nil || *got[i].Value != w.v {
			t.Fatalf("sma[%d] = %+v; want {%d %v}", i, got[i], w.t, w.v)
		}
	}
	if calls := h.calls(); calls[0] != "getBars:AAPL:1m" {
		t.Fatalf("first call = %q; want getBars with run defaults", calls[0])
	}
}

func TestGetBarsOverrides(t *testing.T) {
	h := newFakeHandler()
	done, _ := drive(t, start(t, `export default async (env) => { await env.getBars("MSFT", "1h"); }`, 1000), h)
	if done.Error != "" {
		t.Fatalf("done.Error = %q", done.Error)
	}
	if calls := h.calls(); calls[0] != "getBars:MSFT:1h" {
		t.Fatalf("call = %q; want getBars:MSFT:1h", calls[0])
	}
}

func TestRuntimeErrors(t *testing.T) {
	cases := map[string]struct {
		src  string
		want string
	}{
		"throw":         {`export default () => { throw new Error("boom"); }`, "boom"},
		"async throw":   {`export default async () => { throw new Error("later"); }`, "later"},
		"missing csv":   {`export default async (env) => { await env.attachments.csv("nope.csv"); }`, "CSV not found: nope.csv"},
		"unknown shape": {`export default async (env) => { await env.plot.labels("l", [{time: 1, price: 2, shape: "star"}]); }`, `plot:labels: label 0 has unknown shape "star"`},
		"missing id":    {`export default async (env) => { await env.plot.line(undefined, []); }`, "plot:line: id is required"},
		"timer throw":   {`export default () => new Promise(() => setTimeout(() => { throw new Error("tick"); }, 1))`, "tick"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := start(t, tc.src, 2000)
			done, _ := drive(t, c, newFakeHandler())
			if done.Error != tc.want {
				t.Fatalf("done.Error = %q; want %q", done.Error, tc.want)
			}
			waitExit(t, c)
			if c.State() != StateFailed {
				t.Fatalf("State() = %s; want failed", c.State())
			}
		})
	}
}

func TestHandledCapabilityError(t *testing.T) {
	src := `
export default async (env) => {
  try { await env.attachments.csv("nope.csv"); } catch (e) { console.warn("missing:", e.message); }
  const t = await env.attachments.csv("levels.csv");
  await env.plot.labels("lv", t.rows.map(r => ({ time: 1, price: Number(r.price) })));
}`
	h := newFakeHandler()
	done, logs := drive(t, start(t, src, 1000), h)
	if done.Error != "" {
		t.Fatalf("done.Error = %q; want none", done.Error)
	}
	if len(logs) != 1 || logs[0].Level != "warn" || logs[0].Line != "missing: CSV not found: nope.csv" {
		t.Fatalf("logs = %+v", logs)
	}
	l := h.labels["lv"]
	if len(l) != 1 || l[0].Price != 1.5 || l[0].Color != types.DefaultLabelColor || l[0].Background != types.DefaultLabelBackground {
		t.Fatalf("labels = %+v; want one defaulted label at 1.5", l)
	}
}

func TestLateHandledRejection(t *testing.T) {
	src := `
export default async (env) => {
  const p = env.attachments.csv("missing.csv");
  await new Promise(r => setTimeout(r, 50));
  try { await p; } catch (e) { console.warn("late:", e.message); }
  await env.plot.line("after", []);
}`
	h := newFakeHandler()
	c := start(t, src, 2000)
	done, logs := drive(t, c, h)
	if done.Error != "" || done.TimedOut {
		t.Fatalf("done = %+v; want success", done)
	}
	if len(logs) != 1 || logs[0].Line != "late: CSV not found: missing.csv" {
		t.Fatalf("logs = %+v; want the script's own warning", logs)
	}
	if _, ok := h.lines["after"]; !ok {
		t.Fatalf("lines = %v; want after", h.lines)
	}
	waitExit(t, c)
	if c.State() != StateCompleted {
		t.Fatalf("State() = %s; want completed", c.State())
	}
}

func TestFloatingRejectionIsLogged(t *testing.T) {
	src := `
export default async (env) => {
  env.attachments.csv("nope.csv");
  await new Promise(r => setTimeout(r, 20));
}`
	c := start(t, src, 2000)
	done, logs := drive(t, c, newFakeHandler())
	if done.Error != "" {
		t.Fatalf("done.Error = %q; want none", done.Error)
	}
	if len(logs) != 1 || logs[0].Level != "warn" || logs[0].Line != "unhandled rejection: CSV not found: nope.csv" {
		t.Fatalf("logs = %+v", logs)
	}
	waitExit(t, c)
	if c.State() != StateCompleted {
		t.Fatalf("State() = %s; want completed", c.State())
	}
}

func TestTimeoutNeverSettles(t *testing.T) {
	for name, src := range map[string]string{
		"pending promise": `export default () => new Promise(() => {})`,
		"busy loop":       `export default () => { for (;;) {} }`,
	} {
		t.Run(name, func(t *testing.T) {
			began := time.Now()
			c := start(t, src, 50)
			done, _ := drive(t, c, newFakeHandler())
			if !done.TimedOut {
				t.Fatalf("done = %+v; want timedOut", done)
			}
			if elapsed := time.Since(began); elapsed > 200*time.Millisecond {
				t.Fatalf("timeout reported after %s; want <= 200ms", elapsed)
			}
			if c.State() != StateTimedOut {
				t.Fatalf("State() = %s; want timed_out", c.State())
			}
			if !types.HasCode(c.Err(), types.CodeTimeout) {
				t.Fatalf("Err() = %v; want TIMEOUT", c.Err())
			}

			c.Terminate()
			waitExit(t, c)
			if c.State() != StateTerminated {
				t.Fatalf("State() = %s; want terminated", c.State())
			}
		})
	}
}

func TestTerminateRejectsPending(t *testing.T) {
	c := start(t, `export default async (env) => { await env.getBars(); await env.plot.line("x", []); }`, 5000)

	var req RPCRequest
	select {
	case m := <-c.Outbox():
		req = m.(RPCRequest)
	case <-time.After(2 * time.Second):
		t.Fatal("no rpc request")
	}
	if req.Method != MethodGetBars || !req.RPC || req.ID == "" {
		t.Fatalf("request = %+v; want getBars rpc", req)
	}
	if c.Pending() != 1 {
		t.Fatalf("Pending() = %d; want 1", c.Pending())
	}

	c.Terminate()
	waitExit(t, c)

	if c.Pending() != 0 {
		t.Fatalf("Pending() after terminate = %d; want 0", c.Pending())
	}
	if c.Post(Reply(req.ID, []types.Bar{})) {
		t.Fatalf("Post() after terminate = true; want false")
	}
	select {
	case m := <-c.Outbox():
		t.Fatalf("message after terminate: %#v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnknownReplyIgnored(t *testing.T) {
	c := start(t, `export default async (env) => { const b = await env.getBars(); if (b.length !== 0) throw new Error("len"); }`, 2000)
	m := <-c.Outbox()
	req := m.(RPCRequest)

	if !c.Post(RPCReply{RPC: true, ID: "stale", Error: "stale"}) {
		t.Fatal("Post(stale) = false; want accepted and ignored")
	}
	c.Post(Reply(req.ID, []types.Bar{}))

	done, _ := drive(t, c, newFakeHandler())
	if done.Error != "" {
		t.Fatalf("done.Error = %q; want none", done.Error)
	}
}

func TestEnvironmentIsReadOnlyAndIsolated(t *testing.T) {
	src := `
export default (env) => {
  if (env.symbol !== "AAPL" || env.timeframe !== "1m") throw new Error("env context");
  let writable = true;
  try { env.symbol = "X"; } catch (e) { writable = false; }
  if (writable) throw new Error("symbol writable");
  try { env.plot.line = null; } catch (e) { writable = true; }
  if (!writable) throw new Error("plot writable");
  if (typeof require !== "undefined" || typeof process !== "undefined" || typeof fetch !== "undefined") throw new Error("ambient");
  console.log("ok", { n: 1 });
}`
	done, logs := drive(t, start(t, src, 1000), newFakeHandler())
	if done.Error != "" {
		t.Fatalf("done.Error = %q; want none", done.Error)
	}
	if len(logs) != 1 || logs[0].Line != `ok {"n":1}` {
		t.Fatalf("logs = %+v", logs)
	}
}

func TestUtilsOverNumericArrays(t *testing.T) {
	src := `
export default (env) => {
  const s = env.utils.sma([1, 2, 3, 4], 2);
  const e = env.utils.ema([10, 11, 12, 13], 3);
  const r = env.utils.rsi([1, 2, 3, 4, 5], 2);
  const b = env.utils.bollinger([1, 3], 2, 2);
  if (!Array.isArray(s) || s.join(",") !== "1.5,2.5,3.5") throw new Error("sma " + s);
  if (e.join(",") !== "11.25,12.125") throw new Error("ema " + e);
  if (r.some(v => v !== 100)) throw new Error("rsi " + r);
  if (b.upper[0] !== 4 || b.lower[0] !== 0) throw new Error("bb");
}`
	done, _ := drive(t, start(t, src, 1000), newFakeHandler())
	if done.Error != "" {
		t.Fatalf("done.Error = %q; want none", done.Error)
	}
}

func TestSetTimeout(t *testing.T) {
	src := `export default (env) => new Promise(resolve => { const id = setTimeout(() => { throw new Error("cleared"); }, 5); clearTimeout(id); setTimeout(resolve, 10); })`
	done, _ := drive(t, start(t, src, 1000), newFakeHandler())
	if done.Error != "" || done.TimedOut {
		t.Fatalf("done = %+v; want success", done)
	}
}

func TestTerminateBeforeStart(t *testing.T) {
	c := New(NewRunInstruction(types.RunSpec{SourceCode: "module.exports = () => 1"}))
	c.Terminate()
	waitExit(t, c)
	if err := c.Start(); err == nil {
		t.Fatal("Start() after Terminate = nil; want error")
	}
	if c.State() != StateTerminated {
		t.Fatalf("State() = %s; want terminated", c.State())
	}
}

func TestCompilerCache(t *testing.T) {
	comp := NewCompiler(2)
	for _, src := range []string{"module.exports = 1", "module.exports = 1", "module.exports = 2"} {
		if _, err := comp.Compile(src); err != nil {
			t.Fatalf("Compile(%q) = %v", src, err)
		}
	}
	if comp.Len() != 2 {
		t.Fatalf("Len() = %d; want 2", comp.Len())
	}
	if _, err := comp.Compile("module.exports = 3"); err != nil {
		t.Fatal(err)
	}
	if comp.Len() != 2 {
		t.Fatalf("Len() after eviction = %d; want 2", comp.Len())
	}

	if _, err := comp.Compile("module.exports = 2"); err != nil {
		t.Fatal(err)
	}
	if _, err := comp.Compile("module.exports = 4"); err != nil {
		t.Fatal(err)
	}
	if !comp.cache.Contains(sha256.Sum256([]byte("module.exports = 2"))) {
		t.Fatal("recently used program was evicted")
	}
	if comp.cache.Contains(sha256.Sum256([]byte("module.exports = 3"))) {
		t.Fatal("least recently used program was kept")
	}
	if n := NewCompiler(0); n.Len() != 0 {
		t.Fatalf("NewCompiler(0).Len() = %d; want 0", n.Len())
	}

	_, err := comp.Compile("module.exports = (")
	if !types.HasCode(err, types.CodeCompile) {
		t.Fatalf("Compile(bad) = %v; want COMPILE_ERROR", err)
	}
}

func TestWrapRewritesExportDefault(t *testing.T) {
	got := wrap("  export default function main(env) {}\nconst s = 'export default';")
	if !strings.Contains(got, "  module.exports.default = function main(env) {}") {
		t.Fatalf("wrap() did not rewrite export default:\n%s", got)
	}
	if !strings.Contains(got, "const s = 'export default';") {
		t.Fatalf("wrap() rewrote a non-leading occurrence:\n%s", got)
	}
}

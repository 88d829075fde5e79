package sandbox

import (
	"encoding/json"
	"testing"

	"github.com/dgnsrekt/tv_sandbox/internal/types"
)

func TestDecodeCall(t *testing.T) {
	tests := []struct {
		name   string
		method string
		params string
		want   string
	}{
		{"bars", MethodGetBars, `{"symbol":"A","timeframe":"1m"}`, MethodGetBars},
		{"line", MethodPlotLine, `{"id":"x","series":[{"time":1,"value":null}]}`, MethodPlotLine},
		{"histogram", MethodPlotHistogram, `{"id":"x","series":[]}`, MethodPlotHistogram},
		{"bands", MethodPlotBands, `{"id":"x","series":[{"time":1,"upper":2,"basis":1,"lower":0}]}`, MethodPlotBands},
		{"boxes", MethodPlotBoxes, `{"id":"x","boxes":[{"from":1,"to":2,"top":3,"bottom":1}]}`, MethodPlotBoxes},
		{"labels", MethodPlotLabels, `{"id":"x","labels":[{"time":1,"price":2,"bg":"#000","shape":"up"}]}`, MethodPlotLabels},
		{"list", MethodAttachmentsList, `{}`, MethodAttachmentsList},
		{"csv", MethodAttachmentsCSV, `{"name":"a.csv"}`, MethodAttachmentsCSV},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, err := DecodeCall(RPCRequest{RPC: true, ID: "1", Method: tt.method, Params: json.RawMessage(tt.params)})
			if err != nil {
				t.Fatalf("DecodeCall() = %v; want nil", err)
			}
			if call.Method() != tt.want {
				t.Fatalf("Method() = %q; want %q", call.Method(), tt.want)
			}
		})
	}
}

func TestDecodeCallLabelDefaults(t *testing.T) {
	call, err := DecodeCall(RPCRequest{Method: MethodPlotLabels, Params: json.RawMessage(`{"id":"x","labels":[{"time":1,"price":2,"bg":"#000"}]}`)})
	if err != nil {
		t.Fatal(err)
	}
	l := call.(PlotLabels).Labels[0]
	if l.Background != "#000" || l.Color != types.DefaultLabelColor || l.Text != "" {
		t.Fatalf("label = %+v", l)
	}
}

func TestDecodeCallBandGaps(t *testing.T) {
	call, err := DecodeCall(RPCRequest{Method: MethodPlotBands, Params: json.RawMessage(`{"id":"bb","series":[{"time":1,"upper":null,"basis":null,"lower":null},{"time":2,"upper":3,"basis":2,"lower":1}]}`)})
	if err != nil {
		t.Fatal(err)
	}
	pts := call.(PlotBands).Points
	if len(pts) != 2 {
		t.Fatalf("points = %d; want 2", len(pts))
	}
	if pts[0].Upper != nil || pts[0].Basis != nil || pts[0].Lower != nil {
		t.Fatalf("warm-up point = %+v; want nil fields", pts[0])
	}
	if pts[1].Upper == nil || *pts[1].Upper != 3 || *pts[1].Lower != 1 {
		t.Fatalf("point = %+v; want upper 3 lower 1", pts[1])
	}
}

func TestDecodeCallErrors(t *testing.T) {
	tests := []struct {
		method string
		params string
		want   string
	}{
		{"eval", `{}`, "Unknown method: eval"},
		{MethodPlotLine, `{"series":[]}`, "plot:line: id is required"},
		{MethodAttachmentsCSV, `{}`, "attachments:csv: name is required"},
		{MethodPlotBoxes, `{"id":"b","boxes":{"from":1}}`, ""},
		{MethodGetBars, `[1,2]`, ""},
	}
	for _, tt := range tests {
		_, err := DecodeCall(RPCRequest{Method: tt.method, Params: json.RawMessage(tt.params)})
		if !types.HasCode(err, types.CodeCapability) {
			t.Fatalf("DecodeCall(%s, %s) = %v; want CAPABILITY_ERROR", tt.method, tt.params, err)
		}
		if tt.want != "" && types.Message(err) != tt.want {
			t.Fatalf("DecodeCall(%s) message = %q; want %q", tt.method, types.Message(err), tt.want)
		}
	}
}

func TestReplyEnvelope(t *testing.T) {
	r := Reply("abc", []string{"a"})
	raw, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"rpc":true,"id":"abc","result":["a"]}` {
		t.Fatalf("Reply() = %s", raw)
	}

	e := ErrorReply("abc", types.AttachmentMissing("z.csv"))
	if e.Error != "CSV not found: z.csv" || e.Result != nil {
		t.Fatalf("ErrorReply() = %+v", e)
	}

	done, _ := json.Marshal(DoneMessage{Type: "done", TimedOut: true})
	if string(done) != `{"type":"done","timedOut":true}` {
		t.Fatalf("DoneMessage = %s", done)
	}
}

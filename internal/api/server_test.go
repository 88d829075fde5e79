package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/tv_sandbox/internal/artifacts"
	"github.com/dgnsrekt/tv_sandbox/internal/attachments"
	"github.com/dgnsrekt/tv_sandbox/internal/bars"
	"github.com/dgnsrekt/tv_sandbox/internal/controller"
	"github.com/dgnsrekt/tv_sandbox/internal/indicators"
	"github.com/dgnsrekt/tv_sandbox/internal/registry"
	"github.com/dgnsrekt/tv_sandbox/internal/supervisor"
	"github.com/dgnsrekt/tv_sandbox/internal/types"
)

type stubService struct {
	lastInstance string
	lastSpec     types.RunSpec
	lastBlock    bool
	uploaded     []byte
	imported     []types.Bar
	err          error
}

func (s *stubService) StartRun(ctx context.Context, instanceID string, spec types.RunSpec, block bool) (controller.RunInfo, error) {
	s.lastInstance, s.lastSpec, s.lastBlock = instanceID, spec, block
	if s.err != nil {
		return controller.RunInfo{}, s.err
	}
	return controller.RunInfo{Result: supervisor.Result{RunID: "r1", InstanceID: instanceID, State: "running"}}, nil
}
func (s *stubService) GetRun(runID string) (controller.RunInfo, error) {
	return controller.RunInfo{}, types.NotFoundError("run not found: " + runID)
}
func (s *stubService) WaitRun(ctx context.Context, runID string) (controller.RunInfo, error) {
	return controller.RunInfo{}, context.DeadlineExceeded
}
func (s *stubService) ListRuns(limit int) []controller.RunInfo         { return []controller.RunInfo{} }
func (s *stubService) StopInstance(instanceID string) error            { return nil }
func (s *stubService) TeardownInstance(instanceID string) (int, error) { return 3, nil }
func (s *stubService) ListInstances() []controller.RunInfo {
	return []controller.RunInfo{{Result: supervisor.Result{RunID: "r1", InstanceID: "main/sma", State: "running"}}}
}
func (s *stubService) ListArtifacts(instanceID string) []artifacts.Artifact {
	return []artifacts.Artifact{}
}
func (s *stubService) GetArtifact(kind, id string) (artifacts.Artifact, error) {
	return artifacts.Artifact{Kind: artifacts.Kind(kind), ID: id}, nil
}
func (s *stubService) ListIndicators() []registry.Indicator { return []registry.Indicator{} }
func (s *stubService) GetIndicator(id string) (registry.Indicator, error) {
	return registry.Indicator{ID: id}, nil
}
func (s *stubService) SaveIndicator(ind registry.Indicator) (registry.Indicator, []controller.RunInfo, error) {
	return ind, nil, nil
}
func (s *stubService) DeleteIndicator(id string) error     { return nil }
func (s *stubService) ListViews() []registry.View          { return []registry.View{} }
func (s *stubService) GetView(viewID string) registry.View { return registry.View{ID: viewID} }
func (s *stubService) SetViewContext(viewID, symbol, timeframe string) (registry.View, []controller.RunInfo, error) {
	return registry.View{ID: viewID, Symbol: symbol, Timeframe: timeframe}, nil, nil
}
func (s *stubService) SelectIndicator(viewID, indicatorID string) (*controller.RunInfo, error) {
	return nil, nil
}
func (s *stubService) DeselectIndicator(viewID, indicatorID string) (int, error) { return 0, nil }
func (s *stubService) RunIndicator(ctx context.Context, viewID, indicatorID string, block bool) (controller.RunInfo, error) {
	return controller.RunInfo{}, nil
}
func (s *stubService) RunEditor(ctx context.Context, req controller.EditorRequest) (controller.RunInfo, error) {
	return controller.RunInfo{}, nil
}
func (s *stubService) SaveEditor(viewID, name, code string) (registry.Indicator, *controller.RunInfo, error) {
	return registry.Indicator{}, nil, nil
}
func (s *stubService) ClearEditor(viewID string) (int, error) { return 0, nil }
func (s *stubService) ListAttachments() ([]attachments.Manifest, error) {
	return []attachments.Manifest{}, nil
}
func (s *stubService) UploadAttachment(name string, data []byte) (attachments.Manifest, error) {
	s.uploaded = data
	return attachments.Manifest{Name: name, Size: len(data)}, nil
}
func (s *stubService) GetAttachment(name string) (attachments.Manifest, types.Table, error) {
	return attachments.Manifest{}, types.Table{}, types.AttachmentMissing(name)
}
func (s *stubService) DeleteAttachment(name string) error { return nil }
func (s *stubService) GetBars(ctx context.Context, symbol, timeframe string) ([]types.Bar, error) {
	return []types.Bar{}, nil
}
func (s *stubService) ImportBars(ctx context.Context, symbol, timeframe string, bs []types.Bar) (int, error) {
	s.imported = bs
	return len(bs), nil
}
func (s *stubService) ListSeries(ctx context.Context) ([]bars.Series, error) {
	return []bars.Series{}, nil
}
func (s *stubService) Builtins() []indicators.Builtin { return indicators.Builtins() }
func (s *stubService) ComputeBuiltin(ctx context.Context, id, symbol, timeframe string, params map[string]float64) (indicators.Output, error) {
	return indicators.Output{}, nil
}

func do(t *testing.T, h http.Handler, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestDocsDarkMode(t *testing.T) {
	h := NewServer(&stubService{}, Mounts{})
	w := do(t, h, http.MethodGet, "/docs", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `data-theme="dark"`) {
		t.Fatalf("docs missing dark theme marker")
	}
}

func TestHealth(t *testing.T) {
	w := do(t, NewServer(&stubService{}, Mounts{}), http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("health = %d %s", w.Code, w.Body.String())
	}
}

func TestStartRun_PassesSpec(t *testing.T) {
	svc := &stubService{}
	h := NewServer(svc, Mounts{})
	body := `{"instance_id":"main/editor","symbol":"BTCUSD","timeframe":"1h","source_code":"module.exports = () => {}","timeout_ms":500,"wait":true}`
	w := do(t, h, http.MethodPost, "/api/v1/runs", "application/json", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if svc.lastInstance != "main/editor" || svc.lastSpec.Symbol != "BTCUSD" || svc.lastSpec.TimeoutMS != 500 || !svc.lastBlock {
		t.Fatalf("StartRun got %q %+v block=%v", svc.lastInstance, svc.lastSpec, svc.lastBlock)
	}
	var got controller.RunInfo
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RunID != "r1" || got.State != "running" {
		t.Fatalf("response = %+v", got)
	}
}

func TestStartRun_MapsErrors(t *testing.T) {
	svc := &stubService{err: types.ValidationError("instance id must not contain ::")}
	h := NewServer(svc, Mounts{})
	body := `{"instance_id":"a::b","symbol":"X","timeframe":"1m","source_code":"x"}`
	w := do(t, h, http.MethodPost, "/api/v1/runs", "application/json", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "must not contain ::") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestErrorStatuses(t *testing.T) {
	h := NewServer(&stubService{}, Mounts{})
	tests := []struct {
		name string
		path string
		want int
	}{
		{"run not found", "/api/v1/runs/nope", http.StatusNotFound},
		{"wait deadline", "/api/v1/runs/nope?wait=true", http.StatusGatewayTimeout},
		{"attachment missing", "/api/v1/attachments/levels.csv", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, h, http.MethodGet, tt.path, "", ""); w.Code != tt.want {
				t.Fatalf("GET %s = %d, want %d", tt.path, w.Code, tt.want)
			}
		})
	}
}

func TestMapErr(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{types.CompileError("no callable export"), http.StatusBadRequest},
		{types.CapabilityError("plot:line: id is required"), http.StatusBadRequest},
		{types.AttachmentMissing("x.csv"), http.StatusNotFound},
		{types.NewError(types.CodeTimeout, "timed out", nil), http.StatusGatewayTimeout},
		{types.RuntimeError("boom"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		var se huma.StatusError
		if !errors.As(mapErr(tt.err), &se) {
			t.Fatalf("mapErr(%v) is not a status error", tt.err)
		}
		if se.GetStatus() != tt.want {
			t.Fatalf("mapErr(%v) status = %d, want %d", tt.err, se.GetStatus(), tt.want)
		}
	}
	if mapErr(nil) != nil {
		t.Fatalf("mapErr(nil) != nil")
	}
}

func TestUploadAttachment_RawCSV(t *testing.T) {
	svc := &stubService{}
	h := NewServer(svc, Mounts{})
	w := do(t, h, http.MethodPut, "/api/v1/attachments/levels.csv", "text/csv", "price\n101\n")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if string(svc.uploaded) != "price\n101\n" {
		t.Fatalf("uploaded = %q", svc.uploaded)
	}
}

func TestImportBars_ParsesCSV(t *testing.T) {
	svc := &stubService{}
	h := NewServer(svc, Mounts{})
	csv := "timestamp,open,high,low,close,volume\n1700000000,1,2,0.5,1.5,10\nbad,1,1,1,1,1\n"
	w := do(t, h, http.MethodPost, "/api/v1/bars/BTCUSD/1h", "text/csv", csv)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(svc.imported) != 1 || svc.imported[0].Close != 1.5 {
		t.Fatalf("imported = %+v", svc.imported)
	}
	if !strings.Contains(w.Body.String(), `"skipped":1`) {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestMounts(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("tv_sandbox_runs_started_total 0\n"))
	})
	h := NewServer(&stubService{}, Mounts{Metrics: metrics})
	w := do(t, h, http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "runs_started_total") {
		t.Fatalf("metrics = %d %s", w.Code, w.Body.String())
	}
	if w := do(t, h, http.MethodGet, "/api/v1/stream", "", ""); w.Code != http.StatusNotFound {
		t.Fatalf("stream without broker = %d, want 404", w.Code)
	}
}

func TestRequestLogger_TagsRoute(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	h := NewServer(&stubService{}, Mounts{})
	do(t, h, http.MethodGet, "/api/v1/runs/r9", "", "")
	do(t, h, http.MethodGet, "/api/v1/artifacts?instance_id=main/sma", "", "")
	do(t, h, http.MethodGet, "/health", "", "")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entries []map[string]any
	for _, l := range lines {
		var e map[string]any
		if err := json.Unmarshal([]byte(l), &e); err != nil {
			t.Fatalf("log line %q: %v", l, err)
		}
		if e["msg"] == "http request" {
			entries = append(entries, e)
		}
	}
	if len(entries) != 3 {
		t.Fatalf("request log entries = %d, want 3: %s", len(entries), buf.String())
	}
	if entries[0]["run_id"] != "r9" || entries[0]["route"] != "/api/v1/runs/{run_id}" {
		t.Fatalf("run entry = %v", entries[0])
	}
	if entries[1]["instance_id"] != "main/sma" {
		t.Fatalf("artifacts entry = %v", entries[1])
	}
	if entries[2]["level"] != "DEBUG" {
		t.Fatalf("health entry level = %v, want DEBUG", entries[2]["level"])
	}
}

func TestListInstances(t *testing.T) {
	w := do(t, NewServer(&stubService{}, Mounts{}), http.MethodGet, "/api/v1/instances", "", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"instance_id":"main/sma"`) {
		t.Fatalf("instances = %d %s", w.Code, w.Body.String())
	}
}

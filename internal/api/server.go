package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/tv_sandbox/internal/artifacts"
	"github.com/dgnsrekt/tv_sandbox/internal/attachments"
	"github.com/dgnsrekt/tv_sandbox/internal/bars"
	"github.com/dgnsrekt/tv_sandbox/internal/controller"
	"github.com/dgnsrekt/tv_sandbox/internal/indicators"
	"github.com/dgnsrekt/tv_sandbox/internal/registry"
	"github.com/dgnsrekt/tv_sandbox/internal/relay"
	"github.com/dgnsrekt/tv_sandbox/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Service interface {
	StartRun(ctx context.Context, instanceID string, spec types.RunSpec, block bool) (controller.RunInfo, error)
	GetRun(runID string) (controller.RunInfo, error)
	WaitRun(ctx context.Context, runID string) (controller.RunInfo, error)
	ListRuns(limit int) []controller.RunInfo
	ListInstances() []controller.RunInfo
	StopInstance(instanceID string) error
	TeardownInstance(instanceID string) (int, error)
	ListArtifacts(instanceID string) []artifacts.Artifact
	GetArtifact(kind, id string) (artifacts.Artifact, error)
	ListIndicators() []registry.Indicator
	GetIndicator(id string) (registry.Indicator, error)
	SaveIndicator(ind registry.Indicator) (registry.Indicator, []controller.RunInfo, error)
	DeleteIndicator(id string) error
	ListViews() []registry.View
	GetView(viewID string) registry.View
	SetViewContext(viewID, symbol, timeframe string) (registry.View, []controller.RunInfo, error)
	SelectIndicator(viewID, indicatorID string) (*controller.RunInfo, error)
	DeselectIndicator(viewID, indicatorID string) (int, error)
	RunIndicator(ctx context.Context, viewID, indicatorID string, block bool) (controller.RunInfo, error)
	RunEditor(ctx context.Context, req controller.EditorRequest) (controller.RunInfo, error)
	SaveEditor(viewID, name, code string) (registry.Indicator, *controller.RunInfo, error)
	ClearEditor(viewID string) (int, error)
	ListAttachments() ([]attachments.Manifest, error)
	UploadAttachment(name string, data []byte) (attachments.Manifest, error)
	GetAttachment(name string) (attachments.Manifest, types.Table, error)
	DeleteAttachment(name string) error
	GetBars(ctx context.Context, symbol, timeframe string) ([]types.Bar, error)
	ImportBars(ctx context.Context, symbol, timeframe string, bs []types.Bar) (int, error)
	ListSeries(ctx context.Context) ([]bars.Series, error)
	Builtins() []indicators.Builtin
	ComputeBuiltin(ctx context.Context, id, symbol, timeframe string, params map[string]float64) (indicators.Output, error)
}

// Mounts are optional plain HTTP handlers served next to the API.
type Mounts struct {
	Metrics http.Handler
	Broker  *relay.Broker
}

type viewIDInput struct {
	ViewID string `path:"view_id"`
}

type instanceInput struct {
	Body struct {
		InstanceID string `json:"instance_id" required:"true" doc:"Run slot, e.g. main/sma-20 or main/editor"`
	}
}

type runOutput struct {
	Body controller.RunInfo
}

type runsOutput struct {
	Body struct {
		Runs []controller.RunInfo `json:"runs"`
	}
}

type clearedOutput struct {
	Body struct {
		Cleared int `json:"cleared"`
	}
}

func NewServer(svc Service, mounts Mounts) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Indicator Sandbox API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	if mounts.Metrics != nil {
		router.Handle("/metrics", mounts.Metrics)
	}
	if mounts.Broker != nil {
		router.Get("/api/v1/stream", relay.SSEHandler(mounts.Broker))
		router.Get("/api/v1/stream/ws", relay.WSHandler(mounts.Broker))
	}

	registerHealthHandlers(api)
	registerRunHandlers(api, svc)
	registerIndicatorHandlers(api, svc)
	registerViewHandlers(api, svc)
	registerDataHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return huma.Error504GatewayTimeout("wait timed out")
	}
	var coded *types.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case types.CodeValidation, types.CodeCompile, types.CodeCapability:
			return huma.Error400BadRequest(coded.Message)
		case types.CodeNotFound, types.CodeAttachmentMissing:
			return huma.Error404NotFound(coded.Message)
		case types.CodeTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}

func registerHealthHandlers(api huma.API) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})
}

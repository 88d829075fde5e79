package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/tv_sandbox/internal/artifacts"
	"github.com/dgnsrekt/tv_sandbox/internal/controller"
	"github.com/dgnsrekt/tv_sandbox/internal/types"
)

func registerRunHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{OperationID: "start-run", Method: http.MethodPost, Path: "/api/v1/runs", Summary: "Run a script in an instance slot", Description: "Supersedes the slot's current run. Artifacts are committed only when the run completes.", Tags: []string{"Runs"}},
		func(ctx context.Context, input *struct {
			Body struct {
				InstanceID string `json:"instance_id" required:"true" doc:"Run slot; must not contain ::"`
				Symbol     string `json:"symbol" required:"true" example:"BTCUSD"`
				Timeframe  string `json:"timeframe" required:"true" example:"1h"`
				SourceCode string `json:"source_code" required:"true" doc:"Script exporting a function via module.exports or export default"`
				TimeoutMS  int    `json:"timeout_ms,omitempty" doc:"Run budget in ms; clamped by the server"`
				Wait       bool   `json:"wait,omitempty" doc:"Block until the run settles"`
			}
		}) (*runOutput, error) {
			info, err := svc.StartRun(ctx, input.Body.InstanceID, types.RunSpec{
				Symbol:     input.Body.Symbol,
				Timeframe:  input.Body.Timeframe,
				SourceCode: input.Body.SourceCode,
				TimeoutMS:  input.Body.TimeoutMS,
			}, input.Body.Wait)
			if err != nil {
				return nil, mapErr(err)
			}
			return &runOutput{Body: info}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "list-runs", Method: http.MethodGet, Path: "/api/v1/runs", Summary: "List recent runs, newest first", Tags: []string{"Runs"}},
		func(ctx context.Context, input *struct {
			Limit int `query:"limit" default:"20" minimum:"1" maximum:"500"`
		}) (*runsOutput, error) {
			out := &runsOutput{}
			out.Body.Runs = svc.ListRuns(input.Limit)
			return out, nil
		})

	type runIDInput struct {
		RunID string `path:"run_id"`
		Wait  bool   `query:"wait" doc:"Block until the run settles"`
	}
	huma.Register(api, huma.Operation{OperationID: "get-run", Method: http.MethodGet, Path: "/api/v1/runs/{run_id}", Summary: "Get a run", Tags: []string{"Runs"}},
		func(ctx context.Context, input *runIDInput) (*runOutput, error) {
			var (
				info controller.RunInfo
				err  error
			)
			if input.Wait {
				info, err = svc.WaitRun(ctx, input.RunID)
			} else {
				info, err = svc.GetRun(input.RunID)
			}
			if err != nil {
				return nil, mapErr(err)
			}
			return &runOutput{Body: info}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "list-instances", Method: http.MethodGet, Path: "/api/v1/instances", Summary: "List the current run of every live instance", Tags: []string{"Runs"}},
		func(ctx context.Context, input *struct{}) (*runsOutput, error) {
			out := &runsOutput{}
			out.Body.Runs = svc.ListInstances()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "stop-instance", Method: http.MethodPost, Path: "/api/v1/instances/stop", Summary: "Terminate an instance's current run and keep its artifacts", Tags: []string{"Runs"}},
		func(ctx context.Context, input *instanceInput) (*struct{}, error) {
			if err := svc.StopInstance(input.Body.InstanceID); err != nil {
				return nil, mapErr(err)
			}
			return &struct{}{}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "teardown-instance", Method: http.MethodPost, Path: "/api/v1/instances/teardown", Summary: "Terminate an instance and clear its artifacts", Tags: []string{"Runs"}},
		func(ctx context.Context, input *instanceInput) (*clearedOutput, error) {
			n, err := svc.TeardownInstance(input.Body.InstanceID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &clearedOutput{}
			out.Body.Cleared = n
			return out, nil
		})

	type artifactsOutput struct {
		Body struct {
			Artifacts []artifacts.Artifact `json:"artifacts"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-artifacts", Method: http.MethodGet, Path: "/api/v1/artifacts", Summary: "List committed artifacts", Tags: []string{"Artifacts"}},
		func(ctx context.Context, input *struct {
			InstanceID string `query:"instance_id" doc:"Only artifacts of this instance"`
		}) (*artifactsOutput, error) {
			out := &artifactsOutput{}
			out.Body.Artifacts = svc.ListArtifacts(input.InstanceID)
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-artifact", Method: http.MethodGet, Path: "/api/v1/artifacts/{kind}", Summary: "Get one artifact by kind and qualified id", Tags: []string{"Artifacts"}},
		func(ctx context.Context, input *struct {
			Kind string `path:"kind" enum:"line,bands,histogram,boxes,labels"`
			ID   string `query:"id" required:"true" doc:"Qualified id, instance::id"`
		}) (*struct{ Body artifacts.Artifact }, error) {
			a, err := svc.GetArtifact(input.Kind, input.ID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &struct{ Body artifacts.Artifact }{Body: a}, nil
		})
}

package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/tv_sandbox/internal/controller"
	"github.com/dgnsrekt/tv_sandbox/internal/registry"
)

type indicatorIDInput struct {
	IndicatorID string `path:"indicator_id"`
}

type indicatorOutput struct {
	Body registry.Indicator
}

type savedIndicatorOutput struct {
	Body struct {
		Indicator registry.Indicator   `json:"indicator"`
		Runs      []controller.RunInfo `json:"runs"`
	}
}

type indicatorBody struct {
	Name        string                        `json:"name,omitempty"`
	Code        string                        `json:"code" required:"true"`
	Visibility  registry.Visibility           `json:"visibility,omitempty" enum:"private,public"`
	Description string                        `json:"description,omitempty"`
	ParamSchema map[string]registry.ParamSpec `json:"param_schema,omitempty"`
}

func (b indicatorBody) indicator(id string) registry.Indicator {
	return registry.Indicator{
		ID:          id,
		Name:        b.Name,
		Code:        b.Code,
		Visibility:  b.Visibility,
		Description: b.Description,
		ParamSchema: b.ParamSchema,
	}
}

func registerIndicatorHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{OperationID: "list-indicators", Method: http.MethodGet, Path: "/api/v1/indicators", Summary: "List saved indicators", Tags: []string{"Indicators"}},
		func(ctx context.Context, input *struct{}) (*struct {
			Body struct {
				Indicators []registry.Indicator `json:"indicators"`
			}
		}, error) {
			out := &struct {
				Body struct {
					Indicators []registry.Indicator `json:"indicators"`
				}
			}{}
			out.Body.Indicators = svc.ListIndicators()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "create-indicator", Method: http.MethodPost, Path: "/api/v1/indicators", Summary: "Create an indicator", Tags: []string{"Indicators"}},
		func(ctx context.Context, input *struct{ Body indicatorBody }) (*savedIndicatorOutput, error) {
			ind, runs, err := svc.SaveIndicator(input.Body.indicator(""))
			if err != nil {
				return nil, mapErr(err)
			}
			out := &savedIndicatorOutput{}
			out.Body.Indicator = ind
			out.Body.Runs = runs
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-indicator", Method: http.MethodGet, Path: "/api/v1/indicators/{indicator_id}", Summary: "Get an indicator", Tags: []string{"Indicators"}},
		func(ctx context.Context, input *indicatorIDInput) (*indicatorOutput, error) {
			ind, err := svc.GetIndicator(input.IndicatorID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &indicatorOutput{Body: ind}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "update-indicator", Method: http.MethodPut, Path: "/api/v1/indicators/{indicator_id}", Summary: "Update an indicator", Description: "Bumps the version and reruns the indicator in every view that selects it.", Tags: []string{"Indicators"}},
		func(ctx context.Context, input *struct {
			IndicatorID string `path:"indicator_id"`
			Body        indicatorBody
		}) (*savedIndicatorOutput, error) {
			if _, err := svc.GetIndicator(input.IndicatorID); err != nil {
				return nil, mapErr(err)
			}
			ind, runs, err := svc.SaveIndicator(input.Body.indicator(input.IndicatorID))
			if err != nil {
				return nil, mapErr(err)
			}
			out := &savedIndicatorOutput{}
			out.Body.Indicator = ind
			out.Body.Runs = runs
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "delete-indicator", Method: http.MethodDelete, Path: "/api/v1/indicators/{indicator_id}", Summary: "Delete an indicator and tear down its instances", Tags: []string{"Indicators"}},
		func(ctx context.Context, input *indicatorIDInput) (*struct{}, error) {
			if err := svc.DeleteIndicator(input.IndicatorID); err != nil {
				return nil, mapErr(err)
			}
			return &struct{}{}, nil
		})
}

func registerViewHandlers(api huma.API, svc Service) {
	type viewOutput struct {
		Body registry.View
	}
	type viewRunsOutput struct {
		Body struct {
			View registry.View        `json:"view"`
			Runs []controller.RunInfo `json:"runs"`
		}
	}
	type selectionInput struct {
		ViewID      string `path:"view_id"`
		IndicatorID string `path:"indicator_id"`
	}

	huma.Register(api, huma.Operation{OperationID: "list-views", Method: http.MethodGet, Path: "/api/v1/views", Summary: "List chart views", Tags: []string{"Views"}},
		func(ctx context.Context, input *struct{}) (*struct {
			Body struct {
				Views []registry.View `json:"views"`
			}
		}, error) {
			out := &struct {
				Body struct {
					Views []registry.View `json:"views"`
				}
			}{}
			out.Body.Views = svc.ListViews()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-view", Method: http.MethodGet, Path: "/api/v1/views/{view_id}", Summary: "Get a chart view", Tags: []string{"Views"}},
		func(ctx context.Context, input *viewIDInput) (*viewOutput, error) {
			return &viewOutput{Body: svc.GetView(input.ViewID)}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "set-view-context", Method: http.MethodPut, Path: "/api/v1/views/{view_id}/context", Summary: "Set a view's symbol and timeframe", Description: "Reruns every selected indicator when the context changes.", Tags: []string{"Views"}},
		func(ctx context.Context, input *struct {
			ViewID string `path:"view_id"`
			Body   struct {
				Symbol    string `json:"symbol" required:"true" example:"BTCUSD"`
				Timeframe string `json:"timeframe" required:"true" example:"1h"`
			}
		}) (*viewRunsOutput, error) {
			v, runs, err := svc.SetViewContext(input.ViewID, input.Body.Symbol, input.Body.Timeframe)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &viewRunsOutput{}
			out.Body.View = v
			out.Body.Runs = runs
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "select-indicator", Method: http.MethodPut, Path: "/api/v1/views/{view_id}/indicators/{indicator_id}", Summary: "Select an indicator in a view", Tags: []string{"Views"}},
		func(ctx context.Context, input *selectionInput) (*struct {
			Body struct {
				Run *controller.RunInfo `json:"run,omitempty"`
			}
		}, error) {
			run, err := svc.SelectIndicator(input.ViewID, input.IndicatorID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &struct {
				Body struct {
					Run *controller.RunInfo `json:"run,omitempty"`
				}
			}{}
			out.Body.Run = run
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "deselect-indicator", Method: http.MethodDelete, Path: "/api/v1/views/{view_id}/indicators/{indicator_id}", Summary: "Deselect an indicator and clear its artifacts", Tags: []string{"Views"}},
		func(ctx context.Context, input *selectionInput) (*clearedOutput, error) {
			n, err := svc.DeselectIndicator(input.ViewID, input.IndicatorID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &clearedOutput{}
			out.Body.Cleared = n
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "run-indicator", Method: http.MethodPost, Path: "/api/v1/views/{view_id}/indicators/{indicator_id}/run", Summary: "Rerun a selected indicator", Tags: []string{"Views"}},
		func(ctx context.Context, input *struct {
			ViewID      string `path:"view_id"`
			IndicatorID string `path:"indicator_id"`
			Wait        bool   `query:"wait"`
		}) (*runOutput, error) {
			info, err := svc.RunIndicator(ctx, input.ViewID, input.IndicatorID, input.Wait)
			if err != nil {
				return nil, mapErr(err)
			}
			return &runOutput{Body: info}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "run-editor", Method: http.MethodPost, Path: "/api/v1/views/{view_id}/editor/run", Summary: "Run unsaved editor code", Description: "Symbol and timeframe default to the view's context.", Tags: []string{"Editor"}},
		func(ctx context.Context, input *struct {
			ViewID string `path:"view_id"`
			Body   struct {
				Code      string `json:"code" required:"true"`
				Symbol    string `json:"symbol,omitempty"`
				Timeframe string `json:"timeframe,omitempty"`
				TimeoutMS int    `json:"timeout_ms,omitempty"`
				Wait      bool   `json:"wait,omitempty"`
			}
		}) (*runOutput, error) {
			info, err := svc.RunEditor(ctx, controller.EditorRequest{
				ViewID:    input.ViewID,
				Code:      input.Body.Code,
				Symbol:    input.Body.Symbol,
				Timeframe: input.Body.Timeframe,
				TimeoutMS: input.Body.TimeoutMS,
				Wait:      input.Body.Wait,
			})
			if err != nil {
				return nil, mapErr(err)
			}
			return &runOutput{Body: info}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "save-editor", Method: http.MethodPost, Path: "/api/v1/views/{view_id}/editor/save", Summary: "Save editor code as a new indicator", Tags: []string{"Editor"}},
		func(ctx context.Context, input *struct {
			ViewID string `path:"view_id"`
			Body   struct {
				Name string `json:"name,omitempty" doc:"Defaults to Custom HH:MM:SS"`
				Code string `json:"code" required:"true"`
			}
		}) (*struct {
			Body struct {
				Indicator registry.Indicator  `json:"indicator"`
				Run       *controller.RunInfo `json:"run,omitempty"`
			}
		}, error) {
			ind, run, err := svc.SaveEditor(input.ViewID, input.Body.Name, input.Body.Code)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &struct {
				Body struct {
					Indicator registry.Indicator  `json:"indicator"`
					Run       *controller.RunInfo `json:"run,omitempty"`
				}
			}{}
			out.Body.Indicator = ind
			out.Body.Run = run
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "clear-editor", Method: http.MethodDelete, Path: "/api/v1/views/{view_id}/editor", Summary: "Stop the editor run and clear its artifacts", Tags: []string{"Editor"}},
		func(ctx context.Context, input *viewIDInput) (*clearedOutput, error) {
			n, err := svc.ClearEditor(input.ViewID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &clearedOutput{}
			out.Body.Cleared = n
			return out, nil
		})
}

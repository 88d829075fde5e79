package api

import (
	"bytes"
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/tv_sandbox/internal/attachments"
	"github.com/dgnsrekt/tv_sandbox/internal/bars"
	"github.com/dgnsrekt/tv_sandbox/internal/indicators"
	"github.com/dgnsrekt/tv_sandbox/internal/types"
)

type attachmentNameInput struct {
	Name string `path:"name" doc:"Attachment file name, e.g. levels.csv"`
}

type seriesInput struct {
	Symbol    string `path:"symbol" example:"BTCUSD"`
	Timeframe string `path:"timeframe" example:"1h"`
}

func registerDataHandlers(api huma.API, svc Service) {
	type manifestOutput struct {
		Body attachments.Manifest
	}

	huma.Register(api, huma.Operation{OperationID: "list-attachments", Method: http.MethodGet, Path: "/api/v1/attachments", Summary: "List CSV attachments", Tags: []string{"Attachments"}},
		func(ctx context.Context, input *struct{}) (*struct {
			Body struct {
				Attachments []attachments.Manifest `json:"attachments"`
			}
		}, error) {
			list, err := svc.ListAttachments()
			if err != nil {
				return nil, mapErr(err)
			}
			out := &struct {
				Body struct {
					Attachments []attachments.Manifest `json:"attachments"`
				}
			}{}
			out.Body.Attachments = list
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "upload-attachment", Method: http.MethodPut, Path: "/api/v1/attachments/{name}", Summary: "Upload or replace a CSV attachment", Tags: []string{"Attachments"}},
		func(ctx context.Context, input *struct {
			Name    string `path:"name"`
			RawBody []byte `contentType:"text/csv"`
		}) (*manifestOutput, error) {
			m, err := svc.UploadAttachment(input.Name, input.RawBody)
			if err != nil {
				return nil, mapErr(err)
			}
			return &manifestOutput{Body: m}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-attachment", Method: http.MethodGet, Path: "/api/v1/attachments/{name}", Summary: "Get an attachment's manifest and parsed rows", Tags: []string{"Attachments"}},
		func(ctx context.Context, input *attachmentNameInput) (*struct {
			Body struct {
				Manifest attachments.Manifest `json:"manifest"`
				Table    types.Table          `json:"table"`
			}
		}, error) {
			m, t, err := svc.GetAttachment(input.Name)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &struct {
				Body struct {
					Manifest attachments.Manifest `json:"manifest"`
					Table    types.Table          `json:"table"`
				}
			}{}
			out.Body.Manifest = m
			out.Body.Table = t
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "delete-attachment", Method: http.MethodDelete, Path: "/api/v1/attachments/{name}", Summary: "Delete an attachment", Tags: []string{"Attachments"}},
		func(ctx context.Context, input *attachmentNameInput) (*struct{}, error) {
			if err := svc.DeleteAttachment(input.Name); err != nil {
				return nil, mapErr(err)
			}
			return &struct{}{}, nil
		})

	type barsOutput struct {
		Body struct {
			Symbol    string      `json:"symbol"`
			Timeframe string      `json:"timeframe"`
			Bars      []types.Bar `json:"bars"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "get-bars", Method: http.MethodGet, Path: "/api/v1/bars/{symbol}/{timeframe}", Summary: "Get the bars a script would see", Tags: []string{"Bars"}},
		func(ctx context.Context, input *seriesInput) (*barsOutput, error) {
			bs, err := svc.GetBars(ctx, input.Symbol, input.Timeframe)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &barsOutput{}
			out.Body.Symbol = input.Symbol
			out.Body.Timeframe = input.Timeframe
			out.Body.Bars = bs
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "import-bars", Method: http.MethodPost, Path: "/api/v1/bars/{symbol}/{timeframe}", Summary: "Import bars from CSV", Description: "Columns: timestamp, open, high, low, close, volume. Rows with an unparseable time are skipped.", Tags: []string{"Bars"}},
		func(ctx context.Context, input *struct {
			Symbol    string `path:"symbol"`
			Timeframe string `path:"timeframe"`
			RawBody   []byte `contentType:"text/csv"`
		}) (*struct {
			Body struct {
				Imported int `json:"imported"`
				Skipped  int `json:"skipped"`
			}
		}, error) {
			bs, skipped, err := bars.ReadCSV(bytes.NewReader(input.RawBody))
			if err != nil {
				if !types.HasCode(err, types.CodeValidation) {
					err = types.ValidationError(err.Error())
				}
				return nil, mapErr(err)
			}
			n, err := svc.ImportBars(ctx, input.Symbol, input.Timeframe, bs)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &struct {
				Body struct {
					Imported int `json:"imported"`
					Skipped  int `json:"skipped"`
				}
			}{}
			out.Body.Imported = n
			out.Body.Skipped = skipped
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "list-series", Method: http.MethodGet, Path: "/api/v1/bars", Summary: "List stored bar series", Tags: []string{"Bars"}},
		func(ctx context.Context, input *struct{}) (*struct {
			Body struct {
				Series []bars.Series `json:"series"`
			}
		}, error) {
			series, err := svc.ListSeries(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &struct {
				Body struct {
					Series []bars.Series `json:"series"`
				}
			}{}
			out.Body.Series = series
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "list-builtins", Method: http.MethodGet, Path: "/api/v1/builtins", Summary: "List host-side built-in indicators", Tags: []string{"Builtins"}},
		func(ctx context.Context, input *struct{}) (*struct {
			Body struct {
				Builtins []indicators.Builtin `json:"builtins"`
			}
		}, error) {
			out := &struct {
				Body struct {
					Builtins []indicators.Builtin `json:"builtins"`
				}
			}{}
			out.Body.Builtins = svc.Builtins()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "compute-builtin", Method: http.MethodPost, Path: "/api/v1/builtins/{builtin_id}/compute", Summary: "Compute a built-in indicator over a series", Tags: []string{"Builtins"}},
		func(ctx context.Context, input *struct {
			BuiltinID string `path:"builtin_id" example:"rsi"`
			Body      struct {
				Symbol    string             `json:"symbol" required:"true"`
				Timeframe string             `json:"timeframe" required:"true"`
				Params    map[string]float64 `json:"params,omitempty"`
			}
		}) (*struct{ Body indicators.Output }, error) {
			res, err := svc.ComputeBuiltin(ctx, input.BuiltinID, input.Body.Symbol, input.Body.Timeframe, input.Body.Params)
			if err != nil {
				return nil, mapErr(err)
			}
			return &struct{ Body indicators.Output }{Body: res}, nil
		})
}

package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dgnsrekt/tv_sandbox/internal/types"
)

// Call is the closed set of capability calls a script can make. Every variant
// routes to its own Handler method, so adding a variant without a handler
// does not compile.
type Call interface {
	Method() string
	dispatch(ctx context.Context, h Handler) (any, error)
}

// Handler executes capability calls on the host.
type Handler interface {
	GetBars(ctx context.Context, c GetBars) ([]types.Bar, error)
	PlotLine(ctx context.Context, c PlotLine) error
	PlotBands(ctx context.Context, c PlotBands) error
	PlotHistogram(ctx context.Context, c PlotHistogram) error
	PlotBoxes(ctx context.Context, c PlotBoxes) error
	PlotLabels(ctx context.Context, c PlotLabels) error
	ListAttachments(ctx context.Context, c ListAttachments) ([]string, error)
	ReadCSV(ctx context.Context, c ReadCSV) (types.Table, error)
}

type GetBars struct {
	Symbol    string
	Timeframe string
}

type PlotLine struct {
	ID      string
	Points  []types.LinePoint
	Options types.PlotOptions
}

type PlotBands struct {
	ID      string
	Points  []types.BandPoint
	Options types.PlotOptions
}

type PlotHistogram struct {
	ID      string
	Points  []types.LinePoint
	Options types.PlotOptions
}

type PlotBoxes struct {
	ID      string
	Boxes   []types.Box
	Options types.PlotOptions
}

type PlotLabels struct {
	ID      string
	Labels  []types.Label
	Options types.PlotOptions
}

type ListAttachments struct{}

type ReadCSV struct {
	Name string
}

func (GetBars) Method() string         { return MethodGetBars }
func (PlotLine) Method() string        { return MethodPlotLine }
func (PlotBands) Method() string       { return MethodPlotBands }
func (PlotHistogram) Method() string   { return MethodPlotHistogram }
func (PlotBoxes) Method() string       { return MethodPlotBoxes }
func (PlotLabels) Method() string      { return MethodPlotLabels }
func (ListAttachments) Method() string { return MethodAttachmentsList }
func (ReadCSV) Method() string         { return MethodAttachmentsCSV }

func (c GetBars) dispatch(ctx context.Context, h Handler) (any, error) { return h.GetBars(ctx, c) }
func (c PlotLine) dispatch(ctx context.Context, h Handler) (any, error) {
	return true, h.PlotLine(ctx, c)
}
func (c PlotBands) dispatch(ctx context.Context, h Handler) (any, error) {
	return true, h.PlotBands(ctx, c)
}
func (c PlotHistogram) dispatch(ctx context.Context, h Handler) (any, error) {
	return true, h.PlotHistogram(ctx, c)
}
func (c PlotBoxes) dispatch(ctx context.Context, h Handler) (any, error) {
	return true, h.PlotBoxes(ctx, c)
}
func (c PlotLabels) dispatch(ctx context.Context, h Handler) (any, error) {
	return true, h.PlotLabels(ctx, c)
}
func (c ListAttachments) dispatch(ctx context.Context, h Handler) (any, error) {
	return h.ListAttachments(ctx, c)
}
func (c ReadCSV) dispatch(ctx context.Context, h Handler) (any, error) { return h.ReadCSV(ctx, c) }

// Dispatch runs call against h and packages the outcome as a reply to req.
func Dispatch(ctx context.Context, h Handler, req RPCRequest, call Call) RPCReply {
	result, err := call.dispatch(ctx, h)
	if err != nil {
		return ErrorReply(req.ID, err)
	}
	return Reply(req.ID, result)
}

// IsPlot reports whether c writes a chart artifact.
func IsPlot(c Call) bool {
	return strings.HasPrefix(c.Method(), "plot:")
}

type plotParams struct {
	ID      string            `json:"id"`
	Series  json.RawMessage   `json:"series"`
	Boxes   json.RawMessage   `json:"boxes"`
	Labels  json.RawMessage   `json:"labels"`
	Options types.PlotOptions `json:"opts"`
}

// DecodeCall turns a wire request into its typed variant. Unknown methods and
// malformed params yield a CapabilityError.
func DecodeCall(req RPCRequest) (Call, error) {
	switch req.Method {
	case MethodGetBars:
		var p struct {
			Symbol    string `json:"symbol"`
			Timeframe string `json:"timeframe"`
		}
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		return GetBars{Symbol: p.Symbol, Timeframe: p.Timeframe}, nil

	case MethodPlotLine, MethodPlotHistogram:
		p, err := decodePlot(req)
		if err != nil {
			return nil, err
		}
		var pts []types.LinePoint
		if err := decodeData(req, p.Series, &pts); err != nil {
			return nil, err
		}
		if req.Method == MethodPlotHistogram {
			return PlotHistogram{ID: p.ID, Points: pts, Options: p.Options}, nil
		}
		return PlotLine{ID: p.ID, Points: pts, Options: p.Options}, nil

	case MethodPlotBands:
		p, err := decodePlot(req)
		if err != nil {
			return nil, err
		}
		var pts []types.BandPoint
		if err := decodeData(req, p.Series, &pts); err != nil {
			return nil, err
		}
		return PlotBands{ID: p.ID, Points: pts, Options: p.Options}, nil

	case MethodPlotBoxes:
		p, err := decodePlot(req)
		if err != nil {
			return nil, err
		}
		var boxes []types.Box
		if err := decodeData(req, p.Boxes, &boxes); err != nil {
			return nil, err
		}
		return PlotBoxes{ID: p.ID, Boxes: boxes, Options: p.Options}, nil

	case MethodPlotLabels:
		p, err := decodePlot(req)
		if err != nil {
			return nil, err
		}
		var labels []types.Label
		if err := decodeData(req, p.Labels, &labels); err != nil {
			return nil, err
		}
		for i, l := range labels {
			if !types.ValidShape(l.Shape) {
				return nil, types.CapabilityError(fmt.Sprintf("%s: label %d has unknown shape %q", req.Method, i, l.Shape))
			}
			labels[i] = l.WithDefaults()
		}
		return PlotLabels{ID: p.ID, Labels: labels, Options: p.Options}, nil

	case MethodAttachmentsList:
		return ListAttachments{}, nil

	case MethodAttachmentsCSV:
		var p struct {
			Name string `json:"name"`
		}
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Name) == "" {
			return nil, types.CapabilityError(req.Method + ": name is required")
		}
		return ReadCSV{Name: p.Name}, nil
	}
	return nil, types.CapabilityError("Unknown method: " + req.Method)
}

func decodeParams(req RPCRequest, v any) error {
	if len(req.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return types.CapabilityError("malformed params for " + req.Method + ": " + err.Error())
	}
	return nil
}

func decodePlot(req RPCRequest) (plotParams, error) {
	var p plotParams
	if err := decodeParams(req, &p); err != nil {
		return p, err
	}
	if strings.TrimSpace(p.ID) == "" {
		return p, types.CapabilityError(req.Method + ": id is required")
	}
	return p, nil
}

func decodeData(req RPCRequest, raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return types.CapabilityError("malformed data for " + req.Method + ": " + err.Error())
	}
	return nil
}

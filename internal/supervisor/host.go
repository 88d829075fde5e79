package supervisor

import (
	"context"
	"strings"

	"github.com/dgnsrekt/tv_sandbox/internal/artifacts"
	"github.com/dgnsrekt/tv_sandbox/internal/sandbox"
	"github.com/dgnsrekt/tv_sandbox/internal/types"
)

// BarSource serves OHLCV history.
type BarSource interface {
	GetBars(ctx context.Context, symbol, timeframe string) ([]types.Bar, error)
}

// AttachmentSource serves user-uploaded CSV files.
type AttachmentSource interface {
	Names() ([]string, error)
	Table(name string) (types.Table, error)
}

// runHandler answers one run's capability calls. Plot writes are staged in the
// run's batch; reads go to the supervisor's sources.
type runHandler struct {
	s   *Supervisor
	run *Run
}

var _ sandbox.Handler = runHandler{}

func (h runHandler) GetBars(ctx context.Context, c sandbox.GetBars) ([]types.Bar, error) {
	if h.s.bars == nil {
		return nil, types.CapabilityError("getBars: no bar source configured")
	}
	if strings.TrimSpace(c.Symbol) == "" || strings.TrimSpace(c.Timeframe) == "" {
		return nil, types.CapabilityError("getBars: symbol and timeframe are required")
	}
	bars, err := h.s.bars.GetBars(ctx, c.Symbol, c.Timeframe)
	if err != nil {
		return nil, err
	}
	return types.NormalizeBars(bars), nil
}

func (h runHandler) PlotLine(_ context.Context, c sandbox.PlotLine) error {
	h.run.batch.Put(artifacts.Artifact{Kind: artifacts.KindLine, ID: c.ID, Points: c.Points, Options: c.Options})
	return nil
}

func (h runHandler) PlotBands(_ context.Context, c sandbox.PlotBands) error {
	h.run.batch.Put(artifacts.Artifact{Kind: artifacts.KindBands, ID: c.ID, Bands: c.Points, Options: c.Options})
	return nil
}

func (h runHandler) PlotHistogram(_ context.Context, c sandbox.PlotHistogram) error {
	h.run.batch.Put(artifacts.Artifact{Kind: artifacts.KindHistogram, ID: c.ID, Points: c.Points, Options: c.Options})
	return nil
}

func (h runHandler) PlotBoxes(_ context.Context, c sandbox.PlotBoxes) error {
	h.run.batch.Put(artifacts.Artifact{Kind: artifacts.KindBoxes, ID: c.ID, Boxes: c.Boxes, Options: c.Options})
	return nil
}

func (h runHandler) PlotLabels(_ context.Context, c sandbox.PlotLabels) error {
	h.run.batch.Put(artifacts.Artifact{Kind: artifacts.KindLabels, ID: c.ID, Labels: c.Labels, Options: c.Options})
	return nil
}

func (h runHandler) ListAttachments(context.Context, sandbox.ListAttachments) ([]string, error) {
	if h.s.files == nil {
		return []string{}, nil
	}
	return h.s.files.Names()
}

func (h runHandler) ReadCSV(_ context.Context, c sandbox.ReadCSV) (types.Table, error) {
	if h.s.files == nil {
		return types.Table{}, types.AttachmentMissing(c.Name)
	}
	return h.s.files.Table(c.Name)
}

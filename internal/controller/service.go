// Package controller is the application layer behind the HTTP API and CLI. It
// ties saved indicators and chart views to supervised runs.
package controller

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/dgnsrekt/tv_sandbox/internal/artifacts"
	"github.com/dgnsrekt/tv_sandbox/internal/attachments"
	"github.com/dgnsrekt/tv_sandbox/internal/bars"
	"github.com/dgnsrekt/tv_sandbox/internal/indicators"
	"github.com/dgnsrekt/tv_sandbox/internal/registry"
	"github.com/dgnsrekt/tv_sandbox/internal/supervisor"
	"github.com/dgnsrekt/tv_sandbox/internal/types"
)

// BarStore is a bar source that also accepts imports.
type BarStore interface {
	bars.Provider
	PutBars(ctx context.Context, symbol, timeframe string, bs []types.Bar) (int, error)
	Series(ctx context.Context) ([]bars.Series, error)
}

// Deps are the collaborators of a Service. BarStore is optional.
type Deps struct {
	Supervisor  *supervisor.Supervisor
	Registry    *registry.Registry
	Artifacts   *artifacts.MemoryStore
	Attachments *attachments.Store
	Bars        bars.Provider
	BarStore    BarStore

	RunTimeoutMS    int
	EditorTimeoutMS int
}

// Service wraps every sandbox operation exposed to clients.
type Service struct {
	sup      *supervisor.Supervisor
	reg      *registry.Registry
	store    *artifacts.MemoryStore
	files    *attachments.Store
	bars     bars.Provider
	barStore BarStore

	runTimeoutMS    int
	editorTimeoutMS int
}

func NewService(d Deps) *Service {
	return &Service{
		sup:             d.Supervisor,
		reg:             d.Registry,
		store:           d.Artifacts,
		files:           d.Attachments,
		bars:            d.Bars,
		barStore:        d.BarStore,
		runTimeoutMS:    d.RunTimeoutMS,
		editorTimeoutMS: d.EditorTimeoutMS,
	}
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return types.ValidationError(fieldName + " is required")
	}
	return nil
}

// RunInfo is a run as reported to clients: its result once settled, its
// live state before that.
type RunInfo struct {
	supervisor.Result
	Settled bool `json:"settled"`
}

func runInfo(r *supervisor.Run) RunInfo {
	if res, ok := r.Result(); ok {
		return RunInfo{Result: res, Settled: true}
	}
	spec := r.Spec()
	return RunInfo{Result: supervisor.Result{
		RunID:      r.ID(),
		InstanceID: r.InstanceID(),
		Symbol:     spec.Symbol,
		Timeframe:  spec.Timeframe,
		State:      r.State().String(),
		StartedAt:  r.StartedAt(),
		DurationMS: time.Since(r.StartedAt()).Milliseconds(),
	}}
}

// wait blocks for r when requested and reports what is known.
func (s *Service) wait(ctx context.Context, r *supervisor.Run, block bool) (RunInfo, error) {
	if block {
		if _, err := r.Wait(ctx); err != nil {
			return RunInfo{}, err
		}
	}
	return runInfo(r), nil
}

// ---- runs ----

// StartRun runs source for an arbitrary instance id.
func (s *Service) StartRun(ctx context.Context, instanceID string, spec types.RunSpec, block bool) (RunInfo, error) {
	if err := s.requireNonEmpty(spec.Symbol, "symbol"); err != nil {
		return RunInfo{}, err
	}
	if err := s.requireNonEmpty(spec.Timeframe, "timeframe"); err != nil {
		return RunInfo{}, err
	}
	if spec.TimeoutMS <= 0 {
		spec.TimeoutMS = s.runTimeoutMS
	}
	r, err := s.sup.Start(strings.TrimSpace(instanceID), spec)
	if err != nil {
		return RunInfo{}, err
	}
	return s.wait(ctx, r, block)
}

func (s *Service) GetRun(runID string) (RunInfo, error) {
	r, ok := s.sup.Lookup(runID)
	if !ok {
		return RunInfo{}, types.NotFoundError("run not found: " + runID)
	}
	return runInfo(r), nil
}

func (s *Service) WaitRun(ctx context.Context, runID string) (RunInfo, error) {
	r, ok := s.sup.Lookup(runID)
	if !ok {
		return RunInfo{}, types.NotFoundError("run not found: " + runID)
	}
	return s.wait(ctx, r, true)
}

func (s *Service) ListRuns(limit int) []RunInfo {
	runs := s.sup.Recent(limit)
	out := make([]RunInfo, len(runs))
	for i, r := range runs {
		out[i] = runInfo(r)
	}
	return out
}

// ListInstances returns the current run of every live instance.
func (s *Service) ListInstances() []RunInfo {
	out := []RunInfo{}
	for _, id := range s.sup.Instances() {
		if r, ok := s.sup.Current(id); ok {
			out = append(out, runInfo(r))
		}
	}
	return out
}

// StopInstance terminates the instance's current run and keeps its artifacts.
func (s *Service) StopInstance(instanceID string) error {
	if !s.sup.Stop(instanceID) {
		return types.NotFoundError("no current run for instance: " + instanceID)
	}
	return nil
}

// TeardownInstance terminates the instance and clears its artifacts.
func (s *Service) TeardownInstance(instanceID string) (int, error) {
	return s.sup.Teardown(instanceID)
}

// ---- artifacts ----

// ListArtifacts returns the artifacts of one instance, or all when instanceID is empty.
func (s *Service) ListArtifacts(instanceID string) []artifacts.Artifact {
	prefix := ""
	if instanceID != "" {
		prefix = artifacts.Prefix(instanceID)
	}
	out := s.store.List(prefix)
	if out == nil {
		out = []artifacts.Artifact{}
	}
	return out
}

func (s *Service) GetArtifact(kind, id string) (artifacts.Artifact, error) {
	a, ok := s.store.Get(artifacts.Kind(kind), id)
	if !ok {
		return artifacts.Artifact{}, types.NotFoundError("artifact not found: " + kind + "/" + id)
	}
	return a, nil
}

// ---- indicators and views ----

func (s *Service) ListIndicators() []registry.Indicator { return s.reg.List() }

func (s *Service) GetIndicator(id string) (registry.Indicator, error) { return s.reg.Get(id) }

// SaveIndicator creates or updates an indicator. Views that have it selected
// rerun with the new code.
func (s *Service) SaveIndicator(ind registry.Indicator) (registry.Indicator, []RunInfo, error) {
	saved, err := s.reg.Upsert(ind)
	if err != nil {
		return registry.Indicator{}, nil, err
	}
	var runs []RunInfo
	for _, v := range s.reg.Views() {
		if !contains(v.Selected, saved.ID) {
			continue
		}
		if info, ok := s.runSelected(v, saved); ok {
			runs = append(runs, info)
		}
	}
	return saved, runs, nil
}

// DeleteIndicator removes an indicator and tears down every instance of it.
func (s *Service) DeleteIndicator(id string) error {
	views, err := s.reg.Delete(id)
	if err != nil {
		return err
	}
	for _, vid := range views {
		if _, err := s.sup.Teardown(registry.InstanceID(vid, id)); err != nil {
			slog.Warn("Teardown after delete failed", "view_id", vid, "indicator_id", id, "error", err)
		}
	}
	return nil
}

func (s *Service) ListViews() []registry.View { return s.reg.Views() }

func (s *Service) GetView(viewID string) registry.View { return s.reg.View(viewID) }

// SetViewContext records what a view shows. When the symbol or timeframe
// changed, every selected indicator reruns.
func (s *Service) SetViewContext(viewID, symbol, timeframe string) (registry.View, []RunInfo, error) {
	if err := s.requireNonEmpty(symbol, "symbol"); err != nil {
		return registry.View{}, nil, err
	}
	if err := s.requireNonEmpty(timeframe, "timeframe"); err != nil {
		return registry.View{}, nil, err
	}
	v, changed, err := s.reg.SetContext(viewID, strings.TrimSpace(symbol), strings.TrimSpace(timeframe))
	if err != nil || !changed {
		return v, nil, err
	}
	var runs []RunInfo
	for _, id := range v.Selected {
		ind, err := s.reg.Get(id)
		if err != nil {
			continue
		}
		if info, ok := s.runSelected(v, ind); ok {
			runs = append(runs, info)
		}
	}
	return v, runs, nil
}

// SelectIndicator adds an indicator to a view and runs it if the view has a context.
func (s *Service) SelectIndicator(viewID, indicatorID string) (*RunInfo, error) {
	if _, err := s.reg.Select(viewID, indicatorID); err != nil {
		return nil, err
	}
	ind, err := s.reg.Get(indicatorID)
	if err != nil {
		return nil, err
	}
	if info, ok := s.runSelected(s.reg.View(viewID), ind); ok {
		return &info, nil
	}
	return nil, nil
}

// DeselectIndicator removes an indicator from a view and tears its instance down.
func (s *Service) DeselectIndicator(viewID, indicatorID string) (int, error) {
	removed, err := s.reg.Deselect(viewID, indicatorID)
	if err != nil {
		return 0, err
	}
	if !removed {
		return 0, types.NotFoundError("indicator " + indicatorID + " is not selected in view " + viewID)
	}
	return s.sup.Teardown(registry.InstanceID(viewID, indicatorID))
}

// RunIndicator reruns one selected indicator of a view.
func (s *Service) RunIndicator(ctx context.Context, viewID, indicatorID string, block bool) (RunInfo, error) {
	v := s.reg.View(viewID)
	if !contains(v.Selected, indicatorID) {
		return RunInfo{}, types.NotFoundError("indicator " + indicatorID + " is not selected in view " + viewID)
	}
	ind, err := s.reg.Get(indicatorID)
	if err != nil {
		return RunInfo{}, err
	}
	return s.StartRun(ctx, registry.InstanceID(viewID, indicatorID), types.RunSpec{
		Symbol:     v.Symbol,
		Timeframe:  v.Timeframe,
		SourceCode: ind.Code,
		TimeoutMS:  s.runTimeoutMS,
	}, block)
}

func (s *Service) runSelected(v registry.View, ind registry.Indicator) (RunInfo, bool) {
	if v.Symbol == "" || v.Timeframe == "" {
		return RunInfo{}, false
	}
	r, err := s.sup.Start(registry.InstanceID(v.ID, ind.ID), types.RunSpec{
		Symbol:     v.Symbol,
		Timeframe:  v.Timeframe,
		SourceCode: ind.Code,
		TimeoutMS:  s.runTimeoutMS,
	})
	if err != nil {
		slog.Warn("Indicator run not started", "view_id", v.ID, "indicator_id", ind.ID, "error", err)
		return RunInfo{}, false
	}
	return runInfo(r), true
}

// ---- editor ----

// EditorRequest runs unsaved code in a view's editor slot. Symbol and
// timeframe default to the view's context.
type EditorRequest struct {
	ViewID    string
	Code      string
	Symbol    string
	Timeframe string
	TimeoutMS int
	Wait      bool
}

func (s *Service) RunEditor(ctx context.Context, req EditorRequest) (RunInfo, error) {
	if err := s.requireNonEmpty(req.ViewID, "view_id"); err != nil {
		return RunInfo{}, err
	}
	v := s.reg.View(req.ViewID)
	if req.Symbol == "" {
		req.Symbol = v.Symbol
	}
	if req.Timeframe == "" {
		req.Timeframe = v.Timeframe
	}
	if req.TimeoutMS <= 0 {
		req.TimeoutMS = s.editorTimeoutMS
	}
	return s.StartRun(ctx, registry.EditorInstanceID(req.ViewID), types.RunSpec{
		Symbol:     req.Symbol,
		Timeframe:  req.Timeframe,
		SourceCode: req.Code,
		TimeoutMS:  req.TimeoutMS,
	}, req.Wait)
}

// SaveEditor stores editor code as a new indicator selected in the view and
// clears the editor's scratch artifacts.
func (s *Service) SaveEditor(viewID, name, code string) (registry.Indicator, *RunInfo, error) {
	ind, err := s.reg.SaveFromEditor(viewID, name, code)
	if err != nil {
		return registry.Indicator{}, nil, err
	}
	if _, err := s.sup.Teardown(registry.EditorInstanceID(viewID)); err != nil {
		return registry.Indicator{}, nil, err
	}
	if info, ok := s.runSelected(s.reg.View(viewID), ind); ok {
		return ind, &info, nil
	}
	return ind, nil, nil
}

func (s *Service) ClearEditor(viewID string) (int, error) {
	return s.sup.Teardown(registry.EditorInstanceID(viewID))
}

// ---- attachments ----

func (s *Service) ListAttachments() ([]attachments.Manifest, error) { return s.files.List() }

func (s *Service) UploadAttachment(name string, data []byte) (attachments.Manifest, error) {
	if err := s.requireNonEmpty(name, "name"); err != nil {
		return attachments.Manifest{}, err
	}
	return s.files.Save(strings.TrimSpace(name), data)
}

func (s *Service) GetAttachment(name string) (attachments.Manifest, types.Table, error) {
	m, err := s.files.Get(name)
	if err != nil {
		return attachments.Manifest{}, types.Table{}, err
	}
	t, err := s.files.Table(name)
	return m, t, err
}

func (s *Service) DeleteAttachment(name string) error { return s.files.Delete(name) }

// ---- bars and built-ins ----

func (s *Service) GetBars(ctx context.Context, symbol, timeframe string) ([]types.Bar, error) {
	if err := s.requireNonEmpty(symbol, "symbol"); err != nil {
		return nil, err
	}
	if _, err := bars.ParseTimeframe(timeframe); err != nil {
		return nil, err
	}
	if s.bars == nil {
		return nil, types.NotFoundError("no bar source configured")
	}
	bs, err := s.bars.GetBars(ctx, symbol, timeframe)
	if err != nil {
		return nil, err
	}
	return types.NormalizeBars(bs), nil
}

func (s *Service) ImportBars(ctx context.Context, symbol, timeframe string, bs []types.Bar) (int, error) {
	if err := s.requireNonEmpty(symbol, "symbol"); err != nil {
		return 0, err
	}
	if s.barStore == nil {
		return 0, types.ValidationError("bar source does not accept imports")
	}
	return s.barStore.PutBars(ctx, strings.TrimSpace(symbol), timeframe, bs)
}

func (s *Service) ListSeries(ctx context.Context) ([]bars.Series, error) {
	if s.barStore == nil {
		return []bars.Series{}, nil
	}
	return s.barStore.Series(ctx)
}

func (s *Service) Builtins() []indicators.Builtin { return indicators.Builtins() }

// ComputeBuiltin evaluates a built-in indicator over a series on the host.
func (s *Service) ComputeBuiltin(ctx context.Context, id, symbol, timeframe string, params map[string]float64) (indicators.Output, error) {
	if _, ok := indicators.Lookup(id); !ok {
		return indicators.Output{}, types.NotFoundError("unknown builtin indicator: " + id)
	}
	bs, err := s.GetBars(ctx, symbol, timeframe)
	if err != nil {
		return indicators.Output{}, err
	}
	return indicators.Compute(id, bs, params)
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

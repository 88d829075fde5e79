// Package registry keeps saved custom indicators and which of them each chart
// view has selected. State persists to a YAML file.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/tv_sandbox/internal/types"
)

type Visibility string

const (
	Private Visibility = "private"
	Public  Visibility = "public"
)

// ParamSpec describes one user-tunable parameter.
type ParamSpec struct {
	Type    string   `yaml:"type" json:"type" enum:"number,boolean,string"`
	Min     *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max     *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Step    *float64 `yaml:"step,omitempty" json:"step,omitempty"`
	Default any      `yaml:"default,omitempty" json:"default,omitempty"`
}

// Indicator is a saved script.
type Indicator struct {
	ID          string               `yaml:"id" json:"id"`
	Name        string               `yaml:"name" json:"name"`
	Code        string               `yaml:"code" json:"code"`
	Version     int                  `yaml:"version" json:"version"`
	Visibility  Visibility           `yaml:"visibility" json:"visibility"`
	Description string               `yaml:"description,omitempty" json:"description,omitempty"`
	ParamSchema map[string]ParamSpec `yaml:"param_schema,omitempty" json:"param_schema,omitempty"`
	UpdatedAt   time.Time            `yaml:"updated_at" json:"updated_at"`
}

// View is one chart panel: its symbol, timeframe and selected indicators.
type View struct {
	ID        string   `yaml:"-" json:"id"`
	Symbol    string   `yaml:"symbol" json:"symbol"`
	Timeframe string   `yaml:"timeframe" json:"timeframe"`
	Selected  []string `yaml:"selected" json:"selected"`
}

type fileFormat struct {
	Indicators []Indicator     `yaml:"indicators"`
	Views      map[string]View `yaml:"views"`
}

// InstanceID names the run slot of an indicator inside a view.
func InstanceID(viewID, indicatorID string) string {
	return viewID + "/" + indicatorID
}

// EditorInstanceID is the run slot of a view's editor.
func EditorInstanceID(viewID string) string {
	return InstanceID(viewID, "editor")
}

type Registry struct {
	path string
	mu   sync.RWMutex
	inds map[string]Indicator
	view map[string]View
	now  func() time.Time
}

// Open loads the registry at path. A missing file yields an empty registry;
// an empty path keeps everything in memory.
func Open(path string) (*Registry, error) {
	r := &Registry{
		path: path,
		inds: make(map[string]Indicator),
		view: make(map[string]View),
		now:  time.Now,
	}
	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", path, err)
	}
	for _, ind := range f.Indicators {
		r.inds[ind.ID] = ind
	}
	for id, v := range f.Views {
		v.ID = id
		r.view[id] = v
	}
	return r, nil
}

// save writes the registry. Callers hold r.mu.
func (r *Registry) save() error {
	if r.path == "" {
		return nil
	}
	f := fileFormat{Indicators: r.sortedLocked(), Views: make(map[string]View, len(r.view))}
	for id, v := range r.view {
		f.Views[id] = v
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("registry: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("registry: mkdir: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("registry: write: %w", err)
	}
	return os.Rename(tmp, r.path)
}

func (r *Registry) sortedLocked() []Indicator {
	out := make([]Indicator, 0, len(r.inds))
	for _, ind := range r.inds {
		out = append(out, ind)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func validateViewID(viewID string) error {
	if strings.TrimSpace(viewID) == "" {
		return types.ValidationError("view id is required")
	}
	if strings.Contains(viewID, "::") || strings.HasSuffix(viewID, ":") {
		return types.ValidationError("view id must not contain :: or end with :")
	}
	return nil
}

// Upsert creates or updates an indicator. New indicators get an id and
// version 1; updates bump the version.
func (r *Registry) Upsert(ind Indicator) (Indicator, error) {
	if strings.TrimSpace(ind.Code) == "" {
		return Indicator{}, types.ValidationError("code is required")
	}
	if strings.Contains(ind.ID, "::") || strings.Contains(ind.ID, "/") || strings.HasSuffix(ind.ID, ":") {
		return Indicator{}, types.ValidationError("indicator id must not contain / or :: or end with :")
	}
	if ind.ID == "editor" {
		return Indicator{}, types.ValidationError("indicator id editor is reserved")
	}
	switch ind.Visibility {
	case "":
		ind.Visibility = Private
	case Private, Public:
	default:
		return Indicator{}, types.ValidationError(fmt.Sprintf("unknown visibility %q", ind.Visibility))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ind.ID == "" {
		ind.ID = uuid.NewString()
	}
	if prev, ok := r.inds[ind.ID]; ok {
		ind.Version = prev.Version + 1
		if ind.Name == "" {
			ind.Name = prev.Name
		}
	} else {
		ind.Version = 1
	}
	if strings.TrimSpace(ind.Name) == "" {
		ind.Name = "Custom " + r.now().Format("15:04:05")
	}
	ind.UpdatedAt = r.now().UTC()
	r.inds[ind.ID] = ind
	return ind, r.save()
}

// Get returns one indicator.
func (r *Registry) Get(id string) (Indicator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ind, ok := r.inds[id]
	if !ok {
		return Indicator{}, types.NotFoundError("indicator not found: " + id)
	}
	return ind, nil
}

// List returns indicators, most recently updated first.
func (r *Registry) List() []Indicator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

// Delete removes an indicator and drops it from every view. It returns the
// views that had it selected.
func (r *Registry) Delete(id string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inds[id]; !ok {
		return nil, types.NotFoundError("indicator not found: " + id)
	}
	delete(r.inds, id)

	var affected []string
	for vid, v := range r.view {
		if next, removed := without(v.Selected, id); removed {
			v.Selected = next
			r.view[vid] = v
			affected = append(affected, vid)
		}
	}
	sort.Strings(affected)
	return affected, r.save()
}

// SaveFromEditor stores code as a new private indicator and selects it in viewID.
func (r *Registry) SaveFromEditor(viewID, name, code string) (Indicator, error) {
	if err := validateViewID(viewID); err != nil {
		return Indicator{}, err
	}
	ind, err := r.Upsert(Indicator{ID: "custom-" + uuid.NewString(), Name: name, Code: code})
	if err != nil {
		return Indicator{}, err
	}
	if _, err := r.Select(viewID, ind.ID); err != nil {
		return Indicator{}, err
	}
	return ind, nil
}

// View returns the state of viewID; unknown views are empty.
func (r *Registry) View(viewID string) View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.view[viewID]
	if !ok {
		return View{ID: viewID, Selected: []string{}}
	}
	v.Selected = append([]string{}, v.Selected...)
	return v
}

// Views lists every known view ordered by id.
func (r *Registry) Views() []View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]View, 0, len(r.view))
	for _, v := range r.view {
		v.Selected = append([]string{}, v.Selected...)
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetContext records the symbol and timeframe a view is showing and reports
// whether they changed.
func (r *Registry) SetContext(viewID, symbol, timeframe string) (View, bool, error) {
	if err := validateViewID(viewID); err != nil {
		return View{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.view[viewID]
	if !ok {
		v = View{ID: viewID, Selected: []string{}}
	}
	changed := v.Symbol != symbol || v.Timeframe != timeframe
	v.Symbol, v.Timeframe = symbol, timeframe
	r.view[viewID] = v
	if err := r.save(); err != nil {
		return View{}, false, err
	}
	v.Selected = append([]string{}, v.Selected...)
	return v, changed, nil
}

// Select adds indicatorID to viewID and reports whether it was newly added.
func (r *Registry) Select(viewID, indicatorID string) (bool, error) {
	if err := validateViewID(viewID); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inds[indicatorID]; !ok {
		return false, types.NotFoundError("indicator not found: " + indicatorID)
	}
	v, ok := r.view[viewID]
	if !ok {
		v = View{ID: viewID}
	}
	for _, id := range v.Selected {
		if id == indicatorID {
			return false, nil
		}
	}
	v.Selected = append(v.Selected, indicatorID)
	r.view[viewID] = v
	return true, r.save()
}

// Deselect removes indicatorID from viewID and reports whether it was selected.
func (r *Registry) Deselect(viewID, indicatorID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.view[viewID]
	if !ok {
		return false, nil
	}
	next, removed := without(v.Selected, indicatorID)
	if !removed {
		return false, nil
	}
	v.Selected = next
	r.view[viewID] = v
	return true, r.save()
}

func without(ids []string, id string) ([]string, bool) {
	out := make([]string, 0, len(ids))
	removed := false
	for _, x := range ids {
		if x == id {
			removed = true
			continue
		}
		out = append(out, x)
	}
	return out, removed
}

package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/dgnsrekt/tv_sandbox/internal/artifacts"
	"github.com/dgnsrekt/tv_sandbox/internal/sandbox"
	"github.com/dgnsrekt/tv_sandbox/internal/types"
)

const maxRunLogs = 200

// LogEntry is one console line produced by a run.
type LogEntry struct {
	RunID      string    `json:"run_id"`
	InstanceID string    `json:"instance_id"`
	Level      string    `json:"level"`
	Line       string    `json:"line"`
	Time       time.Time `json:"time"`
}

// Result is the settled outcome of a run.
type Result struct {
	RunID      string     `json:"run_id"`
	InstanceID string     `json:"instance_id"`
	Symbol     string     `json:"symbol"`
	Timeframe  string     `json:"timeframe"`
	State      string     `json:"state"`
	Error      string     `json:"error,omitempty"`
	TimedOut   bool       `json:"timed_out,omitempty"`
	Committed  bool       `json:"committed"`
	Artifacts  int        `json:"artifacts"`
	Cleared    int        `json:"cleared"`
	Logs       []LogEntry `json:"logs,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	DurationMS int64      `json:"duration_ms"`
}

// Run is one execution of a script for an indicator instance.
type Run struct {
	id         string
	instanceID string
	spec       types.RunSpec
	startedAt  time.Time
	ctx        *sandbox.Context

	// batch is only touched by the pump goroutine.
	batch *artifacts.Batch

	mu       sync.Mutex
	logs     []LogEntry
	result   *Result
	settled  chan struct{}
	settleMu sync.Once
}

func (r *Run) ID() string            { return r.id }
func (r *Run) InstanceID() string    { return r.instanceID }
func (r *Run) Spec() types.RunSpec   { return r.spec }
func (r *Run) State() sandbox.State  { return r.ctx.State() }
func (r *Run) StartedAt() time.Time  { return r.startedAt }
func (r *Run) Done() <-chan struct{} { return r.settled }

// Wait blocks until the run settles or ctx is done.
func (r *Run) Wait(ctx context.Context) (Result, error) {
	select {
	case <-r.settled:
		res, _ := r.Result()
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the outcome once the run has settled.
func (r *Run) Result() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.result == nil {
		return Result{}, false
	}
	return *r.result, true
}

func (r *Run) appendLog(e LogEntry) {
	r.mu.Lock()
	if len(r.logs) == maxRunLogs {
		copy(r.logs, r.logs[1:])
		r.logs = r.logs[:maxRunLogs-1]
	}
	r.logs = append(r.logs, e)
	r.mu.Unlock()
}

// settle records res once and reports whether this call won.
func (r *Run) settle(res Result) bool {
	won := false
	r.settleMu.Do(func() {
		r.mu.Lock()
		res.Logs = append([]LogEntry(nil), r.logs...)
		r.result = &res
		r.mu.Unlock()
		close(r.settled)
		won = true
	})
	return won
}

func (r *Run) baseResult(state sandbox.State, now time.Time) Result {
	return Result{
		RunID:      r.id,
		InstanceID: r.instanceID,
		Symbol:     r.spec.Symbol,
		Timeframe:  r.spec.Timeframe,
		State:      state.String(),
		StartedAt:  r.startedAt,
		FinishedAt: now,
		DurationMS: now.Sub(r.startedAt).Milliseconds(),
	}
}

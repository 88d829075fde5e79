// Package supervisor owns the execution contexts of indicator instances. At
// most one run is current per instance; starting another supersedes it.
// A run's plot writes are staged and only replace the instance's artifacts
// when the run completes while still current.
package supervisor

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/tv_sandbox/internal/artifacts"
	"github.com/dgnsrekt/tv_sandbox/internal/id"
	"github.com/dgnsrekt/tv_sandbox/internal/metrics"
	"github.com/dgnsrekt/tv_sandbox/internal/sandbox"
	"github.com/dgnsrekt/tv_sandbox/internal/types"
)

const (
	DefaultMinTimeout  = 50 * time.Millisecond
	DefaultMaxTimeout  = 10 * time.Second
	defaultHistorySize = 100
)

// Journal persists settled run results.
type Journal interface {
	Write(record any) error
}

// Options wires a Supervisor to its sources and sinks. Sink is required.
type Options struct {
	Bars     BarSource
	Files    AttachmentSource
	Sink     artifacts.Sink
	Compiler *sandbox.Compiler
	Metrics  *metrics.Metrics
	Journal  Journal

	DefaultTimeout time.Duration
	MinTimeout     time.Duration
	MaxTimeout     time.Duration
	HistorySize    int

	OnResult func(Result)
	OnLog    func(LogEntry)
}

type instance struct {
	mu      sync.Mutex
	current *Run
	// retired is set once Teardown has dropped the instance from the map.
	retired bool
}

type Supervisor struct {
	bars     BarSource
	files    AttachmentSource
	ns       *artifacts.Namespaces
	compiler *sandbox.Compiler
	metrics  *metrics.Metrics
	journal  Journal
	onResult func(Result)
	onLog    func(LogEntry)

	defaultTimeout time.Duration
	minTimeout     time.Duration
	maxTimeout     time.Duration

	mu          sync.Mutex
	instances   map[string]*instance
	recent      []*Run
	historySize int
	closed      bool
	wg          sync.WaitGroup

	// beforeCommit runs just before a completed run takes the instance lock.
	beforeCommit func(*Run)
}

func New(opts Options) *Supervisor {
	s := &Supervisor{
		bars:           opts.Bars,
		files:          opts.Files,
		ns:             artifacts.NewNamespaces(opts.Sink),
		compiler:       opts.Compiler,
		metrics:        opts.Metrics,
		journal:        opts.Journal,
		onResult:       opts.OnResult,
		onLog:          opts.OnLog,
		defaultTimeout: opts.DefaultTimeout,
		minTimeout:     opts.MinTimeout,
		maxTimeout:     opts.MaxTimeout,
		historySize:    opts.HistorySize,
		instances:      make(map[string]*instance),
	}
	if s.compiler == nil {
		s.compiler = sandbox.NewCompiler(128)
	}
	if s.defaultTimeout <= 0 {
		s.defaultTimeout = sandbox.DefaultTimeout
	}
	if s.minTimeout <= 0 {
		s.minTimeout = DefaultMinTimeout
	}
	if s.maxTimeout <= 0 {
		s.maxTimeout = DefaultMaxTimeout
	}
	if s.historySize <= 0 {
		s.historySize = defaultHistorySize
	}
	return s
}

// Namespaces exposes the artifact namespace manager.
func (s *Supervisor) Namespaces() *artifacts.Namespaces { return s.ns }

// Compiler exposes the shared program cache.
func (s *Supervisor) Compiler() *sandbox.Compiler { return s.compiler }

// ClampTimeout applies the default and the [min, max] bounds to ms.
func (s *Supervisor) ClampTimeout(ms int) int {
	d := time.Duration(ms) * time.Millisecond
	if ms <= 0 {
		d = s.defaultTimeout
	}
	if d < s.minTimeout {
		d = s.minTimeout
	}
	if d > s.maxTimeout {
		d = s.maxTimeout
	}
	return int(d / time.Millisecond)
}

func validateInstanceID(instanceID string) error {
	if strings.TrimSpace(instanceID) == "" {
		return types.ValidationError("instance id is required")
	}
	if strings.Contains(instanceID, artifacts.Separator) {
		return types.ValidationError("instance id must not contain " + artifacts.Separator)
	}
	// "a:" + "::" would start with "a::" and share a's namespace
	if strings.HasSuffix(instanceID, ":") {
		return types.ValidationError("instance id must not end with :")
	}
	return nil
}

// Start runs spec for instanceID, terminating the instance's current run.
func (s *Supervisor) Start(instanceID string, spec types.RunSpec) (*Run, error) {
	if err := validateInstanceID(instanceID); err != nil {
		return nil, err
	}
	spec.TimeoutMS = s.ClampTimeout(spec.TimeoutMS)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, types.NewError(types.CodeTerminated, "supervisor is shut down", nil)
	}
	s.wg.Add(1)
	s.mu.Unlock()

	run := &Run{
		id:         id.Prefixed("run"),
		instanceID: instanceID,
		spec:       spec,
		startedAt:  time.Now().UTC(),
		batch:      artifacts.NewBatch(),
		settled:    make(chan struct{}),
	}
	run.ctx = sandbox.New(sandbox.NewRunInstruction(spec), sandbox.WithID(run.id), sandbox.WithCompiler(s.compiler))

	inst := s.lockInstance(instanceID)
	prev := inst.current
	inst.current = run
	if prev != nil {
		prev.ctx.Terminate()
	}
	err := run.ctx.Start()
	inst.mu.Unlock()
	if err != nil {
		s.wg.Done()
		return nil, err
	}

	s.remember(run)
	s.metrics.RunStarted()
	slog.Info("Run started",
		"run_id", run.id,
		"instance_id", instanceID,
		"symbol", spec.Symbol,
		"timeframe", spec.Timeframe,
		"timeout_ms", spec.TimeoutMS)
	if prev != nil {
		slog.Debug("Run superseded", "run_id", prev.id, "by", run.id)
	}
	s.lifecycle(run, "run started")

	go s.pump(inst, run)
	return run, nil
}

// lockInstance returns the live instance for instanceID with its lock held,
// creating it if needed.
func (s *Supervisor) lockInstance(instanceID string) *instance {
	for {
		s.mu.Lock()
		inst, ok := s.instances[instanceID]
		if !ok {
			inst = &instance{}
			s.instances[instanceID] = inst
		}
		s.mu.Unlock()

		inst.mu.Lock()
		if !inst.retired {
			return inst
		}
		inst.mu.Unlock()
	}
}

func (s *Supervisor) remember(run *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, run)
	if over := len(s.recent) - s.historySize; over > 0 {
		s.recent = append([]*Run(nil), s.recent[over:]...)
	}
}

// Current returns the instance's current run.
func (s *Supervisor) Current(instanceID string) (*Run, bool) {
	s.mu.Lock()
	inst, ok := s.instances[instanceID]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.current, inst.current != nil
}

// Lookup finds a recent run by id.
func (s *Supervisor) Lookup(runID string) (*Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.recent) - 1; i >= 0; i-- {
		if s.recent[i].id == runID {
			return s.recent[i], true
		}
	}
	return nil, false
}

// Recent returns up to limit recent runs, newest first. limit <= 0 returns all.
func (s *Supervisor) Recent(limit int) []*Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.recent)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*Run, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.recent[i])
	}
	return out
}

// Instances lists instance ids with a current run, sorted.
func (s *Supervisor) Instances() []string {
	s.mu.Lock()
	insts := make(map[string]*instance, len(s.instances))
	for k, v := range s.instances {
		insts[k] = v
	}
	s.mu.Unlock()

	var out []string
	for k, inst := range insts {
		inst.mu.Lock()
		if inst.current != nil {
			out = append(out, k)
		}
		inst.mu.Unlock()
	}
	sort.Strings(out)
	return out
}

// Stop terminates the instance's current run and keeps its artifacts.
func (s *Supervisor) Stop(instanceID string) bool {
	s.mu.Lock()
	inst, ok := s.instances[instanceID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.current == nil {
		return false
	}
	inst.current.ctx.Terminate()
	inst.current = nil
	return true
}

// Teardown terminates the instance's current run and clears its namespace.
// It returns the number of artifacts removed.
func (s *Supervisor) Teardown(instanceID string) (int, error) {
	if err := validateInstanceID(instanceID); err != nil {
		return 0, err
	}
	s.mu.Lock()
	inst, ok := s.instances[instanceID]
	s.mu.Unlock()

	if !ok {
		removed := s.ns.Clear(instanceID)
		s.metrics.Artifacts(0, removed)
		return removed, nil
	}

	inst.mu.Lock()
	if inst.current != nil {
		inst.current.ctx.Terminate()
		inst.current = nil
	}
	removed := s.ns.Clear(instanceID)
	inst.retired = true
	s.mu.Lock()
	if s.instances[instanceID] == inst {
		delete(s.instances, instanceID)
	}
	s.mu.Unlock()
	inst.mu.Unlock()

	s.metrics.Artifacts(0, removed)
	slog.Info("Instance torn down", "instance_id", instanceID, "removed", removed)
	return removed, nil
}

// Shutdown terminates every run and waits for their pumps to exit.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	insts := make([]*instance, 0, len(s.instances))
	for _, inst := range s.instances {
		insts = append(insts, inst)
	}
	s.mu.Unlock()

	for _, inst := range insts {
		inst.mu.Lock()
		if inst.current != nil {
			inst.current.ctx.Terminate()
			inst.current = nil
		}
		inst.mu.Unlock()
	}

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

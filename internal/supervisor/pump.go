package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/tv_sandbox/internal/sandbox"
	"github.com/dgnsrekt/tv_sandbox/internal/types"
)

// pump reads everything the run's context posts until the context exits.
func (s *Supervisor) pump(inst *instance, run *Run) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	var calls sync.WaitGroup
	defer func() {
		cancel()
		calls.Wait()
		s.metrics.ContextExited()
		s.metrics.CacheSize(s.compiler.Len())
	}()

	c := run.ctx
	h := runHandler{s: s, run: run}
	for {
		select {
		case m := <-c.Outbox():
			s.handle(ctx, inst, run, h, m, &calls)
		case <-c.Exited():
			for {
				select {
				case m := <-c.Outbox():
					s.handle(ctx, inst, run, h, m, &calls)
				default:
					s.finalize(run, s.exitResult(run))
					return
				}
			}
		}
	}
}

func (s *Supervisor) handle(ctx context.Context, inst *instance, run *Run, h runHandler, m sandbox.Message, calls *sync.WaitGroup) {
	switch m := m.(type) {
	case sandbox.RPCRequest:
		s.dispatch(ctx, run, h, m, calls)
	case sandbox.LogMessage:
		e := LogEntry{RunID: run.id, InstanceID: run.instanceID, Level: m.Level, Line: m.Line, Time: time.Now().UTC()}
		run.appendLog(e)
		if s.onLog != nil {
			s.onLog(e)
		}
	case sandbox.DoneMessage:
		s.done(inst, run, m)
	}
}

// dispatch answers one capability call. Plot calls are staged right here so
// they are ordered before the run's done message; reads run concurrently.
func (s *Supervisor) dispatch(ctx context.Context, run *Run, h runHandler, req sandbox.RPCRequest, calls *sync.WaitGroup) {
	call, err := sandbox.DecodeCall(req)
	if err != nil {
		s.reply(run, req.Method, sandbox.ErrorReply(req.ID, err), calls)
		return
	}
	if sandbox.IsPlot(call) {
		s.reply(run, req.Method, sandbox.Dispatch(ctx, h, req, call), calls)
		return
	}
	calls.Add(1)
	go func() {
		defer calls.Done()
		s.reply(run, req.Method, sandbox.Dispatch(ctx, h, req, call), calls)
	}()
}

func (s *Supervisor) reply(run *Run, method string, r sandbox.RPCReply, calls *sync.WaitGroup) {
	s.metrics.RPC(method, r.Error != "")
	if r.Error != "" {
		slog.Debug("Capability call failed", "run_id", run.id, "method", method, "error", r.Error)
	}
	calls.Add(1)
	go func() {
		defer calls.Done()
		if !run.ctx.Post(r) {
			slog.Debug("Reply dropped for finished context", "run_id", run.id, "method", method)
		}
	}()
}

func (s *Supervisor) done(inst *instance, run *Run, m sandbox.DoneMessage) {
	now := time.Now().UTC()
	switch {
	case m.TimedOut:
		res := run.baseResult(sandbox.StateTimedOut, now)
		res.TimedOut = true
		res.Error = types.Message(run.ctx.Err())
		s.finalize(run, res)

	case m.Error != "":
		res := run.baseResult(sandbox.StateFailed, now)
		res.Error = m.Error
		s.finalize(run, res)

	default:
		res := run.baseResult(sandbox.StateCompleted, now)
		if s.beforeCommit != nil {
			s.beforeCommit(run)
		}
		inst.mu.Lock()
		if inst.current == run {
			res.Cleared = s.ns.Replace(run.instanceID, run.batch)
			res.Artifacts = run.batch.Len()
			res.Committed = true
		}
		inst.mu.Unlock()
		s.finalize(run, res)
	}
}

// exitResult describes a context that exited without a done message.
func (s *Supervisor) exitResult(run *Run) Result {
	state := run.ctx.State()
	res := run.baseResult(state, time.Now().UTC())
	if err := run.ctx.Err(); err != nil {
		res.Error = types.Message(err)
	} else if state == sandbox.StateTerminated {
		res.Error = "execution context terminated"
	}
	return res
}

func (s *Supervisor) finalize(run *Run, res Result) {
	if !run.settle(res) {
		return
	}
	res, _ = run.Result()

	s.metrics.RunFinished(res.State, time.Duration(res.DurationMS)*time.Millisecond)
	s.metrics.Artifacts(res.Artifacts, res.Cleared)
	slog.Info("Run settled",
		"run_id", res.RunID,
		"instance_id", res.InstanceID,
		"state", res.State,
		"error", res.Error,
		"artifacts", res.Artifacts,
		"duration_ms", res.DurationMS)

	if s.journal != nil {
		if err := s.journal.Write(res); err != nil {
			slog.Warn("Run journal write failed", "run_id", res.RunID, "error", err)
		}
	}
	s.lifecycle(run, settledLine(res))
	if s.onResult != nil {
		s.onResult(res)
	}
}

// LevelSystem marks console lines written by the supervisor rather than the script.
const LevelSystem = "system"

// lifecycle publishes a supervisor line on the console feed. It is not part
// of the run's own log.
func (s *Supervisor) lifecycle(run *Run, line string) {
	if s.onLog == nil || line == "" {
		return
	}
	s.onLog(LogEntry{RunID: run.id, InstanceID: run.instanceID, Level: LevelSystem, Line: line, Time: time.Now().UTC()})
}

func settledLine(res Result) string {
	switch res.State {
	case sandbox.StateCompleted.String():
		return "done"
	case sandbox.StateTimedOut.String():
		return "timed out"
	case sandbox.StateFailed.String():
		return "error: " + res.Error
	case sandbox.StateTerminated.String():
		return "terminated"
	}
	return ""
}

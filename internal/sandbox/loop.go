package sandbox

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/dgnsrekt/tv_sandbox/internal/id"
)

type jsTimer struct {
	fn   goja.Callable
	args []goja.Value
	t    *time.Timer
}

type rejection struct {
	p      *goja.Promise
	reason goja.Value
}

// loop is the VM-side state of a context. Everything here runs on the
// context goroutine.
type loop struct {
	c         *Context
	vm        *goja.Runtime
	bridge    *bridge
	stringify goja.Callable

	timers    map[int64]*jsTimer
	nextTimer int64

	rejections []rejection
	thrown     error
}

func newLoop(c *Context, vm *goja.Runtime) (*loop, error) {
	b, err := newBridge(vm, func(n int) { c.pending.Store(int64(n)) })
	if err != nil {
		return nil, err
	}
	stringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		return nil, errNoJSON
	}
	l := &loop{
		c:         c,
		vm:        vm,
		bridge:    b,
		stringify: stringify,
		timers:    make(map[int64]*jsTimer),
	}
	vm.SetPromiseRejectionTracker(l.track)
	if err := l.installGlobals(); err != nil {
		return nil, err
	}
	return l, nil
}

// start compiles, instantiates and invokes the entry point.
func (l *loop) start() (goja.Value, error) {
	prog, err := l.c.compiler.Compile(l.c.ins.SourceCode)
	if err != nil {
		return nil, err
	}
	entry, err := instantiate(l.vm, prog)
	if err != nil {
		return nil, err
	}
	env, err := buildEnv(l.vm, l.c.ins.EnvSpec, l.call)
	if err != nil {
		return nil, err
	}
	return entry(goja.Undefined(), env)
}

// call is the dispatch function handed to the environment builder.
func (l *loop) call(method string, params *goja.Object) goja.Value {
	rid := id.New()
	p := l.bridge.open(rid, method)

	raw, err := l.encode(params)
	if err != nil {
		l.bridge.settle(RPCReply{RPC: true, ID: rid, Error: "encode " + method + " params: " + err.Error()})
		return l.vm.ToValue(p)
	}
	l.c.emit(RPCRequest{RPC: true, ID: rid, Method: method, Params: raw})
	return l.vm.ToValue(p)
}

func (l *loop) encode(v goja.Value) (json.RawMessage, error) {
	out, err := l.stringify(goja.Undefined(), v)
	if err != nil {
		return nil, err
	}
	if isMissing(out) {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(out.String()), nil
}

func (l *loop) installGlobals() error {
	console := l.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		level := level
		if err := console.Set(level, func(fc goja.FunctionCall) goja.Value {
			l.c.emit(LogMessage{Type: "log", Level: level, Line: l.format(fc.Arguments)})
			return goja.Undefined()
		}); err != nil {
			return err
		}
	}
	if err := l.vm.Set("console", console); err != nil {
		return err
	}
	if err := l.vm.Set("setTimeout", l.setTimeout); err != nil {
		return err
	}
	return l.vm.Set("clearTimeout", l.clearTimeout)
}

func (l *loop) format(args []goja.Value) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if obj, ok := a.(*goja.Object); ok {
			if _, isFn := goja.AssertFunction(obj); !isFn {
				if raw, err := l.encode(obj); err == nil {
					parts[i] = string(raw)
					continue
				}
			}
		}
		if a == nil {
			parts[i] = "undefined"
			continue
		}
		parts[i] = a.String()
	}
	return strings.Join(parts, " ")
}

func (l *loop) setTimeout(fc goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(fc.Argument(0))
	if !ok {
		panic(l.vm.NewTypeError("setTimeout: callback is not a function"))
	}
	delay := fc.Argument(1).ToInteger()
	if delay < 0 {
		delay = 0
	}
	var args []goja.Value
	if len(fc.Arguments) > 2 {
		args = append(args, fc.Arguments[2:]...)
	}

	l.nextTimer++
	tid := l.nextTimer
	fired, kill, exited := l.c.fired, l.c.kill, l.c.exited
	l.timers[tid] = &jsTimer{
		fn:   fn,
		args: args,
		t: time.AfterFunc(time.Duration(delay)*time.Millisecond, func() {
			select {
			case fired <- tid:
			case <-kill:
			case <-exited:
			}
		}),
	}
	return l.vm.ToValue(tid)
}

func (l *loop) clearTimeout(fc goja.FunctionCall) goja.Value {
	tid := fc.Argument(0).ToInteger()
	if t, ok := l.timers[tid]; ok {
		t.t.Stop()
		delete(l.timers, tid)
	}
	return goja.Undefined()
}

func (l *loop) fire(tid int64) {
	t, ok := l.timers[tid]
	if !ok {
		return
	}
	delete(l.timers, tid)
	if _, err := t.fn(goja.Undefined(), t.args...); err != nil && l.thrown == nil {
		l.thrown = classify(err)
	}
}

func (l *loop) track(p *goja.Promise, op goja.PromiseRejectionOperation) {
	switch op {
	case goja.PromiseRejectionReject:
		l.rejections = append(l.rejections, rejection{p: p, reason: p.Result()})
	case goja.PromiseRejectionHandle:
		for i, r := range l.rejections {
			if r.p == p {
				l.rejections = append(l.rejections[:i], l.rejections[i+1:]...)
				break
			}
		}
	}
}

// uncaught returns the first error thrown by a timer callback.
func (l *loop) uncaught() error {
	return l.thrown
}

// reportUnhandled logs rejections still unhandled when the entry point
// settles. They never change the run's outcome; entry is skipped because its
// own rejection is the run's error.
func (l *loop) reportUnhandled(entry *goja.Promise) {
	for _, r := range l.rejections {
		if r.p == entry {
			continue
		}
		l.c.emit(LogMessage{Type: "log", Level: "warn", Line: "unhandled rejection: " + errorText(r.reason)})
	}
	l.rejections = nil
}

// close releases timers and pending requests. A terminated context rejects
// its pending requests; a finished one just drops them.
func (l *loop) close() {
	for tid, t := range l.timers {
		t.t.Stop()
		delete(l.timers, tid)
	}
	if l.c.killed() {
		// any reaction the rejections schedule aborts at its first instruction
		l.vm.Interrupt(errTerminated)
		l.bridge.rejectAll(errTerminated.Error())
		return
	}
	l.bridge.discard()
}

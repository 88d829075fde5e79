package sandbox

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"

	"github.com/dgnsrekt/tv_sandbox/internal/id"
	"github.com/dgnsrekt/tv_sandbox/internal/types"
)

const (
	DefaultTimeout    = 2000 * time.Millisecond
	defaultOutboxSize = 64
	maxCallStackSize  = 4096
)

var (
	errNoJSON     = errors.New("sandbox: JSON builtin unavailable")
	errTerminated = errors.New("execution context terminated")
)

// State is the lifecycle position of an execution context.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateTimedOut
	StateTerminated
)

var stateNames = [...]string{"created", "running", "completed", "failed", "timed_out", "terminated"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Context is one isolated execution of a script. The VM lives on a private
// goroutine; the host interacts only through Outbox, Post and Terminate.
type Context struct {
	id       string
	ins      RunInstruction
	compiler *Compiler

	outbox chan Message
	inbox  chan RPCReply
	fired  chan int64
	kill   chan struct{}
	exited chan struct{}

	killOnce sync.Once
	exitOnce sync.Once

	state   atomic.Int32
	pending atomic.Int64
	vm      atomic.Pointer[goja.Runtime]
	timer   *time.Timer

	mu  sync.Mutex
	err error
}

// Option configures a Context.
type Option func(*Context)

// WithID sets the context id (defaults to a fresh ULID).
func WithID(id string) Option { return func(c *Context) { c.id = id } }

// WithCompiler shares a compiler, and so its program cache, between contexts.
func WithCompiler(comp *Compiler) Option { return func(c *Context) { c.compiler = comp } }

// WithOutboxSize sets the buffer of the outbound and inbound message channels.
func WithOutboxSize(n int) Option {
	return func(c *Context) {
		if n > 0 {
			c.outbox = make(chan Message, n)
			c.inbox = make(chan RPCReply, n)
		}
	}
}

// New creates a context in the Created state.
func New(ins RunInstruction, opts ...Option) *Context {
	c := &Context{
		ins:    ins,
		outbox: make(chan Message, defaultOutboxSize),
		inbox:  make(chan RPCReply, defaultOutboxSize),
		fired:  make(chan int64, defaultOutboxSize),
		kill:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.id == "" {
		c.id = id.Prefixed("ctx")
	}
	if c.compiler == nil {
		c.compiler = NewCompiler(0)
	}
	if c.ins.TimeoutMS <= 0 {
		c.ins.TimeoutMS = int(DefaultTimeout / time.Millisecond)
	}
	return c
}

// Start moves the context to Running, arms the timeout and launches the VM.
func (c *Context) Start() error {
	if !c.transition(StateCreated, StateRunning) {
		return types.NewError(types.CodeTerminated, "execution context already started or terminated", nil)
	}
	c.timer = time.AfterFunc(time.Duration(c.ins.TimeoutMS)*time.Millisecond, c.onTimeout)
	go c.run()
	return nil
}

func (c *Context) ID() string                  { return c.id }
func (c *Context) Instruction() RunInstruction { return c.ins }
func (c *Context) State() State                { return State(c.state.Load()) }
func (c *Context) Outbox() <-chan Message      { return c.outbox }
func (c *Context) Exited() <-chan struct{}     { return c.exited }
func (c *Context) Pending() int                { return int(c.pending.Load()) }
func (c *Context) Terminated() bool            { return c.State() == StateTerminated }

func (c *Context) transition(from, to State) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// Err returns the error that ended the run, if any.
func (c *Context) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Context) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// Post delivers a reply to the context. It never blocks once the context is
// terminated or has exited, and reports whether the reply was accepted.
func (c *Context) Post(r RPCReply) bool {
	select {
	case <-c.kill:
		return false
	case <-c.exited:
		return false
	default:
	}
	select {
	case c.inbox <- r:
		return true
	case <-c.kill:
		return false
	case <-c.exited:
		return false
	}
}

// Terminate hard-kills the context. Pending requests are rejected, no further
// messages are emitted, and a running script is interrupted. Safe to call
// more than once and from any goroutine.
func (c *Context) Terminate() {
	c.killOnce.Do(func() {
		for {
			s := c.State()
			if s == StateCompleted || s == StateFailed || s == StateTerminated {
				break
			}
			if c.transition(s, StateTerminated) {
				if s == StateCreated {
					c.exitOnce.Do(func() { close(c.exited) })
				}
				break
			}
		}
		close(c.kill)
		if vm := c.vm.Load(); vm != nil {
			vm.Interrupt(errTerminated)
		}
	})
}

func (c *Context) onTimeout() {
	if !c.transition(StateRunning, StateTimedOut) {
		return
	}
	c.setErr(types.NewError(types.CodeTimeout, fmt.Sprintf("timed out after %dms", c.ins.TimeoutMS), nil))
	c.emit(DoneMessage{Type: "done", TimedOut: true})
}

// finish reports the outcome of a run that is still Running.
func (c *Context) finish(err error) {
	to := StateCompleted
	if err != nil {
		to = StateFailed
	}
	if !c.transition(StateRunning, to) {
		return
	}
	c.setErr(err)
	msg := DoneMessage{Type: "done"}
	if err != nil {
		msg.Error = types.Message(err)
	}
	c.emit(msg)
}

// emit posts m to the host unless the context has been terminated.
func (c *Context) emit(m Message) bool {
	select {
	case <-c.kill:
		return false
	default:
	}
	select {
	case c.outbox <- m:
		return true
	case <-c.kill:
		return false
	}
}

func (c *Context) killed() bool {
	select {
	case <-c.kill:
		return true
	default:
		return false
	}
}

func (c *Context) run() {
	defer c.exitOnce.Do(func() { close(c.exited) })
	defer c.timer.Stop()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("sandbox context panic", "context_id", c.id, "panic", r)
			c.finish(types.RuntimeError(fmt.Sprint(r)))
		}
	}()

	vm := goja.New()
	vm.SetMaxCallStackSize(maxCallStackSize)
	c.vm.Store(vm)
	if c.killed() {
		vm.Interrupt(errTerminated)
	}

	l, err := newLoop(c, vm)
	if err != nil {
		c.finish(err)
		return
	}
	defer l.close()

	v, err := l.start()
	if err != nil {
		c.finish(classify(err))
		return
	}
	p, isPromise := exportPromise(v)
	if !isPromise {
		l.reportUnhandled(nil)
		c.finish(l.uncaught())
		return
	}

	for {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			l.reportUnhandled(p)
			c.finish(nil)
			return
		case goja.PromiseStateRejected:
			l.reportUnhandled(p)
			c.finish(types.RuntimeError(errorText(p.Result())))
			return
		}
		if err := l.uncaught(); err != nil {
			c.finish(err)
			return
		}

		select {
		case r := <-c.inbox:
			l.bridge.settle(r)
		case tid := <-c.fired:
			l.fire(tid)
		case <-c.kill:
			return
		}
	}
}

func exportPromise(v goja.Value) (*goja.Promise, bool) {
	if v == nil {
		return nil, false
	}
	p, ok := v.Export().(*goja.Promise)
	return p, ok
}

// classify maps VM errors onto the error taxonomy.
func classify(err error) error {
	var coded *types.CodedError
	if errors.As(err, &coded) {
		return err
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return types.NewError(types.CodeTerminated, errTerminated.Error(), nil)
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return types.RuntimeError(errorText(ex.Value()))
	}
	return types.RuntimeError(err.Error())
}

// errorText renders a thrown value the way a script author expects to read it.
func errorText(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	if obj, ok := v.(*goja.Object); ok {
		if m := obj.Get("message"); !isMissing(m) && m.String() != "" {
			return m.String()
		}
	}
	return v.String()
}

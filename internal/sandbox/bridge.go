package sandbox

import (
	"log/slog"

	"github.com/dop251/goja"
)

// pendingRequest is an outstanding capability call awaiting its reply.
type pendingRequest struct {
	id      string
	method  string
	resolve func(interface{}) error
	reject  func(interface{}) error
}

// bridge correlates outbound calls with inbound replies. It is owned by the
// context's loop goroutine and must only be touched from there.
type bridge struct {
	vm      *goja.Runtime
	pending map[string]*pendingRequest
	parse   goja.Callable
	onSize  func(int)
}

func newBridge(vm *goja.Runtime, onSize func(int)) (*bridge, error) {
	parse, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("parse"))
	if !ok {
		return nil, errNoJSON
	}
	if onSize == nil {
		onSize = func(int) {}
	}
	return &bridge{
		vm:      vm,
		pending: make(map[string]*pendingRequest),
		parse:   parse,
		onSize:  onSize,
	}, nil
}

// open records a pending request under id and returns its promise.
func (b *bridge) open(id, method string) *goja.Promise {
	p, resolve, reject := b.vm.NewPromise()
	b.pending[id] = &pendingRequest{id: id, method: method, resolve: resolve, reject: reject}
	b.onSize(len(b.pending))
	return p
}

// settle resolves or rejects the request named by r.ID. Unknown ids are
// ignored and reported as false.
func (b *bridge) settle(r RPCReply) bool {
	req, ok := b.pending[r.ID]
	if !ok {
		slog.Debug("sandbox reply for unknown request ignored", "id", r.ID)
		return false
	}
	delete(b.pending, r.ID)
	b.onSize(len(b.pending))

	if r.Error != "" {
		b.fail(req, r.Error)
		return true
	}

	var result goja.Value = goja.Undefined()
	if len(r.Result) > 0 {
		v, err := b.parse(goja.Undefined(), b.vm.ToValue(string(r.Result)))
		if err != nil {
			b.fail(req, "decode "+req.method+" result: "+err.Error())
			return true
		}
		result = v
	}
	if err := req.resolve(result); err != nil {
		slog.Debug("sandbox resolve interrupted", "id", req.id, "method", req.method, "error", err)
	}
	return true
}

func (b *bridge) fail(req *pendingRequest, msg string) {
	if err := req.reject(newJSError(b.vm, msg)); err != nil {
		slog.Debug("sandbox reject interrupted", "id", req.id, "method", req.method, "error", err)
	}
}

// rejectAll rejects and forgets every pending request.
func (b *bridge) rejectAll(msg string) {
	for id, req := range b.pending {
		delete(b.pending, id)
		b.fail(req, msg)
	}
	b.onSize(0)
}

// discard forgets every pending request without running script code.
func (b *bridge) discard() {
	for id := range b.pending {
		delete(b.pending, id)
	}
	b.onSize(0)
}

// newJSError builds a JS Error object so scripts can read e.message.
func newJSError(vm *goja.Runtime, msg string) goja.Value {
	obj, err := vm.New(vm.Get("Error"), vm.ToValue(msg))
	if err != nil {
		return vm.ToValue(msg)
	}
	return obj
}

// Package sandbox runs user-authored indicator scripts in isolated execution
// contexts. A context owns an embedded JavaScript VM on its own goroutine and
// talks to the host only through messages: RPC requests and a single done
// message out, RPC replies in.
package sandbox

import (
	"encoding/json"

	"github.com/dgnsrekt/tv_sandbox/internal/types"
)

// RPC method names understood by the host.
const (
	MethodGetBars         = "getBars"
	MethodPlotLine        = "plot:line"
	MethodPlotBands       = "plot:bands"
	MethodPlotHistogram   = "plot:histogram"
	MethodPlotBoxes       = "plot:boxes"
	MethodPlotLabels      = "plot:labels"
	MethodAttachmentsList = "attachments:list"
	MethodAttachmentsCSV  = "attachments:csv"
)

// EnvSpec is the part of a run visible to the script as env.symbol / env.timeframe.
type EnvSpec struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

// RunInstruction starts an execution context.
type RunInstruction struct {
	Type       string  `json:"type"`
	SourceCode string  `json:"sourceCode"`
	EnvSpec    EnvSpec `json:"envSpec"`
	TimeoutMS  int     `json:"timeoutMs"`
}

// NewRunInstruction converts a RunSpec into the instruction posted to a context.
func NewRunInstruction(spec types.RunSpec) RunInstruction {
	return RunInstruction{
		Type:       "run",
		SourceCode: spec.SourceCode,
		EnvSpec:    EnvSpec{Symbol: spec.Symbol, Timeframe: spec.Timeframe},
		TimeoutMS:  spec.TimeoutMS,
	}
}

// Message is anything an execution context posts to the host.
type Message interface {
	message()
}

// RPCRequest is a capability call leaving the context.
type RPCRequest struct {
	RPC    bool            `json:"rpc"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// DoneMessage is posted exactly once when a run settles or times out.
type DoneMessage struct {
	Type     string `json:"type"`
	Error    string `json:"error,omitempty"`
	TimedOut bool   `json:"timedOut,omitempty"`
}

// LogMessage carries one console line from the script.
type LogMessage struct {
	Type  string `json:"type"`
	Level string `json:"level"`
	Line  string `json:"line"`
}

func (RPCRequest) message()  {}
func (DoneMessage) message() {}
func (LogMessage) message()  {}

// RPCReply is the host's answer to an RPCRequest.
type RPCReply struct {
	RPC    bool            `json:"rpc"`
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Reply marshals result into a successful reply for request id.
func Reply(id string, result any) RPCReply {
	raw, err := json.Marshal(result)
	if err != nil {
		return ErrorReply(id, types.RuntimeError("encode result: "+err.Error()))
	}
	return RPCReply{RPC: true, ID: id, Result: raw}
}

// ErrorReply builds a failed reply carrying the human-readable part of err.
func ErrorReply(id string, err error) RPCReply {
	return RPCReply{RPC: true, ID: id, Error: types.Message(err)}
}

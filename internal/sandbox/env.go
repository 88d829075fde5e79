package sandbox

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/dgnsrekt/tv_sandbox/internal/indicators"
)

// callFunc issues a capability call and returns a promise for its result.
type callFunc func(method string, params *goja.Object) goja.Value

var plotMethods = []struct {
	name   string
	method string
	key    string
}{
	{"line", MethodPlotLine, "series"},
	{"bands", MethodPlotBands, "series"},
	{"histogram", MethodPlotHistogram, "series"},
	{"boxes", MethodPlotBoxes, "boxes"},
	{"labels", MethodPlotLabels, "labels"},
}

// buildEnv constructs the frozen capability object handed to the entry point.
func buildEnv(vm *goja.Runtime, spec EnvSpec, call callFunc) (*goja.Object, error) {
	freeze, ok := goja.AssertFunction(vm.Get("Object").ToObject(vm).Get("freeze"))
	if !ok {
		return nil, fmt.Errorf("sandbox: Object.freeze unavailable")
	}

	plot := vm.NewObject()
	for _, pm := range plotMethods {
		pm := pm
		if err := plot.Set(pm.name, func(fc goja.FunctionCall) goja.Value {
			p := vm.NewObject()
			if id := fc.Argument(0); !isMissing(id) {
				_ = p.Set("id", id.String())
			}
			_ = p.Set(pm.key, fc.Argument(1))
			_ = p.Set("opts", fc.Argument(2))
			return call(pm.method, p)
		}); err != nil {
			return nil, err
		}
	}

	attachments := vm.NewObject()
	_ = attachments.Set("list", func(goja.FunctionCall) goja.Value {
		return call(MethodAttachmentsList, vm.NewObject())
	})
	_ = attachments.Set("csv", func(fc goja.FunctionCall) goja.Value {
		p := vm.NewObject()
		_ = p.Set("name", stringOr(fc.Argument(0), ""))
		return call(MethodAttachmentsCSV, p)
	})

	env := vm.NewObject()
	_ = env.Set("symbol", spec.Symbol)
	_ = env.Set("timeframe", spec.Timeframe)
	_ = env.Set("getBars", func(fc goja.FunctionCall) goja.Value {
		p := vm.NewObject()
		_ = p.Set("symbol", stringOr(fc.Argument(0), spec.Symbol))
		_ = p.Set("timeframe", stringOr(fc.Argument(1), spec.Timeframe))
		return call(MethodGetBars, p)
	})
	_ = env.Set("plot", plot)
	_ = env.Set("attachments", attachments)
	_ = env.Set("utils", buildUtils(vm))

	for _, v := range []goja.Value{plot, attachments, env.Get("utils"), env} {
		if _, err := freeze(goja.Undefined(), v); err != nil {
			return nil, err
		}
	}
	return env, nil
}

// buildUtils exposes the math library over plain numeric arrays.
func buildUtils(vm *goja.Runtime) *goja.Object {
	utils := vm.NewObject()
	_ = utils.Set("sma", func(fc goja.FunctionCall) goja.Value {
		return floatArray(vm, indicators.SMAValues(numbers(vm, fc.Argument(0)), intArg(fc.Argument(1), 14)))
	})
	_ = utils.Set("ema", func(fc goja.FunctionCall) goja.Value {
		return floatArray(vm, indicators.EMAValues(numbers(vm, fc.Argument(0)), intArg(fc.Argument(1), 14)))
	})
	_ = utils.Set("rsi", func(fc goja.FunctionCall) goja.Value {
		return floatArray(vm, indicators.RSIValues(numbers(vm, fc.Argument(0)), intArg(fc.Argument(1), 14)))
	})
	_ = utils.Set("bollinger", func(fc goja.FunctionCall) goja.Value {
		mult := 2.0
		if m := fc.Argument(2); !isMissing(m) {
			mult = m.ToFloat()
		}
		upper, basis, lower := indicators.BollingerValues(numbers(vm, fc.Argument(0)), intArg(fc.Argument(1), 20), mult)
		out := vm.NewObject()
		_ = out.Set("upper", floatArray(vm, upper))
		_ = out.Set("basis", floatArray(vm, basis))
		_ = out.Set("lower", floatArray(vm, lower))
		return out
	})
	return utils
}

func isMissing(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

func stringOr(v goja.Value, def string) string {
	if isMissing(v) || v.String() == "" {
		return def
	}
	return v.String()
}

func intArg(v goja.Value, def int) int {
	if isMissing(v) {
		return def
	}
	return int(v.ToInteger())
}

// numbers exports a JS array of numbers; anything else throws a TypeError in the script.
func numbers(vm *goja.Runtime, v goja.Value) []float64 {
	if isMissing(v) {
		panic(vm.NewTypeError("expected an array of numbers"))
	}
	var xs []float64
	if err := vm.ExportTo(v, &xs); err != nil {
		panic(vm.NewTypeError("expected an array of numbers: " + err.Error()))
	}
	return xs
}

func floatArray(vm *goja.Runtime, xs []float64) goja.Value {
	items := make([]interface{}, len(xs))
	for i, x := range xs {
		items[i] = x
	}
	return vm.NewArray(items...)
}

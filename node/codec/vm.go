package codec

import (
	"log/slog"

	"github.com/dop251/goja"
)

// helpers are the globals a run may install; they are cleared before a
// runtime goes back to the pool.
var helpers = []string{"getState", "setState", "nextCounter", "Encode", "Decode"}

// vmPool recycles goja runtimes between codec runs.
type vmPool struct {
	pool chan *goja.Runtime
}

func newVMPool(size int) *vmPool {
	if size <= 0 {
		size = 4
	}
	return &vmPool{pool: make(chan *goja.Runtime, size)}
}

func (p *vmPool) get() *goja.Runtime {
	select {
	case vm := <-p.pool:
		return vm
	default:
		return newVM()
	}
}

func (p *vmPool) put(vm *goja.Runtime) {
	vm.ClearInterrupt()
	for _, name := range helpers {
		_ = vm.Set(name, goja.Undefined())
	}
	select {
	case p.pool <- vm:
	default:
	}
}

func newVM() *goja.Runtime {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		args := make([]interface{}, len(call.Arguments))
		for i, a := range call.Arguments {
			args[i] = a.Export()
		}
		slog.Debug("codec console", "component", "codec", "args", args)
		return goja.Undefined()
	})
	_ = vm.Set("console", console)
	return vm
}

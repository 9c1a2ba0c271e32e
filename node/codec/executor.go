package codec

import (
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/R3DPanda1/LWN-Node/node/metrics"
)

var (
	ErrTimeout       = errors.New("codec: execution timeout")
	ErrInvalidResult = errors.New("codec: invalid return value")
)

const DefaultTimeout = 100 * time.Millisecond

type Option func(*Executor)

func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

func WithPoolSize(n int) Option {
	return func(e *Executor) { e.pool = newVMPool(n) }
}

// Executor runs codecs on pooled runtimes, interrupting runs that exceed
// the timeout.
type Executor struct {
	pool    *vmPool
	timeout time.Duration
}

func NewExecutor(opts ...Option) *Executor {
	e := &Executor{pool: newVMPool(0), timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Encode calls Encode(fPort, obj) and returns the bytes it produced.
func (e *Executor) Encode(c *Codec, fPort uint8, obj map[string]interface{}, st *State) ([]byte, error) {
	if !c.hasEncode {
		return nil, ErrNoEncode
	}
	if obj == nil {
		obj = map[string]interface{}{}
	}
	var out []byte
	err := e.run("encode", c, st, func(vm *goja.Runtime) error {
		fn, _ := goja.AssertFunction(vm.Get("Encode"))
		res, err := fn(goja.Undefined(), vm.ToValue(fPort), vm.ToValue(obj))
		if err != nil {
			return err
		}
		out, err = toBytes(res)
		return err
	})
	return out, err
}

// Decode calls Decode(fPort, bytes) and returns the object it produced.
func (e *Executor) Decode(c *Codec, fPort uint8, data []byte, st *State) (map[string]interface{}, error) {
	if !c.hasDecode {
		return nil, ErrNoDecode
	}
	arr := make([]interface{}, len(data))
	for i, b := range data {
		arr[i] = int64(b)
	}
	var out map[string]interface{}
	err := e.run("decode", c, st, func(vm *goja.Runtime) error {
		fn, _ := goja.AssertFunction(vm.Get("Decode"))
		res, err := fn(goja.Undefined(), vm.ToValue(fPort), vm.ToValue(arr))
		if err != nil {
			return err
		}
		exported := res.Export()
		if exported == nil {
			out = map[string]interface{}{}
			return nil
		}
		m, ok := exported.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%w: expected object, got %T", ErrInvalidResult, exported)
		}
		out = m
		return nil
	})
	return out, err
}

func (e *Executor) run(function string, c *Codec, st *State, call func(*goja.Runtime) error) error {
	vm := e.pool.get()
	defer e.pool.put(vm)

	timer := time.AfterFunc(e.timeout, func() { vm.Interrupt(ErrTimeout) })
	defer timer.Stop()

	err := func() error {
		if st != nil {
			if err := st.inject(vm); err != nil {
				return err
			}
		}
		if _, err := vm.RunProgram(c.program); err != nil {
			return err
		}
		return call(vm)
	}()

	var interrupted *goja.InterruptedError
	switch {
	case err == nil:
		metrics.CodecExecutions.WithLabelValues(function, "ok").Inc()
		return nil
	case errors.As(err, &interrupted):
		metrics.CodecExecutions.WithLabelValues(function, "timeout").Inc()
		return ErrTimeout
	default:
		metrics.CodecExecutions.WithLabelValues(function, "error").Inc()
		if errors.Is(err, ErrInvalidResult) {
			return err
		}
		return fmt.Errorf("codec %s: %s: %w", c.Name, function, err)
	}
}

func toBytes(v goja.Value) ([]byte, error) {
	exported := v.Export()
	if exported == nil {
		return []byte{}, nil
	}
	arr, ok := exported.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: expected array, got %T", ErrInvalidResult, exported)
	}
	out := make([]byte, len(arr))
	for i, el := range arr {
		var n float64
		switch x := el.(type) {
		case int64:
			n = float64(x)
		case float64:
			n = x
		default:
			return nil, fmt.Errorf("%w: element %d is %T", ErrInvalidResult, i, el)
		}
		if n < 0 || n > 255 || n != float64(int64(n)) {
			return nil, fmt.Errorf("%w: element %d out of byte range: %v", ErrInvalidResult, i, n)
		}
		out[i] = byte(n)
	}
	return out, nil
}

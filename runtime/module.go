package runtime

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	flowbridge "github.com/wippyai/flow-bridge"
	"github.com/wippyai/flow-bridge/codec"
	"github.com/wippyai/flow-bridge/errors"
)

// Module is a compiled Flow module. It is safe for concurrent use.
type Module struct {
	funcsErr  error
	bridge    *Bridge
	state     *runtimeState
	funcs     map[string]*Function
	origin    string
	handle    flowbridge.Handle
	funcsOnce sync.Once
}

// Origin returns the file path the module was loaded from, or
// CompiledOrigin for modules compiled from source.
func (m *Module) Origin() string {
	return m.origin
}

// Loaded reports whether the module has not been closed.
func (m *Module) Loaded() bool {
	m.bridge.mu.Lock()
	defer m.bridge.mu.Unlock()
	return m.handle != 0
}

// Close unloads the module. Closing twice is a no-op.
func (m *Module) Close(ctx context.Context) error {
	b := m.bridge
	b.mu.Lock()
	defer b.mu.Unlock()
	if m.handle == 0 {
		return nil
	}
	b.lib.UnloadModule(ctx, m.handle)
	b.drainError(ctx, "flow_unload_module")
	m.handle = 0
	b.release(ctx, m.state)
	Logger().Debug("module unloaded", zap.String("origin", m.origin))
	return nil
}

// Call invokes a function with Go arguments and returns its result as
// int64, float64, string, bool or nil.
func (m *Module) Call(ctx context.Context, name string, args ...any) (any, error) {
	wire, err := codec.EncodeAll(args)
	if err != nil {
		if fe, ok := err.(*errors.Error); ok {
			fe.Path = append([]string{name}, fe.Path...)
		}
		return nil, err
	}
	res, err := m.CallWire(ctx, name, wire...)
	if err != nil {
		return nil, err
	}
	return codec.Decode(res)
}

// CallWire invokes a function with wire values.
func (m *Module) CallWire(ctx context.Context, name string, args ...flowbridge.WireValue) (flowbridge.WireValue, error) {
	if len(args) == 0 {
		args = nil
	}

	b := m.bridge
	b.mu.Lock()
	defer b.mu.Unlock()

	if m.handle == 0 {
		return flowbridge.WireValue{}, errors.NotInitialized(errors.PhaseCall, "module")
	}

	res := b.lib.Call(ctx, m.handle, name, args)
	if msg, failed := b.takeError(ctx); failed {
		Logger().Debug("call failed", zap.String("function", name), zap.String("error", msg))
		return flowbridge.WireValue{}, errors.Runtime(name, msg)
	}
	return res, nil
}

// Func is a callable bound to one module function.
type Func func(ctx context.Context, args ...any) (any, error)

// Func returns a callable for name. Names starting with an underscore are
// private and are never forwarded to the library.
func (m *Module) Func(name string) (Func, error) {
	if name == "" || strings.HasPrefix(name, "_") {
		return nil, errors.New(errors.PhaseCall, errors.KindInvalidInput).
			Value(name).
			Detail("module has no attribute %q", name).
			Build()
	}
	return func(ctx context.Context, args ...any) (any, error) {
		return m.Call(ctx, name, args...)
	}, nil
}

// Function is a module function together with its reflected signature.
type Function struct {
	Info   *FunctionInfo
	module *Module
}

// Call invokes the function.
func (f *Function) Call(ctx context.Context, args ...any) (any, error) {
	return f.module.Call(ctx, f.Info.Name, args...)
}

// Functions returns every function of the module keyed by name. The table
// is built once; a module's function set never changes after compilation.
func (m *Module) Functions(ctx context.Context) (map[string]*Function, error) {
	m.funcsOnce.Do(func() {
		names, err := m.ListFunctions(ctx)
		if err != nil {
			m.funcsErr = err
			return
		}
		funcs := make(map[string]*Function, len(names))
		for _, name := range names {
			info, err := m.FunctionInfo(ctx, name)
			if err != nil {
				m.funcsErr = err
				return
			}
			funcs[name] = &Function{Info: info, module: m}
		}
		m.funcs = funcs
	})
	return m.funcs, m.funcsErr
}

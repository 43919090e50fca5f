package runtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	flowbridge "github.com/wippyai/flow-bridge"
	"github.com/wippyai/flow-bridge/errors"
)

// Bridge owns the connection to one Library. libflow has a single global
// error slot and no internal locking, so every boundary call made through a
// Bridge holds its mutex, and the error slot is read and cleared before the
// mutex is released.
type Bridge struct {
	lib   flowbridge.Library
	state *runtimeState
	mu    sync.Mutex
}

// runtimeState is one Init/Cleanup pair of the native runtime. Runtime
// handles and live modules each hold a reference.
type runtimeState struct {
	refs int
}

// NewBridge wraps lib. Only one Bridge should exist per Library.
func NewBridge(lib flowbridge.Library) *Bridge {
	return &Bridge{lib: lib}
}

// Library returns the wrapped library.
func (b *Bridge) Library() flowbridge.Library {
	return b.lib
}

// NewRuntime returns a handle to the native runtime, initializing it if no
// other handle or module is keeping it alive.
func (b *Bridge) NewRuntime(ctx context.Context) (*Runtime, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != nil {
		b.state.refs++
		return &Runtime{bridge: b, state: b.state}, nil
	}

	if rc := b.lib.Init(ctx); rc != 0 {
		msg, ok := b.takeError(ctx)
		if !ok {
			msg = "unknown error"
		}
		Logger().Debug("flow_init failed", zap.Int32("status", rc), zap.String("error", msg))
		return nil, errors.Initialization(msg)
	}

	b.drainError(ctx, "flow_init")
	b.state = &runtimeState{refs: 1}
	Logger().Debug("flow runtime initialized")
	return &Runtime{bridge: b, state: b.state}, nil
}

// LoadModule loads a module without keeping a Runtime handle. The module
// keeps the runtime alive until it is closed.
func (b *Bridge) LoadModule(ctx context.Context, path string) (*Module, error) {
	rt, err := b.NewRuntime(ctx)
	if err != nil {
		return nil, err
	}
	defer rt.Close(ctx)
	return rt.LoadModule(ctx, path)
}

// Compile compiles source without keeping a Runtime handle.
func (b *Bridge) Compile(ctx context.Context, source string) (*Module, error) {
	rt, err := b.NewRuntime(ctx)
	if err != nil {
		return nil, err
	}
	defer rt.Close(ctx)
	return rt.Compile(ctx, source)
}

// takeError reads the error slot and clears it when it holds a message.
// Callers hold b.mu.
func (b *Bridge) takeError(ctx context.Context) (string, bool) {
	msg, ok := b.lib.GetError(ctx)
	if !ok || msg == "" {
		return "", false
	}
	b.lib.ClearError(ctx)
	return msg, true
}

// drainError clears an error left by an entry point whose failure has no
// caller to report to. Callers hold b.mu.
func (b *Bridge) drainError(ctx context.Context, entry string) {
	if msg, ok := b.takeError(ctx); ok {
		Logger().Warn("discarded pending error", zap.String("entry", entry), zap.String("error", msg))
	}
}

// pendingError returns the message entry left in the error slot as a
// reflection error, or nil when the slot is empty. Callers hold b.mu.
func (b *Bridge) pendingError(ctx context.Context, phase errors.Phase, entry string) error {
	msg, ok := b.takeError(ctx)
	if !ok {
		return nil
	}
	Logger().Debug("reflection failed", zap.String("entry", entry), zap.String("error", msg))
	return errors.New(phase, errors.KindReflection).
		Value(entry).
		Detail("%s", msg).
		Build()
}

func (b *Bridge) freeNames(ctx context.Context, names flowbridge.Ptr, count int32) {
	b.lib.FreeNames(ctx, names, count)
	b.drainError(ctx, "flow_reflect_free_names")
}

func (b *Bridge) freeFunctionInfo(ctx context.Context, info flowbridge.Ptr) {
	b.lib.FreeFunctionInfo(ctx, info)
	b.drainError(ctx, "flow_reflect_free_function_info")
}

// acquire adds a reference to st. Callers hold b.mu.
func (b *Bridge) acquire(st *runtimeState) {
	st.refs++
}

// release drops a reference and runs Cleanup when the last one goes.
// Callers hold b.mu.
func (b *Bridge) release(ctx context.Context, st *runtimeState) {
	st.refs--
	if st.refs > 0 {
		return
	}
	if st.refs < 0 {
		Logger().Error("runtime reference count below zero", zap.Int("refs", st.refs))
		return
	}
	b.lib.Cleanup(ctx)
	b.drainError(ctx, "flow_cleanup")
	if b.state == st {
		b.state = nil
	}
	Logger().Debug("flow runtime cleaned up")
}

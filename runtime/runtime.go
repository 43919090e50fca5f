package runtime

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	flowbridge "github.com/wippyai/flow-bridge"
	"github.com/wippyai/flow-bridge/errors"
)

// CompiledOrigin is the origin of modules compiled from source text.
const CompiledOrigin = "<compiled>"

// Runtime is a handle to the initialized native runtime.
type Runtime struct {
	bridge *Bridge
	state  *runtimeState
	closed bool
}

// Initialized reports whether this handle is still open.
func (r *Runtime) Initialized() bool {
	r.bridge.mu.Lock()
	defer r.bridge.mu.Unlock()
	return !r.closed
}

// Close releases this handle. The native runtime is cleaned up once every
// handle and every module created from it has been closed.
func (r *Runtime) Close(ctx context.Context) error {
	r.bridge.mu.Lock()
	defer r.bridge.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.bridge.release(ctx, r.state)
	return nil
}

// LoadModule loads and compiles a Flow source file.
func (r *Runtime) LoadModule(ctx context.Context, path string) (*Module, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindNotFound).
			Value(path).
			Cause(err).
			Detail("File not found: %s", path).
			Build()
	}
	if ext := filepath.Ext(path); ext != flowbridge.SourceExt {
		Logger().Warn("loading file without .flow extension", zap.String("path", path), zap.String("ext", ext))
	}

	return r.open(ctx, errors.PhaseLoad, path, func() flowbridge.Handle {
		return r.bridge.lib.LoadModule(ctx, path)
	})
}

// Compile compiles Flow source text. Source without functions yields a
// module with no functions.
func (r *Runtime) Compile(ctx context.Context, source string) (*Module, error) {
	return r.open(ctx, errors.PhaseCompile, CompiledOrigin, func() flowbridge.Handle {
		return r.bridge.lib.CompileString(ctx, source)
	})
}

func (r *Runtime) open(ctx context.Context, phase errors.Phase, origin string, load func() flowbridge.Handle) (*Module, error) {
	b := r.bridge
	b.mu.Lock()
	defer b.mu.Unlock()

	if r.closed {
		return nil, errors.NotInitialized(phase, "runtime")
	}

	h := load()
	if h == 0 {
		msg, ok := b.takeError(ctx)
		if !ok {
			msg = "Unknown error"
		}
		Logger().Debug("module load failed", zap.String("origin", origin), zap.String("error", msg))
		return nil, errors.Compile(phase, msg)
	}

	b.drainError(ctx, "load")
	b.acquire(r.state)
	Logger().Debug("module loaded", zap.String("origin", origin), zap.Uint64("handle", uint64(h)))
	return &Module{
		bridge: b,
		state:  r.state,
		handle: h,
		origin: origin,
	}, nil
}

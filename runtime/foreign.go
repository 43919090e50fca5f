package runtime

import (
	"context"

	"github.com/wippyai/flow-bridge/errors"
)

// RegisterForeignModule tells the runtime that adapter exposes module with
// the given functions, so Flow code can reflect on it.
func (r *Runtime) RegisterForeignModule(ctx context.Context, adapter, module string, functions []string) error {
	b := r.bridge
	b.mu.Lock()
	defer b.mu.Unlock()

	if r.closed {
		return errors.NotInitialized(errors.PhaseForeign, "runtime")
	}
	rc := b.lib.RegisterForeignModule(ctx, adapter, module, functions)
	if err := b.pendingError(ctx, errors.PhaseForeign, "flow_reflect_register_foreign_module"); err != nil {
		return err
	}
	if rc != 0 {
		return errors.New(errors.PhaseForeign, errors.KindInvalidInput).
			Path(adapter, module).
			Detail("register foreign module: status %d", rc).
			Build()
	}
	return nil
}

// HasForeignModule reports whether adapter registered module.
func (r *Runtime) HasForeignModule(ctx context.Context, adapter, module string) (bool, error) {
	b := r.bridge
	b.mu.Lock()
	defer b.mu.Unlock()

	if r.closed {
		return false, errors.NotInitialized(errors.PhaseForeign, "runtime")
	}
	rc := b.lib.HasForeignModule(ctx, adapter, module)
	if err := b.pendingError(ctx, errors.PhaseForeign, "flow_reflect_has_foreign_module"); err != nil {
		return false, err
	}
	switch rc {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, errors.New(errors.PhaseForeign, errors.KindInvalidInput).
			Path(adapter, module).
			Detail("query foreign module: status %d", rc).
			Build()
	}
}

// ForeignFunctionCount returns how many functions a foreign module registered.
func (r *Runtime) ForeignFunctionCount(ctx context.Context, adapter, module string) (int, error) {
	b := r.bridge
	b.mu.Lock()
	defer b.mu.Unlock()

	if r.closed {
		return 0, errors.NotInitialized(errors.PhaseForeign, "runtime")
	}
	n := b.lib.ForeignFunctionCount(ctx, adapter, module)
	if err := b.pendingError(ctx, errors.PhaseForeign, "flow_reflect_foreign_function_count"); err != nil {
		return 0, err
	}
	return int(n), nil
}

// ForeignFunctions returns the function names of a foreign module.
func (r *Runtime) ForeignFunctions(ctx context.Context, adapter, module string) ([]string, error) {
	b := r.bridge
	b.mu.Lock()
	defer b.mu.Unlock()

	if r.closed {
		return nil, errors.NotInitialized(errors.PhaseForeign, "runtime")
	}
	arr, n := b.lib.ForeignFunctions(ctx, adapter, module)
	if err := b.pendingError(ctx, errors.PhaseForeign, "flow_reflect_foreign_functions"); err != nil {
		if arr != 0 && n > 0 {
			b.freeNames(ctx, arr, n)
		}
		return nil, err
	}
	if n < 0 {
		return nil, errors.NotFound(errors.PhaseForeign, "foreign module", adapter+"/"+module)
	}
	if arr != 0 {
		defer b.freeNames(ctx, arr, n)
	}
	if n == 0 {
		return []string{}, nil
	}
	if arr == 0 {
		return nil, errors.Protocol(errors.PhaseForeign, "null names array")
	}
	return readNames(ctx, b.lib, errors.PhaseForeign, arr, n, "foreign function")
}

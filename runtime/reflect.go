package runtime

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	flowbridge "github.com/wippyai/flow-bridge"
	"github.com/wippyai/flow-bridge/codec"
	"github.com/wippyai/flow-bridge/errors"
)

// ParamInfo is a declared function parameter.
type ParamInfo struct {
	Name string
	Type string
}

// FunctionInfo describes a compiled function.
type FunctionInfo struct {
	Name       string
	ReturnType string
	Params     []ParamInfo
}

// Signature renders the function as "name(a: int, b: int) -> int".
func (f *FunctionInfo) Signature() string {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = p.Name + ": " + p.Type
	}
	return fmt.Sprintf("%s(%s) -> %s", f.Name, strings.Join(params, ", "), f.ReturnType)
}

// WIT renders the function in WIT syntax, e.g. "add: func(a: s64, b: s64) -> s64".
func (f *FunctionInfo) WIT() (string, error) {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		t, err := codec.WITType(p.Type)
		if err != nil {
			return "", err
		}
		params[i] = p.Name + ": " + codec.WITName(t)
	}
	s := fmt.Sprintf("%s: func(%s)", f.Name, strings.Join(params, ", "))
	rt, err := codec.WITType(f.ReturnType)
	if err != nil {
		return "", err
	}
	if rt != nil {
		s += " -> " + codec.WITName(rt)
	}
	return s, nil
}

// FunctionCount returns the number of functions in the module.
func (m *Module) FunctionCount(ctx context.Context) (int, error) {
	b := m.bridge
	b.mu.Lock()
	defer b.mu.Unlock()

	if m.handle == 0 {
		return 0, errors.NotInitialized(errors.PhaseReflect, "module")
	}
	n := b.lib.FunctionCount(ctx, m.handle)
	if err := b.pendingError(ctx, errors.PhaseReflect, "flow_reflect_function_count"); err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.Reflection("failed to get function count")
	}
	return int(n), nil
}

// ListFunctions returns the names of all functions in library order.
func (m *Module) ListFunctions(ctx context.Context) ([]string, error) {
	b := m.bridge
	b.mu.Lock()
	defer b.mu.Unlock()

	if m.handle == 0 {
		return nil, errors.NotInitialized(errors.PhaseReflect, "module")
	}

	count := b.lib.FunctionCount(ctx, m.handle)
	if err := b.pendingError(ctx, errors.PhaseReflect, "flow_reflect_function_count"); err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, errors.Reflection("failed to get function count")
	}
	if count == 0 {
		return []string{}, nil
	}

	arr, n := b.lib.ListFunctions(ctx, m.handle)
	if err := b.pendingError(ctx, errors.PhaseReflect, "flow_reflect_list_functions"); err != nil {
		if arr != 0 && n > 0 {
			b.freeNames(ctx, arr, n)
		}
		return nil, err
	}
	if n < 0 {
		return nil, errors.Reflection("failed to list functions")
	}
	if arr != 0 {
		defer b.freeNames(ctx, arr, n)
	}
	if n != count {
		Logger().Warn("function count changed between reflection calls",
			zap.Int32("count", count), zap.Int32("listed", n))
	}
	if n == 0 {
		return []string{}, nil
	}
	if arr == 0 {
		return nil, errors.Protocol(errors.PhaseReflect, "null names array")
	}
	return readNames(ctx, b.lib, errors.PhaseReflect, arr, n, "function name")
}

// FunctionNameAt returns the name of the function at index. The string is
// owned by the module and is not freed.
func (m *Module) FunctionNameAt(ctx context.Context, index int) (string, error) {
	b := m.bridge
	b.mu.Lock()
	defer b.mu.Unlock()

	if m.handle == 0 {
		return "", errors.NotInitialized(errors.PhaseReflect, "module")
	}
	p := b.lib.FunctionNameAt(ctx, m.handle, int32(index))
	if err := b.pendingError(ctx, errors.PhaseReflect, "flow_reflect_function_name_at"); err != nil {
		return "", err
	}
	if p == 0 {
		return "", errors.New(errors.PhaseReflect, errors.KindReflection).
			Value(index).
			Detail("no function at index %d", index).
			Build()
	}
	return m.readString(ctx, p, fmt.Sprintf("function name %d", index))
}

// FunctionInfo returns the signature of a function. The descriptor
// allocated by the library is freed before returning, on every path.
func (m *Module) FunctionInfo(ctx context.Context, name string) (*FunctionInfo, error) {
	b := m.bridge
	b.mu.Lock()
	defer b.mu.Unlock()

	if m.handle == 0 {
		return nil, errors.NotInitialized(errors.PhaseReflect, "module")
	}

	p := b.lib.GetFunctionInfo(ctx, m.handle, name)
	if err := b.pendingError(ctx, errors.PhaseReflect, "flow_reflect_get_function_info"); err != nil {
		if p != 0 {
			b.freeFunctionInfo(ctx, p)
		}
		return nil, err
	}
	if p == 0 {
		return nil, errors.New(errors.PhaseReflect, errors.KindReflection).
			Value(name).
			Detail("function %q not found in module", name).
			Build()
	}
	defer b.freeFunctionInfo(ctx, p)

	raw, err := b.lib.ReadFunctionInfo(ctx, p)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseReflect, errors.KindProtocol, err, "read function info")
	}

	info := &FunctionInfo{}
	if info.Name, err = m.readString(ctx, raw.Name, "function name"); err != nil {
		return nil, err
	}
	info.ReturnType = "void"
	if raw.ReturnType != 0 {
		if info.ReturnType, err = m.readString(ctx, raw.ReturnType, "return type"); err != nil {
			return nil, err
		}
	}

	if raw.ParamCount < 0 {
		return nil, errors.Protocol(errors.PhaseReflect, fmt.Sprintf("negative parameter count %d", raw.ParamCount))
	}
	if raw.ParamCount > 0 && raw.Params == 0 {
		return nil, errors.Protocol(errors.PhaseReflect, "null parameter array")
	}
	info.Params = make([]ParamInfo, raw.ParamCount)
	for i := range info.Params {
		rp, err := b.lib.ReadParamInfo(ctx, raw.Params, int32(i))
		if err != nil {
			return nil, errors.Wrap(errors.PhaseReflect, errors.KindProtocol, err, fmt.Sprintf("read parameter %d", i))
		}
		if info.Params[i].Name, err = m.readString(ctx, rp.Name, fmt.Sprintf("parameter %d name", i)); err != nil {
			return nil, err
		}
		if info.Params[i].Type, err = m.readString(ctx, rp.Type, fmt.Sprintf("parameter %d type", i)); err != nil {
			return nil, err
		}
	}
	return info, nil
}

// Inspect renders a human readable listing of the module's functions.
// A function whose info cannot be read is reported inline.
func (m *Module) Inspect(ctx context.Context) (string, error) {
	names, err := m.ListFunctions(ctx)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "Module contains no functions", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Module contains %d function(s):\n\n", len(names))
	for _, name := range names {
		info, err := m.FunctionInfo(ctx, name)
		if err != nil {
			fmt.Fprintf(&sb, "  %s (error getting info: %v)\n", name, err)
			continue
		}
		sb.WriteString("  ")
		sb.WriteString(info.Signature())
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// readString decodes a NUL-terminated UTF-8 string. Callers hold the bridge lock.
func (m *Module) readString(ctx context.Context, p flowbridge.Ptr, what string) (string, error) {
	return readString(ctx, m.bridge.lib, errors.PhaseReflect, p, what)
}

func readString(ctx context.Context, lib flowbridge.Library, phase errors.Phase, p flowbridge.Ptr, what string) (string, error) {
	if p == 0 {
		return "", errors.New(phase, errors.KindProtocol).
			Path(what).
			Detail("null string").
			Build()
	}
	s, err := lib.ReadString(ctx, p)
	if err != nil {
		return "", errors.New(phase, errors.KindProtocol).
			Path(what).
			Cause(err).
			Detail("read string").
			Build()
	}
	if !utf8.ValidString(s) {
		return "", errors.New(phase, errors.KindProtocol).
			Path(what).
			Cause(errors.InvalidUTF8(phase, []string{what}, []byte(s))).
			Detail("string is not UTF-8").
			Build()
	}
	return s, nil
}

// readNames decodes a names array of n entries.
func readNames(ctx context.Context, lib flowbridge.Library, phase errors.Phase, arr flowbridge.Ptr, n int32, what string) ([]string, error) {
	ptrs, err := lib.ReadPtrArray(ctx, arr, n)
	if err != nil {
		return nil, errors.Wrap(phase, errors.KindProtocol, err, "read names array")
	}
	names := make([]string, len(ptrs))
	for i, p := range ptrs {
		s, err := readString(ctx, lib, phase, p, fmt.Sprintf("%s %d", what, i))
		if err != nil {
			return nil, err
		}
		names[i] = s
	}
	return names, nil
}

package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	flowbridge "github.com/wippyai/flow-bridge"
	"github.com/wippyai/flow-bridge/errors"
)

// ErrRequiredExport matches errors for a guest that lacks a libflow export
// or exports it with an unexpected signature.
var ErrRequiredExport = &errors.Error{Kind: errors.KindMissingExport}

// Library implements flowbridge.Library over libflow running in wazero.
// Calls into the guest are serialized. A trap or host-side marshalling
// failure is reported through GetError like a native error, so callers see
// it as the failure of the operation that caused it.
type Library struct {
	runtime wazero.Runtime
	mem     flowbridge.Memory
	alloc   *guestAllocator
	fns     map[string]guestFunc
	fsRoot  string
	hostErr string
	mu      sync.Mutex
}

var _ flowbridge.Library = (*Library)(nil)

// newLibrary resolves every required export through lookup.
func newLibrary(mem flowbridge.Memory, lookup func(name string) guestFunc, fsRoot string) (*Library, error) {
	if mem == nil {
		return nil, errors.MissingExport("memory")
	}
	names := make([]string, 0, len(requiredExports))
	for name := range requiredExports {
		names = append(names, name)
	}
	sort.Strings(names)

	fns := make(map[string]guestFunc, len(names))
	for _, name := range names {
		fn := lookup(name)
		if fn == nil {
			return nil, errors.MissingExport(name)
		}
		fns[name] = fn
	}
	return &Library{
		mem:    mem,
		fns:    fns,
		fsRoot: fsRoot,
		alloc: &guestAllocator{
			mallocFn: fns[exportMalloc],
			freeFn:   fns[exportFree],
		},
	}, nil
}

// Memory returns the guest's linear memory.
func (l *Library) Memory() flowbridge.Memory {
	return l.mem
}

// Close releases the wazero runtime and everything instantiated in it.
func (l *Library) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.runtime == nil {
		return nil
	}
	err := l.runtime.Close(ctx)
	l.runtime = nil
	return err
}

func (l *Library) enter(ctx context.Context) func() {
	l.mu.Lock()
	l.alloc.setContext(ctx)
	return l.mu.Unlock
}

// invoke calls a guest export and returns its first result.
func (l *Library) invoke(ctx context.Context, name string, params ...uint64) (uint64, bool) {
	res, err := l.fns[name].Call(ctx, params...)
	if err != nil {
		l.fail(name, err)
		return 0, false
	}
	if len(res) == 0 {
		return 0, true
	}
	return res[0], true
}

// fail records a host-side failure. The first one wins until ClearError.
func (l *Library) fail(op string, err error) {
	Logger().Error("guest call failed", zap.String("op", op), zap.Error(err))
	if l.hostErr == "" {
		l.hostErr = fmt.Sprintf("%s: %v", op, err)
	}
}

// cstrings copies each string into guest memory. On failure nothing is
// left allocated.
func (l *Library) cstrings(ss ...string) ([]uint32, error) {
	ptrs := make([]uint32, 0, len(ss))
	for _, s := range ss {
		p, err := writeCString(l.mem, l.alloc, s)
		if err != nil {
			l.free(ptrs...)
			return nil, err
		}
		ptrs = append(ptrs, p)
	}
	return ptrs, nil
}

func (l *Library) free(ptrs ...uint32) {
	for _, p := range ptrs {
		l.alloc.Free(p)
	}
}

// outSlot allocates a zeroed pointer-sized out parameter.
func (l *Library) outSlot() (uint32, error) {
	p, err := l.alloc.Alloc(ptrSize)
	if err != nil {
		return 0, err
	}
	if err := l.mem.WriteU32(p, 0); err != nil {
		l.alloc.Free(p)
		return 0, err
	}
	return p, nil
}

// guestPath maps a host path to the guest filesystem, which mounts fsRoot
// at "/". Paths outside fsRoot are passed through and fail in the guest.
func (l *Library) guestPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	root := l.fsRoot
	if root == "" {
		root = "/"
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return "/" + filepath.ToSlash(rel)
}

func (l *Library) Init(ctx context.Context) int32 {
	defer l.enter(ctx)()
	rc, ok := l.invoke(ctx, exportInit)
	if !ok {
		return -1
	}
	return int32(uint32(rc))
}

func (l *Library) Cleanup(ctx context.Context) {
	defer l.enter(ctx)()
	l.invoke(ctx, exportCleanup)
}

func (l *Library) LoadModule(ctx context.Context, path string) flowbridge.Handle {
	defer l.enter(ctx)()
	return l.openModule(ctx, exportLoadModule, l.guestPath(path))
}

func (l *Library) CompileString(ctx context.Context, source string) flowbridge.Handle {
	defer l.enter(ctx)()
	return l.openModule(ctx, exportCompileString, source)
}

func (l *Library) openModule(ctx context.Context, export, arg string) flowbridge.Handle {
	ptrs, err := l.cstrings(arg)
	if err != nil {
		l.fail(export, err)
		return 0
	}
	defer l.free(ptrs...)
	h, _ := l.invoke(ctx, export, uint64(ptrs[0]))
	return flowbridge.Handle(uint32(h))
}

func (l *Library) UnloadModule(ctx context.Context, h flowbridge.Handle) {
	defer l.enter(ctx)()
	l.invoke(ctx, exportUnloadModule, uint64(h))
}

func (l *Library) Call(ctx context.Context, h flowbridge.Handle, function string, args []flowbridge.WireValue) flowbridge.WireValue {
	defer l.enter(ctx)()

	owned, err := l.cstrings(function)
	if err != nil {
		l.fail(exportCallV, err)
		return flowbridge.Void()
	}
	defer func() { l.free(owned...) }()
	fnPtr := owned[0]

	var argv uint32
	if args != nil {
		if argv, err = l.alloc.Alloc(uint32(len(args)) * valueSize); err != nil {
			l.fail(exportCallV, err)
			return flowbridge.Void()
		}
		owned = append(owned, argv)
		for i, a := range args {
			text, err := l.writeValue(argv+uint32(i)*valueSize, a)
			if text != 0 {
				owned = append(owned, text)
			}
			if err != nil {
				l.fail(exportCallV, fmt.Errorf("argument %d: %w", i, err))
				return flowbridge.Void()
			}
		}
	}

	sret, err := l.alloc.Alloc(valueSize)
	if err != nil {
		l.fail(exportCallV, err)
		return flowbridge.Void()
	}
	owned = append(owned, sret)
	if _, err := l.writeValue(sret, flowbridge.Void()); err != nil {
		l.fail(exportCallV, err)
		return flowbridge.Void()
	}

	if _, ok := l.invoke(ctx, exportCallV,
		uint64(sret), uint64(h), uint64(fnPtr), uint64(len(args)), uint64(argv)); !ok {
		return flowbridge.Void()
	}

	res, err := l.readValue(sret)
	if err != nil {
		l.fail(exportCallV, err)
		return flowbridge.Void()
	}
	return res
}

// writeValue stores v as a flow_value_t at. For text values it returns the
// guest copy of the text, which the caller frees.
func (l *Library) writeValue(at uint32, v flowbridge.WireValue) (uint32, error) {
	if err := l.mem.WriteU32(at+valueTagOffset, uint32(v.Type)); err != nil {
		return 0, err
	}
	if err := l.mem.WriteU32(at+valueTagOffset+4, 0); err != nil {
		return 0, err
	}

	var payload uint64
	var text uint32
	switch v.Type {
	case flowbridge.TypeInt:
		payload = uint64(v.Int)
	case flowbridge.TypeFloat:
		payload = math.Float64bits(v.Float)
	case flowbridge.TypeBool:
		if v.Bool {
			payload = 1
		}
	case flowbridge.TypeString:
		if !v.TextNull {
			p, err := writeCString(l.mem, l.alloc, v.Text)
			if err != nil {
				return 0, err
			}
			text = p
			payload = uint64(p)
		}
	}
	return text, l.mem.WriteU64(at+valuePayloadOffset, payload)
}

// readValue decodes the flow_value_t at. Result text is a heap copy owned
// by the caller and is freed once copied.
func (l *Library) readValue(at uint32) (flowbridge.WireValue, error) {
	tag, err := l.mem.ReadU32(at + valueTagOffset)
	if err != nil {
		return flowbridge.WireValue{}, err
	}
	payload, err := l.mem.ReadU64(at + valuePayloadOffset)
	if err != nil {
		return flowbridge.WireValue{}, err
	}

	switch t := flowbridge.ValueType(int32(tag)); t {
	case flowbridge.TypeInt:
		return flowbridge.Int(int64(payload)), nil
	case flowbridge.TypeFloat:
		return flowbridge.Float(math.Float64frombits(payload)), nil
	case flowbridge.TypeBool:
		return flowbridge.Bool(payload&0xff != 0), nil
	case flowbridge.TypeString:
		p := uint32(payload)
		if p == 0 {
			return flowbridge.WireValue{Type: flowbridge.TypeString, TextNull: true}, nil
		}
		s, err := readCString(l.mem, p)
		l.alloc.Free(p)
		if err != nil {
			return flowbridge.WireValue{}, err
		}
		return flowbridge.String(s), nil
	case flowbridge.TypeVoid:
		return flowbridge.Void(), nil
	default:
		return flowbridge.WireValue{Type: t}, nil
	}
}

// GetError returns a pending host-side failure first, then the guest's
// error slot.
func (l *Library) GetError(ctx context.Context) (string, bool) {
	defer l.enter(ctx)()
	if l.hostErr != "" {
		return l.hostErr, true
	}
	p, ok := l.invoke(ctx, exportGetError)
	if !ok {
		return l.hostErr, true
	}
	if uint32(p) == 0 {
		return "", false
	}
	msg, err := readCString(l.mem, uint32(p))
	if err != nil {
		return fmt.Sprintf("read error message: %v", err), true
	}
	return msg, true
}

func (l *Library) ClearError(ctx context.Context) {
	defer l.enter(ctx)()
	l.hostErr = ""
	l.invoke(ctx, exportClearError)
}

func (l *Library) FunctionCount(ctx context.Context, h flowbridge.Handle) int32 {
	defer l.enter(ctx)()
	n, ok := l.invoke(ctx, exportFunctionCount, uint64(h))
	if !ok {
		return -1
	}
	return int32(uint32(n))
}

func (l *Library) ListFunctions(ctx context.Context, h flowbridge.Handle) (flowbridge.Ptr, int32) {
	defer l.enter(ctx)()
	return l.listInto(ctx, exportListFunctions, uint64(h))
}

// listInto calls an export that returns a count and stores an array
// pointer through its last parameter.
func (l *Library) listInto(ctx context.Context, export string, params ...uint64) (flowbridge.Ptr, int32) {
	out, err := l.outSlot()
	if err != nil {
		l.fail(export, err)
		return 0, -1
	}
	defer l.free(out)

	n, ok := l.invoke(ctx, export, append(params, uint64(out))...)
	if !ok {
		return 0, -1
	}
	arr, err := l.mem.ReadU32(out)
	if err != nil {
		l.fail(export, err)
		return 0, -1
	}
	return flowbridge.Ptr(arr), int32(uint32(n))
}

func (l *Library) FreeNames(ctx context.Context, names flowbridge.Ptr, count int32) {
	defer l.enter(ctx)()
	l.invoke(ctx, exportFreeNames, uint64(names), uint64(uint32(count)))
}

func (l *Library) FunctionNameAt(ctx context.Context, h flowbridge.Handle, index int32) flowbridge.Ptr {
	defer l.enter(ctx)()
	p, _ := l.invoke(ctx, exportFunctionNameAt, uint64(h), uint64(uint32(index)))
	return flowbridge.Ptr(uint32(p))
}

func (l *Library) GetFunctionInfo(ctx context.Context, h flowbridge.Handle, function string) flowbridge.Ptr {
	defer l.enter(ctx)()
	ptrs, err := l.cstrings(function)
	if err != nil {
		l.fail(exportGetFunctionInfo, err)
		return 0
	}
	defer l.free(ptrs...)
	p, _ := l.invoke(ctx, exportGetFunctionInfo, uint64(h), uint64(ptrs[0]))
	return flowbridge.Ptr(uint32(p))
}

func (l *Library) FreeFunctionInfo(ctx context.Context, info flowbridge.Ptr) {
	defer l.enter(ctx)()
	l.invoke(ctx, exportFreeFunctionInfo, uint64(info))
}

func guestPtr(p flowbridge.Ptr) (uint32, error) {
	if p == 0 {
		return 0, fmt.Errorf("null pointer")
	}
	if uint64(p) > math.MaxUint32 {
		return 0, fmt.Errorf("pointer %#x outside wasm32 memory", uint64(p))
	}
	return uint32(p), nil
}

func (l *Library) ReadString(ctx context.Context, p flowbridge.Ptr) (string, error) {
	defer l.enter(ctx)()
	gp, err := guestPtr(p)
	if err != nil {
		return "", fmt.Errorf("read string: %w", err)
	}
	return readCString(l.mem, gp)
}

func (l *Library) ReadPtrArray(ctx context.Context, p flowbridge.Ptr, n int32) ([]flowbridge.Ptr, error) {
	defer l.enter(ctx)()
	gp, err := guestPtr(p)
	if err != nil {
		return nil, fmt.Errorf("read array: %w", err)
	}
	if n < 0 {
		return nil, fmt.Errorf("read array: negative length %d", n)
	}
	data, err := l.mem.Read(gp, uint32(n)*ptrSize)
	if err != nil {
		return nil, fmt.Errorf("read array: %w", err)
	}
	out := make([]flowbridge.Ptr, n)
	for i := range out {
		out[i] = flowbridge.Ptr(binary.LittleEndian.Uint32(data[i*ptrSize:]))
	}
	return out, nil
}

func (l *Library) ReadFunctionInfo(ctx context.Context, p flowbridge.Ptr) (flowbridge.RawFunctionInfo, error) {
	defer l.enter(ctx)()
	gp, err := guestPtr(p)
	if err != nil {
		return flowbridge.RawFunctionInfo{}, fmt.Errorf("read function info: %w", err)
	}
	data, err := l.mem.Read(gp, infoSize)
	if err != nil {
		return flowbridge.RawFunctionInfo{}, fmt.Errorf("read function info: %w", err)
	}
	le := binary.LittleEndian
	return flowbridge.RawFunctionInfo{
		Name:       flowbridge.Ptr(le.Uint32(data[infoNameOffset:])),
		ReturnType: flowbridge.Ptr(le.Uint32(data[infoReturnTypeOffset:])),
		ParamCount: int32(le.Uint32(data[infoParamCountOffset:])),
		Params:     flowbridge.Ptr(le.Uint32(data[infoParamsOffset:])),
	}, nil
}

func (l *Library) ReadParamInfo(ctx context.Context, params flowbridge.Ptr, index int32) (flowbridge.RawParamInfo, error) {
	defer l.enter(ctx)()
	gp, err := guestPtr(params)
	if err != nil {
		return flowbridge.RawParamInfo{}, fmt.Errorf("read param info: %w", err)
	}
	if index < 0 {
		return flowbridge.RawParamInfo{}, fmt.Errorf("read param info: negative index %d", index)
	}
	data, err := l.mem.Read(gp+uint32(index)*paramInfoSize, paramInfoSize)
	if err != nil {
		return flowbridge.RawParamInfo{}, fmt.Errorf("read param info: %w", err)
	}
	le := binary.LittleEndian
	return flowbridge.RawParamInfo{
		Name: flowbridge.Ptr(le.Uint32(data[paramInfoNameOffset:])),
		Type: flowbridge.Ptr(le.Uint32(data[paramInfoTypeOffset:])),
	}, nil
}

func (l *Library) RegisterForeignModule(ctx context.Context, adapter, module string, functions []string) int32 {
	defer l.enter(ctx)()

	ptrs, err := l.cstrings(append([]string{adapter, module}, functions...)...)
	if err != nil {
		l.fail(exportRegisterForeign, err)
		return -1
	}
	defer l.free(ptrs...)

	var arr uint32
	if len(functions) > 0 {
		if arr, err = l.alloc.Alloc(uint32(len(functions)) * ptrSize); err != nil {
			l.fail(exportRegisterForeign, err)
			return -1
		}
		defer l.free(arr)
		for i, p := range ptrs[2:] {
			if err := l.mem.WriteU32(arr+uint32(i)*ptrSize, p); err != nil {
				l.fail(exportRegisterForeign, err)
				return -1
			}
		}
	}

	rc, ok := l.invoke(ctx, exportRegisterForeign,
		uint64(ptrs[0]), uint64(ptrs[1]), uint64(arr), uint64(len(functions)))
	if !ok {
		return -1
	}
	return int32(uint32(rc))
}

func (l *Library) HasForeignModule(ctx context.Context, adapter, module string) int32 {
	defer l.enter(ctx)()
	return l.foreignQuery(ctx, exportHasForeign, adapter, module)
}

func (l *Library) ForeignFunctionCount(ctx context.Context, adapter, module string) int32 {
	defer l.enter(ctx)()
	return l.foreignQuery(ctx, exportForeignFunctionCount, adapter, module)
}

func (l *Library) foreignQuery(ctx context.Context, export, adapter, module string) int32 {
	ptrs, err := l.cstrings(adapter, module)
	if err != nil {
		l.fail(export, err)
		return -1
	}
	defer l.free(ptrs...)
	rc, ok := l.invoke(ctx, export, uint64(ptrs[0]), uint64(ptrs[1]))
	if !ok {
		return -1
	}
	return int32(uint32(rc))
}

func (l *Library) ForeignFunctions(ctx context.Context, adapter, module string) (flowbridge.Ptr, int32) {
	defer l.enter(ctx)()
	ptrs, err := l.cstrings(adapter, module)
	if err != nil {
		l.fail(exportForeignFunctions, err)
		return 0, -1
	}
	defer l.free(ptrs...)
	return l.listInto(ctx, exportForeignFunctions, uint64(ptrs[0]), uint64(ptrs[1]))
}

package flowtest

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	flowbridge "github.com/wippyai/flow-bridge"
	"github.com/wippyai/flow-bridge/resource"
)

// Heap block types. Caller-owned blocks count toward Outstanding.
const (
	blockString uint32 = iota + 1
	blockNames
	blockInfo
	blockParams
	blockModuleString
)

const typeModule uint32 = 1

const (
	msgNotInitialized = "Runtime not initialized. Call flow_init() first."
	msgInvalidCall    = "Invalid parameters to flow_call_v"
)

type infoBlock struct {
	name       flowbridge.Ptr
	returnType flowbridge.Ptr
	params     flowbridge.Ptr
	paramCount int32
}

type paramBlock struct {
	name flowbridge.Ptr
	typ  flowbridge.Ptr
}

type loadedModule struct {
	prog  *Program
	names []flowbridge.Ptr
	path  string
}

type foreignModule struct {
	adapter   string
	module    string
	functions []string
}

// Library is an in-process implementation of the libflow entry points.
// It keeps the same single global error slot, hands out heap blocks the
// caller must free and counts every boundary crossing.
type Library struct {
	modules  *resource.Table
	heap     *resource.Table
	foreign  []foreignModule
	errSlot  string
	faults   []string
	lastArgs []flowbridge.WireValue
	opts     options

	faultMu sync.Mutex

	initialized   bool
	lastArgsNil   bool
	inFlight      atomic.Int32
	initCalls     atomic.Int64
	cleanupCalls  atomic.Int64
	unloads       atomic.Int64
	boundaryCalls atomic.Int64
}

type options struct {
	initFailure string
	badUTF8     map[string]bool
	nullNames   bool
	stepLimit   int
	countSkew   int32
	pause       func(entry string)
}

// Option configures a Library.
type Option func(*options)

// WithInitFailure makes Init fail with msg in the error slot.
func WithInitFailure(msg string) Option {
	return func(o *options) { o.initFailure = msg }
}

// WithStepLimit bounds the work a single call may do.
func WithStepLimit(n int) Option {
	return func(o *options) { o.stepLimit = n }
}

// WithInvalidUTF8Param makes GetFunctionInfo for function return a last
// parameter whose type string is not valid UTF-8.
func WithInvalidUTF8Param(function string) Option {
	return func(o *options) {
		if o.badUTF8 == nil {
			o.badUTF8 = make(map[string]bool)
		}
		o.badUTF8[function] = true
	}
}

// WithCountSkew makes FunctionCount disagree with ListFunctions by delta.
func WithCountSkew(delta int32) Option {
	return func(o *options) { o.countSkew = delta }
}

// WithNullNames makes ListFunctions return null entries.
func WithNullNames() Option {
	return func(o *options) { o.nullNames = true }
}

// WithPause calls fn on every boundary entry while the call is in flight.
// Tests use it to widen race windows.
func WithPause(fn func(entry string)) Option {
	return func(o *options) { o.pause = fn }
}

// New creates a Library.
func New(opts ...Option) *Library {
	l := &Library{
		modules: resource.NewTableAt(0x100, 0x100),
		heap:    resource.NewTableAt(0x10000, 0x10),
	}
	for _, opt := range opts {
		opt(&l.opts)
	}
	l.modules.Subscribe(resource.ObserverFunc(func(e resource.Event) {
		if e.Type == resource.EventDropped {
			l.unloads.Add(1)
		}
	}))
	return l
}

var _ flowbridge.Library = (*Library)(nil)

// enter records a boundary crossing and flags overlapping entries.
func (l *Library) enter(entry string) func() {
	l.boundaryCalls.Add(1)
	if n := l.inFlight.Add(1); n > 1 {
		l.fault("concurrent entry into %s", entry)
	}
	if l.opts.pause != nil {
		l.opts.pause(entry)
	}
	return func() { l.inFlight.Add(-1) }
}

func (l *Library) fault(format string, args ...any) {
	l.faultMu.Lock()
	defer l.faultMu.Unlock()
	l.faults = append(l.faults, fmt.Sprintf(format, args...))
}

func (l *Library) setError(format string, args ...any) {
	l.errSlot = fmt.Sprintf(format, args...)
}

func (l *Library) alloc(typ uint32, v any) flowbridge.Ptr {
	return flowbridge.Ptr(l.heap.Insert(typ, v))
}

func (l *Library) strdup(s string) flowbridge.Ptr {
	return l.alloc(blockString, s)
}

func (l *Library) free(p flowbridge.Ptr, want uint32) {
	if p == 0 {
		return
	}
	if _, ok := l.heap.GetTyped(resource.Handle(p), want); !ok {
		l.fault("invalid free of %#x", uintptr(p))
		return
	}
	l.heap.Remove(resource.Handle(p))
}

func (l *Library) module(h flowbridge.Handle) (*loadedModule, bool) {
	v, ok := l.modules.GetTyped(resource.Handle(h), typeModule)
	if !ok {
		return nil, false
	}
	return v.(*loadedModule), true
}

func (l *Library) Init(ctx context.Context) int32 {
	defer l.enter("flow_init")()
	l.initCalls.Add(1)
	if l.initialized {
		return 0
	}
	if l.opts.initFailure != "" {
		l.setError("%s", l.opts.initFailure)
		return -1
	}
	l.initialized = true
	return 0
}

func (l *Library) Cleanup(ctx context.Context) {
	defer l.enter("flow_cleanup")()
	l.cleanupCalls.Add(1)
	l.initialized = false
}

func (l *Library) register(prog *Program, path string) flowbridge.Handle {
	m := &loadedModule{prog: prog, path: path}
	for _, name := range prog.Names() {
		m.names = append(m.names, l.alloc(blockModuleString, name))
	}
	return flowbridge.Handle(l.modules.Insert(typeModule, m))
}

func (l *Library) LoadModule(ctx context.Context, path string) flowbridge.Handle {
	defer l.enter("flow_load_module")()
	if !l.initialized {
		l.setError(msgNotInitialized)
		return 0
	}
	if path == "" {
		l.setError("Invalid path parameter")
		return 0
	}
	src, err := os.ReadFile(path)
	if err != nil {
		l.setError("Failed to open file: %s", path)
		return 0
	}
	prog, err := Compile(string(src))
	if err != nil {
		l.setError("Compilation error: %v", err)
		return 0
	}
	return l.register(prog, path)
}

func (l *Library) CompileString(ctx context.Context, source string) flowbridge.Handle {
	defer l.enter("flow_compile_string")()
	if !l.initialized {
		l.setError(msgNotInitialized)
		return 0
	}
	prog, err := Compile(source)
	if err != nil {
		l.setError("Compilation error: %v", err)
		return 0
	}
	return l.register(prog, "inline_module")
}

func (l *Library) UnloadModule(ctx context.Context, h flowbridge.Handle) {
	defer l.enter("flow_unload_module")()
	m, ok := l.module(h)
	if !ok {
		l.fault("unload of unknown module %#x", uintptr(h))
		return
	}
	for _, p := range m.names {
		l.free(p, blockModuleString)
	}
	l.modules.Remove(resource.Handle(h))
}

func (l *Library) Call(ctx context.Context, h flowbridge.Handle, function string, args []flowbridge.WireValue) flowbridge.WireValue {
	defer l.enter("flowc_call_v")()
	l.lastArgs = args
	l.lastArgsNil = args == nil
	m, ok := l.module(h)
	if !l.initialized || !ok || function == "" {
		l.setError(msgInvalidCall)
		return flowbridge.Void()
	}
	for _, a := range args {
		if !a.Type.Valid() {
			l.setError("Unknown value type %d", int32(a.Type))
			return flowbridge.Void()
		}
	}
	result, err := m.prog.Call(function, args, l.opts.stepLimit)
	if err != nil {
		l.setError("%v", err)
		return flowbridge.Void()
	}
	return result
}

// GetError never reports a null slot: the native buffer is static.
func (l *Library) GetError(ctx context.Context) (string, bool) {
	defer l.enter("flow_get_error")()
	return l.errSlot, true
}

func (l *Library) ClearError(ctx context.Context) {
	defer l.enter("flow_clear_error")()
	l.errSlot = ""
}

func (l *Library) FunctionCount(ctx context.Context, h flowbridge.Handle) int32 {
	defer l.enter("flow_reflect_function_count")()
	m, ok := l.module(h)
	if !ok {
		return -1
	}
	return int32(len(m.names)) + l.opts.countSkew
}

func (l *Library) ListFunctions(ctx context.Context, h flowbridge.Handle) (flowbridge.Ptr, int32) {
	defer l.enter("flow_reflect_list_functions")()
	m, ok := l.module(h)
	if !ok {
		return 0, -1
	}
	if len(m.names) == 0 {
		return 0, 0
	}
	names := make([]flowbridge.Ptr, len(m.names))
	for i, name := range m.prog.Names() {
		if !l.opts.nullNames {
			names[i] = l.strdup(name)
		}
	}
	return l.alloc(blockNames, names), int32(len(names))
}

func (l *Library) FreeNames(ctx context.Context, names flowbridge.Ptr, count int32) {
	defer l.enter("flow_reflect_free_names")()
	l.freeNames(names, count)
}

func (l *Library) freeNames(names flowbridge.Ptr, count int32) {
	if names == 0 {
		return
	}
	v, ok := l.heap.GetTyped(resource.Handle(names), blockNames)
	if !ok {
		l.fault("invalid free of names array %#x", uintptr(names))
		return
	}
	arr := v.([]flowbridge.Ptr)
	if int(count) != len(arr) {
		l.fault("names array %#x freed with count %d, allocated %d", uintptr(names), count, len(arr))
	}
	for i := 0; i < int(count) && i < len(arr); i++ {
		l.free(arr[i], blockString)
	}
	l.heap.Remove(resource.Handle(names))
}

func (l *Library) FunctionNameAt(ctx context.Context, h flowbridge.Handle, index int32) flowbridge.Ptr {
	defer l.enter("flow_reflect_function_name_at")()
	m, ok := l.module(h)
	if !ok || index < 0 || int(index) >= len(m.names) {
		return 0
	}
	return m.names[index]
}

func (l *Library) GetFunctionInfo(ctx context.Context, h flowbridge.Handle, function string) flowbridge.Ptr {
	defer l.enter("flow_reflect_get_function_info")()
	m, ok := l.module(h)
	if !ok || function == "" {
		return 0
	}
	sig, ok := m.prog.Signature(function)
	if !ok {
		return 0
	}
	info := &infoBlock{
		name:       l.strdup(sig.Name),
		returnType: l.strdup(sig.Return),
		paramCount: int32(len(sig.Params)),
	}
	if len(sig.Params) > 0 {
		params := make([]paramBlock, len(sig.Params))
		for i, p := range sig.Params {
			typ := p.Type
			if l.opts.badUTF8[function] && i == len(sig.Params)-1 {
				typ = "\xff\xfe"
			}
			params[i] = paramBlock{name: l.strdup(p.Name), typ: l.strdup(typ)}
		}
		info.params = l.alloc(blockParams, params)
	}
	return l.alloc(blockInfo, info)
}

func (l *Library) FreeFunctionInfo(ctx context.Context, p flowbridge.Ptr) {
	defer l.enter("flow_reflect_free_function_info")()
	if p == 0 {
		return
	}
	v, ok := l.heap.GetTyped(resource.Handle(p), blockInfo)
	if !ok {
		l.fault("invalid free of function info %#x", uintptr(p))
		return
	}
	info := v.(*infoBlock)
	l.free(info.name, blockString)
	l.free(info.returnType, blockString)
	if info.params != 0 {
		if pv, ok := l.heap.GetTyped(resource.Handle(info.params), blockParams); ok {
			for _, pb := range pv.([]paramBlock) {
				l.free(pb.name, blockString)
				l.free(pb.typ, blockString)
			}
		}
		l.free(info.params, blockParams)
	}
	l.heap.Remove(resource.Handle(p))
}

func (l *Library) ReadString(ctx context.Context, p flowbridge.Ptr) (string, error) {
	if p == 0 {
		return "", fmt.Errorf("read string: null pointer")
	}
	if v, ok := l.heap.GetTyped(resource.Handle(p), blockString); ok {
		return v.(string), nil
	}
	if v, ok := l.heap.GetTyped(resource.Handle(p), blockModuleString); ok {
		return v.(string), nil
	}
	return "", fmt.Errorf("read string: invalid pointer %#x", uintptr(p))
}

func (l *Library) ReadPtrArray(ctx context.Context, p flowbridge.Ptr, n int32) ([]flowbridge.Ptr, error) {
	v, ok := l.heap.GetTyped(resource.Handle(p), blockNames)
	if !ok {
		return nil, fmt.Errorf("read array: invalid pointer %#x", uintptr(p))
	}
	arr := v.([]flowbridge.Ptr)
	if n < 0 || int(n) > len(arr) {
		return nil, fmt.Errorf("read array: %d entries requested, %d allocated", n, len(arr))
	}
	return append([]flowbridge.Ptr(nil), arr[:n]...), nil
}

func (l *Library) ReadFunctionInfo(ctx context.Context, p flowbridge.Ptr) (flowbridge.RawFunctionInfo, error) {
	v, ok := l.heap.GetTyped(resource.Handle(p), blockInfo)
	if !ok {
		return flowbridge.RawFunctionInfo{}, fmt.Errorf("read function info: invalid pointer %#x", uintptr(p))
	}
	info := v.(*infoBlock)
	return flowbridge.RawFunctionInfo{
		Name:       info.name,
		ReturnType: info.returnType,
		Params:     info.params,
		ParamCount: info.paramCount,
	}, nil
}

func (l *Library) ReadParamInfo(ctx context.Context, params flowbridge.Ptr, index int32) (flowbridge.RawParamInfo, error) {
	v, ok := l.heap.GetTyped(resource.Handle(params), blockParams)
	if !ok {
		return flowbridge.RawParamInfo{}, fmt.Errorf("read param info: invalid pointer %#x", uintptr(params))
	}
	arr := v.([]paramBlock)
	if index < 0 || int(index) >= len(arr) {
		return flowbridge.RawParamInfo{}, fmt.Errorf("read param info: index %d out of range", index)
	}
	return flowbridge.RawParamInfo{Name: arr[index].name, Type: arr[index].typ}, nil
}

func (l *Library) findForeign(adapter, module string) *foreignModule {
	for i := range l.foreign {
		if l.foreign[i].adapter == adapter && l.foreign[i].module == module {
			return &l.foreign[i]
		}
	}
	return nil
}

func (l *Library) RegisterForeignModule(ctx context.Context, adapter, module string, functions []string) int32 {
	defer l.enter("flow_reflect_register_foreign_module")()
	if adapter == "" || module == "" || len(functions) == 0 {
		return -1
	}
	l.foreign = append(l.foreign, foreignModule{
		adapter:   adapter,
		module:    module,
		functions: append([]string(nil), functions...),
	})
	return 0
}

func (l *Library) HasForeignModule(ctx context.Context, adapter, module string) int32 {
	defer l.enter("flow_reflect_has_foreign_module")()
	if l.findForeign(adapter, module) != nil {
		return 1
	}
	return 0
}

func (l *Library) ForeignFunctionCount(ctx context.Context, adapter, module string) int32 {
	defer l.enter("flow_reflect_foreign_function_count")()
	if fm := l.findForeign(adapter, module); fm != nil {
		return int32(len(fm.functions))
	}
	return 0
}

func (l *Library) ForeignFunctions(ctx context.Context, adapter, module string) (flowbridge.Ptr, int32) {
	defer l.enter("flow_reflect_foreign_functions")()
	fm := l.findForeign(adapter, module)
	if fm == nil {
		return 0, -1
	}
	names := make([]flowbridge.Ptr, len(fm.functions))
	for i, fn := range fm.functions {
		names[i] = l.strdup(fn)
	}
	return l.alloc(blockNames, names), int32(len(names))
}

// Outstanding returns the number of caller-owned heap blocks not yet freed.
func (l *Library) Outstanding() int {
	n := 0
	for _, typ := range []uint32{blockString, blockNames, blockInfo, blockParams} {
		n += l.heap.CountTyped(typ)
	}
	return n
}

// Faults returns misuse detected so far: invalid or mismatched frees,
// unknown handles and overlapping entries.
func (l *Library) Faults() []string {
	l.faultMu.Lock()
	defer l.faultMu.Unlock()
	out := append([]string(nil), l.faults...)
	sort.Strings(out)
	return out
}

// Counters reports how often selected entry points were invoked.
type Counters struct {
	Init     int64
	Cleanup  int64
	Unloads  int64
	Boundary int64
}

func (l *Library) Counters() Counters {
	return Counters{
		Init:     l.initCalls.Load(),
		Cleanup:  l.cleanupCalls.Load(),
		Unloads:  l.unloads.Load(),
		Boundary: l.boundaryCalls.Load(),
	}
}

// LastArgs returns the argument slice of the most recent Call and whether
// it was passed as a null array.
func (l *Library) LastArgs() ([]flowbridge.WireValue, bool) {
	return l.lastArgs, l.lastArgsNil
}

// LiveModules returns the number of loaded modules.
func (l *Library) LiveModules() int {
	return l.modules.Len()
}

// Initialized reports whether Init has succeeded without a later Cleanup.
func (l *Library) Initialized() bool {
	return l.initialized
}

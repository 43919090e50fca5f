package flowbridge

import "context"

// SourceExt is the file extension of Flow source files.
const SourceExt = ".flow"

// Handle is an opaque module handle issued by libflow. Zero means failure.
type Handle uintptr

// Ptr is an address in the library's memory. Zero is the null pointer.
type Ptr uintptr

// RawFunctionInfo is flow_function_info_t with its pointers left undecoded.
type RawFunctionInfo struct {
	Name       Ptr
	ReturnType Ptr
	Params     Ptr
	ParamCount int32
}

// RawParamInfo is flow_param_info_t with its pointers left undecoded.
type RawParamInfo struct {
	Name Ptr
	Type Ptr
}

// Library is the set of libflow entry points the bridge consumes.
//
// Implementations are not required to be safe for concurrent use; the
// runtime serializes every call. Pointers returned by ListFunctions,
// ForeignFunctions and GetFunctionInfo are owned by the caller and must be
// released with FreeNames or FreeFunctionInfo. Pointers returned by
// FunctionNameAt are owned by the module.
type Library interface {
	Init(ctx context.Context) int32
	Cleanup(ctx context.Context)

	LoadModule(ctx context.Context, path string) Handle
	CompileString(ctx context.Context, source string) Handle
	UnloadModule(ctx context.Context, h Handle)

	// Call invokes a function. A nil args slice is passed as a null array.
	Call(ctx context.Context, h Handle, function string, args []WireValue) WireValue

	// GetError reports the error slot. ok is false when the slot is null.
	GetError(ctx context.Context) (msg string, ok bool)
	ClearError(ctx context.Context)

	FunctionCount(ctx context.Context, h Handle) int32
	ListFunctions(ctx context.Context, h Handle) (names Ptr, count int32)
	FreeNames(ctx context.Context, names Ptr, count int32)
	FunctionNameAt(ctx context.Context, h Handle, index int32) Ptr
	GetFunctionInfo(ctx context.Context, h Handle, function string) Ptr
	FreeFunctionInfo(ctx context.Context, info Ptr)

	ReadString(ctx context.Context, p Ptr) (string, error)
	ReadPtrArray(ctx context.Context, p Ptr, n int32) ([]Ptr, error)
	ReadFunctionInfo(ctx context.Context, p Ptr) (RawFunctionInfo, error)
	ReadParamInfo(ctx context.Context, params Ptr, index int32) (RawParamInfo, error)

	RegisterForeignModule(ctx context.Context, adapter, module string, functions []string) int32
	HasForeignModule(ctx context.Context, adapter, module string) int32
	ForeignFunctionCount(ctx context.Context, adapter, module string) int32
	ForeignFunctions(ctx context.Context, adapter, module string) (names Ptr, count int32)
}

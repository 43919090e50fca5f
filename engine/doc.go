// Package engine runs libflow compiled to wasm32-wasi inside wazero and
// exposes it as a flowbridge.Library.
//
// # Usage
//
//	lib, err := engine.Open(ctx, engine.Config{Path: "libflow.wasm"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer lib.Close(ctx)
//
//	rt, err := runtime.NewBridge(lib).NewRuntime(ctx)
//
// # Guest Requirements
//
// The guest must export its linear memory, malloc and free, and the libflow
// C API: the flow_* lifecycle, loading and error functions, flowc_call_v
// and the flow_reflect_* functions. Open checks every export and its core
// signature before returning and fails with ErrRequiredExport otherwise.
//
// # Memory Layout
//
// Structures cross the boundary in their wasm32 C layout:
//
//	flow_value_t          16 bytes  tag i32 @0, payload @8
//	flow_function_info_t  16 bytes  name @0, return_type @4, param_count @8, params @12
//	flow_param_info_t      8 bytes  name @0, type @4
//
// flowc_call_v returns its struct through a hidden pointer passed first.
// Strings and arrays the host passes in are allocated with the guest's
// malloc and freed before the call returns. A text result is a heap copy
// owned by the caller; it is freed once copied into Go memory.
//
// # Errors
//
// A guest trap or a failed host-side allocation does not panic. The
// failure is held as a pending error and returned by the next GetError,
// ahead of the guest's own error slot, until ClearError.
//
// # Filesystem
//
// Config.FSRoot is mounted at "/" in the guest. LoadModule translates host
// paths under it to guest paths.
//
// # Thread Safety
//
// Library serializes all guest calls and memory reads with one mutex.
package engine

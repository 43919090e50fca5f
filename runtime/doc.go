// Package runtime provides the high-level API for calling Flow code.
//
// # Quick Start
//
//	ctx := context.Background()
//	bridge := runtime.NewBridge(lib) // lib from engine.Open, native.Open or flowtest.New
//
//	rt, err := bridge.NewRuntime(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	mod, err := rt.LoadModule(ctx, "math.flow")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mod.Close(ctx)
//
//	result, err := mod.Call(ctx, "add", 10, 20)
//	fmt.Println(result) // 30
//
// # Lifetimes
//
// The native runtime is process-wide. The first Runtime handle initializes
// it; later handles share it. Every Runtime handle and every Module holds a
// reference, and the runtime is cleaned up when the last reference is
// released, so a Module stays usable after the Runtime that created it is
// closed. Close is idempotent on both types. Nothing is released by
// finalizers: call Close.
//
// # Errors
//
// Failures carry the message from the library verbatim and match the
// sentinels in the errors package:
//
//	errors.ErrInitialization  Init failed
//	errors.ErrNotFound        source file does not exist
//	errors.ErrCompile         load or compilation failed
//	errors.ErrRuntime         a call failed
//	errors.ErrReflection      reflection query failed
//	errors.ErrProtocol        malformed data from the library
//
// # Reflection
//
//	names, _ := mod.ListFunctions(ctx)
//	info, _ := mod.FunctionInfo(ctx, "add")
//	fmt.Println(info.Signature()) // add(a: int, b: int) -> int
//
//	text, _ := mod.Inspect(ctx)
//
// Every array or descriptor the library allocates for a reflection query is
// freed before the query returns, including on error paths.
//
// # Thread Safety
//
// All boundary calls are serialized by the Bridge, which also reads and
// clears the library's error slot inside the same critical section.
// Runtime and Module are safe for concurrent use.
package runtime

// Package flowbridge connects Go programs to the Flow language runtime.
//
// Flow source is compiled and executed by libflow, a native library that
// shares neither a type system, an allocator nor a failure model with Go.
// This module marshals values across that boundary, tracks the lifetime of
// the native handles it receives and exposes the reflection data libflow
// keeps about compiled functions.
//
// # Architecture Overview
//
//	flowbridge/         Root package with the boundary contract (Library, WireValue)
//	├── runtime/        High-level API: Runtime, Module, calls and reflection
//	├── codec/          Conversion between Go values and wire values
//	├── engine/         libflow compiled to wasm32-wasi, executed with wazero
//	├── native/         libflow linked through cgo (build tag flownative)
//	├── flowtest/       In-process reference Library for tests and tooling
//	├── resource/       Handle tables used by in-process libraries
//	├── errors/         Structured error types
//	└── cmd/flowrun/    Command line runner with an interactive mode
//
// # Quick Start
//
//	lib, err := engine.Open(ctx, engine.Config{Path: "libflow.wasm"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer lib.Close(ctx)
//
//	rt, err := runtime.NewBridge(lib).NewRuntime(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	mod, err := rt.Compile(ctx, "func add(a: int, b: int) -> int { return a + b; }")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mod.Close(ctx)
//
//	result, err := mod.Call(ctx, "add", 10, 20)
//	fmt.Println(result) // 30
//
// # Thread Safety
//
// libflow keeps a single process-wide error slot and is not thread-safe.
// Every call that crosses the boundary is serialized by the runtime.Bridge,
// so Runtime and Module values may be shared between goroutines.
package flowbridge

// Package flowtest provides an in-process implementation of the libflow
// entry points for tests and tooling.
//
// Library compiles a small subset of Flow (functions, let/mut bindings,
// if/else, while, arithmetic, comparison and logical operators, calls) and
// mimics the native library's contract: a single global error slot,
// zero handles on failure, caller-owned heap blocks for reflection results
// and idempotent Init. Every block it hands out is tracked, so tests can
// assert that nothing leaked:
//
//	lib := flowtest.New()
//	// ... exercise the bridge ...
//	if n := lib.Outstanding(); n != 0 {
//	    t.Fatalf("%d blocks leaked", n)
//	}
//
// Options inject the failures a real library can produce: a failing Init,
// malformed reflection strings, count disagreement between entry points.
//
// flowtest is a test fixture, not a Flow runtime. Its language subset and
// error texts follow libflow only as far as the bridge's tests need; use the
// engine or native backend to run real Flow programs.
package flowtest

package runtime

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	flowbridge "github.com/wippyai/flow-bridge"
	"github.com/wippyai/flow-bridge/errors"
	"github.com/wippyai/flow-bridge/flowtest"
)

func TestModule_Call(t *testing.T) {
	ctx := context.Background()
	rt, _ := newTestRuntime(t)
	defer rt.Close(ctx)

	mod, err := rt.Compile(ctx, mathSource)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	defer mod.Close(ctx)

	if mod.Origin() != CompiledOrigin {
		t.Errorf("Origin = %q", mod.Origin())
	}

	tests := []struct {
		fn   string
		args []any
		want any
	}{
		{"add", []any{10, 20}, int64(30)},
		{"add", []any{int64(-5), int8(5)}, int64(0)},
		{"greet", []any{"World"}, "Hello, World!"},
		{"half", []any{5.0}, 2.5},
		{"isPositive", []any{3}, true},
		{"nothing", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.fn, func(t *testing.T) {
			got, err := mod.Call(ctx, tt.fn, tt.args...)
			if err != nil {
				t.Fatalf("call: %v", err)
			}
			if got != tt.want {
				t.Errorf("%s(%v) = %#v, want %#v", tt.fn, tt.args, got, tt.want)
			}
		})
	}
}

func TestModule_CallNoArgsPassesNullArray(t *testing.T) {
	ctx := context.Background()
	rt, lib := newTestRuntime(t)
	defer rt.Close(ctx)

	mod, _ := rt.Compile(ctx, mathSource)
	defer mod.Close(ctx)

	if _, err := mod.CallWire(ctx, "nothing", []flowbridge.WireValue{}...); err != nil {
		t.Fatal(err)
	}
	if args, isNil := lib.LastArgs(); !isNil || len(args) != 0 {
		t.Errorf("args = %v, nil = %v", args, isNil)
	}
}

func TestModule_CallMissingThenValid(t *testing.T) {
	ctx := context.Background()
	rt, _ := newTestRuntime(t)
	defer rt.Close(ctx)

	mod, _ := rt.Compile(ctx, mathSource)
	defer mod.Close(ctx)

	_, err := mod.Call(ctx, "nonexistent")
	if !stderrors.Is(err, errors.ErrRuntime) {
		t.Fatalf("err = %v, want runtime error", err)
	}
	var fe *errors.Error
	if !stderrors.As(err, &fe) || fe.Message() != "Function not found: nonexistent" {
		t.Errorf("message = %v", err)
	}

	// The error slot was cleared, so the next call is not polluted.
	got, err := mod.Call(ctx, "add", 1, 1)
	if err != nil || got != int64(2) {
		t.Fatalf("add = %v, %v", got, err)
	}
}

func TestModule_CallRuntimeFailure(t *testing.T) {
	ctx := context.Background()
	rt, _ := newTestRuntime(t)
	defer rt.Close(ctx)

	mod, err := rt.Compile(ctx, "func div(a: int, b: int) -> int { return a / b; }")
	if err != nil {
		t.Fatal(err)
	}
	defer mod.Close(ctx)

	_, err = mod.Call(ctx, "div", 1, 0)
	if !stderrors.Is(err, errors.ErrRuntime) || !strings.Contains(err.Error(), "division by zero") {
		t.Fatalf("err = %v", err)
	}
}

func TestModule_CallUnsupportedArgument(t *testing.T) {
	ctx := context.Background()
	rt, lib := newTestRuntime(t)
	defer rt.Close(ctx)

	mod, _ := rt.Compile(ctx, mathSource)
	defer mod.Close(ctx)

	before := lib.Counters().Boundary
	_, err := mod.Call(ctx, "add", []int{1}, 2)
	if !stderrors.Is(err, errors.ErrUnsupportedType) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "add.arg0") {
		t.Errorf("error should name the argument: %v", err)
	}
	if lib.Counters().Boundary != before {
		t.Error("unsupported argument should not reach the library")
	}
}

func TestModule_LoadModule(t *testing.T) {
	ctx := context.Background()
	rt, _ := newTestRuntime(t)
	defer rt.Close(ctx)

	path := writeFlow(t, "math.flow", mathSource)
	mod, err := rt.LoadModule(ctx, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer mod.Close(ctx)

	if mod.Origin() != path {
		t.Errorf("Origin = %q", mod.Origin())
	}
	got, err := mod.Call(ctx, "add", 10, 20)
	if err != nil || got != int64(30) {
		t.Fatalf("add = %v, %v", got, err)
	}
}

func TestModule_LoadMissingFile(t *testing.T) {
	ctx := context.Background()
	rt, lib := newTestRuntime(t)
	defer rt.Close(ctx)

	before := lib.Counters().Boundary
	_, err := rt.LoadModule(ctx, filepath.Join(t.TempDir(), "nonexistent.flow"))
	if !stderrors.Is(err, errors.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	if lib.Counters().Boundary != before {
		t.Error("missing file should not reach the library")
	}
}

func TestModule_CompileError(t *testing.T) {
	ctx := context.Background()
	rt, lib := newTestRuntime(t)
	defer rt.Close(ctx)

	_, err := rt.Compile(ctx, "func broken( {")
	if !stderrors.Is(err, errors.ErrCompile) {
		t.Fatalf("err = %v, want compile error", err)
	}
	if !strings.Contains(err.Error(), "Compilation error") {
		t.Errorf("native message missing: %v", err)
	}

	path := writeFlow(t, "bad.flow", "func f() -> int { return g(); }")
	_, err = rt.LoadModule(ctx, path)
	if !stderrors.Is(err, errors.ErrCompile) {
		t.Fatalf("err = %v, want compile error", err)
	}
	if lib.LiveModules() != 0 {
		t.Error("failed loads should not leave modules")
	}
}

func TestModule_CloseIdempotent(t *testing.T) {
	ctx := context.Background()
	rt, lib := newTestRuntime(t)
	defer rt.Close(ctx)

	mod, _ := rt.Compile(ctx, mathSource)
	if !mod.Loaded() {
		t.Fatal("module should be loaded")
	}
	mod.Close(ctx)
	mod.Close(ctx)

	if c := lib.Counters(); c.Unloads != 1 {
		t.Errorf("Unloads = %d", c.Unloads)
	}
	if len(lib.Faults()) != 0 {
		t.Errorf("faults: %v", lib.Faults())
	}
	if mod.Loaded() {
		t.Error("module should not be loaded")
	}

	_, err := mod.Call(ctx, "add", 1, 2)
	if !stderrors.Is(err, errors.ErrNotInitialized) {
		t.Errorf("call after close: %v", err)
	}
	_, err = mod.ListFunctions(ctx)
	if !stderrors.Is(err, errors.ErrNotInitialized) {
		t.Errorf("list after close: %v", err)
	}
}

func TestModule_Func(t *testing.T) {
	ctx := context.Background()
	rt, lib := newTestRuntime(t)
	defer rt.Close(ctx)

	mod, _ := rt.Compile(ctx, mathSource)
	defer mod.Close(ctx)

	add, err := mod.Func("add")
	if err != nil {
		t.Fatal(err)
	}
	got, err := add(ctx, 2, 40)
	if err != nil || got != int64(42) {
		t.Fatalf("add = %v, %v", got, err)
	}

	before := lib.Counters().Boundary
	if _, err := mod.Func("_private"); !stderrors.Is(err, &errors.Error{Kind: errors.KindInvalidInput}) {
		t.Errorf("err = %v", err)
	}
	if lib.Counters().Boundary != before {
		t.Error("private lookup reached the library")
	}
}

func TestModule_Functions(t *testing.T) {
	ctx := context.Background()
	rt, lib := newTestRuntime(t)
	defer rt.Close(ctx)

	mod, _ := rt.Compile(ctx, mathSource)
	defer mod.Close(ctx)

	funcs, err := mod.Functions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(funcs) != 5 {
		t.Fatalf("got %d functions", len(funcs))
	}
	greet := funcs["greet"]
	if greet == nil || greet.Info.ReturnType != "string" {
		t.Fatalf("greet = %+v", greet)
	}
	got, err := greet.Call(ctx, "table")
	if err != nil || got != "Hello, table!" {
		t.Errorf("greet = %v, %v", got, err)
	}

	again, _ := mod.Functions(ctx)
	if again["add"] != funcs["add"] {
		t.Error("function table should be built once")
	}
	if lib.Outstanding() != 0 {
		t.Errorf("Outstanding = %d", lib.Outstanding())
	}
}

func TestModule_ConcurrentCallsSerialized(t *testing.T) {
	ctx := context.Background()
	rt, lib := newTestRuntime(t, flowtest.WithPause(func(string) { time.Sleep(10 * time.Microsecond) }))
	defer rt.Close(ctx)

	mod, _ := rt.Compile(ctx, mathSource)
	defer mod.Close(ctx)

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				got, err := mod.Call(ctx, "add", i, 1)
				if err != nil || got != int64(i+1) {
					errs <- err
				}
				return
			}
			_, err := mod.Call(ctx, "missing")
			if err == nil || !strings.Contains(err.Error(), "missing") {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("unexpected result: %v", err)
	}
	if f := lib.Faults(); len(f) != 0 {
		t.Errorf("faults: %v", f)
	}
}

package flowtest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	flowbridge "github.com/wippyai/flow-bridge"
)

func initLib(t *testing.T, opts ...Option) *Library {
	t.Helper()
	lib := New(opts...)
	if rc := lib.Init(context.Background()); rc != 0 {
		t.Fatalf("Init = %d", rc)
	}
	return lib
}

func TestLibrary_NotInitialized(t *testing.T) {
	ctx := context.Background()
	lib := New()

	if h := lib.CompileString(ctx, "func f() {}"); h != 0 {
		t.Fatal("compile should fail before Init")
	}
	msg, _ := lib.GetError(ctx)
	if msg != "Runtime not initialized. Call flow_init() first." {
		t.Errorf("error = %q", msg)
	}
}

func TestLibrary_InitIdempotent(t *testing.T) {
	ctx := context.Background()
	lib := New()
	if lib.Init(ctx) != 0 || lib.Init(ctx) != 0 {
		t.Fatal("Init failed")
	}
	if c := lib.Counters(); c.Init != 2 {
		t.Errorf("Init calls = %d", c.Init)
	}

	failing := New(WithInitFailure("Failed to create Flow runtime"))
	if failing.Init(ctx) != -1 {
		t.Fatal("Init should fail")
	}
	if msg, _ := failing.GetError(ctx); msg != "Failed to create Flow runtime" {
		t.Errorf("error = %q", msg)
	}
}

func TestLibrary_LoadModule(t *testing.T) {
	ctx := context.Background()
	lib := initLib(t)

	path := filepath.Join(t.TempDir(), "math.flow")
	if err := os.WriteFile(path, []byte("func add(a: int, b: int) -> int { return a + b; }"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := lib.LoadModule(ctx, path)
	if h == 0 {
		msg, _ := lib.GetError(ctx)
		t.Fatalf("LoadModule failed: %s", msg)
	}
	res := lib.Call(ctx, h, "add", []flowbridge.WireValue{flowbridge.Int(2), flowbridge.Int(3)})
	if res != flowbridge.Int(5) {
		t.Errorf("add = %v", res)
	}

	if lib.LoadModule(ctx, filepath.Join(t.TempDir(), "missing.flow")) != 0 {
		t.Fatal("expected failure")
	}
	if msg, _ := lib.GetError(ctx); !strings.HasPrefix(msg, "Failed to open file: ") {
		t.Errorf("error = %q", msg)
	}
}

func TestLibrary_CallErrors(t *testing.T) {
	ctx := context.Background()
	lib := initLib(t)
	h := lib.CompileString(ctx, "func f() -> int { return 1; }")

	res := lib.Call(ctx, h, "nope", nil)
	if res.Type != flowbridge.TypeVoid {
		t.Errorf("result = %v", res)
	}
	if msg, _ := lib.GetError(ctx); msg != "Function not found: nope" {
		t.Errorf("error = %q", msg)
	}
	lib.ClearError(ctx)
	if msg, _ := lib.GetError(ctx); msg != "" {
		t.Errorf("error after clear = %q", msg)
	}

	lib.Call(ctx, 0xdead, "f", nil)
	if msg, _ := lib.GetError(ctx); msg != "Invalid parameters to flow_call_v" {
		t.Errorf("error = %q", msg)
	}

	if _, isNil := lib.LastArgs(); !isNil {
		t.Error("nil args should be recorded as a null array")
	}
}

func TestLibrary_CompileError(t *testing.T) {
	ctx := context.Background()
	lib := initLib(t)
	if lib.CompileString(ctx, "func (") != 0 {
		t.Fatal("expected failure")
	}
	if msg, _ := lib.GetError(ctx); !strings.HasPrefix(msg, "Compilation error: ") {
		t.Errorf("error = %q", msg)
	}
}

func TestLibrary_ReflectionOwnership(t *testing.T) {
	ctx := context.Background()
	lib := initLib(t)
	h := lib.CompileString(ctx, sample)

	names, n := lib.ListFunctions(ctx, h)
	if n != 8 {
		t.Fatalf("count = %d", n)
	}
	if lib.Outstanding() != 9 {
		t.Errorf("Outstanding = %d, want 9", lib.Outstanding())
	}
	ptrs, err := lib.ReadPtrArray(ctx, names, n)
	if err != nil {
		t.Fatal(err)
	}
	first, err := lib.ReadString(ctx, ptrs[0])
	if err != nil || first != "add" {
		t.Errorf("first = %q, %v", first, err)
	}
	lib.FreeNames(ctx, names, n)

	info := lib.GetFunctionInfo(ctx, h, "greet")
	if info == 0 {
		t.Fatal("no info for greet")
	}
	raw, err := lib.ReadFunctionInfo(ctx, info)
	if err != nil {
		t.Fatal(err)
	}
	if raw.ParamCount != 1 {
		t.Errorf("ParamCount = %d", raw.ParamCount)
	}
	p, err := lib.ReadParamInfo(ctx, raw.Params, 0)
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := lib.ReadString(ctx, p.Name); s != "name" {
		t.Errorf("param name = %q", s)
	}
	lib.FreeFunctionInfo(ctx, info)

	if lib.GetFunctionInfo(ctx, h, "missing") != 0 {
		t.Error("info for missing function should be null")
	}

	nameAt := lib.FunctionNameAt(ctx, h, 1)
	if s, _ := lib.ReadString(ctx, nameAt); s != "factorial" {
		t.Errorf("name at 1 = %q", s)
	}

	if lib.Outstanding() != 0 {
		t.Errorf("Outstanding = %d after frees", lib.Outstanding())
	}
	if f := lib.Faults(); len(f) != 0 {
		t.Errorf("faults: %v", f)
	}

	lib.UnloadModule(ctx, h)
	if lib.LiveModules() != 0 || lib.Counters().Unloads != 1 {
		t.Errorf("modules = %d, unloads = %d", lib.LiveModules(), lib.Counters().Unloads)
	}
	if _, err := lib.ReadString(ctx, nameAt); err == nil {
		t.Error("module-owned name should be released by unload")
	}
}

func TestLibrary_Faults(t *testing.T) {
	ctx := context.Background()
	lib := initLib(t)
	h := lib.CompileString(ctx, sample)

	names, n := lib.ListFunctions(ctx, h)
	lib.FreeNames(ctx, names, n)
	lib.FreeNames(ctx, names, n)
	lib.UnloadModule(ctx, h)
	lib.UnloadModule(ctx, h)

	if f := lib.Faults(); len(f) != 2 {
		t.Errorf("faults = %v, want double free and double unload", f)
	}
}

func TestLibrary_Foreign(t *testing.T) {
	ctx := context.Background()
	lib := initLib(t)

	if lib.RegisterForeignModule(ctx, "python", "math", nil) != -1 {
		t.Error("empty function list should be rejected")
	}
	if lib.RegisterForeignModule(ctx, "python", "math", []string{"sqrt", "pow"}) != 0 {
		t.Fatal("register failed")
	}
	if lib.HasForeignModule(ctx, "python", "math") != 1 || lib.HasForeignModule(ctx, "python", "os") != 0 {
		t.Error("HasForeignModule mismatch")
	}
	if lib.ForeignFunctionCount(ctx, "python", "math") != 2 {
		t.Error("ForeignFunctionCount mismatch")
	}
	names, n := lib.ForeignFunctions(ctx, "python", "math")
	if n != 2 {
		t.Fatalf("n = %d", n)
	}
	lib.FreeNames(ctx, names, n)
	if _, n := lib.ForeignFunctions(ctx, "ruby", "x"); n != -1 {
		t.Errorf("unknown module count = %d", n)
	}
	if lib.Outstanding() != 0 {
		t.Errorf("Outstanding = %d", lib.Outstanding())
	}
}

//go:build cgo && flownative

package native

import (
	"context"
	"testing"

	"github.com/wippyai/flow-bridge/runtime"
)

func TestNative_Call(t *testing.T) {
	ctx := context.Background()
	lib, err := Open()
	if err != nil {
		t.Fatal(err)
	}

	mod, err := runtime.NewBridge(lib).Compile(ctx, `func add(a: int, b: int) -> int { return a + b; }`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	defer mod.Close(ctx)

	got, err := mod.Call(ctx, "add", 10, 20)
	if err != nil || got != int64(30) {
		t.Fatalf("add = %v, %v", got, err)
	}

	text, err := mod.Inspect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if text != "Module contains 1 function(s):\n\n  add(a: int, b: int) -> int\n" {
		t.Errorf("Inspect = %q", text)
	}
}

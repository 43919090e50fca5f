package main

import (
	"context"
	"reflect"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/wippyai/flow-bridge/flowtest"
	"github.com/wippyai/flow-bridge/runtime"
)

const demoSource = `
func scale(x: float, by: float) -> float { return x * by; }
func add(a: int, b: int) -> int { return a + b; }
func hello() {}
`

func compileDemo(t *testing.T) *runtime.Module {
	t.Helper()
	ctx := context.Background()
	rt, err := runtime.NewBridge(flowtest.New()).NewRuntime(ctx)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rt.Close(ctx) })
	mod, err := rt.Compile(ctx, demoSource)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { mod.Close(ctx) })
	return mod
}

func TestSplitArgs(t *testing.T) {
	if got := splitArgs(""); got != nil {
		t.Errorf("empty = %v", got)
	}
	if got := splitArgs("1, two ,3"); !reflect.DeepEqual(got, []string{"1", "two", "3"}) {
		t.Errorf("got %v", got)
	}
}

func TestLoadFuncs(t *testing.T) {
	funcs, err := loadFuncs(context.Background(), compileDemo(t))
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, f := range funcs {
		names = append(names, f.name)
	}
	if !reflect.DeepEqual(names, []string{"add", "hello", "scale"}) {
		t.Fatalf("names = %v", names)
	}
	if got := formatFunc(funcs[1]); !strings.Contains(got, "hello") || strings.Contains(got, "->") {
		t.Errorf("void function rendered as %q", got)
	}
	if p := funcs[2].params[1]; p.name != "by" || p.typeStr != "float" {
		t.Errorf("scale param = %+v", p)
	}
}

func TestCall_TypedArguments(t *testing.T) {
	mod := compileDemo(t)
	ctx := context.Background()

	if err := call(ctx, mod, "add", []string{"2", "3"}); err != nil {
		t.Fatal(err)
	}
	if err := call(ctx, mod, "add", []string{"2", "x"}); err == nil {
		t.Error("non-integer argument accepted")
	}
	if err := call(ctx, mod, "missing", nil); err == nil {
		t.Error("missing function accepted")
	}
}

func TestInteractiveModel(t *testing.T) {
	mod := compileDemo(t)
	m := newInteractiveModel(context.Background(), mod)

	next, _ := m.Update(m.reflect())
	m = next.(*interactiveModel)
	if len(m.funcs) != 3 || m.err != nil {
		t.Fatalf("funcs = %v, err = %v", m.funcs, m.err)
	}

	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if m.state != stateInputArgs || len(m.inputs) != 2 {
		t.Fatalf("state = %v, inputs = %d", m.state, len(m.inputs))
	}
	m.inputs[0].SetValue("40")
	m.inputs[1].SetValue("2")

	next, _ = m.Update(m.callFunction())
	m = next.(*interactiveModel)
	if m.state != stateShowResult || m.err != nil || m.result != "42" {
		t.Errorf("result = %q, err = %v", m.result, m.err)
	}
	if !strings.Contains(m.View(), "42") {
		t.Error("view does not show the result")
	}
}

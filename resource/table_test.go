package resource

import (
	"testing"
)

type testObserver struct {
	events []Event
}

func (o *testObserver) OnResourceEvent(e Event) {
	o.events = append(o.events, e)
}

func TestTable_Basic(t *testing.T) {
	table := NewTable()

	h := table.Insert(1, "test")
	if h == 0 {
		t.Fatal("Expected non-zero handle")
	}

	val, ok := table.Get(h)
	if !ok {
		t.Fatal("Get failed")
	}
	if val != "test" {
		t.Fatalf("Expected 'test', got %v", val)
	}

	if _, ok = table.GetTyped(h, 1); !ok {
		t.Fatal("GetTyped with correct type failed")
	}
	if _, ok = table.GetTyped(h, 2); ok {
		t.Fatal("GetTyped with wrong type should fail")
	}

	val, ok = table.Remove(h)
	if !ok {
		t.Fatal("Remove failed")
	}
	if val != "test" {
		t.Fatalf("Expected 'test', got %v", val)
	}

	if table.Len() != 0 {
		t.Fatal("Expected Len() == 0 after Remove")
	}
}

func TestTable_NoReuse(t *testing.T) {
	table := NewTable()

	h1 := table.Insert(1, "a")
	table.Remove(h1)
	h2 := table.Insert(1, "b")

	if h1 == h2 {
		t.Fatalf("handle %d reused", h1)
	}
	if _, ok := table.Remove(h1); ok {
		t.Fatal("second Remove of a stale handle should fail")
	}
}

func TestTable_Stride(t *testing.T) {
	table := NewTableAt(0x1000, 0x10)

	h1 := table.Insert(1, "a")
	h2 := table.Insert(1, "b")
	if h1 != 0x1000 || h2 != 0x1010 {
		t.Fatalf("handles = %#x, %#x", h1, h2)
	}
}

func TestTable_Observer(t *testing.T) {
	table := NewTable()
	obs := &testObserver{}
	table.Subscribe(obs)

	h := table.Insert(1, "test")
	if len(obs.events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(obs.events))
	}
	if obs.events[0].Type != EventCreated {
		t.Fatal("Expected EventCreated")
	}
	if obs.events[0].Handle != h {
		t.Fatal("Wrong handle in event")
	}

	table.Remove(h)
	if len(obs.events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(obs.events))
	}
	if obs.events[1].Type != EventDropped {
		t.Fatal("Expected EventDropped")
	}
}

func TestTable_CountTypedAndEach(t *testing.T) {
	table := NewTable()
	table.Insert(1, "a")
	table.Insert(2, "b")
	table.Insert(1, "c")

	if n := table.CountTyped(1); n != 2 {
		t.Fatalf("CountTyped(1) = %d, want 2", n)
	}

	var seen []any
	table.Each(func(_ Handle, _ uint32, v any) bool {
		seen = append(seen, v)
		return true
	})
	if len(seen) != 3 || seen[0] != "a" || seen[2] != "c" {
		t.Fatalf("Each order = %v", seen)
	}
}

func TestTable_Close(t *testing.T) {
	table := NewTable()

	table.Insert(1, "a")
	table.Insert(1, "b")

	if err := table.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if table.Len() != 0 {
		t.Fatal("Close should drop entries")
	}
	if h := table.Insert(1, "c"); h != 0 {
		t.Fatal("Expected Insert to fail after Close")
	}
}

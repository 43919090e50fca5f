package resource

import (
	"sort"
	"sync"
)

// Table maps handles to Go values. Handles are never reused, so a stale
// handle stays invalid after its value is removed.
type Table struct {
	entries   map[Handle]entry
	observers []Observer
	next      Handle
	stride    Handle
	mu        sync.RWMutex
	obsMu     sync.RWMutex
	closed    bool
}

type entry struct {
	value  any
	typeID uint32
}

// NewTable creates a table whose handles start at 1.
func NewTable() *Table {
	return NewTableAt(1, 1)
}

// NewTableAt creates a table whose first handle is base and whose handles
// grow by stride. Useful when handles must look like aligned addresses.
func NewTableAt(base, stride uint32) *Table {
	if base == 0 {
		base = stride
	}
	if stride == 0 {
		stride = 1
	}
	return &Table{
		entries: make(map[Handle]entry),
		next:    Handle(base),
		stride:  Handle(stride),
	}
}

// Insert adds a value and returns its handle, or 0 once the table is closed.
func (t *Table) Insert(typeID uint32, value any) Handle {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0
	}
	h := t.next
	t.next += t.stride
	t.entries[h] = entry{value: value, typeID: typeID}
	t.mu.Unlock()

	t.notify(Event{
		Type:   EventCreated,
		Handle: h,
		TypeID: typeID,
		Value:  value,
	})
	return h
}

// Get retrieves a value by handle.
func (t *Table) Get(handle Handle) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[handle]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// GetTyped retrieves a value only if it matches the expected type.
func (t *Table) GetTyped(handle Handle, typeID uint32) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[handle]
	if !ok || e.typeID != typeID {
		return nil, false
	}
	return e.value, true
}

// Remove drops a value and returns (value, true) if it was present.
func (t *Table) Remove(handle Handle) (any, bool) {
	t.mu.Lock()
	e, ok := t.entries[handle]
	if ok {
		delete(t.entries, handle)
	}
	t.mu.Unlock()
	if !ok {
		return nil, false
	}

	t.notify(Event{
		Type:   EventDropped,
		Handle: handle,
		TypeID: e.typeID,
		Value:  e.value,
	})
	return e.value, true
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Len returns the number of live entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// CountTyped returns the number of live entries of one type.
func (t *Table) CountTyped(typeID uint32) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, e := range t.entries {
		if e.typeID == typeID {
			n++
		}
	}
	return n
}

// Each calls fn for every live entry in handle order until fn returns false.
func (t *Table) Each(fn func(h Handle, typeID uint32, value any) bool) {
	t.mu.RLock()
	handles := make([]Handle, 0, len(t.entries))
	for h := range t.entries {
		handles = append(handles, h)
	}
	snapshot := make(map[Handle]entry, len(t.entries))
	for h, e := range t.entries {
		snapshot[h] = e
	}
	t.mu.RUnlock()

	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	for _, h := range handles {
		e := snapshot[h]
		if !fn(h, e.typeID, e.value) {
			return
		}
	}
}

// Clear drops all entries.
func (t *Table) Clear() {
	var handles []Handle
	t.Each(func(h Handle, _ uint32, _ any) bool {
		handles = append(handles, h)
		return true
	})
	for _, h := range handles {
		t.Remove(h)
	}
}

// Close drops all entries and stops accepting inserts.
func (t *Table) Close() error {
	t.Clear()
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}

// Package resource provides handle tables for in-process Library
// implementations.
//
// A Table maps integer handles to Go values, the way libflow maps module
// pointers and heap blocks to its own objects:
//
//	table := resource.NewTable()
//
//	// Insert a value, get a handle
//	handle := table.Insert(typeID, myValue)
//
//	// Retrieve value by handle
//	value, ok := table.Get(handle)
//
//	// Remove and get value
//	value, ok := table.Remove(handle)
//
// Handles are typed; GetTyped refuses a handle inserted under another type
// ID. Handles are never reused, so removing a handle twice is detectable.
//
// # Observers
//
// Register observers to track lifecycle events:
//
//	table.Subscribe(resource.ObserverFunc(func(e resource.Event) {
//	    log.Printf("%d %s", e.Handle, e.Type)
//	}))
package resource

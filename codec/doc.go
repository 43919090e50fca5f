// Package codec converts between Go values and Flow wire values.
//
// Encoding order matters: bool is tested before the integer kinds, then
// float, then string, then nil. Decoding yields int64, float64, string, bool
// or nil.
//
//	w, err := codec.Encode(42)          // int wire value
//	v, err := codec.Decode(w)           // int64(42)
//
// The package also maps Flow type names onto WIT types so signatures can be
// rendered in WIT syntax and typed arguments parsed from text.
package codec

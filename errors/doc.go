// Package errors provides structured error types for the Flow bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// Messages produced by libflow are carried verbatim in Detail.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseEncode, errors.KindUnsupported).
//		Path("arg1").
//		GoType("[]int").
//		Detail("no wire representation").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Runtime("add", "Function not found: add")
//	err := errors.NotFound(errors.PhaseLoad, "file", path)
//
// The Err* sentinels match a kind regardless of phase:
//
//	if errors.Is(err, flowerrors.ErrCompile) { ... }
package errors

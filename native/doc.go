// Package native binds the bridge to the system libflow through cgo.
//
// The binding is compiled only with the flownative build tag and cgo
// enabled, and links with -lflow:
//
//	CGO_ENABLED=1 go build -tags flownative ./...
//
// Without the tag Open returns ErrUnavailable, so programs can fall back to
// the engine package.
package native

import "github.com/wippyai/flow-bridge/errors"

// ErrUnavailable is returned by Open when the binary was built without the
// native binding.
var ErrUnavailable = errors.New(errors.PhaseEngine, errors.KindUnsupported).
	Detail("native libflow binding not compiled in (build with cgo and -tags flownative)").
	Build()

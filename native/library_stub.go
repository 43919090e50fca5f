//go:build !cgo || !flownative

package native

import flowbridge "github.com/wippyai/flow-bridge"

// Open reports ErrUnavailable in builds without the native binding.
func Open() (flowbridge.Library, error) {
	return nil, ErrUnavailable
}
